/*
Package runtime correlates requests written to a transport binding with the
responses read back from it.

# Package Structure

## Dispatcher (dispatcher.go, verbs.go)

The Dispatcher owns the correlation table and the current binding:
  - Bind/Unbind attach and detach a transport.Binding; payloads from a
    replaced binding are ignored
  - Send validates a request.Config and returns a cold Request
  - Request.Subscribe and Request.Stream build the message, register the
    correlation ID and write it through the request chain
  - Get, Remove, Create, Update and Patch fill in the verb

## Middleware (middleware.go)

Both directions run an ordered chain of func(msg, next) stages:
  - Recoverer: panic recovery
  - LogMessages: debug logging of resource and correlation ID
  - Tracer: OpenTelemetry spans with header propagation
  - Metrics: Prometheus message counters
  - Headers: static headers that never replace existing keys

## Hooks (hooks.go)

ExchangeHooks observe the lifecycle of each exchange.

## Metrics (metrics.go)

Prometheus collectors for requests, responses, drops, write errors and
outstanding subscriptions.

# Sub-packages

  - backoff/: Capped exponential reconnect delays with jitter
  - config/: Dispatcher and binding configuration with validation
  - errors/: Sentinel errors and error types
  - ids/: UUIDv4 correlation IDs and ULID envelope IDs
  - logging/: Logger interface and Watermill/slog adapters
  - request/: Wire message construction
  - resource/: Resource path validation
  - wire/: The {header, body} message and its JSON codec

# Usage Example

	d, err := runtime.NewDispatcher(&config.Config{}, logger, runtime.DispatcherDependencies{})
	if err != nil {
		return err
	}
	if err := d.Bind(binding, "wss://api.example.com/socket"); err != nil {
		return err
	}

	req, err := d.Get("users.posts", &request.Config{
		Parameters: map[string]any{"users": 1234},
	})
	if err != nil {
		return err
	}
	sub, err := req.Subscribe(func(msg wire.Message) {
		fmt.Println(msg.Body["posts"])
	})
*/
package runtime
