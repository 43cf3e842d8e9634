// Package relay is a client-side request/response correlation layer on top of
// a message transport. Callers issue dot-path resource operations (Get,
// Remove, Create, Update, Patch) with optional parameters and headers; relay
// builds a {header, body} wire message, tags it with a UUIDv4 correlation ID,
// runs it through the request middleware chain and writes it to the bound
// transport. Every inbound message carrying that correlation ID is routed back
// to the subscriber, so one request can receive a stream of responses.
//
// Requests are cold: Get and friends only validate the resource path and
// return a Request. Nothing is written until Subscribe or Stream is called,
// and each subscription is its own exchange with a fresh correlation ID.
//
// # Transports
//
// A Binding is anything that can open a URL, write a payload and hand inbound
// payloads to a callback. Config.Transport selects one:
//   - websocket: gorilla/websocket client with a write queue and a jittered
//     reconnect loop (300ms base, 15s cap)
//   - channel: in-process Watermill GoChannel, handy for tests and local responders
//   - kafka, rabbitmq, nats, nats-jetstream, http, aws: Watermill brokers wrapped
//     by the pub/sub binding, requests on <topic> and replies on <topic>.reply
//
// Connect builds the dispatcher and the binding in one step. For full control
// create a Dispatcher with NewDispatcher and call Bind with any Binding.
//
// # Middleware
//
// The default request chain recovers panics, debug-logs, opens an
// OpenTelemetry span and counts messages; the response chain does the same
// without tracing. Custom registrations go in DispatcherDependencies.Middlewares.
// A middleware that does not call next stops the message.
//
// # Exchange Hooks
//
// ExchangeHooks provides OnSend, OnResponse and OnDone callbacks around every
// exchange for custom logging, latency tracking or alerting.
package relay
