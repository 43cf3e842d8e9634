package runtime

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	loggingpkg "github.com/drblury/relay/internal/runtime/logging"
	"github.com/drblury/relay/internal/runtime/wire"
)

// Next hands a message to the rest of the chain.
type Next func(msg wire.Message)

// Middleware observes or transforms a message. It must call next to let the
// message continue; returning without calling it stops propagation.
type Middleware func(msg wire.Message, next Next)

// MiddlewareBuilder constructs a middleware using the dispatcher it is attached to.
// A nil Middleware with a nil error means "skip this entry".
type MiddlewareBuilder func(*Dispatcher) (Middleware, error)

// MiddlewareRegistration captures how a middleware should be attached to a chain.
type MiddlewareRegistration struct {
	Name       string
	Middleware Middleware
	Builder    MiddlewareBuilder
}

// Chain lists the registrations for both directions.
type Chain struct {
	Request  []MiddlewareRegistration
	Response []MiddlewareRegistration
}

// DefaultRequestMiddlewares returns the standard outgoing chain.
func DefaultRequestMiddlewares() []MiddlewareRegistration {
	return []MiddlewareRegistration{
		RecovererMiddleware(),
		LogMessagesMiddleware(nil),
		TracerMiddleware(),
		MetricsMiddleware(DirectionRequest),
	}
}

// DefaultResponseMiddlewares returns the standard incoming chain.
func DefaultResponseMiddlewares() []MiddlewareRegistration {
	return []MiddlewareRegistration{
		RecovererMiddleware(),
		LogMessagesMiddleware(nil),
		MetricsMiddleware(DirectionResponse),
	}
}

// PassthroughMiddleware forwards every message untouched.
func PassthroughMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name:       "passthrough",
		Middleware: func(msg wire.Message, next Next) { next(msg) },
	}
}

// LogMessagesMiddleware debug-logs every message passing through the chain.
// A nil logger falls back to the dispatcher logger.
func LogMessagesMiddleware(logger loggingpkg.ServiceLogger) MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "log_messages",
		Builder: func(d *Dispatcher) (Middleware, error) {
			l := logger
			if l == nil {
				l = d.Logger
			}
			if l == nil {
				return nil, errors.New("log messages middleware requires a logger")
			}
			return func(msg wire.Message, next Next) {
				id, _ := msg.CorrelationID()
				l.Debug("Relaying message", loggingpkg.LogFields{
					"resource":       msg.Resource(),
					"correlation_id": id,
				})
				next(msg)
			}, nil
		},
	}
}

// TracerMiddleware wraps the rest of the chain in an OpenTelemetry span and
// injects the span context into the header through the global propagator.
// With the default no-op propagator the header is left unchanged.
func TracerMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "tracer",
		Middleware: func(msg wire.Message, next Next) {
			id, _ := msg.CorrelationID()
			ctx, span := otel.Tracer("relay").Start(
				context.Background(),
				"Request "+msg.Resource(),
				trace.WithSpanKind(trace.SpanKindClient),
			)
			defer span.End()

			span.SetAttributes(
				attribute.String("relay.resource", msg.Resource()),
				attribute.String("relay.correlation_id", id),
			)

			carrier := propagation.MapCarrier{}
			otel.GetTextMapPropagator().Inject(ctx, carrier)
			for _, key := range carrier.Keys() {
				msg = msg.WithHeader(key, carrier.Get(key))
			}
			next(msg)
		},
	}
}

// MetricsMiddleware counts messages per resource for the given direction.
// Responses are labelled with the resource of the subscription they answer,
// never with the inbound header. It is skipped when metrics are disabled.
func MetricsMiddleware(direction string) MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "metrics_" + direction,
		Builder: func(d *Dispatcher) (Middleware, error) {
			if d.metrics == nil {
				return nil, nil
			}
			if direction != DirectionResponse {
				return func(msg wire.Message, next Next) {
					d.metrics.recordMessage(direction, msg.Resource())
					next(msg)
				}, nil
			}
			return func(msg wire.Message, next Next) {
				id, _ := msg.CorrelationID()
				if resource, ok := d.subscriptionResource(id); ok {
					d.metrics.recordMessage(direction, resource)
				}
				next(msg)
			}, nil
		},
	}
}

// RecovererMiddleware turns a panic further down the chain into a logged,
// dropped message.
func RecovererMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "recoverer",
		Builder: func(d *Dispatcher) (Middleware, error) {
			return func(msg wire.Message, next Next) {
				defer func() {
					if r := recover(); r != nil {
						id, _ := msg.CorrelationID()
						d.Logger.Error("Recovered from panic in middleware chain", fmt.Errorf("panic: %v", r), loggingpkg.LogFields{
							"resource":       msg.Resource(),
							"correlation_id": id,
						})
						d.metrics.recordDrop(DropPanic)
					}
				}()
				next(msg)
			}, nil
		},
	}
}

// HeadersMiddleware stamps headers onto outgoing messages. Keys already set
// on the message win, so the correlation ID is never replaced.
func HeadersMiddleware(headers map[string]any) MiddlewareRegistration {
	extra := wire.Merge(headers)
	return MiddlewareRegistration{
		Name: "headers",
		Middleware: func(msg wire.Message, next Next) {
			msg.Header = wire.Merge(extra, msg.Header)
			next(msg)
		},
	}
}

// buildChain resolves registrations against d, skipping nil results.
func buildChain(d *Dispatcher, regs []MiddlewareRegistration) ([]Middleware, error) {
	chain := make([]Middleware, 0, len(regs))
	for _, reg := range regs {
		var mw Middleware
		switch {
		case reg.Middleware != nil:
			mw = reg.Middleware
		case reg.Builder != nil:
			var err error
			mw, err = reg.Builder(d)
			if err != nil {
				return nil, fmt.Errorf("middleware %q: %w", reg.Name, err)
			}
		default:
			return nil, fmt.Errorf("middleware %q: registration requires Middleware or Builder", reg.Name)
		}
		if mw != nil {
			chain = append(chain, mw)
		}
	}
	return chain, nil
}

// runChain passes msg through chain[i:] and finally to terminal.
func runChain(chain []Middleware, i int, msg wire.Message, terminal Next) {
	if i >= len(chain) {
		terminal(msg)
		return
	}
	chain[i](msg, func(m wire.Message) {
		runChain(chain, i+1, m, terminal)
	})
}
