package runtime

import (
	"time"

	loggingpkg "github.com/drblury/relay/internal/runtime/logging"
	"github.com/drblury/relay/internal/runtime/wire"
)

// ExchangeContext describes one request/response exchange to hooks.
type ExchangeContext struct {
	// CorrelationID is the identifier sent in the request header.
	CorrelationID string
	// Resource is the "<method>.<path>" header value of the request.
	Resource string
	// Method is the normalised verb.
	Method string
	// StartedAt is when the request was handed to the request chain.
	StartedAt time.Time
	// Duration is the time since StartedAt (set in OnResponse and OnDone).
	Duration time.Duration
	// Responses counts the responses delivered so far.
	Responses int
}

// ExchangeHooks defines callbacks for exchange lifecycle events.
// All hooks are optional - nil hooks are simply not called.
// Hooks run synchronously on the goroutine that triggered the event.
type ExchangeHooks struct {
	// OnSend is called once the request has passed the request chain, just
	// before it is written.
	OnSend func(ctx ExchangeContext)

	// OnResponse is called for every response routed to the subscriber,
	// after the subscriber callback returns.
	OnResponse func(ctx ExchangeContext, msg wire.Message)

	// OnDone is called when the subscription ends, either through
	// Unsubscribe or because the dispatcher was unbound.
	OnDone func(ctx ExchangeContext)
}

// Merge combines two ExchangeHooks, creating a new ExchangeHooks that calls both.
// The hooks from 'other' are called after the hooks from 'h'.
func (h ExchangeHooks) Merge(other ExchangeHooks) ExchangeHooks {
	return ExchangeHooks{
		OnSend:     chainContextHooks(h.OnSend, other.OnSend),
		OnResponse: chainResponseHooks(h.OnResponse, other.OnResponse),
		OnDone:     chainContextHooks(h.OnDone, other.OnDone),
	}
}

func chainContextHooks(a, b func(ExchangeContext)) func(ExchangeContext) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx ExchangeContext) {
		a(ctx)
		b(ctx)
	}
}

func chainResponseHooks(a, b func(ExchangeContext, wire.Message)) func(ExchangeContext, wire.Message) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx ExchangeContext, msg wire.Message) {
		a(ctx, msg)
		b(ctx, msg)
	}
}

func (h ExchangeHooks) send(ctx ExchangeContext) {
	if h.OnSend != nil {
		h.OnSend(ctx)
	}
}

func (h ExchangeHooks) response(ctx ExchangeContext, msg wire.Message) {
	if h.OnResponse != nil {
		h.OnResponse(ctx, msg)
	}
}

func (h ExchangeHooks) done(ctx ExchangeContext) {
	if h.OnDone != nil {
		h.OnDone(ctx)
	}
}

// LoggingHooks returns pre-built hooks that log exchange lifecycle events.
func LoggingHooks(logger loggingpkg.ServiceLogger) ExchangeHooks {
	return ExchangeHooks{
		OnSend: func(ctx ExchangeContext) {
			logger.Info("Request sent", loggingpkg.LogFields{
				"resource":       ctx.Resource,
				"correlation_id": ctx.CorrelationID,
			})
		},
		OnResponse: func(ctx ExchangeContext, _ wire.Message) {
			logger.Debug("Response received", loggingpkg.LogFields{
				"resource":       ctx.Resource,
				"correlation_id": ctx.CorrelationID,
				"responses":      ctx.Responses,
				"duration_ms":    ctx.Duration.Milliseconds(),
			})
		},
		OnDone: func(ctx ExchangeContext) {
			logger.Info("Exchange finished", loggingpkg.LogFields{
				"resource":       ctx.Resource,
				"correlation_id": ctx.CorrelationID,
				"responses":      ctx.Responses,
				"duration_ms":    ctx.Duration.Milliseconds(),
			})
		},
	}
}

// LatencyHooks reports the time between sending a request and each of its
// responses, e.g. to feed a histogram.
func LatencyHooks(observe func(resource string, d time.Duration)) ExchangeHooks {
	return ExchangeHooks{
		OnResponse: func(ctx ExchangeContext, _ wire.Message) {
			if observe != nil {
				observe(ctx.Resource, ctx.Duration)
			}
		},
	}
}
