package runtime

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/relay/internal/runtime/wire"
)

func TestExchangeHooksLifecycle(t *testing.T) {
	var mu sync.Mutex
	var events []string
	var last ExchangeContext
	record := func(name string) func(ExchangeContext) {
		return func(ctx ExchangeContext) {
			mu.Lock()
			defer mu.Unlock()
			events = append(events, name)
			last = ctx
		}
	}

	d, b := newBoundDispatcher(t, nil, DispatcherDependencies{
		IDGenerator: sequenceIDs(),
		Hooks: ExchangeHooks{
			OnSend: record("send"),
			OnResponse: func(ctx ExchangeContext, _ wire.Message) {
				record("response")(ctx)
			},
			OnDone: record("done"),
		},
	})

	req, _ := d.Remove("users", nil)
	sub, err := req.Subscribe(nil)
	require.NoError(t, err)
	assert.Equal(t, "id-1", last.CorrelationID)
	assert.Equal(t, "delete.users", last.Resource)
	assert.Equal(t, "delete", last.Method)
	assert.False(t, last.StartedAt.IsZero())

	b.reply(t, sub.CorrelationID(), nil)
	b.reply(t, sub.CorrelationID(), nil)
	assert.Equal(t, 2, last.Responses)

	sub.Unsubscribe()
	sub.Unsubscribe()
	assert.Equal(t, []string{"send", "response", "response", "done"}, events)
	assert.Equal(t, 2, last.Responses)
	assert.GreaterOrEqual(t, last.Duration, time.Duration(0))
}

func TestExchangeHooksDoneOnUnbind(t *testing.T) {
	done := 0
	d, _ := newBoundDispatcher(t, nil, DispatcherDependencies{
		Hooks: ExchangeHooks{OnDone: func(ExchangeContext) { done++ }},
	})

	for range 3 {
		req, _ := d.Get("a", nil)
		_, err := req.Subscribe(nil)
		require.NoError(t, err)
	}
	require.NoError(t, d.Unbind())
	assert.Equal(t, 3, done)
}

func TestExchangeHooksNotCalledForFailedSubscribe(t *testing.T) {
	called := false
	d := newTestDispatcher(t, nil, DispatcherDependencies{
		Hooks: ExchangeHooks{
			OnSend: func(ExchangeContext) { called = true },
			OnDone: func(ExchangeContext) { called = true },
		},
	})

	req, _ := d.Get("a", nil)
	_, err := req.Subscribe(nil)
	require.Error(t, err)
	assert.False(t, called)
}

func TestExchangeHooksMerge(t *testing.T) {
	var order []string
	a := ExchangeHooks{
		OnSend:     func(ExchangeContext) { order = append(order, "a-send") },
		OnResponse: func(ExchangeContext, wire.Message) { order = append(order, "a-response") },
	}
	b := ExchangeHooks{
		OnSend: func(ExchangeContext) { order = append(order, "b-send") },
		OnDone: func(ExchangeContext) { order = append(order, "b-done") },
	}

	merged := a.Merge(b)
	merged.send(ExchangeContext{})
	merged.response(ExchangeContext{}, wire.Message{})
	merged.done(ExchangeContext{})
	assert.Equal(t, []string{"a-send", "b-send", "a-response", "b-done"}, order)

	assert.NotPanics(t, func() {
		empty := ExchangeHooks{}.Merge(ExchangeHooks{})
		empty.send(ExchangeContext{})
		empty.response(ExchangeContext{}, wire.Message{})
		empty.done(ExchangeContext{})
	})
}

func TestLoggingHooks(t *testing.T) {
	log := &recordingLogger{}
	hooks := LoggingHooks(log)

	hooks.send(ExchangeContext{Resource: "get.a"})
	hooks.response(ExchangeContext{Resource: "get.a"}, wire.Message{})
	hooks.done(ExchangeContext{Resource: "get.a"})

	assert.Equal(t, []string{"Response received"}, log.debugs)
}

func TestLatencyHooks(t *testing.T) {
	var got []string
	hooks := LatencyHooks(func(resource string, d time.Duration) {
		got = append(got, resource)
		assert.Equal(t, 5*time.Millisecond, d)
	})
	hooks.response(ExchangeContext{Resource: "get.a", Duration: 5 * time.Millisecond}, wire.Message{})
	assert.Equal(t, []string{"get.a"}, got)

	assert.NotPanics(t, func() { LatencyHooks(nil).response(ExchangeContext{}, wire.Message{}) })
}
