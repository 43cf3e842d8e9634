package runtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/relay/internal/runtime/config"
	errspkg "github.com/drblury/relay/internal/runtime/errors"
	loggingpkg "github.com/drblury/relay/internal/runtime/logging"
	"github.com/drblury/relay/internal/runtime/request"
	"github.com/drblury/relay/internal/runtime/wire"
	"github.com/drblury/relay/transport"
)

func TestNewDispatcher_Validation(t *testing.T) {
	_, err := NewDispatcher(nil, loggingpkg.NopLogger(), DispatcherDependencies{})
	assert.ErrorIs(t, err, errspkg.ErrConfigRequired)

	_, err = NewDispatcher(&config.Config{}, nil, DispatcherDependencies{})
	assert.ErrorIs(t, err, errspkg.ErrLoggerRequired)

	_, err = NewDispatcher(&config.Config{URL: "http://not-ws"}, loggingpkg.NopLogger(), DispatcherDependencies{})
	assert.ErrorContains(t, err, "unsupported URL scheme")

	_, err = NewDispatcher(&config.Config{}, loggingpkg.NopLogger(), DispatcherDependencies{
		Middlewares: Chain{Request: []MiddlewareRegistration{{Name: "empty"}}},
	})
	assert.ErrorContains(t, err, `middleware "empty"`)
}

func TestGetUsersWithParameters(t *testing.T) {
	d, b := newBoundDispatcher(t, nil, DispatcherDependencies{})

	req, err := d.Get("users", &request.Config{Parameters: map[string]any{"users": 1234}})
	require.NoError(t, err)
	assert.Zero(t, b.writeCount(), "requests are cold until subscribed")

	sub, err := req.Subscribe(func(wire.Message) {})
	require.NoError(t, err)
	require.Equal(t, 1, b.writeCount())

	msg := b.lastWrite(t)
	id := sub.CorrelationID()
	_, err = uuid.Parse(id)
	require.NoError(t, err)

	assert.Equal(t, map[string]any{
		"resource":      "get.users",
		"parameters":    map[string]any{"users": float64(1234)},
		"correlationId": id,
	}, msg.Header)
	assert.Equal(t, map[string]any{"users": nil}, msg.Body)
}

func TestGetUsersExactJSON(t *testing.T) {
	d, b := newBoundDispatcher(t, nil, DispatcherDependencies{IDGenerator: sequenceIDs()})

	req, err := d.Get("users", &request.Config{Parameters: map[string]any{"users": 1234}})
	require.NoError(t, err)
	_, err = req.Subscribe(nil)
	require.NoError(t, err)

	b.mu.Lock()
	payload := string(b.writes[0])
	b.mu.Unlock()
	assert.JSONEq(t, `{"header":{"resource":"get.users","parameters":{"users":1234},"correlationId":"id-1"},"body":{"users":null}}`, payload)
}

func TestRemoveIsSentAsDelete(t *testing.T) {
	d, b := newBoundDispatcher(t, nil, DispatcherDependencies{IDGenerator: sequenceIDs()})

	req, err := d.Remove("wow", nil)
	require.NoError(t, err)
	_, err = req.Subscribe(nil)
	require.NoError(t, err)

	msg := b.lastWrite(t)
	assert.Equal(t, map[string]any{"resource": "delete.wow", "correlationId": "id-1"}, msg.Header)
	assert.Equal(t, map[string]any{"wow": nil}, msg.Body)
}

func TestSendFailsSynchronously(t *testing.T) {
	d, b := newBoundDispatcher(t, nil, DispatcherDependencies{})

	_, err := d.Get("", nil)
	assert.ErrorIs(t, err, errspkg.ErrInvalidConfig)

	_, err = d.Get("users.comments", nil)
	require.ErrorIs(t, err, errspkg.ErrInvalidParams)
	var paramsErr *errspkg.InvalidParamsError
	require.ErrorAs(t, err, &paramsErr)
	assert.Equal(t, "users", paramsErr.Resource)

	_, err = d.Send(nil)
	assert.ErrorIs(t, err, errspkg.ErrInvalidConfig)
	_, err = d.Send(&request.Config{Resource: "users"})
	assert.ErrorIs(t, err, errspkg.ErrInvalidConfig)

	assert.Zero(t, b.writeCount())
}

func TestDefaultHeadersAndPrecedence(t *testing.T) {
	conf := &config.Config{DefaultHeaders: map[string]any{
		"api-version":   "v2",
		"authorization": "default",
		"correlationId": "never-sent",
	}}
	d, b := newBoundDispatcher(t, conf, DispatcherDependencies{IDGenerator: sequenceIDs()})

	req, err := d.Get("users", &request.Config{
		Parameters: map[string]any{"users": "a"},
		Headers:    map[string]any{"authorization": "Bearer x", "resource": "spoofed"},
	})
	require.NoError(t, err)
	_, err = req.Subscribe(nil)
	require.NoError(t, err)

	h := b.lastWrite(t).Header
	assert.Equal(t, "v2", h["api-version"])
	assert.Equal(t, "Bearer x", h["authorization"])
	assert.Equal(t, "get.users", h["resource"])
	assert.Equal(t, "id-1", h["correlationId"])
}

func TestEachSubscriptionIsASeparateExchange(t *testing.T) {
	d, b := newBoundDispatcher(t, nil, DispatcherDependencies{IDGenerator: sequenceIDs()})

	req, err := d.Get("users", &request.Config{Parameters: map[string]any{"users": 1}})
	require.NoError(t, err)

	first, err := req.Subscribe(nil)
	require.NoError(t, err)
	second, err := req.Subscribe(nil)
	require.NoError(t, err)

	assert.Equal(t, 2, b.writeCount())
	assert.Equal(t, "id-1", first.CorrelationID())
	assert.Equal(t, "id-2", second.CorrelationID())
	assert.Equal(t, 2, d.Outstanding())
}

func TestResponsesRouteByCorrelationID(t *testing.T) {
	d, b := newBoundDispatcher(t, nil, DispatcherDependencies{IDGenerator: sequenceIDs()})

	var gotA, gotB []wire.Message
	reqA, _ := d.Get("a", nil)
	reqB, _ := d.Get("b", nil)
	subA, err := reqA.Subscribe(func(m wire.Message) { gotA = append(gotA, m) })
	require.NoError(t, err)
	subB, err := reqB.Subscribe(func(m wire.Message) { gotB = append(gotB, m) })
	require.NoError(t, err)

	b.reply(t, subB.CorrelationID(), map[string]any{"b": "one"})
	b.reply(t, subA.CorrelationID(), map[string]any{"a": "one"})
	b.reply(t, subA.CorrelationID(), map[string]any{"a": "two"})

	require.Len(t, gotA, 2)
	require.Len(t, gotB, 1)
	assert.Equal(t, "one", gotA[0].Body["a"])
	assert.Equal(t, "two", gotA[1].Body["a"])
	assert.Equal(t, "one", gotB[0].Body["b"])
}

func TestUnmatchedAndUndecodableAreDropped(t *testing.T) {
	d, b := newBoundDispatcher(t, nil, DispatcherDependencies{IDGenerator: sequenceIDs()})

	calls := 0
	req, _ := d.Get("a", nil)
	_, err := req.Subscribe(func(wire.Message) { calls++ })
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		b.push([]byte("not json"))
		b.push([]byte(`{"header":{},"body":{}}`))
		b.push([]byte(`{"header":{"correlationId":42},"body":{}}`))
		b.reply(t, "unknown", nil)
	})
	assert.Zero(t, calls)
	assert.Equal(t, 1, d.Outstanding())
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	d, b := newBoundDispatcher(t, nil, DispatcherDependencies{})

	calls := 0
	req, _ := d.Get("a", nil)
	sub, err := req.Subscribe(func(wire.Message) { calls++ })
	require.NoError(t, err)

	b.reply(t, sub.CorrelationID(), nil)
	sub.Unsubscribe()
	sub.Unsubscribe()
	b.reply(t, sub.CorrelationID(), nil)

	assert.Equal(t, 1, calls)
	assert.Zero(t, d.Outstanding())
	select {
	case <-sub.Done():
	default:
		t.Fatal("Done not closed after Unsubscribe")
	}
}

func TestSubscribeWhileUnbound(t *testing.T) {
	d := newTestDispatcher(t, nil, DispatcherDependencies{})

	req, err := d.Get("users", &request.Config{Parameters: map[string]any{"users": 1}})
	require.NoError(t, err, "validation does not need a binding")

	_, err = req.Subscribe(nil)
	assert.ErrorIs(t, err, errspkg.ErrNotBound)
	assert.Zero(t, d.Outstanding())
}

func TestBindTwiceSwitchesBackends(t *testing.T) {
	d := newTestDispatcher(t, nil, DispatcherDependencies{IDGenerator: sequenceIDs()})
	first := &fakeBinding{}
	second := &fakeBinding{}

	require.NoError(t, d.Bind(first, "ws://one"))
	require.NoError(t, d.Bind(second, "ws://two"))
	assert.Equal(t, 1, first.closed)
	assert.Equal(t, "ws://two", second.url)

	calls := 0
	req, _ := d.Get("a", nil)
	sub, err := req.Subscribe(func(wire.Message) { calls++ })
	require.NoError(t, err)

	assert.Zero(t, first.writeCount())
	assert.Equal(t, 1, second.writeCount())

	first.reply(t, sub.CorrelationID(), nil)
	assert.Zero(t, calls, "stale binding is ignored")
	second.reply(t, sub.CorrelationID(), nil)
	assert.Equal(t, 1, calls)
}

func TestBindErrors(t *testing.T) {
	d := newTestDispatcher(t, nil, DispatcherDependencies{})

	assert.ErrorIs(t, d.Bind(nil, "ws://x"), errspkg.ErrBindingRequired)

	err := d.Bind(&fakeBinding{openErr: errors.New("refused")}, "ws://x")
	assert.ErrorContains(t, err, "refused")
	assert.False(t, d.Bound())
}

func TestUnbindDiscardsEntries(t *testing.T) {
	d, b := newBoundDispatcher(t, nil, DispatcherDependencies{})

	req, _ := d.Get("a", nil)
	sub, err := req.Subscribe(nil)
	require.NoError(t, err)
	require.Equal(t, 1, d.Outstanding())

	require.NoError(t, d.Unbind())
	assert.Zero(t, d.Outstanding())
	assert.False(t, d.Bound())
	assert.Equal(t, 1, b.closed)
	<-sub.Done()

	assert.NoError(t, d.Unbind())
	d.Reset()
}

func TestWriteErrorsAreNotSurfaced(t *testing.T) {
	log := &recordingLogger{}
	d, err := NewDispatcher(&config.Config{}, log, DispatcherDependencies{})
	require.NoError(t, err)
	b := &fakeBinding{writeErr: errors.New("queue full")}
	require.NoError(t, d.Bind(b, "ws://x"))
	defer d.Reset()

	req, _ := d.Get("a", nil)
	sub, err := req.Subscribe(nil)
	require.NoError(t, err)
	assert.NotEmpty(t, sub.CorrelationID())
	assert.Equal(t, 1, log.errorCount())
}

func TestSynchronousReplyDuringWrite(t *testing.T) {
	d := newTestDispatcher(t, nil, DispatcherDependencies{})
	b := &loopbackBinding{}
	require.NoError(t, d.Bind(b, "loop"))

	var got []wire.Message
	req, _ := d.Get("echo", &request.Config{Data: "hi"})
	_, err := req.Subscribe(func(m wire.Message) { got = append(got, m) })
	require.NoError(t, err)

	require.Len(t, got, 1)
	assert.Equal(t, "hi", got[0].Body["echo"])
}

// loopbackBinding echoes every write straight back on the caller goroutine.
type loopbackBinding struct {
	inbound transport.InboundHandler
}

func (l *loopbackBinding) Open(_ string, inbound transport.InboundHandler) error {
	l.inbound = inbound
	return nil
}
func (l *loopbackBinding) Write(p []byte) error { l.inbound(p); return nil }
func (l *loopbackBinding) Close() error         { return nil }

func TestStream(t *testing.T) {
	d, b := newBoundDispatcher(t, nil, DispatcherDependencies{})

	req, _ := d.Get("ticker", nil)
	ctx, cancel := context.WithCancel(context.Background())
	ch, sub, err := req.Stream(ctx)
	require.NoError(t, err)

	for i := range 3 {
		b.reply(t, sub.CorrelationID(), map[string]any{"ticker": float64(i)})
	}
	for i := range 3 {
		msg := <-ch
		assert.Equal(t, float64(i), msg.Body["ticker"])
	}

	cancel()
	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("stream not closed after cancel")
	}
	assert.Eventually(t, func() bool { return d.Outstanding() == 0 }, time.Second, 5*time.Millisecond)
}

func TestStreamClosedByUnbind(t *testing.T) {
	d, _ := newBoundDispatcher(t, nil, DispatcherDependencies{})

	req, _ := d.Get("ticker", nil)
	ch, _, err := req.Stream(context.Background())
	require.NoError(t, err)

	require.NoError(t, d.Unbind())
	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("stream not closed after unbind")
	}
}

func TestStreamUnbound(t *testing.T) {
	d := newTestDispatcher(t, nil, DispatcherDependencies{})
	req, _ := d.Get("ticker", nil)
	_, _, err := req.Stream(context.Background())
	assert.ErrorIs(t, err, errspkg.ErrNotBound)
}

func TestConcurrentSubscribeAndDeliver(t *testing.T) {
	d, b := newBoundDispatcher(t, nil, DispatcherDependencies{})

	const n = 50
	var wg sync.WaitGroup
	var mu sync.Mutex
	received := 0
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req, err := d.Get("a", nil)
			if !assert.NoError(t, err) {
				return
			}
			sub, err := req.Subscribe(func(wire.Message) {
				mu.Lock()
				received++
				mu.Unlock()
			})
			if !assert.NoError(t, err) {
				return
			}
			b.reply(t, sub.CorrelationID(), nil)
		}()
	}
	wg.Wait()

	assert.Equal(t, n, received)
	assert.Equal(t, n, d.Outstanding())
}
