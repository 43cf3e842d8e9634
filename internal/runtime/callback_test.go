package runtime

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errspkg "github.com/drblury/relay/internal/runtime/errors"
	idspkg "github.com/drblury/relay/internal/runtime/ids"
	"github.com/drblury/relay/internal/runtime/wire"
	"github.com/drblury/relay/transport"
	"github.com/drblury/relay/transport/pubsub"
)

// echoBinding returns a pub/sub binding over an in-process channel whose
// responder publishes every request back on the reply topic.
func echoBinding(t *testing.T) *pubsub.Binding {
	t.Helper()
	ps := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 16}, watermill.NopLogger{})
	t.Cleanup(func() { _ = ps.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	requests, err := ps.Subscribe(ctx, "api")
	require.NoError(t, err)
	go func() {
		for msg := range requests {
			_ = ps.Publish("api"+pubsub.ReplySuffix, message.NewMessage(watermill.NewUUID(), msg.Payload))
			msg.Ack()
		}
	}()

	b, err := pubsub.New(transport.Transport{Publisher: ps, Subscriber: ps}, pubsub.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestDispatcherCallsFromSubscriberCallback(t *testing.T) {
	tests := []struct {
		name      string
		call      func(d *Dispatcher) error
		wantBound bool
	}{
		{
			name: "unbind",
			call: func(d *Dispatcher) error { return d.Unbind() },
		},
		{
			name: "reset",
			call: func(d *Dispatcher) error {
				d.Reset()
				return nil
			},
		},
		{
			name:      "bind",
			call:      func(d *Dispatcher) error { return d.Bind(&fakeBinding{}, "ws://next") },
			wantBound: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newTestDispatcher(t, nil, DispatcherDependencies{})
			b := echoBinding(t)
			require.NoError(t, d.Bind(b, "api"))

			returned := make(chan error, 1)
			req, err := d.Get("users", nil)
			require.NoError(t, err)
			_, err = req.Subscribe(func(wire.Message) {
				select {
				case returned <- tt.call(d):
				default:
				}
			})
			require.NoError(t, err)

			select {
			case err := <-returned:
				require.NoError(t, err)
			case <-time.After(3 * time.Second):
				t.Fatal("call from subscriber callback did not return")
			}

			assert.Equal(t, tt.wantBound, d.Bound())
			if !tt.wantBound {
				assert.Zero(t, d.Outstanding())
			}
			assert.Eventually(t, func() bool {
				return b.Write([]byte(`{}`)) == pubsub.ErrClosed
			}, 3*time.Second, 10*time.Millisecond, "replaced binding is closed")
		})
	}
}

func TestUnsubscribeFromSubscriberCallback(t *testing.T) {
	d := newTestDispatcher(t, nil, DispatcherDependencies{})
	require.NoError(t, d.Bind(echoBinding(t), "api"))

	done := make(chan struct{})
	var sub *Subscription
	req, _ := d.Get("users", nil)
	sub, err := req.Subscribe(func(wire.Message) {
		<-done
		sub.Unsubscribe()
	})
	require.NoError(t, err)
	close(done)

	select {
	case <-sub.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("subscription not finished")
	}
	assert.Zero(t, d.Outstanding())
	assert.True(t, d.Bound())
}

func TestSubscribeRacingUnbindIsRejected(t *testing.T) {
	var d *Dispatcher
	var dones []ExchangeContext
	d = newTestDispatcher(t, nil, DispatcherDependencies{
		IDGenerator: idspkg.GeneratorFunc(func() string {
			// Unbind lands between the bound check and registration.
			require.NoError(t, d.Unbind())
			return "id-1"
		}),
		Hooks: ExchangeHooks{OnDone: func(ex ExchangeContext) { dones = append(dones, ex) }},
	})
	b := &fakeBinding{}
	require.NoError(t, d.Bind(b, "ws://api.test"))

	req, _ := d.Get("users", nil)
	sub, err := req.Subscribe(nil)
	assert.ErrorIs(t, err, errspkg.ErrNotBound)
	assert.Nil(t, sub)
	assert.Zero(t, d.Outstanding())
	assert.False(t, d.Bound())
	assert.Zero(t, b.writeCount())
	assert.Empty(t, dones, "an exchange that never started has no done hook")
}
