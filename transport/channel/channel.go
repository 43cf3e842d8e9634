// Package channel provides an in-process broker backed by Watermill's Go
// channel pub/sub. Every transport built from it shares one pub/sub, so a
// responder running in the same process can answer requests. It is meant for
// tests and local development.
package channel

import (
	"context"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/drblury/relay/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "channel"

// DefaultBufferSize is the per-subscriber output buffer.
const DefaultBufferSize = 64

var (
	sharedMu sync.Mutex
	shared   *gochannel.GoChannel
)

// Shared returns the process-wide pub/sub, creating it on first use.
func Shared(logger watermill.LoggerAdapter) *gochannel.GoChannel {
	sharedMu.Lock()
	defer sharedMu.Unlock()
	if shared == nil {
		if logger == nil {
			logger = watermill.NopLogger{}
		}
		shared = gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: DefaultBufferSize}, logger)
	}
	return shared
}

// ResetShared closes and forgets the process-wide pub/sub.
func ResetShared() error {
	sharedMu.Lock()
	defer sharedMu.Unlock()
	if shared == nil {
		return nil
	}
	err := shared.Close()
	shared = nil
	return err
}

// Factory allows overriding the pub/sub creation for testing.
var Factory = func(logger watermill.LoggerAdapter) (message.Publisher, message.Subscriber) {
	ps := Shared(logger)
	return sharedPublisher{ps}, sharedSubscriber{ps}
}

func init() {
	Register()
}

// Register registers the channel transport with the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.ChannelCapabilities)
}

// Build returns handles onto the shared pub/sub. Closing them leaves the
// shared instance running; use ResetShared to tear it down.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	pub, sub := Factory(logger)
	return transport.Transport{
		Publisher:  pub,
		Subscriber: sub,
	}, nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.ChannelCapabilities
}

type sharedPublisher struct{ ps *gochannel.GoChannel }

func (p sharedPublisher) Publish(topic string, messages ...*message.Message) error {
	return p.ps.Publish(topic, messages...)
}

func (sharedPublisher) Close() error { return nil }

type sharedSubscriber struct{ ps *gochannel.GoChannel }

func (s sharedSubscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return s.ps.Subscribe(ctx, topic)
}

func (sharedSubscriber) Close() error { return nil }
