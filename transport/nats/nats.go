// Package nats provides a NATS Core broker for relay pub/sub bindings.
package nats

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	wmnats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	natsgo "github.com/nats-io/nats.go"

	"github.com/drblury/relay/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "nats"

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg wmnats.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return wmnats.NewPublisher(cfg, logger)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg wmnats.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return wmnats.NewSubscriber(cfg, logger)
}

func init() {
	Register()
}

// Register registers the NATS transport with the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.NATSCapabilities)
}

// connOptions names the connection and keeps reconnecting for as long as
// the process runs.
func connOptions() []natsgo.Option {
	return []natsgo.Option{
		natsgo.Name(transport.ConsumerName("relay")),
		natsgo.MaxReconnects(-1),
	}
}

// Build creates a NATS Core transport. JetStream is disabled here; use the
// nats-jetstream transport for persisted replies. Replies are read without a
// queue group so every client sees the whole reply subject.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	url := cfg.GetNATSURL()
	if url == "" {
		return transport.Transport{}, fmt.Errorf("nats: url is required")
	}
	marshaler := &wmnats.NATSMarshaler{}
	jsConfig := wmnats.JetStreamConfig{Disabled: true}

	publisher, err := PublisherFactory(
		wmnats.PublisherConfig{
			URL:         url,
			NatsOptions: connOptions(),
			Marshaler:   marshaler,
			JetStream:   jsConfig,
		},
		logger,
	)
	if err != nil {
		return transport.Transport{}, fmt.Errorf("nats publisher: %w", err)
	}

	subscriber, err := SubscriberFactory(
		wmnats.SubscriberConfig{
			URL:         url,
			NatsOptions: connOptions(),
			Unmarshaler: marshaler,
			JetStream:   jsConfig,
		},
		logger,
	)
	if err != nil {
		_ = publisher.Close()
		return transport.Transport{}, fmt.Errorf("nats subscriber: %w", err)
	}

	return transport.Transport{
		Publisher:  publisher,
		Subscriber: subscriber,
	}, nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.NATSCapabilities
}
