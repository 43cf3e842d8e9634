// Package transport defines the contract between the relay dispatcher and the
// connection that carries serialized wire messages, plus a registry of
// message brokers that pub/sub bindings can be built on. Each broker lives in
// its own sub-package and registers itself with the registry.
package transport

import (
	"context"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/relay/internal/runtime/ids"
)

// InboundHandler receives every payload read from the connection, once, in
// arrival order.
type InboundHandler func(payload []byte)

// Binding is the injected, socket-like backend behind a dispatcher.
//
// Write is fire-and-forget from the dispatcher's point of view: a binding that
// cannot send right away queues or retries on its own and only reports errors
// it cannot absorb. Open may be called once per binding; Close stops inbound
// delivery and may wait for the goroutine running inbound, so it must not be
// called from inside inbound.
type Binding interface {
	Open(url string, inbound InboundHandler) error
	Write(payload []byte) error
	Close() error
}

// Transport combines a broker publisher and subscriber pair produced by a
// registered Builder. Registry.Build fills Capabilities from the registration
// when the builder leaves it empty.
type Transport struct {
	Publisher    message.Publisher
	Subscriber   message.Subscriber
	Capabilities Capabilities
}

// Builder is the function signature for creating a broker transport from config.
// Each broker package provides a Builder that is registered under its name.
type Builder func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error)

// Config provides the configuration values needed by broker builders.
// This interface lets brokers read only the keys they need without depending
// on the full config package.
type Config interface {
	// GetTransport returns the broker name.
	GetTransport() string

	// Kafka
	GetKafkaBrokers() []string
	GetKafkaConsumerGroup() string

	// RabbitMQ
	GetRabbitMQURL() string

	// NATS
	GetNATSURL() string

	// HTTP
	GetHTTPServerAddress() string
	GetHTTPPublisherURL() string

	// AWS
	GetAWSRegion() string
	GetAWSAccountID() string
	GetAWSAccessKeyID() string
	GetAWSSecretAccessKey() string
	GetAWSEndpoint() string
}

// InstanceID names this process on brokers where each client needs its own
// consumer group, queue or durable so that every client sees its replies.
var InstanceID = ids.CreateULID()

// ConsumerName returns a broker-safe consumer name for this process.
func ConsumerName(prefix string) string {
	if prefix == "" {
		prefix = "relay"
	}
	return prefix + "-" + strings.ToLower(InstanceID)
}
