package transport

// Capabilities describes what a broker guarantees to a pub/sub binding.
// Reply routing relies on ordered delivery, so bindings warn when a broker
// does not provide it.
type Capabilities struct {
	// Name is the broker name used in the registry.
	Name string

	// SupportsOrdering indicates replies for one topic arrive in publish order.
	SupportsOrdering bool

	// SupportsAck indicates the broker supports explicit acknowledgment.
	SupportsAck bool

	// Durable indicates published messages survive a broker restart.
	Durable bool

	// MaxMessageSize is the maximum payload size in bytes (0 = unlimited/unknown).
	MaxMessageSize int64
}

// Fits reports whether a payload of size bytes can be published.
func (c Capabilities) Fits(size int) bool {
	return c.MaxMessageSize <= 0 || int64(size) <= c.MaxMessageSize
}

// Predefined capability sets for the bundled brokers.
var (
	ChannelCapabilities = Capabilities{
		Name:             "channel",
		SupportsOrdering: true,
		SupportsAck:      true,
	}

	KafkaCapabilities = Capabilities{
		Name:             "kafka",
		SupportsOrdering: true,
		SupportsAck:      true,
		Durable:          true,
		MaxMessageSize:   1 << 20,
	}

	RabbitMQCapabilities = Capabilities{
		Name:             "rabbitmq",
		SupportsOrdering: true,
		SupportsAck:      true,
		Durable:          true,
		MaxMessageSize:   128 << 20,
	}

	NATSCapabilities = Capabilities{
		Name:             "nats",
		SupportsOrdering: true,
		MaxMessageSize:   1 << 20,
	}

	NATSJetStreamCapabilities = Capabilities{
		Name:             "nats-jetstream",
		SupportsOrdering: true,
		SupportsAck:      true,
		Durable:          true,
		MaxMessageSize:   1 << 20,
	}

	AWSCapabilities = Capabilities{
		Name:           "aws",
		SupportsAck:    true,
		Durable:        true,
		MaxMessageSize: 256 << 10,
	}

	HTTPCapabilities = Capabilities{
		Name: "http",
	}
)
