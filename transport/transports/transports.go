// Package transports imports every bundled broker for registration with the
// default registry. Import it for side effects when pub/sub bindings are
// built from configuration.
package transports

import (
	_ "github.com/drblury/relay/transport/aws"
	_ "github.com/drblury/relay/transport/channel"
	_ "github.com/drblury/relay/transport/http"
	_ "github.com/drblury/relay/transport/jetstream"
	_ "github.com/drblury/relay/transport/kafka"
	_ "github.com/drblury/relay/transport/nats"
	_ "github.com/drblury/relay/transport/rabbitmq"
)
