// Package jetstream provides a NATS JetStream broker for relay pub/sub
// bindings. Requests are persisted in a stream; each client reads replies
// through its own ephemeral consumer that only sees messages published after
// it subscribed.
package jetstream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/nats-io/nats.go"

	"github.com/drblury/relay/internal/runtime/ids"
	"github.com/drblury/relay/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "nats-jetstream"

const (
	// DefaultStreamName is the stream created when none is configured.
	DefaultStreamName = "RELAY"

	// DefaultAckWait is the default ack wait timeout.
	DefaultAckWait = 30 * time.Second

	// DefaultMaxAge bounds how long unanswered requests stay in the stream.
	DefaultMaxAge = time.Hour

	// HeaderMessageID carries the Watermill message UUID across the broker.
	HeaderMessageID = "Relay-Msg-Id"
)

// ErrClosed is returned by Publish and Subscribe after Close.
var ErrClosed = errors.New("jetstream transport is closed")

// Connect allows overriding the NATS connection for testing.
var Connect = func(url string, opts ...nats.Option) (*nats.Conn, error) {
	return nats.Connect(url, opts...)
}

func init() {
	Register()
}

// Register registers the JetStream transport with the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.NATSJetStreamCapabilities)
}

// Build creates a NATS JetStream transport.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	t, err := New(Config{URL: cfg.GetNATSURL()}, logger)
	if err != nil {
		return transport.Transport{}, err
	}

	return transport.Transport{
		Publisher:  t,
		Subscriber: t,
	}, nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.NATSJetStreamCapabilities
}

// Config holds JetStream-specific settings.
type Config struct {
	URL        string
	StreamName string
	AckWait    time.Duration
	MaxAge     time.Duration
	Replicas   int
}

func (c Config) withDefaults() Config {
	if c.StreamName == "" {
		c.StreamName = DefaultStreamName
	}
	if c.AckWait <= 0 {
		c.AckWait = DefaultAckWait
	}
	if c.MaxAge <= 0 {
		c.MaxAge = DefaultMaxAge
	}
	if c.Replicas <= 0 {
		c.Replicas = 1
	}
	return c
}

// Subject maps a topic onto the stream's subject space.
func (c Config) Subject(topic string) string {
	return c.withDefaults().StreamName + "." + topic
}

// Transport implements message.Publisher and message.Subscriber for JetStream.
type Transport struct {
	nc     *nats.Conn
	js     nats.JetStreamContext
	config Config
	logger watermill.LoggerAdapter

	mu     sync.Mutex
	subs   []*nats.Subscription
	closed bool
	done   chan struct{}
}

// New connects to NATS and ensures the stream exists.
func New(cfg Config, logger watermill.LoggerAdapter) (*Transport, error) {
	cfg = cfg.withDefaults()
	if cfg.URL == "" {
		return nil, fmt.Errorf("jetstream: url is required")
	}
	if logger == nil {
		logger = watermill.NopLogger{}
	}

	nc, err := Connect(cfg.URL, nats.Name(transport.ConsumerName("relay")), nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	t := &Transport{
		nc:     nc,
		js:     js,
		config: cfg,
		logger: logger,
		done:   make(chan struct{}),
	}

	if err := t.ensureStream(); err != nil {
		nc.Close()
		return nil, err
	}

	return t, nil
}

func (t *Transport) ensureStream() error {
	streamCfg := &nats.StreamConfig{
		Name:      t.config.StreamName,
		Subjects:  []string{t.config.StreamName + ".>"},
		MaxAge:    t.config.MaxAge,
		Replicas:  t.config.Replicas,
		Retention: nats.LimitsPolicy,
	}

	if _, err := t.js.AddStream(streamCfg); err == nil {
		return nil
	}
	if _, err := t.js.UpdateStream(streamCfg); err != nil {
		return fmt.Errorf("failed to ensure stream %s: %w", t.config.StreamName, err)
	}
	return nil
}

func (t *Transport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// Publish writes messages to the stream under the topic's subject.
func (t *Transport) Publish(topic string, messages ...*message.Message) error {
	if t.isClosed() {
		return ErrClosed
	}

	subject := t.config.Subject(topic)
	for _, msg := range messages {
		if _, err := t.js.PublishMsg(ToNATS(subject, msg)); err != nil {
			return fmt.Errorf("failed to publish to JetStream: %w", err)
		}
	}
	return nil
}

// Subscribe creates an ephemeral consumer delivering only new messages.
// Each message is acked on the broker once the Watermill message is acked.
func (t *Transport) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	if t.isClosed() {
		return nil, ErrClosed
	}

	output := make(chan *message.Message)
	var closeOnce sync.Once
	closeOutput := func() { closeOnce.Do(func() { close(output) }) }

	sub, err := t.js.Subscribe(t.config.Subject(topic), func(natsMsg *nats.Msg) {
		t.forward(ctx, natsMsg, output, topic)
	},
		nats.DeliverNew(),
		nats.AckExplicit(),
		nats.AckWait(t.config.AckWait),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}

	t.mu.Lock()
	t.subs = append(t.subs, sub)
	t.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
		case <-t.done:
		}
		_ = sub.Unsubscribe()
		closeOutput()
	}()

	return output, nil
}

func (t *Transport) forward(ctx context.Context, natsMsg *nats.Msg, output chan<- *message.Message, topic string) {
	msg := FromNATS(natsMsg)

	select {
	case output <- msg:
	case <-ctx.Done():
		return
	case <-t.done:
		return
	}

	select {
	case <-msg.Acked():
		if err := natsMsg.Ack(); err != nil {
			t.logger.Error("Failed to ack JetStream message", err, watermill.LogFields{"topic": topic})
		}
	case <-msg.Nacked():
		if err := natsMsg.Nak(); err != nil {
			t.logger.Error("Failed to nak JetStream message", err, watermill.LogFields{"topic": topic})
		}
	case <-ctx.Done():
	case <-t.done:
	}
}

// ToNATS converts a Watermill message, carrying its UUID and metadata as headers.
func ToNATS(subject string, msg *message.Message) *nats.Msg {
	headers := nats.Header{}
	for k, v := range msg.Metadata {
		headers.Set(k, v)
	}
	headers.Set(HeaderMessageID, msg.UUID)
	return &nats.Msg{Subject: subject, Data: msg.Payload, Header: headers}
}

// FromNATS converts a NATS message back, generating a UUID when the
// publisher did not set one.
func FromNATS(natsMsg *nats.Msg) *message.Message {
	id := natsMsg.Header.Get(HeaderMessageID)
	if id == "" {
		id = ids.CreateULID()
	}

	msg := message.NewMessage(id, natsMsg.Data)
	for k, v := range natsMsg.Header {
		if k == HeaderMessageID || len(v) == 0 {
			continue
		}
		msg.Metadata.Set(k, v[0])
	}
	return msg
}

// Close unsubscribes every consumer and closes the connection.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	close(t.done)
	subs := t.subs
	t.subs = nil
	t.mu.Unlock()

	for _, sub := range subs {
		_ = sub.Unsubscribe()
	}
	t.nc.Close()
	return nil
}
