// Package pubsub binds a relay dispatcher to a message broker. Requests are
// published to a request topic and replies are consumed from a reply topic;
// correlation happens in the dispatcher, so the broker only moves bytes.
package pubsub

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/relay/internal/runtime/ids"
	"github.com/drblury/relay/transport"
)

// ReplySuffix is appended to the request topic when no reply topic is set.
const ReplySuffix = ".reply"

var (
	// ErrClosed is returned by Open and Write after Close.
	ErrClosed = errors.New("pubsub binding is closed")
	// ErrAlreadyOpen is returned when Open is called twice.
	ErrAlreadyOpen = errors.New("pubsub binding is already open")
	// ErrNoTopic is returned when no request topic is known.
	ErrNoTopic = errors.New("pubsub binding has no request topic")
)

// Options configure a Binding.
type Options struct {
	// RequestTopic receives outbound payloads. When empty the url passed to
	// Open is used.
	RequestTopic string
	// ReplyTopic is consumed for inbound payloads. Defaults to
	// RequestTopic + ReplySuffix.
	ReplyTopic string
	// Capabilities of the broker, used to reject oversized payloads and to
	// warn about unordered delivery.
	Capabilities transport.Capabilities
	// CloseTransport makes Close also close the publisher and subscriber.
	CloseTransport bool
	Logger         watermill.LoggerAdapter
}

// Binding implements transport.Binding over a Watermill publisher and
// subscriber pair.
type Binding struct {
	pub  message.Publisher
	sub  message.Subscriber
	opts Options

	mu           sync.Mutex
	requestTopic string
	replyTopic   string
	opened       bool
	closed       bool
	cancel       context.CancelFunc
	wg           sync.WaitGroup
}

var _ transport.Binding = (*Binding)(nil)

// New wraps an already built transport. Capabilities not set in opts are
// taken from tr.
func New(tr transport.Transport, opts Options) (*Binding, error) {
	if tr.Publisher == nil || tr.Subscriber == nil {
		return nil, fmt.Errorf("pubsub binding needs both a publisher and a subscriber")
	}
	if opts.Logger == nil {
		opts.Logger = watermill.NopLogger{}
	}
	if opts.Capabilities.Name == "" {
		opts.Capabilities = tr.Capabilities
	}
	b := &Binding{pub: tr.Publisher, sub: tr.Subscriber, opts: opts}
	b.setTopics(opts.RequestTopic, opts.ReplyTopic)
	return b, nil
}

// Build creates a broker transport from cfg through the default registry and
// wraps it. The binding owns the transport and closes it on Close.
func Build(ctx context.Context, cfg transport.Config, opts Options) (*Binding, error) {
	if opts.Logger == nil {
		opts.Logger = watermill.NopLogger{}
	}
	tr, err := transport.Build(ctx, cfg, opts.Logger)
	if err != nil {
		return nil, err
	}
	opts.CloseTransport = true
	return New(tr, opts)
}

func (b *Binding) setTopics(request, reply string) {
	b.requestTopic = request
	b.replyTopic = reply
	if b.replyTopic == "" && request != "" {
		b.replyTopic = request + ReplySuffix
	}
}

// Topics returns the request and reply topics in use.
func (b *Binding) Topics() (request, reply string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.requestTopic, b.replyTopic
}

// Open subscribes to the reply topic and starts forwarding payloads to
// inbound. The subscription is in place when Open returns.
func (b *Binding) Open(url string, inbound transport.InboundHandler) error {
	if inbound == nil {
		return fmt.Errorf("inbound handler is required")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}
	if b.opened {
		return ErrAlreadyOpen
	}
	if b.requestTopic == "" {
		b.setTopics(url, b.replyTopic)
	}
	if b.requestTopic == "" {
		return ErrNoTopic
	}

	ctx, cancel := context.WithCancel(context.Background())
	messages, err := b.sub.Subscribe(ctx, b.replyTopic)
	if err != nil {
		cancel()
		return fmt.Errorf("subscribe to %s: %w", b.replyTopic, err)
	}

	if caps := b.opts.Capabilities; caps.Name != "" && !caps.SupportsOrdering {
		b.opts.Logger.Info("Broker does not guarantee reply ordering", watermill.LogFields{
			"broker": caps.Name,
			"topic":  b.replyTopic,
		})
	}

	b.opened = true
	b.cancel = cancel
	b.wg.Add(1)
	go b.consume(ctx, messages, inbound)

	b.opts.Logger.Debug("Pub/sub binding opened", watermill.LogFields{
		"request_topic": b.requestTopic,
		"reply_topic":   b.replyTopic,
	})
	return nil
}

func (b *Binding) consume(ctx context.Context, messages <-chan *message.Message, inbound transport.InboundHandler) {
	defer b.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			inbound(msg.Payload)
			msg.Ack()
		}
	}
}

// Write publishes payload to the request topic under a fresh message ID.
func (b *Binding) Write(payload []byte) error {
	b.mu.Lock()
	closed, topic := b.closed, b.requestTopic
	b.mu.Unlock()

	if closed {
		return ErrClosed
	}
	if topic == "" {
		return ErrNoTopic
	}
	if !b.opts.Capabilities.Fits(len(payload)) {
		return fmt.Errorf("payload of %d bytes exceeds %s limit of %d", len(payload), b.opts.Capabilities.Name, b.opts.Capabilities.MaxMessageSize)
	}

	msg := message.NewMessage(ids.CreateULID(), payload)
	if err := b.pub.Publish(topic, msg); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

// Close stops consuming replies. When the binding owns the transport the
// publisher and subscriber are closed as well.
func (b *Binding) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	cancel := b.cancel
	b.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	var errs []error
	if b.opts.CloseTransport {
		if err := b.sub.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close subscriber: %w", err))
		}
		if err := b.pub.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close publisher: %w", err))
		}
	}
	b.wg.Wait()
	return errors.Join(errs...)
}
