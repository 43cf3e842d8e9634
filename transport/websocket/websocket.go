// Package websocket binds a relay dispatcher to a WebSocket endpoint. The
// connection is dialed in the background and redialed with jittered backoff
// whenever it drops; writes issued while disconnected are queued and flushed
// in order once a connection is up.
package websocket

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/gorilla/websocket"

	"github.com/drblury/relay/internal/runtime/backoff"
	"github.com/drblury/relay/internal/runtime/config"
	"github.com/drblury/relay/transport"
)

const (
	// DefaultQueueSize bounds payloads buffered while disconnected.
	DefaultQueueSize = 256
	// DefaultHandshakeTimeout bounds a single dial.
	DefaultHandshakeTimeout = 10 * time.Second

	writeWait = 10 * time.Second
)

var (
	// ErrClosed is returned by Open and Write after Close.
	ErrClosed = errors.New("websocket binding is closed")
	// ErrAlreadyOpen is returned when Open is called twice.
	ErrAlreadyOpen = errors.New("websocket binding is already open")
	// ErrQueueFull is returned when the outbound queue cannot take more payloads.
	ErrQueueFull = errors.New("websocket write queue is full")
)

// Options configure a Binding.
type Options struct {
	Dialer  *websocket.Dialer
	Header  http.Header
	Backoff backoff.Calculator
	// QueueSize bounds the outbound queue. Defaults to DefaultQueueSize.
	QueueSize int
	Logger    watermill.LoggerAdapter
}

// Binding implements transport.Binding over a gorilla/websocket client.
type Binding struct {
	opts  Options
	queue chan []byte

	mu        sync.Mutex
	conn      *websocket.Conn
	opened    bool
	closed    bool
	cancel    context.CancelFunc
	connected chan struct{}

	// pending is a payload whose write failed; it is resent before the
	// queue on the next connection. Only the run goroutine touches it.
	pending []byte

	wg sync.WaitGroup
}

var _ transport.Binding = (*Binding)(nil)

// New creates an unopened binding. Writes before Open are queued.
func New(opts Options) *Binding {
	if opts.Dialer == nil {
		opts.Dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: DefaultHandshakeTimeout,
		}
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.Logger == nil {
		opts.Logger = watermill.NopLogger{}
	}
	return &Binding{
		opts:      opts,
		queue:     make(chan []byte, opts.QueueSize),
		connected: make(chan struct{}),
	}
}

// NewFromConfig maps the websocket keys of cfg onto Options.
func NewFromConfig(cfg *config.Config, logger watermill.LoggerAdapter) *Binding {
	c := cfg.WithDefaults()
	return New(Options{
		Dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: c.HandshakeTimeout,
		},
		Backoff:   backoff.Calculator{Base: c.ReconnectBase, Cap: c.ReconnectCap},
		QueueSize: c.WriteQueueSize,
		Logger:    logger,
	})
}

// Open starts dialing rawURL in the background and returns immediately.
// Every text or binary frame read is passed to inbound.
func (b *Binding) Open(rawURL string, inbound transport.InboundHandler) error {
	if inbound == nil {
		return fmt.Errorf("inbound handler is required")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parse websocket url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("websocket url must use ws or wss, got %q", u.Scheme)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	if b.opened {
		return ErrAlreadyOpen
	}

	ctx, cancel := context.WithCancel(context.Background())
	b.opened = true
	b.cancel = cancel
	b.wg.Add(1)
	go b.run(ctx, u.String(), inbound)
	return nil
}

// Write queues payload for delivery. It only fails when the binding is
// closed or the queue is full.
func (b *Binding) Write(payload []byte) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return ErrClosed
	}

	select {
	case b.queue <- payload:
		return nil
	default:
		return ErrQueueFull
	}
}

// Connected returns a channel that is closed once the first connection is
// established.
func (b *Binding) Connected() <-chan struct{} {
	return b.connected
}

// Close stops reconnecting, closes the live connection and waits for the
// reader to finish. No inbound call happens after Close returns.
func (b *Binding) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	cancel := b.cancel
	conn := b.conn
	b.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = conn.Close()
	}
	b.wg.Wait()
	return nil
}

func (b *Binding) run(ctx context.Context, target string, inbound transport.InboundHandler) {
	defer b.wg.Done()

	var once sync.Once
	attempt := 0
	for {
		attempt++
		if delay := b.opts.Backoff.Delay(attempt); delay > 0 {
			b.opts.Logger.Debug("Waiting before websocket reconnect", watermill.LogFields{
				"attempt": attempt,
				"delay":   delay.String(),
			})
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}

		conn, err := b.dial(ctx, target)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			b.opts.Logger.Error("Websocket dial failed", err, watermill.LogFields{
				"url":     target,
				"attempt": attempt,
			})
			continue
		}

		if !b.setConn(conn) {
			_ = conn.Close()
			return
		}
		attempt = 0
		once.Do(func() { close(b.connected) })
		b.opts.Logger.Info("Websocket connected", watermill.LogFields{"url": target})

		b.serve(ctx, conn, inbound)
		b.setConn(nil)

		if ctx.Err() != nil {
			return
		}
		b.opts.Logger.Info("Websocket disconnected", watermill.LogFields{"url": target})
	}
}

func (b *Binding) dial(ctx context.Context, target string) (*websocket.Conn, error) {
	conn, resp, err := b.opts.Dialer.DialContext(ctx, target, b.opts.Header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn, err
}

// setConn records the live connection. It reports false when the binding
// was closed meanwhile.
func (b *Binding) setConn(conn *websocket.Conn) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if conn != nil && b.closed {
		return false
	}
	b.conn = conn
	return true
}

// serve pumps the queue into conn until the connection fails or ctx ends.
func (b *Binding) serve(ctx context.Context, conn *websocket.Conn, inbound transport.InboundHandler) {
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		for {
			kind, payload, err := conn.ReadMessage()
			if err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && ctx.Err() == nil {
					b.opts.Logger.Debug("Websocket read ended", watermill.LogFields{"error": err.Error()})
				}
				return
			}
			if kind == websocket.TextMessage || kind == websocket.BinaryMessage {
				inbound(payload)
			}
		}
	}()

	defer func() {
		_ = conn.Close()
		<-readerDone
	}()

	for {
		if b.pending == nil {
			select {
			case <-ctx.Done():
				return
			case <-readerDone:
				return
			case b.pending = <-b.queue:
			}
		}

		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, b.pending); err != nil {
			b.opts.Logger.Error("Websocket write failed, will resend after reconnect", err, nil)
			return
		}
		b.pending = nil
	}
}
