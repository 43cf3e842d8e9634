package runtime

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/drblury/relay/internal/runtime/config"
	errspkg "github.com/drblury/relay/internal/runtime/errors"
	idspkg "github.com/drblury/relay/internal/runtime/ids"
	loggingpkg "github.com/drblury/relay/internal/runtime/logging"
	"github.com/drblury/relay/internal/runtime/request"
	"github.com/drblury/relay/internal/runtime/wire"
	"github.com/drblury/relay/transport"
)

// StreamBuffer is the channel capacity used by Request.Stream.
const StreamBuffer = 16

// DispatcherDependencies carries optional collaborators for NewDispatcher.
type DispatcherDependencies struct {
	// Middlewares are appended after the defaults (or used alone when
	// DisableDefaultMiddlewares is set).
	Middlewares               Chain
	DisableDefaultMiddlewares bool
	// IDGenerator replaces the UUIDv4 correlation ID source.
	IDGenerator idspkg.Generator
	// Registerer receives the Prometheus collectors when metrics are enabled.
	// Defaults to prometheus.DefaultRegisterer.
	Registerer prometheus.Registerer
	// Hooks observe every exchange.
	Hooks ExchangeHooks
}

// Dispatcher correlates requests written to a transport binding with the
// responses read back from it.
type Dispatcher struct {
	Conf   *config.Config
	Logger loggingpkg.ServiceLogger

	builder       *request.Builder
	metrics       *DispatcherMetrics
	hooks         ExchangeHooks
	requestChain  []Middleware
	responseChain []Middleware

	mu         sync.Mutex
	binding    transport.Binding
	generation uint64
	entries    map[string]*Subscription

	// delivering counts inbound payloads being handled on binding goroutines.
	delivering atomic.Int32
}

// NewDispatcher validates conf and assembles the middleware chains.
func NewDispatcher(conf *config.Config, log loggingpkg.ServiceLogger, deps DispatcherDependencies) (*Dispatcher, error) {
	if conf == nil {
		return nil, errspkg.ErrConfigRequired
	}
	if log == nil {
		return nil, errspkg.ErrLoggerRequired
	}
	if err := conf.Validate(); err != nil {
		return nil, fmt.Errorf("dispatcher config: %w", err)
	}

	c := conf.WithDefaults()
	d := &Dispatcher{
		Conf:    &c,
		Logger:  log,
		hooks:   deps.Hooks,
		entries: make(map[string]*Subscription),
	}

	var opts []request.Option
	if deps.IDGenerator != nil {
		opts = append(opts, request.WithGenerator(deps.IDGenerator))
	}
	d.builder = request.NewBuilder(c.DefaultHeaders, opts...)

	if c.MetricsEnabled {
		d.metrics = NewDispatcherMetrics(c.MetricsNamespace, deps.Registerer)
		if err := d.metrics.Register(); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}

	var reqRegs, respRegs []MiddlewareRegistration
	if !deps.DisableDefaultMiddlewares {
		reqRegs = DefaultRequestMiddlewares()
		respRegs = DefaultResponseMiddlewares()
	}
	reqRegs = append(reqRegs, deps.Middlewares.Request...)
	respRegs = append(respRegs, deps.Middlewares.Response...)

	var err error
	if d.requestChain, err = buildChain(d, reqRegs); err != nil {
		return nil, fmt.Errorf("request chain: %w", err)
	}
	if d.responseChain, err = buildChain(d, respRegs); err != nil {
		return nil, fmt.Errorf("response chain: %w", err)
	}

	return d, nil
}

// Bind attaches b and opens it with url. A previously attached binding is
// closed first and anything it still delivers is ignored. Outstanding
// subscriptions stay registered and can be answered over the new binding.
// Called while a response is being delivered, the previous binding is closed
// in the background.
func (d *Dispatcher) Bind(b transport.Binding, url string) error {
	if b == nil {
		return errspkg.ErrBindingRequired
	}

	d.mu.Lock()
	prev := d.binding
	d.binding = nil
	d.generation++
	gen := d.generation
	d.mu.Unlock()

	if prev != nil {
		if err := d.closeBinding(prev); err != nil {
			d.Logger.Error("Failed to close previous binding", err, nil)
		}
	}

	if err := b.Open(url, func(payload []byte) { d.receive(gen, payload) }); err != nil {
		return fmt.Errorf("open binding: %w", err)
	}

	d.mu.Lock()
	current := d.generation == gen
	if current {
		d.binding = b
	}
	d.mu.Unlock()

	if !current {
		// Another Bind or Unbind won the race.
		return d.closeBinding(b)
	}

	d.Logger.Debug("Transport binding attached", loggingpkg.LogFields{"url": url})
	return nil
}

// Unbind closes the binding and discards every correlation entry. Called
// while a response is being delivered, the binding is closed in the
// background and Unbind returns without waiting for it.
func (d *Dispatcher) Unbind() error {
	d.mu.Lock()
	prev := d.binding
	d.binding = nil
	d.generation++
	entries := d.entries
	d.entries = make(map[string]*Subscription)
	d.mu.Unlock()

	for _, sub := range entries {
		sub.finish()
	}
	d.metrics.addOutstanding(-len(entries))

	if prev == nil {
		return nil
	}
	return d.closeBinding(prev)
}

// closeBinding closes b, or hands it to a goroutine when a delivery is in
// flight: bindings wait for their delivery goroutine on Close, and that
// goroutine may be the caller.
func (d *Dispatcher) closeBinding(b transport.Binding) error {
	if d.delivering.Load() == 0 {
		return b.Close()
	}
	go func() {
		if err := b.Close(); err != nil {
			d.Logger.Error("Failed to close binding", err, nil)
		}
	}()
	return nil
}

// Reset unbinds and ignores any close error.
func (d *Dispatcher) Reset() {
	_ = d.Unbind()
}

// Bound reports whether a binding is attached.
func (d *Dispatcher) Bound() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.binding != nil
}

// Outstanding returns the number of live correlation entries.
func (d *Dispatcher) Outstanding() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}

// Send validates cfg and returns a cold request. Nothing is written until
// the request is subscribed; each subscription is a separate exchange with
// its own correlation ID.
func (d *Dispatcher) Send(cfg *request.Config) (*Request, error) {
	if err := d.builder.Check(cfg); err != nil {
		return nil, err
	}
	cloned := cfg.Clone()
	return &Request{
		d:      d,
		cfg:    cloned,
		method: request.NormalizeMethod(cloned.Method),
	}, nil
}

// Deliver routes msg to the subscription named by its correlation ID through
// the response chain. It reports false when msg was dropped. Bindings reach
// it through Bind; request middleware may call it to answer locally.
func (d *Dispatcher) Deliver(msg wire.Message) bool {
	id, ok := msg.CorrelationID()
	if !ok {
		d.drop(DropNoCorrelation, nil)
		return false
	}

	d.mu.Lock()
	sub := d.entries[id]
	d.mu.Unlock()

	if sub == nil {
		d.drop(DropUnknown, loggingpkg.LogFields{"correlation_id": id})
		return false
	}

	runChain(d.responseChain, 0, msg, sub.deliver)
	return true
}

// subscriptionResource returns the resource the subscription registered
// under id was sent to.
func (d *Dispatcher) subscriptionResource(id string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	sub, ok := d.entries[id]
	if !ok {
		return "", false
	}
	return sub.resource, true
}

func (d *Dispatcher) receive(gen uint64, payload []byte) {
	d.delivering.Add(1)
	defer d.delivering.Add(-1)

	d.mu.Lock()
	stale := gen != d.generation
	d.mu.Unlock()
	if stale {
		d.drop(DropStale, nil)
		return
	}

	msg, err := wire.Decode(payload)
	if err != nil {
		d.drop(DropUndecodable, loggingpkg.LogFields{"error": err.Error()})
		return
	}
	d.Deliver(msg)
}

func (d *Dispatcher) drop(reason string, fields loggingpkg.LogFields) {
	d.metrics.recordDrop(reason)
	if fields == nil {
		fields = loggingpkg.LogFields{}
	}
	fields["reason"] = reason
	d.Logger.Debug("Dropped inbound message", fields)
}

// register adds sub unless the dispatcher is unbound. The check and the
// insert share the lock so Unbind cannot slip in between.
func (d *Dispatcher) register(sub *Subscription) bool {
	d.mu.Lock()
	if d.binding == nil {
		d.mu.Unlock()
		return false
	}
	d.entries[sub.id] = sub
	d.mu.Unlock()
	d.metrics.addOutstanding(1)
	return true
}

func (d *Dispatcher) unregister(sub *Subscription) {
	d.mu.Lock()
	removed := d.entries[sub.id] == sub
	if removed {
		delete(d.entries, sub.id)
	}
	d.mu.Unlock()
	if removed {
		d.metrics.addOutstanding(-1)
	}
	sub.finish()
}

// write is the terminal step of the request chain.
func (d *Dispatcher) write(method string, msg wire.Message) {
	id, _ := msg.CorrelationID()
	fields := loggingpkg.LogFields{"resource": msg.Resource(), "correlation_id": id}

	payload, err := wire.Encode(msg)
	if err != nil {
		d.metrics.recordWriteError(method)
		d.Logger.Error("Failed to encode request", err, fields)
		return
	}

	d.mu.Lock()
	b := d.binding
	d.mu.Unlock()
	if b == nil {
		d.metrics.recordWriteError(method)
		d.Logger.Error("Request not written", errspkg.ErrNotBound, fields)
		return
	}

	if err := b.Write(payload); err != nil {
		d.metrics.recordWriteError(method)
		d.Logger.Error("Transport binding rejected request", err, fields)
		return
	}
	d.metrics.recordRequest(method)
}

// Request is a validated, not yet sent request.
type Request struct {
	d      *Dispatcher
	cfg    *request.Config
	method string
}

// Subscribe sends the request and calls fn for every response carrying its
// correlation ID until Unsubscribe is called or the dispatcher is unbound.
// fn runs on the binding's goroutine and must not block it for long. It may
// call Unsubscribe, Bind, Unbind or Reset; a binding replaced from inside fn
// is closed in the background once fn returns.
func (r *Request) Subscribe(fn func(wire.Message)) (*Subscription, error) {
	sub := r.d.newSubscription(r.method)
	sub.fn = fn
	if err := r.start(sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// Stream sends the request and returns a channel of responses. The channel
// is closed when ctx ends, Unsubscribe is called or the dispatcher is
// unbound. A slow reader blocks the binding's delivery goroutine.
func (r *Request) Stream(ctx context.Context) (<-chan wire.Message, *Subscription, error) {
	sub := r.d.newSubscription(r.method)
	out := make(chan wire.Message, StreamBuffer)

	var mu sync.Mutex
	closed := false
	sub.fn = func(msg wire.Message) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case out <- msg:
		case <-ctx.Done():
		case <-sub.done:
		}
	}

	if err := r.start(sub); err != nil {
		return nil, nil, err
	}

	go func() {
		select {
		case <-ctx.Done():
			sub.Unsubscribe()
		case <-sub.done:
		}
		mu.Lock()
		closed = true
		close(out)
		mu.Unlock()
	}()

	return out, sub, nil
}

func (r *Request) start(sub *Subscription) error {
	if !r.d.Bound() {
		return errspkg.ErrNotBound
	}

	msg, err := r.d.builder.Build(r.cfg)
	if err != nil {
		return err
	}
	sub.id, _ = msg.CorrelationID()
	sub.resource = msg.Resource()
	sub.startedAt = time.Now()

	if !r.d.register(sub) {
		sub.abort()
		return errspkg.ErrNotBound
	}
	runChain(r.d.requestChain, 0, msg, func(out wire.Message) {
		r.d.hooks.send(sub.exchange())
		r.d.write(r.method, out)
	})
	return nil
}

// Subscription is one request/response exchange.
type Subscription struct {
	d         *Dispatcher
	id        string
	method    string
	resource  string
	startedAt time.Time
	fn        func(wire.Message)
	responses atomic.Int64

	once sync.Once
	done chan struct{}
}

func (d *Dispatcher) newSubscription(method string) *Subscription {
	return &Subscription{d: d, method: method, done: make(chan struct{})}
}

// CorrelationID returns the identifier sent in the request header.
func (s *Subscription) CorrelationID() string {
	return s.id
}

// Done is closed once the subscription stops receiving responses.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Unsubscribe removes the correlation entry. Later responses are dropped.
func (s *Subscription) Unsubscribe() {
	s.d.unregister(s)
}

func (s *Subscription) finish() {
	s.once.Do(func() {
		close(s.done)
		if s.id != "" {
			s.d.hooks.done(s.exchange())
		}
	})
}

// abort ends a subscription that was never registered, without hooks.
func (s *Subscription) abort() {
	s.once.Do(func() { close(s.done) })
}

func (s *Subscription) exchange() ExchangeContext {
	ctx := ExchangeContext{
		CorrelationID: s.id,
		Resource:      s.resource,
		Method:        s.method,
		StartedAt:     s.startedAt,
		Responses:     int(s.responses.Load()),
	}
	if !s.startedAt.IsZero() {
		ctx.Duration = time.Since(s.startedAt)
	}
	return ctx
}

func (s *Subscription) deliver(msg wire.Message) {
	select {
	case <-s.done:
		return
	default:
	}
	s.d.metrics.recordResponse(s.method)
	s.responses.Add(1)
	if s.fn != nil {
		s.fn(msg)
	}
	s.d.hooks.response(s.exchange(), msg)
}
