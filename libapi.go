package relay

import (
	"context"
	"fmt"
	"strings"

	runtimepkg "github.com/drblury/relay/internal/runtime"
	backoffpkg "github.com/drblury/relay/internal/runtime/backoff"
	configpkg "github.com/drblury/relay/internal/runtime/config"
	errspkg "github.com/drblury/relay/internal/runtime/errors"
	idspkg "github.com/drblury/relay/internal/runtime/ids"
	loggingpkg "github.com/drblury/relay/internal/runtime/logging"
	requestpkg "github.com/drblury/relay/internal/runtime/request"
	resourcepkg "github.com/drblury/relay/internal/runtime/resource"
	"github.com/drblury/relay/internal/runtime/wire"
	"github.com/drblury/relay/transport"
	"github.com/drblury/relay/transport/pubsub"
	"github.com/drblury/relay/transport/websocket"

	// Register every broker with the default transport registry.
	_ "github.com/drblury/relay/transport/transports"
)

type (
	Config                 = configpkg.Config
	Dispatcher             = runtimepkg.Dispatcher
	DispatcherDependencies = runtimepkg.DispatcherDependencies
	Request                = runtimepkg.Request
	Subscription           = runtimepkg.Subscription
	RequestConfig          = requestpkg.Config
	Message                = wire.Message

	Middleware             = runtimepkg.Middleware
	Next                   = runtimepkg.Next
	MiddlewareBuilder      = runtimepkg.MiddlewareBuilder
	MiddlewareRegistration = runtimepkg.MiddlewareRegistration
	Chain                  = runtimepkg.Chain
	DispatcherMetrics      = runtimepkg.DispatcherMetrics

	// Exchange lifecycle hooks
	ExchangeContext = runtimepkg.ExchangeContext
	ExchangeHooks   = runtimepkg.ExchangeHooks

	Binding        = transport.Binding
	InboundHandler = transport.InboundHandler

	// Broker transports
	Transport             = transport.Transport
	TransportBuilder      = transport.Builder
	TransportConfig       = transport.Config
	TransportRegistry     = transport.Registry
	TransportCapabilities = transport.Capabilities

	Backoff = backoffpkg.Calculator

	LogFields     = loggingpkg.LogFields
	ServiceLogger = loggingpkg.ServiceLogger

	InvalidParamsError = errspkg.InvalidParamsError
)

var (
	NewDispatcher  = runtimepkg.NewDispatcher
	ValidateConfig = configpkg.ValidateConfig

	DefaultRequestMiddlewares  = runtimepkg.DefaultRequestMiddlewares
	DefaultResponseMiddlewares = runtimepkg.DefaultResponseMiddlewares
	PassthroughMiddleware      = runtimepkg.PassthroughMiddleware
	LogMessagesMiddleware      = runtimepkg.LogMessagesMiddleware
	TracerMiddleware           = runtimepkg.TracerMiddleware
	MetricsMiddleware          = runtimepkg.MetricsMiddleware
	RecovererMiddleware        = runtimepkg.RecovererMiddleware
	HeadersMiddleware          = runtimepkg.HeadersMiddleware

	LoggingHooks = runtimepkg.LoggingHooks
	LatencyHooks = runtimepkg.LatencyHooks

	NewDispatcherMetrics = runtimepkg.NewDispatcherMetrics

	ValidateResource  = resourcepkg.Validate
	NewRequestBuilder = requestpkg.NewBuilder

	RetryDelay = backoffpkg.Delay

	// Broker registry. Every broker shipped with relay is registered on import.
	DefaultTransportRegistry = transport.DefaultRegistry
	RegisterTransport        = transport.Register
	BuildTransport           = transport.Build

	NewWebSocketBinding = websocket.New
	NewPubSubBinding    = pubsub.New

	EncodeMessage = wire.Encode
	DecodeMessage = wire.Decode

	ErrInvalidConfig   = errspkg.ErrInvalidConfig
	ErrInvalidParams   = errspkg.ErrInvalidParams
	ErrNotBound        = errspkg.ErrNotBound
	ErrBindingRequired = errspkg.ErrBindingRequired
	ErrConfigRequired  = errspkg.ErrConfigRequired
	ErrLoggerRequired  = errspkg.ErrLoggerRequired

	NewSlogServiceLogger      = loggingpkg.NewSlogServiceLogger
	NewWatermillServiceLogger = loggingpkg.NewWatermillServiceLogger
	NewWatermillAdapter       = loggingpkg.NewWatermillAdapter
	NopLogger                 = loggingpkg.NopLogger

	NewCorrelationID = idspkg.NewCorrelationID
	CreateULID       = idspkg.CreateULID
)

// Verbs accepted in RequestConfig.Method.
const (
	MethodGet    = requestpkg.MethodGet
	MethodDelete = requestpkg.MethodDelete
	MethodRemove = requestpkg.MethodRemove
	MethodPost   = requestpkg.MethodPost
	MethodPut    = requestpkg.MethodPut
	MethodPatch  = requestpkg.MethodPatch
)

// Transport kinds selected by Config.Transport.
const (
	TransportWebSocket = configpkg.TransportWebSocket
	TransportChannel   = configpkg.TransportChannel
)

// NewBinding creates the binding selected by cfg.Transport: the websocket
// client for "websocket" (the default) and a pub/sub binding over the named
// broker otherwise.
func NewBinding(ctx context.Context, cfg *Config, logger ServiceLogger) (Binding, error) {
	if cfg == nil {
		return nil, ErrConfigRequired
	}
	if logger == nil {
		return nil, ErrLoggerRequired
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("binding config: %w", err)
	}

	c := cfg.WithDefaults()
	adapter := loggingpkg.NewWatermillAdapter(logger)

	if strings.EqualFold(c.Transport, TransportWebSocket) {
		return websocket.NewFromConfig(&c, adapter), nil
	}

	b, err := pubsub.Build(ctx, &c, pubsub.Options{
		RequestTopic: c.RequestTopic,
		ReplyTopic:   c.ReplyTopic,
		Logger:       adapter,
	})
	if err != nil {
		return nil, fmt.Errorf("build %s binding: %w", c.Transport, err)
	}
	return b, nil
}

// Connect creates a dispatcher and binds it to the binding selected by cfg,
// opened with cfg.URL.
func Connect(ctx context.Context, cfg *Config, logger ServiceLogger, deps DispatcherDependencies) (*Dispatcher, error) {
	d, err := NewDispatcher(cfg, logger, deps)
	if err != nil {
		return nil, err
	}
	b, err := NewBinding(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	if err := d.Bind(b, cfg.URL); err != nil {
		_ = b.Close()
		return nil, err
	}
	return d, nil
}
