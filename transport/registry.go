package transport

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
)

// ErrNoBroker is returned by Build when the config names no broker.
var ErrNoBroker = errors.New("no broker selected")

type broker struct {
	build Builder
	caps  Capabilities
}

// Registry maps broker names to their builders and capabilities. Names are
// case-insensitive, matching config validation.
type Registry struct {
	mu      sync.RWMutex
	brokers map[string]broker
}

// DefaultRegistry is the global broker registry.
var DefaultRegistry = NewRegistry()

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{brokers: make(map[string]broker)}
}

func brokerName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Register adds a builder under name with capabilities that only carry the
// name, replacing any previous entry.
func (r *Registry) Register(name string, builder Builder) {
	r.RegisterWithCapabilities(name, builder, Capabilities{})
}

// RegisterWithCapabilities adds a builder and its capabilities.
func (r *Registry) RegisterWithCapabilities(name string, builder Builder, caps Capabilities) {
	name = brokerName(name)
	if caps.Name == "" {
		caps.Name = name
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.brokers[name] = broker{build: builder, caps: caps}
}

// Lookup returns the capabilities of a registered broker.
func (r *Registry) Lookup(name string) (Capabilities, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.brokers[brokerName(name)]
	return b.caps, ok
}

// GetCapabilities returns the capabilities for a registered broker, or a zero
// Capabilities carrying only the name when it is unknown.
func (r *Registry) GetCapabilities(name string) Capabilities {
	if caps, ok := r.Lookup(name); ok {
		return caps
	}
	return Capabilities{Name: brokerName(name)}
}

// Build creates the transport of the broker named by cfg.GetTransport(). The
// result carries the broker's registered capabilities unless the builder set
// its own.
func (r *Registry) Build(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error) {
	if cfg == nil {
		return Transport{}, fmt.Errorf("config is required")
	}

	name := brokerName(cfg.GetTransport())
	if name == "" {
		return Transport{}, ErrNoBroker
	}

	r.mu.RLock()
	b, ok := r.brokers[name]
	known := r.names()
	r.mu.RUnlock()

	if !ok {
		return Transport{}, fmt.Errorf("unknown transport: %q (registered: %s)", name, strings.Join(known, ", "))
	}

	tr, err := b.build(ctx, cfg, logger)
	if err != nil {
		return Transport{}, fmt.Errorf("build %s transport: %w", name, err)
	}
	if tr.Capabilities.Name == "" {
		tr.Capabilities = b.caps
	}
	return tr, nil
}

// names must be called with r.mu held.
func (r *Registry) names() []string {
	names := make([]string, 0, len(r.brokers))
	for name := range r.brokers {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Register adds a builder to the default registry.
func Register(name string, builder Builder) {
	DefaultRegistry.Register(name, builder)
}

// RegisterWithCapabilities adds a builder and its capabilities to the default registry.
func RegisterWithCapabilities(name string, builder Builder, caps Capabilities) {
	DefaultRegistry.RegisterWithCapabilities(name, builder, caps)
}

// Build creates a transport using the default registry.
func Build(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error) {
	return DefaultRegistry.Build(ctx, cfg, logger)
}

// GetCapabilities looks up capabilities in the default registry.
func GetCapabilities(name string) Capabilities {
	return DefaultRegistry.GetCapabilities(name)
}
