// Package request turns a verb, a resource path and its options into the
// canonical wire message.
package request

import (
	errspkg "github.com/drblury/relay/internal/runtime/errors"
	idspkg "github.com/drblury/relay/internal/runtime/ids"
	"github.com/drblury/relay/internal/runtime/resource"
	"github.com/drblury/relay/internal/runtime/wire"
)

// Verbs understood by the builder. MethodRemove is sent as MethodDelete.
const (
	MethodGet    = "get"
	MethodDelete = "delete"
	MethodRemove = "remove"
	MethodPost   = "post"
	MethodPut    = "put"
	MethodPatch  = "patch"
)

// Config describes a single request.
type Config struct {
	// Resource is the dotted resource path, for example "users.posts".
	Resource string
	// Method is the verb. "remove" is normalised to "delete".
	Method string
	// Parameters maps resource segments to identifiers. Every segment except
	// the last needs a truthy entry.
	Parameters map[string]any
	// Data becomes the body payload under the terminal segment key.
	Data any
	// ExtraResources are merged into the body next to the terminal payload.
	ExtraResources map[string]any
	// Headers are passed through verbatim, e.g. "api-version" or "authorization".
	Headers map[string]any
}

// Clone returns a copy of c whose maps can be modified independently.
func (c *Config) Clone() *Config {
	if c == nil {
		return &Config{}
	}
	cloned := *c
	if c.Parameters != nil {
		cloned.Parameters = wire.Merge(c.Parameters)
	}
	if c.ExtraResources != nil {
		cloned.ExtraResources = wire.Merge(c.ExtraResources)
	}
	if c.Headers != nil {
		cloned.Headers = wire.Merge(c.Headers)
	}
	return &cloned
}

// Option customises a Builder.
type Option func(*Builder)

// WithGenerator replaces the correlation ID source.
func WithGenerator(gen idspkg.Generator) Option {
	return func(b *Builder) {
		if gen != nil {
			b.ids = gen
		}
	}
}

// Builder produces wire messages. Default headers are fixed at construction and
// applied to every message before the per-request fields.
type Builder struct {
	defaultHeaders map[string]any
	ids            idspkg.Generator
}

// NewBuilder returns a Builder applying defaultHeaders to every request.
func NewBuilder(defaultHeaders map[string]any, opts ...Option) *Builder {
	b := &Builder{
		defaultHeaders: wire.Merge(defaultHeaders),
		ids:            idspkg.UUIDGenerator{},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Check runs the synchronous validation performed by Build without generating
// a correlation ID.
func (b *Builder) Check(cfg *Config) error {
	if cfg == nil || cfg.Resource == "" || cfg.Method == "" {
		return errspkg.ErrInvalidConfig
	}
	return resource.Validate(cfg.Resource, cfg.Parameters)
}

// Build validates cfg and composes the message. The header is the merge of the
// default headers, cfg.Headers, the parameters, the resource and finally the
// correlation ID. The body is cfg.ExtraResources with the terminal segment
// holding cfg.Data. cfg is not modified.
func (b *Builder) Build(cfg *Config) (wire.Message, error) {
	if err := b.Check(cfg); err != nil {
		return wire.Message{}, err
	}

	reserved := map[string]any{
		wire.HeaderResource: NormalizeMethod(cfg.Method) + resource.Separator + cfg.Resource,
	}
	if cfg.Parameters != nil {
		reserved[wire.HeaderParameters] = cfg.Parameters
	}

	header := wire.Merge(
		b.defaultHeaders,
		cfg.Headers,
		reserved,
		map[string]any{wire.HeaderCorrelationID: b.ids.NewCorrelationID()},
	)

	body := wire.Merge(
		cfg.ExtraResources,
		map[string]any{resource.Terminal(cfg.Resource): cfg.Data},
	)

	return wire.Message{Header: header, Body: body}, nil
}

// NormalizeMethod maps verb aliases onto their wire names.
func NormalizeMethod(method string) string {
	if method == MethodRemove {
		return MethodDelete
	}
	return method
}
