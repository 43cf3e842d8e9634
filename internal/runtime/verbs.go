package runtime

import (
	"github.com/drblury/relay/internal/runtime/request"
)

// Get reads resource.
func (d *Dispatcher) Get(resource string, cfg *request.Config) (*Request, error) {
	return d.verb(request.MethodGet, resource, cfg)
}

// Remove deletes resource. It is sent with the "delete" verb.
func (d *Dispatcher) Remove(resource string, cfg *request.Config) (*Request, error) {
	return d.verb(request.MethodRemove, resource, cfg)
}

// Create posts cfg.Data to resource.
func (d *Dispatcher) Create(resource string, cfg *request.Config) (*Request, error) {
	return d.verb(request.MethodPost, resource, cfg)
}

// Update puts cfg.Data to resource.
func (d *Dispatcher) Update(resource string, cfg *request.Config) (*Request, error) {
	return d.verb(request.MethodPut, resource, cfg)
}

// Patch patches resource with cfg.Data.
func (d *Dispatcher) Patch(resource string, cfg *request.Config) (*Request, error) {
	return d.verb(request.MethodPatch, resource, cfg)
}

// verb copies cfg so the caller's value is never modified. A nil cfg means
// no parameters, data or headers.
func (d *Dispatcher) verb(method, resource string, cfg *request.Config) (*Request, error) {
	c := cfg.Clone()
	c.Method = method
	c.Resource = resource
	return d.Send(c)
}
