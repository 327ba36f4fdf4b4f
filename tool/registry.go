package tool

import (
	"errors"
	"fmt"
	"sync"

	"github.com/GCYYfun/MengLong-sub001/internal/schema"
	"github.com/GCYYfun/MengLong-sub001/logging"
)

// RegistryOptions configure a Registry.
type RegistryOptions struct {
	Logger logging.Logger
}

// Registry maps tool names to descriptors. It is safe for concurrent use;
// registration order is preserved for listing.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]*Descriptor
	order   []string
	deriver *schema.Deriver
	logger  logging.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry(optFns ...func(o *RegistryOptions)) *Registry {
	opts := RegistryOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}

	return &Registry{
		tools:   make(map[string]*Descriptor),
		deriver: schema.NewDeriver(),
		logger:  logging.OrNoOp(opts.Logger),
	}
}

// Register adds fn as a tool. The name defaults to the snake_case function
// identifier. Registering a name twice replaces the earlier tool and logs a
// warning.
func (r *Registry) Register(fn any, opts ...Option) (*Descriptor, error) {
	d, err := newDescriptor(r.deriver, fn, opts...)
	if err != nil {
		return nil, err
	}
	r.Add(d)
	return d, nil
}

// Tool returns a registrar bound to opts. r.Tool(opts...)(fn) registers
// exactly the same descriptor as r.Register(fn, opts...).
func (r *Registry) Tool(opts ...Option) func(fn any) (*Descriptor, error) {
	return func(fn any) (*Descriptor, error) {
		return r.Register(fn, opts...)
	}
}

// MustRegister is like Register but panics on error.
func (r *Registry) MustRegister(fn any, opts ...Option) *Descriptor {
	d, err := r.Register(fn, opts...)
	if err != nil {
		panic(fmt.Sprintf("tool: register: %v", err))
	}
	return d
}

// Add inserts a prepared descriptor.
func (r *Registry) Add(d *Descriptor) {
	for _, err := range d.SchemaErrors {
		var fe *schema.FieldError
		if errors.As(err, &fe) {
			r.logger.Warn("tool.schema.fallback", "tool", d.Name, "field", fe.Field, "type", fe.GoType, "error", fe.Err.Error())
			continue
		}
		r.logger.Warn("tool.schema.fallback", "tool", d.Name, "error", err.Error())
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[d.Name]; exists {
		r.logger.Warn("tool.register.overwrite", "tool", d.Name)
	} else {
		r.order = append(r.order, d.Name)
	}
	r.tools[d.Name] = d
}

// Unregister removes a tool. It reports whether the tool existed.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tools[name]; !ok {
		return false
	}
	delete(r.tools, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// Get looks up a tool by name.
func (r *Registry) Get(name string) (*Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.tools[name]
	return d, ok
}

// List returns the registered tools in registration order.
func (r *Registry) List() []*Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Descriptor, 0, len(r.order))
	for _, n := range r.order {
		out = append(out, r.tools[n])
	}
	return out
}

// Definitions returns the callable-free definitions of all tools.
func (r *Registry) Definitions() []Definition {
	list := r.List()
	out := make([]Definition, len(list))
	for i, d := range list {
		out[i] = d.Definition()
	}
	return out
}

// Names returns the registered tool names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Clear removes every tool.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools = make(map[string]*Descriptor)
	r.order = nil
}
