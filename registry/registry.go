// Package registry holds named capabilities of a single kind in
// registration order.
//
// A Registry is populated while a server is being constructed and is
// read-only afterwards, so lookups need no synchronization.
package registry

import "fmt"

// Kind names a capability family.
type Kind string

const (
	KindTool     Kind = "tool"
	KindResource Kind = "resource"
	KindPrompt   Kind = "prompt"
)

// Capability is anything addressable by a unique name within its kind.
type Capability interface {
	CapabilityName() string
}

// DuplicateNameError is returned when registering a name twice.
type DuplicateNameError struct {
	Kind Kind
	Name string
}

func (e *DuplicateNameError) Error() string {
	return fmt.Sprintf("duplicate %s: %s", e.Kind, e.Name)
}

// NotFoundError is returned when resolving an unknown name.
type NotFoundError struct {
	Kind Kind
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("Unknown %s: %s", e.Kind, e.Name)
}

// Registry is an ordered name-to-capability mapping.
type Registry[T Capability] struct {
	kind  Kind
	items []T
	index map[string]int
}

// New creates an empty registry for the given kind.
func New[T Capability](kind Kind) *Registry[T] {
	return &Registry[T]{kind: kind, index: make(map[string]int)}
}

// Kind reports the capability kind held by the registry.
func (r *Registry[T]) Kind() Kind { return r.kind }

// Register appends c. It fails with *DuplicateNameError if the name is taken.
func (r *Registry[T]) Register(c T) error {
	name := c.CapabilityName()
	if _, exists := r.index[name]; exists {
		return &DuplicateNameError{Kind: r.kind, Name: name}
	}
	r.index[name] = len(r.items)
	r.items = append(r.items, c)
	return nil
}

// List returns every capability in registration order. The returned slice
// is a copy.
func (r *Registry[T]) List() []T {
	return append([]T(nil), r.items...)
}

// Resolve returns the capability registered under name or *NotFoundError.
func (r *Registry[T]) Resolve(name string) (T, error) {
	if i, ok := r.index[name]; ok {
		return r.items[i], nil
	}
	var zero T
	return zero, &NotFoundError{Kind: r.kind, Name: name}
}

// Len returns the number of registered capabilities.
func (r *Registry[T]) Len() int { return len(r.items) }
