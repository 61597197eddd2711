package engine

import (
	"fmt"
	"sync"

	"github.com/ahrav/go-loom/ports"
)

// Registry manages processor factories and the named predicates and
// fallbacks referenced by declarative graph documents. It provides
// thread-safe registration and resolution, implementing the
// ports.ProcessorRegistry interface for the GraphLoader.
// The zero value is not usable; use NewRegistry to create instances.
type Registry[Req any] struct {
	mu         sync.RWMutex
	factories  map[string]ports.ProcessorFactory[Req]
	predicates map[string]ports.EdgePredicate[Req]
	fallbacks  map[string]ports.FallbackStrategy[Req]
}

// NewRegistry creates an empty registry. Register factories,
// predicates, and fallbacks before handing the registry to a loader.
func NewRegistry[Req any]() *Registry[Req] {
	return &Registry[Req]{
		factories:  make(map[string]ports.ProcessorFactory[Req]),
		predicates: make(map[string]ports.EdgePredicate[Req]),
		fallbacks:  make(map[string]ports.FallbackStrategy[Req]),
	}
}

// RegisterFactory adds a factory for a processor type. Duplicate
// registrations indicate a programming error and are rejected.
func (r *Registry[Req]) RegisterFactory(processorType string, factory ports.ProcessorFactory[Req]) error {
	if processorType == "" {
		return fmt.Errorf("processor type cannot be empty")
	}
	if factory == nil {
		return fmt.Errorf("factory for %q cannot be nil", processorType)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[processorType]; exists {
		return fmt.Errorf("processor type %q already registered", processorType)
	}
	r.factories[processorType] = factory
	return nil
}

// CreateProcessor creates a processor instance using the registered
// factory. Returns an error if the type is unknown or the ID is empty.
// Parameter validation is delegated to the factory implementation.
func (r *Registry[Req]) CreateProcessor(processorType, id string, params map[string]any) (ports.Processor[Req], error) {
	if id == "" {
		return nil, fmt.Errorf("node ID cannot be empty")
	}

	r.mu.RLock()
	factory, exists := r.factories[processorType]
	r.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("unknown processor type: %s", processorType)
	}
	return factory(id, params)
}

// RegisterPredicate adds a named edge predicate for use in route
// declarations.
func (r *Registry[Req]) RegisterPredicate(name string, predicate ports.EdgePredicate[Req]) error {
	if name == "" {
		return fmt.Errorf("predicate name cannot be empty")
	}
	if predicate == nil {
		return fmt.Errorf("predicate %q cannot be nil", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.predicates[name]; exists {
		return fmt.Errorf("predicate %q already registered", name)
	}
	r.predicates[name] = predicate
	return nil
}

// LookupPredicate resolves a named edge predicate.
func (r *Registry[Req]) LookupPredicate(name string) (ports.EdgePredicate[Req], bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	predicate, ok := r.predicates[name]
	return predicate, ok
}

// RegisterFallback adds a named fallback strategy for use in governance
// declarations.
func (r *Registry[Req]) RegisterFallback(name string, fallback ports.FallbackStrategy[Req]) error {
	if name == "" {
		return fmt.Errorf("fallback name cannot be empty")
	}
	if fallback == nil {
		return fmt.Errorf("fallback %q cannot be nil", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.fallbacks[name]; exists {
		return fmt.Errorf("fallback %q already registered", name)
	}
	r.fallbacks[name] = fallback
	return nil
}

// LookupFallback resolves a named fallback strategy.
func (r *Registry[Req]) LookupFallback(name string) (ports.FallbackStrategy[Req], bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	fallback, ok := r.fallbacks[name]
	return fallback, ok
}

// SupportedTypes returns all registered processor types.
// The returned slice is a copy and can be safely modified.
func (r *Registry[Req]) SupportedTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.factories))
	for processorType := range r.factories {
		types = append(types, processorType)
	}
	return types
}

// Compile-time verification that Registry implements ProcessorRegistry.
var _ ports.ProcessorRegistry[any] = (*Registry[any])(nil)
