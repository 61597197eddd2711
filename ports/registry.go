package ports

// ProcessorFactory creates a processor instance from loader-supplied
// parameters. Each processor type referenced by a declarative graph
// must have a factory registered under that type name.
type ProcessorFactory[Req any] func(id string, params map[string]any) (Processor[Req], error)

// ProcessorRegistry resolves the symbolic names used in declarative
// graph documents into executable collaborators. It acts as the factory
// layer between configuration and the compile step.
type ProcessorRegistry[Req any] interface {
	// CreateProcessor instantiates a processor of the given type.
	// The params map is type-specific and is validated by the factory.
	CreateProcessor(processorType, id string, params map[string]any) (Processor[Req], error)

	// RegisterFactory registers a factory for a processor type,
	// allowing new types to be added by the embedding application.
	RegisterFactory(processorType string, factory ProcessorFactory[Req]) error

	// LookupPredicate resolves a named edge predicate.
	LookupPredicate(name string) (EdgePredicate[Req], bool)

	// RegisterPredicate registers a named edge predicate for use in
	// declarative route conditions.
	RegisterPredicate(name string, predicate EdgePredicate[Req]) error

	// LookupFallback resolves a named fallback strategy.
	LookupFallback(name string) (FallbackStrategy[Req], bool)

	// RegisterFallback registers a named fallback strategy for use in
	// declarative governance blocks.
	RegisterFallback(name string, fallback FallbackStrategy[Req]) error

	// SupportedTypes returns all registered processor type names.
	// This is useful for validation and documentation purposes.
	SupportedTypes() []string
}
