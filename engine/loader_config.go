package engine

import (
	"gopkg.in/yaml.v3"
)

// GraphDocument is the declarative YAML specification of a graph and
// serves as the configuration entry point for applications that define
// their topologies outside of code. A document names processors,
// predicates, and fallbacks symbolically; a ProcessorRegistry resolves
// them into executable collaborators at load time.
type GraphDocument struct {
	// Version specifies the document schema version using semantic
	// versioning to ensure compatibility across system updates.
	Version string `yaml:"version" validate:"required,semver"`
	// Metadata contains descriptive information about the graph
	// including name, tags, and labels for organization and discovery.
	Metadata DocMetadata `yaml:"metadata" validate:"required"`
	// Nodes defines the individual compute units that will execute
	// within this graph, each with their own parameters and governance.
	Nodes []NodeConfig `yaml:"nodes" validate:"required,min=1,dive"`
	// Routes specifies the directed dependencies between nodes,
	// optionally gated by named predicates.
	Routes []RouteConfig `yaml:"routes" validate:"dive"`
	// Settings carries the graph-wide execution options.
	Settings SettingsConfig `yaml:"settings"`
}

// DocMetadata provides descriptive information about a graph to support
// organization, discovery, and operational management.
type DocMetadata struct {
	// Name is the human-readable identifier for this graph and labels
	// it in logs, metrics, and traces.
	Name string `yaml:"name" validate:"required,min=1,max=255"`
	// Description provides a detailed explanation of the graph's
	// purpose and intended use cases.
	Description string `yaml:"description" validate:"max=1000"`
	// Tags are categorical labels that enable filtering and grouping
	// of graphs by functional domain or operational characteristics.
	Tags []string `yaml:"tags" validate:"max=20,dive,min=1,max=50"`
	// Labels are arbitrary key-value pairs that provide flexible
	// metadata for integration with external systems.
	Labels map[string]string `yaml:"labels" validate:"max=50"`
}

// NodeConfig defines a single compute unit within a graph document.
type NodeConfig struct {
	// ID is the unique identifier for this node within the graph.
	ID string `yaml:"id" validate:"required,alphanum,min=1,max=100"`
	// Type names the processor factory to instantiate, as registered
	// with the ProcessorRegistry.
	Type string `yaml:"type" validate:"required,min=1,max=100"`
	// Params contains type-specific configuration as flexible YAML
	// that the processor factory validates.
	Params yaml.Node `yaml:"params"`
	// Governance configures the node's resilience knobs. When omitted,
	// the document's default governance applies.
	Governance *GovernanceConfig `yaml:"governance,omitempty"`
}

// GovernanceConfig declares the per-node control knobs in document
// form. Durations are Go duration strings ("200ms", "1.5s").
type GovernanceConfig struct {
	// Timeout caps the node task's wall-time. Empty means no deadline.
	Timeout string `yaml:"timeout,omitempty" validate:"omitempty,duration"`
	// MaxRetries is the number of synchronous retry attempts after the
	// first failure, where 0 disables retries entirely.
	MaxRetries int `yaml:"max_retries,omitempty" validate:"min=0,max=10"`
	// RetryBackoff is the pause between retry attempts.
	RetryBackoff string `yaml:"retry_backoff,omitempty" validate:"omitempty,duration"`
	// Fallback names a registered fallback strategy invoked on any
	// task-level error.
	Fallback string `yaml:"fallback,omitempty" validate:"omitempty,min=1,max=100"`
	// Condition names a registered predicate that gates the node's
	// body after all incoming route predicates passed.
	Condition string `yaml:"condition,omitempty" validate:"omitempty,min=1,max=100"`
}

// RouteConfig establishes a directed dependency between two nodes,
// optionally gated by a named predicate.
type RouteConfig struct {
	// From identifies the parent node that must complete before the
	// target node can begin execution.
	From string `yaml:"from" validate:"required,alphanum"`
	// To identifies the child node that receives the parent's result.
	To string `yaml:"to" validate:"required,alphanum"`
	// When names a registered predicate evaluated at runtime; the
	// route is unconditional when omitted.
	When string `yaml:"when,omitempty" validate:"omitempty,min=1,max=100"`
}

// SettingsConfig carries the graph-wide execution options of a
// document.
type SettingsConfig struct {
	// GlobalTimeout caps the wall-time of a whole invocation. Empty
	// defers to the engine default.
	GlobalTimeout string `yaml:"global_timeout,omitempty" validate:"omitempty,duration"`
	// DefaultGovernance applies to every node that declares none of
	// its own.
	DefaultGovernance *GovernanceConfig `yaml:"default_governance,omitempty"`
}
