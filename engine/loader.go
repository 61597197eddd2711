package engine

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/singleflight"
	"gopkg.in/yaml.v3"

	"github.com/ahrav/go-loom/ports"
)

// GraphLoader provides YAML parsing, validation, and caching for graph
// documents, transforming declarative specifications into builder
// configurations ready for engine construction.
//
// Parsed and validated documents are cached by SHA-256 of the
// normalized document, so loading the same declaration twice skips
// validation. Each Load call builds a fresh GraphConfig from the cached
// document; the returned configuration is the caller's to finish
// (worker pool, terminal strategy) and hand to New.
type GraphLoader[Req, Res any] struct {
	// validator performs struct field validation and custom validation
	// rules for graph documents and their nested components.
	validator *validator.Validate
	// registry resolves the symbolic processor, predicate, and
	// fallback names a document references.
	registry ports.ProcessorRegistry[Req]
	// cache stores validated documents indexed by SHA-256 hash of the
	// normalized YAML to avoid re-validating identical declarations.
	cache map[string]*GraphDocument
	// cacheMu provides thread-safe access to the cache map during
	// concurrent read and write operations.
	cacheMu sync.RWMutex
	// sf prevents duplicate validation when multiple goroutines load
	// the same document simultaneously.
	sf singleflight.Group
}

// NewGraphLoader creates a loader backed by the given registry, with
// validation capabilities and an empty cache.
// NewGraphLoader returns an error if validator registration fails.
func NewGraphLoader[Req, Res any](registry ports.ProcessorRegistry[Req]) (*GraphLoader[Req, Res], error) {
	if registry == nil {
		return nil, fmt.Errorf("registry cannot be nil")
	}

	v := validator.New()
	if err := registerDocumentValidators(v); err != nil {
		return nil, fmt.Errorf("failed to register validators: %w", err)
	}

	return &GraphLoader[Req, Res]{
		validator: v,
		registry:  registry,
		cache:     make(map[string]*GraphDocument),
	}, nil
}

// LoadFromFile loads a graph declaration from a YAML file and builds a
// configuration from it.
func (gl *GraphLoader[Req, Res]) LoadFromFile(ctx context.Context, path string) (*GraphConfig[Req, Res], error) {
	// Clean the path lexically; this does not restrict which directory
	// the file is read from.
	cleanPath := filepath.Clean(path)

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return gl.Load(ctx, data)
}

// LoadFromReader loads a graph declaration from any io.Reader.
func (gl *GraphLoader[Req, Res]) LoadFromReader(ctx context.Context, r io.Reader) (*GraphConfig[Req, Res], error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read data: %w", err)
	}
	return gl.Load(ctx, data)
}

// Load parses, validates, and resolves a YAML graph declaration. The
// parse and validation steps are cached and deduplicated; the builder
// configuration is constructed fresh on every call so callers can
// finish and compile it independently.
func (gl *GraphLoader[Req, Res]) Load(_ context.Context, data []byte) (*GraphConfig[Req, Res], error) {
	doc, err := gl.parseYAML(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	hash, err := gl.documentHash(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to calculate hash: %w", err)
	}

	// Use singleflight so only one goroutine validates a given
	// document while others wait for its verdict.
	v, err, _ := gl.sf.Do(hash, func() (any, error) {
		if cached, ok := gl.cachedDocument(hash); ok {
			return cached, nil
		}
		if err := gl.validateDocument(doc); err != nil {
			return nil, fmt.Errorf("validation failed: %w", err)
		}
		gl.cacheDocument(hash, doc)
		return doc, nil
	})
	if err != nil {
		return nil, err
	}

	return gl.buildConfig(v.(*GraphDocument))
}

// parseYAML unmarshals YAML data into a GraphDocument using strict
// decoding, so unknown fields fail loudly instead of being silently
// ignored.
func (gl *GraphLoader[Req, Res]) parseYAML(data []byte) (*GraphDocument, error) {
	var doc GraphDocument
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)

	if err := decoder.Decode(&doc); err != nil {
		return nil, fmt.Errorf("YAML decode failed: %w", err)
	}
	return &doc, nil
}

// documentHash fingerprints the normalized document rather than the raw
// bytes, so formatting-only differences hit the same cache entry.
func (gl *GraphLoader[Req, Res]) documentHash(doc *GraphDocument) (string, error) {
	normalized, err := yaml.Marshal(doc)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(normalized)
	return hex.EncodeToString(sum[:]), nil
}

func (gl *GraphLoader[Req, Res]) cachedDocument(hash string) (*GraphDocument, bool) {
	gl.cacheMu.RLock()
	defer gl.cacheMu.RUnlock()

	doc, ok := gl.cache[hash]
	return doc, ok
}

func (gl *GraphLoader[Req, Res]) cacheDocument(hash string, doc *GraphDocument) {
	gl.cacheMu.Lock()
	defer gl.cacheMu.Unlock()

	gl.cache[hash] = doc
}

// validateDocument performs struct field validation followed by the
// semantic rules that cannot be expressed through tags.
func (gl *GraphLoader[Req, Res]) validateDocument(doc *GraphDocument) error {
	if err := gl.validator.Struct(doc); err != nil {
		return fmt.Errorf("struct validation failed: %w", err)
	}
	if err := gl.validateSemantics(doc); err != nil {
		return fmt.Errorf("semantic validation failed: %w", err)
	}
	return nil
}

// validateSemantics checks uniqueness and reference integrity:
// node IDs must be unique and every route endpoint must name a declared
// node. Unlike the programmatic builder, which silently drops dangling
// routes, the loader rejects them; a declarative document has no
// legitimate reason to reference nodes it does not declare.
func (gl *GraphLoader[Req, Res]) validateSemantics(doc *GraphDocument) error {
	nodeIDs := make(map[string]struct{}, len(doc.Nodes))
	for _, node := range doc.Nodes {
		if _, exists := nodeIDs[node.ID]; exists {
			return fmt.Errorf("duplicate node ID %q", node.ID)
		}
		nodeIDs[node.ID] = struct{}{}
	}

	for _, r := range doc.Routes {
		if _, exists := nodeIDs[r.From]; !exists {
			return fmt.Errorf("route references non-existent source node: %s", r.From)
		}
		if _, exists := nodeIDs[r.To]; !exists {
			return fmt.Errorf("route references non-existent target node: %s", r.To)
		}
	}
	return nil
}

// buildConfig resolves a validated document against the registry and
// assembles a builder configuration.
func (gl *GraphLoader[Req, Res]) buildConfig(doc *GraphDocument) (*GraphConfig[Req, Res], error) {
	cfg := NewGraphConfig[Req, Res](doc.Metadata.Name)

	if doc.Settings.GlobalTimeout != "" {
		timeout, err := parseDuration(doc.Settings.GlobalTimeout)
		if err != nil {
			return nil, fmt.Errorf("invalid global timeout: %w", err)
		}
		cfg.WithGlobalTimeout(timeout)
	}

	if doc.Settings.DefaultGovernance != nil {
		gov, err := gl.resolveGovernance(doc.Settings.DefaultGovernance)
		if err != nil {
			return nil, fmt.Errorf("invalid default governance: %w", err)
		}
		cfg.WithDefaultGovernance(gov)
	}

	for _, node := range doc.Nodes {
		params, err := decodeParams(node.Params)
		if err != nil {
			return nil, fmt.Errorf("node %s: failed to decode params: %w", node.ID, err)
		}

		processor, err := gl.registry.CreateProcessor(node.Type, node.ID, params)
		if err != nil {
			return nil, fmt.Errorf("failed to create processor %s: %w", node.ID, err)
		}

		if node.Governance == nil {
			cfg.AddNode(node.ID, processor)
			continue
		}
		gov, err := gl.resolveGovernance(node.Governance)
		if err != nil {
			return nil, fmt.Errorf("node %s: invalid governance: %w", node.ID, err)
		}
		cfg.AddNodeWithGovernance(node.ID, processor, gov)
	}

	for _, r := range doc.Routes {
		if r.When == "" {
			cfg.AddRoute(r.From, r.To)
			continue
		}
		predicate, ok := gl.registry.LookupPredicate(r.When)
		if !ok {
			return nil, fmt.Errorf("route %s->%s references unknown predicate %q", r.From, r.To, r.When)
		}
		cfg.AddRouteWhen(r.From, r.To, predicate)
	}

	return cfg, nil
}

// resolveGovernance turns a governance declaration into an executable
// record, resolving named fallbacks and conditions through the
// registry.
func (gl *GraphLoader[Req, Res]) resolveGovernance(gc *GovernanceConfig) (*Governance[Req], error) {
	timeout, err := parseDuration(gc.Timeout)
	if err != nil {
		return nil, fmt.Errorf("invalid timeout: %w", err)
	}
	backoff, err := parseDuration(gc.RetryBackoff)
	if err != nil {
		return nil, fmt.Errorf("invalid retry backoff: %w", err)
	}

	gov := &Governance[Req]{
		Timeout:      timeout,
		MaxRetries:   gc.MaxRetries,
		RetryBackoff: backoff,
	}

	if gc.Fallback != "" {
		fallback, ok := gl.registry.LookupFallback(gc.Fallback)
		if !ok {
			return nil, fmt.Errorf("unknown fallback %q", gc.Fallback)
		}
		gov.Fallback = fallback
	}
	if gc.Condition != "" {
		condition, ok := gl.registry.LookupPredicate(gc.Condition)
		if !ok {
			return nil, fmt.Errorf("unknown condition %q", gc.Condition)
		}
		gov.Condition = condition
	}
	return gov, nil
}

// decodeParams flattens a node's parameter block into the map form the
// processor factories consume. A zero yaml.Node yields nil params.
func decodeParams(params yaml.Node) (map[string]any, error) {
	if params.IsZero() {
		return nil, nil
	}
	var decoded map[string]any
	if err := params.Decode(&decoded); err != nil {
		return nil, err
	}
	return decoded, nil
}
