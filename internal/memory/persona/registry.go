// Package persona implements the per-persona handle registry (component
// C1): resolving which persona a request belongs to, and lazily constructing
// and caching the bundle of resources (relational store, vector store,
// context store, and the mutex that serialises writes) each persona needs.
package persona

import (
	"context"
	"path/filepath"
	"strings"
	"sync"

	ctxstore "github.com/kart-io/memory-mcp/internal/memory/context"
	"github.com/kart-io/memory-mcp/internal/memory/relational"
	"github.com/kart-io/memory-mcp/internal/memory/vector"
)

// DefaultPersona is used when no persona can be resolved from the request.
const DefaultPersona = "default"

// Handle bundles every per-persona resource. Handle.Mu must be held for the
// duration of any operation that writes to Relational, Vector, or Context,
// per spec.md §4.1's single-writer-per-persona invariant (P1).
type Handle struct {
	Name       string
	Mu         sync.Mutex
	Relational *relational.Store
	Vector     vector.Store
	Context    ctxstore.ContextStore

	// RebuildMu additionally serialises the maintenance worker's rebuild
	// pass against itself (not against Mu: normal reads/writes may proceed
	// while a rebuild is staging its new point set, per the Rebuilding
	// state in spec.md §4.9).
	RebuildMu sync.Mutex
}

// Factory constructs the resources for a newly resolved persona. Separated
// from Registry so tests can supply in-memory backends.
type Factory func(ctx context.Context, persona string) (*relational.Store, vector.Store, ctxstore.ContextStore, error)

// Registry lazily constructs and caches one Handle per persona.
type Registry struct {
	mu       sync.Mutex
	factory  Factory
	handles  map[string]*Handle
}

// NewRegistry returns a Registry that builds handles with factory.
func NewRegistry(factory Factory) *Registry {
	return &Registry{factory: factory, handles: make(map[string]*Handle)}
}

// Get returns the cached Handle for persona, constructing it on first use.
// Construction happens under the registry-wide mutex (per spec.md §4.1); two
// concurrent first-uses of the same new persona never race to build two
// handles.
func (r *Registry) Get(ctx context.Context, persona string) (*Handle, error) {
	name := Sanitize(persona)

	r.mu.Lock()
	defer r.mu.Unlock()

	if h, ok := r.handles[name]; ok {
		return h, nil
	}

	rel, vec, ctxStore, err := r.factory(ctx, name)
	if err != nil {
		return nil, err
	}
	h := &Handle{Name: name, Relational: rel, Vector: vec, Context: ctxStore}
	r.handles[name] = h
	return h, nil
}

// Personas returns the names of every persona handle constructed so far.
func (r *Registry) Personas() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.handles))
	for name := range r.handles {
		out = append(out, name)
	}
	return out
}

// Close releases every constructed handle's resources.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var firstErr error
	for _, h := range r.handles {
		if err := h.Relational.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := h.Vector.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Resolve picks a persona name per spec.md §4.1's priority: an explicit
// argument first, then an Authorization Bearer token, then an X-Persona
// header, falling back to DefaultPersona.
func Resolve(explicit string, authorizationHeader, personaHeader string) string {
	if explicit != "" {
		return Sanitize(explicit)
	}
	if bearer, ok := strings.CutPrefix(authorizationHeader, "Bearer "); ok && strings.TrimSpace(bearer) != "" {
		return Sanitize(strings.TrimSpace(bearer))
	}
	if strings.TrimSpace(personaHeader) != "" {
		return Sanitize(strings.TrimSpace(personaHeader))
	}
	return DefaultPersona
}

// Sanitize maps a raw persona name to one safe for use as a path component:
// path separators collapse to underscores, and an empty result falls back
// to DefaultPersona.
func Sanitize(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return DefaultPersona
	}
	replacer := strings.NewReplacer(
		string(filepath.Separator), "_",
		"/", "_",
		"\\", "_",
		"..", "_",
	)
	name = replacer.Replace(name)
	if name == "" {
		return DefaultPersona
	}
	return name
}

// DataDir returns the on-disk directory a persona's file-backed resources
// (SQLite database, context JSON) live under, rooted at base, per spec.md
// §6's persisted layout (memory/<persona>/...).
func DataDir(base, persona string) string {
	return filepath.Join(base, "memory", Sanitize(persona))
}

// SQLitePath returns the conventional SQLite file path for a persona
// (memory/<persona>/memories.db per spec.md §6).
func SQLitePath(base, persona string) string {
	return filepath.Join(DataDir(base, persona), "memories.db")
}
