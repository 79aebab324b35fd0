// Package context implements the per-persona mutable context store
// (component C5): the single PersonaContext row tracking identity, current
// state, promises, goals, favourites, and anniversaries.
package context

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/kart-io/memory-mcp/internal/memory/errkind"
	"github.com/kart-io/memory-mcp/internal/memory/model"
)

// ContextStore is the C5 contract both the file-backed Store and RedisStore
// satisfy, letting persona.Factory choose either backend per deployment.
type ContextStore interface {
	Get(ctx context.Context, personaName string) (*model.PersonaContext, error)
	Put(ctx context.Context, pc *model.PersonaContext) error
}

// Store persists a single PersonaContext as a JSON file, following the same
// namespace+key-as-path convention goagent's postgres/redis stores use,
// collapsed to one file since a persona has exactly one context row.
type Store struct {
	mu   sync.Mutex
	path string
}

// Open returns a Store backed by <dir>/persona_context (spec.md §6's
// persisted layout: memory/<persona>/persona_context, a JSON file despite
// the extensionless name), loading nothing until Get is first called.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errkind.Wrap(err, errkind.DataStore, "create context directory").
			WithComponent("context.Store").WithOperation("Open")
	}
	return &Store{path: filepath.Join(dir, "persona_context")}, nil
}

// Get loads the persona context, creating a fresh default one on first use.
func (s *Store) Get(_ context.Context, personaName string) (*model.PersonaContext, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return model.NewPersonaContext(personaName), nil
	}
	if err != nil {
		return nil, errkind.Wrap(err, errkind.DataStore, "read persona context").
			WithComponent("context.Store").WithOperation("Get")
	}

	var onDisk map[string]json.RawMessage
	if err := json.Unmarshal(raw, &onDisk); err != nil {
		return nil, errkind.Wrap(err, errkind.DataStore, "unmarshal persona context envelope").
			WithComponent("context.Store").WithOperation("Get")
	}

	pc := model.NewPersonaContext(personaName)
	if err := json.Unmarshal(raw, pc); err != nil {
		return nil, errkind.Wrap(err, errkind.DataStore, "unmarshal persona context").
			WithComponent("context.Store").WithOperation("Get")
	}

	pc.Extra = extraFields(onDisk)
	return pc, nil
}

// Put persists the persona context, preserving any unrecognised keys found
// on the last Get so that forward-compatible fields round-trip untouched.
func (s *Store) Put(_ context.Context, pc *model.PersonaContext) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	known, err := json.Marshal(pc)
	if err != nil {
		return errkind.Wrap(err, errkind.Internal, "marshal persona context").
			WithComponent("context.Store").WithOperation("Put")
	}

	merged := map[string]json.RawMessage{}
	if err := json.Unmarshal(known, &merged); err != nil {
		return errkind.Wrap(err, errkind.Internal, "flatten persona context").
			WithComponent("context.Store").WithOperation("Put")
	}
	for k, v := range pc.Extra {
		if _, known := merged[k]; known {
			continue
		}
		raw, err := json.Marshal(v)
		if err != nil {
			continue
		}
		merged[k] = raw
	}

	out, err := json.MarshalIndent(merged, "", "  ")
	if err != nil {
		return errkind.Wrap(err, errkind.Internal, "marshal merged persona context").
			WithComponent("context.Store").WithOperation("Put")
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, out, 0o644); err != nil {
		return errkind.Wrap(err, errkind.DataStore, "write persona context").
			WithComponent("context.Store").WithOperation("Put")
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return errkind.Wrap(err, errkind.DataStore, "commit persona context").
			WithComponent("context.Store").WithOperation("Put")
	}
	return nil
}

var knownFields = map[string]struct{}{
	"user_name": {}, "persona_name": {}, "current_emotion": {}, "physical_state": {},
	"mental_state": {}, "environment": {}, "relationship_status": {}, "last_conversation_time": {},
	"promises": {}, "goals": {}, "favourites": {}, "anniversaries": {}, "equipment": {},
}

func extraFields(onDisk map[string]json.RawMessage) map[string]any {
	extra := make(map[string]any)
	for k, v := range onDisk {
		if _, ok := knownFields[k]; ok {
			continue
		}
		var decoded any
		if err := json.Unmarshal(v, &decoded); err == nil {
			extra[k] = decoded
		}
	}
	return extra
}
