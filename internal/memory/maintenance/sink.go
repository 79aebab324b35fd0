package maintenance

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/kart-io/memory-mcp/internal/memory/errkind"
	"github.com/kart-io/memory-mcp/internal/memory/model"
	"github.com/kart-io/memory-mcp/internal/memory/persona"
)

// FileSuggestionSink writes each persona's cleanup_suggestions file at the
// persisted layout spec.md §6 documents, one JSON array per write.
type FileSuggestionSink struct {
	mu       sync.Mutex
	dataRoot string
}

// NewFileSuggestionSink returns a sink rooted at dataRoot.
func NewFileSuggestionSink(dataRoot string) *FileSuggestionSink {
	return &FileSuggestionSink{dataRoot: dataRoot}
}

// WriteSuggestions implements SuggestionSink by replacing the persona's
// cleanup_suggestions file with the latest batch.
func (s *FileSuggestionSink) WriteSuggestions(_ context.Context, personaName string, suggestions []model.CleanupSuggestion) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := persona.DataDir(s.dataRoot, personaName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errkind.Wrap(err, errkind.DataStore, "create persona directory").
			WithComponent("maintenance.FileSuggestionSink").WithOperation("WriteSuggestions")
	}

	out, err := json.MarshalIndent(suggestions, "", "  ")
	if err != nil {
		return errkind.Wrap(err, errkind.Internal, "marshal cleanup suggestions").
			WithComponent("maintenance.FileSuggestionSink").WithOperation("WriteSuggestions")
	}

	path := filepath.Join(dir, "cleanup_suggestions")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, out, 0o644); err != nil {
		return errkind.Wrap(err, errkind.DataStore, "write cleanup suggestions").
			WithComponent("maintenance.FileSuggestionSink").WithOperation("WriteSuggestions")
	}
	return os.Rename(tmp, path)
}
