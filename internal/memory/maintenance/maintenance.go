// Package maintenance implements the two background workers of component
// C9 (idle vector rebuild, duplicate-pair detector), modeled on goagent's
// HierarchicalMemory.backgroundConsolidation ticker-driven loop with
// context cancellation.
package maintenance

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/kart-io/logger"

	"github.com/kart-io/memory-mcp/internal/memory/embed"
	"github.com/kart-io/memory-mcp/internal/memory/engine"
	"github.com/kart-io/memory-mcp/internal/memory/errkind"
	"github.com/kart-io/memory-mcp/internal/memory/model"
	"github.com/kart-io/memory-mcp/internal/memory/persona"
	"github.com/kart-io/memory-mcp/internal/memory/search"
	"github.com/kart-io/memory-mcp/internal/memory/vector"
	"github.com/kart-io/memory-mcp/internal/metrics"
)

var errNoEmbedder = errkind.New(errkind.Model, "no embedder configured").WithComponent("maintenance.Workers")

// RebuildMode selects how the idle-rebuild worker behaves, per spec.md §4.9.
type RebuildMode string

const (
	RebuildModeIdle     RebuildMode = "idle"
	RebuildModeManual   RebuildMode = "manual"
	RebuildModeDisabled RebuildMode = "disabled"
)

// RebuildConfig configures the idle-rebuild worker.
type RebuildConfig struct {
	Mode        RebuildMode
	IdleSeconds time.Duration
	MinInterval time.Duration
}

// DefaultRebuildConfig returns the spec-mandated defaults (idle_seconds=30,
// min_interval=120).
func DefaultRebuildConfig() RebuildConfig {
	return RebuildConfig{Mode: RebuildModeIdle, IdleSeconds: 30 * time.Second, MinInterval: 120 * time.Second}
}

// CleanupConfig configures the duplicate-pair detector.
type CleanupConfig struct {
	Enabled                bool
	IdleMinutes             time.Duration
	CheckInterval           time.Duration
	DuplicateThreshold      float64
	MinSimilarityToReport   float64
	MaxSuggestionsPerRun    int
}

// DefaultCleanupConfig returns the spec-mandated defaults.
func DefaultCleanupConfig() CleanupConfig {
	return CleanupConfig{
		Enabled:               true,
		IdleMinutes:           30 * time.Minute,
		CheckInterval:         5 * time.Minute,
		DuplicateThreshold:    0.90,
		MinSimilarityToReport: 0.85,
		MaxSuggestionsPerRun:  20,
	}
}

// SuggestionSink persists a batch of CleanupSuggestion records (the
// cleanup_suggestions file at spec.md §6's persisted layout).
type SuggestionSink interface {
	WriteSuggestions(ctx context.Context, persona string, suggestions []model.CleanupSuggestion) error
}

// Workers owns the two long-lived maintenance goroutines.
type Workers struct {
	Registry  *persona.Registry
	Engine    *engine.Engine
	Embedder  embed.Embedder
	Rebuild   RebuildConfig
	Cleanup   CleanupConfig
	Sink      SuggestionSink
	Now       func() time.Time

	// Metrics is optional: nil means rebuild/duplicate-run counters are
	// not recorded (e.g. in tests that don't stand up a Registry).
	Metrics *metrics.Registry
}

// New constructs Workers with Now defaulting to time.Now.
func New(reg *persona.Registry, eng *engine.Engine, embedder embed.Embedder, rebuild RebuildConfig, cleanup CleanupConfig, sink SuggestionSink) *Workers {
	return &Workers{Registry: reg, Engine: eng, Embedder: embedder, Rebuild: rebuild, Cleanup: cleanup, Sink: sink, Now: time.Now}
}

// Run starts both workers and blocks until ctx is cancelled.
func (w *Workers) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		w.runRebuildLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		w.runCleanupLoop(ctx)
	}()
	wg.Wait()
}

func (w *Workers) runRebuildLoop(ctx context.Context) {
	if w.Rebuild.Mode != RebuildModeIdle {
		return
	}
	ticker := time.NewTicker(w.Rebuild.IdleSeconds)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.rebuildPass(ctx)
		}
	}
}

// rebuildPass implements the idle-rebuild check of spec.md §4.9 for every
// persona with a constructed handle.
func (w *Workers) rebuildPass(ctx context.Context) {
	now := w.Now()
	for _, name := range w.Registry.Personas() {
		st := w.Engine.StateSnapshot(name)
		if st.State != engine.StateDirty {
			continue
		}
		if now.Sub(st.LastWrite) < w.Rebuild.IdleSeconds {
			continue
		}
		if now.Sub(st.LastRebuild) < w.Rebuild.MinInterval {
			continue
		}
		w.rebuildOne(ctx, name)
	}
}

// RebuildNow rebuilds one persona's vector index at once, without the idle
// loop's idle and minimum-interval checks. A persona that is not Dirty is
// left as it is and nil is returned.
func (w *Workers) RebuildNow(ctx context.Context, personaName string) error {
	return w.rebuildOne(ctx, personaName)
}

func (w *Workers) rebuildOne(ctx context.Context, name string) error {
	if !w.Engine.BeginRebuild(name) {
		return nil
	}

	h, err := w.Registry.Get(ctx, name)
	if err != nil {
		w.Engine.EndRebuildFailure(name)
		w.observeRebuild(name, err)
		return err
	}

	h.RebuildMu.Lock()
	defer h.RebuildMu.Unlock()

	rows, err := h.Relational.List(ctx, 0, 0)
	if err != nil {
		logger.Warnf("maintenance: rebuild list failed for persona %s: %v", name, err)
		w.Engine.EndRebuildFailure(name)
		w.observeRebuild(name, err)
		return err
	}

	points := make([]vector.Point, 0, len(rows))
	for _, m := range rows {
		vec, err := w.embed(ctx, m.Content)
		if err != nil {
			logger.Warnf("maintenance: embed failed during rebuild for persona %s key %s: %v", name, m.Key, err)
			w.Engine.EndRebuildFailure(name)
			w.observeRebuild(name, err)
			return err
		}
		points = append(points, vector.Point{Key: m.Key, Vector: vec, Payload: search.BuildPayload(m)})
	}

	if err := h.Vector.RebuildFrom(ctx, points); err != nil {
		logger.Warnf("maintenance: rebuild_from failed for persona %s: %v", name, err)
		w.Engine.EndRebuildFailure(name)
		w.observeRebuild(name, err)
		return err
	}

	w.Engine.EndRebuildSuccess(name, w.Now())
	w.observeRebuild(name, nil)
	logger.Infof("maintenance: rebuilt persona %s (%d points)", name, len(points))
	return nil
}

func (w *Workers) observeRebuild(personaName string, err error) {
	if w.Metrics == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	w.Metrics.RebuildTotal.WithLabelValues(personaName, outcome).Inc()
}

func (w *Workers) embed(ctx context.Context, text string) ([]float32, error) {
	if w.Embedder == nil {
		return nil, errNoEmbedder
	}
	return w.Embedder.Embed(ctx, text)
}

// sortKeysLexicographic is a small helper kept here (rather than in search)
// since only the duplicate detector needs a stable key ordering within a
// cluster, matching the determinism requirement used elsewhere in the spec.
func sortKeysLexicographic(keys []string) {
	sort.Strings(keys)
}
