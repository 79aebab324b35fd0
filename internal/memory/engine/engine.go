// Package engine implements the MemoryEngine (component C7): orchestration
// of the relational store, vector store, context store, and operation log
// behind the create/read/update/delete/stats operation surface, plus the
// context-oriented helpers listed in spec.md §6.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kart-io/logger"

	"github.com/kart-io/memory-mcp/internal/memory/embed"
	"github.com/kart-io/memory-mcp/internal/memory/errkind"
	"github.com/kart-io/memory-mcp/internal/memory/model"
	"github.com/kart-io/memory-mcp/internal/memory/oplog"
	"github.com/kart-io/memory-mcp/internal/memory/persona"
	"github.com/kart-io/memory-mcp/internal/memory/search"
)

// Thresholds implements the asymmetric-by-design similarity gates of
// spec.md §4.7/§9: 0.80 for upsert-by-meaning, 0.90 for safe delete. Never
// unify these without product input — see DESIGN.md.
type Thresholds struct {
	UpdateByMeaning float64
	SafeDelete      float64
}

// DefaultThresholds returns the spec-mandated values.
func DefaultThresholds() Thresholds {
	return Thresholds{UpdateByMeaning: 0.80, SafeDelete: 0.90}
}

// RebuildState is the C9 per-persona state machine: Clean, Dirty, Rebuilding.
type RebuildState string

const (
	StateClean      RebuildState = "clean"
	StateDirty      RebuildState = "dirty"
	StateRebuilding RebuildState = "rebuilding"
)

// PersonaState tracks the per-persona dirty/rebuild bookkeeping the
// maintenance workers (C9) consume; the engine only ever sets LastWrite and
// transitions Clean->Dirty, never reads them for decision-making.
type PersonaState struct {
	State       RebuildState
	LastWrite   time.Time
	LastRebuild time.Time
}

// Engine is the MemoryEngine. One instance serves every persona.
type Engine struct {
	Registry   *persona.Registry
	Pipeline   *search.Pipeline
	Embedder   embed.Embedder
	OpLog      *oplog.Log
	Thresholds Thresholds
	Now        func() time.Time

	statePreviewN int
	statesMu      sync.Mutex
	states        map[string]*PersonaState
}

// New constructs an Engine. previewN is the §4.7 stats() preview count
// (0 means use the spec default of 10).
func New(reg *persona.Registry, pipeline *search.Pipeline, embedder embed.Embedder, log *oplog.Log, previewN int) *Engine {
	if previewN <= 0 {
		previewN = 10
	}
	return &Engine{
		Registry:      reg,
		Pipeline:      pipeline,
		Embedder:      embedder,
		OpLog:         log,
		Thresholds:    DefaultThresholds(),
		Now:           time.Now,
		statePreviewN: previewN,
		states:        make(map[string]*PersonaState),
	}
}

func (e *Engine) stateFor(name string) *PersonaState {
	e.statesMu.Lock()
	defer e.statesMu.Unlock()
	st, ok := e.states[name]
	if !ok {
		st = &PersonaState{State: StateClean}
		e.states[name] = st
	}
	return st
}

// MarkDirty records the Clean/Rebuilding->Dirty transition (§4.9: "any
// write to C2"). Exposed so request-path code can flag a persona without
// reaching into maintenance package internals.
func (e *Engine) MarkDirty(name string) {
	st := e.stateFor(name)
	e.statesMu.Lock()
	defer e.statesMu.Unlock()
	st.State = StateDirty
	st.LastWrite = e.Now()
}

// StateSnapshot returns a copy of a persona's dirty/rebuild bookkeeping.
func (e *Engine) StateSnapshot(name string) PersonaState {
	st := e.stateFor(name)
	e.statesMu.Lock()
	defer e.statesMu.Unlock()
	return *st
}

// BeginRebuild performs the Dirty->Rebuilding transition. Returns false if
// the persona was not Dirty (nothing to do).
func (e *Engine) BeginRebuild(name string) bool {
	st := e.stateFor(name)
	e.statesMu.Lock()
	defer e.statesMu.Unlock()
	if st.State != StateDirty {
		return false
	}
	st.State = StateRebuilding
	return true
}

// EndRebuildSuccess performs the Rebuilding->Clean transition. If a write
// landed during the rebuild (MarkDirty bumped the state to Dirty while
// rebuildOne held only h.RebuildMu, not h.Mu), the persona stays Dirty: the
// rebuild's snapshot predates that write, so it still needs reconciling —
// clobbering it back to Clean here would leave that memory unindexed and
// never revisited, violating the P8 convergence guarantee.
func (e *Engine) EndRebuildSuccess(name string, rebuildTime time.Time) {
	st := e.stateFor(name)
	e.statesMu.Lock()
	defer e.statesMu.Unlock()
	if st.State == StateRebuilding {
		st.State = StateClean
	}
	st.LastRebuild = rebuildTime
}

// EndRebuildFailure performs the Rebuilding->Dirty transition (rebuild
// failed; the next cycle retries per §4.9).
func (e *Engine) EndRebuildFailure(name string) {
	st := e.stateFor(name)
	e.statesMu.Lock()
	defer e.statesMu.Unlock()
	st.State = StateDirty
}

// newKey generates "memory_" + a second-precision compact timestamp,
// appending a short disambiguator when the base key already exists in the
// persona's relational store (spec.md §3: "collision-free with second
// precision, append suffix on same-second create").
func (e *Engine) newKey(ctx context.Context, h *persona.Handle) (string, error) {
	base := "memory_" + e.Now().UTC().Format("20060102150405")
	key := base
	const maxAttempts = 8
	for attempt := 0; attempt < maxAttempts; attempt++ {
		existing, err := h.Relational.Get(ctx, key)
		if err != nil {
			return "", err
		}
		if existing == nil {
			return key, nil
		}
		suffix := uuid.New().String()[:4]
		key = fmt.Sprintf("%s-%s", base, suffix)
	}
	return "", errkind.New(errkind.Conflict, "disambiguator suffix space exhausted for key base").
		WithComponent("engine.Engine").WithOperation("newKey").WithContext("base", base)
}

func (e *Engine) appendOp(rec model.OperationRecord) {
	if err := e.OpLog.Append(rec); err != nil {
		logger.Errorf("engine: failed to append operation record for op=%s key=%s: %v", rec.Op, rec.Key, err)
	}
}

func newOpID() string { return uuid.New().String() }

// applyContextFields pushes the context-bearing fields create/update accept
// onto C5, per spec.md §4.7's "applies them to C5" clause. Only non-empty
// fields are applied; see context_ops.go for the per-field merge rules the
// dedicated context operations use.
func (e *Engine) applyContextFields(ctx context.Context, h *persona.Handle, fields ContextFields) error {
	if fields.IsEmpty() {
		return nil
	}
	pc, err := h.Context.Get(ctx, h.Name)
	if err != nil {
		return err
	}
	fields.ApplyTo(pc)
	return h.Context.Put(ctx, pc)
}
