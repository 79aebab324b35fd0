package engine

import (
	"context"
	"strings"
	"time"

	"github.com/kart-io/logger"

	"github.com/kart-io/memory-mcp/internal/memory/errkind"
	"github.com/kart-io/memory-mcp/internal/memory/model"
	"github.com/kart-io/memory-mcp/internal/memory/persona"
	"github.com/kart-io/memory-mcp/internal/memory/relational"
	"github.com/kart-io/memory-mcp/internal/memory/search"
	"github.com/kart-io/memory-mcp/internal/metrics"
)

// handle is a short alias used throughout this file for readability.
type handle = *persona.Handle

// keyPrefix is the prefix every server-assigned key carries; used to tell
// a key selector apart from a natural-language query selector.
const keyPrefix = "memory_"

func isKeySelector(selector string) bool {
	return strings.HasPrefix(selector, keyPrefix)
}

// CreateInput carries every field create() accepts (spec.md §4.7).
type CreateInput struct {
	Content            string
	Tags               []string
	Importance         *float64
	Emotion            string
	PhysicalState      string
	MentalState        string
	Environment        string
	RelationshipStatus string
	ActionTag          *string
	Context            ContextFields
}

// Create implements MemoryEngine.create.
func (e *Engine) Create(ctx context.Context, personaName string, in CreateInput) (string, error) {
	ctx, span := metrics.StartSpan(ctx, "engine.Create")
	defer span.End()

	if strings.TrimSpace(in.Content) == "" {
		return "", errkind.New(errkind.Validation, "content must not be empty").
			WithComponent("engine.Engine").WithOperation("Create")
	}

	h, err := e.Registry.Get(ctx, personaName)
	if err != nil {
		return "", err
	}
	h.Mu.Lock()
	defer h.Mu.Unlock()

	now := e.Now()
	m := &model.Memory{
		Content:            in.Content,
		CreatedAt:          now,
		UpdatedAt:          now,
		Tags:               model.TagSet(in.Tags),
		Importance:         model.DefaultImportance,
		Emotion:            orDefault(in.Emotion, model.DefaultEmotion),
		PhysicalState:      orDefault(in.PhysicalState, model.DefaultPhysicalState),
		MentalState:        orDefault(in.MentalState, model.DefaultMentalState),
		Environment:        orDefault(in.Environment, model.DefaultEnvironment),
		RelationshipStatus: orDefault(in.RelationshipStatus, model.DefaultRelationshipStatus),
		ActionTag:          in.ActionTag,
	}
	if in.Importance != nil {
		m.Importance = model.ClampImportance(*in.Importance)
	}

	key, err := e.newKey(ctx, h)
	if err != nil {
		e.appendOp(model.OperationRecord{Timestamp: now, OpID: newOpID(), Op: "create", Success: false, Error: err.Error()})
		return "", err
	}
	m.Key = key

	if err := h.Relational.Put(ctx, m); err != nil {
		e.appendOp(model.OperationRecord{Timestamp: now, OpID: newOpID(), Op: "create", Key: key, Success: false, Error: err.Error()})
		return "", err
	}

	e.upsertVectorDirect(ctx, h, m)

	if err := e.applyContextFields(ctx, h, in.Context); err != nil {
		e.appendOp(model.OperationRecord{Timestamp: now, OpID: newOpID(), Op: "create", Key: key, Success: false, Error: err.Error(), After: m})
		return "", err
	}

	e.appendOp(model.OperationRecord{Timestamp: now, OpID: newOpID(), Op: "create", Key: key, Success: true, After: m})
	return key, nil
}

// upsertVectorDirect (re-)embeds m and upserts it into C3, absorbing any
// failure into the persona's dirty state per spec.md §5's "write to C2
// succeeds, C3 upsert fails" policy: the caller's operation still succeeds.
func (e *Engine) upsertVectorDirect(ctx context.Context, h handle, m *model.Memory) {
	if e.Embedder == nil {
		e.MarkDirty(h.Name)
		return
	}
	vec, err := e.Embedder.Embed(ctx, m.Content)
	if err != nil {
		logger.Warnf("engine: embed failed for key %s, marking persona %s dirty: %v", m.Key, h.Name, err)
		e.MarkDirty(h.Name)
		return
	}
	if err := h.Vector.Upsert(ctx, m.Key, vec, search.BuildPayload(m)); err != nil {
		logger.Warnf("engine: vector upsert failed for key %s, marking persona %s dirty: %v", m.Key, h.Name, err)
		e.MarkDirty(h.Name)
	}
}

// setPayloadDirect refreshes an existing vector point after a metadata-only
// update (content unchanged). It re-embeds the unchanged content and upserts
// the whole point; the stored vector is not reused and no payload-only
// update is issued.
func (e *Engine) setPayloadDirect(ctx context.Context, h handle, m *model.Memory) {
	// Vector stores in this module don't expose a payload-only update, so a
	// metadata-only change goes through the same upsert path as a content
	// change; re-embedding an unchanged string is idempotent and avoids a
	// second store-specific code path.
	e.upsertVectorDirect(ctx, h, m)
}

// deleteVectorDirect removes m's vector point, absorbing failure into the
// persona's dirty state.
func (e *Engine) deleteVectorDirect(ctx context.Context, h handle, key string) {
	if err := h.Vector.Delete(ctx, key); err != nil {
		logger.Warnf("engine: vector delete failed for key %s, marking persona %s dirty: %v", key, h.Name, err)
		e.MarkDirty(h.Name)
	}
}

// ReadResult pairs a Memory with its search score (1.0 for an exact key
// lookup, since there is no ranking to report).
type ReadResult struct {
	Memory *model.Memory
	Score  float64
}

// Read implements MemoryEngine.read. filters carries every optional
// §4.8 search filter the caller supplied; Text is ignored and replaced
// with selector for the query path.
func (e *Engine) Read(ctx context.Context, personaName, selector string, k int, filters search.Query) ([]ReadResult, []string, error) {
	ctx, span := metrics.StartSpan(ctx, "engine.Read")
	defer span.End()

	h, err := e.Registry.Get(ctx, personaName)
	if err != nil {
		return nil, nil, err
	}

	if isKeySelector(selector) {
		m, err := h.Relational.Get(ctx, selector)
		if err != nil {
			return nil, nil, err
		}
		if m == nil {
			return nil, nil, nil
		}
		return []ReadResult{{Memory: m, Score: 1}}, nil, nil
	}

	filters.Text = selector
	if k > 0 {
		filters.K = k
	}
	result, err := e.Pipeline.Run(ctx, h.Vector, h.Relational, filters)
	if err != nil {
		return nil, nil, err
	}

	out := make([]ReadResult, 0, len(result.Hits))
	for _, hit := range result.Hits {
		m, err := h.Relational.Get(ctx, hit.Key)
		if err != nil || m == nil {
			continue
		}
		out = append(out, ReadResult{Memory: m, Score: hit.Score})
	}
	return out, result.Warnings, nil
}

// UpdateInput carries the fields update() may change; nil/empty means
// "caller did not supply this field, preserve the existing value."
type UpdateInput struct {
	Content            *string
	Tags               []string
	Importance         *float64
	Emotion            string
	PhysicalState      string
	MentalState        string
	Environment        string
	RelationshipStatus string
	ActionTag          *string
	Context            ContextFields
}

// Update implements MemoryEngine.update, including upsert-by-meaning when
// selector is a natural-language query (spec.md §4.7/§9).
func (e *Engine) Update(ctx context.Context, personaName, selector string, in UpdateInput) (string, error) {
	ctx, span := metrics.StartSpan(ctx, "engine.Update")
	defer span.End()

	h, err := e.Registry.Get(ctx, personaName)
	if err != nil {
		return "", err
	}
	h.Mu.Lock()
	defer h.Mu.Unlock()

	var target *model.Memory
	now := e.Now()

	if isKeySelector(selector) {
		target, err = h.Relational.Get(ctx, selector)
		if err != nil {
			return "", err
		}
		if target == nil {
			return "", errkind.New(errkind.NotFound, "no memory with that key").
				WithComponent("engine.Engine").WithOperation("Update").WithContext("key", selector)
		}
	} else {
		result, err := e.Pipeline.Run(ctx, h.Vector, h.Relational, search.Query{Text: selector, K: 1})
		if err != nil {
			return "", err
		}
		if len(result.Hits) > 0 && result.Hits[0].Score >= e.Thresholds.UpdateByMeaning {
			target, err = h.Relational.Get(ctx, result.Hits[0].Key)
			if err != nil {
				return "", err
			}
		}
		if target == nil {
			if in.Content == nil {
				return "", errkind.New(errkind.NotFound, "no memory met the upsert-by-meaning threshold and no content was supplied to create one").
					WithComponent("engine.Engine").WithOperation("Update")
			}
			key, err := e.createLocked(ctx, h, now, *in.Content, in)
			if err != nil {
				return "", err
			}
			return key, nil
		}
	}

	before := target.Clone()
	contentChanged := in.Content != nil && *in.Content != target.Content
	if in.Content != nil {
		target.Content = *in.Content
	}
	if in.Tags != nil {
		target.Tags = model.TagSet(in.Tags)
	}
	if in.Importance != nil {
		target.Importance = model.ClampImportance(*in.Importance)
	}
	if in.Emotion != "" {
		target.Emotion = in.Emotion
	}
	if in.PhysicalState != "" {
		target.PhysicalState = in.PhysicalState
	}
	if in.MentalState != "" {
		target.MentalState = in.MentalState
	}
	if in.Environment != "" {
		target.Environment = in.Environment
	}
	if in.RelationshipStatus != "" {
		target.RelationshipStatus = in.RelationshipStatus
	}
	if in.ActionTag != nil {
		target.ActionTag = in.ActionTag
	}
	target.UpdatedAt = now

	if err := h.Relational.Put(ctx, target); err != nil {
		e.appendOp(model.OperationRecord{Timestamp: now, OpID: newOpID(), Op: "update", Key: target.Key, Success: false, Error: err.Error(), Before: before})
		return "", err
	}

	if contentChanged {
		e.upsertVectorDirect(ctx, h, target)
	} else {
		e.setPayloadDirect(ctx, h, target)
	}

	if err := e.applyContextFields(ctx, h, in.Context); err != nil {
		e.appendOp(model.OperationRecord{Timestamp: now, OpID: newOpID(), Op: "update", Key: target.Key, Success: false, Error: err.Error(), Before: before, After: target})
		return "", err
	}

	e.appendOp(model.OperationRecord{Timestamp: now, OpID: newOpID(), Op: "update", Key: target.Key, Success: true, Before: before, After: target})
	return target.Key, nil
}

// createLocked is Create's body without re-acquiring h.Mu, used by Update's
// upsert-by-meaning miss path.
func (e *Engine) createLocked(ctx context.Context, h handle, now time.Time, content string, in UpdateInput) (string, error) {
	m := &model.Memory{
		Content:            content,
		CreatedAt:          now,
		UpdatedAt:          now,
		Tags:               model.TagSet(in.Tags),
		Importance:         model.DefaultImportance,
		Emotion:            orDefault(in.Emotion, model.DefaultEmotion),
		PhysicalState:      orDefault(in.PhysicalState, model.DefaultPhysicalState),
		MentalState:        orDefault(in.MentalState, model.DefaultMentalState),
		Environment:        orDefault(in.Environment, model.DefaultEnvironment),
		RelationshipStatus: orDefault(in.RelationshipStatus, model.DefaultRelationshipStatus),
		ActionTag:          in.ActionTag,
	}
	if in.Importance != nil {
		m.Importance = model.ClampImportance(*in.Importance)
	}

	key, err := e.newKey(ctx, h)
	if err != nil {
		return "", err
	}
	m.Key = key

	if err := h.Relational.Put(ctx, m); err != nil {
		e.appendOp(model.OperationRecord{Timestamp: now, OpID: newOpID(), Op: "create", Success: false, Error: err.Error()})
		return "", err
	}
	e.upsertVectorDirect(ctx, h, m)
	if err := e.applyContextFields(ctx, h, in.Context); err != nil {
		e.appendOp(model.OperationRecord{Timestamp: now, OpID: newOpID(), Op: "create", Key: key, Success: false, Error: err.Error(), After: m})
		return "", err
	}
	e.appendOp(model.OperationRecord{Timestamp: now, OpID: newOpID(), Op: "create", Key: key, Success: true, After: m})
	return key, nil
}

// DeleteResult reports what Delete did, matching the "candidates without
// deleting" shape spec.md §4.7 describes for the unsafe query path.
type DeleteResult struct {
	DeletedKeys []string
	Candidates  []ReadResult
}

// Delete implements MemoryEngine.delete, including the 0.90 safe-delete
// gate on the query-selector path.
func (e *Engine) Delete(ctx context.Context, personaName, selector string) (DeleteResult, error) {
	ctx, span := metrics.StartSpan(ctx, "engine.Delete")
	defer span.End()

	h, err := e.Registry.Get(ctx, personaName)
	if err != nil {
		return DeleteResult{}, err
	}
	h.Mu.Lock()
	defer h.Mu.Unlock()

	now := e.Now()

	if isKeySelector(selector) {
		before, err := h.Relational.Get(ctx, selector)
		if err != nil {
			return DeleteResult{}, err
		}
		ok, err := h.Relational.Delete(ctx, selector)
		if err != nil {
			e.appendOp(model.OperationRecord{Timestamp: now, OpID: newOpID(), Op: "delete", Key: selector, Success: false, Error: err.Error(), Before: before})
			return DeleteResult{}, err
		}
		if !ok {
			return DeleteResult{}, nil
		}
		e.deleteVectorDirect(ctx, h, selector)
		e.appendOp(model.OperationRecord{Timestamp: now, OpID: newOpID(), Op: "delete", Key: selector, Success: true, Before: before})
		return DeleteResult{DeletedKeys: []string{selector}}, nil
	}

	result, err := e.Pipeline.Run(ctx, h.Vector, h.Relational, search.Query{Text: selector, K: 5})
	if err != nil {
		return DeleteResult{}, err
	}
	if len(result.Hits) == 0 {
		return DeleteResult{}, nil
	}

	top := result.Hits[0]
	if top.Score < e.Thresholds.SafeDelete {
		candidates := make([]ReadResult, 0, len(result.Hits))
		for _, hit := range result.Hits {
			m, err := h.Relational.Get(ctx, hit.Key)
			if err != nil || m == nil {
				continue
			}
			candidates = append(candidates, ReadResult{Memory: m, Score: hit.Score})
		}
		return DeleteResult{Candidates: candidates}, nil
	}

	before, err := h.Relational.Get(ctx, top.Key)
	if err != nil {
		return DeleteResult{}, err
	}
	if _, err := h.Relational.Delete(ctx, top.Key); err != nil {
		e.appendOp(model.OperationRecord{Timestamp: now, OpID: newOpID(), Op: "delete", Key: top.Key, Success: false, Error: err.Error(), Before: before})
		return DeleteResult{}, err
	}
	e.deleteVectorDirect(ctx, h, top.Key)
	e.appendOp(model.OperationRecord{Timestamp: now, OpID: newOpID(), Op: "delete", Key: top.Key, Success: true, Before: before})
	return DeleteResult{DeletedKeys: []string{top.Key}}, nil
}

// StatsReport composes C2.stats() with a recent-memory preview and the
// engine's own dirty/rebuild bookkeeping, per spec.md §4.7.
type StatsReport struct {
	Store       *relational.Stats
	Preview     []*model.Memory
	LastWrite   time.Time
	LastRebuild time.Time
	Dirty       bool
}

// Stats implements MemoryEngine.stats.
func (e *Engine) Stats(ctx context.Context, personaName string) (*StatsReport, error) {
	ctx, span := metrics.StartSpan(ctx, "engine.Stats")
	defer span.End()

	h, err := e.Registry.Get(ctx, personaName)
	if err != nil {
		return nil, err
	}

	st, err := h.Relational.Stats(ctx)
	if err != nil {
		return nil, err
	}
	preview, err := h.Relational.List(ctx, 0, e.statePreviewN)
	if err != nil {
		return nil, err
	}

	state := e.StateSnapshot(h.Name)
	return &StatsReport{
		Store:       st,
		Preview:     preview,
		LastWrite:   state.LastWrite,
		LastRebuild: state.LastRebuild,
		Dirty:       state.State != StateClean,
	}, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
