package engine

import (
	"context"
	"time"

	"github.com/kart-io/memory-mcp/internal/memory/errkind"
	"github.com/kart-io/memory-mcp/internal/memory/model"
)

// ContextFields carries the subset of PersonaContext fields that create/
// update accept inline (spec.md §4.7: "if any context-bearing fields ...
// are provided, applies them to C5"). Empty-string/nil fields are "not
// supplied" and left untouched.
type ContextFields struct {
	UserName             string
	Emotion              string
	PhysicalState        string
	MentalState          string
	Environment          string
	RelationshipStatus   string
	LastConversationTime *time.Time
}

// IsEmpty reports whether every field is the zero value.
func (f ContextFields) IsEmpty() bool {
	return f.UserName == "" && f.Emotion == "" && f.PhysicalState == "" &&
		f.MentalState == "" && f.Environment == "" && f.RelationshipStatus == "" &&
		f.LastConversationTime == nil
}

// ApplyTo overwrites the corresponding PersonaContext fields. Overwrite
// (not merge) is the correct semantics for these scalar fields per spec.md
// §9 — only the list/map fields (favourites, promises, goals,
// anniversaries) get append/upsert semantics, implemented below.
func (f ContextFields) ApplyTo(pc *model.PersonaContext) {
	if f.UserName != "" {
		pc.UserName = f.UserName
	}
	if f.Emotion != "" {
		pc.CurrentEmotion = f.Emotion
	}
	if f.PhysicalState != "" {
		pc.PhysicalState = f.PhysicalState
	}
	if f.MentalState != "" {
		pc.MentalState = f.MentalState
	}
	if f.Environment != "" {
		pc.Environment = f.Environment
	}
	if f.RelationshipStatus != "" {
		pc.RelationshipStatus = f.RelationshipStatus
	}
	if f.LastConversationTime != nil {
		pc.LastConversationTime = f.LastConversationTime
	}
}

// UpdateContext overwrites the supplied scalar fields on the persona's
// context, under the persona mutex.
func (e *Engine) UpdateContext(ctx context.Context, persona string, fields ContextFields) (*model.PersonaContext, error) {
	h, err := e.Registry.Get(ctx, persona)
	if err != nil {
		return nil, err
	}
	h.Mu.Lock()
	defer h.Mu.Unlock()

	pc, err := h.Context.Get(ctx, h.Name)
	if err != nil {
		return nil, err
	}
	fields.ApplyTo(pc)
	if err := h.Context.Put(ctx, pc); err != nil {
		return nil, err
	}
	e.appendOp(model.OperationRecord{Timestamp: e.Now(), OpID: newOpID(), Op: "update_context", Success: true})
	return pc, nil
}

// SetPromise upserts a Promise keyed by title — promises are a keyed map,
// updated in place by title per spec.md §9.
func (e *Engine) SetPromise(ctx context.Context, persona string, p model.Promise) (*model.PersonaContext, error) {
	if p.Title == "" {
		return nil, errkind.New(errkind.Validation, "promise title must not be empty").
			WithComponent("engine.Engine").WithOperation("SetPromise")
	}
	h, err := e.Registry.Get(ctx, persona)
	if err != nil {
		return nil, err
	}
	h.Mu.Lock()
	defer h.Mu.Unlock()

	pc, err := h.Context.Get(ctx, h.Name)
	if err != nil {
		return nil, err
	}
	if pc.Promises == nil {
		pc.Promises = make(map[string]model.Promise)
	}
	pc.Promises[p.Title] = p
	if err := h.Context.Put(ctx, pc); err != nil {
		return nil, err
	}
	e.appendOp(model.OperationRecord{Timestamp: e.Now(), OpID: newOpID(), Op: "set_promise", Success: true})
	return pc, nil
}

// SetGoal upserts a Goal keyed by title.
func (e *Engine) SetGoal(ctx context.Context, persona string, g model.Goal) (*model.PersonaContext, error) {
	if g.Title == "" {
		return nil, errkind.New(errkind.Validation, "goal title must not be empty").
			WithComponent("engine.Engine").WithOperation("SetGoal")
	}
	h, err := e.Registry.Get(ctx, persona)
	if err != nil {
		return nil, err
	}
	h.Mu.Lock()
	defer h.Mu.Unlock()

	pc, err := h.Context.Get(ctx, h.Name)
	if err != nil {
		return nil, err
	}
	if pc.Goals == nil {
		pc.Goals = make(map[string]model.Goal)
	}
	pc.Goals[g.Title] = g
	if err := h.Context.Put(ctx, pc); err != nil {
		return nil, err
	}
	e.appendOp(model.OperationRecord{Timestamp: e.Now(), OpID: newOpID(), Op: "set_goal", Success: true})
	return pc, nil
}

// AddFavourite appends favourite to the persona's favourites list,
// de-duplicating — favourites are a de-duplicated, appended list per
// spec.md §9's explicit example.
func (e *Engine) AddFavourite(ctx context.Context, persona string, favourite string) (*model.PersonaContext, error) {
	h, err := e.Registry.Get(ctx, persona)
	if err != nil {
		return nil, err
	}
	h.Mu.Lock()
	defer h.Mu.Unlock()

	pc, err := h.Context.Get(ctx, h.Name)
	if err != nil {
		return nil, err
	}
	for _, f := range pc.Favourites {
		if f == favourite {
			return pc, nil
		}
	}
	pc.Favourites = append(pc.Favourites, favourite)
	if err := h.Context.Put(ctx, pc); err != nil {
		return nil, err
	}
	e.appendOp(model.OperationRecord{Timestamp: e.Now(), OpID: newOpID(), Op: "add_favourite", Success: true})
	return pc, nil
}

// AddAnniversary appends an Anniversary, de-duplicating on (label, date).
func (e *Engine) AddAnniversary(ctx context.Context, persona string, a model.Anniversary) (*model.PersonaContext, error) {
	h, err := e.Registry.Get(ctx, persona)
	if err != nil {
		return nil, err
	}
	h.Mu.Lock()
	defer h.Mu.Unlock()

	pc, err := h.Context.Get(ctx, h.Name)
	if err != nil {
		return nil, err
	}
	for _, existing := range pc.Anniversaries {
		if existing.Label == a.Label && existing.Date.Equal(a.Date) {
			return pc, nil
		}
	}
	pc.Anniversaries = append(pc.Anniversaries, a)
	if err := h.Context.Put(ctx, pc); err != nil {
		return nil, err
	}
	e.appendOp(model.OperationRecord{Timestamp: e.Now(), OpID: newOpID(), Op: "add_anniversary", Success: true})
	return pc, nil
}

// RecordSensation overwrites physical_state — a momentary reading, not an
// accumulating list.
func (e *Engine) RecordSensation(ctx context.Context, persona, physicalState string) (*model.PersonaContext, error) {
	return e.UpdateContext(ctx, persona, ContextFields{PhysicalState: physicalState})
}

// RecordEmotionFlow overwrites current_emotion — like RecordSensation, a
// momentary reading.
func (e *Engine) RecordEmotionFlow(ctx context.Context, persona, emotion string) (*model.PersonaContext, error) {
	return e.UpdateContext(ctx, persona, ContextFields{Emotion: emotion})
}

// SessionContext is the read-only snapshot GetSessionContext returns: the
// persona's current context plus a short preview of its most recent
// memories, reusing the same preview path stats() uses.
type SessionContext struct {
	Context *model.PersonaContext
	Recent  []*model.Memory
}

// GetSessionContext composes C5's current state with the N most recent
// memories, giving a transport a single call to prime an agent's system
// prompt.
func (e *Engine) GetSessionContext(ctx context.Context, persona string) (*SessionContext, error) {
	h, err := e.Registry.Get(ctx, persona)
	if err != nil {
		return nil, err
	}

	pc, err := h.Context.Get(ctx, h.Name)
	if err != nil {
		return nil, err
	}
	recent, err := h.Relational.List(ctx, 0, e.statePreviewN)
	if err != nil {
		return nil, err
	}
	return &SessionContext{Context: pc, Recent: recent}, nil
}
