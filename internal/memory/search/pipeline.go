package search

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/kart-io/logger"

	"github.com/kart-io/memory-mcp/internal/memory/embed"
	"github.com/kart-io/memory-mcp/internal/memory/errkind"
	"github.com/kart-io/memory-mcp/internal/memory/model"
	"github.com/kart-io/memory-mcp/internal/memory/relational"
	"github.com/kart-io/memory-mcp/internal/memory/vector"
	"github.com/kart-io/memory-mcp/internal/metrics"
)

// Pipeline implements the six-step algorithm of spec.md §4.8. One Pipeline
// is shared across personas; every call takes the persona's own stores.
type Pipeline struct {
	Embedder embed.Embedder
	Reranker embed.Reranker
	Location *time.Location
	Now      func() time.Time
}

// NewPipeline returns a Pipeline with Now defaulting to time.Now.
func NewPipeline(embedder embed.Embedder, reranker embed.Reranker, loc *time.Location) *Pipeline {
	if loc == nil {
		loc = time.UTC
	}
	return &Pipeline{Embedder: embedder, Reranker: reranker, Location: loc, Now: time.Now}
}

// Result is the outcome of a Run call: the ranked hits plus any warnings the
// caller should surface (e.g. "degraded to keyword search").
type Result struct {
	Hits     []Hit
	Warnings []string
}

// Run executes the pipeline against one persona's vector store, falling
// back to relStore's content when vec is nil, the embedder is nil, or the
// embedder errors.
func (p *Pipeline) Run(ctx context.Context, vec vector.Store, relStore *relational.Store, q Query) (Result, error) {
	ctx, span := metrics.StartSpan(ctx, "search.Pipeline.Run")
	defer span.End()

	q = q.Normalized()

	if p.Embedder == nil {
		return p.keywordFallback(ctx, relStore, q, "no embedder configured")
	}
	if vec == nil {
		return p.keywordFallback(ctx, relStore, q, "no vector store")
	}

	queryVec, err := p.Embedder.Embed(ctx, q.Text)
	if err != nil {
		logger.Warnf("search: embed query failed, degrading to keyword path: %v", err)
		return p.keywordFallback(ctx, relStore, q, "embedder error")
	}

	filter := p.buildVectorFilter(q)
	candidates, err := vec.Search(ctx, queryVec, q.K*3, filter)
	if err != nil {
		logger.Warnf("search: vector search failed, degrading to keyword path: %v", err)
		return p.keywordFallback(ctx, relStore, q, "vector store error")
	}

	candidates = p.applyTextFilters(candidates, q)

	warnings := []string(nil)
	scores := make(map[string]float32, len(candidates))
	for _, c := range candidates {
		scores[c.Key] = c.Similarity
	}

	if p.Reranker != nil {
		cands := make([]embed.Candidate, len(candidates))
		for i, c := range candidates {
			cands[i] = embed.Candidate{Key: c.Key, Content: payloadString(c.Payload, FieldContent)}
		}
		reranked, err := p.Reranker.Rerank(ctx, q.Text, cands)
		if err != nil {
			logger.Warnf("search: rerank failed, using vector similarity only: %v", err)
			warnings = append(warnings, "reranker unavailable, used vector similarity only")
		} else {
			for _, rc := range reranked {
				scores[rc.Key] = rc.Score
			}
		}
	}

	now := p.Now()
	hits := make([]Hit, 0, len(candidates))
	for _, c := range candidates {
		createdAt := payloadTime(c.Payload)
		base := float64(scores[c.Key])
		importance, _ := c.Payload[FieldImportance].(float64)
		final := base + q.ImportanceWeight*importance + q.RecencyWeight*recency(createdAt, now)
		hits = append(hits, Hit{
			Key:       c.Key,
			Content:   payloadString(c.Payload, FieldContent),
			CreatedAt: createdAt,
			Score:     final,
			Payload:   c.Payload,
		})
	}

	sortHits(hits)
	if len(hits) > q.K {
		hits = hits[:q.K]
	}
	return Result{Hits: hits, Warnings: warnings}, nil
}

// recency implements recency(t) = max(0, 1 - age_days/30).
func recency(t, now time.Time) float64 {
	ageDays := now.Sub(t).Hours() / 24
	v := 1 - ageDays/30
	if v < 0 {
		return 0
	}
	return v
}

func sortHits(hits []Hit) {
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		if !hits[i].CreatedAt.Equal(hits[j].CreatedAt) {
			return hits[i].CreatedAt.After(hits[j].CreatedAt)
		}
		return hits[i].Key < hits[j].Key
	})
}

func payloadTime(p map[string]any) time.Time {
	switch v := p[FieldCreatedAt].(type) {
	case int64:
		return time.Unix(v, 0).UTC()
	case float64:
		return time.Unix(int64(v), 0).UTC()
	default:
		return time.Time{}
	}
}

func (p *Pipeline) buildVectorFilter(q Query) *vector.Filter {
	f := &vector.Filter{}
	switch q.TagMode {
	case TagModeAll:
		f.TagsAll = q.Tags
	default:
		f.TagsAny = q.Tags
	}
	if q.MinImportance != nil {
		f.MinImportance = q.MinImportance
	}

	from, to := q.DateFrom, q.DateTo
	if q.DateRangeExpr != "" {
		if resolvedFrom, resolvedTo, ok := ResolveDateRange(q.DateRangeExpr, p.Now(), p.Location); ok {
			from, to = &resolvedFrom, &resolvedTo
		}
	}
	if from != nil {
		u := from.Unix()
		f.CreatedFrom = &u
	}
	if to != nil {
		u := to.Unix()
		f.CreatedTo = &u
	}
	return f
}

// applyTextFilters applies the case-insensitive substring filters (step 3's
// last bullet) that no ANN backend implements natively.
func (p *Pipeline) applyTextFilters(candidates []vector.Result, q Query) []vector.Result {
	if q.Emotion == "" && q.ActionTag == "" && q.Environment == "" &&
		q.PhysicalState == "" && q.MentalState == "" && q.RelationshipStatus == "" {
		return candidates
	}
	out := make([]vector.Result, 0, len(candidates))
	for _, c := range candidates {
		if !containsFold(payloadString(c.Payload, FieldEmotion), q.Emotion) {
			continue
		}
		if !containsFold(payloadString(c.Payload, FieldActionTag), q.ActionTag) {
			continue
		}
		if !containsFold(payloadString(c.Payload, FieldEnvironment), q.Environment) {
			continue
		}
		if !containsFold(payloadString(c.Payload, FieldPhysicalState), q.PhysicalState) {
			continue
		}
		if !containsFold(payloadString(c.Payload, FieldMentalState), q.MentalState) {
			continue
		}
		if !containsFold(payloadString(c.Payload, FieldRelationshipStatus), q.RelationshipStatus) {
			continue
		}
		out = append(out, c)
	}
	return out
}

// keywordFallback implements step 1 of §4.8: substring or fuzzy match on
// content, scanning the relational store directly, with filters applied
// post-hoc.
func (p *Pipeline) keywordFallback(ctx context.Context, relStore *relational.Store, q Query, reason string) (Result, error) {
	all, err := relStore.List(ctx, 0, 0)
	if err != nil {
		return Result{}, errkind.Wrap(err, errkind.DataStore, "list memories for keyword fallback").
			WithComponent("search.Pipeline").WithOperation("keywordFallback")
	}

	now := p.Now()
	from, to := q.DateFrom, q.DateTo
	if q.DateRangeExpr != "" {
		if resolvedFrom, resolvedTo, ok := ResolveDateRange(q.DateRangeExpr, now, p.Location); ok {
			from, to = &resolvedFrom, &resolvedTo
		}
	}

	hits := make([]Hit, 0, len(all))
	for _, m := range all {
		if !keywordFilterMatches(m, q, from, to) {
			continue
		}
		var score float64
		if q.FuzzyMatch {
			ratio := fuzzyRatio(m.Content, q.Text)
			for _, word := range strings.Fields(m.Content) {
				if r := fuzzyRatio(word, q.Text); r > ratio {
					ratio = r
				}
			}
			if ratio < q.FuzzyThreshold {
				continue
			}
			score = float64(ratio) / 100
		} else {
			if !containsFold(m.Content, q.Text) {
				continue
			}
			score = 1
		}
		score += q.ImportanceWeight*m.Importance + q.RecencyWeight*recency(m.CreatedAt, now)
		hits = append(hits, Hit{
			Key:       m.Key,
			Content:   m.Content,
			CreatedAt: m.CreatedAt,
			Score:     score,
			Payload:   BuildPayload(m),
		})
	}

	sortHits(hits)
	if len(hits) > q.K {
		hits = hits[:q.K]
	}
	return Result{Hits: hits, Warnings: []string{"degraded to keyword search: " + reason}}, nil
}

func keywordFilterMatches(m *model.Memory, q Query, from, to *time.Time) bool {
	if from != nil && m.CreatedAt.Before(*from) {
		return false
	}
	if to != nil && m.CreatedAt.After(*to) {
		return false
	}
	if len(q.Tags) > 0 {
		switch q.TagMode {
		case TagModeAll:
			for _, t := range q.Tags {
				if !m.HasTag(t) {
					return false
				}
			}
		default:
			found := false
			for _, t := range q.Tags {
				if m.HasTag(t) {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
	}
	if q.MinImportance != nil && m.Importance < *q.MinImportance {
		return false
	}
	if !containsFold(m.Emotion, q.Emotion) ||
		!containsFold(m.Environment, q.Environment) ||
		!containsFold(m.PhysicalState, q.PhysicalState) ||
		!containsFold(m.MentalState, q.MentalState) ||
		!containsFold(m.RelationshipStatus, q.RelationshipStatus) {
		return false
	}
	if q.ActionTag != "" {
		if m.ActionTag == nil || !containsFold(*m.ActionTag, q.ActionTag) {
			return false
		}
	}
	return true
}
