// Package vector implements the per-persona approximate-nearest-neighbour
// index (component C3): a derived, eventually consistent view over the
// memories held by the relational store, queried by semantic similarity and
// an optional conjunctive payload filter.
package vector

import (
	"context"
	"math"
)

// Point is a single vector-store record: id=key, the embedding, and every
// metadata field from the data model, carried as an opaque payload.
type Point struct {
	Key     string
	Vector  []float32
	Payload map[string]any
}

// Result is a single similarity-search hit.
type Result struct {
	Key        string
	Similarity float32
	Payload    map[string]any
}

// Filter is a conjunction of predicates pushed down to the vector store.
// Text-field substring matching (emotion, action_tag, environment, ...) is
// intentionally not part of this filter: it is applied by the search
// pipeline after retrieval, since it needs substring semantics no ANN
// backend implements natively (see spec.md §4.8 step 3).
type Filter struct {
	// TagsAny matches if the payload's tags intersect this set (OR).
	TagsAny []string
	// TagsAll matches only if the payload's tags are a superset of this set (AND).
	// Mutually exclusive with TagsAny; if both are set, TagsAll wins.
	TagsAll []string
	// CreatedFrom/CreatedTo bound created_at inclusively. Nil means unbounded.
	CreatedFrom *int64 // unix seconds
	CreatedTo   *int64
	// MinImportance lower-bounds the importance field.
	MinImportance *float64
}

// Store is the canonical interface for the per-persona vector index.
// Implementations: Qdrant (production) and an in-process brute-force index
// (fallback when Qdrant is unreachable, and for tests).
type Store interface {
	// Upsert inserts or replaces the point for key. Idempotent on key.
	Upsert(ctx context.Context, key string, vector []float32, payload map[string]any) error

	// Delete removes the point for key. No error if it does not exist.
	Delete(ctx context.Context, key string) error

	// Search returns the top k points matching the query vector and filter,
	// ordered by descending cosine similarity.
	Search(ctx context.Context, query []float32, k int, filter *Filter) ([]Result, error)

	// Count returns the number of points currently indexed.
	Count(ctx context.Context) (int, error)

	// RebuildFrom wipes the collection and reinserts every point, used by
	// the idle-rebuild maintenance worker (C9) after a burst of writes and
	// to recover from a crash where C3 lagged C2.
	RebuildFrom(ctx context.Context, points []Point) error

	// Dimension reports the vector dimension the collection was created
	// with, or 0 if no collection exists yet.
	Dimension(ctx context.Context) (int, error)

	// AllVectors returns every (key, vector, payload) currently indexed, used
	// by the duplicate-pair detector (C9) to compute pairwise similarities.
	AllVectors(ctx context.Context) ([]Point, error)

	// Close releases any underlying connection.
	Close() error
}

// CosineSimilarity computes the cosine similarity between two equal-length
// vectors. Used by the in-memory fallback store and by the duplicate
// detector's pairwise comparison.
func CosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

// matchesTags applies the Filter's tag predicate against a payload's tags.
func matchesTags(payloadTags []string, f *Filter) bool {
	if f == nil || (len(f.TagsAny) == 0 && len(f.TagsAll) == 0) {
		return true
	}
	set := make(map[string]struct{}, len(payloadTags))
	for _, t := range payloadTags {
		set[t] = struct{}{}
	}
	if len(f.TagsAll) > 0 {
		for _, t := range f.TagsAll {
			if _, ok := set[t]; !ok {
				return false
			}
		}
		return true
	}
	for _, t := range f.TagsAny {
		if _, ok := set[t]; ok {
			return true
		}
	}
	return false
}

func payloadTags(payload map[string]any) []string {
	raw, ok := payload["tags"]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, x := range v {
			if s, ok := x.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func matchesNumericAndDate(payload map[string]any, f *Filter) bool {
	if f == nil {
		return true
	}
	if f.MinImportance != nil {
		imp, _ := payload["importance"].(float64)
		if imp < *f.MinImportance {
			return false
		}
	}
	if f.CreatedFrom != nil || f.CreatedTo != nil {
		created, _ := payload["created_at"].(int64)
		if f.CreatedFrom != nil && created < *f.CreatedFrom {
			return false
		}
		if f.CreatedTo != nil && created > *f.CreatedTo {
			return false
		}
	}
	return true
}

// Matches reports whether a payload satisfies f in full (tags + numeric/date).
// Shared by the in-memory backend and by callers post-filtering Qdrant
// results defensively.
func Matches(payload map[string]any, f *Filter) bool {
	return matchesTags(payloadTags(payload), f) && matchesNumericAndDate(payload, f)
}
