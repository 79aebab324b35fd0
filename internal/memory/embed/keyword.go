package embed

import (
	"context"
	"math"
	"sort"
	"strings"
)

// KeywordFallback is a deterministic, model-free Embedder and Reranker. The
// app wiring installs it as the embedder when no OpenAI API key is set; an
// embedder that errors at query time is not replaced by it (the search
// pipeline then scans the relational store instead). It hashes
// token presence into a sparse-ish vector so CosineSimilarity still produces
// a meaningful ranking signal without calling out to any model.
type KeywordFallback struct {
	dim int
}

// NewKeywordFallback returns a fallback embedder/reranker with the given
// vector width (must match whatever dimension the persona's vector
// collection was created with).
func NewKeywordFallback(dim int) *KeywordFallback {
	if dim <= 0 {
		dim = 256
	}
	return &KeywordFallback{dim: dim}
}

// Embed implements Embedder by hashing each token into a bucket and
// accumulating term frequency, then L2-normalising.
func (k *KeywordFallback) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, k.dim)
	for _, tok := range tokenize(text) {
		vec[bucket(tok, k.dim)]++
	}
	normalize(vec)
	return vec, nil
}

// Dimension implements Embedder.
func (k *KeywordFallback) Dimension() int { return k.dim }

// Rerank implements Reranker by scoring each candidate on token overlap with
// the query, descending.
func (k *KeywordFallback) Rerank(_ context.Context, query string, candidates []Candidate) ([]Candidate, error) {
	qTokens := tokenSet(query)
	out := make([]Candidate, len(candidates))
	copy(out, candidates)
	for i := range out {
		out[i].Score = overlapScore(qTokens, tokenSet(out[i].Content))
	}
	sortCandidatesByScoreDesc(out)
	return out, nil
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
}

func tokenSet(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, t := range tokenize(text) {
		set[t] = struct{}{}
	}
	return set
}

func overlapScore(a, b map[string]struct{}) float32 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	var hits int
	for t := range a {
		if _, ok := b[t]; ok {
			hits++
		}
	}
	return float32(hits) / float32(len(a))
}

func bucket(token string, dim int) int {
	h := uint32(2166136261)
	for i := 0; i < len(token); i++ {
		h ^= uint32(token[i])
		h *= 16777619
	}
	return int(h % uint32(dim))
}

func normalize(vec []float32) {
	var sumSq float32
	for _, v := range vec {
		sumSq += v * v
	}
	if sumSq == 0 {
		return
	}
	norm := float32(math.Sqrt(float64(sumSq)))
	for i := range vec {
		vec[i] /= norm
	}
}

func sortCandidatesByScoreDesc(c []Candidate) {
	sort.Slice(c, func(i, j int) bool { return c[i].Score > c[j].Score })
}
