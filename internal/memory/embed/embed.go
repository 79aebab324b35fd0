// Package embed defines the model ports used by the search pipeline — an
// embedder that turns text into vectors, and an optional reranker that
// reorders a candidate set by relevance to a query — plus KeywordFallback, a
// deterministic no-model implementation of both.
package embed

import "context"

// Embedder turns text into a fixed-dimension vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

// Candidate is a document presented to a Reranker.
type Candidate struct {
	Key     string
	Content string
	// Score carries the Reranker's relevance score back; callers read this
	// after Rerank returns.
	Score float32
}

// Reranker reorders candidates by relevance to query, returning them in the
// new order with Score populated.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []Candidate) ([]Candidate, error)
}
