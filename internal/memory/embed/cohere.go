package embed

import (
	"context"

	cohereclient "github.com/cohere-ai/cohere-go/v2/client"
	coherego "github.com/cohere-ai/cohere-go/v2"

	"github.com/kart-io/memory-mcp/internal/memory/errkind"
)

// CohereReranker is the production Reranker, grounded on goagent's
// retrieval.CohereReranker: wraps the Cohere rerank endpoint, mapping
// returned indices back onto the candidate slice.
type CohereReranker struct {
	client *cohereclient.Client
	model  string
	topN   int
}

// NewCohereReranker constructs a reranker. model defaults to
// "rerank-english-v3.0" when empty; topN<=0 means "rerank all, return all".
func NewCohereReranker(apiKey, model string, topN int) *CohereReranker {
	if model == "" {
		model = "rerank-english-v3.0"
	}
	return &CohereReranker{
		client: cohereclient.NewClient(cohereclient.WithToken(apiKey)),
		model:  model,
		topN:   topN,
	}
}

// Rerank implements Reranker.
func (r *CohereReranker) Rerank(ctx context.Context, query string, candidates []Candidate) ([]Candidate, error) {
	docs := make([]*coherego.RerankRequestDocumentsItem, len(candidates))
	for i, c := range candidates {
		docs[i] = &coherego.RerankRequestDocumentsItem{String: coherego.String(c.Content)}
	}

	topN := r.topN
	if topN <= 0 || topN > len(candidates) {
		topN = len(candidates)
	}

	resp, err := r.client.Rerank(ctx, &coherego.RerankRequest{
		Query:     query,
		Documents: docs,
		Model:     &r.model,
		TopN:      coherego.Int(topN),
	})
	if err != nil {
		return nil, errkind.Wrap(err, errkind.Model, "rerank").
			WithComponent("embed.CohereReranker").WithOperation("Rerank")
	}

	out := make([]Candidate, 0, len(resp.Results))
	for _, res := range resp.Results {
		idx := int(res.Index)
		if idx < 0 || idx >= len(candidates) {
			continue
		}
		c := candidates[idx]
		c.Score = float32(res.RelevanceScore)
		out = append(out, c)
	}
	return out, nil
}
