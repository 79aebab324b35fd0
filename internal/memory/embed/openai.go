package embed

import (
	"context"

	"github.com/sashabaranov/go-openai"

	"github.com/kart-io/memory-mcp/internal/memory/errkind"
)

// OpenAIEmbedder is the production Embedder, grounded on goagent's
// llm/providers OpenAI embedding call.
type OpenAIEmbedder struct {
	client *openai.Client
	model  openai.EmbeddingModel
	dim    int
}

// NewOpenAIEmbedder constructs an embedder bound to model (defaults to
// text-embedding-3-small, dim 1536, when model is empty).
func NewOpenAIEmbedder(apiKey string, model openai.EmbeddingModel, dim int) *OpenAIEmbedder {
	if model == "" {
		model = openai.SmallEmbedding3
	}
	if dim == 0 {
		dim = 1536
	}
	return &OpenAIEmbedder{
		client: openai.NewClient(apiKey),
		model:  model,
		dim:    dim,
	}
}

// Embed implements Embedder.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: e.model,
	})
	if err != nil {
		return nil, errkind.Wrap(err, errkind.Model, "create embedding").
			WithComponent("embed.OpenAIEmbedder").WithOperation("Embed")
	}
	if len(resp.Data) == 0 {
		return nil, errkind.New(errkind.Model, "embedding response contained no data").
			WithComponent("embed.OpenAIEmbedder").WithOperation("Embed")
	}
	return resp.Data[0].Embedding, nil
}

// Dimension implements Embedder.
func (e *OpenAIEmbedder) Dimension() int { return e.dim }
