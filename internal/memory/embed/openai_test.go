package embed

import (
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
)

func TestNewOpenAIEmbedderAppliesDefaultsWhenZero(t *testing.T) {
	e := NewOpenAIEmbedder("test-key", "", 0)
	assert.Equal(t, 1536, e.Dimension())
	assert.Equal(t, openai.SmallEmbedding3, e.model)
}

func TestNewOpenAIEmbedderHonoursExplicitModelAndDim(t *testing.T) {
	e := NewOpenAIEmbedder("test-key", openai.LargeEmbedding3, 3072)
	assert.Equal(t, 3072, e.Dimension())
	assert.Equal(t, openai.LargeEmbedding3, e.model)
}
