package embed

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeywordFallbackEmbedIsL2Normalized(t *testing.T) {
	k := NewKeywordFallback(64)
	vec, err := k.Embed(context.Background(), "hello world hello")
	require.NoError(t, err)

	var sumSq float32
	for _, v := range vec {
		sumSq += v * v
	}
	assert.InDelta(t, 1.0, sumSq, 1e-3)
}

func TestKeywordFallbackEmbedDefaultsDimension(t *testing.T) {
	k := NewKeywordFallback(0)
	assert.Equal(t, 256, k.Dimension())
}

func TestKeywordFallbackRerankOrdersByOverlap(t *testing.T) {
	k := NewKeywordFallback(32)
	candidates := []Candidate{
		{Key: "low", Content: "totally unrelated text"},
		{Key: "high", Content: "machine learning models and vectors"},
	}
	ranked, err := k.Rerank(context.Background(), "machine learning vectors", candidates)
	require.NoError(t, err)
	require.Len(t, ranked, 2)
	assert.Equal(t, "high", ranked[0].Key)
	assert.GreaterOrEqual(t, ranked[0].Score, ranked[1].Score)
}

func TestKeywordFallbackEmbedIsDeterministic(t *testing.T) {
	k := NewKeywordFallback(32)
	v1, _ := k.Embed(context.Background(), "same text twice")
	v2, _ := k.Embed(context.Background(), "same text twice")
	assert.Equal(t, v1, v2)
}
