// Package app wires the memory-mcp service together: it turns a
// config.Config into a running persona.Registry, search.Pipeline,
// engine.Engine, maintenance.Workers, and mcpserver.Server, the way
// sentinel-x/internal/rag/app.go wires its Milvus store, LLM providers,
// and biz layer into a running RAGService.
package app

import (
	"context"
	"fmt"
	"os"

	"github.com/kart-io/logger"
	"github.com/qdrant/go-client/qdrant"
	"github.com/redis/go-redis/v9"
	"github.com/sashabaranov/go-openai"

	ctxstore "github.com/kart-io/memory-mcp/internal/memory/context"
	"github.com/kart-io/memory-mcp/internal/memory/config"
	"github.com/kart-io/memory-mcp/internal/memory/embed"
	"github.com/kart-io/memory-mcp/internal/memory/persona"
	"github.com/kart-io/memory-mcp/internal/memory/relational"
	"github.com/kart-io/memory-mcp/internal/memory/vector"
)

// buildFactory returns the persona.Factory that lazily constructs every
// per-persona resource bundle (C2 relational store, C3 vector store, C5
// context store) according to cfg. Every resource it opens is file- or
// network-backed per persona except the context store when ContextBackend
// is "redis", which is shared across personas under distinct key
// namespaces.
func buildFactory(cfg config.Config, embedder embed.Embedder) persona.Factory {
	var sharedRedis *redis.Client
	if cfg.ContextBackend == "redis" {
		sharedRedis = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	}

	return func(ctx context.Context, name string) (*relational.Store, vector.Store, ctxstore.ContextStore, error) {
		rel, err := relational.Open(name, persona.SQLitePath(cfg.DataRoot, name))
		if err != nil {
			return nil, nil, nil, fmt.Errorf("open relational store for persona %q: %w", name, err)
		}

		vec, err := buildVectorStore(ctx, cfg, name, embedder)
		if err != nil {
			_ = rel.Close()
			return nil, nil, nil, fmt.Errorf("open vector store for persona %q: %w", name, err)
		}

		var ctxStore ctxstore.ContextStore
		if sharedRedis != nil {
			ctxStore = ctxstore.NewRedisStore(sharedRedis, cfg.RedisNamespace)
		} else {
			ctxStore, err = ctxstore.Open(persona.DataDir(cfg.DataRoot, name))
			if err != nil {
				_ = rel.Close()
				_ = vec.Close()
				return nil, nil, nil, fmt.Errorf("open context store for persona %q: %w", name, err)
			}
		}

		return rel, vec, ctxStore, nil
	}
}

// buildVectorStore picks Qdrant or the in-process brute-force fallback per
// cfg.VectorBackend, falling back to vector.MemStore when Qdrant cannot be
// reached at startup — mirroring the degrade-without-failing-startup rule
// spec.md §4.4 states for the embedder.
func buildVectorStore(ctx context.Context, cfg config.Config, personaName string, embedder embed.Embedder) (vector.Store, error) {
	dim := uint64(embedder.Dimension())

	if cfg.VectorBackend != "qdrant" {
		return vector.NewMemStore(), nil
	}

	qcfg := vector.QdrantConfig{
		URL:            cfg.QdrantAddr,
		APIKey:         os.Getenv("QDRANT_API_KEY"),
		CollectionName: fmt.Sprintf("%s_%s", cfg.QdrantCollection, personaName),
		VectorSize:     dim,
		Distance:       qdrant.Distance_Cosine,
	}
	store, err := vector.NewQdrantStore(ctx, qcfg)
	if err != nil {
		logger.Warnf("app: qdrant unreachable for persona %q, falling back to in-process vector store: %v", personaName, err)
		return vector.NewMemStore(), nil
	}
	return store, nil
}

// buildEmbedder selects OpenAI embeddings when OPENAI_API_KEY is set,
// otherwise degrades to the keyword fallback so startup never fails for
// lack of a provider key (spec.md §4.4).
func buildEmbedder(cfg config.Config) embed.Embedder {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		logger.Warnf("app: OPENAI_API_KEY not set, degrading to keyword-only embedding")
		return embed.NewKeywordFallback(cfg.EmbeddingsDim)
	}
	return embed.NewOpenAIEmbedder(apiKey, openai.EmbeddingModel(cfg.EmbeddingsModel), cfg.EmbeddingsDim)
}

// buildReranker selects Cohere reranking when COHERE_API_KEY is set,
// otherwise returns nil — Pipeline.Run skips reranking entirely when nil,
// per spec.md §4.8 step 4.
func buildReranker(cfg config.Config) embed.Reranker {
	apiKey := os.Getenv("COHERE_API_KEY")
	if apiKey == "" {
		return nil
	}
	return embed.NewCohereReranker(apiKey, cfg.RerankerModel, cfg.RerankerTopN)
}
