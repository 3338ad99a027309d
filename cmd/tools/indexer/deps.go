package main

import (
	"fmt"

	"go.uber.org/zap"

	"llm-backend/internal/config"
	"llm-backend/internal/knowledge"
)

type pipelineDeps struct {
	store    knowledge.VectorStore
	pipeline *knowledge.IndexingPipeline
}

// buildPipeline 从配置装配向量存储、嵌入服务与索引流水线。
func buildPipeline(env string) (*pipelineDeps, error) {
	cfg, err := config.Load(env, "")
	if err != nil {
		return nil, fmt.Errorf("加载配置失败: %w", err)
	}

	store, err := knowledge.NewQdrantStore(knowledge.QdrantOptions{
		Endpoint:        cfg.Qdrant.Endpoint,
		APIKey:          cfg.Qdrant.APIKey,
		Collection:      cfg.Qdrant.Collection,
		VectorDimension: cfg.Qdrant.VectorDimension,
		TimeoutSeconds:  cfg.Qdrant.TimeoutSeconds,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化 Qdrant 失败: %w", err)
	}

	var embedder knowledge.EmbeddingProvider
	switch cfg.Embedding.Provider {
	case "gemini":
		embedder, err = knowledge.NewGeminiEmbeddingProvider(knowledge.GeminiOptions{
			APIKey:         cfg.Embedding.Gemini.APIKey,
			Model:          cfg.Embedding.Gemini.Model,
			BaseURL:        cfg.Embedding.Gemini.BaseURL,
			TimeoutSeconds: cfg.Embedding.Gemini.TimeoutSeconds,
		})
	case "openai":
		embedder, err = knowledge.NewOpenAIEmbeddingProvider(cfg.Embedding.OpenAI.APIKey, cfg.Embedding.OpenAI.Model)
	default:
		return nil, fmt.Errorf("不支持的嵌入服务: %s", cfg.Embedding.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("初始化嵌入服务失败: %w", err)
	}

	chunker := knowledge.NewChunker(cfg.Knowledge.ChunkSize, cfg.Knowledge.ChunkOverlap)
	collector := knowledge.NewHTTPCollector(nil)
	pipeline := knowledge.NewIndexingPipeline(store, collector, chunker, embedder, zap.NewNop())

	return &pipelineDeps{store: store, pipeline: pipeline}, nil
}
