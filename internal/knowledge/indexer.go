package knowledge

import (
	"context"
	"fmt"
	"strings"
	"time"

	"llm-backend/internal/metrics"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// IndexingPipeline 知识源索引流水线。
// 逐源串行处理：采集/校验 → 哈希比对 → 删旧 → 分块 → 嵌入 → 写入。
// 单源失败不会中断整轮，结果按输入顺序逐源返回。
type IndexingPipeline struct {
	store     VectorStore
	collector Collector
	chunker   *Chunker
	embedder  EmbeddingProvider
	logger    *zap.Logger
}

// NewIndexingPipeline 创建索引流水线。所有依赖显式注入。
func NewIndexingPipeline(
	store VectorStore,
	collector Collector,
	chunker *Chunker,
	embedder EmbeddingProvider,
	logger *zap.Logger,
) *IndexingPipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IndexingPipeline{
		store:     store,
		collector: collector,
		chunker:   chunker,
		embedder:  embedder,
		logger:    logger,
	}
}

// RunOptions 一轮流水线的选项。
type RunOptions struct {
	// Force 为 true 时跳过内容哈希比对，无条件重建索引。
	Force bool
}

// Run 对一批知识源执行索引。
// 返回结果与输入一一对应且顺序一致；任何单源错误都被捕获进该源的
// IndexResult，处理继续推进到下一个源。
func (p *IndexingPipeline) Run(ctx context.Context, sources []*KnowledgeSource, opts RunOptions) []IndexResult {
	results := make([]IndexResult, 0, len(sources))

	if err := p.store.EnsureCollection(ctx); err != nil {
		// 集合都建不出来，所有源统一标记失败
		for _, source := range sources {
			results = append(results, IndexResult{
				URL:    source.URL,
				Status: IndexStatusFailed,
				Error:  fmt.Sprintf("初始化向量集合失败: %v", err),
			})
		}
		return results
	}

	for _, source := range sources {
		start := time.Now()

		var result IndexResult
		if source.Type == SourceTypeText {
			result = p.processTextSource(ctx, source, opts)
		} else {
			result = p.processURLSource(ctx, source, opts)
		}

		metrics.IndexSourcesTotal.WithLabelValues(result.Status).Inc()
		metrics.IndexSourceDuration.Observe(time.Since(start).Seconds())

		if result.Status == IndexStatusFailed {
			p.logger.Warn("知识源索引失败",
				zap.String("url", source.URL),
				zap.String("error", result.Error),
			)
		} else {
			p.logger.Info("知识源处理完成",
				zap.String("url", source.URL),
				zap.String("status", result.Status),
				zap.Int("chunks", result.ChunksCount),
			)
		}

		results = append(results, result)
	}

	return results
}

// processURLSource 处理 URL 类型的源：先抓取再比对哈希。
func (p *IndexingPipeline) processURLSource(ctx context.Context, source *KnowledgeSource, opts RunOptions) IndexResult {
	collected, err := p.collector.Collect(ctx, source.URL)
	if err != nil {
		return failedResult(source.URL, err)
	}

	return p.reindex(ctx, source, collected.Text, collected.ContentHash, opts)
}

// processTextSource 处理文本类型的源：内容直接来自注册数据，无网络步骤。
func (p *IndexingPipeline) processTextSource(ctx context.Context, source *KnowledgeSource, opts RunOptions) IndexResult {
	if strings.TrimSpace(source.Content) == "" {
		return IndexResult{
			URL:    source.URL,
			Status: IndexStatusFailed,
			Error:  "文本内容为空",
		}
	}

	contentHash := GenerateContentHash(source.Content)
	return p.reindex(ctx, source, source.Content, contentHash, opts)
}

// reindex 两类源共用的比对/替换流程。
// 删旧永远先于写新：内容变更的源会有一个短暂的零点窗口，
// 但绝不会出现新旧版本混存。
func (p *IndexingPipeline) reindex(ctx context.Context, source *KnowledgeSource, text, contentHash string, opts RunOptions) IndexResult {
	if !opts.Force {
		existingHash, err := p.store.GetContentHashByURL(ctx, source.URL)
		if err != nil {
			return failedResult(source.URL, err)
		}
		if existingHash == contentHash {
			return IndexResult{URL: source.URL, Status: IndexStatusSkipped}
		}
	}

	if err := p.store.DeleteBySourceURL(ctx, source.URL); err != nil {
		return failedResult(source.URL, err)
	}

	metadata := ChunkMetadata{
		SourceURL:   source.URL,
		SourceTitle: source.Title,
		Category:    source.Category,
	}
	chunks := p.chunker.Chunk(text, metadata)
	if len(chunks) == 0 {
		return IndexResult{URL: source.URL, Status: IndexStatusSuccess, ChunksCount: 0}
	}

	texts := make([]string, len(chunks))
	for i, chunk := range chunks {
		texts[i] = chunk.Text
	}

	embeddings, err := p.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return failedResult(source.URL, err)
	}
	if len(embeddings) != len(chunks) {
		return failedResult(source.URL,
			fmt.Errorf("嵌入数量与分块数量不匹配: %d != %d", len(embeddings), len(chunks)))
	}

	points := BuildVectorPoints(chunks, embeddings, contentHash)
	if err := p.store.UpsertPoints(ctx, points); err != nil {
		return failedResult(source.URL, err)
	}

	metrics.IndexChunksUpserted.Add(float64(len(points)))

	return IndexResult{
		URL:         source.URL,
		Status:      IndexStatusSuccess,
		ChunksCount: len(chunks),
	}
}

// BuildVectorPoints 把分块与嵌入组装为向量点，每个点分配新的 UUID。
func BuildVectorPoints(chunks []TextChunk, embeddings [][]float32, contentHash string) []*VectorPoint {
	points := make([]*VectorPoint, len(chunks))
	for i, chunk := range chunks {
		points[i] = &VectorPoint{
			ID:    uuid.New().String(),
			Dense: embeddings[i],
			Payload: VectorPayload{
				Text:        chunk.Text,
				SourceURL:   chunk.Metadata.SourceURL,
				SourceTitle: chunk.Metadata.SourceTitle,
				Category:    chunk.Metadata.Category,
				ChunkIndex:  chunk.Index,
				ContentHash: contentHash,
			},
		}
	}
	return points
}

func failedResult(url string, err error) IndexResult {
	return IndexResult{URL: url, Status: IndexStatusFailed, Error: err.Error()}
}
