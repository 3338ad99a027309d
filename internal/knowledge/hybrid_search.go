package knowledge

import (
	"context"
	"fmt"
	"sort"
	"time"

	"llm-backend/internal/metrics"

	"golang.org/x/sync/errgroup"
)

// RRF 常数 k
const rrfK = 60

// DefaultSearchLimit 默认返回的检索结果数
const DefaultSearchLimit = 5

// 每路检索的候选倍数，给融合重排留足余量
const prefetchMultiplier = 4

// HybridSearcher 混合检索器。
// Dense 检索擅长语义/同义匹配，Sparse(BM25) 检索擅长专有名词、代码标识符
// 等关键词精确匹配；RRF 只看排名不看原始分数，融合两路无需归一化。
type HybridSearcher struct {
	store    VectorStore
	embedder EmbeddingProvider
}

// NewHybridSearcher 创建混合检索器。
func NewHybridSearcher(store VectorStore, embedder EmbeddingProvider) *HybridSearcher {
	return &HybridSearcher{store: store, embedder: embedder}
}

// Search 执行混合检索。
// 查询向量化后，dense 与 sparse 两路并发检索（各取 limit×4 个候选），
// 再用 RRF 融合取前 limit 条。
func (h *HybridSearcher) Search(ctx context.Context, query string, limit int) ([]*SearchResult, error) {
	start := time.Now()
	if limit <= 0 {
		limit = DefaultSearchLimit
	}

	if err := h.store.EnsureCollection(ctx); err != nil {
		metrics.SearchesTotal.WithLabelValues("failed").Inc()
		return nil, err
	}

	queryVector, err := h.embedder.EmbedQuery(ctx, query)
	if err != nil {
		metrics.SearchesTotal.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("查询向量化失败: %w", err)
	}

	prefetchLimit := limit * prefetchMultiplier

	// 两路检索互不依赖，并发执行，融合前必须都完成
	var denseResults, sparseResults []*SearchResult
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		denseResults, err = h.store.SearchDense(gctx, queryVector, prefetchLimit)
		return err
	})
	g.Go(func() error {
		var err error
		sparseResults, err = h.store.SearchSparse(gctx, query, prefetchLimit)
		return err
	})
	if err := g.Wait(); err != nil {
		metrics.SearchesTotal.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("混合检索失败: %w", err)
	}

	merged := MergeWithRRF(denseResults, sparseResults, limit)

	metrics.SearchesTotal.WithLabelValues("success").Inc()
	metrics.SearchDuration.Observe(time.Since(start).Seconds())
	metrics.SearchResults.Observe(float64(len(merged)))

	return merged, nil
}

// resultKey 结果去重键。text + sourceUrl 的组合:
// 同一分块在 dense/sparse 两侧可能带不同的引擎内部 id，按内容判重。
func resultKey(result *SearchResult) string {
	return result.Text + "::" + result.SourceURL
}

// MergeWithRRF 用 Reciprocal Rank Fusion 融合两路检索结果。
//
// 公式: score = Σ 1/(k+rank)，k=60，rank 从 1 开始。
// 同一个键在两路中都出现时分数累加；代表记录取首次出现的那一条，
// 其 Score 字段被融合分数覆盖。返回按融合分数降序的前 limit 条。
func MergeWithRRF(denseResults, sparseResults []*SearchResult, limit int) []*SearchResult {
	scores := make(map[string]float64)
	representatives := make(map[string]*SearchResult)
	// 保持键的首次出现顺序，让排序在分数相同时保持稳定
	order := make([]string, 0, len(denseResults)+len(sparseResults))

	accumulate := func(results []*SearchResult) {
		for rank, result := range results {
			key := resultKey(result)
			if _, seen := scores[key]; !seen {
				order = append(order, key)
				copied := *result
				representatives[key] = &copied
			}
			scores[key] += 1.0 / float64(rrfK+rank+1)
		}
	}
	accumulate(denseResults)
	accumulate(sparseResults)

	merged := make([]*SearchResult, 0, len(order))
	for _, key := range order {
		result := representatives[key]
		result.Score = scores[key]
		merged = append(merged, result)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Score > merged[j].Score
	})

	if len(merged) > limit {
		merged = merged[:limit]
	}
	return merged
}
