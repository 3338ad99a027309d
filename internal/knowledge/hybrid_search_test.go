package knowledge

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func result(text, url string, score float64) *SearchResult {
	return &SearchResult{Text: text, SourceURL: url, Score: score}
}

func TestMergeWithRRFBothListsBoostRank(t *testing.T) {
	dense := []*SearchResult{
		result("A", "u1", 0.91),
		result("B", "u2", 0.85),
	}
	sparse := []*SearchResult{
		result("B", "u2", 12.3),
		result("C", "u3", 8.7),
	}

	merged := MergeWithRRF(dense, sparse, 10)
	require.Len(t, merged, 3)

	// B 两路都命中第 1/2 名: 1/61 + 1/61；A 只有 dense 第 1 名: 1/61；C 1/62
	require.Equal(t, "B", merged[0].Text)
	require.Equal(t, "A", merged[1].Text)
	require.Equal(t, "C", merged[2].Text)

	require.InDelta(t, 1.0/61+1.0/61, merged[0].Score, 1e-12)
	require.InDelta(t, 1.0/61, merged[1].Score, 1e-12)
	require.InDelta(t, 1.0/62, merged[2].Score, 1e-12)
}

func TestMergeWithRRFLimit(t *testing.T) {
	dense := []*SearchResult{
		result("A", "u", 0), result("B", "u", 0), result("C", "u", 0),
	}
	merged := MergeWithRRF(dense, nil, 2)
	require.Len(t, merged, 2)
	require.Equal(t, "A", merged[0].Text)
	require.Equal(t, "B", merged[1].Text)
}

func TestMergeWithRRFEmptyInputs(t *testing.T) {
	require.Empty(t, MergeWithRRF(nil, nil, 5))
	require.Empty(t, MergeWithRRF([]*SearchResult{}, []*SearchResult{}, 5))
}

func TestMergeWithRRFDedupByTextAndURL(t *testing.T) {
	// 相同文本但不同来源的分块不能视为同一条
	dense := []*SearchResult{result("same text", "u1", 0)}
	sparse := []*SearchResult{result("same text", "u2", 0)}

	merged := MergeWithRRF(dense, sparse, 10)
	require.Len(t, merged, 2)
}

func TestMergeWithRRFDoesNotMutateInput(t *testing.T) {
	dense := []*SearchResult{result("A", "u1", 0.91)}
	sparse := []*SearchResult{result("A", "u1", 12.3)}

	_ = MergeWithRRF(dense, sparse, 10)
	require.Equal(t, 0.91, dense[0].Score)
	require.Equal(t, 12.3, sparse[0].Score)
}

func TestMergeWithRRFStableTieOrder(t *testing.T) {
	// 同分时保持首次出现顺序
	dense := []*SearchResult{result("A", "u", 0), result("B", "u", 0)}
	sparse := []*SearchResult{result("B", "u", 0), result("A", "u", 0)}

	merged := MergeWithRRF(dense, sparse, 10)
	require.Len(t, merged, 2)
	require.Equal(t, "A", merged[0].Text)
	require.Equal(t, "B", merged[1].Text)
	require.True(t, math.Abs(merged[0].Score-merged[1].Score) < 1e-12)
}

func TestHybridSearch(t *testing.T) {
	store := newFakeVectorStore()
	store.denseResults = []*SearchResult{
		result("dense hit", "u1", 0.9),
		result("shared hit", "u2", 0.8),
	}
	store.sparseResult = []*SearchResult{
		result("shared hit", "u2", 11.0),
		result("sparse hit", "u3", 9.0),
	}

	searcher := NewHybridSearcher(store, &fakeEmbedder{})
	results, err := searcher.Search(context.Background(), "어떤 프로젝트를 했나요", 5)
	require.NoError(t, err)

	require.Len(t, results, 3)
	require.Equal(t, "shared hit", results[0].Text)

	// 两路各取 limit*4 个候选
	require.Equal(t, 20, store.denseLimit)
	require.Equal(t, 20, store.sparseLim)
}

func TestHybridSearchDefaultLimit(t *testing.T) {
	store := newFakeVectorStore()
	searcher := NewHybridSearcher(store, &fakeEmbedder{})

	_, err := searcher.Search(context.Background(), "q", 0)
	require.NoError(t, err)
	require.Equal(t, DefaultSearchLimit*4, store.denseLimit)
}

func TestHybridSearchEmbedQueryFailure(t *testing.T) {
	store := newFakeVectorStore()
	searcher := NewHybridSearcher(store, &fakeEmbedder{queryErr: errors.New("api down")})

	_, err := searcher.Search(context.Background(), "q", 5)
	require.Error(t, err)
	require.Contains(t, err.Error(), "查询向量化失败")
}

func TestHybridSearchBranchFailure(t *testing.T) {
	store := newFakeVectorStore()
	store.sparseErr = errors.New("sparse backend down")
	searcher := NewHybridSearcher(store, &fakeEmbedder{})

	_, err := searcher.Search(context.Background(), "q", 5)
	require.Error(t, err)
	require.Contains(t, err.Error(), "混合检索失败")
}
