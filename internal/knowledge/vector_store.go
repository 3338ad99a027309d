package knowledge

import (
	"context"
	"errors"
)

// 注册表操作的哨兵错误
var (
	ErrDuplicateSource = errors.New("知识源已存在")
	ErrSourceNotFound  = errors.New("知识源不存在")
)

// VectorStore 抽象向量写入、检索与知识源注册表，可由不同后端实现。
// 分块集合持有 dense + sparse 双命名向量；注册表集合只存元数据。
type VectorStore interface {
	// EnsureCollection 确保分块集合存在，不存在则创建。幂等。
	EnsureCollection(ctx context.Context) error
	// EnsureSourcesCollection 确保知识源注册表集合存在。幂等。
	EnsureSourcesCollection(ctx context.Context) error

	// UpsertPoints 写入一批向量点，空输入为 no-op。
	// 写入带服务端 wait 保证，并为每个点盖上 indexedAt 时间戳。
	UpsertPoints(ctx context.Context, points []*VectorPoint) error
	// DeleteBySourceURL 同步删除指定源的全部向量点。
	DeleteBySourceURL(ctx context.Context, url string) error
	// GetContentHashByURL 返回该源任意一个点的 contentHash。
	// 同一源的所有点共享同一哈希。不存在时返回空串且无错误。
	GetContentHashByURL(ctx context.Context, url string) (string, error)

	// SearchDense 对 dense 命名向量做相似度检索，按分数降序返回。
	SearchDense(ctx context.Context, vector []float32, limit int) ([]*SearchResult, error)
	// SearchSparse 对 sparse 命名向量做 BM25 风格检索，按分数降序返回。
	SearchSparse(ctx context.Context, text string, limit int) ([]*SearchResult, error)

	// AddSource 注册知识源。URL 重复时返回 ErrDuplicateSource。
	AddSource(ctx context.Context, source *KnowledgeSource) error
	// GetAllSources 列出全部知识源并标注派生的索引状态。
	// 状态查询失败降级为 not_indexed，不会让列表整体失败。
	GetAllSources(ctx context.Context) ([]*SourceWithStatus, error)
	// GetSourceByURL 按 URL 查询知识源，不存在时返回 nil 且无错误。
	GetSourceByURL(ctx context.Context, url string) (*KnowledgeSource, error)
	// DeleteSource 删除注册表条目并级联删除该源的向量点。
	// 两步删除不要求原子，但都必须尝试。未注册的 URL 返回 ErrSourceNotFound。
	DeleteSource(ctx context.Context, url string) error
}
