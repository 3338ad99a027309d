package knowledge

import "context"

// EmbeddingProvider 抽象嵌入服务。文档与查询分开建模：
// 支持非对称检索的模型对两种任务产生不同向量，混用会降低召回质量。
type EmbeddingProvider interface {
	// EmbedDocuments 批量向量化文档文本。空输入直接返回 nil 而不调用服务。
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	// EmbedQuery 向量化单条查询文本。
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	GetModel() string
	GetProviderName() string
}
