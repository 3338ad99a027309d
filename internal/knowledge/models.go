package knowledge

import "time"

// 知识源类型
const (
	SourceTypeURL  = "url"  // 网页地址，内容通过抓取获得
	SourceTypeText = "text" // 直接录入的文本
)

// 索引结果状态
const (
	IndexStatusSuccess = "success"
	IndexStatusSkipped = "skipped"
	IndexStatusFailed  = "failed"
)

// 索引状态标注（列表接口派生字段）
const (
	IndexingStatusIndexed    = "indexed"
	IndexingStatusNotIndexed = "not_indexed"
)

// KnowledgeSource 注册的知识源。URL 是唯一标识，文本源使用合成的 scheme://id 形式。
type KnowledgeSource struct {
	URL      string `json:"url"`
	Title    string `json:"title"`
	Category string `json:"category"`
	Type     string `json:"type"` // url 或 text
	Content  string `json:"content,omitempty"` // 仅 text 类型有值
}

// SourceWithStatus 带索引状态标注的知识源，仅用于列表接口返回。
type SourceWithStatus struct {
	KnowledgeSource
	IndexingStatus string `json:"indexingStatus"` // indexed 或 not_indexed
}

// CollectedContent 一次网页抓取的临时结果，不落库，由索引流水线立即消费。
type CollectedContent struct {
	URL         string
	Title       string
	Text        string
	ContentHash string // 清洗后文本的 SHA-256 十六进制摘要
	CollectedAt time.Time
}

// ChunkMetadata 同一知识源派生的所有分块共享的元数据。
type ChunkMetadata struct {
	SourceURL   string
	SourceTitle string
	Category    string
}

// TextChunk 分块结果。Index 从 0 开始且在同一源内连续。
type TextChunk struct {
	Text     string
	Index    int
	Metadata ChunkMetadata
}

// VectorPoint 持久化到向量库的最小单元。
// 同一 sourceUrl 下的所有点在任意时刻共享同一个 contentHash。
type VectorPoint struct {
	ID      string // UUID v4
	Dense   []float32
	Payload VectorPayload
}

// VectorPayload 向量点的载荷字段。
type VectorPayload struct {
	Text        string `json:"text"`
	SourceURL   string `json:"sourceUrl"`
	SourceTitle string `json:"sourceTitle"`
	Category    string `json:"category"`
	ChunkIndex  int    `json:"chunkIndex"`
	ContentHash string `json:"contentHash"`
}

// SearchResult 检索结果的读侧投影。
// Score 语义依路径而异：单路检索时为引擎原始相似度/BM25 分数，混合检索时为 RRF 融合分数。
type SearchResult struct {
	Text        string  `json:"text"`
	Score       float64 `json:"score"`
	SourceURL   string  `json:"sourceUrl"`
	SourceTitle string  `json:"sourceTitle"`
	Category    string  `json:"category"`
	ChunkIndex  int     `json:"chunkIndex"`
}

// IndexResult 单个知识源在一次流水线运行中的结果。
type IndexResult struct {
	URL         string `json:"url"`
	Status      string `json:"status"` // success, skipped, failed
	ChunksCount int    `json:"chunksCount,omitempty"`
	Error       string `json:"error,omitempty"`
}
