package knowledge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// 命名向量
const (
	denseVectorName  = "dense_vector"
	sparseVectorName = "bm25_sparse_vector"
)

// Qdrant 内置 BM25 稀疏推理模型
const sparseInferenceModel = "Qdrant/bm25"

// 注册表集合名后缀
const sourcesCollectionSuffix = "_sources"

// QdrantOptions 初始化 Qdrant 向量存储的配置。
type QdrantOptions struct {
	Endpoint            string
	APIKey              string
	Collection          string
	VectorDimension     int
	TimeoutSeconds      int
	HTTPClient          *http.Client
	SkipCollectionCheck bool
}

// QdrantStore 基于 Qdrant HTTP API 的 VectorStore 实现。
// 分块集合: dense(Cosine) + sparse(BM25 IDF) 双命名向量，sourceUrl 建 keyword 索引。
// 注册表集合: <collection>_sources，1 维占位向量，每个知识源一个点。
type QdrantStore struct {
	client     *http.Client
	baseURL    string
	apiKey     string
	collection string
	vectorSize int
	skipEnsure bool

	ensureOnce    sync.Once
	ensureErr     error
	ensureSrcOnce sync.Once
	ensureSrcErr  error
}

// NewQdrantStore 创建 Qdrant 向量存储实例。
func NewQdrantStore(opts QdrantOptions) (*QdrantStore, error) {
	baseURL := strings.TrimSpace(opts.Endpoint)
	if baseURL == "" {
		return nil, fmt.Errorf("qdrant endpoint 不能为空")
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	collection := opts.Collection
	if collection == "" {
		collection = "knowledge_chunks"
	}

	vectorSize := opts.VectorDimension
	if vectorSize <= 0 {
		vectorSize = 768
	}

	timeout := opts.TimeoutSeconds
	if timeout <= 0 {
		timeout = 10
	}

	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: time.Duration(timeout) * time.Second}
	}

	return &QdrantStore{
		client:     client,
		baseURL:    baseURL,
		apiKey:     opts.APIKey,
		collection: collection,
		vectorSize: vectorSize,
		skipEnsure: opts.SkipCollectionCheck,
	}, nil
}

// SourcesCollection 返回注册表集合名。
func (s *QdrantStore) SourcesCollection() string {
	return s.collection + sourcesCollectionSuffix
}

// EnsureCollection 确保分块集合存在。幂等，进程内只探测/创建一次。
func (s *QdrantStore) EnsureCollection(ctx context.Context) error {
	if s.skipEnsure {
		return nil
	}
	s.ensureOnce.Do(func() {
		if s.collectionExists(ctx, s.collection) {
			return
		}

		createReq := createCollectionRequest{
			Vectors: map[string]qdrantVectorParams{
				denseVectorName: {Size: s.vectorSize, Distance: "Cosine"},
			},
			SparseVectors: map[string]qdrantSparseParams{
				sparseVectorName: {Modifier: "idf"},
			},
		}
		var resp qdrantOperationResponse
		s.ensureErr = s.doRequest(ctx, http.MethodPut, s.collectionPath(s.collection, ""), createReq, &resp)
		if s.ensureErr == nil && resp.Status != "ok" {
			s.ensureErr = fmt.Errorf("创建 Qdrant 集合失败: %s", resp.Error)
			return
		}
		if s.ensureErr != nil {
			return
		}

		// sourceUrl 建 keyword 索引，加速按源过滤的删除与查询
		indexReq := createIndexRequest{FieldName: "sourceUrl", FieldSchema: "keyword"}
		s.ensureErr = s.doRequest(ctx, http.MethodPut,
			s.collectionPath(s.collection, "/index?wait=true"), indexReq, &resp)
	})
	return s.ensureErr
}

// EnsureSourcesCollection 确保注册表集合存在。幂等。
func (s *QdrantStore) EnsureSourcesCollection(ctx context.Context) error {
	if s.skipEnsure {
		return nil
	}
	s.ensureSrcOnce.Do(func() {
		name := s.SourcesCollection()
		if s.collectionExists(ctx, name) {
			return
		}

		// 注册表不做相似度检索，1 维占位向量即可
		createReq := createCollectionRequest{
			Vectors: map[string]qdrantVectorParams{
				denseVectorName: {Size: 1, Distance: "Cosine"},
			},
		}
		var resp qdrantOperationResponse
		s.ensureSrcErr = s.doRequest(ctx, http.MethodPut, s.collectionPath(name, ""), createReq, &resp)
		if s.ensureSrcErr == nil && resp.Status != "ok" {
			s.ensureSrcErr = fmt.Errorf("创建知识源集合失败: %s", resp.Error)
			return
		}
		if s.ensureSrcErr != nil {
			return
		}

		indexReq := createIndexRequest{FieldName: "url", FieldSchema: "keyword"}
		s.ensureSrcErr = s.doRequest(ctx, http.MethodPut,
			s.collectionPath(name, "/index?wait=true"), indexReq, &resp)
	})
	return s.ensureSrcErr
}

// UpsertPoints 写入或更新一批向量点。
// 每个点统一盖上当前时间戳与 sourceType 标记。
func (s *QdrantStore) UpsertPoints(ctx context.Context, points []*VectorPoint) error {
	if len(points) == 0 {
		return nil
	}
	if err := s.EnsureCollection(ctx); err != nil {
		return err
	}

	now := time.Now().Format(time.RFC3339)
	qdrantPoints := make([]qdrantPoint, 0, len(points))
	for _, point := range points {
		if point == nil {
			continue
		}
		if len(point.Dense) != s.vectorSize {
			return fmt.Errorf("向量维度不匹配: 期望 %d 实际 %d", s.vectorSize, len(point.Dense))
		}

		qdrantPoints = append(qdrantPoints, qdrantPoint{
			ID: point.ID,
			Vector: map[string]any{
				denseVectorName: point.Dense,
			},
			Payload: map[string]any{
				"text":        point.Payload.Text,
				"sourceUrl":   point.Payload.SourceURL,
				"sourceTitle": point.Payload.SourceTitle,
				"category":    point.Payload.Category,
				"chunkIndex":  point.Payload.ChunkIndex,
				"contentHash": point.Payload.ContentHash,
				"indexedAt":   now,
				"sourceType":  "url",
			},
		})
	}

	req := upsertPointsRequest{Points: qdrantPoints}
	var resp qdrantOperationResponse
	if err := s.doRequest(ctx, http.MethodPut,
		s.collectionPath(s.collection, "/points?wait=true"), req, &resp); err != nil {
		return err
	}
	if resp.Status != "ok" {
		return fmt.Errorf("qdrant upsert 失败: %s", resp.Error)
	}
	return nil
}

// DeleteBySourceURL 删除指定源的全部向量点。
func (s *QdrantStore) DeleteBySourceURL(ctx context.Context, sourceURL string) error {
	return s.deleteByFilter(ctx, s.collection, mustMatchFilter("sourceUrl", sourceURL))
}

// GetContentHashByURL 查询该源任意一个点的 contentHash。
// 同一源的所有点共享同一哈希，取一个即可。
func (s *QdrantStore) GetContentHashByURL(ctx context.Context, sourceURL string) (string, error) {
	req := scrollRequest{
		Filter:      mustMatchFilter("sourceUrl", sourceURL),
		Limit:       1,
		WithPayload: []string{"contentHash"},
	}

	var resp scrollResponse
	if err := s.doRequest(ctx, http.MethodPost,
		s.collectionPath(s.collection, "/points/scroll"), req, &resp); err != nil {
		return "", err
	}
	if resp.Status != "ok" {
		return "", fmt.Errorf("qdrant scroll 失败: %s", resp.Error)
	}

	if len(resp.Result.Points) == 0 {
		return "", nil
	}
	return stringFromPayload(resp.Result.Points[0].Payload, "contentHash"), nil
}

// SearchDense 对 dense 命名向量做相似度检索。
func (s *QdrantStore) SearchDense(ctx context.Context, vector []float32, limit int) ([]*SearchResult, error) {
	if len(vector) == 0 {
		return nil, fmt.Errorf("查询向量不能为空")
	}
	if limit <= 0 {
		limit = 5
	}

	req := denseSearchRequest{
		Vector:      namedVector{Name: denseVectorName, Vector: vector},
		Limit:       limit,
		WithPayload: true,
	}

	var resp searchResponse
	if err := s.doRequest(ctx, http.MethodPost,
		s.collectionPath(s.collection, "/points/search"), req, &resp); err != nil {
		return nil, err
	}
	if resp.Status != "ok" {
		return nil, fmt.Errorf("qdrant search 失败: %s", resp.Error)
	}

	return toSearchResults(resp.Result), nil
}

// SearchSparse 对 sparse 命名向量做 BM25 检索。
// 稀疏向量由 Qdrant 内置推理模型从查询文本现场生成。
func (s *QdrantStore) SearchSparse(ctx context.Context, text string, limit int) ([]*SearchResult, error) {
	if limit <= 0 {
		limit = 5
	}

	req := sparseQueryRequest{
		Query:       sparseQueryDocument{Text: text, Model: sparseInferenceModel},
		Using:       sparseVectorName,
		Limit:       limit,
		WithPayload: true,
	}

	var resp queryResponse
	if err := s.doRequest(ctx, http.MethodPost,
		s.collectionPath(s.collection, "/points/query"), req, &resp); err != nil {
		return nil, err
	}
	if resp.Status != "ok" {
		return nil, fmt.Errorf("qdrant query 失败: %s", resp.Error)
	}

	return toSearchResults(resp.Result.Points), nil
}

// AddSource 注册新的知识源。URL 重复时返回 ErrDuplicateSource。
func (s *QdrantStore) AddSource(ctx context.Context, source *KnowledgeSource) error {
	if err := s.EnsureSourcesCollection(ctx); err != nil {
		return err
	}

	existing, err := s.GetSourceByURL(ctx, source.URL)
	if err != nil {
		return err
	}
	if existing != nil {
		return fmt.Errorf("%w: %s", ErrDuplicateSource, source.URL)
	}

	payload := map[string]any{
		"url":       source.URL,
		"title":     source.Title,
		"category":  source.Category,
		"type":      source.Type,
		"createdAt": time.Now().Format(time.RFC3339),
	}
	if source.Type == SourceTypeText {
		payload["content"] = source.Content
	}

	req := upsertPointsRequest{Points: []qdrantPoint{{
		ID:      uuid.New().String(),
		Vector:  map[string]any{denseVectorName: []float32{0}},
		Payload: payload,
	}}}

	var resp qdrantOperationResponse
	if err := s.doRequest(ctx, http.MethodPut,
		s.collectionPath(s.SourcesCollection(), "/points?wait=true"), req, &resp); err != nil {
		return err
	}
	if resp.Status != "ok" {
		return fmt.Errorf("注册知识源失败: %s", resp.Error)
	}
	return nil
}

// GetAllSources 列出全部知识源，并按分块集合中的 contentHash 存在性标注索引状态。
// 状态查询失败降级为 not_indexed，不中断列表。
func (s *QdrantStore) GetAllSources(ctx context.Context) ([]*SourceWithStatus, error) {
	if err := s.EnsureSourcesCollection(ctx); err != nil {
		return nil, err
	}

	var sources []*SourceWithStatus
	var offset any

	for {
		req := scrollRequest{Limit: 256, WithPayload: true, Offset: offset}
		var resp scrollResponse
		if err := s.doRequest(ctx, http.MethodPost,
			s.collectionPath(s.SourcesCollection(), "/points/scroll"), req, &resp); err != nil {
			return nil, err
		}
		if resp.Status != "ok" {
			return nil, fmt.Errorf("读取知识源列表失败: %s", resp.Error)
		}

		for _, point := range resp.Result.Points {
			source := sourceFromPayload(point.Payload)

			status := IndexingStatusNotIndexed
			hash, err := s.GetContentHashByURL(ctx, source.URL)
			if err == nil && hash != "" {
				status = IndexingStatusIndexed
			}

			sources = append(sources, &SourceWithStatus{
				KnowledgeSource: *source,
				IndexingStatus:  status,
			})
		}

		if resp.Result.NextPageOffset == nil {
			break
		}
		offset = resp.Result.NextPageOffset
	}

	return sources, nil
}

// GetSourceByURL 按 URL 查询知识源，不存在时返回 nil。
func (s *QdrantStore) GetSourceByURL(ctx context.Context, sourceURL string) (*KnowledgeSource, error) {
	req := scrollRequest{
		Filter:      mustMatchFilter("url", sourceURL),
		Limit:       1,
		WithPayload: true,
	}

	var resp scrollResponse
	if err := s.doRequest(ctx, http.MethodPost,
		s.collectionPath(s.SourcesCollection(), "/points/scroll"), req, &resp); err != nil {
		return nil, err
	}
	if resp.Status != "ok" {
		return nil, fmt.Errorf("查询知识源失败: %s", resp.Error)
	}

	if len(resp.Result.Points) == 0 {
		return nil, nil
	}
	return sourceFromPayload(resp.Result.Points[0].Payload), nil
}

// DeleteSource 删除注册表条目并级联删除分块向量。
// 两次删除不原子，但无论前者结果如何都会尝试后者。
func (s *QdrantStore) DeleteSource(ctx context.Context, sourceURL string) error {
	existing, err := s.GetSourceByURL(ctx, sourceURL)
	if err != nil {
		return err
	}
	if existing == nil {
		return fmt.Errorf("%w: %s", ErrSourceNotFound, sourceURL)
	}

	registryErr := s.deleteByFilter(ctx, s.SourcesCollection(), mustMatchFilter("url", sourceURL))
	chunksErr := s.DeleteBySourceURL(ctx, sourceURL)

	if registryErr != nil {
		return fmt.Errorf("删除知识源注册条目失败: %w", registryErr)
	}
	if chunksErr != nil {
		return fmt.Errorf("删除知识源向量数据失败: %w", chunksErr)
	}
	return nil
}

// --- 内部辅助 ---

func (s *QdrantStore) collectionPath(collection, path string) string {
	return fmt.Sprintf("/collections/%s%s", url.PathEscape(collection), path)
}

func (s *QdrantStore) collectionExists(ctx context.Context, collection string) bool {
	var resp qdrantOperationResponse
	err := s.doRequest(ctx, http.MethodGet, s.collectionPath(collection, ""), nil, &resp)
	return err == nil && resp.Status == "ok"
}

func (s *QdrantStore) deleteByFilter(ctx context.Context, collection string, filter *qdrantFilter) error {
	req := deletePointsRequest{Filter: filter}
	var resp qdrantOperationResponse
	if err := s.doRequest(ctx, http.MethodPost,
		s.collectionPath(collection, "/points/delete?wait=true"), req, &resp); err != nil {
		return err
	}
	if resp.Status != "ok" {
		return fmt.Errorf("qdrant delete 失败: %s", resp.Error)
	}
	return nil
}

func (s *QdrantStore) doRequest(ctx context.Context, method, path string, payload any, dest any) error {
	var bodyReader *bytes.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("序列化请求失败: %w", err)
		}
		bodyReader = bytes.NewReader(buf)
	} else {
		bodyReader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, bodyReader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errBody map[string]any
		_ = json.NewDecoder(resp.Body).Decode(&errBody)
		return fmt.Errorf("qdrant API 错误: %v (%d)", errBody["status"], resp.StatusCode)
	}

	if dest == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(dest)
}

func mustMatchFilter(key, value string) *qdrantFilter {
	return &qdrantFilter{Must: []fieldCondition{{
		Key:   key,
		Match: fieldMatch{Value: value},
	}}}
}

func toSearchResults(entries []searchResultEntry) []*SearchResult {
	results := make([]*SearchResult, 0, len(entries))
	for _, entry := range entries {
		results = append(results, &SearchResult{
			Text:        stringFromPayload(entry.Payload, "text"),
			Score:       entry.Score,
			SourceURL:   stringFromPayload(entry.Payload, "sourceUrl"),
			SourceTitle: stringFromPayload(entry.Payload, "sourceTitle"),
			Category:    stringFromPayload(entry.Payload, "category"),
			ChunkIndex:  intFromPayload(entry.Payload, "chunkIndex"),
		})
	}
	return results
}

func sourceFromPayload(payload map[string]any) *KnowledgeSource {
	sourceType := stringFromPayload(payload, "type")
	if sourceType == "" {
		sourceType = SourceTypeURL
	}
	return &KnowledgeSource{
		URL:      stringFromPayload(payload, "url"),
		Title:    stringFromPayload(payload, "title"),
		Category: stringFromPayload(payload, "category"),
		Type:     sourceType,
		Content:  stringFromPayload(payload, "content"),
	}
}

func stringFromPayload(payload map[string]any, key string) string {
	if payload == nil {
		return ""
	}
	if v, ok := payload[key]; ok && v != nil {
		return fmt.Sprint(v)
	}
	return ""
}

func intFromPayload(payload map[string]any, key string) int {
	if payload == nil {
		return 0
	}
	switch n := payload[key].(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case json.Number:
		v, _ := n.Int64()
		return int(v)
	default:
		return 0
	}
}

// --- Qdrant API payloads ---

type qdrantVectorParams struct {
	Size     int    `json:"size"`
	Distance string `json:"distance"`
}

type qdrantSparseParams struct {
	Modifier string `json:"modifier"`
}

type createCollectionRequest struct {
	Vectors       map[string]qdrantVectorParams `json:"vectors"`
	SparseVectors map[string]qdrantSparseParams `json:"sparse_vectors,omitempty"`
}

type createIndexRequest struct {
	FieldName   string `json:"field_name"`
	FieldSchema string `json:"field_schema"`
}

type qdrantPoint struct {
	ID      string         `json:"id"`
	Vector  map[string]any `json:"vector"`
	Payload map[string]any `json:"payload"`
}

type upsertPointsRequest struct {
	Points []qdrantPoint `json:"points"`
}

type fieldCondition struct {
	Key   string     `json:"key"`
	Match fieldMatch `json:"match"`
}

type fieldMatch struct {
	Value any `json:"value"`
}

type qdrantFilter struct {
	Must []fieldCondition `json:"must,omitempty"`
}

type deletePointsRequest struct {
	Filter *qdrantFilter `json:"filter,omitempty"`
}

type namedVector struct {
	Name   string    `json:"name"`
	Vector []float32 `json:"vector"`
}

type denseSearchRequest struct {
	Vector      namedVector `json:"vector"`
	Limit       int         `json:"limit"`
	WithPayload bool        `json:"with_payload"`
}

type sparseQueryDocument struct {
	Text  string `json:"text"`
	Model string `json:"model"`
}

type sparseQueryRequest struct {
	Query       sparseQueryDocument `json:"query"`
	Using       string              `json:"using"`
	Limit       int                 `json:"limit"`
	WithPayload bool                `json:"with_payload"`
}

type searchResultEntry struct {
	ID      any            `json:"id"`
	Score   float64        `json:"score"`
	Payload map[string]any `json:"payload"`
}

type searchResponse struct {
	Status string              `json:"status"`
	Result []searchResultEntry `json:"result"`
	Error  string              `json:"error"`
}

type queryResponse struct {
	Status string `json:"status"`
	Result struct {
		Points []searchResultEntry `json:"points"`
	} `json:"result"`
	Error string `json:"error"`
}

type scrollRequest struct {
	Filter      *qdrantFilter `json:"filter,omitempty"`
	Limit       int           `json:"limit"`
	WithPayload any           `json:"with_payload,omitempty"`
	Offset      any           `json:"offset,omitempty"`
}

type scrollResponse struct {
	Status string `json:"status"`
	Result struct {
		Points         []searchResultEntry `json:"points"`
		NextPageOffset any                 `json:"next_page_offset"`
	} `json:"result"`
	Error string `json:"error"`
}

type qdrantOperationResponse struct {
	Status string `json:"status"`
	Error  string `json:"error"`
}
