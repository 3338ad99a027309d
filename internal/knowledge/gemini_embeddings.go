package knowledge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Gemini 任务类型
const (
	geminiTaskDocument = "RETRIEVAL_DOCUMENT"
	geminiTaskQuery    = "RETRIEVAL_QUERY"
)

const defaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// GeminiOptions 初始化 Gemini 嵌入提供者的配置。
type GeminiOptions struct {
	APIKey         string
	Model          string // 默认 gemini-embedding-001
	BaseURL        string
	TimeoutSeconds int
	HTTPClient     *http.Client
}

// GeminiEmbeddingProvider 基于 Generative Language HTTP API 的嵌入实现。
// 文档用 RETRIEVAL_DOCUMENT，查询用 RETRIEVAL_QUERY。
type GeminiEmbeddingProvider struct {
	client  *http.Client
	baseURL string
	apiKey  string
	model   string
}

// NewGeminiEmbeddingProvider 创建 Gemini 嵌入提供者。
// APIKey 缺失属于不可恢复的配置错误，直接失败。
func NewGeminiEmbeddingProvider(opts GeminiOptions) (*GeminiEmbeddingProvider, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, fmt.Errorf("gemini api key 未配置")
	}

	model := opts.Model
	if model == "" {
		model = "gemini-embedding-001"
	}

	baseURL := strings.TrimSpace(opts.BaseURL)
	if baseURL == "" {
		baseURL = defaultGeminiBaseURL
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	timeout := opts.TimeoutSeconds
	if timeout <= 0 {
		timeout = 30
	}

	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: time.Duration(timeout) * time.Second}
	}

	return &GeminiEmbeddingProvider{
		client:  client,
		baseURL: baseURL,
		apiKey:  opts.APIKey,
		model:   model,
	}, nil
}

// EmbedDocuments 批量向量化文档文本。
func (p *GeminiEmbeddingProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	requests := make([]geminiEmbedRequest, len(texts))
	for i, text := range texts {
		requests[i] = geminiEmbedRequest{
			Model:    "models/" + p.model,
			Content:  geminiContent{Parts: []geminiPart{{Text: text}}},
			TaskType: geminiTaskDocument,
		}
	}

	var resp geminiBatchEmbedResponse
	path := fmt.Sprintf("/models/%s:batchEmbedContents", p.model)
	if err := p.doRequest(ctx, path, geminiBatchEmbedRequest{Requests: requests}, &resp); err != nil {
		return nil, err
	}

	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("嵌入响应数量不匹配: 期望 %d 实际 %d", len(texts), len(resp.Embeddings))
	}

	vectors := make([][]float32, len(resp.Embeddings))
	for i, embedding := range resp.Embeddings {
		if len(embedding.Values) == 0 {
			return nil, fmt.Errorf("嵌入响应缺少向量数据 (index %d)", i)
		}
		vectors[i] = embedding.Values
	}
	return vectors, nil
}

// EmbedQuery 向量化单条查询文本。
func (p *GeminiEmbeddingProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	req := geminiEmbedRequest{
		Content:  geminiContent{Parts: []geminiPart{{Text: text}}},
		TaskType: geminiTaskQuery,
	}

	var resp geminiEmbedResponse
	path := fmt.Sprintf("/models/%s:embedContent", p.model)
	if err := p.doRequest(ctx, path, req, &resp); err != nil {
		return nil, err
	}

	if len(resp.Embedding.Values) == 0 {
		return nil, fmt.Errorf("嵌入响应缺少向量数据")
	}
	return resp.Embedding.Values, nil
}

// GetModel 返回当前模型名
func (p *GeminiEmbeddingProvider) GetModel() string { return p.model }

// GetProviderName 返回提供商名称
func (p *GeminiEmbeddingProvider) GetProviderName() string { return "gemini" }

func (p *GeminiEmbeddingProvider) doRequest(ctx context.Context, path string, payload any, dest any) error {
	buf, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("序列化嵌入请求失败: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("调用 Gemini Embeddings API 失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errBody geminiErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&errBody)
		return fmt.Errorf("Gemini API 错误: %s (%d)", errBody.Error.Message, resp.StatusCode)
	}

	return json.NewDecoder(resp.Body).Decode(dest)
}

// --- Gemini API payloads ---

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiEmbedRequest struct {
	Model    string        `json:"model,omitempty"`
	Content  geminiContent `json:"content"`
	TaskType string        `json:"taskType"`
}

type geminiBatchEmbedRequest struct {
	Requests []geminiEmbedRequest `json:"requests"`
}

type geminiEmbeddingValues struct {
	Values []float32 `json:"values"`
}

type geminiBatchEmbedResponse struct {
	Embeddings []geminiEmbeddingValues `json:"embeddings"`
}

type geminiEmbedResponse struct {
	Embedding geminiEmbeddingValues `json:"embedding"`
}

type geminiErrorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}
