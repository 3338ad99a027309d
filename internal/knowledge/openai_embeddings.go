package knowledge

import (
	"context"
	"fmt"

	"github.com/sashabaranov/go-openai"
)

// OpenAIEmbeddingProvider OpenAI 向量化服务提供者。
// OpenAI 嵌入模型不区分文档/查询任务，两个方法发出同样的请求。
type OpenAIEmbeddingProvider struct {
	client *openai.Client
	model  string // 默认使用 text-embedding-3-small
}

// NewOpenAIEmbeddingProvider 创建 OpenAI 向量化提供者。
func NewOpenAIEmbeddingProvider(apiKey, model string) (*OpenAIEmbeddingProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai api key 未配置")
	}
	if model == "" {
		model = string(openai.SmallEmbedding3)
	}
	return &OpenAIEmbeddingProvider{
		client: openai.NewClient(apiKey),
		model:  model,
	}, nil
}

// EmbedDocuments 批量向量化文本。超过单次请求上限时分批处理。
func (p *OpenAIEmbeddingProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	// OpenAI API 限制每次请求最多 2048 个输入
	const batchSize = 2048
	allEmbeddings := make([][]float32, 0, len(texts))

	for i := 0; i < len(texts); i += batchSize {
		end := i + batchSize
		if end > len(texts) {
			end = len(texts)
		}

		embeddings, err := p.embedBatch(ctx, texts[i:end])
		if err != nil {
			return nil, fmt.Errorf("批量向量化失败 (batch %d-%d): %w", i, end, err)
		}
		allEmbeddings = append(allEmbeddings, embeddings...)
	}

	return allEmbeddings, nil
}

// EmbedQuery 向量化单条查询文本。
func (p *OpenAIEmbeddingProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := p.embedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return embeddings[0], nil
}

func (p *OpenAIEmbeddingProvider) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(p.model),
	})
	if err != nil {
		return nil, fmt.Errorf("调用 OpenAI Embeddings API 失败: %w", err)
	}

	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("OpenAI API 返回向量数量不匹配: 期望 %d 实际 %d", len(texts), len(resp.Data))
	}

	embeddings := make([][]float32, len(resp.Data))
	for i, data := range resp.Data {
		if len(data.Embedding) == 0 {
			return nil, fmt.Errorf("OpenAI API 返回空向量 (index %d)", i)
		}
		embeddings[i] = data.Embedding
	}
	return embeddings, nil
}

// GetModel 获取当前使用的模型
func (p *OpenAIEmbeddingProvider) GetModel() string { return p.model }

// GetProviderName 获取提供商名称
func (p *OpenAIEmbeddingProvider) GetProviderName() string { return "openai" }
