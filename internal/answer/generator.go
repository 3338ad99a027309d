package answer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"llm-backend/internal/conversation"
	"llm-backend/internal/knowledge"

	"github.com/sashabaranov/go-openai"
)

// DefaultModel 默认回答模型
const DefaultModel = "gemini-2.5-flash"

// SystemPrompt 回答生成的系统提示词。
// 回答语言、出处引用、拒答范围都在这里约束。
const SystemPrompt = `당신은 블로그와 이력서 콘텐츠를 기반으로 질문에 답변하는 AI 어시스턴트입니다.

## 규칙

1. **한국어로 답변**: 모든 답변은 한국어로 작성합니다.

2. **출처 명시**: 답변에 참고한 콘텐츠의 출처를 반드시 인라인으로 명시합니다.
   - 형식: [제목](URL)
   - 예시: 자세한 내용은 [모노레포 전환기](https://blog.example.com/monorepo)를 참고하세요.

3. **관련 없는 질문 거부**: 블로그 및 이력서 콘텐츠와 관련이 없는 질문(예: 날씨, 주식, 일반 상식 등)에는 답변하지 않습니다.
   - 이 경우 다음과 같이 안내합니다: "이 서비스는 블로그와 이력서 관련 질문에만 답변할 수 있습니다. 블로그 글이나 이력서에 대해 궁금한 점을 질문해주세요."

4. **정보 부족 안내**: 검색된 문서에 질문과 관련된 충분한 정보가 없는 경우, 솔직하게 안내합니다.
   - 예시: "제공된 콘텐츠에서 해당 질문에 대한 충분한 정보를 찾지 못했습니다."

5. **마크다운 형식**: 답변은 마크다운 형식으로 작성하여 가독성을 높입니다.

6. **정확성**: 검색된 문서의 내용만을 기반으로 답변하며, 추측이나 외부 지식을 사용하지 않습니다.`

// StreamChunk 流式回答的单个分片
type StreamChunk struct {
	Content string
	Done    bool
}

// Options 回答生成器配置
type Options struct {
	APIKey      string
	BaseURL     string // OpenAI 兼容端点
	Model       string
	Temperature float32
	MaxTokens   int
}

// Generator 基于检索上下文的回答生成器。
// 走 OpenAI 兼容的 chat completions 接口，流式返回。
type Generator struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
}

// NewGenerator 创建回答生成器。
func NewGenerator(opts Options) (*Generator, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("llm api key 未配置")
	}

	model := opts.Model
	if model == "" {
		model = DefaultModel
	}

	clientConfig := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		clientConfig.BaseURL = opts.BaseURL
	}

	return &Generator{
		client:      openai.NewClientWithConfig(clientConfig),
		model:       model,
		temperature: opts.Temperature,
		maxTokens:   opts.MaxTokens,
	}, nil
}

// FormatContext 把检索结果格式化为带编号的引用上下文。
// 编号让模型可以在回答里按 [제목](URL) 形式引用出处。
func FormatContext(results []*knowledge.SearchResult) string {
	if len(results) == 0 {
		return "검색된 관련 문서가 없습니다."
	}

	sections := make([]string, len(results))
	for i, result := range results {
		sections[i] = fmt.Sprintf(
			"[참조 %d] 제목: %s\nURL: %s\n카테고리: %s\n내용:\n%s",
			i+1, result.SourceTitle, result.SourceURL, result.Category, result.Text)
	}
	return strings.Join(sections, "\n\n---\n\n")
}

// BuildMessages 组装发给模型的消息序列：
// 系统提示词 → 历史对话 → 携带检索上下文的当前问题。
func BuildMessages(question string, results []*knowledge.SearchResult, history []*conversation.Message) []openai.ChatCompletionMessage {
	messages := make([]openai.ChatCompletionMessage, 0, len(history)+2)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: SystemPrompt,
	})

	for _, msg := range history {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		})
	}

	userMessage := fmt.Sprintf(
		"다음은 검색된 관련 문서입니다:\n\n%s\n\n---\n\n사용자 질문: %s",
		FormatContext(results), question)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: userMessage,
	})

	return messages
}

// Stream 流式生成回答。
// 分片通过 chunk 通道送出，最后一个分片 Done 为 true；错误走 err 通道。
func (g *Generator) Stream(ctx context.Context, question string, results []*knowledge.SearchResult, history []*conversation.Message) (<-chan StreamChunk, <-chan error) {
	chunkChan := make(chan StreamChunk, 10)
	errChan := make(chan error, 1)

	go func() {
		defer close(chunkChan)
		defer close(errChan)

		stream, err := g.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
			Model:       g.model,
			Messages:    BuildMessages(question, results, history),
			Temperature: g.temperature,
			MaxTokens:   g.maxTokens,
			Stream:      true,
		})
		if err != nil {
			errChan <- fmt.Errorf("调用回答模型失败: %w", err)
			return
		}
		defer stream.Close()

		for {
			response, err := stream.Recv()
			if err != nil {
				if errors.Is(err, io.EOF) {
					break
				}
				errChan <- fmt.Errorf("读取回答流失败: %w", err)
				return
			}

			if len(response.Choices) > 0 && response.Choices[0].Delta.Content != "" {
				select {
				case chunkChan <- StreamChunk{Content: response.Choices[0].Delta.Content}:
				case <-ctx.Done():
					return
				}
			}
		}

		chunkChan <- StreamChunk{Done: true}
	}()

	return chunkChan, errChan
}

// Model 返回当前使用的模型名
func (g *Generator) Model() string { return g.model }
