package answer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"llm-backend/internal/conversation"
	"llm-backend/internal/knowledge"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/require"
)

func TestFormatContextEmpty(t *testing.T) {
	require.Equal(t, "검색된 관련 문서가 없습니다.", FormatContext(nil))
}

func TestFormatContextNumbersReferences(t *testing.T) {
	results := []*knowledge.SearchResult{
		{Text: "첫 번째 본문", SourceTitle: "글 A", SourceURL: "https://blog.example.com/a", Category: "blog"},
		{Text: "두 번째 본문", SourceTitle: "글 B", SourceURL: "https://blog.example.com/b", Category: "resume"},
	}

	formatted := FormatContext(results)
	require.Contains(t, formatted, "[참조 1] 제목: 글 A")
	require.Contains(t, formatted, "[참조 2] 제목: 글 B")
	require.Contains(t, formatted, "URL: https://blog.example.com/b")
	require.Contains(t, formatted, "첫 번째 본문")
	require.Contains(t, formatted, "\n\n---\n\n")
}

func TestBuildMessages(t *testing.T) {
	history := []*conversation.Message{
		{Role: conversation.RoleUser, Content: "이전 질문"},
		{Role: conversation.RoleAssistant, Content: "이전 답변"},
	}
	results := []*knowledge.SearchResult{
		{Text: "본문", SourceTitle: "글", SourceURL: "u", Category: "blog"},
	}

	messages := BuildMessages("새 질문", results, history)
	require.Len(t, messages, 4)

	require.Equal(t, openai.ChatMessageRoleSystem, messages[0].Role)
	require.Equal(t, SystemPrompt, messages[0].Content)

	require.Equal(t, openai.ChatMessageRoleUser, messages[1].Role)
	require.Equal(t, "이전 질문", messages[1].Content)
	require.Equal(t, openai.ChatMessageRoleAssistant, messages[2].Role)

	last := messages[3]
	require.Equal(t, openai.ChatMessageRoleUser, last.Role)
	require.Contains(t, last.Content, "[참조 1]")
	require.Contains(t, last.Content, "사용자 질문: 새 질문")
}

func TestStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		w.Header().Set("Content-Type", "text/event-stream")
		chunks := []string{
			`data: {"id":"1","choices":[{"delta":{"content":"안녕"}}]}`,
			`data: {"id":"1","choices":[{"delta":{"content":"하세요"}}]}`,
			`data: [DONE]`,
		}
		for _, chunk := range chunks {
			_, _ = w.Write([]byte(chunk + "\n\n"))
		}
	}))
	defer server.Close()

	generator, err := NewGenerator(Options{
		APIKey:  "test-key",
		BaseURL: server.URL,
		Model:   "test-model",
	})
	require.NoError(t, err)

	chunkChan, errChan := generator.Stream(context.Background(), "질문", nil, nil)

	var parts []string
	done := false
	for chunk := range chunkChan {
		if chunk.Done {
			done = true
			break
		}
		parts = append(parts, chunk.Content)
	}
	require.NoError(t, <-errChan)
	require.True(t, done)
	require.Equal(t, "안녕하세요", strings.Join(parts, ""))
}

func TestNewGeneratorRequiresAPIKey(t *testing.T) {
	_, err := NewGenerator(Options{})
	require.Error(t, err)

	generator, err := NewGenerator(Options{APIKey: "k"})
	require.NoError(t, err)
	require.Equal(t, DefaultModel, generator.Model())
}
