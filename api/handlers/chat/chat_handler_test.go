package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llm-backend/internal/answer"
	"llm-backend/internal/conversation"
	"llm-backend/internal/knowledge"
	"llm-backend/internal/logger"
)

func TestMain(m *testing.M) {
	_ = logger.Init("error", "json", "stderr")
	m.Run()
}

// staticStore 固定检索结果的 VectorStore 桩，仅实现问答路径用到的方法。
type staticStore struct {
	results []*knowledge.SearchResult
}

func (s *staticStore) EnsureCollection(ctx context.Context) error { return nil }

func (s *staticStore) EnsureSourcesCollection(ctx context.Context) error { return nil }

func (s *staticStore) UpsertPoints(ctx context.Context, points []*knowledge.VectorPoint) error {
	return nil
}

func (s *staticStore) DeleteBySourceURL(ctx context.Context, url string) error { return nil }

func (s *staticStore) GetContentHashByURL(ctx context.Context, url string) (string, error) {
	return "", nil
}

func (s *staticStore) SearchDense(ctx context.Context, vector []float32, limit int) ([]*knowledge.SearchResult, error) {
	return s.results, nil
}

func (s *staticStore) SearchSparse(ctx context.Context, text string, limit int) ([]*knowledge.SearchResult, error) {
	return nil, nil
}

func (s *staticStore) AddSource(ctx context.Context, source *knowledge.KnowledgeSource) error {
	return nil
}

func (s *staticStore) GetAllSources(ctx context.Context) ([]*knowledge.SourceWithStatus, error) {
	return nil, nil
}

func (s *staticStore) GetSourceByURL(ctx context.Context, url string) (*knowledge.KnowledgeSource, error) {
	return nil, nil
}

func (s *staticStore) DeleteSource(ctx context.Context, url string) error { return nil }

type staticEmbedder struct{}

func (staticEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

func (staticEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

func (staticEmbedder) GetModel() string        { return "static-model" }
func (staticEmbedder) GetProviderName() string { return "static" }

// newLLMServer 返回固定两段增量的 OpenAI 兼容流式接口。
func newLLMServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		w.Header().Set("Content-Type", "text/event-stream")
		chunks := []string{
			`data: {"id":"1","choices":[{"delta":{"content":"답변 "}}]}`,
			`data: {"id":"1","choices":[{"delta":{"content":"내용"}}]}`,
			`data: [DONE]`,
		}
		for _, chunk := range chunks {
			_, _ = w.Write([]byte(chunk + "\n\n"))
		}
	}))
}

func newChatFixture(t *testing.T, results []*knowledge.SearchResult) (*gin.Engine, *conversation.Service) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	server := newLLMServer(t)
	t.Cleanup(server.Close)

	generator, err := answer.NewGenerator(answer.Options{
		APIKey:  "test-key",
		BaseURL: server.URL,
		Model:   "test-model",
	})
	require.NoError(t, err)

	db, err := conversation.OpenDatabase(":memory:")
	require.NoError(t, err)
	sessions := conversation.NewService(db, 40)
	require.NoError(t, sessions.AutoMigrate())

	searcher := knowledge.NewHybridSearcher(&staticStore{results: results}, staticEmbedder{})

	router := gin.New()
	router.POST("/api/chat", NewHandler(searcher, generator, sessions).Chat)
	return router, sessions
}

// closeNotifyRecorder 为 httptest.ResponseRecorder 补上 http.CloseNotifier，
// 否则 gin 的 Stream 会因类型断言失败而 panic。
type closeNotifyRecorder struct {
	*httptest.ResponseRecorder
	closed chan bool
}

func (c *closeNotifyRecorder) CloseNotify() <-chan bool { return c.closed }

func postChat(router *gin.Engine, body interface{}) *httptest.ResponseRecorder {
	raw, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, "/api/chat", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	w := &closeNotifyRecorder{httptest.NewRecorder(), make(chan bool, 1)}
	router.ServeHTTP(w, req)
	return w.ResponseRecorder
}

func TestChat_StreamsAnswer(t *testing.T) {
	results := []*knowledge.SearchResult{
		{Text: "본문", SourceTitle: "글 A", SourceURL: "https://blog.example.com/a", Category: "blog", Score: 0.9},
	}
	router, _ := newChatFixture(t, results)

	w := postChat(router, gin.H{"question": "질문입니다"})
	require.Equal(t, http.StatusOK, w.Code)

	body := w.Body.String()
	assert.Contains(t, body, "event:session")
	assert.Contains(t, body, "sessionId")
	assert.Contains(t, body, "event:sources")
	assert.Contains(t, body, "https://blog.example.com/a")
	assert.Contains(t, body, "event:message")
	assert.Contains(t, body, "답변")
	assert.Contains(t, body, "event:done")
}

func TestChat_PersistsConversation(t *testing.T) {
	router, sessions := newChatFixture(t, nil)

	session, err := sessions.GetOrCreateSession(context.Background(), "")
	require.NoError(t, err)

	w := postChat(router, gin.H{"question": "첫 질문", "sessionId": session.ID})
	require.Equal(t, http.StatusOK, w.Code)

	history, err := sessions.History(context.Background(), session.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, conversation.RoleUser, history[0].Role)
	assert.Equal(t, "첫 질문", history[0].Content)
	assert.Equal(t, conversation.RoleAssistant, history[1].Role)
	assert.Equal(t, "답변 내용", history[1].Content)
}

func TestChat_MissingQuestion(t *testing.T) {
	router, _ := newChatFixture(t, nil)

	w := postChat(router, gin.H{})
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSourceSummaries_DedupByURL(t *testing.T) {
	results := []*knowledge.SearchResult{
		{SourceTitle: "글 A", SourceURL: "https://a.example.com", Score: 0.9},
		{SourceTitle: "글 A", SourceURL: "https://a.example.com", Score: 0.8},
		{SourceTitle: "글 B", SourceURL: "https://b.example.com", Score: 0.7},
	}

	summaries := sourceSummaries(results)
	require.Len(t, summaries, 2)
	assert.Equal(t, "https://a.example.com", summaries[0].URL)
	assert.Equal(t, "https://b.example.com", summaries[1].URL)
}
