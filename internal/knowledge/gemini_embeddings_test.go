package knowledge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestGeminiProvider(t *testing.T, handler http.HandlerFunc) (*GeminiEmbeddingProvider, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	provider, err := NewGeminiEmbeddingProvider(GeminiOptions{
		APIKey:     "test-key",
		BaseURL:    server.URL,
		HTTPClient: server.Client(),
	})
	require.NoError(t, err)
	return provider, server
}

func TestNewGeminiProviderRequiresAPIKey(t *testing.T) {
	_, err := NewGeminiEmbeddingProvider(GeminiOptions{})
	require.Error(t, err)

	provider, err := NewGeminiEmbeddingProvider(GeminiOptions{APIKey: "k"})
	require.NoError(t, err)
	require.Equal(t, "gemini-embedding-001", provider.GetModel())
	require.Equal(t, "gemini", provider.GetProviderName())
}

func TestGeminiEmbedDocuments(t *testing.T) {
	var gotPath, gotAPIKey string
	var gotBody geminiBatchEmbedRequest

	provider, _ := newTestGeminiProvider(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAPIKey = r.Header.Get("x-goog-api-key")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"embeddings": []map[string]any{
				{"values": []float32{0.1, 0.2}},
				{"values": []float32{0.3, 0.4}},
			},
		})
	})

	vectors, err := provider.EmbedDocuments(context.Background(), []string{"문서 하나", "문서 둘"})
	require.NoError(t, err)
	require.Equal(t, [][]float32{{0.1, 0.2}, {0.3, 0.4}}, vectors)

	require.Equal(t, "/models/gemini-embedding-001:batchEmbedContents", gotPath)
	require.Equal(t, "test-key", gotAPIKey)
	require.Len(t, gotBody.Requests, 2)
	for _, req := range gotBody.Requests {
		require.Equal(t, "RETRIEVAL_DOCUMENT", req.TaskType)
		require.Equal(t, "models/gemini-embedding-001", req.Model)
	}
	require.Equal(t, "문서 하나", gotBody.Requests[0].Content.Parts[0].Text)
}

func TestGeminiEmbedDocumentsEmptyInputNoCall(t *testing.T) {
	called := false
	provider, _ := newTestGeminiProvider(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	vectors, err := provider.EmbedDocuments(context.Background(), nil)
	require.NoError(t, err)
	require.Nil(t, vectors)
	require.False(t, called)
}

func TestGeminiEmbedDocumentsCountMismatch(t *testing.T) {
	provider, _ := newTestGeminiProvider(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"embeddings": []map[string]any{{"values": []float32{0.1}}},
		})
	})

	_, err := provider.EmbedDocuments(context.Background(), []string{"a", "b"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "数量不匹配")
}

func TestGeminiEmbedQuery(t *testing.T) {
	var gotPath string
	var gotBody geminiEmbedRequest

	provider, _ := newTestGeminiProvider(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"embedding": map[string]any{"values": []float32{0.5, 0.6, 0.7}},
		})
	})

	vector, err := provider.EmbedQuery(context.Background(), "질문입니다")
	require.NoError(t, err)
	require.Equal(t, []float32{0.5, 0.6, 0.7}, vector)

	require.Equal(t, "/models/gemini-embedding-001:embedContent", gotPath)
	require.Equal(t, "RETRIEVAL_QUERY", gotBody.TaskType)
	require.Equal(t, "질문입니다", gotBody.Content.Parts[0].Text)
}

func TestGeminiAPIError(t *testing.T) {
	provider, _ := newTestGeminiProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"quota exceeded"}}`))
	})

	_, err := provider.EmbedQuery(context.Background(), "q")
	require.Error(t, err)
	require.Contains(t, err.Error(), "quota exceeded")

	_, err = provider.EmbedDocuments(context.Background(), []string{"a"})
	require.Error(t, err)
}

func TestGeminiEmbedQueryMissingValues(t *testing.T) {
	provider, _ := newTestGeminiProvider(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"embedding":{"values":[]}}`))
	})

	_, err := provider.EmbedQuery(context.Background(), "q")
	require.Error(t, err)
}
