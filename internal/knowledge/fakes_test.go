package knowledge

import (
	"context"
	"fmt"
	"strings"
)

// fakeVectorStore 内存实现，记录调用轨迹供断言。
type fakeVectorStore struct {
	hashes  map[string]string // sourceUrl -> contentHash
	sources map[string]*KnowledgeSource

	upserted     []*VectorPoint
	deletedURLs  []string
	callLog      []string
	denseResults []*SearchResult
	sparseResult []*SearchResult

	ensureErr  error
	hashErr    error
	deleteErr  error
	upsertErr  error
	denseErr   error
	sparseErr  error
	denseLimit int
	sparseLim  int
}

func newFakeVectorStore() *fakeVectorStore {
	return &fakeVectorStore{
		hashes:  make(map[string]string),
		sources: make(map[string]*KnowledgeSource),
	}
}

func (f *fakeVectorStore) EnsureCollection(ctx context.Context) error {
	f.callLog = append(f.callLog, "ensure")
	return f.ensureErr
}

func (f *fakeVectorStore) EnsureSourcesCollection(ctx context.Context) error {
	f.callLog = append(f.callLog, "ensure_sources")
	return nil
}

func (f *fakeVectorStore) UpsertPoints(ctx context.Context, points []*VectorPoint) error {
	f.callLog = append(f.callLog, fmt.Sprintf("upsert:%d", len(points)))
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.upserted = append(f.upserted, points...)
	for _, p := range points {
		f.hashes[p.Payload.SourceURL] = p.Payload.ContentHash
	}
	return nil
}

func (f *fakeVectorStore) DeleteBySourceURL(ctx context.Context, url string) error {
	f.callLog = append(f.callLog, "delete:"+url)
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deletedURLs = append(f.deletedURLs, url)
	delete(f.hashes, url)
	return nil
}

func (f *fakeVectorStore) GetContentHashByURL(ctx context.Context, url string) (string, error) {
	f.callLog = append(f.callLog, "hash:"+url)
	if f.hashErr != nil {
		return "", f.hashErr
	}
	return f.hashes[url], nil
}

func (f *fakeVectorStore) SearchDense(ctx context.Context, vector []float32, limit int) ([]*SearchResult, error) {
	f.denseLimit = limit
	return f.denseResults, f.denseErr
}

func (f *fakeVectorStore) SearchSparse(ctx context.Context, text string, limit int) ([]*SearchResult, error) {
	f.sparseLim = limit
	return f.sparseResult, f.sparseErr
}

func (f *fakeVectorStore) AddSource(ctx context.Context, source *KnowledgeSource) error {
	if _, ok := f.sources[source.URL]; ok {
		return ErrDuplicateSource
	}
	f.sources[source.URL] = source
	return nil
}

func (f *fakeVectorStore) GetAllSources(ctx context.Context) ([]*SourceWithStatus, error) {
	out := make([]*SourceWithStatus, 0, len(f.sources))
	for _, s := range f.sources {
		status := IndexingStatusNotIndexed
		if f.hashes[s.URL] != "" {
			status = IndexingStatusIndexed
		}
		out = append(out, &SourceWithStatus{KnowledgeSource: *s, IndexingStatus: status})
	}
	return out, nil
}

func (f *fakeVectorStore) GetSourceByURL(ctx context.Context, url string) (*KnowledgeSource, error) {
	return f.sources[url], nil
}

func (f *fakeVectorStore) DeleteSource(ctx context.Context, url string) error {
	if _, ok := f.sources[url]; !ok {
		return ErrSourceNotFound
	}
	delete(f.sources, url)
	delete(f.hashes, url)
	return nil
}

// fakeCollector 按 URL 返回预置内容或错误。
type fakeCollector struct {
	pages map[string]string // url -> 正文文本
	errs  map[string]error
}

func (f *fakeCollector) Collect(ctx context.Context, url string) (*CollectedContent, error) {
	if err := f.errs[url]; err != nil {
		return nil, err
	}
	text, ok := f.pages[url]
	if !ok {
		return nil, fmt.Errorf("页面不存在: %s", url)
	}
	return &CollectedContent{
		URL:         url,
		Title:       "title of " + url,
		Text:        text,
		ContentHash: GenerateContentHash(text),
	}, nil
}

// fakeEmbedder 生成确定性的占位向量。
type fakeEmbedder struct {
	dim      int
	docErr   error
	queryErr error
	docCalls int
}

func (f *fakeEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	f.docCalls++
	if f.docErr != nil {
		return nil, f.docErr
	}
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = f.vectorFor(text)
	}
	return vectors, nil
}

func (f *fakeEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	return f.vectorFor(text), nil
}

func (f *fakeEmbedder) GetModel() string        { return "fake-embedding" }
func (f *fakeEmbedder) GetProviderName() string { return "fake" }

func (f *fakeEmbedder) vectorFor(text string) []float32 {
	dim := f.dim
	if dim <= 0 {
		dim = 4
	}
	vector := make([]float32, dim)
	vector[0] = float32(len(strings.TrimSpace(text)))
	return vector
}
