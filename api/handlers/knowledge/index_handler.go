package knowledge

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"llm-backend/api/handlers/common"
	"llm-backend/internal/knowledge"
)

// IndexHandler 触发知识源索引流水线。
type IndexHandler struct {
	store    knowledge.VectorStore
	pipeline *knowledge.IndexingPipeline
}

func NewIndexHandler(store knowledge.VectorStore, pipeline *knowledge.IndexingPipeline) *IndexHandler {
	return &IndexHandler{store: store, pipeline: pipeline}
}

// IndexRequest 索引请求体。URLs 为空时索引全部已注册源。
type IndexRequest struct {
	URLs  []string `json:"urls"`
	Force bool     `json:"force"`
}

// Run 对指定（或全部）知识源执行索引，返回逐源结果。
// POST /api/index
func (h *IndexHandler) Run(c *gin.Context) {
	var req IndexRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, common.ErrorResponse{
			Success: false,
			Message: "参数错误: " + err.Error(),
		})
		return
	}

	registered, err := h.store.GetAllSources(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, common.ErrorResponse{
			Success: false,
			Message: "获取知识源列表失败: " + err.Error(),
		})
		return
	}

	sources := selectSources(registered, req.URLs)
	if len(sources) == 0 {
		c.JSON(http.StatusOK, common.APIResponse{
			Success: true,
			Message: "没有匹配的知识源",
			Data:    gin.H{"results": []knowledge.IndexResult{}},
		})
		return
	}

	results := h.pipeline.Run(c.Request.Context(), sources, knowledge.RunOptions{Force: req.Force})

	success, skipped, failed := 0, 0, 0
	for _, r := range results {
		switch r.Status {
		case knowledge.IndexStatusSuccess:
			success++
		case knowledge.IndexStatusSkipped:
			skipped++
		default:
			failed++
		}
	}

	c.JSON(http.StatusOK, common.APIResponse{
		Success: true,
		Data: gin.H{
			"results": results,
			"summary": gin.H{
				"total":   len(results),
				"success": success,
				"skipped": skipped,
				"failed":  failed,
			},
		},
	})
}

// selectSources 按请求的 URL 列表过滤已注册源，空列表表示全选。
// 过滤保持注册表顺序。
func selectSources(registered []*knowledge.SourceWithStatus, urls []string) []*knowledge.KnowledgeSource {
	wanted := make(map[string]bool, len(urls))
	for _, u := range urls {
		wanted[u] = true
	}

	sources := make([]*knowledge.KnowledgeSource, 0, len(registered))
	for _, s := range registered {
		if len(urls) > 0 && !wanted[s.URL] {
			continue
		}
		source := s.KnowledgeSource
		sources = append(sources, &source)
	}
	return sources
}
