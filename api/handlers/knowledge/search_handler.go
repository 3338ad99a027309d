package knowledge

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"llm-backend/api/handlers/common"
	"llm-backend/internal/knowledge"
)

const (
	defaultTopK = 5
	maxTopK     = 20
)

// SearchHandler 混合检索接口。
type SearchHandler struct {
	searcher *knowledge.HybridSearcher
}

func NewSearchHandler(searcher *knowledge.HybridSearcher) *SearchHandler {
	return &SearchHandler{searcher: searcher}
}

// SearchRequest 检索请求体。
type SearchRequest struct {
	Question string `json:"question" binding:"required"`
	TopK     int    `json:"topK"`
}

// Search 对查询做稠密+稀疏混合检索，返回融合后的结果。
// POST /api/search
func (h *SearchHandler) Search(c *gin.Context) {
	var req SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, common.ErrorResponse{
			Success: false,
			Message: "参数错误: " + err.Error(),
		})
		return
	}

	topK := req.TopK
	if topK <= 0 {
		topK = defaultTopK
	}
	if topK > maxTopK {
		topK = maxTopK
	}

	results, err := h.searcher.Search(c.Request.Context(), req.Question, topK)
	if err != nil {
		c.JSON(http.StatusInternalServerError, common.ErrorResponse{
			Success: false,
			Message: "检索失败: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, common.APIResponse{
		Success: true,
		Data: gin.H{
			"results": results,
			"count":   len(results),
		},
	})
}
