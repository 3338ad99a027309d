package knowledge

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"llm-backend/api/handlers/common"
	"llm-backend/internal/knowledge"
)

// SourcesHandler 知识源注册表的增删查接口。
type SourcesHandler struct {
	store knowledge.VectorStore
}

func NewSourcesHandler(store knowledge.VectorStore) *SourcesHandler {
	return &SourcesHandler{store: store}
}

// AddSourceRequest 新增知识源请求体。
// URL 类型必填 url；文本类型必填 content，url 留空时自动生成。
type AddSourceRequest struct {
	URL      string `json:"url"`
	Title    string `json:"title" binding:"required"`
	Category string `json:"category"`
	Type     string `json:"type"`
	Content  string `json:"content"`
}

// List 列出全部知识源及其索引状态。
// GET /api/knowledge
func (h *SourcesHandler) List(c *gin.Context) {
	sources, err := h.store.GetAllSources(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, common.ErrorResponse{
			Success: false,
			Message: "获取知识源列表失败: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, common.APIResponse{
		Success: true,
		Data: gin.H{
			"sources": sources,
			"total":   len(sources),
		},
	})
}

// Add 注册一个知识源。重复 URL 返回 409。
// POST /api/knowledge
func (h *SourcesHandler) Add(c *gin.Context) {
	var req AddSourceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, common.ErrorResponse{
			Success: false,
			Message: "参数错误: " + err.Error(),
		})
		return
	}

	source, err := buildSource(&req)
	if err != nil {
		c.JSON(http.StatusBadRequest, common.ErrorResponse{
			Success: false,
			Message: err.Error(),
		})
		return
	}

	if err := h.store.AddSource(c.Request.Context(), source); err != nil {
		if errors.Is(err, knowledge.ErrDuplicateSource) {
			c.JSON(http.StatusBadRequest, common.ErrorResponse{
				Success: false,
				Code:    "DUPLICATE_SOURCE",
				Message: "知识源已存在: " + source.URL,
			})
			return
		}
		c.JSON(http.StatusInternalServerError, common.ErrorResponse{
			Success: false,
			Message: "注册知识源失败: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusCreated, common.APIResponse{
		Success: true,
		Data:    source,
	})
}

// Delete 删除知识源并级联删除其向量点。URL 通过查询参数传递。
// DELETE /api/knowledge?url=...
func (h *SourcesHandler) Delete(c *gin.Context) {
	url := c.Query("url")
	if url == "" {
		c.JSON(http.StatusBadRequest, common.ErrorResponse{
			Success: false,
			Message: "缺少 url 参数",
		})
		return
	}

	if err := h.store.DeleteSource(c.Request.Context(), url); err != nil {
		if errors.Is(err, knowledge.ErrSourceNotFound) {
			c.JSON(http.StatusBadRequest, common.ErrorResponse{
				Success: false,
				Code:    "SOURCE_NOT_FOUND",
				Message: "知识源不存在: " + url,
			})
			return
		}
		c.JSON(http.StatusInternalServerError, common.ErrorResponse{
			Success: false,
			Message: "删除知识源失败: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, common.APIResponse{
		Success: true,
		Message: "知识源已删除",
	})
}

func buildSource(req *AddSourceRequest) (*knowledge.KnowledgeSource, error) {
	sourceType := req.Type
	if sourceType == "" {
		sourceType = knowledge.SourceTypeURL
	}

	switch sourceType {
	case knowledge.SourceTypeURL:
		if req.URL == "" {
			return nil, fmt.Errorf("url 类型知识源必须提供 url")
		}
		if !strings.HasPrefix(req.URL, "http://") && !strings.HasPrefix(req.URL, "https://") {
			return nil, fmt.Errorf("url 必须以 http:// 或 https:// 开头")
		}
	case knowledge.SourceTypeText:
		if strings.TrimSpace(req.Content) == "" {
			return nil, fmt.Errorf("text 类型知识源必须提供 content")
		}
		if req.URL == "" {
			req.URL = "text://" + uuid.New().String()
		}
	default:
		return nil, fmt.Errorf("不支持的知识源类型: %s", sourceType)
	}

	return &knowledge.KnowledgeSource{
		URL:      req.URL,
		Title:    req.Title,
		Category: req.Category,
		Type:     sourceType,
		Content:  req.Content,
	}, nil
}
