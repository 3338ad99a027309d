package chat

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"llm-backend/api/handlers/common"
	"llm-backend/internal/answer"
	"llm-backend/internal/conversation"
	"llm-backend/internal/knowledge"
	"llm-backend/internal/logger"
)

const retrievalTopK = 5

// Handler 问答接口：检索 + 流式生成 + 会话持久化。
type Handler struct {
	searcher  *knowledge.HybridSearcher
	generator *answer.Generator
	sessions  *conversation.Service
}

func NewHandler(searcher *knowledge.HybridSearcher, generator *answer.Generator, sessions *conversation.Service) *Handler {
	return &Handler{searcher: searcher, generator: generator, sessions: sessions}
}

// ChatRequest 问答请求体。SessionID 为空时创建新会话。
type ChatRequest struct {
	Question  string `json:"question" binding:"required"`
	SessionID string `json:"sessionId"`
}

// Chat 以 SSE 流式返回回答。
// 事件序列：session -> sources -> 若干 message -> done；任何阶段出错发 error 事件。
// POST /api/chat
func (h *Handler) Chat(c *gin.Context) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, common.ErrorResponse{
			Success: false,
			Message: "参数错误: " + err.Error(),
		})
		return
	}

	ctx := c.Request.Context()
	log := logger.Get()

	session, err := h.sessions.GetOrCreateSession(ctx, req.SessionID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, common.ErrorResponse{
			Success: false,
			Message: "会话初始化失败: " + err.Error(),
		})
		return
	}

	history, err := h.sessions.History(ctx, session.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, common.ErrorResponse{
			Success: false,
			Message: "读取会话历史失败: " + err.Error(),
		})
		return
	}

	// 设置 SSE 响应头
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	c.SSEvent("session", gin.H{"sessionId": session.ID})
	c.Writer.Flush()

	results, err := h.searcher.Search(ctx, req.Question, retrievalTopK)
	if err != nil {
		log.Sugar().Warnf("检索失败，降级为无上下文生成: %v", err)
		results = nil
	}
	c.SSEvent("sources", gin.H{"sources": sourceSummaries(results)})
	c.Writer.Flush()

	chunkChan, errChan := h.generator.Stream(ctx, req.Question, results, history)

	var full strings.Builder
	c.Stream(func(w io.Writer) bool {
		select {
		case chunk, ok := <-chunkChan:
			if !ok {
				return false
			}
			if chunk.Done {
				c.SSEvent("done", gin.H{"done": true})
				return false
			}
			full.WriteString(chunk.Content)
			c.SSEvent("message", gin.H{"content": chunk.Content})
			return true

		case err, ok := <-errChan:
			if ok && err != nil {
				c.SSEvent("error", gin.H{"error": err.Error()})
			}
			return false
		}
	})

	// 流结束后落库，生成失败时不写入半截回答
	if err := h.sessions.AppendMessage(ctx, session.ID, conversation.RoleUser, req.Question); err != nil {
		log.Sugar().Errorf("保存用户消息失败: %v", err)
	}
	if reply := full.String(); reply != "" {
		if err := h.sessions.AppendMessage(ctx, session.ID, conversation.RoleAssistant, reply); err != nil {
			log.Sugar().Errorf("保存回答失败: %v", err)
		}
	}
}

// SourceSummary 返回给前端的引用摘要，不携带正文分块。
type SourceSummary struct {
	Title    string  `json:"title"`
	URL      string  `json:"url"`
	Category string  `json:"category"`
	Score    float64 `json:"score"`
}

func sourceSummaries(results []*knowledge.SearchResult) []SourceSummary {
	summaries := make([]SourceSummary, 0, len(results))
	seen := make(map[string]bool, len(results))
	for _, r := range results {
		if seen[r.SourceURL] {
			continue
		}
		seen[r.SourceURL] = true
		summaries = append(summaries, SourceSummary{
			Title:    r.SourceTitle,
			URL:      r.SourceURL,
			Category: r.Category,
			Score:    r.Score,
		})
	}
	return summaries
}
