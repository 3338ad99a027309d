package conversation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ErrSessionNotFound 会话不存在
var ErrSessionNotFound = errors.New("会话不存在")

// 消息角色
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Session 一次问答会话
type Session struct {
	ID        string         `gorm:"type:varchar(36);primaryKey" json:"id"`
	Title     string         `gorm:"type:varchar(200)" json:"title"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// TableName 指定表名
func (Session) TableName() string {
	return "chat_sessions"
}

// Message 会话内的单条消息
type Message struct {
	ID        string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	SessionID string    `gorm:"type:varchar(36);not null;index" json:"session_id"`
	Role      string    `gorm:"type:varchar(20);not null" json:"role"`
	Content   string    `gorm:"type:text;not null" json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName 指定表名
func (Message) TableName() string {
	return "chat_messages"
}

// BeforeCreate GORM Hook
func (m *Message) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	return nil
}

// Service 会话持久化服务。
type Service struct {
	db          *gorm.DB
	maxMessages int
}

// OpenDatabase 打开 sqlite 会话库。path 为 ":memory:" 时使用内存库。
func OpenDatabase(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("打开会话数据库失败: %w", err)
	}
	return db, nil
}

// NewService 创建会话服务。maxMessages 限制历史回放的消息条数。
func NewService(db *gorm.DB, maxMessages int) *Service {
	if maxMessages <= 0 {
		maxMessages = 40
	}
	return &Service{db: db, maxMessages: maxMessages}
}

// AutoMigrate 自动迁移表结构
func (s *Service) AutoMigrate() error {
	return s.db.AutoMigrate(&Session{}, &Message{})
}

// GetOrCreateSession 查询会话，不存在则创建。
// sessionID 为空时总是创建新会话。
func (s *Service) GetOrCreateSession(ctx context.Context, sessionID string) (*Session, error) {
	if sessionID != "" {
		var session Session
		err := s.db.WithContext(ctx).First(&session, "id = ?", sessionID).Error
		if err == nil {
			return &session, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("查询会话失败: %w", err)
		}
	}

	session := &Session{ID: uuid.New().String()}
	if sessionID != "" {
		session.ID = sessionID
	}
	if err := s.db.WithContext(ctx).Create(session).Error; err != nil {
		return nil, fmt.Errorf("创建会话失败: %w", err)
	}
	return session, nil
}

// AppendMessage 追加一条消息并刷新会话的更新时间。
// 会话标题为空时用第一条用户消息的前缀填充。
func (s *Service) AppendMessage(ctx context.Context, sessionID, role, content string) error {
	message := &Message{SessionID: sessionID, Role: role, Content: content}
	if err := s.db.WithContext(ctx).Create(message).Error; err != nil {
		return fmt.Errorf("写入消息失败: %w", err)
	}

	updates := map[string]any{"updated_at": time.Now()}
	if role == RoleUser {
		var session Session
		if err := s.db.WithContext(ctx).First(&session, "id = ?", sessionID).Error; err == nil && session.Title == "" {
			updates["title"] = truncateTitle(content)
		}
	}
	return s.db.WithContext(ctx).Model(&Session{}).Where("id = ?", sessionID).Updates(updates).Error
}

// History 按时间顺序返回会话最近的消息。
func (s *Service) History(ctx context.Context, sessionID string) ([]*Message, error) {
	var messages []*Message
	err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at DESC, id DESC").
		Limit(s.maxMessages).
		Find(&messages).Error
	if err != nil {
		return nil, fmt.Errorf("读取会话历史失败: %w", err)
	}

	// 倒序取最近 N 条，再翻回时间正序
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// ListSessions 按最近更新排序列出会话。
func (s *Service) ListSessions(ctx context.Context, limit int) ([]*Session, error) {
	if limit <= 0 {
		limit = 50
	}
	var sessions []*Session
	err := s.db.WithContext(ctx).Order("updated_at DESC").Limit(limit).Find(&sessions).Error
	if err != nil {
		return nil, fmt.Errorf("读取会话列表失败: %w", err)
	}
	return sessions, nil
}

// DeleteSession 删除会话及其全部消息。
func (s *Service) DeleteSession(ctx context.Context, sessionID string) error {
	result := s.db.WithContext(ctx).Delete(&Session{}, "id = ?", sessionID)
	if result.Error != nil {
		return fmt.Errorf("删除会话失败: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrSessionNotFound
	}
	return s.db.WithContext(ctx).Delete(&Message{}, "session_id = ?", sessionID).Error
}

func truncateTitle(content string) string {
	runes := []rune(content)
	if len(runes) > 50 {
		return string(runes[:50])
	}
	return content
}
