// Package chat persists builder conversations and serves the assistant
// chat endpoint.
package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"appforge/internal/ai"
	"appforge/internal/cache"
	"appforge/pkg/models"
)

// ErrNotFound is returned when a conversation does not exist or belongs to
// another user.
var ErrNotFound = errors.New("conversation not found")

// Service owns conversation persistence. Listings are fronted by the cache;
// the database stays the source of truth.
type Service struct {
	db     *gorm.DB
	cache  *cache.Cache
	router agentRouter
}

// agentRouter is the slice of the AI router the chat service needs.
type agentRouter interface {
	Generate(ctx context.Context, req *ai.AIRequest) (*ai.AIResponse, error)
}

// NewService creates the chat service. cache may be nil.
func NewService(db *gorm.DB, c *cache.Cache, router agentRouter) *Service {
	return &Service{db: db, cache: c, router: router}
}

func listKey(userID uint) string {
	return fmt.Sprintf("conversations:user:%d:list", userID)
}

func messagesKey(conversationID uint) string {
	return fmt.Sprintf("conversations:%d:messages", conversationID)
}

// CreateConversation starts a new thread.
func (s *Service) CreateConversation(ctx context.Context, userID uint, title string) (*models.Conversation, error) {
	if title == "" {
		title = "New conversation"
	}
	conv := &models.Conversation{
		UserID: userID,
		Title:  title,
	}
	if err := s.db.WithContext(ctx).Create(conv).Error; err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	s.invalidateList(ctx, userID)
	return conv, nil
}

// ListConversations returns the user's threads, most recently updated
// first. A non-nil before cursor returns threads updated strictly earlier;
// only the first (uncursored) page is cached.
func (s *Service) ListConversations(ctx context.Context, userID uint, limit int, before *time.Time) ([]models.Conversation, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	cacheable := before == nil && s.cache != nil
	if cacheable {
		var cached []models.Conversation
		if s.cache.GetJSON(ctx, listKey(userID), &cached) {
			return cached, nil
		}
	}

	q := s.db.WithContext(ctx).Where("user_id = ?", userID)
	if before != nil {
		q = q.Where("updated_at < ?", *before)
	}

	var convs []models.Conversation
	err := q.Order("updated_at DESC").
		Limit(limit).
		Find(&convs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}

	if cacheable {
		s.cache.SetJSON(ctx, listKey(userID), convs, cache.ConversationTTL)
	}
	return convs, nil
}

// GetMessages returns a conversation's history, oldest first.
func (s *Service) GetMessages(ctx context.Context, userID, conversationID uint, limit, offset int) ([]models.ChatMessage, error) {
	if _, err := s.getOwned(ctx, userID, conversationID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 200 {
		limit = 100
	}

	cacheable := offset == 0 && s.cache != nil
	if cacheable {
		var cached []models.ChatMessage
		if s.cache.GetJSON(ctx, messagesKey(conversationID), &cached) {
			if len(cached) > limit {
				cached = cached[:limit]
			}
			return cached, nil
		}
	}

	var msgs []models.ChatMessage
	err := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at ASC").
		Limit(limit).
		Offset(offset).
		Find(&msgs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}

	if cacheable {
		s.cache.SetJSON(ctx, messagesKey(conversationID), msgs, cache.MessagesTTL)
	}
	return msgs, nil
}

// AppendMessage stores one message and bumps the conversation.
func (s *Service) AppendMessage(ctx context.Context, userID, conversationID uint, role, content, provider, buildID string) (*models.ChatMessage, error) {
	conv, err := s.getOwned(ctx, userID, conversationID)
	if err != nil {
		return nil, err
	}

	msg := &models.ChatMessage{
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		Provider:       provider,
		BuildID:        buildID,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(msg).Error; err != nil {
			return err
		}
		return tx.Model(conv).Updates(map[string]interface{}{
			"message_count": gorm.Expr("message_count + 1"),
			"updated_at":    time.Now(),
		}).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to append message: %w", err)
	}

	s.invalidate(ctx, userID, conversationID)
	return msg, nil
}

// SendMessage appends the user's message, asks the assistant for a reply,
// and stores both. The assistant reply comes back even when providers are
// down (mock fallback), so chat never hard-fails on provider outages.
func (s *Service) SendMessage(ctx context.Context, userID, conversationID uint, content string) (*models.ChatMessage, error) {
	if content == "" {
		return nil, fmt.Errorf("message content is required")
	}
	if _, err := s.AppendMessage(ctx, userID, conversationID, "user", content, "", ""); err != nil {
		return nil, err
	}

	resp, err := s.router.Generate(ctx, &ai.AIRequest{
		Capability: ai.CapabilityChat,
		Prompt:     content,
		UserID:     fmt.Sprintf("%d", userID),
	})
	if err != nil {
		return nil, fmt.Errorf("assistant unavailable: %w", err)
	}

	return s.AppendMessage(ctx, userID, conversationID, "assistant", resp.Content, string(resp.Provider), "")
}

// RenameConversation updates a thread's title.
func (s *Service) RenameConversation(ctx context.Context, userID, conversationID uint, title string) error {
	conv, err := s.getOwned(ctx, userID, conversationID)
	if err != nil {
		return err
	}
	if title == "" {
		return fmt.Errorf("title is required")
	}
	if err := s.db.WithContext(ctx).Model(conv).Update("title", title).Error; err != nil {
		return fmt.Errorf("failed to rename conversation: %w", err)
	}
	s.invalidateList(ctx, userID)
	return nil
}

// DeleteConversation soft-deletes a thread and its messages.
func (s *Service) DeleteConversation(ctx context.Context, userID, conversationID uint) error {
	conv, err := s.getOwned(ctx, userID, conversationID)
	if err != nil {
		return err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("conversation_id = ?", conversationID).Delete(&models.ChatMessage{}).Error; err != nil {
			return err
		}
		return tx.Delete(conv).Error
	})
	if err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}

	s.invalidate(ctx, userID, conversationID)
	return nil
}

func (s *Service) getOwned(ctx context.Context, userID, conversationID uint) (*models.Conversation, error) {
	var conv models.Conversation
	err := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", conversationID, userID).
		First(&conv).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}
	return &conv, nil
}

func (s *Service) invalidate(ctx context.Context, userID, conversationID uint) {
	if s.cache == nil {
		return
	}
	s.cache.Delete(ctx, listKey(userID), messagesKey(conversationID))
}

func (s *Service) invalidateList(ctx context.Context, userID uint) {
	if s.cache == nil {
		return
	}
	s.cache.Delete(ctx, listKey(userID))
}
