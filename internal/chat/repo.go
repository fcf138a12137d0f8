package chat

import (
	"context"
	"time"

	"gorm.io/gorm"
)

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

func (r *Repo) CreateConversation(ctx context.Context, c *Conversation) error {
	return r.db.WithContext(ctx).Create(c).Error
}

func (r *Repo) GetConversation(ctx context.Context, conversationID string) (*Conversation, error) {
	var c Conversation
	if err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// ListConversations returns the most recently active conversations,
// newest activity first.
func (r *Repo) ListConversations(ctx context.Context, limit int) ([]Conversation, error) {
	if limit <= 0 {
		limit = 20
	}
	var convs []Conversation
	if err := r.db.WithContext(ctx).
		Order("updated_at DESC").
		Limit(limit).
		Find(&convs).Error; err != nil {
		return nil, err
	}
	return convs, nil
}

// TouchConversation bumps updated_at so the conversation sorts to the
// top of the listing. Any message insert goes through this.
func (r *Repo) TouchConversation(ctx context.Context, conversationID string) error {
	return r.db.WithContext(ctx).Model(&Conversation{}).
		Where("conversation_id = ?", conversationID).
		Update("updated_at", time.Now()).Error
}

// DeleteConversation removes the conversation and all of its messages in
// one transaction. Returns gorm.ErrRecordNotFound when the id is unknown.
func (r *Repo) DeleteConversation(ctx context.Context, conversationID string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("conversation_id = ?", conversationID).Delete(&Conversation{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return tx.Where("conversation_id = ?", conversationID).Delete(&Message{}).Error
	})
}

func (r *Repo) InsertMessage(ctx context.Context, m *Message) error {
	return r.db.WithContext(ctx).Create(m).Error
}

func (r *Repo) GetMessage(ctx context.Context, messageID string) (*Message, error) {
	var m Message
	if err := r.db.WithContext(ctx).
		Where("message_id = ?", messageID).
		First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// SetMessageEmotion attaches a detected-emotion label after the fact.
func (r *Repo) SetMessageEmotion(ctx context.Context, messageID, emotion string) error {
	return r.db.WithContext(ctx).Model(&Message{}).
		Where("message_id = ?", messageID).
		Update("emotion", emotion).Error
}

// ListMessagesAsc returns a conversation's messages ordered by creation
// time ascending (ties broken by insert order).
func (r *Repo) ListMessagesAsc(ctx context.Context, conversationID string) ([]Message, error) {
	var msgs []Message
	if err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at ASC, id ASC").
		Find(&msgs).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}

// ListRecentMessagesDesc returns the most recent messages in DESC order
// (newest -> oldest), used to build the model context window.
func (r *Repo) ListRecentMessagesDesc(ctx context.Context, conversationID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 20
	}
	var msgs []Message
	if err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("id DESC").
		Limit(limit).
		Find(&msgs).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}

// LastMessage returns the newest message of a conversation, or
// gorm.ErrRecordNotFound for an empty one.
func (r *Repo) LastMessage(ctx context.Context, conversationID string) (*Message, error) {
	var m Message
	if err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("id DESC").
		First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}
