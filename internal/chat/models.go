package chat

import "time"

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Conversation struct {
	ID             uint64    `gorm:"primaryKey;autoIncrement" json:"-"`
	ConversationID string    `gorm:"type:varchar(26);uniqueIndex;not null" json:"conversation_id"`
	Title          string    `gorm:"type:varchar(64);not null" json:"title"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (Conversation) TableName() string { return "conversations" }

type Message struct {
	ID             uint64    `gorm:"primaryKey;autoIncrement" json:"-"`
	MessageID      string    `gorm:"type:varchar(26);uniqueIndex;not null" json:"message_id"`
	ConversationID string    `gorm:"type:varchar(26);not null;index" json:"conversation_id"`
	Role           string    `gorm:"type:varchar(16);not null" json:"role"`
	Content        string    `gorm:"type:text;not null" json:"content"`
	ImageURL       string    `gorm:"type:varchar(512)" json:"image_url,omitempty"`
	Emotion        string    `gorm:"type:varchar(32)" json:"emotion,omitempty"`
	CreatedAt      time.Time `gorm:"index" json:"created_at"`
}

func (Message) TableName() string { return "messages" }
