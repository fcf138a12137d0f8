package chat

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/visageapp/visage/internal/ai"
)

const titleLimit = 30

// EventSink receives message change notifications for realtime fan-out.
type EventSink interface {
	PublishInsert(ctx context.Context, m Message) error
	PublishUpdate(ctx context.Context, m Message) error
}

// ListCache is invalidated whenever the conversation listing goes stale.
type ListCache interface {
	Invalidate(ctx context.Context) error
}

var ErrEmptyMessage = errors.New("chat: empty message")

type Service struct {
	repo      *Repo
	provider  ai.Provider
	events    EventSink
	cache     ListCache
	window    int
	directive string
	emotions  bool
}

func NewService(repo *Repo, provider ai.Provider, events EventSink, cache ListCache, window int, directive string, emotions bool) *Service {
	if window <= 0 || window > 100 {
		window = 20
	}
	return &Service{
		repo:      repo,
		provider:  provider,
		events:    events,
		cache:     cache,
		window:    window,
		directive: directive,
		emotions:  emotions,
	}
}

type RespondRequest struct {
	Text           string
	ConversationID string // empty = create a new conversation inline
	ImageURL       string
	Replay         bool // re-generation for an already-stored user turn
}

type RespondResult struct {
	Reply              string
	ConversationID     string
	AssistantMessageID string
}

// DeriveTitle builds a conversation title from its first message: the
// first 30 characters (runes) plus an ellipsis when truncated.
func DeriveTitle(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return "New conversation"
	}
	runes := []rune(text)
	if len(runes) <= titleLimit {
		return text
	}
	return string(runes[:titleLimit]) + "..."
}

// Respond turns a user composition into persisted user + assistant rows
// and a generated reply. With no conversation id it creates the
// conversation inline and returns the new id. With Replay set it assumes
// the user row is already stored and only generates the missing reply.
func (s *Service) Respond(ctx context.Context, req RespondRequest) (*RespondResult, error) {
	if strings.TrimSpace(req.Text) == "" && req.ImageURL == "" {
		return nil, ErrEmptyMessage
	}

	conversationID := req.ConversationID
	if conversationID == "" {
		if req.Replay {
			return nil, errors.New("chat: replay requires a conversation id")
		}
		id, err := NewID()
		if err != nil {
			return nil, err
		}
		conv := &Conversation{
			ConversationID: id,
			Title:          DeriveTitle(req.Text),
		}
		if err := s.repo.CreateConversation(ctx, conv); err != nil {
			return nil, err
		}
		conversationID = id
	} else if _, err := s.repo.GetConversation(ctx, conversationID); err != nil {
		return nil, err
	}

	if !req.Replay {
		if err := s.insertUserMessage(ctx, conversationID, req.Text, req.ImageURL); err != nil {
			return nil, err
		}
	}

	// build the model context window, oldest -> newest
	recentDesc, err := s.repo.ListRecentMessagesDesc(ctx, conversationID, s.window)
	if err != nil {
		return nil, err
	}
	providerMsgs := make([]ai.Message, 0, len(recentDesc)+1)
	providerMsgs = append(providerMsgs, ai.Message{Role: "system", Content: s.directive})
	for i := len(recentDesc) - 1; i >= 0; i-- {
		m := recentDesc[i]
		providerMsgs = append(providerMsgs, ai.Message{
			Role:     m.Role,
			Content:  m.Content,
			ImageURL: m.ImageURL,
		})
	}

	reply, err := s.provider.Chat(ctx, providerMsgs)
	if err != nil {
		return nil, err
	}

	assistantID, err := NewID()
	if err != nil {
		return nil, err
	}
	assistantMsg := &Message{
		MessageID:      assistantID,
		ConversationID: conversationID,
		Role:           RoleAssistant,
		Content:        reply,
	}
	if err := s.repo.InsertMessage(ctx, assistantMsg); err != nil {
		return nil, err
	}
	s.afterInsert(ctx, *assistantMsg)

	return &RespondResult{
		Reply:              reply,
		ConversationID:     conversationID,
		AssistantMessageID: assistantID,
	}, nil
}

func (s *Service) insertUserMessage(ctx context.Context, conversationID, text, imageURL string) error {
	id, err := NewID()
	if err != nil {
		return err
	}
	userMsg := &Message{
		MessageID:      id,
		ConversationID: conversationID,
		Role:           RoleUser,
		Content:        text,
		ImageURL:       imageURL,
	}
	if err := s.repo.InsertMessage(ctx, userMsg); err != nil {
		return err
	}
	s.afterInsert(ctx, *userMsg)
	s.tagEmotion(ctx, *userMsg)
	return nil
}

// afterInsert runs the non-fatal side effects of a stored message:
// activity bump, listing cache invalidation, realtime notification.
func (s *Service) afterInsert(ctx context.Context, m Message) {
	if err := s.repo.TouchConversation(ctx, m.ConversationID); err != nil {
		log.Warn().Err(err).Str("conversation", m.ConversationID).Msg("[chat] touch conversation")
	}
	if s.cache != nil {
		if err := s.cache.Invalidate(ctx); err != nil {
			log.Warn().Err(err).Msg("[chat] invalidate listing cache")
		}
	}
	if s.events != nil {
		if err := s.events.PublishInsert(ctx, m); err != nil {
			log.Warn().Err(err).Str("message", m.MessageID).Msg("[chat] publish insert")
		}
	}
}

// tagEmotion labels a user message with its dominant emotion when the
// provider supports classification. Failures leave the label empty.
func (s *Service) tagEmotion(ctx context.Context, m Message) {
	if !s.emotions || strings.TrimSpace(m.Content) == "" {
		return
	}
	classifier, ok := s.provider.(ai.EmotionClassifier)
	if !ok {
		return
	}
	emotion, err := classifier.ClassifyEmotion(ctx, m.Content)
	if err != nil || emotion == "" {
		return
	}
	if err := s.repo.SetMessageEmotion(ctx, m.MessageID, emotion); err != nil {
		log.Warn().Err(err).Str("message", m.MessageID).Msg("[chat] store emotion")
		return
	}
	m.Emotion = emotion
	if s.events != nil {
		if err := s.events.PublishUpdate(ctx, m); err != nil {
			log.Warn().Err(err).Str("message", m.MessageID).Msg("[chat] publish update")
		}
	}
}

// ListConversations serves the sidebar listing through the cache.
func (s *Service) ListConversations(ctx context.Context, limit int) ([]Conversation, error) {
	return s.repo.ListConversations(ctx, limit)
}

func (s *Service) ListMessages(ctx context.Context, conversationID string) ([]Message, error) {
	if _, err := s.repo.GetConversation(ctx, conversationID); err != nil {
		return nil, err
	}
	return s.repo.ListMessagesAsc(ctx, conversationID)
}

func (s *Service) DeleteConversation(ctx context.Context, conversationID string) error {
	if err := s.repo.DeleteConversation(ctx, conversationID); err != nil {
		return err
	}
	if s.cache != nil {
		if err := s.cache.Invalidate(ctx); err != nil {
			log.Warn().Err(err).Msg("[chat] invalidate listing cache")
		}
	}
	return nil
}
