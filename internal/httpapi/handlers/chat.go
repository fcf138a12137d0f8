package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/visageapp/visage/internal/chat"
)

func ok(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{
		"code":    0,
		"message": "ok",
		"data":    data,
	})
}

func fail(c *gin.Context, httpStatus int, code int, msg string) {
	c.JSON(httpStatus, gin.H{
		"code":    code,
		"message": msg,
		"data":    nil,
	})
}

func (h *Handler) Ping(c *gin.Context) {
	ok(c, gin.H{"pong": true})
}

type respondReq struct {
	Text           string `json:"text"`
	ConversationID string `json:"conversation_id"`
	ImageURL       string `json:"image_url"`
	Replay         bool   `json:"replay"`
}

// Respond is the AI responder endpoint: it persists the user turn,
// generates the assistant reply, and returns it together with the
// (possibly freshly created) conversation id.
func (h *Handler) Respond(c *gin.Context) {
	var req respondReq
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	res, err := h.ChatSvc.Respond(c.Request.Context(), chat.RespondRequest{
		Text:           req.Text,
		ConversationID: req.ConversationID,
		ImageURL:       req.ImageURL,
		Replay:         req.Replay,
	})
	if err != nil {
		if errors.Is(err, chat.ErrEmptyMessage) {
			fail(c, http.StatusBadRequest, 10002, "empty message")
			return
		}
		if errors.Is(err, gorm.ErrRecordNotFound) {
			fail(c, http.StatusNotFound, 40004, "conversation not found")
			return
		}
		log.Error().Err(err).Msg("[api] respond")
		fail(c, http.StatusBadGateway, 50001, "failed to generate reply")
		return
	}

	ok(c, gin.H{
		"reply":                res.Reply,
		"conversation_id":      res.ConversationID,
		"assistant_message_id": res.AssistantMessageID,
	})
}

// ListConversations serves the most recent 20 conversations, newest
// activity first, through the Redis cache.
func (h *Handler) ListConversations(c *gin.Context) {
	ctx := c.Request.Context()

	if h.Cache != nil {
		if convs, hit, err := h.Cache.GetConversations(ctx); err == nil && hit {
			ok(c, gin.H{"conversations": convs})
			return
		}
	}

	convs, err := h.ChatSvc.ListConversations(ctx, 20)
	if err != nil {
		fail(c, http.StatusInternalServerError, 50002, "failed to list conversations")
		return
	}
	if h.Cache != nil {
		if err := h.Cache.SetConversations(ctx, convs); err != nil {
			log.Warn().Err(err).Msg("[api] cache conversations")
		}
	}
	ok(c, gin.H{"conversations": convs})
}

func (h *Handler) ListMessages(c *gin.Context) {
	conversationID := c.Param("conversation_id")

	msgs, err := h.ChatSvc.ListMessages(c.Request.Context(), conversationID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			fail(c, http.StatusNotFound, 40004, "conversation not found")
			return
		}
		fail(c, http.StatusInternalServerError, 50003, "failed to list messages")
		return
	}
	ok(c, gin.H{"messages": msgs})
}

func (h *Handler) DeleteConversation(c *gin.Context) {
	conversationID := c.Param("conversation_id")

	if err := h.ChatSvc.DeleteConversation(c.Request.Context(), conversationID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			fail(c, http.StatusNotFound, 40004, "conversation not found")
			return
		}
		fail(c, http.StatusInternalServerError, 50004, "failed to delete conversation")
		return
	}
	ok(c, gin.H{"deleted": conversationID})
}
