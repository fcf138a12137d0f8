package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/visageapp/visage/internal/chat"
)

// HTTPAPI implements Responder, History and Uploader against the chat
// server's REST surface.
type HTTPAPI struct {
	c *resty.Client
}

func NewHTTPAPI(baseURL string) *HTTPAPI {
	return &HTTPAPI{
		c: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(120 * time.Second),
	}
}

type apiEnvelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func decodeEnvelope(resp *resty.Response, out any) error {
	var env apiEnvelope
	if err := json.Unmarshal(resp.Body(), &env); err != nil {
		return fmt.Errorf("api: status %d: %w", resp.StatusCode(), err)
	}
	if env.Code != 0 {
		return fmt.Errorf("api: %s (code %d)", env.Message, env.Code)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(env.Data, out)
}

func (a *HTTPAPI) Respond(ctx context.Context, text, conversationID, imageURL string, replay bool) (*RespondResult, error) {
	resp, err := a.c.R().
		SetContext(ctx).
		SetBody(map[string]any{
			"text":            text,
			"conversation_id": conversationID,
			"image_url":       imageURL,
			"replay":          replay,
		}).
		Post("/api/respond")
	if err != nil {
		return nil, err
	}

	var data struct {
		Reply              string `json:"reply"`
		ConversationID     string `json:"conversation_id"`
		AssistantMessageID string `json:"assistant_message_id"`
	}
	if err := decodeEnvelope(resp, &data); err != nil {
		return nil, err
	}
	return &RespondResult{
		Reply:              data.Reply,
		ConversationID:     data.ConversationID,
		AssistantMessageID: data.AssistantMessageID,
	}, nil
}

func (a *HTTPAPI) ListMessages(ctx context.Context, conversationID string) ([]chat.Message, error) {
	resp, err := a.c.R().
		SetContext(ctx).
		Get("/api/conversations/" + conversationID + "/messages")
	if err != nil {
		return nil, err
	}
	var data struct {
		Messages []chat.Message `json:"messages"`
	}
	if err := decodeEnvelope(resp, &data); err != nil {
		return nil, err
	}
	return data.Messages, nil
}

func (a *HTTPAPI) ListConversations(ctx context.Context) ([]chat.Conversation, error) {
	resp, err := a.c.R().
		SetContext(ctx).
		Get("/api/conversations")
	if err != nil {
		return nil, err
	}
	var data struct {
		Conversations []chat.Conversation `json:"conversations"`
	}
	if err := decodeEnvelope(resp, &data); err != nil {
		return nil, err
	}
	return data.Conversations, nil
}

func (a *HTTPAPI) DeleteConversation(ctx context.Context, conversationID string) error {
	resp, err := a.c.R().
		SetContext(ctx).
		Delete("/api/conversations/" + conversationID)
	if err != nil {
		return err
	}
	return decodeEnvelope(resp, nil)
}

func (a *HTTPAPI) Upload(ctx context.Context, name string, data []byte) (string, error) {
	resp, err := a.c.R().
		SetContext(ctx).
		SetFileReader("file", name, bytes.NewReader(data)).
		Post("/api/uploads")
	if err != nil {
		return "", err
	}
	var out struct {
		URL string `json:"url"`
	}
	if err := decodeEnvelope(resp, &out); err != nil {
		return "", err
	}
	return out.URL, nil
}
