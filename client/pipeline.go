package client

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/visageapp/visage/internal/chat"
)

// Attachment is one composed file; Data is held byte-for-byte so a retry
// reproduces the identical upload.
type Attachment struct {
	Name string
	Data []byte
}

// PendingSend is the single retry-eligible unsent composition. At most
// one exists per session; a newer send overwrites it (last-writer-wins).
type PendingSend struct {
	Text string
	File *Attachment
}

// Uploader pushes an attachment to object storage and returns its
// public URL.
type Uploader interface {
	Upload(ctx context.Context, name string, data []byte) (string, error)
}

// Responder invokes the remote AI responder. An empty conversationID
// asks it to create the conversation inline.
type Responder interface {
	Respond(ctx context.Context, text, conversationID, imageURL string, replay bool) (*RespondResult, error)
}

type RespondResult struct {
	Reply              string
	ConversationID     string
	AssistantMessageID string
}

// SendOutcome reports what a successful send produced.
type SendOutcome struct {
	ConversationID  string
	NewConversation bool
}

const (
	defaultHandoffDelay   = 500 * time.Millisecond
	defaultPlaceholderTTL = 10 * time.Second
)

// Pipeline turns a composition into a durable message and a generated
// reply, with optimistic display and a single-slot retry on failure.
type Pipeline struct {
	uploader  Uploader
	responder Responder
	store     *MessageStore

	mu      sync.Mutex
	pending *PendingSend

	// offline is consulted before any network call; when it reports
	// true the composition is parked for replay instead.
	offline func() bool

	handoffDelay   time.Duration
	placeholderTTL time.Duration
}

func NewPipeline(uploader Uploader, responder Responder, store *MessageStore, offline func() bool) *Pipeline {
	if offline == nil {
		offline = func() bool { return false }
	}
	return &Pipeline{
		uploader:       uploader,
		responder:      responder,
		store:          store,
		offline:        offline,
		handoffDelay:   defaultHandoffDelay,
		placeholderTTL: defaultPlaceholderTTL,
	}
}

// Pending returns a copy of the current pending send, if any. The
// controller reads this to render the retry affordance.
func (p *Pipeline) Pending() (PendingSend, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pending == nil {
		return PendingSend{}, false
	}
	out := PendingSend{Text: p.pending.Text}
	if p.pending.File != nil {
		out.File = &Attachment{
			Name: p.pending.File.Name,
			Data: append([]byte(nil), p.pending.File.Data...),
		}
	}
	return out, true
}

func (p *Pipeline) clearPending() {
	p.mu.Lock()
	p.pending = nil
	p.mu.Unlock()
}

// Send runs the full pipeline for a fresh composition. An empty
// composition is a silent no-op.
func (p *Pipeline) Send(ctx context.Context, conversationID, text string, file *Attachment) (*SendOutcome, error) {
	if strings.TrimSpace(text) == "" && file == nil {
		return nil, nil
	}

	// record before any network call so a mid-flight drop leaves a
	// replayable copy
	p.mu.Lock()
	p.pending = &PendingSend{Text: text, File: file}
	p.mu.Unlock()

	return p.attempt(ctx, conversationID, text, file)
}

// Retry re-runs the pipeline with the preserved pending contents. It is
// explicit: user action or the reconnect handler triggers it, never a
// timer.
func (p *Pipeline) Retry(ctx context.Context, conversationID string) (*SendOutcome, error) {
	p.mu.Lock()
	if p.pending == nil {
		p.mu.Unlock()
		return nil, nil
	}
	text := p.pending.Text
	file := p.pending.File
	p.mu.Unlock()

	return p.attempt(ctx, conversationID, text, file)
}

func (p *Pipeline) attempt(ctx context.Context, conversationID, text string, file *Attachment) (*SendOutcome, error) {
	if p.offline() {
		return nil, ErrOffline
	}

	imageURL := ""
	if file != nil {
		url, err := p.uploader.Upload(ctx, file.Name, file.Data)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUploadFailed, err)
		}
		imageURL = url
	}

	// optimistic display: the user's row plus an empty assistant row
	// standing in for "response in progress"
	userTempID := uuid.NewString()
	p.store.AddLocal(userTempID, chat.Message{
		ConversationID: conversationID,
		Role:           chat.RoleUser,
		Content:        text,
		ImageURL:       imageURL,
		CreatedAt:      time.Now(),
	}, true)

	typingTempID := uuid.NewString()
	p.store.AddLocal(typingTempID, chat.Message{
		ConversationID: conversationID,
		Role:           chat.RoleAssistant,
		CreatedAt:      time.Now(),
	}, true)

	res, err := p.responder.Respond(ctx, text, conversationID, imageURL, false)
	if err != nil {
		// drop the typing indicator; the user's optimistic row stays
		// visible next to the retry affordance
		p.store.RemoveLocal(typingTempID)
		if p.offline() {
			// the offline handler owns user messaging here
			return nil, ErrOffline
		}
		return nil, fmt.Errorf("%w: %v", ErrResponderFailed, err)
	}

	p.clearPending()

	// visual handoff: let the authoritative realtime rows take over
	// after a short delay. Best effort; TTL pruning is the fallback if
	// they never arrive.
	time.AfterFunc(p.handoffDelay, func() {
		p.store.RemoveLocal(userTempID)
		p.store.RemoveLocal(typingTempID)
	})

	return &SendOutcome{
		ConversationID:  res.ConversationID,
		NewConversation: conversationID == "",
	}, nil
}

// PrunePlaceholders applies the explicit expiry policy for optimistic
// rows whose authoritative counterpart never arrived.
func (p *Pipeline) PrunePlaceholders() int {
	return p.store.PruneExpired(p.placeholderTTL)
}
