package client

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/visageapp/visage/internal/chat"
)

// ConnStatus is the user-facing connection state, reconciled from the
// network-online signal and the realtime link's own status. The network
// signal wins for display; the link status governs resubscription.
type ConnStatus string

const (
	StatusConnected    ConnStatus = "connected"
	StatusDisconnected ConnStatus = "disconnected"
	StatusReconnecting ConnStatus = "reconnecting"
)

// History is the one-shot persistence surface the controller reads and
// deletes through.
type History interface {
	ListMessages(ctx context.Context, conversationID string) ([]chat.Message, error)
	ListConversations(ctx context.Context) ([]chat.Conversation, error)
	DeleteConversation(ctx context.Context, conversationID string) error
}

// Controller composes the realtime link, send pipeline, presence tracker
// and message store into one conversation lifecycle. It owns the message
// store exclusively; every mutation flows through it.
type Controller struct {
	history   History
	responder Responder
	session   SessionState

	store    *MessageStore
	link     *Link
	pipeline *Pipeline
	presence *PresenceTracker

	mu         sync.Mutex
	online     bool
	active     string
	inflight   map[string]bool // conversation id -> send/recovery outstanding
	convs      []chat.Conversation
	convsFresh bool
	notice     string
}

type ControllerConfig struct {
	History   History
	Responder Responder
	Uploader  Uploader
	Transport Transport
	Presence  PresenceTransport
	Session   SessionState
	LinkOpts  []LinkOption
}

func NewController(cfg ControllerConfig) *Controller {
	c := &Controller{
		history:   cfg.History,
		responder: cfg.Responder,
		session:   cfg.Session,
		store:     NewMessageStore(),
		online:    true,
		inflight:  map[string]bool{},
	}
	if c.session == nil {
		c.session = NewMemorySessionState()
	}

	opts := append([]LinkOption{
		WithExhaustedFunc(func() {
			c.mu.Lock()
			c.notice = "realtime connection lost; use Reconnect or reload"
			c.mu.Unlock()
		}),
	}, cfg.LinkOpts...)

	c.link = NewLink(cfg.Transport, func(kind string, m chat.Message) {
		switch kind {
		case "insert":
			c.store.ApplyInsert(m)
		case "update":
			c.store.ApplyUpdate(m)
		}
	}, opts...)

	c.pipeline = NewPipeline(cfg.Uploader, cfg.Responder, c.store, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return !c.online
	})

	if cfg.Presence != nil {
		c.presence = NewPresenceTracker(cfg.Presence)
	}

	// session state is read once at startup; default is no conversation
	c.active = c.session.Load()

	return c
}

// Start brings up the realtime link for the persisted conversation (if
// any) and joins presence.
func (c *Controller) Start(ctx context.Context) {
	c.mu.Lock()
	active := c.active
	c.mu.Unlock()

	if c.presence != nil {
		c.presence.Start(ctx)
	}
	if active != "" {
		if err := c.SelectConversation(ctx, active); err != nil {
			log.Warn().Err(err).Str("conversation", active).Msg("[controller] restore conversation")
		}
	}
}

func (c *Controller) Close() {
	c.link.Teardown()
	if c.presence != nil {
		c.presence.Stop()
	}
}

func (c *Controller) ActiveConversation() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

func (c *Controller) Store() *MessageStore { return c.store }

func (c *Controller) Notice() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.notice
}

// Pending exposes the pipeline's pending send for the retry affordance.
func (c *Controller) Pending() (PendingSend, bool) {
	return c.pipeline.Pending()
}

func (c *Controller) PresenceCount() int {
	if c.presence == nil {
		return 0
	}
	return c.presence.Count()
}

// Status reconciles the two signal sources: offline always displays as
// disconnected regardless of the subscription; online displays the link's
// progress.
func (c *Controller) Status() ConnStatus {
	c.mu.Lock()
	online := c.online
	c.mu.Unlock()
	if !online {
		return StatusDisconnected
	}
	switch c.link.Status() {
	case LinkConnecting, LinkError:
		return StatusReconnecting
	default:
		return StatusConnected
	}
}

// SetOnline feeds the coarse network signal in. Coming back online
// replays any pending send and resubscribes a failed link.
func (c *Controller) SetOnline(ctx context.Context, online bool) {
	c.mu.Lock()
	was := c.online
	c.online = online
	c.mu.Unlock()

	if !online || was == online {
		return
	}

	if _, ok := c.pipeline.Pending(); ok {
		if _, err := c.Retry(ctx); err != nil {
			log.Warn().Err(err).Msg("[controller] replay pending send")
		}
	}
	if c.link.Status() == LinkError {
		c.link.Reconnect()
	}
}

// SelectConversation loads a conversation: one-shot fetch, store reset,
// link switch, and the missing-response recovery check (at most once per
// load, skipped while a send is outstanding).
func (c *Controller) SelectConversation(ctx context.Context, conversationID string) error {
	msgs, err := c.history.ListMessages(ctx, conversationID)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.active = conversationID
	c.mu.Unlock()
	c.session.Store(conversationID)

	c.store.Reset(msgs)
	c.link.SetConversation(conversationID)

	c.maybeRecover(conversationID, msgs)
	return nil
}

// maybeRecover re-triggers generation when the newest stored message is
// a user turn with no reply (e.g. the session ended mid-generation). The
// in-flight marker prevents a duplicate reply racing an outstanding send.
func (c *Controller) maybeRecover(conversationID string, msgs []chat.Message) {
	if len(msgs) == 0 {
		return
	}
	last := msgs[len(msgs)-1]
	if last.Role != chat.RoleUser {
		return
	}

	c.mu.Lock()
	if c.inflight[conversationID] {
		c.mu.Unlock()
		return
	}
	c.inflight[conversationID] = true
	c.mu.Unlock()

	go func() {
		defer func() {
			c.mu.Lock()
			delete(c.inflight, conversationID)
			c.mu.Unlock()
		}()
		_, err := c.responder.Respond(context.Background(), last.Content, conversationID, last.ImageURL, true)
		if err != nil {
			log.Warn().Err(err).Str("conversation", conversationID).Msg("[controller] recovery respond")
		}
	}()
}

// Send runs the pipeline against the active conversation and adopts a
// freshly created conversation id.
func (c *Controller) Send(ctx context.Context, text string, file *Attachment) (*SendOutcome, error) {
	c.mu.Lock()
	active := c.active
	c.inflight[active] = true
	c.mu.Unlock()

	outcome, err := c.pipeline.Send(ctx, active, text, file)

	c.mu.Lock()
	delete(c.inflight, active)
	c.mu.Unlock()

	c.adopt(outcome)
	return outcome, err
}

// Retry re-invokes the pipeline with the preserved pending send.
func (c *Controller) Retry(ctx context.Context) (*SendOutcome, error) {
	c.mu.Lock()
	active := c.active
	c.inflight[active] = true
	c.mu.Unlock()

	outcome, err := c.pipeline.Retry(ctx, active)

	c.mu.Lock()
	delete(c.inflight, active)
	c.mu.Unlock()

	c.adopt(outcome)
	return outcome, err
}

func (c *Controller) adopt(outcome *SendOutcome) {
	if outcome == nil {
		return
	}
	c.mu.Lock()
	c.convsFresh = false
	if !outcome.NewConversation {
		c.mu.Unlock()
		return
	}
	c.active = outcome.ConversationID
	c.mu.Unlock()

	c.session.Store(outcome.ConversationID)
	c.link.SetConversation(outcome.ConversationID)
}

// Conversations returns the sidebar listing, re-fetching after any
// invalidation.
func (c *Controller) Conversations(ctx context.Context) ([]chat.Conversation, error) {
	c.mu.Lock()
	if c.convsFresh {
		out := append([]chat.Conversation(nil), c.convs...)
		c.mu.Unlock()
		return out, nil
	}
	c.mu.Unlock()

	convs, err := c.history.ListConversations(ctx)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.convs = convs
	c.convsFresh = true
	c.mu.Unlock()
	return append([]chat.Conversation(nil), convs...), nil
}

// NewConversation clears the active selection so the next send creates
// a conversation inline.
func (c *Controller) NewConversation() {
	c.mu.Lock()
	c.active = ""
	c.mu.Unlock()
	c.session.Clear()
	c.store.Clear()
	c.link.Teardown()
}

// DeleteConversation removes the active conversation. There is no
// optimistic delete: local state changes only after the backend confirms.
func (c *Controller) DeleteConversation(ctx context.Context) error {
	c.mu.Lock()
	active := c.active
	c.mu.Unlock()
	if active == "" {
		return nil
	}

	if err := c.history.DeleteConversation(ctx, active); err != nil {
		return err
	}

	c.mu.Lock()
	c.active = ""
	c.convsFresh = false
	c.mu.Unlock()

	c.session.Clear()
	c.store.Clear()
	c.link.Teardown()
	return nil
}

// Reconnect is the explicit user-triggered path after automatic retries
// are exhausted.
func (c *Controller) Reconnect() {
	c.mu.Lock()
	c.notice = ""
	c.mu.Unlock()
	c.link.Reconnect()
}
