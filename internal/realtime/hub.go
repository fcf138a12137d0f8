package realtime

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/visageapp/visage/internal/chat"
)

const writeWait = 10 * time.Second

// wsClient wraps a websocket connection with a write lock so the hub and
// the per-connection ping goroutine never interleave frames.
type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// writeJSON mirrors gorilla's WriteJSON but with HTML escaping off so
// message content survives round-tripping verbatim.
func (c *wsClient) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	w, err := c.conn.NextWriter(websocket.TextMessage)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return w.Close()
}

func (c *wsClient) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.PingMessage, nil)
}

type presenceEntry struct {
	Session  string
	JoinedAt int64
}

// Hub fans message change events out to per-conversation subscribers and
// keeps the shared presence roster. The two channels are independent:
// a dropped message subscription never disturbs presence and vice versa.
type Hub struct {
	mu       sync.RWMutex
	subs     map[string]map[*wsClient]struct{} // conversation id -> subscribers
	subOf    map[*wsClient]string              // reverse index
	presence map[*wsClient]presenceEntry
}

func NewHub() *Hub {
	return &Hub{
		subs:     map[string]map[*wsClient]struct{}{},
		subOf:    map[*wsClient]string{},
		presence: map[*wsClient]presenceEntry{},
	}
}

// subscribe points the connection at a single conversation, replacing any
// previous subscription it held.
func (h *Hub) subscribe(c *wsClient, conversationID string) {
	h.mu.Lock()
	if prev, ok := h.subOf[c]; ok {
		delete(h.subs[prev], c)
		if len(h.subs[prev]) == 0 {
			delete(h.subs, prev)
		}
	}
	if h.subs[conversationID] == nil {
		h.subs[conversationID] = map[*wsClient]struct{}{}
	}
	h.subs[conversationID][c] = struct{}{}
	h.subOf[c] = conversationID
	h.mu.Unlock()
}

func (h *Hub) unsubscribe(c *wsClient) {
	h.mu.Lock()
	if prev, ok := h.subOf[c]; ok {
		delete(h.subs[prev], c)
		if len(h.subs[prev]) == 0 {
			delete(h.subs, prev)
		}
		delete(h.subOf, c)
	}
	h.mu.Unlock()
}

// Broadcast delivers one change event to every subscriber of its
// conversation. kind is FrameInsert or FrameUpdate.
func (h *Hub) Broadcast(kind string, m chat.Message) {
	h.mu.RLock()
	targets := make([]*wsClient, 0, len(h.subs[m.ConversationID]))
	for c := range h.subs[m.ConversationID] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	frame := Frame{Type: kind, ConversationID: m.ConversationID, Message: &m}
	for _, c := range targets {
		if err := c.writeJSON(frame); err != nil {
			log.Debug().Err(err).Msg("[realtime] drop slow subscriber")
		}
	}
}

func (h *Hub) track(c *wsClient, session string, joinedAt int64) {
	h.mu.Lock()
	h.presence[c] = presenceEntry{Session: session, JoinedAt: joinedAt}
	h.mu.Unlock()
	h.broadcastPresence(FrameJoin, session)
}

func (h *Hub) untrack(c *wsClient) {
	h.mu.Lock()
	entry, ok := h.presence[c]
	delete(h.presence, c)
	h.mu.Unlock()
	if ok {
		h.broadcastPresence(FrameLeave, entry.Session)
	}
}

// broadcastPresence tells every tracked session the current member count.
func (h *Hub) broadcastPresence(kind, session string) {
	h.mu.RLock()
	count := len(h.presence)
	targets := make([]*wsClient, 0, count)
	for c := range h.presence {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	frame := Frame{Type: kind, Session: session, Count: count}
	for _, c := range targets {
		if err := c.writeJSON(frame); err != nil {
			log.Debug().Err(err).Msg("[realtime] drop presence subscriber")
		}
	}
}

// PresenceCount reports the number of tracked sessions.
func (h *Hub) PresenceCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.presence)
}
