package realtime

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 20 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin:      func(r *http.Request) bool { return true },
	ReadBufferSize:   1024,
	WriteBufferSize:  1024,
	HandshakeTimeout: 10 * time.Second,
}

// Gateway exposes the two websocket endpoints over one Hub.
type Gateway struct {
	hub *Hub
}

func NewGateway(hub *Hub) *Gateway {
	return &Gateway{hub: hub}
}

func setupConn(conn *websocket.Conn) *wsClient {
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	return &wsClient{conn: conn}
}

func keepalive(c *wsClient, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := c.ping(); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

// HandleMessages serves the per-conversation change feed. The client
// sends a subscribe frame naming one conversation; a later subscribe
// frame on the same connection switches it.
func (g *Gateway) HandleMessages(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := setupConn(conn)
	done := make(chan struct{})
	go keepalive(c, done)

	defer func() {
		close(done)
		g.hub.unsubscribe(c)
		_ = conn.Close()
	}()

	for {
		var f Frame
		if err := conn.ReadJSON(&f); err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		switch f.Type {
		case FrameSubscribe:
			if f.ConversationID == "" {
				_ = c.writeJSON(Frame{Type: FrameError, Error: "subscribe requires conversation_id"})
				continue
			}
			g.hub.subscribe(c, f.ConversationID)
			_ = c.writeJSON(Frame{Type: FrameSubscribed, ConversationID: f.ConversationID})
		default:
			log.Debug().Str("type", f.Type).Msg("[realtime] ignore frame")
		}
	}
}

// HandlePresence serves the shared presence channel. The client sends a
// track frame with its session tag; the hub answers with a sync carrying
// the current count and notifies everyone of joins and leaves.
func (g *Gateway) HandlePresence(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := setupConn(conn)
	done := make(chan struct{})
	go keepalive(c, done)

	tracked := false
	defer func() {
		close(done)
		if tracked {
			g.hub.untrack(c)
		}
		_ = conn.Close()
	}()

	for {
		var f Frame
		if err := conn.ReadJSON(&f); err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		switch f.Type {
		case FrameTrack:
			if f.Session == "" {
				_ = c.writeJSON(Frame{Type: FrameError, Error: "track requires session"})
				continue
			}
			if !tracked {
				tracked = true
				g.hub.track(c, f.Session, f.JoinedAt)
			}
			_ = c.writeJSON(Frame{Type: FrameSync, Count: g.hub.PresenceCount()})
		default:
			log.Debug().Str("type", f.Type).Msg("[realtime] ignore frame")
		}
	}
}
