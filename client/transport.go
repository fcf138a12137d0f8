package client

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/visageapp/visage/internal/chat"
	"github.com/visageapp/visage/internal/realtime"
)

const handshakeWait = 10 * time.Second

// WSTransport implements Transport and PresenceTransport over the
// gateway's websocket endpoints.
type WSTransport struct {
	baseURL string
	dialer  *websocket.Dialer
}

func NewWSTransport(baseURL string) *WSTransport {
	return &WSTransport{
		baseURL: wsBase(baseURL),
		dialer:  &websocket.Dialer{HandshakeTimeout: handshakeWait},
	}
}

func wsBase(baseURL string) string {
	base := strings.TrimRight(baseURL, "/")
	base = strings.Replace(base, "https://", "wss://", 1)
	base = strings.Replace(base, "http://", "ws://", 1)
	return base
}

type wsSub struct {
	conn *websocket.Conn
	once sync.Once
	done chan struct{}
}

func (s *wsSub) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.conn.Close()
	})
	return err
}

func (s *wsSub) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Subscribe dials the change feed, performs the subscribe handshake, and
// pumps insert/update events until the connection drops or Close is
// called.
func (t *WSTransport) Subscribe(ctx context.Context, conversationID string, onEvent func(kind string, m chat.Message), onDrop func(error)) (Subscription, error) {
	conn, _, err := t.dialer.DialContext(ctx, t.baseURL+"/ws", nil)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	if err := conn.WriteJSON(realtime.Frame{Type: realtime.FrameSubscribe, ConversationID: conversationID}); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("subscribe: %w", err)
	}

	// handshake: wait for the subscribed ack
	_ = conn.SetReadDeadline(time.Now().Add(handshakeWait))
	for {
		var f realtime.Frame
		if err := conn.ReadJSON(&f); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("handshake: %w", err)
		}
		if f.Type == realtime.FrameError {
			_ = conn.Close()
			return nil, fmt.Errorf("handshake: %s", f.Error)
		}
		if f.Type == realtime.FrameSubscribed {
			break
		}
	}
	_ = conn.SetReadDeadline(time.Time{})

	sub := &wsSub{conn: conn, done: make(chan struct{})}

	go func() {
		for {
			var f realtime.Frame
			if err := conn.ReadJSON(&f); err != nil {
				if !sub.closed() {
					_ = sub.Close()
					onDrop(err)
				}
				return
			}
			if (f.Type == realtime.FrameInsert || f.Type == realtime.FrameUpdate) && f.Message != nil {
				onEvent(f.Type, *f.Message)
			}
		}
	}()

	return sub, nil
}

// Join dials the presence channel, tracks this session, and reports
// every count the channel syncs.
func (t *WSTransport) Join(ctx context.Context, session string, joinedAt int64, onCount func(int), onDrop func(error)) (Subscription, error) {
	conn, _, err := t.dialer.DialContext(ctx, t.baseURL+"/ws/presence", nil)
	if err != nil {
		return nil, fmt.Errorf("dial presence: %w", err)
	}

	if err := conn.WriteJSON(realtime.Frame{Type: realtime.FrameTrack, Session: session, JoinedAt: joinedAt}); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("track: %w", err)
	}

	sub := &wsSub{conn: conn, done: make(chan struct{})}

	go func() {
		for {
			var f realtime.Frame
			if err := conn.ReadJSON(&f); err != nil {
				if !sub.closed() {
					_ = sub.Close()
					onDrop(err)
				}
				return
			}
			switch f.Type {
			case realtime.FrameSync, realtime.FrameJoin, realtime.FrameLeave:
				onCount(f.Count)
			}
		}
	}()

	return sub, nil
}
