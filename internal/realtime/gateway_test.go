package realtime

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/visageapp/visage/internal/chat"
)

func startGateway(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub()
	gw := NewGateway(hub)
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", gw.HandleMessages)
	mux.HandleFunc("/ws/presence", gw.HandlePresence)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", path, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var f Frame
	if err := conn.ReadJSON(&f); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return f
}

func subscribeConn(t *testing.T, conn *websocket.Conn, conversationID string) {
	t.Helper()
	if err := conn.WriteJSON(Frame{Type: FrameSubscribe, ConversationID: conversationID}); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}
	ack := readFrame(t, conn)
	if ack.Type != FrameSubscribed || ack.ConversationID != conversationID {
		t.Fatalf("ack = %+v", ack)
	}
}

func TestGateway_BroadcastScopedToConversation(t *testing.T) {
	hub, srv := startGateway(t)

	a := dial(t, srv, "/ws")
	subscribeConn(t, a, "c1")
	b := dial(t, srv, "/ws")
	subscribeConn(t, b, "c2")

	hub.Broadcast(FrameInsert, chat.Message{
		MessageID:      "m1",
		ConversationID: "c1",
		Role:           chat.RoleAssistant,
		Content:        "hello <b>there</b>",
	})

	f := readFrame(t, a)
	if f.Type != FrameInsert || f.Message == nil || f.Message.MessageID != "m1" {
		t.Fatalf("frame = %+v", f)
	}
	// HTML stays unescaped on the wire
	if f.Message.Content != "hello <b>there</b>" {
		t.Fatalf("content mangled: %q", f.Message.Content)
	}

	// the c2 subscriber must see nothing
	_ = b.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	var stray Frame
	if err := b.ReadJSON(&stray); err == nil {
		t.Fatalf("c2 subscriber received a c1 event: %+v", stray)
	}
}

func TestGateway_ResubscribeSwitchesConversation(t *testing.T) {
	hub, srv := startGateway(t)

	conn := dial(t, srv, "/ws")
	subscribeConn(t, conn, "c1")
	subscribeConn(t, conn, "c2")

	hub.Broadcast(FrameUpdate, chat.Message{MessageID: "m-old", ConversationID: "c1"})
	hub.Broadcast(FrameUpdate, chat.Message{MessageID: "m-new", ConversationID: "c2"})

	f := readFrame(t, conn)
	if f.Message == nil || f.Message.MessageID != "m-new" {
		t.Fatalf("expected only the c2 event, got %+v", f)
	}
}

func TestGateway_SubscribeRequiresConversation(t *testing.T) {
	_, srv := startGateway(t)

	conn := dial(t, srv, "/ws")
	if err := conn.WriteJSON(Frame{Type: FrameSubscribe}); err != nil {
		t.Fatalf("write: %v", err)
	}
	f := readFrame(t, conn)
	if f.Type != FrameError {
		t.Fatalf("frame = %+v, want error", f)
	}
}

func TestGateway_PresenceCounts(t *testing.T) {
	hub, srv := startGateway(t)

	a := dial(t, srv, "/ws/presence")
	if err := a.WriteJSON(Frame{Type: FrameTrack, Session: "s1", JoinedAt: time.Now().UnixMilli()}); err != nil {
		t.Fatalf("track a: %v", err)
	}
	// join notification for itself, then the sync answer
	join := readFrame(t, a)
	if join.Type != FrameJoin || join.Count != 1 || join.Session != "s1" {
		t.Fatalf("join = %+v", join)
	}
	sync := readFrame(t, a)
	if sync.Type != FrameSync || sync.Count != 1 {
		t.Fatalf("sync = %+v", sync)
	}

	b := dial(t, srv, "/ws/presence")
	if err := b.WriteJSON(Frame{Type: FrameTrack, Session: "s2", JoinedAt: time.Now().UnixMilli()}); err != nil {
		t.Fatalf("track b: %v", err)
	}
	// the first session hears about the second join
	join2 := readFrame(t, a)
	if join2.Type != FrameJoin || join2.Count != 2 || join2.Session != "s2" {
		t.Fatalf("join2 = %+v", join2)
	}
	if hub.PresenceCount() != 2 {
		t.Fatalf("count = %d, want 2", hub.PresenceCount())
	}

	// closing the second connection produces a leave with the new count
	_ = b.Close()
	leave := readFrame(t, a)
	if leave.Type != FrameLeave || leave.Count != 1 || leave.Session != "s2" {
		t.Fatalf("leave = %+v", leave)
	}
}

func TestHub_UnsubscribeRemovesEmptyBuckets(t *testing.T) {
	hub := NewHub()
	c := &wsClient{}
	hub.subscribe(c, "c1")
	hub.subscribe(c, "c2")
	hub.unsubscribe(c)

	hub.mu.RLock()
	defer hub.mu.RUnlock()
	if len(hub.subs) != 0 || len(hub.subOf) != 0 {
		t.Fatalf("hub leaked state: subs=%v subOf=%v", hub.subs, hub.subOf)
	}
}
