package client

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/visageapp/visage/internal/chat"
)

type fakeSub struct {
	mu     sync.Mutex
	closed bool
	onDrop func(error)
}

func (s *fakeSub) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *fakeSub) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type fakeTransport struct {
	mu           sync.Mutex
	calls        []string
	failuresLeft int
	subs         []*fakeSub
	events       []func(kind string, m chat.Message)
}

func (t *fakeTransport) Subscribe(ctx context.Context, conversationID string, onEvent func(kind string, m chat.Message), onDrop func(error)) (Subscription, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls = append(t.calls, conversationID)
	if t.failuresLeft > 0 {
		t.failuresLeft--
		return nil, context.DeadlineExceeded
	}
	sub := &fakeSub{onDrop: onDrop}
	t.subs = append(t.subs, sub)
	t.events = append(t.events, onEvent)
	return sub, nil
}

func (t *fakeTransport) callCount(conversationID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, c := range t.calls {
		if c == conversationID {
			n++
		}
	}
	return n
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met in time")
}

func fastBackoff() LinkOption {
	return WithBackoff(3*time.Millisecond, 3)
}

func TestLink_ActivatesAndDeliversEvents(t *testing.T) {
	tr := &fakeTransport{}
	got := make(chan chat.Message, 1)
	l := NewLink(tr, func(kind string, m chat.Message) {
		if kind == "insert" {
			got <- m
		}
	}, fastBackoff())

	l.SetConversation("c1")
	waitFor(t, func() bool { return l.Status() == LinkActive })

	tr.mu.Lock()
	deliver := tr.events[0]
	tr.mu.Unlock()
	deliver("insert", msg("m1", chat.RoleAssistant, "hi"))

	select {
	case m := <-got:
		if m.MessageID != "m1" {
			t.Fatalf("got %+v", m)
		}
	case <-time.After(time.Second):
		t.Fatalf("no event delivered")
	}
}

func TestLink_ExhaustsAfterBoundedRetries(t *testing.T) {
	tr := &fakeTransport{failuresLeft: 1 << 30}
	exhausted := make(chan struct{}, 1)
	l := NewLink(tr, func(string, chat.Message) {}, fastBackoff(),
		WithExhaustedFunc(func() { exhausted <- struct{}{} }))

	l.SetConversation("c1")

	select {
	case <-exhausted:
	case <-time.After(2 * time.Second):
		t.Fatalf("never exhausted")
	}

	// initial subscribe plus 3 automatic retries, nothing further
	if n := tr.callCount("c1"); n != 4 {
		t.Fatalf("subscribe calls = %d, want 4", n)
	}
	time.Sleep(30 * time.Millisecond)
	if n := tr.callCount("c1"); n != 4 {
		t.Fatalf("a retry fired after exhaustion: %d calls", n)
	}
	if l.Status() != LinkError {
		t.Fatalf("status = %s, want error", l.Status())
	}

	// explicit reconnect resets the counter and succeeds once the
	// transport recovers
	tr.mu.Lock()
	tr.failuresLeft = 0
	tr.mu.Unlock()
	l.Reconnect()
	waitFor(t, func() bool { return l.Status() == LinkActive })
}

func TestLink_SwitchTearsDownPreviousSubscription(t *testing.T) {
	tr := &fakeTransport{}
	l := NewLink(tr, func(string, chat.Message) {}, fastBackoff())

	l.SetConversation("c1")
	waitFor(t, func() bool { return l.Status() == LinkActive })

	l.SetConversation("c2")
	waitFor(t, func() bool { return l.Status() == LinkActive })

	tr.mu.Lock()
	first := tr.subs[0]
	tr.mu.Unlock()
	if !first.isClosed() {
		t.Fatalf("previous subscription leaked")
	}
	if n := tr.callCount("c2"); n != 1 {
		t.Fatalf("c2 subscribe calls = %d, want 1", n)
	}
}

func TestLink_SwitchCancelsPendingRetry(t *testing.T) {
	tr := &fakeTransport{failuresLeft: 1}
	l := NewLink(tr, func(string, chat.Message) {}, WithBackoff(50*time.Millisecond, 3))

	l.SetConversation("c1")
	waitFor(t, func() bool { return l.Status() == LinkError })

	// switch away before the retry timer fires
	l.SetConversation("c2")
	waitFor(t, func() bool { return l.Status() == LinkActive })

	time.Sleep(80 * time.Millisecond)
	if n := tr.callCount("c1"); n != 1 {
		t.Fatalf("cancelled retry resubscribed to c1: %d calls", n)
	}
}

func TestLink_DropTriggersReconnect(t *testing.T) {
	tr := &fakeTransport{}
	l := NewLink(tr, func(string, chat.Message) {}, fastBackoff())

	l.SetConversation("c1")
	waitFor(t, func() bool { return l.Status() == LinkActive })

	tr.mu.Lock()
	drop := tr.subs[0].onDrop
	tr.mu.Unlock()
	drop(context.DeadlineExceeded)

	// a successful re-activation after the drop, counter reset by the
	// earlier success
	waitFor(t, func() bool { return tr.callCount("c1") >= 2 && l.Status() == LinkActive })
}

func TestLink_TeardownIsIdempotent(t *testing.T) {
	tr := &fakeTransport{}
	l := NewLink(tr, func(string, chat.Message) {}, fastBackoff())

	l.SetConversation("c1")
	waitFor(t, func() bool { return l.Status() == LinkActive })

	l.Teardown()
	l.Teardown()
	if l.Status() != LinkInactive {
		t.Fatalf("status = %s, want inactive", l.Status())
	}

	tr.mu.Lock()
	closed := tr.subs[0].isClosed()
	tr.mu.Unlock()
	if !closed {
		t.Fatalf("teardown left the subscription open")
	}
}
