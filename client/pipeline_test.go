package client

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/visageapp/visage/internal/chat"
)

type captureUploader struct {
	mu    sync.Mutex
	url   string
	err   error
	names []string
	datas [][]byte
}

func (u *captureUploader) Upload(ctx context.Context, name string, data []byte) (string, error) {
	_ = ctx
	u.mu.Lock()
	defer u.mu.Unlock()
	u.names = append(u.names, name)
	u.datas = append(u.datas, append([]byte(nil), data...))
	if u.err != nil {
		return "", u.err
	}
	return u.url, nil
}

type captureResponder struct {
	mu    sync.Mutex
	res     *RespondResult
	err     error
	calls   []string // text of each invocation
	image   []string
	replays []bool
}

func (r *captureResponder) Respond(ctx context.Context, text, conversationID, imageURL string, replay bool) (*RespondResult, error) {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, text)
	r.image = append(r.image, imageURL)
	r.replays = append(r.replays, replay)
	if r.err != nil {
		return nil, r.err
	}
	res := r.res
	if res == nil {
		res = &RespondResult{Reply: "ok", ConversationID: conversationID}
	}
	return res, nil
}

func (r *captureResponder) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func TestPipeline_EmptyCompositionIsNoop(t *testing.T) {
	resp := &captureResponder{}
	p := NewPipeline(&captureUploader{}, resp, NewMessageStore(), nil)

	outcome, err := p.Send(context.Background(), "c1", "   ", nil)
	if outcome != nil || err != nil {
		t.Fatalf("got (%v, %v), want (nil, nil)", outcome, err)
	}
	if resp.callCount() != 0 {
		t.Fatalf("responder was invoked for an empty composition")
	}
	if _, ok := p.Pending(); ok {
		t.Fatalf("empty composition recorded a pending send")
	}
}

func TestPipeline_OfflineParksSendWithoutNetwork(t *testing.T) {
	up := &captureUploader{url: "https://img/x.png"}
	resp := &captureResponder{}
	p := NewPipeline(up, resp, NewMessageStore(), func() bool { return true })

	file := &Attachment{Name: "x.png", Data: []byte{1, 2, 3}}
	_, err := p.Send(context.Background(), "c1", "hello", file)
	if !errors.Is(err, ErrOffline) {
		t.Fatalf("err = %v, want ErrOffline", err)
	}
	if resp.callCount() != 0 || len(up.names) != 0 {
		t.Fatalf("offline send touched the network")
	}

	pend, ok := p.Pending()
	if !ok {
		t.Fatalf("no pending send recorded")
	}
	if pend.Text != "hello" || pend.File == nil || !bytes.Equal(pend.File.Data, []byte{1, 2, 3}) {
		t.Fatalf("pending contents altered: %+v", pend)
	}
}

func TestPipeline_RetryReplaysPreservedContents(t *testing.T) {
	up := &captureUploader{url: "https://img/x.png"}
	resp := &captureResponder{res: &RespondResult{ConversationID: "c1"}}
	offline := true
	p := NewPipeline(up, resp, NewMessageStore(), func() bool { return offline })

	file := &Attachment{Name: "x.png", Data: []byte("pixels")}
	if _, err := p.Send(context.Background(), "c1", "look", file); !errors.Is(err, ErrOffline) {
		t.Fatalf("err = %v, want ErrOffline", err)
	}

	offline = false
	outcome, err := p.Retry(context.Background(), "c1")
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if outcome == nil || outcome.ConversationID != "c1" || outcome.NewConversation {
		t.Fatalf("outcome = %+v", outcome)
	}
	if len(up.datas) != 1 || !bytes.Equal(up.datas[0], []byte("pixels")) {
		t.Fatalf("retry did not upload the preserved bytes: %v", up.datas)
	}
	if resp.callCount() != 1 || resp.calls[0] != "look" || resp.image[0] != "https://img/x.png" {
		t.Fatalf("retry responder call mismatch: %+v %+v", resp.calls, resp.image)
	}
	if _, ok := p.Pending(); ok {
		t.Fatalf("successful retry left the pending slot occupied")
	}
}

func TestPipeline_RetryWithoutPendingIsNoop(t *testing.T) {
	resp := &captureResponder{}
	p := NewPipeline(&captureUploader{}, resp, NewMessageStore(), nil)

	outcome, err := p.Retry(context.Background(), "c1")
	if outcome != nil || err != nil {
		t.Fatalf("got (%v, %v), want (nil, nil)", outcome, err)
	}
	if resp.callCount() != 0 {
		t.Fatalf("responder invoked without a pending send")
	}
}

func TestPipeline_NewerSendOverwritesPending(t *testing.T) {
	p := NewPipeline(&captureUploader{}, &captureResponder{}, NewMessageStore(), func() bool { return true })

	_, _ = p.Send(context.Background(), "c1", "first", nil)
	_, _ = p.Send(context.Background(), "c1", "second", nil)

	pend, ok := p.Pending()
	if !ok || pend.Text != "second" {
		t.Fatalf("pending = %+v, want the newer composition", pend)
	}
}

func TestPipeline_UploadFailureKeepsPending(t *testing.T) {
	up := &captureUploader{err: errors.New("bucket down")}
	resp := &captureResponder{}
	store := NewMessageStore()
	p := NewPipeline(up, resp, store, nil)

	_, err := p.Send(context.Background(), "c1", "pic", &Attachment{Name: "a.png", Data: []byte{9}})
	if !errors.Is(err, ErrUploadFailed) {
		t.Fatalf("err = %v, want ErrUploadFailed", err)
	}
	if resp.callCount() != 0 {
		t.Fatalf("responder invoked after a failed upload")
	}
	if store.Len() != 0 {
		t.Fatalf("optimistic rows added before the upload succeeded")
	}
	if _, ok := p.Pending(); !ok {
		t.Fatalf("pending send discarded on upload failure")
	}
}

func TestPipeline_ResponderFailureDropsTypingKeepsUserRow(t *testing.T) {
	resp := &captureResponder{err: errors.New("upstream 502")}
	store := NewMessageStore()
	p := NewPipeline(&captureUploader{}, resp, store, nil)

	_, err := p.Send(context.Background(), "c1", "hello", nil)
	if !errors.Is(err, ErrResponderFailed) {
		t.Fatalf("err = %v, want ErrResponderFailed", err)
	}

	entries := store.Entries()
	if len(entries) != 1 {
		t.Fatalf("store has %d rows, want only the user's optimistic row", len(entries))
	}
	if entries[0].Message.Role != chat.RoleUser || entries[0].Message.Content != "hello" {
		t.Fatalf("surviving row = %+v", entries[0].Message)
	}
	if _, ok := p.Pending(); !ok {
		t.Fatalf("pending send discarded on responder failure")
	}
}

func TestPipeline_SuccessHandsOffPlaceholders(t *testing.T) {
	resp := &captureResponder{res: &RespondResult{ConversationID: "fresh"}}
	store := NewMessageStore()
	p := NewPipeline(&captureUploader{}, resp, store, nil)
	p.handoffDelay = 5 * time.Millisecond

	outcome, err := p.Send(context.Background(), "", "start it", nil)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if outcome == nil || !outcome.NewConversation || outcome.ConversationID != "fresh" {
		t.Fatalf("outcome = %+v", outcome)
	}
	if _, ok := p.Pending(); ok {
		t.Fatalf("success left the pending slot occupied")
	}

	// both optimistic rows are removed once the authoritative rows had a
	// chance to arrive
	waitFor(t, func() bool { return store.Len() == 0 })
}
