package client

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/visageapp/visage/internal/chat"
)

// LinkStatus is the realtime subscription's own state, independent of
// the network-online signal.
type LinkStatus string

const (
	LinkInactive   LinkStatus = "inactive"
	LinkConnecting LinkStatus = "connecting"
	LinkActive     LinkStatus = "active"
	LinkError      LinkStatus = "error"
)

// Subscription is a live push channel that can be torn down.
type Subscription interface {
	Close() error
}

// Transport establishes push subscriptions. Subscribe blocks until the
// handshake confirms (or fails); onEvent then fires for every insert or
// update scoped to the conversation, and onDrop fires once if the
// transport fails later.
type Transport interface {
	Subscribe(ctx context.Context, conversationID string, onEvent func(kind string, m chat.Message), onDrop func(error)) (Subscription, error)
}

const (
	defaultBackoffBase = time.Second
	defaultMaxAttempts = 3
)

// Link maintains the push subscription for one conversation and heals
// it on failure: inactive -> connecting -> active, with error -> connecting
// retried on an exponential timer up to a bounded attempt count. After
// the bound the link stays in error until Reconnect is called.
type Link struct {
	transport Transport

	mu             sync.Mutex
	status         LinkStatus
	conversationID string
	sub            Subscription
	attempt        int
	retryTimer     *time.Timer
	gen            int // invalidates async callbacks from a torn-down epoch

	backoffBase time.Duration
	maxAttempts int

	onEvent     func(kind string, m chat.Message)
	onStatus    func(LinkStatus)
	onExhausted func()
}

type LinkOption func(*Link)

func WithBackoff(base time.Duration, maxAttempts int) LinkOption {
	return func(l *Link) {
		l.backoffBase = base
		l.maxAttempts = maxAttempts
	}
}

// WithStatusFunc observes every status transition.
func WithStatusFunc(fn func(LinkStatus)) LinkOption {
	return func(l *Link) { l.onStatus = fn }
}

// WithExhaustedFunc fires once when automatic retries run out.
func WithExhaustedFunc(fn func()) LinkOption {
	return func(l *Link) { l.onExhausted = fn }
}

func NewLink(transport Transport, onEvent func(kind string, m chat.Message), opts ...LinkOption) *Link {
	l := &Link{
		transport:   transport,
		status:      LinkInactive,
		backoffBase: defaultBackoffBase,
		maxAttempts: defaultMaxAttempts,
		onEvent:     onEvent,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Link) Status() LinkStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.status
}

// setStatus transitions and notifies. Caller holds the lock.
func (l *Link) setStatus(st LinkStatus) {
	if l.status == st {
		return
	}
	l.status = st
	if l.onStatus != nil {
		fn := l.onStatus
		go fn(st)
	}
}

// SetConversation switches the link to a new conversation: the existing
// subscription is torn down (idempotently), the attempt counter resets,
// and a fresh subscription is established. An empty id just tears down.
func (l *Link) SetConversation(conversationID string) {
	l.mu.Lock()
	l.teardownLocked()
	l.conversationID = conversationID
	l.attempt = 0
	if conversationID == "" {
		l.mu.Unlock()
		return
	}
	l.connectLocked()
	l.mu.Unlock()
}

// Reconnect is the explicit user-triggered path out of a terminal error:
// it resets the attempt counter and tries again.
func (l *Link) Reconnect() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conversationID == "" {
		return
	}
	if l.status != LinkError {
		return
	}
	l.attempt = 0
	l.connectLocked()
}

// Teardown cancels any pending retry and closes the subscription. Safe
// to call repeatedly.
func (l *Link) Teardown() {
	l.mu.Lock()
	l.teardownLocked()
	l.conversationID = ""
	l.mu.Unlock()
}

func (l *Link) teardownLocked() {
	l.gen++
	if l.retryTimer != nil {
		l.retryTimer.Stop()
		l.retryTimer = nil
	}
	if l.sub != nil {
		_ = l.sub.Close()
		l.sub = nil
	}
	l.setStatus(LinkInactive)
}

// connectLocked issues the subscribe handshake off the caller's
// goroutine. The generation counter discards results that complete after
// a switch or teardown.
func (l *Link) connectLocked() {
	l.setStatus(LinkConnecting)
	gen := l.gen
	conversationID := l.conversationID

	go func() {
		sub, err := l.transport.Subscribe(context.Background(), conversationID,
			func(kind string, m chat.Message) {
				if l.stale(gen) {
					return
				}
				l.onEvent(kind, m)
			},
			func(dropErr error) {
				l.mu.Lock()
				defer l.mu.Unlock()
				if gen != l.gen {
					return
				}
				log.Debug().Err(dropErr).Str("conversation", conversationID).Msg("[link] transport dropped")
				l.sub = nil
				l.enterErrorLocked()
			},
		)

		l.mu.Lock()
		defer l.mu.Unlock()
		if gen != l.gen {
			if sub != nil {
				_ = sub.Close()
			}
			return
		}
		if err != nil {
			log.Debug().Err(err).Str("conversation", conversationID).Msg("[link] subscribe failed")
			l.enterErrorLocked()
			return
		}
		l.sub = sub
		l.attempt = 0
		l.setStatus(LinkActive)
	}()
}

func (l *Link) stale(gen int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return gen != l.gen
}

// enterErrorLocked schedules the next automatic attempt after
// base * 2^attempt, or goes terminal once the bound is reached.
func (l *Link) enterErrorLocked() {
	l.setStatus(LinkError)
	if l.attempt >= l.maxAttempts {
		if l.onExhausted != nil {
			fn := l.onExhausted
			go fn()
		}
		return
	}
	delay := l.backoffBase << l.attempt
	l.attempt++
	gen := l.gen
	l.retryTimer = time.AfterFunc(delay, func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if gen != l.gen {
			return
		}
		l.retryTimer = nil
		l.connectLocked()
	})
}
