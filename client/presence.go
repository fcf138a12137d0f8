package client

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// PresenceTransport joins the shared presence channel. onCount fires on
// every sync/join/leave the channel reports; onDrop fires once if the
// channel fails.
type PresenceTransport interface {
	Join(ctx context.Context, session string, joinedAt int64, onCount func(int), onDrop func(error)) (Subscription, error)
}

// PresenceTracker reports an approximate count of concurrently connected
// sessions. It is purely informational: on failure the count freezes and
// chat keeps working.
type PresenceTracker struct {
	transport PresenceTransport

	mu      sync.Mutex
	session string
	sub     Subscription
	count   int
	started bool
}

func NewPresenceTracker(transport PresenceTransport) *PresenceTracker {
	return &PresenceTracker{
		transport: transport,
		session:   uuid.NewString(),
	}
}

// Start joins the channel once. On failure the tracker stays unjoined
// and the count reads zero.
func (p *PresenceTracker) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	session := p.session
	p.mu.Unlock()

	sub, err := p.transport.Join(ctx, session, time.Now().UnixMilli(),
		func(count int) {
			p.mu.Lock()
			p.count = count
			p.mu.Unlock()
		},
		func(dropErr error) {
			log.Debug().Err(dropErr).Msg("[presence] channel dropped")
		},
	)
	if err != nil {
		log.Debug().Err(err).Msg("[presence] join failed")
		p.mu.Lock()
		p.started = false
		p.mu.Unlock()
		return
	}

	p.mu.Lock()
	p.sub = sub
	p.mu.Unlock()
}

func (p *PresenceTracker) Stop() {
	p.mu.Lock()
	sub := p.sub
	p.sub = nil
	p.started = false
	p.mu.Unlock()
	if sub != nil {
		_ = sub.Close()
	}
}

// Count returns the last synced session count (possibly stale).
func (p *PresenceTracker) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.count
}

// Session returns the ephemeral tag this client tracks itself under.
func (p *PresenceTracker) Session() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.session
}
