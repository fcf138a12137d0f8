package client

import (
	"sync"
	"time"

	"github.com/visageapp/visage/internal/chat"
)

// Identity tags where a message's id came from. Optimistic rows carry a
// client-generated Local id that never matches a server id; authoritative
// rows carry the server's Remote id.
type Identity struct {
	Local  string
	Remote string
}

func LocalID(tempID string) Identity { return Identity{Local: tempID} }

func RemoteID(serverID string) Identity { return Identity{Remote: serverID} }

func (id Identity) IsLocal() bool { return id.Local != "" }

// Entry is one rendered row: the message plus its identity tag and, for
// optimistic rows, the insertion instant used by TTL pruning.
type Entry struct {
	ID          Identity
	Message     chat.Message
	Placeholder bool
	AddedAt     time.Time
}

// MessageStore is the ordered in-memory message list for the active
// conversation. It is fed by three sources: the one-shot load, realtime
// pushes, and optimistic local insertion. Remote ids are de-duplicated;
// updates replace in place and never append.
type MessageStore struct {
	mu      sync.Mutex
	entries []Entry
	remote  map[string]int // server id -> index in entries
	local   map[string]int // temp id -> index in entries
}

func NewMessageStore() *MessageStore {
	return &MessageStore{
		remote: map[string]int{},
		local:  map[string]int{},
	}
}

// Reset replaces the whole list with the result of a one-shot fetch,
// which arrives in creation-timestamp order.
func (s *MessageStore) Reset(msgs []chat.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = s.entries[:0]
	s.remote = map[string]int{}
	s.local = map[string]int{}
	for _, m := range msgs {
		s.remote[m.MessageID] = len(s.entries)
		s.entries = append(s.entries, Entry{ID: RemoteID(m.MessageID), Message: m})
	}
}

func (s *MessageStore) Clear() {
	s.Reset(nil)
}

// ApplyInsert appends a realtime-delivered row unless its server id is
// already present.
func (s *MessageStore) ApplyInsert(m chat.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, seen := s.remote[m.MessageID]; seen {
		return
	}
	s.remote[m.MessageID] = len(s.entries)
	s.entries = append(s.entries, Entry{ID: RemoteID(m.MessageID), Message: m})
}

// ApplyUpdate replaces the row with the matching server id in place, and
// is a no-op when the id is absent (updates never precede their insert).
func (s *MessageStore) ApplyUpdate(m chat.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, seen := s.remote[m.MessageID]
	if !seen {
		return
	}
	s.entries[i].Message = m
}

// AddLocal appends an optimistic row under a client-generated temp id.
func (s *MessageStore) AddLocal(tempID string, m chat.Message, placeholder bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.local[tempID] = len(s.entries)
	s.entries = append(s.entries, Entry{
		ID:          LocalID(tempID),
		Message:     m,
		Placeholder: placeholder,
		AddedAt:     time.Now(),
	})
}

// RemoveLocal drops an optimistic row; safe to call when already gone.
func (s *MessageStore) RemoveLocal(tempID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.local[tempID]
	if !ok {
		return
	}
	s.removeAt(i)
}

// PruneExpired drops optimistic rows older than ttl. This is the
// fallback for the authoritative row never arriving: local rows expire
// instead of lingering forever.
func (s *MessageStore) PruneExpired(ttl time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Now().Add(-ttl)
	pruned := 0
	for i := 0; i < len(s.entries); {
		e := s.entries[i]
		if e.ID.IsLocal() && e.AddedAt.Before(cutoff) {
			s.removeAt(i)
			pruned++
			continue
		}
		i++
	}
	return pruned
}

// removeAt deletes entries[i] and reindexes. Caller holds the lock.
func (s *MessageStore) removeAt(i int) {
	e := s.entries[i]
	if e.ID.IsLocal() {
		delete(s.local, e.ID.Local)
	} else {
		delete(s.remote, e.ID.Remote)
	}
	s.entries = append(s.entries[:i], s.entries[i+1:]...)
	for j := i; j < len(s.entries); j++ {
		id := s.entries[j].ID
		if id.IsLocal() {
			s.local[id.Local] = j
		} else {
			s.remote[id.Remote] = j
		}
	}
}

// Entries returns a snapshot in render order.
func (s *MessageStore) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Entry(nil), s.entries...)
}

// Last returns the newest entry, or false for an empty store.
func (s *MessageStore) Last() (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.entries) == 0 {
		return Entry{}, false
	}
	return s.entries[len(s.entries)-1], true
}

func (s *MessageStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
