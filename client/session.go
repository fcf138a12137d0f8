package client

import (
	"os"
	"strings"
	"sync"
)

// SessionState persists the active conversation id across restarts (the
// localStorage analog). Load runs once at startup; Clear runs on delete
// or new-conversation.
type SessionState interface {
	Load() string
	Store(conversationID string)
	Clear()
}

// FileSessionState keeps the id in a small file. Write errors are
// swallowed: losing the persisted selection degrades to starting with no
// conversation open.
type FileSessionState struct {
	mu   sync.Mutex
	path string
}

func NewFileSessionState(path string) *FileSessionState {
	return &FileSessionState{path: path}
}

func (f *FileSessionState) Load() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	raw, err := os.ReadFile(f.path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(raw))
}

func (f *FileSessionState) Store(conversationID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_ = os.WriteFile(f.path, []byte(conversationID+"\n"), 0o644)
}

func (f *FileSessionState) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	_ = os.Remove(f.path)
}

// MemorySessionState is the in-memory variant used by tests and
// ephemeral sessions.
type MemorySessionState struct {
	mu sync.Mutex
	id string
}

func NewMemorySessionState() *MemorySessionState { return &MemorySessionState{} }

func (m *MemorySessionState) Load() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.id
}

func (m *MemorySessionState) Store(conversationID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.id = conversationID
}

func (m *MemorySessionState) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.id = ""
}
