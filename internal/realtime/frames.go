package realtime

import "github.com/visageapp/visage/internal/chat"

// Frame is the wire envelope for both websocket channels. The message
// channel uses subscribe/subscribed/insert/update, the presence channel
// uses track/sync/join/leave. Unused fields are omitted on the wire.
type Frame struct {
	Type           string        `json:"type"`
	ConversationID string        `json:"conversation_id,omitempty"`
	Message        *chat.Message `json:"message,omitempty"`
	Session        string        `json:"session,omitempty"`
	JoinedAt       int64         `json:"joined_at,omitempty"`
	Count          int           `json:"count,omitempty"`
	Error          string        `json:"error,omitempty"`
}

const (
	FrameSubscribe  = "subscribe"
	FrameSubscribed = "subscribed"
	FrameInsert     = "insert"
	FrameUpdate     = "update"
	FrameError      = "error"

	FrameTrack = "track"
	FrameSync  = "sync"
	FrameJoin  = "join"
	FrameLeave = "leave"
)
