package hub

import "time"

// Event kinds fanned out to workspace subscribers.
const (
	EventNoteCreated     = "note-created"
	EventNoteUpdated     = "note-updated"
	EventNoteMoved       = "note-moved"
	EventNoteDeleted     = "note-deleted"
	EventReactionChanged = "reaction-changed"
	EventPresenceChanged = "presence-changed"
	EventCursorMoved     = "cursor-moved"
)

// Event is a single fan-out message. The workspace id rides along for
// defense-in-depth filtering on the client even though routing already
// happens per workspace.
type Event struct {
	Kind        string      `json:"kind"`
	WorkspaceID string      `json:"workspaceId"`
	Timestamp   time.Time   `json:"timestamp"`
	Payload     interface{} `json:"payload,omitempty"`

	// Origin is the subscriber id of the originating connection, used
	// for per-kind echo suppression. Ids are process-local, so Origin
	// never crosses the wire.
	Origin int64 `json:"-"`
}

// suppressEcho lists the event kinds whose originator is excluded from
// delivery: a client already knows its own cursor and presence, while
// note and reaction events carry server-confirmed state (the
// authoritative version, the recomputed summary) the originator wants.
var suppressEcho = map[string]bool{
	EventCursorMoved:     true,
	EventPresenceChanged: true,
}

// PresencePayload is the payload for presence-changed events.
type PresencePayload struct {
	UserEmail string `json:"userEmail"`
	Online    bool   `json:"online"`
}

// CursorPayload is the payload for cursor-moved events. Cursor moves
// are high-frequency, so the payload stays minimal.
type CursorPayload struct {
	UserEmail string  `json:"userEmail"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
}
