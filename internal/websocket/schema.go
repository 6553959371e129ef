package websocket

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionAutosave Action = "autosave"
	ActionPing     Action = "ping"
)

// RequestPayload is any message the exam-taking app sends.
type RequestPayload struct {
	Action Action `json:"action"`
	QID    string `json:"q_id,omitempty"`
	Answer string `json:"ans,omitempty"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventError             Event = "error"
	EventSaved             Event = "saved"
	EventPong              Event = "pong"
	EventSessionSuperseded Event = "session_superseded"
	EventAttemptFinalized  Event = "attempt_finalized"
	EventSessionExpired    Event = "session_expired"
)

type SavedResponse struct {
	Event Event  `json:"event"`
	QID   string `json:"q_id"`
}

type ErrorResponse struct {
	Event Event  `json:"event"`
	Error string `json:"error"`
}

// EventResponse carries events with no payload.
type EventResponse struct {
	Event Event `json:"event"`
}
