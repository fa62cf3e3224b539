package websocket

import (
	"github.com/stemsi/exstem-portal/internal/model"
	"github.com/stemsi/exstem-portal/internal/session"
)

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionSelect Action = "select"
	ActionSubmit Action = "submit"
	ActionRetry  Action = "retry"
	ActionPing   Action = "ping"
)

// RequestPayload is the single client message shape; fields not used by
// an action are left empty.
type RequestPayload struct {
	Action     Action   `json:"action"`
	QuestionID model.ID `json:"question_id,omitempty"`
	AnswerID   model.ID `json:"answer_id,omitempty"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventState Event = "state"
	EventError Event = "error"
	EventPong  Event = "pong"
)

// StateResponse carries a full controller view. It is pushed on every
// change and once more with the final view before the stream closes.
type StateResponse struct {
	Event Event        `json:"event"`
	State session.View `json:"state"`
}

type ErrorResponse struct {
	Event Event  `json:"event"`
	Code  string `json:"code,omitempty"`
	Error string `json:"error"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
