// Package approval holds the approval-chain domain model: chain templates,
// approval requests with their per-level decisions, the append-only history
// trail, and the completion event emitted on terminal transitions.
package approval

import "time"

// Status is the overall state of an approval request.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// Decision is the state of a single level within a request.
type Decision string

const (
	DecisionPending  Decision = "pending"
	DecisionApproved Decision = "approved"
	DecisionRejected Decision = "rejected"
)

// HistoryAction labels an entry in the audit trail.
type HistoryAction string

const (
	ActionSubmitted HistoryAction = "submitted"
	ActionApproved  HistoryAction = "approved"
	ActionRejected  HistoryAction = "rejected"
)

// HistoryEntry is one append-only audit record. LevelOrder is nil for the
// initial submitted entry.
type HistoryEntry struct {
	ID         string        `json:"id"`
	RequestID  string        `json:"request_id"`
	LevelOrder *int          `json:"level_order,omitempty"`
	Action     HistoryAction `json:"action"`
	ActorID    string        `json:"actor_id"`
	Comments   *string       `json:"comments,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
}

// Comment is free-text discussion attached to a rejection, kept apart from
// the history trail.
type Comment struct {
	ID         string    `json:"id"`
	RequestID  string    `json:"request_id"`
	LevelOrder int       `json:"level_order"`
	AuthorID   string    `json:"author_id"`
	Body       string    `json:"body"`
	CreatedAt  time.Time `json:"created_at"`
}

// Outcome is the terminal result carried by a completion event.
type Outcome string

const (
	OutcomeApproved Outcome = "approved"
	OutcomeRejected Outcome = "rejected"
)

// Event types for completion events, used as broker subject suffixes.
const (
	EventRequestApproved = "request_approved"
	EventRequestRejected = "request_rejected"
)

// CompletionEvent is the single outward signal emitted when a request
// reaches a terminal state. Business modules subscribe to it to move their
// own entities along.
type CompletionEvent struct {
	RequestID   string    `json:"request_id"`
	EntityType  string    `json:"entity_type"`
	EntityID    string    `json:"entity_id"`
	Outcome     Outcome   `json:"outcome"`
	CompletedAt time.Time `json:"completed_at"`
}

// EventType returns the broker event type for the outcome.
func (e *CompletionEvent) EventType() string {
	if e.Outcome == OutcomeRejected {
		return EventRequestRejected
	}
	return EventRequestApproved
}

// User is the slice of a platform identity this domain needs: existence and
// a display name for error messages and UIs.
type User struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}
