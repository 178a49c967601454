// Package repository persists the approval domain in PostgreSQL. Store
// interfaces are declared here so services can be tested against in-memory
// fakes; the pgx implementations in this package satisfy them.
package repository

import (
	"context"
	"time"

	"github.com/pesio-ai/be-plt-approvals/internal/approval"
)

// TemplateStore persists chain templates. Updates are version-checked.
type TemplateStore interface {
	Create(ctx context.Context, tpl *approval.ChainTemplate) error
	GetByID(ctx context.Context, id string) (*approval.ChainTemplate, error)
	GetActiveByEntityType(ctx context.Context, entityType string) (*approval.ChainTemplate, error)
	Update(ctx context.Context, tpl *approval.ChainTemplate) error
	List(ctx context.Context, activeOnly bool) ([]*approval.ChainTemplate, error)
}

// DecisionCommit bundles everything one approve/reject writes: the mutated
// aggregate, the level that was decided, the audit entry, an optional
// rejection comment, and the completion event for terminal transitions.
// Implementations apply it atomically.
type DecisionCommit struct {
	Request  *approval.Request
	Decision *approval.LevelDecision
	History  *approval.HistoryEntry
	Comment  *approval.Comment
	Event    *approval.CompletionEvent
}

// RequestStore persists approval requests with their level decisions.
type RequestStore interface {
	// Create inserts the request, its decision snapshots, and the submitted
	// history entry in one transaction, filling in generated ids.
	Create(ctx context.Context, req *approval.Request, submitted *approval.HistoryEntry) error
	GetByID(ctx context.Context, id string) (*approval.Request, error)
	GetActiveByEntity(ctx context.Context, entityType, entityID string) (*approval.Request, error)
	ListPendingForApprover(ctx context.Context, approverID string) ([]*approval.Request, error)
	// CommitDecision applies one decision transactionally, guarded by the
	// aggregate version loaded before mutation. A stale version yields a
	// conflict error.
	CommitDecision(ctx context.Context, commit DecisionCommit) error
}

// HistoryStore reads the append-only audit trail. Writes happen inside
// request transactions.
type HistoryStore interface {
	ListByRequestID(ctx context.Context, requestID string) ([]*approval.HistoryEntry, error)
}

// CommentStore reads rejection comments. Writes happen inside request
// transactions.
type CommentStore interface {
	ListByRequestID(ctx context.Context, requestID string) ([]*approval.Comment, error)
}

// Outbox event statuses.
const (
	OutboxStatusPending   = "pending"
	OutboxStatusPublished = "published"
	OutboxStatusFailed    = "failed"
)

// OutboxEvent is a completion event staged in the decision transaction and
// published to the broker by the dispatcher.
type OutboxEvent struct {
	ID        string
	RequestID string
	EventType string
	Payload   []byte
	Status    string
	Attempts  int
	LastError *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// OutboxStore feeds the dispatcher.
type OutboxStore interface {
	FetchPending(ctx context.Context, limit int) ([]*OutboxEvent, error)
	MarkPublished(ctx context.Context, id string) error
	// MarkFailed records a failed publish attempt; exhausted flips the event
	// to failed instead of leaving it pending for retry.
	MarkFailed(ctx context.Context, id string, publishErr string, exhausted bool) error
}
