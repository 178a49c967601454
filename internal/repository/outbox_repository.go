package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-plt-approvals/internal/database"
	"github.com/pesio-ai/be-plt-approvals/internal/errors"
)

// OutboxRepository reads and settles staged completion events. Events are
// inserted by RequestRepository.CommitDecision within the decision
// transaction; the dispatcher drains them from here.
type OutboxRepository struct {
	db *database.DB
}

// NewOutboxRepository creates a new OutboxRepository.
func NewOutboxRepository(db *database.DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

// FetchPending returns up to limit unpublished events, oldest first.
func (r *OutboxRepository) FetchPending(ctx context.Context, limit int) ([]*OutboxEvent, error) {
	query := `
		SELECT id, request_id, event_type, payload,
		       status, attempts, last_error,
		       created_at, updated_at
		FROM approval_outbox_events
		WHERE status = 'pending'
		ORDER BY created_at ASC
		LIMIT $1
	`

	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to fetch pending events")
	}
	defer rows.Close()

	return r.scanRows(rows)
}

// MarkPublished settles an event after a successful broker publish.
func (r *OutboxRepository) MarkPublished(ctx context.Context, id string) error {
	query := `
		UPDATE approval_outbox_events
		SET status     = 'published'::approval_outbox_status,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING id
	`

	var returnedID string
	err := r.db.QueryRow(ctx, query, id).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return errors.NotFound("outbox_event", id)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to mark event published")
	}
	return nil
}

// MarkFailed records a failed publish attempt. When exhausted is true the
// event stops retrying and is left visible for operational replay.
func (r *OutboxRepository) MarkFailed(ctx context.Context, id string, publishErr string, exhausted bool) error {
	status := OutboxStatusPending
	if exhausted {
		status = OutboxStatusFailed
	}

	query := `
		UPDATE approval_outbox_events
		SET status     = $2::approval_outbox_status,
		    attempts   = attempts + 1,
		    last_error = $3,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING id
	`

	var returnedID string
	err := r.db.QueryRow(ctx, query, id, status, publishErr).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return errors.NotFound("outbox_event", id)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to mark event failed")
	}
	return nil
}

func (r *OutboxRepository) scanRows(rows pgx.Rows) ([]*OutboxEvent, error) {
	var events []*OutboxEvent
	for rows.Next() {
		event := &OutboxEvent{}
		err := rows.Scan(
			&event.ID,
			&event.RequestID,
			&event.EventType,
			&event.Payload,
			&event.Status,
			&event.Attempts,
			&event.LastError,
			&event.CreatedAt,
			&event.UpdatedAt,
		)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan outbox event")
		}
		events = append(events, event)
	}
	return events, nil
}
