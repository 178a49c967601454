package repository

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-plt-approvals/internal/approval"
	"github.com/pesio-ai/be-plt-approvals/internal/database"
	"github.com/pesio-ai/be-plt-approvals/internal/errors"
)

// RequestRepository handles approval_requests and their owned level
// decisions. Every write is transactional: creation inserts the request, its
// decision snapshots, and the submitted history entry together, and
// CommitDecision applies a decision, its history, an optional comment, and
// the staged completion event as a unit.
type RequestRepository struct {
	db *database.DB
}

// NewRequestRepository creates a new RequestRepository.
func NewRequestRepository(db *database.DB) *RequestRepository {
	return &RequestRepository{db: db}
}

// Create inserts the request aggregate and its submitted history entry,
// filling generated ids and timestamps.
func (r *RequestRepository) Create(ctx context.Context, req *approval.Request, submitted *approval.HistoryEntry) error {
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		query := `
			INSERT INTO approval_requests
			    (entity_type, entity_id, entity_description,
			     current_level, total_levels, status,
			     submitted_by, submitted_at)
			VALUES ($1, $2, $3, $4, $5, $6::approval_request_status, $7, $8)
			RETURNING id, version, created_at, updated_at
		`
		err := tx.QueryRow(ctx, query,
			req.EntityType,
			req.EntityID,
			req.EntityDescription,
			req.CurrentLevel,
			req.TotalLevels,
			req.Status,
			req.SubmittedBy,
			req.SubmittedAt,
		).Scan(&req.ID, &req.Version, &req.CreatedAt, &req.UpdatedAt)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to create approval request")
		}

		for i := range req.Decisions {
			d := &req.Decisions[i]
			d.RequestID = req.ID

			query := `
				INSERT INTO approval_level_decisions
				    (request_id, level_order, level_name,
				     expected_approver_id, decision)
				VALUES ($1, $2, $3, $4, $5::approval_decision_status)
				RETURNING id, created_at, updated_at
			`
			err := tx.QueryRow(ctx, query,
				d.RequestID,
				d.LevelOrder,
				d.LevelName,
				d.ExpectedApproverID,
				d.Decision,
			).Scan(&d.ID, &d.CreatedAt, &d.UpdatedAt)
			if err != nil {
				return errors.Wrap(err, errors.ErrCodeInternal, "failed to create level decision")
			}
		}

		submitted.RequestID = req.ID
		return insertHistory(ctx, tx, submitted)
	})
}

// GetByID loads a request with its level decisions.
func (r *RequestRepository) GetByID(ctx context.Context, id string) (*approval.Request, error) {
	query := `
		SELECT id, entity_type, entity_id, entity_description,
		       current_level, total_levels, status,
		       submitted_by, submitted_at, completed_at,
		       version, created_at, updated_at
		FROM approval_requests
		WHERE id = $1
	`

	req, err := r.scanRequest(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("approval_request", id)
	}
	if err != nil {
		return nil, err
	}

	if err := r.loadDecisions(ctx, req); err != nil {
		return nil, err
	}
	return req, nil
}

// GetActiveByEntity returns the pending request for a business entity, if
// one is in flight.
func (r *RequestRepository) GetActiveByEntity(ctx context.Context, entityType, entityID string) (*approval.Request, error) {
	query := `
		SELECT id, entity_type, entity_id, entity_description,
		       current_level, total_levels, status,
		       submitted_by, submitted_at, completed_at,
		       version, created_at, updated_at
		FROM approval_requests
		WHERE entity_type = $1 AND entity_id = $2 AND status = 'pending'
		ORDER BY submitted_at DESC
		LIMIT 1
	`

	req, err := r.scanRequest(r.db.QueryRow(ctx, query, entityType, entityID))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("approval_request", entityID)
	}
	if err != nil {
		return nil, err
	}

	if err := r.loadDecisions(ctx, req); err != nil {
		return nil, err
	}
	return req, nil
}

// ListPendingForApprover returns pending requests whose current level is
// waiting on the given user, oldest first.
func (r *RequestRepository) ListPendingForApprover(ctx context.Context, approverID string) ([]*approval.Request, error) {
	query := `
		SELECT r.id, r.entity_type, r.entity_id, r.entity_description,
		       r.current_level, r.total_levels, r.status,
		       r.submitted_by, r.submitted_at, r.completed_at,
		       r.version, r.created_at, r.updated_at
		FROM approval_requests r
		JOIN approval_level_decisions d
		  ON d.request_id = r.id AND d.level_order = r.current_level
		WHERE r.status = 'pending'
		  AND d.decision = 'pending'
		  AND d.expected_approver_id = $1
		ORDER BY r.submitted_at ASC
	`

	rows, err := r.db.Query(ctx, query, approverID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list pending approvals")
	}
	defer rows.Close()

	var requests []*approval.Request
	for rows.Next() {
		req, err := r.scanRequest(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan approval request")
		}
		requests = append(requests, req)
	}

	for _, req := range requests {
		if err := r.loadDecisions(ctx, req); err != nil {
			return nil, err
		}
	}
	return requests, nil
}

// CommitDecision applies one approve/reject as a single transaction. The
// request row is locked and version-checked first: a concurrent writer that
// committed in between yields a conflict instead of a double-applied
// decision.
func (r *RequestRepository) CommitDecision(ctx context.Context, commit DecisionCommit) error {
	req := commit.Request

	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		var current int
		err := tx.QueryRow(ctx,
			`SELECT version FROM approval_requests WHERE id = $1 FOR UPDATE`,
			req.ID,
		).Scan(&current)
		if err == pgx.ErrNoRows {
			return errors.NotFound("approval_request", req.ID)
		}
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to lock approval request")
		}
		if current != req.Version {
			return errors.Conflict("approval request was modified concurrently")
		}

		query := `
			UPDATE approval_requests
			SET current_level = $2,
			    status        = $3::approval_request_status,
			    completed_at  = $4,
			    version       = version + 1,
			    updated_at    = NOW()
			WHERE id = $1
			RETURNING version, updated_at
		`
		err = tx.QueryRow(ctx, query,
			req.ID,
			req.CurrentLevel,
			req.Status,
			req.CompletedAt,
		).Scan(&req.Version, &req.UpdatedAt)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to update approval request")
		}

		decision := commit.Decision
		query = `
			UPDATE approval_level_decisions
			SET decision   = $2::approval_decision_status,
			    decided_by = $3,
			    decided_at = $4,
			    comments   = $5,
			    updated_at = NOW()
			WHERE id = $1
			RETURNING updated_at
		`
		err = tx.QueryRow(ctx, query,
			decision.ID,
			decision.Decision,
			decision.DecidedBy,
			decision.DecidedAt,
			decision.Comments,
		).Scan(&decision.UpdatedAt)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to update level decision")
		}

		if err := insertHistory(ctx, tx, commit.History); err != nil {
			return err
		}

		if commit.Comment != nil {
			if err := insertComment(ctx, tx, commit.Comment); err != nil {
				return err
			}
		}

		if commit.Event != nil {
			if err := insertOutboxEvent(ctx, tx, commit.Event); err != nil {
				return err
			}
		}
		return nil
	})
}

// ── transactional insert helpers ─────────────────────────────────────────────

func insertHistory(ctx context.Context, tx pgx.Tx, entry *approval.HistoryEntry) error {
	query := `
		INSERT INTO approval_history
		    (request_id, level_order, action, actor_id, comments)
		VALUES ($1, $2, $3::approval_history_action, $4, $5)
		RETURNING id, created_at
	`
	err := tx.QueryRow(ctx, query,
		entry.RequestID,
		entry.LevelOrder,
		entry.Action,
		entry.ActorID,
		entry.Comments,
	).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to append approval history")
	}
	return nil
}

func insertComment(ctx context.Context, tx pgx.Tx, comment *approval.Comment) error {
	query := `
		INSERT INTO approval_comments
		    (request_id, level_order, author_id, body)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`
	err := tx.QueryRow(ctx, query,
		comment.RequestID,
		comment.LevelOrder,
		comment.AuthorID,
		comment.Body,
	).Scan(&comment.ID, &comment.CreatedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to append approval comment")
	}
	return nil
}

func insertOutboxEvent(ctx context.Context, tx pgx.Tx, event *approval.CompletionEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal completion event")
	}

	query := `
		INSERT INTO approval_outbox_events
		    (request_id, event_type, payload)
		VALUES ($1, $2, $3)
	`
	if _, err := tx.Exec(ctx, query, event.RequestID, event.EventType(), payload); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to stage completion event")
	}
	return nil
}

// ── scan helpers ─────────────────────────────────────────────────────────────

type requestScanner interface {
	Scan(dest ...any) error
}

func (r *RequestRepository) scanRequest(row requestScanner) (*approval.Request, error) {
	req := &approval.Request{}
	err := row.Scan(
		&req.ID,
		&req.EntityType,
		&req.EntityID,
		&req.EntityDescription,
		&req.CurrentLevel,
		&req.TotalLevels,
		&req.Status,
		&req.SubmittedBy,
		&req.SubmittedAt,
		&req.CompletedAt,
		&req.Version,
		&req.CreatedAt,
		&req.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return req, nil
}

func (r *RequestRepository) loadDecisions(ctx context.Context, req *approval.Request) error {
	query := `
		SELECT id, request_id, level_order, level_name,
		       expected_approver_id, decision,
		       decided_by, decided_at, comments,
		       created_at, updated_at
		FROM approval_level_decisions
		WHERE request_id = $1
		ORDER BY level_order ASC
	`

	rows, err := r.db.Query(ctx, query, req.ID)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to load level decisions")
	}
	defer rows.Close()

	var decisions []approval.LevelDecision
	for rows.Next() {
		var d approval.LevelDecision
		err := rows.Scan(
			&d.ID,
			&d.RequestID,
			&d.LevelOrder,
			&d.LevelName,
			&d.ExpectedApproverID,
			&d.Decision,
			&d.DecidedBy,
			&d.DecidedAt,
			&d.Comments,
			&d.CreatedAt,
			&d.UpdatedAt,
		)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to scan level decision")
		}
		decisions = append(decisions, d)
	}

	req.Decisions = decisions
	return nil
}
