package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-plt-approvals/internal/approval"
	"github.com/pesio-ai/be-plt-approvals/internal/database"
	"github.com/pesio-ai/be-plt-approvals/internal/errors"
)

// HistoryRepository reads the immutable approval history trail. Entries are
// appended inside request transactions; the table has an update/delete
// prevention trigger, so reads are the only operations exposed here.
type HistoryRepository struct {
	db *database.DB
}

// NewHistoryRepository creates a new HistoryRepository.
func NewHistoryRepository(db *database.DB) *HistoryRepository {
	return &HistoryRepository{db: db}
}

// ListByRequestID returns the full trail for a request, oldest first.
func (r *HistoryRepository) ListByRequestID(ctx context.Context, requestID string) ([]*approval.HistoryEntry, error) {
	query := `
		SELECT id, request_id, level_order, action, actor_id, comments, created_at
		FROM approval_history
		WHERE request_id = $1
		ORDER BY created_at ASC, id ASC
	`

	rows, err := r.db.Query(ctx, query, requestID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get approval history")
	}
	defer rows.Close()

	return r.scanRows(rows)
}

func (r *HistoryRepository) scanRows(rows pgx.Rows) ([]*approval.HistoryEntry, error) {
	var entries []*approval.HistoryEntry
	for rows.Next() {
		entry := &approval.HistoryEntry{}
		err := rows.Scan(
			&entry.ID,
			&entry.RequestID,
			&entry.LevelOrder,
			&entry.Action,
			&entry.ActorID,
			&entry.Comments,
			&entry.CreatedAt,
		)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan history entry")
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
