package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-plt-approvals/internal/approval"
	"github.com/pesio-ai/be-plt-approvals/internal/database"
	"github.com/pesio-ai/be-plt-approvals/internal/errors"
)

// CommentRepository reads rejection discussion comments. Comments are
// created inside the reject transaction.
type CommentRepository struct {
	db *database.DB
}

// NewCommentRepository creates a new CommentRepository.
func NewCommentRepository(db *database.DB) *CommentRepository {
	return &CommentRepository{db: db}
}

// ListByRequestID returns all comments on a request, oldest first.
func (r *CommentRepository) ListByRequestID(ctx context.Context, requestID string) ([]*approval.Comment, error) {
	query := `
		SELECT id, request_id, level_order, author_id, body, created_at
		FROM approval_comments
		WHERE request_id = $1
		ORDER BY created_at ASC
	`

	rows, err := r.db.Query(ctx, query, requestID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get approval comments")
	}
	defer rows.Close()

	return r.scanRows(rows)
}

func (r *CommentRepository) scanRows(rows pgx.Rows) ([]*approval.Comment, error) {
	var comments []*approval.Comment
	for rows.Next() {
		comment := &approval.Comment{}
		err := rows.Scan(
			&comment.ID,
			&comment.RequestID,
			&comment.LevelOrder,
			&comment.AuthorID,
			&comment.Body,
			&comment.CreatedAt,
		)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan approval comment")
		}
		comments = append(comments, comment)
	}
	return comments, nil
}
