package repository

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-plt-approvals/internal/approval"
	"github.com/pesio-ai/be-plt-approvals/internal/database"
	"github.com/pesio-ai/be-plt-approvals/internal/errors"
)

// TemplateRepository handles CRUD for approval_chain_templates. Levels are
// stored in a JSONB column so a wholesale replacement is a single row update
// and every lookup is eager.
type TemplateRepository struct {
	db *database.DB
}

// NewTemplateRepository creates a new TemplateRepository.
func NewTemplateRepository(db *database.DB) *TemplateRepository {
	return &TemplateRepository{db: db}
}

// Create inserts a new chain template at version 1.
func (r *TemplateRepository) Create(ctx context.Context, tpl *approval.ChainTemplate) error {
	levelsJSON, err := json.Marshal(tpl.Levels)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal chain levels")
	}

	query := `
		INSERT INTO approval_chain_templates
		    (entity_type, name, is_active, levels)
		VALUES ($1, $2, $3, $4)
		RETURNING id, version, created_at, updated_at
	`

	err = r.db.QueryRow(ctx, query,
		tpl.EntityType,
		tpl.Name,
		tpl.IsActive,
		levelsJSON,
	).Scan(&tpl.ID, &tpl.Version, &tpl.CreatedAt, &tpl.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create chain template")
	}
	return nil
}

// GetByID retrieves a template by primary key.
func (r *TemplateRepository) GetByID(ctx context.Context, id string) (*approval.ChainTemplate, error) {
	query := `
		SELECT id, entity_type, name, is_active, version,
		       levels, created_at, updated_at
		FROM approval_chain_templates
		WHERE id = $1
	`

	tpl, err := r.scanTemplate(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("chain_template", id)
	}
	return tpl, err
}

// GetActiveByEntityType returns the active template configured for an
// entity type, levels included.
func (r *TemplateRepository) GetActiveByEntityType(ctx context.Context, entityType string) (*approval.ChainTemplate, error) {
	query := `
		SELECT id, entity_type, name, is_active, version,
		       levels, created_at, updated_at
		FROM approval_chain_templates
		WHERE entity_type = $1 AND is_active = TRUE
	`

	tpl, err := r.scanTemplate(r.db.QueryRow(ctx, query, entityType))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("chain_template", entityType)
	}
	return tpl, err
}

// Update persists the template's name, active flag, and levels as a unit.
// The row is locked and version-checked so concurrent reconfigurations
// cannot interleave; a stale version yields a conflict error.
func (r *TemplateRepository) Update(ctx context.Context, tpl *approval.ChainTemplate) error {
	levelsJSON, err := json.Marshal(tpl.Levels)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal chain levels")
	}

	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		var current int
		err := tx.QueryRow(ctx,
			`SELECT version FROM approval_chain_templates WHERE id = $1 FOR UPDATE`,
			tpl.ID,
		).Scan(&current)
		if err == pgx.ErrNoRows {
			return errors.NotFound("chain_template", tpl.ID)
		}
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to lock chain template")
		}
		if current != tpl.Version {
			return errors.Conflict("chain template was modified concurrently")
		}

		query := `
			UPDATE approval_chain_templates
			SET name       = $2,
			    is_active  = $3,
			    levels     = $4,
			    version    = version + 1,
			    updated_at = NOW()
			WHERE id = $1
			RETURNING version, updated_at
		`
		err = tx.QueryRow(ctx, query,
			tpl.ID,
			tpl.Name,
			tpl.IsActive,
			levelsJSON,
		).Scan(&tpl.Version, &tpl.UpdatedAt)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to update chain template")
		}
		return nil
	})
}

// List returns all templates, optionally active only.
func (r *TemplateRepository) List(ctx context.Context, activeOnly bool) ([]*approval.ChainTemplate, error) {
	query := `
		SELECT id, entity_type, name, is_active, version,
		       levels, created_at, updated_at
		FROM approval_chain_templates
	`
	if activeOnly {
		query += " WHERE is_active = TRUE"
	}
	query += " ORDER BY entity_type ASC, name ASC"

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list chain templates")
	}
	defer rows.Close()

	var templates []*approval.ChainTemplate
	for rows.Next() {
		tpl, err := r.scanTemplateRow(rows)
		if err != nil {
			return nil, err
		}
		templates = append(templates, tpl)
	}
	return templates, nil
}

// ── scan helpers ─────────────────────────────────────────────────────────────

type templateScanner interface {
	Scan(dest ...any) error
}

func (r *TemplateRepository) scanTemplate(row templateScanner) (*approval.ChainTemplate, error) {
	tpl := &approval.ChainTemplate{}
	var levelsJSON []byte

	err := row.Scan(
		&tpl.ID,
		&tpl.EntityType,
		&tpl.Name,
		&tpl.IsActive,
		&tpl.Version,
		&levelsJSON,
		&tpl.CreatedAt,
		&tpl.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(levelsJSON, &tpl.Levels); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal chain levels")
	}
	return tpl, nil
}

func (r *TemplateRepository) scanTemplateRow(rows pgx.Rows) (*approval.ChainTemplate, error) {
	tpl, err := r.scanTemplate(rows)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan chain template")
	}
	return tpl, nil
}
