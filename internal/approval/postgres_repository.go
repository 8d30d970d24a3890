package approval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type pgxQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PostgresRepository stores each approval as a JSONB document with indexed
// state and conversation columns.
type PostgresRepository struct {
	db pgxQuerier
}

var _ Repository = (*PostgresRepository)(nil)

func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	if pool == nil {
		panic("approval: pgx pool required")
	}
	return &PostgresRepository{db: pool}
}

func newPostgresRepositoryWithExec(db pgxQuerier) *PostgresRepository {
	if db == nil {
		panic("approval: exec required")
	}
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Save(ctx context.Context, a *Approval) error {
	doc, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("approval: marshal: %w", err)
	}

	if a.Version <= 1 {
		query := `
			INSERT INTO approvals (id, kind, state, conversation_id, version, document, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (id) DO NOTHING
		`
		ct, err := r.db.Exec(ctx, query, a.ID, string(a.Kind), string(a.State), a.ConversationID, a.Version, doc, a.CreatedAt, a.UpdatedAt)
		if err != nil {
			return fmt.Errorf("approval: insert: %w", err)
		}
		if ct.RowsAffected() == 0 {
			return ErrVersionConflict
		}
		return nil
	}

	query := `
		UPDATE approvals
		SET state = $2, version = $3, document = $4, updated_at = $5
		WHERE id = $1 AND version = $6
	`
	ct, err := r.db.Exec(ctx, query, a.ID, string(a.State), a.Version, doc, a.UpdatedAt, a.Version-1)
	if err != nil {
		return fmt.Errorf("approval: update: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrVersionConflict
	}
	return nil
}

func (r *PostgresRepository) Load(ctx context.Context, id string) (*Approval, error) {
	var doc []byte
	err := r.db.QueryRow(ctx, `SELECT document FROM approvals WHERE id = $1`, id).Scan(&doc)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("approval: load: %w", err)
	}
	var a Approval
	if err := json.Unmarshal(doc, &a); err != nil {
		return nil, fmt.Errorf("approval: decode: %w", err)
	}
	return &a, nil
}

func (r *PostgresRepository) List(ctx context.Context, filter ListFilter) ([]*Approval, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT document
		FROM approvals
		WHERE ($1 = '' OR state = $1) AND ($2 = '' OR conversation_id = $2)
		ORDER BY created_at, id
		LIMIT $3
	`
	rows, err := r.db.Query(ctx, query, string(filter.State), filter.ConversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("approval: list: %w", err)
	}
	defer rows.Close()

	out := []*Approval{}
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("approval: scan: %w", err)
		}
		var a Approval
		if err := json.Unmarshal(doc, &a); err != nil {
			return nil, fmt.Errorf("approval: decode: %w", err)
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}
