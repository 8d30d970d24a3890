package learning

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// PostgresStore writes signals to the learning_signals table.
type PostgresStore struct {
	db *sql.DB
}

var _ Store = (*PostgresStore)(nil)

func NewPostgresStore(db *sql.DB) *PostgresStore {
	if db == nil {
		panic("learning: sql db required")
	}
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Save(ctx context.Context, sig Signal) error {
	changes, err := json.Marshal(sig.Changes)
	if err != nil {
		return fmt.Errorf("learning: marshal changes: %w", err)
	}
	query := `
		INSERT INTO learning_signals (
			id, conversation_id, approval_id, customer_message, draft_reply, human_reply,
			edit_distance, edit_ratio, edit_type, learning_type, changes,
			grade_tone, grade_accuracy, grade_policy, grade_notes,
			rag_sources, confidence, approved, graded_by, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
	`
	_, err = s.db.ExecContext(ctx, query,
		sig.ID,
		sig.ConversationID,
		nullString(sig.ApprovalID),
		nullString(sig.CustomerMessage),
		sig.DraftReply,
		sig.HumanReply,
		sig.EditDistance,
		sig.EditRatio,
		string(sig.EditType),
		string(sig.LearningType),
		changes,
		sig.Grading.Tone,
		sig.Grading.Accuracy,
		sig.Grading.Policy,
		nullString(sig.Grading.Notes),
		pq.Array(sig.RAGSources),
		sig.Confidence,
		sig.Approved,
		nullString(sig.GradedBy),
		sig.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("learning: insert signal: %w", err)
	}
	return nil
}

// ListApproved returns approved signals created at or after since, oldest first.
func (s *PostgresStore) ListApproved(ctx context.Context, since time.Time, limit int) ([]Signal, error) {
	if limit <= 0 {
		limit = 1000
	}
	query := `
		SELECT id, conversation_id, COALESCE(approval_id, ''), COALESCE(customer_message, ''),
			draft_reply, human_reply, edit_distance, edit_ratio, edit_type, learning_type, changes,
			grade_tone, grade_accuracy, grade_policy, COALESCE(grade_notes, ''),
			rag_sources, confidence, approved, COALESCE(graded_by, ''), created_at
		FROM learning_signals
		WHERE approved AND created_at >= $1
		ORDER BY created_at
		LIMIT $2
	`
	rows, err := s.db.QueryContext(ctx, query, since, limit)
	if err != nil {
		return nil, fmt.Errorf("learning: list signals: %w", err)
	}
	defer rows.Close()

	out := []Signal{}
	for rows.Next() {
		var (
			sig     Signal
			changes []byte
			sources pq.StringArray
		)
		if err := rows.Scan(
			&sig.ID, &sig.ConversationID, &sig.ApprovalID, &sig.CustomerMessage,
			&sig.DraftReply, &sig.HumanReply, &sig.EditDistance, &sig.EditRatio, &sig.EditType, &sig.LearningType, &changes,
			&sig.Grading.Tone, &sig.Grading.Accuracy, &sig.Grading.Policy, &sig.Grading.Notes,
			&sources, &sig.Confidence, &sig.Approved, &sig.GradedBy, &sig.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("learning: scan signal: %w", err)
		}
		if len(changes) > 0 {
			if err := json.Unmarshal(changes, &sig.Changes); err != nil {
				return nil, fmt.Errorf("learning: decode changes: %w", err)
			}
		}
		sig.RAGSources = []string(sources)
		out = append(out, sig)
	}
	return out, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
