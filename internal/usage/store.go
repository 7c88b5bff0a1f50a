package usage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store reads and writes usage_logs.
type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

func (s *Store) Insert(ctx context.Context, e Entry) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO usage_logs (user_id, api_key_id, status, confidence, source, model,
		                        response_time_ms, alerted, severity, created_at)
		VALUES (NULLIF($1, '')::uuid, NULLIF($2, '')::uuid, $3, $4, $5, $6, $7, $8, NULLIF($9, ''), $10)
	`, e.UserID, e.APIKeyID, string(e.Status), e.Confidence, string(e.Source), e.Model,
		e.ResponseTimeMs, e.Alerted, e.Severity, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert usage_log: %w", err)
	}
	return nil
}

// Recent lists the user's latest entries, newest first.
func (s *Store) Recent(ctx context.Context, userID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, COALESCE(api_key_id::text, ''), status, confidence, source, model,
		       response_time_ms, alerted, COALESCE(severity, ''), created_at
		FROM usage_logs
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query usage_logs: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0, limit)
	for rows.Next() {
		e := Entry{UserID: userID}
		if err := rows.Scan(&e.ID, &e.APIKeyID, &e.Status, &e.Confidence, &e.Source, &e.Model,
			&e.ResponseTimeMs, &e.Alerted, &e.Severity, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan usage_log: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate usage_logs: %w", err)
	}
	return entries, nil
}
