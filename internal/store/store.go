package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/senchpimy/image-ocr/internal/types"
)

// Store manages the PostgreSQL audit log of recognition requests.
type Store struct {
	pool *pgxpool.Pool
}

// New establishes a connection pool and ensures the schema is initialized.
func New(ctx context.Context, connString string) (*Store, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	// Initialize schema (Auto-Migration)
	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return &Store{pool: pool}, nil
}

// initSchema creates the audit table if it doesn't exist (Auto-Migration).
func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	query := `
		CREATE TABLE IF NOT EXISTS recognitions (
			id UUID PRIMARY KEY,
			session_id UUID NOT NULL,
			backend TEXT NOT NULL,
			payload_bytes INT NOT NULL,
			outcome TEXT NOT NULL,
			error TEXT NOT NULL DEFAULT '',
			duration_ms DOUBLE PRECISION NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS recognitions_created_at_idx ON recognitions (created_at DESC);
	`
	_, err := pool.Exec(ctx, query)
	return err
}

// Close releases every pooled connection.
func (s *Store) Close() {
	s.pool.Close()
}

// InsertRecognition saves one completed request. Missing ID and CreatedAt are filled in.
func (s *Store) InsertRecognition(ctx context.Context, rec types.RequestRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO recognitions (id, session_id, backend, payload_bytes, outcome, error, duration_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, rec.ID, rec.SessionID, rec.Backend, rec.PayloadBytes, string(rec.Outcome), rec.Error,
		float64(rec.Duration)/float64(time.Millisecond), rec.CreatedAt)
	return err
}

// Recent returns up to limit records, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]types.RequestRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id::text, session_id::text, backend, payload_bytes, outcome, error, duration_ms, created_at
		FROM recognitions
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.RequestRecord
	for rows.Next() {
		var rec types.RequestRecord
		var outcome string
		var ms float64
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.Backend, &rec.PayloadBytes, &outcome, &rec.Error, &ms, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.Outcome = types.Outcome(outcome)
		rec.Duration = time.Duration(ms * float64(time.Millisecond))
		out = append(out, rec)
	}
	return out, rows.Err()
}

// CountByOutcome totals every stored request per outcome.
func (s *Store) CountByOutcome(ctx context.Context) (map[types.Outcome]int, error) {
	rows, err := s.pool.Query(ctx, "SELECT outcome, COUNT(*) FROM recognitions GROUP BY outcome")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[types.Outcome]int)
	for rows.Next() {
		var outcome string
		var n int
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, err
		}
		counts[types.Outcome(outcome)] = n
	}
	return counts, rows.Err()
}

// Reset drops all application tables to clear the database state.
// The next New recreates them.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `DROP TABLE IF EXISTS recognitions CASCADE;`)
	return err
}
