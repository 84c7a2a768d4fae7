package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const sessionSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	token_hash TEXT PRIMARY KEY,
	role TEXT NOT NULL,
	issued_at TIMESTAMPTZ NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL
)`

// PostgresSessionStore persists sessions to a Postgres table, allowing
// multiple replicas to share authentication state.
type PostgresSessionStore struct {
	pool *pgxpool.Pool
}

// NewPostgresSessionStore opens a Postgres-backed session store using the
// provided DSN and ensures the backing table exists.
func NewPostgresSessionStore(dsn string) (*PostgresSessionStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres session dsn required")
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres session config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(context.Background(), cfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres session pool: %w", err)
	}
	if _, err := pool.Exec(context.Background(), sessionSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure sessions table: %w", err)
	}
	return &PostgresSessionStore{pool: pool}, nil
}

// Close releases the Postgres connection pool resources.
func (s *PostgresSessionStore) Close(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		s.pool.Close()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// Save stores or updates the session row.
func (s *PostgresSessionStore) Save(tokenHash string, role Role, issuedAt, expiresAt time.Time) error {
	if s.pool == nil {
		return fmt.Errorf("postgres session pool not configured")
	}
	_, err := s.pool.Exec(context.Background(), `
INSERT INTO sessions (token_hash, role, issued_at, expires_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (token_hash) DO UPDATE SET role = EXCLUDED.role, issued_at = EXCLUDED.issued_at, expires_at = EXCLUDED.expires_at
`, tokenHash, string(role), issuedAt.UTC(), expiresAt.UTC())
	return err
}

// Get fetches the session details for the provided token hash.
func (s *PostgresSessionStore) Get(tokenHash string) (SessionRecord, bool, error) {
	if s.pool == nil {
		return SessionRecord{}, false, fmt.Errorf("postgres session pool not configured")
	}
	row := s.pool.QueryRow(context.Background(), `
SELECT role, issued_at, expires_at
FROM sessions
WHERE token_hash = $1
`, tokenHash)
	var (
		record SessionRecord
		role   string
	)
	record.TokenHash = tokenHash
	if err := row.Scan(&role, &record.IssuedAt, &record.ExpiresAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return SessionRecord{}, false, nil
		}
		return SessionRecord{}, false, err
	}
	record.Role = Role(role)
	return record, true, nil
}

// Delete removes the session row.
func (s *PostgresSessionStore) Delete(tokenHash string) error {
	if s.pool == nil {
		return fmt.Errorf("postgres session pool not configured")
	}
	_, err := s.pool.Exec(context.Background(), `DELETE FROM sessions WHERE token_hash = $1`, tokenHash)
	return err
}

// PurgeExpired deletes expired sessions from the table.
func (s *PostgresSessionStore) PurgeExpired(now time.Time) error {
	if s.pool == nil {
		return fmt.Errorf("postgres session pool not configured")
	}
	_, err := s.pool.Exec(context.Background(), `DELETE FROM sessions WHERE expires_at <= $1`, now.UTC())
	return err
}

// Ping verifies Postgres connectivity.
func (s *PostgresSessionStore) Ping(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return nil
	}
	return s.pool.Ping(ctx)
}
