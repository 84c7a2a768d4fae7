package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const auditSchema = `
CREATE TABLE IF NOT EXISTS audit_log (
	id BIGSERIAL PRIMARY KEY,
	occurred_at TIMESTAMPTZ NOT NULL,
	action TEXT NOT NULL,
	role TEXT NOT NULL,
	media_id TEXT NOT NULL,
	client_addr TEXT NOT NULL,
	user_agent TEXT NOT NULL DEFAULT ''
)`

// PostgresLog persists audit entries to a Postgres table so multiple
// replicas share one history.
type PostgresLog struct {
	pool *pgxpool.Pool
}

// NewPostgresLog opens a Postgres-backed audit log and ensures the backing
// table exists.
func NewPostgresLog(dsn string) (*PostgresLog, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres audit dsn required")
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres audit config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(context.Background(), cfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres audit pool: %w", err)
	}
	if _, err := pool.Exec(context.Background(), auditSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure audit table: %w", err)
	}
	return &PostgresLog{pool: pool}, nil
}

// Close releases the Postgres connection pool resources.
func (l *PostgresLog) Close(ctx context.Context) error {
	if l == nil || l.pool == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		l.pool.Close()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// Append inserts the entry.
func (l *PostgresLog) Append(entry Entry) error {
	if l.pool == nil {
		return fmt.Errorf("postgres audit pool not configured")
	}
	occurred := entry.Time
	if occurred.IsZero() {
		occurred = time.Now()
	}
	_, err := l.pool.Exec(context.Background(), `
INSERT INTO audit_log (occurred_at, action, role, media_id, client_addr, user_agent)
VALUES ($1, $2, $3, $4, $5, $6)
`, occurred.UTC(), string(entry.Action), entry.Role, entry.MediaID, entry.ClientAddr, entry.UserAgent)
	return err
}

// Read returns up to limit entries, newest first.
func (l *PostgresLog) Read(limit int) ([]Entry, error) {
	if l.pool == nil {
		return nil, fmt.Errorf("postgres audit pool not configured")
	}
	query := `
SELECT occurred_at, action, role, media_id, client_addr, user_agent
FROM audit_log
ORDER BY occurred_at DESC, id DESC
`
	args := []any{}
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}
	rows, err := l.pool.Query(context.Background(), query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			entry  Entry
			action string
		)
		if err := rows.Scan(&entry.Time, &action, &entry.Role, &entry.MediaID, &entry.ClientAddr, &entry.UserAgent); err != nil {
			return nil, err
		}
		entry.Action = Action(action)
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
