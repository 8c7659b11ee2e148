package postgres

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/lib/pq"
)

const schema = `
CREATE TABLE IF NOT EXISTS gap_jobs (
  session_id  VARCHAR(128) PRIMARY KEY,
  run_id      VARCHAR(64)  NOT NULL,
  email       VARCHAR(255) NOT NULL,
  status      VARCHAR(16)  NOT NULL,
  stage       VARCHAR(32)  NOT NULL,
  error_text  TEXT         NOT NULL DEFAULT '',
  report_urls JSONB        NOT NULL DEFAULT '[]',
  file_count  INTEGER      NOT NULL DEFAULT 0,
  created_at  TIMESTAMPTZ  NOT NULL,
  updated_at  TIMESTAMPTZ  NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_gap_jobs_created ON gap_jobs (created_at DESC);`

// Connect opens a lib/pq pool and makes sure the job table exists.
func Connect(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx2, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx2); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
