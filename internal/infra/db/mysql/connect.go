package mysql

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

const schema = `
CREATE TABLE IF NOT EXISTS gap_jobs (
  session_id  VARCHAR(128) NOT NULL PRIMARY KEY,
  run_id      VARCHAR(64)  NOT NULL,
  email       VARCHAR(255) NOT NULL,
  status      VARCHAR(16)  NOT NULL,
  stage       VARCHAR(32)  NOT NULL,
  error_text  TEXT         NOT NULL,
  report_urls JSON         NOT NULL,
  file_count  INT          NOT NULL DEFAULT 0,
  created_at  DATETIME(6)  NOT NULL,
  updated_at  DATETIME(6)  NOT NULL,
  KEY idx_gap_jobs_created (created_at)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;`

func Connect(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	// test ping
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
