package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"

	domain "github.com/bryanwahyu/gap-analyzer/internal/domain/jobs"
)

type JobRepository struct{ db *sql.DB }

func NewJobRepository(db *sql.DB) *JobRepository { return &JobRepository{db: db} }

const jobColumns = `session_id, run_id, email, status, stage, error_text, report_urls, file_count, created_at, updated_at`

// Save insert/update Job record
func (r *JobRepository) Save(ctx context.Context, j *domain.Job) error {
	const q = `
INSERT INTO gap_jobs (` + jobColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
ON CONFLICT (session_id) DO UPDATE SET
 run_id = EXCLUDED.run_id,
 email = EXCLUDED.email,
 status = EXCLUDED.status,
 stage = EXCLUDED.stage,
 error_text = EXCLUDED.error_text,
 report_urls = EXCLUDED.report_urls,
 file_count = EXCLUDED.file_count,
 created_at = EXCLUDED.created_at,
 updated_at = EXCLUDED.updated_at;`

	urls := j.ReportURLs
	if urls == nil {
		urls = []string{}
	}
	b, err := json.Marshal(urls)
	if err != nil {
		return err
	}
	created := j.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	updated := j.UpdatedAt
	if updated.IsZero() {
		updated = created
	}
	_, err = r.db.ExecContext(ctx, q,
		j.SessionID, j.RunID, j.Email, string(j.Status), j.Stage,
		j.Error, string(b), j.FileCount, created, updated,
	)
	return err
}

// Get by session id
func (r *JobRepository) Get(ctx context.Context, sessionID string) (*domain.Job, error) {
	q := `SELECT ` + jobColumns + ` FROM gap_jobs WHERE session_id=$1 LIMIT 1;`
	j, err := scanJob(r.db.QueryRowContext(ctx, q, sessionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return j, err
}

// UpdateStage only touches stage + updated_at
func (r *JobRepository) UpdateStage(ctx context.Context, sessionID, stage string) error {
	const q = `UPDATE gap_jobs SET stage=$1, updated_at=$2 WHERE session_id=$3;`
	res, err := r.db.ExecContext(ctx, q, stage, time.Now(), sessionID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Latest jobs, newest first
func (r *JobRepository) Latest(ctx context.Context, limit int) ([]*domain.Job, error) {
	if limit <= 0 {
		limit = 20
	}
	q := `SELECT ` + jobColumns + ` FROM gap_jobs ORDER BY created_at DESC LIMIT $1;`
	rows, err := r.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func scanJob(row interface{ Scan(...any) error }) (*domain.Job, error) {
	var j domain.Job
	var urls string
	if err := row.Scan(&j.SessionID, &j.RunID, &j.Email, &j.Status, &j.Stage, &j.Error,
		&urls, &j.FileCount, &j.CreatedAt, &j.UpdatedAt); err != nil {
		return nil, err
	}
	j.ReportURLs = []string{}
	if strings.TrimSpace(urls) != "" {
		if err := json.Unmarshal([]byte(urls), &j.ReportURLs); err != nil {
			return nil, fmt.Errorf("decode report_urls: %w", err)
		}
	}
	return &j, nil
}
