package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	domain "github.com/bryanwahyu/gap-analyzer/internal/domain/jobs"
)

type JobRepository struct{ db *sql.DB }

func NewJobRepository(db *sql.DB) *JobRepository { return &JobRepository{db: db} }

const jobColumns = `session_id, run_id, email, status, stage, error_text, report_urls, file_count, created_at, updated_at`

func (r *JobRepository) Save(ctx context.Context, j *domain.Job) error {
	const q = `
INSERT INTO gap_jobs (` + jobColumns + `)
VALUES (?,?,?,?,?,?,?,?,?,?)
ON CONFLICT (session_id) DO UPDATE SET
 run_id = excluded.run_id,
 email = excluded.email,
 status = excluded.status,
 stage = excluded.stage,
 error_text = excluded.error_text,
 report_urls = excluded.report_urls,
 file_count = excluded.file_count,
 created_at = excluded.created_at,
 updated_at = excluded.updated_at;`

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
		j.Error, string(b), j.FileCount, created.UnixNano(), updated.UnixNano(),
	)
	return err
}

func (r *JobRepository) Get(ctx context.Context, sessionID string) (*domain.Job, error) {
	q := `SELECT ` + jobColumns + ` FROM gap_jobs WHERE session_id = ? LIMIT 1;`
	j, err := scanJob(r.db.QueryRowContext(ctx, q, sessionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return j, err
}

func (r *JobRepository) UpdateStage(ctx context.Context, sessionID, stage string) error {
	const q = `UPDATE gap_jobs SET stage = ?, updated_at = ? WHERE session_id = ?;`
	res, err := r.db.ExecContext(ctx, q, stage, time.Now().UnixNano(), sessionID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *JobRepository) Latest(ctx context.Context, limit int) ([]*domain.Job, error) {
	if limit <= 0 {
		limit = 20
	}
	q := `SELECT ` + jobColumns + ` FROM gap_jobs ORDER BY created_at DESC LIMIT ?;`
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
	var created, updated int64
	if err := row.Scan(&j.SessionID, &j.RunID, &j.Email, &j.Status, &j.Stage, &j.Error,
		&urls, &j.FileCount, &created, &updated); err != nil {
		return nil, err
	}
	j.CreatedAt = time.Unix(0, created).UTC()
	j.UpdatedAt = time.Unix(0, updated).UTC()
	j.ReportURLs = []string{}
	if urls != "" {
		if err := json.Unmarshal([]byte(urls), &j.ReportURLs); err != nil {
			return nil, fmt.Errorf("decode report_urls: %w", err)
		}
	}
	return &j, nil
}
