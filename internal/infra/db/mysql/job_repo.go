package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	domain "github.com/bryanwahyu/gap-analyzer/internal/domain/jobs"
)

type JobRepository struct {
	db *sql.DB
}

func NewJobRepository(db *sql.DB) *JobRepository {
	return &JobRepository{db: db}
}

const jobColumns = `session_id, run_id, email, status, stage, error_text, report_urls, file_count, created_at, updated_at`

// Save insert/update Job record
func (r *JobRepository) Save(ctx context.Context, j *domain.Job) error {
	const q = `
INSERT INTO gap_jobs (` + jobColumns + `)
VALUES (?,?,?,?,?,?,?,?,?,?)
ON DUPLICATE KEY UPDATE
 run_id=VALUES(run_id), email=VALUES(email), status=VALUES(status), stage=VALUES(stage),
 error_text=VALUES(error_text), report_urls=VALUES(report_urls), file_count=VALUES(file_count),
 created_at=VALUES(created_at), updated_at=VALUES(updated_at);
`
	urls, err := encodeURLs(j.ReportURLs)
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
		j.SessionID, j.RunID, stringOrDash(j.Email), stringOrDash(string(j.Status)), stringOrDash(j.Stage),
		j.Error, urls, j.FileCount, created.UTC(), updated.UTC(),
	)
	return err
}

// Get by session id
func (r *JobRepository) Get(ctx context.Context, sessionID string) (*domain.Job, error) {
	q := `SELECT ` + jobColumns + ` FROM gap_jobs WHERE session_id=? LIMIT 1;`
	j, err := scanJob(r.db.QueryRowContext(ctx, q, sessionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return j, err
}

// UpdateStage hanya update kolom stage
func (r *JobRepository) UpdateStage(ctx context.Context, sessionID, stage string) error {
	const q = `UPDATE gap_jobs SET stage=?, updated_at=? WHERE session_id=?;`
	res, err := r.db.ExecContext(ctx, q, stage, time.Now().UTC(), sessionID)
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

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*domain.Job, error) {
	var j domain.Job
	var urls string
	if err := row.Scan(&j.SessionID, &j.RunID, &j.Email, &j.Status, &j.Stage, &j.Error,
		&urls, &j.FileCount, &j.CreatedAt, &j.UpdatedAt); err != nil {
		return nil, err
	}
	j.Email = dashToEmpty(j.Email)
	j.Stage = dashToEmpty(j.Stage)
	var err error
	if j.ReportURLs, err = decodeURLs(urls); err != nil {
		return nil, fmt.Errorf("decode report_urls: %w", err)
	}
	return &j, nil
}
