package jobs

import "context"

// Repository port for job status records
type Repository interface {
	Save(ctx context.Context, j *Job) error
	Get(ctx context.Context, sessionID string) (*Job, error)
	UpdateStage(ctx context.Context, sessionID, stage string) error
	Latest(ctx context.Context, limit int) ([]*Job, error)
}
