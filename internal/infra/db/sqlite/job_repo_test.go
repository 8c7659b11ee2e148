package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/bryanwahyu/gap-analyzer/internal/domain/jobs"
)

func newRepo(t *testing.T) *JobRepository {
	t.Helper()
	db, err := Open(context.Background(), filepath.Join(t.TempDir(), "jobs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewJobRepository(db)
}

func TestJobRepository_SaveGetUpdate(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)

	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	j := &domain.Job{
		SessionID: "abc123",
		RunID:     "run-1",
		Email:     "a@example.com",
		Status:    domain.StatusPending,
		Stage:     "STAGING",
		FileCount: 2,
		CreatedAt: created,
		UpdatedAt: created,
	}
	require.NoError(t, repo.Save(ctx, j))

	got, err := repo.Get(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, "run-1", got.RunID)
	assert.Equal(t, domain.StatusPending, got.Status)
	assert.Equal(t, 2, got.FileCount)
	assert.True(t, created.Equal(got.CreatedAt))
	assert.Empty(t, got.ReportURLs)
	assert.NotNil(t, got.ReportURLs)

	require.NoError(t, repo.UpdateStage(ctx, "abc123", "CHARTING"))
	got, err = repo.Get(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, "CHARTING", got.Stage)

	j.Status = domain.StatusDone
	j.Stage = "DONE"
	j.ReportURLs = []string{"https://x/r1.pdf", "https://x/r2.docx"}
	require.NoError(t, repo.Save(ctx, j))
	got, err = repo.Get(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDone, got.Status)
	assert.Equal(t, []string{"https://x/r1.pdf", "https://x/r2.docx"}, got.ReportURLs)
}

func TestJobRepository_NotFound(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)

	_, err := repo.Get(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorIs(t, repo.UpdateStage(ctx, "missing", "DONE"), domain.ErrNotFound)
}

func TestJobRepository_LatestOrder(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"s1", "s2", "s3"} {
		at := base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, repo.Save(ctx, &domain.Job{SessionID: id, RunID: id, Status: domain.StatusDone, CreatedAt: at, UpdatedAt: at}))
	}

	got, err := repo.Latest(ctx, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "s3", got[0].SessionID)
	assert.Equal(t, "s2", got[1].SessionID)
}
