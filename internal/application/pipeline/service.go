package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/bryanwahyu/gap-analyzer/internal/application"
	"github.com/bryanwahyu/gap-analyzer/internal/domain/gap"
	"github.com/bryanwahyu/gap-analyzer/internal/domain/jobs"
)

// ErrAlreadyRunning is returned when a session already has an active run.
var ErrAlreadyRunning = errors.New("session already has an active run")

// Observer receives job lifecycle events (metrics).
type Observer interface {
	JobStarted()
	JobFinished(failed bool)
}

// Service accepts jobs, runs each on its own goroutine and keeps the status record.
// Service is designed to be used concurrently and is thread-safe.
type Service struct {
	Runner   *Runner
	Repo     jobs.Repository
	Clock    application.Clock
	Observer Observer

	mu     sync.Mutex
	active map[string]bool
	wg     sync.WaitGroup
}

// SubmitResult is the synchronous answer to a job submission.
type SubmitResult struct {
	SessionID string `json:"session_id"`
	RunID     string `json:"run_id"`
	Status    string `json:"status"`
	Files     int    `json:"files"`
}

// Submit validates the job, records it as pending and starts it in the background.
// Only validation and bookkeeping errors are returned; the run outcome is visible
// through Status.
func (s *Service) Submit(ctx context.Context, job gap.JobDescriptor) (SubmitResult, error) {
	if err := job.Validate(); err != nil {
		return SubmitResult{}, err
	}

	if err := s.acquire(job.SessionID); err != nil {
		return SubmitResult{}, err
	}

	now := s.now()
	rec := &jobs.Job{
		SessionID:  job.SessionID,
		RunID:      uuid.New().String(),
		Email:      job.Email,
		Status:     jobs.StatusPending,
		Stage:      string(gap.StageStaging),
		ReportURLs: []string{},
		FileCount:  len(job.Files),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.Repo.Save(ctx, rec); err != nil {
		s.release(job.SessionID)
		return SubmitResult{}, fmt.Errorf("save job: %w", err)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.release(job.SessionID)
		// jalankan dengan context.Background() supaya gak kena context canceled dari request
		s.execute(context.Background(), job, rec)
	}()

	return SubmitResult{SessionID: rec.SessionID, RunID: rec.RunID, Status: string(rec.Status), Files: rec.FileCount}, nil
}

// RunSync executes a job on the calling goroutine, recording status the same way.
// Like Submit it refuses a session that already has a run in this process.
func (s *Service) RunSync(ctx context.Context, job gap.JobDescriptor) (Result, error) {
	if err := job.Validate(); err != nil {
		return Result{}, err
	}
	if err := s.acquire(job.SessionID); err != nil {
		return Result{}, err
	}
	defer s.release(job.SessionID)
	now := s.now()
	rec := &jobs.Job{
		SessionID:  job.SessionID,
		RunID:      uuid.New().String(),
		Email:      job.Email,
		Status:     jobs.StatusPending,
		Stage:      string(gap.StageStaging),
		ReportURLs: []string{},
		FileCount:  len(job.Files),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.Repo.Save(ctx, rec); err != nil {
		return Result{}, fmt.Errorf("save job: %w", err)
	}
	return s.execute(ctx, job, rec)
}

func (s *Service) execute(ctx context.Context, job gap.JobDescriptor, rec *jobs.Job) (Result, error) {
	lg := log.With().Str("session_id", job.SessionID).Str("run_id", rec.RunID).Logger()
	if s.Observer != nil {
		s.Observer.JobStarted()
	}

	rec.Status = jobs.StatusRunning
	rec.UpdatedAt = s.now()
	if err := s.Repo.Save(ctx, rec); err != nil {
		lg.Warn().Err(err).Msg("failed to mark job running")
	}

	res, err := s.Runner.Run(ctx, job, func(stage gap.Stage) {
		if uerr := s.Repo.UpdateStage(ctx, job.SessionID, string(stage)); uerr != nil {
			lg.Warn().Err(uerr).Str("stage", string(stage)).Msg("failed to record stage")
		}
	})

	rec.Stage = string(res.Stage)
	rec.UpdatedAt = s.now()
	rec.ReportURLs = rec.ReportURLs[:0]
	for _, a := range res.Reports {
		rec.ReportURLs = append(rec.ReportURLs, a.RemoteURL)
	}
	if err != nil {
		rec.Status = jobs.StatusFailed
		rec.Error = err.Error()
	} else {
		rec.Status = jobs.StatusDone
		rec.Error = ""
		lg.Info().Int("reports", len(rec.ReportURLs)).Msg("market gap run finished")
	}
	if serr := s.Repo.Save(ctx, rec); serr != nil {
		lg.Error().Err(serr).Msg("failed to save final job status")
	}
	if s.Observer != nil {
		s.Observer.JobFinished(err != nil)
	}
	return res, err
}

// Status returns the job record of a session.
func (s *Service) Status(ctx context.Context, sessionID string) (*jobs.Job, error) {
	return s.Repo.Get(ctx, sessionID)
}

// Latest returns the most recent job records.
func (s *Service) Latest(ctx context.Context, limit int) ([]*jobs.Job, error) {
	return s.Repo.Latest(ctx, limit)
}

// Active reports whether a session currently has a run in this process.
func (s *Service) Active(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active[sessionID]
}

// Wait blocks until every background run has returned.
func (s *Service) Wait() { s.wg.Wait() }

// acquire claims the session for one run in this process.
func (s *Service) acquire(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		s.active = map[string]bool{}
	}
	if s.active[sessionID] {
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, sessionID)
	}
	s.active[sessionID] = true
	return nil
}

func (s *Service) release(sessionID string) {
	s.mu.Lock()
	delete(s.active, sessionID)
	s.mu.Unlock()
}

func (s *Service) now() time.Time {
	if s.Clock != nil {
		return s.Clock.Now()
	}
	return application.SystemClock{}.Now()
}
