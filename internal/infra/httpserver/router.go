package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/bryanwahyu/gap-analyzer/internal/application/pipeline"
	"github.com/bryanwahyu/gap-analyzer/internal/domain/gap"
	"github.com/bryanwahyu/gap-analyzer/internal/domain/jobs"
	"github.com/bryanwahyu/gap-analyzer/internal/domain/storage"
	"github.com/bryanwahyu/gap-analyzer/internal/middleware"
)

// JobService is the pipeline surface the router drives.
type JobService interface {
	Submit(ctx context.Context, job gap.JobDescriptor) (pipeline.SubmitResult, error)
	Status(ctx context.Context, sessionID string) (*jobs.Job, error)
	Latest(ctx context.Context, limit int) ([]*jobs.Job, error)
}

// FileLister lists the shared-storage folder of a session.
type FileLister interface {
	Files(ctx context.Context, session gap.Session) ([]storage.DriveFile, error)
}

// Options tunes the router; zero values disable the feature.
type Options struct {
	APIKeys             map[string]string
	AllowedOrigins      []string
	SubmitLimiter       *middleware.SubmitLimiter // nil disables submit throttling
	BlockPrivateSources bool
	Checks              map[string]middleware.HealthChecker
}

type Router struct {
	jobs  JobService
	files FileLister
	opts  Options
}

func NewRouter(svc JobService, files FileLister, opts Options) http.Handler {
	r := &Router{jobs: svc, files: files, opts: opts}
	mux := chi.NewRouter()

	mux.Use(middleware.RequestID)
	mux.Use(middleware.LoggingMiddleware)
	mux.Use(middleware.MetricsMiddleware)
	if len(opts.AllowedOrigins) > 0 {
		mux.Use(cors.Handler(cors.Options{
			AllowedOrigins:   opts.AllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "X-Request-ID"},
			ExposedHeaders:   []string{"X-Request-ID"},
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}
	mux.Use(middleware.APIKeyAuth(opts.APIKeys))

	var throttle []func(http.Handler) http.Handler
	if opts.SubmitLimiter != nil {
		throttle = append(throttle, opts.SubmitLimiter.Handler)
	}

	mux.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.Get("/healthz", middleware.LivenessHandler)
	mux.Get("/readyz", middleware.HealthHandler(opts.Checks))
	mux.Get("/metrics", middleware.MetricsHandler)

	// nama lama dari service sebelumnya
	mux.With(throttle...).Post("/start_market_gap", r.wrap(r.handleStart))

	mux.Route("/v1/market-gap", func(rt chi.Router) {
		rt.With(throttle...).Post("/", r.wrap(r.handleStart))
		rt.Get("/", r.wrap(r.handleLatest))
		rt.Get("/{session_id}", r.wrap(r.handleGet))
		rt.Get("/{session_id}/files", r.wrap(r.handleFiles))
	})

	return mux
}

type handlerFunc func(http.ResponseWriter, *http.Request) error

// badRequest marks decode/validation failures raised by the handlers themselves.
type badRequest struct{ err error }

func (e badRequest) Error() string { return e.err.Error() }
func (e badRequest) Unwrap() error { return e.err }

func (r *Router) wrap(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		err := h(w, req)
		if err == nil {
			return
		}
		var br badRequest
		switch {
		case errors.As(err, &br), errors.Is(err, gap.ErrInvalidJob):
			writeError(w, http.StatusBadRequest, err)
		case errors.Is(err, jobs.ErrNotFound):
			writeError(w, http.StatusNotFound, errors.New("not found"))
		case errors.Is(err, pipeline.ErrAlreadyRunning):
			writeError(w, http.StatusConflict, err)
		default:
			log.Error().Err(err).Str("path", req.URL.Path).Str("request_id", middleware.GetRequestID(req.Context())).Msg("request failed")
			writeError(w, http.StatusInternalServerError, err)
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	_ = writeJSON(w, status, map[string]string{"error": err.Error()})
}

// POST /v1/market-gap
// Body: JobDescriptor
func (r *Router) handleStart(w http.ResponseWriter, req *http.Request) error {
	var job gap.JobDescriptor
	dec := json.NewDecoder(http.MaxBytesReader(w, req.Body, 1<<20))
	if err := dec.Decode(&job); err != nil {
		return badRequest{fmt.Errorf("decode body: %w", err)}
	}
	job.SessionID = middleware.SanitizeString(job.SessionID)
	job.Email = middleware.SanitizeString(job.Email)
	if err := middleware.ValidateSessionID(job.SessionID); err != nil {
		return badRequest{err}
	}
	if r.opts.BlockPrivateSources {
		for i, f := range job.Files {
			if err := middleware.ValidateSourceURL(f.SourceURL); err != nil {
				return badRequest{fmt.Errorf("files[%d]: %w", i, err)}
			}
		}
	}

	res, err := r.jobs.Submit(req.Context(), job)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusAccepted, map[string]any{
		"status":     "queued",
		"session_id": res.SessionID,
		"run_id":     res.RunID,
		"files":      res.Files,
		"message":    "market gap analysis started in background",
		"queuedAt":   time.Now(),
	})
}

// GET /v1/market-gap?limit=20
func (r *Router) handleLatest(w http.ResponseWriter, req *http.Request) error {
	limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
	list, err := r.jobs.Latest(req.Context(), middleware.ValidateLimit(limit))
	if err != nil {
		return err
	}
	if list == nil {
		list = []*jobs.Job{}
	}
	return writeJSON(w, http.StatusOK, list)
}

// GET /v1/market-gap/{session_id}
func (r *Router) handleGet(w http.ResponseWriter, req *http.Request) error {
	id := chi.URLParam(req, "session_id")
	if err := middleware.ValidateSessionID(id); err != nil {
		return badRequest{err}
	}
	job, err := r.jobs.Status(req.Context(), id)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, job)
}

// GET /v1/market-gap/{session_id}/files?storage_target=
func (r *Router) handleFiles(w http.ResponseWriter, req *http.Request) error {
	id := chi.URLParam(req, "session_id")
	if err := middleware.ValidateSessionID(id); err != nil {
		return badRequest{err}
	}
	if _, err := r.jobs.Status(req.Context(), id); err != nil {
		return err
	}
	if r.files == nil {
		return fmt.Errorf("file listing is not configured")
	}
	files, err := r.files.Files(req.Context(), gap.Session{
		SessionID:     id,
		StorageTarget: req.URL.Query().Get("storage_target"),
	})
	if err != nil {
		return err
	}
	if files == nil {
		files = []storage.DriveFile{}
	}
	return writeJSON(w, http.StatusOK, map[string]any{"session_id": id, "files": files})
}
