package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"

	"github.com/bryanwahyu/gap-analyzer/internal/application"
	"github.com/bryanwahyu/gap-analyzer/internal/application/charts"
	"github.com/bryanwahyu/gap-analyzer/internal/application/insights"
	"github.com/bryanwahyu/gap-analyzer/internal/application/narrative"
	"github.com/bryanwahyu/gap-analyzer/internal/application/pipeline"
	"github.com/bryanwahyu/gap-analyzer/internal/application/staging"
	"github.com/bryanwahyu/gap-analyzer/internal/config"
	"github.com/bryanwahyu/gap-analyzer/internal/domain/jobs"
	domstorage "github.com/bryanwahyu/gap-analyzer/internal/domain/storage"
	"github.com/bryanwahyu/gap-analyzer/internal/infra/ai/openai"
	"github.com/bryanwahyu/gap-analyzer/internal/infra/ai/vertex"
	mysqlp "github.com/bryanwahyu/gap-analyzer/internal/infra/db/mysql"
	"github.com/bryanwahyu/gap-analyzer/internal/infra/db/postgres"
	"github.com/bryanwahyu/gap-analyzer/internal/infra/db/sqlite"
	"github.com/bryanwahyu/gap-analyzer/internal/infra/reportengine"
	"github.com/bryanwahyu/gap-analyzer/internal/infra/storage"
	"github.com/bryanwahyu/gap-analyzer/internal/logger"
	"github.com/bryanwahyu/gap-analyzer/internal/middleware"
)

// app holds the wired service graph of one process.
type app struct {
	cfg     *config.Config
	db      *sql.DB
	drive   domstorage.Drive
	ping    func(ctx context.Context) error
	stager  *staging.Stager
	service *pipeline.Service
	closers []func() error
}

func loadConfig() (*config.Config, error) {
	path := configPath
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		path = ""
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("config load error: %w", err)
	}
	logger.Init(cfg)
	if path == "" {
		log.Info().Str("path", configPath).Msg("config file not found, using defaults")
	}
	return cfg, nil
}

func buildApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	repo, err := a.openRepo(ctx)
	if err != nil {
		return nil, err
	}
	if err := a.openDrive(ctx); err != nil {
		return nil, err
	}
	factory, err := a.narratives(ctx)
	if err != nil {
		return nil, err
	}

	a.stager = staging.New(a.drive, cfg.Pipeline.DownloadTimeout, cfg.Pipeline.Retries, cfg.Pipeline.Backoff)
	runner := &pipeline.Runner{
		Stager:      a.stager,
		Extractor:   &insights.Extractor{},
		Charts:      charts.NewRenderer(),
		Narratives:  factory,
		Engine:      reportengine.NewClient(cfg.ReportEngine.URL, cfg.ReportEngine.Timeout),
		SandboxRoot: cfg.Pipeline.SandboxRoot,
	}
	a.service = &pipeline.Service{
		Runner:   runner,
		Repo:     repo,
		Clock:    application.SystemClock{},
		Observer: middleware.JobMetrics{},
	}
	ok = true
	return a, nil
}

func (a *app) openRepo(ctx context.Context) (jobs.Repository, error) {
	var err error
	switch a.cfg.Database.Driver {
	case "mysql":
		a.db, err = mysqlp.Connect(ctx, a.cfg.MySQLDSN())
		if err != nil {
			return nil, fmt.Errorf("mysql connect error: %w", err)
		}
		a.closers = append(a.closers, a.db.Close)
		return mysqlp.NewJobRepository(a.db), nil
	case "postgres":
		a.db, err = postgres.Connect(ctx, a.cfg.PostgresDSN())
		if err != nil {
			return nil, fmt.Errorf("postgres connect error: %w", err)
		}
		a.closers = append(a.closers, a.db.Close)
		return postgres.NewJobRepository(a.db), nil
	default:
		a.db, err = sqlite.Open(ctx, a.cfg.Database.Path)
		if err != nil {
			return nil, fmt.Errorf("sqlite open error: %w", err)
		}
		a.closers = append(a.closers, a.db.Close)
		return sqlite.NewJobRepository(a.db), nil
	}
}

func (a *app) openDrive(ctx context.Context) error {
	switch a.cfg.Storage.Backend {
	case "gcs":
		store, err := storage.NewGCS(ctx, a.cfg.Storage.GCS.Bucket)
		if err != nil {
			return fmt.Errorf("gcs init error: %w", err)
		}
		a.drive, a.ping = store, store.Ping
		a.closers = append(a.closers, store.Close)
	default:
		m := a.cfg.Storage.Minio
		store, err := storage.New(ctx, m.Endpoint, m.Region, m.BucketName, m.AccessKey, m.SecretKey, m.UseSSL)
		if err != nil {
			return fmt.Errorf("minio init error: %w", err)
		}
		a.drive, a.ping = store, store.Ping
	}
	return nil
}

// narratives configures every provider that has credentials; the default one must be usable.
func (a *app) narratives(ctx context.Context) (*narrative.Factory, error) {
	n := a.cfg.Narrative
	providers := map[string]narrative.Provider{}
	if n.OpenAIKey != "" {
		providers["openai"] = narrative.Provider{
			Client:        openai.NewClientWithBaseURL(n.OpenAIKey, n.OpenAIBaseURL, n.Model),
			Model:         n.Model,
			FallbackModel: n.FallbackModel,
		}
	}
	if n.VertexProject != "" {
		vc, err := vertex.NewClient(ctx, n.VertexProject, n.VertexRegion, n.VertexModel)
		if err != nil {
			return nil, fmt.Errorf("vertex init error: %w", err)
		}
		a.closers = append(a.closers, vc.Close)
		providers["vertex"] = narrative.Provider{Client: vc, Model: n.VertexModel, FallbackModel: n.VertexFallback}
	}
	f := &narrative.Factory{
		Defaults: narrative.Options{
			Provider:        n.Provider,
			MaxTokens:       n.MaxTokens,
			FallbackTokens:  n.FallbackTokens,
			MaxSummaryChars: n.MaxSummaryChars,
		},
		Providers: providers,
	}
	if _, err := f.For(nil); err != nil {
		return nil, err
	}
	return f, nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			log.Warn().Err(err).Msg("close failed")
		}
	}
	a.closers = nil
}
