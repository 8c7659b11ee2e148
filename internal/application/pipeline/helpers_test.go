package pipeline

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/bryanwahyu/gap-analyzer/internal/application/charts"
	"github.com/bryanwahyu/gap-analyzer/internal/application/insights"
	"github.com/bryanwahyu/gap-analyzer/internal/application/narrative"
	"github.com/bryanwahyu/gap-analyzer/internal/application/staging"
	"github.com/bryanwahyu/gap-analyzer/internal/domain/gap"
	"github.com/bryanwahyu/gap-analyzer/internal/domain/jobs"
	"github.com/bryanwahyu/gap-analyzer/internal/domain/storage"
	"github.com/bryanwahyu/gap-analyzer/internal/infra/reportengine"
)

// memDrive is an in-memory storage.Drive.
type memDrive struct {
	mu      sync.Mutex
	uploads []string
}

func (d *memDrive) ResolveOrCreateFolder(_ context.Context, name string) (storage.FolderID, error) {
	return storage.FolderID("folders/" + name + "/"), nil
}

func (d *memDrive) FindFolder(_ context.Context, name string) (storage.FolderID, bool, error) {
	return storage.FolderID("folders/" + name + "/"), true, nil
}

func (d *memDrive) Upload(_ context.Context, localPath string, folder storage.FolderID) (storage.UploadedFile, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := string(folder) + filepath.Base(localPath)
	d.uploads = append(d.uploads, id)
	return storage.UploadedFile{ID: id, ViewURL: "https://drive.test/" + id}, nil
}

func (d *memDrive) MakePublicReadable(context.Context, string) error { return nil }

func (d *memDrive) ListChildren(context.Context, storage.FolderID) ([]storage.DriveFile, error) {
	return nil, nil
}

func (d *memDrive) uploaded() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.uploads...)
}

func xlsxBytes(t *testing.T, rows [][]any) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow("Sheet1", cell, &row))
	}
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf.Bytes()
}

// sources serves the input spreadsheets and the report artifacts.
type sources struct {
	*httptest.Server
	artifactHits int32
}

func newSources(t *testing.T) *sources {
	hw := xlsxBytes(t, [][]any{
		{"Device Type", "Lifecycle Status", "Recommendation", "Tier"},
		{"Router", "Obsolete", "Replace routers", "1"},
		{"Switch", "Active", "", "2"},
		{"Router", "Obsolete", "Replace routers", "1"},
	})
	sw := xlsxBytes(t, [][]any{
		{"Product", "Lifecycle Status", "Recommendation", "Tier"},
		{"Windows 7", "Obsolete", "Migrate to Windows 11", "gold"},
	})
	s := &sources{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/in/hw.xlsx":
			w.Write(hw)
		case r.URL.Path == "/in/sw.xlsx":
			w.Write(sw)
		case strings.HasPrefix(r.URL.Path, "/out/"):
			atomic.AddInt32(&s.artifactHits, 1)
			if strings.HasSuffix(r.URL.Path, "missing.pdf") {
				http.NotFound(w, r)
				return
			}
			io.WriteString(w, "rendered report")
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *sources) job(id string) gap.JobDescriptor {
	return gap.JobDescriptor{
		SessionID: id,
		Email:     "ops@example.com",
		Files: []gap.FileDescriptor{
			{FileName: "hw.xlsx", SourceURL: s.URL + "/in/hw.xlsx"},
			{FileName: "sw.xlsx", SourceURL: s.URL + "/in/sw.xlsx"},
		},
	}
}

func newRunner(t *testing.T, drive storage.Drive, engineURL string) *Runner {
	return &Runner{
		Stager:      staging.New(drive, 2*time.Second, 2, time.Millisecond),
		Extractor:   &insights.Extractor{},
		Charts:      charts.NewRenderer(),
		Narratives:  &narrative.Factory{Defaults: narrative.Options{Provider: "template"}},
		Engine:      reportengine.NewClient(engineURL, 5*time.Second),
		SandboxRoot: t.TempDir(),
	}
}

// memRepo is an in-memory jobs.Repository.
type memRepo struct {
	mu     sync.Mutex
	jobs   map[string]jobs.Job
	stages []string
}

func newMemRepo() *memRepo { return &memRepo{jobs: map[string]jobs.Job{}} }

func (r *memRepo) Save(_ context.Context, j *jobs.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *j
	cp.ReportURLs = append([]string{}, j.ReportURLs...)
	r.jobs[j.SessionID] = cp
	return nil
}

func (r *memRepo) Get(_ context.Context, id string) (*jobs.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return nil, jobs.ErrNotFound
	}
	return &j, nil
}

func (r *memRepo) UpdateStage(_ context.Context, id, stage string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return jobs.ErrNotFound
	}
	j.Stage = stage
	r.jobs[id] = j
	r.stages = append(r.stages, stage)
	return nil
}

func (r *memRepo) Latest(context.Context, int) ([]*jobs.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*jobs.Job, 0, len(r.jobs))
	for _, j := range r.jobs {
		j := j
		out = append(out, &j)
	}
	return out, nil
}
