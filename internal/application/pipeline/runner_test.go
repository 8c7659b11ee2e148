package pipeline

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanwahyu/gap-analyzer/internal/domain/gap"
	"github.com/bryanwahyu/gap-analyzer/internal/infra/reportengine"
)

// engine answers with the given report urls and records the payload it received.
func engine(t *testing.T, status int, urls []string, got *gap.ReportPayload, hits *int32) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		b, _ := io.ReadAll(r.Body)
		if got != nil {
			assert.NoError(t, json.Unmarshal(b, got))
		}
		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		json.NewEncoder(w).Encode(map[string][]string{"report_urls": urls})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRun_HappyPath(t *testing.T) {
	src := newSources(t)
	var payload gap.ReportPayload
	var hits int32
	eng := engine(t, http.StatusOK, []string{
		src.URL + "/out/gap.pdf",
		src.URL + "/out/missing.pdf",
		src.URL + "/out/gap.docx",
	}, &payload, &hits)

	drive := &memDrive{}
	r := newRunner(t, drive, eng.URL)

	var stages []gap.Stage
	res, err := r.Run(context.Background(), src.job("s1"), func(s gap.Stage) { stages = append(stages, s) })
	require.NoError(t, err)

	assert.Equal(t, gap.Stages, stages)
	assert.Equal(t, gap.StageDone, res.Stage)
	assert.Len(t, res.Staged, 2)

	assert.Equal(t, []string{"Router"}, res.Hardware.Obsolete)
	assert.Equal(t, map[string]int{"1": 2, "2": 1}, res.Hardware.TierCounts)
	assert.Equal(t, []string{"Windows 7"}, res.Software.Obsolete)

	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
	assert.Equal(t, "s1", payload.SessionID)
	assert.Equal(t, "ops@example.com", payload.Email)
	assert.Equal(t, "https://drive.test/folders/s1/hardware_tier_bar.png", payload.Charts["hardware_tier"])
	assert.Equal(t, "https://drive.test/folders/s1/software_tier_bar.png", payload.Charts["software_tier"])
	for k, u := range payload.Charts {
		assert.NotEmpty(t, u, k)
	}
	assert.Equal(t, "Hardware obsolete platforms: Router. Recommendations: Replace routers.", payload.Content["hardware_summary"])
	assert.Equal(t, []gap.ManifestEntry{{FileName: "hw.xlsx"}, {FileName: "sw.xlsx"}}, payload.InputManifest)

	// one of three artifacts is gone; the run still completes
	require.Len(t, res.Reports, 2)
	assert.Equal(t, "https://drive.test/folders/s1/gap.pdf", res.Reports[0].RemoteURL)
	assert.Equal(t, "https://drive.test/folders/s1/gap.docx", res.Reports[1].RemoteURL)
	assert.Contains(t, drive.uploaded(), "folders/s1/gap.docx")

	// sandbox is left on disk for the sweeper
	assert.DirExists(t, r.SandboxDir("s1"))
}

func TestRun_DispatchFailureSkipsCollection(t *testing.T) {
	src := newSources(t)
	var hits int32
	eng := engine(t, http.StatusInternalServerError, nil, nil, &hits)

	var stages []gap.Stage
	res, err := newRunner(t, &memDrive{}, eng.URL).Run(context.Background(), src.job("s2"), func(s gap.Stage) { stages = append(stages, s) })
	require.Error(t, err)

	var se *StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, gap.StageDispatching, se.Stage)
	var status *reportengine.StatusError
	assert.ErrorAs(t, err, &status)

	assert.Equal(t, gap.StageFailed, res.Stage)
	assert.Equal(t, gap.StageFailed, stages[len(stages)-1])
	assert.NotContains(t, stages, gap.StageCollectingResults)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
	assert.Zero(t, atomic.LoadInt32(&src.artifactHits))
	assert.Empty(t, res.Reports)
}

func TestRun_NoFilesStagedStillDispatches(t *testing.T) {
	src := newSources(t)
	var payload gap.ReportPayload
	var hits int32
	eng := engine(t, http.StatusOK, []string{}, &payload, &hits)

	job := gap.JobDescriptor{SessionID: "s3", Files: []gap.FileDescriptor{
		{FileName: "hw.xlsx", SourceURL: src.URL + "/nope/hw.xlsx"},
	}}
	res, err := newRunner(t, &memDrive{}, eng.URL).Run(context.Background(), job, nil)
	require.NoError(t, err)

	assert.Equal(t, gap.StageDone, res.Stage)
	assert.Empty(t, res.Staged)
	assert.Empty(t, payload.Charts)
	assert.Empty(t, payload.InputManifest)
	assert.Equal(t, "This analysis covers 0 hardware assets and 0 software assets.", payload.Content["overview"])
}

func TestRun_InvalidJob(t *testing.T) {
	var hits int32
	eng := engine(t, http.StatusOK, nil, nil, &hits)
	r := newRunner(t, &memDrive{}, eng.URL)

	_, err := r.Run(context.Background(), gap.JobDescriptor{SessionID: "../x"}, nil)
	assert.ErrorIs(t, err, gap.ErrInvalidJob)
	assert.Zero(t, atomic.LoadInt32(&hits))
	_, statErr := os.Stat(r.SandboxDir("../x"))
	assert.True(t, errors.Is(statErr, os.ErrNotExist))
}

func TestRun_UnknownProviderFailsSynthesis(t *testing.T) {
	src := newSources(t)
	var hits int32
	eng := engine(t, http.StatusOK, nil, nil, &hits)

	job := src.job("s4")
	job.Narrative = &gap.NarrativeConfig{Provider: "openai"} // not configured
	res, err := newRunner(t, &memDrive{}, eng.URL).Run(context.Background(), job, nil)

	var se *StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, gap.StageSynthesizing, se.Stage)
	assert.Equal(t, gap.StageFailed, res.Stage)
	assert.Zero(t, atomic.LoadInt32(&hits))
}

func TestSandboxDir(t *testing.T) {
	r := &Runner{SandboxRoot: "/tmp/root"}
	assert.Equal(t, "/tmp/root/Temp_abc", r.SandboxDir("abc"))
	assert.Equal(t, "/tmp/root/Temp_abc", r.SandboxDir("Temp_abc"))
}

func TestRun_OneRowInventories(t *testing.T) {
	hw := xlsxBytes(t, [][]any{{"Device Type", "Lifecycle Status", "Tier"}, {"Core Switch", "Obsolete", "1"}})
	sw := xlsxBytes(t, [][]any{{"Product", "Tier"}, {"ERP", "2"}})
	files := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/hw_inventory.xlsx":
			w.Write(hw)
		case "/sw_inventory.xlsx":
			w.Write(sw)
		default:
			http.NotFound(w, r)
		}
	}))
	defer files.Close()

	var payload gap.ReportPayload
	var hits int32
	eng := engine(t, http.StatusOK, nil, &payload, &hits)

	job := gap.JobDescriptor{SessionID: "inv", Files: []gap.FileDescriptor{
		{FileName: "hw_inventory.xlsx", SourceURL: files.URL + "/hw_inventory.xlsx"},
		{FileName: "sw_inventory.xlsx", SourceURL: files.URL + "/sw_inventory.xlsx"},
	}}
	res, err := newRunner(t, &memDrive{}, eng.URL).Run(context.Background(), job, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"Core Switch"}, res.Hardware.Obsolete)
	assert.Equal(t, map[string]int{"1": 1}, res.Hardware.TierCounts)
	assert.Empty(t, res.Software.Obsolete)
	assert.Equal(t, map[string]int{"2": 1}, res.Software.TierCounts)

	overview := payload.Content["overview"]
	assert.Contains(t, overview, "1 hardware")
	assert.Contains(t, overview, "1 software")
	assert.Len(t, res.Charts, 2)
	assert.Len(t, payload.Charts, 2)
}
