package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/bryanwahyu/gap-analyzer/internal/application/insights"
	"github.com/bryanwahyu/gap-analyzer/internal/domain/gap"
)

// Ports used by the runner; the application packages satisfy them.
type (
	Stager interface {
		Stage(ctx context.Context, files []gap.InputFile, sandboxDir string) []gap.InputFile
		Publish(ctx context.Context, localPath string, session gap.Session) (string, error)
		Collect(ctx context.Context, urls []string, sandboxDir string, session gap.Session) []gap.ChartArtifact
	}

	Extractor interface {
		ExtractAll(ctx context.Context, staged []gap.InputFile) insights.Result
	}

	ChartRenderer interface {
		Render(ctx context.Context, byLabel map[string]gap.InsightRecord, outDir string) (map[string]string, error)
		RenderDistributions(ctx context.Context, label string, dists []gap.Distribution, outDir string) (map[string]string, error)
	}

	SynthesizerFactory interface {
		For(override *gap.NarrativeConfig) (gap.Synthesizer, error)
	}
)

// StageError is the error of a run that ended in FAILED.
type StageError struct {
	Stage gap.Stage
	Err   error
}

func (e *StageError) Error() string { return fmt.Sprintf("stage %s: %v", e.Stage, e.Err) }
func (e *StageError) Unwrap() error { return e.Err }

// Result is what a run produced, including partial state when it failed.
type Result struct {
	Stage      gap.Stage
	Staged     []gap.InputFile
	Hardware   gap.InsightRecord
	Software   gap.InsightRecord
	Charts     []gap.ChartArtifact
	Payload    *gap.ReportPayload
	Reports    []gap.ChartArtifact
	ReportURLs []string
}

// Runner executes the per-session state machine:
// STAGING → EXTRACTING → SYNTHESIZING → CHARTING → PUBLISHING_CHARTS →
// DISPATCHING → COLLECTING_RESULTS → DONE. Any stage error ends the run in FAILED;
// there is no resume.
type Runner struct {
	Stager      Stager
	Extractor   Extractor
	Charts      ChartRenderer
	Narratives  SynthesizerFactory
	Engine      gap.ReportEngine
	SandboxRoot string
}

// SandboxDir is the session-exclusive working directory.
func (r *Runner) SandboxDir(sessionID string) string {
	name := sessionID
	if !strings.HasPrefix(name, "Temp_") {
		name = "Temp_" + name
	}
	return filepath.Join(r.SandboxRoot, name)
}

// Run executes one job. observe, when non-nil, is called on every state entered.
func (r *Runner) Run(ctx context.Context, job gap.JobDescriptor, observe func(gap.Stage)) (Result, error) {
	session := job.Session()
	sandbox := r.SandboxDir(session.SessionID)
	lg := log.With().Str("session_id", session.SessionID).Logger()

	res := Result{Hardware: gap.EmptyInsights(), Software: gap.EmptyInsights()}
	enter := func(s gap.Stage) {
		res.Stage = s
		lg.Info().Str("stage", string(s)).Msg("stage entered")
		if observe != nil {
			observe(s)
		}
	}
	fail := func(err error) (Result, error) {
		failed := res.Stage
		res.Stage = gap.StageFailed
		lg.Error().Err(err).Str("stage", string(failed)).Msg("market gap run failed")
		if observe != nil {
			observe(gap.StageFailed)
		}
		return res, &StageError{Stage: failed, Err: err}
	}

	if err := job.Validate(); err != nil {
		res.Stage = gap.StageStaging
		return fail(err)
	}

	enter(gap.StageStaging)
	res.Staged = r.Stager.Stage(ctx, job.InputFiles(), sandbox)
	lg.Info().Int("requested", len(job.Files)).Int("staged", len(res.Staged)).Msg("inputs staged")
	if err := ctx.Err(); err != nil {
		return fail(err)
	}

	enter(gap.StageExtracting)
	ext := r.Extractor.ExtractAll(ctx, res.Staged)
	res.Hardware, res.Software = ext.Hardware, ext.Software

	enter(gap.StageSynthesizing)
	content, err := r.synthesize(ctx, job, res.Hardware, res.Software)
	if err != nil {
		return fail(err)
	}

	enter(gap.StageCharting)
	chartDir := filepath.Join(sandbox, "charts")
	paths, err := r.Charts.Render(ctx, map[string]gap.InsightRecord{
		string(gap.CategoryHardware): res.Hardware,
		string(gap.CategorySoftware): res.Software,
	}, chartDir)
	if err != nil {
		return fail(err)
	}
	for cat, dists := range ext.Distributions {
		extra, derr := r.Charts.RenderDistributions(ctx, string(cat), dists, chartDir)
		if derr != nil {
			lg.Warn().Err(derr).Str("category", string(cat)).Msg("distribution charts skipped")
			continue
		}
		for k, p := range extra {
			paths[k] = p
		}
	}

	enter(gap.StagePublishingCharts)
	charts := make(map[string]string, len(paths))
	for _, key := range sortedKeys(paths) {
		url, perr := r.Stager.Publish(ctx, paths[key], session)
		if perr != nil {
			return fail(fmt.Errorf("publish chart %s: %w", key, perr))
		}
		charts[key] = url
		res.Charts = append(res.Charts, gap.ChartArtifact{Key: key, LocalPath: paths[key], RemoteURL: url})
	}

	enter(gap.StageDispatching)
	payload := gap.ReportPayload{
		SessionID:     session.SessionID,
		Email:         session.Email,
		StorageTarget: session.StorageTarget,
		Content:       content,
		Charts:        charts,
		InputManifest: manifest(res.Staged),
	}
	if err := payload.Validate(); err != nil {
		return fail(err)
	}
	res.Payload = &payload
	urls, err := r.Engine.Generate(ctx, payload)
	if err != nil {
		return fail(err)
	}
	res.ReportURLs = urls

	enter(gap.StageCollectingResults)
	res.Reports = r.Stager.Collect(ctx, urls, sandbox, session)
	if len(res.Reports) < len(urls) {
		lg.Warn().Int("reports", len(urls)).Int("published", len(res.Reports)).Msg("some report artifacts were skipped")
	}

	enter(gap.StageDone)
	return res, nil
}

func (r *Runner) synthesize(ctx context.Context, job gap.JobDescriptor, hw, sw gap.InsightRecord) (content map[string]string, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("narrative synthesis panicked: %v", p)
		}
	}()
	synth, err := r.Narratives.For(job.Narrative)
	if err != nil {
		return nil, err
	}
	content, err = synth.Synthesize(ctx, hw, sw)
	if err != nil {
		return nil, err
	}
	if content == nil {
		return nil, errors.New("narrative synthesis returned no content")
	}
	return content, nil
}

func manifest(staged []gap.InputFile) []gap.ManifestEntry {
	out := make([]gap.ManifestEntry, 0, len(staged))
	for _, f := range staged {
		out = append(out, gap.ManifestEntry{FileName: f.FileName})
	}
	return out
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
