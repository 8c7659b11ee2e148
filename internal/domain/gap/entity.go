package gap

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrInvalidJob is returned for job descriptors rejected before a run starts.
var ErrInvalidJob = errors.New("invalid job descriptor")

var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// Category of an inventory spreadsheet
type Category string

const (
	CategoryHardware Category = "hardware"
	CategorySoftware Category = "software"
)

// Session identifies one analysis run. It only lives for the duration of the run.
type Session struct {
	SessionID     string `json:"session_id"`
	Email         string `json:"email,omitempty"`
	StorageTarget string `json:"storage_target,omitempty"`
}

func (s Session) Validate() error {
	if strings.TrimSpace(s.SessionID) == "" {
		return fmt.Errorf("%w: session_id is required", ErrInvalidJob)
	}
	if !sessionIDPattern.MatchString(s.SessionID) {
		return fmt.Errorf("%w: session_id must be alphanumeric, dash or underscore (max 128 chars)", ErrInvalidJob)
	}
	return nil
}

// InputFile is a remote resource to ingest. LocalPath is set iff staging succeeded.
type InputFile struct {
	FileName  string `json:"file_name"`
	SourceURL string `json:"source_url"`
	LocalPath string `json:"-"`
}

func (f InputFile) Staged() bool { return f.LocalPath != "" }

// InsightRecord is the normalized extraction result for one asset category.
type InsightRecord struct {
	Obsolete        []string       `json:"obsolete"`
	Recommendations []string       `json:"recommendations"`
	TierCounts      map[string]int `json:"tier_counts"`
}

// EmptyInsights returns the all-empty record used when no file matched a category.
func EmptyInsights() InsightRecord {
	return InsightRecord{
		Obsolete:        []string{},
		Recommendations: []string{},
		TierCounts:      map[string]int{},
	}
}

// Total is the number of rows classified into a tier.
func (r InsightRecord) Total() int {
	n := 0
	for _, c := range r.TierCounts {
		n += c
	}
	return n
}

// Distribution is an extra value histogram found in a spreadsheet (Status column,
// numeric Obsolescence/Gap columns). Labels keep first-seen order.
type Distribution struct {
	Column string
	Labels []string
	Values []float64
}

// ChartArtifact is a rendered or collected file and, once published, its link.
type ChartArtifact struct {
	Key       string `json:"key"`
	LocalPath string `json:"-"`
	RemoteURL string `json:"remote_url,omitempty"`
}

// ManifestEntry lists one ingested file in the report payload.
type ManifestEntry struct {
	FileName string `json:"file_name"`
}

// ReportPayload is the body sent to the report engine.
type ReportPayload struct {
	SessionID     string            `json:"session_id"`
	Email         string            `json:"email"`
	StorageTarget string            `json:"folder_id,omitempty"`
	Content       map[string]string `json:"content"`
	Charts        map[string]string `json:"charts"`
	InputManifest []ManifestEntry   `json:"input_files"`
}

// Validate checks that every chart key carries a published URL.
func (p ReportPayload) Validate() error {
	for k, u := range p.Charts {
		if strings.TrimSpace(u) == "" {
			return fmt.Errorf("chart %q has no remote url", k)
		}
	}
	return nil
}

// Stage of the pipeline state machine
type Stage string

const (
	StageStaging           Stage = "STAGING"
	StageExtracting        Stage = "EXTRACTING"
	StageSynthesizing      Stage = "SYNTHESIZING"
	StageCharting          Stage = "CHARTING"
	StagePublishingCharts  Stage = "PUBLISHING_CHARTS"
	StageDispatching       Stage = "DISPATCHING"
	StageCollectingResults Stage = "COLLECTING_RESULTS"
	StageDone              Stage = "DONE"
	StageFailed            Stage = "FAILED"
)

// Stages lists the forward path of a run.
var Stages = []Stage{
	StageStaging,
	StageExtracting,
	StageSynthesizing,
	StageCharting,
	StagePublishingCharts,
	StageDispatching,
	StageCollectingResults,
	StageDone,
}
