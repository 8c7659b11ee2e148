package gap

import "context"

// ReportEngine port (downstream report rendering service)
type ReportEngine interface {
	Generate(ctx context.Context, payload ReportPayload) ([]string, error)
}

// Synthesizer port (narrative text per section)
type Synthesizer interface {
	Synthesize(ctx context.Context, hw, sw InsightRecord) (map[string]string, error)
}
