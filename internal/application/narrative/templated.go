package narrative

import (
	"context"
	"fmt"
	"strings"

	"github.com/bryanwahyu/gap-analyzer/internal/domain/gap"
	"github.com/bryanwahyu/gap-analyzer/internal/infra/ai/prompt"
)

const none = "None"

// Templated composes deterministic section text.
type Templated struct{}

func (Templated) Synthesize(_ context.Context, hw, sw gap.InsightRecord) (map[string]string, error) {
	return map[string]string{
		prompt.SectionOverview: fmt.Sprintf("This analysis covers %d hardware assets and %d software assets.", hw.Total(), sw.Total()),
		prompt.SectionHardware: summary("Hardware", hw),
		prompt.SectionSoftware: summary("Software", sw),
	}, nil
}

func summary(label string, rec gap.InsightRecord) string {
	return fmt.Sprintf("%s obsolete platforms: %s. Recommendations: %s.",
		label, joinOrNone(rec.Obsolete, ", "), joinOrNone(rec.Recommendations, "; "))
}

func joinOrNone(items []string, sep string) string {
	if len(items) == 0 {
		return none
	}
	return strings.Join(items, sep)
}
