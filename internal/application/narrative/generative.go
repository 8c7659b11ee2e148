package narrative

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	domai "github.com/bryanwahyu/gap-analyzer/internal/domain/ai"
	"github.com/bryanwahyu/gap-analyzer/internal/domain/gap"
	"github.com/bryanwahyu/gap-analyzer/internal/infra/ai/prompt"
)

// Generative asks a text provider for each section. On a rate-limit error from
// Model it retries once with FallbackModel and FallbackTokens.
type Generative struct {
	Client          domai.TextGenerator
	Model           string
	FallbackModel   string
	MaxTokens       int
	FallbackTokens  int
	MaxSummaryChars int
}

type overviewData struct {
	HardwareAssets int            `json:"hardware_assets"`
	SoftwareAssets int            `json:"software_assets"`
	HardwareTiers  map[string]int `json:"hardware_tiers"`
	SoftwareTiers  map[string]int `json:"software_tiers"`
	ObsoleteCount  int            `json:"obsolete_count"`
}

type categoryData struct {
	Category        string         `json:"category"`
	Obsolete        []string       `json:"obsolete"`
	Recommendations []string       `json:"recommendations"`
	TierCounts      map[string]int `json:"tier_counts"`
	Total           int            `json:"total_assets"`
}

func (g *Generative) Synthesize(ctx context.Context, hw, sw gap.InsightRecord) (map[string]string, error) {
	inputs := []struct {
		section string
		data    any
	}{
		{prompt.SectionOverview, overviewData{
			HardwareAssets: hw.Total(),
			SoftwareAssets: sw.Total(),
			HardwareTiers:  hw.TierCounts,
			SoftwareTiers:  sw.TierCounts,
			ObsoleteCount:  len(hw.Obsolete) + len(sw.Obsolete),
		}},
		{prompt.SectionHardware, categoryOf("hardware", hw)},
		{prompt.SectionSoftware, categoryOf("software", sw)},
	}

	out := make(map[string]string, len(inputs))
	for _, in := range inputs {
		summary, err := g.summarize(in.data)
		if err != nil {
			return nil, err
		}
		text, err := g.generate(ctx, in.section, summary)
		if err != nil {
			return nil, fmt.Errorf("section %s: %w", in.section, err)
		}
		out[in.section] = text
	}
	return out, nil
}

func categoryOf(name string, rec gap.InsightRecord) categoryData {
	return categoryData{
		Category:        name,
		Obsolete:        rec.Obsolete,
		Recommendations: rec.Recommendations,
		TierCounts:      rec.TierCounts,
		Total:           rec.Total(),
	}
}

func (g *Generative) summarize(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal insight summary: %w", err)
	}
	return prompt.Truncate(string(b), g.MaxSummaryChars), nil
}

func (g *Generative) generate(ctx context.Context, section, summary string) (string, error) {
	req := domai.GenerateRequest{
		Model:     g.Model,
		System:    prompt.GetSystemPrompt(section),
		Prompt:    prompt.GetUserPrompt(section, summary),
		MaxTokens: g.MaxTokens,
	}
	text, err := g.Client.Generate(ctx, req)
	if errors.Is(err, domai.ErrRateLimited) && g.FallbackModel != "" {
		log.Warn().Str("section", section).Str("model", g.Model).Str("fallback", g.FallbackModel).
			Msg("primary model rate limited, retrying with fallback")
		req.Model = g.FallbackModel
		req.MaxTokens = g.FallbackTokens
		text, err = g.Client.Generate(ctx, req)
	}
	if err != nil {
		return "", err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("provider returned empty text")
	}
	return text, nil
}
