package narrative

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domai "github.com/bryanwahyu/gap-analyzer/internal/domain/ai"
	"github.com/bryanwahyu/gap-analyzer/internal/domain/gap"
	"github.com/bryanwahyu/gap-analyzer/internal/infra/ai/prompt"
)

type fakeGenerator struct {
	mu    sync.Mutex
	calls []domai.GenerateRequest
	// reply returns the text or error for a call
	reply func(req domai.GenerateRequest) (string, error)
}

func (f *fakeGenerator) Generate(_ context.Context, req domai.GenerateRequest) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()
	return f.reply(req)
}

func sample() (gap.InsightRecord, gap.InsightRecord) {
	hw := gap.InsightRecord{
		Obsolete:        []string{"Router", "Firewall"},
		Recommendations: []string{"Replace routers", "Upgrade firewall"},
		TierCounts:      map[string]int{"1": 2, "2": 1},
	}
	sw := gap.EmptyInsights()
	sw.TierCounts["gold"] = 4
	return hw, sw
}

func TestTemplated(t *testing.T) {
	hw, sw := sample()
	out, err := Templated{}.Synthesize(context.Background(), hw, sw)
	require.NoError(t, err)

	assert.Equal(t, "This analysis covers 3 hardware assets and 4 software assets.", out[prompt.SectionOverview])
	assert.Equal(t, "Hardware obsolete platforms: Router, Firewall. Recommendations: Replace routers; Upgrade firewall.", out[prompt.SectionHardware])
	assert.Equal(t, "Software obsolete platforms: None. Recommendations: None.", out[prompt.SectionSoftware])
}

func TestTemplated_Deterministic(t *testing.T) {
	hw, sw := sample()
	a, _ := Templated{}.Synthesize(context.Background(), hw, sw)
	b, _ := Templated{}.Synthesize(context.Background(), hw, sw)
	assert.Equal(t, a, b)
}

func TestGenerative_AllSections(t *testing.T) {
	gen := &fakeGenerator{reply: func(req domai.GenerateRequest) (string, error) {
		return "  text for " + req.Model + "  ", nil
	}}
	g := &Generative{Client: gen, Model: "primary", FallbackModel: "small", MaxTokens: 1024, FallbackTokens: 512, MaxSummaryChars: 10000}

	hw, sw := sample()
	out, err := g.Synthesize(context.Background(), hw, sw)
	require.NoError(t, err)
	assert.Len(t, out, 3)
	assert.Equal(t, "text for primary", out[prompt.SectionHardware])

	require.Len(t, gen.calls, 3)
	for _, c := range gen.calls {
		assert.Equal(t, 1024, c.MaxTokens)
		assert.Contains(t, c.System, "analyst")
	}
	assert.Contains(t, gen.calls[1].Prompt, `"Router"`)
}

func TestGenerative_FallbackOnRateLimit(t *testing.T) {
	gen := &fakeGenerator{reply: func(req domai.GenerateRequest) (string, error) {
		if req.Model == "primary" {
			return "", domai.ErrRateLimited
		}
		return "fallback text", nil
	}}
	g := &Generative{Client: gen, Model: "primary", FallbackModel: "small", MaxTokens: 1024, FallbackTokens: 512}

	hw, sw := sample()
	out, err := g.Synthesize(context.Background(), hw, sw)
	require.NoError(t, err)
	assert.Equal(t, "fallback text", out[prompt.SectionOverview])

	require.Len(t, gen.calls, 6)
	assert.Equal(t, "small", gen.calls[1].Model)
	assert.Equal(t, 512, gen.calls[1].MaxTokens)
}

func TestGenerative_SecondFailureSurfaces(t *testing.T) {
	gen := &fakeGenerator{reply: func(req domai.GenerateRequest) (string, error) {
		return "", domai.ErrRateLimited
	}}
	g := &Generative{Client: gen, Model: "primary", FallbackModel: "small"}

	_, err := g.Synthesize(context.Background(), gap.EmptyInsights(), gap.EmptyInsights())
	require.Error(t, err)
	assert.ErrorIs(t, err, domai.ErrRateLimited)
	assert.Len(t, gen.calls, 2)
}

func TestGenerative_OtherErrorsAreNotRetried(t *testing.T) {
	boom := errors.New("boom")
	gen := &fakeGenerator{reply: func(domai.GenerateRequest) (string, error) { return "", boom }}
	g := &Generative{Client: gen, Model: "primary", FallbackModel: "small"}

	_, err := g.Synthesize(context.Background(), gap.EmptyInsights(), gap.EmptyInsights())
	assert.ErrorIs(t, err, boom)
	assert.Len(t, gen.calls, 1)
}

func TestGenerative_EmptyTextIsError(t *testing.T) {
	gen := &fakeGenerator{reply: func(domai.GenerateRequest) (string, error) { return "   ", nil }}
	_, err := (&Generative{Client: gen}).Synthesize(context.Background(), gap.EmptyInsights(), gap.EmptyInsights())
	assert.Error(t, err)
}

func TestGenerative_TruncatesSummary(t *testing.T) {
	gen := &fakeGenerator{reply: func(domai.GenerateRequest) (string, error) { return "ok", nil }}
	g := &Generative{Client: gen, Model: "m", MaxSummaryChars: 200}

	hw := gap.EmptyInsights()
	for i := 0; i < 100; i++ {
		hw.Obsolete = append(hw.Obsolete, strings.Repeat("x", 20))
	}
	_, err := g.Synthesize(context.Background(), hw, gap.EmptyInsights())
	require.NoError(t, err)
	assert.Contains(t, gen.calls[1].Prompt, prompt.TruncationMarker)
	assert.NotContains(t, gen.calls[0].Prompt, prompt.TruncationMarker)
}

func TestFactory(t *testing.T) {
	gen := &fakeGenerator{reply: func(domai.GenerateRequest) (string, error) { return "ok", nil }}
	f := &Factory{
		Defaults:  Options{Provider: "template", MaxTokens: 100},
		Providers: map[string]Provider{"openai": {Client: gen, Model: "gpt-4o", FallbackModel: "gpt-4o-mini"}},
	}

	s, err := f.For(nil)
	require.NoError(t, err)
	assert.IsType(t, Templated{}, s)

	s, err = f.For(&gap.NarrativeConfig{Provider: "openai"})
	require.NoError(t, err)
	g, ok := s.(*Generative)
	require.True(t, ok)
	assert.Equal(t, "gpt-4o", g.Model)
	assert.Equal(t, "gpt-4o-mini", g.FallbackModel)
	assert.Equal(t, 100, g.MaxTokens)

	s, err = f.For(&gap.NarrativeConfig{Provider: "openai", Model: "gpt-4.1"})
	require.NoError(t, err)
	assert.Equal(t, "gpt-4.1", s.(*Generative).Model)

	_, err = f.For(&gap.NarrativeConfig{Provider: "vertex"})
	assert.Error(t, err)
}
