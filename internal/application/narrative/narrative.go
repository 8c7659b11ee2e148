package narrative

import (
	"fmt"

	domai "github.com/bryanwahyu/gap-analyzer/internal/domain/ai"
	"github.com/bryanwahyu/gap-analyzer/internal/domain/gap"
)

// Provider is a configured text generator with its model pair.
type Provider struct {
	Client        domai.TextGenerator
	Model         string
	FallbackModel string
}

// Options selects and tunes a Synthesizer. Model, when set, overrides the provider's model.
type Options struct {
	Provider        string
	Model           string
	MaxTokens       int
	FallbackTokens  int
	MaxSummaryChars int
}

// Factory builds the synthesizer for a run.
type Factory struct {
	Defaults  Options
	Providers map[string]Provider
}

// For returns the synthesizer for a job, honoring its per-job override.
func (f *Factory) For(override *gap.NarrativeConfig) (gap.Synthesizer, error) {
	opts := f.Defaults
	if override != nil {
		if override.Provider != "" && override.Provider != opts.Provider {
			opts.Provider = override.Provider
			opts.Model = ""
		}
		if override.Model != "" {
			opts.Model = override.Model
		}
	}
	return New(opts, f.Providers)
}

// New returns the templated or generative synthesizer named by opts.Provider.
func New(opts Options, providers map[string]Provider) (gap.Synthesizer, error) {
	switch opts.Provider {
	case "", "template":
		return Templated{}, nil
	}
	p, ok := providers[opts.Provider]
	if !ok || p.Client == nil {
		return nil, fmt.Errorf("narrative provider %q is not configured", opts.Provider)
	}
	model := p.Model
	if opts.Model != "" {
		model = opts.Model
	}
	return &Generative{
		Client:          p.Client,
		Model:           model,
		FallbackModel:   p.FallbackModel,
		MaxTokens:       opts.MaxTokens,
		FallbackTokens:  opts.FallbackTokens,
		MaxSummaryChars: opts.MaxSummaryChars,
	}, nil
}
