package ai

import "context"

// GenerateRequest is one text generation call.
type GenerateRequest struct {
	Model     string
	System    string
	Prompt    string
	MaxTokens int
}

// TextGenerator is implemented by every generative-text provider.
type TextGenerator interface {
	Generate(ctx context.Context, req GenerateRequest) (string, error)
}
