package vertex

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"cloud.google.com/go/vertexai/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domai "github.com/bryanwahyu/gap-analyzer/internal/domain/ai"
)

const defaultModel = "gemini-1.5-pro"

// Client generates section text with Gemini models on Vertex AI.
type Client struct {
	base  *genai.Client
	Model string
}

func NewClient(ctx context.Context, projectID, region, model string) (*Client, error) {
	if projectID == "" || region == "" {
		return nil, fmt.Errorf("vertex: projectID and region cannot be empty")
	}
	base, err := genai.NewClient(ctx, projectID, region)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}
	if model == "" {
		model = defaultModel
	}
	return &Client{base: base, Model: model}, nil
}

func (c *Client) Generate(ctx context.Context, in domai.GenerateRequest) (string, error) {
	name := in.Model
	if name == "" {
		name = c.Model
	}
	model := c.base.GenerativeModel(name)
	model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(in.System)}}
	if in.MaxTokens > 0 {
		model.SetMaxOutputTokens(int32(in.MaxTokens))
	}
	model.SetTemperature(0.3)

	resp, err := model.GenerateContent(ctx, genai.Text(in.Prompt))
	if err != nil {
		if isRateLimited(err) {
			return "", fmt.Errorf("%w: %v", domai.ErrRateLimited, err)
		}
		return "", fmt.Errorf("failed to generate content from gemini: %w", err)
	}
	return extractText(resp), nil
}

func (c *Client) Close() error {
	if c.base != nil {
		return c.base.Close()
	}
	return nil
}

func extractText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			sb.WriteString(string(txt))
		}
	}
	return strings.TrimSpace(sb.String())
}

func isRateLimited(err error) bool {
	if status.Code(err) == codes.ResourceExhausted {
		return true
	}
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusTooManyRequests
}
