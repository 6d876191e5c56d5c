package engine

import (
	"context"

	"github.com/dshaw/fablefriend/internal/llm"
)

// TextClient adapts an llm.Client to the TextGenerator interface, retrying
// retryable provider errors under the configured policy.
type TextClient struct {
	Client      *llm.Client
	Model       string
	Temperature *float64
	MaxTokens   int
	Retry       llm.RetryPolicy

	// Sleep is injectable for tests; nil uses real sleeps.
	Sleep llm.SleepFunc
}

func (c *TextClient) GenerateText(ctx context.Context, systemPrompt string) (string, error) {
	req := llm.Request{
		Model:       c.Model,
		Messages:    []llm.Message{{Role: llm.RoleSystem, Content: systemPrompt}},
		Temperature: c.Temperature,
		MaxTokens:   c.MaxTokens,
	}
	resp, err := llm.Retry(ctx, c.Retry, c.Sleep, func() (llm.Response, error) {
		return c.Client.Complete(ctx, req)
	})
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

// TextFunc adapts a plain function to TextGenerator.
type TextFunc func(ctx context.Context, systemPrompt string) (string, error)

func (f TextFunc) GenerateText(ctx context.Context, systemPrompt string) (string, error) {
	return f(ctx, systemPrompt)
}

// ImageFunc adapts a plain function to ImageGenerator.
type ImageFunc func(ctx context.Context, prompt string) ([]byte, error)

func (f ImageFunc) GenerateImage(ctx context.Context, prompt string) ([]byte, error) {
	return f(ctx, prompt)
}
