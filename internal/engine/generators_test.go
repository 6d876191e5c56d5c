package engine

import (
	"context"
	"testing"
	"time"

	"github.com/dshaw/fablefriend/internal/llm"
)

type flakyAdapter struct {
	failures int
	calls    int
}

func (a *flakyAdapter) Name() string { return "openrouter" }
func (a *flakyAdapter) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	a.calls++
	if a.calls <= a.failures {
		return llm.Response{}, llm.ErrorFromHTTPStatus(a.Name(), 503, "overloaded", nil)
	}
	return llm.Response{Provider: a.Name(), Model: req.Model, Text: "generated"}, nil
}

func TestTextClient_RetriesThenSucceeds(t *testing.T) {
	adapter := &flakyAdapter{failures: 2}
	client := llm.NewClient()
	client.Register(adapter)

	tc := &TextClient{
		Client: client,
		Model:  "m",
		Retry:  llm.RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond},
		Sleep:  func(ctx context.Context, d time.Duration) error { return nil },
	}
	out, err := tc.GenerateText(context.Background(), "prompt")
	if err != nil {
		t.Fatalf("GenerateText: %v", err)
	}
	if out != "generated" || adapter.calls != 3 {
		t.Fatalf("out=%q calls=%d", out, adapter.calls)
	}
}

func TestTextClient_ExhaustionSurfacesError(t *testing.T) {
	adapter := &flakyAdapter{failures: 10}
	client := llm.NewClient()
	client.Register(adapter)

	tc := &TextClient{
		Client: client,
		Model:  "m",
		Retry:  llm.RetryPolicy{MaxAttempts: 2, BaseDelay: time.Millisecond},
		Sleep:  func(ctx context.Context, d time.Duration) error { return nil },
	}
	if _, err := tc.GenerateText(context.Background(), "prompt"); err == nil {
		t.Fatal("expected error after exhaustion")
	}
	if adapter.calls != 2 {
		t.Fatalf("calls: %d", adapter.calls)
	}
}
