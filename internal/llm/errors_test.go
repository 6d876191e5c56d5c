package llm

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestParseRetryAfter_Seconds(t *testing.T) {
	now := time.Date(2026, 2, 7, 0, 0, 0, 0, time.UTC)
	d := ParseRetryAfter("12", now)
	if d == nil || *d != 12*time.Second {
		t.Fatalf("got %v want 12s", d)
	}
}

func TestParseRetryAfter_HTTPDate(t *testing.T) {
	now := time.Date(2026, 2, 7, 0, 0, 0, 0, time.UTC)
	d := ParseRetryAfter("Sat, 07 Feb 2026 00:00:10 GMT", now)
	if d == nil || *d != 10*time.Second {
		t.Fatalf("got %v want 10s", d)
	}
}

func TestParseRetryAfter_PastDateClampsToZero(t *testing.T) {
	now := time.Date(2026, 2, 7, 0, 0, 30, 0, time.UTC)
	d := ParseRetryAfter("Sat, 07 Feb 2026 00:00:10 GMT", now)
	if d == nil || *d != 0 {
		t.Fatalf("got %v want 0s", d)
	}
}

func TestParseRetryAfter_Invalid(t *testing.T) {
	now := time.Now()
	if d := ParseRetryAfter("", now); d != nil {
		t.Fatalf("empty: got %v", d)
	}
	if d := ParseRetryAfter("soonish", now); d != nil {
		t.Fatalf("garbage: got %v", d)
	}
}

func TestErrorFromHTTPStatus_MappingAndRetryable(t *testing.T) {
	classify := func(err error) string {
		switch err.(type) {
		case *InvalidRequestError:
			return "invalid_request"
		case *AuthenticationError:
			return "authentication"
		case *AccessDeniedError:
			return "access_denied"
		case *NotFoundError:
			return "not_found"
		case *RequestTimeoutError:
			return "timeout"
		case *ContextLengthError:
			return "context_length"
		case *ContentFilterError:
			return "content_filter"
		case *QuotaExceededError:
			return "quota"
		case *RateLimitError:
			return "rate_limit"
		case *ServerError:
			return "server"
		case *UnknownHTTPError:
			return "unknown"
		default:
			return "unclassified"
		}
	}

	cases := []struct {
		status    int
		message   string
		want      string
		retryable bool
	}{
		{400, "bad request", "invalid_request", false},
		{400, "content filter triggered", "content_filter", false},
		{400, "quota exhausted", "quota", false},
		{422, "context length exceeded", "context_length", false},
		{401, "bad key", "authentication", false},
		{403, "forbidden", "access_denied", false},
		{404, "no such model", "not_found", false},
		{408, "timed out", "timeout", true},
		{413, "too large", "context_length", false},
		{429, "slow down", "rate_limit", true},
		{500, "boom", "server", true},
		{503, "overloaded", "server", true},
		{599, "who knows", "unknown", true},
	}
	for _, tc := range cases {
		err := ErrorFromHTTPStatus("openrouter", tc.status, tc.message, nil)
		if got := classify(err); got != tc.want {
			t.Fatalf("status %d %q: got %s want %s", tc.status, tc.message, got, tc.want)
		}
		var le Error
		if !errors.As(err, &le) {
			t.Fatalf("status %d: not an llm.Error: %v", tc.status, err)
		}
		if le.Retryable() != tc.retryable {
			t.Fatalf("status %d: retryable = %v want %v", tc.status, le.Retryable(), tc.retryable)
		}
		if le.StatusCode() != tc.status {
			t.Fatalf("status %d: StatusCode() = %d", tc.status, le.StatusCode())
		}
	}
}

func TestWrapContextError(t *testing.T) {
	err := WrapContextError("openrouter", context.DeadlineExceeded)
	var te *RequestTimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("deadline: got %T", err)
	}
	if te.Retryable() {
		t.Fatal("deadline timeout should not be retryable")
	}

	if err := WrapContextError("openrouter", context.Canceled); !errors.Is(err, context.Canceled) {
		t.Fatalf("canceled: got %v", err)
	}

	err = WrapContextError("openrouter", errors.New("connection refused"))
	var tr *TransportError
	if !errors.As(err, &tr) {
		t.Fatalf("transport: got %T", err)
	}
	if !tr.Retryable() {
		t.Fatal("transport error should be retryable")
	}

	if WrapContextError("openrouter", nil) != nil {
		t.Fatal("nil in, non-nil out")
	}
}
