// Package openrouter adapts the OpenRouter chat-completions API to the llm
// client. Any OpenAI-compatible endpoint works by overriding BaseURL.
package openrouter

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dshaw/fablefriend/internal/llm"
)

type Config struct {
	Provider string
	APIKey   string
	BaseURL  string
	Path     string

	// AppName and AppURL fill OpenRouter's attribution headers when set.
	AppName string
	AppURL  string

	// Headers are extra request headers, applied after the standard set.
	Headers map[string]string
}

type Adapter struct {
	cfg    Config
	client *http.Client
}

const defaultRequestTimeout = 5 * time.Minute

func NewAdapter(cfg Config) *Adapter {
	cfg.Provider = strings.ToLower(strings.TrimSpace(cfg.Provider))
	if cfg.Provider == "" {
		cfg.Provider = "openrouter"
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://openrouter.ai/api"
	}
	if strings.TrimSpace(cfg.Path) == "" {
		cfg.Path = "/v1/chat/completions"
	}
	return &Adapter{
		cfg:    cfg,
		client: &http.Client{Timeout: 0},
	}
}

func (a *Adapter) Name() string { return a.cfg.Provider }

func (a *Adapter) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	requestCtx := ctx
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		requestCtx, cancel = context.WithTimeout(ctx, defaultRequestTimeout)
		defer cancel()
	}

	body, err := json.Marshal(toBody(req))
	if err != nil {
		return llm.Response{}, llm.WrapContextError(a.cfg.Provider, err)
	}

	httpReq, err := http.NewRequestWithContext(requestCtx, http.MethodPost, a.cfg.BaseURL+a.cfg.Path, bytes.NewReader(body))
	if err != nil {
		return llm.Response{}, llm.WrapContextError(a.cfg.Provider, err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+a.cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")
	if a.cfg.AppURL != "" {
		httpReq.Header.Set("HTTP-Referer", a.cfg.AppURL)
	}
	if a.cfg.AppName != "" {
		httpReq.Header.Set("X-Title", a.cfg.AppName)
	}
	for k, v := range a.cfg.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return llm.Response{}, llm.WrapContextError(a.cfg.Provider, err)
	}
	defer resp.Body.Close()

	return a.parseResponse(req.Model, resp)
}

func toBody(req llm.Request) map[string]any {
	msgs := make([]map[string]any, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, map[string]any{
			"role":    string(m.Role),
			"content": m.Content,
		})
	}
	body := map[string]any{
		"model":    req.Model,
		"messages": msgs,
	}
	if req.Temperature != nil {
		body["temperature"] = *req.Temperature
	}
	if req.MaxTokens > 0 {
		body["max_tokens"] = req.MaxTokens
	}
	return body
}

func (a *Adapter) parseResponse(model string, resp *http.Response) (llm.Response, error) {
	rawBytes, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return llm.Response{}, llm.WrapContextError(a.cfg.Provider, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := errorMessage(rawBytes)
		ra := llm.ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now())
		return llm.Response{}, llm.ErrorFromHTTPStatus(a.cfg.Provider, resp.StatusCode, msg, ra)
	}

	var raw map[string]any
	dec := json.NewDecoder(bytes.NewReader(rawBytes))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return llm.Response{}, llm.WrapContextError(a.cfg.Provider, err)
	}

	out := llm.Response{
		Provider: a.cfg.Provider,
		Model:    firstNonEmpty(asString(raw["model"]), model),
	}
	if choices, ok := raw["choices"].([]any); ok && len(choices) > 0 {
		if choice, ok := choices[0].(map[string]any); ok {
			if message, ok := choice["message"].(map[string]any); ok {
				out.Text = asString(message["content"])
			}
		}
	}
	if usage, ok := raw["usage"].(map[string]any); ok {
		out.Usage = llm.Usage{
			InputTokens:  intFromAny(usage["prompt_tokens"]),
			OutputTokens: intFromAny(usage["completion_tokens"]),
		}
	}
	return out, nil
}

// errorMessage digs the human-readable message out of an error body, falling
// back to the raw body text.
func errorMessage(rawBytes []byte) string {
	var raw map[string]any
	if err := json.Unmarshal(rawBytes, &raw); err == nil {
		if errObj, ok := raw["error"].(map[string]any); ok {
			if msg := asString(errObj["message"]); msg != "" {
				return msg
			}
		}
		if msg := asString(raw["message"]); msg != "" {
			return msg
		}
	}
	body := strings.TrimSpace(string(rawBytes))
	if len(body) > 512 {
		body = body[:512]
	}
	return body
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func intFromAny(v any) int {
	switch t := v.(type) {
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return int(n)
		}
	case float64:
		return int(t)
	case int:
		return t
	}
	return 0
}
