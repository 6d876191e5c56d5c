// Package imagegen fetches scene illustrations from the pollinations.ai image
// API. The prompt travels in the URL path; tuning knobs travel in the query.
package imagegen

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// APIKey accepts either key form: a pk_ publishable key rides in the
	// query string, an sk_ secret key rides in an Authorization header.
	APIKey  string
	BaseURL string
	Model   string
	Width   int
	Height  int
	Enhance bool
	Safe    bool

	// Seed pins generation when non-negative; -1 lets the service pick.
	Seed int
}

func DefaultConfig() Config {
	return Config{
		BaseURL: "https://gen.pollinations.ai/image/",
		Model:   "zimage",
		Width:   1024,
		Height:  1024,
		Enhance: true,
		Safe:    true,
		Seed:    -1,
	}
}

type Client struct {
	cfg  Config
	http *http.Client
}

const requestTimeout = 60 * time.Second

func NewClient(cfg Config) *Client {
	def := DefaultConfig()
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = def.BaseURL
	}
	if !strings.HasSuffix(cfg.BaseURL, "/") {
		cfg.BaseURL += "/"
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = def.Model
	}
	if cfg.Width <= 0 {
		cfg.Width = def.Width
	}
	if cfg.Height <= 0 {
		cfg.Height = def.Height
	}
	return &Client{cfg: cfg, http: &http.Client{Timeout: requestTimeout}}
}

// GenerateImage fetches one image for prompt. Callers treat any error as "no
// image this turn"; nothing here is fatal to a story step.
func (c *Client) GenerateImage(ctx context.Context, prompt string) ([]byte, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, fmt.Errorf("imagegen: empty prompt")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.buildURL(prompt), nil)
	if err != nil {
		return nil, fmt.Errorf("imagegen: %w", err)
	}
	req.Header.Set("Accept", "image/*")
	req.Header.Set("User-Agent", "fablefriend/1.0")
	if strings.HasPrefix(c.cfg.APIKey, "sk_") {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("imagegen: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("imagegen: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, fmt.Errorf("imagegen: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("imagegen: empty response body")
	}
	return data, nil
}

func (c *Client) buildURL(prompt string) string {
	q := url.Values{}
	q.Set("model", c.cfg.Model)
	q.Set("width", strconv.Itoa(c.cfg.Width))
	q.Set("height", strconv.Itoa(c.cfg.Height))
	q.Set("enhance", strconv.FormatBool(c.cfg.Enhance))
	q.Set("safe", strconv.FormatBool(c.cfg.Safe))
	if c.cfg.Seed >= 0 {
		q.Set("seed", strconv.Itoa(c.cfg.Seed))
	}
	if strings.HasPrefix(c.cfg.APIKey, "pk_") {
		q.Set("key", c.cfg.APIKey)
	}
	return c.cfg.BaseURL + url.PathEscape(prompt) + "?" + q.Encode()
}
