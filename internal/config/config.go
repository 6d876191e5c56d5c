package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// ProviderConfig describes one text-generation backend.
type ProviderConfig struct {
	BaseURL   string            `yaml:"base_url,omitempty"`
	Path      string            `yaml:"path,omitempty"`
	APIKeyEnv string            `yaml:"api_key_env,omitempty"`
	Model     string            `yaml:"model,omitempty"`
	Headers   map[string]string `yaml:"headers,omitempty"`
	MaxTokens int               `yaml:"max_tokens,omitempty"`
}

// File is the run configuration. Unknown keys are rejected so a typo fails
// loudly instead of silently falling back to a default.
type File struct {
	Version int `yaml:"version"`

	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server,omitempty"`

	LLM struct {
		Provider  string                    `yaml:"provider"`
		Providers map[string]ProviderConfig `yaml:"providers"`
	} `yaml:"llm,omitempty"`

	Image struct {
		Enabled   *bool  `yaml:"enabled,omitempty"`
		BaseURL   string `yaml:"base_url,omitempty"`
		Model     string `yaml:"model,omitempty"`
		APIKeyEnv string `yaml:"api_key_env,omitempty"`
		Width     int    `yaml:"width,omitempty"`
		Height    int    `yaml:"height,omitempty"`

		// Seed is a pointer so an explicit 0 pins the generator rather than
		// reading as unset.
		Seed *int64 `yaml:"seed,omitempty"`
	} `yaml:"image,omitempty"`

	Store struct {
		Path              string `yaml:"path,omitempty"`
		HistoryPerSession int    `yaml:"history_per_session,omitempty"`
	} `yaml:"store,omitempty"`

	Artifacts struct {
		Dir          string   `yaml:"dir,omitempty"`
		CleanupGlobs []string `yaml:"cleanup_globs,omitempty"`
		MaxAgeHours  int      `yaml:"max_age_hours,omitempty"`
	} `yaml:"artifacts,omitempty"`

	Sessions struct {
		IdleTimeoutMS int `yaml:"idle_timeout_ms,omitempty"`
		StepTimeoutMS int `yaml:"step_timeout_ms,omitempty"`
	} `yaml:"sessions,omitempty"`

	Adjudication struct {
		MaxRetries  *int `yaml:"max_retries,omitempty"`
		BaseDelayMS int  `yaml:"base_delay_ms,omitempty"`
		MaxDelayMS  int  `yaml:"max_delay_ms,omitempty"`
	} `yaml:"adjudication,omitempty"`
}

// envOverrides are applied after the file decode so the environment wins.
type envOverrides struct {
	Addr         string `env:"FABLE_ADDR"`
	Provider     string `env:"FABLE_PROVIDER"`
	Model        string `env:"FABLE_MODEL"`
	StorePath    string `env:"FABLE_STORE_PATH"`
	ArtifactsDir string `env:"FABLE_ARTIFACTS_DIR"`
	ImageEnabled *bool  `env:"FABLE_IMAGE_ENABLED"`
}

// Load reads, decodes, defaults, overrides, and validates a config file.
func Load(path string) (*File, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(b)
}

// Parse decodes config bytes the same way Load does, minus the file read.
func Parse(b []byte) (*File, error) {
	var cfg File
	if err := decodeYAMLStrict(b, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func decodeYAMLStrict(b []byte, cfg *File) error {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return err
	}
	var trailing any
	if err := dec.Decode(&trailing); err != io.EOF {
		if err == nil {
			return fmt.Errorf("yaml: multiple documents are not allowed")
		}
		return err
	}
	return nil
}

func applyDefaults(cfg *File) {
	if cfg == nil {
		return
	}
	if cfg.Version == 0 {
		cfg.Version = 1
	}
	if strings.TrimSpace(cfg.Server.Addr) == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.LLM.Providers == nil {
		cfg.LLM.Providers = map[string]ProviderConfig{}
	}
	if strings.TrimSpace(cfg.LLM.Provider) == "" {
		cfg.LLM.Provider = "openrouter"
	}
	cfg.LLM.Provider = strings.ToLower(strings.TrimSpace(cfg.LLM.Provider))
	if _, ok := cfg.LLM.Providers[cfg.LLM.Provider]; !ok && cfg.LLM.Provider == "openrouter" {
		cfg.LLM.Providers["openrouter"] = ProviderConfig{}
	}
	for name, pc := range cfg.LLM.Providers {
		if strings.TrimSpace(pc.BaseURL) == "" {
			pc.BaseURL = "https://openrouter.ai/api"
		}
		if strings.TrimSpace(pc.Path) == "" {
			pc.Path = "/v1/chat/completions"
		}
		if strings.TrimSpace(pc.APIKeyEnv) == "" {
			pc.APIKeyEnv = "OPENROUTER_API_KEY"
		}
		if strings.TrimSpace(pc.Model) == "" {
			pc.Model = "allenai/olmo-3.1-32b-think:free"
		}
		cfg.LLM.Providers[name] = pc
	}

	if cfg.Image.Enabled == nil {
		t := true
		cfg.Image.Enabled = &t
	}
	if strings.TrimSpace(cfg.Image.BaseURL) == "" {
		cfg.Image.BaseURL = "https://gen.pollinations.ai/image/"
	}
	if strings.TrimSpace(cfg.Image.Model) == "" {
		cfg.Image.Model = "zimage"
	}
	if strings.TrimSpace(cfg.Image.APIKeyEnv) == "" {
		cfg.Image.APIKeyEnv = "POLLINATIONS_API_KEY"
	}
	if cfg.Image.Width == 0 {
		cfg.Image.Width = 1024
	}
	if cfg.Image.Height == 0 {
		cfg.Image.Height = 1024
	}
	if cfg.Image.Seed == nil {
		s := int64(-1)
		cfg.Image.Seed = &s
	}

	if strings.TrimSpace(cfg.Store.Path) == "" {
		cfg.Store.Path = "fablefriend.db"
	}
	if cfg.Store.HistoryPerSession == 0 {
		cfg.Store.HistoryPerSession = 50
	}

	if strings.TrimSpace(cfg.Artifacts.Dir) == "" {
		cfg.Artifacts.Dir = "artifacts"
	}
	cfg.Artifacts.CleanupGlobs = trimNonEmpty(cfg.Artifacts.CleanupGlobs)
	if cfg.Artifacts.MaxAgeHours == 0 {
		cfg.Artifacts.MaxAgeHours = 720 // 30 days
	}

	if cfg.Sessions.IdleTimeoutMS == 0 {
		cfg.Sessions.IdleTimeoutMS = 1800000 // 30 minutes
	}
	if cfg.Sessions.StepTimeoutMS == 0 {
		cfg.Sessions.StepTimeoutMS = 300000 // 5 minutes
	}

	if cfg.Adjudication.MaxRetries == nil {
		v := 3
		cfg.Adjudication.MaxRetries = &v
	}
	if cfg.Adjudication.BaseDelayMS == 0 {
		cfg.Adjudication.BaseDelayMS = 500
	}
	if cfg.Adjudication.MaxDelayMS == 0 {
		cfg.Adjudication.MaxDelayMS = 10000
	}
}

func applyEnv(cfg *File) error {
	var ov envOverrides
	if err := env.Parse(&ov); err != nil {
		return fmt.Errorf("parse env overrides: %w", err)
	}
	if ov.Addr != "" {
		cfg.Server.Addr = ov.Addr
	}
	if ov.Provider != "" {
		cfg.LLM.Provider = strings.ToLower(strings.TrimSpace(ov.Provider))
	}
	if ov.Model != "" {
		if pc, ok := cfg.LLM.Providers[cfg.LLM.Provider]; ok {
			pc.Model = ov.Model
			cfg.LLM.Providers[cfg.LLM.Provider] = pc
		}
	}
	if ov.StorePath != "" {
		cfg.Store.Path = ov.StorePath
	}
	if ov.ArtifactsDir != "" {
		cfg.Artifacts.Dir = ov.ArtifactsDir
	}
	if ov.ImageEnabled != nil {
		cfg.Image.Enabled = ov.ImageEnabled
	}
	return nil
}

func validate(cfg *File) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if cfg.Version != 1 {
		return fmt.Errorf("unsupported config version: %d", cfg.Version)
	}
	if strings.TrimSpace(cfg.Server.Addr) == "" {
		return fmt.Errorf("server.addr is required")
	}
	if _, ok := cfg.LLM.Providers[cfg.LLM.Provider]; !ok {
		return fmt.Errorf("llm.provider %q has no entry under llm.providers", cfg.LLM.Provider)
	}
	for name, pc := range cfg.LLM.Providers {
		if strings.TrimSpace(pc.BaseURL) == "" {
			return fmt.Errorf("llm.providers.%s.base_url is required", name)
		}
		if strings.TrimSpace(pc.Model) == "" {
			return fmt.Errorf("llm.providers.%s.model is required", name)
		}
		if pc.MaxTokens < 0 {
			return fmt.Errorf("llm.providers.%s.max_tokens must be >= 0", name)
		}
	}
	if cfg.Image.Width <= 0 || cfg.Image.Height <= 0 {
		return fmt.Errorf("image.width and image.height must be > 0")
	}
	if cfg.Store.HistoryPerSession < 1 {
		return fmt.Errorf("store.history_per_session must be >= 1")
	}
	if cfg.Artifacts.MaxAgeHours < 0 {
		return fmt.Errorf("artifacts.max_age_hours must be >= 0")
	}
	if cfg.Sessions.IdleTimeoutMS < 0 || cfg.Sessions.StepTimeoutMS < 0 {
		return fmt.Errorf("sessions timeouts must be >= 0")
	}
	if *cfg.Adjudication.MaxRetries < 0 {
		return fmt.Errorf("adjudication.max_retries must be >= 0")
	}
	if cfg.Adjudication.BaseDelayMS < 0 || cfg.Adjudication.MaxDelayMS < 0 {
		return fmt.Errorf("adjudication delays must be >= 0")
	}
	if cfg.Adjudication.MaxDelayMS > 0 && cfg.Adjudication.MaxDelayMS < cfg.Adjudication.BaseDelayMS {
		return fmt.Errorf("adjudication.max_delay_ms must be >= base_delay_ms")
	}
	return nil
}

func trimNonEmpty(parts []string) []string {
	if len(parts) == 0 {
		return nil
	}
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
