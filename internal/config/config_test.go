package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte("version: 1\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Server.Addr != ":8080" {
		t.Errorf("addr: got %q", cfg.Server.Addr)
	}
	if cfg.LLM.Provider != "openrouter" {
		t.Errorf("provider: got %q", cfg.LLM.Provider)
	}
	pc, ok := cfg.LLM.Providers["openrouter"]
	if !ok {
		t.Fatalf("no default provider entry: %+v", cfg.LLM.Providers)
	}
	if pc.BaseURL != "https://openrouter.ai/api" || pc.Path != "/v1/chat/completions" {
		t.Errorf("provider defaults: %+v", pc)
	}
	if pc.Model == "" || pc.APIKeyEnv != "OPENROUTER_API_KEY" {
		t.Errorf("provider defaults: %+v", pc)
	}
	if cfg.Image.Enabled == nil || !*cfg.Image.Enabled {
		t.Error("image should default to enabled")
	}
	if cfg.Image.Width != 1024 || cfg.Image.Height != 1024 {
		t.Errorf("image defaults: %+v", cfg.Image)
	}
	if cfg.Image.Seed == nil || *cfg.Image.Seed != -1 {
		t.Errorf("seed default: %+v", cfg.Image.Seed)
	}
	if cfg.Store.Path != "fablefriend.db" || cfg.Store.HistoryPerSession != 50 {
		t.Errorf("store defaults: %+v", cfg.Store)
	}
	if cfg.Sessions.StepTimeoutMS != 300000 {
		t.Errorf("step timeout: %d", cfg.Sessions.StepTimeoutMS)
	}
	if *cfg.Adjudication.MaxRetries != 3 {
		t.Errorf("max retries: %d", *cfg.Adjudication.MaxRetries)
	}
}

func TestParse_UnknownKeyRejected(t *testing.T) {
	_, err := Parse([]byte("version: 1\nservre:\n  addr: \":9\"\n"))
	if err == nil {
		t.Fatal("expected error for unknown key")
	}
}

func TestParse_MultipleDocumentsRejected(t *testing.T) {
	_, err := Parse([]byte("version: 1\n---\nversion: 2\n"))
	if err == nil || !strings.Contains(err.Error(), "multiple documents") {
		t.Fatalf("got %v", err)
	}
}

func TestParse_ExplicitValuesKept(t *testing.T) {
	src := `
version: 1
server:
  addr: ":9999"
llm:
  provider: openrouter
  providers:
    openrouter:
      model: some/other-model
      max_tokens: 2048
image:
  seed: 0
store:
  path: /tmp/test.db
  history_per_session: 5
artifacts:
  cleanup_globs: ["tmp/**", " ", "stale/*.png"]
`
	cfg, err := Parse([]byte(src))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Server.Addr != ":9999" {
		t.Errorf("addr: %q", cfg.Server.Addr)
	}
	pc := cfg.LLM.Providers["openrouter"]
	if pc.Model != "some/other-model" || pc.MaxTokens != 2048 {
		t.Errorf("provider: %+v", pc)
	}
	if pc.BaseURL == "" {
		t.Error("base_url default not applied to explicit provider entry")
	}
	if cfg.Store.HistoryPerSession != 5 {
		t.Errorf("history: %d", cfg.Store.HistoryPerSession)
	}
	if len(cfg.Artifacts.CleanupGlobs) != 2 {
		t.Errorf("globs not trimmed: %v", cfg.Artifacts.CleanupGlobs)
	}
	if cfg.Image.Seed == nil || *cfg.Image.Seed != 0 {
		t.Errorf("pinned zero seed: %+v", cfg.Image.Seed)
	}
}

func TestParse_EnvOverrides(t *testing.T) {
	t.Setenv("FABLE_ADDR", ":7070")
	t.Setenv("FABLE_MODEL", "override/model")
	t.Setenv("FABLE_STORE_PATH", "/tmp/override.db")
	t.Setenv("FABLE_IMAGE_ENABLED", "false")

	cfg, err := Parse([]byte("version: 1\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Server.Addr != ":7070" {
		t.Errorf("addr: %q", cfg.Server.Addr)
	}
	if cfg.LLM.Providers["openrouter"].Model != "override/model" {
		t.Errorf("model: %q", cfg.LLM.Providers["openrouter"].Model)
	}
	if cfg.Store.Path != "/tmp/override.db" {
		t.Errorf("store path: %q", cfg.Store.Path)
	}
	if *cfg.Image.Enabled {
		t.Error("image enabled override ignored")
	}
}

func TestParse_Validation(t *testing.T) {
	cases := []struct {
		name string
		src  string
		want string
	}{
		{"bad version", "version: 2\n", "unsupported config version"},
		{"unknown provider", "version: 1\nllm:\n  provider: nonesuch\n", "no entry"},
		{"negative history", "version: 1\nstore:\n  history_per_session: -1\n", "history_per_session"},
		{"negative width", "version: 1\nimage:\n  width: -5\n", "image.width"},
		{
			"delay inversion",
			"version: 1\nadjudication:\n  base_delay_ms: 500\n  max_delay_ms: 100\n",
			"max_delay_ms",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.src))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("got %v want substring %q", err, tc.want)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.yaml")
	if err := os.WriteFile(path, []byte("version: 1\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Version != 1 {
		t.Fatalf("version: %d", cfg.Version)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
