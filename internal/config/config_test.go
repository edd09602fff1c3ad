package config

import (
	"os"
	"path/filepath"
	"testing"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"OPENAI_API_KEY", "OPENAI_BASE_URL",
		"ANTHROPIC_API_KEY", "ANTHROPIC_BASE_URL",
		"CONTRACTGUARD_MODEL", "CONTRACTGUARD_LISTEN", "DATABASE_URL",
	} {
		t.Setenv(k, "")
	}
}

func TestLoad_MissingFile_UsesDefaults(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "config.toml")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Source != path {
		t.Fatalf("cfg.Source = %q, want %q", cfg.Source, path)
	}
	if cfg.Provider != ProviderOpenAI || cfg.Model != "gpt-4o-mini" || cfg.MaxSteps != 5 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.HasAPIKey() {
		t.Fatalf("HasAPIKey() = true without key")
	}
}

func TestLoad_FromTOML(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(`
provider = "Anthropic"
model = "claude-sonnet-4-5"
api_key = "file-key"
listen = "127.0.0.1:9000"
max_steps = 3
`), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Provider != ProviderAnthropic {
		t.Fatalf("Provider = %q", cfg.Provider)
	}
	if cfg.Model != "claude-sonnet-4-5" || cfg.APIKey != "file-key" || cfg.Listen != "127.0.0.1:9000" || cfg.MaxSteps != 3 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.StoreDir != "data/conversations" {
		t.Fatalf("StoreDir default lost: %q", cfg.StoreDir)
	}
}

func TestLoad_EnvOverridesFollowProvider(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPENAI_API_KEY", "openai-env")
	t.Setenv("ANTHROPIC_API_KEY", "anthropic-env")
	t.Setenv("DATABASE_URL", "postgres://localhost/cg")

	path := filepath.Join(t.TempDir(), "config.toml")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.APIKey != "openai-env" {
		t.Fatalf("APIKey = %q, want openai-env", cfg.APIKey)
	}
	if cfg.DatabaseURL != "postgres://localhost/cg" {
		t.Fatalf("DatabaseURL = %q", cfg.DatabaseURL)
	}

	if err := os.WriteFile(path, []byte(`provider = "anthropic"`), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	cfg, err = Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.APIKey != "anthropic-env" {
		t.Fatalf("APIKey = %q, want anthropic-env", cfg.APIKey)
	}
}

func TestApplyKVOverrides(t *testing.T) {
	cfg := ApplyKVOverrides(Default(), []string{
		"model=override-model",
		"max_steps=9",
		"max_steps=-1",
		"request_timeout_secs=abc",
		"garbage",
		"provider=ANTHROPIC",
	})
	if cfg.Model != "override-model" {
		t.Fatalf("Model = %q", cfg.Model)
	}
	if cfg.MaxSteps != 9 {
		t.Fatalf("MaxSteps = %d, want 9", cfg.MaxSteps)
	}
	if cfg.RequestTimeoutSecs != 120 {
		t.Fatalf("RequestTimeoutSecs = %d, want default", cfg.RequestTimeoutSecs)
	}
	if cfg.Provider != ProviderAnthropic {
		t.Fatalf("Provider = %q", cfg.Provider)
	}
}

func TestSave_RoundTrip(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	in := Default()
	in.Model = "gpt-4.1"
	if err := Save(path, in); err != nil {
		t.Fatalf("Save: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("perm = %v, want 0600", info.Mode().Perm())
	}
	out, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if out.Model != "gpt-4.1" {
		t.Fatalf("Model = %q", out.Model)
	}
}
