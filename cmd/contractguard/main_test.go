package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"contractguard/internal/agent"
	"contractguard/internal/config"
	"contractguard/internal/events"
	"contractguard/internal/logger"
	"contractguard/internal/session"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"OPENAI_API_KEY", "OPENAI_BASE_URL", "ANTHROPIC_API_KEY", "ANTHROPIC_BASE_URL",
		"CONTRACTGUARD_MODEL", "CONTRACTGUARD_LISTEN", "DATABASE_URL",
	} {
		t.Setenv(key, "")
	}
	root := logger.Root()
	prev := root.Out
	root.SetOutput(io.Discard)
	t.Cleanup(func() { root.SetOutput(prev) })
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestParseRootArgs(t *testing.T) {
	root, rest, err := parseRootArgs([]string{"-config", "/tmp/x.toml", "-c", "model=a", "-c", "max_steps=3", "ping", "-timeout", "5"})
	if err != nil {
		t.Fatalf("parseRootArgs: %v", err)
	}
	if root.cfgPath != "/tmp/x.toml" || len(root.overrides) != 2 || root.overrides[1] != "max_steps=3" {
		t.Fatalf("root = %+v", root)
	}
	if strings.Join(rest, " ") != "ping -timeout 5" {
		t.Fatalf("rest = %v", rest)
	}
}

func TestRunPing(t *testing.T) {
	clearEnv(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/models" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if r.Header.Get("Authorization") != "Bearer test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":{"message":"bad key"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"object":"list","data":[]}`))
	}))
	t.Cleanup(srv.Close)

	cfgPath := writeConfig(t, `
provider = "openai"
model = "gpt-4o-mini"
api_key = "test-key"
base_url = "`+srv.URL+`"
`)

	var out bytes.Buffer
	if err := runPing(rootArgs{cfgPath: cfgPath}, nil, &out); err != nil {
		t.Fatalf("runPing: %v", err)
	}
	if got := out.String(); got != "ok: openai gpt-4o-mini\n" {
		t.Fatalf("output = %q", got)
	}

	err := runPing(rootArgs{cfgPath: cfgPath, overrides: []string{"api_key=wrong"}}, nil, io.Discard)
	if err == nil || !strings.Contains(err.Error(), "http_401") {
		t.Fatalf("wrong key error = %v, want http_401", err)
	}

	err = runPing(rootArgs{cfgPath: cfgPath, overrides: []string{"api_key="}}, nil, io.Discard)
	if !errors.Is(err, errMissingKey) {
		t.Fatalf("missing key error = %v", err)
	}
}

func TestBuildModelClient(t *testing.T) {
	clearEnv(t)
	cfg := config.Default()
	cfg.APIKey = "k"
	for _, provider := range []string{config.ProviderOpenAI, config.ProviderAnthropic} {
		cfg.Provider = provider
		if _, err := buildModelClient(cfg); err != nil {
			t.Fatalf("%s: %v", provider, err)
		}
	}
	cfg.Provider = "cohere"
	if _, err := buildModelClient(cfg); err == nil {
		t.Fatalf("unknown provider should fail")
	}

	cfg = config.Default()
	client := modelClientOrUnavailable(cfg)
	if _, ok := client.(unavailableClient); !ok {
		t.Fatalf("missing key should yield unavailableClient, got %T", client)
	}
	if err := client.Stream(context.Background(), agent.Prompt{}, nil); err == nil || !strings.Contains(err.Error(), "OPENAI_API_KEY") {
		t.Fatalf("Stream error = %v", err)
	}
}

func TestOpenStoreFallsBackToFiles(t *testing.T) {
	clearEnv(t)
	cfg := config.Default()
	cfg.StoreDir = filepath.Join(t.TempDir(), "conversations")

	store, closer, err := openStore(context.Background(), cfg)
	if err != nil {
		t.Fatalf("openStore: %v", err)
	}
	defer closer.Close()
	if _, ok := store.(*session.FileStore); !ok {
		t.Fatalf("store = %T, want *session.FileStore", store)
	}
}

func TestRunInit(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	root := rootArgs{cfgPath: path, overrides: []string{"provider=anthropic", "max_steps=2"}}

	var out bytes.Buffer
	if err := runInit(root, &out); err != nil {
		t.Fatalf("runInit: %v", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Provider != config.ProviderAnthropic || cfg.MaxSteps != 2 || cfg.Listen != ":8787" {
		t.Fatalf("written config = %+v", cfg)
	}
	if err := runInit(root, io.Discard); err == nil {
		t.Fatalf("second init should refuse to overwrite")
	}
}

func TestShutdownClosesEventBus(t *testing.T) {
	bus := events.NewBus()
	ch, cancel := bus.Subscribe()
	defer cancel()
	srv := newHTTPServer("127.0.0.1:0", http.NotFoundHandler(), bus)

	ctx, stop := context.WithTimeout(context.Background(), time.Second)
	defer stop()
	if err := srv.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatalf("expected subscriber channel to be closed")
		}
	case <-time.After(time.Second):
		t.Fatalf("event bus was not closed when shutdown started")
	}
}
