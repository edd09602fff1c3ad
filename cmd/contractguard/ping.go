package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	openaimodel "contractguard/internal/agent/openai"
	"contractguard/internal/config"
)

const anthropicDefaultBaseURL = "https://api.anthropic.com"

func pingMain(root rootArgs, args []string) {
	if err := runPing(root, args, os.Stdout); err != nil {
		log.Fatalf("ping failed: %v", err)
	}
}

// runPing 先检查端点 TCP 可达，再用模型列表接口验证凭据。
func runPing(root rootArgs, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("ping", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	var timeoutSeconds int
	fs.IntVar(&timeoutSeconds, "timeout", 30, "Timeout seconds")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(root)
	if err != nil {
		return err
	}
	if !cfg.HasAPIKey() {
		return fmt.Errorf("%w for provider %s", errMissingKey, cfg.Provider)
	}
	if timeoutSeconds <= 0 {
		timeoutSeconds = 30
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeoutSeconds)*time.Second)
	defer cancel()

	base := strings.TrimSpace(cfg.BaseURL)
	if base == "" && cfg.Provider == config.ProviderAnthropic {
		base = anthropicDefaultBaseURL
	}
	if err := openaimodel.CheckReachable(ctx, base); err != nil {
		return err
	}

	client, err := buildModelClient(cfg)
	if err != nil {
		return err
	}
	if err := client.CheckKey(ctx); err != nil {
		return fmt.Errorf("check %s key: %w", cfg.Provider, err)
	}
	_, _ = fmt.Fprintf(out, "ok: %s %s\n", cfg.Provider, cfg.Model)
	return nil
}
