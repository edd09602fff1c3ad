package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"contractguard/internal/agent"
	anthropicmodel "contractguard/internal/agent/anthropic"
	openaimodel "contractguard/internal/agent/openai"
	"contractguard/internal/config"
	"contractguard/internal/logger"
)

var log = logger.Named("main")

func main() {
	root, rest, err := parseRootArgs(os.Args[1:])
	if err != nil {
		log.Fatalf("parse args: %v", err)
	}
	cmd := "serve"
	if len(rest) > 0 && !strings.HasPrefix(rest[0], "-") {
		cmd, rest = rest[0], rest[1:]
	}
	switch cmd {
	case "serve":
		serveMain(root, rest)
	case "ping":
		pingMain(root, rest)
	case "init":
		if err := runInit(root, os.Stdout); err != nil {
			log.Fatalf("init failed: %v", err)
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q (expected serve, ping or init)\n", cmd)
		os.Exit(2)
	}
}

func loadConfig(root rootArgs) (config.Config, error) {
	cfg, err := config.Load(root.cfgPath)
	if err != nil {
		return cfg, fmt.Errorf("load config: %w", err)
	}
	return config.ApplyKVOverrides(cfg, root.overrides), nil
}

// runInit 写出默认配置（叠加 -c 覆盖项）；文件已存在时不覆盖。
func runInit(root rootArgs, out io.Writer) error {
	path := root.cfgPath
	if path == "" {
		path = config.DefaultPath()
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	}
	cfg := config.ApplyKVOverrides(config.Default(), root.overrides)
	if err := config.Save(path, cfg); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(out, "wrote %s\n", path)
	return nil
}

// modelClient 是服务端需要的模型客户端能力。
type modelClient interface {
	agent.ModelClient
	CheckKey(ctx context.Context) error
}

func buildModelClient(cfg config.Config) (modelClient, error) {
	switch cfg.Provider {
	case config.ProviderOpenAI:
		return openaimodel.New(openaimodel.Options{APIKey: cfg.APIKey, BaseURL: cfg.BaseURL, Model: cfg.Model})
	case config.ProviderAnthropic:
		return anthropicmodel.New(anthropicmodel.Options{APIKey: cfg.APIKey, BaseURL: cfg.BaseURL, Model: cfg.Model})
	default:
		return nil, fmt.Errorf("unknown provider %q (expected %s or %s)", cfg.Provider, config.ProviderOpenAI, config.ProviderAnthropic)
	}
}

// unavailableClient 在凭据缺失时顶替真实客户端，让请求在模型调用处失败。
type unavailableClient struct {
	err error
}

func (c unavailableClient) Stream(context.Context, agent.Prompt, func(agent.StreamEvent)) error {
	return c.err
}

func (c unavailableClient) CheckKey(context.Context) error {
	return c.err
}

func modelClientOrUnavailable(cfg config.Config) modelClient {
	client, err := buildModelClient(cfg)
	if err == nil {
		return client
	}
	if !cfg.HasAPIKey() {
		log.Warnf("model client unavailable: %v", err)
		return unavailableClient{err: err}
	}
	log.Fatalf("init %s client: %v", cfg.Provider, err)
	return nil
}

var errMissingKey = errors.New("no API key configured")
