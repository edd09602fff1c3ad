package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// Config 是唯一持久化的配置文件结构。
type Config struct {
	Provider           string `toml:"provider"`
	Model              string `toml:"model"`
	APIKey             string `toml:"api_key"`
	BaseURL            string `toml:"base_url"`
	Listen             string `toml:"listen"`
	StoreDir           string `toml:"store_dir"`
	DatabaseURL        string `toml:"database_url"`
	ReportsPath        string `toml:"reports_path"`
	MaxSteps           int    `toml:"max_steps"`
	RequestTimeoutSecs int    `toml:"request_timeout_secs"`
	LogLevel           string `toml:"log_level"`
	Source             string `toml:"-"`
}

func Default() Config {
	return Config{
		Provider:           ProviderOpenAI,
		Model:              "gpt-4o-mini",
		Listen:             ":8787",
		StoreDir:           "data/conversations",
		ReportsPath:        "data/reports.jsonl",
		MaxSteps:           5,
		RequestTimeoutSecs: 120,
		LogLevel:           "info",
	}
}

func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".contractguard", "config.toml")
}

// Load 读取 TOML 配置并叠加环境变量；文件不存在时返回默认值。
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		path = DefaultPath()
	}
	if path == "" {
		return cfg, errors.New("config path is empty and $HOME is not set")
	}
	cfg.Source = path

	content, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return cfg, err
	default:
		if err := toml.Unmarshal(content, &cfg); err != nil {
			return cfg, err
		}
	}
	return applyEnv(cfg), nil
}

func applyEnv(cfg Config) Config {
	cfg.Provider = strings.ToLower(strings.TrimSpace(cfg.Provider))
	if cfg.Provider == "" {
		cfg.Provider = ProviderOpenAI
	}
	keyEnv, urlEnv := "OPENAI_API_KEY", "OPENAI_BASE_URL"
	if cfg.Provider == ProviderAnthropic {
		keyEnv, urlEnv = "ANTHROPIC_API_KEY", "ANTHROPIC_BASE_URL"
	}
	if env := strings.TrimSpace(os.Getenv(keyEnv)); env != "" {
		cfg.APIKey = env
	}
	if env := strings.TrimSpace(os.Getenv(urlEnv)); env != "" {
		cfg.BaseURL = env
	}
	if env := strings.TrimSpace(os.Getenv("CONTRACTGUARD_MODEL")); env != "" {
		cfg.Model = env
	}
	if env := strings.TrimSpace(os.Getenv("CONTRACTGUARD_LISTEN")); env != "" {
		cfg.Listen = env
	}
	if env := strings.TrimSpace(os.Getenv("DATABASE_URL")); env != "" {
		cfg.DatabaseURL = env
	}
	return cfg
}

// HasAPIKey 报告当前 provider 是否配置了凭据。
func (c Config) HasAPIKey() bool {
	return strings.TrimSpace(c.APIKey) != ""
}
