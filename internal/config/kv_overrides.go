package config

import (
	"strconv"
	"strings"
)

// ApplyKVOverrides applies free-form -c key=value overrides.
func ApplyKVOverrides(cfg Config, overrides []string) Config {
	for _, raw := range overrides {
		parts := strings.SplitN(raw, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		val := strings.TrimSpace(parts[1])
		switch key {
		case "provider":
			cfg.Provider = strings.ToLower(val)
		case "model":
			cfg.Model = val
		case "api_key":
			cfg.APIKey = val
		case "base_url":
			cfg.BaseURL = val
		case "listen":
			cfg.Listen = val
		case "store_dir":
			cfg.StoreDir = val
		case "database_url":
			cfg.DatabaseURL = val
		case "reports_path":
			cfg.ReportsPath = val
		case "log_level":
			cfg.LogLevel = val
		case "max_steps":
			if n, err := strconv.Atoi(val); err == nil && n > 0 {
				cfg.MaxSteps = n
			}
		case "request_timeout_secs":
			if n, err := strconv.Atoi(val); err == nil && n > 0 {
				cfg.RequestTimeoutSecs = n
			}
		}
	}
	return cfg
}
