package config

import (
	"fmt"
	"strings"
)

var (
	logLevels  = map[string]bool{"debug": true, "info": true, "warn": true, "warning": true, "error": true}
	logFormats = map[string]bool{"text": true, "json": true}
	backends   = map[string]bool{"memory": true, "postgres": true, "redis": true}
)

// Validate checks the config for:
//   - a non-empty API key
//   - known log level, log format and audit backend
//   - backend connection settings matching the chosen backend
//   - sane numeric ranges
func Validate(cfg *Config) error {
	var errs []string

	if strings.TrimSpace(cfg.Auth.APIKey) == "" {
		errs = append(errs, "auth.api_key is required (set API_KEY)")
	}
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port %d out of range", cfg.Server.Port))
	}
	if !logLevels[cfg.Log.Level] {
		errs = append(errs, fmt.Sprintf("log.level %q must be one of debug, info, warn, error", cfg.Log.Level))
	}
	if !logFormats[cfg.Log.Format] {
		errs = append(errs, fmt.Sprintf("log.format %q must be text or json", cfg.Log.Format))
	}
	if cfg.Model.SchemaPath == "" || cfg.Model.Path == "" {
		errs = append(errs, "model.schema_path and model.path are required")
	}

	switch {
	case !backends[cfg.Audit.Backend]:
		errs = append(errs, fmt.Sprintf("audit.backend %q must be memory, postgres or redis", cfg.Audit.Backend))
	case cfg.Audit.Backend == "postgres" && cfg.Audit.DatabaseURL == "":
		errs = append(errs, "audit.database_url is required for the postgres backend (set DATABASE_URL)")
	case cfg.Audit.Backend == "redis" && cfg.Audit.Redis.Addr == "":
		errs = append(errs, "audit.redis.addr is required for the redis backend (set REDIS_ADDR)")
	}
	if cfg.Audit.Workers < 0 || cfg.Audit.QueueDepth < 0 {
		errs = append(errs, "audit.workers and audit.queue_depth must not be negative")
	}

	if cfg.RateLimit.RPS < 0 {
		errs = append(errs, "rate_limit.rps must not be negative")
	}
	if cfg.RateLimit.Burst < 0 {
		errs = append(errs, "rate_limit.burst must not be negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
