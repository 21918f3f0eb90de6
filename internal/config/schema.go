package config

import "time"

// Config is the top-level YAML structure.
type Config struct {
	Server    ServerConf    `yaml:"server"`
	Log       LogConf       `yaml:"log"`
	Auth      AuthConf      `yaml:"auth"`
	Model     ModelConf     `yaml:"model"`
	Audit     AuditConf     `yaml:"audit"`
	RateLimit RateLimitConf `yaml:"rate_limit"`
	Tracing   TracingConf   `yaml:"tracing"`
}

// ServerConf holds HTTP listener settings.
type ServerConf struct {
	Port              int      `yaml:"port"`
	ReadTimeoutMs     int      `yaml:"read_timeout_ms"`
	WriteTimeoutMs    int      `yaml:"write_timeout_ms"`
	IdleTimeoutMs     int      `yaml:"idle_timeout_ms"`
	ShutdownTimeoutMs int      `yaml:"shutdown_timeout_ms"`
	AllowedOrigins    []string `yaml:"allowed_origins"`
}

// LogConf is hot-reloadable.
type LogConf struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// AuthConf holds the shared API secret. Prefer the API_KEY env var over
// putting it in the file.
type AuthConf struct {
	APIKey string `yaml:"api_key"`
}

// ModelConf locates the schema and model artifact. Neither is reloaded.
type ModelConf struct {
	SchemaPath string `yaml:"schema_path"`
	Path       string `yaml:"path"`
	Serialize  bool   `yaml:"serialize"` // force single-owner inference
	QueueDepth int    `yaml:"queue_depth"`
}

// AuditConf selects and tunes the audit backend.
type AuditConf struct {
	Backend        string    `yaml:"backend"` // memory | postgres | redis
	Workers        int       `yaml:"workers"`
	QueueDepth     int       `yaml:"queue_depth"`
	WriteTimeoutMs int       `yaml:"write_timeout_ms"`
	MemoryCapacity int       `yaml:"memory_capacity"`
	DatabaseURL    string    `yaml:"database_url"`
	Migrate        bool      `yaml:"migrate"` // run migrations on startup
	Redis          RedisConf `yaml:"redis"`
}

// RedisConf configures the stream-backed audit store.
type RedisConf struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Stream   string `yaml:"stream"`
	MaxLen   int64  `yaml:"max_len"`
}

// RateLimitConf is hot-reloadable. RPS of 0 disables limiting.
type RateLimitConf struct {
	RPS              float64 `yaml:"rps"`
	Burst            int     `yaml:"burst"`
	ClientTTLSeconds int     `yaml:"client_ttl_seconds"`
}

// TracingConf enables OTLP export when Endpoint is set.
type TracingConf struct {
	Endpoint string `yaml:"endpoint"`
}

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

func (s ServerConf) ReadTimeout() time.Duration     { return ms(s.ReadTimeoutMs) }
func (s ServerConf) WriteTimeout() time.Duration    { return ms(s.WriteTimeoutMs) }
func (s ServerConf) IdleTimeout() time.Duration     { return ms(s.IdleTimeoutMs) }
func (s ServerConf) ShutdownTimeout() time.Duration { return ms(s.ShutdownTimeoutMs) }
func (a AuditConf) WriteTimeout() time.Duration     { return ms(a.WriteTimeoutMs) }
func (r RateLimitConf) ClientTTL() time.Duration {
	return time.Duration(r.ClientTTLSeconds) * time.Second
}
