// Package config loads trellis configuration from TOML files and
// environment variables via Viper.
package config

// Config is the root configuration for the trellis daemon.
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Server   ServerConfig   `mapstructure:"server"`
	Source   SourceConfig   `mapstructure:"source"`
	Dedup    DedupConfig    `mapstructure:"dedup"`
	Rules    RulesConfig    `mapstructure:"rules"`
	Recon    ReconConfig    `mapstructure:"recon"`
	Schema   SchemaConfig   `mapstructure:"schema"`
	Delay    DelayConfig    `mapstructure:"delay"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// DatabaseConfig configures the embedded SQLite database.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Port int `mapstructure:"port"`
	// VerificationToken authenticates inbound webhook envelopes and the
	// URL-verification handshake.
	VerificationToken string `mapstructure:"verification_token"`
	// APIKey authenticates management API requests (X-API-Key header).
	APIKey string `mapstructure:"api_key"`
}

// SourceConfig configures the upstream table-store client.
type SourceConfig struct {
	BaseURL           string `mapstructure:"base_url"`
	Token             string `mapstructure:"token"`
	TimeoutSeconds    int    `mapstructure:"timeout_seconds"`
	RequestsPerMinute int    `mapstructure:"requests_per_minute"`
}

// DedupConfig configures the idempotency guard.
type DedupConfig struct {
	// Backend selects the guard implementation: sqlite, memory, redis.
	Backend       string `mapstructure:"backend"`
	WindowSeconds int    `mapstructure:"window_seconds"`
	RedisAddr     string `mapstructure:"redis_addr"`
}

// RulesConfig configures the declarative rule set.
type RulesConfig struct {
	Path   string `mapstructure:"path"`
	Reload bool   `mapstructure:"reload"`
}

// ReconConfig configures the compensating reconciliation poller.
type ReconConfig struct {
	IntervalSeconds int      `mapstructure:"interval_seconds"`
	Tables          []string `mapstructure:"tables"`
	BatchSize       int      `mapstructure:"batch_size"`
}

// SchemaConfig configures the schema watcher.
type SchemaConfig struct {
	IntervalSeconds int `mapstructure:"interval_seconds"`
}

// DelayConfig configures the delayed-task scheduler.
type DelayConfig struct {
	IntervalSeconds int `mapstructure:"interval_seconds"`
	ClaimLimit      int `mapstructure:"claim_limit"`
	MaxAttempts     int `mapstructure:"max_attempts"`
}

// MetricsConfig configures the Prometheus metrics sink.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}
