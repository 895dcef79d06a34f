package config

import "github.com/spf13/viper"

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	// Database defaults
	v.SetDefault("database.path", "trellis.db")

	// Server defaults
	v.SetDefault("server.port", 8790)

	// Source defaults
	v.SetDefault("source.timeout_seconds", 10)
	v.SetDefault("source.requests_per_minute", 120)

	// Dedup defaults
	v.SetDefault("dedup.backend", "sqlite")
	v.SetDefault("dedup.window_seconds", 300) // 5 minute dedup window
	v.SetDefault("dedup.redis_addr", "localhost:6379")

	// Rules defaults
	v.SetDefault("rules.path", "rules.yaml")
	v.SetDefault("rules.reload", true)

	// Reconciliation defaults
	v.SetDefault("recon.interval_seconds", 60)
	v.SetDefault("recon.batch_size", 100)

	// Schema watcher defaults
	v.SetDefault("schema.interval_seconds", 300)

	// Delayed-task scheduler defaults
	v.SetDefault("delay.interval_seconds", 30)
	v.SetDefault("delay.claim_limit", 50)
	v.SetDefault("delay.max_attempts", 3)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
}

// BindSensitiveEnvVars explicitly binds sensitive configuration to environment variables
func BindSensitiveEnvVars(v *viper.Viper) {
	v.BindEnv("source.token", "TRELLIS_SOURCE_TOKEN")
	v.BindEnv("server.verification_token", "TRELLIS_VERIFICATION_TOKEN")
	v.BindEnv("server.api_key", "TRELLIS_API_KEY")
	v.BindEnv("database.path", "TRELLIS_DATABASE_PATH")
}
