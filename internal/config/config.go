// Package config loads engine startup parameters the way
// apps/iam-service loads its own: a TOML file via viper, overridable by
// environment variables and CLI flags, with an optional Vault secret
// fetch for sensitive values (spec §4.9/§6).
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Backend selects a storage implementation (spec §9 "Dynamic dispatch").
type Backend string

const (
	BackendMemory   Backend = "memory"
	BackendPostgres Backend = "postgres"
)

// Config holds every startup parameter named in spec §4.9.
type Config struct {
	BindAddress        string        `mapstructure:"bind_address"`
	Backend            Backend       `mapstructure:"backend"`
	PostgresURL        string        `mapstructure:"postgres_url"`
	APIKey             string        `mapstructure:"api_key"`
	RetentionHours     int           `mapstructure:"retention_hours"`
	DistributedTracing bool          `mapstructure:"distributed_tracing"`
	MaxInflightEvents  int           `mapstructure:"max_inflight_events"`
	MaxGraphEvents     int           `mapstructure:"max_graph_events"`
	AutoFlushInterval  time.Duration `mapstructure:"auto_flush_interval"`
	RequestTimeout     time.Duration `mapstructure:"request_timeout"`

	// NATSURL, when set, enables the alternate JetStream ingest consumer
	// documented in SPEC_FULL.md alongside the HTTP ingest endpoint.
	NATSURL string `mapstructure:"nats_url"`

	// OTELMetricsEndpoint, when set, turns on an OTLP/gRPC metrics
	// exporter (ingest throughput, race/anomaly counters) alongside the
	// tracing spans otelecho already emits.
	OTELMetricsEndpoint string `mapstructure:"otel_metrics_endpoint"`

	VaultAddr       string `mapstructure:"vault_addr"`
	VaultToken      string `mapstructure:"vault_token"`
	VaultSecretPath string `mapstructure:"vault_secret_path"`
}

func defaults() Config {
	return Config{
		BindAddress:        ":8080",
		Backend:            BackendMemory,
		RetentionHours:     24,
		DistributedTracing: true,
		MaxInflightEvents:  100_000,
		MaxGraphEvents:     200_000,
		AutoFlushInterval:  5 * time.Minute,
		RequestTimeout:     30 * time.Second,
	}
}

// Load builds a Config from, in ascending precedence: built-in
// defaults, the TOML file at configPath (if non-empty), environment
// variables prefixed RACEWAY_, then any flags already bound into v.
//
// v is accepted as a parameter (rather than constructed internally) so
// callers can pre-bind pflag.FlagSet values before Load runs, matching
// the CLI-flag > env > file > default precedence of spec §6.
func Load(v *viper.Viper, configPath string) (Config, error) {
	if v == nil {
		v = viper.New()
	}

	cfg := defaults()
	v.SetDefault("bind_address", cfg.BindAddress)
	v.SetDefault("backend", string(cfg.Backend))
	v.SetDefault("retention_hours", cfg.RetentionHours)
	v.SetDefault("distributed_tracing", cfg.DistributedTracing)
	v.SetDefault("max_inflight_events", cfg.MaxInflightEvents)
	v.SetDefault("max_graph_events", cfg.MaxGraphEvents)
	v.SetDefault("auto_flush_interval", cfg.AutoFlushInterval)
	v.SetDefault("request_timeout", cfg.RequestTimeout)

	v.SetEnvPrefix("RACEWAY")
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", configPath, err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}

	if cfg.Backend == BackendPostgres && cfg.PostgresURL == "" {
		return Config{}, fmt.Errorf("config: backend=postgres requires postgres_url")
	}

	return cfg, nil
}
