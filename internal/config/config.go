// Package config defines engine configuration structures and loading hooks.
//
// Conventions:
// - Provide New() to build a Config with defaults.
// - Load() layers defaults, an optional YAML file, and UPLIFT_* env vars.
// - External errors must be wrapped via this package's error helpers.
package config

// Config contains process configuration. Extend as needed.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// BufferCapacity bounds the in-memory ingestion buffer.
	BufferCapacity int `koanf:"buffer_capacity"`

	// DrainBatchSize caps events consumed per aggregator cycle.
	DrainBatchSize int `koanf:"drain_batch_size"`

	// DrainIntervalMS sets the aggregator drain cadence in milliseconds.
	DrainIntervalMS int `koanf:"drain_interval_ms"`

	// DedupeSize bounds the event idempotency cache.
	DedupeSize int `koanf:"dedupe_size"`

	// ShardCount configures the number of shards in the assignment record store.
	ShardCount int `koanf:"shard_count"`

	// FunnelSteps lists funnel step ids in conversion order.
	FunnelSteps []string `koanf:"funnel_steps"`

	// RetentionDays bounds how long funnel observations are kept.
	// It must cover the largest report window.
	RetentionDays int `koanf:"retention_days"`

	// SlowStepSeconds flags a step as friction when the average time on it
	// exceeds this absolute threshold.
	SlowStepSeconds float64 `koanf:"slow_step_seconds"`

	// DropOffThreshold flags a step as friction when its drop-off rate
	// exceeds this relative threshold (0-1).
	DropOffThreshold float64 `koanf:"drop_off_threshold"`

	// SignificanceThreshold is the confidence percentage required to declare
	// an experiment winner.
	SignificanceThreshold float64 `koanf:"significance_threshold"`

	// MinimumSampleSize gates winner declaration on per-variant visitors.
	MinimumSampleSize int64 `koanf:"minimum_sample_size"`

	// AlertCooldownSeconds maps alert kinds to their suppression window.
	AlertCooldownSeconds map[string]int `koanf:"alert_cooldown_seconds"`

	// DefaultAlertCooldownSeconds is used for kinds without an explicit window.
	DefaultAlertCooldownSeconds int `koanf:"default_alert_cooldown_seconds"`

	// AlertSinkCapacity buffers outbound alerts awaiting the notification consumer.
	AlertSinkCapacity int `koanf:"alert_sink_capacity"`

	// FindingScanIntervalMS sets how often funnel/experiment findings are
	// scanned and pushed through the alert throttle, in milliseconds.
	FindingScanIntervalMS int `koanf:"finding_scan_interval_ms"`
}

// New creates a Config populated with defaults.
func New() *Config {
	c := &Config{
		LogLevel:              "info",
		Addr:                  ":9090",
		BufferCapacity:        100_000,
		DrainBatchSize:        5_000,
		DrainIntervalMS:       200,
		DedupeSize:            500_000,
		ShardCount:            8,
		FunnelSteps:           []string{"landing", "signup", "activation", "purchase"},
		RetentionDays:         30,
		SlowStepSeconds:       120,
		DropOffThreshold:      0.5,
		SignificanceThreshold: 95,
		MinimumSampleSize:     100,
		AlertCooldownSeconds: map[string]int{
			"buffer_overflow":        60,
			"funnel_friction":        3600,
			"experiment_significant": 21600,
		},
		DefaultAlertCooldownSeconds: 300,
		AlertSinkCapacity:           256,
		FindingScanIntervalMS:       30_000,
	}
	return c
}
