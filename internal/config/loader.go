package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Load builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):.
//  1. defaults (New())
//  2. file (YAML) if UPLIFT_CONFIG is set
//  3. env (prefix UPLIFT_)
func Load(ctx context.Context) (*Config, error) {
	// Start with defaults
	base := New()

	k := koanf.New(".")

	// Load from file if provided
	if path := os.Getenv("UPLIFT_CONFIG"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
		}
	}

	// Environment variables: UPLIFT_ADDR, UPLIFT_BUFFER_CAPACITY, ...
	// Map env keys like UPLIFT_BUFFER_CAPACITY -> buffer_capacity (flat keys)
	// Preserve underscores to match koanf tags on the struct.
	envProvider := env.Provider("UPLIFT_", ".", func(s string) string {
		s = strings.ToLower(s)
		s = strings.TrimPrefix(s, "uplift_")
		return s
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}

	// Unmarshal into a copy
	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// validate rejects configurations the engine cannot run with.
func (c *Config) validate() error {
	switch {
	case c.Addr == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.BufferCapacity < 1:
		return fmt.Errorf("%w: buffer_capacity must be positive", ErrInvalidConfig)
	case c.DrainBatchSize < 1:
		return fmt.Errorf("%w: drain_batch_size must be positive", ErrInvalidConfig)
	case len(c.FunnelSteps) < 2:
		return fmt.Errorf("%w: funnel_steps needs at least two steps", ErrInvalidConfig)
	case c.SignificanceThreshold <= 0 || c.SignificanceThreshold >= 100:
		return fmt.Errorf("%w: significance_threshold must be in (0,100)", ErrInvalidConfig)
	case c.MinimumSampleSize < 1:
		return fmt.Errorf("%w: minimum_sample_size must be positive", ErrInvalidConfig)
	case c.DropOffThreshold < 0 || c.DropOffThreshold > 1:
		return fmt.Errorf("%w: drop_off_threshold must be in [0,1]", ErrInvalidConfig)
	}
	seen := make(map[string]struct{}, len(c.FunnelSteps))
	for _, step := range c.FunnelSteps {
		if step == "" {
			return fmt.Errorf("%w: funnel step ids must not be empty", ErrInvalidConfig)
		}
		if _, dup := seen[step]; dup {
			return fmt.Errorf("%w: duplicate funnel step %q", ErrInvalidConfig, step)
		}
		seen[step] = struct{}{}
	}
	return nil
}
