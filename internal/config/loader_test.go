package config_test

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/smartystreets/goconvey/convey"

	"github.com/upliftlab/uplift/internal/config"
)

func TestConfigLoader(t *testing.T) {
	convey.Convey("Given a config loader", t, func() {
		ctx := context.Background()

		convey.Convey("When loading config with defaults only", func() {
			clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should load successfully with defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg, convey.ShouldNotBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9090")
				convey.So(cfg.BufferCapacity, convey.ShouldEqual, 100_000)
				convey.So(cfg.DedupeSize, convey.ShouldEqual, 500_000)
				convey.So(cfg.SignificanceThreshold, convey.ShouldEqual, 95)
			})
		})

		convey.Convey("When loading config with environment variables", func() {
			_ = os.Setenv("UPLIFT_ADDR", ":8080")
			_ = os.Setenv("UPLIFT_BUFFER_CAPACITY", "50000")
			_ = os.Setenv("UPLIFT_DRAIN_BATCH_SIZE", "1000")
			_ = os.Setenv("UPLIFT_SIGNIFICANCE_THRESHOLD", "99")
			_ = os.Setenv("UPLIFT_MINIMUM_SAMPLE_SIZE", "250")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should override defaults with env vars", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg, convey.ShouldNotBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.BufferCapacity, convey.ShouldEqual, 50000)
				convey.So(cfg.DrainBatchSize, convey.ShouldEqual, 1000)
				convey.So(cfg.SignificanceThreshold, convey.ShouldEqual, 99)
				convey.So(cfg.MinimumSampleSize, convey.ShouldEqual, 250)
				// Untouched keys keep their defaults.
				convey.So(cfg.DedupeSize, convey.ShouldEqual, 500_000)
			})
		})

		convey.Convey("When loading config with a YAML file", func() {
			yamlContent := `
addr: ":7070"
buffer_capacity: 25000
funnel_steps: ["landing", "cart", "checkout"]
drop_off_threshold: 0.4
`
			tmpFile := createTempConfigFile(yamlContent)
			defer func() { _ = os.Remove(tmpFile) }()

			_ = os.Setenv("UPLIFT_CONFIG", tmpFile)
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should load from the YAML file", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg, convey.ShouldNotBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":7070")
				convey.So(cfg.BufferCapacity, convey.ShouldEqual, 25000)
				convey.So(cfg.FunnelSteps, convey.ShouldResemble, []string{"landing", "cart", "checkout"})
				convey.So(cfg.DropOffThreshold, convey.ShouldEqual, 0.4)
			})
		})

		convey.Convey("When loading config with both file and environment variables", func() {
			yamlContent := `
addr: ":7070"
buffer_capacity: 25000
`
			tmpFile := createTempConfigFile(yamlContent)
			defer func() { _ = os.Remove(tmpFile) }()

			_ = os.Setenv("UPLIFT_CONFIG", tmpFile)
			_ = os.Setenv("UPLIFT_ADDR", ":8080") // This should override the file
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then environment variables should override file values", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg, convey.ShouldNotBeNil)
				// Addr is overridden by env; buffer capacity comes from the file.
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.BufferCapacity, convey.ShouldEqual, 25000)
			})
		})

		convey.Convey("When loading config with an invalid YAML file", func() {
			invalidYaml := `invalid: yaml: content: [`
			tmpFile := createTempConfigFile(invalidYaml)
			defer func() { _ = os.Remove(tmpFile) }()

			_ = os.Setenv("UPLIFT_CONFIG", tmpFile)
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return a load error", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config that fails validation", func() {
			_ = os.Setenv("UPLIFT_BUFFER_CAPACITY", "0")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return a validation error", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When the significance threshold is out of range", func() {
			_ = os.Setenv("UPLIFT_SIGNIFICANCE_THRESHOLD", "100")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return a validation error", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})
	})
}

// clearConfigEnvVars removes every UPLIFT_ variable the tests may have set.
func clearConfigEnvVars() {
	vars := []string{
		"UPLIFT_CONFIG",
		"UPLIFT_ADDR",
		"UPLIFT_BUFFER_CAPACITY",
		"UPLIFT_DRAIN_BATCH_SIZE",
		"UPLIFT_SIGNIFICANCE_THRESHOLD",
		"UPLIFT_MINIMUM_SAMPLE_SIZE",
	}
	for _, v := range vars {
		_ = os.Unsetenv(v)
	}
}

// createTempConfigFile writes content to a temp YAML file and returns its path.
func createTempConfigFile(content string) string {
	tmpFile, err := os.CreateTemp("", "uplift-config-*.yaml")
	if err != nil {
		panic(err)
	}
	if _, err := tmpFile.WriteString(content); err != nil {
		panic(err)
	}
	if err := tmpFile.Close(); err != nil {
		panic(err)
	}
	return tmpFile.Name()
}
