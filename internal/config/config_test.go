package config_test

import (
	"testing"

	"github.com/smartystreets/goconvey/convey"

	"github.com/upliftlab/uplift/internal/config"
)

func TestConfig_New(t *testing.T) {
	convey.Convey("Given a new config with default options", t, func() {
		cfg := config.New()

		convey.Convey("Then it should have sensible defaults", func() {
			convey.So(cfg.Addr, convey.ShouldEqual, ":9090")
			convey.So(cfg.LogLevel, convey.ShouldEqual, "info")
			convey.So(cfg.BufferCapacity, convey.ShouldEqual, 100_000)
			convey.So(cfg.DrainBatchSize, convey.ShouldEqual, 5_000)
			convey.So(cfg.DrainIntervalMS, convey.ShouldEqual, 200)
			convey.So(cfg.DedupeSize, convey.ShouldEqual, 500_000)
			convey.So(cfg.ShardCount, convey.ShouldEqual, 8)
			convey.So(cfg.FunnelSteps, convey.ShouldResemble, []string{"landing", "signup", "activation", "purchase"})
			convey.So(cfg.RetentionDays, convey.ShouldEqual, 30)
			convey.So(cfg.SlowStepSeconds, convey.ShouldEqual, 120)
			convey.So(cfg.DropOffThreshold, convey.ShouldEqual, 0.5)
			convey.So(cfg.SignificanceThreshold, convey.ShouldEqual, 95)
			convey.So(cfg.MinimumSampleSize, convey.ShouldEqual, 100)
			convey.So(cfg.DefaultAlertCooldownSeconds, convey.ShouldEqual, 300)
			convey.So(cfg.AlertSinkCapacity, convey.ShouldEqual, 256)
			convey.So(cfg.FindingScanIntervalMS, convey.ShouldEqual, 30_000)
		})

		convey.Convey("Then alert cooldowns should cover the built-in kinds", func() {
			convey.So(cfg.AlertCooldownSeconds, convey.ShouldContainKey, "buffer_overflow")
			convey.So(cfg.AlertCooldownSeconds, convey.ShouldContainKey, "funnel_friction")
			convey.So(cfg.AlertCooldownSeconds, convey.ShouldContainKey, "experiment_significant")
		})
	})
}
