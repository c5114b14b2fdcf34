package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/smartystreets/goconvey/convey"
	"github.com/upliftlab/uplift/internal/adapters/http/api"
	app "github.com/upliftlab/uplift/internal/app"
	"github.com/upliftlab/uplift/internal/config"
	"github.com/upliftlab/uplift/pkg/logger"
	"github.com/upliftlab/uplift/pkg/metrics"
)

func init() {
	// Initialize logging for tests
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

func TestMainFunction(t *testing.T) {
	convey.Convey("Given the main application", t, func() {
		convey.Convey("When testing configuration loading", func() {
			_ = os.Setenv("UPLIFT_ADDR", ":8080")
			_ = os.Setenv("UPLIFT_BUFFER_CAPACITY", "1000")
			_ = os.Setenv("UPLIFT_SIGNIFICANCE_THRESHOLD", "99")
			defer func() {
				_ = os.Unsetenv("UPLIFT_ADDR")
				_ = os.Unsetenv("UPLIFT_BUFFER_CAPACITY")
				_ = os.Unsetenv("UPLIFT_SIGNIFICANCE_THRESHOLD")
			}()

			convey.Convey("Then configuration should be loadable", func() {
				ctx := context.Background()
				cfg, err := config.Load(ctx)
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg, convey.ShouldNotBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.BufferCapacity, convey.ShouldEqual, 1000)
				convey.So(cfg.SignificanceThreshold, convey.ShouldEqual, 99)
			})
		})

		convey.Convey("When testing service creation", func() {
			convey.Convey("Then service should be creatable with default options", func() {
				svc := app.New()
				convey.So(svc, convey.ShouldNotBeNil)
			})

			convey.Convey("And service should be creatable with custom options", func() {
				svc := app.New(
					app.WithBufferCapacity(2000),
					app.WithDedupeSize(1000),
					app.WithFunnelSteps([]string{"a", "b"}),
				)
				convey.So(svc, convey.ShouldNotBeNil)
			})
		})

		convey.Convey("When testing metrics initialization", func() {
			convey.Convey("Then metrics manager should be creatable", func() {
				manager := metrics.NewManager()
				convey.So(manager, convey.ShouldNotBeNil)
			})
		})
	})
}

func TestMainApplicationIntegration(t *testing.T) {
	convey.Convey("Given a started service behind the HTTP mux", t, func() {
		ctx := context.Background()
		svc := app.New(
			app.WithDrainInterval(5*time.Millisecond),
			app.WithFindingScanInterval(time.Hour),
		)
		convey.So(svc.Start(ctx), convey.ShouldBeNil)
		defer svc.Stop()

		mux := http.NewServeMux()
		api.NewServer(svc, svc).Register(ctx, mux)
		ts := httptest.NewServer(mux)
		defer ts.Close()

		convey.Convey("When posting an event end to end", func() {
			resp, err := http.Post(ts.URL+"/events", "application/json",
				strings.NewReader(`{"subject_id":"s-1","kind":"page_view"}`))
			convey.So(err, convey.ShouldBeNil)
			defer resp.Body.Close()

			convey.Convey("Then it is accepted", func() {
				convey.So(resp.StatusCode, convey.ShouldEqual, http.StatusAccepted)
			})
		})

		convey.Convey("When hitting the health endpoint", func() {
			resp, err := http.Get(ts.URL + "/healthz")
			convey.So(err, convey.ShouldBeNil)
			defer resp.Body.Close()

			convey.Convey("Then metrics are served", func() {
				convey.So(resp.StatusCode, convey.ShouldEqual, http.StatusOK)
			})
		})

		convey.Convey("When requesting the funnel report", func() {
			resp, err := http.Get(ts.URL + "/reports/funnel?window=1d")
			convey.So(err, convey.ShouldBeNil)
			defer resp.Body.Close()

			convey.Convey("Then an empty snapshot is served", func() {
				convey.So(resp.StatusCode, convey.ShouldEqual, http.StatusOK)
			})
		})
	})
}
