package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/upliftlab/uplift/internal/adapters/http/api"
	"github.com/upliftlab/uplift/internal/adapters/http/swagger"
	app "github.com/upliftlab/uplift/internal/app"
	"github.com/upliftlab/uplift/internal/config"
	"github.com/upliftlab/uplift/pkg/logger"
)

// HTTP server timeout constants.
const (
	readTimeout       = 10 * time.Second
	writeTimeout      = 10 * time.Second
	idleTimeout       = 60 * time.Second
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 30 * time.Second
)

func main() {
	// Disable default Go metrics collection; the engine serves its own
	// registry on /healthz.
	prometheus.Unregister(collectors.NewGoCollector())
	prometheus.Unregister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	if err := logger.Init(); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		return
	}
	defer func() {
		_ = logger.Sync()
	}()

	log := logger.Get()

	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration (defaults -> optional file -> env)
	cfg, err := config.Load(ctx)
	if err != nil {
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		return
	}

	// Apply configured log level (fallback to info on invalid input)
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	cooldowns := make(map[string]time.Duration, len(cfg.AlertCooldownSeconds))
	for kind, secs := range cfg.AlertCooldownSeconds {
		cooldowns[kind] = time.Duration(secs) * time.Second
	}

	svc := app.New(
		app.WithLogger(log),
		app.WithBufferCapacity(cfg.BufferCapacity),
		app.WithDrainBatchSize(cfg.DrainBatchSize),
		app.WithDrainInterval(time.Duration(cfg.DrainIntervalMS)*time.Millisecond),
		app.WithDedupeSize(cfg.DedupeSize),
		app.WithShardCount(cfg.ShardCount),
		app.WithFunnelSteps(cfg.FunnelSteps),
		app.WithRetention(time.Duration(cfg.RetentionDays)*24*time.Hour),
		app.WithSlowStepThreshold(time.Duration(cfg.SlowStepSeconds*float64(time.Second))),
		app.WithDropOffThreshold(cfg.DropOffThreshold),
		app.WithSignificanceThreshold(cfg.SignificanceThreshold),
		app.WithMinimumSampleSize(cfg.MinimumSampleSize),
		app.WithAlertCooldowns(cooldowns),
		app.WithDefaultAlertCooldown(time.Duration(cfg.DefaultAlertCooldownSeconds)*time.Second),
		app.WithAlertSinkCapacity(cfg.AlertSinkCapacity),
		app.WithFindingScanInterval(time.Duration(cfg.FindingScanIntervalMS)*time.Millisecond),
	)
	if err := svc.Start(ctx); err != nil {
		os.Stderr.WriteString("failed to start service: " + err.Error() + "\n")
		return
	}
	defer svc.Stop()

	// Drain outbound alerts into the log; a real deployment would forward
	// them to a notification channel.
	go consumeAlerts(ctx, svc)

	mux := http.NewServeMux()
	apiServer := api.NewServer(svc, svc)
	apiServer.Register(ctx, mux)
	swagger.Register(ctx, mux)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	go func() {
		log.Info(ctx, "starting HTTP server", logger.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			os.Stderr.WriteString("HTTP server failed: " + err.Error() + "\n")
			return
		}
	}()

	<-ctx.Done()
	log.Info(ctx, "shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(ctx, "server shutdown failed", logger.Error(err))
	}

	log.Info(ctx, "server stopped")
}

// consumeAlerts logs every alert the throttle lets through.
func consumeAlerts(ctx context.Context, svc *app.Service) {
	log := logger.Get().Named("alerts")
	for {
		select {
		case <-ctx.Done():
			return
		case a := <-svc.Alerts():
			log.Warn(ctx, a.Message,
				logger.String("kind", a.Kind),
				logger.String("scope", a.Scope),
				logger.String("severity", string(a.Severity)),
				logger.Time("timestamp", a.Timestamp),
			)
		}
	}
}
