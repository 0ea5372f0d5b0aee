// kitchensight runs the PantryOS observability core as a standalone process:
// it samples system resources, evaluates alert thresholds on a ticker, and
// serves the monitoring read surface over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/pantryos/kitchensight/pkg/config"
	"github.com/pantryos/kitchensight/pkg/handlers"
	"github.com/pantryos/kitchensight/pkg/middleware"
	"github.com/pantryos/kitchensight/pkg/monitoring"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync() //nolint:errcheck

	if err := run(cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("kitchensight exited", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store := monitoring.NewStore(cfg.Retention)
	collector := monitoring.NewCollector(store, logger.Named("collector"))
	profiler := monitoring.NewProfiler(store, cfg.SlowOperationThreshold, logger.Named("profiler"))

	alerts := monitoring.NewAlertManager(collector, &monitoring.AlertManagerConfig{
		Cooldown:    cfg.AlertCooldown,
		HistorySize: cfg.AlertHistory,
		Thresholds:  cfg.Thresholds,
	}, logger.Named("alerts"))

	health := monitoring.NewHealthAggregator(collector, alerts, dependencyProbe(cfg.DependencyAddr), monitoring.HealthConfig{
		ProbeTimeout: cfg.ProbeTimeout,
		StallTimeout: cfg.StallTimeout,
	}, logger.Named("health"))

	dashboard := monitoring.NewDashboard(collector, alerts, health)
	sampler := monitoring.NewSystemSampler(collector, cfg.SampleInterval, logger.Named("sampler"))

	router := mux.NewRouter()
	router.Use(middleware.Monitoring(collector, logger.Named("http")))
	handlers.NewMonitoringHandler(collector, profiler, alerts, health, dashboard, logger.Named("handlers")).RegisterRoutes(router)

	server := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("http server listening", zap.String("addr", cfg.ListenAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		logger.Info("shutting down")
		return server.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		return sampler.Run(ctx)
	})

	g.Go(func() error {
		ticker := time.NewTicker(cfg.EvaluationInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				alerts.EvaluateTick()
			}
		}
	})

	return g.Wait()
}

// dependencyProbe builds the readiness probe: TCP reachability of the
// configured dependency address. An empty address disables the probe.
func dependencyProbe(addr string) monitoring.Probe {
	if addr == "" {
		return nil
	}
	return func(ctx context.Context) error {
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return err
		}
		return conn.Close()
	}
}

func newLogger(level string) (*zap.Logger, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}
