// viewtallyd is the aggregation daemon. It runs one pass per interval and
// optionally serves Prometheus metrics.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/xtxerr/viewtally/internal/aggregation"
	vterrors "github.com/xtxerr/viewtally/internal/errors"
	"github.com/xtxerr/viewtally/internal/loader"
	"github.com/xtxerr/viewtally/internal/logging"
	"github.com/xtxerr/viewtally/internal/manager"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfgPath := flag.String("config", "config.yaml", "config file path")
	dbPath := flag.String("db", "", "metastore database path (overrides config)")
	metricsListen := flag.String("listen-metrics", "", "metrics listen address (overrides config)")
	once := flag.Bool("once", false, "run a single aggregation pass and exit")
	flag.Parse()

	if err := run(*cfgPath, *dbPath, *metricsListen, *once); err != nil {
		fmt.Fprintf(os.Stderr, "viewtallyd: %v\n", err)
		os.Exit(1)
	}
}

func run(cfgPath, dbPath, metricsListen string, once bool) error {
	cfg, err := loader.LoadOrDefault(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// CLI overrides
	if dbPath != "" {
		cfg.Metastore.Path = dbPath
	}
	if metricsListen != "" {
		cfg.Metrics.Listen = metricsListen
	}

	if err := loader.Validate(cfg); err != nil {
		return err
	}

	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return err
	}
	logging.Init(level, cfg.Logging.JSON)
	log := logging.Component("viewtallyd")
	log.Info("starting", "version", Version, "metastore", cfg.Metastore.Path, "timezone", cfg.TimeZone)

	mgr, err := manager.New(cfg)
	if err != nil {
		return fmt.Errorf("create manager: %w", err)
	}
	defer func() {
		if err := mgr.Close(); err != nil {
			log.Warn("close manager", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if once {
		return passError(mgr.RunAggregation(ctx))
	}

	var srv *http.Server
	if cfg.Metrics.Listen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv = &http.Server{
			Addr:              cfg.Metrics.Listen,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			log.Info("serving metrics", "listen", cfg.Metrics.Listen)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server", "error", err)
			}
		}()
	}

	interval := cfg.Aggregation.Interval.Duration()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Info("running", "interval", interval)
	logPassFailure(log, passError(mgr.RunAggregation(ctx)))

	for {
		select {
		case <-ctx.Done():
			log.Info("shutting down")
			if srv != nil {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				if err := srv.Shutdown(shutdownCtx); err != nil {
					log.Warn("metrics server shutdown", "error", err)
				}
				cancel()
			}
			return nil
		case <-ticker.C:
			logPassFailure(log, passError(mgr.RunAggregation(ctx)))
		}
	}
}

// passError turns a failed pass into an error naming its stage. The job
// logs pass details itself.
func passError(res aggregation.Result) error {
	if res.Success {
		return nil
	}
	return fmt.Errorf("stage %s: %w", res.Stage, res.Err)
}

// logPassFailure reports a failed pass. Retriable failures are picked up by
// the next tick; anything else needs an operator.
func logPassFailure(log *slog.Logger, err error) {
	if err == nil {
		return
	}
	if vterrors.IsRetriable(err) {
		log.Warn("aggregation pass failed, retrying next interval", "error", err)
		return
	}
	log.Error("aggregation pass failed", "error", err, "code", vterrors.CodeName(vterrors.ErrorToCode(err)))
}
