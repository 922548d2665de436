// main.go
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/phuslu/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"kernsched/internal/config"
	"kernsched/internal/cputopo"
	"kernsched/internal/logger"
	"kernsched/internal/sched"
)

var (
	version = "0.1.0"
)

func main() {
	// Load configuration from flags and optional config file
	cfg, err := config.NewConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if cfg == nil {
		// -generate-config was handled
		return
	}

	// Configure loggers based on configuration
	if err := logger.ConfigureLogging(cfg.Logging); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to configure loggers: %v\n", err)
		os.Exit(1)
	}

	if cfg.Server.PprofEnabled {
		go func() {
			log.Info().Msg("Starting pprof HTTP server on :6060")
			http.ListenAndServe("localhost:6060", nil)
		}()
	}

	// Resolve the core count: configured value, or hardware detection with a
	// single-core fallback.
	cores := cfg.Scheduler.Cores
	if cores == 0 {
		detected, ok := cputopo.DetectOrFallback(sched.MaxCores)
		if !ok {
			log.Warn().Int("cores", detected).Msg("Core detection failed, falling back")
		}
		cores = detected
	}

	log.Info().
		Str("version", version).
		Int("cores", cores).
		Int("tick_hz", cfg.Scheduler.TickHz).
		Int("quantum_ticks", cfg.Scheduler.QuantumTicks).
		Bool("workload_enabled", cfg.Workload.Enabled).
		Str("listen_address", cfg.Server.ListenAddress).
		Str("metrics_path", cfg.Server.MetricsPath).
		Msg("Starting kernsched")

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Set up signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()

	// Initialize host metrics
	InitMetrics()
	log.Debug().Msg("- Metrics initialized")

	// Bring up the scheduler with every core running its idle thread
	scheduler, err := sched.New(cfg.Scheduler.SchedConfig(cores), logger.NewLoggerWithContext("sched"))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize scheduler")
	}
	log.Debug().Msg("- Scheduler initialized")

	prometheus.MustRegister(NewSchedCollector(scheduler))
	log.Debug().Msg("- Scheduler collector registered")

	// Spawn the synthetic workload before the clocks start
	var workload *Workload
	if cfg.Workload.Enabled {
		workload, err = NewWorkload(scheduler, cfg.Workload)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to spawn workload")
		}
	}

	// Start the per-core tick drivers
	host := NewHost(scheduler, cfg, workload)
	host.Start(ctx)
	defer host.Stop()

	// Set up HTTP server for Prometheus metrics
	log.Debug().Str("metrics_path", cfg.Server.MetricsPath).Msg("Setting up HTTP handlers")
	http.Handle(cfg.Server.MetricsPath, promhttp.Handler())
	http.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>
            <head><title>kernsched</title></head>
            <body>
            <h1>kernsched v` + version + ` </h1>
            <p><a href="` + cfg.Server.MetricsPath + `">Metrics</a></p>
            </body>
            </html>`))
	})

	http.HandleFunc("/debug/threads", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(map[string]any{
			"threads":   scheduler.Threads(),
			"processes": scheduler.Processes(),
		}); err != nil {
			log.Error().Err(err).Msg("Failed to encode thread inventory")
		}
	})

	log.Info().Str("address", cfg.Server.ListenAddress).Msg("Starting HTTP server")
	srv := &http.Server{Addr: cfg.Server.ListenAddress}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start HTTP server")
		}
	}()

	log.Info().Msg("kernsched is ready and dispatching threads...")

	// Wait for context cancellation
	<-ctx.Done()
	log.Info().Msg("Received shutdown signal, shutting down gracefully...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error shutting down HTTP server")
	} else {
		log.Debug().Msg("HTTP server shut down cleanly")
	}

	log.Info().Msg("kernsched stopped gracefully")
}
