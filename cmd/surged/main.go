package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/surgews/surge/internal/channel"
	"github.com/surgews/surge/internal/cleanup"
	"github.com/surgews/surge/internal/config"
	"github.com/surgews/surge/internal/health"
	"github.com/surgews/surge/internal/metrics"
	"github.com/surgews/surge/internal/mgmt"
	"github.com/surgews/surge/internal/webhook"
)

func main() {
	configPath := flag.String("config", os.Getenv("SURGE_CONFIG"), "path to YAML config file")
	flag.Parse()

	// Setup structured logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := zerolog.New(os.Stdout).With().Timestamp().Caller().Logger()

	if os.Getenv("ENVIRONMENT") == "development" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	log.Logger = logger

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	logger.Info().
		Str("environment", cfg.Environment).
		Int("http_port", cfg.HTTPPort).
		Str("admin_addr", cfg.Admin.ListenAddr).
		Bool("cleanup_async", cfg.Cleanup.AsyncEnabled).
		Int("cleanup_workers", cfg.Cleanup.WorkerThreads.Resolve()).
		Msg("starting surge broker")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	hupCh := make(chan os.Signal, 1)
	signal.Notify(hupCh, syscall.SIGHUP)

	store := config.NewStore(cfg, *configPath, logger)
	stats := metrics.New()

	registry := channel.NewRegistry(stats, logger)
	// The dispatcher outlives the run context: it must stay up through the
	// cleanup drain so shutdown-time events still get delivered.
	dispatcher := webhook.NewDispatcher(cfg.Webhook, stats, logger)
	dispatcher.Start(context.Background())

	cleanupSvc := cleanup.NewService(store, registry, registry, dispatcher, stats, logger)
	cleanupSvc.Start()

	checker := health.NewChecker(logger)
	checker.Register("cleanup_queue", func(ctx context.Context) health.Status {
		gov := cleanupSvc.Governor()
		switch {
		case gov.Occupancy() >= 1:
			return health.StatusDown
		case gov.NearCapacity():
			return health.StatusDegraded
		default:
			return health.StatusOK
		}
	})

	// Ops HTTP server: probes and Prometheus metrics.
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", health.LivenessHandler())
	mux.HandleFunc("/readyz", checker.ReadinessHandler())
	mux.Handle("/metrics", stats.Handler())

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	adminServer := mgmt.NewServer(store, cleanupSvc.Governor(), checker, logger)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.Info().Int("port", cfg.HTTPPort).Msg("ops HTTP server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("ops HTTP server error")
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := adminServer.Start(); err != nil {
			logger.Error().Err(err).Msg("admin API server error")
		}
	}()

	// SIGHUP reloads config; an invalid file leaves the old snapshot live.
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-hupCh:
				logger.Info().Msg("SIGHUP received, reloading config")
				if err := store.Reload(); err != nil {
					logger.Error().Err(err).Msg("config reload failed, keeping previous config")
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	sig := <-sigCh
	logger.Info().Str("signal", sig.String()).Msg("shutting down gracefully")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("ops HTTP server shutdown error")
	}
	if err := adminServer.Shutdown(); err != nil {
		logger.Error().Err(err).Msg("admin API server shutdown error")
	}

	// Drain the cleanup backlog, then flush pending webhooks.
	cleanupSvc.Stop()
	dispatcher.Stop()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info().Msg("all goroutines stopped")
	case <-time.After(15 * time.Second):
		logger.Warn().Msg("forced shutdown after timeout")
	}

	logger.Info().Msg("surge broker stopped")
}
