package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/factgate/factgate/pkg/apiserver"
	"github.com/factgate/factgate/pkg/cache"
	"github.com/factgate/factgate/pkg/config"
	"github.com/factgate/factgate/pkg/observability/logging"
	"github.com/factgate/factgate/pkg/ratelimit"
	"github.com/factgate/factgate/pkg/upstream"
)

func main() {
	// Parse command-line flags
	var (
		configPath  = flag.String("config", "config/config.yaml", "Path to the configuration file")
		port        = flag.Int("port", 0, "Override the API port from the config")
		metricsPort = flag.Int("metrics-port", 0, "Override the Prometheus metrics port from the config")
	)
	flag.Parse()

	// Initialize logging (zap) from environment.
	if err := logging.InitFromEnv(); err != nil {
		// Fallback to stderr since logger initialization failed
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
	}
	defer func() { _ = logging.Sync() }()

	// Check if config file exists
	if _, err := os.Stat(*configPath); os.IsNotExist(err) {
		logging.Fatalf("Config file not found: %s", *configPath)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.Fatalf("Failed to load config: %v", err)
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *metricsPort != 0 {
		cfg.Server.MetricsPort = *metricsPort
	}

	// Start metrics server
	go func() {
		http.Handle("/metrics", promhttp.Handler())
		metricsAddr := fmt.Sprintf(":%d", cfg.Server.MetricsPort)
		logging.Infof("Starting metrics server on %s", metricsAddr)
		if err := http.ListenAndServe(metricsAddr, nil); err != nil {
			logging.Errorf("Metrics server error: %v", err)
		}
	}()

	// Protective layers: admission control first, then the content cache.
	limiter := ratelimit.NewTierLimiter(cfg.Models)
	resolver := ratelimit.NewResolver(limiter)
	resolver.SetFailOpen(true)

	contentCache := cache.NewContentCache(cache.Options{
		DefaultTTL:       cfg.Cache.DefaultTTL(),
		MaxEntries:       cfg.Cache.MaxEntries,
		CleanupThreshold: cfg.Cache.CleanupThreshold,
	})

	provider := upstream.NewChatClient(upstream.ChatClientOptions{
		Endpoint: cfg.Upstream.Endpoint,
	})

	api := apiserver.New(cfg, contentCache, resolver, limiter, provider)
	server := api.NewHTTPServer(cfg.Server.Port)

	go func() {
		logging.Infof("FactGate API listening on port %d (rate limit providers: %v)",
			cfg.Server.Port, resolver.ProviderNames())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Fatalf("API server error: %v", err)
		}
	}()

	// Graceful teardown: stop accepting requests, then cancel the
	// limiter's background purge.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logging.Infof("Received %s, shutting down", sig)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logging.Errorf("API server shutdown: %v", err)
	}
	if err := limiter.Close(); err != nil {
		logging.Errorf("Limiter shutdown: %v", err)
	}
	logging.Infof("Shutdown complete")
}
