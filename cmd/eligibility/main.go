// Eligibility engine - deterministic rule evaluation with AI fusion.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Border-Link/immigration-ai-sub001/internal/api"
	"github.com/Border-Link/immigration-ai-sub001/internal/bus"
	"github.com/Border-Link/immigration-ai-sub001/internal/cache"
	"github.com/Border-Link/immigration-ai-sub001/internal/domain"
	"github.com/Border-Link/immigration-ai-sub001/internal/engine"
	"github.com/Border-Link/immigration-ai-sub001/internal/metrics"
	"github.com/Border-Link/immigration-ai-sub001/internal/reasoning"
	"github.com/Border-Link/immigration-ai-sub001/internal/repository"
	"github.com/Border-Link/immigration-ai-sub001/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// Load configuration before logging so the logger honors it
	cfg := loadConfig()

	setupLogger(cfg.Logging)

	slog.Info("starting eligibility engine",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Version resolution cache, bounded by a TTL and invalidated on publish
	// events.
	versions := cache.NewVersionCache(repo, cacheImpl, cfg.Cache.VersionTTL)

	// Metrics
	var registry *prometheus.Registry
	var engineMetrics *metrics.EngineMetrics
	if cfg.Metrics.Enabled {
		registry = prometheus.NewRegistry()
		engineMetrics = metrics.NewEngineMetrics(cfg.Metrics, registry)
		slog.Info("metrics initialized", "namespace", cfg.Metrics.Namespace)
	}

	// External reasoning service. NewClient returns nil when no endpoint is
	// configured; assigning a nil *Client to the interface would defeat the
	// engine's nil check, so only wire it when present.
	var provider domain.ReasoningProvider
	if client := reasoning.NewClient(cfg.Reasoning); client != nil {
		provider = client
		slog.Info("reasoning service configured", "endpoint", cfg.Reasoning.Endpoint)
	} else {
		slog.Info("no reasoning service configured, decisions use the neutral fallback verdict")
	}

	// Evaluation engine
	eng := engine.New(versions, engine.FactProviderFunc(repo.ListFacts), provider, cfg.Engine, engineMetrics)
	slog.Info("evaluation engine initialized",
		"eligible_threshold", cfg.Engine.EligibleThreshold,
		"not_eligible_threshold", cfg.Engine.NotEligibleThreshold,
	)

	// Initialize async Worker (Pro tier)
	var asyncWorker *worker.Worker
	if cfg.Tier == domain.TierPro || os.Getenv("ELIGIBILITY_ASYNC_WORKER") == "true" {
		asyncWorker = worker.NewWorker(busImpl, repo, eng, versions)
		if err := asyncWorker.Start(); err != nil {
			slog.Error("failed to start async worker", "error", err)
		}
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, repo, cacheImpl, busImpl, eng, registry, Version)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("eligibility engine is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	// Stop async worker first
	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("eligibility engine shutdown complete")
}

// loadConfig builds the effective configuration: tier defaults, then an
// optional YAML overlay from ELIGIBILITY_CONFIG.
func loadConfig() *domain.Config {
	cfg := domain.DefaultConfig()
	if os.Getenv("ELIGIBILITY_TIER") == "pro" {
		cfg = domain.ProConfig()
	}

	if path := os.Getenv("ELIGIBILITY_CONFIG"); path != "" {
		loaded, err := domain.LoadFile(path, cfg)
		if err != nil {
			// Logger is not configured yet
			fmt.Fprintf(os.Stderr, "failed to load config file %s: %v\n", path, err)
			os.Exit(1)
		}
		cfg = loaded
	}

	return cfg
}

func setupLogger(cfg domain.LoggingConfig) {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if os.Getenv("ELIGIBILITY_DEBUG") == "true" {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  Eligibility Engine")
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /evaluate                                    - Evaluate a case")
	fmt.Println("    GET  /decisions/{id}                              - Get a decision")
	fmt.Println("    POST /cases/{caseId}/facts                        - Append a fact")
	fmt.Println("    GET  /cases/{caseId}/facts                        - List case facts")
	fmt.Println("    GET  /cases/{caseId}/decisions                    - List case decisions")
	fmt.Println("    POST /rulesets                                    - Create a rule set")
	fmt.Println("    GET  /rulesets                                    - List rule sets")
	fmt.Println("    POST /rulesets/{id}/versions                      - Create a draft version")
	fmt.Println("    PUT  /rulesets/{id}/versions/{versionId}          - Update a draft version")
	fmt.Println("    POST /rulesets/{id}/versions/{versionId}/publish  - Publish a version")
	fmt.Println("    GET  /rulesets/{id}/conflicts                     - Detect range conflicts")
	fmt.Println("    GET  /rulesets/{id}/gaps                          - Coverage gap analysis")
	fmt.Println("    GET  /health                                      - Health check")
	fmt.Println()
}
