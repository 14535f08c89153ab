package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"lendmirror/internal/config"
	"lendmirror/internal/ingestion"
	"lendmirror/internal/ledger"
	"lendmirror/internal/observability"
	"lendmirror/internal/reconcile"
	"lendmirror/internal/storage"
	chstore "lendmirror/internal/storage/clickhouse"
	"lendmirror/internal/storage/memory"
	"lendmirror/internal/storage/migrations"
	pgstore "lendmirror/internal/storage/postgres"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to YAML configuration file")
	flag.Parse()

	logger := log.New(os.Stdout, "[indexer] ", log.LstdFlags|log.Lshortfile)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("Load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("Invalid config: %v", err)
	}

	// Start metrics server if enabled
	if cfg.Server.MetricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", observability.Handler())
			mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
				w.Write([]byte("ok"))
			})
			logger.Printf("Starting metrics server on %s", cfg.Server.MetricsAddr)
			if err := http.ListenAndServe(cfg.Server.MetricsAddr, mux); err != nil && err != http.ErrServerClosed {
				logger.Printf("Metrics server error: %v", err)
			}
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())

	// Handle shutdown signals with graceful timeout
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan error, 1)

	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, initiating graceful shutdown...", sig)
		cancel()

		select {
		case sig := <-sigCh:
			logger.Printf("Received second signal %v, forcing immediate shutdown", sig)
			os.Exit(1)
		case <-time.After(30 * time.Second):
			logger.Println("Graceful shutdown timed out after 30s, forcing exit")
			os.Exit(1)
		case <-done:
		}
	}()

	err = run(ctx, logger, cfg)
	done <- err
	cancel()

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatalf("Error: %v", err)
	}
	logger.Println("Shutdown complete")
}

func run(ctx context.Context, logger *log.Logger, cfg *config.Config) error {
	var store storage.Store = memory.NewStore()
	if !cfg.Storage.UseMemory {
		pool, err := pgstore.NewPool(ctx, cfg.Storage.PostgresDSN)
		if err != nil {
			return fmt.Errorf("connect to postgres: %w", err)
		}
		defer pool.Close()

		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			return fmt.Errorf("run postgres migrations: %w", err)
		}
		store = pgstore.NewStore(pool)
	}

	// ClickHouse analytics sink is optional; the pipeline runs without it.
	var gasSink storage.GasSampleStore
	if cfg.Storage.ClickhouseDSN != "" {
		conn, err := migrations.RunClickhouseMigrations(ctx, cfg.Storage.ClickhouseDSN)
		if err != nil {
			return fmt.Errorf("run clickhouse migrations: %w", err)
		}
		defer conn.Close()
		gasSink = chstore.NewGasSampleStore(conn)
	}

	rpc := ledger.NewHTTPClient(cfg.Ledger.RPCURL,
		ledger.WithTimeout(cfg.Ledger.Timeout),
		ledger.WithMaxRetries(cfg.Ledger.MaxRetries),
		ledger.WithRetryDelay(cfg.Ledger.RetryDelay),
	)

	feed, err := ledger.NewWSFeed(ctx, cfg.Ledger.WSURL, nil)
	if err != nil {
		return fmt.Errorf("connect event feed: %w", err)
	}
	defer feed.Close()

	reconciler := reconcile.New(rpc, store, logger)
	processor := ingestion.NewProcessor(reconciler, store, store, store, gasSink, logger)
	watermarks := ingestion.NewWatermarkTracker(store)
	gate := ingestion.NewGate(store, watermarks, cfg.Ingestion.Debounce)
	runner := ingestion.NewRunner(feed, gate, processor, watermarks,
		cfg.Ingestion.Stream, cfg.Ingestion.EventTypes, logger)

	logger.Printf("Indexing %s events from %s", cfg.Ledger.Network, cfg.Ledger.WSURL)
	return runner.Run(ctx)
}
