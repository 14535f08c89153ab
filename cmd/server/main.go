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

	"lendmirror/internal/analytics"
	"lendmirror/internal/api"
	"lendmirror/internal/ledger"
	"lendmirror/internal/observability"
	"lendmirror/internal/scanner"
	"lendmirror/internal/storage"
	"lendmirror/internal/storage/memory"
	"lendmirror/internal/storage/migrations"
	pgstore "lendmirror/internal/storage/postgres"
)

func main() {
	rpcEndpoint := flag.String("rpc-endpoint", "", "Ledger RPC HTTP endpoint (for live candidate scans)")
	postgresDSN := flag.String("postgres-dsn", "", "PostgreSQL connection string")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of PostgreSQL")
	apiAddr := flag.String("api-addr", ":8080", "API HTTP address")
	metricsAddr := flag.String("metrics-addr", ":9090", "Prometheus metrics HTTP address (empty to disable)")
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lshortfile)

	if *rpcEndpoint == "" {
		logger.Fatal("--rpc-endpoint is required")
	}
	if !*useMemory && *postgresDSN == "" {
		logger.Fatal("--postgres-dsn is required (use --use-memory for in-memory storage)")
	}

	if *metricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", observability.Handler())
			logger.Printf("Starting metrics server on %s", *metricsAddr)
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil && err != http.ErrServerClosed {
				logger.Printf("Metrics server error: %v", err)
			}
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	if err := run(ctx, logger, sigCh, *rpcEndpoint, *postgresDSN, *useMemory, *apiAddr); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatalf("Error: %v", err)
	}
	logger.Println("Shutdown complete")
}

func run(ctx context.Context, logger *log.Logger, sigCh chan os.Signal, rpcEndpoint, postgresDSN string, useMemory bool, apiAddr string) error {
	var store storage.Store = memory.NewStore()
	if !useMemory {
		pool, err := pgstore.NewPool(ctx, postgresDSN)
		if err != nil {
			return fmt.Errorf("connect to postgres: %w", err)
		}
		defer pool.Close()

		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			return fmt.Errorf("run postgres migrations: %w", err)
		}
		store = pgstore.NewStore(pool)
	}

	rpc := ledger.NewHTTPClient(rpcEndpoint)
	sc := scanner.New(rpc, logger)
	gas := analytics.NewGasAnalyzer(store)

	server := api.NewServer(store, sc, gas, logger)
	httpServer := &http.Server{
		Addr:         apiAddr,
		Handler:      server.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute, // scans can take a while
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Printf("Serving API on %s", apiAddr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case sig := <-sigCh:
		logger.Printf("Received signal %v, shutting down", sig)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
