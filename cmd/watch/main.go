package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"lendmirror/internal/domain"
	"lendmirror/internal/estimator"
	"lendmirror/internal/ledger"
	"lendmirror/internal/reconcile"
	"lendmirror/internal/storage/memory"
)

// watch follows one position and prints a ticking deposit estimate between
// authoritative refreshes.
func main() {
	rpcEndpoint := flag.String("rpc-endpoint", "", "Ledger RPC HTTP endpoint")
	user := flag.String("user", "", "Wallet address to watch")
	market := flag.String("market", domain.DefaultMarket, "Market token address")
	refresh := flag.Duration("refresh", 30*time.Second, "Authoritative re-anchor period")
	flag.Parse()

	logger := log.New(os.Stderr, "[watch] ", log.LstdFlags)

	if *rpcEndpoint == "" || *user == "" {
		logger.Fatal("--rpc-endpoint and --user are required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	rpc := ledger.NewHTTPClient(*rpcEndpoint)
	reconciler := reconcile.New(rpc, memory.NewStore(), logger)

	est := estimator.New(logger, estimator.WithTickCallback(func(value float64) {
		fmt.Printf("\r%s deposit ~ %.8f", *user, value)
	}))

	err := watch(ctx, logger, rpc, reconciler, est, *user, *market, *refresh)

	est.Stop()
	fmt.Println()
	logger.Printf("final estimate %.8f", est.Value())

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatalf("Error: %v", err)
	}
}

// watch re-anchors the estimator from each authoritative reconcile. A failed
// refresh keeps the current extrapolation; the estimator pauses itself once
// the anchor goes stale.
func watch(ctx context.Context, logger *log.Logger, configs ledger.Reader, reconciler *reconcile.Reconciler, est *estimator.Estimator, user, market string, refresh time.Duration) error {
	var lastRate float64
	var lastInterval time.Duration
	anchored := false

	ticker := time.NewTicker(refresh)
	defer ticker.Stop()

	for {
		pos, _, err := reconciler.Reconcile(ctx, user, market)
		if err != nil {
			logger.Printf("reconcile %s/%s: %v", user, market, err)
		} else {
			base := domain.WadToFloat(pos.DepositAmount)
			rate := lastRate
			interval := lastInterval
			if cfg, err := configs.ReadTokenConfig(ctx, market); err != nil {
				logger.Printf("token config %s: %v", market, err)
			} else {
				rate = base * float64(cfg.InterestRateBps) / 10_000
				interval = cfg.AccrualInterval
			}

			switch {
			case !anchored || rate != lastRate || interval != lastInterval:
				// First anchor, or the rate model moved under us.
				est.Reset(base, rate, interval)
			case est.State() == estimator.StatePaused:
				est.Continue(base)
			default:
				est.Anchor(base, rate, interval)
			}
			anchored = true
			lastRate = rate
			lastInterval = interval
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
