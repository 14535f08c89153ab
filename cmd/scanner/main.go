package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"text/tabwriter"
	"time"

	"lendmirror/internal/domain"
	"lendmirror/internal/ledger"
	"lendmirror/internal/scanner"
)

func main() {
	rpcEndpoint := flag.String("rpc-endpoint", "", "Ledger RPC HTTP endpoint")
	market := flag.String("market", domain.DefaultMarket, "Market token address to scan")
	requester := flag.String("requester", "", "Requesting user address (excluded from results)")
	fanOut := flag.Int("fan-out", scanner.DefaultFanOut, "Concurrent live reads")
	pageSize := flag.Uint64("page-size", scanner.DefaultPageSize, "Block range per deposit-history query")
	timeout := flag.Duration("timeout", 5*time.Minute, "Overall scan timeout")
	flag.Parse()

	logger := log.New(os.Stderr, "[scanner] ", log.LstdFlags|log.Lshortfile)

	if *rpcEndpoint == "" {
		logger.Fatal("--rpc-endpoint is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	rpc := ledger.NewHTTPClient(*rpcEndpoint)
	sc := scanner.New(rpc, logger,
		scanner.WithFanOut(*fanOut),
		scanner.WithPageSize(*pageSize),
	)

	candidates, err := sc.Scan(ctx, *market, *requester)
	if err != nil {
		logger.Fatalf("Scan failed: %v", err)
	}

	if len(candidates) == 0 {
		fmt.Println("No liquidation candidates found")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "USER\tHEALTH\tRISK%\tDEPOSIT\tBORROW")
	for _, c := range candidates {
		fmt.Fprintf(w, "%s\t%.4f\t%.1f\t%.6f\t%.6f\n",
			c.User,
			c.HealthFactor,
			domain.RiskPercent(c.HealthFactor),
			domain.WadToFloat(c.DepositAmount),
			domain.WadToFloat(c.BorrowAmount),
		)
	}
	w.Flush()
}
