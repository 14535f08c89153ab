// Package analytics computes cross-network aggregates from indexed events.
package analytics

import (
	"context"
	"fmt"

	"lendmirror/internal/domain"
	"lendmirror/internal/storage"
)

// GasComparison is the average transaction cost of one logical operation on
// two networks, with the relative saving of B over A.
type GasComparison struct {
	EventType      domain.EventType `json:"eventType"`
	NetworkA       string           `json:"networkA"`
	NetworkB       string           `json:"networkB"`
	AvgCostA       float64          `json:"avgCostA"` // wei
	AvgCostB       float64          `json:"avgCostB"` // wei
	SamplesA       int              `json:"samplesA"`
	SamplesB       int              `json:"samplesB"`
	SavingsPercent float64          `json:"savingsPercent"` // positive when B is cheaper
}

// GasAnalyzer aggregates gas costs over stored events.
type GasAnalyzer struct {
	events storage.EventStore
}

// NewGasAnalyzer creates a GasAnalyzer reading through the event store.
func NewGasAnalyzer(events storage.EventStore) *GasAnalyzer {
	return &GasAnalyzer{events: events}
}

// Compare averages the gas cost (gasUsed * gasPriceWei) of processed events
// of one type on each network. Savings are relative to network A; a network
// with no samples contributes a zero average and zero savings.
func (g *GasAnalyzer) Compare(ctx context.Context, t domain.EventType, networkA, networkB string) (*GasComparison, error) {
	avgA, nA, err := g.averageCost(ctx, t, networkA)
	if err != nil {
		return nil, fmt.Errorf("aggregate %s on %s: %w", t, networkA, err)
	}
	avgB, nB, err := g.averageCost(ctx, t, networkB)
	if err != nil {
		return nil, fmt.Errorf("aggregate %s on %s: %w", t, networkB, err)
	}

	cmp := &GasComparison{
		EventType: t,
		NetworkA:  networkA,
		NetworkB:  networkB,
		AvgCostA:  avgA,
		AvgCostB:  avgB,
		SamplesA:  nA,
		SamplesB:  nB,
	}
	if avgA > 0 && nB > 0 {
		cmp.SavingsPercent = (avgA - avgB) / avgA * 100
	}
	return cmp, nil
}

func (g *GasAnalyzer) averageCost(ctx context.Context, t domain.EventType, network string) (float64, int, error) {
	events, err := g.events.GetEventsByTypeAndNetwork(ctx, t, network)
	if err != nil {
		return 0, 0, err
	}

	var total float64
	var n int
	for _, ev := range events {
		if ev.GasUsed <= 0 {
			continue
		}
		total += float64(ev.GasCostWei())
		n++
	}
	if n == 0 {
		return 0, 0, nil
	}
	return total / float64(n), n, nil
}
