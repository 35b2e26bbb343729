// Package fees computes trading cost estimates per venue and symbol.
// All percentages are decimal fractions (0.001 = 0.1%).
package fees

import (
	"context"
	"fmt"

	"execution-core/internal/market"
	"execution-core/pkg/errs"
)

// VenueFees is the static fee schedule for one venue.
type VenueFees struct {
	MakerPct       float64 // maker fee
	TakerPct       float64 // taker fee
	SlippagePct    float64 // baseline slippage assumption
	MakerFillRatio float64 // share of fills assumed to be maker
}

// Breakdown is the full cost estimate for a venue+symbol.
type Breakdown struct {
	MakerFeePct      float64
	TakerFeePct      float64
	AvgSlippagePct   float64
	FeeAvgPct        float64 // maker/taker mean weighted by fill distribution
	RoundTripCostPct float64 // 2*feeAvg + slippage, covers entry and exit
}

// Model computes fee breakdowns from a static schedule, optionally
// tightened by live spread data. Pure given schedule + quote; no writes.
type Model struct {
	venues map[string]VenueFees
	quotes market.DataSource // optional
}

// DefaultSchedule returns the built-in venue fee table.
func DefaultSchedule() map[string]VenueFees {
	return map[string]VenueFees{
		"binance":  {MakerPct: 0.001, TakerPct: 0.001, SlippagePct: 0.0005, MakerFillRatio: 0.25},
		"bybit":    {MakerPct: 0.001, TakerPct: 0.0006, SlippagePct: 0.0008, MakerFillRatio: 0.25},
		"coinbase": {MakerPct: 0.004, TakerPct: 0.006, SlippagePct: 0.001, MakerFillRatio: 0.25},
		"paper":    {MakerPct: 0.0015, TakerPct: 0.0025, SlippagePct: 0.001, MakerFillRatio: 0.25},
	}
}

// NewModel creates a fee model. quotes may be nil; the model then uses the
// static slippage assumption only.
func NewModel(venues map[string]VenueFees, quotes market.DataSource) *Model {
	return &Model{venues: venues, quotes: quotes}
}

// Calculate returns the cost breakdown for a venue+symbol.
// Unknown venues fail with a config error, not a denial: a missing fee
// schedule is an operator mistake.
func (m *Model) Calculate(ctx context.Context, venueID, symbol string) (Breakdown, error) {
	vf, ok := m.venues[venueID]
	if !ok {
		return Breakdown{}, fmt.Errorf("no fee schedule for venue %q: %w", venueID, errs.ErrConfig)
	}

	makerRatio := vf.MakerFillRatio
	if makerRatio <= 0 || makerRatio >= 1 {
		makerRatio = 0.25
	}

	slippage := vf.SlippagePct
	if m.quotes != nil {
		// Half the live spread is the expected cost of crossing it; use
		// it when worse than the static assumption.
		if q, err := m.quotes.GetL1Quote(ctx, venueID, symbol); err == nil && q.Mid() > 0 {
			if half := q.Spread() / 2 / q.Mid(); half > slippage {
				slippage = half
			}
		}
	}

	feeAvg := makerRatio*vf.MakerPct + (1-makerRatio)*vf.TakerPct
	return Breakdown{
		MakerFeePct:      vf.MakerPct,
		TakerFeePct:      vf.TakerPct,
		AvgSlippagePct:   slippage,
		FeeAvgPct:        feeAvg,
		RoundTripCostPct: 2*feeAvg + slippage,
	}, nil
}
