// Package sizing converts a risk budget into a notional position size.
package sizing

import (
	"context"
	"fmt"

	"execution-core/internal/fees"
	"execution-core/pkg/errs"
)

// Capital cap fractions of portfolio equity. The sizer reports them as
// advisory output; the risk gate enforces the same fractions on admission.
const (
	ClusterCapFraction = 0.12
	GlobalCapFraction  = 1.0
)

// Result is the sizing output. CapsRespected is advisory: the sizer never
// clamps, callers must check the flag and reject when false.
type Result struct {
	NotionalUSD   float64
	RiskUSD       float64 // dollar amount lost if stopped out exactly (the R unit)
	FeeAvgPct     float64
	SlippagePct   float64
	ClusterCapUSD float64
	GlobalCapUSD  float64
	CapsRespected bool
}

// Sizer sizes positions so a stop-out loses exactly the risk budget,
// costs included.
type Sizer struct {
	fees *fees.Model
}

// NewSizer creates a sizer backed by the given fee model.
func NewSizer(model *fees.Model) *Sizer {
	return &Sizer{fees: model}
}

// Size computes the notional for (equity, risk budget, stop distance).
//
// notional = (riskBps/10000 * equity * volScale) / (slDecimal + feeAvg + slippage)
//
// Costs sit in the denominator: they eat into the room between entry and
// stop, so the position shrinks as costs rise and a stop-out still loses
// exactly the budget. riskBps must be in [1,1000]; slDecimal in (0,1];
// volScale <= 0 means 1.0.
func (s *Sizer) Size(ctx context.Context, equity float64, riskBps int, slDecimal float64, venueID, symbol string, volScale float64) (Result, error) {
	if equity <= 0 {
		return Result{}, fmt.Errorf("equity %.2f must be positive: %w", equity, errs.ErrValidation)
	}
	if riskBps < 1 || riskBps > 1000 {
		return Result{}, fmt.Errorf("riskBps %d outside [1,1000]: %w", riskBps, errs.ErrValidation)
	}
	if slDecimal <= 0 || slDecimal > 1 {
		return Result{}, fmt.Errorf("slDecimal %.6f outside (0,1]: %w", slDecimal, errs.ErrValidation)
	}
	if volScale < 0 {
		return Result{}, fmt.Errorf("volatility scale %.4f must not be negative: %w", volScale, errs.ErrValidation)
	}
	if volScale == 0 {
		volScale = 1.0
	}

	bd, err := s.fees.Calculate(ctx, venueID, symbol)
	if err != nil {
		return Result{}, err
	}

	riskUSD := float64(riskBps) / 10000 * equity * volScale
	notional := riskUSD / (slDecimal + bd.FeeAvgPct + bd.AvgSlippagePct)

	clusterCap := equity * ClusterCapFraction
	globalCap := equity * GlobalCapFraction

	return Result{
		NotionalUSD:   notional,
		RiskUSD:       riskUSD,
		FeeAvgPct:     bd.FeeAvgPct,
		SlippagePct:   bd.AvgSlippagePct,
		ClusterCapUSD: clusterCap,
		GlobalCapUSD:  globalCap,
		CapsRespected: notional <= clusterCap && notional <= globalCap,
	}, nil
}
