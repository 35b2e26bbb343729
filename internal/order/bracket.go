package order

import (
	"fmt"

	"execution-core/pkg/errs"
	"execution-core/pkg/exchange"
)

// BracketParams are the ATR multiples for protective orders.
type BracketParams struct {
	SLATR  float64 // stop distance
	TP1ATR float64 // first target
	TP2ATR float64 // second target
}

// DefaultBracketParams returns the standard bracket geometry.
func DefaultBracketParams() BracketParams {
	return BracketParams{SLATR: 1.0, TP1ATR: 1.2, TP2ATR: 2.5}
}

// Bracket is the resolved protective price levels for an entry.
type Bracket struct {
	StopLoss    float64
	TakeProfit1 float64
	TakeProfit2 float64
}

// BuildBracket computes stop and target prices from entry, ATR, and the
// position side. Longs stop below and target above; shorts mirror.
func BuildBracket(side exchange.Side, entry, atr float64, p BracketParams) (Bracket, error) {
	if entry <= 0 {
		return Bracket{}, fmt.Errorf("entry price %.8f must be positive: %w", entry, errs.ErrValidation)
	}
	if atr <= 0 {
		return Bracket{}, fmt.Errorf("ATR %.8f must be positive: %w", atr, errs.ErrValidation)
	}
	if p.SLATR <= 0 || p.TP1ATR <= 0 || p.TP2ATR <= 0 {
		return Bracket{}, fmt.Errorf("bracket multiples must be positive: %w", errs.ErrValidation)
	}
	if p.TP2ATR < p.TP1ATR {
		return Bracket{}, fmt.Errorf("tp2 multiple %.2f below tp1 %.2f: %w", p.TP2ATR, p.TP1ATR, errs.ErrValidation)
	}

	if side == exchange.SideBuy {
		b := Bracket{
			StopLoss:    entry - p.SLATR*atr,
			TakeProfit1: entry + p.TP1ATR*atr,
			TakeProfit2: entry + p.TP2ATR*atr,
		}
		if b.StopLoss <= 0 {
			return Bracket{}, fmt.Errorf("stop %.8f not positive at entry %.8f, ATR %.8f: %w",
				b.StopLoss, entry, atr, errs.ErrValidation)
		}
		return b, nil
	}

	b := Bracket{
		StopLoss:    entry + p.SLATR*atr,
		TakeProfit1: entry - p.TP1ATR*atr,
		TakeProfit2: entry - p.TP2ATR*atr,
	}
	if b.TakeProfit2 <= 0 {
		return Bracket{}, fmt.Errorf("target %.8f not positive at entry %.8f, ATR %.8f: %w",
			b.TakeProfit2, entry, atr, errs.ErrValidation)
	}
	return b, nil
}

// legRequests builds the protective orders for a filled entry: one stop
// for the full quantity and two take-profits splitting it evenly.
func legRequests(symbol string, side exchange.Side, qty float64, b Bracket) []exchange.OrderRequest {
	closing := side.Opposite()
	half := qty / 2
	return []exchange.OrderRequest{
		{Symbol: symbol, Side: closing, Type: exchange.OrderTypeStopLoss, Qty: qty, StopPrice: b.StopLoss},
		{Symbol: symbol, Side: closing, Type: exchange.OrderTypeTakeProfit, Qty: half, StopPrice: b.TakeProfit1},
		{Symbol: symbol, Side: closing, Type: exchange.OrderTypeTakeProfit, Qty: qty - half, StopPrice: b.TakeProfit2},
	}
}
