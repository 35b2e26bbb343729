// Package order places risk-gated orders and manages their lifecycle:
// admission, venue submission, bracket protection, fills, and the
// portfolio bookkeeping when a position closes.
package order

import (
	"time"

	"execution-core/pkg/exchange"
)

// Intent is a request to open a position. Entry price resolution:
// LimitPrice when set, otherwise the live L1 mid for the symbol.
type Intent struct {
	PortfolioID string
	SignalID    string // optional: marked EXECUTED on success
	Symbol      string
	Side        exchange.Side
	Qty         float64
	LimitPrice  float64 // 0 means market entry at L1 mid

	// Bracket geometry, in ATR multiples of ATR.
	ATR     float64
	Bracket BracketParams
}

// Result reports a completed placement.
type Result struct {
	OrderID    string
	PositionID string
	EntryPrice float64
	Bracket    Bracket
	PlacedAt   time.Time

	// PendingVerification is set when the venue call timed out and the
	// outcome could not be confirmed by client-id lookup. The order stays
	// PENDING for the reconcile loop; it was NOT retried.
	PendingVerification bool
}
