// Package market defines the read-only price/indicator source consumed by
// the execution core. Feed ingestion and bar aggregation live elsewhere;
// this package only describes what the core needs from them.
package market

import "context"

// L1Quote is the top of book for a venue+symbol.
type L1Quote struct {
	BidPrice float64
	AskPrice float64
}

// Mid returns the quote midpoint.
func (q L1Quote) Mid() float64 {
	return (q.BidPrice + q.AskPrice) / 2
}

// Spread returns the absolute bid/ask spread.
func (q L1Quote) Spread() float64 {
	return q.AskPrice - q.BidPrice
}

// Tick is one trade print.
type Tick struct {
	Price float64
	Qty   float64
}

// DataSource is the collaborator interface for market data.
// GetIndicator returns nil when the indicator has not been computed yet.
type DataSource interface {
	GetL1Quote(ctx context.Context, venue, symbol string) (L1Quote, error)
	GetIndicator(ctx context.Context, symbol, name string, period int) (*float64, error)
	GetRecentTicks(ctx context.Context, venue, symbol string, limit int) ([]Tick, error)
}
