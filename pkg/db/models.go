package db

import "time"

// Portfolio is the root aggregate: owns capital and realized PnL.
type Portfolio struct {
	ID            string
	Name          string
	TotalValueUSD float64
	RealizedPnL   float64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// RiskParameters is one-to-one with a portfolio. Version supports
// optimistic concurrency: writers must present the version they read.
type RiskParameters struct {
	PortfolioID             string
	MaxPositionSizePct      float64
	MaxDailyLossPct         float64
	MaxPortfolioHeatPct     float64
	CircuitBreakerEnabled   bool
	CircuitBreakerTriggered bool
	Version                 int64
	UpdatedAt               time.Time
}

// BreakerState is one circuit-breaker latch, keyed by (portfolio, scope).
// Scope strings look like "global", "asset:BTC/USD", "cluster:3".
type BreakerState struct {
	PortfolioID   string
	Scope         string
	Triggered     bool
	TriggeredAt   *time.Time
	CooldownUntil *time.Time
	LossInR       float64
	Reason        string
	Version       int64
}

// Order represents one exchange order stored in the DB.
type Order struct {
	ID              string
	PortfolioID     string
	ParentOrderID   string // non-empty for bracket legs
	ExchangeOrderID string
	Symbol          string
	Side            string
	Type            string
	Qty             float64
	Price           float64
	StopPrice       float64
	Status          string
	FilledQty       float64
	AvgFillPrice    float64

	// Entry-order bookkeeping, carried so a fill observed after placement
	// (a resting limit the reconcile sweep catches) can still open the
	// position, move its signal, and place its bracket.
	SignalID string
	ATR      float64
	SLMult   float64
	TP1Mult  float64
	TP2Mult  float64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Position is an open (or historically closed) exposure.
type Position struct {
	ID            string
	PortfolioID   string
	Symbol        string
	Side          string
	Qty           float64
	EntryPrice    float64
	StopLoss      float64
	TakeProfit    float64
	RiskUSD       float64 // the R unit this position was sized to risk
	UnrealizedPnL float64
	ClusterNum    int
	Status        string // OPEN or CLOSED
	OpenedAt      time.Time
	ClosedAt      *time.Time
}

// Trade is a realized fill, kept for audit after the portfolio lifecycle.
// PnL is the price PnL gross of fee; Fee is stored separately so realized
// PnL is always pnl - fee, with the fee counted exactly once.
type Trade struct {
	ID          string
	PortfolioID string
	PositionID  string
	Symbol      string
	Side        string
	Qty         float64
	Price       float64
	Fee         float64
	PnL         float64
	CreatedAt   time.Time
}

// Signal is a generated trade candidate with a one-way state machine.
type Signal struct {
	ID             string
	PortfolioID    string
	Symbol         string
	Side           string
	Status         string
	PositionID     string
	ExecutionPrice float64
	Reason         string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ClusterMember maps a symbol into a cluster within a portfolio.
type ClusterMember struct {
	PortfolioID string
	Symbol      string
	ClusterNum  int
}

// Cluster is the display/summary projection of a correlated asset group.
type Cluster struct {
	PortfolioID          string
	ClusterNum           int
	AvgVolatility        float64
	CircuitBreakerActive bool
}
