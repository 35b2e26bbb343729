package risk

import "time"

// CheckRequest is a proposed position admission.
// Symbol and ClusterNum are optional; when present the gate also
// short-circuits on tripped asset/cluster breakers.
type CheckRequest struct {
	PortfolioID      string
	Symbol           string
	ClusterNum       int
	PositionValueUSD float64
	EntryPrice       float64
	Quantity         float64
	StopPrice        float64
}

// RiskUSD returns the capital at risk for the proposed position.
func (r CheckRequest) RiskUSD() float64 {
	d := r.EntryPrice - r.StopPrice
	if d < 0 {
		d = -d
	}
	return r.Quantity * d
}

// Decision is the admission result. A denial is the expected negative-path
// outcome, not an error: Allowed=false always carries a reason.
type Decision struct {
	Allowed bool
	Reason  string
	Rule    string // which check denied: breaker, position_size, cluster_cap, global_cap, daily_loss, heat

	// Breaker context, set when Rule == "breaker" so callers can present
	// which scope blocked the order and since when.
	TrippedScope string
	TriggeredAt  *time.Time
}

// Rule labels for denials.
const (
	RuleBreaker      = "breaker"
	RulePositionSize = "position_size"
	RuleClusterCap   = "cluster_cap"
	RuleGlobalCap    = "global_cap"
	RuleDailyLoss    = "daily_loss"
	RuleHeat         = "heat"
)

// GateConfig tunes the admission checks.
type GateConfig struct {
	// EnforceAssetScope makes the gate itself consult asset and cluster
	// breakers when the request names them. The order executor performs
	// the same check before placement either way.
	EnforceAssetScope bool
}

// DefaultGateConfig returns the default deployment configuration.
func DefaultGateConfig() GateConfig {
	return GateConfig{EnforceAssetScope: true}
}
