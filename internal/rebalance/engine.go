// Package rebalance plans cluster-level exposure adjustments and gates
// their execution behind the same breaker and cap checks that admit
// regular orders.
package rebalance

import (
	"context"
	"fmt"
	"log"
	"math"
	"sort"

	"execution-core/internal/breaker"
	"execution-core/internal/events"
	"execution-core/internal/monitor"
	"execution-core/internal/sizing"
	"execution-core/pkg/db"
	"execution-core/pkg/errs"
)

// TargetWeightSource supplies the desired cluster weights as fractions of
// portfolio equity. Weights need not sum to 1; unlisted clusters target
// zero exposure.
type TargetWeightSource interface {
	TargetWeights(ctx context.Context, portfolioID string) (map[int]float64, error)
}

// StaticWeights is a fixed TargetWeightSource.
type StaticWeights map[int]float64

// TargetWeights returns the static map for any portfolio.
func (w StaticWeights) TargetWeights(ctx context.Context, portfolioID string) (map[int]float64, error) {
	return w, nil
}

// ClusterExposure compares one cluster's current and target exposure.
type ClusterExposure struct {
	ClusterNum    int
	CurrentUSD    float64
	TargetUSD     float64
	CurrentWeight float64
	TargetWeight  float64
}

// PlannedTrade is one adjustment: positive DeltaUSD adds exposure to the
// cluster, negative reduces it.
type PlannedTrade struct {
	ClusterNum int
	DeltaUSD   float64
	Reason     string
}

// Plan is a rebalance proposal. It is pure output: building a plan never
// writes anything. RequiresRebalance distinguishes "nothing to do" from
// an actionable plan without making callers inspect Trades.
type Plan struct {
	PortfolioID       string
	EquityUSD         float64
	Exposures         []ClusterExposure
	Trades            []PlannedTrade
	RequiresRebalance bool
	Reason            string // set when no rebalance is required
}

// Violation is one reason a plan must not execute.
type Violation struct {
	Rule       string // "breaker" or "cluster_cap"
	Scope      string // breaker scope, when Rule == "breaker"
	ClusterNum int
	Detail     string
}

// Engine plans and executes rebalances.
type Engine struct {
	store    *db.Database
	breakers *breaker.Registry
	weights  TargetWeightSource
	bus      *events.Bus

	// Threshold is the minimum weight drift (fraction of equity) that
	// produces a trade. Smaller drifts are left alone.
	Threshold float64

	// Apply executes one planned trade in live mode. Nil means plans are
	// published on the bus and logged but not acted on here.
	Apply func(ctx context.Context, portfolioID string, t PlannedTrade) error
}

// NewEngine creates a rebalance engine.
func NewEngine(store *db.Database, breakers *breaker.Registry, weights TargetWeightSource, bus *events.Bus, threshold float64) *Engine {
	if threshold <= 0 {
		threshold = 0.02
	}
	return &Engine{store: store, breakers: breakers, weights: weights, bus: bus, Threshold: threshold}
}

// CalculateRebalance builds the drift plan for a portfolio: current
// cluster exposures from open positions, targets from the weight source,
// and one trade per cluster whose drift exceeds the threshold.
func (e *Engine) CalculateRebalance(ctx context.Context, portfolioID string) (Plan, error) {
	pf, err := e.store.GetPortfolio(ctx, portfolioID)
	if err != nil {
		return Plan{}, err
	}
	if pf.TotalValueUSD <= 0 {
		return Plan{}, fmt.Errorf("portfolio %s has no equity: %w", portfolioID, errs.ErrValidation)
	}
	equity := pf.TotalValueUSD

	targets, err := e.weights.TargetWeights(ctx, portfolioID)
	if err != nil {
		return Plan{}, fmt.Errorf("target weights: %w", err)
	}
	for n, w := range targets {
		if w < 0 {
			return Plan{}, fmt.Errorf("cluster %d target weight %.4f is negative: %w", n, w, errs.ErrValidation)
		}
	}

	open, err := e.store.ListOpenPositions(ctx, portfolioID)
	if err != nil {
		return Plan{}, err
	}
	current := make(map[int]float64)
	for _, p := range open {
		current[p.ClusterNum] += p.Qty*p.EntryPrice + p.UnrealizedPnL
	}

	nums := make(map[int]bool)
	for n := range current {
		nums[n] = true
	}
	for n := range targets {
		nums[n] = true
	}
	ordered := make([]int, 0, len(nums))
	for n := range nums {
		ordered = append(ordered, n)
	}
	sort.Ints(ordered)

	plan := Plan{PortfolioID: portfolioID, EquityUSD: equity}
	for _, n := range ordered {
		cur := current[n]
		target := targets[n] * equity
		exp := ClusterExposure{
			ClusterNum:    n,
			CurrentUSD:    cur,
			TargetUSD:     target,
			CurrentWeight: cur / equity,
			TargetWeight:  targets[n],
		}
		plan.Exposures = append(plan.Exposures, exp)

		drift := (target - cur) / equity
		if math.Abs(drift) <= e.Threshold {
			continue
		}
		plan.Trades = append(plan.Trades, PlannedTrade{
			ClusterNum: n,
			DeltaUSD:   target - cur,
			Reason:     fmt.Sprintf("drift %.2f%% exceeds threshold %.2f%%", drift*100, e.Threshold*100),
		})
	}
	if len(plan.Trades) > 0 {
		plan.RequiresRebalance = true
	} else {
		plan.Reason = fmt.Sprintf("all cluster drifts within %.2f%% threshold", e.Threshold*100)
	}
	return plan, nil
}

// ValidateCircuitBreakers rejects any trade that would ADD exposure under
// a tripped breaker. Reducing exposure is always allowed: breakers stop
// new risk, not de-risking.
func (e *Engine) ValidateCircuitBreakers(ctx context.Context, plan Plan) ([]Violation, error) {
	var out []Violation

	adds := false
	for _, t := range plan.Trades {
		if t.DeltaUSD > 0 {
			adds = true
			break
		}
	}
	if adds {
		tripped, err := e.breakers.IsTripped(ctx, plan.PortfolioID, breaker.GlobalScope)
		if err != nil {
			return nil, err
		}
		if tripped {
			out = append(out, Violation{
				Rule:   "breaker",
				Scope:  breaker.GlobalScope,
				Detail: "global circuit breaker is tripped",
			})
		}
	}

	for _, t := range plan.Trades {
		if t.DeltaUSD <= 0 {
			continue
		}
		scope := breaker.ClusterScope(t.ClusterNum)
		tripped, err := e.breakers.IsTripped(ctx, plan.PortfolioID, scope)
		if err != nil {
			return nil, err
		}
		if tripped {
			out = append(out, Violation{
				Rule:       "breaker",
				Scope:      scope,
				ClusterNum: t.ClusterNum,
				Detail:     fmt.Sprintf("cluster %d circuit breaker is tripped", t.ClusterNum),
			})
		}
	}
	return out, nil
}

// ValidateClusterCaps rejects any trade whose resulting cluster exposure
// would exceed the cluster capital cap.
func (e *Engine) ValidateClusterCaps(plan Plan) []Violation {
	capUSD := plan.EquityUSD * sizing.ClusterCapFraction

	byCluster := make(map[int]ClusterExposure, len(plan.Exposures))
	for _, exp := range plan.Exposures {
		byCluster[exp.ClusterNum] = exp
	}

	var out []Violation
	for _, t := range plan.Trades {
		if t.DeltaUSD <= 0 {
			continue
		}
		after := byCluster[t.ClusterNum].CurrentUSD + t.DeltaUSD
		if after > capUSD {
			out = append(out, Violation{
				Rule:       "cluster_cap",
				ClusterNum: t.ClusterNum,
				Detail:     fmt.Sprintf("resulting exposure %.2f exceeds cluster cap %.2f", after, capUSD),
			})
		}
	}
	return out
}

// ExecuteRebalance plans, validates, and (when not dryRun) applies a
// rebalance. Both modes run the identical plan and validation path; the
// only difference is whether Apply is called, so a clean dry run implies
// the live run would have acted on the same trades.
func (e *Engine) ExecuteRebalance(ctx context.Context, portfolioID string, dryRun bool) (Plan, []Violation, error) {
	plan, err := e.CalculateRebalance(ctx, portfolioID)
	if err != nil {
		return Plan{}, nil, err
	}

	violations, err := e.ValidateCircuitBreakers(ctx, plan)
	if err != nil {
		return Plan{}, nil, err
	}
	violations = append(violations, e.ValidateClusterCaps(plan)...)

	if e.bus != nil {
		e.bus.Publish(events.EventRebalancePlanned, plan)
	}
	if len(violations) > 0 {
		for _, v := range violations {
			log.Printf("rebalance: %s blocked: %s", portfolioID, v.Detail)
		}
		return plan, violations, nil
	}
	if !plan.RequiresRebalance {
		log.Printf("rebalance: %s nothing to do: %s", portfolioID, plan.Reason)
		return plan, nil, nil
	}

	if dryRun {
		monitor.RecordRebalance("dry_run")
		for _, t := range plan.Trades {
			log.Printf("rebalance: [dry run] %s cluster %d delta %.2f (%s)", portfolioID, t.ClusterNum, t.DeltaUSD, t.Reason)
		}
		return plan, nil, nil
	}

	monitor.RecordRebalance("live")
	for _, t := range plan.Trades {
		if e.Apply == nil {
			log.Printf("rebalance: %s cluster %d delta %.2f (%s)", portfolioID, t.ClusterNum, t.DeltaUSD, t.Reason)
			continue
		}
		if err := e.Apply(ctx, portfolioID, t); err != nil {
			return plan, nil, fmt.Errorf("apply cluster %d trade: %w", t.ClusterNum, err)
		}
	}
	if e.bus != nil {
		e.bus.Publish(events.EventRebalanceExecuted, plan)
	}
	return plan, nil, nil
}
