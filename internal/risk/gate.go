// Package risk implements the admission-control layer consulted before
// any order is placed.
package risk

import (
	"context"
	"fmt"
	"log"
	"time"

	"execution-core/internal/breaker"
	"execution-core/internal/events"
	"execution-core/internal/monitor"
	"execution-core/internal/sizing"
	"execution-core/pkg/db"
	"execution-core/pkg/errs"
)

// Gate evaluates portfolio-level risk limits and returns allow/deny with a
// reason. Malformed inputs fail with a validation error; limit violations
// are structured denials.
type Gate struct {
	store    *db.Database
	breakers *breaker.Registry
	bus      *events.Bus
	cfg      GateConfig

	// Locks is shared with the order executor so the whole
	// admission-then-placement sequence serializes per portfolio.
	Locks *KeyedMutex
}

// NewGate creates a gate. bus may be nil.
func NewGate(store *db.Database, breakers *breaker.Registry, bus *events.Bus, cfg GateConfig) *Gate {
	return &Gate{
		store:    store,
		breakers: breakers,
		bus:      bus,
		cfg:      cfg,
		Locks:    NewKeyedMutex(),
	}
}

// CanOpenPosition runs the admission checks under the portfolio lock.
// Callers that go on to place an order should instead hold the lock
// themselves (Locks.Lock) and call Evaluate, so no other admission can
// slip in between the decision and the placement.
func (g *Gate) CanOpenPosition(ctx context.Context, req CheckRequest) (Decision, error) {
	unlock := g.Locks.Lock(req.PortfolioID)
	defer unlock()
	return g.Evaluate(ctx, req)
}

// Evaluate runs the admission checks without locking. The caller must
// hold the portfolio lock for req.PortfolioID.
//
// Checks run in order and short-circuit on the first failure:
//  1. global circuit breaker (plus asset/cluster scopes when named),
//  2. position size against max_position_size_pct and the cluster/global
//     capital caps the sizer advertises,
//  3. today's loss against max_daily_loss_pct — discovering the breach
//     here IS the trip condition, so this check trips the global breaker
//     as a side effect,
//  4. portfolio heat including the new position's capital at risk.
func (g *Gate) Evaluate(ctx context.Context, req CheckRequest) (Decision, error) {
	if err := validate(req); err != nil {
		return Decision{}, err
	}

	pf, err := g.store.GetPortfolio(ctx, req.PortfolioID)
	if err != nil {
		return Decision{}, err
	}
	rp, err := g.store.GetRiskParameters(ctx, req.PortfolioID)
	if err != nil {
		return Decision{}, err
	}
	equity := pf.TotalValueUSD
	if equity <= 0 {
		return Decision{}, fmt.Errorf("portfolio %s has no equity: %w", req.PortfolioID, errs.ErrValidation)
	}

	// 1. Circuit breakers, global first.
	if rp.CircuitBreakerEnabled {
		scopes := []string{breaker.GlobalScope}
		if g.cfg.EnforceAssetScope {
			if req.Symbol != "" {
				scopes = append(scopes, breaker.AssetScope(req.Symbol))
			}
			if req.ClusterNum > 0 {
				scopes = append(scopes, breaker.ClusterScope(req.ClusterNum))
			}
		}
		for _, scope := range scopes {
			st, err := g.breakers.Status(ctx, req.PortfolioID, scope)
			if err != nil {
				return Decision{}, err
			}
			if st != nil && st.Triggered {
				return g.deny(req, Decision{
					Reason:       fmt.Sprintf("circuit breaker %s tripped: %s", scope, st.Reason),
					Rule:         RuleBreaker,
					TrippedScope: scope,
					TriggeredAt:  st.TriggeredAt,
				}), nil
			}
		}
	}

	// 2. Position size limits.
	if frac := req.PositionValueUSD / equity; frac > rp.MaxPositionSizePct {
		return g.deny(req, Decision{
			Reason: fmt.Sprintf("position %.2f%% of equity exceeds limit %.2f%%", frac*100, rp.MaxPositionSizePct*100),
			Rule:   RulePositionSize,
		}), nil
	}
	if limit := equity * sizing.ClusterCapFraction; req.PositionValueUSD > limit {
		return g.deny(req, Decision{
			Reason: fmt.Sprintf("notional %.2f exceeds cluster cap %.2f", req.PositionValueUSD, limit),
			Rule:   RuleClusterCap,
		}), nil
	}
	if limit := equity * sizing.GlobalCapFraction; req.PositionValueUSD > limit {
		return g.deny(req, Decision{
			Reason: fmt.Sprintf("notional %.2f exceeds global cap %.2f", req.PositionValueUSD, limit),
			Rule:   RuleGlobalCap,
		}), nil
	}

	open, err := g.store.ListOpenPositions(ctx, req.PortfolioID)
	if err != nil {
		return Decision{}, err
	}

	// 3. Daily loss. Always recomputed from today's trades plus the
	// current marks of open positions; cached percentage fields are never
	// trusted for this decision.
	dayLoss, err := g.dailyLoss(ctx, req.PortfolioID, open)
	if err != nil {
		return Decision{}, err
	}
	if lossPct := dayLoss / equity; lossPct >= rp.MaxDailyLossPct {
		if rp.CircuitBreakerEnabled {
			if err := g.breakers.Trip(ctx, req.PortfolioID, breaker.GlobalScope, "daily_loss_limit"); err != nil {
				log.Printf("risk: trip global breaker for %s: %v", req.PortfolioID, err)
			}
		}
		return g.deny(req, Decision{
			Reason: fmt.Sprintf("daily loss %.2f%% of equity breaches limit %.2f%%", lossPct*100, rp.MaxDailyLossPct*100),
			Rule:   RuleDailyLoss,
		}), nil
	}

	// 4. Portfolio heat: capital at risk across open positions plus the
	// new position must stay under the heat cap.
	heat := req.RiskUSD()
	for _, p := range open {
		d := p.EntryPrice - p.StopLoss
		if d < 0 {
			d = -d
		}
		heat += p.Qty * d
	}
	monitor.SetPortfolioHeat(req.PortfolioID, heat)
	if limit := rp.MaxPortfolioHeatPct * equity; heat > limit {
		return g.deny(req, Decision{
			Reason: fmt.Sprintf("portfolio heat %.2f exceeds cap %.2f", heat, limit),
			Rule:   RuleHeat,
		}), nil
	}

	monitor.RecordRiskCheck("allowed")
	return Decision{Allowed: true}, nil
}

// dailyLoss returns today's loss in dollars (zero when flat or in profit):
// realized PnL net of fees since UTC midnight plus unrealized PnL of open
// positions.
func (g *Gate) dailyLoss(ctx context.Context, portfolioID string, open []db.Position) (float64, error) {
	midnight := time.Now().UTC().Truncate(24 * time.Hour)
	realized, err := g.store.SumRealizedPnLSince(ctx, portfolioID, midnight)
	if err != nil {
		return 0, err
	}

	unrealized := 0.0
	for _, p := range open {
		unrealized += p.UnrealizedPnL
	}

	total := realized + unrealized
	if total >= 0 {
		return 0, nil
	}
	return -total, nil
}

func (g *Gate) deny(req CheckRequest, d Decision) Decision {
	d.Allowed = false
	monitor.RecordRiskCheck("denied")
	monitor.RecordRiskDenial(d.Rule)
	if g.bus != nil {
		g.bus.Publish(events.EventRiskDenied, events.RiskDenialEvent{
			PortfolioID: req.PortfolioID,
			Symbol:      req.Symbol,
			Reason:      d.Reason,
		})
	}
	log.Printf("risk: denied %s %s: %s", req.PortfolioID, req.Symbol, d.Reason)
	return d
}

func validate(req CheckRequest) error {
	if req.PortfolioID == "" {
		return fmt.Errorf("portfolio id is empty: %w", errs.ErrValidation)
	}
	if req.PositionValueUSD <= 0 {
		return fmt.Errorf("position value %.2f must be positive: %w", req.PositionValueUSD, errs.ErrValidation)
	}
	if req.EntryPrice <= 0 {
		return fmt.Errorf("entry price %.8f must be positive: %w", req.EntryPrice, errs.ErrValidation)
	}
	if req.Quantity <= 0 {
		return fmt.Errorf("quantity %.8f must be positive: %w", req.Quantity, errs.ErrValidation)
	}
	if req.StopPrice < 0 {
		return fmt.Errorf("stop price %.8f must not be negative: %w", req.StopPrice, errs.ErrValidation)
	}
	return nil
}
