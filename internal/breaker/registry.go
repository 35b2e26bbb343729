// Package breaker tracks circuit-breaker latches at asset, cluster and
// global scope. Once a scope trips, no new entries may open in it until it
// is reset: asset and cluster scopes require an explicit reset, the global
// scope clears itself at the next UTC day boundary.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"execution-core/internal/events"
	"execution-core/internal/monitor"
	"execution-core/pkg/db"
	"execution-core/pkg/errs"
)

// Registry is the breaker store. All state lives in the database and is
// read fresh on every decision; nothing is cached across a trip/reset
// boundary, so two concurrent orders cannot both pass a check that the
// first trip should have failed.
type Registry struct {
	store *db.Database
	bus   *events.Bus
	cfg   Config
	now   func() time.Time
}

// NewRegistry creates a registry. bus may be nil.
func NewRegistry(store *db.Database, bus *events.Bus, cfg Config) *Registry {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	return &Registry{store: store, bus: bus, cfg: cfg, now: time.Now}
}

// SetClock overrides the time source, used by tests.
func (r *Registry) SetClock(now func() time.Time) {
	r.now = now
}

// IsTripped reports whether a scope currently blocks trading.
// Must be consulted before any order submission affecting that scope.
func (r *Registry) IsTripped(ctx context.Context, portfolioID, scope string) (bool, error) {
	st, err := r.Status(ctx, portfolioID, scope)
	if err != nil {
		return false, err
	}
	return st != nil && st.Triggered, nil
}

// Status returns the fresh breaker state for a scope, or nil when the
// scope has never tripped. A lapsed global cooldown is observed as closed
// and the stored latch is cleared best-effort.
func (r *Registry) Status(ctx context.Context, portfolioID, scope string) (*db.BreakerState, error) {
	st, err := r.store.GetBreaker(ctx, portfolioID, scope)
	if err != nil {
		return nil, err
	}
	if st == nil || !st.Triggered {
		return st, nil
	}

	if scope == GlobalScope && st.CooldownUntil != nil && !r.now().Before(*st.CooldownUntil) {
		// Day rolled over: the daily breaker clears itself. Persist the
		// clear lazily; losing the race to another writer is fine, the
		// next reader repeats the observation.
		cleared := *st
		cleared.Triggered = false
		cleared.TriggeredAt = nil
		cleared.CooldownUntil = nil
		cleared.LossInR = 0
		cleared.Reason = ""
		if err := r.store.UpdateBreakerCAS(ctx, cleared, st.Version); err != nil && !errors.Is(err, errs.ErrConflict) {
			return nil, err
		}
		r.clearRiskLatch(ctx, portfolioID)
		log.Printf("breaker: global scope auto-cleared for portfolio %s (day rollover)", portfolioID)
		return &cleared, nil
	}
	return st, nil
}

// Trip latches a scope open. Idempotent: re-tripping an already-tripped
// scope refreshes reason and trip time but never errors or clears state.
func (r *Registry) Trip(ctx context.Context, portfolioID, scope, reason string) error {
	err := r.casRetry(ctx, portfolioID, scope, func(st *db.BreakerState) *db.BreakerState {
		next := r.blankState(portfolioID, scope)
		if st != nil {
			next = *st
		}
		now := r.now()
		next.Triggered = true
		next.TriggeredAt = &now
		next.Reason = reason
		if scope == GlobalScope {
			cooldown := nextUTCMidnight(now)
			next.CooldownUntil = &cooldown
		}
		return &next
	})
	if err != nil {
		return err
	}

	r.afterTrip(ctx, portfolioID, scope, reason)
	return nil
}

// RecordLoss accumulates realized loss for a scope, expressed in risk
// units. Crossing the scope's threshold trips it automatically. Profits
// (negative lossInR) reduce the accumulator but never below zero.
func (r *Registry) RecordLoss(ctx context.Context, portfolioID, scope string, lossInR float64) error {
	var tripped bool
	var reason string

	err := r.casRetry(ctx, portfolioID, scope, func(st *db.BreakerState) *db.BreakerState {
		next := r.blankState(portfolioID, scope)
		if st != nil {
			next = *st
		}
		next.LossInR += lossInR
		if next.LossInR < 0 {
			next.LossInR = 0
		}

		threshold := r.thresholdFor(scope)
		if threshold > 0 && next.LossInR >= threshold && !next.Triggered {
			now := r.now()
			next.Triggered = true
			next.TriggeredAt = &now
			next.Reason = fmt.Sprintf("%.1fR_loss", next.LossInR)
			tripped = true
			reason = next.Reason
		}
		return &next
	})
	if err != nil {
		return err
	}

	if tripped {
		r.afterTrip(ctx, portfolioID, scope, reason)
	}
	return nil
}

// ResetAsset clears exactly the asset scope for a symbol.
func (r *Registry) ResetAsset(ctx context.Context, portfolioID, symbol string) error {
	return r.reset(ctx, portfolioID, AssetScope(symbol))
}

// ResetCluster clears exactly the cluster scope.
func (r *Registry) ResetCluster(ctx context.Context, portfolioID string, clusterNum int) error {
	return r.reset(ctx, portfolioID, ClusterScope(clusterNum))
}

// ResetGlobal clears exactly the global scope and the portfolio latch.
func (r *Registry) ResetGlobal(ctx context.Context, portfolioID string) error {
	if err := r.reset(ctx, portfolioID, GlobalScope); err != nil {
		return err
	}
	r.clearRiskLatch(ctx, portfolioID)
	return nil
}

// reset clears one scope; narrower scopes never clear broader ones and
// vice versa, because each reset touches exactly one row.
func (r *Registry) reset(ctx context.Context, portfolioID, scope string) error {
	err := r.casRetry(ctx, portfolioID, scope, func(st *db.BreakerState) *db.BreakerState {
		if st == nil {
			return nil // never tripped, nothing to clear
		}
		next := *st
		next.Triggered = false
		next.TriggeredAt = nil
		next.CooldownUntil = nil
		next.LossInR = 0
		next.Reason = ""
		return &next
	})
	if err != nil {
		return err
	}

	if n, ok := ClusterFromScope(scope); ok {
		r.updateClusterProjection(ctx, portfolioID, n, false)
	}
	if r.bus != nil {
		r.bus.Publish(events.EventBreakerReset, events.BreakerEvent{PortfolioID: portfolioID, Scope: scope})
	}
	log.Printf("breaker: reset %s for portfolio %s", scope, portfolioID)
	return nil
}

// casRetry reads the current state, applies mutate, and writes it back
// conditionally. Conflicts are expected under concurrent trade requests,
// so it re-reads and retries a bounded number of times.
func (r *Registry) casRetry(ctx context.Context, portfolioID, scope string, mutate func(*db.BreakerState) *db.BreakerState) error {
	var lastErr error
	for attempt := 0; attempt < r.cfg.MaxRetries; attempt++ {
		st, err := r.store.GetBreaker(ctx, portfolioID, scope)
		if err != nil {
			return err
		}

		next := mutate(st)
		if next == nil {
			return nil
		}

		if st == nil {
			lastErr = r.store.InsertBreaker(ctx, *next)
		} else {
			lastErr = r.store.UpdateBreakerCAS(ctx, *next, st.Version)
		}
		if lastErr == nil {
			return nil
		}
		if !errors.Is(lastErr, errs.ErrConflict) {
			return lastErr
		}
	}
	return lastErr
}

func (r *Registry) afterTrip(ctx context.Context, portfolioID, scope, reason string) {
	monitor.RecordBreakerTrip(ScopeKind(scope))
	if r.bus != nil {
		r.bus.Publish(events.EventBreakerTripped, events.BreakerEvent{PortfolioID: portfolioID, Scope: scope, Reason: reason})
	}
	if n, ok := ClusterFromScope(scope); ok {
		r.updateClusterProjection(ctx, portfolioID, n, true)
	}
	if scope == GlobalScope {
		r.setRiskLatch(ctx, portfolioID)
	}
	log.Printf("breaker: tripped %s for portfolio %s: %s", scope, portfolioID, reason)
}

// setRiskLatch mirrors a global trip into the portfolio's risk parameters.
func (r *Registry) setRiskLatch(ctx context.Context, portfolioID string) {
	r.writeRiskLatch(ctx, portfolioID, true)
}

func (r *Registry) clearRiskLatch(ctx context.Context, portfolioID string) {
	r.writeRiskLatch(ctx, portfolioID, false)
}

func (r *Registry) writeRiskLatch(ctx context.Context, portfolioID string, triggered bool) {
	for attempt := 0; attempt < r.cfg.MaxRetries; attempt++ {
		rp, err := r.store.GetRiskParameters(ctx, portfolioID)
		if err != nil {
			if !errors.Is(err, errs.ErrNotFound) {
				log.Printf("breaker: read risk parameters for %s: %v", portfolioID, err)
			}
			return
		}
		if rp.CircuitBreakerTriggered == triggered {
			return
		}
		err = r.store.SetRiskTriggeredCAS(ctx, portfolioID, triggered, rp.Version)
		if err == nil {
			return
		}
		if !errors.Is(err, errs.ErrConflict) {
			log.Printf("breaker: update risk latch for %s: %v", portfolioID, err)
			return
		}
	}
}

func (r *Registry) updateClusterProjection(ctx context.Context, portfolioID string, clusterNum int, active bool) {
	if err := r.store.SetClusterBreakerActive(ctx, portfolioID, clusterNum, active); err != nil {
		log.Printf("breaker: update cluster %d projection for %s: %v", clusterNum, portfolioID, err)
	}
}

func (r *Registry) thresholdFor(scope string) float64 {
	switch ScopeKind(scope) {
	case "asset":
		return r.cfg.AssetTripR
	case "cluster":
		return r.cfg.ClusterTripR
	default:
		// The global scope trips on the daily-loss percentage check in
		// the risk gate, not on accumulated R.
		return 0
	}
}

func (r *Registry) blankState(portfolioID, scope string) db.BreakerState {
	return db.BreakerState{PortfolioID: portfolioID, Scope: scope}
}

func nextUTCMidnight(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day()+1, 0, 0, 0, 0, time.UTC)
}
