package rebalance

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"execution-core/internal/breaker"
	"execution-core/pkg/db"
)

type rebalanceFixture struct {
	store    *db.Database
	breakers *breaker.Registry
}

func newRebalanceFixture(t *testing.T) rebalanceFixture {
	t.Helper()
	database, err := db.NewInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, db.InitSchema(database.DB))

	ctx := context.Background()
	require.NoError(t, database.CreatePortfolio(ctx, db.Portfolio{ID: "pf-1", Name: "test", TotalValueUSD: 10000}))

	// Cluster 1 currently holds $1,000 of exposure (10% of equity).
	require.NoError(t, database.CreatePosition(ctx, db.Position{
		ID:          "pos-1",
		PortfolioID: "pf-1",
		Symbol:      "BTC/USD",
		Side:        "BUY",
		Qty:         10,
		EntryPrice:  100,
		StopLoss:    95,
		RiskUSD:     50,
		ClusterNum:  1,
		Status:      "OPEN",
	}))

	return rebalanceFixture{
		store:    database,
		breakers: breaker.NewRegistry(database, nil, breaker.DefaultConfig()),
	}
}

func (f rebalanceFixture) engine(weights StaticWeights) *Engine {
	return NewEngine(f.store, f.breakers, weights, nil, 0.02)
}

func TestCalculateRebalancePlansDriftTrades(t *testing.T) {
	f := newRebalanceFixture(t)

	// Cluster 1 should shrink to 5%, cluster 2 should grow to 8%.
	eng := f.engine(StaticWeights{1: 0.05, 2: 0.08})
	plan, err := eng.CalculateRebalance(context.Background(), "pf-1")
	require.NoError(t, err)

	assert.True(t, plan.RequiresRebalance)
	assert.Empty(t, plan.Reason)
	require.Len(t, plan.Trades, 2)
	assert.Equal(t, 1, plan.Trades[0].ClusterNum)
	assert.InDelta(t, -500, plan.Trades[0].DeltaUSD, 1e-9)
	assert.Equal(t, 2, plan.Trades[1].ClusterNum)
	assert.InDelta(t, 800, plan.Trades[1].DeltaUSD, 1e-9)

	require.Len(t, plan.Exposures, 2)
	assert.InDelta(t, 0.10, plan.Exposures[0].CurrentWeight, 1e-9)
	assert.InDelta(t, 0.05, plan.Exposures[0].TargetWeight, 1e-9)
}

func TestCalculateRebalanceIgnoresSmallDrift(t *testing.T) {
	f := newRebalanceFixture(t)

	// 11% target vs 10% actual: inside the 2% threshold.
	eng := f.engine(StaticWeights{1: 0.11})
	plan, err := eng.CalculateRebalance(context.Background(), "pf-1")
	require.NoError(t, err)
	assert.Empty(t, plan.Trades)

	// The no-op outcome is explicit, not inferred from an empty slice.
	assert.False(t, plan.RequiresRebalance)
	assert.Contains(t, plan.Reason, "within 2.00% threshold")
}

func TestValidateCircuitBreakersBlocksAdds(t *testing.T) {
	f := newRebalanceFixture(t)
	ctx := context.Background()

	require.NoError(t, f.breakers.Trip(ctx, "pf-1", breaker.ClusterScope(2), "4.0R_loss"))

	eng := f.engine(StaticWeights{1: 0.05, 2: 0.08})
	plan, err := eng.CalculateRebalance(ctx, "pf-1")
	require.NoError(t, err)

	violations, err := eng.ValidateCircuitBreakers(ctx, plan)
	require.NoError(t, err)
	require.Len(t, violations, 1)
	assert.Equal(t, "breaker", violations[0].Rule)
	assert.Equal(t, breaker.ClusterScope(2), violations[0].Scope)
}

func TestValidateCircuitBreakersAllowsReduceOnly(t *testing.T) {
	f := newRebalanceFixture(t)
	ctx := context.Background()

	require.NoError(t, f.breakers.Trip(ctx, "pf-1", breaker.GlobalScope, "daily_loss_limit"))

	// Only trade is shrinking cluster 1: de-risking stays allowed under a
	// tripped breaker.
	eng := f.engine(StaticWeights{1: 0.05})
	plan, err := eng.CalculateRebalance(ctx, "pf-1")
	require.NoError(t, err)
	require.Len(t, plan.Trades, 1)
	require.Negative(t, plan.Trades[0].DeltaUSD)

	violations, err := eng.ValidateCircuitBreakers(ctx, plan)
	require.NoError(t, err)
	assert.Empty(t, violations)
}

func TestValidateClusterCaps(t *testing.T) {
	f := newRebalanceFixture(t)

	// 15% target blows through the 12% cluster cap.
	eng := f.engine(StaticWeights{1: 0.15})
	plan, err := eng.CalculateRebalance(context.Background(), "pf-1")
	require.NoError(t, err)

	violations := eng.ValidateClusterCaps(plan)
	require.Len(t, violations, 1)
	assert.Equal(t, "cluster_cap", violations[0].Rule)
	assert.Equal(t, 1, violations[0].ClusterNum)
}

func TestExecuteRebalanceDryRunParity(t *testing.T) {
	f := newRebalanceFixture(t)
	ctx := context.Background()

	require.NoError(t, f.breakers.Trip(ctx, "pf-1", breaker.ClusterScope(2), "4.0R_loss"))
	eng := f.engine(StaticWeights{1: 0.05, 2: 0.08})

	dryPlan, dryViolations, err := eng.ExecuteRebalance(ctx, "pf-1", true)
	require.NoError(t, err)
	livePlan, liveViolations, err := eng.ExecuteRebalance(ctx, "pf-1", false)
	require.NoError(t, err)

	// Same portfolio state, same plan, same violations either way.
	assert.Equal(t, dryPlan, livePlan)
	assert.Equal(t, dryViolations, liveViolations)
	require.NotEmpty(t, dryViolations)
}

func TestExecuteRebalanceAppliesOnlyWhenLive(t *testing.T) {
	f := newRebalanceFixture(t)
	ctx := context.Background()

	eng := f.engine(StaticWeights{1: 0.05})
	var applied []PlannedTrade
	eng.Apply = func(ctx context.Context, portfolioID string, tr PlannedTrade) error {
		applied = append(applied, tr)
		return nil
	}

	_, violations, err := eng.ExecuteRebalance(ctx, "pf-1", true)
	require.NoError(t, err)
	require.Empty(t, violations)
	assert.Empty(t, applied, "dry run must not touch the exchange side")

	_, violations, err = eng.ExecuteRebalance(ctx, "pf-1", false)
	require.NoError(t, err)
	require.Empty(t, violations)
	require.Len(t, applied, 1)
	assert.InDelta(t, -500, applied[0].DeltaUSD, 1e-9)
}

func TestExecuteRebalanceBlockedPlanNeverApplies(t *testing.T) {
	f := newRebalanceFixture(t)
	ctx := context.Background()

	require.NoError(t, f.breakers.Trip(ctx, "pf-1", breaker.ClusterScope(2), "4.0R_loss"))

	eng := f.engine(StaticWeights{1: 0.05, 2: 0.08})
	applied := 0
	eng.Apply = func(ctx context.Context, portfolioID string, tr PlannedTrade) error {
		applied++
		return nil
	}

	_, violations, err := eng.ExecuteRebalance(ctx, "pf-1", false)
	require.NoError(t, err)
	require.NotEmpty(t, violations)
	assert.Zero(t, applied)
}
