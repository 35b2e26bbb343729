package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"execution-core/pkg/errs"
)

func newTestDB(t *testing.T) *Database {
	t.Helper()
	d, err := NewInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	require.NoError(t, InitSchema(d.DB))
	return d
}

func TestPortfolioRoundTripAndPnL(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()

	require.NoError(t, d.CreatePortfolio(ctx, Portfolio{ID: "pf-1", Name: "alpha", TotalValueUSD: 10000}))

	pf, err := d.GetPortfolio(ctx, "pf-1")
	require.NoError(t, err)
	assert.Equal(t, "alpha", pf.Name)
	assert.InDelta(t, 10000, pf.TotalValueUSD, 1e-9)

	require.NoError(t, d.ApplyPortfolioPnL(ctx, "pf-1", -250))
	pf, err = d.GetPortfolio(ctx, "pf-1")
	require.NoError(t, err)
	assert.InDelta(t, 9750, pf.TotalValueUSD, 1e-9)
	assert.InDelta(t, -250, pf.RealizedPnL, 1e-9)

	err = d.ApplyPortfolioPnL(ctx, "pf-missing", 1)
	assert.True(t, errors.Is(err, errs.ErrNotFound))
}

func TestRiskParameterVersioning(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()

	require.NoError(t, d.UpsertRiskParameters(ctx, RiskParameters{
		PortfolioID:        "pf-1",
		MaxPositionSizePct: 0.10,
	}))
	rp, err := d.GetRiskParameters(ctx, "pf-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), rp.Version)

	// Upserting bumps the version.
	require.NoError(t, d.UpsertRiskParameters(ctx, RiskParameters{
		PortfolioID:        "pf-1",
		MaxPositionSizePct: 0.20,
	}))
	rp, err = d.GetRiskParameters(ctx, "pf-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), rp.Version)

	// A CAS against the old version is a conflict; against the current
	// one it lands and bumps again.
	err = d.SetRiskTriggeredCAS(ctx, "pf-1", true, 1)
	assert.True(t, errors.Is(err, errs.ErrConflict))
	require.NoError(t, d.SetRiskTriggeredCAS(ctx, "pf-1", true, rp.Version))

	rp, err = d.GetRiskParameters(ctx, "pf-1")
	require.NoError(t, err)
	assert.True(t, rp.CircuitBreakerTriggered)
	assert.Equal(t, int64(3), rp.Version)
}

func TestBreakerCAS(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()

	now := time.Now().UTC()
	st := BreakerState{PortfolioID: "pf-1", Scope: "asset:BTC/USD", Triggered: true, TriggeredAt: &now, LossInR: 2.0, Reason: "2.0R_loss"}
	require.NoError(t, d.InsertBreaker(ctx, st))

	// Duplicate insert is a conflict, the CAS writer re-reads on that.
	err := d.InsertBreaker(ctx, st)
	assert.True(t, errors.Is(err, errs.ErrConflict))

	got, err := d.GetBreaker(ctx, "pf-1", "asset:BTC/USD")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(1), got.Version)

	// Stale-version write loses.
	got.Reason = "stale"
	err = d.UpdateBreakerCAS(ctx, *got, got.Version-1)
	assert.True(t, errors.Is(err, errs.ErrConflict))

	got.Reason = "manual"
	require.NoError(t, d.UpdateBreakerCAS(ctx, *got, got.Version))

	got, err = d.GetBreaker(ctx, "pf-1", "asset:BTC/USD")
	require.NoError(t, err)
	assert.Equal(t, "manual", got.Reason)
	assert.Equal(t, int64(2), got.Version)

	// Unknown scope reads as logically closed, not as an error.
	missing, err := d.GetBreaker(ctx, "pf-1", "cluster:9")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSignalTransitionIsOneWay(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()

	require.NoError(t, d.CreateSignal(ctx, Signal{ID: "sig-1", PortfolioID: "pf-1", Symbol: "BTC/USD", Side: "BUY", Status: "PENDING"}))
	require.NoError(t, d.TransitionSignal(ctx, "sig-1", "EXECUTED", "pos-1", 100, ""))

	err := d.TransitionSignal(ctx, "sig-1", "CANCELLED", "", 0, "late")
	assert.True(t, errors.Is(err, errs.ErrInvalidState))

	s, err := d.GetSignal(ctx, "sig-1")
	require.NoError(t, err)
	assert.Equal(t, "EXECUTED", s.Status)
}

func TestSumRealizedPnLSince(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()

	now := time.Now().UTC()
	yesterday := now.Add(-30 * time.Hour)
	require.NoError(t, d.CreateTrade(ctx, Trade{ID: "t-1", PortfolioID: "pf-1", Symbol: "BTC/USD", Side: "SELL", Qty: 1, Price: 100, PnL: -200, CreatedAt: now}))
	require.NoError(t, d.CreateTrade(ctx, Trade{ID: "t-2", PortfolioID: "pf-1", Symbol: "BTC/USD", Side: "SELL", Qty: 1, Price: 100, PnL: 50, Fee: 5, CreatedAt: now}))
	require.NoError(t, d.CreateTrade(ctx, Trade{ID: "t-3", PortfolioID: "pf-1", Symbol: "BTC/USD", Side: "SELL", Qty: 1, Price: 100, PnL: -999, CreatedAt: yesterday}))
	require.NoError(t, d.CreateTrade(ctx, Trade{ID: "t-4", PortfolioID: "pf-2", Symbol: "BTC/USD", Side: "SELL", Qty: 1, Price: 100, PnL: -999, CreatedAt: now}))

	midnight := now.Truncate(24 * time.Hour)
	sum, err := d.SumRealizedPnLSince(ctx, "pf-1", midnight)
	require.NoError(t, err)
	assert.InDelta(t, -155, sum, 1e-9) // -200 + (50-5), older and foreign rows excluded
}

func TestClusterMembership(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()

	require.NoError(t, d.SetClusterMember(ctx, "pf-1", "BTC/USD", 1))
	require.NoError(t, d.SetClusterMember(ctx, "pf-1", "ETH/USD", 1))
	require.NoError(t, d.SetClusterMember(ctx, "pf-1", "SOL/USD", 2))

	n, err := d.ClusterForSymbol(ctx, "pf-1", "ETH/USD")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Unclustered symbols map to zero, not an error.
	n, err = d.ClusterForSymbol(ctx, "pf-1", "DOGE/USD")
	require.NoError(t, err)
	assert.Zero(t, n)

	// Remapping moves the symbol.
	require.NoError(t, d.SetClusterMember(ctx, "pf-1", "SOL/USD", 3))
	n, err = d.ClusterForSymbol(ctx, "pf-1", "SOL/USD")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	members, err := d.ListClusterMembers(ctx, "pf-1")
	require.NoError(t, err)
	assert.Len(t, members, 3)
}
