package order

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"execution-core/internal/breaker"
	"execution-core/internal/market"
	"execution-core/internal/risk"
	"execution-core/internal/signal"
	"execution-core/pkg/db"
	"execution-core/pkg/errs"
	"execution-core/pkg/exchange"
	"execution-core/pkg/exchange/paper"
)

type execFixture struct {
	executor *Executor
	store    *db.Database
	gateway  *paper.Gateway
	quotes   *market.MockSource
	breakers *breaker.Registry
	signals  *signal.Service
}

func newExecFixture(t *testing.T) execFixture {
	t.Helper()
	database, err := db.NewInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, db.InitSchema(database.DB))

	ctx := context.Background()
	require.NoError(t, database.CreatePortfolio(ctx, db.Portfolio{ID: "pf-1", Name: "test", TotalValueUSD: 10000}))
	require.NoError(t, database.UpsertRiskParameters(ctx, db.RiskParameters{
		PortfolioID:           "pf-1",
		MaxPositionSizePct:    0.10,
		MaxDailyLossPct:       0.03,
		MaxPortfolioHeatPct:   0.06,
		CircuitBreakerEnabled: true,
	}))

	gateway := paper.New()
	quotes := market.NewMockSource()
	breakers := breaker.NewRegistry(database, nil, breaker.DefaultConfig())
	gate := risk.NewGate(database, breakers, nil, risk.DefaultGateConfig())
	signals := signal.NewService(database)

	return execFixture{
		executor: &Executor{
			Store:    database,
			Gateway:  gateway,
			Gate:     gate,
			Breakers: breakers,
			Signals:  signals,
			Quotes:   quotes,
			Venue:    "paper",
			Timeout:  time.Second,
		},
		store:    database,
		gateway:  gateway,
		quotes:   quotes,
		breakers: breakers,
		signals:  signals,
	}
}

func (f execFixture) postPrice(symbol string, px float64) {
	f.quotes.SetQuote(symbol, px-0.05, px+0.05)
	f.gateway.SetPrice(symbol, px)
}

func buyIntent() Intent {
	return Intent{
		PortfolioID: "pf-1",
		Symbol:      "BTC/USD",
		Side:        exchange.SideBuy,
		Qty:         5,
		ATR:         2,
	}
}

func TestPlaceOrderFillsAndOpensPosition(t *testing.T) {
	f := newExecFixture(t)
	ctx := context.Background()
	f.postPrice("BTC/USD", 100)

	sigID, err := f.signals.Create(ctx, "pf-1", "BTC/USD", "BUY")
	require.NoError(t, err)

	intent := buyIntent()
	intent.SignalID = sigID
	res, decision, err := f.executor.PlaceOrder(ctx, intent)
	require.NoError(t, err)
	require.True(t, decision.Allowed)
	require.NotEmpty(t, res.OrderID)
	require.NotEmpty(t, res.PositionID)
	assert.InDelta(t, 100, res.EntryPrice, 1e-9)
	assert.InDelta(t, 98, res.Bracket.StopLoss, 1e-9)
	assert.InDelta(t, 102.4, res.Bracket.TakeProfit1, 1e-9)
	assert.InDelta(t, 105, res.Bracket.TakeProfit2, 1e-9)
	assert.False(t, res.PendingVerification)

	o, err := f.store.GetOrder(ctx, res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, string(exchange.StatusFilled), o.Status)
	assert.NotEmpty(t, o.ExchangeOrderID)
	assert.InDelta(t, 5, o.FilledQty, 1e-9)

	p, err := f.store.GetPosition(ctx, res.PositionID)
	require.NoError(t, err)
	assert.Equal(t, "OPEN", p.Status)
	assert.InDelta(t, 100, p.EntryPrice, 1e-9)
	assert.InDelta(t, 98, p.StopLoss, 1e-9)
	assert.InDelta(t, 10, p.RiskUSD, 1e-9) // 5 qty * $2 stop distance

	s, err := f.signals.Get(ctx, sigID)
	require.NoError(t, err)
	assert.Equal(t, signal.StatusExecuted, s.Status)
	assert.Equal(t, res.PositionID, s.PositionID)
}

func TestPlaceOrderSubmitsBracketLegs(t *testing.T) {
	f := newExecFixture(t)
	ctx := context.Background()
	f.postPrice("BTC/USD", 100)

	res, _, err := f.executor.PlaceOrder(ctx, buyIntent())
	require.NoError(t, err)

	open, err := f.store.ListOpenOrders(ctx, 50)
	require.NoError(t, err)

	var stops, targets int
	var targetQty float64
	for _, o := range open {
		if o.ParentOrderID != res.OrderID {
			continue
		}
		switch o.Type {
		case string(exchange.OrderTypeStopLoss):
			stops++
			assert.InDelta(t, 5, o.Qty, 1e-9)
		case string(exchange.OrderTypeTakeProfit):
			targets++
			targetQty += o.Qty
		}
		assert.Equal(t, string(exchange.SideSell), o.Side)
		assert.NotEmpty(t, o.ExchangeOrderID)
	}
	assert.Equal(t, 1, stops)
	assert.Equal(t, 2, targets)
	assert.InDelta(t, 5, targetQty, 1e-9)
}

func TestPlaceOrderDeniedLeavesNoTrace(t *testing.T) {
	f := newExecFixture(t)
	ctx := context.Background()
	f.postPrice("BTC/USD", 100)

	intent := buyIntent()
	intent.Qty = 15 // $1500 notional, 15% of equity against a 10% limit
	res, decision, err := f.executor.PlaceOrder(ctx, intent)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, risk.RulePositionSize, decision.Rule)
	assert.Empty(t, res.OrderID)

	open, err := f.store.ListOpenOrders(ctx, 50)
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestPlaceOrderDeniedByTrippedAssetBreaker(t *testing.T) {
	f := newExecFixture(t)
	ctx := context.Background()
	f.postPrice("ETH/USD", 100)

	require.NoError(t, f.breakers.Trip(ctx, "pf-1", breaker.AssetScope("ETH/USD"), "2R_loss"))

	intent := buyIntent()
	intent.Symbol = "ETH/USD"
	_, decision, err := f.executor.PlaceOrder(ctx, intent)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, risk.RuleBreaker, decision.Rule)
	assert.Contains(t, decision.Reason, "2R_loss")
}

func TestPlaceOrderTimeoutResolvesByClientID(t *testing.T) {
	f := newExecFixture(t)
	ctx := context.Background()
	f.postPrice("BTC/USD", 100)

	// The venue accepts the order but the ack times out.
	f.gateway.TimeoutNextPlace()

	res, decision, err := f.executor.PlaceOrder(ctx, buyIntent())
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.False(t, res.PendingVerification, "client-id lookup should have resolved it")

	// Resolved without a second submission: the row carries the venue id
	// and the fill the first attempt produced.
	o, err := f.store.GetOrder(ctx, res.OrderID)
	require.NoError(t, err)
	assert.NotEmpty(t, o.ExchangeOrderID)
	assert.Equal(t, string(exchange.StatusFilled), o.Status)
	assert.InDelta(t, 5, o.FilledQty, 1e-9)

	// The resolved fill is a real fill: it opened the position.
	require.NotEmpty(t, res.PositionID)
	p, err := f.store.GetPosition(ctx, res.PositionID)
	require.NoError(t, err)
	assert.Equal(t, "OPEN", p.Status)
}

func TestPlaceOrderTimeoutUnresolvedStaysPending(t *testing.T) {
	f := newExecFixture(t)
	ctx := context.Background()
	f.postPrice("BTC/USD", 100)

	// The order never reached the book; nothing to find by client id.
	f.gateway.FailNextPlace(errs.ErrExchangeTimeout)

	res, decision, err := f.executor.PlaceOrder(ctx, buyIntent())
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.True(t, res.PendingVerification)

	o, err := f.store.GetOrder(ctx, res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, string(exchange.StatusPending), o.Status)
	assert.Empty(t, o.ExchangeOrderID)
}

func TestPlaceOrderRejectedByVenue(t *testing.T) {
	f := newExecFixture(t)
	ctx := context.Background()
	f.postPrice("BTC/USD", 100)

	f.gateway.FailNextPlace(errs.ErrExchangeRejected)

	_, _, err := f.executor.PlaceOrder(ctx, buyIntent())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrExchangeRejected))

	open, err := f.store.ListOpenOrders(ctx, 50)
	require.NoError(t, err)
	assert.Empty(t, open, "rejected order must not stay open")
}

func TestQueryAndUpdateOrderNeverDowngradesTerminal(t *testing.T) {
	f := newExecFixture(t)
	ctx := context.Background()

	row := db.Order{
		ID:              "ord-1",
		PortfolioID:     "pf-1",
		Symbol:          "BTC/USD",
		Side:            "BUY",
		Type:            "MARKET",
		Qty:             5,
		Status:          string(exchange.StatusFilled),
		ExchangeOrderID: "venue-1",
		FilledQty:       5,
	}
	require.NoError(t, f.store.CreateOrder(ctx, row))

	// The venue knows nothing about "venue-1"; a live query would fail.
	// Terminal rows must short-circuit before any venue call.
	require.NoError(t, f.executor.QueryAndUpdateOrder(ctx, &row))

	o, err := f.store.GetOrder(ctx, "ord-1")
	require.NoError(t, err)
	assert.Equal(t, string(exchange.StatusFilled), o.Status)
}

func TestCancelOrder(t *testing.T) {
	f := newExecFixture(t)
	ctx := context.Background()
	f.postPrice("BTC/USD", 100)

	// A limit entry below the market rests on the book.
	intent := buyIntent()
	intent.LimitPrice = 90
	res, decision, err := f.executor.PlaceOrder(ctx, intent)
	require.NoError(t, err)
	require.True(t, decision.Allowed)
	require.Empty(t, res.PositionID, "resting entry opens no position")

	require.NoError(t, f.executor.CancelOrder(ctx, res.OrderID))
	o, err := f.store.GetOrder(ctx, res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, string(exchange.StatusCancelled), o.Status)

	// Cancelling a terminal order is an invalid state, not a no-op.
	err = f.executor.CancelOrder(ctx, res.OrderID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrInvalidState))
}

func TestClosePositionRealizesLossIntoBreakers(t *testing.T) {
	f := newExecFixture(t)
	ctx := context.Background()
	f.postPrice("BTC/USD", 100)

	res, _, err := f.executor.PlaceOrder(ctx, buyIntent())
	require.NoError(t, err)
	require.NotEmpty(t, res.PositionID)

	// Stopped out past the stop: (96-100)*5 - 1 fee = -21, which is 2.1R
	// against the $10 risk unit and trips the asset breaker.
	require.NoError(t, f.executor.ClosePosition(ctx, res.PositionID, 96, 1))

	p, err := f.store.GetPosition(ctx, res.PositionID)
	require.NoError(t, err)
	assert.Equal(t, "CLOSED", p.Status)

	pf, err := f.store.GetPortfolio(ctx, "pf-1")
	require.NoError(t, err)
	assert.InDelta(t, 10000-21, pf.TotalValueUSD, 1e-9)
	assert.InDelta(t, -21, pf.RealizedPnL, 1e-9)

	tripped, err := f.breakers.IsTripped(ctx, "pf-1", breaker.AssetScope("BTC/USD"))
	require.NoError(t, err)
	assert.True(t, tripped)

	// Closing twice is an invalid state.
	err = f.executor.ClosePosition(ctx, res.PositionID, 96, 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrInvalidState))
}

func TestPlaceOrderUsesProfileBracketDefaults(t *testing.T) {
	f := newExecFixture(t)
	ctx := context.Background()
	f.postPrice("BTC/USD", 100)

	f.executor.Defaults = BracketParams{SLATR: 1.5, TP1ATR: 2.0, TP2ATR: 4.0}
	res, _, err := f.executor.PlaceOrder(ctx, buyIntent())
	require.NoError(t, err)
	assert.InDelta(t, 97, res.Bracket.StopLoss, 1e-9)
	assert.InDelta(t, 104, res.Bracket.TakeProfit1, 1e-9)
	assert.InDelta(t, 108, res.Bracket.TakeProfit2, 1e-9)

	// An explicit geometry on the intent still wins over the defaults.
	intent := buyIntent()
	intent.Bracket = BracketParams{SLATR: 1.0, TP1ATR: 1.2, TP2ATR: 2.5}
	res, _, err = f.executor.PlaceOrder(ctx, intent)
	require.NoError(t, err)
	assert.InDelta(t, 98, res.Bracket.StopLoss, 1e-9)
}

func TestVenueCallsFeedPacerWeight(t *testing.T) {
	f := newExecFixture(t)
	ctx := context.Background()
	f.postPrice("BTC/USD", 100)

	f.executor.Pacer = exchange.NewPacer(100, 10, 1200, time.Minute)
	_, _, err := f.executor.PlaceOrder(ctx, buyIntent())
	require.NoError(t, err)

	// The paper venue reports its used weight and the executor feeds it
	// through after every call.
	used, limit := f.executor.Pacer.Usage()
	assert.Equal(t, 1200, limit)
	assert.Positive(t, used)
}

func TestClosePositionFeeCountedOnceInRealizedPnL(t *testing.T) {
	f := newExecFixture(t)
	ctx := context.Background()
	f.postPrice("BTC/USD", 100)

	intent := buyIntent()
	intent.Qty = 1
	res, _, err := f.executor.PlaceOrder(ctx, intent)
	require.NoError(t, err)
	require.NotEmpty(t, res.PositionID)

	// (90-100)*1 = -10 price PnL, -15 net of the $5 fee.
	require.NoError(t, f.executor.ClosePosition(ctx, res.PositionID, 90, 5))

	pf, err := f.store.GetPortfolio(ctx, "pf-1")
	require.NoError(t, err)
	assert.InDelta(t, 10000-15, pf.TotalValueUSD, 1e-9)

	// The daily-loss source of truth matches the equity move: the fee is
	// subtracted exactly once, not in the stored pnl AND in the query.
	midnight := time.Now().UTC().Truncate(24 * time.Hour)
	sum, err := f.store.SumRealizedPnLSince(ctx, "pf-1", midnight)
	require.NoError(t, err)
	assert.InDelta(t, -15, sum, 1e-9)
}

func TestIntentValidation(t *testing.T) {
	f := newExecFixture(t)
	ctx := context.Background()

	cases := []struct {
		name   string
		mutate func(*Intent)
	}{
		{"empty portfolio", func(i *Intent) { i.PortfolioID = "" }},
		{"empty symbol", func(i *Intent) { i.Symbol = "" }},
		{"bad side", func(i *Intent) { i.Side = "HOLD" }},
		{"zero qty", func(i *Intent) { i.Qty = 0 }},
		{"zero atr", func(i *Intent) { i.ATR = 0 }},
		{"negative limit", func(i *Intent) { i.LimitPrice = -1 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			intent := buyIntent()
			tc.mutate(&intent)
			_, _, err := f.executor.PlaceOrder(ctx, intent)
			require.Error(t, err)
			assert.True(t, errors.Is(err, errs.ErrValidation))
		})
	}
}
