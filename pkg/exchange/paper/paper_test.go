package paper

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"execution-core/pkg/errs"
	"execution-core/pkg/exchange"
)

func TestMarketOrderFillsAtMark(t *testing.T) {
	g := New()
	g.SetPrice("BTC/USD", 100)

	res, err := g.PlaceOrder(context.Background(), exchange.OrderRequest{
		Symbol: "BTC/USD", Side: exchange.SideBuy, Type: exchange.OrderTypeMarket, Qty: 2,
	})
	require.NoError(t, err)
	assert.Equal(t, exchange.StatusFilled, res.Status)

	st, err := g.QueryOrder(context.Background(), "BTC/USD", res.ExchangeOrderID)
	require.NoError(t, err)
	assert.InDelta(t, 2, st.FilledQty, 1e-9)
	assert.InDelta(t, 100, st.AvgFillPrice, 1e-9)
}

func TestLimitOrderRestsUntilCrossed(t *testing.T) {
	g := New()
	g.SetPrice("BTC/USD", 100)

	res, err := g.PlaceOrder(context.Background(), exchange.OrderRequest{
		Symbol: "BTC/USD", Side: exchange.SideBuy, Type: exchange.OrderTypeLimit, Qty: 1, Price: 95,
	})
	require.NoError(t, err)
	assert.Equal(t, exchange.StatusOpen, res.Status)

	g.SetPrice("BTC/USD", 96)
	st, err := g.QueryOrder(context.Background(), "BTC/USD", res.ExchangeOrderID)
	require.NoError(t, err)
	assert.Equal(t, exchange.StatusOpen, st.Status)

	g.SetPrice("BTC/USD", 94)
	st, err = g.QueryOrder(context.Background(), "BTC/USD", res.ExchangeOrderID)
	require.NoError(t, err)
	assert.Equal(t, exchange.StatusFilled, st.Status)
	assert.InDelta(t, 94, st.AvgFillPrice, 1e-9)
}

func TestCancelTerminalOrderRejected(t *testing.T) {
	g := New()
	g.SetPrice("BTC/USD", 100)

	res, err := g.PlaceOrder(context.Background(), exchange.OrderRequest{
		Symbol: "BTC/USD", Side: exchange.SideBuy, Type: exchange.OrderTypeMarket, Qty: 1,
	})
	require.NoError(t, err)

	err = g.CancelOrder(context.Background(), "BTC/USD", res.ExchangeOrderID)
	assert.True(t, errors.Is(err, errs.ErrExchangeRejected))
}

func TestTimeoutNextPlaceStillReachesBook(t *testing.T) {
	g := New()
	g.SetPrice("BTC/USD", 100)
	g.TimeoutNextPlace()

	_, err := g.PlaceOrder(context.Background(), exchange.OrderRequest{
		Symbol: "BTC/USD", Side: exchange.SideBuy, Type: exchange.OrderTypeMarket, Qty: 1, ClientID: "client-1",
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrExchangeTimeout))

	// The caller never saw the venue id, but the order exists and filled.
	id, ok := g.FindByClientID("client-1")
	require.True(t, ok)
	st, err := g.QueryOrder(context.Background(), "BTC/USD", id)
	require.NoError(t, err)
	assert.Equal(t, exchange.StatusFilled, st.Status)

	// QueryOrder also resolves client ids directly.
	st, err = g.QueryOrder(context.Background(), "BTC/USD", "client-1")
	require.NoError(t, err)
	assert.Equal(t, exchange.StatusFilled, st.Status)
}

func TestWeightHeaderAccumulates(t *testing.T) {
	g := New()
	g.SetPrice("BTC/USD", 100)
	assert.Equal(t, "0", g.WeightHeader())

	res, err := g.PlaceOrder(context.Background(), exchange.OrderRequest{
		Symbol: "BTC/USD", Side: exchange.SideBuy, Type: exchange.OrderTypeMarket, Qty: 1,
	})
	require.NoError(t, err)
	_, err = g.QueryOrder(context.Background(), "BTC/USD", res.ExchangeOrderID)
	require.NoError(t, err)

	// place weighs 1, query weighs 2
	assert.Equal(t, "3", g.WeightHeader())
}

func TestFailNextPlaceDropsOrder(t *testing.T) {
	g := New()
	g.SetPrice("BTC/USD", 100)
	g.FailNextPlace(errs.ErrExchangeRejected)

	_, err := g.PlaceOrder(context.Background(), exchange.OrderRequest{
		Symbol: "BTC/USD", Side: exchange.SideBuy, Type: exchange.OrderTypeMarket, Qty: 1, ClientID: "client-1",
	})
	require.Error(t, err)

	_, ok := g.FindByClientID("client-1")
	assert.False(t, ok)
}
