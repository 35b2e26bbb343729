// Package paper implements a simulated venue used by tests and dry runs.
// Market orders fill immediately at the posted mark price; limit and stop
// orders rest until the mark is moved across them.
package paper

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"execution-core/pkg/errs"
	"execution-core/pkg/exchange"
)

// Request weights mimic a live venue's per-call budget accounting.
const (
	placeWeight  = 1
	queryWeight  = 2
	cancelWeight = 1
)

// Gateway is an in-memory exchange.Gateway.
type Gateway struct {
	mu         sync.Mutex
	prices     map[string]float64
	orders     map[string]*paperOrder
	seq        int
	usedWeight int

	// fault injection for tests
	nextPlaceErr    error
	timeoutButReach bool // when true, the order reaches the book before the timeout error
}

type paperOrder struct {
	req          exchange.OrderRequest
	status       exchange.OrderStatus
	filledQty    float64
	avgFillPrice float64
}

// New creates an empty paper venue.
func New() *Gateway {
	return &Gateway{
		prices: make(map[string]float64),
		orders: make(map[string]*paperOrder),
	}
}

// SetPrice posts a mark price and fills any resting orders it crosses.
func (g *Gateway) SetPrice(symbol string, price float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prices[symbol] = price

	for _, o := range g.orders {
		if o.req.Symbol != symbol || o.status != exchange.StatusOpen {
			continue
		}
		if crossed(o.req, price) {
			o.status = exchange.StatusFilled
			o.filledQty = o.req.Qty
			o.avgFillPrice = price
		}
	}
}

// FailNextPlace makes the next PlaceOrder return err without registering
// the order.
func (g *Gateway) FailNextPlace(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nextPlaceErr = err
	g.timeoutButReach = false
}

// TimeoutNextPlace makes the next PlaceOrder return ErrExchangeTimeout
// while the order still reaches the book — the ambiguous-outcome case.
func (g *Gateway) TimeoutNextPlace() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nextPlaceErr = errs.ErrExchangeTimeout
	g.timeoutButReach = true
}

// PlaceOrder registers the order and fills market orders at the mark.
func (g *Gateway) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (exchange.OrderResult, error) {
	if err := ctx.Err(); err != nil {
		return exchange.OrderResult{}, fmt.Errorf("paper place: %w", errs.ErrExchangeTimeout)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.usedWeight += placeWeight

	if g.nextPlaceErr != nil {
		err := g.nextPlaceErr
		reach := g.timeoutButReach
		g.nextPlaceErr = nil
		g.timeoutButReach = false
		if !reach {
			return exchange.OrderResult{}, fmt.Errorf("paper place: %w", err)
		}
		// Register the order, then report the timeout: the caller does
		// not know the order made it.
		g.register(req)
		return exchange.OrderResult{}, fmt.Errorf("paper place: %w", err)
	}

	if req.Qty <= 0 {
		return exchange.OrderResult{}, fmt.Errorf("paper place: qty %.8f: %w", req.Qty, errs.ErrExchangeRejected)
	}

	id, o := g.register(req)
	return exchange.OrderResult{ExchangeOrderID: id, Status: o.status}, nil
}

func (g *Gateway) register(req exchange.OrderRequest) (string, *paperOrder) {
	g.seq++
	id := fmt.Sprintf("paper-%d-%d", time.Now().UnixNano(), g.seq)

	o := &paperOrder{req: req, status: exchange.StatusOpen}
	if req.Type == exchange.OrderTypeMarket {
		mark, ok := g.prices[req.Symbol]
		if !ok {
			mark = req.Price
		}
		if mark > 0 {
			o.status = exchange.StatusFilled
			o.filledQty = req.Qty
			o.avgFillPrice = mark
		}
	}
	g.orders[id] = o
	return id, o
}

// CancelOrder cancels a resting order.
func (g *Gateway) CancelOrder(ctx context.Context, symbol, exchangeOrderID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.usedWeight += cancelWeight

	o, ok := g.orders[exchangeOrderID]
	if !ok {
		return fmt.Errorf("paper cancel %s: %w", exchangeOrderID, errs.ErrNotFound)
	}
	if o.status.IsTerminal() {
		return fmt.Errorf("paper cancel %s in %s: %w", exchangeOrderID, o.status, errs.ErrExchangeRejected)
	}
	o.status = exchange.StatusCancelled
	return nil
}

// QueryOrder returns the venue-side view of an order.
func (g *Gateway) QueryOrder(ctx context.Context, symbol, exchangeOrderID string) (exchange.OrderState, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.usedWeight += queryWeight

	o, ok := g.orders[exchangeOrderID]
	if !ok {
		// Fall back to client-id lookup, used when placement timed out
		// before the exchange id reached the caller.
		for _, cand := range g.orders {
			if cand.req.ClientID == exchangeOrderID && cand.req.ClientID != "" {
				o = cand
				ok = true
				break
			}
		}
	}
	if !ok {
		return exchange.OrderState{}, fmt.Errorf("paper query %s: %w", exchangeOrderID, errs.ErrNotFound)
	}
	return exchange.OrderState{Status: o.status, FilledQty: o.filledQty, AvgFillPrice: o.avgFillPrice}, nil
}

// FindByClientID returns the venue order id for a client order id, used by
// reconciliation after an ambiguous placement.
func (g *Gateway) FindByClientID(clientID string) (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for id, o := range g.orders {
		if o.req.ClientID == clientID {
			return id, true
		}
	}
	return "", false
}

// WeightHeader reports the cumulative request weight the way a live venue
// does in its response headers, so callers can feed the pacer.
func (g *Gateway) WeightHeader() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return strconv.Itoa(g.usedWeight)
}

func crossed(req exchange.OrderRequest, mark float64) bool {
	switch req.Type {
	case exchange.OrderTypeLimit:
		if req.Side == exchange.SideBuy {
			return mark <= req.Price
		}
		return mark >= req.Price
	case exchange.OrderTypeStopLoss:
		if req.Side == exchange.SideSell {
			return mark <= req.StopPrice
		}
		return mark >= req.StopPrice
	case exchange.OrderTypeTakeProfit:
		if req.Side == exchange.SideSell {
			return mark >= req.StopPrice
		}
		return mark <= req.StopPrice
	}
	return false
}
