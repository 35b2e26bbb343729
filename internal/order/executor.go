package order

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"execution-core/internal/breaker"
	"execution-core/internal/events"
	"execution-core/internal/market"
	"execution-core/internal/monitor"
	"execution-core/internal/risk"
	"execution-core/internal/signal"
	"execution-core/pkg/db"
	"execution-core/pkg/errs"
	"execution-core/pkg/exchange"
)

// Executor is the only path that places orders. Every placement runs the
// full admission sequence under the portfolio lock, so the decision and
// the submission cannot interleave with another order for the same
// portfolio.
type Executor struct {
	Store    *db.Database
	Gateway  exchange.Gateway
	Gate     *risk.Gate
	Breakers *breaker.Registry
	Signals  *signal.Service
	Bus      *events.Bus
	Pacer    *exchange.Pacer
	Quotes   market.DataSource
	Venue    string
	Timeout  time.Duration // per venue call

	// Defaults is the bracket geometry used when the intent carries none,
	// typically fed from the active risk profile.
	Defaults BracketParams
}

// clientIDLookup is implemented by gateways that can resolve a client
// order id to a venue order id, used after an ambiguous placement.
type clientIDLookup interface {
	FindByClientID(clientID string) (string, bool)
}

// weightReporter is implemented by gateways that report the venue's used
// request weight, fed into the pacer after each call.
type weightReporter interface {
	WeightHeader() string
}

// PlaceOrder runs admission and places the entry order with its bracket.
//
// A denied admission is not an error: the Decision carries the reason and
// the Result is zero. A venue timeout is never retried; the order row
// stays PENDING and the reconcile loop resolves it by client order id.
func (e *Executor) PlaceOrder(ctx context.Context, intent Intent) (Result, risk.Decision, error) {
	if err := validateIntent(intent); err != nil {
		return Result{}, risk.Decision{}, err
	}

	entry, err := e.entryPrice(ctx, intent)
	if err != nil {
		return Result{}, risk.Decision{}, err
	}

	params := intent.Bracket
	if params == (BracketParams{}) {
		params = e.Defaults
	}
	if params == (BracketParams{}) {
		params = DefaultBracketParams()
	}
	brk, err := BuildBracket(intent.Side, entry, intent.ATR, params)
	if err != nil {
		return Result{}, risk.Decision{}, err
	}

	clusterNum, err := e.Store.ClusterForSymbol(ctx, intent.PortfolioID, intent.Symbol)
	if err != nil {
		return Result{}, risk.Decision{}, err
	}

	// Admission and placement hold the portfolio lock together.
	unlock := e.Gate.Locks.Lock(intent.PortfolioID)
	defer unlock()

	decision, err := e.Gate.Evaluate(ctx, risk.CheckRequest{
		PortfolioID:      intent.PortfolioID,
		Symbol:           intent.Symbol,
		ClusterNum:       clusterNum,
		PositionValueUSD: intent.Qty * entry,
		EntryPrice:       entry,
		Quantity:         intent.Qty,
		StopPrice:        brk.StopLoss,
	})
	if err != nil {
		return Result{}, risk.Decision{}, err
	}
	if !decision.Allowed {
		return Result{}, decision, nil
	}

	orderID := uuid.New().String()
	entryType := exchange.OrderTypeMarket
	if intent.LimitPrice > 0 {
		entryType = exchange.OrderTypeLimit
	}
	row := db.Order{
		ID:          orderID,
		PortfolioID: intent.PortfolioID,
		Symbol:      intent.Symbol,
		Side:        string(intent.Side),
		Type:        string(entryType),
		Qty:         intent.Qty,
		Price:       intent.LimitPrice,
		Status:      string(exchange.StatusPending),
		SignalID:    intent.SignalID,
		ATR:         intent.ATR,
		SLMult:      params.SLATR,
		TP1Mult:     params.TP1ATR,
		TP2Mult:     params.TP2ATR,
	}
	if err := e.Store.CreateOrder(ctx, row); err != nil {
		return Result{}, risk.Decision{}, fmt.Errorf("persist order: %w", err)
	}
	if e.Bus != nil {
		e.Bus.Publish(events.EventOrderSubmitted, row)
	}

	req := exchange.OrderRequest{
		Symbol:   intent.Symbol,
		Side:     intent.Side,
		Type:     entryType,
		Qty:      intent.Qty,
		Price:    intent.LimitPrice,
		ClientID: orderID,
	}
	res, err := e.submit(ctx, req)
	if err != nil {
		return e.handlePlaceError(ctx, orderID, intent, clusterNum, entry, brk, err)
	}

	if err := e.Store.SetOrderExchangeID(ctx, orderID, res.ExchangeOrderID); err != nil {
		log.Printf("order: store exchange id for %s: %v", orderID, err)
	}
	if e.Bus != nil {
		e.Bus.Publish(events.EventOrderAccepted, row)
	}

	// Pull the venue-side state for fill details; the ack alone carries no
	// fill price.
	state, err := e.Gateway.QueryOrder(ctx, intent.Symbol, res.ExchangeOrderID)
	e.noteWeight()
	if err != nil {
		log.Printf("order: query after place %s: %v", orderID, err)
		state = exchange.OrderState{Status: res.Status}
	}
	if err := e.Store.UpdateOrderExec(ctx, orderID, string(state.Status), state.FilledQty, state.AvgFillPrice); err != nil {
		log.Printf("order: update exec state for %s: %v", orderID, err)
	}
	monitor.RecordOrder(string(entryType), string(state.Status))

	out := Result{OrderID: orderID, EntryPrice: entry, Bracket: brk, PlacedAt: time.Now()}
	if state.Status != exchange.StatusFilled {
		// Resting entry: the reconcile loop tracks it from here.
		return out, decision, nil
	}

	fillPrice := state.AvgFillPrice
	if fillPrice <= 0 {
		fillPrice = entry
	}
	positionID, err := e.finishEntryFill(ctx, orderID, intent, clusterNum, fillPrice, brk)
	if err != nil {
		return out, decision, err
	}
	out.PositionID = positionID
	out.EntryPrice = fillPrice
	return out, decision, nil
}

// finishEntryFill runs the bookkeeping every filled entry shares, whether
// the fill was confirmed at placement, after a timeout, or by the
// reconcile sweep: open the position, move the signal, place the bracket.
func (e *Executor) finishEntryFill(ctx context.Context, orderID string, intent Intent, clusterNum int, fillPrice float64, brk Bracket) (string, error) {
	positionID, err := e.openPosition(ctx, intent, clusterNum, fillPrice, brk)
	if err != nil {
		return "", err
	}
	if e.Bus != nil {
		e.Bus.Publish(events.EventOrderFilled, db.Order{
			ID:           orderID,
			PortfolioID:  intent.PortfolioID,
			Symbol:       intent.Symbol,
			Side:         string(intent.Side),
			Qty:          intent.Qty,
			Status:       string(exchange.StatusFilled),
			FilledQty:    intent.Qty,
			AvgFillPrice: fillPrice,
		})
	}

	if intent.SignalID != "" {
		if err := e.Signals.MarkExecuted(ctx, intent.SignalID, positionID, fillPrice); err != nil {
			log.Printf("order: mark signal %s executed: %v", intent.SignalID, err)
		}
	}

	e.placeBracketLegs(ctx, orderID, intent, brk)
	return positionID, nil
}

// submit sends one venue call under the pacer and the call timeout.
func (e *Executor) submit(ctx context.Context, req exchange.OrderRequest) (exchange.OrderResult, error) {
	if e.Pacer != nil {
		if err := e.Pacer.Wait(ctx); err != nil {
			return exchange.OrderResult{}, fmt.Errorf("pacer: %w", err)
		}
	}
	callCtx := ctx
	if e.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}
	res, err := e.Gateway.PlaceOrder(callCtx, req)
	e.noteWeight()
	return res, err
}

// noteWeight feeds the venue's used-weight report into the pacer after a
// gateway call, when the gateway exposes one.
func (e *Executor) noteWeight() {
	if e.Pacer == nil {
		return
	}
	if wr, ok := e.Gateway.(weightReporter); ok {
		e.Pacer.UpdateFromHeader(wr.WeightHeader())
	}
}

// handlePlaceError maps a failed venue call onto the order row. The
// timeout branch is the ambiguous one: the order may or may not have
// reached the book, so it is NEVER retried. We first try to resolve it
// by client order id; failing that, the row stays PENDING for the
// reconcile loop.
func (e *Executor) handlePlaceError(ctx context.Context, orderID string, intent Intent, clusterNum int, entry float64, brk Bracket, placeErr error) (Result, risk.Decision, error) {
	if errors.Is(placeErr, errs.ErrExchangeTimeout) || errors.Is(placeErr, context.DeadlineExceeded) {
		monitor.RecordExchangeError("timeout")
		log.Printf("order: place %s timed out, reconciling by client id", orderID)

		if lookup, ok := e.Gateway.(clientIDLookup); ok {
			if exchangeID, found := lookup.FindByClientID(orderID); found {
				if err := e.Store.SetOrderExchangeID(ctx, orderID, exchangeID); err != nil {
					log.Printf("order: store exchange id for %s: %v", orderID, err)
				}
				state, qerr := e.Gateway.QueryOrder(ctx, intent.Symbol, exchangeID)
				e.noteWeight()
				if qerr == nil {
					if err := e.Store.UpdateOrderExec(ctx, orderID, string(state.Status), state.FilledQty, state.AvgFillPrice); err != nil {
						log.Printf("order: update exec state for %s: %v", orderID, err)
					}
					monitor.RecordOrder(string(exchange.OrderTypeMarket), string(state.Status))
					out := Result{OrderID: orderID, EntryPrice: entry, Bracket: brk, PlacedAt: time.Now()}
					if state.Status == exchange.StatusFilled {
						fill := state.AvgFillPrice
						if fill <= 0 {
							fill = entry
						}
						positionID, ferr := e.finishEntryFill(ctx, orderID, intent, clusterNum, fill, brk)
						if ferr != nil {
							return out, risk.Decision{Allowed: true}, ferr
						}
						out.PositionID = positionID
						out.EntryPrice = fill
					}
					return out, risk.Decision{Allowed: true}, nil
				}
			}
		}
		return Result{OrderID: orderID, EntryPrice: entry, Bracket: brk, PlacedAt: time.Now(), PendingVerification: true},
			risk.Decision{Allowed: true}, nil
	}

	if errors.Is(placeErr, errs.ErrExchangeRejected) {
		monitor.RecordExchangeError("rejected")
	} else {
		monitor.RecordExchangeError("other")
	}
	if err := e.Store.UpdateOrderStatus(ctx, orderID, string(exchange.StatusRejected)); err != nil {
		log.Printf("order: mark %s rejected: %v", orderID, err)
	}
	if e.Bus != nil {
		e.Bus.Publish(events.EventOrderRejected, events.RiskDenialEvent{
			PortfolioID: intent.PortfolioID, Symbol: intent.Symbol, Reason: placeErr.Error(),
		})
	}
	return Result{}, risk.Decision{}, fmt.Errorf("place order %s: %w", orderID, placeErr)
}

func (e *Executor) openPosition(ctx context.Context, intent Intent, clusterNum int, fillPrice float64, brk Bracket) (string, error) {
	d := fillPrice - brk.StopLoss
	if d < 0 {
		d = -d
	}
	p := db.Position{
		ID:          uuid.New().String(),
		PortfolioID: intent.PortfolioID,
		Symbol:      intent.Symbol,
		Side:        string(intent.Side),
		Qty:         intent.Qty,
		EntryPrice:  fillPrice,
		StopLoss:    brk.StopLoss,
		TakeProfit:  brk.TakeProfit2,
		RiskUSD:     intent.Qty * d,
		ClusterNum:  clusterNum,
		Status:      "OPEN",
	}
	if err := e.Store.CreatePosition(ctx, p); err != nil {
		return "", fmt.Errorf("persist position: %w", err)
	}
	return p.ID, nil
}

// placeBracketLegs submits the protective orders for a filled entry. A
// failed leg is a warning, not a rollback: the position exists either
// way and operators act on the log line.
func (e *Executor) placeBracketLegs(ctx context.Context, parentID string, intent Intent, brk Bracket) {
	for _, req := range legRequests(intent.Symbol, intent.Side, intent.Qty, brk) {
		legID := uuid.New().String()
		req.ClientID = legID

		row := db.Order{
			ID:            legID,
			PortfolioID:   intent.PortfolioID,
			ParentOrderID: parentID,
			Symbol:        req.Symbol,
			Side:          string(req.Side),
			Type:          string(req.Type),
			Qty:           req.Qty,
			StopPrice:     req.StopPrice,
			Status:        string(exchange.StatusPending),
		}
		if err := e.Store.CreateOrder(ctx, row); err != nil {
			log.Printf("order: WARNING persist bracket leg %s for %s: %v", req.Type, parentID, err)
			continue
		}

		res, err := e.submit(ctx, req)
		if err != nil {
			log.Printf("order: WARNING bracket leg %s for %s failed: %v", req.Type, parentID, err)
			monitor.RecordOrder(string(req.Type), "failed")
			continue
		}
		if err := e.Store.SetOrderExchangeID(ctx, legID, res.ExchangeOrderID); err != nil {
			log.Printf("order: store exchange id for leg %s: %v", legID, err)
		}
		if err := e.Store.UpdateOrderStatus(ctx, legID, string(exchange.StatusOpen)); err != nil {
			log.Printf("order: update leg %s status: %v", legID, err)
		}
		monitor.RecordOrder(string(req.Type), string(exchange.StatusOpen))
	}
}

// QueryAndUpdateOrder refreshes one order row from the venue. Terminal
// rows are never touched again, whatever the venue reports.
func (e *Executor) QueryAndUpdateOrder(ctx context.Context, o *db.Order) error {
	if exchange.OrderStatus(o.Status).IsTerminal() {
		return nil
	}

	lookupID := o.ExchangeOrderID
	if lookupID == "" {
		// Ambiguous placement: resolve by client order id (== our row id).
		if lookup, ok := e.Gateway.(clientIDLookup); ok {
			if exchangeID, found := lookup.FindByClientID(o.ID); found {
				lookupID = exchangeID
				if err := e.Store.SetOrderExchangeID(ctx, o.ID, exchangeID); err != nil {
					log.Printf("order: store exchange id for %s: %v", o.ID, err)
				}
			}
		}
		if lookupID == "" {
			lookupID = o.ID
		}
	}

	state, err := e.Gateway.QueryOrder(ctx, o.Symbol, lookupID)
	e.noteWeight()
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) && o.ExchangeOrderID == "" {
			// The order never reached the book: the timeout swallowed it.
			// Safe to close the row out.
			log.Printf("order: %s not found on venue, marking rejected", o.ID)
			return e.Store.UpdateOrderStatus(ctx, o.ID, string(exchange.StatusRejected))
		}
		return fmt.Errorf("query order %s: %w", o.ID, err)
	}

	if string(state.Status) == o.Status && state.FilledQty == o.FilledQty {
		return nil
	}
	if err := e.Store.UpdateOrderExec(ctx, o.ID, string(state.Status), state.FilledQty, state.AvgFillPrice); err != nil {
		return err
	}
	if e.Bus != nil {
		e.Bus.Publish(events.EventOrderUpdate, *o)
	}
	log.Printf("order: %s %s -> %s (filled %.8f)", o.ID, o.Status, state.Status, state.FilledQty)

	// A parentless entry order that just filled still needs its position,
	// signal transition, and bracket. Legs carry a parent id and no ATR,
	// so only entries take this path.
	if o.ParentOrderID == "" && o.ATR > 0 && state.Status == exchange.StatusFilled {
		return e.completeLateEntry(ctx, o, state)
	}
	return nil
}

// completeLateEntry finishes an entry that filled after placement, e.g. a
// resting limit the reconcile sweep caught. The bracket is rebuilt from
// the actual fill price so the stop distance matches what was paid, and
// the bookkeeping runs under the portfolio lock so admission for that
// portfolio sees the new exposure.
func (e *Executor) completeLateEntry(ctx context.Context, o *db.Order, state exchange.OrderState) error {
	params := BracketParams{SLATR: o.SLMult, TP1ATR: o.TP1Mult, TP2ATR: o.TP2Mult}
	if params == (BracketParams{}) {
		params = DefaultBracketParams()
	}
	fill := state.AvgFillPrice
	if fill <= 0 {
		fill = o.Price
	}
	brk, err := BuildBracket(exchange.Side(o.Side), fill, o.ATR, params)
	if err != nil {
		return fmt.Errorf("bracket for late fill %s: %w", o.ID, err)
	}
	clusterNum, err := e.Store.ClusterForSymbol(ctx, o.PortfolioID, o.Symbol)
	if err != nil {
		return err
	}

	intent := Intent{
		PortfolioID: o.PortfolioID,
		SignalID:    o.SignalID,
		Symbol:      o.Symbol,
		Side:        exchange.Side(o.Side),
		Qty:         o.Qty,
		ATR:         o.ATR,
	}
	if e.Gate != nil {
		unlock := e.Gate.Locks.Lock(o.PortfolioID)
		defer unlock()
	}
	positionID, err := e.finishEntryFill(ctx, o.ID, intent, clusterNum, fill, brk)
	if err != nil {
		return err
	}
	log.Printf("order: late fill %s opened position %s at %.8f", o.ID, positionID, fill)
	return nil
}

// CancelOrder cancels a PENDING or OPEN order. Cancelling a terminal
// order is an invalid-state error, not a no-op.
func (e *Executor) CancelOrder(ctx context.Context, orderID string) error {
	o, err := e.Store.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if exchange.OrderStatus(o.Status).IsTerminal() {
		return fmt.Errorf("cancel order %s in %s: %w", orderID, o.Status, errs.ErrInvalidState)
	}

	if o.ExchangeOrderID != "" {
		err := e.Gateway.CancelOrder(ctx, o.Symbol, o.ExchangeOrderID)
		e.noteWeight()
		if err != nil {
			return fmt.Errorf("cancel order %s: %w", orderID, err)
		}
	}
	if err := e.Store.UpdateOrderStatus(ctx, orderID, string(exchange.StatusCancelled)); err != nil {
		return err
	}
	if e.Bus != nil {
		e.Bus.Publish(events.EventOrderCancelled, *o)
	}
	monitor.RecordOrder(o.Type, string(exchange.StatusCancelled))
	return nil
}

// ClosePosition realizes a position at exitPrice: records the trade,
// applies PnL to the portfolio, and feeds the realized loss (in R) into
// the asset and cluster breaker accumulators.
func (e *Executor) ClosePosition(ctx context.Context, positionID string, exitPrice, fee float64) error {
	if exitPrice <= 0 {
		return fmt.Errorf("exit price %.8f must be positive: %w", exitPrice, errs.ErrValidation)
	}
	p, err := e.Store.GetPosition(ctx, positionID)
	if err != nil {
		return err
	}
	if p.Status != "OPEN" {
		return fmt.Errorf("position %s is %s: %w", positionID, p.Status, errs.ErrInvalidState)
	}

	// The trade row stores the price PnL gross of fee; the fee sits in its
	// own column and realized-PnL queries subtract it exactly once.
	gross := (exitPrice - p.EntryPrice) * p.Qty
	if exchange.Side(p.Side) == exchange.SideSell {
		gross = -gross
	}
	net := gross - fee

	trade := db.Trade{
		ID:          uuid.New().String(),
		PortfolioID: p.PortfolioID,
		PositionID:  p.ID,
		Symbol:      p.Symbol,
		Side:        string(exchange.Side(p.Side).Opposite()),
		Qty:         p.Qty,
		Price:       exitPrice,
		Fee:         fee,
		PnL:         gross,
	}
	if err := e.Store.CreateTrade(ctx, trade); err != nil {
		return fmt.Errorf("record trade: %w", err)
	}
	if err := e.Store.ClosePosition(ctx, p.ID); err != nil {
		return err
	}
	if err := e.Store.ApplyPortfolioPnL(ctx, p.PortfolioID, net); err != nil {
		return err
	}

	lossR := 0.0
	if p.RiskUSD > 0 {
		lossR = -net / p.RiskUSD
	}
	if e.Breakers != nil && lossR != 0 {
		if err := e.Breakers.RecordLoss(ctx, p.PortfolioID, breaker.AssetScope(p.Symbol), lossR); err != nil {
			log.Printf("order: record asset loss for %s: %v", p.Symbol, err)
		}
		if p.ClusterNum > 0 {
			if err := e.Breakers.RecordLoss(ctx, p.PortfolioID, breaker.ClusterScope(p.ClusterNum), lossR); err != nil {
				log.Printf("order: record cluster %d loss: %v", p.ClusterNum, err)
			}
		}
	}

	log.Printf("order: closed position %s at %.8f, pnl %.2f", p.ID, exitPrice, net)
	return nil
}

func (e *Executor) entryPrice(ctx context.Context, intent Intent) (float64, error) {
	if intent.LimitPrice > 0 {
		return intent.LimitPrice, nil
	}
	if e.Quotes == nil {
		return 0, fmt.Errorf("market entry for %s needs a quote source: %w", intent.Symbol, errs.ErrConfig)
	}
	q, err := e.Quotes.GetL1Quote(ctx, e.Venue, intent.Symbol)
	if err != nil {
		return 0, fmt.Errorf("quote %s: %w", intent.Symbol, err)
	}
	mid := q.Mid()
	if mid <= 0 {
		return 0, fmt.Errorf("no live quote for %s: %w", intent.Symbol, errs.ErrValidation)
	}
	return mid, nil
}

func validateIntent(intent Intent) error {
	if intent.PortfolioID == "" || intent.Symbol == "" {
		return fmt.Errorf("portfolio id and symbol are required: %w", errs.ErrValidation)
	}
	if intent.Side != exchange.SideBuy && intent.Side != exchange.SideSell {
		return fmt.Errorf("side %q must be BUY or SELL: %w", intent.Side, errs.ErrValidation)
	}
	if intent.Qty <= 0 {
		return fmt.Errorf("qty %.8f must be positive: %w", intent.Qty, errs.ErrValidation)
	}
	if intent.ATR <= 0 {
		return fmt.Errorf("ATR %.8f must be positive: %w", intent.ATR, errs.ErrValidation)
	}
	if intent.LimitPrice < 0 {
		return fmt.Errorf("limit price %.8f must not be negative: %w", intent.LimitPrice, errs.ErrValidation)
	}
	return nil
}
