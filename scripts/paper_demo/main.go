package main

import (
	"context"
	"log"

	"execution-core/internal/breaker"
	"execution-core/internal/market"
	"execution-core/internal/order"
	"execution-core/internal/risk"
	"execution-core/internal/signal"
	"execution-core/pkg/db"
	"execution-core/pkg/exchange"
	"execution-core/pkg/exchange/paper"
)

// paper_demo walks a few order flows against the in-memory paper venue.
// It touches no real exchange and uses a throwaway database.
//
// Usage:
//
//	go run ./scripts/paper_demo
//
// It will:
//  1. open a risk-gated position with its bracket,
//  2. attempt an oversized position and show the denial,
//  3. stop the position out and show the asset breaker tripping.
func main() {
	log.Println("=== paper demo starting ===")
	ctx := context.Background()

	database, err := db.NewInMemory()
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer database.Close()
	if err := db.InitSchema(database.DB); err != nil {
		log.Fatalf("schema: %v", err)
	}

	if err := database.CreatePortfolio(ctx, db.Portfolio{ID: "demo", Name: "demo", TotalValueUSD: 10000}); err != nil {
		log.Fatalf("portfolio: %v", err)
	}
	if err := database.UpsertRiskParameters(ctx, db.RiskParameters{
		PortfolioID:           "demo",
		MaxPositionSizePct:    0.10,
		MaxDailyLossPct:       0.03,
		MaxPortfolioHeatPct:   0.06,
		CircuitBreakerEnabled: true,
	}); err != nil {
		log.Fatalf("risk parameters: %v", err)
	}

	gateway := paper.New()
	quotes := market.NewMockSource()
	gateway.SetPrice("BTC/USD", 100)
	quotes.SetQuote("BTC/USD", 99.95, 100.05)

	breakers := breaker.NewRegistry(database, nil, breaker.DefaultConfig())
	executor := &order.Executor{
		Store:    database,
		Gateway:  gateway,
		Gate:     risk.NewGate(database, breakers, nil, risk.DefaultGateConfig()),
		Breakers: breakers,
		Signals:  signal.NewService(database),
		Quotes:   quotes,
		Venue:    "paper",
	}

	log.Println("[1] risk-gated entry with bracket")
	res, decision, err := executor.PlaceOrder(ctx, order.Intent{
		PortfolioID: "demo",
		Symbol:      "BTC/USD",
		Side:        exchange.SideBuy,
		Qty:         5,
		ATR:         2,
	})
	if err != nil {
		log.Fatalf("place: %v", err)
	}
	log.Printf("  filled at %.2f, stop %.2f, targets %.2f / %.2f",
		res.EntryPrice, res.Bracket.StopLoss, res.Bracket.TakeProfit1, res.Bracket.TakeProfit2)

	log.Println("[2] oversized entry is denied, not errored")
	_, decision, err = executor.PlaceOrder(ctx, order.Intent{
		PortfolioID: "demo",
		Symbol:      "BTC/USD",
		Side:        exchange.SideBuy,
		Qty:         50,
		ATR:         2,
	})
	if err != nil {
		log.Fatalf("place: %v", err)
	}
	log.Printf("  denied by rule %q: %s", decision.Rule, decision.Reason)

	log.Println("[3] deep stop-out trips the asset breaker")
	if err := executor.ClosePosition(ctx, res.PositionID, 95, 1); err != nil {
		log.Fatalf("close: %v", err)
	}
	tripped, err := breakers.IsTripped(ctx, "demo", breaker.AssetScope("BTC/USD"))
	if err != nil {
		log.Fatalf("breaker: %v", err)
	}
	log.Printf("  asset breaker tripped: %v", tripped)

	log.Println("=== paper demo finished ===")
}
