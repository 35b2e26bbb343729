package main

import (
	"context"
	"log"
	"net/http"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"execution-core/internal/breaker"
	"execution-core/internal/events"
	"execution-core/internal/market"
	"execution-core/internal/monitor"
	"execution-core/internal/order"
	"execution-core/internal/rebalance"
	"execution-core/internal/reconcile"
	"execution-core/internal/risk"
	"execution-core/internal/signal"
	"execution-core/pkg/config"
	"execution-core/pkg/db"
	"execution-core/pkg/exchange"
	"execution-core/pkg/exchange/paper"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	log.Printf("execution core starting (dry-run: %v, db: %s)", cfg.DryRun, cfg.DBPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := events.NewBus()
	go watchAlerts(ctx, bus)

	database, err := db.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("db init failed: %v", err)
	}
	defer database.Close()
	if err := db.InitSchema(database.DB); err != nil {
		log.Fatalf("db schema failed: %v", err)
	}

	// Risk profiles: file when configured, built-in default otherwise. The
	// active profile seeds risk parameters for portfolios that have none
	// and sets the executor's bracket geometry.
	profiles := []config.RiskProfile{config.DefaultProfile()}
	if cfg.RiskProfilePath != "" {
		loaded, err := config.LoadProfiles(cfg.RiskProfilePath)
		if err != nil {
			log.Fatalf("risk profiles load failed: %v", err)
		}
		if len(loaded) > 0 {
			profiles = loaded
		}
	}
	profile := risk.SelectProfile(profiles, cfg.RiskProfileName)
	applied, err := risk.ApplyProfile(ctx, database, profile)
	if err != nil {
		log.Fatalf("risk profile apply failed: %v", err)
	}
	log.Printf("loaded %d risk profile(s), %q active, %d portfolio(s) initialized", len(profiles), profile.Name, applied)

	// Venue: the paper gateway stands in until a live adapter is wired.
	venue := "paper"
	gateway := paper.New()
	quotes := market.NewMockSource()
	pacer := exchange.NewPacer(cfg.GatewayRateLimit, cfg.GatewayRateBurst, 1200, time.Minute)

	breakers := breaker.NewRegistry(database, bus, breaker.DefaultConfig())
	gate := risk.NewGate(database, breakers, bus, risk.DefaultGateConfig())
	signals := signal.NewService(database)

	executor := &order.Executor{
		Store:    database,
		Gateway:  gateway,
		Gate:     gate,
		Breakers: breakers,
		Signals:  signals,
		Bus:      bus,
		Pacer:    pacer,
		Quotes:   quotes,
		Venue:    venue,
		Timeout:  cfg.ExchangeTimeout,
		Defaults: order.BracketParams{
			SLATR:  profile.StopLossATR,
			TP1ATR: profile.TakeProfit1ATR,
			TP2ATR: profile.TakeProfit2ATR,
		},
	}

	if cfg.ExecutionEnabled {
		recon := reconcile.NewService(database, executor, cfg.ReconcileInterval, cfg.ReconcileBatchSize)
		recon.Start(ctx)
	} else {
		log.Println("execution disabled, reconcile loop not started")
	}

	rebalancer := rebalance.NewEngine(database, breakers, rebalance.StaticWeights{}, bus, cfg.RebalanceThreshold)
	if cfg.RebalanceInterval > 0 {
		go runRebalanceLoop(ctx, database, rebalancer, cfg.RebalanceInterval, cfg.DryRun)
		log.Printf("rebalance loop started (interval %v, dry-run %v)", cfg.RebalanceInterval, cfg.DryRun)
	}

	if cfg.MetricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", monitor.Handler())
			log.Printf("metrics listening on %s", cfg.MetricsAddr)
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
				log.Printf("metrics server stopped: %v", err)
			}
		}()
	}

	sigChan := make(chan os.Signal, 1)
	ossignal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Println("shutting down")
}

// watchAlerts logs breaker trips and risk denials as they happen so the
// operator sees them without scraping metrics.
func watchAlerts(ctx context.Context, bus *events.Bus) {
	stream, unsub := bus.Subscribe(64, events.EventBreakerTripped, events.EventBreakerReset, events.EventRiskDenied)
	defer unsub()
	for {
		select {
		case msg, ok := <-stream:
			if !ok {
				return
			}
			switch ev := msg.Payload.(type) {
			case events.BreakerEvent:
				if msg.Event == events.EventBreakerReset {
					log.Printf("alert: breaker reset portfolio=%s scope=%s", ev.PortfolioID, ev.Scope)
				} else {
					log.Printf("alert: breaker tripped portfolio=%s scope=%s reason=%s", ev.PortfolioID, ev.Scope, ev.Reason)
				}
			case events.RiskDenialEvent:
				log.Printf("alert: order denied portfolio=%s symbol=%s reason=%s", ev.PortfolioID, ev.Symbol, ev.Reason)
			}
		case <-ctx.Done():
			return
		}
	}
}

// runRebalanceLoop periodically checks every portfolio for drift. The
// configured dry-run flag decides whether plans are acted on; the plan
// and validation path is identical either way.
func runRebalanceLoop(ctx context.Context, database *db.Database, eng *rebalance.Engine, interval time.Duration, dryRun bool) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			portfolios, err := database.ListPortfolios(ctx)
			if err != nil {
				log.Printf("rebalance: list portfolios: %v", err)
				continue
			}
			for _, pf := range portfolios {
				if _, _, err := eng.ExecuteRebalance(ctx, pf.ID, dryRun); err != nil {
					log.Printf("rebalance: portfolio %s: %v", pf.ID, err)
				}
			}
		case <-ctx.Done():
			return
		}
	}
}
