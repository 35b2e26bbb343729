package risk

import (
	"context"
	"errors"
	"fmt"
	"log"

	"execution-core/pkg/config"
	"execution-core/pkg/db"
	"execution-core/pkg/errs"
)

// ApplyProfile writes the profile's limits to every portfolio that has no
// risk parameters yet. Portfolios with parameters are left alone so
// operator edits survive restarts. Returns how many portfolios were set up.
func ApplyProfile(ctx context.Context, store *db.Database, p config.RiskProfile) (int, error) {
	portfolios, err := store.ListPortfolios(ctx)
	if err != nil {
		return 0, fmt.Errorf("list portfolios: %w", err)
	}

	applied := 0
	for _, pf := range portfolios {
		_, err := store.GetRiskParameters(ctx, pf.ID)
		if err == nil {
			continue
		}
		if !errors.Is(err, errs.ErrNotFound) {
			return applied, err
		}
		if err := store.UpsertRiskParameters(ctx, db.RiskParameters{
			PortfolioID:           pf.ID,
			MaxPositionSizePct:    p.MaxPositionSizePct,
			MaxDailyLossPct:       p.MaxDailyLossPct,
			MaxPortfolioHeatPct:   p.MaxPortfolioHeatPct,
			CircuitBreakerEnabled: p.CircuitBreaker,
		}); err != nil {
			return applied, fmt.Errorf("apply profile %q to %s: %w", p.Name, pf.ID, err)
		}
		log.Printf("risk: profile %q applied to portfolio %s", p.Name, pf.ID)
		applied++
	}
	return applied, nil
}

// SelectProfile returns the named profile, falling back to the first one.
func SelectProfile(profiles []config.RiskProfile, name string) config.RiskProfile {
	for _, p := range profiles {
		if p.Name == name {
			return p
		}
	}
	return profiles[0]
}
