package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// RiskProfile is one named set of risk parameters and bracket multipliers,
// applied to portfolios at creation time.
type RiskProfile struct {
	Name                string  `yaml:"name"`
	MaxPositionSizePct  float64 `yaml:"max_position_size_pct"`
	MaxDailyLossPct     float64 `yaml:"max_daily_loss_pct"`
	MaxPortfolioHeatPct float64 `yaml:"max_portfolio_heat_pct"`
	CircuitBreaker      bool    `yaml:"circuit_breaker_enabled"`

	// ATR multipliers for bracket construction.
	StopLossATR    float64 `yaml:"sl_atr"`
	TakeProfit1ATR float64 `yaml:"tp1_atr"`
	TakeProfit2ATR float64 `yaml:"tp2_atr"`
}

// ProfileFile is the top-level YAML structure.
type ProfileFile struct {
	Profiles []RiskProfile `yaml:"profiles"`
}

// DefaultProfile returns the built-in conservative profile.
func DefaultProfile() RiskProfile {
	return RiskProfile{
		Name:                "default",
		MaxPositionSizePct:  0.10,
		MaxDailyLossPct:     0.03,
		MaxPortfolioHeatPct: 0.06,
		CircuitBreaker:      true,
		StopLossATR:         1.0,
		TakeProfit1ATR:      1.2,
		TakeProfit2ATR:      2.5,
	}
}

// LoadProfiles reads risk profiles from a YAML file. Missing multiplier
// fields fall back to the defaults so partial profiles stay usable.
func LoadProfiles(path string) ([]RiskProfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var file ProfileFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse risk profiles: %w", err)
	}

	def := DefaultProfile()
	for i := range file.Profiles {
		p := &file.Profiles[i]
		if p.StopLossATR == 0 {
			p.StopLossATR = def.StopLossATR
		}
		if p.TakeProfit1ATR == 0 {
			p.TakeProfit1ATR = def.TakeProfit1ATR
		}
		if p.TakeProfit2ATR == 0 {
			p.TakeProfit2ATR = def.TakeProfit2ATR
		}
	}
	return file.Profiles, nil
}
