package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadProfilesFillsMissingMultipliers(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "profiles.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
profiles:
  - name: conservative
    max_position_size_pct: 0.05
    max_daily_loss_pct: 0.02
    max_portfolio_heat_pct: 0.04
    circuit_breaker_enabled: true
  - name: aggressive
    max_position_size_pct: 0.15
    max_daily_loss_pct: 0.05
    max_portfolio_heat_pct: 0.10
    circuit_breaker_enabled: true
    sl_atr: 1.5
    tp1_atr: 2.0
    tp2_atr: 4.0
`), 0o644))

	profiles, err := LoadProfiles(path)
	require.NoError(t, err)
	require.Len(t, profiles, 2)

	// Missing multipliers fall back to the defaults.
	assert.InDelta(t, 1.0, profiles[0].StopLossATR, 1e-9)
	assert.InDelta(t, 1.2, profiles[0].TakeProfit1ATR, 1e-9)
	assert.InDelta(t, 2.5, profiles[0].TakeProfit2ATR, 1e-9)

	// Explicit values survive.
	assert.InDelta(t, 1.5, profiles[1].StopLossATR, 1e-9)
	assert.InDelta(t, 4.0, profiles[1].TakeProfit2ATR, 1e-9)
}

func TestLoadProfilesBadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("profiles: ["), 0o644))

	_, err := LoadProfiles(path)
	require.Error(t, err)
}

func TestDefaultProfile(t *testing.T) {
	p := DefaultProfile()
	assert.Equal(t, "default", p.Name)
	assert.InDelta(t, 0.10, p.MaxPositionSizePct, 1e-9)
	assert.InDelta(t, 0.03, p.MaxDailyLossPct, 1e-9)
	assert.InDelta(t, 0.06, p.MaxPortfolioHeatPct, 1e-9)
	assert.True(t, p.CircuitBreaker)
}
