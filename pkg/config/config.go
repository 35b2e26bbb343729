package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds environment-driven settings for the execution core.
type Config struct {
	// Database
	DBPath string

	// Execution
	DryRun           bool
	ExecutionEnabled bool

	// Exchange call handling
	ExchangeTimeout    time.Duration
	GatewayRateLimit   float64 // calls per second budget for the venue
	GatewayRateBurst   int
	ReconcileInterval  time.Duration
	ReconcileBatchSize int

	// Risk profile file (YAML); empty means built-in defaults only.
	RiskProfilePath string
	// Name of the profile applied to portfolios without risk parameters.
	RiskProfileName string

	// Rebalance
	RebalanceThreshold float64       // absolute weight deviation that triggers a trade
	RebalanceInterval  time.Duration // 0 disables the periodic rebalance check

	// Metrics
	MetricsAddr string // empty disables the /metrics listener
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	return &Config{
		DBPath:             getEnv("DB_PATH", "./data/execution.db"),
		DryRun:             getEnv("DRY_RUN", "true") == "true",
		ExecutionEnabled:   getEnv("EXECUTION_ENABLED", "true") == "true",
		ExchangeTimeout:    getEnvDuration("EXCHANGE_TIMEOUT", 5*time.Second),
		GatewayRateLimit:   getEnvFloat("GATEWAY_RATE_LIMIT", 10),
		GatewayRateBurst:   getEnvInt("GATEWAY_RATE_BURST", 20),
		ReconcileInterval:  getEnvDuration("RECONCILE_INTERVAL", 30*time.Second),
		ReconcileBatchSize: getEnvInt("RECONCILE_BATCH_SIZE", 50),
		RiskProfilePath:    getEnv("RISK_PROFILE_PATH", ""),
		RiskProfileName:    getEnv("RISK_PROFILE", "default"),
		RebalanceThreshold: getEnvFloat("REBALANCE_THRESHOLD", 0.02),
		RebalanceInterval:  getEnvDuration("REBALANCE_INTERVAL", 0),
		MetricsAddr:        getEnv("METRICS_ADDR", ""),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
