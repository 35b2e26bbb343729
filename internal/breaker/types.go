package breaker

import (
	"fmt"
	"strings"
)

// Scope strings key breaker state per portfolio. Three kinds exist:
// "asset:<symbol>", "cluster:<n>", and "global".
const GlobalScope = "global"

// AssetScope returns the scope string for a symbol.
func AssetScope(symbol string) string {
	return "asset:" + symbol
}

// ClusterScope returns the scope string for a cluster number.
func ClusterScope(n int) string {
	return fmt.Sprintf("cluster:%d", n)
}

// ScopeKind returns "asset", "cluster" or "global" for a scope string.
func ScopeKind(scope string) string {
	switch {
	case scope == GlobalScope:
		return "global"
	case strings.HasPrefix(scope, "asset:"):
		return "asset"
	case strings.HasPrefix(scope, "cluster:"):
		return "cluster"
	default:
		return "unknown"
	}
}

// ClusterFromScope parses the cluster number out of a cluster scope.
func ClusterFromScope(scope string) (int, bool) {
	var n int
	if _, err := fmt.Sscanf(scope, "cluster:%d", &n); err != nil {
		return 0, false
	}
	return n, true
}

// Config holds auto-trip thresholds for cumulative losses in R.
type Config struct {
	AssetTripR   float64 // cumulative loss that trips an asset scope
	ClusterTripR float64 // cumulative loss that trips a cluster scope
	MaxRetries   int     // bounded retry on optimistic-lock conflicts
}

// DefaultConfig returns the default thresholds: an asset locks out after
// losing two risk units, a cluster after four.
func DefaultConfig() Config {
	return Config{
		AssetTripR:   2.0,
		ClusterTripR: 4.0,
		MaxRetries:   3,
	}
}
