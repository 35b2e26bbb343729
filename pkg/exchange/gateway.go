package exchange

import "context"

// Gateway abstracts a trading venue.
//
// Implementations must distinguish ambiguous from definite failures:
// a call whose outcome is unknown (network timeout, context deadline)
// wraps errs.ErrExchangeTimeout, a venue-side rejection wraps
// errs.ErrExchangeRejected. Callers rely on that split — a timeout on
// placement triggers reconciliation, never a blind retry.
type Gateway interface {
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
	CancelOrder(ctx context.Context, symbol, exchangeOrderID string) error
	QueryOrder(ctx context.Context, symbol, exchangeOrderID string) (OrderState, error)
}
