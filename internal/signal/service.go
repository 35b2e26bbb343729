// Package signal manages trade candidates and their one-way lifecycle:
// PENDING -> EXECUTED | EXPIRED | CANCELLED, with no transitions out of a
// terminal state.
package signal

import (
	"context"
	"fmt"
	"log"

	"github.com/google/uuid"

	"execution-core/pkg/db"
	"execution-core/pkg/errs"
)

// Signal statuses.
const (
	StatusPending   = "PENDING"
	StatusExecuted  = "EXECUTED"
	StatusExpired   = "EXPIRED"
	StatusCancelled = "CANCELLED"
)

// Service creates and transitions signals. The one-way state machine is
// enforced by the storage layer, so concurrent transitions race safely:
// exactly one wins, the rest get ErrInvalidState.
type Service struct {
	store *db.Database
}

// NewService creates a signal service.
func NewService(store *db.Database) *Service {
	return &Service{store: store}
}

// Create records a new pending signal and returns its id.
func (s *Service) Create(ctx context.Context, portfolioID, symbol, side string) (string, error) {
	if portfolioID == "" || symbol == "" {
		return "", fmt.Errorf("portfolio id and symbol are required: %w", errs.ErrValidation)
	}
	if side != "BUY" && side != "SELL" {
		return "", fmt.Errorf("side %q must be BUY or SELL: %w", side, errs.ErrValidation)
	}
	id := uuid.New().String()
	err := s.store.CreateSignal(ctx, db.Signal{
		ID:          id,
		PortfolioID: portfolioID,
		Symbol:      symbol,
		Side:        side,
		Status:      StatusPending,
	})
	if err != nil {
		return "", fmt.Errorf("create signal: %w", err)
	}
	log.Printf("signal: created %s %s %s %s", id, portfolioID, symbol, side)
	return id, nil
}

// Get returns a signal by id.
func (s *Service) Get(ctx context.Context, id string) (*db.Signal, error) {
	return s.store.GetSignal(ctx, id)
}

// MarkExecuted transitions a pending signal to EXECUTED, recording the
// resulting position and the price it was executed at.
func (s *Service) MarkExecuted(ctx context.Context, id, positionID string, executionPrice float64) error {
	if positionID == "" {
		return fmt.Errorf("executed signal needs a position id: %w", errs.ErrValidation)
	}
	if executionPrice <= 0 {
		return fmt.Errorf("execution price %.8f must be positive: %w", executionPrice, errs.ErrValidation)
	}
	return s.store.TransitionSignal(ctx, id, StatusExecuted, positionID, executionPrice, "")
}

// MarkExpired transitions a pending signal to EXPIRED. A reason is
// mandatory: expired signals are reviewed later and "no reason" reviews
// are useless.
func (s *Service) MarkExpired(ctx context.Context, id, reason string) error {
	if reason == "" {
		return fmt.Errorf("expired signal needs a reason: %w", errs.ErrValidation)
	}
	return s.store.TransitionSignal(ctx, id, StatusExpired, "", 0, reason)
}

// MarkCancelled transitions a pending signal to CANCELLED with a
// mandatory reason.
func (s *Service) MarkCancelled(ctx context.Context, id, reason string) error {
	if reason == "" {
		return fmt.Errorf("cancelled signal needs a reason: %w", errs.ErrValidation)
	}
	return s.store.TransitionSignal(ctx, id, StatusCancelled, "", 0, reason)
}
