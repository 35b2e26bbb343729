// Package reconcile runs the periodic order sweep: every open or pending
// order row is re-queried against the venue and brought up to date. This
// is what eventually resolves placements whose venue call timed out.
package reconcile

import (
	"context"
	"log"
	"sync"
	"time"

	"execution-core/internal/order"
	"execution-core/pkg/db"
)

// Service sweeps non-terminal orders on an interval.
type Service struct {
	store    *db.Database
	executor *order.Executor
	interval time.Duration
	batch    int
	mu       sync.Mutex // one sweep at a time
}

// Report summarizes one sweep.
type Report struct {
	Timestamp time.Time
	Checked   int
	Updated   int
	Errors    int
}

// NewService creates a reconcile service.
func NewService(store *db.Database, executor *order.Executor, interval time.Duration, batch int) *Service {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if batch <= 0 {
		batch = 100
	}
	return &Service{store: store, executor: executor, interval: interval, batch: batch}
}

// Start begins the periodic sweep and returns immediately.
func (s *Service) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				report, err := s.Sweep(ctx)
				if err != nil {
					log.Printf("reconcile: sweep failed: %v", err)
					continue
				}
				if report.Updated > 0 || report.Errors > 0 {
					log.Printf("reconcile: checked %d, updated %d, errors %d",
						report.Checked, report.Updated, report.Errors)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	log.Printf("reconcile: started (interval %v, batch %d)", s.interval, s.batch)
}

// Sweep queries every non-terminal order once. Individual query failures
// are counted and logged; the sweep continues past them.
func (s *Service) Sweep(ctx context.Context) (Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	report := Report{Timestamp: time.Now()}

	open, err := s.store.ListOpenOrders(ctx, s.batch)
	if err != nil {
		return report, err
	}

	for i := range open {
		report.Checked++
		before := open[i].Status
		if err := s.executor.QueryAndUpdateOrder(ctx, &open[i]); err != nil {
			report.Errors++
			log.Printf("reconcile: order %s: %v", open[i].ID, err)
			continue
		}
		after, err := s.store.GetOrder(ctx, open[i].ID)
		if err == nil && after.Status != before {
			report.Updated++
		}
	}
	return report, nil
}
