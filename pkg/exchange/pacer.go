package exchange

import (
	"context"
	"log"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Pacer throttles outgoing venue calls. It combines a token-bucket limiter
// for call pacing with a weight tracker fed from venue response headers,
// since most venues enforce a weight budget rather than a raw call count.
type Pacer struct {
	lim *rate.Limiter

	mu            sync.RWMutex
	usedWeight    int
	weightLimit   int
	lastReset     time.Time
	resetInterval time.Duration
}

// NewPacer creates a pacer allowing callsPerSec with the given burst, and
// tracking a venue weight budget over the reset window.
func NewPacer(callsPerSec float64, burst, weightLimit int, resetInterval time.Duration) *Pacer {
	return &Pacer{
		lim:           rate.NewLimiter(rate.Limit(callsPerSec), burst),
		weightLimit:   weightLimit,
		resetInterval: resetInterval,
		lastReset:     time.Now(),
	}
}

// Wait blocks until the next call is allowed or ctx is done.
func (p *Pacer) Wait(ctx context.Context) error {
	return p.lim.Wait(ctx)
}

// UpdateFromHeader updates the used weight from a venue response header.
func (p *Pacer) UpdateFromHeader(headerValue string) {
	if headerValue == "" {
		return
	}
	weight, err := strconv.Atoi(headerValue)
	if err != nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if time.Since(p.lastReset) >= p.resetInterval {
		p.usedWeight = 0
		p.lastReset = time.Now()
	}
	p.usedWeight = weight

	pct := float64(p.usedWeight) / float64(p.weightLimit) * 100
	if pct >= 90 {
		log.Printf("pacer: weight critical %d/%d (%.1f%%)", p.usedWeight, p.weightLimit, pct)
	} else if pct >= 80 {
		log.Printf("pacer: weight warning %d/%d (%.1f%%)", p.usedWeight, p.weightLimit, pct)
	}
}

// Usage returns current weight usage.
func (p *Pacer) Usage() (used, limit int) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if time.Since(p.lastReset) >= p.resetInterval {
		return 0, p.weightLimit
	}
	return p.usedWeight, p.weightLimit
}
