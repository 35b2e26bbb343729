package market

import (
	"context"
	"fmt"
	"sync"

	"execution-core/pkg/errs"
)

// MockSource is an in-memory DataSource for tests and dry runs.
type MockSource struct {
	mu         sync.RWMutex
	quotes     map[string]L1Quote  // symbol -> quote
	indicators map[string]float64  // symbol/name/period -> value
	ticks      map[string][]Tick   // symbol -> recent ticks
}

// NewMockSource creates an empty mock source.
func NewMockSource() *MockSource {
	return &MockSource{
		quotes:     make(map[string]L1Quote),
		indicators: make(map[string]float64),
		ticks:      make(map[string][]Tick),
	}
}

// SetQuote posts a top-of-book quote for a symbol.
func (m *MockSource) SetQuote(symbol string, bid, ask float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.quotes[symbol] = L1Quote{BidPrice: bid, AskPrice: ask}
}

// SetIndicator posts an indicator value.
func (m *MockSource) SetIndicator(symbol, name string, period int, value float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.indicators[indicatorKey(symbol, name, period)] = value
}

// AddTick appends a trade print.
func (m *MockSource) AddTick(symbol string, price, qty float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ticks[symbol] = append(m.ticks[symbol], Tick{Price: price, Qty: qty})
}

func (m *MockSource) GetL1Quote(ctx context.Context, venue, symbol string) (L1Quote, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	q, ok := m.quotes[symbol]
	if !ok {
		return L1Quote{}, fmt.Errorf("no quote for %s: %w", symbol, errs.ErrNotFound)
	}
	return q, nil
}

func (m *MockSource) GetIndicator(ctx context.Context, symbol, name string, period int) (*float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.indicators[indicatorKey(symbol, name, period)]
	if !ok {
		return nil, nil
	}
	return &v, nil
}

func (m *MockSource) GetRecentTicks(ctx context.Context, venue, symbol string, limit int) ([]Tick, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ticks := m.ticks[symbol]
	if len(ticks) > limit {
		ticks = ticks[len(ticks)-limit:]
	}
	out := make([]Tick, len(ticks))
	copy(out, ticks)
	return out, nil
}

func indicatorKey(symbol, name string, period int) string {
	return fmt.Sprintf("%s/%s/%d", symbol, name, period)
}
