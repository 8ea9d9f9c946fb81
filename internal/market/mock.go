// Package market provides price feeds. The mock feed drives the system
// in development with a bounded random walk per symbol.
package market

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// TickHandler receives every generated price update.
type TickHandler func(symbol string, price float64, ts time.Time)

// MockFeed generates a random walk per symbol at a fixed interval.
type MockFeed struct {
	mu       sync.Mutex
	prices   map[string]float64
	interval time.Duration
	rng      *rand.Rand
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewMockFeed seeds a feed. Unseeded symbols start at 100.
func NewMockFeed(symbols []string, interval time.Duration) *MockFeed {
	if interval <= 0 {
		interval = time.Second
	}
	prices := make(map[string]float64, len(symbols))
	for _, s := range symbols {
		prices[s] = 100.0
	}
	return &MockFeed{
		prices:   prices,
		interval: interval,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// SetPrice overrides the current price for a symbol.
func (f *MockFeed) SetPrice(symbol string, price float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prices[symbol] = price
}

// Start runs the walk until the context is canceled or Stop is called.
func (f *MockFeed) Start(ctx context.Context, handler TickHandler) {
	f.mu.Lock()
	ctx, f.cancel = context.WithCancel(ctx)
	f.done = make(chan struct{})
	done := f.done
	f.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(f.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				for symbol, price := range f.step() {
					handler(symbol, price, now)
				}
			}
		}
	}()
}

// Stop cancels the walk and waits for the goroutine to exit.
func (f *MockFeed) Stop() {
	f.mu.Lock()
	cancel, done := f.cancel, f.done
	f.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

// step advances every symbol by up to ±0.5% and returns a snapshot.
func (f *MockFeed) step() map[string]float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]float64, len(f.prices))
	for symbol, price := range f.prices {
		drift := (f.rng.Float64() - 0.5) * 0.01
		next := price * (1 + drift)
		if next < 1 {
			next = 1
		}
		f.prices[symbol] = next
		out[symbol] = next
	}
	return out
}
