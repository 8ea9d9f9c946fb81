package bots

import (
	"context"
	"log"
	"math"
	"strconv"
	"sync"

	"tradebridge/internal/order"
)

// MeanReversion trades deviations from a rolling average price: buy when
// price drops below the mean by the threshold, sell when it rises above.
type MeanReversion struct {
	id     string
	userID string
	symbol string

	window    int
	threshold float64 // fractional deviation, e.g. 0.02 = 2%
	qty       float64

	mu      sync.Mutex
	active  bool
	prices  []float64
	holding bool

	submit Submitter
	ctx    context.Context
	cancel context.CancelFunc
}

// MeanReversionParams configures one instance.
type MeanReversionParams struct {
	ID        string
	UserID    string
	Symbol    string
	Window    int
	Threshold float64
	Qty       float64
}

func NewMeanReversion(p MeanReversionParams, submit Submitter) *MeanReversion {
	if p.Window <= 0 {
		p.Window = 20
	}
	if p.Threshold <= 0 {
		p.Threshold = 0.02
	}
	if p.Qty <= 0 {
		p.Qty = 1
	}
	return &MeanReversion{
		id:        p.ID,
		userID:    p.UserID,
		symbol:    p.Symbol,
		window:    p.Window,
		threshold: p.Threshold,
		qty:       p.Qty,
		submit:    submit,
	}
}

func (b *MeanReversion) ID() string     { return b.id }
func (b *MeanReversion) UserID() string { return b.userID }

func (b *MeanReversion) Active() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.active
}

func (b *MeanReversion) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ctx, b.cancel = context.WithCancel(ctx)
	b.active = true
	return nil
}

func (b *MeanReversion) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cancel != nil {
		b.cancel()
	}
	b.active = false
}

// HandleMarketTick folds the tick into the rolling window and submits an
// order when the deviation crosses the threshold.
func (b *MeanReversion) HandleMarketTick(t Tick) {
	if t.Symbol != b.symbol {
		return
	}

	b.mu.Lock()
	if !b.active {
		b.mu.Unlock()
		return
	}
	b.prices = append(b.prices, t.Price)
	if len(b.prices) > b.window {
		b.prices = b.prices[len(b.prices)-b.window:]
	}
	if len(b.prices) < b.window {
		b.mu.Unlock()
		return
	}

	var sum float64
	for _, p := range b.prices {
		sum += p
	}
	mean := sum / float64(len(b.prices))
	deviation := (t.Price - mean) / mean

	var side order.Side
	switch {
	case deviation <= -b.threshold && !b.holding:
		side = order.SideBuy
		b.holding = true
	case deviation >= b.threshold && b.holding:
		side = order.SideSell
		b.holding = false
	default:
		b.mu.Unlock()
		return
	}
	ctx := b.ctx
	qty := b.qty
	b.mu.Unlock()

	o := order.New(b.userID, b.id, b.symbol, side, qty, 0, map[string]string{
		"strategy":  "mean_reversion",
		"deviation": formatPct(deviation),
	})
	if _, err := b.submit.Submit(ctx, o); err != nil {
		log.Printf("⚠️ Bot %s/%s order failed: %v", b.userID, b.id, err)
		b.mu.Lock()
		// Roll back the holding flip so the signal can retry.
		b.holding = side == order.SideSell
		b.mu.Unlock()
	}
}

// formatPct renders a fractional deviation as a percent string, e.g.
// -0.0234 -> "-2.34".
func formatPct(f float64) string {
	return strconv.FormatFloat(math.Round(f*10000)/100, 'f', -1, 64)
}
