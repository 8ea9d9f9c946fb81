package broker

import (
	"context"
	"hash/fnv"
	"math"
	"math/rand"
	"sync"
	"time"

	"tradebridge/internal/order"
)

const (
	// DefaultBalanceUSD seeds every previously unseen user account.
	DefaultBalanceUSD = 100000.0

	// ErrInsufficientFunds is the reason string for rejected buys.
	ErrInsufficientFunds = "insufficient_funds"

	slippageFrac = 0.0005 // ±0.05% synthetic slippage on fills
)

// Mock simulates a venue: per-user USD balances, immediate fills with small
// slippage, and a deterministic-ish pseudo price feed. It never panics out of
// ExecuteOrder; failures come back as ExecResult{OK:false}.
type Mock struct {
	mu         sync.Mutex
	balances   map[string]map[string]float64
	openOrders map[string]order.Order
	rng        *rand.Rand
	now        func() time.Time
}

var _ Adapter = (*Mock)(nil)

func NewMock() *Mock {
	return &Mock{
		balances:   make(map[string]map[string]float64),
		openOrders: make(map[string]order.Order),
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
		now:        time.Now,
	}
}

// ExecuteOrder simulates market execution with small slippage and an
// immediate fill. Buys are rejected when the USD balance cannot cover the
// notional.
func (m *Mock) ExecuteOrder(ctx context.Context, o order.Order) (ExecResult, error) {
	if err := ctx.Err(); err != nil {
		return ExecResult{OK: false, Error: err.Error(), Timestamp: m.now()}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	price := o.Price
	if price <= 0 {
		price = m.priceLocked(o.Symbol)
	}
	slippage := slippageFrac * price * (m.rng.Float64() - 0.5)
	execPrice := round6(price + slippage)
	cost := execPrice * o.Qty

	bal := m.balanceLocked(o.UserID)
	if o.Side == order.SideBuy {
		if bal["USD"] < cost {
			return ExecResult{OK: false, Error: ErrInsufficientFunds, Timestamp: m.now()}, nil
		}
		bal["USD"] -= cost
	} else {
		bal["USD"] += cost
	}
	delete(m.openOrders, o.ID)

	return ExecResult{
		OK:        true,
		ExecPrice: execPrice,
		FilledQty: o.Qty,
		Timestamp: m.now(),
	}, nil
}

func (m *Mock) GetBalance(ctx context.Context, userID string) (map[string]float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]float64)
	for k, v := range m.balanceLocked(userID) {
		out[k] = v
	}
	return out, nil
}

// GetMarketPrice derives a pseudo price from a hash of the symbol plus a slow
// sinusoidal term. Stable enough for tests, alive enough for demos.
func (m *Mock) GetMarketPrice(ctx context.Context, symbol string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.priceLocked(symbol), nil
}

// CancelOrder removes the order from the open-orders map if still present.
func (m *Mock) CancelOrder(ctx context.Context, orderID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.openOrders[orderID]; ok {
		delete(m.openOrders, orderID)
		return true, nil
	}
	return false, nil
}

// Track records an accepted order in the open-orders map so CancelOrder has
// something to act on before execution.
func (m *Mock) Track(o order.Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.openOrders[o.ID] = o
}

func (m *Mock) balanceLocked(userID string) map[string]float64 {
	bal, ok := m.balances[userID]
	if !ok {
		bal = map[string]float64{"USD": DefaultBalanceUSD}
		m.balances[userID] = bal
	}
	return bal
}

func (m *Mock) priceLocked(symbol string) float64 {
	h := fnv.New64a()
	h.Write([]byte(symbol))
	sum := h.Sum64()
	base := 100.0 + float64(sum%1000)/10.0
	noise := math.Sin(float64(m.now().Unix())/60.0+float64(sum%100)) * 0.5
	return round6(base + noise)
}

func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
