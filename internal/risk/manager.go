// Package risk enforces pre-trade limits on exposure, per-order size and
// open position count.
package risk

import (
	"math"
	"sync"

	"tradebridge/internal/order"
)

// Assessment reasons, stable strings surfaced to callers and the API.
const (
	ReasonOK              = "ok"
	ReasonInvalidNotional = "invalid_order_notional"
	ReasonOrderTooLarge   = "order_too_large_per_order_limit"
	ReasonExceedsExposure = "would_exceed_max_exposure"
	ReasonMaxPositions    = "max_positions_reached"
)

// Limits are the per-user risk parameters.
type Limits struct {
	MaxExposureUSD  float64 `json:"max_exposure_usd"`
	MaxPositions    int     `json:"max_positions"`
	MaxOrderSizePct float64 `json:"max_order_size_pct"`
}

// Assessment is the result of a pre-trade check.
type Assessment struct {
	Approved bool    `json:"approved"`
	Reason   string  `json:"reason"`
	Notional float64 `json:"notional"`
}

// Exposure is the caller-supplied snapshot an order is assessed against.
type Exposure struct {
	// TotalUSD is the user's current gross exposure across all symbols.
	TotalUSD float64
	// OpenSymbols counts the symbols the user currently holds.
	OpenSymbols int
	// HasSymbol is true when the user already holds the order's symbol.
	HasSymbol bool
}

// Manager holds per-user limit overrides on top of system defaults.
type Manager struct {
	mu       sync.RWMutex
	defaults Limits
	users    map[string]Limits
}

func NewManager(defaults Limits) *Manager {
	return &Manager{
		defaults: defaults,
		users:    make(map[string]Limits),
	}
}

// SetUserLimits overrides the defaults for one user. Zero-valued fields
// fall back to the defaults.
func (m *Manager) SetUserLimits(userID string, l Limits) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[userID] = l
}

// GetUserLimits returns the effective limits for a user.
func (m *Manager) GetUserLimits(userID string) Limits {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.effectiveLocked(userID)
}

func (m *Manager) effectiveLocked(userID string) Limits {
	eff := m.defaults
	if l, ok := m.users[userID]; ok {
		if l.MaxExposureUSD > 0 {
			eff.MaxExposureUSD = l.MaxExposureUSD
		}
		if l.MaxPositions > 0 {
			eff.MaxPositions = l.MaxPositions
		}
		if l.MaxOrderSizePct > 0 {
			eff.MaxOrderSizePct = l.MaxOrderSizePct
		}
	}
	return eff
}

// AssessOrder runs the pre-trade checks for a single order against the
// user's current exposure. Checks run in a fixed sequence and the first
// failure wins.
func (m *Manager) AssessOrder(o order.Order, price float64, exp Exposure) Assessment {
	m.mu.RLock()
	limits := m.effectiveLocked(o.UserID)
	m.mu.RUnlock()

	notional := math.Abs(o.Qty) * price
	if o.Qty <= 0 || notional <= 0 {
		return Assessment{Approved: false, Reason: ReasonInvalidNotional, Notional: notional}
	}

	maxPerOrder := limits.MaxExposureUSD * limits.MaxOrderSizePct
	if notional > maxPerOrder {
		return Assessment{Approved: false, Reason: ReasonOrderTooLarge, Notional: notional}
	}

	if exp.TotalUSD+notional > limits.MaxExposureUSD {
		return Assessment{Approved: false, Reason: ReasonExceedsExposure, Notional: notional}
	}
	// A sell on a fresh symbol opens a short, so the position-count check
	// applies to both sides.
	if !exp.HasSymbol && exp.OpenSymbols >= limits.MaxPositions {
		return Assessment{Approved: false, Reason: ReasonMaxPositions, Notional: notional}
	}

	return Assessment{Approved: true, Reason: ReasonOK, Notional: notional}
}
