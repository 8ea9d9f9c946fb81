package risk

import (
	"testing"

	"tradebridge/internal/order"
)

func testDefaults() Limits {
	return Limits{MaxExposureUSD: 50000, MaxPositions: 10, MaxOrderSizePct: 0.1}
}

func buyOrder(userID string, qty float64) order.Order {
	return order.New(userID, "", "BTCUSD", order.SideBuy, qty, 0, nil)
}

func TestAssessOrderApproved(t *testing.T) {
	m := NewManager(testDefaults())

	a := m.AssessOrder(buyOrder("alice", 10), 100, Exposure{})
	if !a.Approved || a.Reason != ReasonOK {
		t.Fatalf("expected approval, got %+v", a)
	}
	if a.Notional != 1000 {
		t.Errorf("notional = %v, want 1000", a.Notional)
	}
}

func TestAssessOrderInvalidNotional(t *testing.T) {
	m := NewManager(testDefaults())

	for name, tc := range map[string]struct {
		qty, price float64
	}{
		"zero qty":       {0, 100},
		"zero price":     {10, 0},
		"negative qty":   {-1, 100},
		"negative price": {1, -5},
	} {
		t.Run(name, func(t *testing.T) {
			a := m.AssessOrder(buyOrder("alice", tc.qty), tc.price, Exposure{})
			if a.Approved || a.Reason != ReasonInvalidNotional {
				t.Errorf("got %+v, want %s", a, ReasonInvalidNotional)
			}
		})
	}
}

func TestAssessOrderPerOrderLimit(t *testing.T) {
	m := NewManager(testDefaults())

	// 10% of 50k = 5000 max per order.
	a := m.AssessOrder(buyOrder("alice", 51), 100, Exposure{})
	if a.Approved || a.Reason != ReasonOrderTooLarge {
		t.Errorf("got %+v, want %s", a, ReasonOrderTooLarge)
	}

	a = m.AssessOrder(buyOrder("alice", 50), 100, Exposure{})
	if !a.Approved {
		t.Errorf("exactly at limit should pass, got %+v", a)
	}
}

func TestAssessOrderExposureCap(t *testing.T) {
	m := NewManager(testDefaults())

	a := m.AssessOrder(buyOrder("alice", 10), 100, Exposure{TotalUSD: 49500})
	if a.Approved || a.Reason != ReasonExceedsExposure {
		t.Errorf("got %+v, want %s", a, ReasonExceedsExposure)
	}

	// The cap is side-agnostic: a short opens exposure too.
	sell := order.New("alice", "", "BTCUSD", order.SideSell, 10, 0, nil)
	a = m.AssessOrder(sell, 100, Exposure{TotalUSD: 49500})
	if a.Approved || a.Reason != ReasonExceedsExposure {
		t.Errorf("sell at full exposure should fail, got %+v", a)
	}

	a = m.AssessOrder(buyOrder("alice", 10), 100, Exposure{TotalUSD: 10000})
	if !a.Approved {
		t.Errorf("room under the cap should pass, got %+v", a)
	}
}

func TestAssessOrderMaxPositions(t *testing.T) {
	m := NewManager(testDefaults())

	a := m.AssessOrder(buyOrder("alice", 1), 100, Exposure{OpenSymbols: 10})
	if a.Approved || a.Reason != ReasonMaxPositions {
		t.Errorf("got %+v, want %s", a, ReasonMaxPositions)
	}

	// Adding to an existing symbol does not open a new position.
	a = m.AssessOrder(buyOrder("alice", 1), 100, Exposure{OpenSymbols: 10, HasSymbol: true})
	if !a.Approved {
		t.Errorf("add to held symbol should pass, got %+v", a)
	}
}

func TestUserLimitOverrides(t *testing.T) {
	m := NewManager(testDefaults())
	m.SetUserLimits("vip", Limits{MaxExposureUSD: 200000})

	eff := m.GetUserLimits("vip")
	if eff.MaxExposureUSD != 200000 {
		t.Errorf("override not applied: %+v", eff)
	}
	// Unset fields fall back to defaults.
	if eff.MaxPositions != 10 || eff.MaxOrderSizePct != 0.1 {
		t.Errorf("defaults not preserved: %+v", eff)
	}

	// Per-order cap now 20k, so a 6k order passes for vip but not others.
	a := m.AssessOrder(buyOrder("vip", 60), 100, Exposure{})
	if !a.Approved {
		t.Errorf("vip order should pass, got %+v", a)
	}
	a = m.AssessOrder(buyOrder("alice", 60), 100, Exposure{})
	if a.Approved {
		t.Errorf("default user order should fail, got %+v", a)
	}
}
