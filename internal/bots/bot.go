// Package bots manages the fleet of trading bots and fans market data
// out to them.
package bots

import (
	"context"
	"time"

	"tradebridge/internal/order"
)

// Tick is a single market data update delivered to bots.
type Tick struct {
	Symbol string    `json:"symbol"`
	Price  float64   `json:"price"`
	TS     time.Time `json:"ts"`
}

// Submitter accepts orders produced by bots. The trading bridge
// implements this.
type Submitter interface {
	Submit(ctx context.Context, o order.Order) (order.Order, error)
}

// Bot is a strategy instance owned by one user. Implementations must be
// safe for HandleMarketTick to be called from the dispatch goroutine
// while Start/Stop are called elsewhere.
type Bot interface {
	ID() string
	UserID() string
	Active() bool
	Start(ctx context.Context) error
	Stop()
	HandleMarketTick(t Tick)
}
