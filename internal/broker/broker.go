// Package broker abstracts the execution venue behind a small interface so
// the bridge can run against the simulator or a real adapter unchanged.
package broker

import (
	"context"
	"time"

	"tradebridge/internal/order"
)

// ExecResult returns the venue ack for an executed order.
type ExecResult struct {
	OK        bool      `json:"ok"`
	ExecPrice float64   `json:"exec_price,omitempty"`
	FilledQty float64   `json:"filled_qty,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Error     string    `json:"error,omitempty"`
}

// Adapter is the contract every broker implementation satisfies.
type Adapter interface {
	ExecuteOrder(ctx context.Context, o order.Order) (ExecResult, error)
	GetBalance(ctx context.Context, userID string) (map[string]float64, error)
	GetMarketPrice(ctx context.Context, symbol string) (float64, error)
	CancelOrder(ctx context.Context, orderID string) (bool, error)
}
