package order

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Side denotes order side.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Status tracks the order lifecycle: NEW -> (REJECTED | QUEUED) ->
// (FILLED | FAILED | CANCELED). REJECTED, FILLED, FAILED and CANCELED are
// terminal.
type Status string

const (
	StatusNew      Status = "NEW"
	StatusQueued   Status = "QUEUED"
	StatusFilled   Status = "FILLED"
	StatusFailed   Status = "FAILED"
	StatusRejected Status = "REJECTED"
	StatusCanceled Status = "CANCELED"
)

const idPrefix = "ntx"

// Order represents a user/bot request to buy or sell a quantity of a symbol.
// Price 0 means market order. The bridge owns the authoritative copy; the
// database is a durable mirror.
type Order struct {
	ID         string            `json:"id"`
	UserID     string            `json:"user_id"`
	BotID      string            `json:"bot_id"`
	Symbol     string            `json:"symbol"`
	Side       Side              `json:"side"`
	Qty        float64           `json:"qty"`
	Price      float64           `json:"price,omitempty"`
	Status     Status            `json:"status"`
	CreatedAt  time.Time         `json:"created_at"`
	ExecutedAt *time.Time        `json:"executed_at,omitempty"`
	Meta       map[string]string `json:"meta,omitempty"`
}

// New builds an order with a fresh globally unique id and status NEW.
// Validation of qty/price is deferred to the risk manager; this has no side
// effects beyond id generation.
func New(userID, botID, symbol string, side Side, qty, price float64, meta map[string]string) Order {
	if meta == nil {
		meta = make(map[string]string)
	}
	return Order{
		ID:        newID(),
		UserID:    userID,
		BotID:     botID,
		Symbol:    symbol,
		Side:      NormalizeSide(string(side)),
		Qty:       qty,
		Price:     price,
		Status:    StatusNew,
		CreatedAt: time.Now(),
		Meta:      meta,
	}
}

func newID() string {
	return fmt.Sprintf("%s_%d_%s", idPrefix, time.Now().Unix(), uuid.NewString()[:8])
}

// NormalizeSide maps arbitrary-cased input onto the Side constants.
func NormalizeSide(s string) Side {
	if strings.EqualFold(s, string(SideSell)) {
		return SideSell
	}
	return SideBuy
}

// Terminal reports whether the status admits no further transitions.
func (o *Order) Terminal() bool {
	switch o.Status {
	case StatusFilled, StatusFailed, StatusRejected, StatusCanceled:
		return true
	}
	return false
}

// SignedQty returns the quantity signed by side (positive buys, negative sells).
func (o *Order) SignedQty() float64 {
	if o.Side == SideSell {
		return -o.Qty
	}
	return o.Qty
}

// MarkFilled stamps the terminal fill state. executed_at is set if and only
// if the order fills.
func (o *Order) MarkFilled(at time.Time) {
	o.Status = StatusFilled
	t := at
	o.ExecutedAt = &t
}
