package db

import "time"

// OrderRecord is the durable mirror of an order.
type OrderRecord struct {
	ID         string            `json:"id"`
	UserID     string            `json:"user_id"`
	BotID      string            `json:"bot_id,omitempty"`
	Symbol     string            `json:"symbol"`
	Side       string            `json:"side"`
	Qty        float64           `json:"qty"`
	Price      float64           `json:"price,omitempty"`
	Status     string            `json:"status"`
	CreatedAt  time.Time         `json:"created_at"`
	ExecutedAt *time.Time        `json:"executed_at,omitempty"`
	Meta       map[string]string `json:"meta,omitempty"`
}

// Trade records a single fill against an order.
type Trade struct {
	ID        string    `json:"id"`
	OrderID   string    `json:"order_id"`
	UserID    string    `json:"user_id"`
	Symbol    string    `json:"symbol"`
	Side      string    `json:"side"`
	Qty       float64   `json:"qty"`
	Price     float64   `json:"price"`
	CreatedAt time.Time `json:"created_at"`
}

// Position tracks the net holding per (user, symbol). Qty is signed; the row
// is deleted when qty nets to exactly zero.
type Position struct {
	UserID    string    `json:"user_id"`
	Symbol    string    `json:"symbol"`
	Qty       float64   `json:"qty"`
	AvgPrice  float64   `json:"avg_price"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AuditEntry is an append-only operational log row.
type AuditEntry struct {
	ID      string            `json:"id"`
	TS      time.Time         `json:"ts"`
	Level   string            `json:"level"`
	Message string            `json:"message"`
	Meta    map[string]string `json:"meta,omitempty"`
}

// User is an API account row.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}
