// Package db provides user-isolated persistence for orders, trades,
// positions and the audit log.
package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	ErrUserIDRequired = errors.New("user_id is required for data isolation")
	ErrNotFound       = errors.New("record not found")
)

// Queries provides user-isolated database queries.
type Queries struct {
	db *sql.DB
}

// ----------------------------------------
// Order Queries
// ----------------------------------------

// UpsertOrder inserts or replaces the durable mirror of an order.
func (q *Queries) UpsertOrder(ctx context.Context, o OrderRecord) error {
	if o.UserID == "" {
		return ErrUserIDRequired
	}

	metaJSON, err := json.Marshal(o.Meta)
	if err != nil {
		return fmt.Errorf("marshal order meta: %w", err)
	}
	var executedAt int64
	if o.ExecutedAt != nil {
		executedAt = o.ExecutedAt.Unix()
	}

	_, err = q.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO orders (id, user_id, bot_id, symbol, side, qty, price, status, created_at, executed_at, meta)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, o.ID, o.UserID, o.BotID, o.Symbol, o.Side, o.Qty, o.Price, o.Status, o.CreatedAt.Unix(), executedAt, string(metaJSON))
	return err
}

// GetOrder returns a single order by id, verifying user ownership.
func (q *Queries) GetOrder(ctx context.Context, userID, orderID string) (*OrderRecord, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}

	row := q.db.QueryRowContext(ctx, `
		SELECT id, user_id, COALESCE(bot_id, ''), symbol, side, qty, COALESCE(price, 0),
		       status, created_at, COALESCE(executed_at, 0), COALESCE(meta, '{}')
		FROM orders
		WHERE id = ? AND user_id = ?
	`, orderID, userID)

	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query order: %w", err)
	}
	return o, nil
}

// ListOrders returns the most recent orders for a user.
func (q *Queries) ListOrders(ctx context.Context, userID string, limit int) ([]OrderRecord, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}
	if limit <= 0 {
		limit = 100
	}

	rows, err := q.db.QueryContext(ctx, `
		SELECT id, user_id, COALESCE(bot_id, ''), symbol, side, qty, COALESCE(price, 0),
		       status, created_at, COALESCE(executed_at, 0), COALESCE(meta, '{}')
		FROM orders
		WHERE user_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	return collectOrders(rows)
}

// ListOpenOrders returns non-terminal orders for a user.
func (q *Queries) ListOpenOrders(ctx context.Context, userID string) ([]OrderRecord, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}

	rows, err := q.db.QueryContext(ctx, `
		SELECT id, user_id, COALESCE(bot_id, ''), symbol, side, qty, COALESCE(price, 0),
		       status, created_at, COALESCE(executed_at, 0), COALESCE(meta, '{}')
		FROM orders
		WHERE user_id = ? AND status IN ('NEW', 'QUEUED')
		ORDER BY created_at DESC, id DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("query open orders: %w", err)
	}
	defer rows.Close()

	return collectOrders(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(r rowScanner) (*OrderRecord, error) {
	var (
		o          OrderRecord
		createdAt  int64
		executedAt int64
		metaJSON   string
	)
	if err := r.Scan(&o.ID, &o.UserID, &o.BotID, &o.Symbol, &o.Side, &o.Qty, &o.Price,
		&o.Status, &createdAt, &executedAt, &metaJSON); err != nil {
		return nil, err
	}
	o.CreatedAt = time.Unix(createdAt, 0)
	if executedAt > 0 {
		t := time.Unix(executedAt, 0)
		o.ExecutedAt = &t
	}
	if metaJSON != "" {
		_ = json.Unmarshal([]byte(metaJSON), &o.Meta)
	}
	return &o, nil
}

func collectOrders(rows *sql.Rows) ([]OrderRecord, error) {
	var orders []OrderRecord
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, *o)
	}
	return orders, rows.Err()
}

// ----------------------------------------
// Positions
// ----------------------------------------

// GetPositions returns all positions for a specific user.
func (q *Queries) GetPositions(ctx context.Context, userID string) ([]Position, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}

	rows, err := q.db.QueryContext(ctx, `
		SELECT user_id, symbol, qty, avg_price, updated_at
		FROM positions
		WHERE user_id = ?
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("query positions: %w", err)
	}
	defer rows.Close()

	var positions []Position
	for rows.Next() {
		var (
			p         Position
			updatedAt int64
		)
		if err := rows.Scan(&p.UserID, &p.Symbol, &p.Qty, &p.AvgPrice, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		p.UpdatedAt = time.Unix(updatedAt, 0)
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// ApplyFill records a trade row and folds the signed fill into the (user,
// symbol) position in a single transaction: weighted-average cost basis on
// same-direction adds, row deleted when qty nets to exactly zero.
func (q *Queries) ApplyFill(ctx context.Context, t Trade) error {
	if t.UserID == "" {
		return ErrUserIDRequired
	}

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin fill tx: %w", err)
	}
	defer tx.Rollback()

	if t.ID == "" {
		t.ID = "trd_" + uuid.NewString()[:10]
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO trades (id, order_id, user_id, symbol, side, qty, price, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.OrderID, t.UserID, t.Symbol, t.Side, t.Qty, t.Price, t.CreatedAt.Unix()); err != nil {
		return fmt.Errorf("insert trade: %w", err)
	}

	signed := t.Qty
	if t.Side == "SELL" {
		signed = -t.Qty
	}
	now := time.Now().Unix()

	var (
		posID  string
		oldQty float64
		oldAvg float64
	)
	err = tx.QueryRowContext(ctx,
		`SELECT id, qty, avg_price FROM positions WHERE user_id = ? AND symbol = ?`,
		t.UserID, t.Symbol).Scan(&posID, &oldQty, &oldAvg)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		posID = "pos_" + uuid.NewString()[:10]
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO positions (id, user_id, symbol, qty, avg_price, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, posID, t.UserID, t.Symbol, signed, t.Price, now); err != nil {
			return fmt.Errorf("insert position: %w", err)
		}
	case err != nil:
		return fmt.Errorf("read position: %w", err)
	default:
		newQty := oldQty + signed
		if newQty == 0 {
			if _, err := tx.ExecContext(ctx, `DELETE FROM positions WHERE id = ?`, posID); err != nil {
				return fmt.Errorf("delete flat position: %w", err)
			}
		} else {
			newAvg := (oldAvg*oldQty + t.Price*signed) / newQty
			if _, err := tx.ExecContext(ctx, `
				UPDATE positions SET qty = ?, avg_price = ?, updated_at = ? WHERE id = ?
			`, newQty, newAvg, now, posID); err != nil {
				return fmt.Errorf("update position: %w", err)
			}
		}
	}

	return tx.Commit()
}

// SumSignedFills aggregates the signed trade quantity per symbol for a user.
// The reconciliation service checks this against the positions table.
func (q *Queries) SumSignedFills(ctx context.Context, userID string) (map[string]float64, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}

	rows, err := q.db.QueryContext(ctx, `
		SELECT symbol, SUM(CASE side WHEN 'SELL' THEN -qty ELSE qty END)
		FROM trades
		WHERE user_id = ?
		GROUP BY symbol
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("sum fills: %w", err)
	}
	defer rows.Close()

	out := make(map[string]float64)
	for rows.Next() {
		var (
			symbol string
			sum    float64
		)
		if err := rows.Scan(&symbol, &sum); err != nil {
			return nil, fmt.Errorf("scan fill sum: %w", err)
		}
		out[symbol] = sum
	}
	return out, rows.Err()
}

// TradeUserIDs lists the distinct users that have any fills recorded.
func (q *Queries) TradeUserIDs(ctx context.Context) ([]string, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT DISTINCT user_id FROM trades`)
	if err != nil {
		return nil, fmt.Errorf("query trade users: %w", err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// ----------------------------------------
// Audit
// ----------------------------------------

// InsertAudit appends an audit row. Failures here must never abort the
// calling operation; callers log and continue.
func (q *Queries) InsertAudit(ctx context.Context, level, message string, meta map[string]string) error {
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal audit meta: %w", err)
	}
	_, err = q.db.ExecContext(ctx, `
		INSERT INTO audit (id, ts, level, message, meta)
		VALUES (?, ?, ?, ?, ?)
	`, "audit_"+uuid.NewString()[:10], time.Now().Unix(), level, message, string(metaJSON))
	return err
}

// ListAudit returns the most recent audit entries.
func (q *Queries) ListAudit(ctx context.Context, limit int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, ts, level, message, COALESCE(meta, '{}')
		FROM audit
		ORDER BY ts DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit: %w", err)
	}
	defer rows.Close()

	var entries []AuditEntry
	for rows.Next() {
		var (
			e        AuditEntry
			ts       int64
			metaJSON string
		)
		if err := rows.Scan(&e.ID, &ts, &e.Level, &e.Message, &metaJSON); err != nil {
			return nil, fmt.Errorf("scan audit: %w", err)
		}
		e.TS = time.Unix(ts, 0)
		_ = json.Unmarshal([]byte(metaJSON), &e.Meta)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ----------------------------------------
// Users (API accounts)
// ----------------------------------------

// CreateUser inserts an API account.
func (q *Queries) CreateUser(ctx context.Context, u User) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO users (id, email, password_hash) VALUES (?, ?, ?)
	`, u.ID, u.Email, u.PasswordHash)
	return err
}

// GetUserByEmail returns an API account by email.
func (q *Queries) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	var u User
	err := q.db.QueryRowContext(ctx, `
		SELECT id, email, password_hash, created_at FROM users WHERE email = ?
	`, email).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query user: %w", err)
	}
	return &u, nil
}
