package db

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestDB(t *testing.T) *Database {
	t.Helper()
	d, err := New(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func TestUpsertAndGetOrder(t *testing.T) {
	q := newTestDB(t).Queries()
	ctx := context.Background()

	o := OrderRecord{
		ID:        "ntx_1_abc",
		UserID:    "alice",
		BotID:     "bot-1",
		Symbol:    "BTCUSD",
		Side:      "BUY",
		Qty:       0.5,
		Status:    "NEW",
		CreatedAt: time.Now(),
		Meta:      map[string]string{"source": "test"},
	}
	if err := q.UpsertOrder(ctx, o); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := q.GetOrder(ctx, "alice", "ntx_1_abc")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Symbol != "BTCUSD" || got.Status != "NEW" || got.Meta["source"] != "test" {
		t.Errorf("unexpected order: %+v", got)
	}
	if got.ExecutedAt != nil {
		t.Error("expected nil ExecutedAt for NEW order")
	}

	// Replacing the same id updates rather than duplicates.
	o.Status = "FILLED"
	now := time.Now()
	o.ExecutedAt = &now
	if err := q.UpsertOrder(ctx, o); err != nil {
		t.Fatalf("upsert again: %v", err)
	}
	got, err = q.GetOrder(ctx, "alice", "ntx_1_abc")
	if err != nil {
		t.Fatalf("get after replace: %v", err)
	}
	if got.Status != "FILLED" || got.ExecutedAt == nil {
		t.Errorf("replace did not update status: %+v", got)
	}
}

func TestOrderUserIsolation(t *testing.T) {
	q := newTestDB(t).Queries()
	ctx := context.Background()

	for _, o := range []OrderRecord{
		{ID: "o1", UserID: "alice", Symbol: "BTCUSD", Side: "BUY", Qty: 1, Status: "NEW", CreatedAt: time.Now()},
		{ID: "o2", UserID: "bob", Symbol: "ETHUSD", Side: "SELL", Qty: 2, Status: "QUEUED", CreatedAt: time.Now()},
	} {
		if err := q.UpsertOrder(ctx, o); err != nil {
			t.Fatalf("upsert %s: %v", o.ID, err)
		}
	}

	if _, err := q.GetOrder(ctx, "alice", "o2"); !errors.Is(err, ErrNotFound) {
		t.Errorf("alice reading bob's order: want ErrNotFound, got %v", err)
	}

	orders, err := q.ListOrders(ctx, "alice", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(orders) != 1 || orders[0].ID != "o1" {
		t.Errorf("alice should see only her order, got %+v", orders)
	}

	if _, err := q.ListOrders(ctx, "", 10); !errors.Is(err, ErrUserIDRequired) {
		t.Errorf("empty user id: want ErrUserIDRequired, got %v", err)
	}
}

func TestListOpenOrders(t *testing.T) {
	q := newTestDB(t).Queries()
	ctx := context.Background()

	for _, o := range []OrderRecord{
		{ID: "a", UserID: "u", Symbol: "BTCUSD", Side: "BUY", Qty: 1, Status: "NEW", CreatedAt: time.Now()},
		{ID: "b", UserID: "u", Symbol: "BTCUSD", Side: "BUY", Qty: 1, Status: "QUEUED", CreatedAt: time.Now()},
		{ID: "c", UserID: "u", Symbol: "BTCUSD", Side: "BUY", Qty: 1, Status: "FILLED", CreatedAt: time.Now()},
		{ID: "d", UserID: "u", Symbol: "BTCUSD", Side: "BUY", Qty: 1, Status: "REJECTED", CreatedAt: time.Now()},
	} {
		if err := q.UpsertOrder(ctx, o); err != nil {
			t.Fatalf("upsert %s: %v", o.ID, err)
		}
	}

	open, err := q.ListOpenOrders(ctx, "u")
	if err != nil {
		t.Fatalf("list open: %v", err)
	}
	if len(open) != 2 {
		t.Fatalf("want 2 open orders, got %d", len(open))
	}
	for _, o := range open {
		if o.Status != "NEW" && o.Status != "QUEUED" {
			t.Errorf("terminal order %s (%s) in open list", o.ID, o.Status)
		}
	}
}

func TestApplyFillWeightedAverage(t *testing.T) {
	q := newTestDB(t).Queries()
	ctx := context.Background()

	fills := []Trade{
		{OrderID: "o1", UserID: "alice", Symbol: "BTCUSD", Side: "BUY", Qty: 1, Price: 100},
		{OrderID: "o2", UserID: "alice", Symbol: "BTCUSD", Side: "BUY", Qty: 1, Price: 200},
	}
	for _, f := range fills {
		if err := q.ApplyFill(ctx, f); err != nil {
			t.Fatalf("apply fill: %v", err)
		}
	}

	positions, err := q.GetPositions(ctx, "alice")
	if err != nil {
		t.Fatalf("get positions: %v", err)
	}
	if len(positions) != 1 {
		t.Fatalf("want 1 position, got %d", len(positions))
	}
	p := positions[0]
	if p.Qty != 2 {
		t.Errorf("qty = %v, want 2", p.Qty)
	}
	if p.AvgPrice != 150 {
		t.Errorf("avg_price = %v, want 150", p.AvgPrice)
	}
}

func TestApplyFillNetsToZeroDeletesRow(t *testing.T) {
	q := newTestDB(t).Queries()
	ctx := context.Background()

	buy := Trade{OrderID: "o1", UserID: "alice", Symbol: "ETHUSD", Side: "BUY", Qty: 3, Price: 50}
	sell := Trade{OrderID: "o2", UserID: "alice", Symbol: "ETHUSD", Side: "SELL", Qty: 3, Price: 55}
	if err := q.ApplyFill(ctx, buy); err != nil {
		t.Fatalf("buy fill: %v", err)
	}
	if err := q.ApplyFill(ctx, sell); err != nil {
		t.Fatalf("sell fill: %v", err)
	}

	positions, err := q.GetPositions(ctx, "alice")
	if err != nil {
		t.Fatalf("get positions: %v", err)
	}
	if len(positions) != 0 {
		t.Errorf("flat position row should be deleted, got %+v", positions)
	}

	// Trades remain, so reconciliation still nets to zero.
	sums, err := q.SumSignedFills(ctx, "alice")
	if err != nil {
		t.Fatalf("sum fills: %v", err)
	}
	if sums["ETHUSD"] != 0 {
		t.Errorf("signed sum = %v, want 0", sums["ETHUSD"])
	}
}

func TestSumSignedFills(t *testing.T) {
	q := newTestDB(t).Queries()
	ctx := context.Background()

	for _, f := range []Trade{
		{OrderID: "o1", UserID: "alice", Symbol: "BTCUSD", Side: "BUY", Qty: 2, Price: 100},
		{OrderID: "o2", UserID: "alice", Symbol: "BTCUSD", Side: "SELL", Qty: 0.5, Price: 110},
		{OrderID: "o3", UserID: "bob", Symbol: "BTCUSD", Side: "BUY", Qty: 9, Price: 100},
	} {
		if err := q.ApplyFill(ctx, f); err != nil {
			t.Fatalf("apply fill: %v", err)
		}
	}

	sums, err := q.SumSignedFills(ctx, "alice")
	if err != nil {
		t.Fatalf("sum fills: %v", err)
	}
	if sums["BTCUSD"] != 1.5 {
		t.Errorf("alice BTCUSD sum = %v, want 1.5", sums["BTCUSD"])
	}

	users, err := q.TradeUserIDs(ctx)
	if err != nil {
		t.Fatalf("trade users: %v", err)
	}
	if len(users) != 2 {
		t.Errorf("want 2 trading users, got %v", users)
	}
}

func TestAuditRoundTrip(t *testing.T) {
	q := newTestDB(t).Queries()
	ctx := context.Background()

	if err := q.InsertAudit(ctx, "warning", "exposure limit near", map[string]string{"user_id": "alice"}); err != nil {
		t.Fatalf("insert audit: %v", err)
	}
	entries, err := q.ListAudit(ctx, 10)
	if err != nil {
		t.Fatalf("list audit: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("want 1 audit entry, got %d", len(entries))
	}
	if entries[0].Level != "warning" || entries[0].Meta["user_id"] != "alice" {
		t.Errorf("unexpected entry: %+v", entries[0])
	}
}

func TestUserAccounts(t *testing.T) {
	q := newTestDB(t).Queries()
	ctx := context.Background()

	if err := q.CreateUser(ctx, User{ID: "u1", Email: "a@b.c", PasswordHash: "hash"}); err != nil {
		t.Fatalf("create user: %v", err)
	}
	u, err := q.GetUserByEmail(ctx, "a@b.c")
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if u.ID != "u1" || u.PasswordHash != "hash" {
		t.Errorf("unexpected user: %+v", u)
	}

	if _, err := q.GetUserByEmail(ctx, "missing@b.c"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing user: want ErrNotFound, got %v", err)
	}

	if err := q.CreateUser(ctx, User{ID: "u2", Email: "a@b.c", PasswordHash: "x"}); err == nil {
		t.Error("duplicate email should fail")
	}
}
