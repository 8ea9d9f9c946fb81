package bots

import (
	"context"
	"errors"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"tradebridge/internal/events"
	"tradebridge/internal/order"
)

type fakeBot struct {
	id     string
	userID string
	active atomic.Bool
	ticks  atomic.Int64
	panics bool
}

func newFakeBot(userID, id string) *fakeBot {
	b := &fakeBot{id: id, userID: userID}
	return b
}

func (b *fakeBot) ID() string     { return b.id }
func (b *fakeBot) UserID() string { return b.userID }
func (b *fakeBot) Active() bool   { return b.active.Load() }
func (b *fakeBot) Start(context.Context) error {
	b.active.Store(true)
	return nil
}
func (b *fakeBot) Stop() { b.active.Store(false) }
func (b *fakeBot) HandleMarketTick(Tick) {
	if b.panics {
		panic("strategy bug")
	}
	b.ticks.Add(1)
}

func TestRegisterAndUnregister(t *testing.T) {
	bus := events.NewBus()
	r := NewRegistry(bus, 10)
	ctx := context.Background()

	b := newFakeBot("alice", "bot-1")
	if err := r.Register(ctx, b); err != nil {
		t.Fatalf("register: %v", err)
	}
	if !b.Active() {
		t.Error("registered bot should be started")
	}
	if err := r.Register(ctx, newFakeBot("alice", "bot-1")); !errors.Is(err, ErrBotExists) {
		t.Errorf("duplicate register: want ErrBotExists, got %v", err)
	}

	if err := r.Unregister("alice", "bot-1"); err != nil {
		t.Fatalf("unregister: %v", err)
	}
	if b.Active() {
		t.Error("unregistered bot should be stopped")
	}
	if err := r.Unregister("alice", "bot-1"); !errors.Is(err, ErrBotNotFound) {
		t.Errorf("second unregister: want ErrBotNotFound, got %v", err)
	}
}

func TestPerUserCap(t *testing.T) {
	r := NewRegistry(events.NewBus(), 2)
	ctx := context.Background()

	for _, id := range []string{"a", "b"} {
		if err := r.Register(ctx, newFakeBot("alice", id)); err != nil {
			t.Fatalf("register %s: %v", id, err)
		}
	}
	if err := r.Register(ctx, newFakeBot("alice", "c")); !errors.Is(err, ErrUserBotCap) {
		t.Errorf("want ErrUserBotCap, got %v", err)
	}
	// Another user is unaffected.
	if err := r.Register(ctx, newFakeBot("bob", "a")); err != nil {
		t.Errorf("bob should register: %v", err)
	}
}

func TestDispatchSurvivesPanickingBot(t *testing.T) {
	r := NewRegistry(events.NewBus(), 10)
	ctx := context.Background()

	bad := newFakeBot("alice", "bad")
	bad.panics = true
	good := newFakeBot("alice", "good")
	for _, b := range []*fakeBot{bad, good} {
		if err := r.Register(ctx, b); err != nil {
			t.Fatalf("register: %v", err)
		}
	}

	r.Dispatch(Tick{Symbol: "BTCUSD", Price: 100, TS: time.Now()})

	if good.ticks.Load() != 1 {
		t.Errorf("healthy bot should still receive the tick, got %d", good.ticks.Load())
	}
}

func TestDispatchSkipsInactive(t *testing.T) {
	r := NewRegistry(events.NewBus(), 10)
	ctx := context.Background()

	b := newFakeBot("alice", "bot-1")
	if err := r.Register(ctx, b); err != nil {
		t.Fatalf("register: %v", err)
	}
	b.Stop()

	r.Dispatch(Tick{Symbol: "BTCUSD", Price: 100})
	if b.ticks.Load() != 0 {
		t.Error("inactive bot should not receive ticks")
	}
}

func TestRegisterEmitsEvent(t *testing.T) {
	bus := events.NewBus()
	ch, unsub := bus.Subscribe(events.EventBotRegistered, 4)
	defer unsub()

	r := NewRegistry(bus, 10)
	if err := r.Register(context.Background(), newFakeBot("alice", "bot-1")); err != nil {
		t.Fatalf("register: %v", err)
	}

	select {
	case msg := <-ch:
		payload, ok := msg.(map[string]string)
		if !ok || payload["bot_id"] != "bot-1" {
			t.Errorf("unexpected payload: %#v", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("no bot_registered event")
	}
}

func TestSummary(t *testing.T) {
	r := NewRegistry(events.NewBus(), 10)
	ctx := context.Background()

	a := newFakeBot("alice", "a")
	b := newFakeBot("alice", "b")
	c := newFakeBot("bob", "a")
	for _, bot := range []*fakeBot{a, b, c} {
		if err := r.Register(ctx, bot); err != nil {
			t.Fatalf("register: %v", err)
		}
	}
	b.Stop()

	s := r.Summary()
	if s.Total != 3 || s.Active != 2 {
		t.Errorf("summary = %+v, want total 3 active 2", s)
	}
	if s.ByUser["alice"] != 2 || s.ByUser["bob"] != 1 {
		t.Errorf("by_user = %+v", s.ByUser)
	}
}

type captureSubmitter struct {
	orders []order.Order
	err    error
}

func (c *captureSubmitter) Submit(_ context.Context, o order.Order) (order.Order, error) {
	if c.err != nil {
		return o, c.err
	}
	c.orders = append(c.orders, o)
	return o, nil
}

func TestMeanReversionSignals(t *testing.T) {
	sub := &captureSubmitter{}
	b := NewMeanReversion(MeanReversionParams{
		ID: "mr-1", UserID: "alice", Symbol: "BTCUSD",
		Window: 5, Threshold: 0.02, Qty: 1,
	}, sub)
	if err := b.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	// Fill the window at a stable price. No signals yet.
	for i := 0; i < 5; i++ {
		b.HandleMarketTick(Tick{Symbol: "BTCUSD", Price: 100})
	}
	if len(sub.orders) != 0 {
		t.Fatalf("no orders expected while flat, got %d", len(sub.orders))
	}

	// A 3% drop triggers a buy.
	b.HandleMarketTick(Tick{Symbol: "BTCUSD", Price: 97})
	if len(sub.orders) != 1 || sub.orders[0].Side != order.SideBuy {
		t.Fatalf("expected one BUY, got %+v", sub.orders)
	}

	// A rally above the mean triggers the exit sell.
	for i := 0; i < 5; i++ {
		b.HandleMarketTick(Tick{Symbol: "BTCUSD", Price: 100})
	}
	b.HandleMarketTick(Tick{Symbol: "BTCUSD", Price: 103})
	if len(sub.orders) != 2 || sub.orders[1].Side != order.SideSell {
		t.Fatalf("expected BUY then SELL, got %+v", sub.orders)
	}

	// Ticks for other symbols are ignored.
	b.HandleMarketTick(Tick{Symbol: "ETHUSD", Price: 1})
	if len(sub.orders) != 2 {
		t.Error("foreign symbol tick should be ignored")
	}
}

func TestFleetConfigLoad(t *testing.T) {
	path := t.TempDir() + "/bots.yaml"
	content := `
bots:
  - id: mr-1
    user_id: alice
    symbol: BTCUSD
    window: 10
    threshold: 0.03
    qty: 0.5
  - id: mr-2
    user_id: bob
    strategy: mean_reversion
    symbol: ETHUSD
    enabled: false
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFleetConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.Bots) != 2 {
		t.Fatalf("want 2 bots, got %d", len(cfg.Bots))
	}
	if cfg.Bots[0].Strategy != "mean_reversion" {
		t.Errorf("default strategy not applied: %q", cfg.Bots[0].Strategy)
	}
	if cfg.Bots[0].IsEnabled() != true || cfg.Bots[1].IsEnabled() != false {
		t.Error("enabled flags wrong")
	}

	b, err := cfg.Bots[0].Build(&captureSubmitter{})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if b.ID() != "mr-1" || b.UserID() != "alice" {
		t.Errorf("built bot identity wrong: %s/%s", b.UserID(), b.ID())
	}
}

func TestFleetConfigRejectsDuplicates(t *testing.T) {
	path := t.TempDir() + "/bots.yaml"
	content := `
bots:
  - {id: mr-1, user_id: alice, symbol: BTCUSD}
  - {id: mr-1, user_id: alice, symbol: ETHUSD}
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFleetConfig(path); err == nil {
		t.Error("duplicate bot ids should fail validation")
	}
}
