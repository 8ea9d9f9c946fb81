// Package bridge coordinates order flow between bots, the risk manager,
// the broker adapter and persistence.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"tradebridge/internal/bots"
	"tradebridge/internal/broker"
	"tradebridge/internal/events"
	"tradebridge/internal/monitor"
	"tradebridge/internal/order"
	"tradebridge/internal/risk"
	"tradebridge/pkg/db"
	"tradebridge/pkg/jsonstore"
)

// Trading modes.
const (
	ModePaper = "paper"
	ModeLive  = "live"
)

// paperNoiseFrac is the simulated fill noise applied in paper mode.
const paperNoiseFrac = 0.0005

var (
	ErrRejected      = errors.New("order rejected by risk checks")
	ErrUnknownMode   = errors.New("unknown trading mode")
	ErrQueueFull     = errors.New("order queue full")
	ErrNotCancelable = errors.New("order is not cancelable")
)

// Config wires the bridge's collaborators.
type Config struct {
	Broker    broker.Adapter
	Risk      *risk.Manager
	Queries   *db.Queries
	JSONStore *jsonstore.Store // optional mirror
	Bus       *events.Bus
	Registry  *bots.Registry
	Metrics   *monitor.Metrics

	Mode              string
	QueueSize         int
	HeartbeatInterval time.Duration
	BrokerTimeout     time.Duration
}

// Bridge is the central coordinator. One instance per process.
type Bridge struct {
	cfg   Config
	queue *order.Queue
	rng   *rand.Rand

	mu        sync.RWMutex
	prices    map[string]float64
	canceled  map[string]bool
	users     map[string]bool
	rngMu     sync.Mutex
	wg        sync.WaitGroup
	cancelRun context.CancelFunc
	running   bool
}

// New validates the config and builds a bridge.
func New(cfg Config) (*Bridge, error) {
	if cfg.Broker == nil || cfg.Risk == nil || cfg.Queries == nil || cfg.Bus == nil {
		return nil, errors.New("bridge: broker, risk, queries and bus are required")
	}
	switch cfg.Mode {
	case ModePaper, ModeLive:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, cfg.Mode)
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 5 * time.Second
	}
	if cfg.BrokerTimeout <= 0 {
		cfg.BrokerTimeout = 10 * time.Second
	}
	if cfg.Metrics == nil {
		cfg.Metrics = monitor.NewMetrics()
	}

	return &Bridge{
		cfg:      cfg,
		queue:    order.NewQueue(cfg.QueueSize),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		prices:   make(map[string]float64),
		canceled: make(map[string]bool),
		users:    make(map[string]bool),
	}, nil
}

// Start launches the live-order worker and the heartbeat loop.
func (b *Bridge) Start(ctx context.Context) {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return
	}
	ctx, b.cancelRun = context.WithCancel(ctx)
	b.running = true
	b.mu.Unlock()

	b.wg.Add(2)
	go b.runWorker(ctx)
	go b.runHeartbeat(ctx)
}

// Shutdown stops the loops and drains queued orders, marking each one
// canceled so nothing executes after the process is gone.
func (b *Bridge) Shutdown(ctx context.Context) {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	b.running = false
	cancel := b.cancelRun
	b.mu.Unlock()

	cancel()
	b.wg.Wait()

	remaining := b.queue.Flush()
	for _, o := range remaining {
		o.Status = order.StatusCanceled
		if o.Meta == nil {
			o.Meta = map[string]string{}
		}
		o.Meta["cancel_reason"] = "shutdown"
		b.persistOrder(ctx, o)
		b.cfg.Bus.Publish(events.EventOrderCanceled, o)
		b.cfg.Metrics.OrdersCanceled.Add(1)
		log.Printf("🛑 Drained queued order %s (%s %s %.6f %s)", o.ID, o.UserID, o.Side, o.Qty, o.Symbol)
	}
	if len(remaining) > 0 {
		log.Printf("🛑 Canceled %d queued orders on shutdown", len(remaining))
	}
}

// Submit satisfies the bot submitter contract.
func (b *Bridge) Submit(ctx context.Context, o order.Order) (order.Order, error) {
	return b.SubmitOrder(ctx, o)
}

// SubmitOrder runs risk checks then either fills synchronously (paper) or
// enqueues for the worker (live). The returned order carries the final,
// or queued, status.
func (b *Bridge) SubmitOrder(ctx context.Context, o order.Order) (order.Order, error) {
	b.cfg.Metrics.OrdersSubmitted.Add(1)
	b.trackUser(o.UserID)

	price, err := b.referencePrice(ctx, o)
	if err != nil {
		return b.reject(ctx, o, "no_market_price"), ErrRejected
	}

	exp, err := b.exposure(ctx, o.UserID, o.Symbol)
	if err != nil {
		// Fail closed: without a positions snapshot the exposure caps
		// cannot be enforced.
		log.Printf("⚠️ Exposure lookup failed for %s: %v", o.UserID, err)
		return b.reject(ctx, o, "exposure_unavailable"), ErrRejected
	}
	assessment := b.cfg.Risk.AssessOrder(o, price, exp)
	if !assessment.Approved {
		return b.reject(ctx, o, assessment.Reason), ErrRejected
	}

	switch b.cfg.Mode {
	case ModePaper:
		return b.fillPaper(ctx, o, price)
	case ModeLive:
		return b.enqueueLive(ctx, o)
	default:
		return o, fmt.Errorf("%w: %q", ErrUnknownMode, b.cfg.Mode)
	}
}

// CancelOrder is best effort: a still-queued order is flagged so the
// worker skips it, and the cancel is forwarded to the broker in case it
// already left the bridge.
func (b *Bridge) CancelOrder(ctx context.Context, userID, orderID string) (bool, error) {
	rec, err := b.cfg.Queries.GetOrder(ctx, userID, orderID)
	if err != nil {
		return false, err
	}
	if rec.Status != string(order.StatusQueued) && rec.Status != string(order.StatusNew) {
		return false, fmt.Errorf("%w: %s is %s", ErrNotCancelable, orderID, rec.Status)
	}

	b.mu.Lock()
	b.canceled[orderID] = true
	b.mu.Unlock()

	if _, err := b.cfg.Broker.CancelOrder(ctx, orderID); err != nil {
		log.Printf("⚠️ Broker cancel %s failed: %v", orderID, err)
	}

	rec.Status = string(order.StatusCanceled)
	if err := b.cfg.Queries.UpsertOrder(ctx, *rec); err != nil {
		return false, fmt.Errorf("persist cancel: %w", err)
	}
	b.mirrorOrderRecord(*rec)
	b.cfg.Bus.Publish(events.EventOrderCanceled, *rec)
	b.cfg.Metrics.OrdersCanceled.Add(1)
	return true, nil
}

// OnTick feeds a market update into the price cache and the bot fleet.
func (b *Bridge) OnTick(symbol string, price float64, ts time.Time) {
	b.UpdateMarketPrice(symbol, price)
	b.cfg.Metrics.TicksProcessed.Add(1)
	b.cfg.Bus.Publish(events.EventPriceTick, bots.Tick{Symbol: symbol, Price: price, TS: ts})
	if b.cfg.Registry != nil {
		b.cfg.Registry.Dispatch(bots.Tick{Symbol: symbol, Price: price, TS: ts})
	}
}

// UpdateMarketPrice caches the latest observed price for a symbol.
func (b *Bridge) UpdateMarketPrice(symbol string, price float64) {
	if price <= 0 {
		return
	}
	b.mu.Lock()
	b.prices[symbol] = price
	b.mu.Unlock()
}

// MarketPrice returns the cached price, falling back to the broker.
func (b *Bridge) MarketPrice(ctx context.Context, symbol string) (float64, error) {
	b.mu.RLock()
	p, ok := b.prices[symbol]
	b.mu.RUnlock()
	if ok {
		return p, nil
	}
	p, err := b.cfg.Broker.GetMarketPrice(ctx, symbol)
	if err != nil {
		return 0, fmt.Errorf("market price %s: %w", symbol, err)
	}
	b.UpdateMarketPrice(symbol, p)
	return p, nil
}

// QueueDepth reports the number of live orders awaiting execution.
func (b *Bridge) QueueDepth() int { return b.queue.Len() }

// -------------------------------------------------------------------
// internals
// -------------------------------------------------------------------

func (b *Bridge) referencePrice(ctx context.Context, o order.Order) (float64, error) {
	if o.Price > 0 {
		return o.Price, nil
	}
	return b.MarketPrice(ctx, o.Symbol)
}

// exposure snapshots what the risk checks need: gross USD exposure, the
// count of open symbols and whether the order's symbol is already held.
func (b *Bridge) exposure(ctx context.Context, userID, symbol string) (risk.Exposure, error) {
	positions, err := b.cfg.Queries.GetPositions(ctx, userID)
	if err != nil {
		return risk.Exposure{}, err
	}
	var exp risk.Exposure
	for _, p := range positions {
		exp.TotalUSD += math.Abs(p.Qty) * p.AvgPrice
		exp.OpenSymbols++
		if p.Symbol == symbol {
			exp.HasSymbol = true
		}
	}
	return exp, nil
}

func (b *Bridge) reject(ctx context.Context, o order.Order, reason string) order.Order {
	o.Status = order.StatusRejected
	if o.Meta == nil {
		o.Meta = map[string]string{}
	}
	o.Meta["reject_reason"] = reason
	b.persistOrder(ctx, o)
	b.publish(events.EventOrderRejected, o)
	b.cfg.Metrics.OrdersRejected.Add(1)

	if err := b.cfg.Queries.InsertAudit(ctx, "warning", "order rejected", map[string]string{
		"order_id": o.ID, "user_id": o.UserID, "reason": reason,
	}); err != nil {
		log.Printf("⚠️ Audit write failed: %v", err)
	}
	return o
}

// fillPaper simulates an immediate fill with slight price noise.
func (b *Bridge) fillPaper(ctx context.Context, o order.Order, price float64) (order.Order, error) {
	b.rngMu.Lock()
	noise := 1 + (b.rng.Float64()*2-1)*paperNoiseFrac
	b.rngMu.Unlock()
	execPrice := price * noise

	start := time.Now()
	now := time.Now()
	o.Status = order.StatusFilled
	o.ExecutedAt = &now
	o.Price = execPrice

	if err := b.applyFill(ctx, o, execPrice); err != nil {
		o.Status = order.StatusFailed
		b.persistOrder(ctx, o)
		b.publish(events.EventOrderFailed, o)
		b.cfg.Metrics.OrdersFailed.Add(1)
		return o, fmt.Errorf("paper fill: %w", err)
	}

	b.persistOrder(ctx, o)
	b.publish(events.EventOrderFilled, o)
	b.cfg.Metrics.OrdersFilled.Add(1)
	b.cfg.Metrics.ObserveExecLatency(time.Since(start))
	return o, nil
}

func (b *Bridge) enqueueLive(ctx context.Context, o order.Order) (order.Order, error) {
	o.Status = order.StatusQueued
	b.persistOrder(ctx, o)
	if !b.queue.TryEnqueue(o) {
		o.Status = order.StatusFailed
		if o.Meta == nil {
			o.Meta = map[string]string{}
		}
		o.Meta["fail_reason"] = "queue_full"
		b.persistOrder(ctx, o)
		b.publish(events.EventOrderFailed, o)
		b.cfg.Metrics.OrdersFailed.Add(1)
		return o, ErrQueueFull
	}
	if mock, ok := b.cfg.Broker.(*broker.Mock); ok {
		mock.Track(o)
	}
	b.publish(events.EventOrderQueued, o)
	return o, nil
}

// runWorker executes queued live orders one at a time.
func (b *Bridge) runWorker(ctx context.Context) {
	defer b.wg.Done()
	b.queue.Drain(ctx, func(o order.Order) {
		b.executeLive(ctx, o)
	})
}

func (b *Bridge) executeLive(ctx context.Context, o order.Order) {
	// Persistence uses its own context so a canceled run context cannot
	// leave an order stuck in QUEUED.
	dbCtx := context.Background()

	b.mu.Lock()
	wasCanceled := b.canceled[o.ID]
	delete(b.canceled, o.ID)
	b.mu.Unlock()
	if wasCanceled {
		o.Status = order.StatusCanceled
		b.persistOrder(dbCtx, o)
		b.publish(events.EventOrderCanceled, o)
		return
	}

	start := time.Now()
	callCtx, cancel := context.WithTimeout(ctx, b.cfg.BrokerTimeout)
	res, err := b.cfg.Broker.ExecuteOrder(callCtx, o)
	cancel()

	if err != nil || !res.OK {
		o.Status = order.StatusFailed
		if o.Meta == nil {
			o.Meta = map[string]string{}
		}
		switch {
		case err != nil:
			o.Meta["broker_error"] = err.Error()
		default:
			o.Meta["broker_error"] = res.Error
		}
		b.persistOrder(dbCtx, o)
		b.publish(events.EventOrderFailed, o)
		b.cfg.Metrics.OrdersFailed.Add(1)
		log.Printf("❌ Order %s failed: %s", o.ID, o.Meta["broker_error"])
		return
	}

	o.MarkFilled(res.Timestamp)
	o.Price = res.ExecPrice
	if err := b.applyFill(dbCtx, o, res.ExecPrice); err != nil {
		log.Printf("⚠️ Fill persistence for %s failed: %v", o.ID, err)
	}
	b.persistOrder(dbCtx, o)
	b.publish(events.EventOrderFilled, o)
	b.cfg.Metrics.OrdersFilled.Add(1)
	b.cfg.Metrics.ObserveExecLatency(time.Since(start))
}

func (b *Bridge) applyFill(ctx context.Context, o order.Order, execPrice float64) error {
	if err := b.cfg.Queries.ApplyFill(ctx, db.Trade{
		OrderID: o.ID,
		UserID:  o.UserID,
		Symbol:  o.Symbol,
		Side:    string(o.Side),
		Qty:     o.Qty,
		Price:   execPrice,
	}); err != nil {
		return err
	}
	b.mirrorPosition(ctx, o.UserID, o.Symbol)
	return nil
}

func (b *Bridge) runHeartbeat(ctx context.Context) {
	defer b.wg.Done()
	ticker := time.NewTicker(b.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.mu.RLock()
			users := make([]string, 0, len(b.users))
			for u := range b.users {
				users = append(users, u)
			}
			b.mu.RUnlock()
			sort.Strings(users)
			b.publish(events.EventHeartbeat, map[string]any{
				"ts":    time.Now().Unix(),
				"users": users,
			})
		}
	}
}

func (b *Bridge) trackUser(userID string) {
	b.mu.Lock()
	b.users[userID] = true
	b.mu.Unlock()
}

func (b *Bridge) publish(e events.Event, payload any) {
	b.cfg.Bus.Publish(e, payload)
	b.cfg.Metrics.EventsPublished.Add(1)
}

func (b *Bridge) persistOrder(ctx context.Context, o order.Order) {
	rec := db.OrderRecord{
		ID:         o.ID,
		UserID:     o.UserID,
		BotID:      o.BotID,
		Symbol:     o.Symbol,
		Side:       string(o.Side),
		Qty:        o.Qty,
		Price:      o.Price,
		Status:     string(o.Status),
		CreatedAt:  o.CreatedAt,
		ExecutedAt: o.ExecutedAt,
		Meta:       o.Meta,
	}
	if err := b.cfg.Queries.UpsertOrder(ctx, rec); err != nil {
		log.Printf("⚠️ Order persistence for %s failed: %v", o.ID, err)
	}
	b.mirrorOrderRecord(rec)
}

func (b *Bridge) mirrorOrderRecord(rec db.OrderRecord) {
	if b.cfg.JSONStore == nil {
		return
	}
	if err := b.cfg.JSONStore.SaveOrder(rec); err != nil {
		log.Printf("⚠️ JSON mirror for order %s failed: %v", rec.ID, err)
	}
}

func (b *Bridge) mirrorPosition(ctx context.Context, userID, symbol string) {
	if b.cfg.JSONStore == nil {
		return
	}
	positions, err := b.cfg.Queries.GetPositions(ctx, userID)
	if err != nil {
		log.Printf("⚠️ JSON mirror position lookup failed: %v", err)
		return
	}
	found := db.Position{UserID: userID, Symbol: symbol}
	for _, p := range positions {
		if p.Symbol == symbol {
			found = p
			break
		}
	}
	if err := b.cfg.JSONStore.SavePosition(found); err != nil {
		log.Printf("⚠️ JSON mirror for position %s/%s failed: %v", userID, symbol, err)
	}
}
