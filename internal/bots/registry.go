package bots

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"tradebridge/internal/events"
)

var (
	ErrBotExists   = errors.New("bot already registered")
	ErrBotNotFound = errors.New("bot not found")
	ErrUserBotCap  = errors.New("per-user bot limit reached")
)

// Registry tracks running bots keyed by (user, bot id) and dispatches
// market ticks to them.
type Registry struct {
	mu         sync.RWMutex
	bots       map[string]Bot // key: userID/botID
	perUser    map[string]int
	maxPerUser int
	bus        *events.Bus
}

func NewRegistry(bus *events.Bus, maxPerUser int) *Registry {
	if maxPerUser <= 0 {
		maxPerUser = 50
	}
	return &Registry{
		bots:       make(map[string]Bot),
		perUser:    make(map[string]int),
		maxPerUser: maxPerUser,
		bus:        bus,
	}
}

func botKey(userID, botID string) string { return userID + "/" + botID }

// Register adds a bot and starts it.
func (r *Registry) Register(ctx context.Context, b Bot) error {
	key := botKey(b.UserID(), b.ID())

	r.mu.Lock()
	if _, ok := r.bots[key]; ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrBotExists, key)
	}
	if r.perUser[b.UserID()] >= r.maxPerUser {
		r.mu.Unlock()
		return fmt.Errorf("%w: user %s", ErrUserBotCap, b.UserID())
	}
	r.bots[key] = b
	r.perUser[b.UserID()]++
	r.mu.Unlock()

	if err := b.Start(ctx); err != nil {
		r.mu.Lock()
		delete(r.bots, key)
		r.perUser[b.UserID()]--
		r.mu.Unlock()
		return fmt.Errorf("start bot %s: %w", key, err)
	}

	r.bus.Publish(events.EventBotRegistered, map[string]string{
		"bot_id":  b.ID(),
		"user_id": b.UserID(),
	})
	return nil
}

// Unregister stops a bot and removes it.
func (r *Registry) Unregister(userID, botID string) error {
	key := botKey(userID, botID)

	r.mu.Lock()
	b, ok := r.bots[key]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrBotNotFound, key)
	}
	delete(r.bots, key)
	r.perUser[userID]--
	r.mu.Unlock()

	b.Stop()
	r.bus.Publish(events.EventBotUnregistered, map[string]string{
		"bot_id":  botID,
		"user_id": userID,
	})
	return nil
}

// Get returns a bot by (user, id).
func (r *Registry) Get(userID, botID string) (Bot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.bots[botKey(userID, botID)]
	return b, ok
}

// ForUser returns all bots owned by one user.
func (r *Registry) ForUser(userID string) []Bot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Bot
	for _, b := range r.bots {
		if b.UserID() == userID {
			out = append(out, b)
		}
	}
	return out
}

// Dispatch delivers a tick to every active bot. A panicking bot is
// logged and skipped so one bad strategy cannot take down the fleet.
func (r *Registry) Dispatch(t Tick) {
	r.mu.RLock()
	snapshot := make([]Bot, 0, len(r.bots))
	for _, b := range r.bots {
		snapshot = append(snapshot, b)
	}
	r.mu.RUnlock()

	for _, b := range snapshot {
		if !b.Active() {
			continue
		}
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					log.Printf("⚠️ Bot %s/%s panicked on tick: %v", b.UserID(), b.ID(), rec)
				}
			}()
			b.HandleMarketTick(t)
		}()
	}
}

// Summary reports fleet-level counts.
type Summary struct {
	Total  int            `json:"total"`
	Active int            `json:"active"`
	ByUser map[string]int `json:"by_user"`
}

func (r *Registry) Summary() Summary {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := Summary{ByUser: make(map[string]int)}
	for _, b := range r.bots {
		s.Total++
		if b.Active() {
			s.Active++
		}
		s.ByUser[b.UserID()]++
	}
	return s
}

// StopAll stops every bot, used during shutdown.
func (r *Registry) StopAll() {
	r.mu.Lock()
	snapshot := make([]Bot, 0, len(r.bots))
	for _, b := range r.bots {
		snapshot = append(snapshot, b)
	}
	r.bots = make(map[string]Bot)
	r.perUser = make(map[string]int)
	r.mu.Unlock()

	for _, b := range snapshot {
		b.Stop()
	}
}
