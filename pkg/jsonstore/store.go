// Package jsonstore persists bridge state to a single JSON file as a
// lightweight alternative to the SQLite store. Writes go through a temp
// file and rename so a crash never leaves a half-written state file.
package jsonstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"tradebridge/pkg/db"
)

// State is the full snapshot written to disk.
type State struct {
	Orders    []db.OrderRecord `json:"orders"`
	Positions []db.Position    `json:"positions"`
}

// Store owns the state file. All methods are safe for concurrent use.
type Store struct {
	mu   sync.Mutex
	path string

	orders    map[string]db.OrderRecord
	positions map[string]db.Position // keyed user|symbol
}

// Open loads existing state from path, or starts empty if the file does
// not exist yet.
func Open(path string) (*Store, error) {
	s := &Store{
		path:      path,
		orders:    make(map[string]db.OrderRecord),
		positions: make(map[string]db.Position),
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state file: %w", err)
	}

	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("parse state file %s: %w", path, err)
	}
	for _, o := range st.Orders {
		s.orders[o.ID] = o
	}
	for _, p := range st.Positions {
		s.positions[posKey(p.UserID, p.Symbol)] = p
	}
	return s, nil
}

func posKey(userID, symbol string) string { return userID + "|" + symbol }

// SaveOrder upserts an order and flushes the file.
func (s *Store) SaveOrder(o db.OrderRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[o.ID] = o
	return s.flushLocked()
}

// SavePosition upserts a position, removing the entry when qty is zero,
// and flushes the file.
func (s *Store) SavePosition(p db.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := posKey(p.UserID, p.Symbol)
	if p.Qty == 0 {
		delete(s.positions, key)
	} else {
		s.positions[key] = p
	}
	return s.flushLocked()
}

// Orders returns a copy of all stored orders.
func (s *Store) Orders() []db.OrderRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]db.OrderRecord, 0, len(s.orders))
	for _, o := range s.orders {
		out = append(out, o)
	}
	return out
}

// Positions returns a copy of all stored positions.
func (s *Store) Positions() []db.Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]db.Position, 0, len(s.positions))
	for _, p := range s.positions {
		out = append(out, p)
	}
	return out
}

func (s *Store) flushLocked() error {
	st := State{
		Orders:    make([]db.OrderRecord, 0, len(s.orders)),
		Positions: make([]db.Position, 0, len(s.positions)),
	}
	for _, o := range s.orders {
		st.Orders = append(st.Orders, o)
	}
	for _, p := range s.positions {
		st.Positions = append(st.Positions, p)
	}

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	dir := filepath.Dir(s.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create state dir: %w", err)
		}
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp state: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}
