// Package reconcile cross-checks the positions table against the signed
// sum of recorded fills and flags any drift.
package reconcile

import (
	"context"
	"fmt"
	"log"
	"math"
	"time"

	"tradebridge/internal/events"
	"tradebridge/pkg/db"
)

// qtyTolerance absorbs float accumulation over many fills.
const qtyTolerance = 1e-9

// Diff describes one mismatch between fills and the stored position.
type Diff struct {
	UserID      string  `json:"user_id"`
	Symbol      string  `json:"symbol"`
	PositionQty float64 `json:"position_qty"`
	FillsQty    float64 `json:"fills_qty"`
	Delta       float64 `json:"delta"`
}

// Report is the outcome of one reconciliation run.
type Report struct {
	RanAt        time.Time `json:"ran_at"`
	UsersChecked int       `json:"users_checked"`
	Diffs        []Diff    `json:"diffs"`
}

// Clean reports whether the run found no drift.
func (r Report) Clean() bool { return len(r.Diffs) == 0 }

// Service runs reconciliation on demand or on a timer.
type Service struct {
	queries *db.Queries
	bus     *events.Bus
}

func NewService(queries *db.Queries, bus *events.Bus) *Service {
	return &Service{queries: queries, bus: bus}
}

// Run checks every user with recorded fills. Mismatches are written to
// the audit log and published as risk alerts.
func (s *Service) Run(ctx context.Context) (Report, error) {
	report := Report{RanAt: time.Now()}

	users, err := s.queries.TradeUserIDs(ctx)
	if err != nil {
		return report, fmt.Errorf("list trading users: %w", err)
	}

	for _, userID := range users {
		diffs, err := s.checkUser(ctx, userID)
		if err != nil {
			return report, fmt.Errorf("reconcile user %s: %w", userID, err)
		}
		report.UsersChecked++
		report.Diffs = append(report.Diffs, diffs...)
	}

	for _, d := range report.Diffs {
		s.bus.Publish(events.EventRiskAlert, d)
		if err := s.queries.InsertAudit(ctx, "error", "position drift detected", map[string]string{
			"user_id": d.UserID,
			"symbol":  d.Symbol,
			"delta":   fmt.Sprintf("%g", d.Delta),
		}); err != nil {
			log.Printf("⚠️ Audit write failed during reconciliation: %v", err)
		}
	}
	return report, nil
}

func (s *Service) checkUser(ctx context.Context, userID string) ([]Diff, error) {
	sums, err := s.queries.SumSignedFills(ctx, userID)
	if err != nil {
		return nil, err
	}
	positions, err := s.queries.GetPositions(ctx, userID)
	if err != nil {
		return nil, err
	}

	posQty := make(map[string]float64, len(positions))
	for _, p := range positions {
		posQty[p.Symbol] = p.Qty
	}
	// A position row with no fills at all is also drift.
	for symbol := range posQty {
		if _, ok := sums[symbol]; !ok {
			sums[symbol] = 0
		}
	}

	var diffs []Diff
	for symbol, fills := range sums {
		held := posQty[symbol]
		if math.Abs(held-fills) > qtyTolerance {
			diffs = append(diffs, Diff{
				UserID:      userID,
				Symbol:      symbol,
				PositionQty: held,
				FillsQty:    fills,
				Delta:       held - fills,
			})
		}
	}
	return diffs, nil
}

// RunPeriodically reruns reconciliation until the context is canceled.
func (s *Service) RunPeriodically(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report, err := s.Run(ctx)
			if err != nil {
				log.Printf("⚠️ Reconciliation run failed: %v", err)
				continue
			}
			if !report.Clean() {
				log.Printf("❌ Reconciliation found %d drifted positions", len(report.Diffs))
			}
		}
	}
}
