// Package slots implements admission control over the fixed concurrency
// budget: one slot per symbol with an open position or working entry order.
package slots

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tathienbao/pairtrader/internal/persistence"
	"github.com/tathienbao/pairtrader/internal/statecache"
	"github.com/tathienbao/pairtrader/internal/types"
)

// Mode selects the counting strategy.
type Mode string

const (
	ModeLive  Mode = "live"  // counts from the exchange state cache
	ModePaper Mode = "paper" // counts persisted open trade rows
)

// Status is a snapshot of slot occupancy.
type Status struct {
	Max         int
	Occupied    int
	Available   int
	Positions   int
	EntryOrders int
}

// Ledger gates trade admission against the slot budget. Paper mode has no
// exchange-side order book to consult, so it counts open trade rows for the
// run's parent instance instead.
type Ledger struct {
	max        int
	mode       Mode
	cache      *statecache.Cache
	repo       persistence.Repository
	instanceID string
	logger     *slog.Logger
}

// New creates a ledger. cache is required in live mode, repo in paper mode.
func New(max int, mode Mode, cache *statecache.Cache, repo persistence.Repository, instanceID string, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		max:        max,
		mode:       mode,
		cache:      cache,
		repo:       repo,
		instanceID: instanceID,
		logger:     logger,
	}
}

// Status returns current slot occupancy.
func (l *Ledger) Status(ctx context.Context) (Status, error) {
	switch l.mode {
	case ModePaper:
		counts, err := l.repo.CountOpenTrades(ctx, l.instanceID)
		if err != nil {
			return Status{}, fmt.Errorf("count open trades: %w", err)
		}
		return l.status(counts.Positions, counts.EntryOrders, counts.Total()), nil
	default:
		occupied := l.cache.CountSlotsUsed()
		return l.status(l.cache.CountPositions(), l.cache.CountEntryOrders(), occupied), nil
	}
}

func (l *Ledger) status(positions, entryOrders, occupied int) Status {
	available := l.max - occupied
	if available < 0 {
		available = 0
	}
	return Status{
		Max:         l.max,
		Occupied:    occupied,
		Available:   available,
		Positions:   positions,
		EntryOrders: entryOrders,
	}
}

// CanOpen reports whether a new trade on symbol may be admitted.
func (l *Ledger) CanOpen(ctx context.Context, symbol string) error {
	if l.mode == ModeLive && l.cache.HasPosition(symbol) {
		return fmt.Errorf("%w: %s", types.ErrDuplicatePosition, symbol)
	}
	if l.mode == ModePaper {
		open, err := l.repo.GetOpenTrades(ctx, l.instanceID)
		if err != nil {
			return fmt.Errorf("check duplicate: %w", err)
		}
		for _, t := range open {
			if t.Symbol == symbol || t.PairSymbol == symbol {
				return fmt.Errorf("%w: %s", types.ErrDuplicatePosition, symbol)
			}
		}
	}

	status, err := l.Status(ctx)
	if err != nil {
		return fmt.Errorf("slot status: %w", err)
	}
	if status.Available <= 0 {
		return fmt.Errorf("%w: %d/%d occupied", types.ErrSlotsExhausted, status.Occupied, status.Max)
	}
	return nil
}

// ShouldSkipCycle applies the cycle-level admission policy:
//
//   - positions alone at the budget: skip, nothing can be opened or replaced;
//   - positions plus entry orders over the budget: skip, placed orders must
//     be trimmed before the next cycle may add more;
//   - positions plus entry orders exactly at the budget: proceed, so existing
//     entry orders may still be replaced by better-ranked signals.
//
// On internal error the policy fails closed and reports skip.
func (l *Ledger) ShouldSkipCycle(ctx context.Context) (bool, string) {
	status, err := l.Status(ctx)
	if err != nil {
		l.logger.Error("slot status unavailable, skipping cycle", "err", err)
		return true, "slot status unavailable"
	}

	if status.Positions >= status.Max {
		return true, fmt.Sprintf("all %d slots held by positions", status.Max)
	}
	if status.Positions+status.EntryOrders > status.Max {
		return true, fmt.Sprintf("positions %d + entry orders %d over budget %d",
			status.Positions, status.EntryOrders, status.Max)
	}
	return false, ""
}
