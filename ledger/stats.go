/*
stats.go - Daily/monthly aggregate maintenance

PURPOSE:
  The Aggregator is the sole owner of DailyStat and MonthlyStat rows. No
  other component creates them; no component anywhere overwrites a bucket.
  All writes are signed delta increments so that compensating pairs
  (revert old, apply new) restore prior values exactly and concurrent
  mutations compose.

INVARIANTS:
  1. One daily row per date, one monthly row per (year, month)
  2. Daily rows always link to their month's row (created on demand)
  3. MonthlyStat.bucket == sum of DailyStat.bucket over the month, at
     every point where no transaction is in flight
  4. +X then -X on the same date is an exact no-op (decimal arithmetic,
     amounts are minor currency units)

TRANSACTION BOUNDARY:
  Increment never runs outside a caller-supplied transaction handle and
  never commits on its own. Storage failures propagate for rollback.

EARLIEST MONTH:
  Reporting needs the oldest recorded month. It is held here as an
  explicit lazily-populated value: recomputed from the store when no
  cached value exists, moved back when a write touches an earlier date.
  Deliberately not a package-level global.

SEE ALSO:
  - orchestrator.go: Calls IncrementAll twice per update (the pair)
  - period.go: Supplies the boundaries for the closing sweep
*/
package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// AGGREGATOR - Delta-increment operations over stat rows
// =============================================================================

type Aggregator struct {
	mu       sync.Mutex
	earliest *MonthKey
}

func NewAggregator() *Aggregator {
	return &Aggregator{}
}

// Increment applies one signed delta to the daily and monthly bucket for the
// date, lazily creating both rows. Positive adds, negative reverts.
func (a *Aggregator) Increment(ctx context.Context, s Store, category BucketCategory, delta decimal.Decimal, date Date) error {
	return a.IncrementAll(ctx, s, []BucketDelta{{Category: category, Amount: delta}}, date)
}

// IncrementAll applies a set of signed deltas to the date's daily row and its
// parent monthly row. Zero deltas are skipped; an all-zero set is a no-op and
// creates nothing.
func (a *Aggregator) IncrementAll(ctx context.Context, s Store, deltas []BucketDelta, date Date) error {
	live := deltas[:0:0]
	for _, d := range deltas {
		if !d.Amount.IsZero() {
			live = append(live, d)
		}
	}
	if len(live) == 0 {
		return nil
	}

	daily, err := s.DailyStatByDate(ctx, date)
	if err != nil {
		return err
	}
	if daily == nil {
		daily, err = a.createDay(ctx, s, date)
		if err != nil {
			return err
		}
	}

	if err := s.AddToDailyStat(ctx, daily.ID, live); err != nil {
		return err
	}
	if err := s.AddToMonthlyStat(ctx, daily.MonthlyID, live); err != nil {
		return err
	}

	a.noteWrite(date.MonthKey())
	return nil
}

// createDay lazily creates the daily row for a date and, when absent, the
// monthly row it belongs to. Rows start zeroed; contributions arrive as
// increments only.
func (a *Aggregator) createDay(ctx context.Context, s Store, date Date) (*DailyStat, error) {
	key := date.MonthKey()
	monthly, err := s.MonthlyStatByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	if monthly == nil {
		monthly = &MonthlyStat{
			ID:      uuid.NewString(),
			Year:    key.Year,
			Month:   key.Month,
			Buckets: NewBuckets(),
		}
		if err := s.CreateMonthlyStat(ctx, monthly); err != nil {
			return nil, err
		}
	}

	daily := &DailyStat{
		ID:        uuid.NewString(),
		Date:      date,
		MonthlyID: monthly.ID,
		Buckets:   NewBuckets(),
	}
	if err := s.CreateDailyStat(ctx, daily); err != nil {
		return nil, err
	}
	return daily, nil
}

// =============================================================================
// EARLIEST RECORDED MONTH - Explicit lazily-populated value
// =============================================================================

// EarliestMonth returns the oldest month with a stat row, ok=false when the
// ledger is empty. The value is cached after the first lookup.
func (a *Aggregator) EarliestMonth(ctx context.Context, s Store) (MonthKey, bool, error) {
	a.mu.Lock()
	if a.earliest != nil {
		k := *a.earliest
		a.mu.Unlock()
		return k, true, nil
	}
	a.mu.Unlock()

	key, ok, err := s.EarliestStatMonth(ctx)
	if err != nil || !ok {
		return MonthKey{}, ok, err
	}

	a.mu.Lock()
	if a.earliest == nil || key.Before(*a.earliest) {
		a.earliest = &key
	}
	key = *a.earliest
	a.mu.Unlock()
	return key, true, nil
}

// noteWrite moves the cached earliest month back when a write touches an
// earlier date. An unset cache stays unset; the next EarliestMonth call
// recomputes from the store.
func (a *Aggregator) noteWrite(key MonthKey) {
	a.mu.Lock()
	if a.earliest != nil && key.Before(*a.earliest) {
		a.earliest = &key
	}
	a.mu.Unlock()
}

// =============================================================================
// CLOSING SWEEP - Stamps rows whose period has slid shut
// =============================================================================

// CloseElapsedPeriods stamps temporarily/officially-closed-at timestamps on
// every stat row whose date has fallen behind the policy's windows. Stamps
// are write-once; re-running the sweep is harmless.
func (a *Aggregator) CloseElapsedPeriods(ctx context.Context, s TxStore, policy PeriodPolicy, now time.Time) error {
	tempBoundary := policy.MinimumEditableDate(now)
	officialBoundary := policy.OfficialBoundary(now)
	return s.WithTx(ctx, func(tx Store) error {
		return tx.StampClosedPeriods(ctx, tempBoundary, officialBoundary, now)
	})
}
