/*
store.go - Persistence contract for the ledger engine

PURPOSE:
  Defines the interface between the engine and the database. The engine
  never opens its own transactions: every mutation runs inside a single
  WithTx scope supplied by the orchestrator, so either all effects of a
  mutation are visible or none are.

KEY INTERFACES:
  Store:   Stats rows, entity CRUD, audit rows, debt balance - all the
           operations a mutation needs, executed against one tx handle.
  TxStore: Adds WithTx, the only way to obtain transactional scope.

CONTRACT NOTES:
  - Stat buckets are incremented with signed deltas, never overwritten.
    Increments are commutative so concurrent mutations compose.
  - Entity updates and hard deletes carry an expected row version; a
    mismatch returns ErrConcurrentModification and the caller aborts.
  - Hard deletes blocked by an outstanding reference return
    ErrDeleteRestricted; the orchestrator falls back to soft delete.
  - Audit rows are append-only. No update or delete exists on them.

IMPLEMENTATIONS:
  - store/sqlite: Production SQLite (database/sql, WAL)
  - ledger/store: In-memory, for engine tests and dev

SEE ALSO:
  - orchestrator.go: The only caller of the mutating half
  - stats.go: The only creator of stat rows
*/
package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// STORE - One transaction handle's worth of operations
// =============================================================================

type Store interface {
	// --- Stats rows (owned by the Aggregator; see stats.go) ---

	// DailyStatByDate returns the daily row for a date, or (nil, nil) when
	// none exists yet.
	DailyStatByDate(ctx context.Context, date Date) (*DailyStat, error)

	// CreateDailyStat inserts a new daily row. Date is unique.
	CreateDailyStat(ctx context.Context, s *DailyStat) error

	// AddToDailyStat applies signed bucket deltas to an existing daily row.
	AddToDailyStat(ctx context.Context, id string, deltas []BucketDelta) error

	// MonthlyStatByKey returns the monthly row, or (nil, nil) when absent.
	MonthlyStatByKey(ctx context.Context, key MonthKey) (*MonthlyStat, error)

	// CreateMonthlyStat inserts a new monthly row. (Year, Month) is unique.
	CreateMonthlyStat(ctx context.Context, s *MonthlyStat) error

	// AddToMonthlyStat applies signed bucket deltas to an existing monthly row.
	AddToMonthlyStat(ctx context.Context, id string, deltas []BucketDelta) error

	// DailyStatsInMonth returns the month's daily rows ordered by date.
	DailyStatsInMonth(ctx context.Context, key MonthKey) ([]DailyStat, error)

	// EarliestStatMonth returns the oldest recorded month, ok=false when the
	// ledger is empty.
	EarliestStatMonth(ctx context.Context) (MonthKey, bool, error)

	// StampClosedPeriods sets temporarily/officially-closed-at timestamps on
	// every stat row whose date has fallen behind the given boundaries and
	// whose stamp is still null. Stamps are write-once.
	StampClosedPeriods(ctx context.Context, tempBoundary, officialBoundary Date, at time.Time) error

	// --- Entities ---

	// GetEntity loads a record. Soft-deleted records and unknown ids both
	// return ErrNotFound.
	GetEntity(ctx context.Context, ref EntityRef) (Entity, error)

	// InsertEntity persists a new record. Constraint failures are classified
	// (ErrForeignKeyMissing, ErrUniqueViolation).
	InsertEntity(ctx context.Context, e Entity) error

	// UpdateEntity persists a mutated record iff its stored version equals
	// expectedVersion, then bumps the version. Mismatch returns
	// ErrConcurrentModification.
	UpdateEntity(ctx context.Context, e Entity, expectedVersion int64) error

	// HardDeleteEntity removes the row iff the version matches. A blocking
	// reference returns ErrDeleteRestricted.
	HardDeleteEntity(ctx context.Context, ref EntityRef, expectedVersion int64) error

	// ListEntities returns all live (not soft-deleted) records of a kind.
	ListEntities(ctx context.Context, kind EntityKind) ([]Entity, error)

	// --- Audit trail ---

	// AppendHistory appends one immutable update record.
	AppendHistory(ctx context.Context, rec UpdateRecord) error

	// HistoryFor returns an entity's update records, timestamp ascending.
	HistoryFor(ctx context.Context, ref EntityRef) ([]UpdateRecord, error)

	// --- Debt invariant ---

	// DebtBalance returns the customer's net outstanding debt: incurred
	// minus paid, soft-deleted records excluded on both sides.
	DebtBalance(ctx context.Context, customerID string) (decimal.Decimal, error)
}

// =============================================================================
// TX STORE - Function-scoped transactions
// =============================================================================

// TxStore is a Store that can open transactional scopes. The Store methods on
// the outer value run auto-committed; the Store passed to fn runs inside one
// transaction, committed when fn returns nil and rolled back otherwise.
type TxStore interface {
	Store

	WithTx(ctx context.Context, fn func(Store) error) error
}
