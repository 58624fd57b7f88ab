/*
Package ledger provides the financial aggregation and period-locking engine.

PURPOSE:
  This package contains the domain-agnostic core that every revenue- and
  cost-bearing record in the back office flows through: daily and monthly
  aggregate maintenance, the sliding locked-period policy, the append-only
  audit trail, and the orchestrated mutation pattern that keeps all of them
  consistent inside a single transaction.

KEY CONCEPTS IN THIS FILE (types.go):
  - Date: A calendar day (the grain of the daily ledger)
  - BucketCategory: One named accumulator within a stat row
  - DailyStat / MonthlyStat: The aggregate rows themselves
  - Entity / EntityRef: The role every ledgered record plays

DESIGN PRINCIPLES:
  1. Precision: decimal.Decimal everywhere - amounts are minor currency
     units and compensating adjustments must round-trip exactly
  2. Signed deltas: aggregate buckets are only ever incremented, never
     overwritten, so concurrent writers compose
  3. Type safety: bucket categories and entity kinds are typed constants

SEE ALSO:
  - period.go: Locked-period policy
  - stats.go: Daily/monthly aggregate maintenance
  - orchestrator.go: The mutation pattern tying it all together
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// DATE - Calendar day, the grain of the daily ledger
// =============================================================================

// Date is a calendar day. The time-of-day portion is always midnight UTC;
// resource dates are compared at day granularity while closing cutovers are
// compared at wall-clock granularity (see period.go).
type Date struct {
	t time.Time
}

func NewDate(year int, month time.Month, day int) Date {
	return Date{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates a timestamp to its calendar day.
func DateOf(t time.Time) Date {
	return NewDate(t.Year(), t.Month(), t.Day())
}

func (d Date) Year() int         { return d.t.Year() }
func (d Date) Month() time.Month { return d.t.Month() }
func (d Date) Day() int          { return d.t.Day() }
func (d Date) IsZero() bool      { return d.t.IsZero() }
func (d Date) Time() time.Time   { return d.t }

func (d Date) Before(o Date) bool { return d.t.Before(o.t) }
func (d Date) After(o Date) bool  { return d.t.After(o.t) }
func (d Date) Equal(o Date) bool  { return d.t.Equal(o.t) }

func (d Date) AddDays(n int) Date   { return Date{t: d.t.AddDate(0, 0, n)} }
func (d Date) AddMonths(n int) Date { return Date{t: d.t.AddDate(0, n, 0)} }

// StartOfMonth returns the first day of the date's month.
func (d Date) StartOfMonth() Date { return NewDate(d.Year(), d.Month(), 1) }

// MonthKey returns the (year, month) pair identifying the monthly stat row.
func (d Date) MonthKey() MonthKey { return MonthKey{Year: d.Year(), Month: d.Month()} }

func (d Date) String() string { return d.t.Format("2006-01-02") }

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return Date{}, err
	}
	return DateOf(t), nil
}

// MonthKey identifies one monthly stat row.
type MonthKey struct {
	Year  int
	Month time.Month
}

// Before reports whether k is an earlier month than o.
func (k MonthKey) Before(o MonthKey) bool {
	return k.Year < o.Year || (k.Year == o.Year && k.Month < o.Month)
}

func (k MonthKey) Start() Date { return NewDate(k.Year, k.Month, 1) }

// =============================================================================
// BUCKETS - Named accumulators within a stat row
// =============================================================================

type BucketCategory string

const (
	BucketRetailRevenue       BucketCategory = "retail_revenue"
	BucketTreatmentRevenue    BucketCategory = "treatment_revenue"
	BucketConsultationRevenue BucketCategory = "consultation_revenue"
	BucketShipmentCost        BucketCategory = "shipment_cost"
	BucketSupplyCost          BucketCategory = "supply_cost"
	BucketExpenseSalary       BucketCategory = "expense_salary"
	BucketExpenseRent         BucketCategory = "expense_rent"
	BucketExpenseUtility      BucketCategory = "expense_utility"
	BucketExpenseMisc         BucketCategory = "expense_misc"
	BucketDebtIncurred        BucketCategory = "debt_incurred"
	BucketDebtPaid            BucketCategory = "debt_paid"
	BucketVATCollected        BucketCategory = "vat_collected"
)

// AllBuckets lists every category in stable order. The order is load-bearing:
// the sqlite store maps it onto column order and the audit snapshots rely on
// it for deterministic encoding.
func AllBuckets() []BucketCategory {
	return []BucketCategory{
		BucketRetailRevenue,
		BucketTreatmentRevenue,
		BucketConsultationRevenue,
		BucketShipmentCost,
		BucketSupplyCost,
		BucketExpenseSalary,
		BucketExpenseRent,
		BucketExpenseUtility,
		BucketExpenseMisc,
		BucketDebtIncurred,
		BucketDebtPaid,
		BucketVATCollected,
	}
}

// BucketDelta is a signed contribution to one bucket.
// Positive applies, negative reverts.
type BucketDelta struct {
	Category BucketCategory
	Amount   decimal.Decimal
}

// Negate returns the compensating deltas for ds: same categories, opposite
// signs. Applying ds then Negate(ds) restores every bucket exactly.
func Negate(ds []BucketDelta) []BucketDelta {
	out := make([]BucketDelta, len(ds))
	for i, d := range ds {
		out[i] = BucketDelta{Category: d.Category, Amount: d.Amount.Neg()}
	}
	return out
}

// =============================================================================
// STAT ROWS - Daily and monthly aggregates
// =============================================================================

// DailyStat is one row per calendar date. Created lazily by the Aggregator on
// the first increment touching that date, never deleted. Buckets hold minor
// currency units.
type DailyStat struct {
	ID        string
	Date      Date
	MonthlyID string // non-nullable parent link
	Buckets   map[BucketCategory]decimal.Decimal

	TemporarilyClosedAt *time.Time
	OfficiallyClosedAt  *time.Time
}

// MonthlyStat is one row per (year, month), holding running sums of its child
// daily rows. Invariant: each bucket equals the sum of the same bucket over
// the month's daily rows whenever no transaction is in flight.
type MonthlyStat struct {
	ID      string
	Year    int
	Month   time.Month
	Buckets map[BucketCategory]decimal.Decimal

	TemporarilyClosedAt *time.Time
	OfficiallyClosedAt  *time.Time
}

// NewBuckets returns a zeroed bucket map covering every category.
func NewBuckets() map[BucketCategory]decimal.Decimal {
	m := make(map[BucketCategory]decimal.Decimal, len(AllBuckets()))
	for _, c := range AllBuckets() {
		m[c] = decimal.Zero
	}
	return m
}

// =============================================================================
// ENTITY - The role every ledgered record plays
// =============================================================================

// EntityKind names a concrete ledgered record type.
type EntityKind string

// EntityRef identifies one ledgered record.
type EntityRef struct {
	Kind EntityKind
	ID   string
}

// Entity is the role implemented by every record that contributes to the
// aggregates: it has an amount, a resource date, a soft-delete flag and a row
// version for optimistic concurrency. Mutations go through the Orchestrator
// only.
type Entity interface {
	Ref() EntityRef

	// LedgerAmount is the record's headline amount in minor currency units.
	// Individual bucket contributions come from the kind's Descriptor and
	// may split this further (e.g. an order's VAT portion).
	LedgerAmount() decimal.Decimal

	// LedgerDate is the resource date: the day whose daily stat row this
	// record contributes to.
	LedgerDate() Date
	SetLedgerDate(Date)

	// CustomerRef returns the owning customer id, or "" when the kind does
	// not participate in the debt invariant.
	CustomerRef() string

	IsDeleted() bool
	MarkDeleted(at time.Time)

	RowVersion() int64
	SetRowVersion(v int64)

	// Clone returns a deep copy used to capture the pre-mutation snapshot.
	Clone() Entity
}

// =============================================================================
// COLLABORATORS - Consumed, not owned
// =============================================================================

// Clock abstracts "now" so the period policy is testable at exact cutover
// instants.
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// CapabilityChecker is the external authorization collaborator. The engine
// only ever asks yes/no questions of it.
type CapabilityChecker interface {
	HasCapability(actorID, capability string) bool
}
