/*
sqlite_test.go - Store contract tests against :memory: SQLite

Exercises the pieces the memory store cannot: real constraint
classification (foreign keys, uniqueness, delete restriction), SQL-side
bucket increments and the transactional rollback path.
*/
package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicware/backoffice/domain"
	"github.com/clinicware/backoffice/ledger"
	"github.com/clinicware/backoffice/store/sqlite"
)

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seedCustomer(t *testing.T, s *sqlite.Store) *domain.Customer {
	t.Helper()
	c := domain.NewCustomer("Test Customer", "555-0100")
	require.NoError(t, s.CreateCustomer(context.Background(), c))
	return c
}

func d(n int64) decimal.Decimal { return decimal.NewFromInt(n) }

// =============================================================================
// ENTITY CRUD
// =============================================================================

func TestSQLiteStore_OrderRoundTrip(t *testing.T) {
	// GIVEN: an order with a VAT and shipping split
	// WHEN: it is inserted and read back
	// THEN: every field survives, including the integer extras

	s := newStore(t)
	ctx := context.Background()
	c := seedCustomer(t, s)

	o := domain.NewOrder(c.ID, d(1000), d(70), d(30), "two units")
	o.SetLedgerDate(ledger.NewDate(2025, time.June, 10))
	require.NoError(t, s.InsertEntity(ctx, o))
	assert.Equal(t, int64(1), o.RowVersion())

	loaded, err := s.GetEntity(ctx, o.Ref())
	require.NoError(t, err)
	got := loaded.(*domain.Order)
	assert.Equal(t, o.ID, got.ID)
	assert.True(t, got.Amount.Equal(d(1000)))
	assert.True(t, got.VAT.Equal(d(70)))
	assert.True(t, got.ShippingFee.Equal(d(30)))
	assert.Equal(t, ledger.NewDate(2025, time.June, 10), got.LedgerDate())
	assert.Equal(t, "two units", got.Meta().Note)
	assert.Equal(t, int64(1), got.RowVersion())
}

func TestSQLiteStore_InsertMissingParentClassified(t *testing.T) {
	s := newStore(t)

	debt := domain.NewDebt("no-such-customer", d(100), "")
	debt.SetLedgerDate(ledger.NewDate(2025, time.June, 10))
	err := s.InsertEntity(context.Background(), debt)
	assert.ErrorIs(t, err, ledger.ErrForeignKeyMissing)
}

func TestSQLiteStore_DuplicateInsertClassified(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	e := domain.NewExpense(domain.ExpenseMisc, d(10), "")
	e.SetLedgerDate(ledger.NewDate(2025, time.June, 10))
	require.NoError(t, s.InsertEntity(ctx, e))
	assert.ErrorIs(t, s.InsertEntity(ctx, e), ledger.ErrUniqueViolation)
}

func TestSQLiteStore_DeleteRestrictedWhileReferenced(t *testing.T) {
	// A debt with payments against it cannot be hard-deleted; the store
	// reports the restriction and the caller decides what to do.

	s := newStore(t)
	ctx := context.Background()
	c := seedCustomer(t, s)

	debt := domain.NewDebt(c.ID, d(500), "")
	debt.SetLedgerDate(ledger.NewDate(2025, time.June, 1))
	require.NoError(t, s.InsertEntity(ctx, debt))

	payment := domain.NewDebtPayment(c.ID, debt.ID, d(100), "")
	payment.SetLedgerDate(ledger.NewDate(2025, time.June, 2))
	require.NoError(t, s.InsertEntity(ctx, payment))

	err := s.HardDeleteEntity(ctx, debt.Ref(), debt.RowVersion())
	assert.ErrorIs(t, err, ledger.ErrDeleteRestricted)

	// Removing the payment lifts the restriction.
	require.NoError(t, s.HardDeleteEntity(ctx, payment.Ref(), payment.RowVersion()))
	assert.NoError(t, s.HardDeleteEntity(ctx, debt.Ref(), debt.RowVersion()))
}

func TestSQLiteStore_OptimisticVersioning(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	e := domain.NewExpense(domain.ExpenseRent, d(100), "")
	e.SetLedgerDate(ledger.NewDate(2025, time.June, 10))
	require.NoError(t, s.InsertEntity(ctx, e))

	// Stale version loses the race.
	assert.ErrorIs(t, s.UpdateEntity(ctx, e, 99), ledger.ErrConcurrentModification)

	e.Amount = d(150)
	require.NoError(t, s.UpdateEntity(ctx, e, 1))
	assert.Equal(t, int64(2), e.RowVersion())

	loaded, err := s.GetEntity(ctx, e.Ref())
	require.NoError(t, err)
	assert.True(t, loaded.LedgerAmount().Equal(d(150)))
	assert.Equal(t, int64(2), loaded.RowVersion())

	assert.ErrorIs(t, s.HardDeleteEntity(ctx, e.Ref(), 1), ledger.ErrConcurrentModification)

	missing := ledger.EntityRef{Kind: domain.KindExpense, ID: "nope"}
	assert.ErrorIs(t, s.UpdateEntity(ctx, domainExpenseWithID("nope"), 1), ledger.ErrNotFound)
	assert.ErrorIs(t, s.HardDeleteEntity(ctx, missing, 1), ledger.ErrNotFound)
}

// domainExpenseWithID builds an expense restored under a fixed id so update
// paths can target a nonexistent row.
func domainExpenseWithID(id string) *domain.Expense {
	e := domain.NewExpense(domain.ExpenseMisc, d(1), "")
	e.Restore(id, ledger.NewDate(2025, time.June, 1), domain.RecordMeta{}, 1)
	return e
}

func TestSQLiteStore_SoftDeletedHiddenFromReads(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	c := seedCustomer(t, s)

	debt := domain.NewDebt(c.ID, d(500), "")
	debt.SetLedgerDate(ledger.NewDate(2025, time.June, 1))
	require.NoError(t, s.InsertEntity(ctx, debt))

	balance, err := s.DebtBalance(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, balance.Equal(d(500)))

	debt.MarkDeleted(time.Now())
	require.NoError(t, s.UpdateEntity(ctx, debt, 1))

	_, err = s.GetEntity(ctx, debt.Ref())
	assert.ErrorIs(t, err, ledger.ErrNotFound)

	list, err := s.ListEntities(ctx, domain.KindDebt)
	require.NoError(t, err)
	assert.Empty(t, list)

	balance, err = s.DebtBalance(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, balance.IsZero(), "soft-deleted debts leave the balance")
}

func TestSQLiteStore_DebtBalanceSumsAllSides(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	c := seedCustomer(t, s)

	debt := domain.NewDebt(c.ID, d(1000), "")
	debt.SetLedgerDate(ledger.NewDate(2025, time.June, 1))
	require.NoError(t, s.InsertEntity(ctx, debt))

	inc := domain.NewDebtIncurrence(c.ID, debt.ID, d(200), "")
	inc.SetLedgerDate(ledger.NewDate(2025, time.June, 2))
	require.NoError(t, s.InsertEntity(ctx, inc))

	pay := domain.NewDebtPayment(c.ID, debt.ID, d(400), "")
	pay.SetLedgerDate(ledger.NewDate(2025, time.June, 3))
	require.NoError(t, s.InsertEntity(ctx, pay))

	balance, err := s.DebtBalance(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, balance.Equal(d(800)), "1000 + 200 - 400")
}

// =============================================================================
// STAT ROWS
// =============================================================================

func TestSQLiteStore_BucketIncrements(t *testing.T) {
	// The aggregator runs against the real SQL increments here; the
	// compensating pair must restore the stored value exactly.

	s := newStore(t)
	ctx := context.Background()
	agg := ledger.NewAggregator()
	date := ledger.NewDate(2025, time.June, 10)

	require.NoError(t, agg.Increment(ctx, s, ledger.BucketRetailRevenue, d(500), date))
	require.NoError(t, agg.Increment(ctx, s, ledger.BucketRetailRevenue, d(250), date))
	require.NoError(t, agg.Increment(ctx, s, ledger.BucketRetailRevenue, d(-250), date))

	daily, err := s.DailyStatByDate(ctx, date)
	require.NoError(t, err)
	require.NotNil(t, daily)
	assert.True(t, daily.Buckets[ledger.BucketRetailRevenue].Equal(d(500)))

	monthly, err := s.MonthlyStatByKey(ctx, date.MonthKey())
	require.NoError(t, err)
	require.NotNil(t, monthly)
	assert.Equal(t, monthly.ID, daily.MonthlyID)
	assert.True(t, monthly.Buckets[ledger.BucketRetailRevenue].Equal(d(500)))
}

func TestSQLiteStore_DailyStatsInMonthOrdered(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	agg := ledger.NewAggregator()

	for _, day := range []int{20, 5, 12} {
		date := ledger.NewDate(2025, time.June, day)
		require.NoError(t, agg.Increment(ctx, s, ledger.BucketSupplyCost, d(1), date))
	}
	// A neighboring month stays out of the result.
	require.NoError(t, agg.Increment(ctx, s, ledger.BucketSupplyCost, d(1), ledger.NewDate(2025, time.July, 1)))

	days, err := s.DailyStatsInMonth(ctx, ledger.MonthKey{Year: 2025, Month: time.June})
	require.NoError(t, err)
	require.Len(t, days, 3)
	assert.Equal(t, 5, days[0].Date.Day())
	assert.Equal(t, 12, days[1].Date.Day())
	assert.Equal(t, 20, days[2].Date.Day())
}

func TestSQLiteStore_EarliestStatMonth(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	_, ok, err := s.EarliestStatMonth(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	agg := ledger.NewAggregator()
	require.NoError(t, agg.Increment(ctx, s, ledger.BucketRetailRevenue, d(1), ledger.NewDate(2025, time.June, 1)))
	require.NoError(t, agg.Increment(ctx, s, ledger.BucketRetailRevenue, d(1), ledger.NewDate(2024, time.December, 1)))

	key, ok, err := s.EarliestStatMonth(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, ledger.MonthKey{Year: 2024, Month: time.December}, key)
}

func TestSQLiteStore_StampClosedPeriodsWriteOnce(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	agg := ledger.NewAggregator()

	editable := ledger.NewDate(2025, time.May, 10)
	tempClosed := ledger.NewDate(2025, time.April, 10)
	offClosed := ledger.NewDate(2025, time.March, 10)
	for _, date := range []ledger.Date{editable, tempClosed, offClosed} {
		require.NoError(t, agg.Increment(ctx, s, ledger.BucketRetailRevenue, d(1), date))
	}

	tempBoundary := ledger.NewDate(2025, time.May, 1)
	officialBoundary := ledger.NewDate(2025, time.April, 1)
	first := time.Date(2025, time.June, 4, 2, 30, 0, 0, time.UTC)
	require.NoError(t, s.StampClosedPeriods(ctx, tempBoundary, officialBoundary, first))

	mayRow, _ := s.DailyStatByDate(ctx, editable)
	aprRow, _ := s.DailyStatByDate(ctx, tempClosed)
	marRow, _ := s.DailyStatByDate(ctx, offClosed)
	assert.Nil(t, mayRow.TemporarilyClosedAt)
	assert.NotNil(t, aprRow.TemporarilyClosedAt)
	assert.Nil(t, aprRow.OfficiallyClosedAt)
	assert.NotNil(t, marRow.OfficiallyClosedAt)

	aprMonth, _ := s.MonthlyStatByKey(ctx, ledger.MonthKey{Year: 2025, Month: time.April})
	marMonth, _ := s.MonthlyStatByKey(ctx, ledger.MonthKey{Year: 2025, Month: time.March})
	assert.NotNil(t, aprMonth.TemporarilyClosedAt)
	assert.Nil(t, aprMonth.OfficiallyClosedAt)
	assert.NotNil(t, marMonth.OfficiallyClosedAt)

	// A later sweep must not move existing stamps.
	require.NoError(t, s.StampClosedPeriods(ctx, tempBoundary, officialBoundary, first.Add(48*time.Hour)))
	marRow2, _ := s.DailyStatByDate(ctx, offClosed)
	assert.True(t, marRow.OfficiallyClosedAt.Equal(*marRow2.OfficiallyClosedAt))
}

// =============================================================================
// TRANSACTIONS AND AUDIT
// =============================================================================

func TestSQLiteStore_WithTxRollsBackOnError(t *testing.T) {
	// GIVEN: a scope that inserts and then fails
	// THEN: nothing of it is visible afterwards

	s := newStore(t)
	ctx := context.Background()

	e := domain.NewExpense(domain.ExpenseSalary, d(900), "")
	e.SetLedgerDate(ledger.NewDate(2025, time.June, 10))

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(tx ledger.Store) error {
		if err := tx.InsertEntity(ctx, e); err != nil {
			return err
		}
		agg := ledger.NewAggregator()
		if err := agg.Increment(ctx, tx, ledger.BucketExpenseSalary, d(900), e.LedgerDate()); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = s.GetEntity(ctx, e.Ref())
	assert.ErrorIs(t, err, ledger.ErrNotFound)
	daily, err := s.DailyStatByDate(ctx, e.LedgerDate())
	require.NoError(t, err)
	assert.Nil(t, daily)
}

func TestSQLiteStore_WithTxCommitsOnSuccess(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	e := domain.NewExpense(domain.ExpenseSalary, d(900), "")
	e.SetLedgerDate(ledger.NewDate(2025, time.June, 10))

	require.NoError(t, s.WithTx(ctx, func(tx ledger.Store) error {
		return tx.InsertEntity(ctx, e)
	}))

	loaded, err := s.GetEntity(ctx, e.Ref())
	require.NoError(t, err)
	assert.True(t, loaded.LedgerAmount().Equal(d(900)))
}

func TestSQLiteStore_HistoryRoundTrip(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	rec := ledger.Recorder{}
	ref := ledger.EntityRef{Kind: domain.KindExpense, ID: "x-1"}

	t0 := time.Date(2025, time.June, 1, 10, 0, 0, 0, time.UTC)
	oldSnap := ledger.Snapshot{{Name: "amount", Value: "100"}}
	newSnap := ledger.Snapshot{{Name: "amount", Value: "150"}}
	require.NoError(t, rec.RecordUpdate(ctx, s, ref, oldSnap, newSnap, "typo", "alice", t0))
	require.NoError(t, rec.RecordUpdate(ctx, s, ref, newSnap, oldSnap, "revert", "bob", t0.Add(time.Minute)))

	records, err := rec.History(ctx, s, ref)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "alice", records[0].ActorID)
	assert.Equal(t, `{"amount":"100"}`, string(records[0].OldData))
	assert.Equal(t, "bob", records[1].ActorID)
	assert.True(t, records[0].RecordedAt.Before(records[1].RecordedAt))
}

// =============================================================================
// CUSTOMERS
// =============================================================================

func TestSQLiteStore_CustomerRoundTrip(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	c := domain.NewCustomer("Ada", "555-0199")
	require.NoError(t, s.CreateCustomer(ctx, c))
	assert.ErrorIs(t, s.CreateCustomer(ctx, c), ledger.ErrUniqueViolation)

	got, err := s.GetCustomer(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ada", got.Name)

	_, err = s.GetCustomer(ctx, "nope")
	assert.ErrorIs(t, err, ledger.ErrNotFound)

	list, err := s.ListCustomers(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}
