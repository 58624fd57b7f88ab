/*
orchestrator_test.go - End-to-end mutation scenarios against the memory store

These tests drive the orchestrator with the real domain descriptors, so the
full flow (validation, period gating, debt invariant, aggregate pair, audit,
fallback) runs exactly as in production, minus SQLite.
*/
package ledger_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicware/backoffice/domain"
	"github.com/clinicware/backoffice/ledger"
	"github.com/clinicware/backoffice/ledger/store"
)

// =============================================================================
// TEST FIXTURE
// =============================================================================

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

// grants is a capability table for tests: actor -> allowed capabilities.
type grants map[string][]string

func (g grants) HasCapability(actorID, capability string) bool {
	for _, c := range g[actorID] {
		if c == capability {
			return true
		}
	}
	return false
}

type fixture struct {
	mem   *store.Memory
	orch  *ledger.Orchestrator
	now   time.Time
	today ledger.Date
}

// newFixture builds an orchestrator at a fixed instant (June 15th, cutover
// executed: editable from May 1, officially closed before April 1).
func newFixture(t *testing.T, auth grants) *fixture {
	t.Helper()
	now := at(2025, time.June, 15, 12, 0)
	mem := store.NewMemory(domain.DebtSigns())

	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	orch := ledger.NewOrchestrator(mem, auth, fixedClock{t: now}, ledger.DefaultPeriodPolicy(), log)
	domain.RegisterAll(orch)
	return &fixture{mem: mem, orch: orch, now: now, today: ledger.DateOf(now)}
}

func (f *fixture) createExpense(t *testing.T, amount int64) *domain.Expense {
	t.Helper()
	e := domain.NewExpense(domain.ExpenseRent, d(amount), "office")
	_, err := f.orch.Create(context.Background(), ledger.CreateRequest{Entity: e, ActorID: "clerk"})
	require.NoError(t, err)
	return e
}

// =============================================================================
// CREATE
// =============================================================================

func TestOrchestrator_CreateAppliesBucketContributions(t *testing.T) {
	f := newFixture(t, grants{})
	f.createExpense(t, 800)

	assert.True(t, dailyBucket(t, f.mem, f.today, ledger.BucketExpenseRent).Equal(d(800)))
	assert.True(t, monthlyBucket(t, f.mem, f.today.MonthKey(), ledger.BucketExpenseRent).Equal(d(800)))
}

func TestOrchestrator_CreateOrderSplitsBuckets(t *testing.T) {
	// An order contributes to three buckets: net amount, VAT, shipping.
	f := newFixture(t, grants{})
	o := domain.NewOrder("cust-1", d(1000), d(70), d(30), "")
	_, err := f.orch.Create(context.Background(), ledger.CreateRequest{Entity: o, ActorID: "clerk"})
	require.NoError(t, err)

	assert.True(t, dailyBucket(t, f.mem, f.today, ledger.BucketRetailRevenue).Equal(d(1000)))
	assert.True(t, dailyBucket(t, f.mem, f.today, ledger.BucketVATCollected).Equal(d(70)))
	assert.True(t, dailyBucket(t, f.mem, f.today, ledger.BucketShipmentCost).Equal(d(30)))
}

func TestOrchestrator_CreateRejectsNegativeAmount(t *testing.T) {
	f := newFixture(t, grants{})
	e := domain.NewExpense(domain.ExpenseMisc, d(-5), "")
	_, err := f.orch.Create(context.Background(), ledger.CreateRequest{Entity: e, ActorID: "clerk"})
	assert.ErrorIs(t, err, ledger.ErrValidation)
}

func TestOrchestrator_CustomDateRequiresCapability(t *testing.T) {
	// GIVEN: a clerk without the expense date capability
	// WHEN: creating with an explicit date
	// THEN: rejected; with the capability it succeeds and buckets the
	//       contribution under the custom date

	f := newFixture(t, grants{"backdater": {domain.CapabilitySetExpenseDate}})
	custom := ledger.NewDate(2025, time.May, 20)

	e := domain.NewExpense(domain.ExpenseSalary, d(100), "")
	_, err := f.orch.Create(context.Background(), ledger.CreateRequest{
		Entity: e, ActorID: "clerk", CustomDate: &custom,
	})
	assert.ErrorIs(t, err, ledger.ErrAuthorization)

	e2 := domain.NewExpense(domain.ExpenseSalary, d(100), "")
	_, err = f.orch.Create(context.Background(), ledger.CreateRequest{
		Entity: e2, ActorID: "backdater", CustomDate: &custom,
	})
	require.NoError(t, err)
	assert.True(t, dailyBucket(t, f.mem, custom, ledger.BucketExpenseSalary).Equal(d(100)))
}

func TestOrchestrator_CreateDateInOfficiallyClosedPeriodRejected(t *testing.T) {
	// Officially closed dates are frozen for everyone, capability or not.
	f := newFixture(t, grants{"admin": {
		domain.CapabilitySetExpenseDate, ledger.CapabilityPeriodOverride,
	}})
	closed := ledger.NewDate(2025, time.March, 10)

	e := domain.NewExpense(domain.ExpenseMisc, d(10), "")
	_, err := f.orch.Create(context.Background(), ledger.CreateRequest{
		Entity: e, ActorID: "admin", CustomDate: &closed,
	})

	var opErr *ledger.OperationError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, ledger.MsgDateInClosedPeriod, opErr.Message)
}

func TestOrchestrator_CreateDateInTemporarilyClosedPeriodNeedsOverride(t *testing.T) {
	f := newFixture(t, grants{
		"backdater": {domain.CapabilitySetExpenseDate},
		"admin":     {domain.CapabilitySetExpenseDate, ledger.CapabilityPeriodOverride},
	})
	tempClosed := ledger.NewDate(2025, time.April, 10)

	e := domain.NewExpense(domain.ExpenseMisc, d(10), "")
	_, err := f.orch.Create(context.Background(), ledger.CreateRequest{
		Entity: e, ActorID: "backdater", CustomDate: &tempClosed,
	})
	assert.ErrorIs(t, err, ledger.ErrAuthorization)

	e2 := domain.NewExpense(domain.ExpenseMisc, d(10), "")
	_, err = f.orch.Create(context.Background(), ledger.CreateRequest{
		Entity: e2, ActorID: "admin", CustomDate: &tempClosed,
	})
	assert.NoError(t, err)
}

// =============================================================================
// UPDATE
// =============================================================================

func TestOrchestrator_UpdateAmountAdjustsAggregatesAndAudits(t *testing.T) {
	// GIVEN: an expense of 800
	// WHEN: its amount becomes 500
	// THEN: buckets show 500 (revert+apply pair) and one audit row exists

	f := newFixture(t, grants{})
	e := f.createExpense(t, 800)

	err := f.orch.Update(context.Background(), ledger.UpdateRequest{
		Ref: e.Ref(), ActorID: "clerk", Reason: "typo",
		Apply: func(ent ledger.Entity) error {
			ent.(*domain.Expense).Amount = d(500)
			return nil
		},
	})
	require.NoError(t, err)

	assert.True(t, dailyBucket(t, f.mem, f.today, ledger.BucketExpenseRent).Equal(d(500)))
	assert.True(t, monthlyBucket(t, f.mem, f.today.MonthKey(), ledger.BucketExpenseRent).Equal(d(500)))

	history, err := f.orch.History(context.Background(), e.Ref())
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "typo", history[0].Reason)
	assert.Contains(t, string(history[0].OldData), `"amount":"800"`)
	assert.Contains(t, string(history[0].NewData), `"amount":"500"`)
}

func TestOrchestrator_UpdateDateMovesContribution(t *testing.T) {
	// Moving the resource date reverts at the old date and applies at the new.
	f := newFixture(t, grants{"mover": {domain.CapabilitySetExpenseDate}})
	e := domain.NewExpense(domain.ExpenseUtility, d(200), "")
	_, err := f.orch.Create(context.Background(), ledger.CreateRequest{Entity: e, ActorID: "mover"})
	require.NoError(t, err)

	newDate := ledger.NewDate(2025, time.May, 3)
	err = f.orch.Update(context.Background(), ledger.UpdateRequest{
		Ref: e.Ref(), ActorID: "mover", Reason: "wrong day", NewDate: &newDate,
	})
	require.NoError(t, err)

	assert.True(t, dailyBucket(t, f.mem, f.today, ledger.BucketExpenseUtility).IsZero())
	assert.True(t, dailyBucket(t, f.mem, newDate, ledger.BucketExpenseUtility).Equal(d(200)))
	assert.True(t, monthlyBucket(t, f.mem, f.today.MonthKey(), ledger.BucketExpenseUtility).IsZero())
	assert.True(t, monthlyBucket(t, f.mem, newDate.MonthKey(), ledger.BucketExpenseUtility).Equal(d(200)))
}

func TestOrchestrator_UpdateLockedRecordRejected(t *testing.T) {
	// GIVEN: a record whose date fell into an officially closed month
	// THEN: any field update is rejected; a date change gets the specific
	//       after-locked code

	f := newFixture(t, grants{"admin": {
		domain.CapabilitySetExpenseDate, ledger.CapabilityPeriodOverride,
	}})

	// Seed directly in the past: the record predates the lock.
	e := domain.NewExpense(domain.ExpenseRent, d(300), "")
	e.Date = ledger.NewDate(2025, time.March, 10)
	require.NoError(t, f.mem.InsertEntity(context.Background(), e))

	err := f.orch.Update(context.Background(), ledger.UpdateRequest{
		Ref: e.Ref(), ActorID: "admin", Reason: "try",
		Apply: func(ent ledger.Entity) error {
			ent.(*domain.Expense).Amount = d(1)
			return nil
		},
	})
	var opErr *ledger.OperationError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, ledger.MsgCannotModifyLocked, opErr.Message)

	target := ledger.NewDate(2025, time.June, 1)
	err = f.orch.Update(context.Background(), ledger.UpdateRequest{
		Ref: e.Ref(), ActorID: "admin", Reason: "try", NewDate: &target,
	})
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, ledger.MsgCannotSetDateLocked, opErr.Message,
		"a locked record's date is permanently frozen")
}

func TestOrchestrator_UpdateTemporarilyClosedNeedsOverride(t *testing.T) {
	f := newFixture(t, grants{"admin": {ledger.CapabilityPeriodOverride}})

	e := domain.NewExpense(domain.ExpenseRent, d(300), "")
	e.Date = ledger.NewDate(2025, time.April, 10)
	require.NoError(t, f.mem.InsertEntity(context.Background(), e))

	apply := func(ent ledger.Entity) error {
		ent.(*domain.Expense).Amount = d(310)
		return nil
	}

	err := f.orch.Update(context.Background(), ledger.UpdateRequest{
		Ref: e.Ref(), ActorID: "clerk", Reason: "fix", Apply: apply,
	})
	assert.ErrorIs(t, err, ledger.ErrAuthorization)

	err = f.orch.Update(context.Background(), ledger.UpdateRequest{
		Ref: e.Ref(), ActorID: "admin", Reason: "fix", Apply: apply,
	})
	assert.NoError(t, err)
}

func TestOrchestrator_UpdateFailureIsAtomic(t *testing.T) {
	// GIVEN: the audit append will fail
	// WHEN: an otherwise valid update runs
	// THEN: nothing changed - not the record, not the buckets, no history

	f := newFixture(t, grants{})
	e := f.createExpense(t, 800)

	f.mem.FailNextHistoryAppend = true
	err := f.orch.Update(context.Background(), ledger.UpdateRequest{
		Ref: e.Ref(), ActorID: "clerk", Reason: "fix",
		Apply: func(ent ledger.Entity) error {
			ent.(*domain.Expense).Amount = d(1)
			return nil
		},
	})
	require.Error(t, err)

	loaded, err := f.mem.GetEntity(context.Background(), e.Ref())
	require.NoError(t, err)
	assert.True(t, loaded.LedgerAmount().Equal(d(800)), "record rolled back")
	assert.True(t, dailyBucket(t, f.mem, f.today, ledger.BucketExpenseRent).Equal(d(800)), "buckets rolled back")

	history, err := f.orch.History(context.Background(), e.Ref())
	require.NoError(t, err)
	assert.Empty(t, history)
}

// =============================================================================
// DEBT INVARIANT
// =============================================================================

func seedDebt(t *testing.T, f *fixture, customerID string, amount int64) *domain.Debt {
	t.Helper()
	debt := domain.NewDebt(customerID, d(amount), "")
	_, err := f.orch.Create(context.Background(), ledger.CreateRequest{Entity: debt, ActorID: "clerk"})
	require.NoError(t, err)
	return debt
}

func TestOrchestrator_PaymentMayNotExceedOutstandingDebt(t *testing.T) {
	f := newFixture(t, grants{})
	debt := seedDebt(t, f, "cust-1", 500)

	over := domain.NewDebtPayment("cust-1", debt.ID, d(501), "")
	_, err := f.orch.Create(context.Background(), ledger.CreateRequest{Entity: over, ActorID: "clerk"})

	var opErr *ledger.OperationError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, ledger.MsgNegativeRemainingDebt, opErr.Message)

	exact := domain.NewDebtPayment("cust-1", debt.ID, d(500), "")
	_, err = f.orch.Create(context.Background(), ledger.CreateRequest{Entity: exact, ActorID: "clerk"})
	assert.NoError(t, err, "paying the balance to exactly zero is allowed")
}

func TestOrchestrator_ShrinkingDebtBelowPaymentsRejected(t *testing.T) {
	// GIVEN: a 500 debt with 400 already paid
	// WHEN: the debt amount is edited down to 300
	// THEN: rejected - the customer's net balance would go to -100

	f := newFixture(t, grants{})
	debt := seedDebt(t, f, "cust-1", 500)
	payment := domain.NewDebtPayment("cust-1", debt.ID, d(400), "")
	_, err := f.orch.Create(context.Background(), ledger.CreateRequest{Entity: payment, ActorID: "clerk"})
	require.NoError(t, err)

	err = f.orch.Update(context.Background(), ledger.UpdateRequest{
		Ref: debt.Ref(), ActorID: "clerk", Reason: "oops",
		Apply: func(ent ledger.Entity) error {
			ent.(*domain.Debt).Amount = d(300)
			return nil
		},
	})
	var opErr *ledger.OperationError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, ledger.MsgNegativeRemainingDebt, opErr.Message)
}

func TestOrchestrator_DeletingDebtBehindPaymentsRejected(t *testing.T) {
	f := newFixture(t, grants{"clerk": {domain.CapabilityDeleteDebt}})
	debt := seedDebt(t, f, "cust-1", 500)
	payment := domain.NewDebtPayment("cust-1", debt.ID, d(400), "")
	_, err := f.orch.Create(context.Background(), ledger.CreateRequest{Entity: payment, ActorID: "clerk"})
	require.NoError(t, err)

	_, err = f.orch.Delete(context.Background(), ledger.DeleteRequest{Ref: debt.Ref(), ActorID: "clerk"})
	var opErr *ledger.OperationError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, ledger.MsgNegativeRemainingDebt, opErr.Message)
}

// =============================================================================
// DELETE
// =============================================================================

func TestOrchestrator_DeleteRevertsContribution(t *testing.T) {
	f := newFixture(t, grants{"clerk": {domain.CapabilityDeleteExpense}})
	e := f.createExpense(t, 800)

	soft, err := f.orch.Delete(context.Background(), ledger.DeleteRequest{Ref: e.Ref(), ActorID: "clerk"})
	require.NoError(t, err)
	assert.False(t, soft)

	assert.True(t, dailyBucket(t, f.mem, f.today, ledger.BucketExpenseRent).IsZero())
	_, err = f.mem.GetEntity(context.Background(), e.Ref())
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestOrchestrator_DeleteRequiresCapability(t *testing.T) {
	f := newFixture(t, grants{})
	e := f.createExpense(t, 100)

	_, err := f.orch.Delete(context.Background(), ledger.DeleteRequest{Ref: e.Ref(), ActorID: "clerk"})
	assert.ErrorIs(t, err, ledger.ErrAuthorization)
}

func TestOrchestrator_RestrictedDeleteFallsBackToSoftDelete(t *testing.T) {
	// GIVEN: a record whose hard delete is blocked by an outstanding reference
	// WHEN: it is deleted
	// THEN: it is soft-deleted instead, and the ledger shows no change at all

	f := newFixture(t, grants{"clerk": {domain.CapabilityDeleteDebt}})
	debt := seedDebt(t, f, "cust-1", 500)
	f.mem.RestrictDelete[debt.Ref()] = true

	soft, err := f.orch.Delete(context.Background(), ledger.DeleteRequest{Ref: debt.Ref(), ActorID: "clerk"})
	require.NoError(t, err)
	assert.True(t, soft)

	// Invisible to reads.
	_, err = f.mem.GetEntity(context.Background(), debt.Ref())
	assert.ErrorIs(t, err, ledger.ErrNotFound)

	// Aggregates untouched: the revert/re-apply pair nets to zero.
	assert.True(t, dailyBucket(t, f.mem, f.today, ledger.BucketDebtIncurred).Equal(d(500)))
	assert.True(t, monthlyBucket(t, f.mem, f.today.MonthKey(), ledger.BucketDebtIncurred).Equal(d(500)))
}

func TestOrchestrator_DeleteLockedRecordRejected(t *testing.T) {
	f := newFixture(t, grants{"clerk": {domain.CapabilityDeleteExpense}})
	e := domain.NewExpense(domain.ExpenseRent, d(300), "")
	e.Date = ledger.NewDate(2025, time.March, 10)
	require.NoError(t, f.mem.InsertEntity(context.Background(), e))

	_, err := f.orch.Delete(context.Background(), ledger.DeleteRequest{Ref: e.Ref(), ActorID: "clerk"})
	var opErr *ledger.OperationError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, ledger.MsgCannotModifyLocked, opErr.Message)
}

// =============================================================================
// MISC
// =============================================================================

func TestOrchestrator_UnknownKindRejected(t *testing.T) {
	f := newFixture(t, grants{})
	err := f.orch.Update(context.Background(), ledger.UpdateRequest{
		Ref: ledger.EntityRef{Kind: "unicorn", ID: "u-1"}, ActorID: "clerk", Reason: "x",
	})
	assert.ErrorIs(t, err, ledger.ErrValidation)
}

func TestOrchestrator_ApplyErrorRollsBack(t *testing.T) {
	f := newFixture(t, grants{})
	e := f.createExpense(t, 800)

	boom := errors.New("boom")
	err := f.orch.Update(context.Background(), ledger.UpdateRequest{
		Ref: e.Ref(), ActorID: "clerk", Reason: "x",
		Apply: func(ledger.Entity) error { return boom },
	})
	assert.ErrorIs(t, err, boom)
	assert.True(t, dailyBucket(t, f.mem, f.today, ledger.BucketExpenseRent).Equal(d(800)))
}

func TestOrchestrator_UpdateRejectsNegativeAmount(t *testing.T) {
	f := newFixture(t, grants{})
	e := f.createExpense(t, 800)

	err := f.orch.Update(context.Background(), ledger.UpdateRequest{
		Ref: e.Ref(), ActorID: "clerk", Reason: "x",
		Apply: func(ent ledger.Entity) error {
			ent.(*domain.Expense).Amount = decimal.NewFromInt(-1)
			return nil
		},
	})
	assert.ErrorIs(t, err, ledger.ErrValidation)
}
