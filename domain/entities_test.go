package domain_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicware/backoffice/domain"
	"github.com/clinicware/backoffice/ledger"
)

func TestExpenseCategory_BucketMapping(t *testing.T) {
	cases := []struct {
		category domain.ExpenseCategory
		bucket   ledger.BucketCategory
	}{
		{domain.ExpenseSalary, ledger.BucketExpenseSalary},
		{domain.ExpenseRent, ledger.BucketExpenseRent},
		{domain.ExpenseUtility, ledger.BucketExpenseUtility},
		{domain.ExpenseMisc, ledger.BucketExpenseMisc},
	}
	for _, c := range cases {
		assert.Equal(t, c.bucket, c.category.Bucket())
		assert.True(t, c.category.Valid())
	}
	assert.False(t, domain.ExpenseCategory("bribes").Valid())
}

func TestClone_IsIndependent(t *testing.T) {
	// Mutating a clone must not leak into the original: the orchestrator
	// relies on this to diff pre- and post-mutation state.

	orig := domain.NewExpense(domain.ExpenseRent, decimal.NewFromInt(100), "before")
	clone := orig.Clone().(*domain.Expense)

	clone.Amount = decimal.NewFromInt(999)
	clone.Category = domain.ExpenseMisc
	clone.MarkDeleted(time.Now())

	assert.True(t, orig.Amount.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, domain.ExpenseRent, orig.Category)
	assert.False(t, orig.IsDeleted())
}

func TestMarkDeleted_StampsTimestamp(t *testing.T) {
	e := domain.NewSupply("acme", decimal.NewFromInt(50), "")
	require.False(t, e.IsDeleted())

	at := time.Date(2025, time.June, 15, 9, 0, 0, 0, time.UTC)
	e.MarkDeleted(at)

	assert.True(t, e.IsDeleted())
	require.NotNil(t, e.Meta().DeletedAt)
	assert.True(t, e.Meta().DeletedAt.Equal(at))
}

func TestDescriptors_CoverEveryKind(t *testing.T) {
	descs := domain.Descriptors()
	require.Len(t, descs, 8)

	seen := make(map[ledger.EntityKind]bool)
	for _, d := range descs {
		assert.False(t, seen[d.Kind], "kind %q declared twice", d.Kind)
		seen[d.Kind] = true
		assert.NotNil(t, d.Deltas, "%s needs a deltas func", d.Kind)
		assert.NotNil(t, d.Snapshot, "%s needs a snapshot func", d.Kind)
		assert.NotEmpty(t, d.DateCapability, "%s needs a date capability", d.Kind)
		assert.NotEmpty(t, d.DeleteCapability, "%s needs a delete capability", d.Kind)
	}

	signs := domain.DebtSigns()
	assert.Equal(t, +1, signs[domain.KindDebt])
	assert.Equal(t, +1, signs[domain.KindDebtIncurrence])
	assert.Equal(t, -1, signs[domain.KindDebtPayment])
}

func TestRestore_RoundTripsPersistedState(t *testing.T) {
	// Stores rebuild records through Restore; the rebuilt record must carry
	// the persisted identity, not a fresh one.

	e := domain.NewTreatment("cust-1", decimal.NewFromInt(300), "")
	meta := domain.RecordMeta{
		Note:      "follow-up",
		CreatedAt: time.Date(2025, time.May, 1, 8, 0, 0, 0, time.UTC),
		UpdatedAt: time.Date(2025, time.May, 2, 8, 0, 0, 0, time.UTC),
	}
	e.Restore("treat-42", ledger.NewDate(2025, time.May, 1), meta, 3)

	assert.Equal(t, "treat-42", e.Ref().ID)
	assert.Equal(t, ledger.NewDate(2025, time.May, 1), e.LedgerDate())
	assert.Equal(t, int64(3), e.RowVersion())
	assert.Equal(t, "follow-up", e.Meta().Note)
}
