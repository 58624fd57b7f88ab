/*
descriptors.go - Per-kind orchestrator parameterization

PURPOSE:
  The mutation flow is written once in ledger.Orchestrator; everything a
  kind does differently lives here. A descriptor names the buckets the
  kind touches, the capabilities gating custom dates and deletion, the
  debt-invariant sign, and the soft-delete fallback policy.

CAPABILITIES:
  Capability names are stable identifiers checked against the external
  authorization collaborator. The engine never evaluates policy itself.

SEE ALSO:
  - ledger/orchestrator.go: Consumes these
  - snapshot.go: The Snapshot funcs referenced here
*/
package domain

import (
	"github.com/clinicware/backoffice/ledger"
)

// =============================================================================
// CAPABILITY NAMES
// =============================================================================

const (
	CapabilitySetDebtDate         = "debt.set_date"
	CapabilitySetConsultationDate = "consultation.set_date"
	CapabilitySetExpenseDate      = "expense.set_date"
	CapabilitySetOrderDate        = "order.set_date"
	CapabilitySetTreatmentDate    = "treatment.set_date"
	CapabilitySetSupplyDate       = "supply.set_date"

	CapabilityDeleteDebt         = "debt.delete"
	CapabilityDeleteConsultation = "consultation.delete"
	CapabilityDeleteExpense      = "expense.delete"
	CapabilityDeleteOrder        = "order.delete"
	CapabilityDeleteTreatment    = "treatment.delete"
	CapabilityDeleteSupply       = "supply.delete"
)

// =============================================================================
// DELTA FUNCS - Which buckets each kind touches
// =============================================================================

func singleBucket(cat ledger.BucketCategory) func(ledger.Entity) []ledger.BucketDelta {
	return func(e ledger.Entity) []ledger.BucketDelta {
		return []ledger.BucketDelta{{Category: cat, Amount: e.LedgerAmount()}}
	}
}

func expenseDeltas(e ledger.Entity) []ledger.BucketDelta {
	exp := e.(*Expense)
	return []ledger.BucketDelta{{Category: exp.Category.Bucket(), Amount: exp.Amount}}
}

func orderDeltas(e ledger.Entity) []ledger.BucketDelta {
	o := e.(*Order)
	return []ledger.BucketDelta{
		{Category: ledger.BucketRetailRevenue, Amount: o.Amount},
		{Category: ledger.BucketVATCollected, Amount: o.VAT},
		{Category: ledger.BucketShipmentCost, Amount: o.ShippingFee},
	}
}

// =============================================================================
// DESCRIPTORS
// =============================================================================

// Descriptors returns every kind's orchestrator descriptor.
func Descriptors() []ledger.Descriptor {
	return []ledger.Descriptor{
		{
			Kind:                 KindDebt,
			Deltas:               singleBucket(ledger.BucketDebtIncurred),
			Snapshot:             debtSnapshot,
			DateCapability:       CapabilitySetDebtDate,
			DeleteCapability:     CapabilityDeleteDebt,
			DebtSign:             +1,
			ReferenceField:       "customer_id",
			SoftDeleteOnRestrict: true,
		},
		{
			Kind:                 KindDebtIncurrence,
			Deltas:               singleBucket(ledger.BucketDebtIncurred),
			Snapshot:             debtIncurrenceSnapshot,
			DateCapability:       CapabilitySetDebtDate,
			DeleteCapability:     CapabilityDeleteDebt,
			DebtSign:             +1,
			ReferenceField:       "debt_id",
			SoftDeleteOnRestrict: true,
		},
		{
			Kind:                 KindDebtPayment,
			Deltas:               singleBucket(ledger.BucketDebtPaid),
			Snapshot:             debtPaymentSnapshot,
			DateCapability:       CapabilitySetDebtDate,
			DeleteCapability:     CapabilityDeleteDebt,
			DebtSign:             -1,
			ReferenceField:       "debt_id",
			SoftDeleteOnRestrict: true,
		},
		{
			Kind:                 KindConsultation,
			Deltas:               singleBucket(ledger.BucketConsultationRevenue),
			Snapshot:             consultationSnapshot,
			DateCapability:       CapabilitySetConsultationDate,
			DeleteCapability:     CapabilityDeleteConsultation,
			ReferenceField:       "customer_id",
			SoftDeleteOnRestrict: true,
		},
		{
			Kind:                 KindExpense,
			Deltas:               expenseDeltas,
			Snapshot:             expenseSnapshot,
			DateCapability:       CapabilitySetExpenseDate,
			DeleteCapability:     CapabilityDeleteExpense,
			ReferenceField:       "id",
			SoftDeleteOnRestrict: true,
		},
		{
			Kind:                 KindOrder,
			Deltas:               orderDeltas,
			Snapshot:             orderSnapshot,
			DateCapability:       CapabilitySetOrderDate,
			DeleteCapability:     CapabilityDeleteOrder,
			ReferenceField:       "customer_id",
			SoftDeleteOnRestrict: true,
		},
		{
			Kind:                 KindTreatment,
			Deltas:               singleBucket(ledger.BucketTreatmentRevenue),
			Snapshot:             treatmentSnapshot,
			DateCapability:       CapabilitySetTreatmentDate,
			DeleteCapability:     CapabilityDeleteTreatment,
			ReferenceField:       "customer_id",
			SoftDeleteOnRestrict: true,
		},
		{
			Kind:                 KindSupply,
			Deltas:               singleBucket(ledger.BucketSupplyCost),
			Snapshot:             supplySnapshot,
			DateCapability:       CapabilitySetSupplyDate,
			DeleteCapability:     CapabilityDeleteSupply,
			ReferenceField:       "id",
			SoftDeleteOnRestrict: true,
		},
	}
}

// RegisterAll wires every kind into an orchestrator.
func RegisterAll(o *ledger.Orchestrator) {
	for _, d := range Descriptors() {
		o.Register(d)
	}
}

// DebtSigns maps kinds onto their debt-balance contribution. Used by stores
// to compute net balances.
func DebtSigns() map[ledger.EntityKind]int {
	return map[ledger.EntityKind]int{
		KindDebt:           +1,
		KindDebtIncurrence: +1,
		KindDebtPayment:    -1,
	}
}
