/*
snapshot.go - Stable audit field lists per entity kind

PURPOSE:
  Audit snapshots must stay byte-comparable across releases, so each kind
  declares its fields explicitly, in a fixed order, all values rendered as
  strings. Never reflect over live structs here: adding a field means
  appending to the list, and removed fields keep their slot until a
  deliberate history migration.
*/
package domain

import (
	"strconv"

	"github.com/clinicware/backoffice/ledger"
)

func deletedFlag(e ledger.Entity) string {
	return strconv.FormatBool(e.IsDeleted())
}

func debtSnapshot(e ledger.Entity) ledger.Snapshot {
	d := e.(*Debt)
	return ledger.Snapshot{
		{Name: "id", Value: d.ID},
		{Name: "customer_id", Value: d.CustomerID},
		{Name: "amount", Value: d.Amount.String()},
		{Name: "incurred_date", Value: d.Date.String()},
		{Name: "note", Value: d.Note},
		{Name: "deleted", Value: deletedFlag(d)},
	}
}

func debtIncurrenceSnapshot(e ledger.Entity) ledger.Snapshot {
	d := e.(*DebtIncurrence)
	return ledger.Snapshot{
		{Name: "id", Value: d.ID},
		{Name: "customer_id", Value: d.CustomerID},
		{Name: "debt_id", Value: d.DebtID},
		{Name: "amount", Value: d.Amount.String()},
		{Name: "incurred_date", Value: d.Date.String()},
		{Name: "note", Value: d.Note},
		{Name: "deleted", Value: deletedFlag(d)},
	}
}

func debtPaymentSnapshot(e ledger.Entity) ledger.Snapshot {
	d := e.(*DebtPayment)
	return ledger.Snapshot{
		{Name: "id", Value: d.ID},
		{Name: "customer_id", Value: d.CustomerID},
		{Name: "debt_id", Value: d.DebtID},
		{Name: "amount", Value: d.Amount.String()},
		{Name: "paid_date", Value: d.Date.String()},
		{Name: "note", Value: d.Note},
		{Name: "deleted", Value: deletedFlag(d)},
	}
}

func consultationSnapshot(e ledger.Entity) ledger.Snapshot {
	c := e.(*Consultation)
	return ledger.Snapshot{
		{Name: "id", Value: c.ID},
		{Name: "customer_id", Value: c.CustomerID},
		{Name: "amount", Value: c.Amount.String()},
		{Name: "consulted_date", Value: c.Date.String()},
		{Name: "note", Value: c.Note},
		{Name: "deleted", Value: deletedFlag(c)},
	}
}

func expenseSnapshot(e ledger.Entity) ledger.Snapshot {
	x := e.(*Expense)
	return ledger.Snapshot{
		{Name: "id", Value: x.ID},
		{Name: "category", Value: string(x.Category)},
		{Name: "amount", Value: x.Amount.String()},
		{Name: "expense_date", Value: x.Date.String()},
		{Name: "note", Value: x.Note},
		{Name: "deleted", Value: deletedFlag(x)},
	}
}

func orderSnapshot(e ledger.Entity) ledger.Snapshot {
	o := e.(*Order)
	return ledger.Snapshot{
		{Name: "id", Value: o.ID},
		{Name: "customer_id", Value: o.CustomerID},
		{Name: "amount", Value: o.Amount.String()},
		{Name: "vat", Value: o.VAT.String()},
		{Name: "shipping_fee", Value: o.ShippingFee.String()},
		{Name: "ordered_date", Value: o.Date.String()},
		{Name: "note", Value: o.Note},
		{Name: "deleted", Value: deletedFlag(o)},
	}
}

func treatmentSnapshot(e ledger.Entity) ledger.Snapshot {
	t := e.(*Treatment)
	return ledger.Snapshot{
		{Name: "id", Value: t.ID},
		{Name: "customer_id", Value: t.CustomerID},
		{Name: "amount", Value: t.Amount.String()},
		{Name: "treated_date", Value: t.Date.String()},
		{Name: "note", Value: t.Note},
		{Name: "deleted", Value: deletedFlag(t)},
	}
}

func supplySnapshot(e ledger.Entity) ledger.Snapshot {
	s := e.(*Supply)
	return ledger.Snapshot{
		{Name: "id", Value: s.ID},
		{Name: "supplier", Value: s.Supplier},
		{Name: "amount", Value: s.Amount.String()},
		{Name: "supplied_date", Value: s.Date.String()},
		{Name: "note", Value: s.Note},
		{Name: "deleted", Value: deletedFlag(s)},
	}
}
