/*
Package domain defines the back office's ledgered record types.

PURPOSE:
  Each revenue- or cost-bearing record (debts, debt payments and
  incurrences, consultations, expenses, orders, treatments, supplies)
  implements the ledger.Entity role and carries a Descriptor telling the
  orchestrator which buckets it touches, which capabilities gate it, and
  whether it participates in the debt invariant.

KEY CONCEPTS IN THIS FILE (entities.go):
  - record: The fields every ledgered kind shares
  - One struct per kind, plus the referenced Customer

MUTATION RULE:
  Nothing in this package writes to a store. All mutations flow through
  ledger.Orchestrator so aggregate adjustment, audit, and period locking
  can never be skipped.

SEE ALSO:
  - descriptors.go: Per-kind orchestrator parameterization
  - snapshot.go: Stable audit field lists
*/
package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/clinicware/backoffice/ledger"
)

// =============================================================================
// ENTITY KINDS
// =============================================================================

const (
	KindDebt           ledger.EntityKind = "debt"
	KindDebtIncurrence ledger.EntityKind = "debt_incurrence"
	KindDebtPayment    ledger.EntityKind = "debt_payment"
	KindConsultation   ledger.EntityKind = "consultation"
	KindExpense        ledger.EntityKind = "expense"
	KindOrder          ledger.EntityKind = "order"
	KindTreatment      ledger.EntityKind = "treatment"
	KindSupply         ledger.EntityKind = "supply"
)

// AllKinds lists every ledgered kind in stable order.
func AllKinds() []ledger.EntityKind {
	return []ledger.EntityKind{
		KindDebt, KindDebtIncurrence, KindDebtPayment,
		KindConsultation, KindExpense, KindOrder, KindTreatment, KindSupply,
	}
}

// =============================================================================
// SHARED RECORD FIELDS
// =============================================================================

// record holds the fields every ledgered kind shares. Amounts are minor
// currency units; Date is the resource date driving aggregate bucketing and
// period locking.
type record struct {
	ID        string
	Amount    decimal.Decimal
	Date      ledger.Date
	Note      string
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time
	Version   int64
}

func newRecord(amount decimal.Decimal, note string) record {
	now := time.Now().UTC()
	return record{ID: uuid.NewString(), Amount: amount, Note: note, CreatedAt: now, UpdatedAt: now}
}

func (r *record) LedgerAmount() decimal.Decimal { return r.Amount }
func (r *record) LedgerDate() ledger.Date       { return r.Date }
func (r *record) SetLedgerDate(d ledger.Date)   { r.Date = d }
func (r *record) IsDeleted() bool               { return r.DeletedAt != nil }
func (r *record) MarkDeleted(at time.Time)      { r.DeletedAt = &at }
func (r *record) RowVersion() int64             { return r.Version }
func (r *record) SetRowVersion(v int64)         { r.Version = v }

func (r record) cloneRecord() record {
	cp := r
	if r.DeletedAt != nil {
		t := *r.DeletedAt
		cp.DeletedAt = &t
	}
	return cp
}

// RecordMeta carries the shared bookkeeping fields across the persistence
// boundary.
type RecordMeta struct {
	Note      string
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time
}

func (r *record) SetAmount(a decimal.Decimal) { r.Amount = a }
func (r *record) SetNote(n string)            { r.Note = n }

func (r *record) Meta() RecordMeta {
	return RecordMeta{Note: r.Note, CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt, DeletedAt: r.DeletedAt}
}

// Restore overwrites constructor defaults with a stored row's identity and
// bookkeeping fields.
func (r *record) Restore(id string, date ledger.Date, m RecordMeta, version int64) {
	r.ID = id
	r.Date = date
	r.Note = m.Note
	r.CreatedAt = m.CreatedAt
	r.UpdatedAt = m.UpdatedAt
	r.DeletedAt = m.DeletedAt
	r.Version = version
}

// Stored is implemented by every ledgered kind. Persistence layers use it to
// read and rehydrate the shared row fields without knowing the concrete type.
type Stored interface {
	ledger.Entity
	Meta() RecordMeta
	Restore(id string, date ledger.Date, m RecordMeta, version int64)
	SetAmount(decimal.Decimal)
	SetNote(string)
}

// =============================================================================
// CUSTOMER - Referenced by debt-side and revenue records; not itself ledgered
// =============================================================================

type Customer struct {
	ID        string
	Name      string
	Phone     string
	CreatedAt time.Time
}

func NewCustomer(name, phone string) *Customer {
	return &Customer{ID: uuid.NewString(), Name: name, Phone: phone, CreatedAt: time.Now().UTC()}
}

// =============================================================================
// DEBT-SIDE KINDS - Participate in the non-negative balance invariant
// =============================================================================

// Debt is a customer's opening debt record: an incurred amount on its own.
// Incurrences and payments reference it, which is what blocks hard deletes
// of a debt that still has activity.
type Debt struct {
	record
	CustomerID string
}

func NewDebt(customerID string, amount decimal.Decimal, note string) *Debt {
	return &Debt{record: newRecord(amount, note), CustomerID: customerID}
}

func (d *Debt) Ref() ledger.EntityRef { return ledger.EntityRef{Kind: KindDebt, ID: d.ID} }
func (d *Debt) CustomerRef() string   { return d.CustomerID }
func (d *Debt) Clone() ledger.Entity {
	cp := *d
	cp.record = d.cloneRecord()
	return &cp
}

// DebtIncurrence adds to an existing debt.
type DebtIncurrence struct {
	record
	CustomerID string
	DebtID     string
}

func NewDebtIncurrence(customerID, debtID string, amount decimal.Decimal, note string) *DebtIncurrence {
	return &DebtIncurrence{record: newRecord(amount, note), CustomerID: customerID, DebtID: debtID}
}

func (d *DebtIncurrence) Ref() ledger.EntityRef {
	return ledger.EntityRef{Kind: KindDebtIncurrence, ID: d.ID}
}
func (d *DebtIncurrence) CustomerRef() string { return d.CustomerID }
func (d *DebtIncurrence) Clone() ledger.Entity {
	cp := *d
	cp.record = d.cloneRecord()
	return &cp
}

// DebtPayment pays a debt down. Its amount may never push the customer's net
// balance negative; the orchestrator guards this before every mutation.
type DebtPayment struct {
	record
	CustomerID string
	DebtID     string
}

func NewDebtPayment(customerID, debtID string, amount decimal.Decimal, note string) *DebtPayment {
	return &DebtPayment{record: newRecord(amount, note), CustomerID: customerID, DebtID: debtID}
}

func (d *DebtPayment) Ref() ledger.EntityRef {
	return ledger.EntityRef{Kind: KindDebtPayment, ID: d.ID}
}
func (d *DebtPayment) CustomerRef() string { return d.CustomerID }
func (d *DebtPayment) Clone() ledger.Entity {
	cp := *d
	cp.record = d.cloneRecord()
	return &cp
}

// =============================================================================
// REVENUE KINDS
// =============================================================================

type Consultation struct {
	record
	CustomerID string
}

func NewConsultation(customerID string, amount decimal.Decimal, note string) *Consultation {
	return &Consultation{record: newRecord(amount, note), CustomerID: customerID}
}

func (c *Consultation) Ref() ledger.EntityRef {
	return ledger.EntityRef{Kind: KindConsultation, ID: c.ID}
}
func (c *Consultation) CustomerRef() string { return c.CustomerID }
func (c *Consultation) Clone() ledger.Entity {
	cp := *c
	cp.record = c.cloneRecord()
	return &cp
}

type Treatment struct {
	record
	CustomerID string
}

func NewTreatment(customerID string, amount decimal.Decimal, note string) *Treatment {
	return &Treatment{record: newRecord(amount, note), CustomerID: customerID}
}

func (t *Treatment) Ref() ledger.EntityRef { return ledger.EntityRef{Kind: KindTreatment, ID: t.ID} }
func (t *Treatment) CustomerRef() string   { return t.CustomerID }
func (t *Treatment) Clone() ledger.Entity {
	cp := *t
	cp.record = t.cloneRecord()
	return &cp
}

// Order is the one multi-bucket kind: the net amount is retail revenue while
// VAT and the shipping fee land in their own buckets.
type Order struct {
	record
	CustomerID  string
	VAT         decimal.Decimal
	ShippingFee decimal.Decimal
}

func NewOrder(customerID string, amount, vat, shippingFee decimal.Decimal, note string) *Order {
	o := &Order{record: newRecord(amount, note), CustomerID: customerID, VAT: vat, ShippingFee: shippingFee}
	return o
}

func (o *Order) Ref() ledger.EntityRef { return ledger.EntityRef{Kind: KindOrder, ID: o.ID} }
func (o *Order) CustomerRef() string   { return o.CustomerID }
func (o *Order) Clone() ledger.Entity {
	cp := *o
	cp.record = o.cloneRecord()
	return &cp
}

// =============================================================================
// COST KINDS
// =============================================================================

// ExpenseCategory selects which expense sub-bucket an expense lands in.
type ExpenseCategory string

const (
	ExpenseSalary  ExpenseCategory = "salary"
	ExpenseRent    ExpenseCategory = "rent"
	ExpenseUtility ExpenseCategory = "utility"
	ExpenseMisc    ExpenseCategory = "misc"
)

// Bucket maps the category onto its aggregate bucket. Unknown categories fall
// into misc rather than dropping the amount.
func (c ExpenseCategory) Bucket() ledger.BucketCategory {
	switch c {
	case ExpenseSalary:
		return ledger.BucketExpenseSalary
	case ExpenseRent:
		return ledger.BucketExpenseRent
	case ExpenseUtility:
		return ledger.BucketExpenseUtility
	default:
		return ledger.BucketExpenseMisc
	}
}

func (c ExpenseCategory) Valid() bool {
	switch c {
	case ExpenseSalary, ExpenseRent, ExpenseUtility, ExpenseMisc:
		return true
	}
	return false
}

type Expense struct {
	record
	Category ExpenseCategory
}

func NewExpense(category ExpenseCategory, amount decimal.Decimal, note string) *Expense {
	return &Expense{record: newRecord(amount, note), Category: category}
}

func (e *Expense) Ref() ledger.EntityRef { return ledger.EntityRef{Kind: KindExpense, ID: e.ID} }
func (e *Expense) CustomerRef() string   { return "" }
func (e *Expense) Clone() ledger.Entity {
	cp := *e
	cp.record = e.cloneRecord()
	return &cp
}

type Supply struct {
	record
	Supplier string
}

func NewSupply(supplier string, amount decimal.Decimal, note string) *Supply {
	return &Supply{record: newRecord(amount, note), Supplier: supplier}
}

func (s *Supply) Ref() ledger.EntityRef { return ledger.EntityRef{Kind: KindSupply, ID: s.ID} }
func (s *Supply) CustomerRef() string   { return "" }
func (s *Supply) Clone() ledger.Entity {
	cp := *s
	cp.record = s.cloneRecord()
	return &cp
}
