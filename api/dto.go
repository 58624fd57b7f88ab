/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

AMOUNTS:
  All amounts cross the wire as integral minor currency units (int64).
  The engine's decimal arithmetic stays internal.

VALIDATION:
  Request structs carry go-playground/validator tags; handlers run the
  validator before touching the engine. Business rules (period locking,
  debt invariant, capabilities) stay in the engine - tags only catch
  malformed input.

SEE ALSO:
  - handlers.go: Uses these types
  - ledger/errors.go: The taxonomy rendered by ErrorResponse
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/clinicware/backoffice/domain"
	"github.com/clinicware/backoffice/ledger"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// CreateCustomerRequest is the request to register a customer.
type CreateCustomerRequest struct {
	Name  string `json:"name" validate:"required"`
	Phone string `json:"phone,omitempty"`
}

// CreateDebtRequest opens a debt for a customer.
type CreateDebtRequest struct {
	CustomerID string `json:"customer_id" validate:"required"`
	Amount     int64  `json:"amount" validate:"gte=0"`
	Date       string `json:"date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	Note       string `json:"note,omitempty"`
}

// CreateDebtEntryRequest adds an incurrence or payment against a debt.
type CreateDebtEntryRequest struct {
	CustomerID string `json:"customer_id" validate:"required"`
	DebtID     string `json:"debt_id" validate:"required"`
	Amount     int64  `json:"amount" validate:"gte=0"`
	Date       string `json:"date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	Note       string `json:"note,omitempty"`
}

// CreateConsultationRequest records a consultation fee.
type CreateConsultationRequest struct {
	CustomerID string `json:"customer_id" validate:"required"`
	Amount     int64  `json:"amount" validate:"gte=0"`
	Date       string `json:"date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	Note       string `json:"note,omitempty"`
}

// CreateTreatmentRequest records a treatment fee.
type CreateTreatmentRequest struct {
	CustomerID string `json:"customer_id" validate:"required"`
	Amount     int64  `json:"amount" validate:"gte=0"`
	Date       string `json:"date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	Note       string `json:"note,omitempty"`
}

// CreateOrderRequest records a retail order with its VAT and shipping split.
type CreateOrderRequest struct {
	CustomerID  string `json:"customer_id" validate:"required"`
	Amount      int64  `json:"amount" validate:"gte=0"`
	VAT         int64  `json:"vat" validate:"gte=0"`
	ShippingFee int64  `json:"shipping_fee" validate:"gte=0"`
	Date        string `json:"date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	Note        string `json:"note,omitempty"`
}

// CreateExpenseRequest records an operating expense.
type CreateExpenseRequest struct {
	Category string `json:"category" validate:"required,oneof=salary rent utility misc"`
	Amount   int64  `json:"amount" validate:"gte=0"`
	Date     string `json:"date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	Note     string `json:"note,omitempty"`
}

// CreateSupplyRequest records a supply purchase.
type CreateSupplyRequest struct {
	Supplier string `json:"supplier,omitempty"`
	Amount   int64  `json:"amount" validate:"gte=0"`
	Date     string `json:"date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	Note     string `json:"note,omitempty"`
}

// UpdateRecordRequest mutates any ledgered record. Nil fields are left
// untouched. Kind-specific fields are ignored by other kinds.
type UpdateRecordRequest struct {
	Amount *int64  `json:"amount,omitempty" validate:"omitempty,gte=0"`
	Note   *string `json:"note,omitempty"`
	Date   *string `json:"date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	Reason string  `json:"reason" validate:"required"`

	Category    *string `json:"category,omitempty" validate:"omitempty,oneof=salary rent utility misc"`
	Supplier    *string `json:"supplier,omitempty"`
	VAT         *int64  `json:"vat,omitempty" validate:"omitempty,gte=0"`
	ShippingFee *int64  `json:"shipping_fee,omitempty" validate:"omitempty,gte=0"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// CustomerDTO represents a customer in API responses.
type CustomerDTO struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Phone     string `json:"phone,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
}

// RecordDTO is the shared shape of every ledgered record.
type RecordDTO struct {
	ID      string `json:"id"`
	Kind    string `json:"kind"`
	Amount  int64  `json:"amount"`
	Date    string `json:"date"`
	Note    string `json:"note,omitempty"`
	Deleted bool   `json:"deleted,omitempty"`
	Version int64  `json:"version"`

	CustomerID  string `json:"customer_id,omitempty"`
	DebtID      string `json:"debt_id,omitempty"`
	Category    string `json:"category,omitempty"`
	Supplier    string `json:"supplier,omitempty"`
	VAT         *int64 `json:"vat,omitempty"`
	ShippingFee *int64 `json:"shipping_fee,omitempty"`
}

// DeleteResultDTO reports which delete path ran.
type DeleteResultDTO struct {
	ID          string `json:"id"`
	SoftDeleted bool   `json:"soft_deleted"`
}

// DebtBalanceDTO is a customer's net outstanding debt.
type DebtBalanceDTO struct {
	CustomerID string `json:"customer_id"`
	Balance    int64  `json:"balance"`
}

// StatDTO renders a daily or monthly aggregate row.
type StatDTO struct {
	ID                  string           `json:"id"`
	Date                string           `json:"date,omitempty"`
	Year                int              `json:"year,omitempty"`
	Month               int              `json:"month,omitempty"`
	Buckets             map[string]int64 `json:"buckets"`
	TemporarilyClosedAt *string          `json:"temporarily_closed_at,omitempty"`
	OfficiallyClosedAt  *string          `json:"officially_closed_at,omitempty"`
}

// MonthlyReportDTO is a monthly row with its child daily rows.
type MonthlyReportDTO struct {
	Monthly StatDTO   `json:"monthly"`
	Daily   []StatDTO `json:"daily"`
}

// PeriodWindowDTO describes the current editable window.
type PeriodWindowDTO struct {
	Now                 string `json:"now"`
	MinimumEditableDate string `json:"minimum_editable_date"`
	OfficialBoundary    string `json:"official_boundary"`
}

// HistoryRecordDTO is one audit trail entry.
type HistoryRecordDTO struct {
	ID         string `json:"id"`
	ActorID    string `json:"actor_id"`
	Reason     string `json:"reason,omitempty"`
	OldData    string `json:"old_data"`
	NewData    string `json:"new_data"`
	RecordedAt string `json:"recorded_at"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
	Field string `json:"field,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toRecordDTO(e ledger.Entity) RecordDTO {
	dto := RecordDTO{
		ID:      e.Ref().ID,
		Kind:    string(e.Ref().Kind),
		Amount:  e.LedgerAmount().IntPart(),
		Date:    e.LedgerDate().String(),
		Deleted: e.IsDeleted(),
		Version: e.RowVersion(),
	}
	if s, ok := e.(domain.Stored); ok {
		dto.Note = s.Meta().Note
	}
	switch v := e.(type) {
	case *domain.Debt:
		dto.CustomerID = v.CustomerID
	case *domain.DebtIncurrence:
		dto.CustomerID = v.CustomerID
		dto.DebtID = v.DebtID
	case *domain.DebtPayment:
		dto.CustomerID = v.CustomerID
		dto.DebtID = v.DebtID
	case *domain.Consultation:
		dto.CustomerID = v.CustomerID
	case *domain.Treatment:
		dto.CustomerID = v.CustomerID
	case *domain.Order:
		dto.CustomerID = v.CustomerID
		vat := v.VAT.IntPart()
		fee := v.ShippingFee.IntPart()
		dto.VAT = &vat
		dto.ShippingFee = &fee
	case *domain.Expense:
		dto.Category = string(v.Category)
	case *domain.Supply:
		dto.Supplier = v.Supplier
	}
	return dto
}

func toRecordDTOs(entities []ledger.Entity) []RecordDTO {
	dtos := make([]RecordDTO, len(entities))
	for i, e := range entities {
		dtos[i] = toRecordDTO(e)
	}
	return dtos
}

func toCustomerDTO(c *domain.Customer) CustomerDTO {
	return CustomerDTO{
		ID:        c.ID,
		Name:      c.Name,
		Phone:     c.Phone,
		CreatedAt: c.CreatedAt.Format(time.RFC3339),
	}
}

func bucketsToDTO(buckets map[ledger.BucketCategory]decimal.Decimal) map[string]int64 {
	out := make(map[string]int64, len(buckets))
	for cat, v := range buckets {
		out[string(cat)] = v.IntPart()
	}
	return out
}

func toDailyStatDTO(d *ledger.DailyStat) StatDTO {
	return StatDTO{
		ID:                  d.ID,
		Date:                d.Date.String(),
		Buckets:             bucketsToDTO(d.Buckets),
		TemporarilyClosedAt: formatTimePtr(d.TemporarilyClosedAt),
		OfficiallyClosedAt:  formatTimePtr(d.OfficiallyClosedAt),
	}
}

func toMonthlyStatDTO(m *ledger.MonthlyStat) StatDTO {
	return StatDTO{
		ID:                  m.ID,
		Year:                m.Year,
		Month:               int(m.Month),
		Buckets:             bucketsToDTO(m.Buckets),
		TemporarilyClosedAt: formatTimePtr(m.TemporarilyClosedAt),
		OfficiallyClosedAt:  formatTimePtr(m.OfficiallyClosedAt),
	}
}

func toHistoryDTO(rec ledger.UpdateRecord) HistoryRecordDTO {
	return HistoryRecordDTO{
		ID:         rec.ID,
		ActorID:    rec.ActorID,
		Reason:     rec.Reason,
		OldData:    string(rec.OldData),
		NewData:    string(rec.NewData),
		RecordedAt: rec.RecordedAt.Format(time.RFC3339),
	}
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.RFC3339)
	return &s
}
