/*
handlers.go - HTTP API handlers for the back-office ledger

PURPOSE:
  Exposes the ledger engine via REST API. Handles HTTP request/response,
  JSON serialization and input validation, and delegates every mutation
  to the orchestrator. No business rule lives here.

ENDPOINTS:
  Customers:
    GET    /api/customers                  List customers
    POST   /api/customers                  Register customer
    GET    /api/customers/{id}             Get customer
    GET    /api/customers/{id}/debt-balance Net outstanding debt

  Ledgered records (same shape for debts, debt-incurrences,
  debt-payments, consultations, expenses, orders, treatments, supplies):
    GET    /api/<kind>                     List live records
    POST   /api/<kind>                     Create
    GET    /api/<kind>/{id}                Get
    PUT    /api/<kind>/{id}                Update (amount, note, date, extras)
    DELETE /api/<kind>/{id}                Delete (may soft-delete)
    GET    /api/<kind>/{id}/history        Audit trail

  Aggregates and periods:
    GET    /api/stats/daily/{date}         One daily row
    GET    /api/stats/monthly/{year}/{month} Monthly row + child daily rows
    GET    /api/stats/earliest-month       Oldest recorded month
    GET    /api/periods/window             Current editable window
    POST   /api/admin/close-periods        Run the closing sweep now

ERROR HANDLING:
  Engine errors are rendered from the ledger taxonomy:
  - 400: Malformed input (validator, bad dates)
  - 403: Missing capability
  - 404: Unknown or soft-deleted record
  - 409: Lost concurrency race, duplicates
  - 422: Business-rule rejections (locked periods, debt invariant),
         carrying the stable code (e.g. NegativeRemainingDebtAmount)
  - 500: Everything else

SECURITY NOTE:
  Actor identity comes from the X-Actor-ID header with no verification.
  Front this service with real authentication before exposing it.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/clinicware/backoffice/domain"
	"github.com/clinicware/backoffice/ledger"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// CustomerStore is the customer reference-data surface the handlers need.
// Implemented by store/sqlite.Store.
type CustomerStore interface {
	CreateCustomer(ctx context.Context, c *domain.Customer) error
	GetCustomer(ctx context.Context, id string) (*domain.Customer, error)
	ListCustomers(ctx context.Context) ([]domain.Customer, error)
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Orch      *ledger.Orchestrator
	Customers CustomerStore

	validate *validator.Validate
	log      *logrus.Logger
}

// NewHandler creates a handler around a fully-registered orchestrator.
func NewHandler(orch *ledger.Orchestrator, customers CustomerStore, log *logrus.Logger) *Handler {
	if log == nil {
		log = logrus.New()
	}
	return &Handler{
		Orch:      orch,
		Customers: customers,
		validate:  validator.New(),
		log:       log,
	}
}

// =============================================================================
// CUSTOMER HANDLERS
// =============================================================================

func (h *Handler) ListCustomers(w http.ResponseWriter, r *http.Request) {
	customers, err := h.Customers.ListCustomers(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	dtos := make([]CustomerDTO, len(customers))
	for i := range customers {
		dtos[i] = toCustomerDTO(&customers[i])
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) CreateCustomer(w http.ResponseWriter, r *http.Request) {
	var req CreateCustomerRequest
	if !h.decode(w, r, &req) {
		return
	}
	c := domain.NewCustomer(req.Name, req.Phone)
	if err := h.Customers.CreateCustomer(r.Context(), c); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCustomerDTO(c))
}

func (h *Handler) GetCustomer(w http.ResponseWriter, r *http.Request) {
	c, err := h.Customers.GetCustomer(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCustomerDTO(c))
}

func (h *Handler) GetDebtBalance(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.Customers.GetCustomer(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	balance, err := h.Orch.Store().DebtBalance(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, DebtBalanceDTO{CustomerID: id, Balance: balance.IntPart()})
}

// =============================================================================
// CREATE HANDLERS - One decoder per kind, one shared submit path
// =============================================================================

func (h *Handler) CreateDebt(w http.ResponseWriter, r *http.Request) {
	var req CreateDebtRequest
	if !h.decode(w, r, &req) {
		return
	}
	e := domain.NewDebt(req.CustomerID, decimal.NewFromInt(req.Amount), req.Note)
	h.submitCreate(w, r, e, req.Date)
}

func (h *Handler) CreateDebtIncurrence(w http.ResponseWriter, r *http.Request) {
	var req CreateDebtEntryRequest
	if !h.decode(w, r, &req) {
		return
	}
	e := domain.NewDebtIncurrence(req.CustomerID, req.DebtID, decimal.NewFromInt(req.Amount), req.Note)
	h.submitCreate(w, r, e, req.Date)
}

func (h *Handler) CreateDebtPayment(w http.ResponseWriter, r *http.Request) {
	var req CreateDebtEntryRequest
	if !h.decode(w, r, &req) {
		return
	}
	e := domain.NewDebtPayment(req.CustomerID, req.DebtID, decimal.NewFromInt(req.Amount), req.Note)
	h.submitCreate(w, r, e, req.Date)
}

func (h *Handler) CreateConsultation(w http.ResponseWriter, r *http.Request) {
	var req CreateConsultationRequest
	if !h.decode(w, r, &req) {
		return
	}
	e := domain.NewConsultation(req.CustomerID, decimal.NewFromInt(req.Amount), req.Note)
	h.submitCreate(w, r, e, req.Date)
}

func (h *Handler) CreateTreatment(w http.ResponseWriter, r *http.Request) {
	var req CreateTreatmentRequest
	if !h.decode(w, r, &req) {
		return
	}
	e := domain.NewTreatment(req.CustomerID, decimal.NewFromInt(req.Amount), req.Note)
	h.submitCreate(w, r, e, req.Date)
}

func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderRequest
	if !h.decode(w, r, &req) {
		return
	}
	e := domain.NewOrder(req.CustomerID, decimal.NewFromInt(req.Amount),
		decimal.NewFromInt(req.VAT), decimal.NewFromInt(req.ShippingFee), req.Note)
	h.submitCreate(w, r, e, req.Date)
}

func (h *Handler) CreateExpense(w http.ResponseWriter, r *http.Request) {
	var req CreateExpenseRequest
	if !h.decode(w, r, &req) {
		return
	}
	e := domain.NewExpense(domain.ExpenseCategory(req.Category), decimal.NewFromInt(req.Amount), req.Note)
	h.submitCreate(w, r, e, req.Date)
}

func (h *Handler) CreateSupply(w http.ResponseWriter, r *http.Request) {
	var req CreateSupplyRequest
	if !h.decode(w, r, &req) {
		return
	}
	e := domain.NewSupply(req.Supplier, decimal.NewFromInt(req.Amount), req.Note)
	h.submitCreate(w, r, e, req.Date)
}

// submitCreate runs the shared tail of every create: optional custom date,
// orchestrated insert, 201 with the stored record.
func (h *Handler) submitCreate(w http.ResponseWriter, r *http.Request, e ledger.Entity, dateStr string) {
	req := ledger.CreateRequest{Entity: e, ActorID: actorID(r)}
	if dateStr != "" {
		date, err := ledger.ParseDate(dateStr)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid date, expected YYYY-MM-DD")
			return
		}
		req.CustomDate = &date
	}
	if _, err := h.Orch.Create(r.Context(), req); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRecordDTO(e))
}

// =============================================================================
// GENERIC RECORD HANDLERS - Shared across kinds
// =============================================================================

func (h *Handler) listRecords(kind ledger.EntityKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entities, err := h.Orch.Store().ListEntities(r.Context(), kind)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toRecordDTOs(entities))
	}
}

func (h *Handler) getRecord(kind ledger.EntityKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ref := ledger.EntityRef{Kind: kind, ID: chi.URLParam(r, "id")}
		e, err := h.Orch.Store().GetEntity(r.Context(), ref)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toRecordDTO(e))
	}
}

func (h *Handler) updateRecord(kind ledger.EntityKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req UpdateRecordRequest
		if !h.decode(w, r, &req) {
			return
		}
		ref := ledger.EntityRef{Kind: kind, ID: chi.URLParam(r, "id")}

		update := ledger.UpdateRequest{
			Ref:     ref,
			ActorID: actorID(r),
			Reason:  req.Reason,
			Apply:   applyRecordUpdate(req),
		}
		if req.Date != nil {
			date, err := ledger.ParseDate(*req.Date)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid date, expected YYYY-MM-DD")
				return
			}
			update.NewDate = &date
		}
		if err := h.Orch.Update(r.Context(), update); err != nil {
			writeDomainError(w, err)
			return
		}

		e, err := h.Orch.Store().GetEntity(r.Context(), ref)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toRecordDTO(e))
	}
}

func (h *Handler) deleteRecord(kind ledger.EntityKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ref := ledger.EntityRef{Kind: kind, ID: chi.URLParam(r, "id")}
		soft, err := h.Orch.Delete(r.Context(), ledger.DeleteRequest{Ref: ref, ActorID: actorID(r)})
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, DeleteResultDTO{ID: ref.ID, SoftDeleted: soft})
	}
}

func (h *Handler) recordHistory(kind ledger.EntityKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ref := ledger.EntityRef{Kind: kind, ID: chi.URLParam(r, "id")}
		records, err := h.Orch.History(r.Context(), ref)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		dtos := make([]HistoryRecordDTO, len(records))
		for i, rec := range records {
			dtos[i] = toHistoryDTO(rec)
		}
		writeJSON(w, http.StatusOK, dtos)
	}
}

// applyRecordUpdate folds the optional request fields into the loaded record.
// Unset fields stay untouched; kind-specific fields apply only to their kind.
func applyRecordUpdate(req UpdateRecordRequest) func(ledger.Entity) error {
	return func(e ledger.Entity) error {
		stored, ok := e.(domain.Stored)
		if !ok {
			return &ledger.ValidationError{Field: "kind", Message: "record does not support field updates"}
		}
		if req.Amount != nil {
			stored.SetAmount(decimal.NewFromInt(*req.Amount))
		}
		if req.Note != nil {
			stored.SetNote(*req.Note)
		}
		switch v := e.(type) {
		case *domain.Expense:
			if req.Category != nil {
				cat := domain.ExpenseCategory(*req.Category)
				if !cat.Valid() {
					return &ledger.ValidationError{Field: "category", Message: "unknown expense category"}
				}
				v.Category = cat
			}
		case *domain.Supply:
			if req.Supplier != nil {
				v.Supplier = *req.Supplier
			}
		case *domain.Order:
			if req.VAT != nil {
				v.VAT = decimal.NewFromInt(*req.VAT)
			}
			if req.ShippingFee != nil {
				v.ShippingFee = decimal.NewFromInt(*req.ShippingFee)
			}
		}
		return nil
	}
}

// =============================================================================
// STATS AND PERIOD HANDLERS
// =============================================================================

func (h *Handler) GetDailyStat(w http.ResponseWriter, r *http.Request) {
	date, err := ledger.ParseDate(chi.URLParam(r, "date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid date, expected YYYY-MM-DD")
		return
	}
	stat, err := h.Orch.Store().DailyStatByDate(r.Context(), date)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if stat == nil {
		// No activity that day: render a zeroed row rather than 404 so
		// reporting clients need no special case.
		stat = &ledger.DailyStat{Date: date, Buckets: ledger.NewBuckets()}
	}
	writeJSON(w, http.StatusOK, toDailyStatDTO(stat))
}

func (h *Handler) GetMonthlyStat(w http.ResponseWriter, r *http.Request) {
	year, err1 := strconv.Atoi(chi.URLParam(r, "year"))
	month, err2 := strconv.Atoi(chi.URLParam(r, "month"))
	if err1 != nil || err2 != nil || month < 1 || month > 12 {
		writeError(w, http.StatusBadRequest, "invalid year/month")
		return
	}
	key := ledger.MonthKey{Year: year, Month: time.Month(month)}

	monthly, err := h.Orch.Store().MonthlyStatByKey(r.Context(), key)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if monthly == nil {
		monthly = &ledger.MonthlyStat{Year: year, Month: time.Month(month), Buckets: ledger.NewBuckets()}
	}
	daily, err := h.Orch.Store().DailyStatsInMonth(r.Context(), key)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	report := MonthlyReportDTO{Monthly: toMonthlyStatDTO(monthly), Daily: make([]StatDTO, len(daily))}
	for i := range daily {
		report.Daily[i] = toDailyStatDTO(&daily[i])
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) GetEarliestMonth(w http.ResponseWriter, r *http.Request) {
	key, ok, err := h.Orch.Aggregator().EarliestMonth(r.Context(), h.Orch.Store())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"empty": true})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"year": key.Year, "month": int(key.Month)})
}

func (h *Handler) GetPeriodWindow(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	policy := h.Orch.Policy()
	writeJSON(w, http.StatusOK, PeriodWindowDTO{
		Now:                 now.Format(time.RFC3339),
		MinimumEditableDate: policy.MinimumEditableDate(now).String(),
		OfficialBoundary:    policy.OfficialBoundary(now).String(),
	})
}

func (h *Handler) ClosePeriods(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	if err := h.Orch.Aggregator().CloseElapsedPeriods(r.Context(), h.Orch.Store(), h.Orch.Policy(), now); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"closed_through": h.Orch.Policy().MinimumEditableDate(now).String()})
}

// =============================================================================
// SHARED PLUMBING
// =============================================================================

// decode parses and validates a JSON request body. On failure it writes the
// 400 itself and returns false.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{
				Error: "validation failed",
				Field: verrs[0].Field(),
				Code:  verrs[0].Tag(),
			})
			return false
		}
		writeError(w, http.StatusBadRequest, "validation failed")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// writeDomainError renders the ledger error taxonomy.
func writeDomainError(w http.ResponseWriter, err error) {
	var opErr *ledger.OperationError
	switch {
	case ledger.IsNotFound(err):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ledger.ErrAuthorization):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.As(err, &opErr):
		status := http.StatusUnprocessableEntity
		if opErr.Message == ledger.MsgDuplicateRecord {
			status = http.StatusConflict
		}
		writeJSON(w, status, ErrorResponse{
			Error: opErr.Error(),
			Code:  opErr.Message,
			Field: opErr.Field,
		})
	case ledger.IsConflict(err):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, ledger.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
