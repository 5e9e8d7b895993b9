/*
handlers.go - HTTP handlers for the billing core

PURPOSE:
  Exposes bill, slip, notification, and job operations over REST. Handlers
  parse and validate input, resolve the caller, delegate to the domain
  packages, and map results and errors back to the wire.

ENDPOINTS:
  Bills:
    POST   /api/bills                    Create bill (admin)
    GET    /api/bills/{id}               Bill details (admin or owning tenant)
    PUT    /api/bills/{id}               Partial edit (admin)
    GET    /api/bills/{id}/slips         Slip history (admin or owning tenant)
    POST   /api/bills/{id}/slips         Submit payment evidence (tenant)

  Slips:
    POST   /api/slips/{id}/approve       Approve payment (admin)
    POST   /api/slips/{id}/reject        Reject payment (admin)

  Contracts:
    GET    /api/contracts/{id}/bills     Contract's bills (admin or tenant)

  Notifications:
    GET    /api/notifications            Caller's notifications
    POST   /api/notifications/{id}/read  Mark one as read

  Jobs:
    POST   /api/jobs/daily               Trigger the daily pass (scheduler)

ERROR HANDLING:
  Domain sentinel errors map to HTTP status:
  - 400: validation failures
  - 401: missing or invalid identity
  - 403: caller lacks access to the record
  - 404: record not found
  - 409: conflicting concurrent operation
  - 500: everything else

SEE ALSO:
  - dto.go: wire types and mappers
  - middleware.go: identity resolution
  - server.go: router setup
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/poiuytgh/leasecore/auth"
	"github.com/poiuytgh/leasecore/billing"
	"github.com/poiuytgh/leasecore/reconcile"
	"github.com/poiuytgh/leasecore/store/sqlite"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store    *sqlite.Store
	Ledger   *billing.BillLedger
	Reviewer *billing.SlipReviewer
	Job      *reconcile.Job

	Validate *validator.Validate
	Logger   *zap.Logger
}

// NewHandler creates a handler over the wired domain services.
func NewHandler(store *sqlite.Store, ledger *billing.BillLedger, reviewer *billing.SlipReviewer, job *reconcile.Job, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		Store:    store,
		Ledger:   ledger,
		Reviewer: reviewer,
		Job:      job,
		Validate: validator.New(),
		Logger:   logger,
	}
}

// =============================================================================
// BILL HANDLERS
// =============================================================================

// CreateBill creates a new bill from admin input.
func (h *Handler) CreateBill(w http.ResponseWriter, r *http.Request) {
	ac, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req CreateBillRequest
	if !h.decode(w, r, &req) {
		return
	}

	in := billing.CreateBillInput{
		ContractID:   req.ContractID,
		BillingMonth: req.BillingMonth,
	}
	if !h.parseMoney(w, &in.RentAmount, "rent_amount", req.RentAmount) ||
		!h.parseMoney(w, &in.WaterPreviousReading, "water_previous_reading", req.WaterPreviousReading) ||
		!h.parseMoney(w, &in.WaterCurrentReading, "water_current_reading", req.WaterCurrentReading) ||
		!h.parseMoney(w, &in.WaterUnitRate, "water_unit_rate", req.WaterUnitRate) ||
		!h.parseMoney(w, &in.PowerPreviousReading, "power_previous_reading", req.PowerPreviousReading) ||
		!h.parseMoney(w, &in.PowerCurrentReading, "power_current_reading", req.PowerCurrentReading) ||
		!h.parseMoney(w, &in.PowerUnitRate, "power_unit_rate", req.PowerUnitRate) ||
		!h.parseOptionalMoney(w, &in.InternetAmount, "internet_amount", req.InternetAmount) ||
		!h.parseOptionalMoney(w, &in.OtherCharges, "other_charges", req.OtherCharges) {
		return
	}

	due, err := time.Parse(dateLayout, req.DueDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "due_date must be YYYY-MM-DD", err)
		return
	}
	in.DueDate = due

	bill, err := h.Ledger.Create(r.Context(), ac, in)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toBillDTO(bill))
}

// GetBill returns one bill to its tenant or an admin.
func (h *Handler) GetBill(w http.ResponseWriter, r *http.Request) {
	ac, ok := requireUser(w, r)
	if !ok {
		return
	}

	bill, ok := h.loadAuthorizedBill(w, r, ac, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toBillDTO(bill))
}

// UpdateBill applies a partial admin edit.
func (h *Handler) UpdateBill(w http.ResponseWriter, r *http.Request) {
	ac, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req UpdateBillRequest
	if !h.decode(w, r, &req) {
		return
	}

	var patch billing.BillPatch
	set := func(dst **decimal.Decimal, field string, src *string) bool {
		if src == nil {
			return true
		}
		d, err := decimal.NewFromString(*src)
		if err != nil {
			writeError(w, http.StatusBadRequest, field+" must be a decimal number", err)
			return false
		}
		*dst = &d
		return true
	}
	if !set(&patch.RentAmount, "rent_amount", req.RentAmount) ||
		!set(&patch.WaterPreviousReading, "water_previous_reading", req.WaterPreviousReading) ||
		!set(&patch.WaterCurrentReading, "water_current_reading", req.WaterCurrentReading) ||
		!set(&patch.WaterUnitRate, "water_unit_rate", req.WaterUnitRate) ||
		!set(&patch.PowerPreviousReading, "power_previous_reading", req.PowerPreviousReading) ||
		!set(&patch.PowerCurrentReading, "power_current_reading", req.PowerCurrentReading) ||
		!set(&patch.PowerUnitRate, "power_unit_rate", req.PowerUnitRate) ||
		!set(&patch.InternetAmount, "internet_amount", req.InternetAmount) ||
		!set(&patch.OtherCharges, "other_charges", req.OtherCharges) {
		return
	}
	if req.DueDate != nil {
		due, err := time.Parse(dateLayout, *req.DueDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "due_date must be YYYY-MM-DD", err)
			return
		}
		patch.DueDate = &due
	}
	if req.Status != nil {
		st := billing.BillStatus(*req.Status)
		patch.Status = &st
	}

	bill, err := h.Ledger.Update(r.Context(), ac, chi.URLParam(r, "id"), patch)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBillDTO(bill))
}

// ListContractBills returns a contract's bills to its tenant or an admin.
func (h *Handler) ListContractBills(w http.ResponseWriter, r *http.Request) {
	ac, ok := requireUser(w, r)
	if !ok {
		return
	}

	contractID := chi.URLParam(r, "id")
	contract, err := h.Store.GetContract(r.Context(), contractID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load contract", err)
		return
	}
	if contract == nil {
		writeError(w, http.StatusNotFound, "Contract not found", nil)
		return
	}
	if !ac.IsAdmin() && !ac.IsTenant(contract.TenantID) {
		writeError(w, http.StatusForbidden, "Access denied", nil)
		return
	}

	bills, err := h.Store.ListBillsByContract(r.Context(), contractID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list bills", err)
		return
	}

	dtos := make([]BillDTO, len(bills))
	for i := range bills {
		dtos[i] = toBillDTO(&bills[i])
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// SLIP HANDLERS
// =============================================================================

// SubmitSlip records a tenant's payment evidence against a bill.
func (h *Handler) SubmitSlip(w http.ResponseWriter, r *http.Request) {
	ac, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req SubmitSlipRequest
	if !h.decode(w, r, &req) {
		return
	}

	bill, slip, err := h.Reviewer.Submit(r.Context(), ac, billing.SubmitSlipInput{
		BillID:   chi.URLParam(r, "id"),
		FileURL:  req.FileURL,
		FileName: req.FileName,
		Notes:    req.Notes,
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, SubmitSlipResponse{
		Bill: toBillDTO(bill),
		Slip: toSlipDTO(slip),
	})
}

// ListSlips returns a bill's slip history, newest first.
func (h *Handler) ListSlips(w http.ResponseWriter, r *http.Request) {
	ac, ok := requireUser(w, r)
	if !ok {
		return
	}

	bill, ok := h.loadAuthorizedBill(w, r, ac, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	slips, err := h.Store.ListSlips(r.Context(), bill.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list slips", err)
		return
	}
	dtos := make([]SlipDTO, len(slips))
	for i := range slips {
		dtos[i] = toSlipDTO(&slips[i])
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ApproveSlip confirms a payment.
func (h *Handler) ApproveSlip(w http.ResponseWriter, r *http.Request) {
	ac, ok := requireUser(w, r)
	if !ok {
		return
	}

	bill, err := h.Reviewer.Approve(r.Context(), ac, chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBillDTO(bill))
}

// RejectSlip rejects payment evidence with a reason.
func (h *Handler) RejectSlip(w http.ResponseWriter, r *http.Request) {
	ac, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req RejectSlipRequest
	if !h.decode(w, r, &req) {
		return
	}

	bill, err := h.Reviewer.Reject(r.Context(), ac, chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBillDTO(bill))
}

// =============================================================================
// NOTIFICATION HANDLERS
// =============================================================================

// ListNotifications returns the caller's notifications, newest first.
func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	ac, ok := requireUser(w, r)
	if !ok {
		return
	}

	notifications, err := h.Store.ListNotifications(r.Context(), ac.SubjectID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list notifications", err)
		return
	}
	dtos := make([]NotificationDTO, len(notifications))
	for i, n := range notifications {
		dtos[i] = toNotificationDTO(n)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// MarkNotificationRead marks one of the caller's notifications as read.
func (h *Handler) MarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	ac, ok := requireUser(w, r)
	if !ok {
		return
	}

	err := h.Store.MarkNotificationRead(r.Context(), chi.URLParam(r, "id"), ac.SubjectID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// =============================================================================
// JOB HANDLERS
// =============================================================================

// TriggerDailyJob runs the daily reconciliation pass. The RequireScheduler
// middleware has already authenticated the caller.
func (h *Handler) TriggerDailyJob(w http.ResponseWriter, r *http.Request) {
	run, err := h.Job.Execute(r.Context())
	if err != nil {
		if errors.Is(err, billing.ErrConflict) {
			writeError(w, http.StatusConflict, "A reconciliation run is already in progress", err)
			return
		}
		h.Logger.Error("daily job failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Daily job failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toRunDTO(run))
}

// =============================================================================
// SHARED HELPERS
// =============================================================================

// loadAuthorizedBill fetches a bill and enforces admin-or-owning-tenant
// access. Writes the error response itself when access fails.
func (h *Handler) loadAuthorizedBill(w http.ResponseWriter, r *http.Request, ac auth.Context, billID string) (*billing.Bill, bool) {
	bill, err := h.Store.GetBill(r.Context(), billID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load bill", err)
		return nil, false
	}
	if bill == nil {
		writeError(w, http.StatusNotFound, "Bill not found", nil)
		return nil, false
	}
	if !ac.IsAdmin() {
		contract, err := h.Store.GetContract(r.Context(), bill.ContractID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to load contract", err)
			return nil, false
		}
		if contract == nil || !ac.IsTenant(contract.TenantID) {
			writeError(w, http.StatusForbidden, "Access denied", nil)
			return nil, false
		}
	}
	return bill, true
}

// decode parses and validates a JSON request body.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body", err)
		return false
	}
	if err := h.Validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Validation failed: "+err.Error(), err)
		return false
	}
	return true
}

func (h *Handler) parseMoney(w http.ResponseWriter, dst *decimal.Decimal, field, value string) bool {
	d, err := decimal.NewFromString(value)
	if err != nil {
		writeError(w, http.StatusBadRequest, field+" must be a decimal number", err)
		return false
	}
	*dst = d
	return true
}

// parseOptionalMoney treats an absent value as zero.
func (h *Handler) parseOptionalMoney(w http.ResponseWriter, dst *decimal.Decimal, field, value string) bool {
	if value == "" {
		*dst = decimal.Zero
		return true
	}
	return h.parseMoney(w, dst, field, value)
}

// writeDomainError maps domain sentinel errors to HTTP status codes.
func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, billing.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error(), err)
	case errors.Is(err, billing.ErrForbidden):
		writeError(w, http.StatusForbidden, err.Error(), err)
	case errors.Is(err, billing.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error(), err)
	case errors.Is(err, billing.ErrConflict):
		writeError(w, http.StatusConflict, err.Error(), err)
	default:
		h.Logger.Error("unhandled domain error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal error", err)
	}
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// errorResponse is the JSON error envelope.
type errorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

// writeError writes a JSON error response. The detail carries the underlying
// error text for client debugging.
func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := errorResponse{Error: message}
	if err != nil && status != http.StatusInternalServerError {
		resp.Detail = err.Error()
	}
	writeJSON(w, status, resp)
}
