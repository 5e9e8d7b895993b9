/*
dto.go - Request and response data structures

PURPOSE:
  Wire types for the REST API. Domain types never cross the HTTP boundary
  directly: every response is mapped into a DTO here, and every request body
  is parsed and validated before anything touches the core packages.

MONEY:
  Monetary values travel as decimal strings ("3909.00"), never JSON floats.
  Responses always render two decimal places.
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/poiuytgh/leasecore/billing"
	"github.com/poiuytgh/leasecore/notify"
	"github.com/poiuytgh/leasecore/reconcile"
)

const dateLayout = "2006-01-02"

// =============================================================================
// REQUESTS
// =============================================================================

// CreateBillRequest is the admin's new-bill payload. Metered amounts and the
// total are derived server-side, never accepted from the client.
type CreateBillRequest struct {
	ContractID   string `json:"contract_id" validate:"required"`
	BillingMonth string `json:"billing_month" validate:"required,len=7"` // YYYY-MM
	RentAmount   string `json:"rent_amount" validate:"required"`

	WaterPreviousReading string `json:"water_previous_reading" validate:"required"`
	WaterCurrentReading  string `json:"water_current_reading" validate:"required"`
	WaterUnitRate        string `json:"water_unit_rate" validate:"required"`

	PowerPreviousReading string `json:"power_previous_reading" validate:"required"`
	PowerCurrentReading  string `json:"power_current_reading" validate:"required"`
	PowerUnitRate        string `json:"power_unit_rate" validate:"required"`

	InternetAmount string `json:"internet_amount"`
	OtherCharges   string `json:"other_charges"`

	DueDate string `json:"due_date" validate:"required"` // YYYY-MM-DD
}

// UpdateBillRequest is a partial admin edit. Absent fields stay unchanged.
type UpdateBillRequest struct {
	RentAmount *string `json:"rent_amount"`

	WaterPreviousReading *string `json:"water_previous_reading"`
	WaterCurrentReading  *string `json:"water_current_reading"`
	WaterUnitRate        *string `json:"water_unit_rate"`

	PowerPreviousReading *string `json:"power_previous_reading"`
	PowerCurrentReading  *string `json:"power_current_reading"`
	PowerUnitRate        *string `json:"power_unit_rate"`

	InternetAmount *string `json:"internet_amount"`
	OtherCharges   *string `json:"other_charges"`

	DueDate *string `json:"due_date"`
	Status  *string `json:"status" validate:"omitempty,oneof=unpaid pending_approval paid"`
}

// SubmitSlipRequest is the tenant's payment-evidence payload. The file itself
// lives in external storage; only the reference travels here.
type SubmitSlipRequest struct {
	FileURL  string `json:"file_url" validate:"required,url"`
	FileName string `json:"file_name"`
	Notes    string `json:"notes" validate:"max=1000"`
}

// RejectSlipRequest carries the rejection reason shown to the tenant.
type RejectSlipRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

// =============================================================================
// RESPONSES
// =============================================================================

// MeteredChargeDTO is one utility's readings, rate, and derived amount.
type MeteredChargeDTO struct {
	PreviousReading string `json:"previous_reading"`
	CurrentReading  string `json:"current_reading"`
	UnitRate        string `json:"unit_rate"`
	Amount          string `json:"amount"`
}

// BillDTO is the wire form of a bill.
type BillDTO struct {
	ID           string `json:"id"`
	ContractID   string `json:"contract_id"`
	BillingMonth string `json:"billing_month"`

	RentAmount     string           `json:"rent_amount"`
	Water          MeteredChargeDTO `json:"water"`
	Power          MeteredChargeDTO `json:"power"`
	InternetAmount string           `json:"internet_amount"`
	OtherCharges   string           `json:"other_charges"`
	TotalAmount    string           `json:"total_amount"`

	Status   string  `json:"status"`
	DueDate  string  `json:"due_date"`
	PaidDate *string `json:"paid_date,omitempty"`

	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// SubmitSlipResponse returns both the stored slip and the bill it moved.
type SubmitSlipResponse struct {
	Bill BillDTO `json:"bill"`
	Slip SlipDTO `json:"slip"`
}

// SlipDTO is the wire form of a payment slip.
type SlipDTO struct {
	ID              string  `json:"id"`
	BillID          string  `json:"bill_id"`
	FileURL         string  `json:"file_url"`
	FileName        string  `json:"file_name,omitempty"`
	Notes           string  `json:"notes,omitempty"`
	Status          string  `json:"status"`
	RejectionReason string  `json:"rejection_reason,omitempty"`
	CreatedAt       string  `json:"created_at"`
	ReviewedAt      *string `json:"reviewed_at,omitempty"`
}

// NotificationDTO is the wire form of a notification.
type NotificationDTO struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Message   string `json:"message"`
	Type      string `json:"type"`
	RelatedID string `json:"related_id"`
	IsRead    bool   `json:"is_read"`
	CreatedAt string `json:"created_at"`
}

// RunDTO is the wire form of a reconciliation run record.
type RunDTO struct {
	ID          string  `json:"id"`
	Status      string  `json:"status"`
	StartedAt   string  `json:"started_at"`
	CompletedAt *string `json:"completed_at,omitempty"`
	Error       string  `json:"error,omitempty"`

	ContractsExpiring int `json:"contracts_expiring"`
	ContractsExpired  int `json:"contracts_expired"`
	NoticesSent       int `json:"notices_sent"`
	NoticesSkipped    int `json:"notices_skipped"`
}

// =============================================================================
// MAPPERS
// =============================================================================

func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}

func toMeteredChargeDTO(m billing.MeteredCharge) MeteredChargeDTO {
	return MeteredChargeDTO{
		PreviousReading: m.PreviousReading.String(),
		CurrentReading:  m.CurrentReading.String(),
		UnitRate:        m.UnitRate.String(),
		Amount:          money(m.Amount),
	}
}

func toBillDTO(b *billing.Bill) BillDTO {
	dto := BillDTO{
		ID:             b.ID,
		ContractID:     b.ContractID,
		BillingMonth:   b.BillingMonth,
		RentAmount:     money(b.RentAmount),
		Water:          toMeteredChargeDTO(b.Water),
		Power:          toMeteredChargeDTO(b.Power),
		InternetAmount: money(b.InternetAmount),
		OtherCharges:   money(b.OtherCharges),
		TotalAmount:    money(b.TotalAmount),
		Status:         string(b.Status),
		DueDate:        b.DueDate.Format(dateLayout),
		CreatedAt:      b.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:      b.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if b.PaidDate != nil {
		s := b.PaidDate.UTC().Format(time.RFC3339)
		dto.PaidDate = &s
	}
	return dto
}

func toSlipDTO(s *billing.PaymentSlip) SlipDTO {
	dto := SlipDTO{
		ID:              s.ID,
		BillID:          s.BillID,
		FileURL:         s.FileURL,
		FileName:        s.FileName,
		Notes:           s.Notes,
		Status:          string(s.Status),
		RejectionReason: s.RejectionReason,
		CreatedAt:       s.CreatedAt.UTC().Format(time.RFC3339),
	}
	if s.ReviewedAt != nil {
		t := s.ReviewedAt.UTC().Format(time.RFC3339)
		dto.ReviewedAt = &t
	}
	return dto
}

func toNotificationDTO(n notify.Notification) NotificationDTO {
	return NotificationDTO{
		ID:        n.ID,
		Title:     n.Title,
		Message:   n.Message,
		Type:      string(n.Type),
		RelatedID: n.RelatedID,
		IsRead:    n.IsRead,
		CreatedAt: n.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func toRunDTO(run reconcile.Run) RunDTO {
	dto := RunDTO{
		ID:                run.ID,
		Status:            string(run.Status),
		StartedAt:         run.StartedAt.UTC().Format(time.RFC3339),
		Error:             run.Error,
		ContractsExpiring: run.ContractsExpiring,
		ContractsExpired:  run.ContractsExpired,
		NoticesSent:       run.NoticesSent,
		NoticesSkipped:    run.NoticesSkipped,
	}
	if run.CompletedAt != nil {
		t := run.CompletedAt.UTC().Format(time.RFC3339)
		dto.CompletedAt = &t
	}
	return dto
}
