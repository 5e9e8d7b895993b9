/*
Package billing owns the bill lifecycle and payment-evidence review.

PURPOSE:
  A Bill aggregates one billing period's charges for a contract: rent, two
  metered utilities (water, power), internet, and a free-form remainder.
  Tenants submit PaymentSlips (bank-transfer evidence) against a bill;
  admins approve or reject them.

KEY CONCEPTS IN THIS FILE (types.go):
  - Bill: the period's charges, total, status, and payment date
  - MeteredCharge: readings + rate + derived amount for one utility
  - PaymentSlip: tenant-submitted evidence with its review outcome

INVARIANTS:
  1. MeteredCharge.Amount always equals MeteredAmount(prev, current, rate)
     after any write that touches a reading or rate.
  2. Bill.TotalAmount always equals the sum of all charge components at the
     time of the last write. Recompute() restores both.
  3. PaidDate is set exactly once, when the bill first becomes paid.

STATE MACHINE:
  unpaid --(tenant submits slip)--> pending_approval --(approve)--> paid
  pending_approval --(reject)--> unpaid
  Decisions are accepted from any state as an idempotent correction tool;
  see ledger.go.

SEE ALSO:
  - calculator.go: metered charge arithmetic
  - ledger.go: bill operations and the decision workflow
  - reviewer.go: slip submission and review
*/
package billing

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// STATUS ENUMS
// =============================================================================

// BillStatus is the payment state of a bill.
type BillStatus string

const (
	BillUnpaid          BillStatus = "unpaid"
	BillPendingApproval BillStatus = "pending_approval"
	BillPaid            BillStatus = "paid"
)

// SlipStatus is the review state of a payment slip.
type SlipStatus string

const (
	SlipPending  SlipStatus = "pending"
	SlipApproved SlipStatus = "approved"
	SlipRejected SlipStatus = "rejected"
)

// Decision is an admin's verdict on a bill's payment evidence.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// ValidDecision reports whether d is a recognized decision value.
func ValidDecision(d Decision) bool {
	return d == DecisionApprove || d == DecisionReject
}

// =============================================================================
// METERED CHARGE - readings + rate + derived amount for one utility
// =============================================================================

type MeteredCharge struct {
	PreviousReading decimal.Decimal
	CurrentReading  decimal.Decimal
	UnitRate        decimal.Decimal
	Amount          decimal.Decimal
}

// Compute recalculates the charge amount from the current readings and rate.
func (m *MeteredCharge) Compute() {
	m.Amount = MeteredAmount(m.PreviousReading, m.CurrentReading, m.UnitRate)
}

// =============================================================================
// BILL - one billing period's aggregated charges for a contract
// =============================================================================

type Bill struct {
	ID           string
	ContractID   string
	BillingMonth string // YYYY-MM

	RentAmount     decimal.Decimal
	Water          MeteredCharge
	Power          MeteredCharge
	InternetAmount decimal.Decimal
	OtherCharges   decimal.Decimal
	TotalAmount    decimal.Decimal

	Status   BillStatus
	DueDate  time.Time
	PaidDate *time.Time // set once, on first approval

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Recompute restores both charge invariants: each metered amount from its
// readings and rate, then the total from all components. Callers persist the
// bill in the same write.
func (b *Bill) Recompute() {
	b.Water.Compute()
	b.Power.Compute()
	b.TotalAmount = b.RentAmount.
		Add(b.Water.Amount).
		Add(b.Power.Amount).
		Add(b.InternetAmount).
		Add(b.OtherCharges).
		Round(2)
}

// =============================================================================
// PAYMENT SLIP - tenant-submitted proof of payment
// =============================================================================

// PaymentSlip references an uploaded file; the upload transport and storage
// live in an external collaborator, so only the reference is kept here.
// A bill may accumulate several slips over time (reject, re-upload); the
// most recently created one is authoritative for review.
type PaymentSlip struct {
	ID              string
	BillID          string
	FileURL         string
	FileName        string
	Notes           string
	Status          SlipStatus
	RejectionReason string
	CreatedAt       time.Time
	ReviewedAt      *time.Time
}
