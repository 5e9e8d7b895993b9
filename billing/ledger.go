/*
ledger.go - Bill operations and the payment decision workflow

PURPOSE:
  BillLedger owns every write to a bill: creation, admin edits, the tenant's
  submit-for-approval transition, and the admin approve/reject decision.

DECISION SEMANTICS:
  approve: status=paid, paid_date set only if currently unset
  reject:  status=unpaid, paid_date cleared
  Both update the bill's latest slip and emit one notice to the tenant.
  Decisions are accepted from any state. Approving an already-paid bill is a
  no-op that leaves paid_date untouched; rejecting a paid bill un-pays it.
  The latter is a deliberate correction tool for admins, not an oversight.

ATOMICITY:
  The bill write and the slip write of one decision share a database
  transaction (Store.WithTx). The notification insert happens after commit:
  a crash in between leaves an updated bill with no notice, which is the
  accepted at-least-once-update / best-effort-notify trade.

CONCURRENCY:
  Two concurrent approvals of the same bill both succeed; paid_date
  assignment is set-if-null, never an unconditional overwrite.

SEE ALSO:
  - types.go: Bill, PaymentSlip, status machines
  - reviewer.go: slip-centric entry points over this ledger
*/
package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/poiuytgh/leasecore/auth"
	"github.com/poiuytgh/leasecore/lease"
	"github.com/poiuytgh/leasecore/notify"
)

// MaxReasonLength caps the free-form rejection reason.
const MaxReasonLength = 500

// Store is the persistence surface the ledger needs. WithTx runs fn against
// a transaction-scoped Store and commits iff fn returns nil.
type Store interface {
	GetContract(ctx context.Context, id string) (*lease.Contract, error)

	GetBill(ctx context.Context, id string) (*Bill, error)
	InsertBill(ctx context.Context, b Bill) error
	UpdateBill(ctx context.Context, b Bill) error

	InsertSlip(ctx context.Context, s PaymentSlip) error
	UpdateSlip(ctx context.Context, s PaymentSlip) error
	GetSlip(ctx context.Context, id string) (*PaymentSlip, error)
	LatestSlip(ctx context.Context, billID string) (*PaymentSlip, error)
	ListSlips(ctx context.Context, billID string) ([]PaymentSlip, error)

	WithTx(ctx context.Context, fn func(Store) error) error
}

// Notifier emits tenant-facing notices. Satisfied by *notify.Dispatcher.
type Notifier interface {
	Notify(ctx context.Context, userID string, typ notify.Type, relatedID, title, message string) (bool, error)
}

// BillLedger coordinates bill state, slip review outcomes, and notices.
type BillLedger struct {
	store    Store
	notifier Notifier
	logger   *zap.Logger
	now      func() time.Time
}

// NewBillLedger creates a ledger over the given store and notifier.
func NewBillLedger(store Store, notifier Notifier, logger *zap.Logger) *BillLedger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BillLedger{store: store, notifier: notifier, logger: logger, now: time.Now}
}

// WithClock overrides the ledger's clock. Test hook.
func (l *BillLedger) WithClock(now func() time.Time) *BillLedger {
	l.now = now
	return l
}

// =============================================================================
// CREATE
// =============================================================================

// CreateBillInput carries every charge field for a new bill. Amounts for the
// metered utilities are derived, never supplied.
type CreateBillInput struct {
	ContractID   string
	BillingMonth string // YYYY-MM
	RentAmount   decimal.Decimal

	WaterPreviousReading decimal.Decimal
	WaterCurrentReading  decimal.Decimal
	WaterUnitRate        decimal.Decimal

	PowerPreviousReading decimal.Decimal
	PowerCurrentReading  decimal.Decimal
	PowerUnitRate        decimal.Decimal

	InternetAmount decimal.Decimal
	OtherCharges   decimal.Decimal

	DueDate time.Time
}

// Create computes all derived amounts and persists a new unpaid bill.
// Admin-only.
func (l *BillLedger) Create(ctx context.Context, ac auth.Context, in CreateBillInput) (*Bill, error) {
	if !ac.IsAdmin() {
		return nil, &ForbiddenError{Action: "create bill"}
	}
	if in.BillingMonth == "" {
		return nil, &ValidationError{Field: "billing_month", Reason: "required"}
	}
	if in.DueDate.IsZero() {
		return nil, &ValidationError{Field: "due_date", Reason: "required"}
	}

	contract, err := l.store.GetContract(ctx, in.ContractID)
	if err != nil {
		return nil, fmt.Errorf("loading contract: %w", err)
	}
	if contract == nil {
		return nil, &ValidationError{Field: "contract_id", Reason: "unknown contract"}
	}

	now := l.now()
	bill := Bill{
		ID:           uuid.NewString(),
		ContractID:   in.ContractID,
		BillingMonth: in.BillingMonth,
		RentAmount:   in.RentAmount,
		Water: MeteredCharge{
			PreviousReading: in.WaterPreviousReading,
			CurrentReading:  in.WaterCurrentReading,
			UnitRate:        in.WaterUnitRate,
		},
		Power: MeteredCharge{
			PreviousReading: in.PowerPreviousReading,
			CurrentReading:  in.PowerCurrentReading,
			UnitRate:        in.PowerUnitRate,
		},
		InternetAmount: in.InternetAmount,
		OtherCharges:   in.OtherCharges,
		Status:         BillUnpaid,
		DueDate:        in.DueDate,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	bill.Recompute()

	if err := l.store.InsertBill(ctx, bill); err != nil {
		return nil, fmt.Errorf("inserting bill: %w", err)
	}

	l.logger.Info("bill created",
		zap.String("bill_id", bill.ID),
		zap.String("contract_id", bill.ContractID),
		zap.String("billing_month", bill.BillingMonth),
		zap.String("total", bill.TotalAmount.StringFixed(2)))
	return &bill, nil
}

// =============================================================================
// UPDATE
// =============================================================================

// BillPatch is a partial admin edit. Nil fields are left unchanged. Touching
// any charge field triggers a recompute of the dependent amount and the total
// within the same write.
type BillPatch struct {
	RentAmount *decimal.Decimal

	WaterPreviousReading *decimal.Decimal
	WaterCurrentReading  *decimal.Decimal
	WaterUnitRate        *decimal.Decimal

	PowerPreviousReading *decimal.Decimal
	PowerCurrentReading  *decimal.Decimal
	PowerUnitRate        *decimal.Decimal

	InternetAmount *decimal.Decimal
	OtherCharges   *decimal.Decimal

	DueDate *time.Time

	// Status is the manual override path: the one way a bill may reach paid
	// without passing through pending_approval.
	Status *BillStatus
}

// Update applies a partial edit and restores the charge invariants. Admin-only.
func (l *BillLedger) Update(ctx context.Context, ac auth.Context, billID string, patch BillPatch) (*Bill, error) {
	if !ac.IsAdmin() {
		return nil, &ForbiddenError{Action: "update bill"}
	}

	bill, err := l.store.GetBill(ctx, billID)
	if err != nil {
		return nil, fmt.Errorf("loading bill: %w", err)
	}
	if bill == nil {
		return nil, &NotFoundError{Kind: "bill", ID: billID}
	}

	applyDecimal := func(dst *decimal.Decimal, src *decimal.Decimal) {
		if src != nil {
			*dst = *src
		}
	}
	applyDecimal(&bill.RentAmount, patch.RentAmount)
	applyDecimal(&bill.Water.PreviousReading, patch.WaterPreviousReading)
	applyDecimal(&bill.Water.CurrentReading, patch.WaterCurrentReading)
	applyDecimal(&bill.Water.UnitRate, patch.WaterUnitRate)
	applyDecimal(&bill.Power.PreviousReading, patch.PowerPreviousReading)
	applyDecimal(&bill.Power.CurrentReading, patch.PowerCurrentReading)
	applyDecimal(&bill.Power.UnitRate, patch.PowerUnitRate)
	applyDecimal(&bill.InternetAmount, patch.InternetAmount)
	applyDecimal(&bill.OtherCharges, patch.OtherCharges)

	if patch.DueDate != nil {
		bill.DueDate = *patch.DueDate
	}
	if patch.Status != nil {
		bill.Status = *patch.Status
		switch *patch.Status {
		case BillPaid:
			if bill.PaidDate == nil {
				t := l.now()
				bill.PaidDate = &t
			}
		case BillUnpaid:
			bill.PaidDate = nil
		}
	}

	bill.Recompute()
	bill.UpdatedAt = l.now()

	if err := l.store.UpdateBill(ctx, *bill); err != nil {
		return nil, fmt.Errorf("updating bill: %w", err)
	}

	l.logger.Info("bill updated",
		zap.String("bill_id", bill.ID),
		zap.String("total", bill.TotalAmount.StringFixed(2)))
	return bill, nil
}

// =============================================================================
// SUBMIT FOR APPROVAL
// =============================================================================

// SubmitForApproval moves an unpaid bill to pending_approval on behalf of the
// contract's tenant. Idempotent: re-invocation while unpaid or already
// pending transitions (or keeps) pending_approval; invocation on a paid bill
// is a no-op.
func (l *BillLedger) SubmitForApproval(ctx context.Context, ac auth.Context, billID string) (*Bill, error) {
	bill, err := l.store.GetBill(ctx, billID)
	if err != nil {
		return nil, fmt.Errorf("loading bill: %w", err)
	}
	if bill == nil {
		return nil, &NotFoundError{Kind: "bill", ID: billID}
	}

	contract, err := l.store.GetContract(ctx, bill.ContractID)
	if err != nil {
		return nil, fmt.Errorf("loading contract: %w", err)
	}
	if contract == nil {
		return nil, &NotFoundError{Kind: "contract", ID: bill.ContractID}
	}
	if !ac.IsTenant(contract.TenantID) {
		return nil, &ForbiddenError{Action: "submit payment for this bill"}
	}

	if bill.Status == BillPaid {
		return bill, nil
	}
	if bill.Status == BillPendingApproval {
		return bill, nil
	}

	bill.Status = BillPendingApproval
	bill.UpdatedAt = l.now()
	if err := l.store.UpdateBill(ctx, *bill); err != nil {
		return nil, fmt.Errorf("updating bill: %w", err)
	}

	l.logger.Info("bill awaiting approval",
		zap.String("bill_id", bill.ID),
		zap.String("tenant_id", contract.TenantID))
	return bill, nil
}

// =============================================================================
// DECIDE
// =============================================================================

// Decide applies an admin verdict to a bill and its latest slip, then
// notifies the tenant. See the file header for the exact semantics.
func (l *BillLedger) Decide(ctx context.Context, ac auth.Context, billID string, decision Decision, reason string) (*Bill, error) {
	if !ac.IsAdmin() {
		return nil, &ForbiddenError{Action: "decide bill payment"}
	}
	if !ValidDecision(decision) {
		return nil, &ValidationError{Field: "decision", Reason: "must be approve or reject"}
	}
	if len(reason) > MaxReasonLength {
		return nil, &ValidationError{Field: "reason", Reason: "exceeds 500 characters"}
	}

	bill, err := l.store.GetBill(ctx, billID)
	if err != nil {
		return nil, fmt.Errorf("loading bill: %w", err)
	}
	if bill == nil {
		return nil, &NotFoundError{Kind: "bill", ID: billID}
	}

	contract, err := l.store.GetContract(ctx, bill.ContractID)
	if err != nil {
		return nil, fmt.Errorf("loading contract: %w", err)
	}
	if contract == nil {
		return nil, &NotFoundError{Kind: "contract", ID: bill.ContractID}
	}

	now := l.now()

	// Bill and slip change together or not at all.
	err = l.store.WithTx(ctx, func(tx Store) error {
		switch decision {
		case DecisionApprove:
			bill.Status = BillPaid
			if bill.PaidDate == nil {
				bill.PaidDate = &now
			}
		case DecisionReject:
			bill.Status = BillUnpaid
			bill.PaidDate = nil
		}
		bill.UpdatedAt = now
		if err := tx.UpdateBill(ctx, *bill); err != nil {
			return fmt.Errorf("updating bill: %w", err)
		}

		slip, err := tx.LatestSlip(ctx, bill.ID)
		if err != nil {
			return fmt.Errorf("loading latest slip: %w", err)
		}
		if slip != nil {
			switch decision {
			case DecisionApprove:
				slip.Status = SlipApproved
				slip.RejectionReason = ""
			case DecisionReject:
				slip.Status = SlipRejected
				slip.RejectionReason = reason
			}
			slip.ReviewedAt = &now
			if err := tx.UpdateSlip(ctx, *slip); err != nil {
				return fmt.Errorf("updating slip: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	title, message := decisionNotice(decision, bill.BillingMonth, reason)
	if _, err := l.notifier.Notify(ctx, contract.TenantID, notify.TypeBill, bill.ID, title, message); err != nil {
		// Bill state is already committed; a lost notice is tolerated.
		l.logger.Warn("decision notice failed",
			zap.String("bill_id", bill.ID),
			zap.Error(err))
	}

	l.logger.Info("bill decided",
		zap.String("bill_id", bill.ID),
		zap.String("decision", string(decision)),
		zap.String("status", string(bill.Status)))
	return bill, nil
}

func decisionNotice(decision Decision, billingMonth, reason string) (title, message string) {
	if decision == DecisionApprove {
		return "Payment confirmed",
			fmt.Sprintf("Your payment for the %s bill has been confirmed.", billingMonth)
	}
	message = fmt.Sprintf("Your payment evidence for the %s bill was rejected.", billingMonth)
	if reason != "" {
		message += " Reason: " + reason
	}
	return "Payment rejected", message
}
