/*
reviewer.go - Payment slip submission and review

PURPOSE:
  Slip-centric entry points over the BillLedger. Tenants submit evidence of a
  bank transfer; admins review the slip and the ledger applies the decision
  to the underlying bill.

RESOLUTION:
  Review operations are addressed by slip ID and resolve
  slip -> bill -> contract -> tenant before acting. The bill's most recently
  created slip is the authoritative one; deciding an older slip still applies
  the verdict to the bill and to the latest slip.
*/
package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/poiuytgh/leasecore/auth"
)

// SubmitSlipInput is a tenant's payment evidence. The file itself lives in
// external storage; only the reference travels here.
type SubmitSlipInput struct {
	BillID   string
	FileURL  string
	FileName string
	Notes    string
}

// SlipReviewer handles the tenant submission and admin review workflow.
type SlipReviewer struct {
	store  Store
	ledger *BillLedger
	logger *zap.Logger
	now    func() time.Time
}

// NewSlipReviewer creates a reviewer over the same store as the ledger.
func NewSlipReviewer(store Store, ledger *BillLedger, logger *zap.Logger) *SlipReviewer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SlipReviewer{store: store, ledger: ledger, logger: logger, now: time.Now}
}

// WithClock overrides the reviewer's clock. Test hook.
func (r *SlipReviewer) WithClock(now func() time.Time) *SlipReviewer {
	r.now = now
	return r
}

// Submit persists a pending slip and moves the bill to pending_approval.
// The tenant check happens before the slip is written so a stranger's
// submission leaves no trace.
func (r *SlipReviewer) Submit(ctx context.Context, ac auth.Context, in SubmitSlipInput) (*Bill, *PaymentSlip, error) {
	if in.BillID == "" {
		return nil, nil, &ValidationError{Field: "bill_id", Reason: "required"}
	}
	if in.FileURL == "" {
		return nil, nil, &ValidationError{Field: "file_url", Reason: "required"}
	}

	bill, err := r.store.GetBill(ctx, in.BillID)
	if err != nil {
		return nil, nil, fmt.Errorf("loading bill: %w", err)
	}
	if bill == nil {
		return nil, nil, &NotFoundError{Kind: "bill", ID: in.BillID}
	}
	contract, err := r.store.GetContract(ctx, bill.ContractID)
	if err != nil {
		return nil, nil, fmt.Errorf("loading contract: %w", err)
	}
	if contract == nil {
		return nil, nil, &NotFoundError{Kind: "contract", ID: bill.ContractID}
	}
	if !ac.IsTenant(contract.TenantID) {
		return nil, nil, &ForbiddenError{Action: "submit a slip for this bill"}
	}

	slip := PaymentSlip{
		ID:        uuid.NewString(),
		BillID:    bill.ID,
		FileURL:   in.FileURL,
		FileName:  in.FileName,
		Notes:     in.Notes,
		Status:    SlipPending,
		CreatedAt: r.now(),
	}
	if err := r.store.InsertSlip(ctx, slip); err != nil {
		return nil, nil, fmt.Errorf("inserting slip: %w", err)
	}

	bill, err = r.ledger.SubmitForApproval(ctx, ac, bill.ID)
	if err != nil {
		return nil, nil, err
	}

	r.logger.Info("payment slip submitted",
		zap.String("slip_id", slip.ID),
		zap.String("bill_id", bill.ID),
		zap.String("tenant_id", contract.TenantID))
	return bill, &slip, nil
}

// Approve resolves the slip's bill and applies an approval. Admin-only.
func (r *SlipReviewer) Approve(ctx context.Context, ac auth.Context, slipID string) (*Bill, error) {
	return r.decide(ctx, ac, slipID, DecisionApprove, "")
}

// Reject resolves the slip's bill and applies a rejection with the given
// reason. Admin-only.
func (r *SlipReviewer) Reject(ctx context.Context, ac auth.Context, slipID, reason string) (*Bill, error) {
	return r.decide(ctx, ac, slipID, DecisionReject, reason)
}

func (r *SlipReviewer) decide(ctx context.Context, ac auth.Context, slipID string, decision Decision, reason string) (*Bill, error) {
	if !ac.IsAdmin() {
		return nil, &ForbiddenError{Action: "review payment slips"}
	}

	slip, err := r.findSlip(ctx, slipID)
	if err != nil {
		return nil, err
	}
	return r.ledger.Decide(ctx, ac, slip.BillID, decision, reason)
}

func (r *SlipReviewer) findSlip(ctx context.Context, slipID string) (*PaymentSlip, error) {
	slip, err := r.store.GetSlip(ctx, slipID)
	if err != nil {
		return nil, fmt.Errorf("loading slip: %w", err)
	}
	if slip == nil {
		return nil, &NotFoundError{Kind: "slip", ID: slipID}
	}
	return slip, nil
}
