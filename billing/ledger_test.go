package billing_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiuytgh/leasecore/auth"
	"github.com/poiuytgh/leasecore/billing"
	"github.com/poiuytgh/leasecore/lease"
	"github.com/poiuytgh/leasecore/notify"
	"github.com/poiuytgh/leasecore/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var (
	adminCtx  = auth.Context{Role: auth.RoleAdmin, SubjectID: "admin-1"}
	tenantCtx = auth.Context{Role: auth.RoleTenant, SubjectID: "tenant-1"}
	otherCtx  = auth.Context{Role: auth.RoleTenant, SubjectID: "tenant-2"}
)

type ledgerFixture struct {
	store    *sqlite.Store
	ledger   *billing.BillLedger
	reviewer *billing.SlipReviewer
}

func newLedgerFixture(t *testing.T) *ledgerFixture {
	t.Helper()

	store, err := sqlite.New(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	dispatcher := notify.NewDispatcher(store, 0, nil)
	ledger := billing.NewBillLedger(store, dispatcher, nil)
	reviewer := billing.NewSlipReviewer(store, ledger, nil)

	require.NoError(t, store.SaveContract(context.Background(), lease.Contract{
		ID:            "contract-1",
		TenantID:      "tenant-1",
		SpaceID:       "space-1",
		RentAmount:    dec("3000"),
		DepositAmount: dec("6000"),
		StartDate:     time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC),
		EndDate:       time.Date(2026, time.December, 31, 0, 0, 0, 0, time.UTC),
		Status:        lease.ContractActive,
	}))

	return &ledgerFixture{store: store, ledger: ledger, reviewer: reviewer}
}

func (f *ledgerFixture) createBill(t *testing.T) *billing.Bill {
	t.Helper()
	bill, err := f.ledger.Create(context.Background(), adminCtx, billing.CreateBillInput{
		ContractID:           "contract-1",
		BillingMonth:         "2025-07",
		RentAmount:           dec("3000"),
		WaterPreviousReading: dec("100"),
		WaterCurrentReading:  dec("137"),
		WaterUnitRate:        dec("7"),
		PowerPreviousReading: dec("1000"),
		PowerCurrentReading:  dec("1100"),
		PowerUnitRate:        dec("1.50"),
		InternetAmount:       dec("500"),
		OtherCharges:         dec("0"),
		DueDate:              time.Date(2025, time.August, 5, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	return bill
}

func (f *ledgerFixture) submitSlip(t *testing.T, billID string) *billing.PaymentSlip {
	t.Helper()
	_, slip, err := f.reviewer.Submit(context.Background(), tenantCtx, billing.SubmitSlipInput{
		BillID:  billID,
		FileURL: "https://files.example.com/slips/receipt.jpg",
	})
	require.NoError(t, err)
	return slip
}

func (f *ledgerFixture) notificationCount(t *testing.T, userID string) int {
	t.Helper()
	ns, err := f.store.ListNotifications(context.Background(), userID)
	require.NoError(t, err)
	return len(ns)
}

// =============================================================================
// CREATE TESTS
// =============================================================================

func TestCreate_ComputesDerivedAmounts(t *testing.T) {
	// GIVEN: an admin creating a bill with readings and rates
	// WHEN: the bill is created
	// THEN: metered amounts and the total are derived, status is unpaid

	f := newLedgerFixture(t)
	bill := f.createBill(t)

	assert.True(t, bill.Water.Amount.Equal(dec("259.00")), "water %s", bill.Water.Amount)
	assert.True(t, bill.Power.Amount.Equal(dec("150.00")), "power %s", bill.Power.Amount)
	assert.True(t, bill.TotalAmount.Equal(dec("3909.00")), "total %s", bill.TotalAmount)
	assert.Equal(t, billing.BillUnpaid, bill.Status)
	assert.Nil(t, bill.PaidDate)

	// Persisted copy matches
	stored, err := f.store.GetBill(context.Background(), bill.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.True(t, stored.TotalAmount.Equal(dec("3909.00")))
}

func TestCreate_TenantForbidden(t *testing.T) {
	// GIVEN: a tenant caller
	// WHEN: attempting to create a bill
	// THEN: forbidden

	f := newLedgerFixture(t)
	_, err := f.ledger.Create(context.Background(), tenantCtx, billing.CreateBillInput{
		ContractID:   "contract-1",
		BillingMonth: "2025-07",
		DueDate:      time.Now(),
	})
	assert.ErrorIs(t, err, billing.ErrForbidden)
}

func TestCreate_MissingBillingMonth(t *testing.T) {
	f := newLedgerFixture(t)
	_, err := f.ledger.Create(context.Background(), adminCtx, billing.CreateBillInput{
		ContractID: "contract-1",
		DueDate:    time.Now(),
	})
	assert.ErrorIs(t, err, billing.ErrValidation)
}

func TestCreate_UnknownContract(t *testing.T) {
	f := newLedgerFixture(t)
	_, err := f.ledger.Create(context.Background(), adminCtx, billing.CreateBillInput{
		ContractID:   "no-such-contract",
		BillingMonth: "2025-07",
		DueDate:      time.Now(),
	})
	assert.ErrorIs(t, err, billing.ErrValidation)
}

// =============================================================================
// UPDATE TESTS
// =============================================================================

func TestUpdate_ReadingChangeRecomputes(t *testing.T) {
	// GIVEN: an existing bill with water usage 37@7
	// WHEN: an admin corrects the current reading to 150
	// THEN: water amount and total are recomputed in the same write

	f := newLedgerFixture(t)
	bill := f.createBill(t)

	newReading := dec("150")
	updated, err := f.ledger.Update(context.Background(), adminCtx, bill.ID, billing.BillPatch{
		WaterCurrentReading: &newReading,
	})
	require.NoError(t, err)

	// 50 units * 7 = 350; total moves by +91
	assert.True(t, updated.Water.Amount.Equal(dec("350.00")), "water %s", updated.Water.Amount)
	assert.True(t, updated.TotalAmount.Equal(dec("4000.00")), "total %s", updated.TotalAmount)
}

func TestUpdate_ManualStatusOverride(t *testing.T) {
	// GIVEN: an unpaid bill settled in cash at the office
	// WHEN: an admin sets status=paid directly
	// THEN: the bill is paid with a paid date, bypassing the slip workflow

	f := newLedgerFixture(t)
	bill := f.createBill(t)

	paid := billing.BillPaid
	updated, err := f.ledger.Update(context.Background(), adminCtx, bill.ID, billing.BillPatch{
		Status: &paid,
	})
	require.NoError(t, err)
	assert.Equal(t, billing.BillPaid, updated.Status)
	require.NotNil(t, updated.PaidDate)
}

func TestUpdate_TenantForbidden(t *testing.T) {
	f := newLedgerFixture(t)
	bill := f.createBill(t)

	_, err := f.ledger.Update(context.Background(), tenantCtx, bill.ID, billing.BillPatch{})
	assert.ErrorIs(t, err, billing.ErrForbidden)
}

// =============================================================================
// SUBMISSION TESTS
// =============================================================================

func TestSubmit_MovesBillToPendingApproval(t *testing.T) {
	// GIVEN: an unpaid bill for tenant-1
	// WHEN: the tenant submits a payment slip
	// THEN: the slip is stored pending and the bill moves to pending_approval

	f := newLedgerFixture(t)
	bill := f.createBill(t)

	updated, slip, err := f.reviewer.Submit(context.Background(), tenantCtx, billing.SubmitSlipInput{
		BillID:   bill.ID,
		FileURL:  "https://files.example.com/slips/receipt.jpg",
		FileName: "receipt.jpg",
		Notes:    "transferred this morning",
	})
	require.NoError(t, err)

	assert.Equal(t, billing.BillPendingApproval, updated.Status)
	assert.Equal(t, billing.SlipPending, slip.Status)
	assert.Equal(t, bill.ID, slip.BillID)
}

func TestSubmit_StrangerLeavesNoTrace(t *testing.T) {
	// GIVEN: a bill belonging to tenant-1
	// WHEN: tenant-2 tries to submit a slip for it
	// THEN: forbidden, and no slip row was written

	f := newLedgerFixture(t)
	bill := f.createBill(t)

	_, _, err := f.reviewer.Submit(context.Background(), otherCtx, billing.SubmitSlipInput{
		BillID:  bill.ID,
		FileURL: "https://files.example.com/slips/fake.jpg",
	})
	assert.ErrorIs(t, err, billing.ErrForbidden)

	slips, err := f.store.ListSlips(context.Background(), bill.ID)
	require.NoError(t, err)
	assert.Empty(t, slips, "rejected submission must not persist a slip")
}

func TestSubmit_OnPaidBill_NoOp(t *testing.T) {
	// GIVEN: a bill already paid
	// WHEN: the tenant submits again
	// THEN: the bill stays paid

	f := newLedgerFixture(t)
	bill := f.createBill(t)
	slip := f.submitSlip(t, bill.ID)
	_, err := f.reviewer.Approve(context.Background(), adminCtx, slip.ID)
	require.NoError(t, err)

	updated, _, err := f.reviewer.Submit(context.Background(), tenantCtx, billing.SubmitSlipInput{
		BillID:  bill.ID,
		FileURL: "https://files.example.com/slips/again.jpg",
	})
	require.NoError(t, err)
	assert.Equal(t, billing.BillPaid, updated.Status)
}

// =============================================================================
// DECISION TESTS
// =============================================================================

func TestApprove_MarksPaidAndReviewsSlip(t *testing.T) {
	// GIVEN: a pending_approval bill with a pending slip
	// WHEN: an admin approves
	// THEN: bill=paid with paid_date, slip=approved, tenant notified once

	f := newLedgerFixture(t)
	bill := f.createBill(t)
	slip := f.submitSlip(t, bill.ID)

	decided, err := f.reviewer.Approve(context.Background(), adminCtx, slip.ID)
	require.NoError(t, err)

	assert.Equal(t, billing.BillPaid, decided.Status)
	require.NotNil(t, decided.PaidDate)

	storedSlip, err := f.store.GetSlip(context.Background(), slip.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.SlipApproved, storedSlip.Status)
	require.NotNil(t, storedSlip.ReviewedAt)

	assert.Equal(t, 1, f.notificationCount(t, "tenant-1"))
}

func TestApprove_Twice_Idempotent(t *testing.T) {
	// GIVEN: a bill approved at time t1
	// WHEN: approving it again later
	// THEN: still paid, paid_date unchanged, no duplicate notification

	f := newLedgerFixture(t)

	t1 := time.Date(2025, time.August, 1, 10, 0, 0, 0, time.UTC)
	clock := t1
	f.ledger.WithClock(func() time.Time { return clock })

	bill := f.createBill(t)
	slip := f.submitSlip(t, bill.ID)

	first, err := f.reviewer.Approve(context.Background(), adminCtx, slip.ID)
	require.NoError(t, err)
	require.NotNil(t, first.PaidDate)

	clock = t1.Add(2 * time.Hour)
	second, err := f.reviewer.Approve(context.Background(), adminCtx, slip.ID)
	require.NoError(t, err)

	assert.Equal(t, billing.BillPaid, second.Status)
	require.NotNil(t, second.PaidDate)
	assert.True(t, second.PaidDate.Equal(*first.PaidDate), "paid_date must not move on re-approval")

	// Second decision notice lands inside the dedup window
	assert.Equal(t, 1, f.notificationCount(t, "tenant-1"))
}

func TestReject_ReturnsBillToUnpaid(t *testing.T) {
	// GIVEN: a pending_approval bill with a pending slip
	// WHEN: an admin rejects with a reason
	// THEN: bill=unpaid with no paid_date, slip=rejected carrying the reason

	f := newLedgerFixture(t)
	bill := f.createBill(t)
	slip := f.submitSlip(t, bill.ID)

	decided, err := f.reviewer.Reject(context.Background(), adminCtx, slip.ID, "amount does not match")
	require.NoError(t, err)

	assert.Equal(t, billing.BillUnpaid, decided.Status)
	assert.Nil(t, decided.PaidDate)

	storedSlip, err := f.store.GetSlip(context.Background(), slip.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.SlipRejected, storedSlip.Status)
	assert.Equal(t, "amount does not match", storedSlip.RejectionReason)

	assert.Equal(t, 1, f.notificationCount(t, "tenant-1"))
}

func TestReject_FromPaid_CorrectionPath(t *testing.T) {
	// GIVEN: a bill mistakenly approved
	// WHEN: an admin rejects it afterwards
	// THEN: the bill returns to unpaid and paid_date is cleared

	f := newLedgerFixture(t)
	bill := f.createBill(t)
	slip := f.submitSlip(t, bill.ID)

	_, err := f.reviewer.Approve(context.Background(), adminCtx, slip.ID)
	require.NoError(t, err)

	decided, err := f.reviewer.Reject(context.Background(), adminCtx, slip.ID, "approved by mistake")
	require.NoError(t, err)

	assert.Equal(t, billing.BillUnpaid, decided.Status)
	assert.Nil(t, decided.PaidDate)
}

func TestDecide_ReasonTooLong(t *testing.T) {
	f := newLedgerFixture(t)
	bill := f.createBill(t)
	slip := f.submitSlip(t, bill.ID)

	_, err := f.reviewer.Reject(context.Background(), adminCtx, slip.ID,
		strings.Repeat("x", billing.MaxReasonLength+1))
	assert.ErrorIs(t, err, billing.ErrValidation)

	// Bill untouched
	stored, err := f.store.GetBill(context.Background(), bill.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.BillPendingApproval, stored.Status)
}

func TestDecide_TenantForbidden(t *testing.T) {
	f := newLedgerFixture(t)
	bill := f.createBill(t)
	slip := f.submitSlip(t, bill.ID)

	_, err := f.reviewer.Approve(context.Background(), tenantCtx, slip.ID)
	assert.ErrorIs(t, err, billing.ErrForbidden)
}

func TestDecide_LatestSlipIsAuthoritative(t *testing.T) {
	// GIVEN: a bill with a rejected first slip and a pending second slip
	// WHEN: the admin approves (addressed via the first slip's ID)
	// THEN: the verdict applies to the bill and the latest slip

	f := newLedgerFixture(t)
	bill := f.createBill(t)

	base := time.Date(2025, time.August, 1, 9, 0, 0, 0, time.UTC)
	clock := base
	f.reviewer.WithClock(func() time.Time { return clock })

	first := f.submitSlip(t, bill.ID)
	_, err := f.reviewer.Reject(context.Background(), adminCtx, first.ID, "blurry photo")
	require.NoError(t, err)

	clock = base.Add(time.Hour)
	second := f.submitSlip(t, bill.ID)

	_, err = f.reviewer.Approve(context.Background(), adminCtx, first.ID)
	require.NoError(t, err)

	latest, err := f.store.GetSlip(context.Background(), second.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.SlipApproved, latest.Status)
}
