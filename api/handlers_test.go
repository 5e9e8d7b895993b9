package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiuytgh/leasecore/api"
	"github.com/poiuytgh/leasecore/billing"
	"github.com/poiuytgh/leasecore/lease"
	"github.com/poiuytgh/leasecore/notify"
	"github.com/poiuytgh/leasecore/reconcile"
	"github.com/poiuytgh/leasecore/store/sqlite"
)

const schedulerSecret = "test-secret"

// =============================================================================
// TEST SETUP
// =============================================================================

type apiFixture struct {
	store  *sqlite.Store
	router http.Handler
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	store, err := sqlite.New(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	dispatcher := notify.NewDispatcher(store, 24*time.Hour, nil)
	ledger := billing.NewBillLedger(store, dispatcher, nil)
	reviewer := billing.NewSlipReviewer(store, ledger, nil)
	engine := lease.NewStatusEngine(store, 0, nil)
	job := reconcile.NewJob(engine, store, dispatcher, store, 0, nil)

	handler := api.NewHandler(store, ledger, reviewer, job, nil)
	router := api.NewRouter(handler, api.RouterConfig{SchedulerSecret: schedulerSecret})

	require.NoError(t, store.SaveContract(context.Background(), lease.Contract{
		ID:            "contract-1",
		TenantID:      "tenant-1",
		SpaceID:       "space-1",
		RentAmount:    decimal.NewFromInt(3000),
		DepositAmount: decimal.NewFromInt(6000),
		StartDate:     time.Now().UTC().AddDate(-1, 0, 0),
		EndDate:       time.Now().UTC().AddDate(0, 6, 0),
		Status:        lease.ContractActive,
	}))

	return &apiFixture{store: store, router: router}
}

type caller struct {
	id   string
	role string
}

var (
	asAdmin   = caller{id: "admin-1", role: "admin"}
	asTenant  = caller{id: "tenant-1", role: "tenant"}
	asStrange = caller{id: "tenant-2", role: "tenant"}
	anonymous = caller{}
)

func (f *apiFixture) do(t *testing.T, method, path string, c caller, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if c.role != "" {
		req.Header.Set("X-User-ID", c.id)
		req.Header.Set("X-User-Role", c.role)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *apiFixture) createBill(t *testing.T) string {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/bills", asAdmin, map[string]string{
		"contract_id":            "contract-1",
		"billing_month":          "2025-07",
		"rent_amount":            "3000",
		"water_previous_reading": "100",
		"water_current_reading":  "137",
		"water_unit_rate":        "7",
		"power_previous_reading": "1000",
		"power_current_reading":  "1100",
		"power_unit_rate":        "1.50",
		"internet_amount":        "500",
		"due_date":               "2025-08-05",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var dto map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &dto))
	return dto["id"].(string)
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m))
	return m
}

// =============================================================================
// AUTH BOUNDARY TESTS
// =============================================================================

func TestAPI_AnonymousRejected(t *testing.T) {
	f := newAPIFixture(t)
	billID := f.createBill(t)

	rec := f.do(t, http.MethodGet, "/api/bills/"+billID, anonymous, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAPI_TenantCannotCreateBill(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, http.MethodPost, "/api/bills", asTenant, map[string]string{
		"contract_id":            "contract-1",
		"billing_month":          "2025-07",
		"rent_amount":            "3000",
		"water_previous_reading": "0",
		"water_current_reading":  "0",
		"water_unit_rate":        "0",
		"power_previous_reading": "0",
		"power_current_reading":  "0",
		"power_unit_rate":        "0",
		"due_date":               "2025-08-05",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAPI_StrangerCannotSeeBill(t *testing.T) {
	// GIVEN: a bill on tenant-1's contract
	// WHEN: tenant-2 requests it
	// THEN: 403; the owner and an admin both get 200

	f := newAPIFixture(t)
	billID := f.createBill(t)

	assert.Equal(t, http.StatusForbidden, f.do(t, http.MethodGet, "/api/bills/"+billID, asStrange, nil).Code)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/api/bills/"+billID, asTenant, nil).Code)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/api/bills/"+billID, asAdmin, nil).Code)
}

// =============================================================================
// BILL WORKFLOW TESTS
// =============================================================================

func TestAPI_CreateBill_DerivesAmounts(t *testing.T) {
	f := newAPIFixture(t)
	billID := f.createBill(t)

	body := decodeBody(t, f.do(t, http.MethodGet, "/api/bills/"+billID, asAdmin, nil))
	assert.Equal(t, "3909.00", body["total_amount"])
	assert.Equal(t, "unpaid", body["status"])

	water := body["water"].(map[string]any)
	assert.Equal(t, "259.00", water["amount"])
}

func TestAPI_CreateBill_BadDecimal(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, http.MethodPost, "/api/bills", asAdmin, map[string]string{
		"contract_id":            "contract-1",
		"billing_month":          "2025-07",
		"rent_amount":            "three thousand",
		"water_previous_reading": "0",
		"water_current_reading":  "0",
		"water_unit_rate":        "0",
		"power_previous_reading": "0",
		"power_current_reading":  "0",
		"power_unit_rate":        "0",
		"due_date":               "2025-08-05",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_SlipLifecycle(t *testing.T) {
	// GIVEN: an unpaid bill
	// WHEN: the tenant submits a slip and the admin approves it
	// THEN: the bill walks unpaid -> pending_approval -> paid and the tenant
	//       can read and acknowledge the resulting notification

	f := newAPIFixture(t)
	billID := f.createBill(t)

	rec := f.do(t, http.MethodPost, "/api/bills/"+billID+"/slips", asTenant, map[string]string{
		"file_url":  "https://files.example.com/slips/receipt.jpg",
		"file_name": "receipt.jpg",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	submitted := decodeBody(t, rec)
	assert.Equal(t, "pending_approval", submitted["bill"].(map[string]any)["status"])
	slipID := submitted["slip"].(map[string]any)["id"].(string)

	rec = f.do(t, http.MethodPost, "/api/slips/"+slipID+"/approve", asAdmin, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	approved := decodeBody(t, rec)
	assert.Equal(t, "paid", approved["status"])
	assert.NotEmpty(t, approved["paid_date"])

	rec = f.do(t, http.MethodGet, "/api/notifications", asTenant, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var notifications []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &notifications))
	require.Len(t, notifications, 1)
	assert.Equal(t, false, notifications[0]["is_read"])

	noteID := notifications[0]["id"].(string)
	rec = f.do(t, http.MethodPost, "/api/notifications/"+noteID+"/read", asTenant, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/notifications/"+noteID+"/read", asStrange, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code, "another user's notification must look absent")
}

func TestAPI_RejectSlip_CarriesReason(t *testing.T) {
	f := newAPIFixture(t)
	billID := f.createBill(t)

	rec := f.do(t, http.MethodPost, "/api/bills/"+billID+"/slips", asTenant, map[string]string{
		"file_url": "https://files.example.com/slips/receipt.jpg",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	slipID := decodeBody(t, rec)["slip"].(map[string]any)["id"].(string)

	rec = f.do(t, http.MethodPost, "/api/slips/"+slipID+"/reject", asAdmin, map[string]string{
		"reason": "amount does not match",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "unpaid", decodeBody(t, rec)["status"])

	rec = f.do(t, http.MethodGet, "/api/bills/"+billID+"/slips", asTenant, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var slips []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &slips))
	require.Len(t, slips, 1)
	assert.Equal(t, "rejected", slips[0]["status"])
	assert.Equal(t, "amount does not match", slips[0]["rejection_reason"])
}

func TestAPI_ListContractBills(t *testing.T) {
	f := newAPIFixture(t)
	f.createBill(t)

	rec := f.do(t, http.MethodGet, "/api/contracts/contract-1/bills", asTenant, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var bills []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &bills))
	assert.Len(t, bills, 1)

	assert.Equal(t, http.StatusForbidden,
		f.do(t, http.MethodGet, "/api/contracts/contract-1/bills", asStrange, nil).Code)
}

// =============================================================================
// JOB TRIGGER TESTS
// =============================================================================

func TestAPI_DailyJob_SecretRequired(t *testing.T) {
	f := newAPIFixture(t)

	// No secret header
	rec := f.do(t, http.MethodPost, "/api/jobs/daily", anonymous, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Wrong secret
	req := httptest.NewRequest(http.MethodPost, "/api/jobs/daily", nil)
	req.Header.Set("X-Scheduler-Secret", "wrong")
	wrong := httptest.NewRecorder()
	f.router.ServeHTTP(wrong, req)
	assert.Equal(t, http.StatusUnauthorized, wrong.Code)
}

func TestAPI_DailyJob_RunsWithSecret(t *testing.T) {
	f := newAPIFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/api/jobs/daily", nil)
	req.Header.Set("X-Scheduler-Secret", schedulerSecret)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	assert.Equal(t, "completed", body["status"])
}
