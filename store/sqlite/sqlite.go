/*
Package sqlite provides the SQLite-backed implementation of the storage
interfaces.

PURPOSE:
  Implements every persistence surface of the billing core (billing.Store,
  lease.ContractStore, notify.Store, reconcile.RunStore/NoticeSource) over
  database/sql. In production, the same patterns apply to PostgreSQL - only
  minor SQL dialect differences.

KEY TABLES:
  contracts:      tenancy agreements and their lifecycle status
  bills:          one row per billing period, charges stored as decimal text
  payment_slips:  tenant evidence; the newest row per bill is authoritative
  notifications:  user notices; is_read is the only mutable column
  job_runs:       daily reconciliation run records (overlap guard)

DECIMALS AND DATES:
  Monetary values and meter readings are stored as canonical decimal strings,
  never floats. Date-only columns use YYYY-MM-DD (lexicographically ordered);
  timestamps use RFC3339 in UTC.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

UNIT OF WORK:
  WithTx exposes a transaction-scoped billing.Store so a bill update and its
  slip update commit together.

USAGE:
  store, err := sqlite.New("./data/leasecore.db", logger)
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper migration
  tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - billing/ledger.go: the main consumer of WithTx
  - reconcile/job.go: run records and notice read models
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/poiuytgh/leasecore/billing"
	"github.com/poiuytgh/leasecore/lease"
	"github.com/poiuytgh/leasecore/notify"
	"github.com/poiuytgh/leasecore/reconcile"
)

const (
	dateLayout = "2006-01-02"

	// A run still marked running after this long is treated as crashed and
	// no longer blocks new acquisitions.
	staleRunAfter = time.Hour
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// dbtx is the common surface of *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New creates a SQLite store at the given path. Use ":memory:" for tests.
func New(dbPath string, logger *zap.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	store := &Store{db: db, logger: logger}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS contracts (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		space_id TEXT NOT NULL,
		rent_amount TEXT NOT NULL,
		deposit_amount TEXT NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		status TEXT NOT NULL,
		terms TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_contracts_tenant ON contracts(tenant_id);
	-- Hot path for the status engine and expiring-notice reads
	CREATE INDEX IF NOT EXISTS idx_contracts_status_end ON contracts(status, end_date);

	CREATE TABLE IF NOT EXISTS bills (
		id TEXT PRIMARY KEY,
		contract_id TEXT NOT NULL REFERENCES contracts(id),
		billing_month TEXT NOT NULL,
		rent_amount TEXT NOT NULL,
		water_previous_reading TEXT NOT NULL,
		water_current_reading TEXT NOT NULL,
		water_unit_rate TEXT NOT NULL,
		water_amount TEXT NOT NULL,
		power_previous_reading TEXT NOT NULL,
		power_current_reading TEXT NOT NULL,
		power_unit_rate TEXT NOT NULL,
		power_amount TEXT NOT NULL,
		internet_amount TEXT NOT NULL,
		other_charges TEXT NOT NULL,
		total_amount TEXT NOT NULL,
		status TEXT NOT NULL,
		due_date TEXT NOT NULL,
		paid_date TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_bills_contract ON bills(contract_id);
	-- Overdue scan
	CREATE INDEX IF NOT EXISTS idx_bills_status_due ON bills(status, due_date);

	CREATE TABLE IF NOT EXISTS payment_slips (
		id TEXT PRIMARY KEY,
		bill_id TEXT NOT NULL REFERENCES bills(id),
		file_url TEXT NOT NULL,
		file_name TEXT,
		notes TEXT,
		status TEXT NOT NULL,
		rejection_reason TEXT,
		created_at TEXT NOT NULL,
		reviewed_at TEXT
	);

	-- Latest-slip resolution
	CREATE INDEX IF NOT EXISTS idx_slips_bill_created ON payment_slips(bill_id, created_at DESC);

	CREATE TABLE IF NOT EXISTS notifications (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		title TEXT NOT NULL,
		message TEXT NOT NULL,
		type TEXT NOT NULL,
		related_id TEXT NOT NULL,
		is_read BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TEXT NOT NULL
	);

	-- Dedup window lookup
	CREATE INDEX IF NOT EXISTS idx_notifications_dedup
		ON notifications(user_id, type, related_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_notifications_user ON notifications(user_id, created_at DESC);

	CREATE TABLE IF NOT EXISTS job_runs (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		started_at TEXT NOT NULL,
		completed_at TEXT,
		error TEXT,
		contracts_expiring INTEGER NOT NULL DEFAULT 0,
		contracts_expired INTEGER NOT NULL DEFAULT 0,
		notices_sent INTEGER NOT NULL DEFAULT 0,
		notices_skipped INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_job_runs_status ON job_runs(status, started_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// CONTRACT STORE
// =============================================================================

// SaveContract inserts or updates a contract.
func (s *Store) SaveContract(ctx context.Context, c lease.Contract) error {
	now := time.Now().UTC().Format(time.RFC3339)
	createdAt := now
	if !c.CreatedAt.IsZero() {
		createdAt = c.CreatedAt.UTC().Format(time.RFC3339)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO contracts
		(id, tenant_id, space_id, rent_amount, deposit_amount, start_date, end_date, status, terms, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			tenant_id = excluded.tenant_id,
			space_id = excluded.space_id,
			rent_amount = excluded.rent_amount,
			deposit_amount = excluded.deposit_amount,
			start_date = excluded.start_date,
			end_date = excluded.end_date,
			status = excluded.status,
			terms = excluded.terms,
			updated_at = excluded.updated_at`,
		c.ID, c.TenantID, c.SpaceID,
		c.RentAmount.String(), c.DepositAmount.String(),
		c.StartDate.Format(dateLayout), c.EndDate.Format(dateLayout),
		c.Status, nullString(c.Terms), createdAt, now,
	)
	if err != nil {
		return fmt.Errorf("failed to save contract: %w", err)
	}
	return nil
}

// GetContract retrieves a contract by ID. Returns (nil, nil) when absent.
func (s *Store) GetContract(ctx context.Context, id string) (*lease.Contract, error) {
	return getContract(ctx, s.db, id)
}

const contractColumns = `id, tenant_id, space_id, rent_amount, deposit_amount,
	start_date, end_date, status, terms, created_at, updated_at`

func getContract(ctx context.Context, q dbtx, id string) (*lease.Contract, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+contractColumns+` FROM contracts WHERE id = ?`, id)

	c, err := scanContract(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// rowScanner lets the scan helpers work for both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanContract(row rowScanner) (*lease.Contract, error) {
	var (
		c                    lease.Contract
		rent, deposit        string
		startDate, endDate   string
		terms                sql.NullString
		createdAt, updatedAt string
	)
	err := row.Scan(&c.ID, &c.TenantID, &c.SpaceID, &rent, &deposit,
		&startDate, &endDate, &c.Status, &terms, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	c.RentAmount = mustDecimal(rent)
	c.DepositAmount = mustDecimal(deposit)
	c.StartDate, _ = time.Parse(dateLayout, startDate)
	c.EndDate, _ = time.Parse(dateLayout, endDate)
	c.Terms = terms.String
	c.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	c.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &c, nil
}

// ListDateManaged returns the contracts the status engine may touch.
// Cancelled and expired contracts are excluded at the query level.
func (s *Store) ListDateManaged(ctx context.Context) ([]lease.Contract, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+contractColumns+` FROM contracts
		 WHERE status IN (?, ?)
		 ORDER BY end_date ASC`,
		lease.ContractActive, lease.ContractExpiring)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectContracts(rows)
}

func collectContracts(rows *sql.Rows) ([]lease.Contract, error) {
	var contracts []lease.Contract
	for rows.Next() {
		c, err := scanContract(rows)
		if err != nil {
			return nil, err
		}
		contracts = append(contracts, *c)
	}
	return contracts, rows.Err()
}

// UpdateContractStatus sets one contract's status.
func (s *Store) UpdateContractStatus(ctx context.Context, id string, status lease.ContractStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE contracts SET status = ?, updated_at = ? WHERE id = ?`,
		status, time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &billing.NotFoundError{Kind: "contract", ID: id}
	}
	return nil
}

// ListExpiringContracts returns expiring contracts ending in (today, until].
// ISO date strings order lexicographically, so string comparison is safe.
func (s *Store) ListExpiringContracts(ctx context.Context, today, until time.Time) ([]lease.Contract, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+contractColumns+` FROM contracts
		 WHERE status = ? AND end_date > ? AND end_date <= ?
		 ORDER BY end_date ASC`,
		lease.ContractExpiring, today.Format(dateLayout), until.Format(dateLayout))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectContracts(rows)
}

// =============================================================================
// BILL STORE
// =============================================================================

const billColumns = `id, contract_id, billing_month, rent_amount,
	water_previous_reading, water_current_reading, water_unit_rate, water_amount,
	power_previous_reading, power_current_reading, power_unit_rate, power_amount,
	internet_amount, other_charges, total_amount, status, due_date, paid_date,
	created_at, updated_at`

// GetBill retrieves a bill by ID. Returns (nil, nil) when absent.
func (s *Store) GetBill(ctx context.Context, id string) (*billing.Bill, error) {
	return getBill(ctx, s.db, id)
}

func getBill(ctx context.Context, q dbtx, id string) (*billing.Bill, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+billColumns+` FROM bills WHERE id = ?`, id)

	b, err := scanBill(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

func scanBill(row rowScanner) (*billing.Bill, error) {
	var (
		b                        billing.Bill
		rent                     string
		wPrev, wCur, wRate, wAmt string
		pPrev, pCur, pRate, pAmt string
		internet, other, total   string
		dueDate                  string
		paidDate                 sql.NullString
		createdAt, updatedAt     string
	)
	err := row.Scan(&b.ID, &b.ContractID, &b.BillingMonth, &rent,
		&wPrev, &wCur, &wRate, &wAmt,
		&pPrev, &pCur, &pRate, &pAmt,
		&internet, &other, &total, &b.Status, &dueDate, &paidDate,
		&createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	b.RentAmount = mustDecimal(rent)
	b.Water = billing.MeteredCharge{
		PreviousReading: mustDecimal(wPrev),
		CurrentReading:  mustDecimal(wCur),
		UnitRate:        mustDecimal(wRate),
		Amount:          mustDecimal(wAmt),
	}
	b.Power = billing.MeteredCharge{
		PreviousReading: mustDecimal(pPrev),
		CurrentReading:  mustDecimal(pCur),
		UnitRate:        mustDecimal(pRate),
		Amount:          mustDecimal(pAmt),
	}
	b.InternetAmount = mustDecimal(internet)
	b.OtherCharges = mustDecimal(other)
	b.TotalAmount = mustDecimal(total)
	b.DueDate, _ = time.Parse(dateLayout, dueDate)
	if paidDate.Valid {
		t, _ := time.Parse(time.RFC3339, paidDate.String)
		b.PaidDate = &t
	}
	b.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	b.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &b, nil
}

// InsertBill persists a new bill.
func (s *Store) InsertBill(ctx context.Context, b billing.Bill) error {
	return insertBill(ctx, s.db, b)
}

func insertBill(ctx context.Context, q dbtx, b billing.Bill) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO bills (`+billColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		billArgs(b)...)
	if err != nil {
		return fmt.Errorf("failed to insert bill: %w", err)
	}
	return nil
}

// UpdateBill rewrites every mutable column of an existing bill.
func (s *Store) UpdateBill(ctx context.Context, b billing.Bill) error {
	return updateBill(ctx, s.db, b)
}

func updateBill(ctx context.Context, q dbtx, b billing.Bill) error {
	res, err := q.ExecContext(ctx,
		`UPDATE bills SET
			contract_id = ?, billing_month = ?, rent_amount = ?,
			water_previous_reading = ?, water_current_reading = ?, water_unit_rate = ?, water_amount = ?,
			power_previous_reading = ?, power_current_reading = ?, power_unit_rate = ?, power_amount = ?,
			internet_amount = ?, other_charges = ?, total_amount = ?, status = ?,
			due_date = ?, paid_date = ?, created_at = ?, updated_at = ?
		 WHERE id = ?`,
		append(billArgs(b)[1:], b.ID)...)
	if err != nil {
		return fmt.Errorf("failed to update bill: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &billing.NotFoundError{Kind: "bill", ID: b.ID}
	}
	return nil
}

// billArgs produces the values for billColumns in declaration order.
func billArgs(b billing.Bill) []any {
	var paidDate any
	if b.PaidDate != nil {
		paidDate = b.PaidDate.UTC().Format(time.RFC3339)
	}
	return []any{
		b.ID, b.ContractID, b.BillingMonth, b.RentAmount.String(),
		b.Water.PreviousReading.String(), b.Water.CurrentReading.String(),
		b.Water.UnitRate.String(), b.Water.Amount.String(),
		b.Power.PreviousReading.String(), b.Power.CurrentReading.String(),
		b.Power.UnitRate.String(), b.Power.Amount.String(),
		b.InternetAmount.String(), b.OtherCharges.String(), b.TotalAmount.String(),
		b.Status, b.DueDate.Format(dateLayout), paidDate,
		b.CreatedAt.UTC().Format(time.RFC3339), b.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

// ListBillsByContract returns a contract's bills, newest billing month first.
func (s *Store) ListBillsByContract(ctx context.Context, contractID string) ([]billing.Bill, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+billColumns+` FROM bills WHERE contract_id = ? ORDER BY billing_month DESC`,
		contractID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bills []billing.Bill
	for rows.Next() {
		b, err := scanBill(rows)
		if err != nil {
			return nil, err
		}
		bills = append(bills, *b)
	}
	return bills, rows.Err()
}

// ListOverdueBills joins unpaid past-due bills with the owning contract's
// tenant. Mapping to the typed read model happens here, at the boundary.
func (s *Store) ListOverdueBills(ctx context.Context, asOf time.Time) ([]reconcile.OverdueBill, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT b.id, b.contract_id, c.tenant_id, b.billing_month, b.due_date
		 FROM bills b
		 JOIN contracts c ON c.id = b.contract_id
		 WHERE b.status = ? AND b.due_date < ?
		 ORDER BY b.due_date ASC`,
		billing.BillUnpaid, asOf.Format(dateLayout))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var overdue []reconcile.OverdueBill
	for rows.Next() {
		var o reconcile.OverdueBill
		var due string
		if err := rows.Scan(&o.BillID, &o.ContractID, &o.TenantID, &o.BillingMonth, &due); err != nil {
			return nil, err
		}
		o.DueDate, _ = time.Parse(dateLayout, due)
		overdue = append(overdue, o)
	}
	return overdue, rows.Err()
}

// =============================================================================
// PAYMENT SLIP STORE
// =============================================================================

const slipColumns = `id, bill_id, file_url, file_name, notes, status, rejection_reason, created_at, reviewed_at`

// InsertSlip persists a new payment slip.
func (s *Store) InsertSlip(ctx context.Context, slip billing.PaymentSlip) error {
	return insertSlip(ctx, s.db, slip)
}

func insertSlip(ctx context.Context, q dbtx, slip billing.PaymentSlip) error {
	var reviewedAt any
	if slip.ReviewedAt != nil {
		reviewedAt = slip.ReviewedAt.UTC().Format(time.RFC3339)
	}
	_, err := q.ExecContext(ctx,
		`INSERT INTO payment_slips (`+slipColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		slip.ID, slip.BillID, slip.FileURL, nullString(slip.FileName), nullString(slip.Notes),
		slip.Status, nullString(slip.RejectionReason),
		slip.CreatedAt.UTC().Format(time.RFC3339), reviewedAt)
	if err != nil {
		return fmt.Errorf("failed to insert slip: %w", err)
	}
	return nil
}

// UpdateSlip rewrites a slip's review outcome.
func (s *Store) UpdateSlip(ctx context.Context, slip billing.PaymentSlip) error {
	return updateSlip(ctx, s.db, slip)
}

func updateSlip(ctx context.Context, q dbtx, slip billing.PaymentSlip) error {
	var reviewedAt any
	if slip.ReviewedAt != nil {
		reviewedAt = slip.ReviewedAt.UTC().Format(time.RFC3339)
	}
	res, err := q.ExecContext(ctx,
		`UPDATE payment_slips SET status = ?, rejection_reason = ?, notes = ?, reviewed_at = ? WHERE id = ?`,
		slip.Status, nullString(slip.RejectionReason), nullString(slip.Notes), reviewedAt, slip.ID)
	if err != nil {
		return fmt.Errorf("failed to update slip: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &billing.NotFoundError{Kind: "slip", ID: slip.ID}
	}
	return nil
}

// GetSlip retrieves a slip by ID. Returns (nil, nil) when absent.
func (s *Store) GetSlip(ctx context.Context, id string) (*billing.PaymentSlip, error) {
	return getSlip(ctx, s.db, id)
}

func getSlip(ctx context.Context, q dbtx, id string) (*billing.PaymentSlip, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+slipColumns+` FROM payment_slips WHERE id = ?`, id)
	slip, err := scanSlip(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return slip, nil
}

// LatestSlip returns the most recently created slip for a bill, or (nil, nil).
func (s *Store) LatestSlip(ctx context.Context, billID string) (*billing.PaymentSlip, error) {
	return latestSlip(ctx, s.db, billID)
}

func latestSlip(ctx context.Context, q dbtx, billID string) (*billing.PaymentSlip, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+slipColumns+` FROM payment_slips
		 WHERE bill_id = ? ORDER BY created_at DESC, id DESC LIMIT 1`, billID)
	slip, err := scanSlip(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return slip, nil
}

// ListSlips returns a bill's slips, newest first.
func (s *Store) ListSlips(ctx context.Context, billID string) ([]billing.PaymentSlip, error) {
	return listSlips(ctx, s.db, billID)
}

func listSlips(ctx context.Context, q dbtx, billID string) ([]billing.PaymentSlip, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+slipColumns+` FROM payment_slips
		 WHERE bill_id = ? ORDER BY created_at DESC, id DESC`, billID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var slips []billing.PaymentSlip
	for rows.Next() {
		slip, err := scanSlip(rows)
		if err != nil {
			return nil, err
		}
		slips = append(slips, *slip)
	}
	return slips, rows.Err()
}

func scanSlip(row rowScanner) (*billing.PaymentSlip, error) {
	var (
		slip            billing.PaymentSlip
		fileName, notes sql.NullString
		rejectionReason sql.NullString
		createdAt       string
		reviewedAt      sql.NullString
	)
	err := row.Scan(&slip.ID, &slip.BillID, &slip.FileURL, &fileName, &notes,
		&slip.Status, &rejectionReason, &createdAt, &reviewedAt)
	if err != nil {
		return nil, err
	}

	slip.FileName = fileName.String
	slip.Notes = notes.String
	slip.RejectionReason = rejectionReason.String
	slip.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	if reviewedAt.Valid {
		t, _ := time.Parse(time.RFC3339, reviewedAt.String)
		slip.ReviewedAt = &t
	}
	return &slip, nil
}

// =============================================================================
// UNIT OF WORK
// =============================================================================

// WithTx runs fn against a transaction-scoped billing.Store and commits only
// if fn returns nil.
func (s *Store) WithTx(ctx context.Context, fn func(billing.Store) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{q: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// txStore is the transaction-scoped view of the store.
type txStore struct {
	q *sql.Tx
}

func (ts *txStore) GetContract(ctx context.Context, id string) (*lease.Contract, error) {
	return getContract(ctx, ts.q, id)
}

func (ts *txStore) GetBill(ctx context.Context, id string) (*billing.Bill, error) {
	return getBill(ctx, ts.q, id)
}

func (ts *txStore) InsertBill(ctx context.Context, b billing.Bill) error {
	return insertBill(ctx, ts.q, b)
}

func (ts *txStore) UpdateBill(ctx context.Context, b billing.Bill) error {
	return updateBill(ctx, ts.q, b)
}

func (ts *txStore) InsertSlip(ctx context.Context, slip billing.PaymentSlip) error {
	return insertSlip(ctx, ts.q, slip)
}

func (ts *txStore) UpdateSlip(ctx context.Context, slip billing.PaymentSlip) error {
	return updateSlip(ctx, ts.q, slip)
}

func (ts *txStore) GetSlip(ctx context.Context, id string) (*billing.PaymentSlip, error) {
	return getSlip(ctx, ts.q, id)
}

func (ts *txStore) LatestSlip(ctx context.Context, billID string) (*billing.PaymentSlip, error) {
	return latestSlip(ctx, ts.q, billID)
}

func (ts *txStore) ListSlips(ctx context.Context, billID string) ([]billing.PaymentSlip, error) {
	return listSlips(ctx, ts.q, billID)
}

// WithTx on an already transaction-scoped store runs fn in place.
func (ts *txStore) WithTx(ctx context.Context, fn func(billing.Store) error) error {
	return fn(ts)
}

// =============================================================================
// NOTIFICATION STORE
// =============================================================================

// HasRecentNotification reports whether a (user, type, related) notification
// was created at or after since.
func (s *Store) HasRecentNotification(ctx context.Context, userID string, typ notify.Type, relatedID string, since time.Time) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM notifications
		 WHERE user_id = ? AND type = ? AND related_id = ? AND created_at >= ?`,
		userID, typ, relatedID, since.UTC().Format(time.RFC3339)).Scan(&count)
	return count > 0, err
}

// InsertNotification persists a notification.
func (s *Store) InsertNotification(ctx context.Context, n notify.Notification) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO notifications (id, user_id, title, message, type, related_id, is_read, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.UserID, n.Title, n.Message, n.Type, n.RelatedID, n.IsRead,
		n.CreatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to insert notification: %w", err)
	}
	return nil
}

// ListNotifications returns a user's notifications, newest first.
func (s *Store) ListNotifications(ctx context.Context, userID string) ([]notify.Notification, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, title, message, type, related_id, is_read, created_at
		 FROM notifications WHERE user_id = ? ORDER BY created_at DESC, id DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []notify.Notification
	for rows.Next() {
		var n notify.Notification
		var createdAt string
		if err := rows.Scan(&n.ID, &n.UserID, &n.Title, &n.Message, &n.Type, &n.RelatedID, &n.IsRead, &createdAt); err != nil {
			return nil, err
		}
		n.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		out = append(out, n)
	}
	return out, rows.Err()
}

// MarkNotificationRead flips is_read for one of the user's own notifications.
// Scoping by user keeps one tenant from touching another's notices.
func (s *Store) MarkNotificationRead(ctx context.Context, id, userID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET is_read = TRUE WHERE id = ? AND user_id = ?`,
		id, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &billing.NotFoundError{Kind: "notification", ID: id}
	}
	return nil
}

// =============================================================================
// JOB RUN STORE
// =============================================================================

// AcquireRun inserts a running run record unless another non-stale run is
// still in flight. Check and insert are one statement so two concurrent
// triggers cannot both acquire.
func (s *Store) AcquireRun(ctx context.Context, run reconcile.Run) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO job_runs (id, status, started_at)
		 SELECT ?, ?, ?
		 WHERE NOT EXISTS (
			SELECT 1 FROM job_runs WHERE status = ? AND started_at > ?
		 )`,
		run.ID, reconcile.RunRunning, run.StartedAt.UTC().Format(time.RFC3339),
		reconcile.RunRunning, run.StartedAt.Add(-staleRunAfter).UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to acquire run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("a reconciliation run is already in progress: %w", billing.ErrConflict)
	}
	return nil
}

// FinishRun records a run's outcome and counters.
func (s *Store) FinishRun(ctx context.Context, run reconcile.Run) error {
	var completedAt any
	if run.CompletedAt != nil {
		completedAt = run.CompletedAt.UTC().Format(time.RFC3339)
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE job_runs SET
			status = ?, completed_at = ?, error = ?,
			contracts_expiring = ?, contracts_expired = ?,
			notices_sent = ?, notices_skipped = ?
		 WHERE id = ?`,
		run.Status, completedAt, nullString(run.Error),
		run.ContractsExpiring, run.ContractsExpired,
		run.NoticesSent, run.NoticesSkipped, run.ID)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// mustDecimal parses a stored decimal string. Stored values were produced by
// decimal.String so a parse failure means a corrupted row; fall back to zero
// rather than poisoning the whole scan.
func mustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero
	}
	return d
}
