/*
Package reconcile runs the daily batch over contracts and bills.

PURPOSE:
  One externally-triggered pass per day:
    1. Age contracts through the date-driven status engine (commits first).
    2. Notify tenants of contracts now expiring within the horizon.
    3. Notify tenants of unpaid bills past their due date.
  Steps 2 and 3 are independent of each other; both depend on step 1 having
  committed so the "expiring" read sees post-transition state.

IDEMPOTENCE:
  Safe to re-run within the same day: the notification dedup window turns
  repeated notices into skips, and the status engine only writes rows whose
  status disagrees with the date rules.

RUN GUARD:
  Every run acquires a job_runs record before doing any work. A second
  trigger while a run is still in flight is refused with a conflict instead
  of racing the first past the dedup check.

SEE ALSO:
  - lease/engine.go: step 1
  - notify/dispatcher.go: steps 2 and 3
*/
package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/poiuytgh/leasecore/lease"
	"github.com/poiuytgh/leasecore/notify"
)

// =============================================================================
// RUN RECORD
// =============================================================================

// RunStatus is the lifecycle of one job run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// Run is the durable record of one daily pass.
type Run struct {
	ID          string
	Status      RunStatus
	StartedAt   time.Time
	CompletedAt *time.Time
	Error       string

	ContractsExpiring int
	ContractsExpired  int
	NoticesSent       int
	NoticesSkipped    int
}

// =============================================================================
// STORE SURFACES
// =============================================================================

// RunStore persists job runs. AcquireRun must refuse (with billing.ErrConflict
// wrapped by the implementation) while another run is still running.
type RunStore interface {
	AcquireRun(ctx context.Context, run Run) error
	FinishRun(ctx context.Context, run Run) error
}

// NoticeSource provides the read models for steps 2 and 3.
type NoticeSource interface {
	// ListExpiringContracts returns contracts in expiring state whose
	// end_date falls in (today, until].
	ListExpiringContracts(ctx context.Context, today, until time.Time) ([]lease.Contract, error)

	// ListOverdueBills returns unpaid bills whose due_date is before asOf,
	// joined with the owning contract's tenant.
	ListOverdueBills(ctx context.Context, asOf time.Time) ([]OverdueBill, error)
}

// OverdueBill is the joined read model for an overdue notice. Mapping from
// the relational join happens at the store boundary; the job never sees raw
// rows.
type OverdueBill struct {
	BillID       string
	ContractID   string
	TenantID     string
	BillingMonth string
	DueDate      time.Time
}

// =============================================================================
// JOB
// =============================================================================

// Job orchestrates one daily reconciliation pass.
type Job struct {
	engine     *lease.StatusEngine
	source     NoticeSource
	dispatcher *notify.Dispatcher
	runs       RunStore
	horizon    time.Duration
	logger     *zap.Logger
	now        func() time.Time
}

// NewJob wires the daily job. A zero horizon falls back to the lease default.
func NewJob(engine *lease.StatusEngine, source NoticeSource, dispatcher *notify.Dispatcher, runs RunStore, horizon time.Duration, logger *zap.Logger) *Job {
	if horizon <= 0 {
		horizon = lease.DefaultExpiringHorizon
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Job{
		engine:     engine,
		source:     source,
		dispatcher: dispatcher,
		runs:       runs,
		horizon:    horizon,
		logger:     logger,
		now:        time.Now,
	}
}

// WithClock overrides the job's clock. Test hook.
func (j *Job) WithClock(now func() time.Time) *Job {
	j.now = now
	return j
}

// Execute performs one full pass and returns the finished run record.
// A concurrent in-flight run causes an immediate conflict error.
func (j *Job) Execute(ctx context.Context) (Run, error) {
	now := j.now()
	run := Run{
		ID:        uuid.NewString(),
		Status:    RunRunning,
		StartedAt: now,
	}
	if err := j.runs.AcquireRun(ctx, run); err != nil {
		return Run{}, err
	}

	result, err := j.pass(ctx, &run, now)
	done := j.now()
	run.CompletedAt = &done
	if err != nil {
		run.Status = RunFailed
		run.Error = err.Error()
	} else {
		run.Status = RunCompleted
	}

	if ferr := j.runs.FinishRun(ctx, run); ferr != nil {
		j.logger.Error("failed to record run outcome", zap.String("run_id", run.ID), zap.Error(ferr))
		if err == nil {
			err = ferr
		}
	}

	if err == nil {
		j.logger.Info("daily reconciliation completed",
			zap.String("run_id", run.ID),
			zap.Int("contracts_expiring", result.Expiring),
			zap.Int("contracts_expired", result.Expired),
			zap.Int("notices_sent", run.NoticesSent),
			zap.Int("notices_skipped", run.NoticesSkipped))
	}
	return run, err
}

func (j *Job) pass(ctx context.Context, run *Run, now time.Time) (lease.EngineResult, error) {
	// Step 1: age contracts. Engine updates are committed row by row, so by
	// the time Run returns the expiring reads below see fresh state.
	result, err := j.engine.Run(ctx, now)
	if err != nil {
		return result, fmt.Errorf("status engine: %w", err)
	}
	run.ContractsExpiring = result.Expiring
	run.ContractsExpired = result.Expired

	// Step 2: expiring-contract notices.
	expiring, err := j.source.ListExpiringContracts(ctx, now, now.Add(j.horizon))
	if err != nil {
		return result, fmt.Errorf("listing expiring contracts: %w", err)
	}
	for _, c := range expiring {
		sent, err := j.dispatcher.Notify(ctx, c.TenantID, notify.TypeContract, c.ID,
			"Contract expiring soon",
			fmt.Sprintf("Your lease contract ends on %s. Contact the office to renew.", c.EndDate.Format("2006-01-02")))
		j.count(run, sent, err, "contract", c.ID)
	}

	// Step 3: overdue-bill notices. Independent of step 2.
	overdue, err := j.source.ListOverdueBills(ctx, now)
	if err != nil {
		return result, fmt.Errorf("listing overdue bills: %w", err)
	}
	for _, b := range overdue {
		sent, err := j.dispatcher.Notify(ctx, b.TenantID, notify.TypeBill, b.BillID,
			"Bill overdue",
			fmt.Sprintf("Your %s bill was due on %s and is still unpaid.", b.BillingMonth, b.DueDate.Format("2006-01-02")))
		j.count(run, sent, err, "bill", b.BillID)
	}

	return result, nil
}

// count applies the per-row continue-on-error policy to notice dispatch.
func (j *Job) count(run *Run, sent bool, err error, kind, id string) {
	if err != nil {
		j.logger.Warn("notice dispatch failed",
			zap.String("kind", kind),
			zap.String("related_id", id),
			zap.Error(err))
		return
	}
	if sent {
		run.NoticesSent++
	} else {
		run.NoticesSkipped++
	}
}
