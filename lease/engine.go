/*
engine.go - Date-driven contract status transitions

PURPOSE:
  Walks every date-managed contract (status active or expiring) and applies
  the status the date rules dictate. Cancelled contracts are excluded at the
  query level so the engine can never touch them.

FAILURE POLICY:
  Transitions are applied per-row. A single row's update failure is logged
  and counted but does not abort the batch; the next run retries it.
*/
package lease

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// ContractStore is the persistence the engine needs. The store's listing
// query restricts to status IN (active, expiring).
type ContractStore interface {
	ListDateManaged(ctx context.Context) ([]Contract, error)
	UpdateContractStatus(ctx context.Context, id string, status ContractStatus) error
}

// EngineResult summarizes one engine pass.
type EngineResult struct {
	Examined int
	Expiring int
	Expired  int
	Failed   int
}

// StatusEngine applies date-driven transitions to contracts.
type StatusEngine struct {
	store   ContractStore
	horizon time.Duration
	logger  *zap.Logger
}

// NewStatusEngine creates an engine over the given store. A zero horizon
// falls back to DefaultExpiringHorizon.
func NewStatusEngine(store ContractStore, horizon time.Duration, logger *zap.Logger) *StatusEngine {
	if horizon <= 0 {
		horizon = DefaultExpiringHorizon
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StatusEngine{store: store, horizon: horizon, logger: logger}
}

// Run transitions every date-managed contract whose status disagrees with the
// date rules as of today. All updates are committed before Run returns, so a
// caller reading "expiring" state afterwards sees the post-transition truth.
func (e *StatusEngine) Run(ctx context.Context, today time.Time) (EngineResult, error) {
	contracts, err := e.store.ListDateManaged(ctx)
	if err != nil {
		return EngineResult{}, err
	}

	res := EngineResult{Examined: len(contracts)}
	for _, c := range contracts {
		want := DateDrivenStatus(c.EndDate, today, e.horizon)
		if want == c.Status {
			continue
		}

		if err := e.store.UpdateContractStatus(ctx, c.ID, want); err != nil {
			res.Failed++
			e.logger.Warn("contract status update failed",
				zap.String("contract_id", c.ID),
				zap.String("target_status", string(want)),
				zap.Error(err))
			continue
		}

		switch want {
		case ContractExpiring:
			res.Expiring++
		case ContractExpired:
			res.Expired++
		}
		e.logger.Info("contract status transitioned",
			zap.String("contract_id", c.ID),
			zap.String("from", string(c.Status)),
			zap.String("to", string(want)))
	}

	return res, nil
}
