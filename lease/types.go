/*
Package lease models tenancy contracts and their date-driven status.

PURPOSE:
  A Contract binds a tenant to a space for a date range. Its status is a pure
  function of (start_date, end_date, today) - with one exception: cancelled
  is a terminal manual override that the date engine must never revert.

STATUS RULES:
  active   -> expiring  when end_date is within (today, today+horizon]
  active   -> expired   when end_date < today
  expiring -> expired   when end_date < today
  cancelled             never changes, regardless of dates

SEE ALSO:
  - engine.go: applies these rules per-row against the store
*/
package lease

import (
	"time"

	"github.com/shopspring/decimal"
)

// ContractStatus is the lifecycle state of a contract.
type ContractStatus string

const (
	ContractActive    ContractStatus = "active"
	ContractExpiring  ContractStatus = "expiring"
	ContractExpired   ContractStatus = "expired"
	ContractCancelled ContractStatus = "cancelled"
)

// DefaultExpiringHorizon is how far ahead of end_date a contract is flagged
// as expiring.
const DefaultExpiringHorizon = 30 * 24 * time.Hour

// Contract is a tenancy agreement.
type Contract struct {
	ID            string
	TenantID      string
	SpaceID       string
	RentAmount    decimal.Decimal
	DepositAmount decimal.Decimal
	StartDate     time.Time
	EndDate       time.Time
	Status        ContractStatus
	Terms         string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// DateDrivenStatus returns the status the date rules dictate for a contract
// ending at endDate, as seen on day today. It never returns cancelled; the
// caller must exclude cancelled contracts before consulting it.
func DateDrivenStatus(endDate, today time.Time, horizon time.Duration) ContractStatus {
	end := truncateDay(endDate)
	day := truncateDay(today)

	if end.Before(day) {
		return ContractExpired
	}
	if !end.After(day.Add(horizon)) && end.After(day) {
		return ContractExpiring
	}
	return ContractActive
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
