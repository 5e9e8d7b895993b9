/*
Package notify emits deduplicated user notifications.

PURPOSE:
  Notifications are rows a user polls for, not pushed events. The dispatcher
  is the single write path: it suppresses a notice when an equivalent one
  (same user, type, related record) was already created within the dedup
  window, so repeated daily-job runs don't spam tenants.

CONCURRENCY NOTE:
  The check-then-insert is not transactionally atomic. Two concurrent callers
  can both pass the window check and insert duplicates; the job-run guard in
  the reconcile package bounds how often that can happen.

SEE ALSO:
  - reconcile/job.go: the main bulk caller
  - billing/ledger.go: decision notices
*/
package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Type categorizes what a notification is about.
type Type string

const (
	TypeContract Type = "contract"
	TypeBill     Type = "bill"
)

// DefaultDedupWindow is the rolling lookback for duplicate suppression.
const DefaultDedupWindow = 24 * time.Hour

// Notification is one notice for one user. IsRead is the only field ever
// mutated after creation.
type Notification struct {
	ID        string
	UserID    string
	Title     string
	Message   string
	Type      Type
	RelatedID string
	IsRead    bool
	CreatedAt time.Time
}

// Store is the persistence the dispatcher needs.
type Store interface {
	// HasRecentNotification reports whether a notification with the same
	// (user, type, related) key was created at or after since.
	HasRecentNotification(ctx context.Context, userID string, typ Type, relatedID string, since time.Time) (bool, error)
	InsertNotification(ctx context.Context, n Notification) error
}

// Dispatcher writes notifications with duplicate suppression.
type Dispatcher struct {
	store  Store
	window time.Duration
	logger *zap.Logger
	now    func() time.Time
}

// NewDispatcher creates a dispatcher. A zero window falls back to
// DefaultDedupWindow.
func NewDispatcher(store Store, window time.Duration, logger *zap.Logger) *Dispatcher {
	if window <= 0 {
		window = DefaultDedupWindow
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{store: store, window: window, logger: logger, now: time.Now}
}

// WithClock overrides the dispatcher's clock. Test hook.
func (d *Dispatcher) WithClock(now func() time.Time) *Dispatcher {
	d.now = now
	return d
}

// Notify creates a notification unless an equivalent one exists inside the
// dedup window. Returns true when a row was inserted, false on a dedup skip.
func (d *Dispatcher) Notify(ctx context.Context, userID string, typ Type, relatedID, title, message string) (bool, error) {
	now := d.now()

	dup, err := d.store.HasRecentNotification(ctx, userID, typ, relatedID, now.Add(-d.window))
	if err != nil {
		return false, err
	}
	if dup {
		d.logger.Debug("notification suppressed by dedup window",
			zap.String("user_id", userID),
			zap.String("type", string(typ)),
			zap.String("related_id", relatedID))
		return false, nil
	}

	n := Notification{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     title,
		Message:   message,
		Type:      typ,
		RelatedID: relatedID,
		CreatedAt: now,
	}
	if err := d.store.InsertNotification(ctx, n); err != nil {
		return false, err
	}

	d.logger.Info("notification created",
		zap.String("notification_id", n.ID),
		zap.String("user_id", userID),
		zap.String("type", string(typ)),
		zap.String("related_id", relatedID))
	return true, nil
}
