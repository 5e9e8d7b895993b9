package notify_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiuytgh/leasecore/notify"
	"github.com/poiuytgh/leasecore/store/sqlite"
)

func newDispatcher(t *testing.T) (*notify.Dispatcher, *sqlite.Store) {
	t.Helper()
	store, err := sqlite.New(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return notify.NewDispatcher(store, 24*time.Hour, nil), store
}

func TestNotify_CreatesNotification(t *testing.T) {
	// GIVEN: no prior notifications
	// WHEN: dispatching a notice
	// THEN: a row is created and reported as sent

	d, store := newDispatcher(t)
	ctx := context.Background()

	sent, err := d.Notify(ctx, "tenant-1", notify.TypeBill, "bill-1", "Bill overdue", "Your bill is overdue.")
	require.NoError(t, err)
	assert.True(t, sent)

	ns, err := store.ListNotifications(ctx, "tenant-1")
	require.NoError(t, err)
	require.Len(t, ns, 1)
	assert.Equal(t, "Bill overdue", ns[0].Title)
	assert.False(t, ns[0].IsRead)
}

func TestNotify_DuplicateInsideWindow_Suppressed(t *testing.T) {
	// GIVEN: a notice sent at t0
	// WHEN: the same (user, type, related) notice is dispatched 23h later
	// THEN: it is suppressed

	d, store := newDispatcher(t)
	ctx := context.Background()

	t0 := time.Date(2025, time.August, 1, 8, 0, 0, 0, time.UTC)
	clock := t0
	d.WithClock(func() time.Time { return clock })

	sent, err := d.Notify(ctx, "tenant-1", notify.TypeBill, "bill-1", "Bill overdue", "msg")
	require.NoError(t, err)
	require.True(t, sent)

	clock = t0.Add(23 * time.Hour)
	sent, err = d.Notify(ctx, "tenant-1", notify.TypeBill, "bill-1", "Bill overdue", "msg")
	require.NoError(t, err)
	assert.False(t, sent, "repeat inside the window must be suppressed")

	ns, err := store.ListNotifications(ctx, "tenant-1")
	require.NoError(t, err)
	assert.Len(t, ns, 1)
}

func TestNotify_DuplicateOutsideWindow_Sent(t *testing.T) {
	// GIVEN: a notice sent at t0
	// WHEN: the same notice is dispatched 25h later
	// THEN: a fresh row is created

	d, store := newDispatcher(t)
	ctx := context.Background()

	t0 := time.Date(2025, time.August, 1, 8, 0, 0, 0, time.UTC)
	clock := t0
	d.WithClock(func() time.Time { return clock })

	_, err := d.Notify(ctx, "tenant-1", notify.TypeBill, "bill-1", "Bill overdue", "msg")
	require.NoError(t, err)

	clock = t0.Add(25 * time.Hour)
	sent, err := d.Notify(ctx, "tenant-1", notify.TypeBill, "bill-1", "Bill overdue", "msg")
	require.NoError(t, err)
	assert.True(t, sent)

	ns, err := store.ListNotifications(ctx, "tenant-1")
	require.NoError(t, err)
	assert.Len(t, ns, 2)
}

func TestNotify_DifferentKeys_NotDeduped(t *testing.T) {
	// GIVEN: a notice for bill-1
	// WHEN: notices differ in related record, type, or user
	// THEN: each one is sent

	d, _ := newDispatcher(t)
	ctx := context.Background()

	sent, err := d.Notify(ctx, "tenant-1", notify.TypeBill, "bill-1", "t", "m")
	require.NoError(t, err)
	require.True(t, sent)

	sent, err = d.Notify(ctx, "tenant-1", notify.TypeBill, "bill-2", "t", "m")
	require.NoError(t, err)
	assert.True(t, sent, "different related record")

	sent, err = d.Notify(ctx, "tenant-1", notify.TypeContract, "bill-1", "t", "m")
	require.NoError(t, err)
	assert.True(t, sent, "different type")

	sent, err = d.Notify(ctx, "tenant-2", notify.TypeBill, "bill-1", "t", "m")
	require.NoError(t, err)
	assert.True(t, sent, "different user")
}

func TestMarkNotificationRead_ScopedToOwner(t *testing.T) {
	// GIVEN: a notification for tenant-1
	// WHEN: tenant-2 tries to mark it read
	// THEN: not found; the owner can still mark it

	d, store := newDispatcher(t)
	ctx := context.Background()

	_, err := d.Notify(ctx, "tenant-1", notify.TypeBill, "bill-1", "t", "m")
	require.NoError(t, err)

	ns, err := store.ListNotifications(ctx, "tenant-1")
	require.NoError(t, err)
	require.Len(t, ns, 1)

	err = store.MarkNotificationRead(ctx, ns[0].ID, "tenant-2")
	assert.Error(t, err)

	require.NoError(t, store.MarkNotificationRead(ctx, ns[0].ID, "tenant-1"))

	ns, err = store.ListNotifications(ctx, "tenant-1")
	require.NoError(t, err)
	assert.True(t, ns[0].IsRead)
}
