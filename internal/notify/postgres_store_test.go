//go:build integration

package notify

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/rekberpay/internal/testutil"
)

func TestPostgresStore_Notifications(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	ctx := context.Background()

	_, err := db.ExecContext(ctx, `
		INSERT INTO users (id, open_id, name, role) VALUES
			(10, 'buyer', 'Buyer', 'user'),
			(20, 'seller', 'Seller', 'user')`)
	require.NoError(t, err)

	c := &clock{now: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
	svc := NewService(NewPostgresStore(db)).WithClock(c.Now)
	notifyN(t, svc, buyer.UserID, 5)
	notifyN(t, svc, seller.UserID, 1)

	seen := map[string]bool{}
	var cursor string
	for {
		page, err := svc.List(ctx, buyer, ListRequest{Limit: 2, Cursor: cursor})
		require.NoError(t, err)
		for _, n := range page.Notifications {
			assert.False(t, seen[n.ID])
			seen[n.ID] = true
		}
		if !page.HasMore {
			break
		}
		cursor = page.NextCursor
	}
	assert.Len(t, seen, 5)

	page, err := svc.List(ctx, buyer, ListRequest{})
	require.NoError(t, err)
	id := page.Notifications[0].ID

	n, err := svc.MarkRead(ctx, buyer, id)
	require.NoError(t, err)
	require.NotNil(t, n.ReadAt)
	again, err := svc.MarkRead(ctx, buyer, id)
	require.NoError(t, err)
	assert.True(t, n.ReadAt.Equal(*again.ReadAt))

	_, err = svc.MarkRead(ctx, buyer, "00000000-0000-0000-0000-000000000000")
	assert.ErrorIs(t, err, ErrNotificationNotFound)

	count, err := svc.MarkAllRead(ctx, buyer)
	require.NoError(t, err)
	assert.Equal(t, int64(4), count)

	unread, err := svc.List(ctx, seller, ListRequest{UnreadOnly: true})
	require.NoError(t, err)
	assert.Len(t, unread.Notifications, 1)
	assert.Equal(t, 1, unread.UnreadCount)
}
