//go:build integration

package audit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/rekberpay/internal/effects"
	"github.com/mbd888/rekberpay/internal/logging"
	"github.com/mbd888/rekberpay/internal/testutil"
)

func TestPostgresStore_AppendAndList(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	ctx := context.Background()

	_, err := db.ExecContext(ctx, `INSERT INTO users (id, open_id, name, role) VALUES (10, 'buyer', 'Buyer', 'user')`)
	require.NoError(t, err)

	log := NewLog(NewPostgresStore(db))
	reqCtx := logging.WithClient(ctx, "198.51.100.1", "test-agent")

	require.NoError(t, log.Record(reqCtx, effects.Audit{
		EntityType: effects.EntityEscrow, EntityID: "esc-1", Action: "created", UserID: 10,
		After: map[string]any{"status": "created"},
	}))
	require.NoError(t, log.Record(ctx, effects.Audit{
		EntityType: effects.EntityEscrow, EntityID: "esc-1", Action: "expired",
	}))
	require.NoError(t, log.Record(ctx, effects.Audit{
		EntityType: effects.EntityUser, EntityID: "10", Action: "frozen", UserID: 10,
	}))

	entries, err := log.List(ctx, Filter{EntityType: effects.EntityEscrow, EntityID: "esc-1"})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "expired", entries[0].Action)
	assert.Nil(t, entries[0].UserID)

	created := entries[1]
	require.NotNil(t, created.UserID)
	assert.Equal(t, int64(10), *created.UserID)
	assert.Equal(t, "198.51.100.1", created.IPAddress)
	assert.JSONEq(t, `{"status":"created"}`, string(created.NewValue))
	assert.Nil(t, created.OldValue)

	all, err := log.List(ctx, Filter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)
}
