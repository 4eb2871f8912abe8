//go:build integration

package fees

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/rekberpay/internal/testutil"
	"github.com/mbd888/rekberpay/internal/txn"
)

func TestGormStore_Schedule(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	ctx := context.Background()

	g, err := txn.OpenGorm(db)
	require.NoError(t, err)
	s := NewSchedule(NewGormStore(g), txn.NewSQLRunner(db))

	first, err := s.Upsert(ctx, admin, UpsertRequest{Name: "platform", PercentageBps: 200, MaxAmount: i64(100_000)})
	require.NoError(t, err)
	_, err = s.Upsert(ctx, admin, UpsertRequest{Name: "service", FixedAmount: 3_000, Kind: KindService})
	require.NoError(t, err)
	updated, err := s.Upsert(ctx, admin, UpsertRequest{Name: "platform", PercentageBps: 300, MaxAmount: i64(100_000)})
	require.NoError(t, err)
	assert.Equal(t, first.ID, updated.ID)

	all, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "platform", all[0].Name)
	assert.Equal(t, int64(300), all[0].PercentageBps)

	q, err := s.Quote(ctx, 1_000_000, "IDR")
	require.NoError(t, err)
	assert.Equal(t, int64(30_000), q.PlatformFee)
	assert.Equal(t, int64(3_000), q.ServiceFee)

	q, err = s.Quote(ctx, 10_000_000, "IDR")
	require.NoError(t, err)
	assert.Equal(t, int64(100_000), q.PlatformFee, "capped by maxAmount")
}
