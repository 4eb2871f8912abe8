//go:build integration

package review

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/rekberpay/internal/escrow"
	"github.com/mbd888/rekberpay/internal/ledger"
	"github.com/mbd888/rekberpay/internal/testutil"
	"github.com/mbd888/rekberpay/internal/txn"
)

func seedUsers(t *testing.T, db *sql.DB) {
	t.Helper()
	_, err := db.ExecContext(context.Background(), `
		INSERT INTO users (id, open_id, name, role) VALUES
			(10, 'buyer', 'Buyer', 'user'),
			(20, 'seller', 'Seller', 'user'),
			(30, 'stranger', 'Stranger', 'user')
		ON CONFLICT (id) DO NOTHING`)
	require.NoError(t, err)
}

func TestGormStore_Reviews(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	seedUsers(t, db)
	ctx := context.Background()

	g, err := txn.OpenGorm(db)
	require.NoError(t, err)
	runner := txn.NewSQLRunner(db)
	env := &testEnv{
		escrows: escrow.NewService(escrow.NewPostgresStore(db), ledger.New(ledger.NewPostgresStore(db)), runner),
	}
	env.svc = NewService(NewGormStore(g), env.escrows, runner)

	first := env.escrowAt(t, true)
	second := env.escrowAt(t, true)

	_, err = env.svc.Create(ctx, buyer, CreateRequest{EscrowID: first.ID, RevieweeID: sellerID, Rating: 5, Title: "Great"})
	require.NoError(t, err)
	_, err = env.svc.Create(ctx, buyer, CreateRequest{EscrowID: second.ID, RevieweeID: sellerID, Rating: 2})
	require.NoError(t, err)

	_, err = env.svc.Create(ctx, buyer, CreateRequest{EscrowID: first.ID, RevieweeID: sellerID, Rating: 1})
	assert.ErrorIs(t, err, ErrReviewExists)

	list, err := env.svc.ListForUser(ctx, sellerID, 10, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "Great", list[1].Title)

	sum, err := env.svc.Summary(ctx, sellerID)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Count)
	assert.InDelta(t, 3.5, sum.AverageRating, 0.0001)
}
