package escrow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/rekberpay/internal/effects"
	"github.com/mbd888/rekberpay/internal/identity"
	"github.com/mbd888/rekberpay/internal/ledger"
	"github.com/mbd888/rekberpay/internal/txn"
	"github.com/mbd888/rekberpay/internal/validation"
)

const (
	buyerID    int64 = 10
	sellerID   int64 = 20
	strangerID int64 = 30
	mediatorID int64 = 40
	adminID    int64 = 1
)

var (
	buyer    = identity.User(buyerID)
	seller   = identity.User(sellerID)
	stranger = identity.User(strangerID)
	admin    = identity.Admin(adminID)
)

// fakeAccounts reports restrictions per user id; unknown ids are not found.
type fakeAccounts struct {
	mu         sync.Mutex
	known      map[int64]bool
	restricted map[int64]error
}

func newFakeAccounts(ids ...int64) *fakeAccounts {
	a := &fakeAccounts{known: map[int64]bool{}, restricted: map[int64]error{}}
	for _, id := range ids {
		a.known[id] = true
	}
	return a
}

func (a *fakeAccounts) restrict(id int64, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.restricted[id] = err
}

func (a *fakeAccounts) EnsureActive(_ context.Context, id int64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.known[id] {
		return identity.ErrUserNotFound
	}
	return a.restricted[id]
}

type fixedFees FeeQuote

func (f fixedFees) Quote(context.Context, int64, string) (FeeQuote, error) {
	return FeeQuote(f), nil
}

// flakyLedgerStore fails writes when armed.
type flakyLedgerStore struct {
	*ledger.MemoryStore
	fail       bool
	failWallet bool
}

func (f *flakyLedgerStore) CreateWallet(ctx context.Context, w *ledger.Wallet) error {
	if f.failWallet {
		return errors.New("wallet table unavailable")
	}
	return f.MemoryStore.CreateWallet(ctx, w)
}

func (f *flakyLedgerStore) InsertTransaction(ctx context.Context, tx *ledger.Transaction) error {
	if f.fail {
		return errors.New("disk on fire")
	}
	return f.MemoryStore.InsertTransaction(ctx, tx)
}

type testEnv struct {
	svc      *Service
	store    *MemoryStore
	ledger   *flakyLedgerStore
	accounts *fakeAccounts
	fx       *effects.Recorder
	clock    *time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	env := &testEnv{
		store:    NewMemoryStore(),
		ledger:   &flakyLedgerStore{MemoryStore: ledger.NewMemoryStore()},
		accounts: newFakeAccounts(buyerID, sellerID, strangerID, mediatorID, adminID),
		fx:       &effects.Recorder{},
		clock:    &now,
	}
	env.svc = NewService(env.store, ledger.New(env.ledger), txn.NewMemoryRunner()).
		WithAccountChecker(env.accounts).
		WithEffects(env.fx).
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))).
		WithClock(func() time.Time { return *env.clock })
	return env
}

func (env *testEnv) advance(d time.Duration) {
	*env.clock = env.clock.Add(d)
}

func validRequest() CreateRequest {
	return CreateRequest{
		Title:            "Used camera",
		Amount:           500_000,
		SellerID:         sellerID,
		ReleaseCondition: ReleaseManual,
	}
}

func (env *testEnv) create(t *testing.T) *Escrow {
	t.Helper()
	e, err := env.svc.Create(context.Background(), buyer, validRequest())
	require.NoError(t, err)
	return e
}

func (env *testEnv) funded(t *testing.T) *Escrow {
	t.Helper()
	ctx := context.Background()
	e := env.create(t)
	_, err := env.svc.InitiatePayment(ctx, buyer, e.ID, "bank_transfer")
	require.NoError(t, err)
	e, err = env.svc.ConfirmPayment(ctx, buyer, e.ID)
	require.NoError(t, err)
	return e
}

func TestEndToEnd_CreatePayRelease(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	e := env.create(t)
	assert.Equal(t, StatusCreated, e.Status)
	assert.Equal(t, buyerID, e.BuyerID)
	assert.Equal(t, "IDR", e.Currency)
	require.NotNil(t, e.ExpiresAt)
	assert.Equal(t, e.CreatedAt.Add(DefaultPaymentWindow), *e.ExpiresAt)

	w, err := env.svc.Wallet(ctx, buyer, e.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), w.CurrentBalance)

	session, err := env.svc.InitiatePayment(ctx, buyer, e.ID, "bank_transfer")
	require.NoError(t, err)
	assert.Regexp(t, `^PAY-[A-Z0-9]{8}$`, session.PaymentID)
	assert.Equal(t, DefaultPaymentBaseURL+"/pay/"+session.PaymentID, session.PaymentURL)

	e, err = env.svc.Get(ctx, buyer, e.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPendingPayment, e.Status)
	assert.Equal(t, session.PaymentID, e.PaymentID)

	e, err = env.svc.ConfirmPayment(ctx, buyer, e.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFunded, e.Status)
	assert.NotNil(t, e.FundedAt)

	txns, err := env.svc.Transactions(ctx, seller, e.ID)
	require.NoError(t, err)
	require.Len(t, txns, 1)
	assert.Equal(t, ledger.TxFund, txns[0].Type)
	assert.Equal(t, int64(500_000), txns[0].Amount)
	assert.Equal(t, ledger.TxCompleted, txns[0].Status)
	assert.Equal(t, session.PaymentID, txns[0].GatewayReference)

	e, err = env.svc.Release(ctx, buyer, e.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, e.Status)
	assert.NotNil(t, e.CompletedAt)

	txns, err = env.svc.Transactions(ctx, buyer, e.ID)
	require.NoError(t, err)
	require.Len(t, txns, 2)
	assert.Equal(t, ledger.TxRelease, txns[1].Type)
	assert.Equal(t, int64(500_000), txns[1].Amount)

	w, err = env.svc.Wallet(ctx, buyer, e.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(500_000), w.TotalFunded)
	assert.Equal(t, int64(500_000), w.TotalReleased)
	assert.Equal(t, int64(0), w.CurrentBalance)
	assert.Equal(t, int64(500_000), w.SellerAmount)

	assert.Equal(t,
		[]string{"created", "payment_initiated", "payment_confirmed", "payment_released"},
		env.fx.Actions())

	var types []string
	for _, n := range env.fx.Notifications() {
		assert.Equal(t, sellerID, n.UserID)
		types = append(types, n.Type)
	}
	assert.Equal(t, []string{
		effects.NotifyEscrowCreated, effects.NotifyEscrowFunded, effects.NotifyEscrowReleased,
	}, types)
}

func TestCreate_Validation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(r *CreateRequest)
		field  string
	}{
		{"empty title", func(r *CreateRequest) { r.Title = "" }, "title"},
		{"zero amount", func(r *CreateRequest) { r.Amount = 0 }, "amount"},
		{"negative amount", func(r *CreateRequest) { r.Amount = -1 }, "amount"},
		{"missing seller", func(r *CreateRequest) { r.SellerID = 0 }, "sellerId"},
		{"bad condition", func(r *CreateRequest) { r.ReleaseCondition = "whenever" }, "releaseCondition"},
		{"bad currency", func(r *CreateRequest) { r.Currency = "RUPIAH" }, "currency"},
		{"bad source url", func(r *CreateRequest) { r.SourceURL = "not a url" }, "sourceUrl"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest()
			tt.mutate(&req)
			_, err := env.svc.Create(ctx, buyer, req)

			var verrs validation.ValidationErrors
			require.ErrorAs(t, err, &verrs)
			var fields []string
			for _, v := range verrs {
				fields = append(fields, v.Field)
			}
			assert.Contains(t, fields, tt.field)
		})
	}

	all, err := env.svc.ListAll(ctx, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, all, "rejected requests must not create escrows")
}

func TestCreate_AllReleaseConditions(t *testing.T) {
	env := newTestEnv(t)
	for _, rc := range []ReleaseCondition{ReleaseManual, ReleaseConfirmation, ReleaseDeliveryProof, ReleaseMilestone, ReleaseAuto} {
		req := validRequest()
		req.ReleaseCondition = rc
		e, err := env.svc.Create(context.Background(), buyer, req)
		require.NoError(t, err, rc)
		assert.Equal(t, rc, e.ReleaseCondition)
	}
}

func TestCreate_SameParty(t *testing.T) {
	env := newTestEnv(t)
	req := validRequest()
	req.SellerID = buyerID
	_, err := env.svc.Create(context.Background(), buyer, req)
	assert.ErrorIs(t, err, ErrSameParty)
}

func TestCreate_UnknownSeller(t *testing.T) {
	env := newTestEnv(t)
	req := validRequest()
	req.SellerID = 999
	_, err := env.svc.Create(context.Background(), buyer, req)
	assert.ErrorIs(t, err, ErrPartyNotFound)
}

func TestCreate_ItemAndFees(t *testing.T) {
	env := newTestEnv(t)
	env.svc.WithFeeQuoter(fixedFees{PlatformFee: 10_000, ServiceFee: 2_500})

	price := int64(480_000)
	req := validRequest()
	req.Currency = "usd"
	req.ItemTitle = "Fujifilm X100V"
	req.ItemImages = []string{"https://img.example.com/1.jpg"}
	req.ItemPrice = &price

	e, err := env.svc.Create(context.Background(), buyer, req)
	require.NoError(t, err)
	assert.Equal(t, "USD", e.Currency)
	assert.Equal(t, int64(12_500), e.TotalFee)
	require.NotNil(t, e.Item)
	assert.Equal(t, "Fujifilm X100V", e.Item.Title)
	assert.Equal(t, price, *e.Item.Price)

	env.svc.WithFeeQuoter(fixedFees{PlatformFee: 600_000})
	_, err = env.svc.Create(context.Background(), buyer, validRequest())
	var verrs validation.ValidationErrors
	assert.ErrorAs(t, err, &verrs)
}

func TestCreate_RestrictedParties(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.accounts.restrict(sellerID, identity.ErrAccountFrozen)
	_, err := env.svc.Create(ctx, buyer, validRequest())
	assert.ErrorIs(t, err, ErrAccountRestricted)

	env.accounts.restrict(sellerID, nil)
	env.accounts.restrict(buyerID, identity.ErrBlacklisted)
	_, err = env.svc.Create(ctx, buyer, validRequest())
	assert.ErrorIs(t, err, ErrAccountRestricted)
	assert.ErrorIs(t, err, identity.ErrBlacklisted)
}

func TestRelease_WithFees(t *testing.T) {
	env := newTestEnv(t)
	env.svc.WithFeeQuoter(fixedFees{PlatformFee: 10_000, ServiceFee: 5_000})
	e := env.funded(t)

	_, err := env.svc.Release(context.Background(), buyer, e.ID)
	require.NoError(t, err)

	txns, err := env.svc.Transactions(context.Background(), buyer, e.ID)
	require.NoError(t, err)
	require.Len(t, txns, 3)
	assert.Equal(t, ledger.TxRelease, txns[1].Type)
	assert.Equal(t, int64(485_000), txns[1].Amount)
	assert.Equal(t, ledger.TxFee, txns[2].Type)
	assert.Equal(t, int64(15_000), txns[2].Amount)

	w, err := env.svc.Wallet(context.Background(), buyer, e.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), w.CurrentBalance)
	assert.Equal(t, int64(485_000), w.SellerAmount)
	assert.Equal(t, int64(15_000), w.PlatformAmount)
}

func TestConfirmPayment_Strict(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	e := env.create(t)
	_, err := env.svc.ConfirmPayment(ctx, buyer, e.ID)
	assert.ErrorIs(t, err, ErrInvalidStatus, "confirm requires pending_payment")

	e = env.funded(t)
	_, err = env.svc.ConfirmPayment(ctx, buyer, e.ID)
	assert.ErrorIs(t, err, ErrInvalidStatus, "second confirm must not double-fund")

	w, err := env.svc.Wallet(ctx, buyer, e.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(500_000), w.TotalFunded)
}

func TestConfirmPayment_AdminAllowed(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	e := env.create(t)
	_, err := env.svc.InitiatePayment(ctx, buyer, e.ID, "e_wallet")
	require.NoError(t, err)

	_, err = env.svc.ConfirmPayment(ctx, seller, e.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	e, err = env.svc.ConfirmPayment(ctx, admin, e.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFunded, e.Status)
}

func TestInitiatePayment_ReissuesWhilePending(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	e := env.create(t)

	first, err := env.svc.InitiatePayment(ctx, buyer, e.ID, "bank_transfer")
	require.NoError(t, err)

	env.advance(30 * time.Hour)
	second, err := env.svc.InitiatePayment(ctx, buyer, e.ID, "e_wallet")
	require.NoError(t, err)
	assert.NotEqual(t, first.PaymentID, second.PaymentID)

	got, err := env.svc.Get(ctx, buyer, e.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPendingPayment, got.Status)
	assert.Equal(t, second.PaymentID, got.PaymentID)
	assert.Equal(t, second.PaymentURL, got.PaymentURL)
	assert.Equal(t, "e_wallet", got.PaymentMethod)
	assert.Equal(t, *env.clock, got.UpdatedAt)
	assert.Equal(t, *e.ExpiresAt, *got.ExpiresAt, "re-issuing does not extend the payment window")

	var initiated []effects.Audit
	for _, a := range env.fx.Audits() {
		if a.Action == "payment_initiated" {
			initiated = append(initiated, a)
		}
	}
	require.Len(t, initiated, 2)
	assert.Equal(t, map[string]any{"status": StatusPendingPayment, "paymentId": first.PaymentID}, initiated[1].Before)
	// Audit times come from the service clock, not the wall clock.
	assert.Equal(t, first.UpdatedAt, initiated[0].At)
	assert.Equal(t, *env.clock, initiated[1].At)

	// The fresh reference is the one that funds the escrow.
	got, err = env.svc.ConfirmPayment(ctx, buyer, e.ID)
	require.NoError(t, err)
	txns, err := env.svc.Transactions(ctx, buyer, e.ID)
	require.NoError(t, err)
	require.Len(t, txns, 1)
	assert.Equal(t, second.PaymentID, txns[0].GatewayReference)

	// Funded and later statuses still refuse a new reference.
	_, err = env.svc.InitiatePayment(ctx, buyer, e.ID, "bank_transfer")
	assert.ErrorIs(t, err, ErrInvalidStatus)
}

func TestInitiatePayment_RejectedOutsideCreatedOrPending(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	e := env.create(t)
	_, err := env.svc.Cancel(ctx, buyer, e.ID)
	require.NoError(t, err)

	_, err = env.svc.InitiatePayment(ctx, buyer, e.ID, "bank_transfer")
	assert.ErrorIs(t, err, ErrInvalidStatus)
}

func TestRelease_OnlyFromFundedOrInProgress(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	e := env.create(t)
	_, err := env.svc.Release(ctx, buyer, e.ID)
	assert.ErrorIs(t, err, ErrInvalidStatus)

	_, err = env.svc.InitiatePayment(ctx, buyer, e.ID, "bank_transfer")
	require.NoError(t, err)
	_, err = env.svc.Release(ctx, buyer, e.ID)
	assert.ErrorIs(t, err, ErrInvalidStatus)

	_, err = env.svc.ConfirmPayment(ctx, buyer, e.ID)
	require.NoError(t, err)
	_, err = env.svc.MarkInProgress(ctx, seller, e.ID)
	require.NoError(t, err)
	_, err = env.svc.Release(ctx, buyer, e.ID)
	require.NoError(t, err)

	_, err = env.svc.Release(ctx, buyer, e.ID)
	assert.ErrorIs(t, err, ErrInvalidStatus, "completed escrow cannot be released twice")
}

func TestAuthorization(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	e := env.create(t)

	_, err := env.svc.Get(ctx, stranger, e.ID)
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = env.svc.Get(ctx, seller, e.ID)
	assert.NoError(t, err)
	_, err = env.svc.Get(ctx, admin, e.ID)
	assert.NoError(t, err)

	_, err = env.svc.InitiatePayment(ctx, seller, e.ID, "bank_transfer")
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = env.svc.Wallet(ctx, stranger, e.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = env.svc.Cancel(ctx, seller, e.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	f := env.funded(t)
	_, err = env.svc.MarkInProgress(ctx, buyer, f.ID)
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = env.svc.Release(ctx, seller, f.ID)
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = env.svc.Refund(ctx, buyer, f.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = env.svc.Get(ctx, buyer, "missing")
	assert.ErrorIs(t, err, ErrEscrowNotFound)
}

func TestMediatorCanView(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	e := env.funded(t)
	mediator := identity.Actor{UserID: mediatorID, Role: identity.RoleMediator}

	_, err := env.svc.Get(ctx, mediator, e.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	require.NoError(t, env.svc.AssignMediator(ctx, e.ID, mediatorID))

	got, err := env.svc.Get(ctx, mediator, e.ID)
	require.NoError(t, err)
	assert.Equal(t, mediatorID, *got.MediatorID)
	_, err = env.svc.Transactions(ctx, mediator, e.ID)
	assert.NoError(t, err)
	_, err = env.svc.Release(ctx, mediator, e.ID)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestRelease_FrozenBuyer(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	e := env.funded(t)

	env.accounts.restrict(buyerID, identity.ErrAccountFrozen)
	_, err := env.svc.Release(ctx, buyer, e.ID)
	assert.ErrorIs(t, err, ErrAccountRestricted)

	got, err := env.svc.Get(ctx, admin, e.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFunded, got.Status)

	got, err = env.svc.Release(ctx, admin, e.ID)
	require.NoError(t, err, "admin bypasses the freeze check")
	assert.Equal(t, StatusCompleted, got.Status)
}

func TestConfirmPayment_LedgerFailureRollsBack(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	e := env.create(t)
	_, err := env.svc.InitiatePayment(ctx, buyer, e.ID, "bank_transfer")
	require.NoError(t, err)
	before := len(env.fx.Actions())

	env.ledger.fail = true
	_, err = env.svc.ConfirmPayment(ctx, buyer, e.ID)
	require.Error(t, err)

	got, err := env.svc.Get(ctx, buyer, e.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPendingPayment, got.Status, "status change must roll back with the ledger write")
	assert.Nil(t, got.FundedAt)
	assert.Len(t, env.fx.Actions(), before, "no effects for a failed unit")

	env.ledger.fail = false
	got, err = env.svc.ConfirmPayment(ctx, buyer, e.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFunded, got.Status)
}

func TestCreate_WalletFailureRollsBack(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.ledger.failWallet = true
	_, err := env.svc.Create(ctx, buyer, validRequest())
	require.Error(t, err)

	all, err := env.svc.ListAll(ctx, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, all, "escrow row must not outlive a failed wallet insert")
	assert.Empty(t, env.fx.Actions())
}

func TestCancel(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	e := env.create(t)
	got, err := env.svc.Cancel(ctx, buyer, e.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)
	assert.NotNil(t, got.CancelledAt)

	notes := env.fx.Notifications()
	last := notes[len(notes)-1]
	assert.Equal(t, effects.NotifyEscrowCancelled, last.Type)
	assert.Equal(t, sellerID, last.UserID)

	f := env.funded(t)
	_, err = env.svc.Cancel(ctx, buyer, f.ID)
	assert.ErrorIs(t, err, ErrInvalidStatus, "funded escrows are refunded, not cancelled")
}

func TestRefund(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	e := env.funded(t)

	got, err := env.svc.Refund(ctx, admin, e.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRefunded, got.Status)
	assert.NotNil(t, got.RefundedAt)

	w, err := env.svc.Wallet(ctx, buyer, e.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(500_000), w.TotalRefunded)
	assert.Equal(t, int64(500_000), w.BuyerAmount)
	assert.Equal(t, int64(0), w.CurrentBalance)
	assert.Contains(t, env.fx.Actions(), "payment_refunded")

	created := env.create(t)
	_, err = env.svc.Refund(ctx, admin, created.ID)
	assert.ErrorIs(t, err, ErrInvalidStatus)
}

func TestListMine(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		env.create(t)
		env.advance(time.Second)
	}
	other, err := env.svc.Create(ctx, seller, CreateRequest{
		Title: "Reverse", Amount: 1_000, SellerID: buyerID, ReleaseCondition: ReleaseAuto,
	})
	require.NoError(t, err)

	asBuyer, err := env.svc.ListMine(ctx, buyer, RoleBuyer, 0, 0)
	require.NoError(t, err)
	assert.Len(t, asBuyer, 3)
	assert.True(t, asBuyer[0].CreatedAt.After(asBuyer[2].CreatedAt), "newest first")

	asSeller, err := env.svc.ListMine(ctx, buyer, RoleSeller, 0, 0)
	require.NoError(t, err)
	require.Len(t, asSeller, 1)
	assert.Equal(t, other.ID, asSeller[0].ID)

	page, err := env.svc.ListMine(ctx, buyer, RoleBuyer, 2, 2)
	require.NoError(t, err)
	assert.Len(t, page, 1)

	_, err = env.svc.ListMine(ctx, buyer, "mediator", 0, 0)
	var verrs validation.ValidationErrors
	assert.ErrorAs(t, err, &verrs)
}

func TestStats(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	e := env.funded(t)
	_, err := env.svc.Release(ctx, buyer, e.ID)
	require.NoError(t, err)
	env.create(t)

	st, err := env.svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), st.TotalEscrows)
	assert.Equal(t, int64(1_000_000), st.TotalVolume)
	assert.Equal(t, int64(500_000), st.AverageAmount)
	assert.Equal(t, int64(1), st.CompletedCount)
}

func TestStats_AverageTruncates(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.create(t)
	req := validRequest()
	req.Amount = 500_001
	_, err := env.svc.Create(ctx, buyer, req)
	require.NoError(t, err)

	st, err := env.svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1_000_001), st.TotalVolume)
	assert.Equal(t, int64(500_000), st.AverageAmount, "integer division, not rounding")
}

func TestExpireUnpaid(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	stale := env.create(t)
	pending := env.create(t)
	_, err := env.svc.InitiatePayment(ctx, buyer, pending.ID, "bank_transfer")
	require.NoError(t, err)
	paid := env.funded(t)

	env.advance(DefaultPaymentWindow / 2)
	fresh := env.create(t)

	env.advance(DefaultPaymentWindow/2 + time.Minute)
	n, err := env.svc.ExpireUnpaid(ctx, *env.clock, 100)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for id, want := range map[string]Status{
		stale.ID:   StatusCancelled,
		pending.ID: StatusCancelled,
		paid.ID:    StatusFunded,
		fresh.ID:   StatusCreated,
	} {
		got, err := env.svc.Get(ctx, admin, id)
		require.NoError(t, err)
		assert.Equal(t, want, got.Status, id)
	}

	var expired int
	for _, a := range env.fx.Audits() {
		if a.Action == "expired" {
			expired++
			assert.Equal(t, identity.SystemUserID, a.UserID)
		}
	}
	assert.Equal(t, 2, expired)

	n, err = env.svc.ExpireUnpaid(ctx, *env.clock, 100)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSettleDispute(t *testing.T) {
	tests := []struct {
		name       string
		split      Split
		wantStatus Status
		seller     int64
		buyer      int64
	}{
		{"release all", Split{Kind: SplitReleaseAll}, StatusCompleted, 500_000, 0},
		{"refund all", Split{Kind: SplitRefundAll}, StatusRefunded, 0, 500_000},
		{"share", Split{Kind: SplitShare, SellerShare: 200_000}, StatusCompleted, 200_000, 300_000},
		{"zero share", Split{Kind: SplitShare, SellerShare: 0}, StatusRefunded, 0, 500_000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.svc.WithFeeQuoter(fixedFees{PlatformFee: 10_000})
			ctx := context.Background()
			e := env.funded(t)

			_, fx, err := env.svc.EnterDispute(ctx, buyer, e.ID)
			require.NoError(t, err)
			assert.Equal(t, "disputed", fx.Audits[0].Action)

			got, fx, err := env.svc.SettleDispute(ctx, admin, e.ID, tt.split)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, got.Status)
			assert.Equal(t, "dispute_settled", fx.Audits[0].Action)

			w, err := env.svc.Wallet(ctx, admin, e.ID)
			require.NoError(t, err)
			assert.Equal(t, int64(0), w.CurrentBalance)
			assert.Equal(t, tt.seller, w.SellerAmount)
			assert.Equal(t, tt.buyer, w.BuyerAmount)
			assert.Equal(t, int64(0), w.PlatformAmount, "no fee on dispute settlement")
		})
	}
}

func TestSettleDispute_Invalid(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	e := env.funded(t)

	_, _, err := env.svc.SettleDispute(ctx, admin, e.ID, Split{Kind: SplitReleaseAll})
	assert.ErrorIs(t, err, ErrInvalidStatus, "must be disputed first")

	_, _, err = env.svc.EnterDispute(ctx, stranger, e.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	_, _, err = env.svc.EnterDispute(ctx, seller, e.ID)
	require.NoError(t, err)

	_, _, err = env.svc.SettleDispute(ctx, admin, e.ID, Split{Kind: SplitShare, SellerShare: 600_000})
	assert.ErrorIs(t, err, ErrInvalidAmount)

	got, err := env.svc.Get(ctx, admin, e.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusDisputed, got.Status)

	created := env.create(t)
	_, _, err = env.svc.EnterDispute(ctx, buyer, created.ID)
	assert.ErrorIs(t, err, ErrInvalidStatus, "unfunded escrows cannot be disputed")
}

func TestWalletInvariantThroughLifecycle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.svc.WithFeeQuoter(fixedFees{PlatformFee: 1_000, ServiceFee: 1_000})

	check := func(id string) {
		t.Helper()
		w, err := env.svc.Wallet(ctx, admin, id)
		require.NoError(t, err)
		assert.Equal(t, w.TotalFunded-w.TotalReleased-w.TotalRefunded, w.CurrentBalance)
		assert.GreaterOrEqual(t, w.CurrentBalance, int64(0))
		drift, err := env.svc.Ledger().Verify(ctx, id)
		require.NoError(t, err)
		assert.Nil(t, drift)
	}

	a := env.funded(t)
	check(a.ID)
	_, err := env.svc.Release(ctx, buyer, a.ID)
	require.NoError(t, err)
	check(a.ID)

	b := env.funded(t)
	_, err = env.svc.Refund(ctx, admin, b.ID)
	require.NoError(t, err)
	check(b.ID)
}

func TestConcurrentRelease_OnlyOneWins(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	e := env.funded(t)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.svc.Release(ctx, buyer, e.ID)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var ok, conflict int
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrInvalidStatus):
			conflict++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 7, conflict)

	txns, err := env.svc.Transactions(ctx, buyer, e.ID)
	require.NoError(t, err)
	assert.Len(t, txns, 2)
}

func TestStatusErrorMessage(t *testing.T) {
	err := statusError(StatusCreated, StatusCompleted)
	assert.ErrorIs(t, err, ErrInvalidStatus)
	assert.True(t, strings.Contains(err.Error(), fmt.Sprintf("%s to %s", StatusCreated, StatusCompleted)))
}
