// Package ledger records fund movements for escrows.
//
// Every escrow owns exactly one Wallet. Funds move only by appending an
// immutable Transaction; the wallet aggregates are then re-derived from the
// full completed history, so
//
//	CurrentBalance = TotalFunded - TotalReleased - TotalRefunded
//
// holds after every write. The stored wallet row is a cache of Derive.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mbd888/rekberpay/internal/idgen"
	"github.com/mbd888/rekberpay/internal/metrics"
)

var (
	ErrWalletNotFound      = errors.New("escrow wallet not found")
	ErrWalletExists        = errors.New("escrow wallet already exists")
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrInvalidType         = errors.New("invalid transaction type")
	ErrInsufficientBalance = errors.New("insufficient escrow balance")
)

// TxType is the kind of fund movement.
type TxType string

const (
	TxFund       TxType = "fund"
	TxRelease    TxType = "release"
	TxRefund     TxType = "refund"
	TxFee        TxType = "fee"
	TxPayout     TxType = "payout"
	TxAdjustment TxType = "adjustment"
)

// Valid reports whether t is a known transaction type.
func (t TxType) Valid() bool {
	switch t {
	case TxFund, TxRelease, TxRefund, TxFee, TxPayout, TxAdjustment:
		return true
	}
	return false
}

// TxStatus is the settlement state of a transaction.
type TxStatus string

const (
	TxPending   TxStatus = "pending"
	TxCompleted TxStatus = "completed"
	TxFailed    TxStatus = "failed"
	TxCancelled TxStatus = "cancelled"
)

// Wallet is the aggregate ledger view for one escrow.
type Wallet struct {
	ID             string    `json:"id"`
	EscrowID       string    `json:"escrowId"`
	Currency       string    `json:"currency"`
	TotalFunded    int64     `json:"totalFunded"`
	TotalReleased  int64     `json:"totalReleased"`
	TotalRefunded  int64     `json:"totalRefunded"`
	CurrentBalance int64     `json:"currentBalance"`
	BuyerAmount    int64     `json:"buyerAmount"`
	SellerAmount   int64     `json:"sellerAmount"`
	PlatformAmount int64     `json:"platformAmount"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// Transaction is one immutable fund movement.
type Transaction struct {
	ID               string            `json:"id"`
	EscrowID         string            `json:"escrowId"`
	Type             TxType            `json:"type"`
	Amount           int64             `json:"amount"`
	Currency         string            `json:"currency"`
	FromUserID       *int64            `json:"fromUserId,omitempty"`
	ToUserID         *int64            `json:"toUserId,omitempty"`
	GatewayReference string            `json:"gatewayReference,omitempty"`
	Status           TxStatus          `json:"status"`
	Description      string            `json:"description,omitempty"`
	Metadata         map[string]string `json:"metadata,omitempty"`
	CreatedAt        time.Time         `json:"createdAt"`
	CompletedAt      *time.Time        `json:"completedAt,omitempty"`
	UpdatedAt        time.Time         `json:"updatedAt"`
}

// Store persists wallets and transactions. Store calls made with a context
// from txn.Runner.WithTx join that unit of work.
type Store interface {
	CreateWallet(ctx context.Context, w *Wallet) error
	GetWallet(ctx context.Context, escrowID string) (*Wallet, error)
	UpdateWallet(ctx context.Context, w *Wallet) error
	ListWallets(ctx context.Context, limit, offset int) ([]*Wallet, error)
	InsertTransaction(ctx context.Context, tx *Transaction) error
	// ListTransactions returns an escrow's transactions oldest first.
	ListTransactions(ctx context.Context, escrowID string) ([]*Transaction, error)
}

// Entry describes a fund movement to record.
type Entry struct {
	EscrowID    string
	Type        TxType
	Amount      int64
	Currency    string
	From        *int64
	To          *int64
	Reference   string
	Description string
	Metadata    map[string]string
}

// Totals is the aggregate derived from a transaction history.
type Totals struct {
	TotalFunded    int64 `json:"totalFunded"`
	TotalReleased  int64 `json:"totalReleased"`
	TotalRefunded  int64 `json:"totalRefunded"`
	CurrentBalance int64 `json:"currentBalance"`
	BuyerAmount    int64 `json:"buyerAmount"`
	SellerAmount   int64 `json:"sellerAmount"`
	PlatformAmount int64 `json:"platformAmount"`
}

// Derive folds completed transactions into wallet aggregates.
// Pending, failed and cancelled rows do not move money.
func Derive(txns []*Transaction) Totals {
	var t Totals
	for _, tx := range txns {
		if tx.Status != TxCompleted {
			continue
		}
		switch tx.Type {
		case TxFund, TxAdjustment:
			t.TotalFunded += tx.Amount
		case TxRelease, TxPayout:
			t.TotalReleased += tx.Amount
			t.SellerAmount += tx.Amount
		case TxFee:
			t.TotalReleased += tx.Amount
			t.PlatformAmount += tx.Amount
		case TxRefund:
			t.TotalRefunded += tx.Amount
			t.BuyerAmount += tx.Amount
		}
	}
	t.CurrentBalance = t.TotalFunded - t.TotalReleased - t.TotalRefunded
	return t
}

// Matches reports whether the stored wallet agrees with t.
func (w *Wallet) Matches(t Totals) bool {
	return w.Totals() == t
}

// Totals returns the stored aggregates of w.
func (w *Wallet) Totals() Totals {
	return Totals{
		TotalFunded:    w.TotalFunded,
		TotalReleased:  w.TotalReleased,
		TotalRefunded:  w.TotalRefunded,
		CurrentBalance: w.CurrentBalance,
		BuyerAmount:    w.BuyerAmount,
		SellerAmount:   w.SellerAmount,
		PlatformAmount: w.PlatformAmount,
	}
}

func (w *Wallet) apply(t Totals) {
	w.TotalFunded = t.TotalFunded
	w.TotalReleased = t.TotalReleased
	w.TotalRefunded = t.TotalRefunded
	w.CurrentBalance = t.CurrentBalance
	w.BuyerAmount = t.BuyerAmount
	w.SellerAmount = t.SellerAmount
	w.PlatformAmount = t.PlatformAmount
}

// Ledger applies fund movements to escrow wallets.
type Ledger struct {
	store Store
	now   func() time.Time
}

// New creates a new ledger
func New(store Store) *Ledger {
	return &Ledger{store: store, now: time.Now}
}

// Open creates the zeroed wallet for a new escrow.
func (l *Ledger) Open(ctx context.Context, escrowID, currency string) (*Wallet, error) {
	now := l.now()
	w := &Wallet{
		ID:        idgen.New(),
		EscrowID:  escrowID,
		Currency:  currency,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := l.store.CreateWallet(ctx, w); err != nil {
		return nil, fmt.Errorf("create wallet for escrow %s: %w", escrowID, err)
	}
	return w, nil
}

// Record appends a completed transaction and re-derives the wallet.
// It must run inside the same unit of work as the escrow status change.
func (l *Ledger) Record(ctx context.Context, e Entry) (*Transaction, *Wallet, error) {
	if !e.Type.Valid() {
		return nil, nil, ErrInvalidType
	}
	if e.Amount <= 0 {
		return nil, nil, ErrInvalidAmount
	}

	w, err := l.store.GetWallet(ctx, e.EscrowID)
	if err != nil {
		return nil, nil, err
	}

	currency := e.Currency
	if currency == "" {
		currency = w.Currency
	}

	now := l.now()
	tx := &Transaction{
		ID:               idgen.New(),
		EscrowID:         e.EscrowID,
		Type:             e.Type,
		Amount:           e.Amount,
		Currency:         currency,
		FromUserID:       e.From,
		ToUserID:         e.To,
		GatewayReference: e.Reference,
		Status:           TxCompleted,
		Description:      e.Description,
		Metadata:         e.Metadata,
		CreatedAt:        now,
		CompletedAt:      &now,
		UpdatedAt:        now,
	}

	history, err := l.store.ListTransactions(ctx, e.EscrowID)
	if err != nil {
		return nil, nil, err
	}
	totals := Derive(append(history, tx))
	if totals.CurrentBalance < 0 {
		return nil, nil, fmt.Errorf("%w: %s of %d exceeds balance", ErrInsufficientBalance, e.Type, e.Amount)
	}

	if err := l.store.InsertTransaction(ctx, tx); err != nil {
		return nil, nil, fmt.Errorf("insert %s transaction: %w", e.Type, err)
	}

	w.apply(totals)
	w.UpdatedAt = now
	if err := l.store.UpdateWallet(ctx, w); err != nil {
		return nil, nil, fmt.Errorf("update wallet: %w", err)
	}

	metrics.LedgerTransactionsTotal.WithLabelValues(string(e.Type)).Inc()
	return tx, w, nil
}

// Wallet returns the wallet of an escrow.
func (l *Ledger) Wallet(ctx context.Context, escrowID string) (*Wallet, error) {
	return l.store.GetWallet(ctx, escrowID)
}

// Transactions returns an escrow's transactions oldest first.
func (l *Ledger) Transactions(ctx context.Context, escrowID string) ([]*Transaction, error) {
	return l.store.ListTransactions(ctx, escrowID)
}

// Drift describes a wallet whose stored aggregates disagree with its history.
type Drift struct {
	EscrowID string `json:"escrowId"`
	Stored   Totals `json:"stored"`
	Derived  Totals `json:"derived"`
}

// Verify compares the stored wallet of an escrow with its derivation.
// It returns nil when they agree.
func (l *Ledger) Verify(ctx context.Context, escrowID string) (*Drift, error) {
	w, err := l.store.GetWallet(ctx, escrowID)
	if err != nil {
		return nil, err
	}
	txns, err := l.store.ListTransactions(ctx, escrowID)
	if err != nil {
		return nil, err
	}
	derived := Derive(txns)
	if w.Matches(derived) {
		return nil, nil
	}
	return &Drift{EscrowID: escrowID, Stored: w.Totals(), Derived: derived}, nil
}

// Rebuild overwrites the stored wallet with the derived aggregates.
func (l *Ledger) Rebuild(ctx context.Context, escrowID string) (*Wallet, error) {
	w, err := l.store.GetWallet(ctx, escrowID)
	if err != nil {
		return nil, err
	}
	txns, err := l.store.ListTransactions(ctx, escrowID)
	if err != nil {
		return nil, err
	}
	w.apply(Derive(txns))
	w.UpdatedAt = l.now()
	if err := l.store.UpdateWallet(ctx, w); err != nil {
		return nil, err
	}
	return w, nil
}

// Wallets lists stored wallets for reconciliation.
func (l *Ledger) Wallets(ctx context.Context, limit, offset int) ([]*Wallet, error) {
	if limit <= 0 {
		limit = 100
	}
	return l.store.ListWallets(ctx, limit, offset)
}
