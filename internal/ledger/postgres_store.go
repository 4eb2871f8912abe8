package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/mbd888/rekberpay/internal/txn"
)

// PostgresStore persists wallets and transactions in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed ledger store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const walletColumns = `id, escrow_id, currency, total_funded, total_released, total_refunded,
		       current_balance, buyer_amount, seller_amount, platform_amount,
		       created_at, updated_at`

func (p *PostgresStore) CreateWallet(ctx context.Context, w *Wallet) error {
	_, err := txn.Conn(ctx, p.db).ExecContext(ctx, `
		INSERT INTO escrow_wallets (`+walletColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		w.ID, w.EscrowID, w.Currency, w.TotalFunded, w.TotalReleased, w.TotalRefunded,
		w.CurrentBalance, w.BuyerAmount, w.SellerAmount, w.PlatformAmount,
		w.CreatedAt, w.UpdatedAt,
	)
	if txn.IsUniqueViolation(err) {
		return ErrWalletExists
	}
	return err
}

func (p *PostgresStore) GetWallet(ctx context.Context, escrowID string) (*Wallet, error) {
	row := txn.Conn(ctx, p.db).QueryRowContext(ctx,
		`SELECT `+walletColumns+` FROM escrow_wallets WHERE escrow_id = $1`, escrowID)

	w, err := scanWallet(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrWalletNotFound
	}
	return w, err
}

func (p *PostgresStore) UpdateWallet(ctx context.Context, w *Wallet) error {
	result, err := txn.Conn(ctx, p.db).ExecContext(ctx, `
		UPDATE escrow_wallets SET
			total_funded = $1, total_released = $2, total_refunded = $3,
			current_balance = $4, buyer_amount = $5, seller_amount = $6,
			platform_amount = $7, updated_at = $8
		WHERE escrow_id = $9`,
		w.TotalFunded, w.TotalReleased, w.TotalRefunded,
		w.CurrentBalance, w.BuyerAmount, w.SellerAmount,
		w.PlatformAmount, w.UpdatedAt,
		w.EscrowID,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrWalletNotFound
	}
	return nil
}

func (p *PostgresStore) ListWallets(ctx context.Context, limit, offset int) ([]*Wallet, error) {
	rows, err := txn.Conn(ctx, p.db).QueryContext(ctx, `
		SELECT `+walletColumns+`
		FROM escrow_wallets
		ORDER BY created_at ASC, escrow_id ASC
		LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Wallet
	for rows.Next() {
		w, err := scanWallet(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, w)
	}
	return result, rows.Err()
}

const transactionColumns = `id, escrow_id, type, amount, currency, from_user_id, to_user_id,
		       gateway_reference, status, description, metadata,
		       created_at, completed_at, updated_at`

func (p *PostgresStore) InsertTransaction(ctx context.Context, tx *Transaction) error {
	meta, err := json.Marshal(tx.Metadata)
	if err != nil {
		return err
	}
	if tx.Metadata == nil {
		meta = []byte("{}")
	}
	_, err = txn.Conn(ctx, p.db).ExecContext(ctx, `
		INSERT INTO transactions (`+transactionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		tx.ID, tx.EscrowID, string(tx.Type), tx.Amount, tx.Currency,
		nullInt64(tx.FromUserID), nullInt64(tx.ToUserID),
		nullString(tx.GatewayReference), string(tx.Status), nullString(tx.Description), meta,
		tx.CreatedAt, nullTime(tx.CompletedAt), tx.UpdatedAt,
	)
	return err
}

func (p *PostgresStore) ListTransactions(ctx context.Context, escrowID string) ([]*Transaction, error) {
	rows, err := txn.Conn(ctx, p.db).QueryContext(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE escrow_id = $1
		ORDER BY created_at ASC, id ASC`, escrowID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	result := []*Transaction{}
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, tx)
	}
	return result, rows.Err()
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanWallet(s scanner) (*Wallet, error) {
	w := &Wallet{}
	err := s.Scan(
		&w.ID, &w.EscrowID, &w.Currency, &w.TotalFunded, &w.TotalReleased, &w.TotalRefunded,
		&w.CurrentBalance, &w.BuyerAmount, &w.SellerAmount, &w.PlatformAmount,
		&w.CreatedAt, &w.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return w, nil
}

func scanTransaction(s scanner) (*Transaction, error) {
	tx := &Transaction{}
	var (
		txType, status string
		from, to       sql.NullInt64
		ref, desc      sql.NullString
		meta           []byte
		completedAt    sql.NullTime
	)
	err := s.Scan(
		&tx.ID, &tx.EscrowID, &txType, &tx.Amount, &tx.Currency, &from, &to,
		&ref, &status, &desc, &meta,
		&tx.CreatedAt, &completedAt, &tx.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	tx.Type = TxType(txType)
	tx.Status = TxStatus(status)
	tx.GatewayReference = ref.String
	tx.Description = desc.String
	if from.Valid {
		tx.FromUserID = &from.Int64
	}
	if to.Valid {
		tx.ToUserID = &to.Int64
	}
	if completedAt.Valid {
		tx.CompletedAt = &completedAt.Time
	}
	if len(meta) > 0 {
		_ = json.Unmarshal(meta, &tx.Metadata)
		if len(tx.Metadata) == 0 {
			tx.Metadata = nil
		}
	}
	return tx, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// Compile-time assertion that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)
