package escrow

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/mbd888/rekberpay/internal/txn"
)

// PostgresStore persists escrow data in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed escrow store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const escrowColumns = `id, buyer_id, seller_id, mediator_id, title, description, amount, currency,
		       item_title, item_description, item_images, item_price,
		       status, release_condition, platform_fee, service_fee, total_fee,
		       payment_method, payment_id, payment_url, source_url, source_metadata,
		       paid_at, funded_at, completed_at, cancelled_at, refunded_at, expires_at,
		       created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, e *Escrow) error {
	item := e.Item
	if item == nil {
		item = &Item{}
	}
	images, err := json.Marshal(item.Images)
	if err != nil {
		return err
	}
	if item.Images == nil {
		images = []byte("[]")
	}

	_, err = txn.Conn(ctx, p.db).ExecContext(ctx, `
		INSERT INTO escrows (`+escrowColumns+`)
		VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8,
			$9, $10, $11, $12,
			$13, $14, $15, $16, $17,
			$18, $19, $20, $21, $22,
			$23, $24, $25, $26, $27, $28,
			$29, $30
		)`,
		e.ID, e.BuyerID, e.SellerID, nullInt64(e.MediatorID), e.Title, nullString(e.Description), e.Amount, e.Currency,
		nullString(item.Title), nullString(item.Description), images, nullInt64(item.Price),
		string(e.Status), string(e.ReleaseCondition), e.PlatformFee, e.ServiceFee, e.TotalFee,
		nullString(e.PaymentMethod), nullString(e.PaymentID), nullString(e.PaymentURL),
		nullString(e.SourceURL), nullString(e.SourceMetadata),
		nullTime(e.PaidAt), nullTime(e.FundedAt), nullTime(e.CompletedAt),
		nullTime(e.CancelledAt), nullTime(e.RefundedAt), nullTime(e.ExpiresAt),
		e.CreatedAt, e.UpdatedAt,
	)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Escrow, error) {
	row := txn.Conn(ctx, p.db).QueryRowContext(ctx, `SELECT `+escrowColumns+` FROM escrows WHERE id = $1`, id)
	return scanOne(row)
}

// GetForUpdate takes a row lock when called inside a transaction.
func (p *PostgresStore) GetForUpdate(ctx context.Context, id string) (*Escrow, error) {
	if txn.TxFromContext(ctx) == nil {
		return p.Get(ctx, id)
	}
	row := txn.Conn(ctx, p.db).QueryRowContext(ctx,
		`SELECT `+escrowColumns+` FROM escrows WHERE id = $1 FOR UPDATE`, id)
	return scanOne(row)
}

func (p *PostgresStore) Update(ctx context.Context, e *Escrow) error {
	result, err := txn.Conn(ctx, p.db).ExecContext(ctx, `
		UPDATE escrows SET
			mediator_id = $1, status = $2,
			payment_method = $3, payment_id = $4, payment_url = $5,
			paid_at = $6, funded_at = $7, completed_at = $8,
			cancelled_at = $9, refunded_at = $10, updated_at = $11
		WHERE id = $12`,
		nullInt64(e.MediatorID), string(e.Status),
		nullString(e.PaymentMethod), nullString(e.PaymentID), nullString(e.PaymentURL),
		nullTime(e.PaidAt), nullTime(e.FundedAt), nullTime(e.CompletedAt),
		nullTime(e.CancelledAt), nullTime(e.RefundedAt), e.UpdatedAt,
		e.ID,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrEscrowNotFound
	}
	return nil
}

func (p *PostgresStore) ListByParty(ctx context.Context, userID int64, role PartyRole, limit, offset int) ([]*Escrow, error) {
	column := "buyer_id"
	if role == RoleSeller {
		column = "seller_id"
	}
	// column is one of two constants above.
	rows, err := txn.Conn(ctx, p.db).QueryContext(ctx, `
		SELECT `+escrowColumns+`
		FROM escrows
		WHERE `+column+` = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanEscrows(rows)
}

func (p *PostgresStore) List(ctx context.Context, limit, offset int) ([]*Escrow, error) {
	rows, err := txn.Conn(ctx, p.db).QueryContext(ctx, `
		SELECT `+escrowColumns+`
		FROM escrows
		ORDER BY created_at DESC, id DESC
		LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanEscrows(rows)
}

func (p *PostgresStore) ListUnpaidExpired(ctx context.Context, before time.Time, limit int) ([]*Escrow, error) {
	rows, err := txn.Conn(ctx, p.db).QueryContext(ctx, `
		SELECT `+escrowColumns+`
		FROM escrows
		WHERE status IN ('created', 'pending_payment')
		  AND expires_at < $1
		ORDER BY expires_at ASC
		LIMIT $2`, before, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanEscrows(rows)
}

func (p *PostgresStore) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{}
	err := txn.Conn(ctx, p.db).QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(amount), 0),
		       COALESCE(SUM(amount)::BIGINT / NULLIF(COUNT(*), 0), 0),
		       COUNT(*) FILTER (WHERE status = 'completed'),
		       COUNT(*) FILTER (WHERE status = 'disputed')
		FROM escrows`).Scan(
		&st.TotalEscrows, &st.TotalVolume, &st.AverageAmount, &st.CompletedCount, &st.DisputedCount,
	)
	if err != nil {
		return nil, err
	}
	return st, nil
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanOne(row *sql.Row) (*Escrow, error) {
	e, err := scanEscrow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEscrowNotFound
	}
	return e, err
}

func scanEscrow(s scanner) (*Escrow, error) {
	e := &Escrow{}
	var (
		mediatorID                           sql.NullInt64
		description                          sql.NullString
		itemTitle, itemDescription           sql.NullString
		itemImages                           []byte
		itemPrice                            sql.NullInt64
		status, releaseCondition             string
		paymentMethod, paymentID, paymentURL sql.NullString
		sourceURL, sourceMetadata            sql.NullString
		paidAt, fundedAt, completedAt        sql.NullTime
		cancelledAt, refundedAt, expiresAt   sql.NullTime
	)

	err := s.Scan(
		&e.ID, &e.BuyerID, &e.SellerID, &mediatorID, &e.Title, &description, &e.Amount, &e.Currency,
		&itemTitle, &itemDescription, &itemImages, &itemPrice,
		&status, &releaseCondition, &e.PlatformFee, &e.ServiceFee, &e.TotalFee,
		&paymentMethod, &paymentID, &paymentURL, &sourceURL, &sourceMetadata,
		&paidAt, &fundedAt, &completedAt, &cancelledAt, &refundedAt, &expiresAt,
		&e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	e.Status = Status(status)
	e.ReleaseCondition = ReleaseCondition(releaseCondition)
	e.Description = description.String
	e.PaymentMethod = paymentMethod.String
	e.PaymentID = paymentID.String
	e.PaymentURL = paymentURL.String
	e.SourceURL = sourceURL.String
	e.SourceMetadata = sourceMetadata.String
	if mediatorID.Valid {
		e.MediatorID = &mediatorID.Int64
	}

	var images []string
	if len(itemImages) > 0 {
		_ = json.Unmarshal(itemImages, &images)
	}
	if itemTitle.Valid || itemDescription.Valid || itemPrice.Valid || len(images) > 0 {
		e.Item = &Item{
			Title:       itemTitle.String,
			Description: itemDescription.String,
			Images:      images,
		}
		if itemPrice.Valid {
			e.Item.Price = &itemPrice.Int64
		}
	}

	for _, ts := range []struct {
		src sql.NullTime
		dst **time.Time
	}{
		{paidAt, &e.PaidAt},
		{fundedAt, &e.FundedAt},
		{completedAt, &e.CompletedAt},
		{cancelledAt, &e.CancelledAt},
		{refundedAt, &e.RefundedAt},
		{expiresAt, &e.ExpiresAt},
	} {
		if ts.src.Valid {
			t := ts.src.Time
			*ts.dst = &t
		}
	}

	return e, nil
}

func scanEscrows(rows *sql.Rows) ([]*Escrow, error) {
	result := []*Escrow{}
	for rows.Next() {
		e, err := scanEscrow(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

// nullString converts an empty Go string to sql.NullString.
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

// nullTime converts a *time.Time to sql.NullTime.
func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// Compile-time assertion that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)
