package dispute

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/mbd888/rekberpay/internal/txn"
)

// PostgresStore persists disputes and messages in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed dispute store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const disputeColumns = `id, escrow_id, initiator_id, respondent_id, mediator_id, reason, description,
		       status, resolution, resolution_details, seller_share,
		       buyer_evidence, seller_evidence, mediator_notes,
		       created_at, updated_at, resolved_at, closed_at`

func (p *PostgresStore) Create(ctx context.Context, d *Dispute) error {
	buyerEv, sellerEv, err := marshalEvidence(d)
	if err != nil {
		return err
	}
	_, err = txn.Conn(ctx, p.db).ExecContext(ctx, `
		INSERT INTO disputes (`+disputeColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		d.ID, d.EscrowID, d.InitiatedBy, d.InitiatedAgainst, nullInt64(d.MediatorID), d.Reason, nullString(d.Description),
		string(d.Status), nullResolution(d.Resolution), nullString(d.ResolutionDetails), nullInt64(d.SellerShare),
		buyerEv, sellerEv, nullString(d.MediatorNotes),
		d.CreatedAt, d.UpdatedAt, nullTime(d.ResolvedAt), nullTime(d.ClosedAt),
	)
	if txn.IsUniqueViolation(err) {
		return ErrDisputeExists
	}
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Dispute, error) {
	row := txn.Conn(ctx, p.db).QueryRowContext(ctx, `SELECT `+disputeColumns+` FROM disputes WHERE id = $1`, id)
	return scanOne(row)
}

// GetForUpdate takes a row lock when called inside a transaction.
func (p *PostgresStore) GetForUpdate(ctx context.Context, id string) (*Dispute, error) {
	if txn.TxFromContext(ctx) == nil {
		return p.Get(ctx, id)
	}
	row := txn.Conn(ctx, p.db).QueryRowContext(ctx,
		`SELECT `+disputeColumns+` FROM disputes WHERE id = $1 FOR UPDATE`, id)
	return scanOne(row)
}

func (p *PostgresStore) GetByEscrow(ctx context.Context, escrowID string) (*Dispute, error) {
	row := txn.Conn(ctx, p.db).QueryRowContext(ctx,
		`SELECT `+disputeColumns+` FROM disputes WHERE escrow_id = $1`, escrowID)
	return scanOne(row)
}

func (p *PostgresStore) Update(ctx context.Context, d *Dispute) error {
	buyerEv, sellerEv, err := marshalEvidence(d)
	if err != nil {
		return err
	}
	result, err := txn.Conn(ctx, p.db).ExecContext(ctx, `
		UPDATE disputes SET
			mediator_id = $1, status = $2, resolution = $3, resolution_details = $4, seller_share = $5,
			buyer_evidence = $6, seller_evidence = $7, mediator_notes = $8,
			updated_at = $9, resolved_at = $10, closed_at = $11
		WHERE id = $12`,
		nullInt64(d.MediatorID), string(d.Status), nullResolution(d.Resolution), nullString(d.ResolutionDetails),
		nullInt64(d.SellerShare), buyerEv, sellerEv, nullString(d.MediatorNotes),
		d.UpdatedAt, nullTime(d.ResolvedAt), nullTime(d.ClosedAt), d.ID,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrDisputeNotFound
	}
	return nil
}

func (p *PostgresStore) List(ctx context.Context, status Status, limit, offset int) ([]*Dispute, error) {
	rows, err := txn.Conn(ctx, p.db).QueryContext(ctx, `
		SELECT `+disputeColumns+` FROM disputes
		WHERE ($1::text = '' OR status = $1::text)
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`, string(status), limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	result := []*Dispute{}
	for rows.Next() {
		d, err := scanDispute(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, d)
	}
	return result, rows.Err()
}

func (p *PostgresStore) AddMessage(ctx context.Context, m *Message) error {
	attachments, err := json.Marshal(m.Attachments)
	if err != nil {
		return err
	}
	if m.Attachments == nil {
		attachments = []byte("[]")
	}
	_, err = txn.Conn(ctx, p.db).ExecContext(ctx, `
		INSERT INTO dispute_messages (id, dispute_id, sender_id, message, attachments, is_internal, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		m.ID, m.DisputeID, m.SenderID, m.Message, attachments, m.IsInternal, m.CreatedAt,
	)
	return err
}

func (p *PostgresStore) Messages(ctx context.Context, disputeID string) ([]*Message, error) {
	rows, err := txn.Conn(ctx, p.db).QueryContext(ctx, `
		SELECT id, dispute_id, sender_id, message, attachments, is_internal, created_at
		FROM dispute_messages
		WHERE dispute_id = $1
		ORDER BY created_at, id`, disputeID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	result := []*Message{}
	for rows.Next() {
		var (
			m           Message
			attachments []byte
		)
		if err := rows.Scan(&m.ID, &m.DisputeID, &m.SenderID, &m.Message, &attachments, &m.IsInternal, &m.CreatedAt); err != nil {
			return nil, err
		}
		if len(attachments) > 0 {
			_ = json.Unmarshal(attachments, &m.Attachments)
		}
		result = append(result, &m)
	}
	return result, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOne(row *sql.Row) (*Dispute, error) {
	d, err := scanDispute(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrDisputeNotFound
	}
	return d, err
}

func scanDispute(s scanner) (*Dispute, error) {
	var (
		d                                     Dispute
		mediatorID, sellerShare               sql.NullInt64
		description, details, notes, resolved sql.NullString
		status                                string
		buyerEv, sellerEv                     []byte
		resolvedAt, closedAt                  sql.NullTime
	)
	err := s.Scan(
		&d.ID, &d.EscrowID, &d.InitiatedBy, &d.InitiatedAgainst, &mediatorID, &d.Reason, &description,
		&status, &resolved, &details, &sellerShare,
		&buyerEv, &sellerEv, &notes,
		&d.CreatedAt, &d.UpdatedAt, &resolvedAt, &closedAt,
	)
	if err != nil {
		return nil, err
	}

	d.Status = Status(status)
	d.Description = description.String
	d.ResolutionDetails = details.String
	d.MediatorNotes = notes.String
	if mediatorID.Valid {
		d.MediatorID = &mediatorID.Int64
	}
	if sellerShare.Valid {
		d.SellerShare = &sellerShare.Int64
	}
	if resolved.Valid {
		r := Resolution(resolved.String)
		d.Resolution = &r
	}
	if resolvedAt.Valid {
		d.ResolvedAt = &resolvedAt.Time
	}
	if closedAt.Valid {
		d.ClosedAt = &closedAt.Time
	}
	d.BuyerEvidence = []Evidence{}
	d.SellerEvidence = []Evidence{}
	if len(buyerEv) > 0 {
		if err := json.Unmarshal(buyerEv, &d.BuyerEvidence); err != nil {
			return nil, err
		}
	}
	if len(sellerEv) > 0 {
		if err := json.Unmarshal(sellerEv, &d.SellerEvidence); err != nil {
			return nil, err
		}
	}
	return &d, nil
}

func marshalEvidence(d *Dispute) ([]byte, []byte, error) {
	buyer := d.BuyerEvidence
	if buyer == nil {
		buyer = []Evidence{}
	}
	seller := d.SellerEvidence
	if seller == nil {
		seller = []Evidence{}
	}
	b, err := json.Marshal(buyer)
	if err != nil {
		return nil, nil, err
	}
	s, err := json.Marshal(seller)
	if err != nil {
		return nil, nil, err
	}
	return b, s, nil
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

func nullResolution(r *Resolution) sql.NullString {
	if r == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(*r), Valid: true}
}

var _ Store = (*PostgresStore)(nil)
