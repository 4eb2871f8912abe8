package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mbd888/rekberpay/internal/identity"
	"github.com/mbd888/rekberpay/internal/txn"
)

// PostgresStore persists users, KYC submissions and the blacklist.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed user store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const userColumns = `id, open_id, name, email, phone, profile_image, bio, login_method,
		       role, kyc_status, kyc_verified_at, is_active, is_frozen, frozen_reason, frozen_at,
		       created_at, updated_at, last_signed_in`

func (p *PostgresStore) Create(ctx context.Context, u *User) error {
	err := txn.Conn(ctx, p.db).QueryRowContext(ctx, `
		INSERT INTO users (open_id, name, email, phone, profile_image, bio, login_method,
		                   role, kyc_status, is_active, is_frozen, created_at, updated_at, last_signed_in)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id`,
		u.OpenID, nullString(u.Name), nullString(u.Email), nullString(u.Phone),
		nullString(u.ProfileImage), nullString(u.Bio), nullString(u.LoginMethod),
		string(u.Role), string(u.KYCStatus), u.IsActive, u.IsFrozen,
		u.CreatedAt, u.UpdatedAt, u.LastSignedIn,
	).Scan(&u.ID)
	if txn.IsUniqueViolation(err) {
		return ErrUserExists
	}
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id int64) (*User, error) {
	row := txn.Conn(ctx, p.db).QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

func (p *PostgresStore) GetByOpenID(ctx context.Context, openID string) (*User, error) {
	row := txn.Conn(ctx, p.db).QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE open_id = $1`, openID)
	return scanUser(row)
}

func (p *PostgresStore) Update(ctx context.Context, u *User) error {
	result, err := txn.Conn(ctx, p.db).ExecContext(ctx, `
		UPDATE users SET
			name = $1, email = $2, phone = $3, profile_image = $4, bio = $5,
			role = $6, kyc_status = $7, kyc_verified_at = $8,
			is_active = $9, is_frozen = $10, frozen_reason = $11, frozen_at = $12,
			updated_at = $13, last_signed_in = $14
		WHERE id = $15`,
		nullString(u.Name), nullString(u.Email), nullString(u.Phone), nullString(u.ProfileImage), nullString(u.Bio),
		string(u.Role), string(u.KYCStatus), nullTime(u.KYCVerifiedAt),
		u.IsActive, u.IsFrozen, nullString(u.FrozenReason), nullTime(u.FrozenAt),
		u.UpdatedAt, u.LastSignedIn, u.ID,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return identity.ErrUserNotFound
	}
	return nil
}

func (p *PostgresStore) List(ctx context.Context, limit, offset int) ([]*User, error) {
	rows, err := txn.Conn(ctx, p.db).QueryContext(ctx,
		`SELECT `+userColumns+` FROM users ORDER BY id LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	result := []*User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, u)
	}
	return result, rows.Err()
}

func (p *PostgresStore) CreateKYC(ctx context.Context, k *KYCSubmission) error {
	_, err := txn.Conn(ctx, p.db).ExecContext(ctx, `
		INSERT INTO user_kyc (id, user_id, id_type, id_number, full_name, date_of_birth, address,
		                      status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		k.ID, k.UserID, k.IDType, k.IDNumber, k.FullName, k.DateOfBirth, k.Address,
		string(k.Status), k.CreatedAt, k.UpdatedAt,
	)
	return err
}

func (p *PostgresStore) HasPendingKYC(ctx context.Context, userID int64) (bool, error) {
	var pending bool
	err := txn.Conn(ctx, p.db).QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM user_kyc WHERE user_id = $1 AND status = 'pending')`,
		userID,
	).Scan(&pending)
	return pending, err
}

// BlacklistStore returns a view of p implementing BlacklistStore.
func (p *PostgresStore) BlacklistStore() BlacklistStore { return (*postgresBlacklist)(p) }

type postgresBlacklist PostgresStore

const blacklistColumns = `id, entry_type, entry_value, reason, source, added_by, expires_at, is_active, created_at, updated_at`

func (b *postgresBlacklist) Add(ctx context.Context, e *BlacklistEntry) error {
	_, err := txn.Conn(ctx, b.db).ExecContext(ctx, `
		INSERT INTO blacklist (`+blacklistColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		e.ID, string(e.Type), e.Value, e.Reason, e.Source, nullID(e.AddedBy),
		nullTime(e.ExpiresAt), e.IsActive, e.CreatedAt, e.UpdatedAt,
	)
	return err
}

func (b *postgresBlacklist) Get(ctx context.Context, id string) (*BlacklistEntry, error) {
	row := txn.Conn(ctx, b.db).QueryRowContext(ctx, `SELECT `+blacklistColumns+` FROM blacklist WHERE id = $1`, id)
	e, err := scanBlacklist(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrBlacklistNotFound
	}
	return e, err
}

func (b *postgresBlacklist) Deactivate(ctx context.Context, id string, at time.Time) error {
	result, err := txn.Conn(ctx, b.db).ExecContext(ctx,
		`UPDATE blacklist SET is_active = FALSE, updated_at = $1 WHERE id = $2`, at, id)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrBlacklistNotFound
	}
	return nil
}

func (b *postgresBlacklist) List(ctx context.Context, limit, offset int) ([]*BlacklistEntry, error) {
	rows, err := txn.Conn(ctx, b.db).QueryContext(ctx,
		`SELECT `+blacklistColumns+` FROM blacklist ORDER BY created_at DESC, id DESC LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	result := []*BlacklistEntry{}
	for rows.Next() {
		e, err := scanBlacklist(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

func (b *postgresBlacklist) Match(ctx context.Context, lookups []Lookup, now time.Time) (*BlacklistEntry, error) {
	if len(lookups) == 0 {
		return nil, nil
	}
	conds := make([]string, len(lookups))
	args := []any{now}
	for i, l := range lookups {
		conds[i] = fmt.Sprintf("(entry_type = $%d AND entry_value = $%d)", len(args)+1, len(args)+2)
		args = append(args, string(l.Type), l.Value)
	}

	row := txn.Conn(ctx, b.db).QueryRowContext(ctx, `
		SELECT `+blacklistColumns+` FROM blacklist
		WHERE is_active AND (expires_at IS NULL OR expires_at > $1)
		  AND (`+strings.Join(conds, " OR ")+`)
		ORDER BY created_at
		LIMIT 1`, args...)
	e, err := scanBlacklist(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return e, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(s scanner) (*User, error) {
	var (
		u                                                 User
		name, email, phone, image, bio, method, frozenWhy sql.NullString
		role, kyc                                         string
		kycAt, frozenAt                                   sql.NullTime
	)
	err := s.Scan(
		&u.ID, &u.OpenID, &name, &email, &phone, &image, &bio, &method,
		&role, &kyc, &kycAt, &u.IsActive, &u.IsFrozen, &frozenWhy, &frozenAt,
		&u.CreatedAt, &u.UpdatedAt, &u.LastSignedIn,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, identity.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}

	u.Name = name.String
	u.Email = email.String
	u.Phone = phone.String
	u.ProfileImage = image.String
	u.Bio = bio.String
	u.LoginMethod = method.String
	u.Role = identity.Role(role)
	u.KYCStatus = KYCStatus(kyc)
	u.FrozenReason = frozenWhy.String
	if kycAt.Valid {
		u.KYCVerifiedAt = &kycAt.Time
	}
	if frozenAt.Valid {
		u.FrozenAt = &frozenAt.Time
	}
	return &u, nil
}

func scanBlacklist(s scanner) (*BlacklistEntry, error) {
	var (
		e         BlacklistEntry
		entryType string
		addedBy   sql.NullInt64
		expiresAt sql.NullTime
	)
	err := s.Scan(&e.ID, &entryType, &e.Value, &e.Reason, &e.Source, &addedBy,
		&expiresAt, &e.IsActive, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	e.Type = EntryType(entryType)
	e.AddedBy = addedBy.Int64
	if expiresAt.Valid {
		e.ExpiresAt = &expiresAt.Time
	}
	return &e, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// nullID maps the system actor (id 0) to NULL.
func nullID(id int64) sql.NullInt64 {
	if id == identity.SystemUserID {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: id, Valid: true}
}

var (
	_ Store          = (*PostgresStore)(nil)
	_ BlacklistStore = (*postgresBlacklist)(nil)
)
