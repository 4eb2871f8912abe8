package audit

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/mbd888/rekberpay/internal/txn"
)

// PostgresStore is a PostgreSQL-backed audit store.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed audit store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Append(ctx context.Context, e *Entry) error {
	var userID sql.NullInt64
	if e.UserID != nil {
		userID = sql.NullInt64{Int64: *e.UserID, Valid: true}
	}
	err := txn.Conn(ctx, p.db).QueryRowContext(ctx, `
		INSERT INTO audit_logs (
			entity_type, entity_id, action, user_id, old_value, new_value,
			ip_address, user_agent, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`,
		e.EntityType, e.EntityID, e.Action, userID,
		nullJSON(e.OldValue), nullJSON(e.NewValue),
		nullString(e.IPAddress), nullString(e.UserAgent), e.CreatedAt,
	).Scan(&e.ID)
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

func (p *PostgresStore) List(ctx context.Context, f Filter) ([]*Entry, error) {
	rows, err := txn.Conn(ctx, p.db).QueryContext(ctx, `
		SELECT id, entity_type, entity_id, action, user_id,
		       old_value::text, new_value::text,
		       COALESCE(ip_address, ''), COALESCE(user_agent, ''), created_at
		FROM audit_logs
		WHERE ($1::text = '' OR entity_type = $1::text)
		  AND ($2::text = '' OR entity_id = $2::text)
		ORDER BY created_at DESC, id DESC
		LIMIT $3 OFFSET $4`,
		f.EntityType, f.EntityID, f.Limit, f.Offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*Entry
	for rows.Next() {
		var (
			e        Entry
			userID   sql.NullInt64
			oldValue sql.NullString
			newValue sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.EntityType, &e.EntityID, &e.Action, &userID,
			&oldValue, &newValue, &e.IPAddress, &e.UserAgent, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		if userID.Valid {
			uid := userID.Int64
			e.UserID = &uid
		}
		if oldValue.Valid {
			e.OldValue = []byte(oldValue.String)
		}
		if newValue.Valid {
			e.NewValue = []byte(newValue.String)
		}
		result = append(result, &e)
	}
	return result, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
