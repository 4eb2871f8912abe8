package notify

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mbd888/rekberpay/internal/pagination"
	"github.com/mbd888/rekberpay/internal/txn"
)

// PostgresStore is a PostgreSQL-backed notification store.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed notification store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const notificationColumns = `id, user_id, type, title, message,
		       COALESCE(related_entity_type, ''), COALESCE(related_entity_id, ''),
		       is_read, read_at, created_at`

func (p *PostgresStore) Create(ctx context.Context, n *Notification) error {
	_, err := txn.Conn(ctx, p.db).ExecContext(ctx, `
		INSERT INTO notifications (
			id, user_id, type, title, message, related_entity_type, related_entity_id,
			is_read, read_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		n.ID, n.UserID, n.Type, n.Title, n.Message,
		nullString(n.RelatedEntityType), nullString(n.RelatedEntityID),
		n.IsRead, n.ReadAt, n.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Notification, error) {
	row := txn.Conn(ctx, p.db).QueryRowContext(ctx,
		`SELECT `+notificationColumns+` FROM notifications WHERE id = $1`, id)
	n, err := scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotificationNotFound
	}
	return n, err
}

func (p *PostgresStore) MarkRead(ctx context.Context, id string, at time.Time) error {
	result, err := txn.Conn(ctx, p.db).ExecContext(ctx, `
		UPDATE notifications SET is_read = TRUE, read_at = $1
		WHERE id = $2 AND NOT is_read`, at, id)
	if err != nil {
		return fmt.Errorf("failed to mark notification read: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		var exists bool
		if err := txn.Conn(ctx, p.db).QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM notifications WHERE id = $1)`, id).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrNotificationNotFound
		}
	}
	return nil
}

func (p *PostgresStore) MarkAllRead(ctx context.Context, userID int64, at time.Time) (int64, error) {
	result, err := txn.Conn(ctx, p.db).ExecContext(ctx, `
		UPDATE notifications SET is_read = TRUE, read_at = $1
		WHERE user_id = $2 AND NOT is_read`, at, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to mark notifications read: %w", err)
	}
	return result.RowsAffected()
}

func (p *PostgresStore) List(ctx context.Context, userID int64, unreadOnly bool, after *pagination.Cursor, limit int) ([]*Notification, error) {
	var (
		cursorAt sql.NullTime
		cursorID string
	)
	if after != nil {
		cursorAt = sql.NullTime{Time: after.CreatedAt, Valid: true}
		cursorID = after.ID
	}
	rows, err := txn.Conn(ctx, p.db).QueryContext(ctx, `
		SELECT `+notificationColumns+`
		FROM notifications
		WHERE user_id = $1
		  AND (NOT $2 OR NOT is_read)
		  AND ($3::timestamptz IS NULL OR (created_at, id) < ($3::timestamptz, $4))
		ORDER BY created_at DESC, id DESC
		LIMIT $5`,
		userID, unreadOnly, cursorAt, cursorID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query notifications: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*Notification
	for rows.Next() {
		n, err := scan(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, n)
	}
	return result, rows.Err()
}

func (p *PostgresStore) UnreadCount(ctx context.Context, userID int64) (int, error) {
	var count int
	err := txn.Conn(ctx, p.db).QueryRowContext(ctx,
		`SELECT COUNT(*) FROM notifications WHERE user_id = $1 AND NOT is_read`, userID).Scan(&count)
	return count, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(row scanner) (*Notification, error) {
	var (
		n      Notification
		readAt sql.NullTime
	)
	if err := row.Scan(&n.ID, &n.UserID, &n.Type, &n.Title, &n.Message,
		&n.RelatedEntityType, &n.RelatedEntityID, &n.IsRead, &readAt, &n.CreatedAt); err != nil {
		return nil, err
	}
	if readAt.Valid {
		t := readAt.Time
		n.ReadAt = &t
	}
	return &n, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
