// Package audit keeps the append-only log of state changes.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mbd888/rekberpay/internal/effects"
	"github.com/mbd888/rekberpay/internal/logging"
	"github.com/mbd888/rekberpay/internal/pagination"
)

// Entry is one audit log row. Entries are never updated or deleted.
type Entry struct {
	ID         int64           `json:"id"`
	EntityType string          `json:"entityType"`
	EntityID   string          `json:"entityId"`
	Action     string          `json:"action"`
	UserID     *int64          `json:"userId,omitempty"`
	OldValue   json.RawMessage `json:"oldValue,omitempty"`
	NewValue   json.RawMessage `json:"newValue,omitempty"`
	IPAddress  string          `json:"ipAddress,omitempty"`
	UserAgent  string          `json:"userAgent,omitempty"`
	CreatedAt  time.Time       `json:"createdAt"`
}

// Filter narrows a listing. Empty fields match everything.
type Filter struct {
	EntityType string
	EntityID   string
	Limit      int
	Offset     int
}

// Store persists audit entries.
type Store interface {
	Append(ctx context.Context, e *Entry) error
	// List returns matching entries newest first.
	List(ctx context.Context, f Filter) ([]*Entry, error)
}

// Log writes effects.Audit values to a Store.
type Log struct {
	store Store
}

// NewLog creates an audit log over store.
func NewLog(store Store) *Log {
	return &Log{store: store}
}

// Record implements effects.AuditSink. The system actor is stored without a user.
func (l *Log) Record(ctx context.Context, a effects.Audit) error {
	before, err := snapshot(a.Before)
	if err != nil {
		return fmt.Errorf("audit: encode old value: %w", err)
	}
	after, err := snapshot(a.After)
	if err != nil {
		return fmt.Errorf("audit: encode new value: %w", err)
	}

	e := &Entry{
		EntityType: a.EntityType,
		EntityID:   a.EntityID,
		Action:     a.Action,
		OldValue:   before,
		NewValue:   after,
		CreatedAt:  a.At,
	}
	if a.UserID != 0 {
		uid := a.UserID
		e.UserID = &uid
	}
	client := logging.Client(ctx)
	e.IPAddress = client.IP
	e.UserAgent = client.UserAgent
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	return l.store.Append(ctx, e)
}

// List returns entries for an entity, newest first.
func (l *Log) List(ctx context.Context, f Filter) ([]*Entry, error) {
	page := pagination.Clamp(f.Limit, f.Offset, 100, 500)
	f.Limit, f.Offset = page.Limit, page.Offset
	return l.store.List(ctx, f)
}

func snapshot(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(v)
}
