package users

import (
	"context"
	"strings"
	"time"

	"github.com/mbd888/rekberpay/internal/effects"
	"github.com/mbd888/rekberpay/internal/identity"
	"github.com/mbd888/rekberpay/internal/idgen"
	"github.com/mbd888/rekberpay/internal/pagination"
	"github.com/mbd888/rekberpay/internal/validation"
)

// EntryType is what a blacklist entry matches against.
type EntryType string

const (
	EntryUserID      EntryType = "user_id"
	EntryEmail       EntryType = "email"
	EntryPhone       EntryType = "phone"
	EntryBankAccount EntryType = "bank_account"
	EntryIPAddress   EntryType = "ip_address"
)

// BlacklistEntry blocks a user, contact or account from transacting.
type BlacklistEntry struct {
	ID        string     `json:"id"`
	Type      EntryType  `json:"entryType"`
	Value     string     `json:"entryValue"`
	Reason    string     `json:"reason"`
	Source    string     `json:"source"`
	AddedBy   int64      `json:"addedBy"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	IsActive  bool       `json:"isActive"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// ActiveAt reports whether the entry blocks at time t.
func (b *BlacklistEntry) ActiveAt(t time.Time) bool {
	return b.IsActive && (b.ExpiresAt == nil || b.ExpiresAt.After(t))
}

// Lookup is one value to test against the blacklist.
type Lookup struct {
	Type  EntryType
	Value string
}

// BlacklistStore persists blacklist entries.
type BlacklistStore interface {
	Add(ctx context.Context, b *BlacklistEntry) error
	Get(ctx context.Context, id string) (*BlacklistEntry, error)
	Deactivate(ctx context.Context, id string, at time.Time) error
	List(ctx context.Context, limit, offset int) ([]*BlacklistEntry, error)
	// Match returns the first entry active at now matching any lookup, or nil.
	Match(ctx context.Context, lookups []Lookup, now time.Time) (*BlacklistEntry, error)
}

// BlacklistRequest is the admin input for a new entry.
type BlacklistRequest struct {
	EntryType  EntryType  `json:"entryType"`
	EntryValue string     `json:"entryValue"`
	Reason     string     `json:"reason"`
	Source     string     `json:"source"`
	ExpiresAt  *time.Time `json:"expiresAt"`
}

// AddBlacklist adds an entry. Admin only.
func (s *Service) AddBlacklist(ctx context.Context, actor identity.Actor, req BlacklistRequest) (*BlacklistEntry, error) {
	if !actor.IsAdmin() {
		return nil, ErrForbidden
	}
	source := req.Source
	if source == "" {
		source = "manual"
	}
	now := s.now()
	if errs := validation.Validate(
		validation.OneOf("entryType", string(req.EntryType),
			string(EntryUserID), string(EntryEmail), string(EntryPhone), string(EntryBankAccount), string(EntryIPAddress)),
		validation.Required("entryValue", req.EntryValue),
		validation.MaxLength("entryValue", req.EntryValue, 255),
		validation.Required("reason", req.Reason),
		validation.OneOf("source", source, "manual", "automated", "external"),
		validation.Check(req.ExpiresAt == nil || req.ExpiresAt.After(now), "expiresAt", "must be in the future"),
	); len(errs) > 0 {
		return nil, errs
	}

	value := strings.TrimSpace(req.EntryValue)
	if req.EntryType == EntryEmail {
		value = strings.ToLower(value)
	}
	b := &BlacklistEntry{
		ID:        idgen.New(),
		Type:      req.EntryType,
		Value:     value,
		Reason:    validation.SanitizeString(req.Reason, validation.MaxStringLength),
		Source:    source,
		AddedBy:   actor.UserID,
		ExpiresAt: req.ExpiresAt,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}

	var fx effects.List
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		if err := s.blacklist.Add(ctx, b); err != nil {
			return err
		}
		fx.Audit(effects.EntityBlacklist, b.ID, "created", actor.UserID, nil, b)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("blacklist entry added", "entry_id", b.ID, "entry_type", b.Type, "admin_id", actor.UserID)
	s.effects.Dispatch(ctx, fx.Stamped(s.now()))
	return b, nil
}

// RemoveBlacklist deactivates an entry. Admin only.
func (s *Service) RemoveBlacklist(ctx context.Context, actor identity.Actor, id string) error {
	if !actor.IsAdmin() {
		return ErrForbidden
	}

	var fx effects.List
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		b, err := s.blacklist.Get(ctx, id)
		if err != nil {
			return err
		}
		if err := s.blacklist.Deactivate(ctx, id, s.now()); err != nil {
			return err
		}
		fx.Audit(effects.EntityBlacklist, id, "removed", actor.UserID,
			map[string]any{"isActive": b.IsActive}, map[string]any{"isActive": false})
		return nil
	})
	if err != nil {
		return err
	}

	s.effects.Dispatch(ctx, fx.Stamped(s.now()))
	return nil
}

// ListBlacklist returns entries newest first.
func (s *Service) ListBlacklist(ctx context.Context, limit, offset int) ([]*BlacklistEntry, error) {
	page := pagination.Clamp(limit, offset, 50, 200)
	return s.blacklist.List(ctx, page.Limit, page.Offset)
}
