// Package users manages rekberpay accounts: profiles, KYC submissions,
// payment methods, account freezes and the blacklist consulted before any
// money moves.
package users

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mbd888/rekberpay/internal/effects"
	"github.com/mbd888/rekberpay/internal/identity"
	"github.com/mbd888/rekberpay/internal/idgen"
	"github.com/mbd888/rekberpay/internal/pagination"
	"github.com/mbd888/rekberpay/internal/txn"
	"github.com/mbd888/rekberpay/internal/validation"
)

var (
	ErrUserExists          = errors.New("user already exists")
	ErrForbidden           = errors.New("not authorized for this user operation")
	ErrAlreadyFrozen       = errors.New("account already frozen")
	ErrNotFrozen           = errors.New("account is not frozen")
	ErrKYCPending          = errors.New("a KYC submission is already pending")
	ErrBlacklistNotFound   = errors.New("blacklist entry not found")
)

// KYCStatus tracks identity verification. New accounts start pending; a
// pending account with no submission has simply not sent documents yet.
type KYCStatus string

const (
	KYCPending  KYCStatus = "pending"
	KYCVerified KYCStatus = "verified"
	KYCRejected KYCStatus = "rejected"
	KYCExpired  KYCStatus = "expired"
)

// User is a marketplace account.
type User struct {
	ID            int64         `json:"id"`
	OpenID        string        `json:"openId"`
	Name          string        `json:"name,omitempty"`
	Email         string        `json:"email,omitempty"`
	Phone         string        `json:"phone,omitempty"`
	ProfileImage  string        `json:"profileImage,omitempty"`
	Bio           string        `json:"bio,omitempty"`
	LoginMethod   string        `json:"loginMethod,omitempty"`
	Role          identity.Role `json:"role"`
	KYCStatus     KYCStatus     `json:"kycStatus"`
	KYCVerifiedAt *time.Time    `json:"kycVerifiedAt,omitempty"`
	IsActive      bool          `json:"isActive"`
	IsFrozen      bool          `json:"isFrozen"`
	FrozenReason  string        `json:"frozenReason,omitempty"`
	FrozenAt      *time.Time    `json:"frozenAt,omitempty"`
	CreatedAt     time.Time     `json:"createdAt"`
	UpdatedAt     time.Time     `json:"updatedAt"`
	LastSignedIn  time.Time     `json:"lastSignedIn"`
}

// Actor returns the identity the user acts as.
func (u *User) Actor() identity.Actor {
	return identity.Actor{UserID: u.ID, Role: u.Role}
}

// KYCSubmission is one identity document submitted for review.
type KYCSubmission struct {
	ID          string    `json:"id"`
	UserID      int64     `json:"userId"`
	IDType      string    `json:"idType"`
	IDNumber    string    `json:"-"`
	FullName    string    `json:"fullName"`
	DateOfBirth string    `json:"dateOfBirth"`
	Address     string    `json:"address"`
	Status      KYCStatus `json:"status"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Store persists users and KYC submissions.
type Store interface {
	// Create inserts u and assigns its ID.
	Create(ctx context.Context, u *User) error
	Get(ctx context.Context, id int64) (*User, error)
	GetByOpenID(ctx context.Context, openID string) (*User, error)
	Update(ctx context.Context, u *User) error
	List(ctx context.Context, limit, offset int) ([]*User, error)
	CreateKYC(ctx context.Context, k *KYCSubmission) error
	// HasPendingKYC reports whether the user has a submission awaiting review.
	HasPendingKYC(ctx context.Context, userID int64) (bool, error)
}

// Service implements account operations.
type Service struct {
	store     Store
	blacklist BlacklistStore
	methods   PaymentMethodStore
	tx        txn.Runner
	effects   effects.Dispatcher
	logger    *slog.Logger
	now       func() time.Time
}

// NewService creates a new user service.
func NewService(store Store, blacklist BlacklistStore, methods PaymentMethodStore, runner txn.Runner) *Service {
	return &Service{
		store:     store,
		blacklist: blacklist,
		methods:   methods,
		tx:        runner,
		effects:   effects.Discard{},
		logger:    slog.Default(),
		now:       time.Now,
	}
}

// WithEffects sets the post-commit dispatcher for audits and notifications.
func (s *Service) WithEffects(d effects.Dispatcher) *Service {
	s.effects = d
	return s
}

// WithLogger sets the service logger.
func (s *Service) WithLogger(l *slog.Logger) *Service {
	s.logger = l
	return s
}

// WithClock overrides the time source. Used in tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Get returns a user by id.
func (s *Service) Get(ctx context.Context, id int64) (*User, error) {
	return s.store.Get(ctx, id)
}

// Profile returns the actor's own account.
func (s *Service) Profile(ctx context.Context, actor identity.Actor) (*User, error) {
	return s.store.Get(ctx, actor.UserID)
}

// List returns all users, oldest first.
func (s *Service) List(ctx context.Context, limit, offset int) ([]*User, error) {
	page := pagination.Clamp(limit, offset, 50, 200)
	return s.store.List(ctx, page.Limit, page.Offset)
}

// LoginRequest identifies a user coming from the session layer.
type LoginRequest struct {
	OpenID      string        `json:"openId"`
	Name        string        `json:"name"`
	Email       string        `json:"email"`
	LoginMethod string        `json:"loginMethod"`
	Role        identity.Role `json:"role"`
}

// Login creates the user on first sight and refreshes lastSignedIn after.
// Role is honoured only when the user is created.
func (s *Service) Login(ctx context.Context, req LoginRequest) (*User, error) {
	if errs := validation.Validate(
		validation.Required("openId", req.OpenID),
		validation.MaxLength("openId", req.OpenID, 64),
		validation.MaxLength("name", req.Name, 255),
		validation.MaxLength("email", req.Email, 320),
		validation.Check(req.Role == "" || req.Role.Valid(), "role", "must be user, admin, agent_admin or mediator"),
	); len(errs) > 0 {
		return nil, errs
	}

	now := s.now()
	var u *User
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		var err error
		u, err = s.store.GetByOpenID(ctx, req.OpenID)
		switch {
		case err == nil:
			u.LastSignedIn = now
			u.UpdatedAt = now
			return s.store.Update(ctx, u)
		case errors.Is(err, identity.ErrUserNotFound):
		default:
			return err
		}

		role := req.Role
		if role == "" {
			role = identity.RoleUser
		}
		u = &User{
			OpenID:       req.OpenID,
			Name:         validation.SanitizeString(req.Name, 255),
			Email:        strings.TrimSpace(req.Email),
			LoginMethod:  req.LoginMethod,
			Role:         role,
			KYCStatus:    KYCPending,
			IsActive:     true,
			CreatedAt:    now,
			UpdatedAt:    now,
			LastSignedIn: now,
		}
		return s.store.Create(ctx, u)
	})
	if err != nil {
		return nil, err
	}
	return u, nil
}

// ProfileUpdate carries optional profile fields; nil leaves a field unchanged.
type ProfileUpdate struct {
	Name         *string `json:"name"`
	Phone        *string `json:"phone"`
	ProfileImage *string `json:"profileImage"`
	Bio          *string `json:"bio"`
}

// UpdateProfile changes the actor's own profile fields.
func (s *Service) UpdateProfile(ctx context.Context, actor identity.Actor, req ProfileUpdate) (*User, error) {
	errs := validation.Validate(
		validation.MaxLength("name", deref(req.Name), 255),
		validation.MaxLength("phone", deref(req.Phone), 32),
		validation.ValidURL("profileImage", deref(req.ProfileImage)),
		validation.MaxLength("bio", deref(req.Bio), 1000),
	)
	if len(errs) > 0 {
		return nil, errs
	}

	var (
		u  *User
		fx effects.List
	)
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		var err error
		u, err = s.store.Get(ctx, actor.UserID)
		if err != nil {
			return err
		}
		before := profileSnapshot(u)
		if req.Name != nil {
			u.Name = validation.SanitizeString(*req.Name, 255)
		}
		if req.Phone != nil {
			u.Phone = strings.TrimSpace(*req.Phone)
		}
		if req.ProfileImage != nil {
			u.ProfileImage = *req.ProfileImage
		}
		if req.Bio != nil {
			u.Bio = validation.SanitizeString(*req.Bio, 1000)
		}
		u.UpdatedAt = s.now()
		if err := s.store.Update(ctx, u); err != nil {
			return err
		}
		fx.Audit(effects.EntityUser, fmt.Sprint(u.ID), "profile_updated", actor.UserID, before, profileSnapshot(u))
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.effects.Dispatch(ctx, fx.Stamped(s.now()))
	return u, nil
}

// KYCRequest is the identity document data submitted by a user.
type KYCRequest struct {
	IDType      string `json:"idType"`
	IDNumber    string `json:"idNumber"`
	FullName    string `json:"fullName"`
	DateOfBirth string `json:"dateOfBirth"`
	Address     string `json:"address"`
}

// SubmitKYC stores a KYC submission and marks the account pending review.
// Verification itself happens outside this service.
func (s *Service) SubmitKYC(ctx context.Context, actor identity.Actor, req KYCRequest) (*KYCSubmission, error) {
	_, dobErr := time.Parse("2006-01-02", req.DateOfBirth)
	if errs := validation.Validate(
		validation.OneOf("idType", req.IDType, "ktp", "passport", "sim"),
		validation.Required("idNumber", req.IDNumber),
		validation.MaxLength("idNumber", req.IDNumber, 64),
		validation.Required("fullName", req.FullName),
		validation.MaxLength("fullName", req.FullName, 255),
		validation.Check(dobErr == nil, "dateOfBirth", "must be YYYY-MM-DD"),
		validation.Required("address", req.Address),
	); len(errs) > 0 {
		return nil, errs
	}

	var (
		k  *KYCSubmission
		fx effects.List
	)
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		u, err := s.store.Get(ctx, actor.UserID)
		if err != nil {
			return err
		}
		pending, err := s.store.HasPendingKYC(ctx, u.ID)
		if err != nil {
			return err
		}
		if pending {
			return ErrKYCPending
		}

		now := s.now()
		k = &KYCSubmission{
			ID:          idgen.New(),
			UserID:      u.ID,
			IDType:      req.IDType,
			IDNumber:    strings.TrimSpace(req.IDNumber),
			FullName:    validation.SanitizeString(req.FullName, 255),
			DateOfBirth: req.DateOfBirth,
			Address:     validation.SanitizeString(req.Address, validation.MaxStringLength),
			Status:      KYCPending,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := s.store.CreateKYC(ctx, k); err != nil {
			return err
		}

		from := u.KYCStatus
		u.KYCStatus = KYCPending
		u.UpdatedAt = now
		if err := s.store.Update(ctx, u); err != nil {
			return err
		}
		fx.Audit(effects.EntityUserKYC, k.ID, "submitted", actor.UserID,
			map[string]any{"kycStatus": from},
			map[string]any{"kycStatus": KYCPending, "idType": k.IDType})
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.effects.Dispatch(ctx, fx.Stamped(s.now()))
	return k, nil
}

// Freeze blocks an account from escrow money movement.
func (s *Service) Freeze(ctx context.Context, actor identity.Actor, userID int64, reason string) (*User, error) {
	if !actor.IsAdmin() {
		return nil, ErrForbidden
	}
	if errs := validation.Validate(
		validation.Required("reason", reason),
		validation.MaxLength("reason", reason, 500),
	); len(errs) > 0 {
		return nil, errs
	}

	var (
		u  *User
		fx effects.List
	)
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		var err error
		u, err = s.store.Get(ctx, userID)
		if err != nil {
			return err
		}
		if u.IsFrozen {
			return ErrAlreadyFrozen
		}
		now := s.now()
		u.IsFrozen = true
		u.FrozenReason = validation.SanitizeString(reason, 500)
		u.FrozenAt = &now
		u.UpdatedAt = now
		if err := s.store.Update(ctx, u); err != nil {
			return err
		}
		fx.Audit(effects.EntityUser, fmt.Sprint(u.ID), "frozen", actor.UserID,
			map[string]any{"isFrozen": false},
			map[string]any{"isFrozen": true, "reason": u.FrozenReason})
		fx.Notify(effects.Notification{
			UserID:            u.ID,
			Type:              effects.NotifyAccountFrozen,
			Title:             "Account Frozen",
			Message:           "Your account has been frozen: " + u.FrozenReason,
			RelatedEntityType: effects.EntityUser,
			RelatedEntityID:   fmt.Sprint(u.ID),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("account frozen", "user_id", userID, "admin_id", actor.UserID)
	s.effects.Dispatch(ctx, fx.Stamped(s.now()))
	return u, nil
}

// Unfreeze lifts a freeze.
func (s *Service) Unfreeze(ctx context.Context, actor identity.Actor, userID int64) (*User, error) {
	if !actor.IsAdmin() {
		return nil, ErrForbidden
	}

	var (
		u  *User
		fx effects.List
	)
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		var err error
		u, err = s.store.Get(ctx, userID)
		if err != nil {
			return err
		}
		if !u.IsFrozen {
			return ErrNotFrozen
		}
		reason := u.FrozenReason
		u.IsFrozen = false
		u.FrozenReason = ""
		u.FrozenAt = nil
		u.UpdatedAt = s.now()
		if err := s.store.Update(ctx, u); err != nil {
			return err
		}
		fx.Audit(effects.EntityUser, fmt.Sprint(u.ID), "unfrozen", actor.UserID,
			map[string]any{"isFrozen": true, "reason": reason},
			map[string]any{"isFrozen": false})
		fx.Notify(effects.Notification{
			UserID:            u.ID,
			Type:              effects.NotifyAccountUnfrozen,
			Title:             "Account Unfrozen",
			Message:           "Your account has been unfrozen",
			RelatedEntityType: effects.EntityUser,
			RelatedEntityID:   fmt.Sprint(u.ID),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("account unfrozen", "user_id", userID, "admin_id", actor.UserID)
	s.effects.Dispatch(ctx, fx.Stamped(s.now()))
	return u, nil
}

// EnsureActive reports whether a user may take part in money movement.
// It returns identity.ErrUserNotFound, ErrAccountInactive, ErrAccountFrozen
// or ErrBlacklisted, possibly wrapped.
func (s *Service) EnsureActive(ctx context.Context, userID int64) error {
	u, err := s.store.Get(ctx, userID)
	if err != nil {
		return err
	}
	switch {
	case !u.IsActive:
		return identity.ErrAccountInactive
	case u.IsFrozen:
		return identity.ErrAccountFrozen
	}

	if s.blacklist == nil {
		return nil
	}
	lookups := []Lookup{{Type: EntryUserID, Value: fmt.Sprint(u.ID)}}
	if u.Email != "" {
		lookups = append(lookups, Lookup{Type: EntryEmail, Value: strings.ToLower(u.Email)})
	}
	if u.Phone != "" {
		lookups = append(lookups, Lookup{Type: EntryPhone, Value: u.Phone})
	}
	entry, err := s.blacklist.Match(ctx, lookups, s.now())
	if err != nil {
		return fmt.Errorf("blacklist lookup: %w", err)
	}
	if entry != nil {
		return fmt.Errorf("%w: %s", identity.ErrBlacklisted, entry.Type)
	}
	return nil
}

// Role returns the current role of a user.
func (s *Service) Role(ctx context.Context, userID int64) (identity.Role, error) {
	u, err := s.store.Get(ctx, userID)
	if err != nil {
		return "", err
	}
	return u.Role, nil
}

func profileSnapshot(u *User) map[string]any {
	return map[string]any{
		"name":         u.Name,
		"phone":        u.Phone,
		"profileImage": u.ProfileImage,
		"bio":          u.Bio,
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
