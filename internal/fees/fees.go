// Package fees holds the fee schedule applied to new escrows.
package fees

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/mbd888/rekberpay/internal/effects"
	"github.com/mbd888/rekberpay/internal/escrow"
	"github.com/mbd888/rekberpay/internal/identity"
	"github.com/mbd888/rekberpay/internal/idgen"
	"github.com/mbd888/rekberpay/internal/txn"
	"github.com/mbd888/rekberpay/internal/validation"
)

var (
	ErrForbidden      = errors.New("only admins may change the fee schedule")
	ErrConfigNotFound = errors.New("fee config not found")
)

// Kind says which escrow fee field a config contributes to.
type Kind string

const (
	KindPlatform Kind = "platform"
	KindService  Kind = "service"
)

// Config is one fee rule: a basis-point percentage plus a fixed amount,
// optionally bounded.
type Config struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	PercentageBps int64     `json:"percentageBps"`
	FixedAmount   int64     `json:"fixedAmount"`
	MinAmount     *int64    `json:"minAmount,omitempty"`
	MaxAmount     *int64    `json:"maxAmount,omitempty"`
	Kind          Kind      `json:"kind"`
	Currency      string    `json:"currency"`
	IsActive      bool      `json:"isActive"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Fee returns the fee this config charges on amount.
func (c *Config) Fee(amount int64) int64 {
	// split to keep amount*bps inside int64
	fee := (amount/10_000)*c.PercentageBps + (amount%10_000)*c.PercentageBps/10_000
	fee += c.FixedAmount
	if c.MinAmount != nil && fee < *c.MinAmount {
		fee = *c.MinAmount
	}
	if c.MaxAmount != nil && fee > *c.MaxAmount {
		fee = *c.MaxAmount
	}
	return fee
}

// Store persists fee configs.
type Store interface {
	List(ctx context.Context) ([]*Config, error)
	Active(ctx context.Context, currency string) ([]*Config, error)
	GetByName(ctx context.Context, name string) (*Config, error)
	// Upsert inserts or replaces the config with the same name.
	Upsert(ctx context.Context, c *Config) error
}

// Schedule quotes fees from the active configs and lets admins edit them.
type Schedule struct {
	store   Store
	tx      txn.Runner
	effects effects.Dispatcher
	logger  *slog.Logger
	now     func() time.Time
}

// NewSchedule creates a fee schedule over store.
func NewSchedule(store Store, runner txn.Runner) *Schedule {
	return &Schedule{
		store:   store,
		tx:      runner,
		effects: effects.Discard{},
		logger:  slog.Default(),
		now:     time.Now,
	}
}

// WithEffects sets the post-commit dispatcher.
func (s *Schedule) WithEffects(d effects.Dispatcher) *Schedule {
	s.effects = d
	return s
}

// WithLogger sets the logger.
func (s *Schedule) WithLogger(l *slog.Logger) *Schedule {
	s.logger = l
	return s
}

// WithClock overrides the time source.
func (s *Schedule) WithClock(now func() time.Time) *Schedule {
	s.now = now
	return s
}

// Quote implements escrow.FeeQuoter. No active config means no fees.
func (s *Schedule) Quote(ctx context.Context, amount int64, currency string) (escrow.FeeQuote, error) {
	configs, err := s.store.Active(ctx, strings.ToUpper(currency))
	if err != nil {
		return escrow.FeeQuote{}, err
	}
	var q escrow.FeeQuote
	for _, c := range configs {
		switch c.Kind {
		case KindPlatform:
			q.PlatformFee += c.Fee(amount)
		case KindService:
			q.ServiceFee += c.Fee(amount)
		}
	}
	return q, nil
}

// List returns every config, active or not.
func (s *Schedule) List(ctx context.Context) ([]*Config, error) {
	return s.store.List(ctx)
}

// UpsertRequest is the admin input for a fee config, keyed by name.
type UpsertRequest struct {
	Name          string `json:"name"`
	PercentageBps int64  `json:"percentageBps"`
	FixedAmount   int64  `json:"fixedAmount"`
	MinAmount     *int64 `json:"minAmount"`
	MaxAmount     *int64 `json:"maxAmount"`
	Kind          Kind   `json:"kind"`
	Currency      string `json:"currency"`
	IsActive      *bool  `json:"isActive"`
}

// Upsert creates or replaces the config named req.Name. Admin only.
func (s *Schedule) Upsert(ctx context.Context, actor identity.Actor, req UpsertRequest) (*Config, error) {
	if !actor.IsAdmin() {
		return nil, ErrForbidden
	}
	if req.Kind == "" {
		req.Kind = KindPlatform
	}
	if req.Currency == "" {
		req.Currency = "IDR"
	}
	req.Currency = strings.ToUpper(req.Currency)
	if errs := validation.Validate(
		validation.Required("name", req.Name),
		validation.MaxLength("name", req.Name, 100),
		validation.Check(req.PercentageBps >= 0 && req.PercentageBps <= 10_000, "percentageBps", "must be between 0 and 10000"),
		validation.Check(req.FixedAmount >= 0, "fixedAmount", "must not be negative"),
		validation.Check(req.MinAmount == nil || *req.MinAmount >= 0, "minAmount", "must not be negative"),
		validation.Check(req.MaxAmount == nil || req.MinAmount == nil || *req.MaxAmount >= *req.MinAmount,
			"maxAmount", "must not be below minAmount"),
		validation.OneOf("kind", string(req.Kind), string(KindPlatform), string(KindService)),
		validation.Check(len(req.Currency) == 3, "currency", "must be a 3-letter code"),
	); len(errs) > 0 {
		return nil, errs
	}

	var (
		cfg *Config
		fx  effects.List
	)
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		now := s.now()
		prev, err := s.store.GetByName(ctx, req.Name)
		if err != nil && !errors.Is(err, ErrConfigNotFound) {
			return err
		}

		cfg = &Config{
			ID:            idgen.New(),
			Name:          req.Name,
			PercentageBps: req.PercentageBps,
			FixedAmount:   req.FixedAmount,
			MinAmount:     req.MinAmount,
			MaxAmount:     req.MaxAmount,
			Kind:          req.Kind,
			Currency:      req.Currency,
			IsActive:      req.IsActive == nil || *req.IsActive,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		action := "created"
		var before any
		if prev != nil {
			cfg.ID = prev.ID
			cfg.CreatedAt = prev.CreatedAt
			action = "updated"
			before = prev
		}
		if err := s.store.Upsert(ctx, cfg); err != nil {
			return err
		}
		fx.Audit(effects.EntityFeeConfig, cfg.ID, action, actor.UserID, before, cfg)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("fee config saved", "name", cfg.Name, "kind", cfg.Kind, "active", cfg.IsActive)
	s.effects.Dispatch(ctx, fx.Stamped(s.now()))
	return cfg, nil
}

var _ escrow.FeeQuoter = (*Schedule)(nil)
