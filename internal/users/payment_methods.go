package users

import (
	"context"
	"fmt"
	"time"

	"github.com/mbd888/rekberpay/internal/effects"
	"github.com/mbd888/rekberpay/internal/identity"
	"github.com/mbd888/rekberpay/internal/idgen"
	"github.com/mbd888/rekberpay/internal/validation"
)

// PaymentMethodType is the kind of payout or payment instrument.
type PaymentMethodType string

const (
	MethodBankTransfer   PaymentMethodType = "bank_transfer"
	MethodEWallet        PaymentMethodType = "e_wallet"
	MethodCreditCard     PaymentMethodType = "credit_card"
	MethodVirtualAccount PaymentMethodType = "virtual_account"
)

// PaymentMethod is a saved instrument. EncryptedData is opaque ciphertext
// produced by the client and never returned.
type PaymentMethod struct {
	ID             string            `json:"id"`
	UserID         int64             `json:"userId"`
	Type           PaymentMethodType `json:"type"`
	Provider       string            `json:"provider,omitempty"`
	EncryptedData  string            `json:"-"`
	DisplayName    string            `json:"displayName,omitempty"`
	LastFourDigits string            `json:"lastFourDigits,omitempty"`
	IsDefault      bool              `json:"isDefault"`
	IsVerified     bool              `json:"isVerified"`
	CreatedAt      time.Time         `json:"createdAt"`
	UpdatedAt      time.Time         `json:"updatedAt"`
}

// PaymentMethodStore persists payment methods.
type PaymentMethodStore interface {
	Create(ctx context.Context, m *PaymentMethod) error
	ListByUser(ctx context.Context, userID int64) ([]*PaymentMethod, error)
}

// PaymentMethodRequest is the input for AddPaymentMethod.
type PaymentMethodRequest struct {
	Type           PaymentMethodType `json:"type"`
	Provider       string            `json:"provider"`
	EncryptedData  string            `json:"encryptedData"`
	DisplayName    string            `json:"displayName"`
	LastFourDigits string            `json:"lastFourDigits"`
}

// PaymentMethods lists the actor's saved payment methods.
func (s *Service) PaymentMethods(ctx context.Context, actor identity.Actor) ([]*PaymentMethod, error) {
	return s.methods.ListByUser(ctx, actor.UserID)
}

// AddPaymentMethod saves a payment method for the actor. The first method
// becomes the default.
func (s *Service) AddPaymentMethod(ctx context.Context, actor identity.Actor, req PaymentMethodRequest) (*PaymentMethod, error) {
	if errs := validation.Validate(
		validation.OneOf("type", string(req.Type),
			string(MethodBankTransfer), string(MethodEWallet), string(MethodCreditCard), string(MethodVirtualAccount)),
		validation.Required("encryptedData", req.EncryptedData),
		validation.MaxLength("provider", req.Provider, 64),
		validation.MaxLength("displayName", req.DisplayName, 255),
		validation.Check(req.LastFourDigits == "" || isDigits(req.LastFourDigits, 4), "lastFourDigits", "must be 4 digits"),
	); len(errs) > 0 {
		return nil, errs
	}

	now := s.now()
	m := &PaymentMethod{
		ID:             idgen.New(),
		UserID:         actor.UserID,
		Type:           req.Type,
		Provider:       req.Provider,
		EncryptedData:  req.EncryptedData,
		DisplayName:    validation.SanitizeString(req.DisplayName, 255),
		LastFourDigits: req.LastFourDigits,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		if _, err := s.store.Get(ctx, actor.UserID); err != nil {
			return err
		}
		existing, err := s.methods.ListByUser(ctx, actor.UserID)
		if err != nil {
			return err
		}
		m.IsDefault = len(existing) == 0
		if err := s.methods.Create(ctx, m); err != nil {
			return fmt.Errorf("save payment method: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	var fx effects.List
	fx.Audit(effects.EntityPaymentMethod, m.ID, "created", actor.UserID, nil,
		map[string]any{"type": m.Type, "provider": m.Provider, "lastFourDigits": m.LastFourDigits})
	s.effects.Dispatch(ctx, fx.Stamped(s.now()))
	return m, nil
}

func isDigits(s string, n int) bool {
	if len(s) != n {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
