package users

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/mbd888/rekberpay/internal/txn"
)

// paymentMethodModel is the gorm mapping of the payment_methods table.
type paymentMethodModel struct {
	ID             string `gorm:"primaryKey"`
	UserID         int64  `gorm:"index"`
	Type           string
	Provider       *string
	EncryptedData  string
	DisplayName    *string
	LastFourDigits *string
	IsDefault      bool
	IsVerified     bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (paymentMethodModel) TableName() string { return "payment_methods" }

func toPaymentMethodModel(m *PaymentMethod) *paymentMethodModel {
	return &paymentMethodModel{
		ID:             m.ID,
		UserID:         m.UserID,
		Type:           string(m.Type),
		Provider:       optional(m.Provider),
		EncryptedData:  m.EncryptedData,
		DisplayName:    optional(m.DisplayName),
		LastFourDigits: optional(m.LastFourDigits),
		IsDefault:      m.IsDefault,
		IsVerified:     m.IsVerified,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

func (pm *paymentMethodModel) toDomain() *PaymentMethod {
	return &PaymentMethod{
		ID:             pm.ID,
		UserID:         pm.UserID,
		Type:           PaymentMethodType(pm.Type),
		Provider:       deref(pm.Provider),
		EncryptedData:  pm.EncryptedData,
		DisplayName:    deref(pm.DisplayName),
		LastFourDigits: deref(pm.LastFourDigits),
		IsDefault:      pm.IsDefault,
		IsVerified:     pm.IsVerified,
		CreatedAt:      pm.CreatedAt,
		UpdatedAt:      pm.UpdatedAt,
	}
}

// GormPaymentMethodStore persists payment methods through gorm.
type GormPaymentMethodStore struct {
	db *gorm.DB
}

// NewGormPaymentMethodStore creates a gorm-backed payment method store.
func NewGormPaymentMethodStore(db *gorm.DB) *GormPaymentMethodStore {
	return &GormPaymentMethodStore{db: db}
}

func (g *GormPaymentMethodStore) Create(ctx context.Context, m *PaymentMethod) error {
	return txn.Gorm(ctx, g.db).Create(toPaymentMethodModel(m)).Error
}

func (g *GormPaymentMethodStore) ListByUser(ctx context.Context, userID int64) ([]*PaymentMethod, error) {
	var models []*paymentMethodModel
	err := txn.Gorm(ctx, g.db).
		Where("user_id = ?", userID).
		Order("is_default DESC, created_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	result := make([]*PaymentMethod, len(models))
	for i, pm := range models {
		result[i] = pm.toDomain()
	}
	return result, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

var _ PaymentMethodStore = (*GormPaymentMethodStore)(nil)
