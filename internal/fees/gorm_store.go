package fees

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mbd888/rekberpay/internal/txn"
)

// feeConfigModel is the gorm mapping of the fee_configs table.
type feeConfigModel struct {
	ID            string `gorm:"primaryKey"`
	Name          string `gorm:"uniqueIndex"`
	PercentageBps int64
	FixedAmount   int64
	MinAmount     *int64
	MaxAmount     *int64
	Kind          string
	Currency      string
	IsActive      bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (feeConfigModel) TableName() string { return "fee_configs" }

func (m *feeConfigModel) toDomain() *Config {
	return &Config{
		ID:            m.ID,
		Name:          m.Name,
		PercentageBps: m.PercentageBps,
		FixedAmount:   m.FixedAmount,
		MinAmount:     m.MinAmount,
		MaxAmount:     m.MaxAmount,
		Kind:          Kind(m.Kind),
		Currency:      m.Currency,
		IsActive:      m.IsActive,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

// GormStore persists fee configs through gorm.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore creates a gorm-backed fee store.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (g *GormStore) List(ctx context.Context) ([]*Config, error) {
	return g.find(txn.Gorm(ctx, g.db))
}

func (g *GormStore) Active(ctx context.Context, currency string) ([]*Config, error) {
	return g.find(txn.Gorm(ctx, g.db).Where("is_active AND currency = ?", currency))
}

func (g *GormStore) GetByName(ctx context.Context, name string) (*Config, error) {
	var m feeConfigModel
	err := txn.Gorm(ctx, g.db).Where("name = ?", name).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrConfigNotFound
	}
	if err != nil {
		return nil, err
	}
	return m.toDomain(), nil
}

func (g *GormStore) Upsert(ctx context.Context, c *Config) error {
	m := &feeConfigModel{
		ID:            c.ID,
		Name:          c.Name,
		PercentageBps: c.PercentageBps,
		FixedAmount:   c.FixedAmount,
		MinAmount:     c.MinAmount,
		MaxAmount:     c.MaxAmount,
		Kind:          string(c.Kind),
		Currency:      c.Currency,
		IsActive:      c.IsActive,
		CreatedAt:     c.CreatedAt,
		UpdatedAt:     c.UpdatedAt,
	}
	return txn.Gorm(ctx, g.db).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"percentage_bps", "fixed_amount", "min_amount", "max_amount",
			"kind", "currency", "is_active", "updated_at",
		}),
	}).Create(m).Error
}

func (g *GormStore) find(q *gorm.DB) ([]*Config, error) {
	var models []*feeConfigModel
	if err := q.Order("name").Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]*Config, len(models))
	for i, m := range models {
		out[i] = m.toDomain()
	}
	return out, nil
}

var _ Store = (*GormStore)(nil)
