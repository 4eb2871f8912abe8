package review

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/mbd888/rekberpay/internal/txn"
)

// reviewModel is the gorm mapping of the reviews table.
type reviewModel struct {
	ID                   string `gorm:"primaryKey"`
	EscrowID             string
	ReviewerID           int64
	RevieweeID           int64 `gorm:"index"`
	Rating               int
	Title                *string
	Comment              *string
	CommunicationRating  *int
	ReliabilityRating    *int
	ProductQualityRating *int
	IsPublic             bool
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

func (reviewModel) TableName() string { return "reviews" }

func toModel(r *Review) *reviewModel {
	return &reviewModel{
		ID:                   r.ID,
		EscrowID:             r.EscrowID,
		ReviewerID:           r.ReviewerID,
		RevieweeID:           r.RevieweeID,
		Rating:               r.Rating,
		Title:                optional(r.Title),
		Comment:              optional(r.Comment),
		CommunicationRating:  r.CommunicationRating,
		ReliabilityRating:    r.ReliabilityRating,
		ProductQualityRating: r.ProductQualityRating,
		IsPublic:             r.IsPublic,
		CreatedAt:            r.CreatedAt,
		UpdatedAt:            r.UpdatedAt,
	}
}

func (m *reviewModel) toDomain() *Review {
	r := &Review{
		ID:                   m.ID,
		EscrowID:             m.EscrowID,
		ReviewerID:           m.ReviewerID,
		RevieweeID:           m.RevieweeID,
		Rating:               m.Rating,
		CommunicationRating:  m.CommunicationRating,
		ReliabilityRating:    m.ReliabilityRating,
		ProductQualityRating: m.ProductQualityRating,
		IsPublic:             m.IsPublic,
		CreatedAt:            m.CreatedAt,
		UpdatedAt:            m.UpdatedAt,
	}
	if m.Title != nil {
		r.Title = *m.Title
	}
	if m.Comment != nil {
		r.Comment = *m.Comment
	}
	return r
}

// GormStore persists reviews through gorm.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore creates a gorm-backed review store.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (g *GormStore) Create(ctx context.Context, r *Review) error {
	err := txn.Gorm(ctx, g.db).Create(toModel(r)).Error
	if txn.IsUniqueViolation(err) {
		return ErrReviewExists
	}
	return err
}

func (g *GormStore) ListForUser(ctx context.Context, revieweeID int64, limit, offset int) ([]*Review, error) {
	var models []*reviewModel
	err := txn.Gorm(ctx, g.db).
		Where("reviewee_id = ? AND is_public", revieweeID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Offset(offset).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	result := make([]*Review, len(models))
	for i, m := range models {
		result[i] = m.toDomain()
	}
	return result, nil
}

func (g *GormStore) Summary(ctx context.Context, revieweeID int64) (*Summary, error) {
	var row struct {
		Count   int
		Average float64
	}
	err := txn.Gorm(ctx, g.db).
		Model(&reviewModel{}).
		Select("COUNT(*) AS count, COALESCE(AVG(rating), 0) AS average").
		Where("reviewee_id = ? AND is_public", revieweeID).
		Scan(&row).Error
	if err != nil {
		return nil, err
	}
	return &Summary{UserID: revieweeID, Count: row.Count, AverageRating: row.Average}, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

var _ Store = (*GormStore)(nil)
