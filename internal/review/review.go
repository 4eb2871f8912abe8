// Package review records buyer and seller feedback on completed escrows.
package review

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mbd888/rekberpay/internal/effects"
	"github.com/mbd888/rekberpay/internal/escrow"
	"github.com/mbd888/rekberpay/internal/identity"
	"github.com/mbd888/rekberpay/internal/idgen"
	"github.com/mbd888/rekberpay/internal/pagination"
	"github.com/mbd888/rekberpay/internal/txn"
	"github.com/mbd888/rekberpay/internal/validation"
)

var (
	ErrReviewExists     = errors.New("escrow already reviewed by this user")
	ErrNotParty         = errors.New("only escrow parties may review")
	ErrWrongReviewee    = errors.New("reviewee must be the other escrow party")
	ErrEscrowIncomplete = errors.New("escrow is not completed")
)

// Review is one party's rating of the other after a completed escrow.
type Review struct {
	ID                   string    `json:"id"`
	EscrowID             string    `json:"escrowId"`
	ReviewerID           int64     `json:"reviewerId"`
	RevieweeID           int64     `json:"revieweeId"`
	Rating               int       `json:"rating"`
	Title                string    `json:"title,omitempty"`
	Comment              string    `json:"comment,omitempty"`
	CommunicationRating  *int      `json:"communicationRating,omitempty"`
	ReliabilityRating    *int      `json:"reliabilityRating,omitempty"`
	ProductQualityRating *int      `json:"productQualityRating,omitempty"`
	IsPublic             bool      `json:"isPublic"`
	CreatedAt            time.Time `json:"createdAt"`
	UpdatedAt            time.Time `json:"updatedAt"`
}

// Summary aggregates the public reviews a user received.
type Summary struct {
	UserID        int64   `json:"userId"`
	Count         int     `json:"count"`
	AverageRating float64 `json:"averageRating"`
}

// Store persists reviews.
type Store interface {
	// Create fails with ErrReviewExists for a second review of one escrow by one reviewer.
	Create(ctx context.Context, r *Review) error
	ListForUser(ctx context.Context, revieweeID int64, limit, offset int) ([]*Review, error)
	Summary(ctx context.Context, revieweeID int64) (*Summary, error)
}

// Escrows resolves the escrow a review refers to.
type Escrows interface {
	Lookup(ctx context.Context, escrowID string) (*escrow.Escrow, error)
}

// CreateRequest is the input for a new review.
type CreateRequest struct {
	EscrowID             string `json:"escrowId"`
	RevieweeID           int64  `json:"revieweeId"`
	Rating               int    `json:"rating"`
	Title                string `json:"title"`
	Comment              string `json:"comment"`
	CommunicationRating  *int   `json:"communicationRating"`
	ReliabilityRating    *int   `json:"reliabilityRating"`
	ProductQualityRating *int   `json:"productQualityRating"`
}

func (r CreateRequest) validate() validation.ValidationErrors {
	checks := []func() *validation.ValidationError{
		validation.Required("escrowId", r.EscrowID),
		validation.Check(r.RevieweeID > 0, "revieweeId", "is required"),
		validation.Between("rating", r.Rating, 1, 5),
		validation.MaxLength("title", r.Title, 255),
		validation.MaxLength("comment", r.Comment, validation.MaxStringLength),
	}
	for _, sub := range []struct {
		field string
		value *int
	}{
		{"communicationRating", r.CommunicationRating},
		{"reliabilityRating", r.ReliabilityRating},
		{"productQualityRating", r.ProductQualityRating},
	} {
		if sub.value != nil {
			checks = append(checks, validation.Between(sub.field, *sub.value, 1, 5))
		}
	}
	return validation.Validate(checks...)
}

// Service implements review operations.
type Service struct {
	store   Store
	escrows Escrows
	tx      txn.Runner
	effects effects.Dispatcher
	logger  *slog.Logger
	now     func() time.Time
}

// NewService creates a review service.
func NewService(store Store, escrows Escrows, runner txn.Runner) *Service {
	return &Service{
		store:   store,
		escrows: escrows,
		tx:      runner,
		effects: effects.Discard{},
		logger:  slog.Default(),
		now:     time.Now,
	}
}

// WithEffects sets the post-commit dispatcher.
func (s *Service) WithEffects(d effects.Dispatcher) *Service {
	s.effects = d
	return s
}

// WithLogger sets the service logger.
func (s *Service) WithLogger(l *slog.Logger) *Service {
	s.logger = l
	return s
}

// WithClock overrides the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Create records the actor's review of the other party on a completed escrow.
func (s *Service) Create(ctx context.Context, actor identity.Actor, req CreateRequest) (*Review, error) {
	if errs := req.validate(); len(errs) > 0 {
		return nil, errs
	}

	var (
		r  *Review
		fx effects.List
	)
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		e, err := s.escrows.Lookup(ctx, req.EscrowID)
		if err != nil {
			return err
		}
		var other int64
		switch actor.UserID {
		case e.BuyerID:
			other = e.SellerID
		case e.SellerID:
			other = e.BuyerID
		default:
			return ErrNotParty
		}
		if req.RevieweeID != other {
			return ErrWrongReviewee
		}
		if e.Status != escrow.StatusCompleted {
			return fmt.Errorf("%w: status is %s", ErrEscrowIncomplete, e.Status)
		}

		now := s.now()
		r = &Review{
			ID:                   idgen.New(),
			EscrowID:             e.ID,
			ReviewerID:           actor.UserID,
			RevieweeID:           other,
			Rating:               req.Rating,
			Title:                validation.SanitizeString(req.Title, 255),
			Comment:              validation.SanitizeString(req.Comment, validation.MaxStringLength),
			CommunicationRating:  req.CommunicationRating,
			ReliabilityRating:    req.ReliabilityRating,
			ProductQualityRating: req.ProductQualityRating,
			IsPublic:             true,
			CreatedAt:            now,
			UpdatedAt:            now,
		}
		if err := s.store.Create(ctx, r); err != nil {
			return err
		}

		fx.Audit(effects.EntityReview, r.ID, "created", actor.UserID, nil, r)
		fx.Notify(effects.Notification{
			UserID:            other,
			Type:              effects.NotifyReviewReceived,
			Title:             "New review",
			Message:           fmt.Sprintf("You received a %d-star review for %q", r.Rating, e.Title),
			RelatedEntityType: effects.EntityReview,
			RelatedEntityID:   r.ID,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("review created", "review_id", r.ID, "escrow_id", r.EscrowID, "rating", r.Rating)
	s.effects.Dispatch(ctx, fx.Stamped(s.now()))
	return r, nil
}

// ListForUser returns public reviews the user received, newest first.
func (s *Service) ListForUser(ctx context.Context, userID int64, limit, offset int) ([]*Review, error) {
	page := pagination.Clamp(limit, offset, 20, 100)
	return s.store.ListForUser(ctx, userID, page.Limit, page.Offset)
}

// Summary returns the review count and average rating for a user.
func (s *Service) Summary(ctx context.Context, userID int64) (*Summary, error) {
	return s.store.Summary(ctx, userID)
}
