// Package dispute runs the dispute workflow attached to a funded escrow.
//
// A buyer or seller opens a dispute, which moves the escrow to disputed in
// the same unit of work. Parties exchange messages and evidence, an admin may
// assign a mediator, and an admin or the mediator resolves the dispute. The
// resolution settles the escrow wallet.
package dispute

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/mbd888/rekberpay/internal/effects"
	"github.com/mbd888/rekberpay/internal/escrow"
	"github.com/mbd888/rekberpay/internal/identity"
	"github.com/mbd888/rekberpay/internal/txn"
)

var (
	ErrDisputeNotFound = errors.New("dispute not found")
	ErrDisputeExists   = errors.New("escrow already has a dispute")
	ErrForbidden       = errors.New("not authorized for this dispute operation")
	ErrInvalidStatus   = errors.New("invalid dispute status for this operation")
	ErrNotMediator     = errors.New("user is not a mediator")
)

// Status is the dispute sub-lifecycle state.
type Status string

const (
	StatusOpen      Status = "open"
	StatusInReview  Status = "in_review"
	StatusMediation Status = "mediation"
	StatusEscalated Status = "escalated"
	StatusResolved  Status = "resolved"
	StatusClosed    Status = "closed"
)

var transitions = map[Status][]Status{
	StatusOpen:      {StatusInReview, StatusMediation, StatusEscalated, StatusResolved},
	StatusInReview:  {StatusMediation, StatusEscalated, StatusResolved},
	StatusMediation: {StatusEscalated, StatusResolved},
	StatusEscalated: {StatusResolved},
	StatusResolved:  {StatusClosed},
	StatusClosed:    nil,
}

// CanTransition reports whether s may move to next.
func (s Status) CanTransition(next Status) bool {
	for _, n := range transitions[s] {
		if n == next {
			return true
		}
	}
	return false
}

// Settled reports whether the dispute outcome is final.
func (s Status) Settled() bool {
	return s == StatusResolved || s == StatusClosed
}

// Resolution is the outcome applied to the escrow wallet.
type Resolution string

const (
	ResolutionFullRefund  Resolution = "full_refund"
	ResolutionFullRelease Resolution = "full_release"
	ResolutionSplit       Resolution = "split"
	ResolutionCustom      Resolution = "custom"
)

// NeedsShare reports whether the resolution carries an explicit seller share.
func (r Resolution) NeedsShare() bool {
	switch r {
	case ResolutionSplit, ResolutionCustom:
		return true
	}
	return false
}

// Evidence is one submission by a party.
type Evidence struct {
	Description string    `json:"description"`
	URLs        []string  `json:"urls,omitempty"`
	SubmittedBy int64     `json:"submittedBy"`
	SubmittedAt time.Time `json:"submittedAt"`
}

// Dispute is a disagreement between the parties of one escrow.
type Dispute struct {
	ID                string      `json:"id"`
	EscrowID          string      `json:"escrowId"`
	InitiatedBy       int64       `json:"initiatedBy"`
	InitiatedAgainst  int64       `json:"initiatedAgainst"`
	MediatorID        *int64      `json:"mediatorId,omitempty"`
	Reason            string      `json:"reason"`
	Description       string      `json:"description,omitempty"`
	Status            Status      `json:"status"`
	Resolution        *Resolution `json:"resolution,omitempty"`
	ResolutionDetails string      `json:"resolutionDetails,omitempty"`
	SellerShare       *int64      `json:"sellerShare,omitempty"`
	BuyerEvidence     []Evidence  `json:"buyerEvidence"`
	SellerEvidence    []Evidence  `json:"sellerEvidence"`
	MediatorNotes     string      `json:"mediatorNotes,omitempty"`
	CreatedAt         time.Time   `json:"createdAt"`
	UpdatedAt         time.Time   `json:"updatedAt"`
	ResolvedAt        *time.Time  `json:"resolvedAt,omitempty"`
	ClosedAt          *time.Time  `json:"closedAt,omitempty"`
}

func (d *Dispute) clone() *Dispute {
	cp := *d
	cp.BuyerEvidence = append([]Evidence(nil), d.BuyerEvidence...)
	cp.SellerEvidence = append([]Evidence(nil), d.SellerEvidence...)
	return &cp
}

// Message is one entry in a dispute thread. Internal messages are visible
// to the mediator and admins only.
type Message struct {
	ID          string    `json:"id"`
	DisputeID   string    `json:"disputeId"`
	SenderID    int64     `json:"senderId"`
	Message     string    `json:"message"`
	Attachments []string  `json:"attachments,omitempty"`
	IsInternal  bool      `json:"isInternal"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Store persists disputes and their messages.
type Store interface {
	// Create returns ErrDisputeExists when the escrow already has a dispute.
	Create(ctx context.Context, d *Dispute) error
	Get(ctx context.Context, id string) (*Dispute, error)
	// GetForUpdate reads a dispute and locks it until the unit of work ends.
	GetForUpdate(ctx context.Context, id string) (*Dispute, error)
	GetByEscrow(ctx context.Context, escrowID string) (*Dispute, error)
	Update(ctx context.Context, d *Dispute) error
	List(ctx context.Context, status Status, limit, offset int) ([]*Dispute, error)
	AddMessage(ctx context.Context, m *Message) error
	// Messages returns a dispute's thread oldest first.
	Messages(ctx context.Context, disputeID string) ([]*Message, error)
}

// Escrows is the part of the escrow engine the workflow drives.
type Escrows interface {
	EnterDispute(ctx context.Context, actor identity.Actor, escrowID string) (*escrow.Escrow, effects.List, error)
	SettleDispute(ctx context.Context, actor identity.Actor, escrowID string, split escrow.Split) (*escrow.Escrow, effects.List, error)
	AssignMediator(ctx context.Context, escrowID string, mediatorID int64) error
	Lookup(ctx context.Context, escrowID string) (*escrow.Escrow, error)
}

// RoleLookup resolves the current role of a user.
type RoleLookup interface {
	Role(ctx context.Context, userID int64) (identity.Role, error)
}

// Service implements the dispute workflow.
type Service struct {
	store   Store
	escrows Escrows
	roles   RoleLookup
	tx      txn.Runner
	effects effects.Dispatcher
	logger  *slog.Logger
	now     func() time.Time
}

// NewService creates a dispute service. runner must be the runner the
// escrow service uses so both join one unit of work.
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

// WithRoles sets the role lookup used to validate mediator assignment.
func (s *Service) WithRoles(r RoleLookup) *Service {
	s.roles = r
	return s
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
