// Package escrow implements the escrow lifecycle engine.
//
// Flow:
//  1. Buyer creates an escrow naming a seller; a zeroed wallet is opened with it
//  2. Buyer initiates payment and receives a gateway payment reference
//  3. Payment is confirmed: a fund transaction fills the wallet
//  4. Seller may mark the work in progress
//  5. Buyer (or admin) releases: release and fee transactions drain the wallet
//  6. Either party may dispute a funded escrow; the dispute outcome settles it
//
// Each transition is one unit of work spanning the escrow row, the ledger and
// any dispute rows. Audit entries and notifications are collected during the
// unit and dispatched only after it commits.
package escrow

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/mbd888/rekberpay/internal/effects"
	"github.com/mbd888/rekberpay/internal/ledger"
	"github.com/mbd888/rekberpay/internal/txn"
)

var (
	ErrEscrowNotFound    = errors.New("escrow not found")
	ErrInvalidStatus     = errors.New("invalid escrow status for this operation")
	ErrForbidden         = errors.New("not authorized for this escrow operation")
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrSameParty         = errors.New("buyer and seller must be different users")
	ErrAccountRestricted = errors.New("account may not perform escrow operations")
	ErrPartyNotFound     = errors.New("escrow party not found")
)

// DefaultPaymentWindow is how long an escrow may stay unpaid.
const DefaultPaymentWindow = 72 * time.Hour

// DefaultCurrency is used when the caller does not pick one.
const DefaultCurrency = "IDR"

// Item is the optional listing linked to an escrow.
type Item struct {
	Title       string   `json:"title,omitempty"`
	Description string   `json:"description,omitempty"`
	Images      []string `json:"images,omitempty"`
	Price       *int64   `json:"price,omitempty"`
}

// Escrow is a single transaction between a buyer and a seller.
type Escrow struct {
	ID               string           `json:"id"`
	BuyerID          int64            `json:"buyerId"`
	SellerID         int64            `json:"sellerId"`
	MediatorID       *int64           `json:"mediatorId,omitempty"`
	Title            string           `json:"title"`
	Description      string           `json:"description,omitempty"`
	Amount           int64            `json:"amount"`
	Currency         string           `json:"currency"`
	Item             *Item            `json:"item,omitempty"`
	Status           Status           `json:"status"`
	ReleaseCondition ReleaseCondition `json:"releaseCondition"`
	PlatformFee      int64            `json:"platformFee"`
	ServiceFee       int64            `json:"serviceFee"`
	TotalFee         int64            `json:"totalFee"`
	PaymentMethod    string           `json:"paymentMethod,omitempty"`
	PaymentID        string           `json:"paymentId,omitempty"`
	PaymentURL       string           `json:"paymentUrl,omitempty"`
	SourceURL        string           `json:"sourceUrl,omitempty"`
	SourceMetadata   string           `json:"sourceMetadata,omitempty"`
	PaidAt           *time.Time       `json:"paidAt,omitempty"`
	FundedAt         *time.Time       `json:"fundedAt,omitempty"`
	CompletedAt      *time.Time       `json:"completedAt,omitempty"`
	CancelledAt      *time.Time       `json:"cancelledAt,omitempty"`
	RefundedAt       *time.Time       `json:"refundedAt,omitempty"`
	ExpiresAt        *time.Time       `json:"expiresAt,omitempty"`
	CreatedAt        time.Time        `json:"createdAt"`
	UpdatedAt        time.Time        `json:"updatedAt"`
}

// clone returns a deep copy so stores never share mutable state with callers.
func (e *Escrow) clone() *Escrow {
	cp := *e
	if e.MediatorID != nil {
		id := *e.MediatorID
		cp.MediatorID = &id
	}
	if e.Item != nil {
		item := *e.Item
		item.Images = append([]string(nil), e.Item.Images...)
		cp.Item = &item
	}
	return &cp
}

// Stats summarizes escrow volume for the admin dashboard.
type Stats struct {
	TotalEscrows   int64 `json:"totalEscrows"`
	TotalVolume    int64 `json:"totalVolume"`
	AverageAmount  int64 `json:"averageAmount"`
	CompletedCount int64 `json:"completedCount"`
	DisputedCount  int64 `json:"disputedCount"`
}

// Store persists escrow records. Calls made with a context from
// txn.Runner.WithTx join that unit of work.
type Store interface {
	Create(ctx context.Context, e *Escrow) error
	Get(ctx context.Context, id string) (*Escrow, error)
	// GetForUpdate reads an escrow and locks it until the unit of work ends.
	GetForUpdate(ctx context.Context, id string) (*Escrow, error)
	Update(ctx context.Context, e *Escrow) error
	ListByParty(ctx context.Context, userID int64, role PartyRole, limit, offset int) ([]*Escrow, error)
	List(ctx context.Context, limit, offset int) ([]*Escrow, error)
	// ListUnpaidExpired returns created/pending_payment escrows whose payment
	// window closed before the given time.
	ListUnpaidExpired(ctx context.Context, before time.Time, limit int) ([]*Escrow, error)
	Stats(ctx context.Context) (*Stats, error)
}

// AccountChecker tells whether a user may take part in money movement.
// Errors wrap identity.ErrUserNotFound or one of the restriction errors.
type AccountChecker interface {
	EnsureActive(ctx context.Context, userID int64) error
}

// FeeQuote is the fee breakdown applied to an escrow at creation.
type FeeQuote struct {
	PlatformFee int64 `json:"platformFee"`
	ServiceFee  int64 `json:"serviceFee"`
}

// Total returns the sum of both fees.
func (q FeeQuote) Total() int64 {
	return q.PlatformFee + q.ServiceFee
}

// FeeQuoter computes fees for a new escrow.
type FeeQuoter interface {
	Quote(ctx context.Context, amount int64, currency string) (FeeQuote, error)
}

// Service implements the escrow lifecycle.
type Service struct {
	store         Store
	ledger        *ledger.Ledger
	tx            txn.Runner
	gateway       PaymentGateway
	accounts      AccountChecker
	fees          FeeQuoter
	effects       effects.Dispatcher
	logger        *slog.Logger
	paymentWindow time.Duration
	currency      string
	now           func() time.Time
}

// NewService creates a new escrow service.
func NewService(store Store, l *ledger.Ledger, runner txn.Runner) *Service {
	return &Service{
		store:         store,
		ledger:        l,
		tx:            runner,
		gateway:       NewPlaceholderGateway(""),
		effects:       effects.Discard{},
		logger:        slog.Default(),
		paymentWindow: DefaultPaymentWindow,
		currency:      DefaultCurrency,
		now:           time.Now,
	}
}

// WithGateway sets the payment gateway used by InitiatePayment.
func (s *Service) WithGateway(g PaymentGateway) *Service {
	s.gateway = g
	return s
}

// WithAccountChecker enables frozen/blacklisted account enforcement.
func (s *Service) WithAccountChecker(a AccountChecker) *Service {
	s.accounts = a
	return s
}

// WithFeeQuoter sets the fee schedule consulted at creation.
func (s *Service) WithFeeQuoter(f FeeQuoter) *Service {
	s.fees = f
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

// WithPaymentWindow sets how long an escrow may stay unpaid.
func (s *Service) WithPaymentWindow(d time.Duration) *Service {
	if d > 0 {
		s.paymentWindow = d
	}
	return s
}

// WithCurrency sets the default currency code.
func (s *Service) WithCurrency(code string) *Service {
	if code != "" {
		s.currency = code
	}
	return s
}

// WithClock overrides the time source. Used in tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Ledger exposes the ledger used by the service.
func (s *Service) Ledger() *ledger.Ledger {
	return s.ledger
}
