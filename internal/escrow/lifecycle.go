package escrow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mbd888/rekberpay/internal/effects"
	"github.com/mbd888/rekberpay/internal/identity"
	"github.com/mbd888/rekberpay/internal/idgen"
	"github.com/mbd888/rekberpay/internal/ledger"
	"github.com/mbd888/rekberpay/internal/metrics"
	"github.com/mbd888/rekberpay/internal/pagination"
	"github.com/mbd888/rekberpay/internal/traces"
	"github.com/mbd888/rekberpay/internal/validation"
)

// CreateRequest contains the parameters for creating an escrow.
// The caller becomes the buyer.
type CreateRequest struct {
	Title            string           `json:"title"`
	Description      string           `json:"description"`
	Amount           int64            `json:"amount"`
	Currency         string           `json:"currency"`
	ItemTitle        string           `json:"itemTitle"`
	ItemDescription  string           `json:"itemDescription"`
	ItemImages       []string         `json:"itemImages"`
	ItemPrice        *int64           `json:"itemPrice"`
	SellerID         int64            `json:"sellerId"`
	ReleaseCondition ReleaseCondition `json:"releaseCondition"`
	SourceURL        string           `json:"sourceUrl"`
	SourceMetadata   string           `json:"sourceMetadata"`
}

func (r *CreateRequest) validate() error {
	var itemPrice int64
	if r.ItemPrice != nil {
		itemPrice = *r.ItemPrice
	}
	return validation.Validate(
		validation.Required("title", r.Title),
		validation.MaxLength("title", r.Title, 255),
		validation.MaxLength("description", r.Description, validation.MaxStringLength),
		validation.Positive("amount", r.Amount),
		validation.Positive("sellerId", r.SellerID),
		validation.Check(r.ReleaseCondition.Valid(), "releaseCondition",
			"must be one of manual, confirmation, delivery_proof, milestone, auto"),
		validation.Check(r.Currency == "" || len(r.Currency) == 3, "currency", "must be a 3-letter code"),
		validation.NonNegative("itemPrice", itemPrice),
		validation.MaxLength("itemTitle", r.ItemTitle, 255),
		validation.Check(len(r.ItemImages) <= 20, "itemImages", "at most 20 images"),
		validation.ValidURL("sourceUrl", r.SourceURL),
	).Err()
}

// Create opens a new escrow together with its zeroed wallet.
func (s *Service) Create(ctx context.Context, actor identity.Actor, req CreateRequest) (_ *Escrow, err error) {
	ctx, span := traces.StartSpan(ctx, "escrow.Create", traces.UserID(actor.UserID), traces.Amount(req.Amount))
	defer func() { traces.End(span, err) }()

	if err := req.validate(); err != nil {
		return nil, err
	}
	if req.SellerID == actor.UserID {
		return nil, ErrSameParty
	}
	if err := s.checkAccount(ctx, actor.UserID); err != nil {
		return nil, err
	}
	if err := s.checkAccount(ctx, req.SellerID); err != nil {
		return nil, err
	}

	currency := strings.ToUpper(req.Currency)
	if currency == "" {
		currency = s.currency
	}

	var quote FeeQuote
	if s.fees != nil {
		quote, err = s.fees.Quote(ctx, req.Amount, currency)
		if err != nil {
			return nil, fmt.Errorf("quote fees: %w", err)
		}
		if quote.Total() >= req.Amount {
			return nil, validation.ValidationErrors{{Field: "amount", Message: "must exceed the fees"}}
		}
	}

	now := s.now()
	expires := now.Add(s.paymentWindow)
	e := &Escrow{
		ID:               idgen.New(),
		BuyerID:          actor.UserID,
		SellerID:         req.SellerID,
		Title:            validation.SanitizeString(req.Title, 255),
		Description:      validation.SanitizeString(req.Description, validation.MaxStringLength),
		Amount:           req.Amount,
		Currency:         currency,
		Status:           StatusCreated,
		ReleaseCondition: req.ReleaseCondition,
		PlatformFee:      quote.PlatformFee,
		ServiceFee:       quote.ServiceFee,
		TotalFee:         quote.Total(),
		SourceURL:        req.SourceURL,
		SourceMetadata:   req.SourceMetadata,
		ExpiresAt:        &expires,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if req.ItemTitle != "" || req.ItemDescription != "" || len(req.ItemImages) > 0 || req.ItemPrice != nil {
		e.Item = &Item{
			Title:       req.ItemTitle,
			Description: req.ItemDescription,
			Images:      req.ItemImages,
			Price:       req.ItemPrice,
		}
	}

	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		if err := s.store.Create(ctx, e); err != nil {
			return fmt.Errorf("create escrow record: %w", err)
		}
		if _, err := s.ledger.Open(ctx, e.ID, e.Currency); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	var fx effects.List
	fx.Audit(effects.EntityEscrow, e.ID, "created", actor.UserID, nil, e.clone())
	fx.Notify(effects.Notification{
		UserID:            e.SellerID,
		Type:              effects.NotifyEscrowCreated,
		Title:             "New Escrow Transaction",
		Message:           fmt.Sprintf("A new escrow transaction has been created for %q", e.Title),
		RelatedEntityType: effects.EntityEscrow,
		RelatedEntityID:   e.ID,
	})

	metrics.EscrowCreatedTotal.Inc()
	s.logger.Info("escrow created", "escrow_id", e.ID, "buyer_id", e.BuyerID, "seller_id", e.SellerID, "amount", e.Amount)
	s.effects.Dispatch(ctx, fx.Stamped(s.now()))
	return e.clone(), nil
}

// Get returns an escrow visible to actor.
func (s *Service) Get(ctx context.Context, actor identity.Actor, id string) (*Escrow, error) {
	e, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := Authorize(OpView, actor, e); err != nil {
		return nil, err
	}
	return e, nil
}

// ListMine returns the actor's escrows on one side, newest first.
func (s *Service) ListMine(ctx context.Context, actor identity.Actor, role PartyRole, limit, offset int) ([]*Escrow, error) {
	if !role.Valid() {
		return nil, validation.ValidationErrors{{Field: "role", Message: "must be buyer or seller"}}
	}
	page := pagination.Clamp(limit, offset, 20, 100)
	return s.store.ListByParty(ctx, actor.UserID, role, page.Limit, page.Offset)
}

// ListAll returns every escrow, newest first. Admin only at the HTTP layer.
func (s *Service) ListAll(ctx context.Context, limit, offset int) ([]*Escrow, error) {
	page := pagination.Clamp(limit, offset, 50, 200)
	return s.store.List(ctx, page.Limit, page.Offset)
}

// Stats returns aggregate escrow figures.
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	return s.store.Stats(ctx)
}

// InitiatePayment moves a created escrow to pending_payment and returns the
// gateway reference the buyer pays against. Calling it again while the escrow
// is still pending_payment replaces the reference with a fresh one.
func (s *Service) InitiatePayment(ctx context.Context, actor identity.Actor, id, method string) (_ *PaymentSession, err error) {
	ctx, span := traces.StartSpan(ctx, "escrow.InitiatePayment", traces.EscrowID(id), traces.UserID(actor.UserID))
	defer func() { traces.End(span, err) }()

	if errs := validation.Validate(
		validation.Required("paymentMethod", method),
		validation.MaxLength("paymentMethod", method, 64),
	); len(errs) > 0 {
		return nil, errs
	}

	current, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := Authorize(OpInitiatePayment, actor, current); err != nil {
		return nil, err
	}
	if !canInitiate(current.Status) {
		return nil, statusError(current.Status, StatusPendingPayment)
	}
	if err := s.checkAccount(ctx, current.BuyerID); err != nil {
		return nil, err
	}

	// The provider call happens outside the unit of work; the status is
	// re-checked under lock before the reference is stored.
	session, err := s.gateway.CreatePayment(ctx, PaymentRequest{
		EscrowID: current.ID,
		BuyerID:  current.BuyerID,
		Title:    current.Title,
		Amount:   current.Amount,
		Currency: current.Currency,
		Method:   method,
	})
	if err != nil {
		return nil, fmt.Errorf("payment gateway: %w", err)
	}

	var (
		fx         effects.List
		from       Status
		e          *Escrow
		previousID string
	)
	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		e, err = s.store.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !canInitiate(e.Status) {
			return statusError(e.Status, StatusPendingPayment)
		}
		from = e.Status
		previousID = e.PaymentID
		if from == StatusPendingPayment {
			e.UpdatedAt = s.now()
		} else if err := s.transition(e, StatusPendingPayment); err != nil {
			return err
		}
		e.PaymentMethod = method
		e.PaymentID = session.PaymentID
		e.PaymentURL = session.PaymentURL
		if err := s.store.Update(ctx, e); err != nil {
			return err
		}
		fx.Audit(effects.EntityEscrow, e.ID, "payment_initiated", actor.UserID,
			map[string]any{"status": from, "paymentId": previousID},
			map[string]any{"status": e.Status, "paymentId": e.PaymentID, "paymentMethod": method})
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.committed(ctx, from, e, fx)
	return session, nil
}

// ConfirmPayment records the buyer's payment: the escrow becomes funded and
// a fund transaction for the full amount enters the wallet.
func (s *Service) ConfirmPayment(ctx context.Context, actor identity.Actor, id string) (_ *Escrow, err error) {
	ctx, span := traces.StartSpan(ctx, "escrow.ConfirmPayment", traces.EscrowID(id), traces.UserID(actor.UserID))
	defer func() { traces.End(span, err) }()

	var (
		fx   effects.List
		from Status
		e    *Escrow
	)
	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		e, err = s.store.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := Authorize(OpConfirmPayment, actor, e); err != nil {
			return err
		}
		from = e.Status
		if err := s.transition(e, StatusFunded); err != nil {
			return err
		}
		if err := s.checkAccount(ctx, e.BuyerID); err != nil {
			return err
		}

		now := e.UpdatedAt
		e.PaidAt = &now
		e.FundedAt = &now
		if err := s.store.Update(ctx, e); err != nil {
			return err
		}

		buyer := e.BuyerID
		if _, _, err := s.ledger.Record(ctx, ledger.Entry{
			EscrowID:    e.ID,
			Type:        ledger.TxFund,
			Amount:      e.Amount,
			From:        &buyer,
			Reference:   e.PaymentID,
			Description: "escrow funded",
		}); err != nil {
			return err
		}

		fx.Audit(effects.EntityEscrow, e.ID, "payment_confirmed", actor.UserID,
			map[string]any{"status": from}, map[string]any{"status": e.Status, "amount": e.Amount})
		fx.Notify(effects.Notification{
			UserID:            e.SellerID,
			Type:              effects.NotifyEscrowFunded,
			Title:             "Escrow Funded",
			Message:           fmt.Sprintf("Escrow for %q has been funded", e.Title),
			RelatedEntityType: effects.EntityEscrow,
			RelatedEntityID:   e.ID,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.committed(ctx, from, e, fx)
	return e.clone(), nil
}

// MarkInProgress lets the seller signal that work on a funded escrow started.
func (s *Service) MarkInProgress(ctx context.Context, actor identity.Actor, id string) (_ *Escrow, err error) {
	ctx, span := traces.StartSpan(ctx, "escrow.MarkInProgress", traces.EscrowID(id), traces.UserID(actor.UserID))
	defer func() { traces.End(span, err) }()

	var (
		fx   effects.List
		from Status
		e    *Escrow
	)
	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		e, err = s.store.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := Authorize(OpStart, actor, e); err != nil {
			return err
		}
		from = e.Status
		if err := s.transition(e, StatusInProgress); err != nil {
			return err
		}
		if err := s.store.Update(ctx, e); err != nil {
			return err
		}
		fx.Audit(effects.EntityEscrow, e.ID, "work_started", actor.UserID,
			map[string]any{"status": from}, map[string]any{"status": e.Status})
		fx.Notify(effects.Notification{
			UserID:            e.BuyerID,
			Type:              effects.NotifyEscrowStarted,
			Title:             "Work Started",
			Message:           fmt.Sprintf("The seller started working on %q", e.Title),
			RelatedEntityType: effects.EntityEscrow,
			RelatedEntityID:   e.ID,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.committed(ctx, from, e, fx)
	return e.clone(), nil
}

// Release pays the seller: the balance minus fees goes out as a release
// transaction and the fees as a fee transaction.
func (s *Service) Release(ctx context.Context, actor identity.Actor, id string) (_ *Escrow, err error) {
	ctx, span := traces.StartSpan(ctx, "escrow.Release", traces.EscrowID(id), traces.UserID(actor.UserID))
	defer func() { traces.End(span, err) }()

	var (
		fx   effects.List
		from Status
		e    *Escrow
	)
	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		e, err = s.store.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := Authorize(OpRelease, actor, e); err != nil {
			return err
		}
		if e.Status != StatusFunded && e.Status != StatusInProgress {
			return statusError(e.Status, StatusCompleted)
		}
		if !actor.IsAdmin() {
			if err := s.checkAccount(ctx, e.BuyerID); err != nil {
				return err
			}
		}

		from = e.Status
		if err := s.transition(e, StatusCompleted); err != nil {
			return err
		}
		now := e.UpdatedAt
		e.CompletedAt = &now
		if err := s.store.Update(ctx, e); err != nil {
			return err
		}

		w, err := s.ledger.Wallet(ctx, e.ID)
		if err != nil {
			return err
		}
		fee := e.TotalFee
		if fee > w.CurrentBalance {
			fee = w.CurrentBalance
		}
		payout := w.CurrentBalance - fee

		buyer, seller := e.BuyerID, e.SellerID
		if payout > 0 {
			if _, _, err := s.ledger.Record(ctx, ledger.Entry{
				EscrowID:    e.ID,
				Type:        ledger.TxRelease,
				Amount:      payout,
				From:        &buyer,
				To:          &seller,
				Description: "payment released to seller",
			}); err != nil {
				return err
			}
		}
		if fee > 0 {
			if _, _, err := s.ledger.Record(ctx, ledger.Entry{
				EscrowID:    e.ID,
				Type:        ledger.TxFee,
				Amount:      fee,
				From:        &buyer,
				Description: "platform and service fee",
				Metadata: map[string]string{
					"platformFee": fmt.Sprint(e.PlatformFee),
					"serviceFee":  fmt.Sprint(e.ServiceFee),
				},
			}); err != nil {
				return err
			}
		}

		fx.Audit(effects.EntityEscrow, e.ID, "payment_released", actor.UserID,
			map[string]any{"status": from},
			map[string]any{"status": e.Status, "payout": payout, "fee": fee})
		fx.Notify(effects.Notification{
			UserID:            e.SellerID,
			Type:              effects.NotifyEscrowReleased,
			Title:             "Payment Released",
			Message:           fmt.Sprintf("Payment for %q has been released", e.Title),
			RelatedEntityType: effects.EntityEscrow,
			RelatedEntityID:   e.ID,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.committed(ctx, from, e, fx)
	return e.clone(), nil
}

// Cancel abandons an escrow before any money entered it.
func (s *Service) Cancel(ctx context.Context, actor identity.Actor, id string) (_ *Escrow, err error) {
	ctx, span := traces.StartSpan(ctx, "escrow.Cancel", traces.EscrowID(id), traces.UserID(actor.UserID))
	defer func() { traces.End(span, err) }()

	var (
		fx   effects.List
		from Status
		e    *Escrow
	)
	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		e, err = s.store.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := Authorize(OpCancel, actor, e); err != nil {
			return err
		}
		from = e.Status
		if err := s.transition(e, StatusCancelled); err != nil {
			return err
		}
		now := e.UpdatedAt
		e.CancelledAt = &now
		if err := s.store.Update(ctx, e); err != nil {
			return err
		}

		fx.Audit(effects.EntityEscrow, e.ID, "cancelled", actor.UserID,
			map[string]any{"status": from}, map[string]any{"status": e.Status})
		for _, uid := range otherParties(actor, e) {
			fx.Notify(effects.Notification{
				UserID:            uid,
				Type:              effects.NotifyEscrowCancelled,
				Title:             "Escrow Cancelled",
				Message:           fmt.Sprintf("Escrow %q has been cancelled", e.Title),
				RelatedEntityType: effects.EntityEscrow,
				RelatedEntityID:   e.ID,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.committed(ctx, from, e, fx)
	return e.clone(), nil
}

// Refund returns the whole balance of a funded escrow to the buyer.
func (s *Service) Refund(ctx context.Context, actor identity.Actor, id string) (_ *Escrow, err error) {
	ctx, span := traces.StartSpan(ctx, "escrow.Refund", traces.EscrowID(id), traces.UserID(actor.UserID))
	defer func() { traces.End(span, err) }()

	var (
		fx   effects.List
		from Status
		e    *Escrow
	)
	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		e, err = s.store.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := Authorize(OpRefund, actor, e); err != nil {
			return err
		}
		if e.Status != StatusFunded && e.Status != StatusInProgress {
			return statusError(e.Status, StatusRefunded)
		}

		from = e.Status
		if err := s.transition(e, StatusRefunded); err != nil {
			return err
		}
		now := e.UpdatedAt
		e.RefundedAt = &now
		if err := s.store.Update(ctx, e); err != nil {
			return err
		}

		refunded, err := s.refundBalance(ctx, e, "refunded by admin")
		if err != nil {
			return err
		}

		fx.Audit(effects.EntityEscrow, e.ID, "payment_refunded", actor.UserID,
			map[string]any{"status": from}, map[string]any{"status": e.Status, "refunded": refunded})
		for _, uid := range []int64{e.BuyerID, e.SellerID} {
			fx.Notify(effects.Notification{
				UserID:            uid,
				Type:              effects.NotifyEscrowRefunded,
				Title:             "Escrow Refunded",
				Message:           fmt.Sprintf("Payment for %q has been refunded to the buyer", e.Title),
				RelatedEntityType: effects.EntityEscrow,
				RelatedEntityID:   e.ID,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.committed(ctx, from, e, fx)
	return e.clone(), nil
}

// Wallet returns the escrow's wallet.
func (s *Service) Wallet(ctx context.Context, actor identity.Actor, id string) (*ledger.Wallet, error) {
	e, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := Authorize(OpViewLedger, actor, e); err != nil {
		return nil, err
	}
	return s.ledger.Wallet(ctx, id)
}

// Transactions returns the escrow's transactions oldest first.
func (s *Service) Transactions(ctx context.Context, actor identity.Actor, id string) ([]*ledger.Transaction, error) {
	e, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := Authorize(OpViewLedger, actor, e); err != nil {
		return nil, err
	}
	return s.ledger.Transactions(ctx, id)
}

// UnpaidExpired lists unpaid escrows whose payment window closed before now
// without changing them.
func (s *Service) UnpaidExpired(ctx context.Context, now time.Time, limit int) ([]*Escrow, error) {
	return s.store.ListUnpaidExpired(ctx, now, limit)
}

// ExpireUnpaid cancels escrows whose payment window closed before now.
// It returns how many escrows were cancelled.
func (s *Service) ExpireUnpaid(ctx context.Context, now time.Time, limit int) (int, error) {
	candidates, err := s.store.ListUnpaidExpired(ctx, now, limit)
	if err != nil {
		return 0, err
	}

	system := identity.System()
	expired := 0
	for _, c := range candidates {
		var (
			fx   effects.List
			from Status
			e    *Escrow
		)
		err := s.tx.WithTx(ctx, func(ctx context.Context) error {
			var err error
			e, err = s.store.GetForUpdate(ctx, c.ID)
			if err != nil {
				return err
			}
			if e.ExpiresAt == nil || e.ExpiresAt.After(now) {
				return errNotExpired
			}
			from = e.Status
			if err := s.transition(e, StatusCancelled); err != nil {
				return err
			}
			at := e.UpdatedAt
			e.CancelledAt = &at
			if err := s.store.Update(ctx, e); err != nil {
				return err
			}

			fx.Audit(effects.EntityEscrow, e.ID, "expired", system.UserID,
				map[string]any{"status": from}, map[string]any{"status": e.Status})
			for _, uid := range []int64{e.BuyerID, e.SellerID} {
				fx.Notify(effects.Notification{
					UserID:            uid,
					Type:              effects.NotifyEscrowExpired,
					Title:             "Escrow Expired",
					Message:           fmt.Sprintf("Escrow %q was cancelled because it was not paid in time", e.Title),
					RelatedEntityType: effects.EntityEscrow,
					RelatedEntityID:   e.ID,
				})
			}
			return nil
		})
		if err != nil {
			if errors.Is(err, errNotExpired) || errors.Is(err, ErrInvalidStatus) {
				continue
			}
			s.logger.Warn("failed to expire escrow", "escrow_id", c.ID, "error", err)
			continue
		}

		expired++
		metrics.EscrowsExpiredTotal.Inc()
		s.committed(ctx, from, e, fx)
	}
	return expired, nil
}

var errNotExpired = errors.New("escrow payment window still open")

// refundBalance refunds whatever remains in the wallet to the buyer.
func (s *Service) refundBalance(ctx context.Context, e *Escrow, reason string) (int64, error) {
	w, err := s.ledger.Wallet(ctx, e.ID)
	if err != nil {
		return 0, err
	}
	if w.CurrentBalance <= 0 {
		return 0, nil
	}
	buyer := e.BuyerID
	if _, _, err := s.ledger.Record(ctx, ledger.Entry{
		EscrowID:    e.ID,
		Type:        ledger.TxRefund,
		Amount:      w.CurrentBalance,
		To:          &buyer,
		Description: reason,
	}); err != nil {
		return 0, err
	}
	return w.CurrentBalance, nil
}

// transition moves e to next if the lifecycle allows it.
func (s *Service) transition(e *Escrow, next Status) error {
	if !e.Status.CanTransition(next) {
		return statusError(e.Status, next)
	}
	e.Status = next
	e.UpdatedAt = s.now()
	return nil
}

// committed records metrics and dispatches effects once a unit of work
// has been committed.
func (s *Service) committed(ctx context.Context, from Status, e *Escrow, fx effects.List) {
	if from != e.Status {
		metrics.EscrowTransitionsTotal.WithLabelValues(string(from), string(e.Status)).Inc()
		if e.Status.IsTerminal() {
			metrics.EscrowDuration.Observe(e.UpdatedAt.Sub(e.CreatedAt).Seconds())
		}
		s.logger.Info("escrow transition", "escrow_id", e.ID, "from", from, "to", e.Status)
	}
	s.effects.Dispatch(ctx, fx.Stamped(s.now()))
}

func (s *Service) checkAccount(ctx context.Context, userID int64) error {
	if s.accounts == nil {
		return nil
	}
	err := s.accounts.EnsureActive(ctx, userID)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, identity.ErrUserNotFound):
		return fmt.Errorf("%w: user %d", ErrPartyNotFound, userID)
	case identity.Restricted(err):
		return fmt.Errorf("%w: %w", ErrAccountRestricted, err)
	default:
		return fmt.Errorf("check account %d: %w", userID, err)
	}
}

// canInitiate reports whether a payment reference may be issued in status st.
// A pending escrow may be re-issued one, e.g. after a checkout session lapsed.
func canInitiate(st Status) bool {
	return st == StatusPendingPayment || st.CanTransition(StatusPendingPayment)
}

func statusError(from, to Status) error {
	return fmt.Errorf("%w: cannot move from %s to %s", ErrInvalidStatus, from, to)
}

// otherParties returns who besides actor should hear about a change.
func otherParties(actor identity.Actor, e *Escrow) []int64 {
	var out []int64
	for _, uid := range []int64{e.BuyerID, e.SellerID} {
		if uid != actor.UserID {
			out = append(out, uid)
		}
	}
	return out
}
