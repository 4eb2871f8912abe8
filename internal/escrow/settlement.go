package escrow

import (
	"context"
	"fmt"

	"github.com/mbd888/rekberpay/internal/effects"
	"github.com/mbd888/rekberpay/internal/identity"
	"github.com/mbd888/rekberpay/internal/ledger"
	"github.com/mbd888/rekberpay/internal/metrics"
)

// The methods in this file are called by the dispute workflow from inside its
// own unit of work. They return their effects instead of dispatching them so
// the caller can dispatch everything after its commit.

// SplitKind selects how a disputed balance is divided.
type SplitKind string

const (
	SplitReleaseAll SplitKind = "release_all"
	SplitRefundAll  SplitKind = "refund_all"
	SplitShare      SplitKind = "share"
)

// Split describes a dispute settlement. SellerShare is used with SplitShare.
type Split struct {
	Kind        SplitKind
	SellerShare int64
}

// EnterDispute moves a funded or in-progress escrow to disputed on behalf of
// one of its parties.
func (s *Service) EnterDispute(ctx context.Context, actor identity.Actor, escrowID string) (*Escrow, effects.List, error) {
	var (
		fx   effects.List
		e    *Escrow
		from Status
	)
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		var err error
		e, err = s.store.GetForUpdate(ctx, escrowID)
		if err != nil {
			return err
		}
		if err := Authorize(OpOpenDispute, actor, e); err != nil {
			return err
		}
		if e.Status != StatusFunded && e.Status != StatusInProgress {
			return statusError(e.Status, StatusDisputed)
		}
		from = e.Status
		if err := s.transition(e, StatusDisputed); err != nil {
			return err
		}
		if err := s.store.Update(ctx, e); err != nil {
			return err
		}
		fx.Audit(effects.EntityEscrow, e.ID, "disputed", actor.UserID,
			map[string]any{"status": from}, map[string]any{"status": e.Status})
		return nil
	})
	if err != nil {
		return nil, effects.List{}, err
	}
	metrics.EscrowTransitionsTotal.WithLabelValues(string(from), string(e.Status)).Inc()
	return e.clone(), fx, nil
}

// SettleDispute pays out a disputed escrow according to split. The escrow
// ends completed when the seller receives anything and refunded otherwise.
// No fee is charged on a dispute settlement.
func (s *Service) SettleDispute(ctx context.Context, actor identity.Actor, escrowID string, split Split) (*Escrow, effects.List, error) {
	var (
		fx effects.List
		e  *Escrow
	)
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		var err error
		e, err = s.store.GetForUpdate(ctx, escrowID)
		if err != nil {
			return err
		}
		if e.Status != StatusDisputed {
			return fmt.Errorf("%w: escrow is %s, not disputed", ErrInvalidStatus, e.Status)
		}

		w, err := s.ledger.Wallet(ctx, e.ID)
		if err != nil {
			return err
		}
		balance := w.CurrentBalance

		var share int64
		switch split.Kind {
		case SplitReleaseAll:
			share = balance
		case SplitRefundAll:
			share = 0
		case SplitShare:
			if split.SellerShare < 0 || split.SellerShare > balance {
				return fmt.Errorf("%w: seller share %d outside 0..%d", ErrInvalidAmount, split.SellerShare, balance)
			}
			share = split.SellerShare
		default:
			return fmt.Errorf("unknown split kind %q", split.Kind)
		}

		from := e.Status
		next := StatusRefunded
		if share > 0 {
			next = StatusCompleted
		}
		if err := s.transition(e, next); err != nil {
			return err
		}
		now := e.UpdatedAt
		if next == StatusCompleted {
			e.CompletedAt = &now
		} else {
			e.RefundedAt = &now
		}
		if err := s.store.Update(ctx, e); err != nil {
			return err
		}

		buyer, seller := e.BuyerID, e.SellerID
		if share > 0 {
			if _, _, err := s.ledger.Record(ctx, ledger.Entry{
				EscrowID:    e.ID,
				Type:        ledger.TxRelease,
				Amount:      share,
				From:        &buyer,
				To:          &seller,
				Description: "dispute settlement to seller",
			}); err != nil {
				return err
			}
		}
		refund := balance - share
		if refund > 0 {
			if _, _, err := s.ledger.Record(ctx, ledger.Entry{
				EscrowID:    e.ID,
				Type:        ledger.TxRefund,
				Amount:      refund,
				To:          &buyer,
				Description: "dispute settlement to buyer",
			}); err != nil {
				return err
			}
		}

		fx.Audit(effects.EntityEscrow, e.ID, "dispute_settled", actor.UserID,
			map[string]any{"status": from},
			map[string]any{"status": e.Status, "sellerShare": share, "buyerRefund": refund})

		return nil
	})
	if err != nil {
		return nil, effects.List{}, err
	}
	metrics.EscrowTransitionsTotal.WithLabelValues(string(StatusDisputed), string(e.Status)).Inc()
	metrics.EscrowDuration.Observe(e.UpdatedAt.Sub(e.CreatedAt).Seconds())
	return e.clone(), fx, nil
}

// AssignMediator records the mediator on the escrow so they can view it.
func (s *Service) AssignMediator(ctx context.Context, escrowID string, mediatorID int64) error {
	return s.tx.WithTx(ctx, func(ctx context.Context) error {
		e, err := s.store.GetForUpdate(ctx, escrowID)
		if err != nil {
			return err
		}
		e.MediatorID = &mediatorID
		e.UpdatedAt = s.now()
		return s.store.Update(ctx, e)
	})
}

// Lookup returns an escrow without authorization. Callers that expose the
// result must authorize it themselves.
func (s *Service) Lookup(ctx context.Context, escrowID string) (*Escrow, error) {
	return s.store.Get(ctx, escrowID)
}
