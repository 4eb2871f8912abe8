package escrow

import "github.com/mbd888/rekberpay/internal/identity"

// Relation is the set of ways an actor relates to an escrow.
type Relation uint8

const (
	RelBuyer Relation = 1 << iota
	RelSeller
	RelMediator
	RelAdmin
)

// Has reports whether r includes any relation in want.
func (r Relation) Has(want Relation) bool {
	return r&want != 0
}

// Operation names an escrow action subject to authorization.
type Operation string

const (
	OpView            Operation = "view"
	OpInitiatePayment Operation = "initiate_payment"
	OpConfirmPayment  Operation = "confirm_payment"
	OpStart           Operation = "start"
	OpRelease         Operation = "release"
	OpCancel          Operation = "cancel"
	OpRefund          Operation = "refund"
	OpViewLedger      Operation = "view_ledger"
	OpOpenDispute     Operation = "open_dispute"
)

// policy maps each operation to the relations allowed to perform it.
var policy = map[Operation]Relation{
	OpView:            RelBuyer | RelSeller | RelMediator | RelAdmin,
	OpInitiatePayment: RelBuyer,
	OpConfirmPayment:  RelBuyer | RelAdmin,
	OpStart:           RelSeller,
	OpRelease:         RelBuyer | RelAdmin,
	OpCancel:          RelBuyer | RelAdmin,
	OpRefund:          RelAdmin,
	OpViewLedger:      RelBuyer | RelSeller | RelMediator | RelAdmin,
	OpOpenDispute:     RelBuyer | RelSeller,
}

// Relations computes how actor relates to e.
func Relations(actor identity.Actor, e *Escrow) Relation {
	var r Relation
	if actor.UserID == e.BuyerID {
		r |= RelBuyer
	}
	if actor.UserID == e.SellerID {
		r |= RelSeller
	}
	if e.MediatorID != nil && actor.UserID == *e.MediatorID {
		r |= RelMediator
	}
	if actor.IsAdmin() {
		r |= RelAdmin
	}
	return r
}

// Authorize returns ErrForbidden unless actor may perform op on e.
func Authorize(op Operation, actor identity.Actor, e *Escrow) error {
	allowed, ok := policy[op]
	if !ok || !Relations(actor, e).Has(allowed) {
		return ErrForbidden
	}
	return nil
}
