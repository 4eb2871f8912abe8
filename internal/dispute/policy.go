package dispute

import "github.com/mbd888/rekberpay/internal/identity"

// Relation is the set of ways an actor relates to a dispute.
type Relation uint8

const (
	RelParty Relation = 1 << iota
	RelMediator
	RelAdmin
)

// Operation names a dispute action subject to authorization.
type Operation string

const (
	OpView           Operation = "view"
	OpMessage        Operation = "message"
	OpInternalNote   Operation = "internal_note"
	OpEvidence       Operation = "evidence"
	OpAssignMediator Operation = "assign_mediator"
	OpUpdateStatus   Operation = "update_status"
	OpResolve        Operation = "resolve"
	OpClose          Operation = "close"
)

var policy = map[Operation]Relation{
	OpView:           RelParty | RelMediator | RelAdmin,
	OpMessage:        RelParty | RelMediator | RelAdmin,
	OpInternalNote:   RelMediator | RelAdmin,
	OpEvidence:       RelParty,
	OpAssignMediator: RelAdmin,
	OpUpdateStatus:   RelMediator | RelAdmin,
	OpResolve:        RelMediator | RelAdmin,
	OpClose:          RelMediator | RelAdmin,
}

// Relations computes how actor relates to d.
func Relations(actor identity.Actor, d *Dispute) Relation {
	var r Relation
	if actor.UserID == d.InitiatedBy || actor.UserID == d.InitiatedAgainst {
		r |= RelParty
	}
	if d.MediatorID != nil && actor.UserID == *d.MediatorID {
		r |= RelMediator
	}
	if actor.IsAdmin() {
		r |= RelAdmin
	}
	return r
}

// Authorize returns ErrForbidden unless actor may perform op on d.
func Authorize(op Operation, actor identity.Actor, d *Dispute) error {
	allowed, ok := policy[op]
	if !ok || Relations(actor, d)&allowed == 0 {
		return ErrForbidden
	}
	return nil
}
