// Package effects carries the side effects of an engine operation.
//
// Operations collect audit entries and notifications in a List while their
// unit of work is open and hand it to a Dispatcher only after commit. A failed
// effect is logged and counted; it never reaches the caller and never undoes
// the operation that produced it.
package effects

import (
	"context"
	"time"
)

// Entity types used in audit trails and notification links.
const (
	EntityEscrow        = "escrow"
	EntityDispute       = "dispute"
	EntityDisputeMsg    = "dispute_message"
	EntityUser          = "user"
	EntityUserKYC       = "user_kyc"
	EntityReview        = "review"
	EntityPaymentMethod = "payment_method"
	EntityFeeConfig     = "fee_config"
	EntityBlacklist     = "blacklist"
)

// Notification types delivered to users.
const (
	NotifyEscrowCreated   = "escrow_created"
	NotifyEscrowFunded    = "escrow_funded"
	NotifyEscrowStarted   = "escrow_started"
	NotifyEscrowReleased  = "escrow_released"
	NotifyEscrowCancelled = "escrow_cancelled"
	NotifyEscrowRefunded  = "escrow_refunded"
	NotifyEscrowExpired   = "escrow_expired"
	NotifyDisputeCreated  = "dispute_created"
	NotifyDisputeMessage  = "dispute_message"
	NotifyDisputeMediator = "dispute_mediator_assigned"
	NotifyDisputeStatus   = "dispute_status_changed"
	NotifyDisputeResolved = "dispute_resolved"
	NotifyReviewReceived  = "review_received"
	NotifyAccountFrozen   = "account_frozen"
	NotifyAccountUnfrozen = "account_unfrozen"
)

// Audit is one append-only audit log entry.
type Audit struct {
	EntityType string
	EntityID   string
	Action     string
	UserID     int64
	Before     any
	After      any
	At         time.Time
}

// Notification is one user-facing message.
type Notification struct {
	UserID            int64
	Type              string
	Title             string
	Message           string
	RelatedEntityType string
	RelatedEntityID   string
}

// List is the ordered set of effects produced by one operation.
type List struct {
	Audits        []Audit
	Notifications []Notification
}

// Audit appends an audit entry. Its time is left zero until Stamped.
func (l *List) Audit(entityType, entityID, action string, userID int64, before, after any) {
	l.Audits = append(l.Audits, Audit{
		EntityType: entityType,
		EntityID:   entityID,
		Action:     action,
		UserID:     userID,
		Before:     before,
		After:      after,
	})
}

// Stamped returns a copy of l whose unstamped audits carry at. Services pass
// their own clock so audit times agree with the rows they wrote.
func (l List) Stamped(at time.Time) List {
	if len(l.Audits) == 0 {
		return l
	}
	audits := make([]Audit, len(l.Audits))
	copy(audits, l.Audits)
	for i := range audits {
		if audits[i].At.IsZero() {
			audits[i].At = at
		}
	}
	l.Audits = audits
	return l
}

// Notify appends a notification.
func (l *List) Notify(n Notification) {
	l.Notifications = append(l.Notifications, n)
}

// Merge appends all effects of other.
func (l *List) Merge(other List) {
	l.Audits = append(l.Audits, other.Audits...)
	l.Notifications = append(l.Notifications, other.Notifications...)
}

// Empty reports whether the list holds no effects.
func (l List) Empty() bool {
	return len(l.Audits) == 0 && len(l.Notifications) == 0
}

// Dispatcher executes effects after the producing unit of work committed.
type Dispatcher interface {
	Dispatch(ctx context.Context, l List)
}

// Discard drops every effect.
type Discard struct{}

// Dispatch implements Dispatcher.
func (Discard) Dispatch(context.Context, List) {}
