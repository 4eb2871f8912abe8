package escrow

// Status represents the lifecycle state of an escrow.
type Status string

const (
	StatusCreated        Status = "created"
	StatusPendingPayment Status = "pending_payment"
	StatusFunded         Status = "funded"
	StatusInProgress     Status = "in_progress"
	StatusCompleted      Status = "completed"
	StatusDisputed       Status = "disputed"
	StatusCancelled      Status = "cancelled"
	StatusRefunded       Status = "refunded"
)

// Statuses lists every status in lifecycle order.
func Statuses() []Status {
	return []Status{
		StatusCreated, StatusPendingPayment, StatusFunded, StatusInProgress,
		StatusCompleted, StatusDisputed, StatusCancelled, StatusRefunded,
	}
}

// transitions is the complete edge set of the lifecycle. Every status has an
// entry; terminal statuses map to an empty slice.
var transitions = map[Status][]Status{
	StatusCreated:        {StatusPendingPayment, StatusCancelled},
	StatusPendingPayment: {StatusFunded, StatusCancelled},
	StatusFunded:         {StatusInProgress, StatusCompleted, StatusDisputed, StatusRefunded},
	StatusInProgress:     {StatusCompleted, StatusDisputed, StatusRefunded},
	StatusDisputed:       {StatusCompleted, StatusRefunded},
	StatusCompleted:      {},
	StatusCancelled:      {},
	StatusRefunded:       {},
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// CanTransition reports whether the lifecycle has an edge from s to next.
func (s Status) CanTransition(next Status) bool {
	for _, to := range transitions[s] {
		if to == next {
			return true
		}
	}
	return false
}

// IsTerminal returns true if no further transition is possible.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusRefunded:
		return true
	case StatusCreated, StatusPendingPayment, StatusFunded, StatusInProgress, StatusDisputed:
		return false
	}
	return false
}

// HoldsFunds reports whether money sits in the escrow wallet in status s.
func (s Status) HoldsFunds() bool {
	switch s {
	case StatusFunded, StatusInProgress, StatusDisputed:
		return true
	case StatusCreated, StatusPendingPayment, StatusCompleted, StatusCancelled, StatusRefunded:
		return false
	}
	return false
}

// ReleaseCondition governs what unlocks fund release. All conditions are
// stored; release authorization is the same for each.
type ReleaseCondition string

const (
	ReleaseManual        ReleaseCondition = "manual"
	ReleaseConfirmation  ReleaseCondition = "confirmation"
	ReleaseDeliveryProof ReleaseCondition = "delivery_proof"
	ReleaseMilestone     ReleaseCondition = "milestone"
	ReleaseAuto          ReleaseCondition = "auto"
)

// Valid reports whether c is a known release condition.
func (c ReleaseCondition) Valid() bool {
	switch c {
	case ReleaseManual, ReleaseConfirmation, ReleaseDeliveryProof, ReleaseMilestone, ReleaseAuto:
		return true
	}
	return false
}

// PartyRole selects which side of an escrow a listing is for.
type PartyRole string

const (
	RoleBuyer  PartyRole = "buyer"
	RoleSeller PartyRole = "seller"
)

// Valid reports whether r is buyer or seller.
func (r PartyRole) Valid() bool {
	return r == RoleBuyer || r == RoleSeller
}
