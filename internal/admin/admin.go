// Package admin serves the back-office endpoints: account moderation,
// platform listings, the fee schedule, the blacklist and reconciliation.
package admin

import (
	"context"

	"github.com/mbd888/rekberpay/internal/audit"
	"github.com/mbd888/rekberpay/internal/dispute"
	"github.com/mbd888/rekberpay/internal/escrow"
	"github.com/mbd888/rekberpay/internal/fees"
	"github.com/mbd888/rekberpay/internal/identity"
	"github.com/mbd888/rekberpay/internal/reconciliation"
	"github.com/mbd888/rekberpay/internal/users"
)

// UserService is the account surface admins manage. *users.Service satisfies it.
type UserService interface {
	List(ctx context.Context, limit, offset int) ([]*users.User, error)
	Freeze(ctx context.Context, actor identity.Actor, userID int64, reason string) (*users.User, error)
	Unfreeze(ctx context.Context, actor identity.Actor, userID int64) (*users.User, error)
	AddBlacklist(ctx context.Context, actor identity.Actor, req users.BlacklistRequest) (*users.BlacklistEntry, error)
	RemoveBlacklist(ctx context.Context, actor identity.Actor, id string) error
	ListBlacklist(ctx context.Context, limit, offset int) ([]*users.BlacklistEntry, error)
}

// EscrowService lists escrows platform-wide. *escrow.Service satisfies it.
type EscrowService interface {
	ListAll(ctx context.Context, limit, offset int) ([]*escrow.Escrow, error)
	Stats(ctx context.Context) (*escrow.Stats, error)
}

// DisputeService lists disputes. *dispute.Service satisfies it.
type DisputeService interface {
	List(ctx context.Context, status dispute.Status, limit, offset int) ([]*dispute.Dispute, error)
}

// AuditLog reads the audit trail. *audit.Log satisfies it.
type AuditLog interface {
	List(ctx context.Context, f audit.Filter) ([]*audit.Entry, error)
}

// FeeSchedule manages fee configs. *fees.Schedule satisfies it.
type FeeSchedule interface {
	List(ctx context.Context) ([]*fees.Config, error)
	Upsert(ctx context.Context, actor identity.Actor, req fees.UpsertRequest) (*fees.Config, error)
}

// Reconciler runs an on-demand ledger reconciliation. *reconciliation.Runner satisfies it.
type Reconciler interface {
	RunAll(ctx context.Context) (*reconciliation.Report, error)
	Last() *reconciliation.Report
}
