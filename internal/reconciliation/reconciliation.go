// Package reconciliation checks escrow wallets against their transaction
// history and looks for escrows the expiry timer should have closed.
package reconciliation

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mbd888/rekberpay/internal/escrow"
	"github.com/mbd888/rekberpay/internal/ledger"
	"github.com/mbd888/rekberpay/internal/metrics"
	"github.com/mbd888/rekberpay/internal/txn"
)

const pageSize = 200

// Wallets is the ledger surface reconciliation needs. *ledger.Ledger satisfies it.
type Wallets interface {
	Wallets(ctx context.Context, limit, offset int) ([]*ledger.Wallet, error)
	Verify(ctx context.Context, escrowID string) (*ledger.Drift, error)
	Rebuild(ctx context.Context, escrowID string) (*ledger.Wallet, error)
}

// Escrows finds unpaid escrows past their payment window. *escrow.Service satisfies it.
type Escrows interface {
	UnpaidExpired(ctx context.Context, now time.Time, limit int) ([]*escrow.Escrow, error)
}

// Report summarizes one reconciliation run.
type Report struct {
	WalletsChecked int             `json:"walletsChecked"`
	Drifts         []*ledger.Drift `json:"drifts"`
	Repaired       int             `json:"repaired"`
	StuckEscrows   []string        `json:"stuckEscrows"`
	Errors         int             `json:"errors"`
	Healthy        bool            `json:"healthy"`
	Duration       time.Duration   `json:"duration"`
	Timestamp      time.Time       `json:"timestamp"`
}

// Runner executes reconciliation runs. Runs never overlap.
type Runner struct {
	wallets Wallets
	escrows Escrows
	tx      txn.Runner
	repair  bool
	logger  *slog.Logger
	now     func() time.Time

	mu   sync.Mutex
	last *Report
}

// NewRunner creates a reconciliation runner.
func NewRunner(wallets Wallets, escrows Escrows, runner txn.Runner, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		wallets: wallets,
		escrows: escrows,
		tx:      runner,
		logger:  logger,
		now:     time.Now,
	}
}

// WithRepair makes runs rewrite drifted wallets from their transactions.
func (r *Runner) WithRepair(enabled bool) *Runner {
	r.repair = enabled
	return r
}

// WithClock overrides the time source.
func (r *Runner) WithClock(now func() time.Time) *Runner {
	r.now = now
	return r
}

// RunAll checks every wallet and lists stuck escrows.
func (r *Runner) RunAll(ctx context.Context) (*Report, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	start := time.Now()
	report := &Report{
		Drifts:       []*ledger.Drift{},
		StuckEscrows: []string{},
		Timestamp:    r.now(),
	}

	for offset := 0; ; offset += pageSize {
		wallets, err := r.wallets.Wallets(ctx, pageSize, offset)
		if err != nil {
			metrics.ReconcileErrorsTotal.Inc()
			return nil, err
		}
		for _, w := range wallets {
			report.WalletsChecked++
			r.checkWallet(ctx, w.EscrowID, report)
		}
		if len(wallets) < pageSize {
			break
		}
	}

	stuck, err := r.escrows.UnpaidExpired(ctx, report.Timestamp, pageSize)
	if err != nil {
		metrics.ReconcileErrorsTotal.Inc()
		return nil, err
	}
	for _, e := range stuck {
		report.StuckEscrows = append(report.StuckEscrows, e.ID)
	}

	report.Healthy = len(report.Drifts) == report.Repaired && len(report.StuckEscrows) == 0 && report.Errors == 0
	report.Duration = time.Since(start)

	metrics.ReconcileDriftedWallets.Set(float64(len(report.Drifts)))
	metrics.ReconcileStuckEscrows.Set(float64(len(report.StuckEscrows)))
	metrics.ReconcileDuration.Observe(report.Duration.Seconds())

	if report.Healthy {
		r.logger.Info("reconciliation passed", "wallets", report.WalletsChecked)
	} else {
		r.logger.Warn("reconciliation found issues",
			"wallets", report.WalletsChecked,
			"drifts", len(report.Drifts),
			"repaired", report.Repaired,
			"stuck_escrows", len(report.StuckEscrows),
			"errors", report.Errors)
	}
	r.last = report
	return report, nil
}

// Last returns the most recent report, or nil before the first run.
func (r *Runner) Last() *Report {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

func (r *Runner) checkWallet(ctx context.Context, escrowID string, report *Report) {
	drift, err := r.wallets.Verify(ctx, escrowID)
	if err != nil {
		report.Errors++
		metrics.ReconcileErrorsTotal.Inc()
		r.logger.Warn("wallet verification failed", "escrow_id", escrowID, "error", err)
		return
	}
	if drift == nil {
		return
	}
	report.Drifts = append(report.Drifts, drift)
	r.logger.Warn("wallet drift detected", "escrow_id", escrowID,
		"stored_balance", drift.Stored.CurrentBalance, "derived_balance", drift.Derived.CurrentBalance)
	if !r.repair {
		return
	}

	err = r.tx.WithTx(ctx, func(ctx context.Context) error {
		_, err := r.wallets.Rebuild(ctx, escrowID)
		return err
	})
	if err != nil {
		report.Errors++
		metrics.ReconcileErrorsTotal.Inc()
		r.logger.Error("wallet repair failed", "escrow_id", escrowID, "error", err)
		return
	}
	report.Repaired++
}
