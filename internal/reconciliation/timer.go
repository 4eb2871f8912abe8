package reconciliation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const (
	defaultInterval = 10 * time.Minute
	// First pass runs shortly after boot so /health has a report early.
	firstRunDelay = 30 * time.Second
)

// Timer runs the reconciler on a fixed schedule.
type Timer struct {
	runner   *Runner
	interval time.Duration
	delay    time.Duration
	logger   *slog.Logger

	running  atomic.Bool
	done     chan struct{}
	stopOnce sync.Once
}

// NewTimer schedules runner every interval (ten minutes when interval <= 0).
func NewTimer(runner *Runner, interval time.Duration, logger *slog.Logger) *Timer {
	if interval <= 0 {
		interval = defaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Timer{
		runner:   runner,
		interval: interval,
		delay:    min(firstRunDelay, interval),
		logger:   logger.With("component", "reconciliation"),
		done:     make(chan struct{}),
	}
}

// Running reports whether the loop is live.
func (t *Timer) Running() bool { return t.running.Load() }

// Start blocks until ctx is cancelled or Stop is called.
func (t *Timer) Start(ctx context.Context) {
	t.running.Store(true)
	defer t.running.Store(false)

	next := time.NewTimer(t.delay)
	defer next.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.done:
			return
		case <-next.C:
			t.runOnce(ctx)
			next.Reset(t.interval)
		}
	}
}

// Stop ends the loop. Safe to call more than once.
func (t *Timer) Stop() {
	t.stopOnce.Do(func() { close(t.done) })
}

func (t *Timer) runOnce(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("reconciliation panicked", "panic", fmt.Sprint(r))
		}
	}()

	report, err := t.runner.RunAll(ctx)
	if err != nil {
		t.logger.Warn("reconciliation run failed", "error", err)
		return
	}
	if !report.Healthy {
		t.logger.Warn("reconciliation found problems",
			"drifted", len(report.Drifts),
			"repaired", report.Repaired,
			"stuck_escrows", len(report.StuckEscrows),
			"errors", report.Errors,
		)
		return
	}
	t.logger.Debug("reconciliation clean", "wallets", report.WalletsChecked, "took", report.Duration)
}
