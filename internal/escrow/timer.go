package escrow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// expiryBatch bounds how many escrows one ExpireUnpaid call cancels.
const expiryBatch = 100

// Timer cancels escrows whose payment window closed before they were funded.
type Timer struct {
	service  *Service
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time

	running  atomic.Bool
	done     chan struct{}
	stopOnce sync.Once
}

// NewTimer sweeps every interval (one minute when interval <= 0).
func NewTimer(service *Service, interval time.Duration, logger *slog.Logger) *Timer {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Timer{
		service:  service,
		interval: interval,
		logger:   logger.With("component", "escrow_expiry"),
		now:      time.Now,
		done:     make(chan struct{}),
	}
}

// Running reports whether the sweep loop is live.
func (t *Timer) Running() bool { return t.running.Load() }

// Start blocks until ctx is cancelled or Stop is called.
func (t *Timer) Start(ctx context.Context) {
	t.running.Store(true)
	defer t.running.Store(false)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.done:
			return
		case <-ticker.C:
			t.sweep(ctx)
		}
	}
}

// Stop ends the loop. Safe to call more than once.
func (t *Timer) Stop() {
	t.stopOnce.Do(func() { close(t.done) })
}

func (t *Timer) sweep(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("expiry sweep panicked", "panic", fmt.Sprint(r))
		}
	}()
	if n := t.expire(ctx); n > 0 {
		t.logger.Info("expired unpaid escrows", "count", n)
	}
}

// expire cancels expired escrows in batches until a batch comes back short
// and returns how many it cancelled.
func (t *Timer) expire(ctx context.Context) int {
	now := t.now()
	total := 0
	for ctx.Err() == nil {
		n, err := t.service.ExpireUnpaid(ctx, now, expiryBatch)
		total += n
		if err != nil {
			t.logger.Warn("expiry sweep failed", "error", err, "expired_so_far", total)
			break
		}
		if n < expiryBatch {
			break
		}
	}
	return total
}
