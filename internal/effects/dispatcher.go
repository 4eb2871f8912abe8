package effects

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mbd888/rekberpay/internal/logging"
	"github.com/mbd888/rekberpay/internal/metrics"
)

// AuditSink appends audit entries.
type AuditSink interface {
	Record(ctx context.Context, a Audit) error
}

// NotificationSink persists and fans out notifications.
type NotificationSink interface {
	Notify(ctx context.Context, n Notification) error
}

// Runner is the production Dispatcher. Audits are written in order;
// notifications are delivered concurrently.
type Runner struct {
	audits   AuditSink
	notifier NotificationSink
	logger   *slog.Logger
	timeout  time.Duration
}

// NewRunner creates a dispatcher over the given sinks. Either sink may be nil.
func NewRunner(audits AuditSink, notifier NotificationSink, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		audits:   audits,
		notifier: notifier,
		logger:   logger,
		timeout:  10 * time.Second,
	}
}

// Dispatch runs every effect in l. It detaches from the caller's
// cancellation so a client disconnect after commit does not drop the trail.
func (r *Runner) Dispatch(ctx context.Context, l List) {
	if l.Empty() {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()

	logger := r.logger
	if reqID := logging.RequestID(ctx); reqID != "" {
		logger = logger.With("request_id", reqID)
	}

	if r.audits != nil {
		for _, a := range l.Audits {
			if err := r.audits.Record(ctx, a); err != nil {
				metrics.EffectsDispatchedTotal.WithLabelValues("audit", "error").Inc()
				logger.Warn("audit write failed",
					"entity_type", a.EntityType, "entity_id", a.EntityID,
					"action", a.Action, "error", err)
				continue
			}
			metrics.EffectsDispatchedTotal.WithLabelValues("audit", "ok").Inc()
		}
	}

	if r.notifier == nil || len(l.Notifications) == 0 {
		return
	}

	var (
		g  errgroup.Group
		mu sync.Mutex
	)
	g.SetLimit(4)
	for _, n := range l.Notifications {
		g.Go(func() error {
			err := r.notifier.Notify(ctx, n)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				metrics.EffectsDispatchedTotal.WithLabelValues("notification", "error").Inc()
				logger.Warn("notification failed",
					"type", n.Type, "user_id", n.UserID,
					"entity_id", n.RelatedEntityID, "error", err)
				return nil
			}
			metrics.EffectsDispatchedTotal.WithLabelValues("notification", "ok").Inc()
			return nil
		})
	}
	_ = g.Wait()
}

// Recorder is a Dispatcher that keeps every list it receives. Used in tests.
type Recorder struct {
	mu    sync.Mutex
	lists []List
}

// Dispatch implements Dispatcher.
func (r *Recorder) Dispatch(_ context.Context, l List) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lists = append(r.lists, l)
}

// Audits returns all dispatched audit entries in order.
func (r *Recorder) Audits() []Audit {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Audit
	for _, l := range r.lists {
		out = append(out, l.Audits...)
	}
	return out
}

// Notifications returns all dispatched notifications in order.
func (r *Recorder) Notifications() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Notification
	for _, l := range r.lists {
		out = append(out, l.Notifications...)
	}
	return out
}

// Actions returns the audit actions dispatched so far.
func (r *Recorder) Actions() []string {
	var out []string
	for _, a := range r.Audits() {
		out = append(out, a.Action)
	}
	return out
}
