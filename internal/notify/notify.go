// Package notify stores user notifications and fans them out to live sinks.
package notify

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/mbd888/rekberpay/internal/effects"
	"github.com/mbd888/rekberpay/internal/identity"
	"github.com/mbd888/rekberpay/internal/idgen"
	"github.com/mbd888/rekberpay/internal/logging"
	"github.com/mbd888/rekberpay/internal/metrics"
	"github.com/mbd888/rekberpay/internal/pagination"
)

var (
	ErrNotificationNotFound = errors.New("notification not found")
	ErrForbidden            = errors.New("not the recipient of this notification")
	ErrNoRecipient          = errors.New("notification has no recipient")
)

// Notification is a persisted user-facing message.
type Notification struct {
	ID                string     `json:"id"`
	UserID            int64      `json:"userId"`
	Type              string     `json:"type"`
	Title             string     `json:"title"`
	Message           string     `json:"message"`
	RelatedEntityType string     `json:"relatedEntityType,omitempty"`
	RelatedEntityID   string     `json:"relatedEntityId,omitempty"`
	IsRead            bool       `json:"isRead"`
	ReadAt            *time.Time `json:"readAt,omitempty"`
	CreatedAt         time.Time  `json:"createdAt"`
}

// Store persists notifications.
type Store interface {
	Create(ctx context.Context, n *Notification) error
	Get(ctx context.Context, id string) (*Notification, error)
	// MarkRead sets is_read and read_at if the notification is still unread.
	MarkRead(ctx context.Context, id string, at time.Time) error
	MarkAllRead(ctx context.Context, userID int64, at time.Time) (int64, error)
	// List returns the user's notifications newest first, strictly after the
	// cursor position when one is given.
	List(ctx context.Context, userID int64, unreadOnly bool, after *pagination.Cursor, limit int) ([]*Notification, error)
	UnreadCount(ctx context.Context, userID int64) (int, error)
}

// Publisher pushes a stored notification to a live channel.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, n *Notification) error
}

// Service implements effects.NotificationSink and the recipient-facing reads.
type Service struct {
	store      Store
	publishers []Publisher
	logger     *slog.Logger
	now        func() time.Time
}

// NewService creates a notification service over store.
func NewService(store Store) *Service {
	return &Service{
		store:  store,
		logger: slog.Default(),
		now:    time.Now,
	}
}

// WithPublisher adds a fan-out sink.
func (s *Service) WithPublisher(p Publisher) *Service {
	s.publishers = append(s.publishers, p)
	return s
}

// WithLogger sets the logger.
func (s *Service) WithLogger(logger *slog.Logger) *Service {
	s.logger = logger
	return s
}

// WithClock overrides the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Notify persists n and publishes it. A publish failure is logged and
// counted; the stored notification stays readable through List.
func (s *Service) Notify(ctx context.Context, in effects.Notification) error {
	if in.UserID == identity.SystemUserID {
		return ErrNoRecipient
	}
	n := &Notification{
		ID:                idgen.New(),
		UserID:            in.UserID,
		Type:              in.Type,
		Title:             in.Title,
		Message:           in.Message,
		RelatedEntityType: in.RelatedEntityType,
		RelatedEntityID:   in.RelatedEntityID,
		CreatedAt:         s.now(),
	}
	if err := s.store.Create(ctx, n); err != nil {
		return err
	}

	for _, p := range s.publishers {
		if err := p.Publish(ctx, n); err != nil {
			metrics.NotificationsPublishedTotal.WithLabelValues(p.Name(), "error").Inc()
			logging.L(ctx).Warn("notification publish failed",
				"sink", p.Name(), "notification_id", n.ID, "user_id", n.UserID, "error", err)
			continue
		}
		metrics.NotificationsPublishedTotal.WithLabelValues(p.Name(), "ok").Inc()
	}
	return nil
}

// ListRequest selects a page of the caller's notifications.
type ListRequest struct {
	UnreadOnly bool
	Cursor     string
	Limit      int
}

// Page is one page of notifications.
type Page struct {
	Notifications []*Notification `json:"notifications"`
	NextCursor    string          `json:"nextCursor,omitempty"`
	HasMore       bool            `json:"hasMore"`
	UnreadCount   int             `json:"unreadCount"`
}

// List returns the actor's notifications newest first.
func (s *Service) List(ctx context.Context, actor identity.Actor, req ListRequest) (*Page, error) {
	after, err := pagination.Decode(req.Cursor)
	if err != nil {
		return nil, err
	}
	page := pagination.Clamp(req.Limit, 0, 20, 100)

	items, err := s.store.List(ctx, actor.UserID, req.UnreadOnly, after, page.Limit+1)
	if err != nil {
		return nil, err
	}
	items, next, more := pagination.Trim(items, page.Limit, func(n *Notification) (time.Time, string) {
		return n.CreatedAt, n.ID
	})
	unread, err := s.store.UnreadCount(ctx, actor.UserID)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []*Notification{}
	}
	return &Page{Notifications: items, NextCursor: next, HasMore: more, UnreadCount: unread}, nil
}

// MarkRead marks one of the actor's notifications read. Reading an already
// read notification keeps its original read time.
func (s *Service) MarkRead(ctx context.Context, actor identity.Actor, id string) (*Notification, error) {
	n, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if n.UserID != actor.UserID {
		return nil, ErrForbidden
	}
	if n.IsRead {
		return n, nil
	}
	if err := s.store.MarkRead(ctx, id, s.now()); err != nil {
		return nil, err
	}
	return s.store.Get(ctx, id)
}

// MarkAllRead marks every unread notification of the actor read.
func (s *Service) MarkAllRead(ctx context.Context, actor identity.Actor) (int64, error) {
	return s.store.MarkAllRead(ctx, actor.UserID, s.now())
}
