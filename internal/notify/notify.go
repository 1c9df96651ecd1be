package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"dobro.org/internal/ids"
	"dobro.org/internal/obs"
)

// KindContentRemoved marks a notification created by a moderation deletion.
const KindContentRemoved = "moderation.content_removed"

var (
	ErrNotFound     = errors.New("notify: not found")
	ErrInvalidInput = errors.New("notify: invalid input")
)

// Notification belongs to exactly one recipient. The core only ever creates
// and flags notifications; retention is someone else's concern.
type Notification struct {
	ID          string    `json:"id"`
	RecipientID string    `json:"recipient_id"`
	Kind        string    `json:"kind"`
	Message     string    `json:"message"`
	Read        bool      `json:"read"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store describes persistence operations for notifications.
type Store interface {
	InsertNotification(ctx context.Context, n *Notification) error
	ListNotifications(ctx context.Context, recipientID string) ([]Notification, error)
	// MarkNotificationRead flips the read flag; a mismatched recipient is
	// reported as not found so recipients cannot probe each other's inboxes.
	MarkNotificationRead(ctx context.Context, recipientID, id string) error
}

// Sink accepts outbound notifications. Delivery and retry beyond durable
// persistence are the implementation's responsibility.
type Sink interface {
	Send(ctx context.Context, n *Notification) error
}

// Service is the store-backed Sink plus the recipient-facing read surface.
type Service struct {
	store Store
	now   func() time.Time
}

var _ Sink = (*Service)(nil)

// NewService constructs a Service.
func NewService(store Store) (*Service, error) {
	if store == nil {
		return nil, errors.New("notify store is required")
	}
	return &Service{store: store, now: time.Now}, nil
}

// New stamps identity and creation time onto a notification payload.
func New(recipientID, kind, message string) *Notification {
	return &Notification{
		ID:          ids.New(),
		RecipientID: strings.TrimSpace(recipientID),
		Kind:        strings.TrimSpace(kind),
		Message:     message,
		CreatedAt:   time.Now().UTC(),
	}
}

// Send persists the notification.
func (s *Service) Send(ctx context.Context, n *Notification) error {
	if n == nil {
		return fmt.Errorf("%w: notification is required", ErrInvalidInput)
	}
	if n.RecipientID == "" {
		return fmt.Errorf("%w: recipient id is required", ErrInvalidInput)
	}
	if n.Kind == "" {
		return fmt.Errorf("%w: kind is required", ErrInvalidInput)
	}
	if n.ID == "" {
		n.ID = ids.New()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.now().UTC()
	}
	if err := s.store.InsertNotification(ctx, n); err != nil {
		return err
	}
	obs.NotificationsCreatedTotal.Inc()
	return nil
}

// List returns the recipient's notifications, newest first.
func (s *Service) List(ctx context.Context, recipientID string) ([]Notification, error) {
	recipientID = strings.TrimSpace(recipientID)
	if recipientID == "" {
		return nil, fmt.Errorf("%w: recipient id is required", ErrInvalidInput)
	}
	return s.store.ListNotifications(ctx, recipientID)
}

// MarkRead flags one of the recipient's notifications as read.
func (s *Service) MarkRead(ctx context.Context, recipientID, id string) error {
	recipientID = strings.TrimSpace(recipientID)
	id = strings.TrimSpace(id)
	if recipientID == "" || id == "" {
		return fmt.Errorf("%w: recipient id and notification id are required", ErrInvalidInput)
	}
	return s.store.MarkNotificationRead(ctx, recipientID, id)
}
