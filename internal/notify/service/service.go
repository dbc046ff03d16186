// Package service is the read surface over materialized notifications.
package service

import (
	"context"
	"errors"
	"log/slog"

	"reliefhub/internal/notify/models"
	"reliefhub/internal/notify/store"
	"reliefhub/internal/policy"
	id "reliefhub/pkg/domain"
	dErrors "reliefhub/pkg/domain-errors"
	"reliefhub/pkg/platform/sentinel"
)

// Service lists, marks and deletes notifications on behalf of an actor.
// Administrators additionally see admin broadcasts.
type Service struct {
	store  store.Store
	logger *slog.Logger
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func New(st store.Store, opts ...Option) *Service {
	s := &Service{store: st, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ListNotifications returns the actor's notifications, newest first.
func (s *Service) ListNotifications(ctx context.Context, actor policy.Actor) ([]*models.Notification, error) {
	return s.list(ctx, actor, false)
}

// ListUnread is ListNotifications restricted to unread records.
func (s *Service) ListUnread(ctx context.Context, actor policy.Actor) ([]*models.Notification, error) {
	return s.list(ctx, actor, true)
}

func (s *Service) list(ctx context.Context, actor policy.Actor, unreadOnly bool) ([]*models.Notification, error) {
	own, err := s.store.ListByRecipient(ctx, actor.ID, unreadOnly)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list notifications")
	}
	if !actor.IsAdmin() {
		return own, nil
	}
	broadcasts, err := s.store.ListBroadcasts(ctx, unreadOnly)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list admin notifications")
	}
	all := append(own, broadcasts...)
	store.SortNewestFirst(all)
	return all, nil
}

// ListBroadcasts returns admin broadcasts only. Administrators only.
func (s *Service) ListBroadcasts(ctx context.Context, actor policy.Actor) ([]*models.Notification, error) {
	if !actor.IsAdmin() {
		return nil, dErrors.New(dErrors.CodeForbidden, "admin access required")
	}
	list, err := s.store.ListBroadcasts(ctx, false)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list admin notifications")
	}
	return list, nil
}

// MarkRead is allowed for the recipient, or any administrator on a broadcast.
func (s *Service) MarkRead(ctx context.Context, notificationID id.NotificationID, actor policy.Actor) error {
	n, err := s.find(ctx, notificationID)
	if err != nil {
		return err
	}
	if !n.OwnedBy(actor.ID) && !(n.AdminBroadcast && actor.IsAdmin()) {
		return dErrors.New(dErrors.CodeForbidden, "not authorized to update this notification")
	}
	if n.Read {
		return nil
	}
	if err := s.store.MarkRead(ctx, notificationID); err != nil {
		return s.translate(err, "failed to mark notification read")
	}
	return nil
}

// Delete removes a notification. Broadcasts need an administrator with
// isAdminOverride; direct notifications need their recipient. Non-deletable
// records are refused with a conflict.
func (s *Service) Delete(ctx context.Context, notificationID id.NotificationID, actor policy.Actor, isAdminOverride bool) error {
	n, err := s.find(ctx, notificationID)
	if err != nil {
		return err
	}

	switch {
	case isAdminOverride && !actor.IsAdmin():
		return dErrors.New(dErrors.CodeForbidden, "admin override requires an administrator")
	case n.AdminBroadcast && !isAdminOverride:
		return dErrors.New(dErrors.CodeForbidden, "not authorized to delete this notification")
	case !n.AdminBroadcast && !n.OwnedBy(actor.ID):
		return dErrors.New(dErrors.CodeForbidden, "not authorized to delete this notification")
	}
	if !n.Deletable {
		return dErrors.New(dErrors.CodeConflict, "this notification cannot be deleted")
	}

	if err := s.store.Delete(ctx, notificationID); err != nil {
		return s.translate(err, "failed to delete notification")
	}
	s.logger.InfoContext(ctx, "notification deleted",
		"notification_id", notificationID.String(),
		"user_id", actor.ID.String(),
		"admin_override", isAdminOverride,
	)
	return nil
}

func (s *Service) find(ctx context.Context, notificationID id.NotificationID) (*models.Notification, error) {
	n, err := s.store.FindByID(ctx, notificationID)
	if err != nil {
		return nil, s.translate(err, "failed to load notification")
	}
	return n, nil
}

func (s *Service) translate(err error, msg string) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeNotFound, "notification not found")
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, msg)
}
