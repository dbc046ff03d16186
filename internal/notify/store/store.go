// Package store persists materialized notifications.
package store

import (
	"context"
	"sort"
	"sync"

	"reliefhub/internal/notify/models"
	id "reliefhub/pkg/domain"
	"reliefhub/pkg/platform/sentinel"
)

// Store is the notification repository. Lists are newest first; missing
// records return sentinel.ErrNotFound.
type Store interface {
	Save(ctx context.Context, n *models.Notification) error
	FindByID(ctx context.Context, notificationID id.NotificationID) (*models.Notification, error)
	ListByRecipient(ctx context.Context, recipient id.UserID, unreadOnly bool) ([]*models.Notification, error)
	ListBroadcasts(ctx context.Context, unreadOnly bool) ([]*models.Notification, error)
	MarkRead(ctx context.Context, notificationID id.NotificationID) error
	Delete(ctx context.Context, notificationID id.NotificationID) error
}

// InMemory keeps notifications in a map guarded by an RWMutex.
type InMemory struct {
	mu      sync.RWMutex
	records map[id.NotificationID]*models.Notification
}

func NewInMemory() *InMemory {
	return &InMemory{records: make(map[id.NotificationID]*models.Notification)}
}

func (s *InMemory) Save(_ context.Context, n *models.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[n.ID]; ok {
		return sentinel.ErrConflict
	}
	s.records[n.ID] = n.Clone()
	return nil
}

func (s *InMemory) FindByID(_ context.Context, notificationID id.NotificationID) (*models.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.records[notificationID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return n.Clone(), nil
}

func (s *InMemory) ListByRecipient(_ context.Context, recipient id.UserID, unreadOnly bool) ([]*models.Notification, error) {
	return s.list(func(n *models.Notification) bool {
		return n.OwnedBy(recipient) && (!unreadOnly || !n.Read)
	}), nil
}

func (s *InMemory) ListBroadcasts(_ context.Context, unreadOnly bool) ([]*models.Notification, error) {
	return s.list(func(n *models.Notification) bool {
		return n.AdminBroadcast && (!unreadOnly || !n.Read)
	}), nil
}

func (s *InMemory) list(match func(*models.Notification) bool) []*models.Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Notification, 0)
	for _, n := range s.records {
		if match(n) {
			out = append(out, n.Clone())
		}
	}
	SortNewestFirst(out)
	return out
}

func (s *InMemory) MarkRead(_ context.Context, notificationID id.NotificationID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.records[notificationID]
	if !ok {
		return sentinel.ErrNotFound
	}
	n.Read = true
	return nil
}

func (s *InMemory) Delete(_ context.Context, notificationID id.NotificationID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[notificationID]; !ok {
		return sentinel.ErrNotFound
	}
	delete(s.records, notificationID)
	return nil
}

// SortNewestFirst orders by CreatedAt descending, ties broken by id.
func SortNewestFirst(ns []*models.Notification) {
	sort.SliceStable(ns, func(i, j int) bool {
		if !ns[i].CreatedAt.Equal(ns[j].CreatedAt) {
			return ns[i].CreatedAt.After(ns[j].CreatedAt)
		}
		return ns[i].ID.String() > ns[j].ID.String()
	})
}
