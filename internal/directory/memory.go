package directory

import (
	"context"
	"sort"
	"sync"

	id "reliefhub/pkg/domain"
	"reliefhub/pkg/platform/sentinel"
)

// InMemory is a Source for tests and single-node development.
type InMemory struct {
	mu    sync.RWMutex
	users map[id.UserID]UserRef
}

func NewInMemory(users ...UserRef) *InMemory {
	m := &InMemory{users: make(map[id.UserID]UserRef, len(users))}
	for _, u := range users {
		m.Put(u)
	}
	return m
}

// Put inserts or replaces a user.
func (m *InMemory) Put(u UserRef) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u.Email = NormalizeEmail(u.Email)
	m.users[u.ID] = u
}

// Remove deletes a user; later lookups miss.
func (m *InMemory) Remove(userID id.UserID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.users, userID)
}

func (m *InMemory) FindByID(_ context.Context, userID id.UserID) (*UserRef, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[userID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &u, nil
}

func (m *InMemory) FindByEmail(_ context.Context, email string) (*UserRef, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if u.Email == email {
			return &u, nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (m *InMemory) ListByRole(_ context.Context, role id.Role) ([]UserRef, error) {
	m.mu.RLock()
	var out []UserRef
	for _, u := range m.users {
		if u.Role == role {
			out = append(out, u)
		}
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out, nil
}
