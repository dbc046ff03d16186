package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"reliefhub/internal/ledger/keylock"
	"reliefhub/internal/ledger/models"
	id "reliefhub/pkg/domain"
	"reliefhub/pkg/platform/sentinel"
)

var errLeaseClosed = errors.New("lease already closed")

// InMemoryStore keeps the ledger in maps. Exclusivity comes from keylock;
// the RWMutex only guards the maps themselves.
type InMemoryStore struct {
	mu            sync.RWMutex
	requests      map[id.RequestID]*models.Request
	contributions map[id.ContributionID]*models.Contribution
	locks         *keylock.Locks
	opts          options
}

func NewInMemory(opts ...Option) *InMemoryStore {
	return &InMemoryStore{
		requests:      make(map[id.RequestID]*models.Request),
		contributions: make(map[id.ContributionID]*models.Contribution),
		locks:         keylock.New(),
		opts:          buildOptions(opts),
	}
}

func (s *InMemoryStore) CreateRequest(_ context.Context, req *models.Request) error {
	if req == nil {
		return fmt.Errorf("request is required")
	}
	if !req.Consistent() {
		return fmt.Errorf("create request: %w", sentinel.ErrIntegrity)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.requests[req.ID]; ok {
		return fmt.Errorf("create request: %w", sentinel.ErrConflict)
	}
	s.requests[req.ID] = req.Clone()
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, requestID id.RequestID) (*models.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	req, ok := s.requests[requestID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return req.Clone(), nil
}

func (s *InMemoryStore) FindContribution(_ context.Context, contributionID id.ContributionID) (*models.Contribution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.contributions[contributionID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return c.Clone(), nil
}

func (s *InMemoryStore) ListRequests(_ context.Context, filter RequestFilter) ([]*models.Request, error) {
	s.mu.RLock()
	out := make([]*models.Request, 0, len(s.requests))
	for _, r := range s.requests {
		if filter.matches(r) {
			out = append(out, r.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *InMemoryStore) ListContributions(_ context.Context, filter ContributionFilter) ([]*models.Contribution, error) {
	s.mu.RLock()
	out := make([]*models.Contribution, 0)
	for _, c := range s.contributions {
		if filter.matches(c) {
			out = append(out, c.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *InMemoryStore) GetForExclusiveUpdate(ctx context.Context, requestID id.RequestID) (*models.Request, Lease, error) {
	release, err := s.locks.Acquire(ctx, requestID.String(), s.opts.lockWait)
	if err != nil {
		return nil, nil, fmt.Errorf("acquire request %s: %w", requestID, err)
	}
	req, err := s.FindByID(ctx, requestID)
	if err != nil {
		release()
		return nil, nil, err
	}
	return req, &memoryLease{store: s, requestID: requestID, release: release}, nil
}

func (s *InMemoryStore) Delete(ctx context.Context, requestID id.RequestID) error {
	release, err := s.locks.Acquire(ctx, requestID.String(), s.opts.lockWait)
	if err != nil {
		return fmt.Errorf("acquire request %s: %w", requestID, err)
	}
	defer release()

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.requests[requestID]; !ok {
		return sentinel.ErrNotFound
	}
	delete(s.requests, requestID)
	for cid, c := range s.contributions {
		if c.RequestID == requestID {
			delete(s.contributions, cid)
		}
	}
	return nil
}

type memoryLease struct {
	store     *InMemoryStore
	requestID id.RequestID
	release   func()

	mu     sync.Mutex
	closed bool
	saved  bool
}

func (l *memoryLease) FindContribution(ctx context.Context, contributionID id.ContributionID) (*models.Contribution, error) {
	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed {
		return nil, errLeaseClosed
	}
	c, err := l.store.FindContribution(ctx, contributionID)
	if err != nil {
		return nil, err
	}
	if c.RequestID != l.requestID {
		return nil, sentinel.ErrNotFound
	}
	return c, nil
}

// SaveAtomic validates every mutation before touching the maps so a failure
// leaves the ledger exactly as it was.
func (l *memoryLease) SaveAtomic(_ context.Context, req *models.Request, mutations []models.ContributionMutation) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed || l.saved {
		return errLeaseClosed
	}
	if req == nil || req.ID != l.requestID {
		return fmt.Errorf("save request: lease is for %s", l.requestID)
	}
	if !req.Consistent() {
		return fmt.Errorf("save request %s: %w", req.ID, sentinel.ErrIntegrity)
	}

	s := l.store
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.requests[req.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if current.RequestedQuantity != req.RequestedQuantity {
		return fmt.Errorf("save request %s: requested quantity is immutable: %w", req.ID, sentinel.ErrIntegrity)
	}

	delta := 0
	for _, m := range mutations {
		c := m.Contribution
		if c == nil {
			return fmt.Errorf("save request %s: nil contribution", req.ID)
		}
		switch m.Kind {
		case models.MutationInsert:
			if c.RequestID != req.ID {
				return fmt.Errorf("insert contribution %s: %w", c.ID, sentinel.ErrIntegrity)
			}
			if _, exists := s.contributions[c.ID]; exists {
				return fmt.Errorf("insert contribution %s: %w", c.ID, sentinel.ErrConflict)
			}
			delta += c.Quantity
		case models.MutationDelete:
			existing, exists := s.contributions[c.ID]
			if !exists || existing.RequestID != req.ID {
				return fmt.Errorf("delete contribution %s: %w", c.ID, sentinel.ErrNotFound)
			}
			delta -= existing.Quantity
		default:
			return fmt.Errorf("unknown mutation kind %q", m.Kind)
		}
	}
	if current.FulfilledQuantity+delta != req.FulfilledQuantity {
		return fmt.Errorf("save request %s: contributions do not sum to fulfilled quantity: %w", req.ID, sentinel.ErrIntegrity)
	}

	for _, m := range mutations {
		if m.Kind == models.MutationInsert {
			s.contributions[m.Contribution.ID] = m.Contribution.Clone()
		} else {
			delete(s.contributions, m.Contribution.ID)
		}
	}
	s.requests[req.ID] = req.Clone()
	l.saved = true
	return nil
}

func (l *memoryLease) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	l.release()
}
