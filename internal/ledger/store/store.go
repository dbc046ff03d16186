// Package store persists Requests and Contributions and grants exclusive,
// per-request access for the fulfillment engine.
package store

import (
	"context"
	"time"

	"reliefhub/internal/ledger/models"
	id "reliefhub/pkg/domain"
)

// DefaultLockWait bounds how long GetForExclusiveUpdate waits for a busy request.
const DefaultLockWait = 2 * time.Second

// Store is the ledger persistence contract.
//
// GetForExclusiveUpdate serializes callers per request id: a second call for
// the same id blocks until the first lease is released, or fails with
// sentinel.ErrLockTimeout once the wait bound elapses. Calls for different ids
// never wait on each other.
type Store interface {
	CreateRequest(ctx context.Context, req *models.Request) error
	FindByID(ctx context.Context, requestID id.RequestID) (*models.Request, error)
	FindContribution(ctx context.Context, contributionID id.ContributionID) (*models.Contribution, error)
	ListRequests(ctx context.Context, filter RequestFilter) ([]*models.Request, error)
	ListContributions(ctx context.Context, filter ContributionFilter) ([]*models.Contribution, error)
	GetForExclusiveUpdate(ctx context.Context, requestID id.RequestID) (*models.Request, Lease, error)
	// Delete removes the request and its contributions under the same exclusivity.
	Delete(ctx context.Context, requestID id.RequestID) error
}

// Lease is exclusive access to one request.
type Lease interface {
	// FindContribution reads a contribution of the leased request with the
	// lease held. Contributions of other requests are reported as not found.
	FindContribution(ctx context.Context, contributionID id.ContributionID) (*models.Contribution, error)
	// SaveAtomic writes the request and all mutations as one unit, or nothing.
	// It may be called at most once per lease.
	SaveAtomic(ctx context.Context, req *models.Request, mutations []models.ContributionMutation) error
	// Release ends the lease, discarding unsaved work. Safe to call repeatedly.
	Release()
}

// RequestFilter narrows ListRequests. Zero fields match everything.
type RequestFilter struct {
	OwnerID  *id.UserID
	Statuses []models.Status
	Category string
}

func (f RequestFilter) matches(r *models.Request) bool {
	if f.OwnerID != nil && r.OwnerID != *f.OwnerID {
		return false
	}
	if f.Category != "" && !models.CategoryCompatible(r.Category, f.Category) {
		return false
	}
	if len(f.Statuses) == 0 {
		return true
	}
	for _, s := range f.Statuses {
		if r.Status == s {
			return true
		}
	}
	return false
}

// ContributionFilter narrows ListContributions. Zero fields match everything.
type ContributionFilter struct {
	RequestID     *id.RequestID
	ContributorID *id.UserID
}

func (f ContributionFilter) matches(c *models.Contribution) bool {
	if f.RequestID != nil && c.RequestID != *f.RequestID {
		return false
	}
	if f.ContributorID != nil && c.ContributorID != *f.ContributorID {
		return false
	}
	return true
}

// Option configures a store.
type Option func(*options)

type options struct {
	lockWait time.Duration
}

// WithLockWait sets the exclusive-access wait bound.
func WithLockWait(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.lockWait = d
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{lockWait: DefaultLockWait}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
