package models

import (
	"strings"
	"time"

	id "reliefhub/pkg/domain"
	dErrors "reliefhub/pkg/domain-errors"
	"reliefhub/pkg/platform/sentinel"
)

const maxCategoryLength = 100

// Request is a unit of demand with a target quantity.
//
// Invariants:
//   - RequestedQuantity > 0 and never changes after construction
//   - 0 <= FulfilledQuantity <= RequestedQuantity
//   - Status == DeriveStatus(FulfilledQuantity, RequestedQuantity)
//
// FulfilledQuantity and Status change only through ApplyIncrement and ApplyDecrement.
type Request struct {
	ID                id.RequestID `json:"id"`
	Category          string       `json:"category"`
	RequestedQuantity int          `json:"requested_quantity"`
	FulfilledQuantity int          `json:"fulfilled_quantity"`
	Status            Status       `json:"status"`
	OwnerID           id.UserID    `json:"owner_id"`
	CreatedAt         time.Time    `json:"created_at"`
	UpdatedAt         time.Time    `json:"updated_at"`
}

func NewRequest(requestID id.RequestID, ownerID id.UserID, category string, requested int, now time.Time) (*Request, error) {
	category, err := normalizeCategory(category)
	if err != nil {
		return nil, err
	}
	if requested <= 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "requested quantity must be positive")
	}
	if ownerID.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "owner is required")
	}
	return &Request{
		ID:                requestID,
		Category:          category,
		RequestedQuantity: requested,
		FulfilledQuantity: 0,
		Status:            StatusPending,
		OwnerID:           ownerID,
		CreatedAt:         now,
		UpdatedAt:         now,
	}, nil
}

// Pending is the capacity still open for contributions.
func (r *Request) Pending() int {
	return r.RequestedQuantity - r.FulfilledQuantity
}

// ApplyIncrement adds q to the fulfilled quantity. It returns sentinel.ErrIntegrity
// and leaves r untouched if the result would leave [0, requested].
func (r *Request) ApplyIncrement(q int, now time.Time) error {
	return r.apply(r.FulfilledQuantity+q, now)
}

// ApplyDecrement removes q from the fulfilled quantity with the same guarantees.
func (r *Request) ApplyDecrement(q int, now time.Time) error {
	return r.apply(r.FulfilledQuantity-q, now)
}

func (r *Request) apply(next int, now time.Time) error {
	if next < 0 || next > r.RequestedQuantity {
		return sentinel.ErrIntegrity
	}
	r.FulfilledQuantity = next
	r.Status = DeriveStatus(next, r.RequestedQuantity)
	r.UpdatedAt = now
	return nil
}

// Rename changes the category. Quantities are engine-owned and not editable here.
func (r *Request) Rename(category string, now time.Time) error {
	category, err := normalizeCategory(category)
	if err != nil {
		return err
	}
	r.Category = category
	r.UpdatedAt = now
	return nil
}

// Consistent reports whether the stored quantities satisfy the invariants.
func (r *Request) Consistent() bool {
	return r.RequestedQuantity > 0 &&
		r.FulfilledQuantity >= 0 &&
		r.FulfilledQuantity <= r.RequestedQuantity &&
		r.Status == DeriveStatus(r.FulfilledQuantity, r.RequestedQuantity)
}

// Clone returns a copy safe to hand across store boundaries.
func (r *Request) Clone() *Request {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}

// CategoryCompatible compares categories ignoring case and surrounding space.
func CategoryCompatible(requestCategory, contributionCategory string) bool {
	return strings.EqualFold(strings.TrimSpace(requestCategory), strings.TrimSpace(contributionCategory))
}

func normalizeCategory(category string) (string, error) {
	category = strings.TrimSpace(category)
	if category == "" {
		return "", dErrors.New(dErrors.CodeValidation, "category cannot be empty")
	}
	if len(category) > maxCategoryLength {
		return "", dErrors.New(dErrors.CodeValidation, "category must be 100 characters or less")
	}
	return category, nil
}
