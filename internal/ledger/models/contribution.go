package models

import (
	"time"

	id "reliefhub/pkg/domain"
	dErrors "reliefhub/pkg/domain-errors"
)

// Contribution is an atomic increment toward one Request, attributable to one
// contributor. Created and deleted together with the matching Request update;
// never modified in between.
type Contribution struct {
	ID            id.ContributionID `json:"id"`
	RequestID     id.RequestID      `json:"request_id"`
	ContributorID id.UserID         `json:"contributor_id"`
	Quantity      int               `json:"quantity"`
	Category      string            `json:"category"`
	Location      *Geolocation      `json:"location,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// Geolocation is a WGS84 point.
type Geolocation struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

func (g Geolocation) Validate() error {
	if g.Latitude < -90 || g.Latitude > 90 {
		return dErrors.New(dErrors.CodeValidation, "latitude must be between -90 and 90")
	}
	if g.Longitude < -180 || g.Longitude > 180 {
		return dErrors.New(dErrors.CodeValidation, "longitude must be between -180 and 180")
	}
	return nil
}

// NewContribution builds a contribution for req. An empty category inherits
// the request's; a different one is rejected.
func NewContribution(
	contributionID id.ContributionID,
	req *Request,
	contributorID id.UserID,
	quantity int,
	category string,
	location *Geolocation,
	now time.Time,
) (*Contribution, error) {
	if quantity <= 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "quantity must be positive")
	}
	if category == "" {
		category = req.Category
	} else if !CategoryCompatible(req.Category, category) {
		return nil, dErrors.New(dErrors.CodeValidation, "category does not match the request category")
	}
	if location != nil {
		if err := location.Validate(); err != nil {
			return nil, err
		}
		loc := *location
		location = &loc
	}
	return &Contribution{
		ID:            contributionID,
		RequestID:     req.ID,
		ContributorID: contributorID,
		Quantity:      quantity,
		Category:      req.Category,
		Location:      location,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

func (c *Contribution) Clone() *Contribution {
	if c == nil {
		return nil
	}
	cp := *c
	if c.Location != nil {
		loc := *c.Location
		cp.Location = &loc
	}
	return &cp
}

// MutationKind says whether a contribution is being written or removed.
type MutationKind string

const (
	MutationInsert MutationKind = "insert"
	MutationDelete MutationKind = "delete"
)

// ContributionMutation is applied in the same atomic unit as the Request update.
type ContributionMutation struct {
	Kind         MutationKind
	Contribution *Contribution
}

func Insert(c *Contribution) ContributionMutation {
	return ContributionMutation{Kind: MutationInsert, Contribution: c}
}

func Remove(c *Contribution) ContributionMutation {
	return ContributionMutation{Kind: MutationDelete, Contribution: c}
}
