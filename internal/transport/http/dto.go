package httptransport

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"reliefhub/internal/fulfillment"
	"reliefhub/internal/ledger/models"
	dErrors "reliefhub/pkg/domain-errors"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

type createRequestBody struct {
	Category string `json:"category" validate:"required,max=100"`
	Quantity int    `json:"requested_quantity" validate:"required,gt=0"`
}

// updateRequestBody only carries editable fields; unknown fields such as
// quantities are rejected by decode.
type updateRequestBody struct {
	Category string `json:"category" validate:"required,max=100"`
}

type locationBody struct {
	Latitude  float64 `json:"latitude" validate:"gte=-90,lte=90"`
	Longitude float64 `json:"longitude" validate:"gte=-180,lte=180"`
}

type contributeBody struct {
	Quantity int           `json:"quantity" validate:"required,gt=0"`
	Category string        `json:"category,omitempty" validate:"max=100"`
	Location *locationBody `json:"location,omitempty"`
}

func (b contributeBody) location() *models.Geolocation {
	if b.Location == nil {
		return nil
	}
	return &models.Geolocation{Latitude: b.Location.Latitude, Longitude: b.Location.Longitude}
}

type contributionResponse struct {
	Contribution *models.Contribution `json:"contribution"`
	Request      *models.Request      `json:"request"`
	Capped       bool                 `json:"capped"`
}

func newContributionResponse(res *fulfillment.ContributionResult) contributionResponse {
	return contributionResponse{Contribution: res.Contribution, Request: res.Request, Capped: res.Capped}
}

type listResponse[T any] struct {
	Items []T `json:"items"`
	Count int `json:"count"`
}

func newList[T any](items []T) listResponse[T] {
	if items == nil {
		items = []T{}
	}
	return listResponse[T]{Items: items, Count: len(items)}
}

// decode reads a JSON body into dst and validates it.
func decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid request body")
	}
	if err := validate.Struct(dst); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			msgs := make([]string, 0, len(fieldErrs))
			for _, fe := range fieldErrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %s", strings.ToLower(fe.Field()), fe.Tag()))
			}
			return dErrors.New(dErrors.CodeValidation, strings.Join(msgs, "; "))
		}
		return dErrors.Wrap(err, dErrors.CodeValidation, "invalid request body")
	}
	return nil
}
