package fulfillment

import (
	"context"
	"errors"
	"fmt"

	"reliefhub/internal/platform/metrics"
	dErrors "reliefhub/pkg/domain-errors"
	"reliefhub/pkg/platform/sentinel"
)

// CapacityError reports how much of a request is still open. It is wrapped
// under dErrors.CodeCapacityExceeded; callers reach it with errors.As.
type CapacityError struct {
	Requested int
	Fulfilled int
	Pending   int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("contribution exceeds pending quantity. Pending: %d", e.Pending)
}

// ErrorDetails adds the pending amount to transport error bodies.
func (e *CapacityError) ErrorDetails() map[string]any {
	return map[string]any{"pending": e.Pending}
}

func capacityExceeded(requested, fulfilled int) error {
	return dErrors.Wrap(&CapacityError{
		Requested: requested,
		Fulfilled: fulfilled,
		Pending:   requested - fulfilled,
	}, dErrors.CodeCapacityExceeded, fmt.Sprintf("contribution exceeds pending quantity. Pending: %d", requested-fulfilled))
}

// translate maps store sentinels onto domain codes. Errors that already carry
// a domain code pass through.
func translate(err error, subject string) error {
	var de *dErrors.Error
	switch {
	case err == nil:
		return nil
	case errors.As(err, &de):
		return err
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, subject+" not found")
	case errors.Is(err, sentinel.ErrLockTimeout):
		return dErrors.Wrap(err, dErrors.CodeContention, subject+" is busy, retry later")
	case errors.Is(err, sentinel.ErrIntegrity):
		return dErrors.Wrap(err, dErrors.CodeInvariantViolation, "ledger invariant violated")
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.Wrap(err, dErrors.CodeConflict, subject+" already exists")
	case errors.Is(err, sentinel.ErrUnavailable):
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "ledger store unavailable, retry later")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return dErrors.Wrap(err, dErrors.CodeTimeout, "operation cancelled")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "ledger operation failed")
	}
}

func outcomeFor(err error) string {
	switch dErrors.CodeOf(err) {
	case dErrors.CodeCapacityExceeded:
		return metrics.OutcomeRejected
	case dErrors.CodeContention:
		return metrics.OutcomeContention
	case dErrors.CodeNotFound:
		return metrics.OutcomeNotFound
	case dErrors.CodeForbidden, dErrors.CodeUnauthorized:
		return metrics.OutcomeDenied
	case dErrors.CodeInvariantViolation:
		return metrics.OutcomeIntegrity
	default:
		return metrics.OutcomeError
	}
}
