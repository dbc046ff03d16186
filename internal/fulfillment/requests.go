package fulfillment

import (
	"context"

	"reliefhub/internal/ledger/models"
	"reliefhub/internal/ledger/store"
	notify "reliefhub/internal/notify/models"
	"reliefhub/internal/policy"
	id "reliefhub/pkg/domain"
	dErrors "reliefhub/pkg/domain-errors"
	"reliefhub/pkg/requestcontext"
)

type CreateRequestCommand struct {
	Actor    policy.Actor
	Category string
	Quantity int
}

// UpdateRequestCommand edits descriptive fields. Quantities belong to the
// engine and cannot be set here.
type UpdateRequestCommand struct {
	Category string
}

// Summary aggregates the ledger for the admin dashboard.
type Summary struct {
	TotalRequests       int                   `json:"total_requests"`
	RequestStatusCounts map[models.Status]int `json:"request_status_counts"`
	TotalContributions  int                   `json:"total_contributions"`
	ContributedQuantity int                   `json:"contributed_quantity"`
}

// ContributionQuery selects contributions by request or by contributor.
type ContributionQuery struct {
	RequestID     *id.RequestID
	ContributorID *id.UserID
}

func (e *Engine) CreateRequest(ctx context.Context, cmd CreateRequestCommand) (*models.Request, error) {
	if !policy.Allowed(cmd.Actor, policy.ActionCreateRequest, cmd.Actor.ID) {
		return nil, dErrors.New(dErrors.CodeForbidden, "only reporters can create resource requests")
	}
	ok, err := e.directory.IsAuthorizedToCreateRequest(ctx, cmd.Actor.ID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to check reporter")
	}
	if !ok {
		return nil, dErrors.New(dErrors.CodeForbidden, "user is not allowed to create requests")
	}

	req, err := models.NewRequest(id.NewRequestID(), cmd.Actor.ID, cmd.Category, cmd.Quantity, requestcontext.Now(ctx))
	if err != nil {
		return nil, err
	}
	if err := e.store.CreateRequest(ctx, req); err != nil {
		return nil, translate(err, "request")
	}

	e.notifier.Publish(context.WithoutCancel(ctx), notify.Intent{
		Kind:       notify.IntentRequestCreated,
		Request:    *req.Clone(),
		ActorID:    cmd.Actor.ID,
		OccurredAt: req.CreatedAt,
	})
	return req, nil
}

// UpdateRequest renames a request's category. Administrators only.
func (e *Engine) UpdateRequest(ctx context.Context, actor policy.Actor, requestID id.RequestID, cmd UpdateRequestCommand) (*models.Request, error) {
	if !policy.Allowed(actor, policy.ActionUpdateRequest, id.UserID{}) {
		return nil, dErrors.New(dErrors.CodeForbidden, "admin access required")
	}

	var updated *models.Request
	err := e.withExclusive(ctx, requestID, func(req *models.Request, lease store.Lease) error {
		next := req.Clone()
		if err := next.Rename(cmd.Category, requestcontext.Now(ctx)); err != nil {
			return err
		}
		if err := lease.SaveAtomic(ctx, next, nil); err != nil {
			return translate(err, "request")
		}
		updated = next
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.notifier.Publish(context.WithoutCancel(ctx), notify.Intent{
		Kind:       notify.IntentRequestUpdated,
		Request:    *updated.Clone(),
		ActorID:    actor.ID,
		OccurredAt: updated.UpdatedAt,
	})
	return updated, nil
}

// DeleteRequest removes a request and its contributions. Administrators only.
func (e *Engine) DeleteRequest(ctx context.Context, actor policy.Actor, requestID id.RequestID) error {
	if !policy.Allowed(actor, policy.ActionDeleteRequest, id.UserID{}) {
		return dErrors.New(dErrors.CodeForbidden, "admin access required")
	}
	snapshot, err := e.store.FindByID(ctx, requestID)
	if err != nil {
		return translate(err, "request")
	}
	err = e.retryContention(ctx, "Engine.delete", requestID, func() error {
		return e.store.Delete(ctx, requestID)
	})
	if err != nil {
		return translate(err, "request")
	}
	e.logger.InfoContext(ctx, "request deleted",
		"request_id", requestID.String(),
		"user_id", actor.ID.String(),
	)

	e.notifier.Publish(context.WithoutCancel(ctx), notify.Intent{
		Kind:       notify.IntentRequestDeleted,
		Request:    *snapshot,
		ActorID:    actor.ID,
		OccurredAt: requestcontext.Now(ctx),
	})
	return nil
}

func (e *Engine) GetRequest(ctx context.Context, actor policy.Actor, requestID id.RequestID) (*models.Request, error) {
	req, err := e.store.FindByID(ctx, requestID)
	if err != nil {
		return nil, translate(err, "request")
	}
	if !policy.Allowed(actor, policy.ActionReadRequest, req.OwnerID) {
		return nil, dErrors.New(dErrors.CodeForbidden, "not authorized to view this request")
	}
	return req, nil
}

// ListRequests applies filter within what actor may see; reporters are
// always scoped to their own requests.
func (e *Engine) ListRequests(ctx context.Context, actor policy.Actor, filter store.RequestFilter) ([]*models.Request, error) {
	if actor.ID.IsNil() || !actor.Role.IsValid() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	if scope := policy.ListScope(actor); scope != nil {
		filter.OwnerID = scope
	}
	for _, s := range filter.Statuses {
		if !s.IsValid() {
			return nil, dErrors.New(dErrors.CodeValidation, "invalid status: "+string(s))
		}
	}
	list, err := e.store.ListRequests(ctx, filter)
	if err != nil {
		return nil, translate(err, "request")
	}
	return list, nil
}

// ListContributions reads the ledger for one request (administrators and the
// requester) or one contributor (administrators and the contributor).
func (e *Engine) ListContributions(ctx context.Context, actor policy.Actor, q ContributionQuery) ([]*models.Contribution, error) {
	var filter store.ContributionFilter
	switch {
	case q.RequestID != nil:
		req, err := e.store.FindByID(ctx, *q.RequestID)
		if err != nil {
			return nil, translate(err, "request")
		}
		if !policy.Allowed(actor, policy.ActionReadContributions, req.OwnerID) {
			return nil, dErrors.New(dErrors.CodeForbidden, "not authorized to view these contributions")
		}
		filter.RequestID = q.RequestID
	case q.ContributorID != nil:
		if !policy.Allowed(actor, policy.ActionReadContributions, *q.ContributorID) {
			return nil, dErrors.New(dErrors.CodeForbidden, "not authorized to view these contributions")
		}
		filter.ContributorID = q.ContributorID
	default:
		if !actor.IsAdmin() {
			return nil, dErrors.New(dErrors.CodeForbidden, "admin access required")
		}
	}

	list, err := e.store.ListContributions(ctx, filter)
	if err != nil {
		return nil, translate(err, "contribution")
	}
	return list, nil
}

// Summary counts requests by status and totals the contributions. Every
// status is present in the result, zero or not. Administrators only.
func (e *Engine) Summary(ctx context.Context, actor policy.Actor) (*Summary, error) {
	if !policy.Allowed(actor, policy.ActionReadSummary, id.UserID{}) {
		return nil, dErrors.New(dErrors.CodeForbidden, "admin access required")
	}
	requests, err := e.store.ListRequests(ctx, store.RequestFilter{})
	if err != nil {
		return nil, translate(err, "request")
	}
	contributions, err := e.store.ListContributions(ctx, store.ContributionFilter{})
	if err != nil {
		return nil, translate(err, "contribution")
	}

	sum := &Summary{
		TotalRequests: len(requests),
		RequestStatusCounts: map[models.Status]int{
			models.StatusPending:   0,
			models.StatusPartial:   0,
			models.StatusFulfilled: 0,
		},
		TotalContributions: len(contributions),
	}
	for _, req := range requests {
		sum.RequestStatusCounts[req.Status]++
	}
	for _, c := range contributions {
		sum.ContributedQuantity += c.Quantity
	}
	return sum, nil
}
