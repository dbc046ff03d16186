package httptransport

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"reliefhub/internal/fulfillment"
	"reliefhub/internal/ledger/models"
	"reliefhub/internal/ledger/store"
	notify "reliefhub/internal/notify/models"
	"reliefhub/internal/policy"
	id "reliefhub/pkg/domain"
	dErrors "reliefhub/pkg/domain-errors"
	"reliefhub/pkg/platform/httputil"
	liststrings "reliefhub/pkg/platform/strings"
	"reliefhub/pkg/requestcontext"
)

// RequestService is the ledger surface.
type RequestService interface {
	CreateRequest(ctx context.Context, cmd fulfillment.CreateRequestCommand) (*models.Request, error)
	UpdateRequest(ctx context.Context, actor policy.Actor, requestID id.RequestID, cmd fulfillment.UpdateRequestCommand) (*models.Request, error)
	DeleteRequest(ctx context.Context, actor policy.Actor, requestID id.RequestID) error
	GetRequest(ctx context.Context, actor policy.Actor, requestID id.RequestID) (*models.Request, error)
	ListRequests(ctx context.Context, actor policy.Actor, filter store.RequestFilter) ([]*models.Request, error)
	Contribute(ctx context.Context, cmd fulfillment.ContributeCommand) (*fulfillment.ContributionResult, error)
	Retract(ctx context.Context, actor policy.Actor, contributionID id.ContributionID) (*fulfillment.RetractResult, error)
	ListContributions(ctx context.Context, actor policy.Actor, q fulfillment.ContributionQuery) ([]*models.Contribution, error)
	Summary(ctx context.Context, actor policy.Actor) (*fulfillment.Summary, error)
}

// NotificationService is the notification read surface.
type NotificationService interface {
	ListNotifications(ctx context.Context, actor policy.Actor) ([]*notify.Notification, error)
	ListUnread(ctx context.Context, actor policy.Actor) ([]*notify.Notification, error)
	ListBroadcasts(ctx context.Context, actor policy.Actor) ([]*notify.Notification, error)
	MarkRead(ctx context.Context, notificationID id.NotificationID, actor policy.Actor) error
	Delete(ctx context.Context, notificationID id.NotificationID, actor policy.Actor, isAdminOverride bool) error
}

type Handler struct {
	requests      RequestService
	notifications NotificationService
	logger        *slog.Logger
}

func actorFrom(ctx context.Context) policy.Actor {
	return policy.Actor{ID: requestcontext.UserID(ctx), Role: requestcontext.Role(ctx)}
}

// fail logs server-side failures and writes the coded error.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	ctx := r.Context()
	if httputil.StatusFor(dErrors.CodeOf(err)) >= http.StatusInternalServerError {
		h.logger.ErrorContext(ctx, op+" failed",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
	}
	httputil.WriteError(w, err)
}

func (h *Handler) handleCreateRequest(w http.ResponseWriter, r *http.Request) {
	var body createRequestBody
	if err := decode(r, &body); err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, err := h.requests.CreateRequest(r.Context(), fulfillment.CreateRequestCommand{
		Actor:    actorFrom(r.Context()),
		Category: body.Category,
		Quantity: body.Quantity,
	})
	if err != nil {
		h.fail(w, r, "create request", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, req)
}

// handleListRequests accepts ?status=PENDING,PARTIAL and ?category=.
func (h *Handler) handleListRequests(w http.ResponseWriter, r *http.Request) {
	var filter store.RequestFilter
	for _, s := range liststrings.SplitList(r.URL.Query().Get("status")) {
		filter.Statuses = append(filter.Statuses, models.Status(s))
	}
	filter.Category = r.URL.Query().Get("category")

	list, err := h.requests.ListRequests(r.Context(), actorFrom(r.Context()), filter)
	if err != nil {
		h.fail(w, r, "list requests", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, newList(list))
}

func (h *Handler) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	requestID, err := id.ParseRequestID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, err := h.requests.GetRequest(r.Context(), actorFrom(r.Context()), requestID)
	if err != nil {
		h.fail(w, r, "get request", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, req)
}

func (h *Handler) handleUpdateRequest(w http.ResponseWriter, r *http.Request) {
	requestID, err := id.ParseRequestID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	var body updateRequestBody
	if err := decode(r, &body); err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, err := h.requests.UpdateRequest(r.Context(), actorFrom(r.Context()), requestID, fulfillment.UpdateRequestCommand{Category: body.Category})
	if err != nil {
		h.fail(w, r, "update request", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, req)
}

func (h *Handler) handleDeleteRequest(w http.ResponseWriter, r *http.Request) {
	requestID, err := id.ParseRequestID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := h.requests.DeleteRequest(r.Context(), actorFrom(r.Context()), requestID); err != nil {
		h.fail(w, r, "delete request", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleContribute(w http.ResponseWriter, r *http.Request) {
	requestID, err := id.ParseRequestID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	var body contributeBody
	if err := decode(r, &body); err != nil {
		httputil.WriteError(w, err)
		return
	}
	res, err := h.requests.Contribute(r.Context(), fulfillment.ContributeCommand{
		Actor:     actorFrom(r.Context()),
		RequestID: requestID,
		Quantity:  body.Quantity,
		Category:  body.Category,
		Location:  body.location(),
	})
	if err != nil {
		h.fail(w, r, "contribute", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, newContributionResponse(res))
}

func (h *Handler) handleListRequestContributions(w http.ResponseWriter, r *http.Request) {
	requestID, err := id.ParseRequestID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	h.listContributions(w, r, fulfillment.ContributionQuery{RequestID: &requestID})
}

// handleListContributions serves /contributions?contributor=<user id>. Without
// a contributor it lists every contribution (administrators only).
func (h *Handler) handleListContributions(w http.ResponseWriter, r *http.Request) {
	var q fulfillment.ContributionQuery
	if raw := r.URL.Query().Get("contributor"); raw != "" {
		contributorID, err := id.ParseUserID(raw)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		q.ContributorID = &contributorID
	}
	h.listContributions(w, r, q)
}

func (h *Handler) listContributions(w http.ResponseWriter, r *http.Request, q fulfillment.ContributionQuery) {
	list, err := h.requests.ListContributions(r.Context(), actorFrom(r.Context()), q)
	if err != nil {
		h.fail(w, r, "list contributions", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, newList(list))
}

func (h *Handler) handleRetract(w http.ResponseWriter, r *http.Request) {
	contributionID, err := id.ParseContributionID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	res, err := h.requests.Retract(r.Context(), actorFrom(r.Context()), contributionID)
	if err != nil {
		h.fail(w, r, "retract contribution", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res.Request)
}

func (h *Handler) handleSummary(w http.ResponseWriter, r *http.Request) {
	sum, err := h.requests.Summary(r.Context(), actorFrom(r.Context()))
	if err != nil {
		h.fail(w, r, "ledger summary", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, sum)
}
