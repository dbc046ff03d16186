// Package fulfillment owns every change to a Request's fulfilled quantity.
// Contributions and retractions run under exclusive per-request access and
// commit the request update and the contribution ledger entry together.
package fulfillment

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"reliefhub/internal/ledger/models"
	"reliefhub/internal/ledger/store"
	notify "reliefhub/internal/notify/models"
	"reliefhub/internal/platform/metrics"
	"reliefhub/internal/policy"
	id "reliefhub/pkg/domain"
	dErrors "reliefhub/pkg/domain-errors"
	"reliefhub/pkg/platform/sentinel"
	"reliefhub/pkg/requestcontext"
)

var tracer = otel.Tracer("reliefhub/fulfillment")

// Directory answers entitlement questions about the acting user.
type Directory interface {
	IsAuthorizedToContribute(ctx context.Context, userID id.UserID) (bool, error)
	IsAuthorizedToCreateRequest(ctx context.Context, userID id.UserID) (bool, error)
}

// Notifier receives one intent per committed change. It must not block on
// delivery and has no way to fail the caller.
type Notifier interface {
	Publish(ctx context.Context, intent notify.Intent)
}

// CapacityPolicy decides what happens to a contribution larger than the
// pending quantity.
type CapacityPolicy string

const (
	// PolicyReject refuses the whole contribution.
	PolicyReject CapacityPolicy = "reject"
	// PolicyCap accepts only the pending amount and flags the result as capped.
	PolicyCap CapacityPolicy = "cap"
)

// Config tunes contention handling and the capacity policy.
type Config struct {
	LockRetries    uint64
	RetryBase      time.Duration
	RetryMax       time.Duration
	CapacityPolicy CapacityPolicy
}

// DefaultConfig matches the shipped configuration defaults.
var DefaultConfig = Config{
	LockRetries:    3,
	RetryBase:      50 * time.Millisecond,
	RetryMax:       500 * time.Millisecond,
	CapacityPolicy: PolicyReject,
}

type Engine struct {
	store     store.Store
	directory Directory
	notifier  Notifier
	cfg       Config
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

type Option func(*Engine)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

func WithConfig(cfg Config) Option {
	return func(e *Engine) { e.cfg = cfg }
}

func New(st store.Store, directory Directory, notifier Notifier, opts ...Option) *Engine {
	e := &Engine{
		store:     st,
		directory: directory,
		notifier:  notifier,
		cfg:       DefaultConfig,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.cfg.CapacityPolicy == "" {
		e.cfg.CapacityPolicy = PolicyReject
	}
	return e
}

// ContributeCommand is one contributor's offer toward a request.
type ContributeCommand struct {
	Actor     policy.Actor
	RequestID id.RequestID
	Quantity  int
	// Category is optional; empty inherits the request's category.
	Category string
	Location *models.Geolocation
}

type ContributionResult struct {
	Contribution *models.Contribution
	Request      *models.Request
	// Capped is set when PolicyCap accepted less than the offered quantity.
	Capped bool
}

type RetractResult struct {
	Contribution *models.Contribution
	Request      *models.Request
}

// Contribute records a contribution and raises the request's fulfilled
// quantity in one atomic unit. The fulfilled quantity never exceeds the
// requested quantity, whatever the interleaving of concurrent callers.
func (e *Engine) Contribute(ctx context.Context, cmd ContributeCommand) (*ContributionResult, error) {
	ctx, span := tracer.Start(ctx, "Engine.Contribute", trace.WithAttributes(
		attribute.String("request.id", cmd.RequestID.String()),
		attribute.Int("contribution.quantity", cmd.Quantity),
	))
	defer span.End()

	result, err := e.contribute(ctx, cmd)
	if err != nil {
		e.metrics.ObserveContribution(outcomeFor(err))
		recordSpanError(span, err)
		return nil, err
	}
	if result.Capped {
		e.metrics.ObserveContribution(metrics.OutcomeCapped)
	} else {
		e.metrics.ObserveContribution(metrics.OutcomeAccepted)
	}
	span.SetAttributes(attribute.String("request.status", result.Request.Status.String()))

	e.notifier.Publish(context.WithoutCancel(ctx), notify.Intent{
		Kind:         notify.IntentContributionCreated,
		Request:      *result.Request.Clone(),
		Contribution: result.Contribution.Clone(),
		ActorID:      cmd.Actor.ID,
		OccurredAt:   result.Contribution.CreatedAt,
	})
	return result, nil
}

func (e *Engine) contribute(ctx context.Context, cmd ContributeCommand) (*ContributionResult, error) {
	if !policy.Allowed(cmd.Actor, policy.ActionContribute, cmd.Actor.ID) {
		return nil, dErrors.New(dErrors.CodeForbidden, "only responders can contribute")
	}
	if cmd.RequestID.IsNil() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "request id is required")
	}
	if cmd.Quantity <= 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "quantity must be positive")
	}
	ok, err := e.directory.IsAuthorizedToContribute(ctx, cmd.Actor.ID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to check contributor")
	}
	if !ok {
		return nil, dErrors.New(dErrors.CodeForbidden, "user is not allowed to contribute")
	}

	var result *ContributionResult
	err = e.withExclusive(ctx, cmd.RequestID, func(req *models.Request, lease store.Lease) error {
		pending := req.Pending()
		accepted := cmd.Quantity
		capped := false
		if accepted > pending {
			if e.cfg.CapacityPolicy != PolicyCap || pending == 0 {
				return capacityExceeded(req.RequestedQuantity, req.FulfilledQuantity)
			}
			accepted, capped = pending, true
		}

		now := requestcontext.Now(ctx)
		c, err := models.NewContribution(id.NewContributionID(), req, cmd.Actor.ID, accepted, cmd.Category, cmd.Location, now)
		if err != nil {
			return err
		}
		updated := req.Clone()
		if err := updated.ApplyIncrement(accepted, now); err != nil {
			return e.integrity(ctx, err, req.ID)
		}
		if err := lease.SaveAtomic(ctx, updated, []models.ContributionMutation{models.Insert(c)}); err != nil {
			if errors.Is(err, sentinel.ErrIntegrity) {
				return e.integrity(ctx, err, req.ID)
			}
			return translate(err, "request")
		}
		result = &ContributionResult{Contribution: c, Request: updated, Capped: capped}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Retract deletes a contribution and lowers the request's fulfilled quantity
// by exactly its amount. Administrators may retract any contribution;
// contributors only their own.
func (e *Engine) Retract(ctx context.Context, actor policy.Actor, contributionID id.ContributionID) (*RetractResult, error) {
	ctx, span := tracer.Start(ctx, "Engine.Retract", trace.WithAttributes(
		attribute.String("contribution.id", contributionID.String()),
	))
	defer span.End()

	result, err := e.retract(ctx, actor, contributionID)
	if err != nil {
		e.metrics.ObserveRetraction(outcomeFor(err))
		recordSpanError(span, err)
		return nil, err
	}
	e.metrics.ObserveRetraction(metrics.OutcomeAccepted)

	e.notifier.Publish(context.WithoutCancel(ctx), notify.Intent{
		Kind:         notify.IntentContributionDeleted,
		Request:      *result.Request.Clone(),
		Contribution: result.Contribution.Clone(),
		ActorID:      actor.ID,
		OccurredAt:   result.Request.UpdatedAt,
	})
	return result, nil
}

func (e *Engine) retract(ctx context.Context, actor policy.Actor, contributionID id.ContributionID) (*RetractResult, error) {
	if contributionID.IsNil() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "contribution id is required")
	}
	c, err := e.store.FindContribution(ctx, contributionID)
	if err != nil {
		return nil, translate(err, "contribution")
	}
	if !policy.Allowed(actor, policy.ActionRetract, c.ContributorID) {
		return nil, dErrors.New(dErrors.CodeForbidden, "not authorized to delete this contribution")
	}

	var result *RetractResult
	err = e.withExclusive(ctx, c.RequestID, func(req *models.Request, lease store.Lease) error {
		// A concurrent retract may have won the lease first.
		c, err := lease.FindContribution(ctx, contributionID)
		if err != nil {
			return translate(err, "contribution")
		}
		now := requestcontext.Now(ctx)
		updated := req.Clone()
		if err := updated.ApplyDecrement(c.Quantity, now); err != nil {
			return e.integrity(ctx, err, req.ID)
		}
		if err := lease.SaveAtomic(ctx, updated, []models.ContributionMutation{models.Remove(c)}); err != nil {
			if errors.Is(err, sentinel.ErrIntegrity) {
				return e.integrity(ctx, err, req.ID)
			}
			return translate(err, "contribution")
		}
		result = &RetractResult{Contribution: c, Request: updated}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// withExclusive runs fn while holding the request's lease. Lock timeouts are
// retried with bounded exponential backoff; any other acquisition error ends
// the attempt. The lease is always released.
func (e *Engine) withExclusive(ctx context.Context, requestID id.RequestID, fn func(*models.Request, store.Lease) error) error {
	var (
		req   *models.Request
		lease store.Lease
	)
	if err := ctx.Err(); err != nil {
		return translate(err, "request")
	}
	err := e.retryContention(ctx, "Engine.acquire", requestID, func() error {
		start := time.Now()
		r, l, err := e.store.GetForExclusiveUpdate(ctx, requestID)
		e.metrics.ObserveLockWait(time.Since(start))
		if err != nil {
			return err
		}
		req, lease = r, l
		return nil
	})
	if err != nil {
		return translate(err, "request")
	}
	defer lease.Release()
	return fn(req, lease)
}

// retryContention retries op only while it fails with sentinel.ErrLockTimeout.
func (e *Engine) retryContention(ctx context.Context, spanName string, requestID id.RequestID, op func() error) error {
	ctx, span := tracer.Start(ctx, spanName, trace.WithAttributes(attribute.String("request.id", requestID.String())))
	defer span.End()

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = e.cfg.RetryBase
	eb.MaxInterval = e.cfg.RetryMax
	eb.MaxElapsedTime = 0
	b := backoff.WithContext(backoff.WithMaxRetries(eb, e.cfg.LockRetries), ctx)

	err := backoff.RetryNotify(func() error {
		err := op()
		if err == nil || errors.Is(err, sentinel.ErrLockTimeout) {
			return err
		}
		return backoff.Permanent(err)
	}, b, func(_ error, wait time.Duration) {
		e.metrics.IncrementContentionRetries()
		e.logger.DebugContext(ctx, "request busy, retrying",
			"request_id", requestID.String(),
			"wait_ms", wait.Milliseconds(),
		)
	})
	if err != nil {
		span.RecordError(err)
	}
	return err
}

// integrity reports a violated ledger invariant. Nothing was committed.
func (e *Engine) integrity(ctx context.Context, err error, requestID id.RequestID) error {
	e.logger.ErrorContext(ctx, "ledger invariant violated, transaction rolled back",
		"request_id", requestID.String(),
		"error", err,
	)
	return dErrors.Wrap(err, dErrors.CodeInvariantViolation, "ledger invariant violated")
}

func recordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, string(dErrors.CodeOf(err)))
}
