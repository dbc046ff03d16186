// Package materializer consumes notification events and persists them as
// notification records.
package materializer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"reliefhub/internal/directory"
	"reliefhub/internal/notify/channel"
	"reliefhub/internal/notify/models"
	"reliefhub/internal/platform/metrics"
	id "reliefhub/pkg/domain"
)

var tracer = otel.Tracer("reliefhub/notify/materializer")

// Drop reasons reported to metrics.
const (
	DropRecipientUnresolved = "recipient_unresolved"
	DropMalformed           = "malformed"
)

var errMalformed = errors.New("malformed event")

// Resolver maps an event recipient to a live user.
type Resolver interface {
	ResolveUser(ctx context.Context, identifier string) (directory.UserRef, bool, error)
}

// Saver persists a materialized notification.
type Saver interface {
	Save(ctx context.Context, n *models.Notification) error
}

// Materializer is a channel.Handler. It returns an error only when the event
// should be redelivered: directory or store failures.
type Materializer struct {
	resolver Resolver
	store    Saver
	logger   *slog.Logger
	metrics  *metrics.Metrics
	clock    func() time.Time
}

type Option func(*Materializer)

func WithLogger(logger *slog.Logger) Option {
	return func(m *Materializer) { m.logger = logger }
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Materializer) { m.metrics = mt }
}

func WithClock(clock func() time.Time) Option {
	return func(m *Materializer) { m.clock = clock }
}

func New(resolver Resolver, store Saver, opts ...Option) *Materializer {
	m := &Materializer{
		resolver: resolver,
		store:    store,
		logger:   slog.Default(),
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

var _ channel.Handler = (*Materializer)(nil)

func (m *Materializer) Handle(ctx context.Context, msg *channel.Message) error {
	ctx, span := tracer.Start(ctx, "Materializer.Handle")
	defer span.End()

	event, err := decode(msg.Value)
	if err != nil {
		m.logger.WarnContext(ctx, "skipping malformed notification event",
			"key", string(msg.Key),
			"error", err,
		)
		m.metrics.IncrementDropped(DropMalformed)
		return nil
	}
	span.SetAttributes(
		attribute.String("event.id", event.EventID),
		attribute.String("event.type", string(event.Type)),
		attribute.Bool("event.broadcast", event.Broadcast),
	)

	createdAt := event.CreatedAt
	if createdAt.IsZero() {
		createdAt = m.clock()
	}
	n := &models.Notification{
		ID:             id.NewNotificationID(),
		Type:           event.Type,
		Message:        event.Message,
		RequestID:      event.RequestID,
		ContributionID: event.ContributionID,
		Deletable:      event.Deletable,
		CreatedAt:      createdAt.UTC(),
	}

	if event.Broadcast {
		n.AdminBroadcast = true
	} else {
		user, ok, err := m.resolver.ResolveUser(ctx, event.Recipient)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "resolve recipient")
			return fmt.Errorf("resolve recipient: %w", err)
		}
		if !ok {
			m.logger.DebugContext(ctx, "dropping notification for unresolved recipient",
				"event_id", event.EventID,
				"type", event.Type,
				"recipient", event.Recipient,
			)
			m.metrics.IncrementDropped(DropRecipientUnresolved)
			return nil
		}
		n.RecipientID = &user.ID
	}

	if err := m.store.Save(ctx, n); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "save notification")
		return fmt.Errorf("save notification: %w", err)
	}
	m.metrics.IncrementMaterialized(string(event.Type))
	m.metrics.ObserveConsumeLatency(createdAt, m.clock())
	return nil
}

func decode(payload []byte) (models.Event, error) {
	var event models.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return event, fmt.Errorf("%w: %w", errMalformed, err)
	}
	if event.Type == "" {
		return event, fmt.Errorf("%w: missing type", errMalformed)
	}
	if event.Broadcast == (event.Recipient != "") {
		return event, fmt.Errorf("%w: exactly one of recipient or broadcast required", errMalformed)
	}
	return event, nil
}
