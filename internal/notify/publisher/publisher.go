// Package publisher turns committed ledger changes into notification events
// and hands them to the channel without waiting for delivery.
package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"reliefhub/internal/directory"
	"reliefhub/internal/notify/channel"
	"reliefhub/internal/notify/models"
	"reliefhub/internal/platform/metrics"
	id "reliefhub/pkg/domain"
)

// FanoutMode selects how admin log events are addressed.
type FanoutMode string

const (
	// FanoutBroadcast emits one event visible to every administrator.
	FanoutBroadcast FanoutMode = "broadcast"
	// FanoutPerAdmin emits one addressed event per active administrator.
	FanoutPerAdmin FanoutMode = "per_admin"
)

// Administrators enumerates admin recipients for per-admin fan-out.
type Administrators interface {
	ListAdministrators(ctx context.Context) ([]directory.UserRef, error)
}

// Dispatcher implements the engine's notifier. Publish never fails the caller.
type Dispatcher struct {
	producer channel.Producer
	topic    string
	admins   Administrators
	mode     FanoutMode
	logger   *slog.Logger
	metrics  *metrics.Metrics
	clock    func() time.Time

	mu   sync.Mutex
	last time.Time
}

type Option func(*Dispatcher)

func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

func WithFanout(mode FanoutMode, admins Administrators) Option {
	return func(d *Dispatcher) {
		d.mode = mode
		d.admins = admins
	}
}

func WithTopic(topic string) Option {
	return func(d *Dispatcher) { d.topic = topic }
}

func WithClock(clock func() time.Time) Option {
	return func(d *Dispatcher) { d.clock = clock }
}

func New(producer channel.Producer, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		producer: producer,
		mode:     FanoutBroadcast,
		logger:   slog.Default(),
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Publish expands intent into events and enqueues them in order.
func (d *Dispatcher) Publish(ctx context.Context, intent models.Intent) {
	for _, event := range d.expand(ctx, intent) {
		d.enqueue(ctx, event)
	}
}

func (d *Dispatcher) enqueue(ctx context.Context, event models.Event) {
	event.EventID = uuid.NewString()
	event.CreatedAt = d.nextTimestamp()

	payload, err := json.Marshal(event)
	if err != nil {
		d.logger.WarnContext(ctx, "failed to encode notification event", "type", event.Type, "error", err)
		d.metrics.IncrementEnqueueFailed(string(event.Type))
		return
	}
	msg := channel.Message{Topic: d.topic, Key: []byte(event.Key()), Value: payload}
	if err := d.producer.Send(ctx, msg); err != nil {
		d.logger.WarnContext(ctx, "failed to enqueue notification event",
			"event_id", event.EventID,
			"type", event.Type,
			"key", event.Key(),
			"error", err,
		)
		d.metrics.IncrementEnqueueFailed(string(event.Type))
		return
	}
	d.metrics.IncrementEnqueued(string(event.Type))
}

// nextTimestamp is strictly increasing at microsecond resolution, the
// coarsest precision a notification store keeps.
func (d *Dispatcher) nextTimestamp() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.clock().UTC().Truncate(time.Microsecond)
	if !now.After(d.last) {
		now = d.last.Add(time.Microsecond)
	}
	d.last = now
	return now
}

func (d *Dispatcher) expand(ctx context.Context, intent models.Intent) []models.Event {
	req := intent.Request
	requestID := req.ID
	owner := req.OwnerID.String()

	var events []models.Event
	switch intent.Kind {
	case models.IntentRequestCreated:
		events = append(events, direct(owner, models.TypeRequest,
			fmt.Sprintf("Your request for %d units of %s has been created.", req.RequestedQuantity, req.Category), &requestID, nil))
		events = append(events, d.adminLog(ctx,
			fmt.Sprintf("New request created by %s for %s (%d)", owner, req.Category, req.RequestedQuantity), &requestID, nil)...)

	case models.IntentRequestUpdated:
		events = append(events, direct(owner, models.TypeRequestUpdate,
			fmt.Sprintf("Your request #%s has been updated by Admin.", requestID), &requestID, nil))
		events = append(events, d.adminLog(ctx, fmt.Sprintf("Request #%s was updated.", requestID), &requestID, nil)...)

	case models.IntentRequestDeleted:
		events = append(events, direct(owner, models.TypeRequestDelete,
			fmt.Sprintf("Your request #%s was deleted by Admin.", requestID), &requestID, nil))
		events = append(events, d.adminLog(ctx, fmt.Sprintf("Request #%s was deleted.", requestID), &requestID, nil)...)

	case models.IntentContributionCreated:
		c := intent.Contribution
		if c == nil {
			break
		}
		cid := c.ID
		var msg string
		if req.Pending() == 0 {
			msg = fmt.Sprintf("Your request #%s has been fully fulfilled! (+%d units)", requestID, c.Quantity)
		} else {
			msg = fmt.Sprintf("Your request #%s received a contribution of %d units. Pending: %d", requestID, c.Quantity, req.Pending())
		}
		events = append(events,
			direct(owner, models.TypeContribution, msg, &requestID, &cid),
			direct(c.ContributorID.String(), models.TypeContributionConfirmation,
				fmt.Sprintf("You contributed %d units to request #%s", c.Quantity, requestID), &requestID, &cid),
		)
		events = append(events, d.adminLog(ctx,
			fmt.Sprintf("New contribution: %d units by %s to request #%s", c.Quantity, c.ContributorID, requestID), &requestID, &cid)...)

	case models.IntentContributionDeleted:
		c := intent.Contribution
		if c == nil {
			break
		}
		cid := c.ID
		events = append(events,
			direct(owner, models.TypeContributionDelete,
				fmt.Sprintf("A contribution of %d units to your request #%s was withdrawn. Pending: %d", c.Quantity, requestID, req.Pending()), &requestID, &cid),
			direct(c.ContributorID.String(), models.TypeContributionDelete,
				fmt.Sprintf("Your contribution of %d units to request #%s was removed.", c.Quantity, requestID), &requestID, &cid),
		)
		events = append(events, d.adminLog(ctx,
			fmt.Sprintf("Contribution of %d units by %s to request #%s was removed.", c.Quantity, c.ContributorID, requestID), &requestID, &cid)...)

	default:
		d.logger.WarnContext(ctx, "unknown notification intent", "kind", intent.Kind)
	}
	return events
}

func direct(recipient string, typ models.Type, msg string, requestID *id.RequestID, contributionID *id.ContributionID) models.Event {
	return models.Event{
		Recipient:      recipient,
		Type:           typ,
		Message:        msg,
		Deletable:      true,
		RequestID:      requestID,
		ContributionID: contributionID,
	}
}

// adminLog addresses an ADMIN_LOG event per the fan-out mode. If the
// administrator list cannot be read the event degrades to a broadcast.
func (d *Dispatcher) adminLog(ctx context.Context, msg string, requestID *id.RequestID, contributionID *id.ContributionID) []models.Event {
	base := models.Event{
		Type:           models.TypeAdminLog,
		Message:        msg,
		Deletable:      false,
		RequestID:      requestID,
		ContributionID: contributionID,
	}
	if d.mode != FanoutPerAdmin || d.admins == nil {
		base.Broadcast = true
		return []models.Event{base}
	}

	admins, err := d.admins.ListAdministrators(ctx)
	if err != nil {
		d.logger.WarnContext(ctx, "listing administrators failed, broadcasting admin log", "error", err)
		base.Broadcast = true
		return []models.Event{base}
	}
	events := make([]models.Event, 0, len(admins))
	for _, admin := range admins {
		e := base
		e.Recipient = admin.ID.String()
		events = append(events, e)
	}
	return events
}
