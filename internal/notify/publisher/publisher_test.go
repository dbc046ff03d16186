package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reliefhub/internal/directory"
	ledger "reliefhub/internal/ledger/models"
	"reliefhub/internal/notify/channel"
	"reliefhub/internal/notify/models"
	"reliefhub/internal/platform/metrics"
	id "reliefhub/pkg/domain"
)

type recordingProducer struct {
	mu   sync.Mutex
	msgs []channel.Message
	err  error
}

func (p *recordingProducer) Send(_ context.Context, msg channel.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, msg)
	return nil
}

func (p *recordingProducer) Close(context.Context) error { return nil }

func (p *recordingProducer) events(t *testing.T) []models.Event {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]models.Event, 0, len(p.msgs))
	for _, m := range p.msgs {
		var e models.Event
		require.NoError(t, json.Unmarshal(m.Value, &e))
		assert.Equal(t, e.Key(), string(m.Key))
		out = append(out, e)
	}
	return out
}

type failingAdmins struct{}

func (failingAdmins) ListAdministrators(context.Context) ([]directory.UserRef, error) {
	return nil, errors.New("directory down")
}

var (
	owner       = id.UserID(uuid.New())
	contributor = id.UserID(uuid.New())
	now         = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
)

func fixture(requested, fulfilled, quantity int) models.Intent {
	req := ledger.Request{
		ID:                id.NewRequestID(),
		Category:          "water",
		RequestedQuantity: requested,
		FulfilledQuantity: fulfilled,
		Status:            ledger.DeriveStatus(fulfilled, requested),
		OwnerID:           owner,
	}
	c := &ledger.Contribution{
		ID:            id.NewContributionID(),
		RequestID:     req.ID,
		ContributorID: contributor,
		Quantity:      quantity,
	}
	return models.Intent{Kind: models.IntentContributionCreated, Request: req, Contribution: c, ActorID: contributor, OccurredAt: now}
}

func TestContributionCreatedFansOut(t *testing.T) {
	p := &recordingProducer{}
	d := New(p, WithClock(func() time.Time { return now }))

	intent := fixture(10, 6, 6)
	d.Publish(context.Background(), intent)

	events := p.events(t)
	require.Len(t, events, 3)

	assert.Equal(t, owner.String(), events[0].Recipient)
	assert.Equal(t, models.TypeContribution, events[0].Type)
	assert.Contains(t, events[0].Message, "Pending: 4")
	assert.True(t, events[0].Deletable)
	require.NotNil(t, events[0].ContributionID)
	assert.Equal(t, intent.Contribution.ID, *events[0].ContributionID)

	assert.Equal(t, contributor.String(), events[1].Recipient)
	assert.Equal(t, models.TypeContributionConfirmation, events[1].Type)

	assert.True(t, events[2].Broadcast)
	assert.Equal(t, models.BroadcastKey, events[2].Key())
	assert.Equal(t, models.TypeAdminLog, events[2].Type)
	assert.False(t, events[2].Deletable)
}

func TestFullyFulfilledMessage(t *testing.T) {
	p := &recordingProducer{}
	d := New(p)

	d.Publish(context.Background(), fixture(10, 10, 4))

	events := p.events(t)
	require.NotEmpty(t, events)
	assert.Contains(t, events[0].Message, "fully fulfilled")
}

func TestTimestampsStrictlyIncrease(t *testing.T) {
	p := &recordingProducer{}
	d := New(p, WithClock(func() time.Time { return now }))

	d.Publish(context.Background(), fixture(10, 6, 6))
	d.Publish(context.Background(), fixture(10, 10, 4))

	events := p.events(t)
	require.Len(t, events, 6)
	seen := map[string]bool{}
	for i := 1; i < len(events); i++ {
		assert.True(t, events[i].CreatedAt.After(events[i-1].CreatedAt), "event %d", i)
	}
	for _, e := range events {
		assert.False(t, seen[e.EventID], "event ids are unique")
		seen[e.EventID] = true
	}
}

func TestIntentKinds(t *testing.T) {
	base := fixture(10, 0, 3)
	tests := []struct {
		name  string
		kind  models.IntentKind
		types []models.Type
	}{
		{"request created", models.IntentRequestCreated, []models.Type{models.TypeRequest, models.TypeAdminLog}},
		{"request updated", models.IntentRequestUpdated, []models.Type{models.TypeRequestUpdate, models.TypeAdminLog}},
		{"request deleted", models.IntentRequestDeleted, []models.Type{models.TypeRequestDelete, models.TypeAdminLog}},
		{"contribution deleted", models.IntentContributionDeleted, []models.Type{models.TypeContributionDelete, models.TypeContributionDelete, models.TypeAdminLog}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &recordingProducer{}
			intent := base
			intent.Kind = tt.kind
			New(p).Publish(context.Background(), intent)

			events := p.events(t)
			require.Len(t, events, len(tt.types))
			for i, e := range events {
				assert.Equal(t, tt.types[i], e.Type)
				require.NotNil(t, e.RequestID)
				assert.Equal(t, base.Request.ID, *e.RequestID)
			}
		})
	}
}

func TestPerAdminFanout(t *testing.T) {
	adminA := directory.UserRef{ID: id.UserID(uuid.New()), Email: "a@example.org", Role: id.RoleAdmin, Active: true}
	adminB := directory.UserRef{ID: id.UserID(uuid.New()), Email: "b@example.org", Role: id.RoleAdmin, Active: true}
	dir := directory.New(directory.NewInMemory(adminA, adminB))

	t.Run("one event per administrator", func(t *testing.T) {
		p := &recordingProducer{}
		d := New(p, WithFanout(FanoutPerAdmin, dir))
		intent := fixture(10, 0, 3)
		intent.Kind = models.IntentRequestCreated
		d.Publish(context.Background(), intent)

		events := p.events(t)
		require.Len(t, events, 3)
		recipients := []string{events[1].Recipient, events[2].Recipient}
		assert.ElementsMatch(t, []string{adminA.ID.String(), adminB.ID.String()}, recipients)
		assert.False(t, events[1].Broadcast)
	})

	t.Run("directory failure degrades to broadcast", func(t *testing.T) {
		p := &recordingProducer{}
		d := New(p, WithFanout(FanoutPerAdmin, failingAdmins{}))
		intent := fixture(10, 0, 3)
		intent.Kind = models.IntentRequestDeleted
		d.Publish(context.Background(), intent)

		events := p.events(t)
		require.Len(t, events, 2)
		assert.True(t, events[1].Broadcast)
	})
}

func TestEnqueueFailureIsCountedNotReturned(t *testing.T) {
	m := metrics.NewWithRegistry(prometheus.NewRegistry())
	p := &recordingProducer{err: errors.New("broker unavailable")}
	d := New(p, WithMetrics(m))

	assert.NotPanics(t, func() { d.Publish(context.Background(), fixture(10, 0, 3)) })
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsEnqueueFailed.WithLabelValues(string(models.TypeContribution))))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsEnqueueFailed.WithLabelValues(string(models.TypeAdminLog))))
}

func TestPublishWhileConsumerOffline(t *testing.T) {
	ch := channel.NewMemory()
	d := New(ch)

	d.Publish(context.Background(), fixture(10, 0, 3))

	assert.Equal(t, 3, ch.Len())
}
