package fulfillment_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reliefhub/internal/directory"
	"reliefhub/internal/fulfillment"
	"reliefhub/internal/ledger/store"
	"reliefhub/internal/notify/channel"
	"reliefhub/internal/notify/materializer"
	"reliefhub/internal/notify/models"
	"reliefhub/internal/notify/publisher"
	notifystore "reliefhub/internal/notify/store"
	"reliefhub/internal/policy"
	id "reliefhub/pkg/domain"
)

type pipeline struct {
	users         *directory.InMemory
	engine        *fulfillment.Engine
	channel       *channel.Memory
	notifications *notifystore.InMemory
	materializer  *materializer.Materializer
}

func newPipeline(users ...directory.UserRef) *pipeline {
	src := directory.NewInMemory(users...)
	dir := directory.New(src)
	ch := channel.NewMemory(channel.WithMemoryRetry(channel.RetryPolicy{Initial: time.Millisecond, Max: 10 * time.Millisecond}))
	notifications := notifystore.NewInMemory()
	return &pipeline{
		users:         src,
		engine:        fulfillment.New(store.NewInMemory(), dir, publisher.New(ch)),
		channel:       ch,
		notifications: notifications,
		materializer:  materializer.New(dir, notifications),
	}
}

func (p *pipeline) drain(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = p.channel.Run(ctx, p.materializer)
		close(done)
	}()
	require.Eventually(t, func() bool { return p.channel.Len() == 0 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	<-done
}

func user(role id.Role) directory.UserRef {
	uid := id.UserID(uuid.New())
	return directory.UserRef{ID: uid, Email: uid.String() + "@example.org", Role: role, Active: true}
}

func actor(u directory.UserRef) policy.Actor {
	return policy.Actor{ID: u.ID, Role: u.Role}
}

func TestNotificationsQueuedWhileConsumerOffline(t *testing.T) {
	reporter, responder, admin := user(id.RoleReporter), user(id.RoleResponder), user(id.RoleAdmin)
	p := newPipeline(reporter, responder, admin)
	ctx := context.Background()

	req, err := p.engine.CreateRequest(ctx, fulfillment.CreateRequestCommand{Actor: actor(reporter), Category: "water", Quantity: 10})
	require.NoError(t, err)
	_, err = p.engine.Contribute(ctx, fulfillment.ContributeCommand{Actor: actor(responder), RequestID: req.ID, Quantity: 6})
	require.NoError(t, err)
	assert.Positive(t, p.channel.Len(), "events wait for the consumer")

	p.drain(t)

	mine, err := p.notifications.ListByRecipient(ctx, reporter.ID, false)
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, models.TypeContribution, mine[0].Type, "newest first")
	assert.Contains(t, mine[0].Message, "Pending: 4")
	assert.Equal(t, models.TypeRequest, mine[1].Type)

	confirmations, err := p.notifications.ListByRecipient(ctx, responder.ID, false)
	require.NoError(t, err)
	require.Len(t, confirmations, 1)
	assert.Equal(t, models.TypeContributionConfirmation, confirmations[0].Type)

	logs, err := p.notifications.ListBroadcasts(ctx, false)
	require.NoError(t, err)
	assert.Len(t, logs, 2)
}

func TestUnresolvableRecipientDoesNotAffectLedger(t *testing.T) {
	reporter, responder := user(id.RoleReporter), user(id.RoleResponder)
	p := newPipeline(reporter, responder)
	ctx := context.Background()

	req, err := p.engine.CreateRequest(ctx, fulfillment.CreateRequestCommand{Actor: actor(reporter), Category: "water", Quantity: 10})
	require.NoError(t, err)
	p.users.Remove(reporter.ID)

	res, err := p.engine.Contribute(ctx, fulfillment.ContributeCommand{Actor: actor(responder), RequestID: req.ID, Quantity: 10})
	require.NoError(t, err)
	assert.Equal(t, 10, res.Request.FulfilledQuantity)

	p.drain(t)

	dropped, err := p.notifications.ListByRecipient(ctx, reporter.ID, false)
	require.NoError(t, err)
	assert.Empty(t, dropped)

	delivered, err := p.notifications.ListByRecipient(ctx, responder.ID, false)
	require.NoError(t, err)
	assert.Len(t, delivered, 1)
}
