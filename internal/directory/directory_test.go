package directory

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "reliefhub/pkg/domain"
)

type failingSource struct{ *InMemory }

func (failingSource) FindByID(context.Context, id.UserID) (*UserRef, error) {
	return nil, errors.New("connection refused")
}

func TestService(t *testing.T) {
	ctx := context.Background()
	reporter := UserRef{ID: id.UserID(uuid.New()), Email: "Reporter@Example.org", Role: id.RoleReporter, Active: true}
	responder := UserRef{ID: id.UserID(uuid.New()), Email: "responder@example.org", Role: id.RoleResponder, Active: true}
	admin := UserRef{ID: id.UserID(uuid.New()), Email: "admin@example.org", Role: id.RoleAdmin, Active: true}
	retired := UserRef{ID: id.UserID(uuid.New()), Email: "retired@example.org", Role: id.RoleAdmin, Active: false}
	source := NewInMemory(reporter, responder, admin, retired)
	svc := New(source)

	t.Run("resolves by id and by email", func(t *testing.T) {
		got, ok, err := svc.ResolveUser(ctx, responder.ID.String())
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, responder.ID, got.ID)

		got, ok, err = svc.ResolveUser(ctx, "  REPORTER@example.org ")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, reporter.ID, got.ID)
	})

	t.Run("unknown and inactive users do not resolve", func(t *testing.T) {
		_, ok, err := svc.ResolveUser(ctx, uuid.NewString())
		require.NoError(t, err)
		assert.False(t, ok)

		_, ok, err = svc.ResolveUser(ctx, retired.ID.String())
		require.NoError(t, err)
		assert.False(t, ok)

		_, ok, err = svc.ResolveUser(ctx, "")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("removed users stop resolving", func(t *testing.T) {
		gone := UserRef{ID: id.UserID(uuid.New()), Email: "gone@example.org", Role: id.RoleResponder, Active: true}
		source.Put(gone)
		source.Remove(gone.ID)
		_, ok, err := svc.ResolveUser(ctx, gone.ID.String())
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("administrators exclude inactive", func(t *testing.T) {
		admins, err := svc.ListAdministrators(ctx)
		require.NoError(t, err)
		require.Len(t, admins, 1)
		assert.Equal(t, admin.ID, admins[0].ID)
	})

	t.Run("entitlements follow role", func(t *testing.T) {
		ok, err := svc.IsAuthorizedToContribute(ctx, responder.ID)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = svc.IsAuthorizedToContribute(ctx, reporter.ID)
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = svc.IsAuthorizedToCreateRequest(ctx, reporter.ID)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = svc.IsAuthorizedToCreateRequest(ctx, admin.ID)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("backend failures surface", func(t *testing.T) {
		broken := New(failingSource{NewInMemory()})
		_, _, err := broken.ResolveUser(ctx, uuid.NewString())
		assert.Error(t, err)
	})
}
