package store

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"reliefhub/internal/directory"
	"reliefhub/internal/platform/sqlite"
	id "reliefhub/pkg/domain"
	"reliefhub/pkg/platform/sentinel"
)

type SQLStoreSuite struct {
	suite.Suite
	store *SQLStore
	ctx   context.Context
}

func TestSQLStoreSuite(t *testing.T) {
	suite.Run(t, new(SQLStoreSuite))
}

func (s *SQLStoreSuite) SetupTest() {
	s.ctx = context.Background()
	db, err := sqlite.Open(s.ctx, ":memory:")
	s.Require().NoError(err)
	s.T().Cleanup(func() { _ = db.Close() })
	s.store = New(db)
}

func (s *SQLStoreSuite) TestFindAndList() {
	admin := directory.UserRef{ID: id.UserID(uuid.New()), Email: "Admin@Example.org", Role: id.RoleAdmin, Active: true}
	responder := directory.UserRef{ID: id.UserID(uuid.New()), Email: "r@example.org", Role: id.RoleResponder, Active: true}
	s.Require().NoError(s.store.Upsert(s.ctx, admin))
	s.Require().NoError(s.store.Upsert(s.ctx, responder))

	got, err := s.store.FindByID(s.ctx, admin.ID)
	s.Require().NoError(err)
	s.Equal("admin@example.org", got.Email)
	s.Equal(id.RoleAdmin, got.Role)
	s.True(got.Active)

	got, err = s.store.FindByEmail(s.ctx, "R@EXAMPLE.ORG")
	s.Require().NoError(err)
	s.Equal(responder.ID, got.ID)

	admins, err := s.store.ListByRole(s.ctx, id.RoleAdmin)
	s.Require().NoError(err)
	s.Require().Len(admins, 1)
	s.Equal(admin.ID, admins[0].ID)
}

func (s *SQLStoreSuite) TestSoftDeletedUsersDoNotMatch() {
	u := directory.UserRef{ID: id.UserID(uuid.New()), Email: "x@example.org", Role: id.RoleReporter, Active: true}
	s.Require().NoError(s.store.Upsert(s.ctx, u))
	s.Require().NoError(s.store.SoftDelete(s.ctx, u.ID))

	_, err := s.store.FindByID(s.ctx, u.ID)
	s.ErrorIs(err, sentinel.ErrNotFound)
	s.ErrorIs(s.store.SoftDelete(s.ctx, u.ID), sentinel.ErrNotFound)

	svc := directory.New(s.store)
	_, ok, err := svc.ResolveUser(s.ctx, u.ID.String())
	s.Require().NoError(err)
	s.False(ok)
}

func (s *SQLStoreSuite) TestUpsertReplaces() {
	u := directory.UserRef{ID: id.UserID(uuid.New()), Email: "y@example.org", Role: id.RoleReporter, Active: true}
	s.Require().NoError(s.store.Upsert(s.ctx, u))
	u.Active = false
	s.Require().NoError(s.store.Upsert(s.ctx, u))

	got, err := s.store.FindByID(s.ctx, u.ID)
	s.Require().NoError(err)
	s.False(got.Active)
}
