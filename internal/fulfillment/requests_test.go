package fulfillment

import (
	"reliefhub/internal/ledger/models"
	"reliefhub/internal/ledger/store"
	notify "reliefhub/internal/notify/models"
	"reliefhub/internal/policy"
	id "reliefhub/pkg/domain"
	dErrors "reliefhub/pkg/domain-errors"
)

func (s *EngineSuite) TestCreateRequest() {
	s.Run("reporter creates", func() {
		req, err := s.engine.CreateRequest(s.ctx, CreateRequestCommand{Actor: s.reporter, Category: "  blankets ", Quantity: 12})
		s.Require().NoError(err)
		s.Equal("blankets", req.Category)
		s.Equal(models.StatusPending, req.Status)
		s.Equal(s.reporter.ID, req.OwnerID)
	})
	s.Run("responder refused", func() {
		_, err := s.engine.CreateRequest(s.ctx, CreateRequestCommand{Actor: s.responder, Category: "water", Quantity: 1})
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})
	s.Run("validation", func() {
		_, err := s.engine.CreateRequest(s.ctx, CreateRequestCommand{Actor: s.reporter, Category: "water", Quantity: 0})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
		_, err = s.engine.CreateRequest(s.ctx, CreateRequestCommand{Actor: s.reporter, Category: " ", Quantity: 1})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

func (s *EngineSuite) TestUpdateRequest() {
	req := s.newRequest(10)
	_, err := s.contribute(s.responder, req.ID, 4)
	s.Require().NoError(err)

	_, err = s.engine.UpdateRequest(s.ctx, s.reporter, req.ID, UpdateRequestCommand{Category: "food"})
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))

	updated, err := s.engine.UpdateRequest(s.ctx, s.admin, req.ID, UpdateRequestCommand{Category: "food"})
	s.Require().NoError(err)
	s.Equal("food", updated.Category)
	s.Equal(4, updated.FulfilledQuantity, "quantities are untouched")
	s.Equal(10, updated.RequestedQuantity)

	_, err = s.engine.UpdateRequest(s.ctx, s.admin, id.NewRequestID(), UpdateRequestCommand{Category: "food"})
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))

	intents := s.recorded()
	s.Equal(notify.IntentRequestUpdated, intents[len(intents)-1].Kind)
}

func (s *EngineSuite) TestDeleteRequestCascades() {
	req := s.newRequest(10)
	res, err := s.contribute(s.responder, req.ID, 4)
	s.Require().NoError(err)

	s.True(dErrors.HasCode(s.engine.DeleteRequest(s.ctx, s.responder, req.ID), dErrors.CodeForbidden))
	s.Require().NoError(s.engine.DeleteRequest(s.ctx, s.admin, req.ID))

	_, err = s.engine.GetRequest(s.ctx, s.admin, req.ID)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	_, err = s.store.FindContribution(s.ctx, res.Contribution.ID)
	s.Error(err)
	s.True(dErrors.HasCode(s.engine.DeleteRequest(s.ctx, s.admin, req.ID), dErrors.CodeNotFound))

	intents := s.recorded()
	last := intents[len(intents)-1]
	s.Equal(notify.IntentRequestDeleted, last.Kind)
	s.Equal(req.ID, last.Request.ID)
}

func (s *EngineSuite) TestRequestVisibility() {
	mine := s.newRequest(10)
	otherReporter := policy.Actor{ID: id.UserID(mine.ID), Role: id.RoleReporter}

	_, err := s.engine.GetRequest(s.ctx, s.reporter, mine.ID)
	s.NoError(err)
	_, err = s.engine.GetRequest(s.ctx, s.responder, mine.ID)
	s.NoError(err)
	_, err = s.engine.GetRequest(s.ctx, otherReporter, mine.ID)
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))

	list, err := s.engine.ListRequests(s.ctx, otherReporter, store.RequestFilter{})
	s.Require().NoError(err)
	s.Empty(list, "reporters only list their own requests")

	list, err = s.engine.ListRequests(s.ctx, s.responder, store.RequestFilter{Statuses: []models.Status{models.StatusPending}})
	s.Require().NoError(err)
	s.Len(list, 1)

	_, err = s.engine.ListRequests(s.ctx, s.responder, store.RequestFilter{Statuses: []models.Status{"DONE"}})
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
}

func (s *EngineSuite) TestListContributions() {
	req := s.newRequest(10)
	_, err := s.contribute(s.responder, req.ID, 2)
	s.Require().NoError(err)
	_, err = s.contribute(s.helper, req.ID, 3)
	s.Require().NoError(err)

	byRequest, err := s.engine.ListContributions(s.ctx, s.reporter, ContributionQuery{RequestID: &req.ID})
	s.Require().NoError(err)
	s.Len(byRequest, 2)

	_, err = s.engine.ListContributions(s.ctx, s.responder, ContributionQuery{RequestID: &req.ID})
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))

	mine, err := s.engine.ListContributions(s.ctx, s.helper, ContributionQuery{ContributorID: &s.helper.ID})
	s.Require().NoError(err)
	s.Require().Len(mine, 1)
	s.Equal(3, mine[0].Quantity)

	_, err = s.engine.ListContributions(s.ctx, s.helper, ContributionQuery{ContributorID: &s.responder.ID})
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))

	all, err := s.engine.ListContributions(s.ctx, s.admin, ContributionQuery{})
	s.Require().NoError(err)
	s.Len(all, 2)
}

func (s *EngineSuite) TestSummary() {
	full := s.newRequest(3)
	partial := s.newRequest(10)
	s.newRequest(5)
	_, err := s.contribute(s.responder, full.ID, 3)
	s.Require().NoError(err)
	_, err = s.contribute(s.helper, partial.ID, 4)
	s.Require().NoError(err)
	_, err = s.contribute(s.responder, partial.ID, 1)
	s.Require().NoError(err)

	for _, actor := range []policy.Actor{s.reporter, s.responder, {}} {
		_, err := s.engine.Summary(s.ctx, actor)
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden), "role %q", actor.Role)
	}

	sum, err := s.engine.Summary(s.ctx, s.admin)
	s.Require().NoError(err)
	s.Equal(3, sum.TotalRequests)
	s.Equal(map[models.Status]int{
		models.StatusPending:   1,
		models.StatusPartial:   1,
		models.StatusFulfilled: 1,
	}, sum.RequestStatusCounts)
	s.Equal(3, sum.TotalContributions)
	s.Equal(8, sum.ContributedQuantity)
}

func (s *EngineSuite) TestSummaryOfEmptyLedger() {
	sum, err := s.engine.Summary(s.ctx, s.admin)
	s.Require().NoError(err)
	s.Zero(sum.TotalRequests)
	s.Len(sum.RequestStatusCounts, 3, "every status is reported")
	s.Zero(sum.RequestStatusCounts[models.StatusPending])
}
