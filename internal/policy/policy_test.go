package policy

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	id "reliefhub/pkg/domain"
)

func TestAllowed(t *testing.T) {
	reporter := Actor{ID: id.UserID(uuid.New()), Role: id.RoleReporter}
	responder := Actor{ID: id.UserID(uuid.New()), Role: id.RoleResponder}
	admin := Actor{ID: id.UserID(uuid.New()), Role: id.RoleAdmin}
	stranger := id.UserID(uuid.New())

	tests := []struct {
		name   string
		actor  Actor
		action Action
		owner  id.UserID
		want   bool
	}{
		{"reporter creates", reporter, ActionCreateRequest, id.UserID{}, true},
		{"responder cannot create", responder, ActionCreateRequest, id.UserID{}, false},
		{"responder contributes", responder, ActionContribute, id.UserID{}, true},
		{"reporter cannot contribute", reporter, ActionContribute, id.UserID{}, false},
		{"admin cannot contribute", admin, ActionContribute, id.UserID{}, false},
		{"admin updates", admin, ActionUpdateRequest, stranger, true},
		{"owner cannot update", reporter, ActionUpdateRequest, reporter.ID, false},
		{"admin deletes", admin, ActionDeleteRequest, stranger, true},
		{"admin reads summary", admin, ActionReadSummary, stranger, true},
		{"responder cannot read summary", responder, ActionReadSummary, responder.ID, false},
		{"reporter reads own", reporter, ActionReadRequest, reporter.ID, true},
		{"reporter cannot read others", reporter, ActionReadRequest, stranger, false},
		{"responder reads any", responder, ActionReadRequest, stranger, true},
		{"contributor retracts own", responder, ActionRetract, responder.ID, true},
		{"responder cannot retract others", responder, ActionRetract, stranger, false},
		{"admin retracts any", admin, ActionRetract, stranger, true},
		{"contributor lists own", responder, ActionReadContributions, responder.ID, true},
		{"unknown action", admin, Action("bogus"), stranger, false},
		{"anonymous", Actor{Role: id.RoleAdmin}, ActionReadRequest, stranger, false},
		{"invalid role", Actor{ID: stranger, Role: "GUEST"}, ActionReadRequest, stranger, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Allowed(tt.actor, tt.action, tt.owner))
		})
	}
}

func TestListScope(t *testing.T) {
	reporter := Actor{ID: id.UserID(uuid.New()), Role: id.RoleReporter}
	scope := ListScope(reporter)
	if assert.NotNil(t, scope) {
		assert.Equal(t, reporter.ID, *scope)
	}
	assert.Nil(t, ListScope(Actor{ID: id.UserID(uuid.New()), Role: id.RoleResponder}))
	assert.Nil(t, ListScope(Actor{ID: id.UserID(uuid.New()), Role: id.RoleAdmin}))
}
