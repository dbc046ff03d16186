// Package policy holds the single authorization predicate shared by every
// read and write surface of the request domain.
package policy

import (
	id "reliefhub/pkg/domain"
)

// Actor is the authenticated caller.
type Actor struct {
	ID   id.UserID
	Role id.Role
}

func (a Actor) IsAdmin() bool { return a.Role == id.RoleAdmin }

// Action names an operation on a request-domain resource.
type Action string

const (
	ActionCreateRequest     Action = "request:create"
	ActionReadRequest       Action = "request:read"
	ActionUpdateRequest     Action = "request:update"
	ActionDeleteRequest     Action = "request:delete"
	ActionContribute        Action = "contribution:create"
	ActionReadContributions Action = "contribution:read"
	ActionRetract           Action = "contribution:delete"
	ActionReadSummary       Action = "ledger:summary"
)

// Allowed evaluates (actor role, actor id, resource owner) once per call.
// owner is the requester for request actions and the contributor for
// contribution actions; it is ignored where ownership does not matter.
//
// Role checks here are structural only. Whether an account is currently
// active and entitled is the directory's decision.
func Allowed(actor Actor, action Action, owner id.UserID) bool {
	if actor.ID.IsNil() || !actor.Role.IsValid() {
		return false
	}
	switch action {
	case ActionCreateRequest:
		return actor.Role == id.RoleReporter
	case ActionContribute:
		return actor.Role == id.RoleResponder
	case ActionUpdateRequest, ActionDeleteRequest, ActionReadSummary:
		return actor.IsAdmin()
	case ActionReadRequest:
		// Responders need every request to find open capacity.
		return actor.Role != id.RoleReporter || actor.ID == owner
	case ActionReadContributions, ActionRetract:
		return actor.IsAdmin() || actor.ID == owner
	}
	return false
}

// ListScope returns the owner filter a list read must apply for actor, or nil
// when the actor may see every request.
func ListScope(actor Actor) *id.UserID {
	if actor.Role == id.RoleReporter {
		owner := actor.ID
		return &owner
	}
	return nil
}
