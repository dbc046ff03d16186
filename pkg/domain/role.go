package domain

import (
	"strings"

	dErrors "reliefhub/pkg/domain-errors"
)

// Role is the coarse actor classification used by authorization.
// Invariant: the value must be one of the supported roles.
//
// Usage: construct via ParseRole at trust boundaries; direct casting bypasses
// validation.
type Role string

const (
	// RoleReporter raises requests on behalf of affected people.
	RoleReporter Role = "REPORTER"
	// RoleResponder contributes resources toward requests.
	RoleResponder Role = "RESPONDER"
	// RoleAdmin administers requests, contributions and broadcast notifications.
	RoleAdmin Role = "ADMIN"
)

var validRoles = map[Role]bool{
	RoleReporter:  true,
	RoleResponder: true,
	RoleAdmin:     true,
}

// ParseRole constructs a Role from external input (case-insensitive).
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToUpper(strings.TrimSpace(s)))
	if r == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "role is required")
	}
	if !validRoles[r] {
		return "", dErrors.New(dErrors.CodeInvalidInput, "unsupported role: "+s)
	}
	return r, nil
}

func (r Role) IsValid() bool { return validRoles[r] }

func (r Role) String() string { return string(r) }
