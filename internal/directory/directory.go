// Package directory answers who a user is: recipient resolution,
// administrator enumeration and the contribute/create-request entitlements.
package directory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	id "reliefhub/pkg/domain"
	"reliefhub/pkg/platform/sentinel"
)

// UserRef is the directory's view of a user.
type UserRef struct {
	ID     id.UserID `json:"id"`
	Email  string    `json:"email"`
	Role   id.Role   `json:"role"`
	Active bool      `json:"active"`
}

// Source is a user lookup backend. Missing or deleted users return sentinel.ErrNotFound.
type Source interface {
	FindByID(ctx context.Context, userID id.UserID) (*UserRef, error)
	FindByEmail(ctx context.Context, email string) (*UserRef, error)
	ListByRole(ctx context.Context, role id.Role) ([]UserRef, error)
}

// Service implements the user collaborator on top of a Source.
type Service struct {
	source Source
}

func New(source Source) *Service {
	return &Service{source: source}
}

// ResolveUser accepts a user id or an email address. Unknown, deleted and
// inactive users resolve to (zero, false, nil); only backend failures error.
func (s *Service) ResolveUser(ctx context.Context, identifier string) (UserRef, bool, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return UserRef{}, false, nil
	}

	var (
		user *UserRef
		err  error
	)
	if u, parseErr := uuid.Parse(identifier); parseErr == nil {
		user, err = s.source.FindByID(ctx, id.UserID(u))
	} else {
		user, err = s.source.FindByEmail(ctx, NormalizeEmail(identifier))
	}
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return UserRef{}, false, nil
		}
		return UserRef{}, false, fmt.Errorf("resolve user: %w", err)
	}
	if !user.Active {
		return UserRef{}, false, nil
	}
	return *user, true, nil
}

// ListAdministrators returns active administrators.
func (s *Service) ListAdministrators(ctx context.Context) ([]UserRef, error) {
	users, err := s.source.ListByRole(ctx, id.RoleAdmin)
	if err != nil {
		return nil, fmt.Errorf("list administrators: %w", err)
	}
	out := users[:0:0]
	for _, u := range users {
		if u.Active {
			out = append(out, u)
		}
	}
	return out, nil
}

func (s *Service) IsAuthorizedToContribute(ctx context.Context, userID id.UserID) (bool, error) {
	return s.hasRole(ctx, userID, id.RoleResponder)
}

func (s *Service) IsAuthorizedToCreateRequest(ctx context.Context, userID id.UserID) (bool, error) {
	return s.hasRole(ctx, userID, id.RoleReporter)
}

func (s *Service) hasRole(ctx context.Context, userID id.UserID, role id.Role) (bool, error) {
	user, ok, err := s.ResolveUser(ctx, userID.String())
	if err != nil || !ok {
		return false, err
	}
	return user.Role == role, nil
}

// NormalizeEmail lowercases and trims an address for lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
