// Package store reads the users table through sqlx. The same queries run on
// PostgreSQL (pgx) and sqlite (modernc); placeholders are rebound per driver.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"reliefhub/internal/directory"
	id "reliefhub/pkg/domain"
	"reliefhub/pkg/platform/sentinel"
)

// SQLStore is a directory.Source over the users table. Soft-deleted rows never match.
type SQLStore struct {
	db *sqlx.DB
}

func New(db *sqlx.DB) *SQLStore {
	return &SQLStore{db: db}
}

type userRow struct {
	ID     string `db:"id"`
	Email  string `db:"email"`
	Role   string `db:"role"`
	Active bool   `db:"active"`
}

func (r userRow) toRef() (*directory.UserRef, error) {
	u, err := uuid.Parse(r.ID)
	if err != nil {
		return nil, fmt.Errorf("parse user id %q: %w", r.ID, err)
	}
	return &directory.UserRef{
		ID:     id.UserID(u),
		Email:  r.Email,
		Role:   id.Role(r.Role),
		Active: r.Active,
	}, nil
}

const selectUser = `SELECT id, email, role, active FROM users WHERE deleted_at IS NULL`

func (s *SQLStore) FindByID(ctx context.Context, userID id.UserID) (*directory.UserRef, error) {
	return s.findOne(ctx, "find user by id", selectUser+` AND id = ?`, userID.String())
}

func (s *SQLStore) FindByEmail(ctx context.Context, email string) (*directory.UserRef, error) {
	return s.findOne(ctx, "find user by email", selectUser+` AND email = ?`, directory.NormalizeEmail(email))
}

func (s *SQLStore) findOne(ctx context.Context, op, query string, arg any) (*directory.UserRef, error) {
	var row userRow
	if err := s.db.GetContext(ctx, &row, s.db.Rebind(query), arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return row.toRef()
}

func (s *SQLStore) ListByRole(ctx context.Context, role id.Role) ([]directory.UserRef, error) {
	var rows []userRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(selectUser+` AND role = ? ORDER BY email`), role.String()); err != nil {
		return nil, fmt.Errorf("list users by role: %w", err)
	}
	out := make([]directory.UserRef, 0, len(rows))
	for _, r := range rows {
		ref, err := r.toRef()
		if err != nil {
			return nil, err
		}
		out = append(out, *ref)
	}
	return out, nil
}

// Upsert writes a user row. Used for seeding and by the account service that owns users.
func (s *SQLStore) Upsert(ctx context.Context, u directory.UserRef) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO users (id, email, role, active)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET email = excluded.email, role = excluded.role, active = excluded.active, deleted_at = NULL`),
		u.ID.String(), directory.NormalizeEmail(u.Email), u.Role.String(), u.Active,
	)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

// SoftDelete marks a user deleted; lookups stop matching immediately.
func (s *SQLStore) SoftDelete(ctx context.Context, userID id.UserID) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`UPDATE users SET deleted_at = CURRENT_TIMESTAMP WHERE id = ? AND deleted_at IS NULL`), userID.String())
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}
