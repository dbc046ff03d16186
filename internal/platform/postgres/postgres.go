// Package postgres opens the shared database/sql pool on the pgx stdlib driver
// and applies the schema.
package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"reliefhub/internal/platform/config"
)

// DriverName is the database/sql driver registered by pgx.
const DriverName = "pgx"

// Open connects and pings. The caller owns Close.
func Open(ctx context.Context, cfg config.Database) (*sql.DB, error) {
	db, err := sql.Open(DriverName, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// SQLX wraps an open pool for the sqlx-backed stores.
func SQLX(db *sql.DB) *sqlx.DB {
	return sqlx.NewDb(db, DriverName)
}

// Postgres error codes the stores translate.
const (
	CodeLockNotAvailable = "55P03"
	CodeCheckViolation   = "23514"
	CodeUniqueViolation  = "23505"
	CodeQueryCanceled    = "57014"
	CodeAdminShutdown    = "57P01"
	CodeCannotConnectNow = "57P03"
)

// ErrorCode returns the SQLSTATE of a postgres error, or "".
func ErrorCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// IsUnavailable reports whether err means the server could not be reached or
// dropped the connection, as opposed to rejecting the statement.
func IsUnavailable(err error) bool {
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) || errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return true
	}
	switch code := ErrorCode(err); {
	case strings.HasPrefix(code, "08"):
		return true
	case code == CodeAdminShutdown, code == CodeCannotConnectNow:
		return true
	}
	return false
}

type migration struct {
	version int
	stmts   []string
}

var migrations = []migration{
	{version: 1, stmts: []string{
		`CREATE TABLE IF NOT EXISTS users (
			id UUID PRIMARY KEY,
			email TEXT NOT NULL UNIQUE,
			role TEXT NOT NULL CHECK (role IN ('REPORTER', 'RESPONDER', 'ADMIN')),
			active BOOLEAN NOT NULL DEFAULT TRUE,
			deleted_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS resource_requests (
			id UUID PRIMARY KEY,
			category TEXT NOT NULL,
			requested_quantity INTEGER NOT NULL CHECK (requested_quantity > 0),
			fulfilled_quantity INTEGER NOT NULL DEFAULT 0
				CHECK (fulfilled_quantity >= 0 AND fulfilled_quantity <= requested_quantity),
			status TEXT NOT NULL CHECK (status IN ('PENDING', 'PARTIAL', 'FULFILLED')),
			owner_id UUID NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS resource_requests_owner_idx ON resource_requests (owner_id)`,
		`CREATE TABLE IF NOT EXISTS contributions (
			id UUID PRIMARY KEY,
			request_id UUID NOT NULL REFERENCES resource_requests (id) ON DELETE CASCADE,
			contributor_id UUID NOT NULL,
			quantity INTEGER NOT NULL CHECK (quantity > 0),
			category TEXT NOT NULL,
			latitude DOUBLE PRECISION,
			longitude DOUBLE PRECISION,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS contributions_request_idx ON contributions (request_id)`,
		`CREATE INDEX IF NOT EXISTS contributions_contributor_idx ON contributions (contributor_id)`,
		`CREATE TABLE IF NOT EXISTS notifications (
			id UUID PRIMARY KEY,
			recipient_id UUID,
			admin_broadcast BOOLEAN NOT NULL DEFAULT FALSE,
			type TEXT NOT NULL,
			message TEXT NOT NULL,
			request_id UUID,
			contribution_id UUID,
			is_read BOOLEAN NOT NULL DEFAULT FALSE,
			deletable BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS notifications_recipient_idx ON notifications (recipient_id, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS notifications_broadcast_idx ON notifications (created_at DESC) WHERE admin_broadcast`,
	}},
}

// Migrate applies outstanding migrations, each in its own transaction.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`); err != nil {
		return fmt.Errorf("creating schema_version: %w", err)
	}

	var current int
	if err := db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&current); err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if err := apply(ctx, db, m); err != nil {
			return fmt.Errorf("applying migration %d: %w", m.version, err)
		}
	}
	return nil
}

func apply(ctx context.Context, db *sql.DB, m migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range m.stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_version (version) VALUES ($1)`, m.version); err != nil {
		return err
	}
	return tx.Commit()
}
