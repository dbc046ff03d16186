package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"reliefhub/internal/ledger/models"
	"reliefhub/internal/platform/postgres"
	id "reliefhub/pkg/domain"
	"reliefhub/pkg/platform/sentinel"
	txcontext "reliefhub/pkg/platform/tx"
)

// PostgresStore keeps the ledger in PostgreSQL. Exclusivity is a row lock
// (SELECT ... FOR UPDATE) held by one transaction per lease, bounded by a
// transaction-local lock_timeout. CHECK constraints back the quantity invariant.
type PostgresStore struct {
	db   *sql.DB
	opts options
}

func NewPostgres(db *sql.DB, opts ...Option) *PostgresStore {
	return &PostgresStore{db: db, opts: buildOptions(opts)}
}

const requestColumns = `id, category, requested_quantity, fulfilled_quantity, status, owner_id, created_at, updated_at`

const contributionColumns = `id, request_id, contributor_id, quantity, category, latitude, longitude, created_at, updated_at`

func (s *PostgresStore) CreateRequest(ctx context.Context, req *models.Request) error {
	if req == nil {
		return fmt.Errorf("request is required")
	}
	_, err := txcontext.Exec(ctx, s.db).ExecContext(ctx, `
		INSERT INTO resource_requests (`+requestColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		req.ID.String(), req.Category, req.RequestedQuantity, req.FulfilledQuantity,
		string(req.Status), req.OwnerID.String(), req.CreatedAt, req.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create request: %w", translate(err))
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, requestID id.RequestID) (*models.Request, error) {
	row := txcontext.Exec(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+requestColumns+` FROM resource_requests WHERE id = $1`, requestID.String())
	req, err := scanRequest(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find request: %w", translate(err))
	}
	return req, nil
}

func (s *PostgresStore) FindContribution(ctx context.Context, contributionID id.ContributionID) (*models.Contribution, error) {
	row := txcontext.Exec(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+contributionColumns+` FROM contributions WHERE id = $1`, contributionID.String())
	c, err := scanContribution(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find contribution: %w", translate(err))
	}
	return c, nil
}

func (s *PostgresStore) ListRequests(ctx context.Context, filter RequestFilter) ([]*models.Request, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}
	if filter.OwnerID != nil {
		where = append(where, "owner_id = "+arg(filter.OwnerID.String()))
	}
	if filter.Category != "" {
		where = append(where, "lower(category) = lower("+arg(strings.TrimSpace(filter.Category))+")")
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			statuses[i] = string(st)
		}
		where = append(where, "status = ANY("+arg(pq.Array(statuses))+")")
	}

	query := `SELECT ` + requestColumns + ` FROM resource_requests`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id"

	rows, err := txcontext.Exec(ctx, s.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list requests: %w", translate(err))
	}
	defer rows.Close()

	var out []*models.Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan request: %w", err)
		}
		out = append(out, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) ListContributions(ctx context.Context, filter ContributionFilter) ([]*models.Contribution, error) {
	var (
		where []string
		args  []any
	)
	if filter.RequestID != nil {
		args = append(args, filter.RequestID.String())
		where = append(where, "request_id = $"+strconv.Itoa(len(args)))
	}
	if filter.ContributorID != nil {
		args = append(args, filter.ContributorID.String())
		where = append(where, "contributor_id = $"+strconv.Itoa(len(args)))
	}
	query := `SELECT ` + contributionColumns + ` FROM contributions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at, id"

	rows, err := txcontext.Exec(ctx, s.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list contributions: %w", translate(err))
	}
	defer rows.Close()

	var out []*models.Contribution
	for rows.Next() {
		c, err := scanContribution(rows)
		if err != nil {
			return nil, fmt.Errorf("scan contribution: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list contributions: %w", err)
	}
	return out, nil
}

// begin opens a transaction with the lease lock bound applied.
func (s *PostgresStore) begin(ctx context.Context) (*sql.Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", translateCtx(ctx, err))
	}
	timeout := strconv.FormatInt(s.opts.lockWait.Milliseconds(), 10) + "ms"
	if _, err := tx.ExecContext(ctx, `SELECT set_config('lock_timeout', $1, true)`, timeout); err != nil {
		_ = tx.Rollback()
		return nil, fmt.Errorf("set lock_timeout: %w", err)
	}
	return tx, nil
}

func (s *PostgresStore) GetForExclusiveUpdate(ctx context.Context, requestID id.RequestID) (*models.Request, Lease, error) {
	tx, err := s.begin(ctx)
	if err != nil {
		return nil, nil, err
	}
	row := tx.QueryRowContext(ctx,
		`SELECT `+requestColumns+` FROM resource_requests WHERE id = $1 FOR UPDATE`, requestID.String())
	req, err := scanRequest(row)
	if err != nil {
		_ = tx.Rollback()
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, sentinel.ErrNotFound
		}
		return nil, nil, fmt.Errorf("lock request %s: %w", requestID, translateCtx(ctx, err))
	}
	return req, &postgresLease{db: s.db, tx: tx, requestID: requestID}, nil
}

func (s *PostgresStore) Delete(ctx context.Context, requestID id.RequestID) error {
	tx, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `DELETE FROM resource_requests WHERE id = $1`, requestID.String())
	if err != nil {
		return fmt.Errorf("delete request %s: %w", requestID, translateCtx(ctx, err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sentinel.ErrNotFound
	}
	// contributions cascade via the foreign key
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete: %w", err)
	}
	return nil
}

type postgresLease struct {
	db        *sql.DB
	tx        *sql.Tx
	requestID id.RequestID

	mu   sync.Mutex
	done bool
}

// FindContribution locks the contribution row inside the lease transaction.
func (l *postgresLease) FindContribution(ctx context.Context, contributionID id.ContributionID) (*models.Contribution, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.done {
		return nil, errLeaseClosed
	}
	ctx = txcontext.WithTx(ctx, l.tx)
	row := txcontext.Exec(ctx, l.db).QueryRowContext(ctx,
		`SELECT `+contributionColumns+` FROM contributions WHERE id = $1 AND request_id = $2 FOR UPDATE`,
		contributionID.String(), l.requestID.String())
	c, err := scanContribution(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find contribution %s: %w", contributionID, translateCtx(ctx, err))
	}
	return c, nil
}

func (l *postgresLease) SaveAtomic(ctx context.Context, req *models.Request, mutations []models.ContributionMutation) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.done {
		return errLeaseClosed
	}
	if req == nil || req.ID != l.requestID {
		return fmt.Errorf("save request: lease is for %s", l.requestID)
	}
	// Any failure below leaves the transaction for Release to roll back.
	ctx = txcontext.WithTx(ctx, l.tx)
	exec := txcontext.Exec(ctx, l.db)
	for _, m := range mutations {
		if err := applyMutation(ctx, exec, req.ID, m); err != nil {
			return err
		}
	}
	_, err := exec.ExecContext(ctx, `
		UPDATE resource_requests
		SET category = $2, fulfilled_quantity = $3, status = $4, updated_at = $5
		WHERE id = $1`,
		req.ID.String(), req.Category, req.FulfilledQuantity, string(req.Status), req.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update request %s: %w", req.ID, translate(err))
	}

	var sum int
	if err := exec.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(quantity), 0) FROM contributions WHERE request_id = $1`, req.ID.String(),
	).Scan(&sum); err != nil {
		return fmt.Errorf("sum contributions: %w", err)
	}
	if sum != req.FulfilledQuantity {
		return fmt.Errorf("save request %s: contributions do not sum to fulfilled quantity: %w", req.ID, sentinel.ErrIntegrity)
	}

	if err := l.tx.Commit(); err != nil {
		return fmt.Errorf("commit request %s: %w", req.ID, translate(err))
	}
	l.done = true
	return nil
}

func (l *postgresLease) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.done {
		return
	}
	l.done = true
	_ = l.tx.Rollback()
}

func applyMutation(ctx context.Context, exec txcontext.Executor, requestID id.RequestID, m models.ContributionMutation) error {
	c := m.Contribution
	if c == nil {
		return fmt.Errorf("save request %s: nil contribution", requestID)
	}
	switch m.Kind {
	case models.MutationInsert:
		if c.RequestID != requestID {
			return fmt.Errorf("insert contribution %s: %w", c.ID, sentinel.ErrIntegrity)
		}
		var lat, lng sql.NullFloat64
		if c.Location != nil {
			lat = sql.NullFloat64{Float64: c.Location.Latitude, Valid: true}
			lng = sql.NullFloat64{Float64: c.Location.Longitude, Valid: true}
		}
		_, err := exec.ExecContext(ctx, `
			INSERT INTO contributions (`+contributionColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			c.ID.String(), c.RequestID.String(), c.ContributorID.String(), c.Quantity, c.Category,
			lat, lng, c.CreatedAt, c.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert contribution %s: %w", c.ID, translate(err))
		}
	case models.MutationDelete:
		res, err := exec.ExecContext(ctx,
			`DELETE FROM contributions WHERE id = $1 AND request_id = $2`, c.ID.String(), requestID.String())
		if err != nil {
			return fmt.Errorf("delete contribution %s: %w", c.ID, translate(err))
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("delete contribution %s: %w", c.ID, sentinel.ErrNotFound)
		}
	default:
		return fmt.Errorf("unknown mutation kind %q", m.Kind)
	}
	return nil
}

// translate maps postgres error codes onto sentinels, keeping the driver error in the chain.
func translate(err error) error {
	if postgres.IsUnavailable(err) {
		return errors.Join(sentinel.ErrUnavailable, err)
	}
	switch postgres.ErrorCode(err) {
	case postgres.CodeLockNotAvailable:
		return errors.Join(sentinel.ErrLockTimeout, err)
	case postgres.CodeCheckViolation:
		return errors.Join(sentinel.ErrIntegrity, err)
	case postgres.CodeUniqueViolation:
		return errors.Join(sentinel.ErrConflict, err)
	}
	return err
}

// translateCtx prefers the caller's cancellation over the server's report of it.
func translateCtx(ctx context.Context, err error) error {
	if postgres.ErrorCode(err) == postgres.CodeQueryCanceled && ctx.Err() != nil {
		return ctx.Err()
	}
	return translate(err)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRequest(row scanner) (*models.Request, error) {
	var (
		r      models.Request
		status string
	)
	if err := row.Scan(
		(*uuid.UUID)(&r.ID),
		&r.Category,
		&r.RequestedQuantity,
		&r.FulfilledQuantity,
		&status,
		(*uuid.UUID)(&r.OwnerID),
		&r.CreatedAt,
		&r.UpdatedAt,
	); err != nil {
		return nil, err
	}
	r.Status = models.Status(status)
	return &r, nil
}

func scanContribution(row scanner) (*models.Contribution, error) {
	var (
		c        models.Contribution
		lat, lng sql.NullFloat64
	)
	if err := row.Scan(
		(*uuid.UUID)(&c.ID),
		(*uuid.UUID)(&c.RequestID),
		(*uuid.UUID)(&c.ContributorID),
		&c.Quantity,
		&c.Category,
		&lat,
		&lng,
		&c.CreatedAt,
		&c.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if lat.Valid && lng.Valid {
		c.Location = &models.Geolocation{Latitude: lat.Float64, Longitude: lng.Float64}
	}
	return &c, nil
}
