package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"reliefhub/internal/notify/models"
	id "reliefhub/pkg/domain"
	"reliefhub/pkg/platform/sentinel"
)

// SQLStore persists notifications through sqlx on PostgreSQL or sqlite.
type SQLStore struct {
	db *sqlx.DB
}

func NewSQL(db *sqlx.DB) *SQLStore {
	return &SQLStore{db: db}
}

type notificationRow struct {
	ID             string         `db:"id"`
	RecipientID    sql.NullString `db:"recipient_id"`
	AdminBroadcast bool           `db:"admin_broadcast"`
	Type           string         `db:"type"`
	Message        string         `db:"message"`
	RequestID      sql.NullString `db:"request_id"`
	ContributionID sql.NullString `db:"contribution_id"`
	Read           bool           `db:"is_read"`
	Deletable      bool           `db:"deletable"`
	CreatedAt      time.Time      `db:"created_at"`
}

const selectNotification = `SELECT id, recipient_id, admin_broadcast, type, message, request_id,
	contribution_id, is_read, deletable, created_at FROM notifications`

func (s *SQLStore) Save(ctx context.Context, n *models.Notification) error {
	query := s.db.Rebind(`INSERT INTO notifications
		(id, recipient_id, admin_broadcast, type, message, request_id, contribution_id, is_read, deletable, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	var recipient, requestID, contributionID *string
	if n.RecipientID != nil {
		recipient = ptr(n.RecipientID.String())
	}
	if n.RequestID != nil {
		requestID = ptr(n.RequestID.String())
	}
	if n.ContributionID != nil {
		contributionID = ptr(n.ContributionID.String())
	}
	_, err := s.db.ExecContext(ctx, query,
		n.ID.String(), recipient, n.AdminBroadcast, string(n.Type), n.Message,
		requestID, contributionID, n.Read, n.Deletable, n.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("save notification: %w", err)
	}
	return nil
}

func (s *SQLStore) FindByID(ctx context.Context, notificationID id.NotificationID) (*models.Notification, error) {
	var row notificationRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(selectNotification+` WHERE id = ?`), notificationID.String())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find notification: %w", err)
	}
	return row.toModel()
}

func (s *SQLStore) ListByRecipient(ctx context.Context, recipient id.UserID, unreadOnly bool) ([]*models.Notification, error) {
	query := selectNotification + ` WHERE recipient_id = ?`
	if unreadOnly {
		query += ` AND is_read = ?`
		return s.list(ctx, "list notifications by recipient", query, recipient.String(), false)
	}
	return s.list(ctx, "list notifications by recipient", query, recipient.String())
}

func (s *SQLStore) ListBroadcasts(ctx context.Context, unreadOnly bool) ([]*models.Notification, error) {
	query := selectNotification + ` WHERE admin_broadcast = ?`
	if unreadOnly {
		query += ` AND is_read = ?`
		return s.list(ctx, "list broadcast notifications", query, true, false)
	}
	return s.list(ctx, "list broadcast notifications", query, true)
}

func (s *SQLStore) list(ctx context.Context, op, query string, args ...any) ([]*models.Notification, error) {
	var rows []notificationRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query+` ORDER BY created_at DESC, id DESC`), args...); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	out := make([]*models.Notification, 0, len(rows))
	for _, r := range rows {
		n, err := r.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

func (s *SQLStore) MarkRead(ctx context.Context, notificationID id.NotificationID) error {
	return s.execOne(ctx, "mark notification read", `UPDATE notifications SET is_read = ? WHERE id = ?`, true, notificationID.String())
}

func (s *SQLStore) Delete(ctx context.Context, notificationID id.NotificationID) error {
	return s.execOne(ctx, "delete notification", `DELETE FROM notifications WHERE id = ?`, notificationID.String())
}

func (s *SQLStore) execOne(ctx context.Context, op, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (r notificationRow) toModel() (*models.Notification, error) {
	nid, err := uuid.Parse(r.ID)
	if err != nil {
		return nil, fmt.Errorf("parse notification id %q: %w", r.ID, err)
	}
	n := &models.Notification{
		ID:             id.NotificationID(nid),
		AdminBroadcast: r.AdminBroadcast,
		Type:           models.Type(r.Type),
		Message:        r.Message,
		Read:           r.Read,
		Deletable:      r.Deletable,
		CreatedAt:      r.CreatedAt.UTC(),
	}
	if r.RecipientID.Valid {
		u, err := uuid.Parse(r.RecipientID.String)
		if err != nil {
			return nil, fmt.Errorf("parse recipient id: %w", err)
		}
		uid := id.UserID(u)
		n.RecipientID = &uid
	}
	if r.RequestID.Valid {
		u, err := uuid.Parse(r.RequestID.String)
		if err != nil {
			return nil, fmt.Errorf("parse request id: %w", err)
		}
		rid := id.RequestID(u)
		n.RequestID = &rid
	}
	if r.ContributionID.Valid {
		u, err := uuid.Parse(r.ContributionID.String)
		if err != nil {
			return nil, fmt.Errorf("parse contribution id: %w", err)
		}
		cid := id.ContributionID(u)
		n.ContributionID = &cid
	}
	return n, nil
}

func ptr[T any](v T) *T { return &v }
