package notification

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	apperrors "github.com/rhymesoflife/platform/internal/shared/errors"
	"github.com/rhymesoflife/platform/internal/shared/types"
)

// Store persists notifications. Soft-deleted rows are hidden by FindActive
// and CountUnread and still returned by FindAll.
type Store interface {
	Create(ctx context.Context, n *Notification) error
	FindActive(ctx context.Context, recipientID int64, page Page) ([]Notification, error)
	FindAll(ctx context.Context, recipientID int64, page Page) ([]Notification, error)
	CountUnread(ctx context.Context, recipientID int64) (int, error)
	MarkRead(ctx context.Context, recipientID int64, id types.ID) error
	MarkAllRead(ctx context.Context, recipientID int64) (int64, error)
	SoftDelete(ctx context.Context, recipientID int64, id types.ID) error
}

// PostgresStore implements Store using PostgreSQL
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Create inserts n, filling ID, CreatedAt and defaults.
func (s *PostgresStore) Create(ctx context.Context, n *Notification) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return apperrors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback(ctx)

	if err := InsertTx(ctx, tx, n); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return apperrors.Wrap(err, "failed to commit notification")
	}
	return nil
}

// InsertTx inserts n inside an existing transaction. Used where the row is
// written together with other state, such as reminder markers.
func InsertTx(ctx context.Context, tx pgx.Tx, n *Notification) error {
	prepare(n)

	payload, err := json.Marshal(n.Payload)
	if err != nil {
		return apperrors.Wrap(err, "failed to marshal payload")
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO notifications (
			id, recipient_id, sender_id, notification_type, title, message, url,
			payload, source, scope, is_read, is_deleted, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8, $9, $10, FALSE, FALSE, $11)`,
		n.ID, n.RecipientID, n.SenderID, string(n.Type), n.Title, n.Message, n.URL,
		payload, string(n.Source), string(n.Scope), n.CreatedAt,
	)
	if err != nil {
		return apperrors.Wrap(err, "failed to insert notification")
	}
	return nil
}

func prepare(n *Notification) {
	if n.ID.IsZero() {
		n.ID = types.NewID()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	if n.Payload == nil {
		n.Payload = map[string]any{}
	}
	if n.Source == "" {
		n.Source = SourceSystem
	}
	if n.Scope == "" {
		n.Scope = ScopePersonal
	}
}

const selectNotification = `
	SELECT id, recipient_id, sender_id, notification_type, title, message, COALESCE(url, ''),
		payload, source, scope, is_read, is_deleted, deleted_at, created_at
	FROM notifications`

// FindActive lists non-deleted notifications, newest first.
func (s *PostgresStore) FindActive(ctx context.Context, recipientID int64, page Page) ([]Notification, error) {
	return s.list(ctx, selectNotification+`
		WHERE recipient_id = $1 AND NOT is_deleted
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`, recipientID, page)
}

// FindAll lists every notification including soft-deleted ones.
func (s *PostgresStore) FindAll(ctx context.Context, recipientID int64, page Page) ([]Notification, error) {
	return s.list(ctx, selectNotification+`
		WHERE recipient_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`, recipientID, page)
}

func (s *PostgresStore) list(ctx context.Context, query string, recipientID int64, page Page) ([]Notification, error) {
	rows, err := s.pool.Query(ctx, query, recipientID, page.Limit, page.Offset)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to list notifications")
	}
	defer rows.Close()

	var result []Notification
	for rows.Next() {
		var n Notification
		var payload []byte
		var typ, source, scope string
		if err := rows.Scan(
			&n.ID, &n.RecipientID, &n.SenderID, &typ, &n.Title, &n.Message, &n.URL,
			&payload, &source, &scope, &n.IsRead, &n.IsDeleted, &n.DeletedAt, &n.CreatedAt,
		); err != nil {
			return nil, apperrors.Wrap(err, "failed to scan notification")
		}
		n.Type, n.Source, n.Scope = Type(typ), Source(source), Scope(scope)
		if err := json.Unmarshal(payload, &n.Payload); err != nil || n.Payload == nil {
			n.Payload = map[string]any{}
		}
		result = append(result, n)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(err, "failed to read notifications")
	}
	return result, nil
}

// CountUnread counts unread, non-deleted notifications.
func (s *PostgresStore) CountUnread(ctx context.Context, recipientID int64) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM notifications
		WHERE recipient_id = $1 AND NOT is_read AND NOT is_deleted`, recipientID).Scan(&count)
	if err != nil {
		return 0, apperrors.Wrap(err, "failed to count notifications")
	}
	return count, nil
}

// MarkRead flags one notification of recipientID as read.
func (s *PostgresStore) MarkRead(ctx context.Context, recipientID int64, id types.ID) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE notifications SET is_read = TRUE
		WHERE id = $1 AND recipient_id = $2 AND NOT is_deleted`, id, recipientID)
	if err != nil {
		return apperrors.Wrap(err, "failed to mark notification read")
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("notification", id.String())
	}
	return nil
}

// MarkAllRead flags every unread notification of recipientID and returns how many changed.
func (s *PostgresStore) MarkAllRead(ctx context.Context, recipientID int64) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE notifications SET is_read = TRUE
		WHERE recipient_id = $1 AND NOT is_read AND NOT is_deleted`, recipientID)
	if err != nil {
		return 0, apperrors.Wrap(err, "failed to mark notifications read")
	}
	return tag.RowsAffected(), nil
}

// SoftDelete hides a notification. Deleting twice is a no-op.
func (s *PostgresStore) SoftDelete(ctx context.Context, recipientID int64, id types.ID) error {
	var deleted bool
	err := s.pool.QueryRow(ctx, `
		UPDATE notifications
		SET is_deleted = TRUE, deleted_at = COALESCE(deleted_at, NOW())
		WHERE id = $1 AND recipient_id = $2
		RETURNING is_deleted`, id, recipientID).Scan(&deleted)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperrors.NotFound("notification", id.String())
	}
	if err != nil {
		return apperrors.Wrap(err, "failed to delete notification")
	}
	return nil
}
