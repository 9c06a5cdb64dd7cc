package notification

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	apperrors "github.com/rhymesoflife/platform/internal/shared/errors"
	"github.com/rhymesoflife/platform/internal/shared/types"
)

// RecipientResolver looks up delivery addresses for profiles.
type RecipientResolver interface {
	Resolve(ctx context.Context, profileID int64) (*Recipient, error)
	// ListRecipientIDs pages through every profile id after afterID.
	ListRecipientIDs(ctx context.Context, afterID int64, limit int) ([]int64, error)
}

// PostgresRecipients resolves recipients from profiles and verified chat links.
type PostgresRecipients struct {
	pool *pgxpool.Pool
}

// NewPostgresRecipients creates a new resolver
func NewPostgresRecipients(pool *pgxpool.Pool) *PostgresRecipients {
	return &PostgresRecipients{pool: pool}
}

// Resolve returns the contact email (profile email, else account email), the
// language and the chat id of a verified link.
func (r *PostgresRecipients) Resolve(ctx context.Context, profileID int64) (*Recipient, error) {
	rec := &Recipient{}
	err := r.pool.QueryRow(ctx, `
		SELECT p.id, COALESCE(NULLIF(p.email, ''), p.account_email), p.language, l.chat_id
		FROM profiles p
		LEFT JOIN chat_account_links l
			ON l.profile_id = p.id AND l.verified AND l.chat_id IS NOT NULL
		WHERE p.id = $1`, profileID,
	).Scan(&rec.ProfileID, &rec.Email, &rec.Language, &rec.ChatID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("profile", types.FormatProfileID(profileID))
	}
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to resolve recipient")
	}
	return rec, nil
}

// ListRecipientIDs pages through profile ids in ascending order.
func (r *PostgresRecipients) ListRecipientIDs(ctx context.Context, afterID int64, limit int) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM profiles WHERE id > $1 ORDER BY id LIMIT $2`, afterID, limit)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to list recipients")
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to scan recipient ids")
	}
	return ids, nil
}
