package reminder

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rhymesoflife/platform/internal/notification"
	"github.com/rhymesoflife/platform/internal/shared/database"
	apperrors "github.com/rhymesoflife/platform/internal/shared/errors"
)

// Store reads reminder candidates and claims reminder days.
type Store interface {
	// Candidates returns enabled schedules of profiles with a verified chat
	// link, ordered by profile id, starting after afterID.
	Candidates(ctx context.Context, afterID int64, limit int) ([]Candidate, error)
	// ClaimDay writes marker unless the day is already claimed or another
	// instance is claiming it right now. It reports whether this caller won.
	ClaimDay(ctx context.Context, profileID int64, day string, marker *notification.Notification) (bool, error)
}

// PostgresStore implements Store using PostgreSQL
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Candidates implements Store.
func (s *PostgresStore) Candidates(ctx context.Context, afterID int64, limit int) ([]Candidate, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT s.profile_id, s.chat_enabled, s.email_enabled, s.hour, s.minute,
			s.interval_days, s.timezone, p.language,
			(SELECT MAX(w.entry_date) FROM wellness_entries w WHERE w.profile_id = s.profile_id)
		FROM reminder_schedules s
		JOIN profiles p ON p.id = s.profile_id
		JOIN chat_account_links l ON l.profile_id = s.profile_id
		WHERE (s.chat_enabled OR s.email_enabled)
			AND s.interval_days > 0
			AND l.verified AND l.chat_id IS NOT NULL
			AND s.profile_id > $1
		ORDER BY s.profile_id
		LIMIT $2`, afterID, limit)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to query reminder candidates")
	}
	defer rows.Close()

	var out []Candidate
	for rows.Next() {
		var c Candidate
		if err := rows.Scan(
			&c.ProfileID, &c.ChatEnabled, &c.EmailEnabled, &c.Hour, &c.Minute,
			&c.IntervalDays, &c.Timezone, &c.Language, &c.LastEntry,
		); err != nil {
			return nil, apperrors.Wrap(err, "failed to scan reminder candidate")
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(err, "failed to read reminder candidates")
	}
	return out, nil
}

// ClaimDay takes a transaction-scoped advisory lock on the day key, checks
// for an existing marker and inserts one. The lock is released on commit.
func (s *PostgresStore) ClaimDay(ctx context.Context, profileID int64, day string, marker *notification.Notification) (bool, error) {
	claimed := false
	err := database.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		var locked bool
		if err := tx.QueryRow(ctx,
			`SELECT pg_try_advisory_xact_lock(hashtextextended($1, 0))`,
			dedupeNamespace+":"+DedupeKey(profileID, day),
		).Scan(&locked); err != nil {
			return apperrors.Wrap(err, "failed to take reminder lock")
		}
		if !locked {
			return nil
		}

		var exists bool
		if err := tx.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM notifications
				WHERE recipient_id = $1
					AND notification_type = 'SYSTEM_MESSAGE'
					AND payload->>'kind' = $2
					AND payload->>'day' = $3
			)`, profileID, MarkerKind, day).Scan(&exists); err != nil {
			return apperrors.Wrap(err, "failed to check reminder marker")
		}
		if exists {
			return nil
		}

		if err := notification.InsertTx(ctx, tx, marker); err != nil {
			return err
		}
		claimed = true
		return nil
	})
	if apperrors.IsUniqueViolation(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return claimed, nil
}
