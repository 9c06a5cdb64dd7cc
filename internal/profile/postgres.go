package profile

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	apperrors "github.com/rhymesoflife/platform/internal/shared/errors"
	"github.com/rhymesoflife/platform/internal/shared/types"
)

// ErrInvalidTransition is returned when a phone status change would regress.
var ErrInvalidTransition = errors.New("invalid phone status transition")

const selectColumns = `
	SELECT id, account_email, COALESCE(email, ''), display_name, language,
		COALESCE(phone, ''), phone_verified, phone_status, COALESCE(phone_tracking_id, ''),
		phone_status_updated_at, created_at
	FROM profiles`

// PostgresRepository reads and updates profiles.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL repository
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

func scanProfile(row pgx.Row) (*Profile, error) {
	p := &Profile{}
	err := row.Scan(
		&p.ID, &p.AccountEmail, &p.Email, &p.DisplayName, &p.Language,
		&p.Phone, &p.PhoneVerified, &p.PhoneStatus, &p.PhoneTrackingID,
		&p.PhoneStatusUpdatedAt, &p.CreatedAt,
	)
	return p, err
}

// Get loads one profile.
func (r *PostgresRepository) Get(ctx context.Context, id int64) (*Profile, error) {
	p, err := scanProfile(r.pool.QueryRow(ctx, selectColumns+` WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("profile", types.FormatProfileID(id))
	}
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to load profile")
	}
	return p, nil
}

// StartPhoneVerification stores a new phone under verification. A verified
// phone is never replaced here; ResetPhone must clear it first.
func (r *PostgresRepository) StartPhoneVerification(ctx context.Context, id int64, phone, trackingID string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE profiles
		SET phone = $2, phone_verified = FALSE, phone_status = 'calling',
			phone_tracking_id = NULLIF($3, ''), phone_status_updated_at = NOW()
		WHERE id = $1 AND phone_status <> 'verified'`,
		id, phone, trackingID,
	)
	if err != nil {
		return apperrors.Wrap(err, "failed to start phone verification")
	}
	if tag.RowsAffected() == 0 {
		return r.explainNoop(ctx, id)
	}
	return nil
}

// AdvancePhoneStatus resolves a pending call into verified or failed.
func (r *PostgresRepository) AdvancePhoneStatus(ctx context.Context, id int64, to PhoneStatus) error {
	if !PhoneCalling.CanAdvanceTo(to) {
		return fmt.Errorf("%w: calling -> %s", ErrInvalidTransition, to)
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE profiles
		SET phone_status = $2, phone_verified = ($2 = 'verified'), phone_status_updated_at = NOW()
		WHERE id = $1 AND phone_status = 'calling'`,
		id, string(to),
	)
	if err != nil {
		return apperrors.Wrap(err, "failed to update phone status")
	}
	if tag.RowsAffected() == 0 {
		return r.explainNoop(ctx, id)
	}
	return nil
}

// ResetPhone clears the phone so the user can verify a different number.
func (r *PostgresRepository) ResetPhone(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE profiles
		SET phone = NULL, phone_verified = FALSE, phone_status = 'new',
			phone_tracking_id = NULL, phone_status_updated_at = NOW()
		WHERE id = $1`, id)
	if err != nil {
		return apperrors.Wrap(err, "failed to reset phone")
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("profile", types.FormatProfileID(id))
	}
	return nil
}

// explainNoop distinguishes a missing profile from a refused transition.
func (r *PostgresRepository) explainNoop(ctx context.Context, id int64) error {
	if _, err := r.Get(ctx, id); err != nil {
		return err
	}
	return ErrInvalidTransition
}

// LockTx takes a row lock on the profile for the rest of tx.
func LockTx(ctx context.Context, tx pgx.Tx, id int64) (*Profile, error) {
	p, err := scanProfile(tx.QueryRow(ctx, selectColumns+` WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("profile", types.FormatProfileID(id))
	}
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to lock profile")
	}
	return p, nil
}

// VerifyPhoneTx stores phone as verified. The caller must hold the row lock.
func VerifyPhoneTx(ctx context.Context, tx pgx.Tx, id int64, phone string) error {
	_, err := tx.Exec(ctx, `
		UPDATE profiles
		SET phone = $2, phone_verified = TRUE, phone_status = 'verified',
			phone_tracking_id = NULL, phone_status_updated_at = NOW()
		WHERE id = $1`, id, phone)
	if err != nil {
		return apperrors.Wrap(err, "failed to verify phone")
	}
	return nil
}
