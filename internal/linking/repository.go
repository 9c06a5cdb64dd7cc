package linking

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rhymesoflife/platform/internal/profile"
	"github.com/rhymesoflife/platform/internal/shared/database"
	apperrors "github.com/rhymesoflife/platform/internal/shared/errors"
	"github.com/rhymesoflife/platform/internal/shared/types"
)

// Repository persists chat account links. Redeem and Bind run as single
// transactions holding row locks, so duplicate webhook deliveries converge
// on the same state.
type Repository interface {
	// GetOrCreate returns the profile's link with a usable activation token
	// unless it is already verified.
	GetOrCreate(ctx context.Context, profileID int64) (*Link, error)
	Redeem(ctx context.Context, token uuid.UUID, who ChatIdentity) (RedeemOutcome, int64, error)
	// FindPendingByChat returns the profile whose unverified link waits for chatID.
	FindPendingByChat(ctx context.Context, chatID int64) (int64, bool, error)
	// ChatLinked reports whether chatID is already bound to a verified link.
	ChatLinked(ctx context.Context, chatID int64) (bool, error)
	Bind(ctx context.Context, profileID, chatID int64, phone string) (BindOutcome, error)
}

// PostgresRepository implements Repository using PostgreSQL
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL repository
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

const linkColumns = `
	SELECT id, profile_id, chat_id, username, first_name, last_name, language_code,
		activation_token::text, verified, created_at, updated_at
	FROM chat_account_links`

func scanLink(row pgx.Row) (*Link, error) {
	l := &Link{}
	var token *string
	err := row.Scan(
		&l.ID, &l.ProfileID, &l.ChatID, &l.Username, &l.FirstName, &l.LastName, &l.LanguageCode,
		&token, &l.Verified, &l.CreatedAt, &l.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if token != nil {
		if t, perr := uuid.Parse(*token); perr == nil {
			l.ActivationToken = &t
		}
	}
	return l, nil
}

// GetOrCreate returns the link for profileID, creating it with a fresh token.
// An unverified link whose token was cleared gets a new one.
func (r *PostgresRepository) GetOrCreate(ctx context.Context, profileID int64) (*Link, error) {
	var link *Link
	err := database.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO chat_account_links (profile_id, activation_token)
			VALUES ($1, $2::uuid)
			ON CONFLICT (profile_id) DO NOTHING`, profileID, uuid.NewString())
		if err != nil {
			return apperrors.Wrap(err, "failed to create chat link")
		}

		link, err = scanLink(tx.QueryRow(ctx, linkColumns+` WHERE profile_id = $1 FOR UPDATE`, profileID))
		if err != nil {
			return apperrors.Wrap(err, "failed to load chat link")
		}

		if !link.Verified && link.ActivationToken == nil {
			token := uuid.New()
			if _, err := tx.Exec(ctx, `
				UPDATE chat_account_links SET activation_token = $2::uuid, updated_at = NOW()
				WHERE id = $1`, link.ID, token.String()); err != nil {
				return apperrors.Wrap(err, "failed to regenerate activation token")
			}
			link.ActivationToken = &token
		}
		return nil
	})
	if err != nil {
		if apperrors.IsForeignKeyViolation(err) {
			return nil, apperrors.NotFound("profile", types.FormatProfileID(profileID))
		}
		return nil, err
	}
	return link, nil
}

// Redeem records who on the link carrying token.
func (r *PostgresRepository) Redeem(ctx context.Context, token uuid.UUID, who ChatIdentity) (RedeemOutcome, int64, error) {
	outcome := RedeemNotFound
	var profileID int64

	err := database.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		link, err := scanLink(tx.QueryRow(ctx, linkColumns+` WHERE activation_token = $1::uuid FOR UPDATE`, token.String()))
		if errors.Is(err, pgx.ErrNoRows) {
			outcome = RedeemNotFound
			return nil
		}
		if err != nil {
			return apperrors.Wrap(err, "failed to load chat link")
		}
		profileID = link.ProfileID

		if link.Verified {
			outcome = RedeemAlreadyLinked
			return nil
		}
		if link.Pending(who.ChatID) {
			outcome = RedeemAlreadyPending
			return nil
		}

		// The chat may sit on another link: refuse if verified, release if still pending.
		other, err := scanLink(tx.QueryRow(ctx, linkColumns+` WHERE chat_id = $1 AND id <> $2 FOR UPDATE`, who.ChatID, link.ID))
		switch {
		case errors.Is(err, pgx.ErrNoRows):
		case err != nil:
			return apperrors.Wrap(err, "failed to check chat ownership")
		case other.Verified:
			outcome = RedeemChatTaken
			return nil
		default:
			if _, err := tx.Exec(ctx, `
				UPDATE chat_account_links SET chat_id = NULL, updated_at = NOW() WHERE id = $1`, other.ID); err != nil {
				return apperrors.Wrap(err, "failed to release chat")
			}
		}

		_, err = tx.Exec(ctx, `
			UPDATE chat_account_links
			SET chat_id = $2, username = $3, first_name = $4, last_name = $5, language_code = $6,
				updated_at = NOW()
			WHERE id = $1`,
			link.ID, who.ChatID, who.Username, who.FirstName, who.LastName, who.LanguageCode)
		if err != nil {
			return apperrors.Wrap(err, "failed to record chat")
		}
		outcome = Redeemed
		return nil
	})
	if apperrors.IsUniqueViolation(err) {
		// A concurrent redeem of another token claimed the chat first.
		return RedeemChatTaken, profileID, nil
	}
	if err != nil {
		return 0, 0, err
	}
	return outcome, profileID, nil
}

// FindPendingByChat looks up the unverified link waiting for chatID.
func (r *PostgresRepository) FindPendingByChat(ctx context.Context, chatID int64) (int64, bool, error) {
	var profileID int64
	err := r.pool.QueryRow(ctx, `
		SELECT profile_id FROM chat_account_links
		WHERE chat_id = $1 AND NOT verified`, chatID).Scan(&profileID)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, apperrors.Wrap(err, "failed to find pending link")
	}
	return profileID, true, nil
}

// ChatLinked implements Repository.
func (r *PostgresRepository) ChatLinked(ctx context.Context, chatID int64) (bool, error) {
	var linked bool
	if err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM chat_account_links WHERE chat_id = $1 AND verified)`,
		chatID).Scan(&linked); err != nil {
		return false, apperrors.Wrap(err, "failed to check chat link")
	}
	return linked, nil
}

// Bind locks the profile row, then the link row, and verifies both.
func (r *PostgresRepository) Bind(ctx context.Context, profileID, chatID int64, phone string) (BindOutcome, error) {
	outcome := BindNoSession
	err := database.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := profile.LockTx(ctx, tx, profileID); err != nil {
			if apperrors.IsNotFound(err) {
				return nil
			}
			return err
		}

		link, err := scanLink(tx.QueryRow(ctx, linkColumns+` WHERE profile_id = $1 FOR UPDATE`, profileID))
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return apperrors.Wrap(err, "failed to lock chat link")
		}
		if link.Verified {
			outcome = BindAlreadyLinked
			return nil
		}
		if !link.Pending(chatID) {
			return nil
		}

		if err := profile.VerifyPhoneTx(ctx, tx, profileID, phone); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
			UPDATE chat_account_links
			SET verified = TRUE, activation_token = NULL, updated_at = NOW()
			WHERE id = $1`, link.ID); err != nil {
			return apperrors.Wrap(err, "failed to verify chat link")
		}
		outcome = Bound
		return nil
	})
	if err != nil {
		return 0, err
	}
	return outcome, nil
}
