package reminder

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rhymesoflife/platform/internal/notification"
	"github.com/rhymesoflife/platform/internal/shared/database/dbtest"
	apperrors "github.com/rhymesoflife/platform/internal/shared/errors"
)

func markerFor(profileID int64, day string) *notification.Notification {
	return &notification.Notification{
		RecipientID: profileID,
		Type:        notification.TypeSystemMessage,
		Title:       "Wellness check-in",
		Message:     "How are you today?",
		Payload:     map[string]any{"kind": MarkerKind, "day": day},
		Source:      notification.SourceSystem,
		Scope:       notification.ScopePersonal,
	}
}

func countMarkers(t *testing.T, pool *pgxpool.Pool, profileID int64) int {
	t.Helper()
	var n int
	require.NoError(t, pool.QueryRow(context.Background(), `
		SELECT COUNT(*) FROM notifications
		WHERE recipient_id = $1 AND payload->>'kind' = $2`, profileID, MarkerKind).Scan(&n))
	return n
}

// seedCandidate creates a profile with a verified chat link and a daily 09:00 schedule.
func seedCandidate(t *testing.T, pool *pgxpool.Pool, chatID int64) int64 {
	t.Helper()
	ctx := context.Background()
	id := dbtest.CreateProfile(t, pool, "user@example.com")
	_, err := pool.Exec(ctx, `
		INSERT INTO chat_account_links (profile_id, chat_id, verified) VALUES ($1, $2, TRUE)`, id, chatID)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `
		INSERT INTO reminder_schedules (profile_id, chat_enabled, hour, minute, interval_days, timezone)
		VALUES ($1, TRUE, 9, 0, 1, 'Europe/Moscow')`, id)
	require.NoError(t, err)
	return id
}

func TestPostgresClaimDayOnce(t *testing.T) {
	pool := dbtest.Open(t)
	ctx := context.Background()
	store := NewPostgresStore(pool)
	id := dbtest.CreateProfile(t, pool, "anna@example.com")

	claimed, err := store.ClaimDay(ctx, id, "2026-10-16", markerFor(id, "2026-10-16"))
	require.NoError(t, err)
	assert.True(t, claimed)

	claimed, err = store.ClaimDay(ctx, id, "2026-10-16", markerFor(id, "2026-10-16"))
	require.NoError(t, err)
	assert.False(t, claimed)

	claimed, err = store.ClaimDay(ctx, id, "2026-10-17", markerFor(id, "2026-10-17"))
	require.NoError(t, err)
	assert.True(t, claimed)

	assert.Equal(t, 2, countMarkers(t, pool, id))
}

func TestPostgresConcurrentClaimDay(t *testing.T) {
	pool := dbtest.Open(t)
	ctx := context.Background()
	store := NewPostgresStore(pool)
	id := dbtest.CreateProfile(t, pool, "anna@example.com")

	const instances = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < instances; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			claimed, err := store.ClaimDay(ctx, id, "2026-10-16", markerFor(id, "2026-10-16"))
			assert.NoError(t, err)
			if claimed {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, 1, countMarkers(t, pool, id))
}

func TestPostgresMarkerUniqueIndex(t *testing.T) {
	pool := dbtest.Open(t)
	ctx := context.Background()
	id := dbtest.CreateProfile(t, pool, "anna@example.com")

	insert := func() error {
		tx, err := pool.Begin(ctx)
		require.NoError(t, err)
		defer tx.Rollback(ctx) //nolint:errcheck
		if err := notification.InsertTx(ctx, tx, markerFor(id, "2026-10-16")); err != nil {
			return err
		}
		return tx.Commit(ctx)
	}
	require.NoError(t, insert())
	assert.True(t, apperrors.IsUniqueViolation(insert()))
}

func TestPostgresCandidates(t *testing.T) {
	pool := dbtest.Open(t)
	ctx := context.Background()
	id := seedCandidate(t, pool, 500)

	// Unlinked profiles are never candidates.
	other := dbtest.CreateProfile(t, pool, "other@example.com")
	_, err := pool.Exec(ctx, `INSERT INTO reminder_schedules (profile_id, chat_enabled) VALUES ($1, TRUE)`, other)
	require.NoError(t, err)

	_, err = pool.Exec(ctx, `
		INSERT INTO wellness_entries (profile_id, entry_date, score) VALUES ($1, '2026-10-10', 7), ($1, '2026-10-12', 8)`, id)
	require.NoError(t, err)

	cands, err := NewPostgresStore(pool).Candidates(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, cands, 1)
	c := cands[0]
	assert.Equal(t, id, c.ProfileID)
	assert.True(t, c.ChatEnabled)
	assert.Equal(t, 9, c.Hour)
	assert.Equal(t, "Europe/Moscow", c.Timezone)
	assert.Equal(t, "en", c.Language)
	require.NotNil(t, c.LastEntry)
	assert.Equal(t, "2026-10-12", c.LastEntry.Format(DayLayout))

	cands, err = NewPostgresStore(pool).Candidates(ctx, id, 10)
	require.NoError(t, err)
	assert.Empty(t, cands)
}

func TestPostgresSchedulersSendOncePerDay(t *testing.T) {
	pool := dbtest.Open(t)
	const profiles = 5
	ids := make([]int64, profiles)
	for i := range ids {
		ids[i] = seedCandidate(t, pool, int64(1000+i))
	}

	// 12:00 in Moscow, after the 09:00 reminder time.
	noon := time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)
	d := &countingDispatcher{}
	const instances = 4
	var wg sync.WaitGroup
	for i := 0; i < instances; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := newScheduler(NewPostgresStore(pool), nil, d, noon).Tick(context.Background())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	per := d.perProfile()
	for _, id := range ids {
		assert.Equal(t, 1, per[id], "profile %d", id)
		assert.Equal(t, 1, countMarkers(t, pool, id), "profile %d", id)
	}
}
