package reminder

import (
	"context"
	"time"

	"github.com/rhymesoflife/platform/internal/shared/cache"
)

const dedupeNamespace = "reminder"

// DefaultDedupeTTL outlives a calendar day in every timezone.
const DefaultDedupeTTL = 26 * time.Hour

// Dedupe is the fast, non-authoritative "already handled today" check.
type Dedupe interface {
	// Mark records the day and reports whether this caller was first.
	Mark(ctx context.Context, profileID int64, day string) (bool, error)
	// Release undoes Mark after a failed durable claim.
	Release(ctx context.Context, profileID int64, day string) error
}

// RedisDedupe sets reminder:<profileID>:<day> with SET NX EX.
type RedisDedupe struct {
	cache *cache.Cache
	ttl   time.Duration
}

// NewRedisDedupe creates a Redis dedupe layer. ttl <= 0 uses DefaultDedupeTTL.
func NewRedisDedupe(c *cache.Cache, ttl time.Duration) *RedisDedupe {
	if ttl <= 0 {
		ttl = DefaultDedupeTTL
	}
	return &RedisDedupe{cache: c, ttl: ttl}
}

func (d *RedisDedupe) Mark(ctx context.Context, profileID int64, day string) (bool, error) {
	return d.cache.SetNX(ctx, dedupeNamespace, DedupeKey(profileID, day), "1", d.ttl)
}

func (d *RedisDedupe) Release(ctx context.Context, profileID int64, day string) error {
	return d.cache.Delete(ctx, dedupeNamespace, DedupeKey(profileID, day))
}
