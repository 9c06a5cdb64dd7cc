package linking

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/rhymesoflife/platform/internal/shared/cache"
)

const (
	pendingNamespace = "tg_bind"
	// PendingTTL bounds the time between /start and the shared contact.
	PendingTTL = 15 * time.Minute
)

// PendingStore keeps chat id -> profile id between /start and the contact.
type PendingStore interface {
	Put(ctx context.Context, chatID, profileID int64) error
	Get(ctx context.Context, chatID int64) (int64, bool, error)
	Delete(ctx context.Context, chatID int64) error
}

// RedisPending stores pending binds as tg_bind:<chatID> keys.
type RedisPending struct {
	cache *cache.Cache
	ttl   time.Duration
}

// NewRedisPending creates a Redis-backed pending bind store.
func NewRedisPending(c *cache.Cache) *RedisPending {
	return &RedisPending{cache: c, ttl: PendingTTL}
}

func (p *RedisPending) Put(ctx context.Context, chatID, profileID int64) error {
	return p.cache.Set(ctx, pendingNamespace, strconv.FormatInt(chatID, 10), profileID, p.ttl)
}

func (p *RedisPending) Get(ctx context.Context, chatID int64) (int64, bool, error) {
	v, err := p.cache.Get(ctx, pendingNamespace, strconv.FormatInt(chatID, 10))
	if errors.Is(err, cache.ErrMiss) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false, nil
	}
	return id, true, nil
}

func (p *RedisPending) Delete(ctx context.Context, chatID int64) error {
	return p.cache.Delete(ctx, pendingNamespace, strconv.FormatInt(chatID, 10))
}
