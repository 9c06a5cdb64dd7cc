package linking

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rhymesoflife/platform/internal/channels"
	"github.com/rhymesoflife/platform/internal/channels/telegram"
	"github.com/rhymesoflife/platform/internal/shared/cache"
)

type harness struct {
	repo    *memRepo
	bot     *fakeBot
	mr      *miniredis.Miniredis
	pending *RedisPending
	proto   *Protocol
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	pending := NewRedisPending(cache.New(redis.NewClient(&redis.Options{Addr: mr.Addr()})))
	h := &harness{
		repo:    newMemRepo(1, 2),
		bot:     &fakeBot{username: "rol_bot"},
		mr:      mr,
		pending: pending,
	}
	h.proto = NewProtocol(h.repo, pending, h.bot, zap.NewNop())
	return h
}

func startUpdate(chatID int64, token string) Inbound {
	return Inbound{Kind: KindStart, Token: token, Identity: ChatIdentity{ChatID: chatID, Username: "anna", LanguageCode: "ru"}}
}

func contactUpdate(chatID int64, phone string) Inbound {
	return Inbound{Kind: KindContact, Phone: phone, Identity: ChatIdentity{ChatID: chatID}}
}

func issueToken(t *testing.T, h *harness, profileID int64) string {
	t.Helper()
	info, err := h.proto.IssueLink(context.Background(), profileID)
	require.NoError(t, err)
	link := h.repo.link(profileID)
	require.NotNil(t, link.ActivationToken)
	assert.Equal(t, "https://t.me/rol_bot?start=activate_"+link.ActivationToken.String(), info.Link)
	return link.ActivationToken.String()
}

func TestLinkingEndToEnd(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	token := issueToken(t, h, 1)

	require.NoError(t, h.proto.HandleUpdate(ctx, startUpdate(500, token)))
	assert.Equal(t, ReplySharePhone, h.bot.last().Text)
	kb, ok := h.bot.last().ReplyMarkup.(telegram.ReplyKeyboard)
	require.True(t, ok)
	assert.True(t, kb.Keyboard[0][0].RequestContact)

	v, err := h.mr.Get("tg_bind:500")
	require.NoError(t, err)
	assert.Equal(t, "1", v)
	assert.InDelta(t, PendingTTL.Seconds(), h.mr.TTL("tg_bind:500").Seconds(), 1)

	link := h.repo.link(1)
	require.NotNil(t, link.ChatID)
	assert.Equal(t, int64(500), *link.ChatID)
	assert.Equal(t, "ru", link.LanguageCode)
	assert.False(t, link.Verified)

	require.NoError(t, h.proto.HandleUpdate(ctx, contactUpdate(500, "8 (900) 123-45-67")))
	assert.Equal(t, ReplyPhoneLinked, h.bot.last().Text)

	link = h.repo.link(1)
	assert.True(t, link.Verified)
	assert.Nil(t, link.ActivationToken)
	assert.Equal(t, "+79001234567", h.repo.phone(1))
	assert.False(t, h.mr.Exists("tg_bind:500"))

	info, err := h.proto.IssueLink(ctx, 1)
	require.NoError(t, err)
	assert.True(t, info.IsVerified)
	assert.Empty(t, info.Link)
}

func TestIssueLinkReusesPendingToken(t *testing.T) {
	h := newHarness(t)
	first := issueToken(t, h, 1)
	second := issueToken(t, h, 1)
	assert.Equal(t, first, second)
}

func TestIssueLinkNotConfigured(t *testing.T) {
	h := newHarness(t)
	h.bot.username = ""
	h.bot.err = channels.ErrNotConfigured

	info, err := h.proto.IssueLink(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, info.NotConfigured)
	assert.Empty(t, info.Link)
}

func TestRedeemReplies(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	token := issueToken(t, h, 1)

	require.NoError(t, h.proto.HandleUpdate(ctx, startUpdate(500, "not-a-uuid")))
	assert.Equal(t, ReplyInvalidToken, h.bot.last().Text)

	require.NoError(t, h.proto.HandleUpdate(ctx, startUpdate(500, "6f1c2d2e-0000-4000-8000-000000000000")))
	assert.Equal(t, ReplyTokenNotFound, h.bot.last().Text)

	require.NoError(t, h.proto.HandleUpdate(ctx, startUpdate(500, token)))
	require.NoError(t, h.proto.HandleUpdate(ctx, contactUpdate(500, "79001234567")))

	// The token is consumed once linked.
	require.NoError(t, h.proto.HandleUpdate(ctx, startUpdate(500, token)))
	assert.Equal(t, ReplyTokenNotFound, h.bot.last().Text)
}

func TestDuplicateStartIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	token := issueToken(t, h, 1)

	require.NoError(t, h.proto.HandleUpdate(ctx, startUpdate(500, token)))
	before := h.repo.link(1)
	require.NoError(t, h.proto.HandleUpdate(ctx, startUpdate(500, token)))
	after := h.repo.link(1)

	assert.Equal(t, before, after)
	assert.Equal(t, []string{ReplySharePhone, ReplyLinkPending}, h.bot.texts())
	assert.NotEqual(t, ReplySharePhone, ReplyLinkPending)
	assert.IsType(t, telegram.ReplyKeyboard{}, h.bot.last().ReplyMarkup)

	id, ok, err := h.pending.Get(ctx, 500)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(1), id)
}

func TestDuplicateContactAfterBind(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	token := issueToken(t, h, 1)

	require.NoError(t, h.proto.HandleUpdate(ctx, startUpdate(500, token)))
	require.NoError(t, h.proto.HandleUpdate(ctx, contactUpdate(500, "79001234567")))
	require.NoError(t, h.proto.HandleUpdate(ctx, contactUpdate(500, "79001234567")))

	texts := h.bot.texts()
	require.Len(t, texts, 3)
	assert.Equal(t, ReplyPhoneLinked, texts[1])
	assert.Equal(t, ReplyPhoneAlready, texts[2])
	assert.Equal(t, telegram.RemoveKeyboard{RemoveKeyboard: true}, h.bot.last().ReplyMarkup)
}

func TestChatLinkedToAnotherProfile(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	token1 := issueToken(t, h, 1)
	require.NoError(t, h.proto.HandleUpdate(ctx, startUpdate(500, token1)))
	require.NoError(t, h.proto.HandleUpdate(ctx, contactUpdate(500, "79001234567")))

	token2 := issueToken(t, h, 2)
	require.NoError(t, h.proto.HandleUpdate(ctx, startUpdate(500, token2)))
	assert.Equal(t, ReplyChatTaken, h.bot.last().Text)
	assert.Nil(t, h.repo.link(2).ChatID)
}

func TestContactWithoutSession(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.proto.HandleUpdate(context.Background(), contactUpdate(777, "79001234567")))
	assert.Equal(t, ReplyNoSession, h.bot.last().Text)
}

func TestContactFallsBackToDatabaseWhenRedisIsDown(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	token := issueToken(t, h, 1)

	require.NoError(t, h.proto.HandleUpdate(ctx, startUpdate(500, token)))
	h.mr.Close()

	require.NoError(t, h.proto.HandleUpdate(ctx, contactUpdate(500, "79001234567")))
	assert.Equal(t, ReplyPhoneLinked, h.bot.last().Text)
	assert.True(t, h.repo.link(1).Verified)
}

func TestContactAfterPendingExpired(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	token := issueToken(t, h, 1)

	require.NoError(t, h.proto.HandleUpdate(ctx, startUpdate(500, token)))
	h.mr.FastForward(PendingTTL + time.Second)

	require.NoError(t, h.proto.HandleUpdate(ctx, contactUpdate(500, "79001234567")))
	assert.Equal(t, ReplyPhoneLinked, h.bot.last().Text)
}

func TestConcurrentContactsBindOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	token := issueToken(t, h, 1)
	require.NoError(t, h.proto.HandleUpdate(ctx, startUpdate(500, token)))

	const n = 8
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, h.proto.HandleUpdate(ctx, contactUpdate(500, "79001234567")))
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, h.repo.binds)
	linked := 0
	for _, text := range h.bot.texts() {
		if text == ReplyPhoneLinked {
			linked++
		}
	}
	assert.Equal(t, 1, linked)
}

func TestOtherMessageGetsHint(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.proto.HandleUpdate(context.Background(), Inbound{Kind: KindOther, Identity: ChatIdentity{ChatID: 9}}))
	assert.Equal(t, ReplyTapButton, h.bot.last().Text)

	require.NoError(t, h.proto.HandleUpdate(context.Background(), Inbound{Kind: KindIgnored}))
	assert.Len(t, h.bot.texts(), 1)
}
