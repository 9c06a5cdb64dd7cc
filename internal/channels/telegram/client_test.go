package telegram

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rhymesoflife/platform/internal/channels"
	"github.com/rhymesoflife/platform/internal/shared/cache"
)

const testToken = "123456:secret"

func newTestClient(t *testing.T, handler http.HandlerFunc, username string, c *cache.Cache) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(Config{Token: testToken, Username: username, APIURL: srv.URL}, c, zap.NewNop())
}

func TestSendMessage(t *testing.T) {
	var got map[string]any
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/bot"+testToken+"/sendMessage", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"ok":true,"result":{"message_id":1}}`))
	}, "", nil)

	res := client.SendMessage(context.Background(), Message{
		ChatID:                42,
		Text:                  "<b>Hi</b>",
		ParseMode:             "HTML",
		DisableWebPagePreview: true,
		ReplyMarkup:           LinkButton("Details", "https://example.org/n/1"),
	})

	assert.True(t, res.OK)
	assert.EqualValues(t, 42, got["chat_id"])
	assert.Equal(t, "HTML", got["parse_mode"])
	assert.Equal(t, true, got["disable_web_page_preview"])
	markup := got["reply_markup"].(map[string]any)
	assert.Len(t, markup["inline_keyboard"], 1)
}

func TestSendMessageFailures(t *testing.T) {
	t.Run("not configured", func(t *testing.T) {
		client := New(Config{}, nil, zap.NewNop())
		res := client.SendMessage(context.Background(), Message{ChatID: 1, Text: "x"})
		assert.False(t, res.OK)
		assert.Contains(t, res.Message, channels.ErrNotConfigured.Error())
	})

	t.Run("api error", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
			w.Write([]byte(`{"ok":false,"error_code":403,"description":"Forbidden: bot was blocked by the user"}`))
		}, "", nil)

		res := client.SendMessage(context.Background(), Message{ChatID: 1, Text: "x"})
		assert.False(t, res.OK)
		assert.Contains(t, res.Message, "blocked")
		assert.NotContains(t, res.Message, "secret")
	})

	t.Run("malformed body", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
			w.Write([]byte(`<html>bad gateway</html>`))
		}, "", nil)

		res := client.SendMessage(context.Background(), Message{ChatID: 1, Text: "x"})
		assert.False(t, res.OK)
	})
}

func TestBotUsername(t *testing.T) {
	t.Run("configured username skips getMe", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			t.Error("unexpected request")
		}, "rhymes_bot", nil)

		name, err := client.BotUsername(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "rhymes_bot", name)
	})

	t.Run("getMe result is cached", func(t *testing.T) {
		mr := miniredis.RunT(t)
		c := cache.New(redis.NewClient(&redis.Options{Addr: mr.Addr()}))

		var calls atomic.Int32
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			assert.Equal(t, "/bot"+testToken+"/getMe", r.URL.Path)
			w.Write([]byte(`{"ok":true,"result":{"id":123456,"is_bot":true,"username":"rhymes_bot"}}`))
		}, "", c)

		for i := 0; i < 3; i++ {
			name, err := client.BotUsername(context.Background())
			require.NoError(t, err)
			assert.Equal(t, "rhymes_bot", name)
		}
		assert.EqualValues(t, 1, calls.Load())
		cached, err := mr.Get("tg_bot_username:123456")
		require.NoError(t, err)
		assert.Equal(t, "rhymes_bot", cached)
	})
}

func TestGetUpdates(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.EqualValues(t, 11, req["offset"])
		w.Write([]byte(`{"ok":true,"result":[{"update_id":11,"message":{"chat":{"id":1}}},{"update_id":12}]}`))
	}, "", nil)

	updates, err := client.GetUpdates(context.Background(), 11, 0)
	require.NoError(t, err)
	require.Len(t, updates, 2)
	assert.EqualValues(t, 11, updates[0].ID)
	assert.EqualValues(t, 12, updates[1].ID)
	assert.JSONEq(t, `{"update_id":11,"message":{"chat":{"id":1}}}`, string(updates[0].Raw))
}
