package notification

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rhymesoflife/platform/internal/shared/auth"
)

func newAPI(t *testing.T) (*fixture, http.Handler) {
	t.Helper()
	f := newFixture(t)
	h := NewHandler(f.store, f.svc)
	r := chi.NewRouter()
	r.Mount("/api/v1/notifications", h.Routes())
	r.Mount("/api/v1/admin/notifications", h.AdminRoutes())
	return f, r
}

func doAs(t *testing.T, h http.Handler, user *auth.User, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req = req.WithContext(auth.WithUser(req.Context(), user))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestInboxLifecycle(t *testing.T) {
	f, h := newAPI(t)
	user := &auth.User{ProfileID: 1}

	for _, msg := range []string{"first", "second"} {
		_, err := f.svc.Dispatch(context.Background(), DispatchRequest{
			RecipientID: 1, Type: TypeFollow, Message: msg, Channels: Channels{Site: true},
		})
		require.NoError(t, err)
	}
	_, err := f.svc.Dispatch(context.Background(), DispatchRequest{
		RecipientID: 2, Type: TypeFollow, Message: "other", Channels: Channels{Site: true},
	})
	require.NoError(t, err)

	rec := doAs(t, h, user, http.MethodGet, "/api/v1/notifications/unread-count", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"unread":2}`, rec.Body.String())

	rec = doAs(t, h, user, http.MethodGet, "/api/v1/notifications/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Items []Notification `json:"items"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Items, 2)
	first := list.Items[0].ID

	rec = doAs(t, h, user, http.MethodPost, "/api/v1/notifications/"+first.String()+"/read", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doAs(t, h, user, http.MethodDelete, "/api/v1/notifications/"+first.String(), "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doAs(t, h, user, http.MethodGet, "/api/v1/notifications/", "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list.Items, 1)

	rec = doAs(t, h, user, http.MethodGet, "/api/v1/notifications/?include_deleted=true", "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list.Items, 2)

	rec = doAs(t, h, user, http.MethodPost, "/api/v1/notifications/read-all", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"updated":1}`, rec.Body.String())

	// Another profile cannot touch this notification.
	rec = doAs(t, h, &auth.User{ProfileID: 2}, http.MethodPost, "/api/v1/notifications/"+first.String()+"/read", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doAs(t, h, user, http.MethodDelete, "/api/v1/notifications/not-a-uuid", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminNotifyPersonal(t *testing.T) {
	f, h := newAPI(t)
	admin := &auth.User{ProfileID: 50, Roles: []string{auth.RoleAdmin}}

	rec := doAs(t, h, admin, http.MethodPost, "/api/v1/admin/notifications/",
		`{"scope":"personal","notification_type":"ADMIN_MESSAGE","title":"Hi","message":"Please update your profile","recipient_id":1}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.NotEmpty(t, body["id"])

	rows := f.store.all()
	require.Len(t, rows, 1)
	assert.Equal(t, SourceAdmin, rows[0].Source)
	require.NotNil(t, rows[0].SenderID)
	assert.Equal(t, int64(50), *rows[0].SenderID)
	assert.Len(t, f.chat.messages(), 1)
	assert.Empty(t, f.email.messages())
}

func TestAdminNotifyBroadcast(t *testing.T) {
	f, h := newAPI(t)
	staff := &auth.User{ProfileID: 51, Roles: []string{auth.RoleStaff}}

	rec := doAs(t, h, staff, http.MethodPost, "/api/v1/admin/notifications/",
		`{"scope":"broadcast","notification_type":"SYSTEM_MESSAGE","message":"Planned downtime"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"status":"ok","sent":3}`, rec.Body.String())

	for _, n := range f.store.all() {
		assert.Equal(t, SourceSystem, n.Source)
		assert.Equal(t, ScopeBroadcast, n.Scope)
	}
}

func TestAdminNotifyRejects(t *testing.T) {
	_, h := newAPI(t)
	admin := &auth.User{ProfileID: 50, Roles: []string{auth.RoleAdmin}}

	tests := []struct {
		name string
		user *auth.User
		body string
		want int
	}{
		{"patient", &auth.User{ProfileID: 1}, `{"scope":"broadcast","notification_type":"SYSTEM_MESSAGE","message":"x"}`, http.StatusForbidden},
		{"bad scope", admin, `{"scope":"team","notification_type":"SYSTEM_MESSAGE","message":"x"}`, http.StatusBadRequest},
		{"bad type", admin, `{"scope":"broadcast","notification_type":"FOLLOW","message":"x"}`, http.StatusBadRequest},
		{"empty message", admin, `{"scope":"broadcast","notification_type":"SYSTEM_MESSAGE","message":"  "}`, http.StatusBadRequest},
		{"personal without recipient", admin, `{"scope":"personal","notification_type":"ADMIN_MESSAGE","message":"x"}`, http.StatusBadRequest},
		{"malformed", admin, `{`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doAs(t, h, tt.user, http.MethodPost, "/api/v1/admin/notifications/", tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}
