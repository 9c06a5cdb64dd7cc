package notification

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rhymesoflife/platform/internal/channels"
	"github.com/rhymesoflife/platform/internal/channels/email"
	"github.com/rhymesoflife/platform/internal/channels/telegram"
	apperrors "github.com/rhymesoflife/platform/internal/shared/errors"
	"github.com/rhymesoflife/platform/internal/shared/types"
)

// memStore is an in-memory Store for tests.
type memStore struct {
	mu      sync.Mutex
	rows    []*Notification
	failErr error
}

func (m *memStore) Create(_ context.Context, n *Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return m.failErr
	}
	prepare(n)
	cp := *n
	m.rows = append(m.rows, &cp)
	return nil
}

func (m *memStore) find(recipientID int64, page Page, withDeleted bool) []Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Notification
	for _, n := range m.rows {
		if n.RecipientID == recipientID && (withDeleted || !n.IsDeleted) {
			out = append(out, *n)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if page.Offset >= len(out) {
		return nil
	}
	out = out[page.Offset:]
	if page.Limit > 0 && len(out) > page.Limit {
		out = out[:page.Limit]
	}
	return out
}

func (m *memStore) FindActive(_ context.Context, recipientID int64, page Page) ([]Notification, error) {
	return m.find(recipientID, page, false), nil
}

func (m *memStore) FindAll(_ context.Context, recipientID int64, page Page) ([]Notification, error) {
	return m.find(recipientID, page, true), nil
}

func (m *memStore) CountUnread(_ context.Context, recipientID int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, n := range m.rows {
		if n.RecipientID == recipientID && !n.IsRead && !n.IsDeleted {
			count++
		}
	}
	return count, nil
}

func (m *memStore) MarkRead(_ context.Context, recipientID int64, id types.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, n := range m.rows {
		if n.ID == id && n.RecipientID == recipientID && !n.IsDeleted {
			n.IsRead = true
			return nil
		}
	}
	return apperrors.NotFound("notification", id.String())
}

func (m *memStore) MarkAllRead(_ context.Context, recipientID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var changed int64
	for _, n := range m.rows {
		if n.RecipientID == recipientID && !n.IsRead && !n.IsDeleted {
			n.IsRead = true
			changed++
		}
	}
	return changed, nil
}

func (m *memStore) SoftDelete(_ context.Context, recipientID int64, id types.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, n := range m.rows {
		if n.ID == id && n.RecipientID == recipientID {
			if !n.IsDeleted {
				now := time.Now()
				n.IsDeleted = true
				n.DeletedAt = &now
			}
			return nil
		}
	}
	return apperrors.NotFound("notification", id.String())
}

func (m *memStore) all() []Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Notification, 0, len(m.rows))
	for _, n := range m.rows {
		out = append(out, *n)
	}
	return out
}

// fakeRecipients resolves from a fixed map.
type fakeRecipients struct {
	byID map[int64]*Recipient
}

func (f *fakeRecipients) Resolve(_ context.Context, profileID int64) (*Recipient, error) {
	r, ok := f.byID[profileID]
	if !ok {
		return nil, apperrors.NotFound("profile", types.FormatProfileID(profileID))
	}
	return r, nil
}

func (f *fakeRecipients) ListRecipientIDs(_ context.Context, afterID int64, limit int) ([]int64, error) {
	var ids []int64
	for id := range f.byID {
		if id > afterID {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

// stubChat records messages and optionally fails every send.
type stubChat struct {
	mu   sync.Mutex
	sent []telegram.Message
	fail bool
}

func (s *stubChat) SendMessage(_ context.Context, msg telegram.Message) channels.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, msg)
	if s.fail {
		return channels.Failed(errors.New("chat down"))
	}
	return channels.Sent()
}

func (s *stubChat) messages() []telegram.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]telegram.Message(nil), s.sent...)
}

// stubEmail records messages and optionally fails every send.
type stubEmail struct {
	mu   sync.Mutex
	sent []email.Message
	fail bool
}

func (s *stubEmail) Send(_ context.Context, msg email.Message) channels.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, msg)
	if s.fail {
		return channels.Failed(errors.New("smtp down"))
	}
	return channels.Sent()
}

func (s *stubEmail) messages() []email.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]email.Message(nil), s.sent...)
}

func int64Ptr(v int64) *int64 { return &v }
