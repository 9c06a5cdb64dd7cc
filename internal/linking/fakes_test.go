package linking

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/rhymesoflife/platform/internal/channels"
	"github.com/rhymesoflife/platform/internal/channels/telegram"
	apperrors "github.com/rhymesoflife/platform/internal/shared/errors"
	"github.com/rhymesoflife/platform/internal/shared/types"
)

// memRepo mirrors PostgresRepository with one mutex standing in for row locks.
type memRepo struct {
	mu       sync.Mutex
	nextID   int64
	profiles map[int64]string // profile id -> verified phone
	links    map[int64]*Link  // by profile id
	binds    int
}

func newMemRepo(profileIDs ...int64) *memRepo {
	r := &memRepo{profiles: map[int64]string{}, links: map[int64]*Link{}}
	for _, id := range profileIDs {
		r.profiles[id] = ""
	}
	return r
}

func (r *memRepo) GetOrCreate(_ context.Context, profileID int64) (*Link, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.profiles[profileID]; !ok {
		return nil, apperrors.NotFound("profile", types.FormatProfileID(profileID))
	}
	l, ok := r.links[profileID]
	if !ok {
		r.nextID++
		l = &Link{ID: r.nextID, ProfileID: profileID}
		r.links[profileID] = l
	}
	if !l.Verified && l.ActivationToken == nil {
		t := uuid.New()
		l.ActivationToken = &t
	}
	cp := *l
	return &cp, nil
}

func (r *memRepo) Redeem(_ context.Context, token uuid.UUID, who ChatIdentity) (RedeemOutcome, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var link *Link
	for _, l := range r.links {
		if l.ActivationToken != nil && *l.ActivationToken == token {
			link = l
		}
	}
	if link == nil {
		return RedeemNotFound, 0, nil
	}
	if link.Verified {
		return RedeemAlreadyLinked, link.ProfileID, nil
	}
	if link.Pending(who.ChatID) {
		return RedeemAlreadyPending, link.ProfileID, nil
	}
	for _, other := range r.links {
		if other != link && other.ChatID != nil && *other.ChatID == who.ChatID {
			if other.Verified {
				return RedeemChatTaken, link.ProfileID, nil
			}
			other.ChatID = nil
		}
	}
	chatID := who.ChatID
	link.ChatID = &chatID
	link.Username = who.Username
	link.FirstName = who.FirstName
	link.LastName = who.LastName
	link.LanguageCode = who.LanguageCode
	return Redeemed, link.ProfileID, nil
}

func (r *memRepo) FindPendingByChat(_ context.Context, chatID int64) (int64, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, l := range r.links {
		if l.Pending(chatID) {
			return l.ProfileID, true, nil
		}
	}
	return 0, false, nil
}

func (r *memRepo) ChatLinked(_ context.Context, chatID int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, l := range r.links {
		if l.Verified && l.ChatID != nil && *l.ChatID == chatID {
			return true, nil
		}
	}
	return false, nil
}

func (r *memRepo) Bind(_ context.Context, profileID, chatID int64, phone string) (BindOutcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.profiles[profileID]; !ok {
		return BindNoSession, nil
	}
	l, ok := r.links[profileID]
	if !ok {
		return BindNoSession, nil
	}
	if l.Verified {
		return BindAlreadyLinked, nil
	}
	if !l.Pending(chatID) {
		return BindNoSession, nil
	}
	r.profiles[profileID] = phone
	l.Verified = true
	l.ActivationToken = nil
	r.binds++
	return Bound, nil
}

func (r *memRepo) link(profileID int64) Link {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.links[profileID]
}

func (r *memRepo) phone(profileID int64) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.profiles[profileID]
}

// fakeBot records replies.
type fakeBot struct {
	mu       sync.Mutex
	sent     []telegram.Message
	username string
	err      error
}

func (b *fakeBot) SendMessage(_ context.Context, msg telegram.Message) channels.Result {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, msg)
	return channels.Sent()
}

func (b *fakeBot) BotUsername(context.Context) (string, error) {
	if b.err != nil {
		return "", b.err
	}
	return b.username, nil
}

func (b *fakeBot) texts() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.sent))
	for i, m := range b.sent {
		out[i] = m.Text
	}
	return out
}

func (b *fakeBot) last() telegram.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sent[len(b.sent)-1]
}
