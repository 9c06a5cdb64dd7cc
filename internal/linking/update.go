package linking

import (
	"encoding/json"
	"strings"
)

const activatePrefix = "activate_"

// Update is the subset of a Telegram update the linking flow reads.
type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message,omitempty"`
}

type Message struct {
	MessageID int64    `json:"message_id"`
	Chat      Chat     `json:"chat"`
	From      *User    `json:"from,omitempty"`
	Text      string   `json:"text,omitempty"`
	Contact   *Contact `json:"contact,omitempty"`
}

type Chat struct {
	ID int64 `json:"id"`
}

type User struct {
	ID           int64  `json:"id"`
	Username     string `json:"username,omitempty"`
	FirstName    string `json:"first_name,omitempty"`
	LastName     string `json:"last_name,omitempty"`
	LanguageCode string `json:"language_code,omitempty"`
}

type Contact struct {
	PhoneNumber string `json:"phone_number"`
	UserID      int64  `json:"user_id,omitempty"`
}

// Kind classifies an inbound update.
type Kind string

const (
	KindIgnored Kind = "ignored"
	KindStart   Kind = "start"
	KindContact Kind = "contact"
	KindOther   Kind = "other"
)

// Inbound is a parsed update.
type Inbound struct {
	Kind     Kind
	Identity ChatIdentity
	// Token is the raw text after "activate_" for KindStart.
	Token string
	// Phone is the shared contact number for KindContact.
	Phone string
}

// ParseUpdate decodes a webhook body. Updates without a chat are KindIgnored.
func ParseUpdate(body []byte) (Inbound, error) {
	var u Update
	if err := json.Unmarshal(body, &u); err != nil {
		return Inbound{}, err
	}
	return Classify(u), nil
}

// Classify turns an Update into an Inbound.
func Classify(u Update) Inbound {
	msg := u.Message
	if msg == nil || msg.Chat.ID == 0 {
		return Inbound{Kind: KindIgnored}
	}

	in := Inbound{Kind: KindOther, Identity: ChatIdentity{ChatID: msg.Chat.ID}}
	if msg.From != nil {
		in.Identity.Username = msg.From.Username
		in.Identity.FirstName = msg.From.FirstName
		in.Identity.LastName = msg.From.LastName
		in.Identity.LanguageCode = msg.From.LanguageCode
	}

	if payload, ok := startPayload(msg.Text); ok && strings.HasPrefix(payload, activatePrefix) {
		in.Kind = KindStart
		in.Token = strings.TrimSpace(strings.TrimPrefix(payload, activatePrefix))
		return in
	}

	if c := msg.Contact; c != nil && strings.TrimSpace(c.PhoneNumber) != "" {
		// A forwarded contact card of somebody else does not count.
		if c.UserID != 0 && msg.From != nil && c.UserID != msg.From.ID {
			return in
		}
		in.Kind = KindContact
		in.Phone = strings.TrimSpace(c.PhoneNumber)
	}
	return in
}

// startPayload returns the argument of a "/start <payload>" command.
func startPayload(text string) (string, bool) {
	if !strings.HasPrefix(text, "/start") {
		return "", false
	}
	cmd, payload, found := strings.Cut(text, " ")
	if !found || (cmd != "/start" && !strings.HasPrefix(cmd, "/start@")) {
		return "", false
	}
	payload = strings.TrimSpace(payload)
	return payload, payload != ""
}
