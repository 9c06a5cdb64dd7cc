// Package linking connects a profile to a Telegram chat: the site issues a
// one-time deep link, the bot receives /start with the activation token and
// then the user's shared contact, and the account is bound atomically.
package linking

import (
	"time"

	"github.com/google/uuid"
)

// Link is the chat account link of one profile. A verified link always has
// a chat id and no activation token.
type Link struct {
	ID              int64      `json:"id"`
	ProfileID       int64      `json:"profile_id"`
	ChatID          *int64     `json:"chat_id,omitempty"`
	Username        string     `json:"username,omitempty"`
	FirstName       string     `json:"first_name,omitempty"`
	LastName        string     `json:"last_name,omitempty"`
	LanguageCode    string     `json:"language_code,omitempty"`
	ActivationToken *uuid.UUID `json:"-"`
	Verified        bool       `json:"verified"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Pending reports whether the link is waiting for a contact from chatID.
func (l *Link) Pending(chatID int64) bool {
	return !l.Verified && l.ChatID != nil && *l.ChatID == chatID
}

// ChatIdentity is what the bot learns about the chat user at /start.
type ChatIdentity struct {
	ChatID       int64
	Username     string
	FirstName    string
	LastName     string
	LanguageCode string
}

// RedeemOutcome is the result of presenting an activation token.
type RedeemOutcome int

const (
	// Redeemed recorded the chat on the link; the contact step is next.
	Redeemed RedeemOutcome = iota
	// RedeemAlreadyPending means the same chat redeemed this token before.
	RedeemAlreadyPending
	// RedeemNotFound means no link carries the token.
	RedeemNotFound
	// RedeemAlreadyLinked means the link was verified in the meantime.
	RedeemAlreadyLinked
	// RedeemChatTaken means the chat is bound to a different profile.
	RedeemChatTaken
)

// BindOutcome is the result of binding a shared contact.
type BindOutcome int

const (
	// Bound verified the link and stored the phone.
	Bound BindOutcome = iota
	// BindAlreadyLinked means the link was already verified.
	BindAlreadyLinked
	// BindNoSession means the link is missing or waits for another chat.
	BindNoSession
)

// LinkInfo is returned to the site to render the "connect Telegram" step.
type LinkInfo struct {
	Link          string `json:"link,omitempty"`
	BotUsername   string `json:"bot_username,omitempty"`
	IsVerified    bool   `json:"is_verified"`
	NotConfigured bool   `json:"not_configured"`
}

// Bot replies texts shown to chat users.
const (
	ReplyInvalidToken    = "Invalid activation token."
	ReplyTokenNotFound   = "Activation token not found or already used."
	ReplyAlreadyLinked   = "Account already linked."
	ReplyChatTaken       = "This Telegram account is already linked to another profile."
	ReplySharePhone      = "Share your phone number to link your account."
	ReplyLinkPending     = "Link already started. Share your phone to finish."
	ReplyNoSession       = "No active link session. Open the link from the site again."
	ReplyPhoneLinked     = "Phone linked. You can return to the site."
	ReplyPhoneAlready    = "Phone already linked."
	ReplyTapButton       = "Tap the button and share your phone to finish linking."
	SharePhoneButtonText = "Share phone"
)
