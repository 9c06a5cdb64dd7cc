package notification

import (
	"time"

	"github.com/rhymesoflife/platform/internal/shared/types"
)

// Type is the stored notification kind.
type Type string

const (
	TypeFollow         Type = "FOLLOW"
	TypeExamComment    Type = "EXAM_COMMENT"
	TypeRecommendation Type = "RECOMMENDATION"
	TypeAdminMessage   Type = "ADMIN_MESSAGE"
	TypeSystemMessage  Type = "SYSTEM_MESSAGE"
	TypeAccessRequest  Type = "ACCESS_REQUEST"
	TypeAccessGranted  Type = "ACCESS_GRANTED"
	TypeAccessDenied   Type = "ACCESS_DENIED"
)

// Source says who caused the notification.
type Source string

const (
	SourceUser   Source = "user"
	SourceAdmin  Source = "admin"
	SourceSystem Source = "system"
)

// Scope distinguishes one-off messages from broadcast copies.
type Scope string

const (
	ScopePersonal  Scope = "personal"
	ScopeBroadcast Scope = "broadcast"
)

// Notification is the in-app record. RecipientID, Type and CreatedAt never
// change after insert; only IsRead and the soft-delete fields do.
type Notification struct {
	ID          types.ID       `json:"id"`
	RecipientID int64          `json:"recipient_id"`
	SenderID    *int64         `json:"sender_id,omitempty"`
	Type        Type           `json:"notification_type"`
	Title       string         `json:"title"`
	Message     string         `json:"message"`
	URL         string         `json:"url,omitempty"`
	Payload     map[string]any `json:"payload"`
	Source      Source         `json:"source"`
	Scope       Scope          `json:"scope"`
	IsRead      bool           `json:"is_read"`
	IsDeleted   bool           `json:"is_deleted"`
	DeletedAt   *time.Time     `json:"deleted_at,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// Channels selects where a dispatch goes.
type Channels struct {
	Site  bool `json:"site"`
	Chat  bool `json:"chat"`
	Email bool `json:"email"`
}

// AllChannels enables site, chat and email delivery.
func AllChannels() Channels {
	return Channels{Site: true, Chat: true, Email: true}
}

// DispatchRequest describes one logical notification for one recipient.
type DispatchRequest struct {
	RecipientID int64          `json:"recipient_id" validate:"required,gt=0"`
	SenderID    *int64         `json:"sender_id,omitempty" validate:"omitempty,gt=0"`
	Type        Type           `json:"notification_type" validate:"required,oneof=FOLLOW EXAM_COMMENT RECOMMENDATION ADMIN_MESSAGE SYSTEM_MESSAGE ACCESS_REQUEST ACCESS_GRANTED ACCESS_DENIED"`
	Title       string         `json:"title" validate:"max=255"`
	Message     string         `json:"message" validate:"required_without=Title,max=4000"`
	URL         string         `json:"url,omitempty" validate:"omitempty,max=2048"`
	ButtonText  string         `json:"button_text,omitempty" validate:"max=64"`
	Payload     map[string]any `json:"payload,omitempty"`
	Source      Source         `json:"source" validate:"omitempty,oneof=user admin system"`
	Scope       Scope          `json:"scope" validate:"omitempty,oneof=personal broadcast"`
	Channels    Channels       `json:"channels"`

	// EmailSubject and EmailBody override the rendered email.
	EmailSubject string `json:"email_subject,omitempty"`
	EmailBody    string `json:"email_body,omitempty"`
}

// DispatchResult reports what happened per channel. NotificationID is nil
// when the site channel was not requested.
type DispatchResult struct {
	NotificationID *types.ID `json:"notification_id"`
	ChatSent       bool      `json:"chat_sent"`
	EmailSent      bool      `json:"email_sent"`
}

// Page bounds inbox listings.
type Page struct {
	Limit  int
	Offset int
}

// Recipient is the delivery view of a profile. ChatID is set only when the
// chat account link is verified.
type Recipient struct {
	ProfileID int64
	Email     string
	Language  string
	ChatID    *int64
}
