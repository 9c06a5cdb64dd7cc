// Package profile holds the patient profile fields the messaging core reads
// and writes: contact addresses, language and phone verification state.
package profile

import (
	"time"
)

// PhoneStatus tracks the voice-call verification of Profile.Phone.
type PhoneStatus string

const (
	PhoneNew      PhoneStatus = "new"
	PhoneCalling  PhoneStatus = "calling"
	PhoneVerified PhoneStatus = "verified"
	PhoneFailed   PhoneStatus = "failed"
)

// Valid reports whether s is a known status.
func (s PhoneStatus) Valid() bool {
	switch s {
	case PhoneNew, PhoneCalling, PhoneVerified, PhoneFailed:
		return true
	}
	return false
}

// CanAdvanceTo reports whether an automatic transition from s to next is
// allowed. Only calling resolves, into verified or failed. Starting a new
// call and resetting the phone are explicit user actions handled separately.
func (s PhoneStatus) CanAdvanceTo(next PhoneStatus) bool {
	return s == PhoneCalling && (next == PhoneVerified || next == PhoneFailed)
}

// Profile is a platform user as seen by notification, linking and OTP code.
type Profile struct {
	ID           int64  `json:"id"`
	AccountEmail string `json:"account_email"`
	Email        string `json:"email,omitempty"`
	DisplayName  string `json:"display_name"`
	// Language is a BCP-47 tag, "en" by default.
	Language string `json:"language"`

	Phone                string      `json:"phone,omitempty"`
	PhoneVerified        bool        `json:"phone_verified"`
	PhoneStatus          PhoneStatus `json:"phone_status"`
	PhoneTrackingID      string      `json:"-"`
	PhoneStatusUpdatedAt *time.Time  `json:"phone_status_updated_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// ContactEmail is the address notifications go to: the profile email when
// set, the account email otherwise.
func (p *Profile) ContactEmail() string {
	if p.Email != "" {
		return p.Email
	}
	return p.AccountEmail
}
