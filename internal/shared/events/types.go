package events

import (
	"encoding/json"
	"fmt"
)

// Event types published by the application.
const (
	SocialFollowed        = "social.followed"
	ExamCommented         = "exam.commented"
	RecommendationCreated = "recommendation.created"
	AccessRequested       = "access.requested"
	AccessGranted         = "access.granted"
	AccessDenied          = "access.denied"
	AdminMessage          = "admin.message"
	AccountRegistered     = "account.registered"
	DocumentUploaded      = "document.uploaded"
)

// ProfileEvent is the payload of events addressed to one profile.
type ProfileEvent struct {
	RecipientID int64  `json:"recipient_id"`
	SenderID    int64  `json:"sender_id,omitempty"`
	SenderName  string `json:"sender_name,omitempty"`
	Title       string `json:"title,omitempty"`
	Message     string `json:"message,omitempty"`
	URL         string `json:"url,omitempty"`
	ButtonText  string `json:"button_text,omitempty"`
	// Payload carries ids of the related exam, recommendation or access request.
	Payload map[string]any `json:"payload,omitempty"`
}

// AccountRegisteredData is published once a new account is created.
type AccountRegisteredData struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

// DocumentUploadedData is published when a patient uploads a medical document.
type DocumentUploadedData struct {
	DocumentID int64  `json:"document_id"`
	FileName   string `json:"file_name"`
	ExamID     int64  `json:"exam_id"`
	ExamDate   string `json:"exam_date"`
	UserID     int64  `json:"user_id"`
	Username   string `json:"username"`
}

// DecodeData extracts the typed payload of e. Values, pointers and
// JSON-shaped maps are all accepted.
func DecodeData[T any](e Event) (T, error) {
	var zero T
	switch v := e.Data.(type) {
	case T:
		return v, nil
	case *T:
		if v == nil {
			return zero, fmt.Errorf("event %s: nil payload", e.Type)
		}
		return *v, nil
	}

	raw, err := json.Marshal(e.Data)
	if err != nil {
		return zero, fmt.Errorf("event %s: %w", e.Type, err)
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return zero, fmt.Errorf("event %s: unexpected payload: %w", e.Type, err)
	}
	return out, nil
}
