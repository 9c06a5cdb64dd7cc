package notification

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/rhymesoflife/platform/internal/channels/telegram"
	"github.com/rhymesoflife/platform/internal/shared/events"
)

// StaffAlerts posts plain-text alerts about new accounts and uploaded
// documents to the staff chats through the staff bot.
type StaffAlerts struct {
	bot     ChatProvider
	chatIDs []int64
	baseURL string
	logger  *zap.Logger
}

// NewStaffAlerts creates the staff alert subscriber. With no chat ids it is a no-op.
func NewStaffAlerts(bot ChatProvider, chatIDs []int64, baseURL string, logger *zap.Logger) *StaffAlerts {
	return &StaffAlerts{
		bot:     bot,
		chatIDs: chatIDs,
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger.Named("notification.staff"),
	}
}

// Register subscribes to account and document events.
func (a *StaffAlerts) Register(bus *events.Bus) {
	bus.Subscribe(events.AccountRegistered, "staff-alerts", a.Handle)
	bus.Subscribe(events.DocumentUploaded, "staff-alerts", a.Handle)
}

// Handle renders and posts the alert for e.
func (a *StaffAlerts) Handle(ctx context.Context, e events.Event) error {
	var text string
	switch e.Type {
	case events.AccountRegistered:
		data, err := events.DecodeData[events.AccountRegisteredData](e)
		if err != nil {
			return err
		}
		text = a.accountText(data)
	case events.DocumentUploaded:
		data, err := events.DecodeData[events.DocumentUploadedData](e)
		if err != nil {
			return err
		}
		text = a.documentText(data)
	default:
		return nil
	}
	return a.post(ctx, text)
}

func (a *StaffAlerts) post(ctx context.Context, text string) error {
	if a.bot == nil || len(a.chatIDs) == 0 {
		return nil
	}
	var failed []error
	for _, id := range a.chatIDs {
		res := a.bot.SendMessage(ctx, telegram.Message{ChatID: id, Text: text, DisableWebPagePreview: true})
		if !res.OK {
			a.logger.Warn("staff alert failed", zap.Int64("chat_id", id), zap.String("reason", res.Message))
			failed = append(failed, fmt.Errorf("chat %d: %s", id, res.Message))
		}
	}
	// Alerts are best effort; report only when no staff chat received it.
	if len(failed) == len(a.chatIDs) {
		return errors.Join(failed...)
	}
	return nil
}

func (a *StaffAlerts) accountText(d events.AccountRegisteredData) string {
	lines := []string{
		"New user registered",
		fmt.Sprintf("Username: %s", d.Username),
		fmt.Sprintf("User ID: %d", d.UserID),
		fmt.Sprintf("Email: %s", orDash(d.Email)),
	}
	if link := a.adminURL("auth", "user", d.UserID); link != "" {
		lines = append(lines, "Admin: "+link)
	}
	return strings.Join(lines, "\n")
}

func (a *StaffAlerts) documentText(d events.DocumentUploadedData) string {
	lines := []string{
		"New medical document uploaded",
		fmt.Sprintf("Document ID: %d", d.DocumentID),
		fmt.Sprintf("File: %s", orDash(d.FileName)),
		fmt.Sprintf("Exam ID: %d", d.ExamID),
		fmt.Sprintf("Exam date: %s", orDash(d.ExamDate)),
		fmt.Sprintf("User: %s (#%d)", orDash(d.Username), d.UserID),
	}
	if link := a.adminURL("base", "medicaldocument", d.DocumentID); link != "" {
		lines = append(lines, "Admin: "+link)
	}
	return strings.Join(lines, "\n")
}

func (a *StaffAlerts) adminURL(app, model string, id int64) string {
	if a.baseURL == "" {
		return ""
	}
	return fmt.Sprintf("%s/admin/%s/%s/%d/change/", a.baseURL, app, model, id)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
