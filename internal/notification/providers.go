package notification

import (
	"context"
	"html"
	"strings"

	"github.com/rhymesoflife/platform/internal/channels"
	"github.com/rhymesoflife/platform/internal/channels/email"
	"github.com/rhymesoflife/platform/internal/channels/telegram"
	"github.com/rhymesoflife/platform/internal/shared/i18n"
)

// ChatProvider sends chat-bot messages. *telegram.Client implements it.
type ChatProvider interface {
	SendMessage(ctx context.Context, msg telegram.Message) channels.Result
}

// EmailProvider sends email. *email.Sender implements it.
type EmailProvider interface {
	Send(ctx context.Context, msg email.Message) channels.Result
}

// renderer turns a DispatchRequest into channel payloads.
type renderer struct {
	translator *i18n.Translator
	baseURL    string
}

// chatMessage renders "<b>title</b>\nmessage" in HTML mode with an optional
// link button.
func (r renderer) chatMessage(chatID int64, req DispatchRequest, lang string) telegram.Message {
	text := html.EscapeString(req.Message)
	if req.Title != "" {
		text = "<b>" + html.EscapeString(req.Title) + "</b>\n" + text
	}

	msg := telegram.Message{
		ChatID:    chatID,
		Text:      text,
		ParseMode: "HTML",
	}
	if link := r.absoluteURL(req.URL); isHTTPURL(link) {
		label := req.ButtonText
		if label == "" {
			label = r.translator.T(lang, i18n.DetailsButton)
		}
		msg.ReplyMarkup = telegram.LinkButton(label, link)
	}
	return msg
}

// emailMessage renders subject and body, honoring explicit overrides.
func (r renderer) emailMessage(to string, req DispatchRequest, lang string) email.Message {
	subject := req.EmailSubject
	if subject == "" {
		subject = req.Title
	}
	if subject == "" {
		subject = r.translator.T(lang, i18n.DefaultSubject)
	}

	body := req.EmailBody
	if body == "" {
		body = req.Message
		if link := r.absoluteURL(req.URL); link != "" {
			body += "\n" + link
		}
	}
	return email.Message{To: to, Subject: subject, Text: body}
}

// absoluteURL resolves site-relative paths against the base URL.
func (r renderer) absoluteURL(u string) string {
	if strings.HasPrefix(u, "/") && !strings.HasPrefix(u, "//") && r.baseURL != "" {
		return strings.TrimRight(r.baseURL, "/") + u
	}
	return u
}

func isHTTPURL(u string) bool {
	return strings.HasPrefix(u, "https://") || strings.HasPrefix(u, "http://")
}
