package i18n

import (
	"golang.org/x/text/language"
)

// Message keys rendered by the backend. Page copy lives with the frontend.
const (
	DefaultSubject  = "notification.default_subject"
	DetailsButton   = "notification.details_button"
	ReminderTitle   = "reminder.title"
	ReminderMessage = "reminder.message"
)

var supported = []language.Tag{language.English, language.Russian}

var catalog = map[language.Tag]map[string]string{
	language.English: {
		DefaultSubject:  "Notification",
		DetailsButton:   "Details",
		ReminderTitle:   "Wellness reminder",
		ReminderMessage: "You haven't checked in for a while. Please rate your wellness (1–10) and leave a short note.",
	},
	language.Russian: {
		DefaultSubject:  "Уведомление",
		DetailsButton:   "Подробнее",
		ReminderTitle:   "Напоминание о самочувствии",
		ReminderMessage: "Вы давно не отмечали самочувствие. Оцените его по шкале 1–10 и оставьте короткую заметку.",
	},
}

// Translator resolves message keys for a recipient language.
type Translator struct {
	matcher  language.Matcher
	fallback language.Tag
}

// NewTranslator returns a translator over the built-in catalog.
func NewTranslator() *Translator {
	return &Translator{
		matcher:  language.NewMatcher(supported),
		fallback: language.English,
	}
}

// Match maps a stored BCP-47 code (for example "ru-RU" or "") to a supported tag.
func (t *Translator) Match(code string) language.Tag {
	if code == "" {
		return t.fallback
	}
	tag, err := language.Parse(code)
	if err != nil {
		return t.fallback
	}
	_, idx, conf := t.matcher.Match(tag)
	if conf == language.No {
		return t.fallback
	}
	return supported[idx]
}

// T returns the string for key in lang, falling back to English and then to key itself.
func (t *Translator) T(lang, key string) string {
	if s, ok := catalog[t.Match(lang)][key]; ok {
		return s
	}
	if s, ok := catalog[t.fallback][key]; ok {
		return s
	}
	return key
}
