package phoneotp

import "strings"

// Verdict is what a provider dial status means for verification.
type Verdict int

const (
	Pending Verdict = iota
	Verified
	Failed
)

// Classifier maps provider dial statuses to verdicts. Matching is
// case-insensitive on the trimmed status; unknown statuses are Pending.
type Classifier struct {
	table map[string]Verdict
}

// DefaultVerifiedStatuses are the dial statuses that mean the call was answered.
var DefaultVerifiedStatuses = []string{"абонент ответил", "answered", "answered_call", "success"}

// DefaultFailedStatuses are the dial statuses after which no answer will come.
var DefaultFailedStatuses = []string{
	"абонент не ответил", "занято", "номер не существует", "ошибка",
	"no_answer", "noanswer", "busy", "failed", "rejected", "invalid_number", "error", "cancelled",
}

// NewClassifier builds the default classifier.
func NewClassifier() *Classifier {
	c := &Classifier{table: make(map[string]Verdict)}
	return c.With(Verified, DefaultVerifiedStatuses...).With(Failed, DefaultFailedStatuses...)
}

// With returns a copy of c that also maps statuses to v.
func (c *Classifier) With(v Verdict, statuses ...string) *Classifier {
	next := &Classifier{table: make(map[string]Verdict, len(c.table)+len(statuses))}
	for k, val := range c.table {
		next.table[k] = val
	}
	for _, s := range statuses {
		next.table[canonical(s)] = v
	}
	return next
}

// Classify returns the verdict for a raw dial status.
func (c *Classifier) Classify(status string) Verdict {
	return c.table[canonical(status)]
}

func canonical(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
