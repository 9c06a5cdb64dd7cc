package phoneotp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifier(t *testing.T) {
	c := NewClassifier()

	tests := []struct {
		status string
		want   Verdict
	}{
		{"Абонент ответил", Verified},
		{"  ANSWERED ", Verified},
		{"answered_call", Verified},
		{"success", Verified},
		{"busy", Failed},
		{"Абонент не ответил", Failed},
		{"in progress", Pending},
		{"", Pending},
	}
	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			assert.Equal(t, tt.want, c.Classify(tt.status))
		})
	}
}

func TestClassifierWith(t *testing.T) {
	base := NewClassifier()
	extended := base.With(Verified, "Confirmed")

	assert.Equal(t, Verified, extended.Classify("confirmed"))
	assert.Equal(t, Pending, base.Classify("confirmed"), "With must not mutate the receiver")
	assert.Equal(t, Verified, extended.Classify("answered"))
}
