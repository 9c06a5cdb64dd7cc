package phoneotp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"+7 (900) 123-45-67", "79001234567"},
		{"8 900 123 45 67", "79001234567"},
		{"9001234567", "79001234567"},
		{"79001234567", "79001234567"},
		{"+1 415 555 0100", "14155550100"},
		{"8123", "8123"},
		{"", ""},
		{"abc", ""},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizePhone(tt.raw))
		})
	}
}

func TestFormatE164(t *testing.T) {
	assert.Equal(t, "+79001234567", FormatE164("8 (900) 123-45-67"))
	assert.Equal(t, "", FormatE164("   "))
}

func TestNormalizeIsIdempotent(t *testing.T) {
	for _, raw := range []string{"8 900 123 45 67", "9001234567", "+44 20 7946 0958"} {
		once := NormalizePhone(raw)
		assert.Equal(t, once, NormalizePhone(once))
		assert.Equal(t, FormatE164(raw), FormatE164(FormatE164(raw)))
	}
}
