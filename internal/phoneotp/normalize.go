// Package phoneotp verifies a phone number with a flash call: the provider
// calls the user from a number ending in a one-time PIN and the site polls
// the provider until the call is answered or fails.
package phoneotp

import "strings"

// NormalizePhone keeps digits only and rewrites local Russian formats to the
// 7 country code: 8XXXXXXXXXX and bare 9XXXXXXXXX both become 7XXXXXXXXXX.
func NormalizePhone(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()

	switch {
	case len(digits) == 11 && digits[0] == '8':
		return "7" + digits[1:]
	case len(digits) == 10 && digits[0] == '9':
		return "7" + digits
	}
	return digits
}

// FormatE164 returns the normalized number with a leading "+", or "" when
// raw has no digits.
func FormatE164(raw string) string {
	d := NormalizePhone(raw)
	if d == "" {
		return ""
	}
	return "+" + d
}
