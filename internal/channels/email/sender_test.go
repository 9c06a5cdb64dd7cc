package email

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

type recordingTransport struct {
	from string
	to   []string
	msg  []byte
	err  error
}

func (r *recordingTransport) Deliver(ctx context.Context, from string, to []string, msg []byte) error {
	r.from, r.to, r.msg = from, to, msg
	return r.err
}

func testConfig() Config {
	return Config{Host: "smtp.example.org", Port: 587, From: "no-reply@example.org"}
}

func TestSend(t *testing.T) {
	tr := &recordingTransport{}
	s := NewWithTransport(testConfig(), tr, zap.NewNop())

	res := s.Send(context.Background(), Message{
		To:      "patient@example.org",
		Subject: "Напоминание",
		Text:    "line one\nline two",
	})

	assert.True(t, res.OK)
	assert.Equal(t, "no-reply@example.org", tr.from)
	assert.Equal(t, []string{"patient@example.org"}, tr.to)

	raw := string(tr.msg)
	assert.Contains(t, raw, "To: patient@example.org\r\n")
	assert.Contains(t, raw, "Subject: =?utf-8?q?")
	assert.Contains(t, raw, "text/plain")
	assert.True(t, strings.HasSuffix(raw, "line one\r\nline two"))
}

func TestSendHTMLIsMultipart(t *testing.T) {
	tr := &recordingTransport{}
	s := NewWithTransport(testConfig(), tr, zap.NewNop())

	res := s.Send(context.Background(), Message{To: "a@example.org", Subject: "Hi", Text: "plain", HTML: "<b>rich</b>"})

	assert.True(t, res.OK)
	raw := string(tr.msg)
	assert.Contains(t, raw, "multipart/alternative")
	assert.Contains(t, raw, "plain")
	assert.Contains(t, raw, "<b>rich</b>")
}

func TestSendFailures(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		msg  Message
		err  error
	}{
		{"not configured", Config{}, Message{To: "a@example.org"}, nil},
		{"no address", testConfig(), Message{}, nil},
		{"transport error", testConfig(), Message{To: "a@example.org"}, errors.New("connection refused")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewWithTransport(tt.cfg, &recordingTransport{err: tt.err}, zap.NewNop())
			res := s.Send(context.Background(), tt.msg)
			assert.False(t, res.OK)
			assert.NotEmpty(t, res.Message)
		})
	}
}
