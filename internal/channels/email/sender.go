// Package email sends transactional mail over SMTP.
package email

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/rhymesoflife/platform/internal/channels"
)

// Config holds SMTP settings.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	// ImplicitTLS dials TLS directly (port 465); otherwise STARTTLS is used when offered.
	ImplicitTLS bool
	Timeout     time.Duration
}

// Message is one outgoing email. HTML is optional.
type Message struct {
	To      string
	Subject string
	Text    string
	HTML    string
}

// Transport delivers an encoded message. The SMTP implementation is the
// default; tests substitute their own.
type Transport interface {
	Deliver(ctx context.Context, from string, to []string, msg []byte) error
}

// Sender renders and delivers messages.
type Sender struct {
	config    Config
	transport Transport
	logger    *zap.Logger
}

// New creates a sender backed by SMTP.
func New(cfg Config, logger *zap.Logger) *Sender {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Sender{config: cfg, transport: &smtpTransport{cfg: cfg}, logger: logger.Named("email")}
}

// NewWithTransport creates a sender with a custom transport.
func NewWithTransport(cfg Config, t Transport, logger *zap.Logger) *Sender {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Sender{config: cfg, transport: t, logger: logger.Named("email")}
}

// Configured reports whether an SMTP host is set.
func (s *Sender) Configured() bool {
	return s.config.Host != ""
}

// Send delivers msg. Failures are logged and reported in the Result.
func (s *Sender) Send(ctx context.Context, msg Message) channels.Result {
	if !s.Configured() {
		return channels.Failed(channels.ErrNotConfigured)
	}
	if msg.To == "" {
		return channels.Result{Message: "no recipient address"}
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	raw := Encode(s.config.From, msg)
	if err := s.transport.Deliver(ctx, s.config.From, []string{msg.To}, raw); err != nil {
		s.logger.Warn("send failed", zap.String("to", msg.To), zap.Error(err))
		return channels.Failed(fmt.Errorf("%w: %v", channels.ErrProvider, err))
	}
	return channels.Sent()
}

// Encode builds the RFC 5322 message. With an HTML part the body is
// multipart/alternative.
func Encode(from string, msg Message) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", msg.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", msg.Subject))
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().UTC().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")

	if msg.HTML == "" {
		b.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n\r\n")
		b.WriteString(crlf(msg.Text))
		return b.Bytes()
	}

	boundary := "rol-" + strconv.FormatInt(time.Now().UnixNano(), 36)
	fmt.Fprintf(&b, "Content-Type: multipart/alternative; boundary=%q\r\n\r\n", boundary)
	fmt.Fprintf(&b, "--%s\r\nContent-Type: text/plain; charset=\"utf-8\"\r\n\r\n%s\r\n", boundary, crlf(msg.Text))
	fmt.Fprintf(&b, "--%s\r\nContent-Type: text/html; charset=\"utf-8\"\r\n\r\n%s\r\n", boundary, crlf(msg.HTML))
	fmt.Fprintf(&b, "--%s--\r\n", boundary)
	return b.Bytes()
}

func crlf(s string) string {
	return strings.ReplaceAll(strings.ReplaceAll(s, "\r\n", "\n"), "\n", "\r\n")
}

type smtpTransport struct {
	cfg Config
}

func (t *smtpTransport) Deliver(ctx context.Context, from string, to []string, msg []byte) error {
	addr := net.JoinHostPort(t.cfg.Host, strconv.Itoa(t.cfg.Port))
	dialer := &net.Dialer{Timeout: t.cfg.Timeout}
	tlsConfig := &tls.Config{ServerName: t.cfg.Host, MinVersion: tls.VersionTLS12}

	var conn net.Conn
	var err error
	if t.cfg.ImplicitTLS {
		conn, err = (&tls.Dialer{NetDialer: dialer, Config: tlsConfig}).DialContext(ctx, "tcp", addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, t.cfg.Host)
	if err != nil {
		conn.Close()
		return err
	}
	defer client.Close()

	if !t.cfg.ImplicitTLS {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(tlsConfig); err != nil {
				return fmt.Errorf("starttls: %w", err)
			}
		}
	}

	if t.cfg.Username != "" {
		if err := client.Auth(smtp.PlainAuth("", t.cfg.Username, t.cfg.Password, t.cfg.Host)); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}

	if err := client.Mail(from); err != nil {
		return err
	}
	for _, rcpt := range to {
		if err := client.Rcpt(rcpt); err != nil {
			return err
		}
	}

	w, err := client.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return client.Quit()
}
