package email

import (
	"fmt"
	"net"
	"net/smtp"
	"strings"
)

const defaultFrom = "no-reply@insideout.local"

// Sender delivers one plain-text message. The jobs worker and the checkout
// confirmation consumer both write through this interface.
type Sender interface {
	Send(to string, subject string, body string) error
}

// SMTPSender talks unauthenticated SMTP, which is what Mailpit and the
// cluster-internal relay both speak.
type SMTPSender struct {
	addr string
	from string
}

func NewSMTPSender(host string, port string, from string) *SMTPSender {
	if from = strings.TrimSpace(from); from == "" {
		from = defaultFrom
	}
	return &SMTPSender{
		addr: net.JoinHostPort(strings.TrimSpace(host), strings.TrimSpace(port)),
		from: from,
	}
}

func (s *SMTPSender) Send(to string, subject string, body string) error {
	msg := buildMessage(s.from, to, subject, body)
	return smtp.SendMail(s.addr, nil, s.from, []string{to}, []byte(msg))
}

// buildMessage assembles a minimal RFC 5322 message, enough for Mailpit and
// most relays.
func buildMessage(from, to, subject, body string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(body)
	b.WriteString("\r\n")
	return b.String()
}

// NoopSender is used when no SMTP relay is configured, e.g. in tests.
type NoopSender struct{}

func NewNoopSender() *NoopSender { return &NoopSender{} }

func (*NoopSender) Send(string, string, string) error { return nil }
