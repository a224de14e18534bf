package email

import (
	"strings"
	"testing"
)

func TestBuildMessage(t *testing.T) {
	msg := buildMessage("no-reply@insideout.local", "student@example.com", "Enrollment confirmed", "Hi there")

	for _, want := range []string{
		"From: no-reply@insideout.local\r\n",
		"To: student@example.com\r\n",
		"Subject: Enrollment confirmed\r\n",
		"\r\n\r\nHi there\r\n",
	} {
		if !strings.Contains(msg, want) {
			t.Fatalf("message missing %q:\n%s", want, msg)
		}
	}
}

func TestNewSMTPSenderDefaults(t *testing.T) {
	s := NewSMTPSender(" smtp.local ", " 1025 ", "")
	if s.addr != "smtp.local:1025" {
		t.Fatalf("addr = %q", s.addr)
	}
	if s.from != "no-reply@insideout.local" {
		t.Fatalf("from = %q", s.from)
	}
}
