package magpie

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestBuilderDefaults(t *testing.T) {
	msg, err := NewMessage().
		From("alice@example.com").
		To("bob@example.com").
		Subject("hi").
		TextBody("hello\n").
		Build()
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if msg.Headers.Get("Date") == "" {
		t.Error("missing generated Date header")
	}
	msgID := msg.Headers.Get("Message-ID")
	if msgID == "" {
		t.Fatal("missing generated Message-ID header")
	}
	if !strings.HasPrefix(msgID, "<") || !strings.HasSuffix(msgID, "@example.com>") {
		t.Errorf("unexpected Message-ID shape %q", msgID)
	}
}

func TestBuilderExplicitValuesKept(t *testing.T) {
	when := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	msg, err := NewMessage().
		From("alice@example.com").
		To("bob@example.com").
		Date(when).
		MessageID("fixed.id@example.com").
		TextBody("x").
		Build()
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if got := msg.Headers.Get("Message-ID"); got != "<fixed.id@example.com>" {
		t.Errorf("Message-ID = %q", got)
	}
	if got := msg.Headers.Get("Date"); got != when.Format(time.RFC1123Z) {
		t.Errorf("Date = %q", got)
	}
}

func TestBuilderRequiresSenderAndRecipients(t *testing.T) {
	_, err := NewMessage().To("bob@example.com").TextBody("x").Build()
	if !errors.Is(err, ErrNoSender) {
		t.Errorf("expected ErrNoSender, got %v", err)
	}

	_, err = NewMessage().From("alice@example.com").TextBody("x").Build()
	if !errors.Is(err, ErrNoRecipients) {
		t.Errorf("expected ErrNoRecipients, got %v", err)
	}
}

func TestBuilderInvalidAddressSurfaces(t *testing.T) {
	_, err := NewMessage().
		From("not an address").
		To("bob@example.com").
		TextBody("x").
		Build()
	if err == nil {
		t.Error("expected an error for a malformed From address")
	}
}

func TestBuilderDisplayNames(t *testing.T) {
	msg, err := NewMessage().
		From("Alice Example <alice@example.com>").
		To(`"Bob, Jr." <bob@example.com>`).
		TextBody("x").
		Build()
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if got := msg.Headers.Get("From"); got != "Alice Example <alice@example.com>" {
		t.Errorf("From = %q", got)
	}
	// Names containing specials must be quoted.
	if got := msg.Headers.Get("To"); got != `"Bob, Jr." <bob@example.com>` {
		t.Errorf("To = %q", got)
	}
}

func TestBuilderNonASCIIDisplayName(t *testing.T) {
	msg, err := NewMessage().
		From("Jürgen Müller <jm@example.com>").
		To("bob@example.com").
		TextBody("x").
		Build()
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	from := msg.Headers.Get("From")
	if strings.Contains(from, "Jürgen") {
		t.Errorf("display name not encoded: %q", from)
	}
	if !strings.Contains(from, "=?utf-8?q?") {
		t.Errorf("expected RFC 2047 word in %q", from)
	}
}

func TestBuilderRecipientsAccumulate(t *testing.T) {
	req, err := NewMessage().
		From("alice@example.com").
		To("bob@example.com").
		To("carol@example.com").
		Cc("dave@example.com").
		TextBody("x").
		BuildRequest()
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	env, err := req.Resolve()
	if err != nil {
		t.Fatalf("resolve failed: %s", err)
	}
	if len(env.To) != 3 {
		t.Errorf("expected 3 envelope recipients, got %v", env.To)
	}
}

func TestBuilderAttachments(t *testing.T) {
	msg, err := NewMessage().
		From("alice@example.com").
		To("bob@example.com").
		TextBody("see attached\n").
		Attach("data.bin", []byte{0x00, 0x01}, "application/octet-stream").
		AttachInline("logo.png", "logo", []byte{0x89}, "image/png").
		Build()
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if len(msg.Attachments) != 2 {
		t.Fatalf("expected 2 attachments, got %d", len(msg.Attachments))
	}
	if !msg.Attachments[1].Inline || msg.Attachments[1].ContentID != "logo" {
		t.Errorf("inline attachment mangled: %+v", msg.Attachments[1])
	}
}
