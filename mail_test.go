package magpie

import (
	"testing"

	"github.com/synqronlabs/magpie/mime"
)

func TestParseAddress(t *testing.T) {
	tests := []struct {
		in          string
		local       string
		domain      string
		displayName string
	}{
		{"bob@example.com", "bob", "example.com", ""},
		{"Bob Example <bob@example.com>", "bob", "example.com", "Bob Example"},
	}
	for _, tt := range tests {
		addr, err := ParseAddress(tt.in)
		if err != nil {
			t.Errorf("ParseAddress(%q) failed: %s", tt.in, err)
			continue
		}
		if addr.LocalPart != tt.local || addr.Domain != tt.domain || addr.DisplayName != tt.displayName {
			t.Errorf("ParseAddress(%q) = %+v", tt.in, addr)
		}
	}

	if _, err := ParseAddress("not an address"); err == nil {
		t.Error("expected an error for a malformed address")
	}
}

func TestHeadersCaseInsensitive(t *testing.T) {
	h := Headers{
		{Name: "subject", Value: "one"},
		{Name: "X-Tag", Value: "a"},
		{Name: "x-tag", Value: "b"},
	}
	if got := h.Get("Subject"); got != "one" {
		t.Errorf("Get(Subject) = %q", got)
	}
	if got := h.GetAll("X-TAG"); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("GetAll(X-TAG) = %v", got)
	}
	if got := h.Get("Missing"); got != "" {
		t.Errorf("Get(Missing) = %q", got)
	}
}

func TestMessageRequiresSMTPUTF8(t *testing.T) {
	msg := &Message{Headers: Headers{
		{Name: "From", Value: "alice@example.com"},
		{Name: "Subject", Value: "Grüße"},
	}}
	if msg.RequiresSMTPUTF8() {
		t.Error("non-ASCII subject alone must not require SMTPUTF8")
	}

	msg.AddHeader("To", "jürgen@example.com")
	if !msg.RequiresSMTPUTF8() {
		t.Error("non-ASCII address header must require SMTPUTF8")
	}
}

func TestMessageRequires8BitMIME(t *testing.T) {
	msg := &Message{Body: []byte("caf\xc3\xa9")}
	if !msg.Requires8BitMIME() {
		t.Error("8-bit identity body must require 8BITMIME")
	}
	msg.Encoding = mime.EncodingBase64
	if msg.Requires8BitMIME() {
		t.Error("base64 body never requires 8BITMIME")
	}
	if (&Message{Body: []byte("plain")}).Requires8BitMIME() {
		t.Error("ASCII body must not require 8BITMIME")
	}
}

func TestPathString(t *testing.T) {
	p := Path{Mailbox: MailboxAddress{LocalPart: "bob", Domain: "example.com"}}
	if p.String() != "<bob@example.com>" {
		t.Errorf("path = %q", p.String())
	}
	if (Path{}).String() != "<>" {
		t.Error("null path must render as <>")
	}
}
