package magpie

import (
	"errors"
	"strings"
	"testing"

	"github.com/synqronlabs/magpie/mime"
)

func TestEncodeBasic(t *testing.T) {
	msg := &Message{
		Headers: Headers{
			{Name: "From", Value: "alice@example.com"},
			{Name: "To", Value: "bob@example.com"},
			{Name: "Subject", Value: "hello"},
		},
		Body: []byte("plain body\n"),
	}
	enc, err := Encode(msg, EncodingContext{})
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	data := string(enc.Data)
	if !strings.Contains(data, "Subject: hello\r\n") {
		t.Error("missing subject header")
	}
	if !strings.HasSuffix(data, "\r\n") {
		t.Error("encoded data must end with CRLF")
	}
	if strings.Contains(strings.ReplaceAll(data, "\r\n", ""), "\n") {
		t.Error("bare LF survived normalization")
	}
	if enc.BodyType != BodyType7Bit {
		t.Errorf("body type = %s, expected 7BIT", enc.BodyType)
	}
}

func TestEncodeDropsBcc(t *testing.T) {
	msg := &Message{
		Headers: Headers{
			{Name: "From", Value: "alice@example.com"},
			{Name: "To", Value: "bob@example.com"},
			{Name: "Bcc", Value: "secret@example.com"},
		},
		Body: []byte("body\n"),
	}
	enc, err := Encode(msg, EncodingContext{})
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if strings.Contains(string(enc.Data), "secret@example.com") {
		t.Error("Bcc header leaked into encoded message")
	}
}

func TestEncodeDotStuffing(t *testing.T) {
	msg := &Message{
		Headers: Headers{{Name: "From", Value: "a@b.example"}},
		Body:    []byte(".leading dot\nmiddle\n..two dots\n"),
	}
	enc, err := Encode(msg, EncodingContext{})
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	data := string(enc.Data)
	if !strings.Contains(data, "\r\n..leading dot\r\n") {
		t.Error("line starting with dot not stuffed")
	}
	if !strings.Contains(data, "\r\n...two dots\r\n") {
		t.Error("line starting with two dots not stuffed")
	}
	if strings.Contains(data, "\r\n.middle") {
		t.Error("stuffing applied where it should not be")
	}
}

func TestEncodeNonASCIISubject(t *testing.T) {
	msg := &Message{
		Headers: Headers{
			{Name: "From", Value: "alice@example.com"},
			{Name: "Subject", Value: "Grüße aus Köln"},
		},
		Body: []byte("body\n"),
	}
	enc, err := Encode(msg, EncodingContext{})
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	data := string(enc.Data)
	if strings.Contains(data, "Grüße") {
		t.Error("raw UTF-8 subject transmitted without SMTPUTF8")
	}
	if !strings.Contains(data, "=?utf-8?q?") {
		t.Error("subject not RFC 2047 encoded")
	}
}

func TestEncodeNonASCIIAddressNeedsSMTPUTF8(t *testing.T) {
	msg := &Message{
		Headers: Headers{
			{Name: "From", Value: "jürgen@example.com"},
			{Name: "To", Value: "bob@example.com"},
		},
		Body: []byte("body\n"),
	}
	_, err := Encode(msg, EncodingContext{})
	var encErr *EncodingError
	if !errors.As(err, &encErr) {
		t.Fatalf("expected EncodingError, got %v", err)
	}

	enc, err := Encode(msg, EncodingContext{SMTPUTF8: true})
	if err != nil {
		t.Fatalf("unexpected error with SMTPUTF8: %s", err)
	}
	if !enc.SMTPUTF8 {
		t.Error("encoded form must flag SMTPUTF8 need")
	}
	if !strings.Contains(string(enc.Data), "jürgen@example.com") {
		t.Error("address header must stay raw UTF-8 under SMTPUTF8")
	}
}

func TestEncodeEightBitDowngrade(t *testing.T) {
	msg := &Message{
		Headers: Headers{{Name: "From", Value: "a@b.example"}},
		Body:    []byte("caf\xc3\xa9 body\n"),
		Charset: "utf-8",
	}

	// Without 8BITMIME the body downgrades to quoted-printable.
	enc, err := Encode(msg, EncodingContext{})
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if enc.BodyType != BodyType7Bit {
		t.Errorf("body type = %s, expected downgrade to 7BIT", enc.BodyType)
	}
	if !strings.Contains(string(enc.Data), "quoted-printable") {
		t.Error("expected quoted-printable transfer encoding header")
	}
	if !strings.Contains(string(enc.Data), "caf=C3=A9") {
		t.Error("8-bit bytes not quoted-printable encoded")
	}

	// With 8BITMIME the body goes out verbatim.
	enc, err = Encode(msg, EncodingContext{EightBitMIME: true})
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if enc.BodyType != BodyType8BitMIME {
		t.Errorf("body type = %s, expected 8BITMIME", enc.BodyType)
	}
	if !strings.Contains(string(enc.Data), "caf\xc3\xa9 body") {
		t.Error("8-bit body mangled despite 8BITMIME")
	}
}

func TestEncodeSizeLimit(t *testing.T) {
	msg := &Message{
		Headers: Headers{{Name: "From", Value: "a@b.example"}},
		Body:    []byte(strings.Repeat("x", 4096)),
	}
	_, err := Encode(msg, EncodingContext{MaxSize: 1024})
	if !errors.Is(err, ErrMessageTooLarge) {
		t.Errorf("expected ErrMessageTooLarge, got %v", err)
	}

	if _, err := Encode(msg, EncodingContext{MaxSize: 1 << 20}); err != nil {
		t.Errorf("unexpected error under generous limit: %s", err)
	}
}

func TestEncodeAttachmentsMultipart(t *testing.T) {
	msg := &Message{
		Headers: Headers{
			{Name: "From", Value: "alice@example.com"},
			{Name: "Subject", Value: "report attached"},
		},
		Body:    []byte("see attachment\n"),
		Charset: "utf-8",
		Attachments: []Attachment{
			{Filename: "report.csv", ContentType: "text/csv", Data: []byte("a,b\n1,2\n")},
		},
	}
	enc, err := Encode(msg, EncodingContext{})
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	data := string(enc.Data)
	if !strings.Contains(data, "Content-Type: multipart/mixed; boundary=") {
		t.Error("missing multipart structure")
	}
	if !strings.Contains(data, `filename="report.csv"`) {
		t.Error("attachment filename missing")
	}
	if !strings.Contains(data, "base64") {
		t.Error("attachment should be base64 encoded")
	}
}

func TestEncodeHTMLBodyWithAttachment(t *testing.T) {
	req, err := NewMessage().
		From("alice@example.com").
		To("bob@example.com").
		Subject("styled").
		HTMLBody("<p>hello</p>\n").
		Attach("notes.txt", []byte("plain notes\n"), "text/plain").
		BuildRequest()
	if err != nil {
		t.Fatalf("build: %s", err)
	}
	enc, err := Encode(req.Message, EncodingContext{})
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	data := string(enc.Data)
	if !strings.Contains(data, "Content-Type: multipart/mixed; boundary=") {
		t.Fatal("missing multipart structure")
	}
	if !strings.Contains(data, "Content-Type: text/html; charset=utf-8\r\n") {
		t.Error("body part lost its text/html content type")
	}
	if strings.Count(data, "charset=utf-8") > 1 {
		t.Error("charset parameter duplicated on the body part")
	}
}

func TestEncodeBinaryEncodingRejected(t *testing.T) {
	msg := &Message{
		Headers: Headers{
			{Name: "From", Value: "alice@example.com"},
			{Name: "To", Value: "bob@example.com"},
		},
		Body:     []byte{0x00, 0x01, 0xff},
		Encoding: mime.EncodingBinary,
	}
	_, err := Encode(msg, EncodingContext{EightBitMIME: true})
	var encErr *EncodingError
	if !errors.As(err, &encErr) {
		t.Fatalf("expected an encoding error, got %v", err)
	}
}

func TestEncodeNilMessage(t *testing.T) {
	if _, err := Encode(nil, EncodingContext{}); err == nil {
		t.Error("expected an error for nil message")
	}
}
