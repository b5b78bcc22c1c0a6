package magpie

import (
	"fmt"
	stdmime "mime"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/synqronlabs/magpie/mime"
	"github.com/synqronlabs/magpie/utils"
)

// MessageBuilder provides a fluent interface for constructing messages.
// Errors accumulate and surface from Build.
type MessageBuilder struct {
	msg    *Message
	from   *MailboxAddress
	to     []MailboxAddress
	errors []error
}

// NewMessage starts building a message.
func NewMessage() *MessageBuilder {
	return &MessageBuilder{msg: &Message{}}
}

// From sets the From header. The address may be a bare address or RFC
// 5322 formatted ("Name <user@domain>").
func (b *MessageBuilder) From(address string) *MessageBuilder {
	addr, err := ParseAddress(address)
	if err != nil {
		b.errors = append(b.errors, fmt.Errorf("from %q: %w", address, err))
		return b
	}
	b.from = &addr
	b.setAddressHeader("From", []MailboxAddress{addr})
	return b
}

// Sender sets the Sender header, which takes precedence over From when
// the envelope is derived.
func (b *MessageBuilder) Sender(address string) *MessageBuilder {
	addr, err := ParseAddress(address)
	if err != nil {
		b.errors = append(b.errors, fmt.Errorf("sender %q: %w", address, err))
		return b
	}
	b.setAddressHeader("Sender", []MailboxAddress{addr})
	return b
}

// To adds recipients to the To header.
func (b *MessageBuilder) To(addresses ...string) *MessageBuilder {
	return b.addRecipients("To", addresses)
}

// Cc adds recipients to the Cc header.
func (b *MessageBuilder) Cc(addresses ...string) *MessageBuilder {
	return b.addRecipients("Cc", addresses)
}

// Bcc adds recipients to the Bcc header. The header is dropped from the
// transmitted message but contributes envelope recipients.
func (b *MessageBuilder) Bcc(addresses ...string) *MessageBuilder {
	return b.addRecipients("Bcc", addresses)
}

func (b *MessageBuilder) addRecipients(header string, addresses []string) *MessageBuilder {
	parsed := make([]MailboxAddress, 0, len(addresses))
	for _, a := range addresses {
		addr, err := ParseAddress(a)
		if err != nil {
			b.errors = append(b.errors, fmt.Errorf("%s %q: %w", strings.ToLower(header), a, err))
			continue
		}
		parsed = append(parsed, addr)
	}
	if len(parsed) == 0 {
		return b
	}
	b.to = append(b.to, parsed...)
	existing := b.headerAddresses(header)
	b.setAddressHeader(header, append(existing, parsed...))
	return b
}

// ReplyTo sets the Reply-To header.
func (b *MessageBuilder) ReplyTo(address string) *MessageBuilder {
	addr, err := ParseAddress(address)
	if err != nil {
		b.errors = append(b.errors, fmt.Errorf("reply-to %q: %w", address, err))
		return b
	}
	b.setAddressHeader("Reply-To", []MailboxAddress{addr})
	return b
}

// Subject sets the Subject header.
func (b *MessageBuilder) Subject(subject string) *MessageBuilder {
	return b.Header("Subject", subject)
}

// Header sets an arbitrary header, replacing any previous value.
func (b *MessageBuilder) Header(name, value string) *MessageBuilder {
	b.removeHeader(name)
	b.msg.AddHeader(name, value)
	return b
}

// MessageID sets an explicit Message-ID. Angle brackets are added if
// missing.
func (b *MessageBuilder) MessageID(id string) *MessageBuilder {
	if !strings.HasPrefix(id, "<") {
		id = "<" + id + ">"
	}
	return b.Header("Message-ID", id)
}

// Date sets the Date header.
func (b *MessageBuilder) Date(t time.Time) *MessageBuilder {
	return b.Header("Date", t.Format(time.RFC1123Z))
}

// TextBody sets a plain-text body.
func (b *MessageBuilder) TextBody(body string) *MessageBuilder {
	b.msg.Body = []byte(body)
	b.msg.Charset = "utf-8"
	if mime.Is8Bit(b.msg.Body) {
		b.msg.Encoding = mime.Encoding8Bit
	} else {
		b.msg.Encoding = mime.Encoding7Bit
	}
	return b
}

// HTMLBody sets an HTML body.
func (b *MessageBuilder) HTMLBody(body string) *MessageBuilder {
	b.TextBody(body)
	return b.Header("Content-Type", "text/html; charset=utf-8")
}

// Body sets a raw body with an explicit transfer encoding.
func (b *MessageBuilder) Body(body []byte, encoding mime.ContentTransferEncoding) *MessageBuilder {
	b.msg.Body = body
	b.msg.Encoding = encoding
	return b
}

// Attach adds a file attachment.
func (b *MessageBuilder) Attach(filename string, data []byte, contentType string) *MessageBuilder {
	b.msg.Attachments = append(b.msg.Attachments, Attachment{
		Filename:    filename,
		ContentType: contentType,
		Data:        data,
	})
	return b
}

// AttachInline adds an inline attachment referenced by Content-ID.
func (b *MessageBuilder) AttachInline(filename, contentID string, data []byte, contentType string) *MessageBuilder {
	b.msg.Attachments = append(b.msg.Attachments, Attachment{
		Filename:    filename,
		ContentType: contentType,
		Data:        data,
		Inline:      true,
		ContentID:   contentID,
	})
	return b
}

// Build finalizes the message. Missing Date and Message-ID headers are
// filled in; a From header (or Sender) is required.
func (b *MessageBuilder) Build() (*Message, error) {
	if len(b.errors) > 0 {
		return nil, fmt.Errorf("message builder: %v", b.errors)
	}
	if b.msg.Headers.Get("From") == "" && b.msg.Headers.Get("Sender") == "" {
		return nil, ErrNoSender
	}
	if len(b.to) == 0 {
		return nil, ErrNoRecipients
	}

	if b.msg.Headers.Get("Date") == "" {
		b.msg.AddHeader("Date", time.Now().Format(time.RFC1123Z))
	}
	if b.msg.Headers.Get("Message-ID") == "" {
		domain := "localhost"
		if b.from != nil && b.from.Domain != "" {
			domain = b.from.Domain
		} else if len(b.to) > 0 && b.to[0].Domain != "" {
			domain = b.to[0].Domain
		}
		b.msg.AddHeader("Message-ID", fmt.Sprintf("<%s@%s>", ulid.Make(), domain))
	}
	return b.msg, nil
}

// BuildRequest finalizes the message and wraps it in a submission request
// with a header-derived envelope.
func (b *MessageBuilder) BuildRequest() (*Request, error) {
	msg, err := b.Build()
	if err != nil {
		return nil, err
	}
	return NewRequest(msg), nil
}

func (b *MessageBuilder) headerAddresses(name string) []MailboxAddress {
	v := b.msg.Headers.Get(name)
	if v == "" {
		return nil
	}
	addrs, err := parseAddressList(v)
	if err != nil {
		return nil
	}
	return addrs
}

func (b *MessageBuilder) setAddressHeader(name string, addrs []MailboxAddress) {
	b.removeHeader(name)
	b.msg.AddHeader(name, formatAddressList(addrs))
}

func (b *MessageBuilder) removeHeader(name string) {
	kept := b.msg.Headers[:0]
	for _, h := range b.msg.Headers {
		if !utils.EqualFoldASCII(h.Name, name) {
			kept = append(kept, h)
		}
	}
	b.msg.Headers = kept
}

// formatAddress renders an address for use in a header, quoting or RFC
// 2047 encoding the display name as needed.
func formatAddress(addr MailboxAddress) string {
	email := addr.String()
	if addr.DisplayName == "" {
		return email
	}
	name := addr.DisplayName
	if utils.ContainsNonASCII(name) {
		name = encodeRFC2047(name)
	} else if strings.ContainsAny(name, `"(),.:;<>@[\]`) {
		name = `"` + strings.ReplaceAll(name, `"`, `\"`) + `"`
	}
	return name + " <" + email + ">"
}

// encodeRFC2047 encodes a header phrase as a Q-encoded word.
func encodeRFC2047(s string) string {
	return stdmime.QEncoding.Encode("utf-8", s)
}

func formatAddressList(addrs []MailboxAddress) string {
	formatted := make([]string, len(addrs))
	for i, a := range addrs {
		formatted[i] = formatAddress(a)
	}
	return strings.Join(formatted, ", ")
}
