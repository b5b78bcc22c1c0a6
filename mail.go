package magpie

import (
	"net/mail"

	"github.com/synqronlabs/magpie/mime"
	"github.com/synqronlabs/magpie/utils"
)

// BodyType specifies the encoding type of the message body per RFC 6152.
type BodyType string

const (
	// BodyType7Bit indicates a 7-bit ASCII message body (RFC 5321 compliant).
	BodyType7Bit BodyType = "7BIT"
	// BodyType8BitMIME indicates an 8-bit MIME message body (RFC 6152).
	BodyType8BitMIME BodyType = "8BITMIME"
)

// MailboxAddress represents an email address as per RFC 5321 Section 4.1.2.
// It supports both ASCII addresses (RFC 5321) and internationalized
// addresses (RFC 6531).
type MailboxAddress struct {
	// LocalPart is the portion before the @ sign.
	// May contain UTF-8 characters if SMTPUTF8 extension is used.
	LocalPart string `json:"local_part"`

	// Domain is the portion after the @ sign.
	// May be an internationalized domain name (IDN) in U-label or A-label form.
	Domain string `json:"domain"`

	// DisplayName is an optional human-readable name associated with the address.
	DisplayName string `json:"display_name,omitempty"`
}

// String returns the address in the standard "local-part@domain" format.
func (m MailboxAddress) String() string {
	if m.LocalPart == "" && m.Domain == "" {
		return ""
	}
	return m.LocalPart + "@" + m.Domain
}

// NeedsSMTPUTF8 reports whether transmitting this address requires the
// SMTPUTF8 extension (non-ASCII local part; a non-ASCII domain alone can
// be A-label encoded instead).
func (m MailboxAddress) NeedsSMTPUTF8() bool {
	return utils.ContainsNonASCII(m.LocalPart)
}

// Path represents an SMTP forward-path or reverse-path as per RFC 5321
// Section 4.1.2.
type Path struct {
	// Mailbox is the actual email address.
	Mailbox MailboxAddress `json:"mailbox"`
}

// IsNull returns true if this is a null reverse-path (empty sender).
// Null reverse-paths are used for bounce messages per RFC 5321 Section 4.5.5.
func (p Path) IsNull() bool {
	return p.Mailbox.LocalPart == "" && p.Mailbox.Domain == ""
}

// String returns the path in angle bracket format as used in SMTP commands.
func (p Path) String() string {
	if p.IsNull() {
		return "<>"
	}
	return "<" + p.Mailbox.String() + ">"
}

// Header represents a message header field as per RFC 5322.
type Header struct {
	// Name is the header field name (e.g., "From", "Subject").
	Name string `json:"name"`
	// Value is the header field value.
	Value string `json:"value"`
}

// Headers is a collection of message headers with helper methods.
type Headers []Header

// Get returns the first header value with the given name (case-insensitive).
func (h Headers) Get(name string) string {
	for _, hdr := range h {
		if utils.EqualFoldASCII(hdr.Name, name) {
			return hdr.Value
		}
	}
	return ""
}

// GetAll returns all header values with the given name (case-insensitive).
func (h Headers) GetAll(name string) []string {
	var values []string
	for _, hdr := range h {
		if utils.EqualFoldASCII(hdr.Name, name) {
			values = append(values, hdr.Value)
		}
	}
	return values
}

// Attachment represents a file attached to a message.
type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Data        []byte `json:"data,omitempty"`
	Inline      bool   `json:"inline,omitempty"`
	ContentID   string `json:"content_id,omitempty"` // for inline attachments
}

// Message is a structured mail object: the header section, body and
// attachments that follow the DATA command. The SMTP envelope is not part
// of the message; it is derived from the headers (or overridden) when the
// message is submitted. See Request.
type Message struct {
	// Headers contains all message header fields per RFC 5322.
	Headers Headers `json:"headers"`

	// Body is the decoded message body.
	Body []byte `json:"body,omitempty"`

	// Encoding indicates how the body is to be transferred per RFC 2045.
	// Empty means 7bit.
	Encoding mime.ContentTransferEncoding `json:"encoding,omitempty"`

	// Charset is the character set of the message body.
	Charset string `json:"charset,omitempty"`

	// Attachments are serialized as additional multipart/mixed parts.
	Attachments []Attachment `json:"attachments,omitempty"`
}

// AddHeader appends a header field to the message.
func (m *Message) AddHeader(name, value string) {
	m.Headers = append(m.Headers, Header{Name: name, Value: value})
}

// RequiresSMTPUTF8 reports whether the message headers contain non-ASCII
// address content that cannot be downgraded (RFC 6531).
func (m *Message) RequiresSMTPUTF8() bool {
	for _, name := range addressHeaders {
		for _, v := range m.Headers.GetAll(name) {
			if utils.ContainsNonASCII(v) {
				return true
			}
		}
	}
	return false
}

// Requires8BitMIME reports whether the message body carries 8-bit data
// under an identity transfer encoding (RFC 6152).
func (m *Message) Requires8BitMIME() bool {
	if m.Encoding == mime.EncodingBase64 || m.Encoding == mime.EncodingQuotedPrintable {
		return false
	}
	return mime.Is8Bit(m.Body)
}

// addressHeaders lists the header fields holding addresses; their values
// cannot be RFC 2047 encoded.
var addressHeaders = []string{"From", "Sender", "Reply-To", "To", "Cc", "Bcc"}

// ParseAddress parses an email address string into a MailboxAddress.
// Supports both simple "user@domain" and RFC 5322 formatted addresses.
func ParseAddress(addr string) (MailboxAddress, error) {
	parsed, err := mail.ParseAddress(addr)
	if err != nil {
		return MailboxAddress{}, err
	}
	return splitAddress(parsed), nil
}

// parseAddressList parses a comma-separated RFC 5322 address list.
func parseAddressList(list string) ([]MailboxAddress, error) {
	parsed, err := mail.ParseAddressList(list)
	if err != nil {
		return nil, err
	}
	addrs := make([]MailboxAddress, 0, len(parsed))
	for _, p := range parsed {
		addrs = append(addrs, splitAddress(p))
	}
	return addrs, nil
}

// splitAddress converts a parsed net/mail address into a MailboxAddress,
// splitting at the last @ so quoted local parts keep embedded @ signs.
func splitAddress(parsed *mail.Address) MailboxAddress {
	address := parsed.Address
	var local, domain string
	for i := len(address) - 1; i >= 0; i-- {
		if address[i] == '@' {
			local = address[:i]
			domain = address[i+1:]
			break
		}
	}
	return MailboxAddress{
		LocalPart:   local,
		Domain:      domain,
		DisplayName: parsed.Name,
	}
}
