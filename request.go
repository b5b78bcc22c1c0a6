package magpie

import (
	"fmt"

	"golang.org/x/net/idna"

	"github.com/synqronlabs/magpie/utils"
)

// Envelope holds the SMTP reverse-path and forward-paths for one message.
type Envelope struct {
	// From is the reverse-path sent in MAIL FROM. May be null for bounces.
	From Path `json:"from"`
	// To are the forward-paths sent in RCPT TO. Must be non-empty.
	To []Path `json:"to"`
	// SMTPUTF8 indicates the envelope carries addresses that need the
	// SMTPUTF8 extension.
	SMTPUTF8 bool `json:"smtputf8,omitempty"`
}

// NewEnvelope builds an explicit envelope from sender and recipient
// addresses, normalizing domains and detecting SMTPUTF8 need.
func NewEnvelope(from MailboxAddress, to []MailboxAddress) (*Envelope, error) {
	if len(to) == 0 {
		return nil, ErrNoRecipients
	}
	env := &Envelope{}

	sender, utf8, err := normalizeAddress(from)
	if err != nil {
		return nil, fmt.Errorf("sender %s: %w", from, err)
	}
	env.From = Path{Mailbox: sender}
	env.SMTPUTF8 = env.SMTPUTF8 || utf8

	seen := make(map[string]bool, len(to))
	for _, addr := range to {
		rcpt, utf8, err := normalizeAddress(addr)
		if err != nil {
			return nil, fmt.Errorf("recipient %s: %w", addr, err)
		}
		key := rcpt.LocalPart + "@" + utils.LowerASCII(rcpt.Domain)
		if seen[key] {
			continue
		}
		seen[key] = true
		env.To = append(env.To, Path{Mailbox: rcpt})
		env.SMTPUTF8 = env.SMTPUTF8 || utf8
	}
	return env, nil
}

// Request pairs a message with an optional explicit envelope. When the
// envelope is nil it is derived from the message headers at submission
// time.
type Request struct {
	// Message is the message to submit.
	Message *Message
	// Envelope overrides header-derived routing when non-nil.
	Envelope *Envelope
}

// NewRequest returns a request whose envelope will be derived from the
// message headers.
func NewRequest(msg *Message) *Request {
	return &Request{Message: msg}
}

// NewRequestWithEnvelope returns a request routed by an explicit envelope
// regardless of the message headers.
func NewRequestWithEnvelope(msg *Message, env *Envelope) *Request {
	return &Request{Message: msg, Envelope: env}
}

// Resolve produces the envelope used for submission. An explicit envelope
// is validated and returned as-is; otherwise the envelope is derived from
// the message headers:
//
//   - The reverse-path comes from the Sender header when present, else
//     from a single-address From header. A multi-address From without a
//     Sender is an error.
//   - The forward-paths are the union of To, Cc and Bcc addresses with
//     duplicates removed, keeping first-seen order.
//
// Domains are converted to A-label (punycode) form unless the address
// needs SMTPUTF8 anyway.
func (r *Request) Resolve() (*Envelope, error) {
	if r.Envelope != nil {
		if len(r.Envelope.To) == 0 {
			return nil, ErrNoRecipients
		}
		return r.Envelope, nil
	}
	if r.Message == nil {
		return nil, ErrNoSender
	}

	sender, err := deriveSender(r.Message.Headers)
	if err != nil {
		return nil, err
	}

	var recipients []MailboxAddress
	for _, name := range []string{"To", "Cc", "Bcc"} {
		for _, v := range r.Message.Headers.GetAll(name) {
			addrs, err := parseAddressList(v)
			if err != nil {
				return nil, fmt.Errorf("parse %s header: %w", name, err)
			}
			recipients = append(recipients, addrs...)
		}
	}
	if len(recipients) == 0 {
		return nil, ErrNoRecipients
	}

	return NewEnvelope(sender, recipients)
}

// deriveSender picks the envelope sender from the Sender or From headers.
func deriveSender(headers Headers) (MailboxAddress, error) {
	if v := headers.Get("Sender"); v != "" {
		addr, err := ParseAddress(v)
		if err != nil {
			return MailboxAddress{}, fmt.Errorf("parse Sender header: %w", err)
		}
		return addr, nil
	}

	from := headers.Get("From")
	if from == "" {
		return MailboxAddress{}, ErrNoSender
	}
	addrs, err := parseAddressList(from)
	if err != nil {
		return MailboxAddress{}, fmt.Errorf("parse From header: %w", err)
	}
	switch len(addrs) {
	case 0:
		return MailboxAddress{}, ErrNoSender
	case 1:
		return addrs[0], nil
	default:
		return MailboxAddress{}, ErrAmbiguousSender
	}
}

// normalizeAddress prepares an address for the wire: when the local part
// is ASCII the domain is converted to its A-label form so the address can
// travel without SMTPUTF8. A non-ASCII local part forces SMTPUTF8 and the
// domain is kept in U-label form.
func normalizeAddress(addr MailboxAddress) (MailboxAddress, bool, error) {
	if addr.LocalPart == "" && addr.Domain == "" {
		return addr, false, nil
	}
	if addr.NeedsSMTPUTF8() {
		return addr, true, nil
	}
	if utils.ContainsNonASCII(addr.Domain) {
		ascii, err := idna.Lookup.ToASCII(addr.Domain)
		if err != nil {
			return addr, false, fmt.Errorf("punycode domain %q: %w", addr.Domain, err)
		}
		addr.Domain = ascii
	}
	return addr, false, nil
}
