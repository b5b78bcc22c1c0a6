package magpie

import (
	"bytes"
	"fmt"
	stdmime "mime"
	"strings"

	"github.com/synqronlabs/magpie/mime"
	"github.com/synqronlabs/magpie/utils"
)

// EncodingContext carries the server capabilities that shape how a message
// is serialized. It is produced by Session.EncodingContext after EHLO.
type EncodingContext struct {
	// SMTPUTF8 indicates the server accepts UTF-8 headers (RFC 6531).
	SMTPUTF8 bool
	// EightBitMIME indicates the server accepts 8-bit bodies (RFC 6152).
	EightBitMIME bool
	// MaxSize is the server's advertised SIZE limit in octets, 0 for
	// unlimited or unadvertised.
	MaxSize int64
}

// Encoded is a message serialized into SMTP wire form, ready to follow a
// DATA command. Data is CRLF-terminated and dot-stuffed but does not
// include the terminating "." line.
type Encoded struct {
	Data []byte
	// BodyType is the BODY parameter value for MAIL FROM.
	BodyType BodyType
	// SMTPUTF8 indicates the encoded form requires the SMTPUTF8
	// extension.
	SMTPUTF8 bool
}

// Size returns the encoded length in octets, for the SIZE parameter.
func (e *Encoded) Size() int64 {
	return int64(len(e.Data))
}

// mimeStructureHeaders are headers the encoder owns when it builds the
// MIME structure itself.
var mimeStructureHeaders = []string{"Content-Type", "Content-Transfer-Encoding", "MIME-Version"}

// Encode serializes a message for transmission under the given server
// capabilities. Header and body adaptations:
//
//   - Bcc headers are dropped.
//   - Non-ASCII unstructured header values are RFC 2047 encoded.
//   - Non-ASCII address headers require SMTPUTF8; without it encoding
//     fails rather than corrupting addresses.
//   - An 8-bit body is sent as 8BITMIME when the server allows it,
//     otherwise downgraded to quoted-printable.
//   - Attachments are serialized as a multipart/mixed structure.
//
// All line endings are normalized to CRLF and leading dots are stuffed per
// RFC 5321 Section 4.5.2.
func Encode(msg *Message, ctx EncodingContext) (*Encoded, error) {
	if msg == nil {
		return nil, &EncodingError{Reason: "nil message"}
	}

	var buf bytes.Buffer
	needsUTF8 := false
	ownStructure := len(msg.Attachments) > 0

	for _, hdr := range msg.Headers {
		if utils.EqualFoldASCII(hdr.Name, "Bcc") {
			continue
		}
		if ownStructure && isMIMEStructureHeader(hdr.Name) {
			continue
		}
		value := hdr.Value
		if utils.ContainsNonASCII(value) {
			if isAddressHeader(hdr.Name) {
				if !ctx.SMTPUTF8 {
					return nil, &EncodingError{
						Reason: fmt.Sprintf("non-ASCII %s header requires SMTPUTF8", hdr.Name),
					}
				}
				needsUTF8 = true
			} else {
				value = stdmime.QEncoding.Encode("utf-8", value)
			}
		}
		buf.WriteString(hdr.Name)
		buf.WriteString(": ")
		buf.WriteString(value)
		buf.WriteString("\r\n")
	}

	bodyType, err := writeBody(&buf, msg, ctx, ownStructure)
	if err != nil {
		return nil, err
	}

	data := dotStuff(normalizeLineEndings(buf.Bytes()))
	if ctx.MaxSize > 0 && int64(len(data)) > ctx.MaxSize {
		return nil, &EncodingError{
			Reason: fmt.Sprintf("encoded size %d exceeds server limit %d", len(data), ctx.MaxSize),
			Err:    ErrMessageTooLarge,
		}
	}
	return &Encoded{Data: data, BodyType: bodyType, SMTPUTF8: needsUTF8}, nil
}

// writeBody appends the body section (and MIME structure when the encoder
// owns it) to buf and returns the BODY parameter value.
func writeBody(buf *bytes.Buffer, msg *Message, ctx EncodingContext, ownStructure bool) (BodyType, error) {
	encoding, bodyType, err := effectiveEncoding(msg, ctx)
	if err != nil {
		return "", err
	}

	if ownStructure {
		boundary := "=_" + utils.GenerateID() + utils.GenerateID()
		buf.WriteString("MIME-Version: 1.0\r\n")
		fmt.Fprintf(buf, "Content-Type: multipart/mixed; boundary=%q\r\n", boundary)
		buf.WriteString("\r\n")

		bodyCT := bodyContentType(msg)
		charset := msg.Charset
		if strings.Contains(utils.LowerASCII(bodyCT), "charset=") {
			charset = ""
		}
		parts := make([]*mime.Part, 0, len(msg.Attachments)+1)
		parts = append(parts, &mime.Part{
			ContentType:             bodyCT,
			ContentTransferEncoding: encoding,
			Charset:                 charset,
			Body:                    msg.Body,
		})
		for _, att := range msg.Attachments {
			contentType := att.ContentType
			if contentType == "" {
				contentType = "application/octet-stream"
			}
			parts = append(parts, &mime.Part{
				ContentType:             contentType,
				ContentTransferEncoding: mime.EncodingBase64,
				Filename:                att.Filename,
				ContentID:               att.ContentID,
				Inline:                  att.Inline,
				Body:                    att.Data,
			})
		}
		if err := mime.WriteMultipart(buf, boundary, parts); err != nil {
			return "", &EncodingError{Reason: "write multipart body", Err: err}
		}
		return bodyType, nil
	}

	if msg.Headers.Get("Content-Type") == "" && (msg.Charset != "" || encoding != mime.Encoding7Bit) {
		buf.WriteString("MIME-Version: 1.0\r\n")
		fmt.Fprintf(buf, "Content-Type: %s\r\n", formatContentType(bodyContentType(msg), msg.Charset))
		fmt.Fprintf(buf, "Content-Transfer-Encoding: %s\r\n", encoding)
	}
	buf.WriteString("\r\n")

	body, err := mime.EncodeBody(msg.Body, encoding)
	if err != nil {
		return "", &EncodingError{Reason: "encode body", Err: err}
	}
	buf.Write(body)
	return bodyType, nil
}

// effectiveEncoding decides the transfer encoding for the main body,
// downgrading 8-bit content to quoted-printable when the server lacks
// 8BITMIME. Binary transfer encoding needs BINARYMIME over CHUNKING,
// which submission sessions never negotiate, so it is rejected.
func effectiveEncoding(msg *Message, ctx EncodingContext) (mime.ContentTransferEncoding, BodyType, error) {
	encoding := msg.Encoding
	if encoding == "" {
		encoding = mime.Encoding7Bit
	}
	switch encoding {
	case mime.EncodingBase64, mime.EncodingQuotedPrintable:
		return encoding, BodyType7Bit, nil
	case mime.EncodingBinary:
		return "", "", &EncodingError{
			Reason: "binary transfer encoding requires BINARYMIME, which is not negotiated",
		}
	}
	if mime.Is8Bit(msg.Body) {
		if ctx.EightBitMIME {
			return mime.Encoding8Bit, BodyType8BitMIME, nil
		}
		return mime.EncodingQuotedPrintable, BodyType7Bit, nil
	}
	return mime.Encoding7Bit, BodyType7Bit, nil
}

func bodyContentType(msg *Message) string {
	if ct := msg.Headers.Get("Content-Type"); ct != "" {
		return ct
	}
	return "text/plain"
}

func formatContentType(contentType, charset string) string {
	if charset == "" {
		return contentType
	}
	return fmt.Sprintf("%s; charset=%s", contentType, charset)
}

func isAddressHeader(name string) bool {
	for _, h := range addressHeaders {
		if utils.EqualFoldASCII(name, h) {
			return true
		}
	}
	return false
}

func isMIMEStructureHeader(name string) bool {
	for _, h := range mimeStructureHeaders {
		if utils.EqualFoldASCII(name, h) {
			return true
		}
	}
	return false
}

// normalizeLineEndings converts bare LF and bare CR line endings to CRLF
// and guarantees the data ends with CRLF.
func normalizeLineEndings(data []byte) []byte {
	out := make([]byte, 0, len(data)+2)
	for i := 0; i < len(data); i++ {
		switch data[i] {
		case '\r':
			out = append(out, '\r', '\n')
			if i+1 < len(data) && data[i+1] == '\n' {
				i++
			}
		case '\n':
			out = append(out, '\r', '\n')
		default:
			out = append(out, data[i])
		}
	}
	if len(out) < 2 || out[len(out)-2] != '\r' || out[len(out)-1] != '\n' {
		out = append(out, '\r', '\n')
	}
	return out
}

// dotStuff prepends a dot to lines starting with one, per RFC 5321
// Section 4.5.2. Input must already use CRLF line endings.
func dotStuff(data []byte) []byte {
	if !bytes.Contains(data, []byte("\r\n.")) && (len(data) == 0 || data[0] != '.') {
		return data
	}
	out := make([]byte, 0, len(data)+16)
	atLineStart := true
	for i := 0; i < len(data); i++ {
		if atLineStart && data[i] == '.' {
			out = append(out, '.')
		}
		out = append(out, data[i])
		atLineStart = data[i] == '\n'
	}
	return out
}
