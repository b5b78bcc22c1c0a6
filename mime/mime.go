// Package mime provides MIME part assembly and transfer encoding for
// outgoing messages (RFC 2045, RFC 2046).
package mime

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"mime/quotedprintable"
	"strings"
)

// ContentTransferEncoding represents the encoding used for a MIME part's body.
type ContentTransferEncoding string

const (
	// Encoding7Bit is for 7-bit ASCII data (RFC 2045 default).
	Encoding7Bit ContentTransferEncoding = "7bit"
	// Encoding8Bit is for 8-bit data (requires 8BITMIME).
	Encoding8Bit ContentTransferEncoding = "8bit"
	// EncodingBinary is for binary data (requires BINARYMIME/CHUNKING).
	EncodingBinary ContentTransferEncoding = "binary"
	// EncodingQuotedPrintable is for quoted-printable encoding.
	EncodingQuotedPrintable ContentTransferEncoding = "quoted-printable"
	// EncodingBase64 is for base64 encoding.
	EncodingBase64 ContentTransferEncoding = "base64"
)

// Part represents an outgoing MIME body part.
type Part struct {
	ContentType             string
	ContentTransferEncoding ContentTransferEncoding
	Charset                 string
	Filename                string
	ContentID               string
	Inline                  bool
	Body                    []byte
}

// WriteTo serializes the part's headers and encoded body into buf.
func (p *Part) WriteTo(buf *bytes.Buffer) error {
	if p.ContentType != "" {
		buf.WriteString("Content-Type: ")
		buf.WriteString(p.ContentType)
		if p.Charset != "" && strings.HasPrefix(p.ContentType, "text/") {
			buf.WriteString("; charset=\"")
			buf.WriteString(p.Charset)
			buf.WriteString("\"")
		}
		if p.Filename != "" {
			buf.WriteString("; name=\"")
			buf.WriteString(p.Filename)
			buf.WriteString("\"")
		}
		buf.WriteString("\r\n")
	}

	if p.Filename != "" {
		disposition := "attachment"
		if p.Inline {
			disposition = "inline"
		}
		buf.WriteString("Content-Disposition: ")
		buf.WriteString(disposition)
		buf.WriteString("; filename=\"")
		buf.WriteString(p.Filename)
		buf.WriteString("\"\r\n")
	}

	if p.ContentTransferEncoding != "" {
		buf.WriteString("Content-Transfer-Encoding: ")
		buf.WriteString(string(p.ContentTransferEncoding))
		buf.WriteString("\r\n")
	}

	if p.ContentID != "" {
		buf.WriteString("Content-ID: <")
		buf.WriteString(p.ContentID)
		buf.WriteString(">\r\n")
	}

	buf.WriteString("\r\n")

	body, err := EncodeBody(p.Body, p.ContentTransferEncoding)
	if err != nil {
		return err
	}
	buf.Write(body)
	if !bytes.HasSuffix(body, []byte("\r\n")) {
		buf.WriteString("\r\n")
	}
	return nil
}

// WriteMultipart serializes parts into a multipart body with the given
// boundary. The caller is responsible for emitting the enclosing
// Content-Type header carrying the boundary parameter.
func WriteMultipart(buf *bytes.Buffer, boundary string, parts []*Part) error {
	for _, part := range parts {
		buf.WriteString("--")
		buf.WriteString(boundary)
		buf.WriteString("\r\n")
		if err := part.WriteTo(buf); err != nil {
			return err
		}
	}
	buf.WriteString("--")
	buf.WriteString(boundary)
	buf.WriteString("--\r\n")
	return nil
}

// EncodeBody applies the content transfer encoding to raw body bytes.
// 7bit, 8bit and binary pass through unchanged.
func EncodeBody(body []byte, encoding ContentTransferEncoding) ([]byte, error) {
	switch encoding {
	case "", Encoding7Bit, Encoding8Bit, EncodingBinary:
		return body, nil
	case EncodingBase64:
		return WrapBase64(body), nil
	case EncodingQuotedPrintable:
		return EncodeQuotedPrintable(body)
	default:
		return nil, fmt.Errorf("mime: unsupported transfer encoding %q", encoding)
	}
}

// WrapBase64 base64-encodes data with RFC 2045 line wrapping (76 columns).
func WrapBase64(data []byte) []byte {
	encoded := base64.StdEncoding.EncodeToString(data)

	const lineLen = 76
	var buf bytes.Buffer
	buf.Grow(len(encoded) + 2*(len(encoded)/lineLen+1))
	for len(encoded) > lineLen {
		buf.WriteString(encoded[:lineLen])
		buf.WriteString("\r\n")
		encoded = encoded[lineLen:]
	}
	buf.WriteString(encoded)
	buf.WriteString("\r\n")
	return buf.Bytes()
}

// EncodeQuotedPrintable encodes data as quoted-printable (RFC 2045).
func EncodeQuotedPrintable(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := quotedprintable.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Is8Bit reports whether body contains octets outside US-ASCII.
func Is8Bit(body []byte) bool {
	for _, b := range body {
		if b > 127 {
			return true
		}
	}
	return false
}
