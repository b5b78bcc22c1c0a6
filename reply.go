package magpie

import (
	"bufio"
	"fmt"
	"strings"

	smtpio "github.com/synqronlabs/magpie/io"
)

// maxReplyLineLength is the longest reply line accepted from a server.
// RFC 5321 limits reply lines to 512 octets but some servers exceed it;
// the cap guards against unbounded reads from a misbehaving peer.
const maxReplyLineLength = 2048

// maxReplyLines bounds a multiline reply.
const maxReplyLines = 100

// Reply is a parsed SMTP server reply, possibly multiline.
type Reply struct {
	// Code is the three-digit reply code of the final line.
	Code int
	// EnhancedCode is the RFC 3463 enhanced status code stripped from the
	// reply text, empty if absent.
	EnhancedCode string
	// Lines holds the text of each reply line, codes and enhanced codes
	// removed.
	Lines []string
}

// Message joins the reply lines into a single string.
func (r *Reply) Message() string {
	return strings.Join(r.Lines, "\n")
}

// Positive reports whether the reply indicates success (2xx).
func (r *Reply) Positive() bool {
	return r.Code >= 200 && r.Code < 300
}

// Intermediate reports whether the reply asks for more input (3xx).
func (r *Reply) Intermediate() bool {
	return r.Code >= 300 && r.Code < 400
}

// Err converts a non-success reply to an *SMTPError, or nil for 2xx/3xx.
func (r *Reply) Err() error {
	if r.Code < 400 {
		return nil
	}
	return &SMTPError{Code: r.Code, EnhancedCode: r.EnhancedCode, Message: r.Message()}
}

// readReply reads one complete (possibly multiline) reply from the server.
func readReply(reader *bufio.Reader) (*Reply, error) {
	reply := &Reply{}
	for i := 0; i < maxReplyLines; i++ {
		line, err := smtpio.ReadLine(reader, maxReplyLineLength)
		if err != nil {
			return nil, err
		}

		code, more, text, err := parseReplyLine(line)
		if err != nil {
			return nil, err
		}
		if reply.Code != 0 && code != reply.Code {
			return nil, fmt.Errorf("inconsistent reply codes %d and %d", reply.Code, code)
		}
		reply.Code = code

		enhanced, rest := parseEnhancedCode(code, text)
		if reply.EnhancedCode == "" {
			reply.EnhancedCode = enhanced
		}
		reply.Lines = append(reply.Lines, rest)

		if !more {
			return reply, nil
		}
	}
	return nil, fmt.Errorf("reply exceeds %d lines", maxReplyLines)
}

// parseReplyLine splits a reply line into its code, the continuation flag
// and the remaining text.
func parseReplyLine(line string) (code int, more bool, text string, err error) {
	if len(line) < 3 {
		return 0, false, "", fmt.Errorf("short reply line %q", line)
	}
	for i := 0; i < 3; i++ {
		if line[i] < '0' || line[i] > '9' {
			return 0, false, "", fmt.Errorf("malformed reply line %q", line)
		}
		code = code*10 + int(line[i]-'0')
	}
	if code < 200 || code > 599 {
		return 0, false, "", fmt.Errorf("reply code %d out of range", code)
	}
	if len(line) == 3 {
		return code, false, "", nil
	}
	switch line[3] {
	case ' ':
		return code, false, line[4:], nil
	case '-':
		return code, true, line[4:], nil
	default:
		return 0, false, "", fmt.Errorf("malformed reply line %q", line)
	}
}

// parseEnhancedCode strips a leading RFC 3463 enhanced status code from the
// reply text. The enhanced code's class digit must match the reply code's
// first digit, and enhanced codes only accompany 2xx, 4xx and 5xx replies.
func parseEnhancedCode(code int, text string) (enhanced, rest string) {
	class := code / 100
	if class != 2 && class != 4 && class != 5 {
		return "", text
	}

	end := strings.IndexByte(text, ' ')
	if end < 0 {
		end = len(text)
	}
	candidate := text[:end]

	parts := strings.Split(candidate, ".")
	if len(parts) != 3 {
		return "", text
	}
	for _, p := range parts {
		if p == "" || len(p) > 3 {
			return "", text
		}
		for i := 0; i < len(p); i++ {
			if p[i] < '0' || p[i] > '9' {
				return "", text
			}
		}
	}
	if parts[0] != fmt.Sprintf("%d", class) {
		return "", text
	}
	if end < len(text) {
		return candidate, text[end+1:]
	}
	return candidate, ""
}
