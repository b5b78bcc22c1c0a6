package magpie

import (
	"context"
	"fmt"
	"maps"
	"strconv"
	"strings"
)

// ServerCapabilities is a digest of what a server advertised in its EHLO
// response.
type ServerCapabilities struct {
	IsESMTP             bool
	Greeting            string
	TLS                 bool
	Extensions          map[Extension]string
	Auth                []string
	MaxSize             int64
	Pipelining          bool
	EightBitMIME        bool
	SMTPUTF8            bool
	StartTLS            bool
	DSN                 bool
	Chunking            bool
	EnhancedStatusCodes bool
}

// HasExtension checks if a specific extension is supported.
func (s *ServerCapabilities) HasExtension(ext Extension) bool {
	_, ok := s.Extensions[ext]
	return ok
}

// SupportsAuth checks if a specific SASL mechanism is offered.
func (s *ServerCapabilities) SupportsAuth(mechanism string) bool {
	for _, m := range s.Auth {
		if strings.EqualFold(m, mechanism) {
			return true
		}
	}
	return false
}

// String returns a human-readable summary.
func (s *ServerCapabilities) String() string {
	var sb strings.Builder
	sb.WriteString("Server Capabilities:\n")
	fmt.Fprintf(&sb, "  ESMTP: %v\n", s.IsESMTP)
	fmt.Fprintf(&sb, "  TLS: %v\n", s.TLS)
	if s.MaxSize > 0 {
		fmt.Fprintf(&sb, "  Max Size: %d bytes\n", s.MaxSize)
	}
	sb.WriteString("  Extensions:\n")
	for ext, param := range s.Extensions {
		if param != "" {
			fmt.Fprintf(&sb, "    - %s %s\n", ext, param)
		} else {
			fmt.Fprintf(&sb, "    - %s\n", ext)
		}
	}
	if len(s.Auth) > 0 {
		fmt.Fprintf(&sb, "  Auth Mechanisms: %s\n", strings.Join(s.Auth, ", "))
	}
	return sb.String()
}

// Capabilities returns a digest of the capabilities negotiated for this
// session.
func (s *Session) Capabilities() *ServerCapabilities {
	s.mu.Lock()
	defer s.mu.Unlock()

	caps := &ServerCapabilities{
		IsESMTP:    s.isESMTP,
		Greeting:   s.greeting,
		TLS:        s.isTLS,
		Extensions: make(map[Extension]string, len(s.extensions)),
	}
	maps.Copy(caps.Extensions, s.extensions)

	if params, ok := s.extensions[ExtAuth]; ok {
		caps.Auth = strings.Fields(params)
	}
	if params, ok := s.extensions[ExtSize]; ok && params != "" {
		caps.MaxSize, _ = strconv.ParseInt(params, 10, 64)
	}
	_, caps.Pipelining = s.extensions[ExtPipelining]
	_, caps.EightBitMIME = s.extensions[Ext8BitMIME]
	_, caps.SMTPUTF8 = s.extensions[ExtSMTPUTF8]
	_, caps.StartTLS = s.extensions[ExtSTARTTLS]
	_, caps.DSN = s.extensions[ExtDSN]
	_, caps.Chunking = s.extensions[ExtChunking]
	_, caps.EnhancedStatusCodes = s.extensions[ExtEnhancedStatusCodes]
	return caps
}

// Probe connects to a server, negotiates the handshake and returns its
// capability digest without submitting anything. The session is closed
// with QUIT before returning.
func Probe(ctx context.Context, config Config) (*ServerCapabilities, error) {
	session, err := Open(ctx, config)
	if err != nil {
		return nil, err
	}
	caps := session.Capabilities()
	session.Quit()
	return caps, nil
}
