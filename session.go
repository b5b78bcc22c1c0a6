package magpie

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/synqronlabs/magpie/sasl"
)

// Extension represents an SMTP service extension advertised in the EHLO
// response.
type Extension string

const (
	Ext8BitMIME            Extension = "8BITMIME"
	ExtPipelining          Extension = "PIPELINING"
	ExtSMTPUTF8            Extension = "SMTPUTF8"
	ExtSTARTTLS            Extension = "STARTTLS"
	ExtSize                Extension = "SIZE"
	ExtDSN                 Extension = "DSN"
	ExtAuth                Extension = "AUTH"
	ExtChunking            Extension = "CHUNKING"
	ExtEnhancedStatusCodes Extension = "ENHANCEDSTATUSCODES"
)

type sessionState int

const (
	stateUnconnected sessionState = iota
	stateReady
	stateClosed
	stateFailed
)

// Session is an established mail submission session: connected, greeted,
// EHLO exchanged, TLS and authentication negotiated per the config. A
// session submits transactions sequentially and is safe for concurrent
// use, though submissions serialize on the single connection.
//
// After a method returns a *SessionError the connection is no longer
// usable and only Close may be called.
type Session struct {
	config Config
	log    *slog.Logger

	mu            sync.Mutex
	conn          net.Conn
	reader        *bufio.Reader
	writer        *bufio.Writer
	state         sessionState
	isTLS         bool
	isESMTP       bool
	authenticated bool
	extensions    map[Extension]string
	greeting      string
}

// Open connects to the configured server and performs the session
// handshake: greeting, EHLO (with HELO fallback), STARTTLS when the
// security mode calls for it, and SASL authentication when credentials
// are configured. On error the connection is closed and a *SessionError
// identifies the stage that failed.
func Open(ctx context.Context, config Config) (*Session, error) {
	config = config.withDefaults()

	s := &Session{
		config:     config,
		log:        config.Logger.With(slog.String("server", config.Address())),
		extensions: make(map[Extension]string),
	}

	if err := s.connect(ctx); err != nil {
		return nil, sessionErr(StageConnect, err)
	}

	if err := s.handshake(ctx); err != nil {
		s.conn.Close()
		return nil, err
	}
	s.state = stateReady

	s.log.Debug("session established",
		slog.Bool("tls", s.isTLS),
		slog.Bool("authenticated", s.authenticated),
		slog.Int("extensions", len(s.extensions)))
	return s, nil
}

// connect resolves the host and establishes the TCP (or implicit TLS)
// connection, then reads the server greeting.
func (s *Session) connect(ctx context.Context) error {
	target, err := s.resolveTarget(ctx)
	if err != nil {
		return err
	}

	dialer := &net.Dialer{Timeout: s.config.ConnectTimeout}
	var conn net.Conn
	if s.config.Security == SecurityTLS {
		tlsDialer := &tls.Dialer{NetDialer: dialer, Config: s.config.tlsConfig()}
		conn, err = tlsDialer.DialContext(ctx, "tcp", target)
		s.isTLS = true
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", target)
	}
	if err != nil {
		return fmt.Errorf("dial %s: %w", target, err)
	}

	s.conn = conn
	s.reader = bufio.NewReader(conn)
	s.writer = bufio.NewWriter(conn)

	reply, err := s.readReply()
	if err != nil {
		conn.Close()
		return fmt.Errorf("read greeting: %w", err)
	}
	if reply.Code != 220 {
		conn.Close()
		return sessionErr(StageGreeting, reply.Err())
	}
	s.greeting = reply.Message()
	return nil
}

// resolveTarget resolves the configured host to a dialable address. IP
// literals and the system resolver path skip the explicit lookup.
func (s *Session) resolveTarget(ctx context.Context) (string, error) {
	if net.ParseIP(s.config.Host) != nil {
		return s.config.Address(), nil
	}
	ips, err := s.config.Resolver.LookupIP(ctx, s.config.Host)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", s.config.Host, err)
	}
	if len(ips) == 0 {
		return "", fmt.Errorf("resolve %s: no addresses", s.config.Host)
	}
	return net.JoinHostPort(ips[0].String(), strconv.Itoa(s.config.Port)), nil
}

// handshake runs EHLO, STARTTLS and AUTH according to the config.
func (s *Session) handshake(ctx context.Context) error {
	if err := s.hello(); err != nil {
		return sessionErr(StageHello, err)
	}

	switch s.config.Security {
	case SecurityStartTLS, SecurityStartTLSRequired:
		_, offered := s.extensions[ExtSTARTTLS]
		if !offered {
			if s.config.Security == SecurityStartTLSRequired {
				return sessionErr(StageStartTLS, ErrTLSNotSupported)
			}
			break
		}
		if err := s.startTLS(); err != nil {
			return sessionErr(StageStartTLS, err)
		}
		// Capabilities must be re-learned on the encrypted channel.
		if err := s.hello(); err != nil {
			return sessionErr(StageHello, err)
		}
	}

	if s.config.Auth != nil {
		if err := s.authenticate(); err != nil {
			return sessionErr(StageAuth, err)
		}
	}
	return nil
}

// hello sends EHLO and falls back to HELO for pre-ESMTP servers.
func (s *Session) hello() error {
	if err := s.writeCommand("EHLO %s", s.config.LocalName); err != nil {
		return err
	}
	reply, err := s.readReply()
	if err != nil {
		return err
	}
	if reply.Positive() {
		s.isESMTP = true
		s.parseExtensions(reply.Lines)
		return nil
	}

	if err := s.writeCommand("HELO %s", s.config.LocalName); err != nil {
		return err
	}
	reply, err = s.readReply()
	if err != nil {
		return err
	}
	if !reply.Positive() {
		return reply.Err()
	}
	s.isESMTP = false
	s.extensions = make(map[Extension]string)
	return nil
}

// parseExtensions parses EHLO response lines into the extension map. The
// first line is the server's greeting text, not an extension.
func (s *Session) parseExtensions(lines []string) {
	s.extensions = make(map[Extension]string)
	for _, line := range lines[1:] {
		name, params, _ := strings.Cut(line, " ")
		s.extensions[Extension(strings.ToUpper(name))] = params
	}
}

// startTLS upgrades the connection and resets capability state.
func (s *Session) startTLS() error {
	if s.isTLS {
		return ErrTLSAlreadyActive
	}
	if err := s.writeCommand("STARTTLS"); err != nil {
		return err
	}
	reply, err := s.readReply()
	if err != nil {
		return err
	}
	if !reply.Positive() {
		return reply.Err()
	}

	tlsConn := tls.Client(s.conn, s.config.tlsConfig())
	if err := tlsConn.HandshakeContext(context.Background()); err != nil {
		return fmt.Errorf("TLS handshake: %w", err)
	}
	s.conn = tlsConn
	s.reader = bufio.NewReader(tlsConn)
	s.writer = bufio.NewWriter(tlsConn)
	s.isTLS = true
	s.extensions = make(map[Extension]string)
	return nil
}

// authenticate negotiates SASL authentication with the configured
// credentials.
func (s *Session) authenticate() error {
	auth := s.config.Auth
	advertised, ok := s.extensions[ExtAuth]
	if !ok {
		return ErrNoAuthMechanism
	}
	serverMechs := strings.Fields(advertised)

	name := selectMechanism(auth.Mechanisms, serverMechs)
	if name == "" {
		return ErrNoAuthMechanism
	}

	mech, err := sasl.New(name, auth.Username, auth.Password)
	if err != nil {
		return err
	}

	initial, err := mech.Start()
	if err != nil {
		return err
	}
	if initial != nil {
		err = s.writeCommand("AUTH %s %s", mech.Name(), base64Encode(initial))
	} else {
		err = s.writeCommand("AUTH %s", mech.Name())
	}
	if err != nil {
		return err
	}

	for {
		reply, err := s.readReply()
		if err != nil {
			return err
		}
		switch {
		case reply.Positive():
			s.authenticated = true
			return nil
		case reply.Code == 334:
			challenge, err := base64Decode(strings.TrimSpace(reply.Message()))
			if err != nil {
				return fmt.Errorf("malformed challenge: %w", err)
			}
			response, err := mech.Next(challenge)
			if err != nil {
				// Abort the exchange per RFC 4954.
				s.writeCommand("*")
				s.readReply()
				return err
			}
			if err := s.writeCommand("%s", base64Encode(response)); err != nil {
				return err
			}
		default:
			return fmt.Errorf("%w: %v", ErrAuthFailed, reply.Err())
		}
	}
}

// selectMechanism picks the SASL mechanism to use, honoring the client's
// preference order when given.
func selectMechanism(preferred, server []string) string {
	if len(preferred) == 0 {
		preferred = []string{"PLAIN", "LOGIN"}
	}
	for _, p := range preferred {
		for _, srv := range server {
			if strings.EqualFold(p, srv) {
				return strings.ToUpper(p)
			}
		}
	}
	return ""
}

// Extensions returns a copy of the server's advertised extension map.
func (s *Session) Extensions() map[Extension]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[Extension]string, len(s.extensions))
	for k, v := range s.extensions {
		out[k] = v
	}
	return out
}

// Supports reports whether the server advertises the given extension and
// returns its parameter string.
func (s *Session) Supports(ext Extension) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	params, ok := s.extensions[ext]
	return params, ok
}

// MaxSize returns the server's advertised SIZE limit in octets, or 0 when
// unadvertised or unlimited.
func (s *Session) MaxSize() int64 {
	if params, ok := s.Supports(ExtSize); ok && params != "" {
		if size, err := strconv.ParseInt(params, 10, 64); err == nil {
			return size
		}
	}
	return 0
}

// Greeting returns the text of the server's 220 greeting.
func (s *Session) Greeting() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.greeting
}

// TLS reports whether the connection is encrypted.
func (s *Session) TLS() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isTLS
}

// Authenticated reports whether SASL authentication completed.
func (s *Session) Authenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authenticated
}

// EncodingContext returns the capability set messages must be encoded
// against for this session.
func (s *Session) EncodingContext() EncodingContext {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, utf8 := s.extensions[ExtSMTPUTF8]
	_, eightBit := s.extensions[Ext8BitMIME]

	var maxSize int64
	if params, ok := s.extensions[ExtSize]; ok && params != "" {
		maxSize, _ = strconv.ParseInt(params, 10, 64)
	}
	return EncodingContext{SMTPUTF8: utf8, EightBitMIME: eightBit, MaxSize: maxSize}
}

// Submit offers one message to the server: MAIL FROM, RCPT TO per
// recipient, DATA, content. The returned outcome records acceptance or
// rejection per recipient and overall.
//
// The error return is non-nil only for session-fatal faults (I/O errors,
// protocol desync); server rejections of the message are reported inside
// the outcome and leave the session usable for the next submission.
func (s *Session) Submit(env *Envelope, enc *Encoded) (*Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != stateReady {
		return nil, ErrSessionClosed
	}
	outcome, err := s.submit(env, enc)
	if err != nil {
		s.state = stateFailed
		s.conn.Close()
		return nil, sessionErr(StageSubmit, err)
	}
	return outcome, nil
}

func (s *Session) submit(env *Envelope, enc *Encoded) (*Outcome, error) {
	start := time.Now()
	outcome := &Outcome{}

	needsUTF8 := env.SMTPUTF8 || enc.SMTPUTF8
	if needsUTF8 {
		if _, ok := s.extensions[ExtSMTPUTF8]; !ok {
			outcome.Err = ErrSMTPUTF8NotSupported
			outcome.Duration = time.Since(start)
			return outcome, nil
		}
	}

	if err := s.mailFrom(env, enc, needsUTF8); err != nil {
		if fatal(err) {
			return nil, err
		}
		s.log.Debug("sender rejected", slog.String("from", env.From.String()), slog.Any("error", err))
		outcome.Err = err
		outcome.Duration = time.Since(start)
		return outcome, nil
	}

	accepted := 0
	for _, rcpt := range env.To {
		status, err := s.rcptTo(rcpt)
		if err != nil {
			return nil, err
		}
		outcome.Recipients = append(outcome.Recipients, status)
		if status.Accepted {
			accepted++
		}
	}

	if accepted == 0 {
		if err := s.reset(); err != nil {
			return nil, err
		}
		outcome.Err = fmt.Errorf("all %d recipients rejected", len(env.To))
		outcome.Duration = time.Since(start)
		return outcome, nil
	}

	reply, err := s.data(enc.Data)
	if err != nil {
		if fatal(err) {
			return nil, err
		}
		outcome.Err = err
		outcome.Duration = time.Since(start)
		return outcome, nil
	}

	outcome.Accepted = true
	outcome.QueueID = extractQueueID(reply.Message())
	outcome.Duration = time.Since(start)
	s.log.Debug("message accepted",
		slog.String("queue_id", outcome.QueueID),
		slog.Int("recipients", accepted),
		slog.Duration("duration", outcome.Duration))
	return outcome, nil
}

// mailFrom sends MAIL FROM with the extension parameters the server
// supports.
func (s *Session) mailFrom(env *Envelope, enc *Encoded, utf8 bool) error {
	var params []string
	if _, ok := s.extensions[ExtSize]; ok && enc.Size() > 0 {
		params = append(params, fmt.Sprintf("SIZE=%d", enc.Size()))
	}
	if enc.BodyType == BodyType8BitMIME {
		if _, ok := s.extensions[Ext8BitMIME]; ok {
			params = append(params, "BODY=8BITMIME")
		}
	}
	if utf8 {
		params = append(params, "SMTPUTF8")
	}

	cmd := "MAIL FROM:" + env.From.String()
	if len(params) > 0 {
		cmd += " " + strings.Join(params, " ")
	}
	if err := s.writeCommand("%s", cmd); err != nil {
		return err
	}
	reply, err := s.readReply()
	if err != nil {
		return err
	}
	return reply.Err()
}

// rcptTo sends one RCPT TO and records the server's verdict. The error
// return is non-nil only for I/O faults.
func (s *Session) rcptTo(rcpt Path) (RecipientStatus, error) {
	status := RecipientStatus{Address: rcpt.Mailbox.String()}
	if err := s.writeCommand("RCPT TO:%s", rcpt.String()); err != nil {
		return status, err
	}
	reply, err := s.readReply()
	if err != nil {
		return status, err
	}
	status.Code = reply.Code
	status.EnhancedCode = reply.EnhancedCode
	status.Message = reply.Message()
	status.Accepted = reply.Positive()
	if !status.Accepted {
		s.log.Debug("recipient rejected",
			slog.String("recipient", status.Address),
			slog.Int("code", reply.Code))
	}
	return status, nil
}

// data runs the DATA phase with the already dot-stuffed content.
func (s *Session) data(content []byte) (*Reply, error) {
	if err := s.writeCommand("DATA"); err != nil {
		return nil, err
	}
	reply, err := s.readReply()
	if err != nil {
		return nil, err
	}
	if !reply.Intermediate() {
		if err := reply.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: expected 354, got %d", ErrUnexpectedResponse, reply.Code)
	}

	if s.config.WriteTimeout > 0 {
		s.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
	}
	if _, err := s.writer.Write(content); err != nil {
		return nil, err
	}
	if _, err := s.writer.WriteString(".\r\n"); err != nil {
		return nil, err
	}
	if err := s.writer.Flush(); err != nil {
		return nil, err
	}

	reply, err = s.readReply()
	if err != nil {
		return nil, err
	}
	if !reply.Positive() {
		return nil, reply.Err()
	}
	return reply, nil
}

// reset sends RSET to abort the current transaction.
func (s *Session) reset() error {
	if err := s.writeCommand("RSET"); err != nil {
		return err
	}
	reply, err := s.readReply()
	if err != nil {
		return err
	}
	return reply.Err()
}

// Reset aborts any in-progress transaction state on the server.
func (s *Session) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != stateReady {
		return ErrSessionClosed
	}
	if err := s.reset(); err != nil {
		if fatal(err) {
			s.state = stateFailed
			s.conn.Close()
			return sessionErr(StageSubmit, err)
		}
		return err
	}
	return nil
}

// Noop sends NOOP, useful as a keepalive.
func (s *Session) Noop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != stateReady {
		return ErrSessionClosed
	}
	if err := s.writeCommand("NOOP"); err != nil {
		s.state = stateFailed
		s.conn.Close()
		return sessionErr(StageSubmit, err)
	}
	reply, err := s.readReply()
	if err != nil {
		s.state = stateFailed
		s.conn.Close()
		return sessionErr(StageSubmit, err)
	}
	return reply.Err()
}

// Quit ends the session politely with QUIT and closes the connection.
func (s *Session) Quit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != stateReady {
		return s.closeLocked()
	}
	if err := s.writeCommand("QUIT"); err != nil {
		s.closeLocked()
		return sessionErr(StageQuit, err)
	}
	// The reply is best-effort; some servers drop the connection first.
	s.readReply()
	return s.closeLocked()
}

// Close tears down the connection without QUIT. Safe to call more than
// once and after Quit.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeLocked()
}

func (s *Session) closeLocked() error {
	if s.state == stateClosed {
		return nil
	}
	prev := s.state
	s.state = stateClosed
	if s.conn == nil || prev == stateFailed {
		// A failed session already closed its connection.
		return nil
	}
	err := s.conn.Close()
	s.reader = nil
	s.writer = nil
	return err
}

// writeCommand sends one command line.
func (s *Session) writeCommand(format string, args ...any) error {
	cmd := fmt.Sprintf(format, args...)
	s.log.Debug("send", slog.String("command", redactCommand(cmd)))

	if s.config.WriteTimeout > 0 {
		s.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
	}
	if _, err := s.writer.WriteString(cmd + "\r\n"); err != nil {
		return err
	}
	return s.writer.Flush()
}

// readReply reads one server reply with the configured timeout.
func (s *Session) readReply() (*Reply, error) {
	if s.config.ReadTimeout > 0 {
		s.conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
	}
	reply, err := readReply(s.reader)
	if err != nil {
		return nil, err
	}
	s.log.Debug("recv", slog.Int("code", reply.Code), slog.String("message", reply.Lines[0]))
	return reply, nil
}

// redactCommand hides credential material in AUTH command logging.
func redactCommand(cmd string) string {
	if strings.HasPrefix(strings.ToUpper(cmd), "AUTH ") {
		fields := strings.Fields(cmd)
		if len(fields) > 2 {
			return fields[0] + " " + fields[1] + " ****"
		}
		return cmd
	}
	// Bare continuation lines in a SASL exchange are all secret.
	if isBase64Line(cmd) {
		return "****"
	}
	return cmd
}

func isBase64Line(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		case c == '+', c == '/', c == '=':
		default:
			return false
		}
	}
	return true
}

// fatal reports whether an error from a protocol exchange means the
// connection can no longer be used. Server rejections (*SMTPError) are
// not fatal; everything else from the wire is.
func fatal(err error) bool {
	var smtpErr *SMTPError
	return !errors.As(err, &smtpErr)
}

func base64Encode(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

func base64Decode(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}

// extractQueueID pulls a server-assigned message or queue identifier out
// of the final DATA reply text. Matches the common "<id@host>",
// "queued as ID" and "id=ID" shapes.
func extractQueueID(msg string) string {
	msg = strings.TrimSpace(msg)

	if start := strings.Index(msg, "<"); start != -1 {
		if end := strings.Index(msg[start:], ">"); end != -1 {
			return msg[start : start+end+1]
		}
	}
	lower := strings.ToLower(msg)
	if idx := strings.Index(lower, "queued as "); idx != -1 {
		if fields := strings.Fields(msg[idx+len("queued as "):]); len(fields) > 0 {
			return fields[0]
		}
	}
	if idx := strings.Index(lower, "id="); idx != -1 {
		if fields := strings.Fields(msg[idx+3:]); len(fields) > 0 {
			return fields[0]
		}
	}
	return ""
}
