package magpie

import (
	"errors"
	"fmt"
)

// Sentinel errors for envelope resolution and batch outcomes.
var (
	// ErrNoSender indicates an envelope sender could not be determined:
	// the message has no usable Sender or From header and no override was
	// supplied.
	ErrNoSender = errors.New("no envelope sender")

	// ErrNoRecipients indicates the resolved envelope has an empty
	// recipient list.
	ErrNoRecipients = errors.New("no envelope recipients")

	// ErrAmbiguousSender indicates a multi-address From header without a
	// Sender header to disambiguate.
	ErrAmbiguousSender = errors.New("multi-address From requires a Sender header")

	// ErrNotAttempted marks a message that was never offered to the
	// server because the session had already failed.
	ErrNotAttempted = errors.New("submission not attempted")

	// ErrSessionClosed indicates an operation on a session that has been
	// closed or has failed.
	ErrSessionClosed = errors.New("session closed")

	// ErrAuthFailed indicates the server rejected all offered
	// authentication mechanisms.
	ErrAuthFailed = errors.New("authentication failed")

	// ErrNoAuthMechanism indicates no mutually supported authentication
	// mechanism between client and server.
	ErrNoAuthMechanism = errors.New("no supported authentication mechanism")

	// ErrTLSNotSupported indicates STARTTLS was required but the server
	// does not advertise it.
	ErrTLSNotSupported = errors.New("server does not support STARTTLS")

	// ErrSMTPUTF8NotSupported indicates the envelope or message needs the
	// SMTPUTF8 extension but the server does not advertise it.
	ErrSMTPUTF8NotSupported = errors.New("server does not support SMTPUTF8")

	// ErrTLSAlreadyActive indicates STARTTLS was attempted on an
	// encrypted connection.
	ErrTLSAlreadyActive = errors.New("TLS already active")

	// ErrUnexpectedResponse indicates the server sent a reply outside the
	// expected code class for the current command.
	ErrUnexpectedResponse = errors.New("unexpected server response")

	// ErrMessageTooLarge indicates the encoded message exceeds the
	// server's advertised SIZE limit.
	ErrMessageTooLarge = errors.New("message exceeds server size limit")
)

// SMTPError represents an error reply from an SMTP server, carrying the
// reply code, the optional RFC 3463 enhanced status code and the reply text.
type SMTPError struct {
	// Code is the three-digit SMTP reply code.
	Code int
	// EnhancedCode is the RFC 3463 enhanced status code (e.g. "5.7.1"),
	// empty when the server did not send one.
	EnhancedCode string
	// Message is the human-readable reply text, multiline replies joined
	// with newlines.
	Message string
}

func (e *SMTPError) Error() string {
	if e.EnhancedCode != "" {
		return fmt.Sprintf("smtp: %d %s %s", e.Code, e.EnhancedCode, e.Message)
	}
	return fmt.Sprintf("smtp: %d %s", e.Code, e.Message)
}

// Permanent reports whether the reply code indicates a permanent failure
// (5xx) as opposed to a transient one (4xx).
func (e *SMTPError) Permanent() bool {
	return e.Code >= 500 && e.Code < 600
}

// Temporary reports whether the reply code indicates a transient failure.
func (e *SMTPError) Temporary() bool {
	return e.Code >= 400 && e.Code < 500
}

// EncodingError indicates a message could not be serialized into wire form.
type EncodingError struct {
	// Reason describes what made the message unencodable.
	Reason string
	// Err is the underlying cause, if any.
	Err error
}

func (e *EncodingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("encoding: %s: %v", e.Reason, e.Err)
	}
	return "encoding: " + e.Reason
}

func (e *EncodingError) Unwrap() error { return e.Err }

// Stages of an SMTP session at which a fault can occur.
const (
	StageConnect  = "connect"
	StageGreeting = "greeting"
	StageHello    = "hello"
	StageStartTLS = "starttls"
	StageAuth     = "auth"
	StageSubmit   = "submit"
	StageQuit     = "quit"
)

// SessionError wraps a fault with the session stage it occurred in. A
// SessionError from Submit means the connection is no longer usable.
type SessionError struct {
	// Stage is one of the Stage* constants.
	Stage string
	// Err is the underlying fault.
	Err error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("session %s: %v", e.Stage, e.Err)
}

func (e *SessionError) Unwrap() error { return e.Err }

// sessionErr wraps err with the given stage unless it already carries one.
func sessionErr(stage string, err error) error {
	var se *SessionError
	if errors.As(err, &se) {
		return err
	}
	return &SessionError{Stage: stage, Err: err}
}
