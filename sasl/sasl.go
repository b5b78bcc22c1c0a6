// Package sasl implements client-side SASL mechanisms for SMTP
// authentication (RFC 4954).
package sasl

import (
	"errors"
)

var (
	// ErrUnexpectedChallenge is returned when the server issues a challenge
	// the mechanism cannot answer.
	ErrUnexpectedChallenge = errors.New("sasl: unexpected server challenge")

	// ErrUnknownMechanism is returned when no implementation exists for the
	// requested mechanism name.
	ErrUnknownMechanism = errors.New("sasl: unknown mechanism")
)

// Mechanism is a client-side SASL authentication mechanism. Start produces
// the optional initial response sent with the AUTH command; Next answers
// each 334 challenge from the server. Both return the raw (pre-base64)
// octets.
type Mechanism interface {
	Name() string
	Start() (initial []byte, err error)
	Next(challenge []byte) (response []byte, err error)
}

// New returns a mechanism implementation by name, or ErrUnknownMechanism.
func New(name, username, password string) (Mechanism, error) {
	switch name {
	case "PLAIN":
		return Plain("", username, password), nil
	case "LOGIN":
		return Login(username, password), nil
	default:
		return nil, ErrUnknownMechanism
	}
}
