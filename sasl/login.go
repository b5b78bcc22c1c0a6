package sasl

import (
	"bytes"
)

// login implements the LOGIN SASL mechanism.
// Obsolete; kept for servers that do not advertise PLAIN. Prefer PLAIN.
type login struct {
	username string
	password string
	step     int
}

// Login returns a LOGIN mechanism.
func Login(username, password string) Mechanism {
	return &login{username: username, password: password}
}

// Name returns "LOGIN".
func (l *login) Name() string {
	return "LOGIN"
}

// Start returns no initial response; LOGIN is purely challenge driven.
func (l *login) Start() ([]byte, error) {
	return nil, nil
}

// Next answers the "Username:" and "Password:" prompts. Servers vary in
// prompt wording, so answers are also ordered: first challenge gets the
// username, second the password.
func (l *login) Next(challenge []byte) ([]byte, error) {
	prompt := bytes.TrimSpace(bytes.TrimSuffix(bytes.TrimSpace(challenge), []byte(":")))
	switch {
	case l.step == 0 || bytes.EqualFold(prompt, []byte("username")):
		l.step = 1
		return []byte(l.username), nil
	case l.step == 1 || bytes.EqualFold(prompt, []byte("password")):
		l.step = 2
		return []byte(l.password), nil
	default:
		return nil, ErrUnexpectedChallenge
	}
}
