package sasl

// plain implements the PLAIN SASL mechanism (RFC 4616).
// Use only over TLS - passwords are transmitted in clear text.
type plain struct {
	identity string
	username string
	password string
}

// Plain returns a PLAIN mechanism. identity is the optional authorization
// identity (authzid); leave it empty to act as the authenticated user.
func Plain(identity, username, password string) Mechanism {
	return &plain{identity: identity, username: username, password: password}
}

// Name returns "PLAIN".
func (p *plain) Name() string {
	return "PLAIN"
}

// Start returns the single message: authzid NUL authcid NUL passwd.
func (p *plain) Start() ([]byte, error) {
	resp := make([]byte, 0, len(p.identity)+len(p.username)+len(p.password)+2)
	resp = append(resp, p.identity...)
	resp = append(resp, 0)
	resp = append(resp, p.username...)
	resp = append(resp, 0)
	resp = append(resp, p.password...)
	return resp, nil
}

// Next rejects any challenge: PLAIN is a single-message mechanism.
func (p *plain) Next(challenge []byte) ([]byte, error) {
	return nil, ErrUnexpectedChallenge
}
