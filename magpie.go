// Package magpie provides batch mail submission over SMTP for Go.
//
// Magpie is a client library for handing batches of messages to a mail
// submission server (RFC 6409) over a single connection, with per-message
// outcomes, envelope derivation from message headers, and capability-aware
// message encoding.
//
// # Features
//
//   - Batch submission with exactly one outcome per input message, in
//     input order
//   - Partial-failure isolation: a rejected message does not stop the
//     batch; a dead connection marks the remainder as not attempted
//   - Envelope derivation from Sender/From/To/Cc/Bcc headers, with
//     explicit envelope override
//   - Capability-aware encoding: SMTPUTF8, 8BITMIME downgrade to
//     quoted-printable, SIZE enforcement, IDN A-label conversion
//   - STARTTLS and implicit TLS, SASL PLAIN and LOGIN authentication
//   - Structured logging with slog integration and optional Prometheus
//     metrics
//
// # Quick Start
//
// Build messages and submit them as one batch:
//
//	req, err := magpie.NewMessage().
//	    From("Alice <alice@example.com>").
//	    To("bob@example.com").
//	    Subject("Hello").
//	    TextBody("Hi Bob!").
//	    BuildRequest()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	report, err := magpie.SendAll(ctx, magpie.Config{
//	    Host:     "smtp.example.com",
//	    Security: magpie.SecurityStartTLSRequired,
//	    Auth:     &magpie.Credentials{Username: "alice", Password: "secret"},
//	}, []*magpie.Request{req})
//	if err != nil {
//	    log.Printf("batch stopped early: %v", err)
//	}
//	for i, outcome := range report.Outcomes {
//	    log.Printf("message %d accepted=%v", i, outcome.Accepted)
//	}
//
// # Sessions
//
// For finer control, open a session and drive the transactions yourself:
//
//	session, err := magpie.Open(ctx, config)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer session.Close()
//
//	env, _ := req.Resolve()
//	enc, _ := magpie.Encode(req.Message, session.EncodingContext())
//	outcome, err := session.Submit(env, enc)
//
// # RFC Compliance
//
// Magpie implements the client side of:
//
//   - RFC 5321: Simple Mail Transfer Protocol
//   - RFC 6409: Message Submission for Mail
//   - RFC 3207: SMTP Service Extension for Secure SMTP over TLS
//   - RFC 4954: SMTP Service Extension for Authentication
//   - RFC 6152: SMTP Service Extension for 8-bit MIME Transport
//   - RFC 6531: SMTP Extension for Internationalized Email
//   - RFC 1870: SMTP Service Extension for Message Size Declaration
//   - RFC 3463: Enhanced Mail System Status Codes
package magpie
