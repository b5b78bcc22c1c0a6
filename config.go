package magpie

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"time"

	"github.com/synqronlabs/magpie/dns"
)

// Security selects the transport security mode for a session.
type Security int

const (
	// SecurityNone uses a plaintext connection and never negotiates TLS.
	SecurityNone Security = iota
	// SecurityStartTLS connects in plaintext and upgrades via STARTTLS if
	// the server advertises it. The session proceeds unencrypted otherwise.
	SecurityStartTLS
	// SecurityStartTLSRequired connects in plaintext and upgrades via
	// STARTTLS; session setup fails if the server does not offer it.
	SecurityStartTLSRequired
	// SecurityTLS uses implicit TLS from the first byte (SMTPS, port 465).
	SecurityTLS
)

func (s Security) String() string {
	switch s {
	case SecurityNone:
		return "none"
	case SecurityStartTLS:
		return "starttls"
	case SecurityStartTLSRequired:
		return "starttls-required"
	case SecurityTLS:
		return "tls"
	default:
		return fmt.Sprintf("security(%d)", int(s))
	}
}

// Credentials supplies SASL authentication parameters for a session.
type Credentials struct {
	Username string
	Password string

	// Mechanisms restricts the SASL mechanisms offered, in preference
	// order. Empty means try PLAIN then LOGIN as the server allows.
	Mechanisms []string
}

// Default timeouts applied when Config leaves them zero.
const (
	DefaultConnectTimeout = 30 * time.Second
	DefaultReadTimeout    = 2 * time.Minute
	DefaultWriteTimeout   = 2 * time.Minute
)

// Config describes how to reach and speak to a mail submission server.
// The zero value is not usable; Host is required.
type Config struct {
	// Host is the server hostname or IP address.
	Host string
	// Port is the server port. Zero selects 587, or 465 when Security is
	// SecurityTLS.
	Port int

	// Security selects the transport security mode.
	Security Security

	// TLSConfig overrides TLS parameters. ServerName defaults to Host.
	TLSConfig *tls.Config

	// Auth enables SASL authentication when non-nil.
	Auth *Credentials

	// LocalName is the hostname sent in EHLO. Defaults to "localhost".
	LocalName string

	// Resolver resolves Host to IP addresses. Defaults to the system
	// resolver.
	Resolver dns.Resolver

	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration

	// Logger receives session-level debug and error logs. Defaults to a
	// discarding logger.
	Logger *slog.Logger

	// Metrics receives submission counters when non-nil.
	Metrics *Metrics
}

// withDefaults returns a copy of the config with zero fields filled in.
func (c Config) withDefaults() Config {
	if c.Port == 0 {
		if c.Security == SecurityTLS {
			c.Port = 465
		} else {
			c.Port = 587
		}
	}
	if c.LocalName == "" {
		c.LocalName = "localhost"
	}
	if c.Resolver == nil {
		c.Resolver = dns.NewSystemResolver()
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}
	return c
}

// Address returns the host:port dial target.
func (c Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// tlsConfig returns the effective TLS configuration for the session.
func (c Config) tlsConfig() *tls.Config {
	cfg := c.TLSConfig
	if cfg == nil {
		cfg = &tls.Config{}
	} else {
		cfg = cfg.Clone()
	}
	if cfg.ServerName == "" {
		cfg.ServerName = c.Host
	}
	return cfg
}
