// Package dns provides host resolution for the submission dialer.
//
// The default is the operating system resolver via net.Resolver. The
// miekg/dns based resolver exists for deployments that need to pin
// nameservers (submission hosts on split-horizon DNS, test rigs) instead
// of trusting /etc/resolv.conf.
package dns

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	mdns "github.com/miekg/dns"
)

var (
	// ErrNotFound is returned when the host has no A or AAAA records.
	ErrNotFound = errors.New("dns: host not found")

	// ErrServFail is returned when every configured nameserver failed.
	ErrServFail = errors.New("dns: server failure")
)

// Resolver resolves a hostname to the IP addresses to dial, in preference
// order. Implementations must be safe for concurrent use.
type Resolver interface {
	LookupIP(ctx context.Context, host string) ([]net.IP, error)
}

// ResolverConfig contains configuration for the nameserver-pinned resolver.
type ResolverConfig struct {
	// Nameservers is a list of DNS servers to query (e.g., "10.0.0.53:53").
	// If empty, system resolvers from /etc/resolv.conf are used, falling
	// back to public DNS.
	Nameservers []string

	// Timeout is the timeout for individual DNS queries. Default is 5 seconds.
	Timeout time.Duration

	// Retries is the number of retries for failed queries. Default is 2.
	Retries int
}

// DNSResolver implements Resolver using github.com/miekg/dns against an
// explicit nameserver list.
type DNSResolver struct {
	config ResolverConfig
	client *mdns.Client
}

// NewResolver creates a new resolver with the given configuration.
func NewResolver(config ResolverConfig) *DNSResolver {
	if config.Timeout == 0 {
		config.Timeout = 5 * time.Second
	}
	if config.Retries == 0 {
		config.Retries = 2
	}
	if len(config.Nameservers) == 0 {
		config.Nameservers = getSystemNameservers()
	}

	return &DNSResolver{
		config: config,
		client: &mdns.Client{
			Timeout: config.Timeout,
		},
	}
}

// getSystemNameservers tries to get system DNS servers from resolv.conf.
func getSystemNameservers() []string {
	config, err := mdns.ClientConfigFromFile("/etc/resolv.conf")
	if err != nil || len(config.Servers) == 0 {
		// Fallback to common public DNS servers
		return []string{"8.8.8.8:53", "1.1.1.1:53"}
	}

	servers := make([]string, 0, len(config.Servers))
	for _, s := range config.Servers {
		if !strings.Contains(s, ":") {
			s = s + ":53"
		}
		servers = append(servers, s)
	}
	return servers
}

// ensureAbsolute ensures the domain name ends with a dot (FQDN format).
func ensureAbsolute(name string) string {
	if !strings.HasSuffix(name, ".") {
		return name + "."
	}
	return name
}

// query performs a single-type DNS query with retries over all nameservers.
func (r *DNSResolver) query(ctx context.Context, name string, qtype uint16) (*mdns.Msg, error) {
	m := new(mdns.Msg)
	m.SetQuestion(ensureAbsolute(name), qtype)
	m.RecursionDesired = true

	var lastErr error

	for i := 0; i <= r.config.Retries; i++ {
		for _, server := range r.config.Nameservers {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			default:
			}

			resp, _, err := r.client.ExchangeContext(ctx, m, server)
			if err != nil {
				lastErr = fmt.Errorf("dns query failed: %w", err)
				continue
			}

			switch resp.Rcode {
			case mdns.RcodeSuccess:
				return resp, nil
			case mdns.RcodeNameError: // NXDOMAIN
				return nil, ErrNotFound
			default:
				lastErr = fmt.Errorf("%w: rcode %s", ErrServFail, mdns.RcodeToString[resp.Rcode])
				continue
			}
		}
	}

	if lastErr != nil {
		return nil, lastErr
	}
	return nil, ErrServFail
}

// LookupIP retrieves A and AAAA records for the given host. IPv4 addresses
// are returned before IPv6 so plain TCP dialing prefers them.
func (r *DNSResolver) LookupIP(ctx context.Context, host string) ([]net.IP, error) {
	// Literal IPs short-circuit the lookup.
	if ip := net.ParseIP(host); ip != nil {
		return []net.IP{ip}, nil
	}

	var ips []net.IP
	var lastErr error

	resp, err := r.query(ctx, host, mdns.TypeA)
	if err != nil && err != ErrNotFound {
		lastErr = err
	} else if resp != nil {
		for _, rr := range resp.Answer {
			if a, ok := rr.(*mdns.A); ok {
				ips = append(ips, a.A)
			}
		}
	}

	resp, err = r.query(ctx, host, mdns.TypeAAAA)
	if err != nil && err != ErrNotFound {
		if lastErr == nil {
			lastErr = err
		}
	} else if resp != nil {
		for _, rr := range resp.Answer {
			if aaaa, ok := rr.(*mdns.AAAA); ok {
				ips = append(ips, aaaa.AAAA)
			}
		}
	}

	if len(ips) == 0 {
		if lastErr != nil {
			return nil, lastErr
		}
		return nil, ErrNotFound
	}

	return ips, nil
}

// SystemResolver implements Resolver using the operating system resolver.
type SystemResolver struct {
	resolver net.Resolver
}

// NewSystemResolver returns a resolver backed by net.Resolver.
func NewSystemResolver() *SystemResolver {
	return &SystemResolver{}
}

// LookupIP resolves host via the system resolver.
func (r *SystemResolver) LookupIP(ctx context.Context, host string) ([]net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		return []net.IP{ip}, nil
	}

	addrs, err := r.resolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, err
	}

	ips := make([]net.IP, 0, len(addrs))
	for _, a := range addrs {
		ips = append(ips, a.IP)
	}
	if len(ips) == 0 {
		return nil, ErrNotFound
	}
	return ips, nil
}
