// Package urlcheck guards outbound webhook URLs against SSRF: scheme
// allowlist, literal and private-range blocklists, and a DNS resolution
// check so a public hostname cannot rebind to an internal address.
package urlcheck

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"net/url"
	"strings"
	"time"
)

// ErrInvalidURL is the only error surfaced to callers; the target is never
// echoed back.
var ErrInvalidURL = errors.New("invalid webhook URL")

var hostBlocklist = map[string]struct{}{
	"0.0.0.0":                  {},
	"127.0.0.1":                {},
	"localhost":                {},
	"169.254.169.254":          {},
	"metadata.google.internal": {},
	"metadata":                 {},
}

var blockedPrefixes = []netip.Prefix{
	netip.MustParsePrefix("127.0.0.0/8"),
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("169.254.0.0/16"),
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("::1/128"),
	netip.MustParsePrefix("fc00::/7"),
	netip.MustParsePrefix("fe80::/10"),
	netip.MustParsePrefix("::/128"),
}

const resolveTimeout = 5 * time.Second

type Resolver interface {
	LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error)
}

type Validator struct {
	allowedHosts map[string]struct{}
	resolver     Resolver
}

type Option func(*Validator)

// WithAllowedHosts restricts webhook hostnames to an explicit set
// (MEDIC_ALLOWED_WEBHOOK_HOSTS). The private-range checks still apply, but
// DNS resolution is skipped for allowlisted hosts.
func WithAllowedHosts(csv string) Option {
	return func(v *Validator) {
		hosts := map[string]struct{}{}
		for _, host := range strings.Split(csv, ",") {
			host = strings.ToLower(strings.TrimSpace(host))
			if host != "" {
				hosts[host] = struct{}{}
			}
		}
		if len(hosts) > 0 {
			v.allowedHosts = hosts
		}
	}
}

func WithResolver(resolver Resolver) Option {
	return func(v *Validator) {
		v.resolver = resolver
	}
}

func New(opts ...Option) *Validator {
	validator := &Validator{resolver: net.DefaultResolver}
	for _, opt := range opts {
		opt(validator)
	}
	return validator
}

// Validate returns ErrInvalidURL unless the URL is a safe outbound target.
func (v *Validator) Validate(ctx context.Context, rawURL string) error {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ErrInvalidURL
	}
	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return ErrInvalidURL
	}
	hostname := strings.ToLower(strings.TrimSpace(parsed.Hostname()))
	if hostname == "" {
		return ErrInvalidURL
	}
	if _, blocked := hostBlocklist[hostname]; blocked {
		return ErrInvalidURL
	}
	if addr, err := netip.ParseAddr(strings.Trim(hostname, "[]")); err == nil {
		if blockedAddr(addr) {
			return ErrInvalidURL
		}
		return nil
	}
	if v.allowedHosts != nil {
		if _, allowed := v.allowedHosts[hostname]; !allowed {
			return ErrInvalidURL
		}
		return nil
	}
	return v.checkResolved(ctx, hostname)
}

// checkResolved requires every resolved address to pass the blocklist,
// mitigating DNS rebinding.
func (v *Validator) checkResolved(ctx context.Context, hostname string) error {
	resolveCtx, cancel := context.WithTimeout(ctx, resolveTimeout)
	defer cancel()

	addrs, err := v.resolver.LookupNetIP(resolveCtx, "ip", hostname)
	if err != nil || len(addrs) == 0 {
		return ErrInvalidURL
	}
	for _, addr := range addrs {
		if blockedAddr(addr.Unmap()) {
			return ErrInvalidURL
		}
	}
	return nil
}

func blockedAddr(addr netip.Addr) bool {
	for _, prefix := range blockedPrefixes {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}
