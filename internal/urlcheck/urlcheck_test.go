package urlcheck

import (
	"context"
	"errors"
	"net/netip"
	"testing"
)

type staticResolver struct {
	addrs map[string][]netip.Addr
}

func (r staticResolver) LookupNetIP(_ context.Context, _ string, host string) ([]netip.Addr, error) {
	addrs, ok := r.addrs[host]
	if !ok {
		return nil, errors.New("no such host")
	}
	return addrs, nil
}

func newTestValidator(opts ...Option) *Validator {
	resolver := staticResolver{addrs: map[string][]netip.Addr{
		"api.example.com":   {netip.MustParseAddr("93.184.216.34")},
		"rebind.attack.com": {netip.MustParseAddr("93.184.216.34"), netip.MustParseAddr("10.0.0.5")},
	}}
	return New(append([]Option{WithResolver(resolver)}, opts...)...)
}

func TestValidateRejectsUnsafeTargets(t *testing.T) {
	validator := newTestValidator()
	ctx := context.Background()

	rejected := []string{
		"ftp://api.example.com/hook",
		"http://169.254.169.254/latest/meta-data/",
		"http://localhost:8080/hook",
		"http://127.0.0.1/hook",
		"http://metadata.google.internal/computeMetadata",
		"http://10.1.2.3/hook",
		"http://172.16.9.1/hook",
		"http://192.168.1.10/hook",
		"http://[::1]/hook",
		"http://[fc00::1]/hook",
		"http://unresolvable.internal/hook",
		"http://rebind.attack.com/hook",
		"not a url",
		"",
	}
	for _, target := range rejected {
		if err := validator.Validate(ctx, target); !errors.Is(err, ErrInvalidURL) {
			t.Fatalf("expected rejection for %q, got %v", target, err)
		}
	}
}

func TestValidateAcceptsPublicTargets(t *testing.T) {
	validator := newTestValidator()
	ctx := context.Background()

	accepted := []string{
		"https://api.example.com/hook",
		"http://api.example.com:9000/hook",
		"https://93.184.216.34/hook",
	}
	for _, target := range accepted {
		if err := validator.Validate(ctx, target); err != nil {
			t.Fatalf("expected %q to pass, got %v", target, err)
		}
	}

	// Validation is stable across calls.
	if err := validator.Validate(ctx, "https://api.example.com/hook"); err != nil {
		t.Fatalf("expected repeat validation to pass, got %v", err)
	}
}

func TestAllowlistModeSkipsResolution(t *testing.T) {
	validator := newTestValidator(WithAllowedHosts("hooks.internal.example.com, other.example.com"))
	ctx := context.Background()

	// Allowlisted hosts pass without a resolver entry.
	if err := validator.Validate(ctx, "https://hooks.internal.example.com/hook"); err != nil {
		t.Fatalf("expected allowlisted host to pass, got %v", err)
	}
	// Hosts outside the allowlist fail even when resolvable.
	if err := validator.Validate(ctx, "https://api.example.com/hook"); !errors.Is(err, ErrInvalidURL) {
		t.Fatalf("expected non-allowlisted host rejection, got %v", err)
	}
	// Literal private IPs are still blocked in allowlist mode.
	if err := validator.Validate(ctx, "http://10.0.0.8/hook"); !errors.Is(err, ErrInvalidURL) {
		t.Fatalf("expected private ip rejection, got %v", err)
	}
}
