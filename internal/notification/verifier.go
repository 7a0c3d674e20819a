package notification

import (
	"context"
	"net"
	"strings"
	"time"
)

// SenderVerifier decides whether a notification sender belongs to the
// provider's trusted domain.
type SenderVerifier interface {
	MatchesTrustedDomain(ctx context.Context, address, domain string) bool
}

// DNSVerifier resolves the sender address back to hostnames and compares
// their domain suffix. Spoofed source addresses fail the reverse lookup.
type DNSVerifier struct {
	resolver interface {
		LookupAddr(ctx context.Context, addr string) ([]string, error)
	}
	timeout time.Duration
}

func NewDNSVerifier() *DNSVerifier {
	return &DNSVerifier{resolver: net.DefaultResolver, timeout: 5 * time.Second}
}

func (v *DNSVerifier) MatchesTrustedDomain(ctx context.Context, address, domain string) bool {
	address = strings.TrimSpace(address)
	domain = strings.ToLower(strings.TrimSpace(domain))
	if address == "" || domain == "" {
		return false
	}
	if host, _, err := net.SplitHostPort(address); err == nil {
		address = host
	}

	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	names, err := v.resolver.LookupAddr(ctx, address)
	if err != nil {
		return false
	}
	for _, name := range names {
		name = strings.ToLower(strings.TrimSuffix(name, "."))
		if name == domain || strings.HasSuffix(name, "."+domain) {
			return true
		}
	}
	return false
}
