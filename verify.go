package ipsync

import (
	"context"
	"fmt"
	"net/netip"
	"time"

	"github.com/miekg/dns"
)

// DNSVerifier asks a DNS server which A records it serves for a name.
//
// Proxied records resolve to the provider's edge addresses,
// so the check is only meaningful for unproxied records.
// Recursive resolvers may also answer from cache for up to the old TTL.
type DNSVerifier struct {
	// Server is a host:port, e.g. "1.1.1.1:53".
	Server string

	// Client defaults to a UDP client with a 5 second timeout.
	Client *dns.Client
}

// Verify implements ipsync.Verifier.
func (v *DNSVerifier) Verify(ctx context.Context, name string) ([]netip.Addr, error) {
	c := v.Client
	if c == nil {
		c = &dns.Client{Timeout: 5 * time.Second}
	}

	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(name), dns.TypeA)
	m.RecursionDesired = true

	in, _, err := c.ExchangeContext(ctx, m, v.Server)
	if err != nil {
		return nil, fmt.Errorf("error querying %s for %s: %w", v.Server, name, err)
	}
	switch in.Rcode {
	case dns.RcodeSuccess, dns.RcodeNameError:
	default:
		return nil, fmt.Errorf("%s answered %s for %s", v.Server, dns.RcodeToString[in.Rcode], name)
	}

	var addrs []netip.Addr
	for _, rr := range in.Answer {
		a, ok := rr.(*dns.A)
		if !ok {
			continue
		}
		if addr, ok := netip.AddrFromSlice(a.A); ok {
			addrs = append(addrs, addr.Unmap())
		}
	}
	return addrs, nil
}
