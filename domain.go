package ipsync

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// NormalizeDomain lowercases and trims domain and rejects values that cannot name a zone:
// IP addresses, single labels and public suffixes such as "co.uk".
func NormalizeDomain(domain string) (string, error) {
	d := strings.ToLower(strings.TrimSuffix(strings.TrimSpace(domain), "."))
	if d == "" {
		return "", errors.New("domain cannot be empty")
	}
	if _, err := netip.ParseAddr(d); err == nil {
		return "", fmt.Errorf("%q is an IP address, not a domain", domain)
	}
	if !strings.Contains(d, ".") {
		return "", fmt.Errorf("domain %q must have at least one dot", domain)
	}
	if strings.HasPrefix(d, ".") || strings.HasPrefix(d, "-") {
		return "", fmt.Errorf("domain %q must not start with '.' or '-'", domain)
	}
	if suffix, _ := publicsuffix.PublicSuffix(d); suffix == d {
		return "", fmt.Errorf("%q is a public suffix", domain)
	}
	return d, nil
}

// ParseDomains splits a comma-separated list, drops empty entries and repeats, and normalizes the rest.
func ParseDomains(list string) ([]string, error) {
	var domains []string
	var errs []error
	seen := map[string]bool{}
	for _, part := range strings.Split(list, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		d, err := NormalizeDomain(part)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if seen[d] {
			continue
		}
		seen[d] = true
		domains = append(domains, d)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	if len(domains) == 0 {
		return nil, errors.New("no domains given")
	}
	return domains, nil
}
