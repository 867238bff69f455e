package collect

import (
	"net/netip"
	"regexp"
	"sort"
)

const octet = `(?:25[0-5]|2[0-4]\d|1\d\d|[1-9]?\d)`

// Extractor finds IPv4 addresses in arbitrary text.
//
// It does no HTML parsing: anything that looks like a dotted quad matches,
// including numbers inside version strings.
// A candidate directly preceded or followed by another digit is rejected,
// so "999.1.1.1" and "10.0.0.256" yield nothing.
type Extractor struct {
	re *regexp.Regexp
}

func NewExtractor() *Extractor {
	return &Extractor{re: regexp.MustCompile(octet + `(?:\.` + octet + `){3}`)}
}

// Extract returns the addresses in text in order of appearance, repeats included.
func (e *Extractor) Extract(text string) []netip.Addr {
	var addrs []netip.Addr
	for pos := 0; pos < len(text); {
		loc := e.re.FindStringIndex(text[pos:])
		if loc == nil {
			break
		}
		start, end := pos+loc[0], pos+loc[1]
		if (start > 0 && isDigit(text[start-1])) || (end < len(text) && isDigit(text[end])) {
			// "1234.5.6.7.8" still has to yield 5.6.7.8
			pos = start + 1
			continue
		}
		pos = end
		addr, err := netip.ParseAddr(text[start:end])
		if err != nil {
			continue
		}
		addrs = append(addrs, addr)
	}
	return addrs
}

func isDigit(b byte) bool { return '0' <= b && b <= '9' }

// IPSet is a set of addresses. The zero value is not usable; use NewIPSet.
type IPSet struct {
	m map[netip.Addr]struct{}
}

func NewIPSet() *IPSet {
	return &IPSet{m: map[netip.Addr]struct{}{}}
}

func (s *IPSet) Add(addrs ...netip.Addr) {
	for _, a := range addrs {
		s.m[a] = struct{}{}
	}
}

func (s *IPSet) Contains(a netip.Addr) bool {
	_, ok := s.m[a]
	return ok
}

func (s *IPSet) Len() int { return len(s.m) }

// Sorted returns the members in numeric order.
func (s *IPSet) Sorted() []netip.Addr {
	out := make([]netip.Addr, 0, len(s.m))
	for a := range s.m {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// ExtractIPv4 returns the distinct addresses in text, in order of first appearance.
func ExtractIPv4(text string) []string {
	seen := map[netip.Addr]bool{}
	var out []string
	for _, a := range NewExtractor().Extract(text) {
		if seen[a] {
			continue
		}
		seen[a] = true
		out = append(out, a.String())
	}
	return out
}
