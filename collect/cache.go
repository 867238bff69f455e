package collect

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/netip"
	"os"
	"strings"
)

// Cache remembers annotations from earlier runs so the locator is asked only about new addresses.
//
// It is seeded from the previous output file. Every line format written by EncodeResults can be read back;
// bare address lines carry no annotation and are ignored.
// A Cache is not safe for concurrent use.
type Cache struct {
	m map[netip.Addr]Annotation
}

func NewCache() *Cache {
	return &Cache{m: map[netip.Addr]Annotation{}}
}

// LoadCache reads the cache from path. A missing file yields an empty cache.
func LoadCache(path string) (*Cache, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return NewCache(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("error opening cache: %w", err)
	}
	defer f.Close()
	return ParseCache(f)
}

// ParseCache reads cache entries from r.
// Lines are either "ip#region#isp" or the older "ip#region".
// Lines that do not parse are skipped.
func ParseCache(r io.Reader) (*Cache, error) {
	c := NewCache()
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		addr, a, ok := parseCacheLine(scanner.Text())
		if !ok {
			continue
		}
		c.m[addr] = a
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading cache: %w", err)
	}
	return c, nil
}

func parseCacheLine(line string) (netip.Addr, Annotation, bool) {
	line = strings.TrimSpace(line)
	fields := strings.Split(line, "#")
	if len(fields) < 2 || len(fields) > 3 {
		return netip.Addr{}, Annotation{}, false
	}
	addr, err := netip.ParseAddr(strings.TrimSpace(fields[0]))
	if err != nil || !addr.Is4() {
		return netip.Addr{}, Annotation{}, false
	}
	a := Annotation{
		Region: stripIndex(strings.TrimSpace(fields[1])),
		ISP:    UnknownISP,
	}
	if len(fields) == 3 {
		if isp := strings.TrimSpace(fields[2]); isp != "" {
			a.ISP = isp
		}
	}
	if a.Region == "" {
		a.Region = UnknownRegion
	}
	// failed lookups are retried on the next run
	if a.Region == LookupFailed {
		return netip.Addr{}, Annotation{}, false
	}
	return addr, a, true
}

// stripIndex removes the "-N" suffix the grouped format appends to a region.
// Only a trailing hyphen followed by digits is removed; "Hong-Kong" is left alone.
func stripIndex(region string) string {
	i := strings.LastIndexByte(region, '-')
	if i <= 0 || i == len(region)-1 {
		return region
	}
	for j := i + 1; j < len(region); j++ {
		if !isDigit(region[j]) {
			return region
		}
	}
	return region[:i]
}

func (c *Cache) Get(addr netip.Addr) (Annotation, bool) {
	a, ok := c.m[addr]
	return a, ok
}

func (c *Cache) Put(addr netip.Addr, a Annotation) {
	c.m[addr] = a
}

func (c *Cache) Len() int {
	return len(c.m)
}
