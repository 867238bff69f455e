package collect

import (
	"bufio"
	"fmt"
	"io"
	"net/netip"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Format selects the layout of the output file.
type Format string

const (
	// FormatBare writes one address per line.
	FormatBare Format = "bare"

	// FormatAnnotated writes ip#region#isp lines.
	FormatAnnotated Format = "annotated"

	// FormatGrouped groups addresses by region and numbers them within the group: ip#region-N#isp.
	// Groups are separated by a blank line.
	FormatGrouped Format = "grouped"
)

func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatBare, nil
	case FormatBare, FormatAnnotated, FormatGrouped:
		return f, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want bare, annotated or grouped)", s)
	}
}

// Addrs returns the addresses in results in numeric order.
func (r Results) Addrs() []netip.Addr {
	out := make([]netip.Addr, 0, len(r))
	for a := range r {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// EncodeResults writes results to w in the given format.
func EncodeResults(w io.Writer, results Results, format Format) error {
	bw := bufio.NewWriter(w)
	switch format {
	case FormatBare, "":
		for _, addr := range results.Addrs() {
			fmt.Fprintln(bw, addr)
		}
	case FormatAnnotated:
		for _, addr := range results.Addrs() {
			a := results[addr]
			fmt.Fprintf(bw, "%s#%s#%s\n", addr, field(a.Region), field(a.ISP))
		}
	case FormatGrouped:
		groups := map[string][]netip.Addr{}
		for _, addr := range results.Addrs() {
			region := field(results[addr].Region)
			groups[region] = append(groups[region], addr)
		}
		regions := make([]string, 0, len(groups))
		for region := range groups {
			regions = append(regions, region)
		}
		sort.Strings(regions)
		for _, region := range regions {
			for i, addr := range groups[region] {
				fmt.Fprintf(bw, "%s#%s-%d#%s\n", addr, region, i+1, field(results[addr].ISP))
			}
			fmt.Fprintln(bw)
		}
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
	return bw.Flush()
}

// field makes s safe to place between '#' delimiters on a single line.
func field(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '#', '\n', '\r':
			return ' '
		}
		return r
	}, s)
}

// WriteResults replaces the file at path with results.
// The data is written to a temporary file in the same directory and renamed into place,
// so readers never see a partial file.
func WriteResults(path string, results Results, format Format) (err error) {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("error creating output file: %w", err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if err := EncodeResults(tmp, results, format); err != nil {
		return fmt.Errorf("error writing output file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("error writing output file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return fmt.Errorf("error setting output file permissions: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("error replacing output file: %w", err)
	}
	return nil
}
