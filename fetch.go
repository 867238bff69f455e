package ipsync

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// DefaultMaxEntries is the number of IPs kept from each source.
	DefaultMaxEntries = 20

	defaultFetchTimeout = 30 * time.Second
)

// ListFetcher downloads newline-delimited IP lists.
type ListFetcher struct {
	// HTTPClient defaults to http.DefaultClient.
	// Use a client built by httpclient.Direct to bypass proxy environment variables.
	HTTPClient *http.Client

	// MaxEntries defaults to DefaultMaxEntries.
	MaxEntries int

	// Timeout bounds each request even when the caller's context has no deadline.
	Timeout time.Duration

	Logger logrus.FieldLogger
}

// FetchList returns the first MaxEntries non-blank lines served at url, in source order.
// Anything beyond that is discarded with a warning.
func (f *ListFetcher) FetchList(ctx context.Context, url string) ([]string, error) {
	timeout := f.Timeout
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Cache-Control", "no-cache")

	httpclient := f.HTTPClient
	if httpclient == nil {
		httpclient = http.DefaultClient
	}

	resp, err := httpclient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("http request returned %s", resp.Status)
	}

	max := f.MaxEntries
	if max < 1 {
		max = DefaultMaxEntries
	}

	var ips []string
	total := 0
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		total++
		if len(ips) < max {
			ips = append(ips, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading response body: %w", err)
	}

	if total > max {
		logger := f.Logger
		if logger == nil {
			logger = discard
		}
		logger.WithField("url", url).Warnf("source returned %d IPs, keeping the first %d", total, max)
	}
	return ips, nil
}
