package collect

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	defaultScrapeTimeout = 10 * time.Second

	// maxPageSize caps how much of each page is searched.
	maxPageSize = 8 << 20
)

// Scraper downloads a fixed list of pages and collects every IPv4 address found in them.
type Scraper struct {
	Targets []string

	// HTTPClient defaults to http.DefaultClient.
	HTTPClient *http.Client

	// Timeout bounds each page request.
	Timeout time.Duration

	Logger logrus.FieldLogger

	extractor *Extractor
}

func NewScraper(targets []string, httpClient *http.Client, logger logrus.FieldLogger) *Scraper {
	if logger == nil {
		logger = discard
	}
	return &Scraper{
		Targets:    targets,
		HTTPClient: httpClient,
		Timeout:    defaultScrapeTimeout,
		Logger:     logger,
		extractor:  NewExtractor(),
	}
}

// Scrape fetches every target and returns the union of the addresses found.
// Failed targets are logged and skipped; only cancellation of ctx stops the scrape early.
func (s *Scraper) Scrape(ctx context.Context) (*IPSet, error) {
	if s.extractor == nil {
		s.extractor = NewExtractor()
	}
	logger := s.Logger
	if logger == nil {
		logger = discard
	}

	set := NewIPSet()
	for _, target := range s.Targets {
		if err := ctx.Err(); err != nil {
			return set, err
		}
		log := logger.WithField("url", target)
		body, err := s.fetch(ctx, target)
		if err != nil {
			log.Warnf("request failed: %s", err)
			continue
		}
		found := s.extractor.Extract(body)
		set.Add(found...)
		log.Debugf("found %d addresses", len(found))
	}
	return set, nil
}

func (s *Scraper) fetch(ctx context.Context, url string) (string, error) {
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = defaultScrapeTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("error creating request: %w", err)
	}

	httpclient := s.HTTPClient
	if httpclient == nil {
		httpclient = http.DefaultClient
	}
	resp, err := httpclient.Do(req)
	if err != nil {
		return "", fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("http request returned %s", resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageSize))
	if err != nil {
		return "", fmt.Errorf("error reading response body: %w", err)
	}
	return string(body), nil
}
