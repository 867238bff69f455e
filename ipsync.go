package ipsync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/netip"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Travis-Britz/ipsync/internal/httpclient"
)

var (
	// ErrForbidden is returned when the provider rejects the API token for a zone.
	ErrForbidden = errors.New("403 forbidden")

	// ErrZoneNotFound is returned when no zone matches the requested domain.
	ErrZoneNotFound = errors.New("zone not found")

	// ErrDrainNotConverged is returned when records keep appearing after the maximum number of delete rounds.
	ErrDrainNotConverged = errors.New("record drain did not converge")
)

var discard = func() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}()

// Zone is a provider's management unit for a domain's records.
type Zone struct {
	ID   string
	Name string
}

// Record is a DNS record as seen by a Provider.
type Record struct {
	ID      string
	Type    string
	Name    string
	Content string
	TTL     int
	Proxied bool
}

// Source maps a subdomain to a URL serving a newline-delimited list of IPs.
// Subdomain "@" means the zone apex.
type Source struct {
	Subdomain string
	URL       string
}

type Provider interface {
	// LookupZone returns the first zone whose name is exactly domain.
	LookupZone(ctx context.Context, domain string) (Zone, error)
	// ListRecords returns A records named name. It may return only part of the set.
	ListRecords(ctx context.Context, zoneID, name string) ([]Record, error)
	DeleteRecord(ctx context.Context, zoneID, recordID string) error
	CreateRecord(ctx context.Context, zoneID string, record Record) error
}

// Verifier reports the addresses a resolver currently serves for name.
type Verifier interface {
	Verify(ctx context.Context, name string) ([]netip.Addr, error)
}

// New constructs a Client.
//
// A provider is required, either through UsingCloudflare or UsingProvider.
func New(options ...Option) (*Client, error) {
	c := &Client{
		logger:      discard,
		maxEntries:  DefaultMaxEntries,
		drainRounds: DefaultDrainRounds,
		timeout:     defaultFetchTimeout,
	}
	for i, opt := range options {
		if err := opt(c); err != nil {
			return nil, fmt.Errorf("ipsync.New: option %d returned an error: %w", i, err)
		}
	}

	// the fetch timeout bounds IP list downloads only; provider API calls keep the transport defaults
	c.apiClient = c.httpClient
	if c.httpClient == nil {
		c.httpClient = httpclient.Direct(c.timeout)
		c.apiClient = httpclient.Direct(0)
	}

	if c.provider == nil && c.token != "" {
		cf, err := newCloudflareProvider(c.token, c.apiClient)
		if err != nil {
			return nil, fmt.Errorf("ipsync.New: error creating cloudflare DNS provider: %w", err)
		}
		c.provider = cf
	}
	if c.provider == nil {
		return nil, errors.New("ipsync.New: no DNS provider was registered - use ipsync.UsingCloudflare or ipsync.UsingProvider")
	}

	// this lets the logger reach dependencies regardless of option order
	if cf, ok := c.provider.(*cloudflareProvider); ok {
		cf.logger = c.logger
	}

	c.fetcher = &ListFetcher{
		HTTPClient: c.httpClient,
		MaxEntries: c.maxEntries,
		Timeout:    c.timeout,
		Logger:     c.logger,
	}
	c.synchronizer = &Synchronizer{
		Provider:       c.provider,
		MaxDrainRounds: c.drainRounds,
		Logger:         c.logger,
	}
	return c, nil
}

type Option func(*Client) error

// UsingCloudflare registers Cloudflare as the DNS provider, authenticating with an API token.
func UsingCloudflare(token string) Option {
	return func(c *Client) error {
		if token == "" {
			return errors.New("cloudflare API token cannot be empty")
		}
		c.token = token
		return nil
	}
}

// UsingProvider registers any Provider implementation.
func UsingProvider(p Provider) Option {
	return func(c *Client) error {
		if p == nil {
			return errors.New("provider cannot be nil")
		}
		c.provider = p
		return nil
	}
}

// UsingSources sets the subdomain to IP list mapping that is synced for every domain.
func UsingSources(sources ...Source) Option {
	return func(c *Client) error {
		for _, s := range sources {
			if s.Subdomain == "" || s.URL == "" {
				return fmt.Errorf("source %+v needs both a subdomain and a URL", s)
			}
		}
		c.sources = sources
		return nil
	}
}

// UsingHTTPClient replaces the direct (proxy-free) clients used for IP lists and the provider API.
// The given client is used as is for both, so WithFetchTimeout no longer affects it.
func UsingHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) error {
		c.httpClient = httpClient
		return nil
	}
}

func WithLogger(logger logrus.FieldLogger) Option {
	return func(c *Client) error {
		if logger == nil {
			logger = discard
		}
		c.logger = logger
		return nil
	}
}

// WithProxied sets the proxy flag on every record created.
func WithProxied(proxied bool) Option {
	return func(c *Client) error {
		c.proxied = proxied
		return nil
	}
}

// WithMaxEntries caps how many IPs are taken from each source.
func WithMaxEntries(n int) Option {
	return func(c *Client) error {
		if n < 1 {
			return fmt.Errorf("max entries must be positive; got %d", n)
		}
		c.maxEntries = n
		return nil
	}
}

// WithDrainRounds bounds how many list-and-delete rounds are attempted per record name.
func WithDrainRounds(n int) Option {
	return func(c *Client) error {
		if n < 1 {
			return fmt.Errorf("drain rounds must be positive; got %d", n)
		}
		c.drainRounds = n
		return nil
	}
}

// WithFetchTimeout bounds each IP list request.
func WithFetchTimeout(d time.Duration) Option {
	return func(c *Client) error {
		c.timeout = d
		return nil
	}
}

// WithVerifier enables a resolver check after each unproxied sync.
func WithVerifier(v Verifier) Option {
	return func(c *Client) error {
		c.verifier = v
		return nil
	}
}

// KeepGoing makes Run continue with the next domain after a failure.
// By default the first failure aborts the remaining domains.
func KeepGoing() Option {
	return func(c *Client) error {
		c.keepGoing = true
		return nil
	}
}

type Client struct {
	provider     Provider
	fetcher      *ListFetcher
	synchronizer *Synchronizer
	verifier     Verifier
	httpClient   *http.Client
	apiClient    *http.Client
	logger       logrus.FieldLogger

	token       string
	sources     []Source
	proxied     bool
	keepGoing   bool
	maxEntries  int
	drainRounds int
	timeout     time.Duration
}

// Run syncs every source for every domain.
func (c *Client) Run(ctx context.Context, domains []string) error {
	var errs []error
	for _, domain := range domains {
		if err := c.runDomain(ctx, domain); err != nil {
			if !c.keepGoing {
				return err
			}
			c.logger.WithField("domain", domain).Error(err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c *Client) runDomain(ctx context.Context, domain string) error {
	zone, err := c.provider.LookupZone(ctx, domain)
	if err != nil {
		return fmt.Errorf("error resolving zone for %s: %w", domain, err)
	}
	log := c.logger.WithFields(logrus.Fields{"domain": zone.Name, "zone": zone.ID})
	log.Info("processing domain")

	for _, src := range c.sources {
		ips, err := c.fetcher.FetchList(ctx, src.URL)
		if err != nil {
			return fmt.Errorf("error fetching IP list %s: %w", src.URL, err)
		}
		name := RecordName(src.Subdomain, zone.Name)
		log.WithField("record", name).Infof("got %d IPs", len(ips))

		result, err := c.synchronizer.Sync(ctx, zone.ID, name, ips, c.proxied)
		if err != nil {
			return fmt.Errorf("error syncing %s: %w", name, err)
		}
		log.WithField("record", name).Infof("deleted %d, created %d, skipped %d, failed %d",
			result.Deleted, result.Created, result.Skipped, result.Failed)

		if c.verifier != nil && !c.proxied {
			c.verify(ctx, name, ips)
		}
	}
	return nil
}

func (c *Client) verify(ctx context.Context, name string, ips []string) {
	log := c.logger.WithField("record", name)
	served, err := c.verifier.Verify(ctx, name)
	if err != nil {
		log.Warnf("verification failed: %s", err)
		return
	}
	have := make(map[string]bool, len(served))
	for _, a := range served {
		have[a.String()] = true
	}
	want := dedupe(ips)
	found := 0
	for _, ip := range want {
		if have[ip] {
			found++
		}
	}
	log.Infof("resolver serves %d of %d synced addresses", found, len(want))
}

// RunDaemon runs c every interval in a new goroutine until ctx is done.
func RunDaemon(ctx context.Context, c *Client, domains []string, interval time.Duration) {
	if interval < 1*time.Minute {
		interval = 1 * time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := c.Run(ctx, domains); err != nil {
					c.logger.Errorf("ipsync.RunDaemon: %s", err)
				}
			}
		}
	}()
}
