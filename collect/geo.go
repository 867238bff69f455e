package collect

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/google/go-querystring/query"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Placeholders used when a location is not known.
const (
	UnknownRegion = "unknown region"
	LookupFailed  = "lookup failed"
	UnknownISP    = "unknown ISP"
)

// Annotation is the location metadata recorded for an address.
type Annotation struct {
	Region string
	ISP    string
}

func (a Annotation) String() string {
	return a.Region + "#" + a.ISP
}

// Locator looks up the location of an address.
//
// A service that answers but cannot locate the address should return an annotation with placeholders and a nil error;
// an error means the service could not be asked.
type Locator interface {
	Locate(ctx context.Context, addr netip.Addr) (Annotation, error)
}

const defaultIPAPIEndpoint = "http://ip-api.com"

// IPAPI is a Locator backed by the ip-api.com JSON endpoint.
type IPAPI struct {
	// Endpoint defaults to http://ip-api.com.
	Endpoint string

	// Lang selects the language of the country name, e.g. "en" or "zh-CN".
	Lang string

	HTTPClient *http.Client
	Timeout    time.Duration
}

type ipapiQuery struct {
	Fields string `url:"fields"`
	Lang   string `url:"lang,omitempty"`
}

type ipapiResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Country string `json:"country"`
	ISP     string `json:"isp"`
}

// Locate implements collect.Locator.
func (c *IPAPI) Locate(ctx context.Context, addr netip.Addr) (Annotation, error) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	v, err := query.Values(ipapiQuery{Fields: "status,message,country,isp", Lang: c.Lang})
	if err != nil {
		return Annotation{}, fmt.Errorf("error encoding query: %w", err)
	}
	endpoint := c.Endpoint
	if endpoint == "" {
		endpoint = defaultIPAPIEndpoint
	}
	u := strings.TrimRight(endpoint, "/") + "/json/" + addr.String() + "?" + v.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Annotation{}, fmt.Errorf("error creating request: %w", err)
	}
	httpclient := c.HTTPClient
	if httpclient == nil {
		httpclient = http.DefaultClient
	}
	resp, err := httpclient.Do(req)
	if err != nil {
		return Annotation{}, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Annotation{}, fmt.Errorf("http request returned %s", resp.Status)
	}

	var r ipapiResponse
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return Annotation{}, fmt.Errorf("error decoding response: %w", err)
	}
	if r.Status != "success" {
		return Annotation{Region: UnknownRegion, ISP: UnknownISP}, nil
	}

	a := Annotation{Region: strings.TrimSpace(r.Country), ISP: strings.TrimSpace(r.ISP)}
	if a.Region == "" {
		a.Region = UnknownRegion
	}
	if a.ISP == "" {
		a.ISP = UnknownISP
	}
	return a, nil
}

// Enricher annotates addresses, asking the Locator only about addresses missing from the cache.
type Enricher struct {
	// Locator may be nil, in which case uncached addresses get placeholders.
	Locator Locator

	// Limiter paces lookups. Nil means no limit.
	Limiter *rate.Limiter

	Logger logrus.FieldLogger
}

// NewEnricher returns an Enricher that makes at most one lookup per interval.
func NewEnricher(locator Locator, interval time.Duration, logger logrus.FieldLogger) *Enricher {
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &Enricher{
		Locator: locator,
		Limiter: rate.NewLimiter(limit, 1),
		Logger:  logger,
	}
}

// Results maps each address to its annotation.
type Results map[netip.Addr]Annotation

// Enrich annotates addrs. Cached addresses never reach the Locator;
// fresh lookups are added to cache.
// The returned error is non-nil only if ctx ends, in which case results are partial.
func (e *Enricher) Enrich(ctx context.Context, addrs []netip.Addr, cache *Cache) (results Results, lookedUp int, err error) {
	logger := e.Logger
	if logger == nil {
		logger = discard
	}

	results = make(Results, len(addrs))
	for _, addr := range addrs {
		if a, ok := cache.Get(addr); ok {
			results[addr] = a
			continue
		}
		if e.Locator == nil {
			results[addr] = Annotation{Region: UnknownRegion, ISP: UnknownISP}
			continue
		}

		if e.Limiter != nil {
			if err := e.Limiter.Wait(ctx); err != nil {
				return results, lookedUp, err
			}
		}
		a, err := e.Locator.Locate(ctx, addr)
		lookedUp++
		if err != nil {
			if ctx.Err() != nil {
				return results, lookedUp, ctx.Err()
			}
			logger.WithField("ip", addr).Warnf("geolocation lookup failed: %s", err)
			a = Annotation{Region: LookupFailed, ISP: UnknownISP}
		} else {
			cache.Put(addr, a)
		}
		results[addr] = a
	}
	return results, lookedUp, nil
}
