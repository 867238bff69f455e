// Package httpclient builds the HTTP clients shared by the list fetcher, the scraper and the
// geolocation lookups.
package httpclient

import (
	"net/http"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"
)

// Options configures New.
type Options struct {
	// Timeout bounds each attempt, including reading the body.
	// Zero means no timeout.
	Timeout time.Duration

	// Retries is the number of additional attempts made after a connection error or a 5xx response.
	Retries int

	// Direct disables proxies configured through HTTP_PROXY, HTTPS_PROXY and friends.
	Direct bool
}

// Transport returns a pooled transport.
// When direct is true, the transport never consults the proxy environment.
func Transport(direct bool) *http.Transport {
	t := cleanhttp.DefaultPooledTransport()
	if direct {
		t.Proxy = nil
	}
	return t
}

// New returns an *http.Client that retries according to opts.
//
// Responses are always handed back to the caller, including the last one after retries are exhausted,
// so callers are expected to check the status code themselves.
func New(opts Options) *http.Client {
	rc := retryablehttp.NewClient()
	rc.HTTPClient = &http.Client{
		Transport: Transport(opts.Direct),
		Timeout:   opts.Timeout,
	}
	rc.RetryMax = opts.Retries
	rc.RetryWaitMin = 500 * time.Millisecond
	rc.RetryWaitMax = 5 * time.Second
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	rc.Logger = nil
	return rc.StandardClient()
}

// Direct returns a non-retrying client that ignores the proxy environment.
func Direct(timeout time.Duration) *http.Client {
	return &http.Client{
		Transport: Transport(true),
		Timeout:   timeout,
	}
}
