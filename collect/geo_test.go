package collect_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Travis-Britz/ipsync/collect"
)

// ipapiServer answers like ip-api.com for the addresses in known and fails the rest.
func ipapiServer(t *testing.T, known map[string][2]string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	hits := new(atomic.Int32)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)

		ip := strings.TrimPrefix(r.URL.Path, "/json/")
		if r.URL.Query().Get("fields") == "" {
			http.Error(w, "missing fields", http.StatusBadRequest)
			return
		}
		resp := map[string]string{"status": "fail", "message": "reserved range"}
		if loc, ok := known[ip]; ok {
			resp = map[string]string{"status": "success", "country": loc[0], "isp": loc[1]}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv, hits
}

func TestIPAPILocate(t *testing.T) {
	srv, _ := ipapiServer(t, map[string][2]string{
		"203.0.113.5": {"Japan", "Example Networks"},
		"203.0.113.6": {"Japan", ""},
	})
	c := &collect.IPAPI{Endpoint: srv.URL, Lang: "en", HTTPClient: srv.Client()}

	tests := map[string]collect.Annotation{
		"203.0.113.5": {Region: "Japan", ISP: "Example Networks"},
		"203.0.113.6": {Region: "Japan", ISP: collect.UnknownISP},
		"10.0.0.1":    {Region: collect.UnknownRegion, ISP: collect.UnknownISP},
	}
	for ip, expected := range tests {
		got, err := c.Locate(context.Background(), netip.MustParseAddr(ip))
		if err != nil {
			t.Fatalf("Locate(%s) failed: %s", ip, err)
		}
		if got != expected {
			t.Fatalf("Locate(%s): expected %+v; got %+v", ip, expected, got)
		}
	}
}

func TestIPAPISendsLang(t *testing.T) {
	lang := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lang <- r.URL.Query().Get("lang")
		w.Write([]byte(`{"status":"success","country":"日本","isp":"X"}`))
	}))
	defer srv.Close()

	c := &collect.IPAPI{Endpoint: srv.URL, Lang: "zh-CN", HTTPClient: srv.Client()}
	if _, err := c.Locate(context.Background(), netip.MustParseAddr("203.0.113.5")); err != nil {
		t.Fatalf("Locate failed: %s", err)
	}
	if expected, got := "zh-CN", <-lang; got != expected {
		t.Fatalf("Expected %q; got %q", expected, got)
	}
}

func TestIPAPIServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "too many requests", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := &collect.IPAPI{Endpoint: srv.URL, HTTPClient: srv.Client()}
	if _, err := c.Locate(context.Background(), netip.MustParseAddr("203.0.113.5")); err == nil {
		t.Fatalf("Expected an error for a 429 response")
	}
}

type locatorFunc func(context.Context, netip.Addr) (collect.Annotation, error)

func (f locatorFunc) Locate(ctx context.Context, addr netip.Addr) (collect.Annotation, error) {
	return f(ctx, addr)
}

func TestEnrichUsesCache(t *testing.T) {
	var asked []string
	loc := locatorFunc(func(_ context.Context, addr netip.Addr) (collect.Annotation, error) {
		asked = append(asked, addr.String())
		if addr == netip.MustParseAddr("203.0.113.9") {
			return collect.Annotation{}, errors.New("connection reset")
		}
		return collect.Annotation{Region: "Germany", ISP: "Fresh"}, nil
	})
	cache := collect.NewCache()
	cache.Put(netip.MustParseAddr("203.0.113.1"), collect.Annotation{Region: "Japan", ISP: "Cached"})

	e := collect.NewEnricher(loc, 0, nil)
	addrs := []netip.Addr{
		netip.MustParseAddr("203.0.113.1"),
		netip.MustParseAddr("203.0.113.2"),
		netip.MustParseAddr("203.0.113.9"),
	}
	results, lookedUp, err := e.Enrich(context.Background(), addrs, cache)
	if err != nil {
		t.Fatalf("Enrich failed: %s", err)
	}
	if lookedUp != 2 || len(asked) != 2 {
		t.Fatalf("Expected 2 lookups; got %d (%v)", lookedUp, asked)
	}

	tests := map[string]string{
		"203.0.113.1": "Japan#Cached",
		"203.0.113.2": "Germany#Fresh",
		"203.0.113.9": collect.LookupFailed + "#" + collect.UnknownISP,
	}
	for ip, expected := range tests {
		if got := results[netip.MustParseAddr(ip)].String(); got != expected {
			t.Fatalf("%s: expected %q; got %q", ip, expected, got)
		}
	}

	if _, ok := cache.Get(netip.MustParseAddr("203.0.113.2")); !ok {
		t.Fatalf("Expected fresh lookup to be cached")
	}
	if _, ok := cache.Get(netip.MustParseAddr("203.0.113.9")); ok {
		t.Fatalf("Expected failed lookup to stay out of the cache")
	}
}

func TestEnrichDisabled(t *testing.T) {
	e := collect.NewEnricher(nil, 0, nil)
	addr := netip.MustParseAddr("203.0.113.1")
	results, lookedUp, err := e.Enrich(context.Background(), []netip.Addr{addr}, collect.NewCache())
	if err != nil {
		t.Fatalf("Enrich failed: %s", err)
	}
	if lookedUp != 0 {
		t.Fatalf("Expected no lookups; got %d", lookedUp)
	}
	if expected := (collect.Annotation{Region: collect.UnknownRegion, ISP: collect.UnknownISP}); results[addr] != expected {
		t.Fatalf("Expected %+v; got %+v", expected, results[addr])
	}
}

func TestEnrichCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	loc := locatorFunc(func(ctx context.Context, addr netip.Addr) (collect.Annotation, error) {
		return collect.Annotation{}, ctx.Err()
	})
	e := collect.NewEnricher(loc, 0, nil)
	_, _, err := e.Enrich(ctx, []netip.Addr{netip.MustParseAddr("203.0.113.1")}, collect.NewCache())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled; got %v", err)
	}
}

func TestEnrichPacesLookups(t *testing.T) {
	const interval = 100 * time.Millisecond

	var calls []time.Time
	loc := locatorFunc(func(_ context.Context, addr netip.Addr) (collect.Annotation, error) {
		calls = append(calls, time.Now())
		return collect.Annotation{Region: "Japan", ISP: "Fresh"}, nil
	})
	cache := collect.NewCache()
	cache.Put(netip.MustParseAddr("203.0.113.1"), collect.Annotation{Region: "Japan", ISP: "Cached"})
	cache.Put(netip.MustParseAddr("203.0.113.2"), collect.Annotation{Region: "Japan", ISP: "Cached"})

	e := collect.NewEnricher(loc, interval, nil)
	addrs := []netip.Addr{
		netip.MustParseAddr("203.0.113.1"),
		netip.MustParseAddr("203.0.113.2"),
		netip.MustParseAddr("203.0.113.10"),
		netip.MustParseAddr("203.0.113.11"),
		netip.MustParseAddr("203.0.113.12"),
	}
	start := time.Now()
	_, lookedUp, err := e.Enrich(context.Background(), addrs, cache)
	if err != nil {
		t.Fatalf("Enrich failed: %s", err)
	}
	if lookedUp != 3 || len(calls) != 3 {
		t.Fatalf("Expected 3 lookups; got %d", len(calls))
	}

	// cached addresses neither wait nor spend the first token
	if wait := calls[0].Sub(start); wait >= interval/2 {
		t.Fatalf("Expected the first lookup to start immediately; waited %s", wait)
	}
	for i := 1; i < len(calls); i++ {
		if gap := calls[i].Sub(calls[i-1]); gap < interval*9/10 {
			t.Fatalf("Expected lookups at least %s apart; got %s between lookups %d and %d", interval, gap, i, i+1)
		}
	}
}
