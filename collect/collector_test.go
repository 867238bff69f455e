package collect_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/Travis-Britz/ipsync/collect"
)

func pageServer(t *testing.T, body string, status int) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv.URL
}

func TestScrapeSkipsFailedTargets(t *testing.T) {
	targets := []string{
		pageServer(t, "<tr><td>203.0.113.5</td></tr>", http.StatusOK),
		pageServer(t, "203.0.113.99", http.StatusInternalServerError),
		"http://127.0.0.1:1/unreachable",
		pageServer(t, "198.51.100.7 and 203.0.113.5", http.StatusOK),
	}
	s := collect.NewScraper(targets, nil, nil)
	set, err := s.Scrape(context.Background())
	if err != nil {
		t.Fatalf("Scrape failed: %s", err)
	}
	if set.Len() != 2 {
		t.Fatalf("Expected 2 addresses; got %v", set.Sorted())
	}
}

func TestCollectorDedupesAcrossPages(t *testing.T) {
	targets := []string{
		pageServer(t, "first page: 203.0.113.5, 192.0.2.10", http.StatusOK),
		pageServer(t, "second page: 203.0.113.5", http.StatusOK),
	}
	out := filepath.Join(t.TempDir(), "ip.txt")
	c := &collect.Collector{
		Scraper:    collect.NewScraper(targets, nil, nil),
		OutputPath: out,
		Format:     collect.FormatBare,
	}
	summary, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %s", err)
	}
	if summary.Total != 2 {
		t.Fatalf("Expected 2 addresses; got %+v", summary)
	}
	b, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if expected := "192.0.2.10\n203.0.113.5\n"; string(b) != expected {
		t.Fatalf("Expected %q; got %q", expected, string(b))
	}
}

func TestCollectorReusesAnnotatedOutput(t *testing.T) {
	srv, hits := ipapiServer(t, map[string][2]string{
		"203.0.113.5": {"Japan", "Example Networks"},
		"192.0.2.10":  {"Germany", "Other Networks"},
	})
	targets := []string{pageServer(t, "203.0.113.5 192.0.2.10", http.StatusOK)}
	out := filepath.Join(t.TempDir(), "ip.txt")
	if err := os.WriteFile(out, []byte("203.0.113.5#Japan-1#Example Networks\n"), 0644); err != nil {
		t.Fatal(err)
	}

	c := &collect.Collector{
		Scraper:    collect.NewScraper(targets, nil, nil),
		Enricher:   collect.NewEnricher(&collect.IPAPI{Endpoint: srv.URL, HTTPClient: srv.Client()}, 0, nil),
		OutputPath: out,
		Format:     collect.FormatAnnotated,
	}
	summary, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %s", err)
	}
	if summary.Total != 2 || summary.Cached != 1 || summary.LookedUp != 1 || hits.Load() != 1 {
		t.Fatalf("Unexpected summary %+v (%d requests)", summary, hits.Load())
	}

	b, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	expected := "192.0.2.10#Germany#Other Networks\n" +
		"203.0.113.5#Japan#Example Networks\n"
	if string(b) != expected {
		t.Fatalf("Expected %q; got %q", expected, string(b))
	}

	// the second run is served entirely from the file written by the first
	summary, err = c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %s", err)
	}
	if summary.Cached != 2 || summary.LookedUp != 0 || hits.Load() != 1 {
		t.Fatalf("Unexpected summary %+v (%d requests)", summary, hits.Load())
	}
}

func TestCollectorCancelledWritesNothing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := filepath.Join(t.TempDir(), "ip.txt")
	c := &collect.Collector{
		Scraper:    collect.NewScraper([]string{pageServer(t, "203.0.113.5", http.StatusOK)}, nil, nil),
		OutputPath: out,
	}
	if _, err := c.Run(ctx); err == nil {
		t.Fatalf("Expected an error for a cancelled run")
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Fatalf("Expected no output file; got %v", err)
	}
}
