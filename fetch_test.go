package ipsync_test

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Travis-Britz/ipsync"
)

func listServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func numberedIPs(n int) []string {
	ips := make([]string, n)
	for i := range ips {
		ips[i] = fmt.Sprintf("198.51.100.%d", i+1)
	}
	return ips
}

func TestFetchList(t *testing.T) {
	srv := listServer(t, "192.0.2.1\r\n  192.0.2.2  \n\n192.0.2.3\n")
	f := &ipsync.ListFetcher{}
	ips, err := f.FetchList(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Request failed: %s", err)
	}
	if expected := []string{"192.0.2.1", "192.0.2.2", "192.0.2.3"}; !equal(expected, ips) {
		t.Fatalf("Expected %q; got %q", expected, ips)
	}
}

func TestFetchListTruncates(t *testing.T) {
	all := numberedIPs(25)
	srv := listServer(t, strings.Join(all, "\n"))

	f := &ipsync.ListFetcher{}
	ips, err := f.FetchList(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Request failed: %s", err)
	}
	if expected := all[:20]; !equal(expected, ips) {
		t.Fatalf("Expected the first 20 in order; got %q", ips)
	}
}

func TestFetchListCustomLimit(t *testing.T) {
	srv := listServer(t, strings.Join(numberedIPs(5), "\n"))

	f := &ipsync.ListFetcher{MaxEntries: 2}
	ips, err := f.FetchList(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Request failed: %s", err)
	}
	if expected, got := 2, len(ips); expected != got {
		t.Fatalf("Expected %d entries; got %d", expected, got)
	}
}

func TestFetchListStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	f := &ipsync.ListFetcher{}
	ips, err := f.FetchList(context.Background(), srv.URL)
	if err == nil {
		t.Fatalf("Expected error response; got err == nil")
	}
	if ips != nil {
		t.Fatalf("Expected nil slice; got %+v", ips)
	}
}

func TestFetchListTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer srv.Close()

	f := &ipsync.ListFetcher{Timeout: 50 * time.Millisecond}
	if _, err := f.FetchList(context.Background(), srv.URL); err == nil {
		t.Fatalf("Expected a timeout error; got err == nil")
	}
}
