// Package config holds the settings for cfsync and collectips.
//
// The source lists and scrape targets are compiled in; a TOML file can override any of them.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"
)

type Config struct {
	Sync    Sync    `toml:"sync"`
	Collect Collect `toml:"collect"`
}

// Sync configures the DNS record synchronizer.
type Sync struct {
	// Proxied is the default for the Cloudflare proxy flag on new records.
	// The -proxied flag overrides it.
	Proxied bool `toml:"proxied"`

	// MaxEntries caps the number of IPs taken from each source.
	MaxEntries int `toml:"max_entries" validate:"min=1,max=1000"`

	// DrainRounds bounds the list-and-delete loop that clears a record name before inserting.
	DrainRounds int `toml:"drain_rounds" validate:"min=1,max=1000"`

	// Timeout bounds each request made to the IP list sources.
	Timeout Duration `toml:"timeout" validate:"gt=0"`

	Sources []Source `toml:"source" validate:"min=1,dive"`
}

// Source maps a subdomain to a newline-delimited IP list.
type Source struct {
	Subdomain string `toml:"subdomain" validate:"required,subdomain"`
	URL       string `toml:"url" validate:"required,url"`
}

// Collect configures the web scraper.
type Collect struct {
	Output  string   `toml:"output" validate:"required"`
	Format  string   `toml:"format" validate:"oneof=bare annotated grouped"`
	Timeout Duration `toml:"timeout" validate:"gt=0"`
	Retries int      `toml:"retries" validate:"min=0,max=10"`
	Targets []string `toml:"targets" validate:"min=1,dive,url"`
	Geo     Geo      `toml:"geo"`
}

// Geo configures the geolocation lookups made for IPs missing from the cache.
type Geo struct {
	Enabled  bool     `toml:"enabled"`
	Endpoint string   `toml:"endpoint" validate:"required,url"`
	Lang     string   `toml:"lang"`
	Interval Duration `toml:"interval" validate:"gte=0"`
	Timeout  Duration `toml:"timeout" validate:"gt=0"`
}

// Duration is a time.Duration written as a string in TOML, e.g. "500ms".
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", b, err)
	}
	*d = Duration(v)
	return nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Sync: Sync{
			MaxEntries:  20,
			DrainRounds: 10,
			Timeout:     Duration(30 * time.Second),
			Sources: []Source{
				{Subdomain: "bestcf", URL: "https://raw.githubusercontent.com/ymyuuu/IPDB/refs/heads/main/BestCF/bestcfv4.txt"},
				{Subdomain: "api", URL: "https://raw.githubusercontent.com/sightwww/yxym/refs/heads/main/ip.txt"},
				{Subdomain: "proxyip", URL: "https://raw.githubusercontent.com/sightwww/yxym/refs/heads/main/proxyip.txt"},
			},
		},
		Collect: Collect{
			Output:  "ip.txt",
			Format:  "bare",
			Timeout: Duration(10 * time.Second),
			Targets: []string{
				"https://api.uouin.com/cloudflare.html",
				"https://ip.164746.xyz",
				"https://ipdb.api.030101.xyz/?type=bestcf&country=true",
				"https://cf.090227.xyz",
				"https://stock.hostmonit.com/CloudFlareYes",
				"https://ip.haogege.xyz/",
				"https://ct.090227.xyz",
				"https://cmcc.090227.xyz",
				"https://addressesapi.090227.xyz/CloudFlareYes",
				"https://addressesapi.090227.xyz/ip.164746.xyz",
				"https://ipdb.api.030101.xyz/?type=cfv4;proxy",
				"https://ipdb.api.030101.xyz/?type=bestproxy&country=true",
				"https://www.wetest.vip/page/edgeone/address_v4.html",
				"https://www.wetest.vip/page/cloudfront/address_v4.html",
				"https://www.wetest.vip/page/cloudflare/address_v4.html",
				"https://raw.githubusercontent.com/ymyuuu/IPDB/refs/heads/main/BestCF/bestcfv4.txt",
			},
			Geo: Geo{
				Enabled:  true,
				Endpoint: "http://ip-api.com",
				Lang:     "zh-CN",
				Interval: Duration(500 * time.Millisecond),
				Timeout:  Duration(5 * time.Second),
			},
		},
	}
}

// Load reads the TOML file at path over the defaults and validates the result.
// An empty path returns the validated defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, cfg.Validate()
	}

	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// lists in the file replace the defaults instead of extending them
	sources, targets := cfg.Sync.Sources, cfg.Collect.Targets
	cfg.Sync.Sources, cfg.Collect.Targets = nil, nil

	if err := toml.Unmarshal(content, cfg); err != nil {
		var derr *toml.DecodeError
		if errors.As(err, &derr) {
			row, col := derr.Position()
			return nil, fmt.Errorf("failed to parse config file %s at line %d, column %d: %w", path, row, col, err)
		}
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	if cfg.Sync.Sources == nil {
		cfg.Sync.Sources = sources
	}
	if cfg.Collect.Targets == nil {
		cfg.Collect.Targets = targets
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
