package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/Travis-Britz/ipsync/collect"
	"github.com/Travis-Britz/ipsync/internal/config"
	"github.com/Travis-Britz/ipsync/internal/httpclient"
)

var flags = struct {
	ConfigFile string
	Output     string
	Format     string
	Geo        bool
	Verbose    bool
}{
	Geo: true,
}

var logger = logrus.New()

func init() {
	flag.StringVar(&flags.ConfigFile, "config", "", "Path to a TOML config file")
	flag.StringVar(&flags.Output, "o", "", "Output file, also read as the geolocation cache (default from config, ip.txt)")
	flag.StringVar(&flags.Format, "format", "", "Output format: bare, annotated or grouped (default from config, bare)")
	flag.BoolVar(&flags.Geo, "geo", flags.Geo, "Look up the location of new addresses")
	flag.BoolVar(&flags.Verbose, "v", false, "Enable verbose logging")

	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
}

func main() {
	flag.Parse()
	if flags.Verbose {
		logger.SetLevel(logrus.DebugLevel)
	}

	if err := run(); err != nil {
		logger.Error(err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(flags.ConfigFile)
	if err != nil {
		return err
	}
	st, err := resolveSettings(cfg)
	if err != nil {
		return err
	}

	httpClient := httpclient.New(httpclient.Options{
		Timeout: cfg.Collect.Timeout.Std(),
		Retries: cfg.Collect.Retries,
	})

	scraper := collect.NewScraper(cfg.Collect.Targets, httpClient, logger)
	scraper.Timeout = cfg.Collect.Timeout.Std()

	var locator collect.Locator
	if st.Geo {
		locator = &collect.IPAPI{
			Endpoint:   cfg.Collect.Geo.Endpoint,
			Lang:       cfg.Collect.Geo.Lang,
			HTTPClient: httpClient,
			Timeout:    cfg.Collect.Geo.Timeout.Std(),
		}
	} else {
		logger.Info("geolocation disabled")
	}

	c := &collect.Collector{
		Scraper:    scraper,
		Enricher:   collect.NewEnricher(locator, cfg.Collect.Geo.Interval.Std(), logger),
		OutputPath: st.Output,
		Format:     st.Format,
		Logger:     logger,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	summary, err := c.Run(ctx)
	if errors.Is(err, context.Canceled) {
		logger.Warn("interrupted; output file left unchanged")
		return nil
	}
	if err != nil {
		return err
	}
	if summary.Total == 0 {
		logger.Warn("no addresses found")
	}
	return nil
}

// settings are the values where flags take part in the decision.
type settings struct {
	Output string
	Format collect.Format
	Geo    bool
}

// resolveSettings applies the flags over cfg: -o and -format replace the configured values when given,
// and lookups run only if both -geo and the config allow them.
func resolveSettings(cfg *config.Config) (settings, error) {
	st := settings{
		Output: cfg.Collect.Output,
		Geo:    flags.Geo && cfg.Collect.Geo.Enabled,
	}
	if flags.Output != "" {
		st.Output = flags.Output
	}
	format := cfg.Collect.Format
	if flags.Format != "" {
		format = flags.Format
	}
	f, err := collect.ParseFormat(format)
	if err != nil {
		return settings{}, err
	}
	st.Format = f
	return st, nil
}
