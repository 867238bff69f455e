package collect

import (
	"context"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
)

var discard = func() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}()

// Summary counts what a collector run did.
type Summary struct {
	// Total is the number of distinct addresses written.
	Total int

	// Cached is how many of them were annotated from the cache.
	Cached int

	// LookedUp is how many locator requests were made.
	LookedUp int
}

// Collector runs the scrape pipeline: load the cache, scrape, enrich, write.
type Collector struct {
	Scraper  *Scraper
	Enricher *Enricher

	// CachePath is the file read at the start of the run. It defaults to OutputPath,
	// so each run's output seeds the next run's cache.
	CachePath string

	OutputPath string
	Format     Format

	Logger logrus.FieldLogger
}

// Run executes the pipeline once.
// Nothing is written if ctx ends before the results are complete.
func (c *Collector) Run(ctx context.Context) (Summary, error) {
	logger := c.Logger
	if logger == nil {
		logger = discard
	}
	var summary Summary

	cachePath := c.CachePath
	if cachePath == "" {
		cachePath = c.OutputPath
	}
	cache, err := LoadCache(cachePath)
	if err != nil {
		return summary, err
	}
	logger.Debugf("loaded %d cached annotations from %s", cache.Len(), cachePath)

	set, err := c.Scraper.Scrape(ctx)
	if err != nil {
		return summary, fmt.Errorf("scrape interrupted: %w", err)
	}
	addrs := set.Sorted()
	logger.Infof("found %d distinct addresses", len(addrs))

	for _, addr := range addrs {
		if _, ok := cache.Get(addr); ok {
			summary.Cached++
		}
	}

	enricher := c.Enricher
	if enricher == nil {
		enricher = &Enricher{Logger: logger}
	}
	results, lookedUp, err := enricher.Enrich(ctx, addrs, cache)
	summary.LookedUp = lookedUp
	if err != nil {
		return summary, fmt.Errorf("enrichment interrupted: %w", err)
	}

	if err := WriteResults(c.OutputPath, results, c.Format); err != nil {
		return summary, err
	}
	summary.Total = len(results)
	logger.WithField("file", c.OutputPath).Infof("wrote %d addresses (%d cached, %d looked up)", summary.Total, summary.Cached, summary.LookedUp)
	return summary, nil
}
