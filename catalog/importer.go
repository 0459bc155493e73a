package catalog

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// FeedSource is one fact-checker feed to import from.
type FeedSource struct {
	URL      string `yaml:"url" json:"url"`
	Platform string `yaml:"platform" json:"platform"`
}

// ImportConfig holds settings for the periodic feed importer.
type ImportConfig struct {
	Feeds []FeedSource `yaml:"feeds" json:"feeds"`
	// Interval between import rounds
	Interval time.Duration `yaml:"interval" json:"interval"`
	// Maximum number of feeds fetched in parallel
	Concurrency int `yaml:"concurrency" json:"concurrency"`
	// Timeout per feed fetch
	FetchTimeout time.Duration `yaml:"fetch_timeout" json:"fetch_timeout"`
}

// DefaultImportConfig imports hourly, three feeds at a time.
func DefaultImportConfig() ImportConfig {
	return ImportConfig{
		Interval:     time.Hour,
		Concurrency:  3,
		FetchTimeout: 60 * time.Second,
	}
}

// Importer keeps the catalogue fed from fact-checker feeds in the
// background.
type Importer struct {
	store     *Store
	config    ImportConfig
	logger    *zap.Logger
	semaphore chan struct{}
	wg        sync.WaitGroup
}

// NewImporter creates an importer. logger may be nil.
func NewImporter(store *Store, config ImportConfig, logger *zap.Logger) *Importer {
	defaults := DefaultImportConfig()
	if config.Interval <= 0 {
		config.Interval = defaults.Interval
	}
	if config.Concurrency <= 0 {
		config.Concurrency = defaults.Concurrency
	}
	if config.FetchTimeout <= 0 {
		config.FetchTimeout = defaults.FetchTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Importer{
		store:     store,
		config:    config,
		logger:    logger,
		semaphore: make(chan struct{}, config.Concurrency),
	}
}

// Run imports every feed immediately and then once per interval until ctx
// is cancelled. In-progress imports are waited for before returning.
func (im *Importer) Run(ctx context.Context) error {
	im.logger.Info("Feed importer starting",
		zap.Int("feeds", len(im.config.Feeds)),
		zap.Duration("interval", im.config.Interval))

	im.ImportAll(ctx)

	ticker := time.NewTicker(im.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			im.logger.Info("Feed importer stopping")
			im.wg.Wait()
			return ctx.Err()
		case <-ticker.C:
			im.ImportAll(ctx)
		}
	}
}

// ImportAll runs one import round and returns the combined result once
// every feed has been processed. Failing feeds are logged and skipped.
func (im *Importer) ImportAll(ctx context.Context) ImportResult {
	var mu sync.Mutex
	var total ImportResult
	var round sync.WaitGroup

	for _, feed := range im.config.Feeds {
		select {
		case <-ctx.Done():
			round.Wait()
			return total
		case im.semaphore <- struct{}{}:
		}

		im.wg.Add(1)
		round.Add(1)
		go func(feed FeedSource) {
			defer im.wg.Done()
			defer round.Done()
			defer func() { <-im.semaphore }()

			fetchCtx, cancel := context.WithTimeout(ctx, im.config.FetchTimeout)
			defer cancel()

			result, err := ImportFeed(fetchCtx, im.store, feed.URL, feed.Platform)
			if err != nil {
				im.logger.Warn("Feed import failed",
					zap.String("feed_url", feed.URL),
					zap.Error(err))
			}

			mu.Lock()
			total.Imported += result.Imported
			total.Skipped += result.Skipped
			mu.Unlock()

			if result.Imported > 0 {
				im.logger.Info("Imported bulos",
					zap.String("feed_url", feed.URL),
					zap.Int("imported", result.Imported),
					zap.Int("skipped", result.Skipped))
			}
		}(feed)
	}

	round.Wait()
	return total
}
