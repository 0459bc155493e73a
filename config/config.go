// Package config holds the settings shared by the buloradar commands.
package config

import (
	"errors"
	"fmt"

	"github.com/pevans/buloradar/alert"
	"github.com/pevans/buloradar/catalog"
	"github.com/pevans/buloradar/classifier"
	"github.com/pevans/buloradar/dedup"
	"github.com/pevans/buloradar/extractor"
	"github.com/pevans/buloradar/logging"
	"github.com/pevans/buloradar/watcher"
)

// CatalogConfig locates the catalogue database.
type CatalogConfig struct {
	DSN string `yaml:"dsn"`
}

// APIConfig holds the catalogue API listener settings.
type APIConfig struct {
	Addr string `yaml:"addr"`
}

// PipelineConfig holds settings for the scan pipeline itself.
type PipelineConfig struct {
	Concurrency int `yaml:"concurrency"`
	// ScanChunk is how many units are extracted per page view.
	ScanChunk int `yaml:"scan_chunk"`
}

// Config represents the structure of ~/.buloradar/config.yaml.
type Config struct {
	Classifier classifier.Config    `yaml:"classifier"`
	Extractor  extractor.Config     `yaml:"extractor"`
	Dedup      dedup.Config         `yaml:"dedup"`
	Watcher    watcher.Config       `yaml:"watcher"`
	Alert      alert.Config         `yaml:"alert"`
	Pipeline   PipelineConfig       `yaml:"pipeline"`
	Catalog    CatalogConfig        `yaml:"catalog"`
	Import     catalog.ImportConfig `yaml:"import"`
	Log        logging.Config       `yaml:"log"`
	API        APIConfig            `yaml:"api"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Classifier: classifier.DefaultConfig(),
		Extractor:  extractor.DefaultConfig(),
		Dedup:      dedup.DefaultConfig(),
		Watcher:    watcher.DefaultConfig(),
		Alert:      alert.DefaultConfig(),
		Pipeline:   PipelineConfig{Concurrency: 5, ScanChunk: 256},
		Catalog:    CatalogConfig{DSN: "buloradar.db"},
		Import:     catalog.DefaultImportConfig(),
		Log:        logging.DefaultConfig(),
		API:        APIConfig{Addr: ":8080"},
	}
}

// Validate checks the settings every command depends on.
func (c *Config) Validate() error {
	var errs []error

	if c.Classifier.Endpoint == "" {
		errs = append(errs, errors.New("classifier.endpoint is required"))
	}
	if c.Classifier.Timeout <= 0 {
		errs = append(errs, errors.New("classifier.timeout must be positive"))
	}
	if c.Dedup.TTL <= 0 {
		errs = append(errs, errors.New("dedup.ttl must be positive"))
	}
	if c.Watcher.Debounce <= 0 {
		errs = append(errs, errors.New("watcher.debounce must be positive"))
	}
	if c.Pipeline.Concurrency <= 0 {
		errs = append(errs, errors.New("pipeline.concurrency must be positive"))
	}
	if c.Pipeline.ScanChunk < 0 {
		errs = append(errs, errors.New("pipeline.scan_chunk must not be negative"))
	}
	if c.Alert.MountSelector == "" {
		errs = append(errs, errors.New("alert.mount_selector is required"))
	}
	for i, feed := range c.Import.Feeds {
		if feed.URL == "" {
			errs = append(errs, fmt.Errorf("import.feeds[%d].url is required", i))
		}
	}
	if err := c.Extractor.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("extractor: %w", err))
	}

	return errors.Join(errs...)
}
