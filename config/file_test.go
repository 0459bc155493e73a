package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test helper: write config.yaml under a fake home directory
func writeHomeConfig(t *testing.T, content string) {
	t.Helper()
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)

	dir := filepath.Join(tmpDir, ".buloradar")
	require.NoError(t, os.MkdirAll(dir, 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0o600))
}

func TestLoadDefaultFile_NoFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg, err := LoadDefaultFile()
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg, "missing file yields the defaults")
}

func TestLoadDefaultFile_ValidConfig(t *testing.T) {
	writeHomeConfig(t, `classifier:
  endpoint: "https://verdicts.example.com/classify"
  timeout: 2s
extractor:
  text_selectors: ["p", ".post-body"]
  min_text_length: 40
dedup:
  ttl: 5m
watcher:
  debounce: 500ms
alert:
  mount_selector: "#main"
pipeline:
  concurrency: 8
catalog:
  dsn: "/var/lib/buloradar/catalog.db"
log:
  level: debug
  development: true
api:
  addr: "127.0.0.1:9090"
import:
  interval: 30m
  feeds:
    - url: "https://factcheck.example.com/feed"
      platform: web
`)

	cfg, err := LoadDefaultFile()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "https://verdicts.example.com/classify", cfg.Classifier.Endpoint)
	assert.Equal(t, 2*time.Second, cfg.Classifier.Timeout)
	assert.Equal(t, []string{"p", ".post-body"}, cfg.Extractor.TextSelectors)
	assert.Equal(t, 40, cfg.Extractor.MinTextLength)
	assert.Equal(t, 5*time.Minute, cfg.Dedup.TTL)
	assert.Equal(t, 500*time.Millisecond, cfg.Watcher.Debounce)
	assert.Equal(t, "#main", cfg.Alert.MountSelector)
	assert.Equal(t, 8, cfg.Pipeline.Concurrency)
	assert.Equal(t, "/var/lib/buloradar/catalog.db", cfg.Catalog.DSN)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Log.Development)
	assert.Equal(t, "127.0.0.1:9090", cfg.API.Addr)
	assert.Equal(t, 30*time.Minute, cfg.Import.Interval)
	assert.Equal(t, 3, cfg.Import.Concurrency, "unset keys keep defaults")
	require.Len(t, cfg.Import.Feeds, 1)
	assert.Equal(t, "web", cfg.Import.Feeds[0].Platform)
	assert.NoError(t, cfg.Validate())
}

// TestLoad_PartialConfig verifies omitted keys keep their defaults
func TestLoad_PartialConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("dedup:\n  ttl: 1m\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	defaults := Default()
	assert.Equal(t, time.Minute, cfg.Dedup.TTL)
	assert.Equal(t, defaults.Classifier, cfg.Classifier)
	assert.Equal(t, defaults.Extractor, cfg.Extractor)
	assert.Equal(t, defaults.Watcher, cfg.Watcher)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("dedup:\n  - not a mapping\n"), 0o600))

	cfg, err := Load(path)
	assert.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "failed to parse config file")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorContains(t, err, "failed to read config file")
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Default().Validate())

	cfg := Default()
	cfg.Classifier.Endpoint = ""
	cfg.Dedup.TTL = 0
	cfg.Pipeline.Concurrency = -1
	cfg.Pipeline.ScanChunk = -1
	cfg.Extractor.TextSelectors = []string{"p[["}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "classifier.endpoint")
	assert.Contains(t, err.Error(), "dedup.ttl")
	assert.Contains(t, err.Error(), "pipeline.concurrency")
	assert.Contains(t, err.Error(), "pipeline.scan_chunk")
	assert.Contains(t, err.Error(), "extractor")
}
