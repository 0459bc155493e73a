package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pevans/buloradar/classifier"
	"github.com/pevans/buloradar/config"
	"github.com/pevans/buloradar/content"
	"github.com/pevans/buloradar/page"
	"github.com/pevans/buloradar/pipeline"
	"go.uber.org/zap"
)

func handleScan(args []string) {
	fs := flag.NewFlagSet("scan", flag.ExitOnError)
	out := fs.String("out", "", "Write the annotated HTML to this file")
	timeout := fs.Duration("timeout", 30*time.Second, "Overall time limit for the scan")
	fs.Parse(args)

	if fs.NArg() < 1 {
		fmt.Fprintf(os.Stderr, "Error: a URL or file is required\n")
		fmt.Fprintf(os.Stderr, "Usage: buloradar scan [-out file] <url|file>\n")
		os.Exit(1)
	}
	target := fs.Arg(0)

	cfg, logger := mustSetup()
	defer logger.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	pg, err := openPage(ctx, target)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to load page: %v\n", err)
		os.Exit(1)
	}

	p, err := newPipeline(cfg, pg, pipelineOptions(cfg, logger))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer p.Close()

	result, err := p.Scan(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: scan failed: %v\n", err)
		os.Exit(1)
	}
	p.Wait()

	fmt.Printf("✓ Scanned %s\n", pg.URL())
	fmt.Printf("  Units: %d (classified %d, duplicates %d)\n",
		result.Units, result.Forwarded, result.Suppressed)

	flagged := p.Flagged()
	if len(flagged) == 0 {
		fmt.Println("No known hoaxes found.")
	}
	for _, v := range flagged {
		printVerdict(v)
	}

	if *out != "" {
		html, err := pg.HTML()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to render page: %v\n", err)
			os.Exit(1)
		}
		if err := os.WriteFile(*out, []byte(html), 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to write %s: %v\n", *out, err)
			os.Exit(1)
		}
		fmt.Printf("✓ Wrote annotated page to %s\n", *out)
	}
}

// openPage fetches http(s) targets and reads anything else from disk.
func openPage(ctx context.Context, target string) (*page.Page, error) {
	if strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://") {
		return page.Fetch(ctx, nil, target)
	}
	return page.Open(target)
}

// pipelineOptions maps cfg onto pipeline options.
func pipelineOptions(cfg *config.Config, logger *zap.Logger) pipeline.Options {
	opts := pipeline.DefaultOptions()
	opts.Extractor = cfg.Extractor
	opts.Dedup = cfg.Dedup
	opts.Alert = cfg.Alert
	opts.Watcher = cfg.Watcher
	opts.Concurrency = cfg.Pipeline.Concurrency
	opts.ScanChunk = cfg.Pipeline.ScanChunk
	opts.Logger = logger
	return opts
}

// newPipeline wires a pipeline over pg with the HTTP classifier.
func newPipeline(cfg *config.Config, pg *page.Page, opts pipeline.Options) (*pipeline.Pipeline, error) {
	client, err := classifier.NewClient(cfg.Classifier, nil)
	if err != nil {
		return nil, err
	}
	return pipeline.New(pg, client, opts)
}

func printVerdict(v content.Verdict) {
	fmt.Println()
	fmt.Printf("⚠ %s\n", v.Title)
	if v.Description != "" {
		fmt.Printf("  Claim: %s\n", truncate(v.Description, 120))
	}
	if v.Explanation != "" {
		fmt.Printf("  Truth: %s\n", truncate(v.Explanation, 120))
	}
	for _, src := range v.Sources {
		fmt.Printf("  Source: %s <%s>\n", src.Name, src.URL)
	}
	if v.Reference != "" {
		fmt.Printf("  Catalogue entry: %s\n", v.Reference)
	}
}
