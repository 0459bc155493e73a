package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/pevans/buloradar/catalog"
	"github.com/pevans/buloradar/content"
)

func handleCatalogCommand(action string, args []string) {
	if action == "help" || action == "--help" || action == "-h" {
		printCatalogUsage()
		return
	}

	cfg, logger := mustSetup()
	defer logger.Sync()

	store, err := catalog.NewStore(cfg.Catalog.DSN)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to open catalogue: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	switch action {
	case "list":
		handleCatalogList(store, args)
	case "search":
		handleCatalogSearch(store, args)
	case "show":
		handleCatalogShow(store, args)
	case "add":
		handleCatalogAdd(store, args)
	case "delete":
		handleCatalogDelete(store, args)
	case "import":
		handleCatalogImport(store, args)
	case "stats":
		handleCatalogStats(store)
	case "report":
		handleCatalogReport(store, args)
	case "reports":
		handleCatalogReports(store, args)
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown catalog command: %s\n\n", action)
		printCatalogUsage()
		os.Exit(1)
	}
}

func printCatalogUsage() {
	fmt.Println("buloradar catalog - Manage the catalogue of known hoaxes")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  buloradar catalog <action> [arguments]")
	fmt.Println()
	fmt.Println("Actions:")
	fmt.Println("  list       List the most recent bulos")
	fmt.Println("  search     Search bulos by text, category, platform or danger level")
	fmt.Println("  show       Show one bulo as JSON")
	fmt.Println("  add        Add a bulo")
	fmt.Println("  delete     Delete a bulo")
	fmt.Println("  import     Import a fact-checker RSS or Atom feed")
	fmt.Println("  stats      Show catalogue statistics")
	fmt.Println("  report     File a user report and triage it against the catalogue")
	fmt.Println("  reports    List user reports")
	fmt.Println("  help       Show this help message")
}

func handleCatalogList(store *catalog.Store, args []string) {
	fs := flag.NewFlagSet("catalog list", flag.ExitOnError)
	limit := fs.Int("limit", 20, "Maximum number of bulos")
	fs.Parse(args)

	bulos, err := store.Recent(*limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to list bulos: %v\n", err)
		os.Exit(1)
	}
	printBuloTable(bulos)
}

func handleCatalogSearch(store *catalog.Store, args []string) {
	fs := flag.NewFlagSet("catalog search", flag.ExitOnError)
	category := fs.String("category", "", "Filter by category")
	platform := fs.String("platform", "", "Filter by platform")
	danger := fs.String("danger", "", "Filter by danger level (alto, medio, bajo)")
	since := fs.String("since", "", "Only bulos published within this duration (e.g. 24h)")
	limit := fs.Int("limit", 50, "Maximum number of bulos")
	fs.Parse(args)

	filter := catalog.Filter{
		Query:       fs.Arg(0),
		Category:    *category,
		Platform:    *platform,
		DangerLevel: catalog.DangerLevel(*danger),
		Limit:       *limit,
	}
	if *since != "" {
		d, err := time.ParseDuration(*since)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: invalid --since: %v\n", err)
			os.Exit(1)
		}
		t := time.Now().Add(-d)
		filter.Since = &t
	}

	bulos, err := store.Search(filter)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to search bulos: %v\n", err)
		os.Exit(1)
	}
	printBuloTable(bulos)
}

func handleCatalogShow(store *catalog.Store, args []string) {
	id := parseBuloID(args, "show")

	bulo, err := store.Get(id)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(bulo)
}

func handleCatalogAdd(store *catalog.Store, args []string) {
	fs := flag.NewFlagSet("catalog add", flag.ExitOnError)
	title := fs.String("title", "", "Short headline")
	description := fs.String("description", "", "The claim exactly as it circulates")
	truth := fs.String("truth", "", "Debunking explanation (Markdown)")
	platform := fs.String("platform", "", "Where it circulates")
	category := fs.String("category", "", "Category")
	danger := fs.String("danger", "medio", "Danger level (alto, medio, bajo)")
	url := fs.String("url", "", "URL of the original post")
	imageURL := fs.String("image", "", "Image URL circulated with the claim")
	sourceName := fs.String("source-name", "", "Name of the fact-check source")
	sourceURL := fs.String("source-url", "", "URL of the fact-check source")
	fs.Parse(args)

	for flagName, value := range map[string]string{"title": *title, "description": *description, "truth": *truth} {
		if value == "" {
			fmt.Fprintf(os.Stderr, "Error: --%s is required\n", flagName)
			fs.Usage()
			os.Exit(1)
		}
	}

	in := catalog.NewBulo{
		Title:       *title,
		Description: *description,
		Truth:       *truth,
		Platform:    *platform,
		Category:    *category,
		DangerLevel: catalog.DangerLevel(*danger),
	}
	if *url != "" {
		in.URL = url
	}
	if *imageURL != "" {
		in.ImageURL = imageURL
	}
	if *sourceURL != "" {
		name := *sourceName
		if name == "" {
			name = *sourceURL
		}
		in.Sources = []content.Source{{Name: name, URL: *sourceURL}}
	}

	bulo, err := store.Create(in)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to create bulo: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("✓ Created bulo: %s\n", bulo.ID.String())
	fmt.Printf("  Title: %s\n", bulo.Title)
	fmt.Printf("  Danger: %s\n", bulo.DangerLevel)
	fmt.Printf("  Fingerprint: %s\n", bulo.Fingerprint)
}

func handleCatalogDelete(store *catalog.Store, args []string) {
	id := parseBuloID(args, "delete")

	if err := store.Delete(id); err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to delete bulo: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("✓ Deleted bulo: %s\n", id.String())
}

func handleCatalogImport(store *catalog.Store, args []string) {
	fs := flag.NewFlagSet("catalog import", flag.ExitOnError)
	platform := fs.String("platform", "web", "Platform to record for imported bulos")
	timeout := fs.Duration("timeout", 60*time.Second, "Fetch timeout")
	fs.Parse(args)

	if fs.NArg() < 1 {
		fmt.Fprintf(os.Stderr, "Error: feed URL is required\n")
		fmt.Fprintf(os.Stderr, "Usage: buloradar catalog import [-platform name] <feed-url>\n")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	result, err := catalog.ImportFeed(ctx, store, fs.Arg(0), *platform)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: import failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("✓ Imported %d bulos (%d skipped)\n", result.Imported, result.Skipped)
}

func handleCatalogStats(store *catalog.Store) {
	stats, err := store.Stats()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to compute stats: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Total bulos: %d\n", stats.Total)
	printCounts("By category", stats.ByCategory)
	printCounts("By platform", stats.ByPlatform)

	fmt.Println()
	fmt.Println("Last 7 days:")
	days := make([]string, 0, len(stats.LastWeek))
	for day := range stats.LastWeek {
		days = append(days, day)
	}
	sort.Strings(days)
	for _, day := range days {
		fmt.Printf("  %s  %d\n", day, stats.LastWeek[day])
	}
}

func handleCatalogReport(store *catalog.Store, args []string) {
	fs := flag.NewFlagSet("catalog report", flag.ExitOnError)
	url := fs.String("url", "", "URL of the reported post")
	platform := fs.String("platform", "", "Where it circulates")
	description := fs.String("description", "", "What the post claims")
	email := fs.String("email", "", "Contact address of the reporter")
	fs.Parse(args)

	in := catalog.NewReport{URL: *url, Platform: *platform, Description: *description}
	if *email != "" {
		in.Email = email
	}

	report, err := store.CreateReport(in)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to file report: %v\n", err)
		os.Exit(1)
	}

	report, err = store.TriageReport(report.ID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to triage report: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("✓ Filed report: %s\n", report.ID.String())
	fmt.Printf("  Status: %s\n", report.Status)
	if report.BuloID != nil {
		fmt.Printf("  Matches bulo: %s\n", report.BuloID.String())
	}
}

func handleCatalogReports(store *catalog.Store, args []string) {
	fs := flag.NewFlagSet("catalog reports", flag.ExitOnError)
	status := fs.String("status", "", "Filter by status (pending, matched, unmatched)")
	limit := fs.Int("limit", 50, "Maximum number of reports")
	fs.Parse(args)

	reports, err := store.ListReports(catalog.ReportStatus(*status), *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to list reports: %v\n", err)
		os.Exit(1)
	}

	if len(reports) == 0 {
		fmt.Println("No reports found.")
		return
	}

	fmt.Printf("%-36s %-9s %-10s %-10s %s\n", "ID", "STATUS", "PLATFORM", "FILED", "URL")
	fmt.Println("----------------------------------------------------------------------------------------------------")
	for _, r := range reports {
		fmt.Printf("%-36s %-9s %-10s %-10s %s\n",
			r.ID.String(),
			r.Status,
			truncate(r.Platform, 10),
			r.CreatedAt.Format(time.DateOnly),
			truncate(r.URL, 60),
		)
	}
}

func printCounts(title string, counts map[string]int) {
	if len(counts) == 0 {
		return
	}
	fmt.Println()
	fmt.Printf("%s:\n", title)

	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return keys[i] < keys[j]
	})
	for _, k := range keys {
		fmt.Printf("  %-20s %d\n", k, counts[k])
	}
}

func printBuloTable(bulos []catalog.Bulo) {
	if len(bulos) == 0 {
		fmt.Println("No bulos found.")
		return
	}

	fmt.Printf("%-36s %-6s %-12s %-10s %s\n", "ID", "DANGER", "CATEGORY", "PUBLISHED", "TITLE")
	fmt.Println("----------------------------------------------------------------------------------------------------")
	for _, b := range bulos {
		fmt.Printf("%-36s %-6s %-12s %-10s %s\n",
			b.ID.String(),
			b.DangerLevel,
			truncate(b.Category, 12),
			b.PublishedAt.Format(time.DateOnly),
			truncate(b.Title, 60),
		)
	}
}

func parseBuloID(args []string, action string) uuid.UUID {
	if len(args) < 1 {
		fmt.Fprintf(os.Stderr, "Error: bulo ID is required\n")
		fmt.Fprintf(os.Stderr, "Usage: buloradar catalog %s <bulo-id>\n", action)
		os.Exit(1)
	}

	id, err := uuid.Parse(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid bulo ID: %v\n", err)
		os.Exit(1)
	}
	return id
}
