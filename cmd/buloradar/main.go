package main

import (
	"fmt"
	"os"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	subcommand := os.Args[1]

	switch subcommand {
	case "scan":
		handleScan(os.Args[2:])
	case "watch":
		handleWatch(os.Args[2:])
	case "catalog":
		if len(os.Args) < 3 {
			printCatalogUsage()
			os.Exit(1)
		}
		handleCatalogCommand(os.Args[2], os.Args[3:])
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown command: %s\n\n", subcommand)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("buloradar - Flag known hoaxes in web pages")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  buloradar <command> [arguments]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  scan       Scan a page once and print the alerts")
	fmt.Println("  watch      Rescan a local page whenever it changes")
	fmt.Println("  catalog    Manage the catalogue of known hoaxes")
	fmt.Println("  help       Show this help message")
	fmt.Println()
	fmt.Println("Environment Variables:")
	fmt.Println("  BULORADAR_CONFIG              Config file (default: ~/.buloradar/config.yaml)")
	fmt.Println("  BULORADAR_CLASSIFIER_URL      Verdict service endpoint")
	fmt.Println("  BULORADAR_CLASSIFIER_TIMEOUT  Timeout per classification (default: 5s)")
	fmt.Println("  BULORADAR_CONCURRENCY         Classifications in flight (default: 5)")
	fmt.Println("  BULORADAR_CATALOG_DSN         Path to catalogue database (default: buloradar.db)")
	fmt.Println("  BULORADAR_LOG_LEVEL           debug, info, warn or error (default: info)")
	fmt.Println("  BULORADAR_METRICS_ADDR        Metrics address for watch (default: :9100)")
}
