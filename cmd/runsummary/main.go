package main

import (
	"flag"
	"fmt"
	"os"
	"sort"

	"github.com/TehMM/bailiikc-fetcher/internal/config"
	"github.com/TehMM/bailiikc-fetcher/internal/database"
	"github.com/TehMM/bailiikc-fetcher/internal/reporting"
	"github.com/TehMM/bailiikc-fetcher/pkg/logger"
)

func main() {
	var runID uint
	var latest bool
	flag.UintVar(&runID, "run-id", 0, "Run ID to summarise")
	flag.BoolVar(&latest, "latest", false, "Summarise the most recent run")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	db, err := database.Initialize(cfg.DatabasePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open database: %v\n", err)
		os.Exit(1)
	}

	reporter := reporting.NewReporter(db, logger.NewNop())

	if latest && runID == 0 {
		id, ok, err := reporter.LatestRunID()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to resolve latest run: %v\n", err)
			os.Exit(1)
		}
		if !ok {
			fmt.Fprintln(os.Stderr, "No runs found")
			os.Exit(1)
		}
		runID = id
	}

	if runID == 0 {
		fmt.Fprintln(os.Stderr, "You must provide -run-id or -latest")
		os.Exit(2)
	}

	summary, err := reporter.SummariseDownloadsForRun(runID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Run %d\n", summary.RunID)
	for _, status := range sortedKeys(summary.StatusCounts) {
		fmt.Printf("  %s: %d\n", status, summary.StatusCounts[status])
	}

	if len(summary.FailReasons) > 0 {
		fmt.Println("\nFail reasons:")
		for _, code := range sortedKeys(summary.FailReasons) {
			fmt.Printf("  %s: %d\n", code, summary.FailReasons[code])
		}
	}

	if len(summary.SkipReasons) > 0 {
		fmt.Println("\nSkip reasons:")
		for _, code := range sortedKeys(summary.SkipReasons) {
			fmt.Printf("  %s: %d\n", code, summary.SkipReasons[code])
		}
	}
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
