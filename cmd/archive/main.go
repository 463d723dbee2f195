package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"ammledger/internal/archive"
	"ammledger/internal/observability"
	"ammledger/internal/postgres"
)

// Exit codes: 0 only when every qualifying event was copied and
// verified; 1 on partial or failed runs; 2 on usage errors.
func main() {
	var (
		domain    = flag.String("domain", "", "domain label for the migration run")
		source    = flag.String("source", "event_store.stored_events", "source events table")
		target    = flag.String("target", "event_store.archived_stored_events", "target events table")
		batchSize = flag.Int("batch-size", 500, "events copied per batch")
		olderThan = flag.String("older-than", "", "archive events created before this RFC3339 time; empty migrates everything")
	)
	flag.Parse()

	log := observability.NewLogger("archive")

	dsn := os.Getenv("AMM_POSTGRES_DSN")
	if dsn == "" {
		dsn = "postgres://localhost:5432/ammledger?sslmode=disable"
	}

	ctx := context.Background()
	db, err := postgres.Open(ctx, dsn)
	if err != nil {
		log.Fatal().Err(err).Msg("open db")
	}
	defer db.Close()

	metrics := observability.NewMetrics()
	archiver := archive.NewArchiver(db, metrics)

	var report archive.Report
	var runErr error

	if *olderThan != "" {
		cutoff, err := time.Parse(time.RFC3339, *olderThan)
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid --older-than %q: %v\n", *olderThan, err)
			os.Exit(2)
		}
		report, runErr = archiver.Archive(ctx, *source, *target, cutoff, *batchSize)
	} else {
		if *domain == "" {
			fmt.Fprintln(os.Stderr, "--domain is required for a full migration run")
			os.Exit(2)
		}
		report, runErr = archiver.Migrate(ctx, *domain, *source, *target, *batchSize)
	}

	out, _ := json.Marshal(map[string]interface{}{
		"domain":          report.Domain,
		"events_total":    report.EventsTotal,
		"events_migrated": report.EventsMigrated,
		"errors":          report.Errors,
		"checksum":        report.Checksum,
		"complete":        report.Complete,
	})
	fmt.Println(string(out))

	if runErr != nil {
		log.Error().Err(runErr).Msg("run failed")
		os.Exit(1)
	}
	if !report.Complete {
		os.Exit(1)
	}
}
