// CLAUDE:SUMMARY CLI subcommands that run the batch pipeline and inspect its run ledger and input schemas.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/hazyhaar/fiscalflow/pkg/metrics"
	"github.com/hazyhaar/fiscalflow/pkg/money"
	"github.com/hazyhaar/fiscalflow/pkg/pipeline"
	"github.com/hazyhaar/fiscalflow/pkg/runlog"
)

func cmdETL(args []string) {
	fs := flag.NewFlagSet("etl", flag.ExitOnError)
	xlsx := fs.Bool("xlsx", false, "also write the flows workbook")
	_, cfg, logger := loadConfig(fs, args)
	if *xlsx {
		cfg.Output.XLSX = true
	}

	m, err := metrics.New()
	if err != nil {
		logger.Error("metrics", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	res, err := pipeline.Run(ctx, cfg, logger, m)
	if err != nil {
		logger.Error("etl failed", "error", err)
		os.Exit(1)
	}

	fmt.Printf("run %s\n", res.RunID)
	fmt.Printf("  files   %d ingested, %d skipped\n", res.Unify.Ingested, res.Unify.Skipped)
	fmt.Printf("  rows    %d (%d numeric fallbacks)\n", res.Unify.Rows, res.Unify.Fallbacks)
	fmt.Printf("  years   %v\n", res.Dataset.Years)
	for _, yg := range res.Graphs {
		hub := yg.Graph.Hub()
		fmt.Printf("  %d    revenue %s, expenditure %s\n", yg.Year,
			money.FormatBRL(yg.Graph.Inflow(hub.ID)), money.FormatBRL(yg.Graph.Outflow(hub.ID)))
	}
	for _, out := range res.Outputs {
		fmt.Printf("  wrote   %s\n", out)
	}
}

func cmdRuns(args []string) {
	fs := flag.NewFlagSet("runs", flag.ExitOnError)
	limit := fs.Int("n", 20, "number of runs to list")
	runID := fs.String("run", "", "show the input files of one run")
	asJSON := fs.Bool("json", false, "print JSON")
	_, cfg, logger := loadConfig(fs, args)

	if cfg.LedgerDB == "" {
		logger.Error("no run ledger configured (ledger_db)")
		os.Exit(1)
	}
	ledger, err := runlog.Open(cfg.LedgerDB)
	if err != nil {
		logger.Error("open ledger", "error", err)
		os.Exit(1)
	}
	defer ledger.Close()

	if *runID != "" {
		files, err := ledger.Files(*runID)
		if err != nil {
			logger.Error("list files", "error", err)
			os.Exit(1)
		}
		if *asJSON {
			printJSON(files)
			return
		}
		for _, f := range files {
			status := "ok"
			if f.Error != nil {
				status = *f.Error
			}
			fmt.Printf("  %-40s  %-7s  %6d rows  %s\n", f.Path, f.Encoding, f.Rows, status)
		}
		return
	}

	runs, err := ledger.ListRuns(*limit)
	if err != nil {
		logger.Error("list runs", "error", err)
		os.Exit(1)
	}
	if *asJSON {
		printJSON(runs)
		return
	}
	if len(runs) == 0 {
		fmt.Println("No runs recorded.")
		return
	}
	for _, r := range runs {
		started := time.Unix(r.StartedAt, 0).Format(time.DateTime)
		line := fmt.Sprintf("%s  %s  %-7s  %d files (%d skipped)  %d rows  years %v",
			r.ID, started, r.Status, r.FilesIngested, r.FilesSkipped, r.Rows, r.Years)
		if r.Error != nil {
			line += "  error: " + *r.Error
		}
		fmt.Println(line)
	}
}

func cmdSchemas(args []string) {
	fs := flag.NewFlagSet("schemas", flag.ExitOnError)
	fs.Parse(args)

	schemas := pipeline.Schemas()
	names := make([]string, 0, len(schemas))
	for name := range schemas {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		fmt.Printf("%-12s monetary columns: %s\n", name, strings.Join(schemas[name], ", "))
	}
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "encode: %v\n", err)
		os.Exit(1)
	}
}
