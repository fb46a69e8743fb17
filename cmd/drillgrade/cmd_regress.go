package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/drillgrade/internal/regress"
	"github.com/felixgeelhaar/drillgrade/internal/storage/sqlite"
)

// cmdRegress checks every sample solution in the catalog
func cmdRegress(args []string) error {
	fs := flag.NewFlagSet("regress", flag.ContinueOnError)
	langs := fs.String("lang", "", "comma separated languages to check (default: all)")
	concurrency := fs.Int("concurrency", 0, "simultaneous checks (default: runner pool size)")
	noStore := fs.Bool("no-store", false, "do not record the run in the history database")
	asJSON := fs.Bool("json", false, "print the full report as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, closeLog, err := loadLocal("regress")
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, cancel := signalContext()
	defer cancel()

	engine, cleanup, err := newEngine(ctx, engineOptions{Runner: cfg.Runner, CatalogPath: cfg.Catalog.Path})
	if err != nil {
		return err
	}
	defer cleanup()

	var store regress.Store
	if !*noStore {
		db, err := openHistory()
		if err != nil {
			return err
		}
		defer db.Close()
		store = sqlite.NewReportStore(db)
	}

	if *concurrency <= 0 {
		*concurrency = cfg.Runner.PoolSize
	}
	report, err := regress.NewRunner(engine, store).Run(ctx, regress.Options{
		Languages:   splitList(*langs),
		Concurrency: *concurrency,
	})
	if err != nil {
		return fmt.Errorf("regression run: %w", err)
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
	} else {
		printReport(report)
	}

	if !report.OK() {
		return fmt.Errorf("%d of %d checks failed", report.Failed, report.Total)
	}
	return nil
}

func printReport(r *regress.Report) {
	fmt.Printf("Regression run %s\n", r.ID)
	fmt.Println(strings.Repeat("=", 51))
	fmt.Printf("Checks:   %d\n", r.Total)
	fmt.Printf("Passed:   %d\n", r.Passed)
	fmt.Printf("Failed:   %d\n", r.Failed)
	fmt.Printf("Skipped:  %d (runtime unavailable)\n", r.Skipped)
	fmt.Printf("Duration: %s\n", r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))

	byLang := r.ByLanguage()
	if len(byLang) > 0 {
		fmt.Println("\nBy Language")
		fmt.Println("-----------")
		langs := make([]string, 0, len(byLang))
		for l := range byLang {
			langs = append(langs, l)
		}
		slices.Sort(langs)
		for _, l := range langs {
			counts := byLang[l]
			rate := 0.0
			if counts[1] > 0 {
				rate = float64(counts[0]) / float64(counts[1])
			}
			fmt.Printf("%-12s %s %d/%d\n", l, renderProgressBar(rate, 20), counts[0], counts[1])
		}
	}

	if failures := r.Failures(); len(failures) > 0 {
		fmt.Println("\nFailures")
		fmt.Println("--------")
		for _, c := range failures {
			fmt.Printf("%s (%s): %s\n", c.ProblemID, c.Kind, c.FailureReason)
			for _, d := range c.Diagnostics {
				fmt.Printf("    %s\n", d)
			}
		}
	}
}

// cmdHistory lists stored regression runs
func cmdHistory(args []string) error {
	if len(args) > 0 && args[0] == "problem" {
		return cmdHistoryProblem(args[1:])
	}

	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	limit := fs.Int("limit", 10, "number of runs to list")
	if err := fs.Parse(args); err != nil {
		return err
	}

	db, err := openHistory()
	if err != nil {
		return err
	}
	defer db.Close()
	store := sqlite.NewReportStore(db)

	if fs.NArg() > 0 {
		id, err := uuid.Parse(fs.Arg(0))
		if err != nil {
			return fmt.Errorf("invalid run id %q: %w", fs.Arg(0), err)
		}
		report, err := store.Get(id)
		if err != nil {
			return err
		}
		printReport(report)
		return nil
	}

	reports, err := store.List(*limit)
	if err != nil {
		return fmt.Errorf("list runs: %w", err)
	}
	if len(reports) == 0 {
		fmt.Println("No regression runs recorded (run 'drillgrade regress' first)")
		return nil
	}

	fmt.Printf("%-36s  %-19s  %6s  %6s  %6s  %7s\n", "RUN", "STARTED", "TOTAL", "PASSED", "FAILED", "SKIPPED")
	for _, r := range reports {
		fmt.Printf("%-36s  %-19s  %6d  %6d  %6d  %7d\n",
			r.ID, r.StartedAt.Local().Format(time.DateTime), r.Total, r.Passed, r.Failed, r.Skipped)
	}
	return nil
}

func cmdHistoryProblem(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: drillgrade history problem <problem-id>")
	}

	db, err := openHistory()
	if err != nil {
		return err
	}
	defer db.Close()

	failures, err := sqlite.NewReportStore(db).ProblemFailures(args[0], 20)
	if err != nil {
		return fmt.Errorf("problem failures: %w", err)
	}
	if len(failures) == 0 {
		fmt.Printf("No recorded failures for %s\n", args[0])
		return nil
	}
	for _, f := range failures {
		fmt.Printf("%s  %-8s  %s\n", f.At.Local().Format(time.DateTime), f.Kind, f.FailureReason)
	}
	return nil
}

func openHistory() (*sqlite.DB, error) {
	path, err := databasePath()
	if err != nil {
		return nil, err
	}
	db, err := sqlite.OpenMigrated(path)
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}
	return db, nil
}
