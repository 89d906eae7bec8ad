package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/polarlab/coincidence-rig/internal/replay"
	"github.com/polarlab/coincidence-rig/internal/runlog"
	"github.com/polarlab/coincidence-rig/internal/simulator"
	_ "modernc.org/sqlite"
)

// #region main

func main() {
	dbPath := flag.String("db", "", "path to rig.db (DB mode)")
	fixturePath := flag.String("fixture", "", "path to fixture JSON (fixture mode)")
	exportPath := flag.String("export", "", "DB mode: also write the replayed runs as a fixture")
	last := flag.Int("last", 1000, "DB mode: replay the N most recent runs")
	flag.Parse()

	if (*dbPath == "" && *fixturePath == "") || (*dbPath != "" && *fixturePath != "") {
		fmt.Fprintln(os.Stderr, "usage: replay --db path/to/rig.db [--last N] [--export fixture.json]")
		fmt.Fprintln(os.Stderr, "       replay --fixture path/to/fixture.json")
		os.Exit(2)
	}

	var exitCode int
	if *fixturePath != "" {
		exitCode = runFixtureMode(os.Stdout, *fixturePath)
	} else {
		exitCode = runDBMode(os.Stdout, *dbPath, *last, *exportPath)
	}
	os.Exit(exitCode)
}

// #endregion main

// #region modes

func runDBMode(w io.Writer, dbPath string, last int, exportPath string) int {
	store, err := runlog.NewStore(dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open db: %v\n", err)
		return 2
	}
	defer store.Close()

	runs, err := store.ListRuns(last)
	if err != nil {
		fmt.Fprintf(os.Stderr, "list runs: %v\n", err)
		return 2
	}
	// Store returns DESC, replay chronologically
	for i, j := 0, len(runs)-1; i < j; i, j = i+1, j-1 {
		runs[i], runs[j] = runs[j], runs[i]
	}

	if exportPath != "" {
		f := replay.NewFixture("exported from "+dbPath, runs)
		if err := replay.WriteFixture(exportPath, f); err != nil {
			fmt.Fprintf(os.Stderr, "export: %v\n", err)
			return 2
		}
		fmt.Fprintf(os.Stderr, "wrote %d runs to %s\n", len(f.Runs), exportPath)
	}

	return printComparison(w, replay.Replay(runs, simulator.DefaultConfig()))
}

func runFixtureMode(w io.Writer, path string) int {
	f, err := replay.LoadFixture(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load fixture: %v\n", err)
		return 2
	}
	cases, err := f.Cases()
	if err != nil {
		fmt.Fprintf(os.Stderr, "fixture: %v\n", err)
		return 2
	}
	return printComparison(w, replay.ReplayCases(cases, simulator.DefaultConfig()))
}

// #endregion modes

// #region output

// printComparison outputs a comparison table and returns the exit code:
// 1 when any run diverges.
func printComparison(w io.Writer, results []replay.Result) int {
	fmt.Fprintf(w, "%-12s| %-26s| %-26s| %s\n", "Run", "Recorded", "Replayed", "Status")
	fmt.Fprintf(w, "%-12s+%-27s+%-27s+%s\n",
		"------------", "---------------------------", "---------------------------", "--------")

	for _, r := range results {
		recorded := "-"
		if r.Expected != nil {
			recorded = fmt.Sprint(r.Expected.Slice())
		}
		replayed := "-"
		if r.Status != replay.StatusSkipped {
			replayed = fmt.Sprint(r.Replayed.Slice())
		}
		fmt.Fprintf(w, "%-12s| %-26s| %-26s| %s\n", shortID(r.RunID), recorded, replayed, r.Status)
		if r.Status != replay.StatusMatch && r.Reason != "" {
			fmt.Fprintf(w, "%-12s  %s\n", "", r.Reason)
		}
	}

	s := replay.Summarize(results)
	fmt.Fprintf(w, "\nSummary: %d total, %d match, %d diverge, %d skipped\n", s.Total, s.Matches, s.Mismatches, s.Skipped)

	if s.Mismatches > 0 {
		return 1
	}
	return 0
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

// #endregion output
