package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/polarlab/coincidence-rig/internal/classify"
	"github.com/polarlab/coincidence-rig/internal/logging"
	"github.com/polarlab/coincidence-rig/internal/runlog"
	"github.com/polarlab/coincidence-rig/internal/simulator"
	_ "modernc.org/sqlite"
)

// #region main

func main() {
	dbPath := flag.String("db", "", "path to rig.db")
	last := flag.Int("last", 20, "show N most recent runs")
	runID := flag.String("run", "", "show single run detail")
	decisions := flag.Bool("decisions", false, "list dispatch decisions instead of runs")
	jsonOut := flag.Bool("json", false, "output as JSON instead of table")
	flag.Parse()

	if *dbPath == "" {
		fmt.Fprintln(os.Stderr, "usage: inspect --db path/to/rig.db [--last N] [--run id] [--decisions] [--json]")
		os.Exit(2)
	}

	store, err := runlog.NewStore(*dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open db: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	switch {
	case *runID != "":
		err = runDetailMode(os.Stdout, store, *runID, *jsonOut)
	case *decisions:
		err = runDecisionsMode(os.Stdout, store, *last, *jsonOut)
	default:
		err = runListMode(os.Stdout, store, *last, *jsonOut)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// #endregion main

// #region list-mode

type listRow struct {
	RunID     string    `json:"run_id"`
	Angles    []float64 `json:"angles"`
	Peaks     []int     `json:"peaks"`
	Source    string    `json:"source"`
	Entangled bool      `json:"entangled"`
	Pattern   int       `json:"pattern"`
	Decision  string    `json:"decision"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt string    `json:"created_at"`
}

func runListMode(w io.Writer, store *runlog.Store, last int, jsonOut bool) error {
	runs, err := store.ListRunsWithProvenance(last)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(os.Stderr, "no runs found")
		return nil
	}

	// Store returns DESC, reverse for chronological
	rows := make([]listRow, len(runs))
	for i, rp := range runs {
		rows[len(runs)-1-i] = listRow{
			RunID:     rp.RunID,
			Angles:    rp.Angles.Slice(),
			Peaks:     rp.Peaks.Slice(),
			Source:    rp.Source,
			Entangled: rp.Entangled,
			Pattern:   int(rp.Pattern),
			Decision:  rp.Decision,
			Reason:    rp.Reason,
			CreatedAt: rp.CreatedAt.Format("2006-01-02T15:04:05Z"),
		}
	}

	if jsonOut {
		return printJSON(w, rows)
	}
	return printListTable(w, rows)
}

func printListTable(w io.Writer, rows []listRow) error {
	fmt.Fprintf(w, "%-10s  %-22s  %-26s  %-10s  %-9s  %-10s  %s\n",
		"Run", "Angles", "Peaks", "Source", "Entangled", "Decision", "Time")
	fmt.Fprintf(w, "%-10s+-%-22s+-%-26s+-%-10s+-%-9s+-%-10s+-%s\n",
		"----------", "----------------------", "--------------------------", "----------", "---------", "----------", "--------------------")

	entangled := 0
	for _, r := range rows {
		if r.Entangled {
			entangled++
		}
		fmt.Fprintf(w, "%-10s  %-22s  %-26s  %-10s  %-9v  %-10s  %s\n",
			shortID(r.RunID), formatAngles(r.Angles), formatPeaks(r.Peaks), r.Source, r.Entangled, dash(r.Decision), r.CreatedAt)
	}
	fmt.Fprintf(w, "\n%d runs, %d entangled\n", len(rows), entangled)
	return nil
}

// #endregion list-mode

// #region detail-mode

type detailOutput struct {
	RunID      string           `json:"run_id"`
	CreatedAt  string           `json:"created_at"`
	Angles     []float64        `json:"angles"`
	Peaks      []int            `json:"peaks"`
	Source     string           `json:"source"`
	Policy     string           `json:"policy,omitempty"`
	Seed       uint64           `json:"seed"`
	Entangled  bool             `json:"entangled"`
	Pattern    int              `json:"pattern"`
	Verdict    classify.Verdict `json:"verdict"`
	ConfigJSON string           `json:"config,omitempty"`
}

func runDetailMode(w io.Writer, store *runlog.Store, runID string, jsonOut bool) error {
	rec, err := store.GetRun(runID)
	if err != nil {
		return err
	}

	layout := simulator.DefaultConfig()
	if rec.ConfigJSON != "" {
		if err := json.Unmarshal([]byte(rec.ConfigJSON), &layout); err != nil {
			return fmt.Errorf("parse config snapshot: %w", err)
		}
	}

	out := detailOutput{
		RunID:      rec.RunID,
		CreatedAt:  rec.CreatedAt.Format("2006-01-02T15:04:05Z"),
		Angles:     rec.Angles.Slice(),
		Peaks:      rec.Peaks.Slice(),
		Source:     rec.Source,
		Policy:     rec.Policy,
		Seed:       rec.Seed,
		Entangled:  rec.Entangled,
		Pattern:    int(rec.Pattern),
		Verdict:    classify.NewClassifier(classify.DefaultConfig(), layout).Evaluate(rec.Peaks),
		ConfigJSON: rec.ConfigJSON,
	}

	if jsonOut {
		return printJSON(w, out)
	}

	fmt.Fprintf(w, "Run:        %s\n", out.RunID)
	fmt.Fprintf(w, "Created:    %s\n", out.CreatedAt)
	fmt.Fprintf(w, "Angles:     %s\n", formatAngles(out.Angles))
	fmt.Fprintf(w, "Peaks:      %s\n", formatPeaks(out.Peaks))
	fmt.Fprintf(w, "Source:     %s\n", out.Source)
	fmt.Fprintf(w, "Policy:     %s\n", dash(out.Policy))
	fmt.Fprintf(w, "Seed:       %d\n", out.Seed)
	fmt.Fprintf(w, "Entangled:  %v (pattern %d)\n", out.Entangled, out.Pattern)

	fmt.Fprintf(w, "\nClassifier:\n")
	for _, ch := range out.Verdict.Checks {
		fmt.Fprintf(w, "  %-12s %10.4f  %v\n", ch.Name, ch.Value, ch.Pass)
	}
	fmt.Fprintf(w, "  %s\n", out.Verdict.Reason)
	return nil
}

// #endregion detail-mode

// #region decisions-mode

func runDecisionsMode(w io.Writer, store *runlog.Store, last int, jsonOut bool) error {
	entries, err := logging.ListDecisions(store.DB(), last)
	if err != nil {
		return err
	}
	if jsonOut {
		return printJSON(w, entries)
	}
	fmt.Fprintf(w, "%-10s  %-8s  %-10s  %-10s  %-8s  %s\n", "Run", "Trigger", "Mode", "Decision", "Attempts", "Reason")
	for _, e := range entries {
		fmt.Fprintf(w, "%-10s  %-8s  %-10s  %-10s  %-8d  %s\n",
			dash(shortID(e.RunID)), e.TriggerType, e.Mode, e.Decision, e.Attempts, e.Reason)
	}
	return nil
}

// #endregion decisions-mode

// #region output

func formatAngles(a []float64) string {
	parts := make([]string, len(a))
	for i, v := range a {
		parts[i] = fmt.Sprintf("%.1f", v)
	}
	return strings.Join(parts, ", ")
}

func formatPeaks(p []int) string {
	parts := make([]string, len(p))
	for i, v := range p {
		parts[i] = fmt.Sprintf("%d", v)
	}
	return strings.Join(parts, ", ")
}

func printJSON(w io.Writer, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	fmt.Fprintln(w, string(data))
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// #endregion output
