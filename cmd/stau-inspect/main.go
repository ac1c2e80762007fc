// Command stau-inspect lists selection runs, their cutflows and failed chunks
// from the run database.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/stau-selection/internal/selection"
	"github.com/danielpatrickdp/stau-selection/internal/store"
)

// #region main
func main() {
	var (
		dbPath  string
		runID   string
		last    int
		cat     string
		jsonOut bool
	)
	cmd := &cobra.Command{
		Use:          "stau-inspect --db path/to/stau.db [--run id] [--last N] [--json]",
		Short:        "Inspect selection runs",
		SilenceUsage: true,
		RunE: func(*cobra.Command, []string) error {
			st, err := store.NewStore(dbPath)
			if err != nil {
				return fmt.Errorf("open db: %w", err)
			}
			defer st.Close()
			if runID != "" {
				return runDetailMode(st, runID, cat, jsonOut)
			}
			return runListMode(st, last, jsonOut)
		},
	}
	f := cmd.Flags()
	f.StringVar(&dbPath, "db", envOr("STAU_DB", "stau.db"), "run database")
	f.StringVar(&runID, "run", "", "show one run in detail")
	f.IntVar(&last, "last", 20, "show N most recent runs")
	f.StringVar(&cat, "category", selection.AllCategory, "cutflow category shown in detail mode")
	f.BoolVar(&jsonOut, "json", false, "output as JSON instead of table")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// #endregion main

// #region list-mode
type listRow struct {
	RunID      string `json:"run_id"`
	Status     string `json:"status"`
	StartedAt  string `json:"started_at"`
	FinishedAt string `json:"finished_at,omitempty"`
	Failed     int    `json:"failed_chunks"`
}

func runListMode(st *store.Store, last int, jsonOut bool) error {
	runs, err := st.ListRuns(last)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(os.Stderr, "no runs found")
		return nil
	}
	rows := make([]listRow, len(runs))
	for i, r := range runs {
		failed, err := st.ChunkLog(r.RunID, true)
		if err != nil {
			return err
		}
		rows[i] = listRow{
			RunID:     r.RunID,
			Status:    r.Status,
			StartedAt: r.StartedAt.Format("2006-01-02T15:04:05Z"),
			Failed:    len(failed),
		}
		if !r.FinishedAt.IsZero() {
			rows[i].FinishedAt = r.FinishedAt.Format("2006-01-02T15:04:05Z")
		}
	}
	if jsonOut {
		return printJSON(rows)
	}

	fmt.Printf("%-36s  %-8s  %-20s  %-20s  %s\n", "Run", "Status", "Started", "Finished", "Failed")
	for _, r := range rows {
		finished := "-"
		if r.FinishedAt != "" {
			finished = r.FinishedAt
		}
		fmt.Printf("%-36s  %-8s  %-20s  %-20s  %d\n", r.RunID, r.Status, r.StartedAt, finished, r.Failed)
	}
	return nil
}

// #endregion list-mode

// #region detail-mode
type stepRow struct {
	Name  string  `json:"name"`
	Count float64 `json:"count"`
	Yield float64 `json:"yield"`
}

type failedRow struct {
	Dataset string `json:"dataset"`
	Chunk   int    `json:"chunk"`
	Attempt int    `json:"attempt"`
	Error   string `json:"error"`
}

type detailOutput struct {
	RunID    string               `json:"run_id"`
	Status   string               `json:"status"`
	Category string               `json:"category"`
	Cutflows map[string][]stepRow `json:"cutflows"`
	Datasets []string             `json:"datasets"`
	Failed   []failedRow          `json:"failed_chunks"`
}

func runDetailMode(st *store.Store, runID, cat string, jsonOut bool) error {
	run, err := st.GetRun(runID)
	if err != nil {
		return err
	}
	datasets, err := st.CutflowDatasets(runID)
	if err != nil {
		return err
	}
	out := detailOutput{
		RunID:    run.RunID,
		Status:   run.Status,
		Category: cat,
		Cutflows: map[string][]stepRow{},
		Datasets: datasets,
		Failed:   []failedRow{},
	}
	for _, ds := range datasets {
		cf, err := st.LoadCutflow(runID, ds)
		if err != nil {
			return err
		}
		counts, yields := cf.Counts(cat), cf.Yields(cat)
		rows := make([]stepRow, len(counts))
		for i := range counts {
			rows[i] = stepRow{Name: counts[i].Name, Count: counts[i].Value, Yield: yields[i].Value}
		}
		out.Cutflows[ds] = rows
	}
	failed, err := st.ChunkLog(runID, true)
	if err != nil {
		return err
	}
	for _, c := range failed {
		out.Failed = append(out.Failed, failedRow{Dataset: c.Dataset, Chunk: c.Chunk, Attempt: c.Attempt, Error: c.Error})
	}

	if jsonOut {
		return printJSON(out)
	}

	fmt.Printf("Run:      %s\n", out.RunID)
	fmt.Printf("Status:   %s\n", out.Status)
	fmt.Printf("Category: %s\n", out.Category)
	for _, ds := range out.Datasets {
		fmt.Printf("\n%s\n", ds)
		fmt.Printf("  %-24s  %12s  %14s\n", "Step", "Events", "Yield")
		for _, r := range out.Cutflows[ds] {
			fmt.Printf("  %-24s  %12.0f  %14.4f\n", r.Name, r.Count, r.Yield)
		}
	}
	if len(out.Failed) > 0 {
		fmt.Printf("\nFailed chunks:\n")
		for _, f := range out.Failed {
			fmt.Printf("  %s #%d (attempt %d): %s\n", f.Dataset, f.Chunk, f.Attempt, f.Error)
		}
	}
	return nil
}

// #endregion detail-mode

// #region helpers
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// #endregion helpers
