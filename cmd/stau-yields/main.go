// Command stau-yields normalizes the histograms of a run by cross section
// and luminosity and prints the yield of every configured group.
package main

import (
	"encoding/json"
	"fmt"
	"math"
	"os"

	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/floats"

	"github.com/danielpatrickdp/stau-selection/internal/config"
	"github.com/danielpatrickdp/stau-selection/internal/hist"
	"github.com/danielpatrickdp/stau-selection/internal/normalize"
	"github.com/danielpatrickdp/stau-selection/internal/selection"
	"github.com/danielpatrickdp/stau-selection/internal/store"
)

type options struct {
	configPath string
	dbPath     string
	runID      string
	histogram  string
	category   string
	jsonOut    bool
}

func main() {
	var opts options
	cmd := &cobra.Command{
		Use:          "stau-yields --config analysis.yaml --run id --histogram name",
		Short:        "Print normalized yields per dataset group",
		SilenceUsage: true,
		RunE: func(*cobra.Command, []string) error {
			return run(opts)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&opts.configPath, "config", "c", "", "analysis configuration (YAML)")
	f.StringVar(&opts.dbPath, "db", "", "run database (defaults to db_path)")
	f.StringVar(&opts.runID, "run", "", "run id")
	f.StringVar(&opts.histogram, "histogram", "", "histogram name")
	f.StringVar(&opts.category, "category", selection.AllCategory, "category key")
	f.BoolVar(&opts.jsonOut, "json", false, "output as JSON")
	for _, name := range []string{"config", "run", "histogram"} {
		_ = cmd.MarkFlagRequired(name)
	}
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

type yieldRow struct {
	Group    string  `json:"group"`
	Signal   bool    `json:"signal"`
	Yield    float64 `json:"yield"`
	Variance float64 `json:"variance"`
}

func run(opts options) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	if opts.dbPath != "" {
		cfg.DBPath = opts.dbPath
	}
	st, err := store.NewStore(cfg.DBPath)
	if err != nil {
		return err
	}
	defer st.Close()

	hs, err := loadHistograms(st, opts.runID, opts.histogram, opts.category)
	if err != nil {
		return err
	}
	cutflows := normalize.Cutflows{}
	for ds := range hs {
		cf, err := st.LoadCutflow(opts.runID, ds)
		if err != nil {
			return err
		}
		cutflows[ds] = cf
	}

	yields, err := normalize.Stack(groups(cfg, hs), hs, cfg.CrossSections(), cfg.Luminosity, cutflows)
	if err != nil {
		return err
	}
	rows := make([]yieldRow, len(yields))
	for i, y := range yields {
		rows[i] = yieldRow{Group: y.Group, Signal: y.Signal, Yield: y.Hist.Integral(), Variance: floats.Sum(y.Hist.SumW2)}
	}

	if opts.jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	}
	fmt.Printf("%s / %s  (L = %.1f /pb)\n", opts.histogram, opts.category, cfg.Luminosity)
	fmt.Printf("%-24s  %-6s  %14s  %12s\n", "Group", "Signal", "Yield", "Stat. unc.")
	for _, r := range rows {
		fmt.Printf("%-24s  %-6t  %14.3f  %12.3f\n", r.Group, r.Signal, r.Yield, math.Sqrt(r.Variance))
	}
	return nil
}

func loadHistograms(st *store.Store, runID, name, category string) (map[string]*hist.Hist, error) {
	stored, err := st.LoadHistograms(runID)
	if err != nil {
		return nil, err
	}
	hs := map[string]*hist.Hist{}
	for _, s := range stored {
		if s.Key.Histogram == name && s.Key.Category == category {
			hs[s.Key.Dataset] = s.Hist
		}
	}
	if len(hs) == 0 {
		return nil, fmt.Errorf("run %s has no histogram %s in category %s", runID, name, category)
	}
	return hs, nil
}

// groups uses the configured yield groups, or one group per dataset.
func groups(cfg config.Config, hs map[string]*hist.Hist) []normalize.Group {
	if len(cfg.YieldGroups) > 0 {
		out := make([]normalize.Group, len(cfg.YieldGroups))
		for i, g := range cfg.YieldGroups {
			out[i] = normalize.Group{Name: g.Name, Datasets: g.Datasets, Signal: g.Signal}
		}
		return out
	}
	var out []normalize.Group
	for _, ds := range cfg.Datasets {
		if _, ok := hs[ds.Name]; ok {
			out = append(out, normalize.Group{Name: ds.Name, Datasets: []string{ds.Name}})
		}
	}
	return out
}
