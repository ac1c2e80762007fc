// Command stau-select runs the stau event selection over the configured
// datasets and writes cutflows and histograms.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/danielpatrickdp/stau-selection/internal/config"
	"github.com/danielpatrickdp/stau-selection/internal/logging"
	"github.com/danielpatrickdp/stau-selection/internal/metrics"
)

// #region main
func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type options struct {
	configPath  string
	metricsAddr string
	outputDir   string
	dbPath      string
	datasets    []string
	verbose     bool
}

func newRootCmd() *cobra.Command {
	var opts options
	cmd := &cobra.Command{
		Use:           "stau-select --config analysis.yaml",
		Short:         "Run the Z->mu tau_h stau selection",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			err := run(cmd.Context(), opts)
			if err != nil {
				fmt.Fprintf(os.Stderr, "error: %v\n", err)
			}
			return err
		},
	}
	f := cmd.Flags()
	f.StringVarP(&opts.configPath, "config", "c", "", "analysis configuration (YAML)")
	f.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	f.StringVarP(&opts.outputDir, "out", "o", "", "output directory (overrides output_dir)")
	f.StringVar(&opts.dbPath, "db", "", "SQLite database (overrides db_path and STAU_DB)")
	f.StringSliceVarP(&opts.datasets, "dataset", "d", nil, "only process these datasets")
	f.BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging")
	_ = cmd.MarkFlagRequired("config")
	return cmd
}

// #endregion main

// #region run
func run(parent context.Context, opts options) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, err := logging.New(opts.verbose)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	if opts.outputDir != "" {
		cfg.OutputDir = opts.outputDir
	}
	if opts.dbPath != "" {
		cfg.DBPath = opts.dbPath
	}
	if len(opts.datasets) > 0 {
		if cfg.Datasets, err = only(cfg.Datasets, opts.datasets); err != nil {
			return err
		}
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	if opts.metricsAddr != "" {
		srv := serveMetrics(opts.metricsAddr, reg, logger)
		defer func() {
			shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdown)
		}()
	}

	return selectAndWrite(ctx, cfg, m, logger)
}

func only(all []config.Dataset, names []string) ([]config.Dataset, error) {
	byName := make(map[string]config.Dataset, len(all))
	for _, ds := range all {
		byName[ds.Name] = ds
	}
	out := make([]config.Dataset, 0, len(names))
	for _, n := range names {
		ds, ok := byName[n]
		if !ok {
			return nil, fmt.Errorf("dataset %s not in configuration", n)
		}
		out = append(out, ds)
	}
	return out, nil
}

func serveMetrics(addr string, reg *prometheus.Registry, logger *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", zap.Error(err))
		}
	}()
	logger.Info("serving metrics", zap.String("addr", addr))
	return srv
}

// #endregion run
