package main

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/danielpatrickdp/stau-selection/internal/calib"
	"github.com/danielpatrickdp/stau-selection/internal/config"
	"github.com/danielpatrickdp/stau-selection/internal/hist"
	"github.com/danielpatrickdp/stau-selection/internal/metrics"
	"github.com/danielpatrickdp/stau-selection/internal/output"
	"github.com/danielpatrickdp/stau-selection/internal/runner"
	"github.com/danielpatrickdp/stau-selection/internal/stau"
	"github.com/danielpatrickdp/stau-selection/internal/store"
	"github.com/danielpatrickdp/stau-selection/internal/weights"
)

// #region select
func selectAndWrite(ctx context.Context, cfg config.Config, m *metrics.Metrics, logger *zap.Logger) (err error) {
	provider, closeProvider, err := openCalibration(cfg.Calibration, logger)
	if err != nil {
		return err
	}
	defer closeProvider()

	analysis, err := stau.New(cfg, weights.NewCorrector(provider, logger), logger)
	if err != nil {
		return err
	}

	var chunks []runner.Chunk
	for _, ds := range cfg.Datasets {
		cs, err := runner.IPCChunks(ds.Name, ds.Files)
		if err != nil {
			return fmt.Errorf("dataset %s: %w", ds.Name, err)
		}
		logger.Info("dataset scanned", zap.String("dataset", ds.Name), zap.Int("chunks", len(cs)))
		chunks = append(chunks, cs...)
	}

	st, err := store.NewStore(cfg.DBPath)
	if err != nil {
		return err
	}
	defer st.Close()

	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	rec, err := st.CreateRun(string(cfgJSON))
	if err != nil {
		return err
	}
	logger.Info("run started", zap.String("run_id", rec.RunID), zap.Int("chunks", len(chunks)))
	defer func() {
		status := "done"
		if err != nil {
			status = "failed"
		}
		if ferr := st.FinishRun(rec.RunID, status); ferr != nil {
			logger.Error("finish run", zap.Error(ferr))
		}
	}()

	report, err := runner.Run(ctx, runner.Job{
		RunID:      rec.RunID,
		Datasets:   cfg.Datasets,
		Chunks:     chunks,
		Processor:  analysis,
		Registry:   analysis.Registry(),
		Workers:    cfg.Workers,
		MaxRetries: cfg.MaxRetries,
		DB:         st.DB(),
		Metrics:    m,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	var flows []output.DatasetCutflow
	var parts []*hist.Accumulator
	for _, dr := range report.Datasets {
		if err := st.SaveCutflow(rec.RunID, dr.Dataset, dr.Cutflow); err != nil {
			return err
		}
		flows = append(flows, output.DatasetCutflow{Dataset: dr.Dataset, Cutflow: dr.Cutflow})
		parts = append(parts, dr.Hists)
	}
	all, err := hist.MergeAll(analysis.Registry(), parts...)
	if err != nil {
		return err
	}
	if err := st.SaveHistograms(rec.RunID, all); err != nil {
		return err
	}
	if err := output.WriteCutflows(cfg.OutputDir, flows); err != nil {
		return err
	}
	if err := output.WriteHistogramsJSON(cfg.OutputDir, all); err != nil {
		return err
	}
	ix, err := output.WriteROOT(cfg.OutputDir, all)
	if err != nil {
		return err
	}

	s := runner.Summarize(report)
	logger.Info("run finished",
		zap.String("run_id", rec.RunID),
		zap.Int("datasets", s.Datasets),
		zap.Int("chunks_ok", s.ChunksOK),
		zap.Int("chunks_failed", s.ChunksFailed),
		zap.Int("retries", s.Retries),
		zap.Int("events_in", s.EventsIn),
		zap.Int("events_out", s.EventsOut),
		zap.Int("root_files", len(ix.Files)),
		zap.String("output_dir", cfg.OutputDir),
	)
	return nil
}

// openCalibration picks the remote service, a local table file, or nothing.
func openCalibration(c config.Calibration, logger *zap.Logger) (calib.Provider, func(), error) {
	switch {
	case c.Address != "":
		rp, err := calib.NewRemoteProvider(c.Address)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("calibration service", zap.String("addr", c.Address))
		return rp, func() { _ = rp.Close() }, nil
	case c.Tables != "":
		ts, err := calib.LoadTables(c.Tables)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("calibration tables", zap.String("path", c.Tables), zap.Strings("tables", ts.Names()))
		return ts, func() {}, nil
	default:
		logger.Warn("no calibration source configured, corrections are neutral")
		return nil, func() {}, nil
	}
}

// #endregion select
