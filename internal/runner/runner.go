// Package runner processes dataset chunks in parallel and merges the
// completed chunk results per dataset.
package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/danielpatrickdp/stau-selection/internal/config"
	"github.com/danielpatrickdp/stau-selection/internal/hist"
	"github.com/danielpatrickdp/stau-selection/internal/logging"
	"github.com/danielpatrickdp/stau-selection/internal/metrics"
	"github.com/danielpatrickdp/stau-selection/internal/selection"
	"github.com/danielpatrickdp/stau-selection/internal/stau"
)

// ErrPanic marks a chunk attempt that panicked.
var ErrPanic = errors.New("chunk panicked")

// #region run
// Run processes every chunk of the job with at most Workers chunks in flight.
// A chunk that keeps failing after MaxRetries re-runs is reported and left
// out of the merge; other chunks are unaffected. Completed chunks are merged
// in chunk order, so the result does not depend on scheduling.
func Run(ctx context.Context, job Job) (*Report, error) {
	logger := logging.OrNop(job.Logger)
	if job.Processor == nil {
		return nil, fmt.Errorf("runner: no processor")
	}
	if job.Registry == nil {
		return nil, fmt.Errorf("runner: no histogram registry")
	}
	workers := job.Workers
	if workers < 1 {
		workers = 1
	}

	datasets := make(map[string]config.Dataset, len(job.Datasets))
	for _, ds := range job.Datasets {
		datasets[ds.Name] = ds
	}
	for _, c := range job.Chunks {
		if _, ok := datasets[c.Dataset]; !ok {
			return nil, fmt.Errorf("runner: chunk %d of unknown dataset %s", c.Index, c.Dataset)
		}
	}

	policy := RetryPolicy{MaxRetries: job.MaxRetries}
	results := make([]*stau.Result, len(job.Chunks))
	outcomes := make([]ChunkOutcome, len(job.Chunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, c := range job.Chunks {
		i, c := i, c
		g.Go(func() error {
			res, outcome := processChunk(gctx, job, policy, datasets[c.Dataset], c, logger)
			results[i], outcomes[i] = res, outcome
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	report := &Report{RunID: job.RunID, Chunks: outcomes}
	for _, ds := range job.Datasets {
		dr, err := mergeDataset(job, ds.Name, results, outcomes)
		if err != nil {
			return nil, err
		}
		report.Datasets = append(report.Datasets, dr)
		logger.Info("dataset merged",
			zap.String("dataset", ds.Name),
			zap.Int("chunks_ok", dr.ChunksOK),
			zap.Int("chunks_failed", dr.ChunksFailed),
			zap.Int("events_in", dr.EventsIn),
			zap.Int("events_out", dr.EventsOut),
		)
	}
	return report, nil
}

// #endregion run

// #region chunk
// processChunk runs one chunk, re-loading it from its input on every retry.
func processChunk(ctx context.Context, job Job, policy RetryPolicy, ds config.Dataset, c Chunk, logger *zap.Logger) (*stau.Result, ChunkOutcome) {
	outcome := ChunkOutcome{Dataset: c.Dataset, Chunk: c.Index}
	for attempt := 1; ; attempt++ {
		outcome.Attempts = attempt
		start := time.Now()
		res, err := attemptChunk(ctx, job.Processor, ds, c)
		took := time.Since(start)

		if err == nil {
			outcome.Status, outcome.Err = logging.StatusOK, nil
			outcome.EventsIn, outcome.EventsOut = res.EventsIn, res.EventsOut
			job.Metrics.Chunk(c.Dataset, metrics.StatusOK, took)
			job.Metrics.Events(c.Dataset, res.EventsIn, res.EventsOut)
			logChunk(job, logger, outcome, attempt, "")
			return res, outcome
		}

		retry := policy.ShouldRetry(err, attempt)
		status := logging.StatusFailed
		if retry {
			status = logging.StatusRetry
		}
		outcome.Status, outcome.Err = logging.StatusFailed, err
		job.Metrics.Chunk(c.Dataset, status, took)
		logger.Warn("chunk failed",
			zap.String("dataset", c.Dataset),
			zap.Int("chunk", c.Index),
			zap.Int("attempt", attempt),
			zap.Bool("retry", retry),
			zap.Error(err),
		)
		logged := outcome
		logged.Status = status
		logChunk(job, logger, logged, attempt, err.Error())
		if !retry {
			return nil, outcome
		}
	}
}

// attemptChunk runs one attempt. A panic inside Load or Process fails the
// attempt instead of the run.
func attemptChunk(ctx context.Context, p Processor, ds config.Dataset, c Chunk) (res *stau.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			res, err = nil, fmt.Errorf("chunk %d: %w: %v", c.Index, ErrPanic, r)
		}
	}()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b, err := c.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load chunk %d: %w", c.Index, err)
	}
	return p.Process(ctx, ds, b)
}

func logChunk(job Job, logger *zap.Logger, o ChunkOutcome, attempt int, errText string) {
	if job.DB == nil {
		return
	}
	err := logging.LogChunk(job.DB, logging.ChunkEntry{
		RunID:     job.RunID,
		Dataset:   o.Dataset,
		Chunk:     o.Chunk,
		Attempt:   attempt,
		Status:    o.Status,
		EventsIn:  int64(o.EventsIn),
		EventsOut: int64(o.EventsOut),
		Error:     errText,
	})
	if err != nil {
		logger.Error("chunk provenance not written", zap.Error(err))
	}
}

// #endregion chunk

// #region merge
// mergeDataset folds the completed chunks of one dataset in chunk order.
func mergeDataset(job Job, dataset string, results []*stau.Result, outcomes []ChunkOutcome) (*DatasetResult, error) {
	dr := &DatasetResult{Dataset: dataset, Hists: hist.NewAccumulator(job.Registry)}
	for i, o := range outcomes {
		if o.Dataset != dataset {
			continue
		}
		if o.Status != logging.StatusOK {
			dr.ChunksFailed++
			continue
		}
		res := results[i]
		if dr.Cutflow == nil {
			dr.Cutflow = res.Cutflow.Clone()
		} else if err := dr.Cutflow.Merge(res.Cutflow); err != nil {
			return nil, fmt.Errorf("merge cutflow %s chunk %d: %w", dataset, o.Chunk, err)
		}
		if err := dr.Hists.Merge(res.Hists); err != nil {
			return nil, fmt.Errorf("merge histograms %s chunk %d: %w", dataset, o.Chunk, err)
		}
		job.Metrics.Merged()
		dr.ChunksOK++
		dr.EventsIn += res.EventsIn
		dr.EventsOut += res.EventsOut
	}
	if dr.Cutflow == nil {
		dr.Cutflow = selection.NewCutflow()
	}
	return dr, nil
}

// #endregion merge

// #region summarize
// Summarize computes aggregate stats from a report.
func Summarize(r *Report) Summary {
	s := Summary{Datasets: len(r.Datasets), Chunks: len(r.Chunks)}
	for _, c := range r.Chunks {
		s.Retries += c.Attempts - 1
		switch c.Status {
		case logging.StatusOK:
			s.ChunksOK++
			s.EventsIn += c.EventsIn
			s.EventsOut += c.EventsOut
		default:
			s.ChunksFailed++
		}
	}
	return s
}

// #endregion summarize
