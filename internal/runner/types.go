package runner

import (
	"context"
	"database/sql"

	"go.uber.org/zap"

	"github.com/danielpatrickdp/stau-selection/internal/columnar"
	"github.com/danielpatrickdp/stau-selection/internal/config"
	"github.com/danielpatrickdp/stau-selection/internal/hist"
	"github.com/danielpatrickdp/stau-selection/internal/metrics"
	"github.com/danielpatrickdp/stau-selection/internal/selection"
	"github.com/danielpatrickdp/stau-selection/internal/stau"
)

// #region inputs
// Processor runs the selection of one dataset on one chunk.
type Processor interface {
	Process(ctx context.Context, ds config.Dataset, b *columnar.Batch) (*stau.Result, error)
}

// Chunk is one independently processed slice of a dataset. Load is called
// again on every attempt.
type Chunk struct {
	Dataset string
	Index   int
	Load    func(ctx context.Context) (*columnar.Batch, error)
}

// Job describes one run over a set of datasets.
type Job struct {
	RunID      string
	Datasets   []config.Dataset
	Chunks     []Chunk
	Processor  Processor
	Registry   *hist.Registry
	Workers    int
	MaxRetries int

	// DB receives chunk provenance rows when set.
	DB      *sql.DB
	Metrics *metrics.Metrics
	Logger  *zap.Logger
}

// #endregion inputs

// #region outputs
// ChunkOutcome is the final state of one chunk.
type ChunkOutcome struct {
	Dataset   string
	Chunk     int
	Attempts  int
	Status    string // "ok" | "failed"
	EventsIn  int
	EventsOut int
	Err       error
}

// DatasetResult is the merge of every completed chunk of one dataset.
type DatasetResult struct {
	Dataset      string
	Cutflow      *selection.Cutflow
	Hists        *hist.Accumulator
	ChunksOK     int
	ChunksFailed int
	EventsIn     int
	EventsOut    int
}

// Report is the outcome of Run. Datasets follow the job order.
type Report struct {
	RunID    string
	Datasets []*DatasetResult
	Chunks   []ChunkOutcome
}

// Summary provides aggregate stats from a run.
type Summary struct {
	Datasets     int
	Chunks       int
	ChunksOK     int
	ChunksFailed int
	Retries      int
	EventsIn     int
	EventsOut    int
}

// #endregion outputs
