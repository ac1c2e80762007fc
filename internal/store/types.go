package store

import (
	"time"

	"github.com/danielpatrickdp/stau-selection/internal/hist"
)

// #region run-record
// RunRecord is one selection run.
type RunRecord struct {
	RunID      string
	ConfigJSON string
	Status     string // "running" | "done" | "failed"
	StartedAt  time.Time
	FinishedAt time.Time
}

// #endregion run-record

// #region stored-hist
// StoredHist is a merged histogram bucket as persisted for a run.
type StoredHist struct {
	Key  hist.Key
	Hist *hist.Hist
}

// #endregion stored-hist

// #region chunk-record
// ChunkRecord is one row of the chunk provenance log.
type ChunkRecord struct {
	RunID     string
	Dataset   string
	Chunk     int
	Attempt   int
	Status    string // "ok" | "retry" | "failed"
	EventsIn  int64
	EventsOut int64
	Error     string
	CreatedAt time.Time
}

// #endregion chunk-record
