package logging

import "time"

// #region chunk-entry
// ChunkEntry is a single row in the chunk_log table.
type ChunkEntry struct {
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

// #endregion chunk-entry

// Chunk statuses.
const (
	StatusOK     = "ok"
	StatusRetry  = "retry"
	StatusFailed = "failed"
)
