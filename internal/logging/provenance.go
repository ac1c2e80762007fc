package logging

import (
	"database/sql"
	"fmt"
	"time"
)

// #region log-chunk
// LogChunk writes one chunk attempt to the chunk_log table.
func LogChunk(db *sql.DB, entry ChunkEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := db.Exec(
		`INSERT INTO chunk_log (run_id, dataset, chunk, attempt, status, events_in, events_out, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.RunID,
		entry.Dataset,
		entry.Chunk,
		entry.Attempt,
		entry.Status,
		entry.EventsIn,
		entry.EventsOut,
		nullIfEmpty(entry.Error),
		entry.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("log chunk: %w", err)
	}
	return nil
}

// #endregion log-chunk

// #region helpers
func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// #endregion helpers
