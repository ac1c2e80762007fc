package runner

import (
	"context"
	"fmt"
	"os"

	"github.com/danielpatrickdp/stau-selection/internal/columnar"
)

// #region sources
// BatchChunk wraps an in-memory batch. Batches are not modified by the
// selection, so every attempt sees the same input.
func BatchChunk(dataset string, index int, b *columnar.Batch) Chunk {
	return Chunk{
		Dataset: dataset,
		Index:   index,
		Load:    func(context.Context) (*columnar.Batch, error) { return b, nil },
	}
}

// IPCChunks scans the Arrow IPC streams in paths and returns one chunk per
// record batch, numbered across files in order. Only batch positions are
// kept; each Load re-opens the file and binds that one batch.
func IPCChunks(dataset string, paths []string) ([]Chunk, error) {
	var chunks []Chunk
	for _, path := range paths {
		n, err := countBatches(path)
		if err != nil {
			return nil, err
		}
		for i := 0; i < n; i++ {
			chunks = append(chunks, ipcChunk(dataset, len(chunks), path, i))
		}
	}
	return chunks, nil
}

func ipcChunk(dataset string, index int, path string, batch int) Chunk {
	return Chunk{
		Dataset: dataset,
		Index:   index,
		Load: func(ctx context.Context) (*columnar.Batch, error) {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			f, err := os.Open(path)
			if err != nil {
				return nil, fmt.Errorf("open %s: %w", path, err)
			}
			defer f.Close()
			b, err := columnar.ReadIPCBatch(f, batch)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", path, err)
			}
			return b, nil
		},
	}
}

func countBatches(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	n, err := columnar.CountIPC(f)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", path, err)
	}
	return n, nil
}

// #endregion sources
