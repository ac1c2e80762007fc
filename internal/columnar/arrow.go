package columnar

import (
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// #region from-record
// FromRecord binds a flat NanoAOD-style Arrow record to a Batch:
//   - list column "X_f"   -> Jagged "X", field "f"
//   - scalar column "X_f" -> Record "X", field "f" (every event valid)
//   - scalar column "x"   -> Scalars, or Flags for booleans
//
// The values are copied so the batch outlives the record.
func FromRecord(rec arrow.Record) (*Batch, error) {
	n := int(rec.NumRows())
	b := NewBatch(n)
	schema := rec.Schema()

	type jaggedParts struct {
		counts []int
		fields map[string][]float64
	}
	collections := map[string]*jaggedParts{}
	records := map[string]map[string][]float64{}
	var order []string
	seen := map[string]bool{}
	note := func(name string) {
		if !seen[name] {
			seen[name] = true
			order = append(order, name)
		}
	}

	for i := 0; i < int(rec.NumCols()); i++ {
		colName := schema.Field(i).Name
		arr := rec.Column(i)
		prefix, field, nested := strings.Cut(colName, "_")

		if list, ok := arr.(*array.List); ok {
			if !nested {
				return nil, fmt.Errorf("%w: list column %s has no collection prefix", ErrColumnType, colName)
			}
			counts, flat, err := listToFlat(list)
			if err != nil {
				return nil, fmt.Errorf("column %s: %w", colName, err)
			}
			parts, ok := collections[prefix]
			if !ok {
				parts = &jaggedParts{counts: counts, fields: map[string][]float64{}}
				collections[prefix] = parts
				note(prefix)
			} else if !sameCounts(parts.counts, counts) {
				return nil, fmt.Errorf("%w: column %s partitions events differently from collection %s", ErrLength, colName, prefix)
			}
			parts.fields[field] = flat
			continue
		}

		if nested {
			vals, err := toFloat64(arr)
			if err != nil {
				return nil, fmt.Errorf("column %s: %w", colName, err)
			}
			if _, ok := records[prefix]; !ok {
				records[prefix] = map[string][]float64{}
				note(prefix)
			}
			records[prefix][field] = vals
			continue
		}

		if bools, ok := arr.(*array.Boolean); ok {
			flags := make(Flags, bools.Len())
			for k := range flags {
				flags[k] = bools.IsValid(k) && bools.Value(k)
			}
			if err := b.Set(colName, flags); err != nil {
				return nil, err
			}
			continue
		}
		vals, err := toFloat64(arr)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", colName, err)
		}
		if err := b.Set(colName, Scalars(vals)); err != nil {
			return nil, err
		}
	}

	for _, name := range order {
		if parts, ok := collections[name]; ok {
			j, err := NewJagged(parts.counts, parts.fields)
			if err != nil {
				return nil, fmt.Errorf("collection %s: %w", name, err)
			}
			if err := b.Set(name, j); err != nil {
				return nil, err
			}
			continue
		}
		r, err := NewRecord(n, records[name])
		if err != nil {
			return nil, fmt.Errorf("record %s: %w", name, err)
		}
		if err := b.Set(name, r); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// #endregion from-record

// #region read-ipc
// CountIPC returns the number of record batches in an Arrow IPC stream
// without binding any of them.
func CountIPC(r io.Reader) (int, error) {
	n := 0
	err := eachRecord(r, func(int, arrow.Record) (bool, error) {
		n++
		return true, nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// ReadIPCBatch binds only the record batch at index of an Arrow IPC stream.
func ReadIPCBatch(r io.Reader, index int) (*Batch, error) {
	var b *Batch
	err := eachRecord(r, func(i int, rec arrow.Record) (bool, error) {
		if i < index {
			return true, nil
		}
		var err error
		if b, err = FromRecord(rec); err != nil {
			return false, fmt.Errorf("chunk %d: %w", index, err)
		}
		return false, nil
	})
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, fmt.Errorf("%w: stream has no record batch %d", ErrLength, index)
	}
	return b, nil
}

// eachRecord hands the record batches of a stream to fn in order until fn
// returns false. Records are only valid during the call.
func eachRecord(r io.Reader, fn func(i int, rec arrow.Record) (bool, error)) error {
	rdr, err := ipc.NewReader(r, ipc.WithAllocator(memory.NewGoAllocator()))
	if err != nil {
		return fmt.Errorf("open ipc stream: %w", err)
	}
	defer rdr.Release()

	for i := 0; rdr.Next(); i++ {
		more, err := fn(i, rdr.Record())
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
	}
	if err := rdr.Err(); err != nil && err != io.EOF {
		return fmt.Errorf("read ipc stream: %w", err)
	}
	return nil
}

// #endregion read-ipc

// #region conversion
func listToFlat(list *array.List) ([]int, []float64, error) {
	values := list.ListValues()
	all, err := toFloat64(values)
	if err != nil {
		return nil, nil, err
	}
	counts := make([]int, list.Len())
	flat := make([]float64, 0, len(all))
	for i := 0; i < list.Len(); i++ {
		if list.IsNull(i) {
			continue
		}
		start, end := list.ValueOffsets(i)
		counts[i] = int(end - start)
		flat = append(flat, all[start:end]...)
	}
	return counts, flat, nil
}

// toFloat64 widens a primitive array. Nulls become NaN.
func toFloat64(arr arrow.Array) ([]float64, error) {
	out := make([]float64, arr.Len())
	for i := range out {
		if arr.IsNull(i) {
			out[i] = math.NaN()
		}
	}
	set := func(get func(i int) float64) {
		for i := range out {
			if arr.IsValid(i) {
				out[i] = get(i)
			}
		}
	}
	switch a := arr.(type) {
	case *array.Float64:
		set(func(i int) float64 { return a.Value(i) })
	case *array.Float32:
		set(func(i int) float64 { return float64(a.Value(i)) })
	case *array.Int64:
		set(func(i int) float64 { return float64(a.Value(i)) })
	case *array.Int32:
		set(func(i int) float64 { return float64(a.Value(i)) })
	case *array.Int16:
		set(func(i int) float64 { return float64(a.Value(i)) })
	case *array.Int8:
		set(func(i int) float64 { return float64(a.Value(i)) })
	case *array.Uint64:
		set(func(i int) float64 { return float64(a.Value(i)) })
	case *array.Uint32:
		set(func(i int) float64 { return float64(a.Value(i)) })
	case *array.Uint8:
		set(func(i int) float64 { return float64(a.Value(i)) })
	case *array.Boolean:
		set(func(i int) float64 {
			if a.Value(i) {
				return 1
			}
			return 0
		})
	default:
		return nil, fmt.Errorf("%w: unsupported arrow type %s", ErrColumnType, arr.DataType())
	}
	return out, nil
}

func sameCounts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// #endregion conversion
