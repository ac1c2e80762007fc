// Package columnar holds the per-chunk event batch: an event count plus named,
// typed columns that are compacted together when events are filtered.
package columnar

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// #region errors
var (
	ErrMissingColumn = errors.New("missing column")
	ErrColumnType    = errors.New("column type mismatch")
	ErrLength        = errors.New("column length mismatch")
)

// #endregion errors

// #region column
// Column is one named per-event column of a Batch. Columns are immutable once
// attached; Filter always returns a new column.
type Column interface {
	Len() int
	// Filter keeps the events whose mask entry is true. kept is the number of
	// true entries and is used to size the result.
	Filter(mask []bool, kept int) Column
}

// #endregion column

// #region scalars
// Scalars is one float64 per event.
type Scalars []float64

func (s Scalars) Len() int { return len(s) }

func (s Scalars) Filter(mask []bool, kept int) Column {
	out := make(Scalars, 0, kept)
	for i, ok := range mask {
		if ok {
			out = append(out, s[i])
		}
	}
	return out
}

// #endregion scalars

// #region flags
// Flags is one boolean per event. Category labels and cut masks are Flags.
type Flags []bool

func (f Flags) Len() int { return len(f) }

func (f Flags) Filter(mask []bool, kept int) Column {
	out := make(Flags, 0, kept)
	for i, ok := range mask {
		if ok {
			out = append(out, f[i])
		}
	}
	return out
}

// Count returns the number of true entries.
func (f Flags) Count() int {
	n := 0
	for _, v := range f {
		if v {
			n++
		}
	}
	return n
}

// #endregion flags

// #region empty
// Empty is attached in place of a computed column when the batch has no
// events. Typed accessors on Batch treat it as an empty column of any kind.
type Empty struct{}

func (Empty) Len() int                 { return 0 }
func (Empty) Filter([]bool, int) Column { return Empty{} }

// #endregion empty

// #region record
// Record holds at most one object per event, e.g. the leading muon or the MET.
// Fields of invalid events are NaN.
type Record struct {
	Valid  []bool
	Fields map[string][]float64
}

// NewRecord returns a record of n events with every event valid.
func NewRecord(n int, fields map[string][]float64) (*Record, error) {
	for name, vals := range fields {
		if len(vals) != n {
			return nil, fmt.Errorf("%w: record field %s has %d values, want %d", ErrLength, name, len(vals), n)
		}
	}
	valid := make([]bool, n)
	for i := range valid {
		valid[i] = true
	}
	if fields == nil {
		fields = map[string][]float64{}
	}
	return &Record{Valid: valid, Fields: fields}, nil
}

func (r *Record) Len() int { return len(r.Valid) }

func (r *Record) Filter(mask []bool, kept int) Column {
	out := &Record{
		Valid:  make([]bool, 0, kept),
		Fields: make(map[string][]float64, len(r.Fields)),
	}
	for i, ok := range mask {
		if ok {
			out.Valid = append(out.Valid, r.Valid[i])
		}
	}
	for name, vals := range r.Fields {
		f := make([]float64, 0, kept)
		for i, ok := range mask {
			if ok {
				f = append(f, vals[i])
			}
		}
		out.Fields[name] = f
	}
	return out
}

// Field returns the named field; missing fields are an error.
func (r *Record) Field(name string) ([]float64, error) {
	vals, ok := r.Fields[name]
	if !ok {
		return nil, fmt.Errorf("%w: record field %s", ErrMissingColumn, name)
	}
	return vals, nil
}

// Get returns the field value of event i and whether the event holds an object.
func (r *Record) Get(name string, i int) (float64, bool) {
	if !r.Valid[i] {
		return math.NaN(), false
	}
	vals, ok := r.Fields[name]
	if !ok {
		return math.NaN(), false
	}
	return vals[i], true
}

// WithField returns a copy of the record with one more (or a replaced) field.
func (r *Record) WithField(name string, vals []float64) (*Record, error) {
	if len(vals) != r.Len() {
		return nil, fmt.Errorf("%w: record field %s has %d values, want %d", ErrLength, name, len(vals), r.Len())
	}
	out := &Record{Valid: r.Valid, Fields: make(map[string][]float64, len(r.Fields)+1)}
	for k, v := range r.Fields {
		out.Fields[k] = v
	}
	out.Fields[name] = vals
	return out, nil
}

// #endregion record

// #region jagged
// Jagged is a per-event variable-length collection of objects sharing one
// float64 schema. Offsets has one entry per event plus one; the objects of
// event i are the flat indices [Offsets[i], Offsets[i+1]).
type Jagged struct {
	Offsets []int
	Fields  map[string][]float64
}

// NewJagged builds a collection from per-event object counts and flat fields.
func NewJagged(counts []int, fields map[string][]float64) (*Jagged, error) {
	offsets := make([]int, len(counts)+1)
	for i, c := range counts {
		if c < 0 {
			return nil, fmt.Errorf("%w: negative object count %d at event %d", ErrLength, c, i)
		}
		offsets[i+1] = offsets[i] + c
	}
	total := offsets[len(counts)]
	for name, vals := range fields {
		if len(vals) != total {
			return nil, fmt.Errorf("%w: field %s has %d values, want %d", ErrLength, name, len(vals), total)
		}
	}
	if fields == nil {
		fields = map[string][]float64{}
	}
	return &Jagged{Offsets: offsets, Fields: fields}, nil
}

// EmptyJagged returns a collection of n events with no objects.
func EmptyJagged(n int, fieldNames ...string) *Jagged {
	fields := make(map[string][]float64, len(fieldNames))
	for _, name := range fieldNames {
		fields[name] = []float64{}
	}
	return &Jagged{Offsets: make([]int, n+1), Fields: fields}
}

func (j *Jagged) Len() int {
	if len(j.Offsets) == 0 {
		return 0
	}
	return len(j.Offsets) - 1
}

// Total is the number of objects across all events.
func (j *Jagged) Total() int {
	if len(j.Offsets) == 0 {
		return 0
	}
	return j.Offsets[len(j.Offsets)-1]
}

// Count returns the number of objects in event i.
func (j *Jagged) Count(i int) int { return j.Offsets[i+1] - j.Offsets[i] }

// Counts returns the per-event object counts.
func (j *Jagged) Counts() []int {
	out := make([]int, j.Len())
	for i := range out {
		out[i] = j.Count(i)
	}
	return out
}

// EventIndex maps every flat object index to its event.
func (j *Jagged) EventIndex() []int {
	out := make([]int, j.Total())
	for ev := 0; ev < j.Len(); ev++ {
		for k := j.Offsets[ev]; k < j.Offsets[ev+1]; k++ {
			out[k] = ev
		}
	}
	return out
}

// Field returns the flat values of a field.
func (j *Jagged) Field(name string) ([]float64, error) {
	vals, ok := j.Fields[name]
	if !ok {
		return nil, fmt.Errorf("%w: collection field %s", ErrMissingColumn, name)
	}
	return vals, nil
}

// FieldNames returns the schema in sorted order.
func (j *Jagged) FieldNames() []string {
	names := make([]string, 0, len(j.Fields))
	for name := range j.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (j *Jagged) Filter(mask []bool, kept int) Column {
	counts := make([]int, 0, kept)
	for i, ok := range mask {
		if ok {
			counts = append(counts, j.Count(i))
		}
	}
	objMask := make([]bool, j.Total())
	for i, ok := range mask {
		if ok {
			for k := j.Offsets[i]; k < j.Offsets[i+1]; k++ {
				objMask[k] = true
			}
		}
	}
	out, _ := NewJagged(counts, compactFields(j.Fields, objMask))
	return out
}

// Where keeps the objects whose flat mask entry is true. Event count and the
// relative order of surviving objects are preserved.
func (j *Jagged) Where(keep []bool) (*Jagged, error) {
	if len(keep) != j.Total() {
		return nil, fmt.Errorf("%w: object mask has %d entries, want %d", ErrLength, len(keep), j.Total())
	}
	counts := make([]int, j.Len())
	for ev := range counts {
		for k := j.Offsets[ev]; k < j.Offsets[ev+1]; k++ {
			if keep[k] {
				counts[ev]++
			}
		}
	}
	return NewJagged(counts, compactFields(j.Fields, keep))
}

// WithField returns a copy sharing the existing fields plus one more.
func (j *Jagged) WithField(name string, vals []float64) (*Jagged, error) {
	if len(vals) != j.Total() {
		return nil, fmt.Errorf("%w: field %s has %d values, want %d", ErrLength, name, len(vals), j.Total())
	}
	out := &Jagged{Offsets: j.Offsets, Fields: make(map[string][]float64, len(j.Fields)+1)}
	for k, v := range j.Fields {
		out.Fields[k] = v
	}
	out.Fields[name] = vals
	return out, nil
}

// SortBy reorders the objects of every event by a field. The sort is stable.
func (j *Jagged) SortBy(name string, descending bool) (*Jagged, error) {
	key, err := j.Field(name)
	if err != nil {
		return nil, err
	}
	perm := make([]int, j.Total())
	for i := range perm {
		perm[i] = i
	}
	for ev := 0; ev < j.Len(); ev++ {
		seg := perm[j.Offsets[ev]:j.Offsets[ev+1]]
		sort.SliceStable(seg, func(a, b int) bool {
			if descending {
				return key[seg[a]] > key[seg[b]]
			}
			return key[seg[a]] < key[seg[b]]
		})
	}
	out := &Jagged{Offsets: j.Offsets, Fields: make(map[string][]float64, len(j.Fields))}
	for fname, vals := range j.Fields {
		f := make([]float64, len(vals))
		for i, p := range perm {
			f[i] = vals[p]
		}
		out.Fields[fname] = f
	}
	return out, nil
}

// Firsts takes the first object of every event; events without objects are
// invalid in the result.
func (j *Jagged) Firsts() *Record {
	n := j.Len()
	out := &Record{Valid: make([]bool, n), Fields: make(map[string][]float64, len(j.Fields))}
	for ev := 0; ev < n; ev++ {
		out.Valid[ev] = j.Count(ev) > 0
	}
	for name, vals := range j.Fields {
		f := make([]float64, n)
		for ev := 0; ev < n; ev++ {
			if out.Valid[ev] {
				f[ev] = vals[j.Offsets[ev]]
			} else {
				f[ev] = math.NaN()
			}
		}
		out.Fields[name] = f
	}
	return out
}

func compactFields(fields map[string][]float64, keep []bool) map[string][]float64 {
	out := make(map[string][]float64, len(fields))
	for name, vals := range fields {
		f := make([]float64, 0, len(vals))
		for k, ok := range keep {
			if ok {
				f = append(f, vals[k])
			}
		}
		out[name] = f
	}
	return out
}

// #endregion jagged
