package columnar

import (
	"fmt"
	"strings"
)

// #region batch
// Batch is one chunk of events. Every column holds exactly Len() events.
type Batch struct {
	n     int
	names []string
	cols  map[string]Column
}

// NewBatch returns an empty batch of n events.
func NewBatch(n int) *Batch {
	return &Batch{n: n, cols: map[string]Column{}}
}

// Len returns the number of events in the batch.
func (b *Batch) Len() int { return b.n }

// Names returns the column names in attachment order.
func (b *Batch) Names() []string {
	out := make([]string, len(b.names))
	copy(out, b.names)
	return out
}

// Has reports whether a column is attached.
func (b *Batch) Has(name string) bool {
	_, ok := b.cols[name]
	return ok
}

// Set attaches a column. Re-setting an existing name replaces the column and
// keeps its position.
func (b *Batch) Set(name string, c Column) error {
	if c == nil {
		return fmt.Errorf("%w: column %s is nil", ErrColumnType, name)
	}
	if c.Len() != b.n {
		return fmt.Errorf("%w: column %s has %d events, batch has %d", ErrLength, name, c.Len(), b.n)
	}
	if _, ok := b.cols[name]; !ok {
		b.names = append(b.names, name)
	}
	b.cols[name] = c
	return nil
}

// Column returns a column by name.
func (b *Batch) Column(name string) (Column, bool) {
	c, ok := b.cols[name]
	return c, ok
}

// Clone returns a batch sharing the (immutable) columns.
func (b *Batch) Clone() *Batch {
	out := &Batch{n: b.n, names: b.Names(), cols: make(map[string]Column, len(b.cols))}
	for k, v := range b.cols {
		out.cols[k] = v
	}
	return out
}

// Filter compacts every column to the events whose mask entry is true. The
// relative order of surviving events is preserved.
func (b *Batch) Filter(mask []bool) (*Batch, error) {
	if len(mask) != b.n {
		return nil, fmt.Errorf("%w: mask has %d entries, batch has %d", ErrLength, len(mask), b.n)
	}
	kept := Flags(mask).Count()
	out := &Batch{n: kept, names: b.Names(), cols: make(map[string]Column, len(b.cols))}
	for _, name := range b.names {
		out.cols[name] = b.cols[name].Filter(mask, kept)
	}
	return out, nil
}

// #endregion batch

// #region typed-access
func (b *Batch) lookup(name string) (Column, error) {
	c, ok := b.cols[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingColumn, name)
	}
	return c, nil
}

// Scalars returns a per-event float column. Flags are not converted.
func (b *Batch) Scalars(name string) (Scalars, error) {
	c, err := b.lookup(name)
	if err != nil {
		return nil, err
	}
	switch v := c.(type) {
	case Scalars:
		return v, nil
	case Empty:
		return Scalars{}, nil
	}
	return nil, fmt.Errorf("%w: %s is %T, want Scalars", ErrColumnType, name, c)
}

// Flags returns a per-event boolean column.
func (b *Batch) Flags(name string) (Flags, error) {
	c, err := b.lookup(name)
	if err != nil {
		return nil, err
	}
	switch v := c.(type) {
	case Flags:
		return v, nil
	case Empty:
		return Flags{}, nil
	}
	return nil, fmt.Errorf("%w: %s is %T, want Flags", ErrColumnType, name, c)
}

// Jagged returns a per-event object collection.
func (b *Batch) Jagged(name string) (*Jagged, error) {
	c, err := b.lookup(name)
	if err != nil {
		return nil, err
	}
	switch v := c.(type) {
	case *Jagged:
		return v, nil
	case Empty:
		return EmptyJagged(0), nil
	}
	return nil, fmt.Errorf("%w: %s is %T, want Jagged", ErrColumnType, name, c)
}

// Record returns a per-event single-object column.
func (b *Batch) Record(name string) (*Record, error) {
	c, err := b.lookup(name)
	if err != nil {
		return nil, err
	}
	switch v := c.(type) {
	case *Record:
		return v, nil
	case Empty:
		return &Record{Fields: map[string][]float64{}}, nil
	}
	return nil, fmt.Errorf("%w: %s is %T, want Record", ErrColumnType, name, c)
}

// #endregion typed-access

// #region resolve
// Values are the numbers a column path resolves to, each tagged with the
// event it belongs to. Jagged paths yield one value per object.
type Values struct {
	Data  []float64
	Event []int
}

// Resolve evaluates a column path: "name" for a per-event column or
// "name.field" for a record or collection field. Invalid record entries are
// skipped.
func (b *Batch) Resolve(path string) (Values, error) {
	name, field, hasField := strings.Cut(path, ".")
	c, err := b.lookup(name)
	if err != nil {
		return Values{}, err
	}
	if _, ok := c.(Empty); ok {
		return Values{Data: []float64{}, Event: []int{}}, nil
	}
	if !hasField {
		switch v := c.(type) {
		case Scalars:
			return Values{Data: append([]float64(nil), v...), Event: seq(len(v))}, nil
		case Flags:
			data := make([]float64, len(v))
			for i, f := range v {
				if f {
					data[i] = 1
				}
			}
			return Values{Data: data, Event: seq(len(v))}, nil
		}
		return Values{}, fmt.Errorf("%w: %s is %T and needs a field", ErrColumnType, name, c)
	}
	switch v := c.(type) {
	case *Record:
		vals, err := v.Field(field)
		if err != nil {
			return Values{}, fmt.Errorf("%s: %w", name, err)
		}
		out := Values{Data: make([]float64, 0, len(vals)), Event: make([]int, 0, len(vals))}
		for i, ok := range v.Valid {
			if ok {
				out.Data = append(out.Data, vals[i])
				out.Event = append(out.Event, i)
			}
		}
		return out, nil
	case *Jagged:
		vals, err := v.Field(field)
		if err != nil {
			return Values{}, fmt.Errorf("%s: %w", name, err)
		}
		return Values{Data: append([]float64(nil), vals...), Event: v.EventIndex()}, nil
	}
	return Values{}, fmt.Errorf("%w: %s is %T and has no fields", ErrColumnType, name, c)
}

func seq(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

// #endregion resolve
