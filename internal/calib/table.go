package calib

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// #region errors
// ErrMissingCalibration marks an absent correction. Callers degrade to a
// neutral factor instead of failing.
var ErrMissingCalibration = errors.New("missing calibration input")

// ErrBadVariable is returned when lookup inputs do not match the table.
var ErrBadVariable = errors.New("bad calibration variable")

// #endregion errors

// #region provider
// Provider evaluates named corrections. Lookup returns one factor per input
// row; variation is "" (or "nom") for the central value.
type Provider interface {
	Lookup(ctx context.Context, name string, vars map[string][]float64, variation string) ([]float64, error)
	Describe(ctx context.Context, name string) ([]string, error)
}

// #endregion provider

// #region table
// Dim is one binned input of a correction.
type Dim struct {
	Label string    `yaml:"label" json:"label"`
	Edges []float64 `yaml:"edges" json:"edges"`
}

// Table is a binned correction with row-major values over its dims. Inputs
// outside the edges are clamped to the first or last bin.
type Table struct {
	Name       string               `yaml:"name" json:"name"`
	Dims       []Dim                `yaml:"dims" json:"dims"`
	Values     []float64            `yaml:"values" json:"values"`
	Up         []float64            `yaml:"up,omitempty" json:"up,omitempty"`
	Down       []float64            `yaml:"down,omitempty" json:"down,omitempty"`
	Variations map[string][]float64 `yaml:"variations,omitempty" json:"variations,omitempty"`
}

// Size is the number of bins.
func (t *Table) Size() int {
	n := 1
	for _, d := range t.Dims {
		n *= len(d.Edges) - 1
	}
	return n
}

// Validate checks edges and value array sizes.
func (t *Table) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("table without name")
	}
	if len(t.Dims) == 0 {
		return fmt.Errorf("table %s: no dims", t.Name)
	}
	for _, d := range t.Dims {
		if len(d.Edges) < 2 {
			return fmt.Errorf("table %s: dim %s needs at least two edges", t.Name, d.Label)
		}
		if !sort.Float64sAreSorted(d.Edges) {
			return fmt.Errorf("table %s: dim %s edges not increasing", t.Name, d.Label)
		}
	}
	size := t.Size()
	check := func(what string, vals []float64) error {
		if vals != nil && len(vals) != size {
			return fmt.Errorf("table %s: %s has %d values, want %d", t.Name, what, len(vals), size)
		}
		return nil
	}
	if len(t.Values) != size {
		return fmt.Errorf("table %s: values has %d entries, want %d", t.Name, len(t.Values), size)
	}
	if err := check("up", t.Up); err != nil {
		return err
	}
	if err := check("down", t.Down); err != nil {
		return err
	}
	for name, vals := range t.Variations {
		if err := check(name, vals); err != nil {
			return err
		}
	}
	return nil
}

// Labels returns the input labels in dim order.
func (t *Table) Labels() []string {
	out := make([]string, len(t.Dims))
	for i, d := range t.Dims {
		out[i] = d.Label
	}
	return out
}

// Eval looks up one factor per row of vars.
func (t *Table) Eval(vars map[string][]float64, variation string) ([]float64, error) {
	values, err := t.valuesFor(variation)
	if err != nil {
		return nil, err
	}
	n := -1
	cols := make([][]float64, len(t.Dims))
	for i, d := range t.Dims {
		col, ok := vars[d.Label]
		if !ok {
			return nil, fmt.Errorf("%w: table %s needs %s", ErrBadVariable, t.Name, d.Label)
		}
		if n >= 0 && len(col) != n {
			return nil, fmt.Errorf("%w: table %s: %s has %d rows, want %d", ErrBadVariable, t.Name, d.Label, len(col), n)
		}
		n = len(col)
		cols[i] = col
	}
	out := make([]float64, n)
	for row := 0; row < n; row++ {
		idx := 0
		for i, d := range t.Dims {
			idx = idx*(len(d.Edges)-1) + clampBin(d.Edges, cols[i][row])
		}
		out[row] = values[idx]
	}
	return out, nil
}

func (t *Table) valuesFor(variation string) ([]float64, error) {
	switch variation {
	case "", "nom":
		return t.Values, nil
	case "up":
		if t.Up != nil {
			return t.Up, nil
		}
	case "down":
		if t.Down != nil {
			return t.Down, nil
		}
	}
	if vals, ok := t.Variations[variation]; ok {
		return vals, nil
	}
	return nil, fmt.Errorf("%w: table %s has no variation %q", ErrMissingCalibration, t.Name, variation)
}

// clampBin returns the bin index of x; under- and overflow land in the edge
// bins. NaN lands in the first bin.
func clampBin(edges []float64, x float64) int {
	nbins := len(edges) - 1
	if !(x >= edges[0]) {
		return 0
	}
	if x >= edges[nbins] {
		return nbins - 1
	}
	return sort.Search(len(edges), func(k int) bool { return edges[k] > x }) - 1
}

// #endregion table

// #region table-set
// TableSet is an in-memory Provider over loaded tables.
type TableSet struct {
	tables map[string]*Table
}

// NewTableSet validates and indexes the given tables.
func NewTableSet(tables ...*Table) (*TableSet, error) {
	s := &TableSet{tables: make(map[string]*Table, len(tables))}
	for _, t := range tables {
		if err := t.Validate(); err != nil {
			return nil, err
		}
		if _, dup := s.tables[t.Name]; dup {
			return nil, fmt.Errorf("duplicate table %s", t.Name)
		}
		s.tables[t.Name] = t
	}
	return s, nil
}

type tableFile struct {
	Tables []*Table `yaml:"tables"`
}

// LoadTables reads a YAML (or JSON) file holding a "tables" list.
func LoadTables(path string) (*TableSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tables: %w", err)
	}
	var f tableFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse tables %s: %w", path, err)
	}
	return NewTableSet(f.Tables...)
}

// Names returns the table names in sorted order.
func (s *TableSet) Names() []string {
	out := make([]string, 0, len(s.tables))
	for name := range s.tables {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (s *TableSet) Lookup(_ context.Context, name string, vars map[string][]float64, variation string) ([]float64, error) {
	t, ok := s.tables[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingCalibration, name)
	}
	return t.Eval(vars, variation)
}

func (s *TableSet) Describe(_ context.Context, name string) ([]string, error) {
	t, ok := s.tables[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingCalibration, name)
	}
	return t.Labels(), nil
}

// #endregion table-set
