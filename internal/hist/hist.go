package hist

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// #region errors
var (
	// ErrIncompatible is returned when merging histograms whose axes differ.
	ErrIncompatible = errors.New("incompatible histograms")

	// ErrUnknownHistogram is returned for names missing from the registry.
	ErrUnknownHistogram = errors.New("unknown histogram")

	// ErrCoordinates is returned when a fill has the wrong number of values.
	ErrCoordinates = errors.New("bad fill coordinates")
)

// #endregion errors

// #region axis
// Axis is a binned dimension. Every axis carries an underflow bin (index 0)
// and an overflow bin (index Bins()+1) around its regular bins. NaN values
// are counted in the overflow bin.
type Axis struct {
	Name  string    `json:"name"`
	Label string    `json:"label,omitempty"`
	Edges []float64 `json:"edges"`
}

// Regular builds an axis of equal-width bins over [lo, hi).
func Regular(name, label string, bins int, lo, hi float64) Axis {
	edges := make([]float64, bins+1)
	width := (hi - lo) / float64(bins)
	for i := range edges {
		edges[i] = lo + float64(i)*width
	}
	edges[bins] = hi
	return Axis{Name: name, Label: label, Edges: edges}
}

// Variable builds an axis from explicit increasing edges.
func Variable(name, label string, edges []float64) Axis {
	return Axis{Name: name, Label: label, Edges: append([]float64(nil), edges...)}
}

// Validate checks the edges.
func (a Axis) Validate() error {
	if len(a.Edges) < 2 {
		return fmt.Errorf("axis %s: needs at least two edges", a.Name)
	}
	for i := 1; i < len(a.Edges); i++ {
		if !(a.Edges[i] > a.Edges[i-1]) {
			return fmt.Errorf("axis %s: edges not strictly increasing at %d", a.Name, i)
		}
	}
	return nil
}

// Bins is the number of regular bins.
func (a Axis) Bins() int { return len(a.Edges) - 1 }

// Index returns the storage index of x: 0 for underflow, 1..Bins() for
// regular bins, Bins()+1 for overflow.
func (a Axis) Index(x float64) int {
	nb := a.Bins()
	switch {
	case math.IsNaN(x):
		return nb + 1
	case x < a.Edges[0]:
		return 0
	case x >= a.Edges[nb]:
		return nb + 1
	}
	return sort.Search(len(a.Edges), func(k int) bool { return a.Edges[k] > x })
}

// Equal reports identical name and edges.
func (a Axis) Equal(b Axis) bool {
	if a.Name != b.Name || len(a.Edges) != len(b.Edges) {
		return false
	}
	for i := range a.Edges {
		if a.Edges[i] != b.Edges[i] {
			return false
		}
	}
	return true
}

// #endregion axis

// #region hist
// Hist is an N-dimensional weighted histogram. SumW and SumW2 are stored
// row-major over all axes including flow bins.
type Hist struct {
	Name    string    `json:"name"`
	Axes    []Axis    `json:"axes"`
	SumW    []float64 `json:"sumw"`
	SumW2   []float64 `json:"sumw2"`
	Entries int64     `json:"entries"`
}

// New allocates an empty histogram.
func New(name string, axes ...Axis) *Hist {
	size := 1
	for _, a := range axes {
		size *= a.Bins() + 2
	}
	return &Hist{
		Name:  name,
		Axes:  append([]Axis(nil), axes...),
		SumW:  make([]float64, size),
		SumW2: make([]float64, size),
	}
}

// Dim is the number of axes.
func (h *Hist) Dim() int { return len(h.Axes) }

// Index flattens per-axis storage indices (flow bins included).
func (h *Hist) Index(bins ...int) int {
	idx := 0
	for i, a := range h.Axes {
		idx = idx*(a.Bins()+2) + bins[i]
	}
	return idx
}

// At returns the contents of one storage cell.
func (h *Hist) At(bins ...int) (sumw, sumw2 float64) {
	i := h.Index(bins...)
	return h.SumW[i], h.SumW2[i]
}

// Fill adds one weighted entry at the given coordinates, one per axis.
func (h *Hist) Fill(w float64, coords ...float64) error {
	if len(coords) != len(h.Axes) {
		return fmt.Errorf("%w: %s has %d axes, got %d values", ErrCoordinates, h.Name, len(h.Axes), len(coords))
	}
	idx := 0
	for i, a := range h.Axes {
		idx = idx*(a.Bins()+2) + a.Index(coords[i])
	}
	h.SumW[idx] += w
	h.SumW2[idx] += w * w
	h.Entries++
	return nil
}

// FillN fills columns of coordinates, columns[axis][entry], with weights.
func (h *Hist) FillN(columns [][]float64, weights []float64) error {
	if len(columns) != len(h.Axes) {
		return fmt.Errorf("%w: %s has %d axes, got %d columns", ErrCoordinates, h.Name, len(h.Axes), len(columns))
	}
	for i, col := range columns {
		if len(col) != len(weights) {
			return fmt.Errorf("%w: %s axis %s has %d values for %d weights", ErrCoordinates, h.Name, h.Axes[i].Name, len(col), len(weights))
		}
	}
	coords := make([]float64, len(columns))
	for k, w := range weights {
		for i := range columns {
			coords[i] = columns[i][k]
		}
		if err := h.Fill(w, coords...); err != nil {
			return err
		}
	}
	return nil
}

// Compatible returns ErrIncompatible unless both histograms share axes.
func (h *Hist) Compatible(o *Hist) error {
	if len(h.Axes) != len(o.Axes) {
		return fmt.Errorf("%w: %s has %d axes, %s has %d", ErrIncompatible, h.Name, len(h.Axes), o.Name, len(o.Axes))
	}
	for i := range h.Axes {
		if !h.Axes[i].Equal(o.Axes[i]) {
			return fmt.Errorf("%w: %s axis %d differs (%s vs %s)", ErrIncompatible, h.Name, i, h.Axes[i].Name, o.Axes[i].Name)
		}
	}
	return nil
}

// Add merges o into h bin by bin.
func (h *Hist) Add(o *Hist) error {
	if err := h.Compatible(o); err != nil {
		return err
	}
	for i := range h.SumW {
		h.SumW[i] += o.SumW[i]
		h.SumW2[i] += o.SumW2[i]
	}
	h.Entries += o.Entries
	return nil
}

// Merge returns a new histogram holding a + b.
func Merge(a, b *Hist) (*Hist, error) {
	if err := a.Compatible(b); err != nil {
		return nil, err
	}
	out := a.Clone()
	if err := out.Add(b); err != nil {
		return nil, err
	}
	return out, nil
}

// Clone returns a deep copy.
func (h *Hist) Clone() *Hist {
	out := &Hist{
		Name:    h.Name,
		Axes:    make([]Axis, len(h.Axes)),
		SumW:    append([]float64(nil), h.SumW...),
		SumW2:   append([]float64(nil), h.SumW2...),
		Entries: h.Entries,
	}
	for i, a := range h.Axes {
		out.Axes[i] = Variable(a.Name, a.Label, a.Edges)
	}
	return out
}

// Scale multiplies sumw by f and sumw2 by f squared.
func (h *Hist) Scale(f float64) {
	for i := range h.SumW {
		h.SumW[i] *= f
		h.SumW2[i] *= f * f
	}
}

// Integral sums every cell, flow bins included.
func (h *Hist) Integral() float64 {
	var s float64
	for _, v := range h.SumW {
		s += v
	}
	return s
}

// Values returns the regular-bin contents of a 1-D histogram.
func (h *Hist) Values() ([]float64, []float64, error) {
	if len(h.Axes) != 1 {
		return nil, nil, fmt.Errorf("%s: Values needs a 1-D histogram, have %d axes", h.Name, len(h.Axes))
	}
	nb := h.Axes[0].Bins()
	return append([]float64(nil), h.SumW[1:nb+1]...), append([]float64(nil), h.SumW2[1:nb+1]...), nil
}

// #endregion hist
