package hist

import (
	"fmt"
	"sort"

	"github.com/danielpatrickdp/stau-selection/internal/columnar"
)

// #region key
// Key identifies one histogram bucket.
type Key struct {
	Histogram string `json:"histogram"`
	Dataset   string `json:"dataset"`
	Category  string `json:"category"`
}

func (k Key) less(o Key) bool {
	if k.Histogram != o.Histogram {
		return k.Histogram < o.Histogram
	}
	if k.Dataset != o.Dataset {
		return k.Dataset < o.Dataset
	}
	return k.Category < o.Category
}

// #endregion key

// #region accumulator
// Accumulator holds histograms keyed by (histogram, dataset, category). It is
// filled by one chunk at a time; partial accumulators combine with Merge.
type Accumulator struct {
	registry *Registry
	hists    map[Key]*Hist
}

// NewAccumulator returns an empty accumulator over a registry.
func NewAccumulator(r *Registry) *Accumulator {
	return &Accumulator{registry: r, hists: map[Key]*Hist{}}
}

// Registry returns the definitions the accumulator fills.
func (a *Accumulator) Registry() *Registry { return a.registry }

// Len is the number of buckets.
func (a *Accumulator) Len() int { return len(a.hists) }

// Get returns one bucket.
func (a *Accumulator) Get(k Key) (*Hist, bool) {
	h, ok := a.hists[k]
	return h, ok
}

// Keys lists buckets sorted by histogram, dataset, category.
func (a *Accumulator) Keys() []Key {
	keys := make([]Key, 0, len(a.hists))
	for k := range a.hists {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].less(keys[j]) })
	return keys
}

func (a *Accumulator) bucket(k Key) (*Hist, error) {
	if h, ok := a.hists[k]; ok {
		return h, nil
	}
	def, err := a.registry.Lookup(k.Histogram)
	if err != nil {
		return nil, err
	}
	h := New(k.Histogram, def.Axes...)
	a.hists[k] = h
	return h, nil
}

// Touch creates an empty bucket so that empty categories still appear in
// outputs.
func (a *Accumulator) Touch(k Key) error {
	_, err := a.bucket(k)
	return err
}

// Fill adds weighted entries. axisValues maps each axis name to one value per
// weight.
func (a *Accumulator) Fill(k Key, axisValues map[string][]float64, weights []float64) error {
	h, err := a.bucket(k)
	if err != nil {
		return err
	}
	cols := make([][]float64, len(h.Axes))
	for i, ax := range h.Axes {
		vals, ok := axisValues[ax.Name]
		if !ok {
			return fmt.Errorf("%w: %s needs axis %s", ErrCoordinates, k.Histogram, ax.Name)
		}
		cols[i] = vals
	}
	return h.FillN(cols, weights)
}

// Merge adds every bucket of o into a. All shared buckets are checked first,
// so an incompatible merge leaves a unchanged.
func (a *Accumulator) Merge(o *Accumulator) error {
	for k, theirs := range o.hists {
		if ours, ok := a.hists[k]; ok {
			if err := ours.Compatible(theirs); err != nil {
				return fmt.Errorf("merge %s/%s/%s: %w", k.Histogram, k.Dataset, k.Category, err)
			}
		}
	}
	for k, theirs := range o.hists {
		if ours, ok := a.hists[k]; ok {
			if err := ours.Add(theirs); err != nil {
				return err
			}
			continue
		}
		a.hists[k] = theirs.Clone()
	}
	return nil
}

// Clone returns a deep copy.
func (a *Accumulator) Clone() *Accumulator {
	out := NewAccumulator(a.registry)
	for k, h := range a.hists {
		out.hists[k] = h.Clone()
	}
	return out
}

// MergeAll folds accumulators left to right into a new accumulator.
func MergeAll(r *Registry, parts ...*Accumulator) (*Accumulator, error) {
	out := NewAccumulator(r)
	for _, p := range parts {
		if err := out.Merge(p); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// #endregion accumulator

// #region batch-fill
// FillBatch resolves the fill paths of histogram name on b and fills the
// events selected by mask (nil selects all) with per-event weights w.
// Per-event values are broadcast onto per-object values of the same event.
// Entries whose coordinates are missing for their event are not filled.
func (a *Accumulator) FillBatch(k Key, b *columnar.Batch, w []float64, mask []bool) error {
	def, err := a.registry.Lookup(k.Histogram)
	if err != nil {
		return err
	}
	if len(w) != b.Len() {
		return fmt.Errorf("%w: %d weights for %d events", ErrCoordinates, len(w), b.Len())
	}
	if mask != nil && len(mask) != b.Len() {
		return fmt.Errorf("%w: mask has %d entries for %d events", ErrCoordinates, len(mask), b.Len())
	}

	resolved := make([]columnar.Values, len(def.Axes))
	driver := 0
	for i, path := range def.Paths() {
		v, err := b.Resolve(path)
		if err != nil {
			return fmt.Errorf("%s axis %s: %w", k.Histogram, def.Axes[i].Name, err)
		}
		resolved[i] = v
	}
	for i, v := range resolved {
		d := resolved[driver]
		if len(v.Data) > len(d.Data) || (len(v.Data) == len(d.Data) && perObject(v) && !perObject(d)) {
			driver = i
		}
	}

	drv := resolved[driver]
	lookups := make([]func(entry, event int) (float64, bool), len(resolved))
	for i, v := range resolved {
		lookups[i] = aligner(v, drv)
	}

	values := make(map[string][]float64, len(def.Axes))
	var weights []float64
	coords := make([]float64, len(def.Axes))
	for entry, ev := range drv.Event {
		if mask != nil && !mask[ev] {
			continue
		}
		ok := true
		for i := range resolved {
			coords[i], ok = lookups[i](entry, ev)
			if !ok {
				break
			}
		}
		if !ok {
			continue
		}
		for i, ax := range def.Axes {
			values[ax.Name] = append(values[ax.Name], coords[i])
		}
		weights = append(weights, w[ev])
	}
	if len(weights) == 0 {
		return a.Touch(k)
	}
	return a.Fill(k, values, weights)
}

// aligner maps an entry of the driver onto v: positionally when both share
// the same event layout, otherwise by event when v holds one value per event.
func aligner(v, drv columnar.Values) func(entry, event int) (float64, bool) {
	if sameEvents(v.Event, drv.Event) {
		return func(entry, _ int) (float64, bool) { return v.Data[entry], true }
	}
	perEvent := make(map[int]float64, len(v.Event))
	multi := map[int]bool{}
	for i, ev := range v.Event {
		if _, dup := perEvent[ev]; dup {
			multi[ev] = true
		}
		perEvent[ev] = v.Data[i]
	}
	return func(_ int, event int) (float64, bool) {
		if multi[event] {
			return 0, false
		}
		x, ok := perEvent[event]
		return x, ok
	}
}

// perObject reports whether some event holds more than one value.
func perObject(v columnar.Values) bool {
	for i := 1; i < len(v.Event); i++ {
		if v.Event[i] == v.Event[i-1] {
			return true
		}
	}
	return false
}

func sameEvents(a, b []int) bool {
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

// #endregion batch-fill
