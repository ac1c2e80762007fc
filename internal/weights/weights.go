package weights

import (
	"errors"
	"fmt"
	"sort"

	"gonum.org/v1/gonum/floats"
)

// ErrLength is returned when a contribution or mask does not cover every event.
var ErrLength = errors.New("weight length mismatch")

// #region engine
// Engine owns the per-event weight of one chunk. Nominal weights start at 1.0
// and are multiplied by each contribution in order. Systematic ratios are kept
// relative to nominal and compose by multiplication.
type Engine struct {
	nominal []float64
	ratios  map[string]Variation
	order   []string
	steps   []Step
}

// NewEngine starts n events at weight 1.0.
func NewEngine(n int) *Engine {
	return &Engine{
		nominal: Neutral(n).Factor,
		ratios:  map[string]Variation{},
	}
}

// Len is the current number of events.
func (e *Engine) Len() int {
	return len(e.nominal)
}

// Apply multiplies a contribution into the weights.
func (e *Engine) Apply(name string, c Contribution) error {
	n := len(e.nominal)
	if c.Len() != n {
		return fmt.Errorf("%w: %s has %d factors for %d events", ErrLength, name, c.Len(), n)
	}
	for sys, v := range c.Systematics {
		if len(v.Up) != n || len(v.Down) != n {
			return fmt.Errorf("%w: %s variation %s has %d/%d ratios for %d events", ErrLength, name, sys, len(v.Up), len(v.Down), n)
		}
	}

	floats.Mul(e.nominal, c.Factor)

	step := Step{Name: name}
	for _, sys := range sortedKeys(c.Systematics) {
		v := c.Systematics[sys]
		cur, ok := e.ratios[sys]
		if !ok {
			e.ratios[sys] = Variation{Up: clone(v.Up), Down: clone(v.Down)}
			e.order = append(e.order, sys)
		} else {
			floats.Mul(cur.Up, v.Up)
			floats.Mul(cur.Down, v.Down)
		}
		step.Variations = append(step.Variations, sys)
	}
	e.steps = append(e.steps, step)
	return nil
}

// Nominal returns a copy of the nominal weights.
func (e *Engine) Nominal() []float64 {
	return clone(e.nominal)
}

// Variations lists systematic names in the order they first appeared.
func (e *Engine) Variations() []string {
	return append([]string(nil), e.order...)
}

// Steps lists applied contributions in order.
func (e *Engine) Steps() []Step {
	return append([]Step(nil), e.steps...)
}

// Variation returns the absolute up and down weights for a systematic.
func (e *Engine) Variation(name string) (up, down []float64, ok bool) {
	r, ok := e.ratios[name]
	if !ok {
		return nil, nil, false
	}
	up = make([]float64, len(e.nominal))
	down = make([]float64, len(e.nominal))
	floats.MulTo(up, e.nominal, r.Up)
	floats.MulTo(down, e.nominal, r.Down)
	return up, down, true
}

// Sum is the total nominal weight.
func (e *Engine) Sum() float64 {
	return floats.Sum(e.nominal)
}

// Filter keeps events where mask is true, preserving order.
func (e *Engine) Filter(mask []bool) (*Engine, error) {
	if len(mask) != len(e.nominal) {
		return nil, fmt.Errorf("%w: mask has %d entries for %d events", ErrLength, len(mask), len(e.nominal))
	}
	out := &Engine{
		nominal: compact(e.nominal, mask),
		ratios:  make(map[string]Variation, len(e.ratios)),
		order:   append([]string(nil), e.order...),
		steps:   append([]Step(nil), e.steps...),
	}
	for name, r := range e.ratios {
		out.ratios[name] = Variation{Up: compact(r.Up, mask), Down: compact(r.Down, mask)}
	}
	return out, nil
}

// #endregion engine

// #region reductions
// ProductPerEvent multiplies per-object factors within each event, as given
// by jagged offsets. Events without objects get 1.0.
func ProductPerEvent(offsets []int, perObject []float64) []float64 {
	out := make([]float64, len(offsets)-1)
	for ev := range out {
		p := 1.0
		for k := offsets[ev]; k < offsets[ev+1]; k++ {
			p *= perObject[k]
		}
		out[ev] = p
	}
	return out
}

// Ratio divides varied factors by nominal ones. Zero nominal factors give 1.0.
func Ratio(varied, nominal []float64) []float64 {
	out := make([]float64, len(nominal))
	for i := range nominal {
		if nominal[i] == 0 {
			out[i] = 1
			continue
		}
		out[i] = varied[i] / nominal[i]
	}
	return out
}

// #endregion reductions

// #region helpers
func clone(s []float64) []float64 {
	return append([]float64(nil), s...)
}

func compact(s []float64, mask []bool) []float64 {
	out := make([]float64, 0, len(s))
	for i, keep := range mask {
		if keep {
			out = append(out, s[i])
		}
	}
	return out
}

func sortedKeys(m map[string]Variation) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// #endregion helpers
