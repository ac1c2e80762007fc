package selection

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/danielpatrickdp/stau-selection/internal/columnar"
	"github.com/danielpatrickdp/stau-selection/internal/weights"
)

// #region selector
// Selector applies cuts, derived columns, weights and category splits to one
// chunk in call order. Every step sees the batch left by the previous one.
// A Selector is not safe for concurrent use.
type Selector struct {
	batch   *columnar.Batch
	weights *weights.Engine
	cutflow *Cutflow
	groups  []Group
	active  map[string]bool
	dataset string
	logger  *zap.Logger
}

// NewSelector starts a selection over b and records the "Before cuts" entry.
func NewSelector(b *columnar.Batch, opts Options) *Selector {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Selector{
		batch:   b,
		weights: weights.NewEngine(b.Len()),
		cutflow: NewCutflow(),
		active:  map[string]bool{},
		dataset: opts.Dataset,
		logger:  logger,
	}
	n := int64(b.Len())
	w := s.weights.Sum()
	s.cutflow.Append(AllCategory, Entry{Name: BeforeCuts, EventsIn: n, EventsOut: n, WeightIn: w, WeightOut: w})
	return s
}

// Batch returns the current (filtered) batch.
func (s *Selector) Batch() *columnar.Batch { return s.batch }

// Weights returns the current per-event weights.
func (s *Selector) Weights() *weights.Engine { return s.weights }

// Cutflow returns the recorded cutflow.
func (s *Selector) Cutflow() *Cutflow { return s.cutflow }

// Len is the number of surviving events.
func (s *Selector) Len() int { return s.batch.Len() }

// Groups returns the declared category groups in declaration order.
func (s *Selector) Groups() []Group {
	return append([]Group(nil), s.groups...)
}

// #endregion selector

// #region add-cut
// AddCut evaluates fn on the current events, records the cutflow entry for
// the state entering the cut, then drops failing events.
func (s *Selector) AddCut(name string, fn CutFunc) error {
	n := s.batch.Len()
	mask := []bool{}
	if n > 0 {
		var err error
		mask, err = fn(s.batch)
		if err != nil {
			return fmt.Errorf("cut %s: %w", name, err)
		}
		if len(mask) != n {
			return &ShapeMismatchError{Step: name, Want: n, Got: len(mask)}
		}
	}
	nominal := s.weights.Nominal()
	if err := s.record(name, mask, nominal, nominal); err != nil {
		return err
	}
	return s.apply(name, mask)
}

// #endregion add-cut

// #region add-weight
// AddWeight multiplies a weight contribution into the event weights and
// records it like a cut. Events whose nominal factor is exactly 0 are dropped.
func (s *Selector) AddWeight(ctx context.Context, name string, fn WeightFunc) error {
	n := s.batch.Len()
	c := weights.Contribution{Factor: []float64{}}
	if n > 0 {
		var err error
		c, err = fn(ctx, s.batch)
		if err != nil {
			return fmt.Errorf("weight %s: %w", name, err)
		}
		if c.Len() != n {
			return &ShapeMismatchError{Step: name, Want: n, Got: c.Len()}
		}
		for sys, v := range c.Systematics {
			if len(v.Up) != n {
				return &ShapeMismatchError{Step: name + ":" + sys + "_up", Want: n, Got: len(v.Up)}
			}
			if len(v.Down) != n {
				return &ShapeMismatchError{Step: name + ":" + sys + "_down", Want: n, Got: len(v.Down)}
			}
		}
	}

	before := s.weights.Nominal()
	if err := s.weights.Apply(name, c); err != nil {
		return fmt.Errorf("weight %s: %w", name, err)
	}
	after := s.weights.Nominal()
	mask := make([]bool, n)
	for i, f := range c.Factor {
		mask[i] = f != 0
	}
	if err := s.record(name, mask, before, after); err != nil {
		return err
	}
	return s.apply(name, mask)
}

// #endregion add-weight

// #region set-column
// SetColumn attaches the result of fn under name. On an empty batch fn is not
// called and an Empty column is attached instead.
func (s *Selector) SetColumn(name string, fn ColumnFunc) error {
	n := s.batch.Len()
	var col columnar.Column = columnar.Empty{}
	if n > 0 {
		var err error
		col, err = fn(s.batch)
		if err != nil {
			return fmt.Errorf("column %s: %w", name, err)
		}
		if col == nil || col.Len() != n {
			got := 0
			if col != nil {
				got = col.Len()
			}
			return &ShapeMismatchError{Step: name, Want: n, Got: got}
		}
	}
	next := s.batch.Clone()
	if err := next.Set(name, col); err != nil {
		return fmt.Errorf("column %s: %w", name, err)
	}
	s.batch = next
	s.logger.Debug("column set", zap.String("dataset", s.dataset), zap.String("column", name))
	return s.activateGroups()
}

// SetMultipleColumns attaches every named result of fn. fn must return
// exactly the declared names.
func (s *Selector) SetMultipleColumns(names []string, fn ColumnsFunc) error {
	n := s.batch.Len()
	cols := make(map[string]columnar.Column, len(names))
	if n == 0 {
		for _, name := range names {
			cols[name] = columnar.Empty{}
		}
	} else {
		got, err := fn(s.batch)
		if err != nil {
			return fmt.Errorf("columns %s: %w", strings.Join(names, ","), err)
		}
		for _, name := range names {
			col, ok := got[name]
			if !ok {
				return fmt.Errorf("columns: %w: %s not returned", columnar.ErrMissingColumn, name)
			}
			if col == nil || col.Len() != n {
				l := 0
				if col != nil {
					l = col.Len()
				}
				return &ShapeMismatchError{Step: name, Want: n, Got: l}
			}
			cols[name] = col
		}
		if len(got) != len(names) {
			extra := make([]string, 0)
			for k := range got {
				if _, ok := cols[k]; !ok {
					extra = append(extra, k)
				}
			}
			sort.Strings(extra)
			return fmt.Errorf("columns: undeclared results %v", extra)
		}
	}

	next := s.batch.Clone()
	for _, name := range names {
		if err := next.Set(name, cols[name]); err != nil {
			return fmt.Errorf("column %s: %w", name, err)
		}
	}
	s.batch = next
	s.logger.Debug("columns set", zap.String("dataset", s.dataset), zap.Strings("columns", names))
	return s.activateGroups()
}

// #endregion set-column

// #region set-cat
// SetCat declares a category group. Its labels are filled later by
// SetColumn or SetMultipleColumns as boolean columns. Inclusive labels must be
// among labels and are exempt from the exactly-one rule.
func (s *Selector) SetCat(group string, labels []string, inclusive ...string) error {
	if len(labels) == 0 {
		return fmt.Errorf("%w: group %s has no labels", ErrUnknownCategory, group)
	}
	for _, g := range s.groups {
		if g.Name == group {
			return fmt.Errorf("group %s declared twice", group)
		}
	}
	known := map[string]bool{}
	for _, l := range labels {
		if known[l] {
			return fmt.Errorf("group %s: duplicate label %s", group, l)
		}
		known[l] = true
	}
	for _, l := range inclusive {
		if !known[l] {
			return fmt.Errorf("%w: inclusive label %s not in group %s", ErrUnknownCategory, l, group)
		}
	}
	s.groups = append(s.groups, Group{
		Name:      group,
		Labels:    append([]string(nil), labels...),
		Inclusive: append([]string(nil), inclusive...),
	})
	return s.activateGroups()
}

// activateGroups validates groups whose labels have all been attached.
func (s *Selector) activateGroups() error {
	for _, g := range s.groups {
		if s.active[g.Name] {
			continue
		}
		ready := true
		for _, l := range g.Labels {
			if !s.batch.Has(l) {
				ready = false
				break
			}
		}
		if !ready {
			continue
		}
		if err := validateGroup(g, s.batch); err != nil {
			return err
		}
		s.active[g.Name] = true
	}
	return nil
}

// #endregion set-cat

// #region categories
// Categories returns every label combination of the active groups with its
// mask over the current events, in declaration order of groups and labels.
func (s *Selector) Categories() ([]Category, error) {
	var groups []Group
	for _, g := range s.groups {
		if s.active[g.Name] {
			groups = append(groups, g)
		}
	}
	return combinations(groups, s.batch)
}

// CategoryKeys lists the keys Categories would return, without masks.
func (s *Selector) CategoryKeys() []string {
	var groups []Group
	for _, g := range s.groups {
		if s.active[g.Name] {
			groups = append(groups, g)
		}
	}
	return Keys(groups)
}

// #endregion categories

// #region internals
func (s *Selector) record(name string, mask []bool, before, after []float64) error {
	cats, err := s.Categories()
	if err != nil {
		return err
	}
	all := Category{Key: AllCategory}
	for _, c := range append([]Category{all}, cats...) {
		var e Entry
		e.Name = name
		for i, keep := range mask {
			if c.Mask != nil && !c.Mask[i] {
				continue
			}
			e.EventsIn++
			e.WeightIn += before[i]
			if keep {
				e.EventsOut++
				e.WeightOut += after[i]
			}
		}
		s.cutflow.Append(c.Key, e)
	}
	return nil
}

func (s *Selector) apply(name string, mask []bool) error {
	n := s.batch.Len()
	next, err := s.batch.Filter(mask)
	if err != nil {
		return &ShapeMismatchError{Step: name, Want: n, Got: len(mask)}
	}
	w, err := s.weights.Filter(mask)
	if err != nil {
		return &ShapeMismatchError{Step: name, Want: n, Got: len(mask)}
	}
	s.batch, s.weights = next, w
	s.logger.Debug("step applied",
		zap.String("dataset", s.dataset),
		zap.String("step", name),
		zap.Int("events_in", n),
		zap.Int("events_out", next.Len()),
	)
	return nil
}

// #endregion internals
