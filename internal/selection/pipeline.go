package selection

import (
	"context"
	"fmt"

	"github.com/danielpatrickdp/stau-selection/internal/columnar"
)

// #region step
type stepKind int

const (
	stepCut stepKind = iota
	stepWeight
	stepColumn
	stepColumns
	stepCategory
)

func (k stepKind) String() string {
	switch k {
	case stepCut:
		return "cut"
	case stepWeight:
		return "weight"
	case stepColumn:
		return "column"
	case stepColumns:
		return "columns"
	case stepCategory:
		return "category"
	}
	return "unknown"
}

type step struct {
	kind      stepKind
	name      string
	names     []string
	inclusive []string
	cut       CutFunc
	weight    WeightFunc
	column    ColumnFunc
	columns   ColumnsFunc
}

// #endregion step

// #region pipeline
// Pipeline is an ordered, reusable list of selection steps. Run replays it on
// a fresh Selector, so the same pipeline can process many chunks.
type Pipeline struct {
	steps []step
}

// NewPipeline returns an empty pipeline.
func NewPipeline() *Pipeline {
	return &Pipeline{}
}

// Cut appends a cut step.
func (p *Pipeline) Cut(name string, fn CutFunc) *Pipeline {
	p.steps = append(p.steps, step{kind: stepCut, name: name, cut: fn})
	return p
}

// Weight appends a weight step.
func (p *Pipeline) Weight(name string, fn WeightFunc) *Pipeline {
	p.steps = append(p.steps, step{kind: stepWeight, name: name, weight: fn})
	return p
}

// Column appends a derived column step.
func (p *Pipeline) Column(name string, fn ColumnFunc) *Pipeline {
	p.steps = append(p.steps, step{kind: stepColumn, name: name, column: fn})
	return p
}

// Columns appends a step producing several named columns.
func (p *Pipeline) Columns(names []string, fn ColumnsFunc) *Pipeline {
	p.steps = append(p.steps, step{kind: stepColumns, name: fmt.Sprint(names), names: names, columns: fn})
	return p
}

// Category appends a category group declaration.
func (p *Pipeline) Category(group string, labels []string, inclusive ...string) *Pipeline {
	p.steps = append(p.steps, step{kind: stepCategory, name: group, names: labels, inclusive: inclusive})
	return p
}

// Describe lists "kind:name" for every step in order.
func (p *Pipeline) Describe() []string {
	out := make([]string, len(p.steps))
	for i, st := range p.steps {
		out[i] = st.kind.String() + ":" + st.name
	}
	return out
}

// CutNames lists cut and weight steps in order, as they appear in cutflows.
func (p *Pipeline) CutNames() []string {
	var out []string
	for _, st := range p.steps {
		if st.kind == stepCut || st.kind == stepWeight {
			out = append(out, st.name)
		}
	}
	return out
}

// Run applies every step to b in order and returns the finished selector.
// The first failing step aborts the run.
func (p *Pipeline) Run(ctx context.Context, b *columnar.Batch, opts Options) (*Selector, error) {
	s := NewSelector(b, opts)
	for _, st := range p.steps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var err error
		switch st.kind {
		case stepCut:
			err = s.AddCut(st.name, st.cut)
		case stepWeight:
			err = s.AddWeight(ctx, st.name, st.weight)
		case stepColumn:
			err = s.SetColumn(st.name, st.column)
		case stepColumns:
			err = s.SetMultipleColumns(st.names, st.columns)
		case stepCategory:
			err = s.SetCat(st.name, st.names, st.inclusive...)
		}
		if err != nil {
			return nil, err
		}
	}
	return s, nil
}

// #endregion pipeline
