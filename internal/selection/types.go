package selection

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/danielpatrickdp/stau-selection/internal/columnar"
	"github.com/danielpatrickdp/stau-selection/internal/weights"
)

// #region errors
var (
	// ErrShapeMismatch marks a step result whose length differs from the
	// current event count. It aborts the chunk.
	ErrShapeMismatch = errors.New("shape mismatch")

	// ErrUnknownCategory is returned for undeclared groups or labels.
	ErrUnknownCategory = errors.New("unknown category")

	// ErrCategoryViolation is returned when an event carries zero or several
	// exclusive labels of one group.
	ErrCategoryViolation = errors.New("category labels not exclusive")

	// ErrCutflowMismatch is returned when merging cutflows of different steps.
	ErrCutflowMismatch = errors.New("cutflow mismatch")
)

// ShapeMismatchError reports which step produced a result of the wrong length.
type ShapeMismatchError struct {
	Step string
	Want int
	Got  int
}

func (e *ShapeMismatchError) Error() string {
	return fmt.Sprintf("step %s: %v: got %d entries, want %d", e.Step, ErrShapeMismatch, e.Got, e.Want)
}

func (e *ShapeMismatchError) Unwrap() error { return ErrShapeMismatch }

// #endregion errors

// #region step-funcs
// CutFunc returns one pass flag per current event.
type CutFunc func(b *columnar.Batch) ([]bool, error)

// ColumnFunc computes one derived column over the current events.
type ColumnFunc func(b *columnar.Batch) (columnar.Column, error)

// ColumnsFunc computes several named derived columns in one pass.
type ColumnsFunc func(b *columnar.Batch) (map[string]columnar.Column, error)

// WeightFunc returns a multiplicative weight contribution per current event.
type WeightFunc func(ctx context.Context, b *columnar.Batch) (weights.Contribution, error)

// #endregion step-funcs

// #region category
// Group is a set of labels where each event carries exactly one label, except
// for labels listed as Inclusive, which may overlap the others.
type Group struct {
	Name      string
	Labels    []string
	Inclusive []string
}

func (g Group) isInclusive(label string) bool {
	for _, l := range g.Inclusive {
		if l == label {
			return true
		}
	}
	return false
}

// Category is one label combination with its per-event membership mask.
type Category struct {
	Key    string
	Labels []string
	Mask   []bool
}

// #endregion category

// #region options
// Options configures a Selector.
type Options struct {
	Dataset string
	Logger  *zap.Logger
}

// #endregion options
