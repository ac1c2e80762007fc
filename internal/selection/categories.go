package selection

import (
	"fmt"
	"strings"

	"github.com/danielpatrickdp/stau-selection/internal/columnar"
)

// #region validate
// validateGroup checks that every event carries exactly one exclusive label.
// Inclusive labels only need the right length.
func validateGroup(g Group, b *columnar.Batch) error {
	n := b.Len()
	hits := make([]int, n)
	for _, label := range g.Labels {
		flags, err := b.Flags(label)
		if err != nil {
			return fmt.Errorf("group %s label %s: %w", g.Name, label, err)
		}
		if len(flags) != n {
			return &ShapeMismatchError{Step: label, Want: n, Got: len(flags)}
		}
		if g.isInclusive(label) {
			continue
		}
		for i, f := range flags {
			if f {
				hits[i]++
			}
		}
	}
	for i, h := range hits {
		if h != 1 {
			return fmt.Errorf("%w: group %s event %d carries %d labels", ErrCategoryViolation, g.Name, i, h)
		}
	}
	return nil
}

// #endregion validate

// #region combinations
// Keys lists the Cartesian product of group labels as "a/b/c" keys.
func Keys(groups []Group) []string {
	if len(groups) == 0 {
		return nil
	}
	var keys []string
	for _, combo := range product(groups) {
		keys = append(keys, strings.Join(combo, "/"))
	}
	return keys
}

func combinations(groups []Group, b *columnar.Batch) ([]Category, error) {
	if len(groups) == 0 {
		return nil, nil
	}
	flags := map[string]columnar.Flags{}
	for _, g := range groups {
		for _, label := range g.Labels {
			f, err := b.Flags(label)
			if err != nil {
				return nil, fmt.Errorf("group %s label %s: %w", g.Name, label, err)
			}
			flags[label] = f
		}
	}
	n := b.Len()
	combos := product(groups)
	out := make([]Category, 0, len(combos))
	for _, combo := range combos {
		mask := make([]bool, n)
		for i := range mask {
			mask[i] = true
			for _, label := range combo {
				if !flags[label][i] {
					mask[i] = false
					break
				}
			}
		}
		out = append(out, Category{Key: strings.Join(combo, "/"), Labels: combo, Mask: mask})
	}
	return out, nil
}

func product(groups []Group) [][]string {
	out := [][]string{{}}
	for _, g := range groups {
		next := make([][]string, 0, len(out)*len(g.Labels))
		for _, prefix := range out {
			for _, label := range g.Labels {
				combo := make([]string, len(prefix), len(prefix)+1)
				copy(combo, prefix)
				next = append(next, append(combo, label))
			}
		}
		out = next
	}
	return out
}

// #endregion combinations
