package hist

import (
	"fmt"
	"strings"
)

// #region def
// Def declares one histogram: its axes and, per axis, the column path that
// fills it ("muon_mt", "Muon_tag.pt", "Jet_select.dxy").
type Def struct {
	Name string
	Axes []Axis
	Fill map[string]string
}

// Validate checks axes and that every axis has a fill path.
func (d Def) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("histogram without name")
	}
	if strings.Contains(d.Name, ":") {
		return fmt.Errorf("histogram %s: name may not contain ':'", d.Name)
	}
	if len(d.Axes) == 0 {
		return fmt.Errorf("histogram %s: no axes", d.Name)
	}
	seen := map[string]bool{}
	for _, a := range d.Axes {
		if err := a.Validate(); err != nil {
			return fmt.Errorf("histogram %s: %w", d.Name, err)
		}
		if seen[a.Name] {
			return fmt.Errorf("histogram %s: duplicate axis %s", d.Name, a.Name)
		}
		seen[a.Name] = true
		if d.Fill[a.Name] == "" {
			return fmt.Errorf("histogram %s: axis %s has no fill path", d.Name, a.Name)
		}
	}
	return nil
}

// Paths returns the fill paths in axis order.
func (d Def) Paths() []string {
	out := make([]string, len(d.Axes))
	for i, a := range d.Axes {
		out[i] = d.Fill[a.Name]
	}
	return out
}

// #endregion def

// #region registry
// Registry is the fixed set of histogram definitions of one analysis run.
type Registry struct {
	defs   []Def
	byName map[string]int
}

// NewRegistry validates and indexes defs.
func NewRegistry(defs ...Def) (*Registry, error) {
	r := &Registry{byName: make(map[string]int, len(defs))}
	for _, d := range defs {
		if err := d.Validate(); err != nil {
			return nil, err
		}
		if _, dup := r.byName[d.Name]; dup {
			return nil, fmt.Errorf("duplicate histogram %s", d.Name)
		}
		r.byName[d.Name] = len(r.defs)
		r.defs = append(r.defs, d)
	}
	return r, nil
}

// Defs returns definitions in declaration order.
func (r *Registry) Defs() []Def {
	return append([]Def(nil), r.defs...)
}

// Lookup finds the definition of name. Variation names of the form
// "<name>:<variation>" resolve to <name>.
func (r *Registry) Lookup(name string) (Def, error) {
	base, _, _ := strings.Cut(name, ":")
	i, ok := r.byName[base]
	if !ok {
		return Def{}, fmt.Errorf("%w: %s", ErrUnknownHistogram, name)
	}
	return r.defs[i], nil
}

// VariationName is the histogram name used for one systematic direction.
func VariationName(name, variation, direction string) string {
	return name + ":" + variation + "_" + direction
}

// #endregion registry
