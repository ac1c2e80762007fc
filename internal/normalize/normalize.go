package normalize

import (
	"errors"
	"fmt"
	"sort"

	"github.com/danielpatrickdp/stau-selection/internal/hist"
	"github.com/danielpatrickdp/stau-selection/internal/selection"
)

// ErrNoEvents is returned when a dataset has no "Before cuts" count.
var ErrNoEvents = errors.New("no events before cuts")

// Cutflows maps dataset names to merged cutflows.
type Cutflows map[string]*selection.Cutflow

// #region factor
// Factor is xsec[name]*lumi divided by the number of events the dataset had
// before any cut in the "all" category.
func Factor(xsec map[string]float64, lumi float64, cutflows Cutflows, name string) (float64, error) {
	x, ok := xsec[name]
	if !ok {
		return 0, fmt.Errorf("no cross section for %s", name)
	}
	cf, ok := cutflows[name]
	if !ok {
		return 0, fmt.Errorf("no cutflow for %s", name)
	}
	n, ok := cf.Before(selection.AllCategory)
	if !ok || n == 0 {
		return 0, fmt.Errorf("%s: %w", name, ErrNoEvents)
	}
	return x * lumi / float64(n), nil
}

// Scale returns a copy of h scaled by f: sumw by f and sumw2 by f².
func Scale(h *hist.Hist, f float64) *hist.Hist {
	out := h.Clone()
	out.Scale(f)
	return out
}

// #endregion factor

// #region groups
// Group is a set of datasets summed after normalization.
type Group struct {
	Name     string
	Datasets []string
	Signal   bool
}

// Yield is the normalized content of one group.
type Yield struct {
	Group  string
	Signal bool
	Hist   *hist.Hist
}

// Stack normalizes the histograms of each dataset and sums them per group.
// Backgrounds are returned sorted by ascending integral, then signals in
// declaration order. Data datasets (no cross section) keep a factor of 1.
func Stack(groups []Group, hs map[string]*hist.Hist, xsec map[string]float64, lumi float64, cutflows Cutflows) ([]Yield, error) {
	var bkg, sig []Yield
	for _, g := range groups {
		var sum *hist.Hist
		for _, ds := range g.Datasets {
			h, ok := hs[ds]
			if !ok {
				return nil, fmt.Errorf("group %s: no histogram for %s", g.Name, ds)
			}
			f := 1.0
			if _, mc := xsec[ds]; mc {
				var err error
				if f, err = Factor(xsec, lumi, cutflows, ds); err != nil {
					return nil, fmt.Errorf("group %s: %w", g.Name, err)
				}
			}
			scaled := Scale(h, f)
			if sum == nil {
				sum = scaled
				continue
			}
			if err := sum.Add(scaled); err != nil {
				return nil, fmt.Errorf("group %s: %w", g.Name, err)
			}
		}
		if sum == nil {
			continue
		}
		y := Yield{Group: g.Name, Signal: g.Signal, Hist: sum}
		if g.Signal {
			sig = append(sig, y)
		} else {
			bkg = append(bkg, y)
		}
	}
	sort.SliceStable(bkg, func(i, j int) bool { return bkg[i].Hist.Integral() < bkg[j].Hist.Integral() })
	return append(bkg, sig...), nil
}

// #endregion groups
