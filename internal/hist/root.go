package hist

import (
	"fmt"
	"sort"

	"go-hep.org/x/hep/groot"
	"go-hep.org/x/hep/groot/rhist"
	"go-hep.org/x/hep/hbook"
)

// #region hbook
// ToH1D converts a 1-D histogram to hbook, keeping flow bins as outflows.
// Per-bin first moments are not tracked and stay zero.
func (h *Hist) ToH1D(name string) (*hbook.H1D, error) {
	if len(h.Axes) != 1 {
		return nil, fmt.Errorf("%s: hbook export needs a 1-D histogram, have %d axes", h.Name, len(h.Axes))
	}
	ax := h.Axes[0]
	nb := ax.Bins()
	out := hbook.NewH1DFromEdges(ax.Edges)
	out.Annotation()["name"] = name
	if ax.Label != "" {
		out.Annotation()["title"] = ax.Label
	}

	var total hbook.Dist0D
	for i := 0; i < nb+2; i++ {
		d := hbook.Dist0D{SumW: h.SumW[i], SumW2: h.SumW2[i]}
		total.SumW += d.SumW
		total.SumW2 += d.SumW2
		switch {
		case i == 0:
			out.Binning.Outflows[0].Dist = d
		case i == nb+1:
			out.Binning.Outflows[1].Dist = d
		default:
			out.Binning.Bins[i-1].Dist.Dist = d
		}
	}
	total.N = h.Entries
	out.Binning.Dist.Dist = total
	return out, nil
}

// #endregion hbook

// #region root-file
// WriteROOT writes one TH1D per entry of hs (key: object name) to path.
func WriteROOT(path string, hs map[string]*Hist) error {
	f, err := groot.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	for _, name := range sortedNames(hs) {
		h1, err := hs[name].ToH1D(name)
		if err != nil {
			f.Close()
			return err
		}
		if err := f.Put(name, rhist.NewH1DFrom(h1)); err != nil {
			f.Close()
			return fmt.Errorf("write %s to %s: %w", name, path, err)
		}
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	return nil
}

func sortedNames(hs map[string]*Hist) []string {
	names := make([]string, 0, len(hs))
	for n := range hs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// #endregion root-file
