package stau

import (
	"fmt"
	"math"
	"strings"

	"github.com/danielpatrickdp/stau-selection/internal/columnar"
	"github.com/danielpatrickdp/stau-selection/internal/physics"
	"github.com/danielpatrickdp/stau-selection/internal/selection"
)

// #region event-cuts
// passingTrigger accepts events firing any pos path and no neg path.
func passingTrigger(pos, neg []string) selection.CutFunc {
	return func(b *columnar.Batch) ([]bool, error) {
		hlt, err := b.Record("HLT")
		if err != nil {
			return nil, err
		}
		fired := func(paths []string) ([]bool, error) {
			out := make([]bool, b.Len())
			for _, p := range paths {
				vals, err := hlt.Field(strings.TrimPrefix(p, "HLT_"))
				if err != nil {
					return nil, fmt.Errorf("trigger %s: %w", p, err)
				}
				for i, v := range vals {
					out[i] = out[i] || v != 0
				}
			}
			return out, nil
		}
		pass, err := fired(pos)
		if err != nil {
			return nil, err
		}
		vetoed, err := fired(neg)
		if err != nil {
			return nil, err
		}
		for i := range pass {
			pass[i] = pass[i] && !vetoed[i]
		}
		return pass, nil
	}
}

func goodPV(b *columnar.Batch) ([]bool, error) {
	pv, err := b.Record("PV")
	if err != nil {
		return nil, err
	}
	n, err := pv.Field("npvsGood")
	if err != nil {
		return nil, err
	}
	out := make([]bool, len(n))
	for i, v := range n {
		out[i] = v > 0
	}
	return out, nil
}

// metFilters requires every configured noise filter flag. No filters
// accepts everything.
func (a *Analysis) metFilters(b *columnar.Batch) ([]bool, error) {
	out := make([]bool, b.Len())
	for i := range out {
		out[i] = true
	}
	if len(a.cfg.MetFilters) == 0 {
		return out, nil
	}
	flags, err := b.Record("Flag")
	if err != nil {
		return nil, err
	}
	for _, name := range a.cfg.MetFilters {
		vals, err := flags.Field(name)
		if err != nil {
			return nil, fmt.Errorf("met filter %s: %w", name, err)
		}
		for i, v := range vals {
			out[i] = out[i] && v != 0
		}
	}
	return out, nil
}

func countIs(column string, want int) selection.CutFunc {
	return func(b *columnar.Batch) ([]bool, error) {
		j, err := b.Jagged(column)
		if err != nil {
			return nil, err
		}
		return selection.NumIs(j, want), nil
	}
}

func countAtLeast(column string, min int) selection.CutFunc {
	return func(b *columnar.Batch) ([]bool, error) {
		j, err := b.Jagged(column)
		if err != nil {
			return nil, err
		}
		return selection.NumAtLeast(j, min), nil
	}
}

// #endregion event-cuts

// #region leading
func leading(b *columnar.Batch, column string) (*columnar.Record, error) {
	j, err := b.Jagged(column)
	if err != nil {
		return nil, err
	}
	return j.Firsts(), nil
}

func leadingPair(b *columnar.Batch) (muon, tau *columnar.Record, err error) {
	if muon, err = leading(b, "Muon_tag"); err != nil {
		return nil, nil, err
	}
	if tau, err = leading(b, "Tau"); err != nil {
		return nil, nil, err
	}
	return muon, tau, nil
}

// #endregion leading

// #region categories
// isolationSideband splits events on the leading tag muon isolation.
func (a *Analysis) isolationSideband(b *columnar.Batch) (map[string]columnar.Column, error) {
	muon, err := leading(b, "Muon_tag")
	if err != nil {
		return nil, err
	}
	iso := make(columnar.Flags, b.Len())
	anti := make(columnar.Flags, b.Len())
	for i := range iso {
		v, ok := muon.Get("pfRelIso04_all", i)
		if !ok {
			return nil, fmt.Errorf("event %d has no tag muon", i)
		}
		iso[i] = v <= a.cfg.Thresholds.MuonIso
		anti[i] = !iso[i]
	}
	return map[string]columnar.Column{"iso": iso, "antiiso": anti}, nil
}

// chargeRegion splits events into opposite- and same-sign mu-tau pairs.
func chargeRegion(b *columnar.Batch) (map[string]columnar.Column, error) {
	ll, err := b.Record("sum_ll")
	if err != nil {
		return nil, err
	}
	charge, err := ll.Field("charge")
	if err != nil {
		return nil, err
	}
	os := make(columnar.Flags, len(charge))
	ss := make(columnar.Flags, len(charge))
	for i, q := range charge {
		os[i] = q == 0
		ss[i] = !os[i]
	}
	return map[string]columnar.Column{"OS": os, "SS": ss}, nil
}

// genMatch labels events by the generator origin of the leading tau. Data
// events have no generator record and count as gen-other.
func genMatch(isMC bool) selection.ColumnsFunc {
	return func(b *columnar.Batch) (map[string]columnar.Column, error) {
		n := b.Len()
		genTau := make(columnar.Flags, n)
		genOther := make(columnar.Flags, n)
		genAll := make(columnar.Flags, n)
		var flav []float64
		if isMC {
			tau, err := leading(b, "Tau")
			if err != nil {
				return nil, err
			}
			if flav, err = tau.Field("genPartFlav"); err != nil {
				return nil, err
			}
		}
		for i := 0; i < n; i++ {
			genAll[i] = true
			genTau[i] = isMC && math.Abs(flav[i]) == 5
			genOther[i] = !genTau[i]
		}
		return map[string]columnar.Column{"gen-tau": genTau, "gen-other": genOther, "gen-all": genAll}, nil
	}
}

// #endregion categories

// #region kinematics
func sumMuTau(b *columnar.Batch) (columnar.Column, error) {
	muon, tau, err := leadingPair(b)
	if err != nil {
		return nil, err
	}
	pair, err := physics.Sum(muon, tau)
	if err != nil {
		return nil, err
	}
	return pair.Record(), nil
}

func dphiMuTau(b *columnar.Batch) (columnar.Column, error) {
	muon, tau, err := leadingPair(b)
	if err != nil {
		return nil, err
	}
	muPhi, err := muon.Field("phi")
	if err != nil {
		return nil, err
	}
	tauPhi, err := tau.Field("phi")
	if err != nil {
		return nil, err
	}
	out := make(columnar.Scalars, b.Len())
	for i := range out {
		out[i] = physics.DeltaPhi(muPhi[i], tauPhi[i])
	}
	return out, nil
}

func dzeta(b *columnar.Batch) (columnar.Column, error) {
	muon, tau, err := leadingPair(b)
	if err != nil {
		return nil, err
	}
	met, err := b.Record("MET")
	if err != nil {
		return nil, err
	}
	mu, err := ptPhi(muon)
	if err != nil {
		return nil, err
	}
	ta, err := ptPhi(tau)
	if err != nil {
		return nil, err
	}
	missing, err := ptPhi(met)
	if err != nil {
		return nil, err
	}
	out := make(columnar.Scalars, b.Len())
	for i := range out {
		out[i] = physics.DZeta(mu[0][i], mu[1][i], ta[0][i], ta[1][i], missing[0][i], missing[1][i])
	}
	return out, nil
}

func muonMT(b *columnar.Batch) (columnar.Column, error) {
	muon, err := leading(b, "Muon_tag")
	if err != nil {
		return nil, err
	}
	met, err := b.Record("MET")
	if err != nil {
		return nil, err
	}
	mu, err := ptPhi(muon)
	if err != nil {
		return nil, err
	}
	missing, err := ptPhi(met)
	if err != nil {
		return nil, err
	}
	out := make(columnar.Scalars, b.Len())
	for i := range out {
		out[i] = physics.TransverseMass(mu[0][i], mu[1][i], missing[0][i], missing[1][i])
	}
	return out, nil
}

func ptPhi(r *columnar.Record) ([2][]float64, error) {
	pt, err := r.Field("pt")
	if err != nil {
		return [2][]float64{}, err
	}
	phi, err := r.Field("phi")
	if err != nil {
		return [2][]float64{}, err
	}
	return [2][]float64{pt, phi}, nil
}

// #endregion kinematics

// #region threshold-cuts
func (a *Analysis) massWindow(b *columnar.Batch) ([]bool, error) {
	ll, err := b.Record("sum_ll")
	if err != nil {
		return nil, err
	}
	mass, err := ll.Field("mass")
	if err != nil {
		return nil, err
	}
	t := a.cfg.Thresholds
	out := make([]bool, len(mass))
	for i, m := range mass {
		out[i] = ll.Valid[i] && m > t.MassLower && m < t.MassUpper
	}
	return out, nil
}

// scalarCut applies pass to every value of a per-event column.
func scalarCut(column string, pass func(float64) bool) selection.CutFunc {
	return func(b *columnar.Batch) ([]bool, error) {
		vals, err := b.Scalars(column)
		if err != nil {
			return nil, err
		}
		out := make([]bool, len(vals))
		for i, v := range vals {
			out[i] = pass(v)
		}
		return out, nil
	}
}

// #endregion threshold-cuts
