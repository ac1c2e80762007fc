package stau

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/danielpatrickdp/stau-selection/internal/columnar"
	"github.com/danielpatrickdp/stau-selection/internal/weights"
)

// HEM 15/16 failure: data from this run on lost part of the hadronic
// endcap; MC is scaled by the unaffected luminosity fraction.
const (
	hemFirstRun  = 319077
	hemMCWeight  = 1 - 0.66
	hemMinObject = 20.0
)

// #region inputs
// recordVars builds calibration inputs from a record. "abseta" is |eta|,
// every other label is read as a field of the same name.
func recordVars(r *columnar.Record, labels []string) (map[string][]float64, error) {
	vars := make(map[string][]float64, len(labels))
	for _, l := range labels {
		vals, err := absetaOr(l, r.Field)
		if err != nil {
			return nil, err
		}
		vars[l] = vals
	}
	return vars, nil
}

// jaggedVars is recordVars over every object of a collection.
func jaggedVars(j *columnar.Jagged, labels []string) (map[string][]float64, error) {
	vars := make(map[string][]float64, len(labels))
	for _, l := range labels {
		vals, err := absetaOr(l, j.Field)
		if err != nil {
			return nil, err
		}
		vars[l] = vals
	}
	return vars, nil
}

func absetaOr(label string, field func(string) ([]float64, error)) ([]float64, error) {
	if label != "abseta" {
		return field(label)
	}
	eta, err := field("eta")
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(eta))
	for i, v := range eta {
		out[i] = math.Abs(v)
	}
	return out, nil
}

// multiply folds c into dst. Systematics with the same name multiply.
func multiply(dst *weights.Contribution, c weights.Contribution) {
	floats.Mul(dst.Factor, c.Factor)
	for name, v := range c.Systematics {
		if dst.Systematics == nil {
			dst.Systematics = map[string]weights.Variation{}
		}
		cur, ok := dst.Systematics[name]
		if !ok {
			dst.Systematics[name] = v
			continue
		}
		floats.Mul(cur.Up, v.Up)
		floats.Mul(cur.Down, v.Down)
	}
}

// #endregion inputs

// #region event-weights
// dyJetReweight stitches the jet-binned DY samples by LHE jet multiplicity.
// Multiplicities beyond the table use its last entry.
func (a *Analysis) dyJetReweight(_ context.Context, b *columnar.Batch) (weights.Contribution, error) {
	c := weights.Neutral(b.Len())
	table := a.cfg.DYJetReweight
	if len(table) == 0 {
		return c, nil
	}
	lhe, err := b.Record("LHE")
	if err != nil {
		return weights.Contribution{}, err
	}
	njets, err := lhe.Field("Njets")
	if err != nil {
		return weights.Contribution{}, err
	}
	for i, n := range njets {
		k := int(n)
		if k < 0 {
			k = 0
		}
		if k >= len(table) {
			k = len(table) - 1
		}
		c.Factor[i] = table[k]
	}
	return c, nil
}

// pileupReweight looks up the pileup correction from the Pileup record.
func (a *Analysis) pileupReweight(ctx context.Context, b *columnar.Batch) (weights.Contribution, error) {
	name := a.cfg.Calibration.Pileup
	labels, err := a.corrector.Labels(ctx, name)
	if err != nil {
		return weights.Contribution{}, err
	}
	var vars map[string][]float64
	if labels != nil {
		pu, err := b.Record("Pileup")
		if err != nil {
			return weights.Contribution{}, err
		}
		if vars, err = recordVars(pu, labels); err != nil {
			return weights.Contribution{}, err
		}
	}
	var variations map[string][2]string
	if a.cfg.ComputeSystematics {
		variations = map[string][2]string{"pileup": {"up", "down"}}
	}
	return a.corrector.PerEvent(ctx, name, vars, b.Len(), variations)
}

// hemVeto down-weights (MC) or removes (data from the affected runs) events
// with an electron or jet in the dead HEM 15/16 region.
func hemVeto(isMC bool) func(context.Context, *columnar.Batch) (weights.Contribution, error) {
	return func(_ context.Context, b *columnar.Batch) (weights.Contribution, error) {
		ele, err := b.Jagged("Electron")
		if err != nil {
			return weights.Contribution{}, err
		}
		jets, err := b.Jagged("Jet")
		if err != nil {
			return weights.Contribution{}, err
		}
		ef, err := fields(ele, "pt", "eta", "phi")
		if err != nil {
			return weights.Contribution{}, err
		}
		jf, err := fields(jets, "pt", "eta", "phi")
		if err != nil {
			return weights.Contribution{}, err
		}
		var run []float64
		if !isMC {
			if run, err = b.Scalars("run"); err != nil {
				return weights.Contribution{}, err
			}
		}

		c := weights.Neutral(b.Len())
		for ev := 0; ev < b.Len(); ev++ {
			inHEM := false
			for k := ele.Offsets[ev]; k < ele.Offsets[ev+1] && !inHEM; k++ {
				inHEM = ef[0][k] > hemMinObject && ef[1][k] > -3.0 && ef[1][k] < -1.3 && ef[2][k] > -1.57 && ef[2][k] < -0.87
			}
			for k := jets.Offsets[ev]; k < jets.Offsets[ev+1] && !inHEM; k++ {
				inHEM = jf[0][k] > hemMinObject && jf[1][k] > -3.2 && jf[1][k] < -1.3 && jf[2][k] > -1.77 && jf[2][k] < -0.67
			}
			switch {
			case !inHEM:
			case isMC:
				c.Factor[ev] = hemMCWeight
			case run[ev] >= hemFirstRun:
				c.Factor[ev] = 0
			}
		}
		return c, nil
	}
}

// #endregion event-weights

// #region lepton-sfs
// muonSFs multiplies the id/iso scale factors of every tag muon and the
// single-muon trigger scale factor of the leading one. Data is neutral.
func (a *Analysis) muonSFs(isMC bool) func(context.Context, *columnar.Batch) (weights.Contribution, error) {
	return func(ctx context.Context, b *columnar.Batch) (weights.Contribution, error) {
		out := weights.Neutral(b.Len())
		if !isMC {
			return out, nil
		}
		muons, err := b.Jagged("Muon_tag")
		if err != nil {
			return weights.Contribution{}, err
		}
		for i, name := range a.cfg.Calibration.MuonSF {
			labels, err := a.corrector.Labels(ctx, name)
			if err != nil {
				return weights.Contribution{}, err
			}
			vars, err := jaggedVars(muons, labels)
			if err != nil {
				return weights.Contribution{}, fmt.Errorf("muon sf %s: %w", name, err)
			}
			c, err := a.corrector.PerObject(ctx, name, muons.Offsets, vars, a.muonVariations(i))
			if err != nil {
				return weights.Contribution{}, err
			}
			multiply(&out, c)
		}

		if name := a.cfg.Calibration.MuonTriggerSF; name != "" {
			labels, err := a.corrector.Labels(ctx, name)
			if err != nil {
				return weights.Contribution{}, err
			}
			vars, err := recordVars(muons.Firsts(), labels)
			if err != nil {
				return weights.Contribution{}, fmt.Errorf("muon trigger sf %s: %w", name, err)
			}
			c, err := a.corrector.PerEvent(ctx, name, vars, b.Len(), nil)
			if err != nil {
				return weights.Contribution{}, err
			}
			multiply(&out, c)
		}
		return out, nil
	}
}

// muonVariations names the systematics of the i-th muon scale factor:
// muonsf<i>, or muonsf<i>stat and muonsf<i>syst when split.
func (a *Analysis) muonVariations(i int) map[string][2]string {
	if !a.cfg.ComputeSystematics {
		return nil
	}
	key := fmt.Sprintf("muonsf%d", i)
	if !a.cfg.SplitMuonUncertainty {
		return map[string][2]string{key: {"up", "down"}}
	}
	return map[string][2]string{
		key + "stat": {"stat up", "stat down"},
		key + "syst": {"syst up", "syst down"},
	}
}

// tauIDSFs applies the tau id scale factor of the leading tau to gen-tau
// events only.
func (a *Analysis) tauIDSFs(isMC bool) func(context.Context, *columnar.Batch) (weights.Contribution, error) {
	return func(ctx context.Context, b *columnar.Batch) (weights.Contribution, error) {
		n := b.Len()
		out := weights.Neutral(n)
		if !isMC {
			return out, nil
		}
		genTau, err := b.Flags("gen-tau")
		if err != nil {
			return weights.Contribution{}, err
		}
		var rows []int
		for i, ok := range genTau {
			if ok {
				rows = append(rows, i)
			}
		}
		if len(rows) == 0 {
			return out, nil
		}

		name := a.cfg.Calibration.TauID
		labels, err := a.corrector.Labels(ctx, name)
		if err != nil {
			return weights.Contribution{}, err
		}
		tau, err := leading(b, "Tau")
		if err != nil {
			return weights.Contribution{}, err
		}
		all, err := recordVars(tau, labels)
		if err != nil {
			return weights.Contribution{}, fmt.Errorf("tau id sf %s: %w", name, err)
		}
		vars := make(map[string][]float64, len(all))
		for l, vals := range all {
			sub := make([]float64, len(rows))
			for k, r := range rows {
				sub[k] = vals[r]
			}
			vars[l] = sub
		}

		nom, err := a.corrector.Eval(ctx, name, vars, len(rows), "")
		if err != nil {
			return weights.Contribution{}, err
		}
		for k, r := range rows {
			out.Factor[r] = nom[k]
		}
		if !a.cfg.ComputeSystematics {
			return out, nil
		}
		v := weights.Variation{Up: weights.Neutral(n).Factor, Down: weights.Neutral(n).Factor}
		for dir, dst := range map[string][]float64{"up": v.Up, "down": v.Down} {
			varied, err := a.corrector.Eval(ctx, name, vars, len(rows), dir)
			if err != nil {
				return weights.Contribution{}, err
			}
			ratio := weights.Ratio(varied, nom)
			for k, r := range rows {
				dst[r] = ratio[k]
			}
		}
		out.Systematics = map[string]weights.Variation{"tauid": v}
		return out, nil
	}
}

// #endregion lepton-sfs
