package stau

import (
	"fmt"
	"math"

	"github.com/danielpatrickdp/stau-selection/internal/columnar"
	"github.com/danielpatrickdp/stau-selection/internal/physics"
)

// GenPart statusFlags bits.
const (
	flagFromHardProcess                    = 8
	flagIsDirectHardProcessTauDecayProduct = 10
	flagIsLastCopy                         = 13
)

// #region helpers
func fields(j *columnar.Jagged, names ...string) ([][]float64, error) {
	out := make([][]float64, len(names))
	for i, name := range names {
		vals, err := j.Field(name)
		if err != nil {
			return nil, err
		}
		out[i] = vals
	}
	return out, nil
}

func where(j *columnar.Jagged, keep func(k int) bool) (*columnar.Jagged, error) {
	mask := make([]bool, j.Total())
	for k := range mask {
		mask[k] = keep(k)
	}
	return j.Where(mask)
}

func hasFlag(statusFlags float64, bit uint) bool {
	return int64(statusFlags)&(1<<bit) != 0
}

// #endregion helpers

// #region muons
// selectMuons keeps tag-muon candidates passing kinematics, id, loose
// (anti-)isolation and impact parameter requirements that are matched to a
// muon trigger object.
func (a *Analysis) selectMuons(b *columnar.Batch) (columnar.Column, error) {
	t := a.cfg.Thresholds
	muons, err := b.Jagged("Muon")
	if err != nil {
		return nil, err
	}
	f, err := fields(muons, "pt", "eta", t.MuonID, "pfRelIso04_all", "dxy", "dz")
	if err != nil {
		return nil, err
	}
	pt, eta, id, iso, dxy, dz := f[0], f[1], f[2], f[3], f[4], f[5]
	good, err := where(muons, func(k int) bool {
		return pt[k] > t.MuonPtMin &&
			eta[k] < t.MuonEtaMax && eta[k] > t.MuonEtaMin &&
			id[k] == 1 &&
			iso[k] < t.MuonIsoAnti &&
			math.Abs(dxy[k]) <= t.MuonAbsDxy &&
			math.Abs(dz[k]) <= t.MuonAbsDz
	})
	if err != nil {
		return nil, err
	}

	trig, err := b.Jagged("TrigObj")
	if err != nil {
		return nil, err
	}
	tf, err := fields(trig, "id", "filterBits")
	if err != nil {
		return nil, err
	}
	trigMuons, err := where(trig, func(k int) bool {
		return math.Abs(tf[0][k]) == 13 && tf[1][k] >= t.TrigFilterBits
	})
	if err != nil {
		return nil, err
	}
	onTrigger, err := physics.Matched(good, trigMuons, t.TrigMatchDR)
	if err != nil {
		return nil, fmt.Errorf("trigger match: %w", err)
	}
	matched, err := good.Where(onTrigger)
	if err != nil {
		return nil, err
	}
	return matched, nil
}

// vetoMuons are loose muons not matched to the tag muon.
func (a *Analysis) vetoMuons(b *columnar.Batch) (columnar.Column, error) {
	t := a.cfg.Thresholds
	muons, err := b.Jagged("Muon")
	if err != nil {
		return nil, err
	}
	f, err := fields(muons, "pt", "eta", t.MuonVetoID, "pfIsoId")
	if err != nil {
		return nil, err
	}
	loose, err := where(muons, func(k int) bool {
		return f[0][k] > t.MuonVetoPtMin &&
			f[1][k] < t.MuonVetoEtaMax && f[1][k] > t.MuonVetoEtaMin &&
			f[2][k] == 1 &&
			f[3][k] >= t.MuonVetoPfIsoID
	})
	if err != nil {
		return nil, err
	}
	tag, err := b.Jagged("Muon_tag")
	if err != nil {
		return nil, err
	}
	matched, err := physics.Matched(loose, tag, t.TrigMatchDR)
	if err != nil {
		return nil, err
	}
	out, err := where(loose, func(k int) bool { return !matched[k] })
	if err != nil {
		return nil, err
	}
	return out, nil
}

// #endregion muons

// #region electrons-taus
func (a *Analysis) vetoElectrons(b *columnar.Batch) (columnar.Column, error) {
	t := a.cfg.Thresholds
	ele, err := b.Jagged("Electron")
	if err != nil {
		return nil, err
	}
	f, err := fields(ele, "pt", "eta", t.ElecVeto, t.ElecID)
	if err != nil {
		return nil, err
	}
	out, err := where(ele, func(k int) bool {
		return f[0][k] > t.ElecVetoPt &&
			f[1][k] > t.ElecVetoEtaMin && f[1][k] < t.ElecVetoEtaMax &&
			f[2][k] == 1 && f[3][k] == 1
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (a *Analysis) selectTaus(b *columnar.Batch) (columnar.Column, error) {
	t := a.cfg.Thresholds
	taus, err := b.Jagged("Tau")
	if err != nil {
		return nil, err
	}
	f, err := fields(taus, "pt", "eta", t.TauIDField+"VSjet", t.TauIDField+"VSmu", t.TauIDField+"VSe", "charge")
	if err != nil {
		return nil, err
	}
	out, err := where(taus, func(k int) bool {
		return f[0][k] > t.TauPtMin &&
			f[1][k] < t.TauEtaMax && f[1][k] > t.TauEtaMin &&
			f[2][k] >= t.TauVsJet &&
			f[3][k] >= t.TauVsMu &&
			f[4][k] >= t.TauVsEle &&
			math.Abs(f[5][k]) == 1
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// #endregion electrons-taus

// #region jets
// selectJets returns, per selected tau, the nearest jet inside the
// kinematic window within the jet-tau distance. Taus without such a jet
// contribute nothing; jets keep tau order.
func (a *Analysis) selectJets(b *columnar.Batch) (columnar.Column, error) {
	t := a.cfg.Thresholds
	jets, err := b.Jagged("Jet")
	if err != nil {
		return nil, err
	}
	f, err := fields(jets, "pt", "eta")
	if err != nil {
		return nil, err
	}
	good, err := where(jets, func(k int) bool {
		return t.JetEtaMin < f[1][k] && f[1][k] < t.JetEtaMax && t.JetPtMin < f[0][k]
	})
	if err != nil {
		return nil, err
	}
	taus, err := b.Jagged("Tau")
	if err != nil {
		return nil, err
	}
	nearest, err := physics.Nearest(taus, good, t.JetDRTau)
	if err != nil {
		return nil, err
	}

	counts := make([]int, taus.Len())
	var picks []int
	for ev := range counts {
		for k := taus.Offsets[ev]; k < taus.Offsets[ev+1]; k++ {
			if nearest[k] >= 0 {
				counts[ev]++
				picks = append(picks, nearest[k])
			}
		}
	}
	out := make(map[string][]float64, len(good.Fields))
	for name, vals := range good.Fields {
		col := make([]float64, len(picks))
		for i, p := range picks {
			col[i] = vals[p]
		}
		out[name] = col
	}
	return columnar.NewJagged(counts, out)
}

// selectPFCands keeps tracked PF candidates in the kinematic window, sorted
// by descending pt within each event.
func (a *Analysis) selectPFCands(b *columnar.Batch) (columnar.Column, error) {
	t := a.cfg.Thresholds
	cands, err := b.Jagged("PFCandidate")
	if err != nil {
		return nil, err
	}
	f, err := fields(cands, "pt", "eta", t.PFCandTrack)
	if err != nil {
		return nil, err
	}
	good, err := where(cands, func(k int) bool {
		return f[0][k] > t.PFCandPt &&
			f[1][k] < t.PFCandEtaMax && f[1][k] > t.PFCandEtaMin &&
			f[2][k] != 0
	})
	if err != nil {
		return nil, err
	}
	sorted, err := good.SortBy("pt", true)
	if err != nil {
		return nil, err
	}
	return sorted, nil
}

// leadPFCands describes, per selected jet, its leading matched PF candidate.
// The layout follows Jet_select; unmatched jets have matched=0 and NaN fields.
func (a *Analysis) leadPFCands(b *columnar.Batch) (columnar.Column, error) {
	jets, err := b.Jagged("Jet_select")
	if err != nil {
		return nil, err
	}
	cands, err := b.Jagged("PfCands")
	if err != nil {
		return nil, err
	}
	lead, err := physics.MatchLeadCandidates(jets, cands, a.cfg.Thresholds.PFCandDR)
	if err != nil {
		return nil, err
	}
	matched := make([]float64, len(lead.Matched))
	for i, m := range lead.Matched {
		if m {
			matched[i] = 1
		}
	}
	return columnar.NewJagged(jets.Counts(), map[string][]float64{
		"matched":       matched,
		"dxy":           lead.Dxy,
		"dz":            lead.Dz,
		"dxysig":        lead.DxySig,
		"Lrel":          lead.Lrel,
		"dxy_weight":    lead.DxyWeight,
		"dxysig_weight": lead.DxySigWeight,
	})
}

// jetDisplacement copies the absolute displacement of the leading PF
// candidate onto each jet and drops jets without a matched candidate.
func (a *Analysis) jetDisplacement(b *columnar.Batch) (columnar.Column, error) {
	jets, err := b.Jagged("Jet_select")
	if err != nil {
		return nil, err
	}
	lead, err := b.Jagged("Jet_lead_pfcand")
	if err != nil {
		return nil, err
	}
	if lead.Total() != jets.Total() {
		return nil, fmt.Errorf("%w: Jet_lead_pfcand has %d entries for %d jets", columnar.ErrLength, lead.Total(), jets.Total())
	}
	out := jets
	for _, name := range []string{"dz", "dxy", "dxy_weight", "dxysig", "dxysig_weight"} {
		src, err := lead.Field(name)
		if err != nil {
			return nil, err
		}
		abs := make([]float64, len(src))
		for i, v := range src {
			abs[i] = math.Abs(v)
		}
		if out, err = out.WithField(name, abs); err != nil {
			return nil, err
		}
	}
	matched, err := lead.Field("matched")
	if err != nil {
		return nil, err
	}
	kept, err := where(out, func(k int) bool { return matched[k] == 1 })
	if err != nil {
		return nil, err
	}
	return kept, nil
}

func (a *Analysis) leadJet(b *columnar.Batch) (columnar.Column, error) {
	jets, err := b.Jagged("Jet_select")
	if err != nil {
		return nil, err
	}
	return jets.Firsts(), nil
}

// #endregion jets

// #region gen
// genDilepton sums last-copy hard-process leptons and neutrinos plus direct
// hard-process tau decay products.
func (a *Analysis) genDilepton(b *columnar.Batch) (columnar.Column, error) {
	parts, err := b.Jagged("GenPart")
	if err != nil {
		return nil, err
	}
	f, err := fields(parts, "pdgId", "statusFlags")
	if err != nil {
		return nil, err
	}
	sel, err := where(parts, func(k int) bool {
		id := math.Abs(f[0][k])
		lepton := id >= 11 && id <= 16
		flags := f[1][k]
		return (hasFlag(flags, flagIsLastCopy) && hasFlag(flags, flagFromHardProcess) && lepton) ||
			hasFlag(flags, flagIsDirectHardProcessTauDecayProduct)
	})
	if err != nil {
		return nil, err
	}
	sum, err := physics.SumCollection(sel)
	if err != nil {
		return nil, err
	}
	return sum, nil
}

// #endregion gen
