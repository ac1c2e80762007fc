package physics

import (
	"math"

	"go-hep.org/x/hep/fmom"

	"github.com/danielpatrickdp/stau-selection/internal/columnar"
)

// #region four-vectors
// P4 builds a four-vector from collider coordinates.
func P4(pt, eta, phi, mass float64) *fmom.PtEtaPhiM {
	p := fmom.NewPtEtaPhiM(pt, eta, phi, mass)
	return &p
}

// DeltaPhi returns phi1-phi2 wrapped into (-pi, pi].
func DeltaPhi(phi1, phi2 float64) float64 {
	d := phi1 - phi2
	if d > math.Pi {
		d -= 2 * math.Pi
	}
	if d <= -math.Pi {
		d += 2 * math.Pi
	}
	return d
}

// DeltaR is the angular distance between two directions.
func DeltaR(eta1, phi1, eta2, phi2 float64) float64 {
	return fmom.DeltaR(P4(1, eta1, phi1, 0), P4(1, eta2, phi2, 0))
}

// Pair is the per-event sum of two single-object records.
type Pair struct {
	Valid  []bool
	Pt     []float64
	Eta    []float64
	Phi    []float64
	Mass   []float64
	Charge []float64
}

// Sum adds the leading objects of two records event by event. Events where
// either side is missing are invalid. Records without a "mass" field are
// treated as massless. Both records need pt, eta and phi.
func Sum(a, b *columnar.Record) (Pair, error) {
	av, err := recordFields(a, "pt", "eta", "phi")
	if err != nil {
		return Pair{}, err
	}
	bv, err := recordFields(b, "pt", "eta", "phi")
	if err != nil {
		return Pair{}, err
	}
	n := a.Len()
	out := Pair{
		Valid:  make([]bool, n),
		Pt:     nanSlice(n),
		Eta:    nanSlice(n),
		Phi:    nanSlice(n),
		Mass:   nanSlice(n),
		Charge: nanSlice(n),
	}
	for i := 0; i < n; i++ {
		if !a.Valid[i] || !b.Valid[i] {
			continue
		}
		pa := P4(av[0][i], av[1][i], av[2][i], fieldOr(a, "mass", i, 0))
		pb := P4(bv[0][i], bv[1][i], bv[2][i], fieldOr(b, "mass", i, 0))
		sum := fmom.Add(pa, pb)
		out.Valid[i] = true
		out.Pt[i] = sum.Pt()
		out.Eta[i] = sum.Eta()
		out.Phi[i] = sum.Phi()
		out.Mass[i] = sum.M()
		out.Charge[i] = fieldOr(a, "charge", i, 0) + fieldOr(b, "charge", i, 0)
	}
	return out, nil
}

// Record converts the pair into a record column.
func (p Pair) Record() *columnar.Record {
	return &columnar.Record{
		Valid: p.Valid,
		Fields: map[string][]float64{
			"pt":     p.Pt,
			"eta":    p.Eta,
			"phi":    p.Phi,
			"mass":   p.Mass,
			"charge": p.Charge,
		},
	}
}

// SumCollection adds all objects of every event. Events without objects get
// a zero four-vector. A missing "mass" field means massless objects.
func SumCollection(j *columnar.Jagged) (*columnar.Record, error) {
	v, err := jaggedFields(j, "pt", "eta", "phi")
	if err != nil {
		return nil, err
	}
	n := j.Len()
	pt, eta, phi, mass := v[0], v[1], v[2], j.Fields["mass"]
	out := &columnar.Record{
		Valid: make([]bool, n),
		Fields: map[string][]float64{
			"pt":   make([]float64, n),
			"eta":  make([]float64, n),
			"phi":  make([]float64, n),
			"mass": make([]float64, n),
		},
	}
	for ev := 0; ev < n; ev++ {
		out.Valid[ev] = true
		var px, py, pz, e float64
		for k := j.Offsets[ev]; k < j.Offsets[ev+1]; k++ {
			m := 0.0
			if mass != nil {
				m = mass[k]
			}
			p := P4(pt[k], eta[k], phi[k], m)
			px += p.Px()
			py += p.Py()
			pz += p.Pz()
			e += p.E()
		}
		if j.Count(ev) == 0 {
			continue
		}
		sum := fmom.NewPxPyPzE(px, py, pz, e)
		out.Fields["pt"][ev] = sum.Pt()
		out.Fields["eta"][ev] = sum.Eta()
		out.Fields["phi"][ev] = sum.Phi()
		out.Fields["mass"][ev] = sum.M()
	}
	return out, nil
}

// #endregion four-vectors

// #region matching
// Nearest finds, for every object of a, the flat index of the closest object
// of b in the same event. Objects with no partner closer than threshold get -1.
// A non-positive threshold accepts any distance.
func Nearest(a, b *columnar.Jagged, threshold float64) ([]int, error) {
	av, err := jaggedFields(a, "eta", "phi")
	if err != nil {
		return nil, err
	}
	bv, err := jaggedFields(b, "eta", "phi")
	if err != nil {
		return nil, err
	}
	out := make([]int, a.Total())
	aEta, aPhi := av[0], av[1]
	bEta, bPhi := bv[0], bv[1]
	for ev := 0; ev < a.Len(); ev++ {
		for i := a.Offsets[ev]; i < a.Offsets[ev+1]; i++ {
			best, bestDR := -1, math.Inf(1)
			for k := b.Offsets[ev]; k < b.Offsets[ev+1]; k++ {
				dr := DeltaR(aEta[i], aPhi[i], bEta[k], bPhi[k])
				if dr < bestDR {
					best, bestDR = k, dr
				}
			}
			if best >= 0 && threshold > 0 && bestDR >= threshold {
				best = -1
			}
			out[i] = best
		}
	}
	return out, nil
}

// Matched reports, per object of a, whether Nearest found a partner.
func Matched(a, b *columnar.Jagged, threshold float64) ([]bool, error) {
	idx, err := Nearest(a, b, threshold)
	if err != nil {
		return nil, err
	}
	out := make([]bool, len(idx))
	for i, k := range idx {
		out[i] = k >= 0
	}
	return out, nil
}

// #endregion matching

// #region event-variables
// TransverseMass is sqrt(2 pt1 pt2 (1 - cos dphi)).
func TransverseMass(pt1, phi1, pt2, phi2 float64) float64 {
	return math.Sqrt(2 * pt1 * pt2 * (1 - math.Cos(DeltaPhi(phi1, phi2))))
}

// DZeta is pzeta_miss - 0.85 pzeta_vis, projected on the bisector of the two
// visible legs.
func DZeta(pt1, phi1, pt2, phi2, metPt, metPhi float64) float64 {
	x1, y1 := pt1*math.Cos(phi1), pt1*math.Sin(phi1)
	x2, y2 := pt2*math.Cos(phi2), pt2*math.Sin(phi2)
	zx := x1/math.Hypot(x1, y1) + x2/math.Hypot(x2, y2)
	zy := y1/math.Hypot(x1, y1) + y2/math.Hypot(x2, y2)
	norm := math.Hypot(zx, zy)
	zx, zy = zx/norm, zy/norm
	pzetaVis := (x1+x2)*zx + (y1+y2)*zy
	pzetaMiss := metPt*math.Cos(metPhi)*zx + metPt*math.Sin(metPhi)*zy
	return pzetaMiss - 0.85*pzetaVis
}

// #endregion event-variables

// #region jet-constituents
// LeadCandidates is, per jet, the leading matched PF candidate plus the
// pt-weighted displacement averages over all matched candidates. Jets with no
// match have Matched=false and NaN fields.
type LeadCandidates struct {
	Matched      []bool
	Dxy          []float64
	Dz           []float64
	DxySig       []float64
	Lrel         []float64
	DxyWeight    []float64
	DxySigWeight []float64
}

// MatchLeadCandidates associates PF candidates (already sorted by descending
// pt within each event) to jets within dR. The first match is the leading one.
func MatchLeadCandidates(jets, cands *columnar.Jagged, dR float64) (LeadCandidates, error) {
	jv, err := jaggedFields(jets, "eta", "phi")
	if err != nil {
		return LeadCandidates{}, err
	}
	cv, err := jaggedFields(cands, "eta", "phi", "pt", "dxy", "dz", "dxyError")
	if err != nil {
		return LeadCandidates{}, err
	}
	n := jets.Total()
	out := LeadCandidates{
		Matched:      make([]bool, n),
		Dxy:          nanSlice(n),
		Dz:           nanSlice(n),
		DxySig:       nanSlice(n),
		Lrel:         nanSlice(n),
		DxyWeight:    nanSlice(n),
		DxySigWeight: nanSlice(n),
	}
	jEta, jPhi := jv[0], jv[1]
	cEta, cPhi, cPt := cv[0], cv[1], cv[2]
	cDxy, cDz, cDxyErr := cv[3], cv[4], cv[5]

	for ev := 0; ev < jets.Len(); ev++ {
		for j := jets.Offsets[ev]; j < jets.Offsets[ev+1]; j++ {
			var sumW, sumDxy, sumSig float64
			for k := cands.Offsets[ev]; k < cands.Offsets[ev+1]; k++ {
				if DeltaR(jEta[j], jPhi[j], cEta[k], cPhi[k]) >= dR {
					continue
				}
				if !out.Matched[j] {
					out.Matched[j] = true
					out.Dxy[j] = cDxy[k]
					out.Dz[j] = cDz[k]
					out.DxySig[j] = cDxy[k] / cDxyErr[k]
					out.Lrel[j] = math.Hypot(cDxy[k], cDz[k])
				}
				sumW += cPt[k]
				sumDxy += cPt[k] * cDxy[k]
				sumSig += cPt[k] * cDxy[k] / cDxyErr[k]
			}
			if out.Matched[j] && sumW > 0 {
				out.DxyWeight[j] = sumDxy / sumW
				out.DxySigWeight[j] = sumSig / sumW
			}
		}
	}
	return out, nil
}

// #endregion jet-constituents

// #region helpers
func nanSlice(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

func recordFields(r *columnar.Record, names ...string) ([][]float64, error) {
	out := make([][]float64, len(names))
	for i, name := range names {
		vals, err := r.Field(name)
		if err != nil {
			return nil, err
		}
		out[i] = vals
	}
	return out, nil
}

func jaggedFields(j *columnar.Jagged, names ...string) ([][]float64, error) {
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

func fieldOr(r *columnar.Record, name string, i int, fallback float64) float64 {
	if vals, ok := r.Fields[name]; ok {
		return vals[i]
	}
	return fallback
}

// #endregion helpers
