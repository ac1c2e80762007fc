package physics

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielpatrickdp/stau-selection/internal/columnar"
)

func TestDeltaPhiWrapsIntoHalfOpenRange(t *testing.T) {
	assert.InDelta(t, 0.5, DeltaPhi(1.0, 0.5), 1e-12)
	assert.InDelta(t, -2*math.Pi+3.5, DeltaPhi(3.0, -0.5), 1e-12)
	assert.InDelta(t, math.Pi, DeltaPhi(math.Pi, 0), 1e-12)
	assert.InDelta(t, math.Pi, DeltaPhi(0, math.Pi), 1e-12)
}

func TestDeltaR(t *testing.T) {
	assert.InDelta(t, 0.5, DeltaR(0, 0, 0.3, 0.4), 1e-9)
}

func TestSumBackToBackPair(t *testing.T) {
	a, err := columnar.NewRecord(1, map[string][]float64{
		"pt": {40}, "eta": {0}, "phi": {0}, "charge": {-1},
	})
	require.NoError(t, err)
	b, err := columnar.NewRecord(1, map[string][]float64{
		"pt": {40}, "eta": {0}, "phi": {math.Pi}, "charge": {1},
	})
	require.NoError(t, err)

	p, err := Sum(a, b)
	require.NoError(t, err)
	require.True(t, p.Valid[0])
	assert.InDelta(t, 80, p.Mass[0], 1e-6)
	assert.InDelta(t, 0, p.Pt[0], 1e-6)
	assert.Equal(t, 0.0, p.Charge[0])
}

func TestSumInvalidWhenSideMissing(t *testing.T) {
	j, _ := columnar.NewJagged([]int{0}, map[string][]float64{"pt": {}, "eta": {}, "phi": {}})
	a := j.Firsts()
	b, _ := columnar.NewRecord(1, map[string][]float64{"pt": {1}, "eta": {0}, "phi": {0}})
	p, err := Sum(a, b)
	require.NoError(t, err)
	assert.False(t, p.Valid[0])
	assert.True(t, math.IsNaN(p.Mass[0]))
}

func TestNearestRespectsThresholdAndEvent(t *testing.T) {
	a, _ := columnar.NewJagged([]int{2, 1}, map[string][]float64{
		"eta": {0, 2, 0},
		"phi": {0, 0, 0},
	})
	b, _ := columnar.NewJagged([]int{1, 0}, map[string][]float64{
		"eta": {0.1},
		"phi": {0},
	})
	got, err := Nearest(a, b, 0.4)
	require.NoError(t, err)
	assert.Equal(t, []int{0, -1, -1}, got)
	matched, err := Matched(a, b, 0.4)
	require.NoError(t, err)
	assert.Equal(t, []bool{true, false, false}, matched)
	got, err = Nearest(a, b, 0)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 0, -1}, got)
}

func TestMissingFieldsAreErrors(t *testing.T) {
	withPhi, _ := columnar.NewJagged([]int{1}, map[string][]float64{"eta": {0}, "phi": {0}, "pt": {10}})
	noPhi, _ := columnar.NewJagged([]int{1}, map[string][]float64{"eta": {0}, "pt": {10}})

	_, err := Nearest(withPhi, noPhi, 0.4)
	assert.ErrorIs(t, err, columnar.ErrMissingColumn)
	_, err = Matched(noPhi, withPhi, 0.4)
	assert.ErrorIs(t, err, columnar.ErrMissingColumn)
	_, err = SumCollection(noPhi)
	assert.ErrorIs(t, err, columnar.ErrMissingColumn)
	_, err = MatchLeadCandidates(withPhi, withPhi, 0.4)
	assert.ErrorIs(t, err, columnar.ErrMissingColumn)
	_, err = Sum(withPhi.Firsts(), noPhi.Firsts())
	assert.ErrorIs(t, err, columnar.ErrMissingColumn)
}

func TestTransverseMass(t *testing.T) {
	assert.InDelta(t, 80, TransverseMass(40, 0, 40, math.Pi), 1e-9)
	assert.InDelta(t, 0, TransverseMass(40, 1, 40, 1), 1e-9)
}

func TestDZetaCollinearLegs(t *testing.T) {
	// Both legs along x: zeta axis is x, pzeta_vis = 50, pzeta_miss = 10.
	assert.InDelta(t, 10-0.85*50, DZeta(30, 0, 20, 0, 10, 0), 1e-9)
}

func TestMatchLeadCandidates(t *testing.T) {
	jets, _ := columnar.NewJagged([]int{2}, map[string][]float64{
		"eta": {0, 2},
		"phi": {0, 2},
	})
	cands, _ := columnar.NewJagged([]int{2}, map[string][]float64{
		"pt":       {10, 5},
		"eta":      {0.1, -0.1},
		"phi":      {0, 0},
		"dxy":      {0.2, 0.5},
		"dz":       {0.1, 0.1},
		"dxyError": {0.1, 0.1},
	})
	lc, err := MatchLeadCandidates(jets, cands, 0.4)
	require.NoError(t, err)
	assert.Equal(t, []bool{true, false}, lc.Matched)
	assert.InDelta(t, 0.2, lc.Dxy[0], 1e-12)
	assert.InDelta(t, 2.0, lc.DxySig[0], 1e-12)
	assert.InDelta(t, (10*0.2+5*0.5)/15, lc.DxyWeight[0], 1e-12)
	assert.True(t, math.IsNaN(lc.Dxy[1]))
}
