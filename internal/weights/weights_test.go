package weights

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/danielpatrickdp/stau-selection/internal/calib"
)

// #region engine
func TestEngineComposesFactorsAndRatios(t *testing.T) {
	e := NewEngine(1)
	require.NoError(t, e.Apply("first", Contribution{
		Factor:      []float64{0.9},
		Systematics: map[string]Variation{"stat": {Up: []float64{1.05}, Down: []float64{0.95}}},
	}))
	require.NoError(t, e.Apply("second", Contribution{Factor: []float64{1.1}}))

	assert.InDelta(t, 0.99, e.Nominal()[0], 1e-12)
	up, down, ok := e.Variation("stat")
	require.True(t, ok)
	assert.InDelta(t, 1.0395, up[0], 1e-12)
	assert.InDelta(t, 0.9405, down[0], 1e-12)

	_, _, ok = e.Variation("syst")
	assert.False(t, ok)
	assert.Equal(t, []string{"stat"}, e.Variations())
	assert.Equal(t, "second", e.Steps()[1].Name)
}

func TestEngineOrderIndependentNominal(t *testing.T) {
	a, b := NewEngine(2), NewEngine(2)
	c1 := Contribution{Factor: []float64{0.9, 0.5}}
	c2 := Contribution{Factor: []float64{1.1, 3}}
	require.NoError(t, a.Apply("c1", c1))
	require.NoError(t, a.Apply("c2", c2))
	require.NoError(t, b.Apply("c2", c2))
	require.NoError(t, b.Apply("c1", c1))
	for i := range a.Nominal() {
		assert.InDelta(t, a.Nominal()[i], b.Nominal()[i], 1e-12)
	}
}

func TestEngineSameVariationMultiplies(t *testing.T) {
	e := NewEngine(1)
	v := map[string]Variation{"pileup": {Up: []float64{1.1}, Down: []float64{0.9}}}
	require.NoError(t, e.Apply("a", Contribution{Factor: []float64{2}, Systematics: v}))
	require.NoError(t, e.Apply("b", Contribution{Factor: []float64{1}, Systematics: v}))
	up, _, _ := e.Variation("pileup")
	assert.InDelta(t, 2*1.1*1.1, up[0], 1e-12)
}

func TestEngineRejectsWrongLength(t *testing.T) {
	e := NewEngine(3)
	err := e.Apply("short", Contribution{Factor: []float64{1}})
	assert.True(t, errors.Is(err, ErrLength))
	err = e.Apply("bad-sys", Contribution{
		Factor:      []float64{1, 1, 1},
		Systematics: map[string]Variation{"x": {Up: []float64{1}, Down: []float64{1, 1, 1}}},
	})
	assert.True(t, errors.Is(err, ErrLength))
}

func TestEngineFilterCompactsWeightsAndRatios(t *testing.T) {
	e := NewEngine(3)
	require.NoError(t, e.Apply("w", Contribution{
		Factor:      []float64{1, 2, 3},
		Systematics: map[string]Variation{"s": {Up: []float64{1.1, 1.2, 1.3}, Down: []float64{1, 1, 1}}},
	}))
	f, err := e.Filter([]bool{false, true, true})
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 3}, f.Nominal())
	up, _, _ := f.Variation("s")
	assert.InDelta(t, 2.4, up[0], 1e-12)
	assert.InDelta(t, 3.9, up[1], 1e-12)
	assert.InDelta(t, 5, f.Sum(), 1e-12)

	_, err = e.Filter([]bool{true})
	assert.True(t, errors.Is(err, ErrLength))
}

func TestProductPerEvent(t *testing.T) {
	got := ProductPerEvent([]int{0, 2, 2, 3}, []float64{0.5, 0.5, 2})
	assert.Equal(t, []float64{0.25, 1, 2}, got)
}

// #endregion engine

// #region corrector
func sfTable() *calib.Table {
	return &calib.Table{
		Name:   "muon_sf",
		Dims:   []calib.Dim{{Label: "pt", Edges: []float64{0, 50, 1000}}},
		Values: []float64{0.9, 0.8},
		Up:     []float64{0.99, 0.88},
		Down:   []float64{0.81, 0.72},
	}
}

func TestCorrectorPerObjectProductAndRatios(t *testing.T) {
	set, err := calib.NewTableSet(sfTable())
	require.NoError(t, err)
	c := NewCorrector(set, nil)

	offsets := []int{0, 2, 2}
	vars := map[string][]float64{"pt": {30, 60}}
	got, err := c.PerObject(context.Background(), "muon_sf", offsets, vars, map[string][2]string{"muonsf0": {"up", "down"}})
	require.NoError(t, err)

	assert.InDelta(t, 0.72, got.Factor[0], 1e-12)
	assert.Equal(t, 1.0, got.Factor[1])
	assert.InDelta(t, 1.21, got.Systematics["muonsf0"].Up[0], 1e-12)
	assert.InDelta(t, 0.81, got.Systematics["muonsf0"].Down[0], 1e-12)
	assert.Equal(t, 1.0, got.Systematics["muonsf0"].Up[1])
}

func TestCorrectorMissingIsNeutralAndWarnsOnce(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	set, err := calib.NewTableSet(sfTable())
	require.NoError(t, err)
	c := NewCorrector(set, zap.New(core))

	ctx := context.Background()
	variations := map[string][2]string{"pileup": {"up", "down"}}
	for i := 0; i < 3; i++ {
		labels, err := c.Labels(ctx, "pileup")
		require.NoError(t, err)
		assert.Nil(t, labels)
		got, err := c.PerEvent(ctx, "pileup", map[string][]float64{"nTrueInt": {10, 20}}, 2, variations)
		require.NoError(t, err)
		assert.Equal(t, []float64{1, 1}, got.Factor)
		assert.Equal(t, []float64{1, 1}, got.Systematics["pileup"].Up)
		assert.Equal(t, []float64{1, 1}, got.Systematics["pileup"].Down)
	}
	warned := logs.FilterMessage("calibration missing, applying neutral factor")
	require.Equal(t, 1, warned.Len())
	assert.Equal(t, "pileup", warned.All()[0].ContextMap()["correction"])
}

func TestCorrectorNilProvider(t *testing.T) {
	c := NewCorrector(nil, nil)
	got, err := c.Eval(context.Background(), "anything", nil, 4, "")
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 1, 1, 1}, got)
	labels, err := c.Labels(context.Background(), "anything")
	require.NoError(t, err)
	assert.Nil(t, labels)
}

func TestCorrectorZeroRows(t *testing.T) {
	set, _ := calib.NewTableSet(sfTable())
	c := NewCorrector(set, nil)
	got, err := c.PerObject(context.Background(), "muon_sf", []int{0, 0}, map[string][]float64{"pt": {}}, nil)
	require.NoError(t, err)
	assert.Equal(t, []float64{1}, got.Factor)
}

// #endregion corrector
