package stau

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielpatrickdp/stau-selection/internal/calib"
	"github.com/danielpatrickdp/stau-selection/internal/columnar"
	"github.com/danielpatrickdp/stau-selection/internal/config"
	"github.com/danielpatrickdp/stau-selection/internal/hist"
	"github.com/danielpatrickdp/stau-selection/internal/selection"
	"github.com/danielpatrickdp/stau-selection/internal/weights"
)

const dySample = "DYJetsToLL_M-50_TuneCP5_13TeV-madgraphMLM-pythia8"

// #region fixtures
func testConfig(systematics bool) config.Config {
	cfg := config.Default()
	cfg.ComputeSystematics = systematics
	cfg.MetFilters = []string{"goodVertices"}
	cfg.DYJetReweight = []float64{1, 0.5, 0.25}
	cfg.TriggerMap = map[string][]string{"SingleMuon": {"HLT_IsoMu24"}}
	cfg.TriggerOrder = []string{"SingleMuon"}
	cfg.Datasets = []config.Dataset{
		{Name: dySample, IsMC: true, CrossSection: 6077.22},
		{Name: "SingleMuon_Run2018D", TriggerKey: "SingleMuon"},
	}
	cfg.Calibration = config.Calibration{
		MuonSF: []string{"muon_id"},
		Pileup: "pileup",
		TauID:  "tau_id",
	}
	cfg.Histograms = []config.HistogramDef{
		{Name: "muon_pt", Axes: []config.AxisDef{{Name: "pt", Bins: 10, Lo: 0, Hi: 200}}, Fill: map[string]string{"pt": "Muon_tag.pt"}},
		{Name: "jet_dxy", Axes: []config.AxisDef{{Name: "dxy", Edges: []float64{0, 0.01, 0.1, 1}}}, Fill: map[string]string{"dxy": "Jet_select.dxy"}},
		{Name: "gen_mass", Axes: []config.AxisDef{{Name: "m", Bins: 20, Lo: 0, Hi: 200}}, Fill: map[string]string{"m": "sum_ll_gen.mass"}},
	}
	return cfg
}

func testCorrector(t *testing.T) *weights.Corrector {
	t.Helper()
	wide := []float64{0, 1000}
	tables, err := calib.NewTableSet(
		&calib.Table{
			Name:   "muon_id",
			Dims:   []calib.Dim{{Label: "abseta", Edges: []float64{0, 2.4}}, {Label: "pt", Edges: wide}},
			Values: []float64{0.9}, Up: []float64{0.95}, Down: []float64{0.85},
			Variations: map[string][]float64{
				"stat up": {0.92}, "stat down": {0.88},
				"syst up": {0.93}, "syst down": {0.87},
			},
		},
		&calib.Table{
			Name:   "pileup",
			Dims:   []calib.Dim{{Label: "nTrueInt", Edges: []float64{0, 100}}},
			Values: []float64{1.1}, Up: []float64{1.2}, Down: []float64{1.0},
		},
		&calib.Table{
			Name:   "tau_id",
			Dims:   []calib.Dim{{Label: "pt", Edges: wide}},
			Values: []float64{0.8}, Up: []float64{0.9}, Down: []float64{0.7},
		},
	)
	require.NoError(t, err)
	return weights.NewCorrector(tables, nil)
}

func jagged(t *testing.T, counts []int, fields map[string][]float64) *columnar.Jagged {
	t.Helper()
	j, err := columnar.NewJagged(counts, fields)
	require.NoError(t, err)
	return j
}

func record(t *testing.T, n int, fields map[string][]float64) *columnar.Record {
	t.Helper()
	r, err := columnar.NewRecord(n, fields)
	require.NoError(t, err)
	return r
}

func rep(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

// chunk builds four events, each with one muon, one tau and one jet:
//
//	0: iso, OS, gen-tau         -> passes
//	1: trigger not fired        -> fails Trigger
//	2: anti-iso, SS, gen-other  -> passes
//	3: large back-to-back MET   -> fails dzeta_cut
func chunk(t *testing.T) *columnar.Batch {
	t.Helper()
	const n = 4
	one := []int{1, 1, 1, 1}
	b := columnar.NewBatch(n)
	set := func(name string, c columnar.Column) { require.NoError(t, b.Set(name, c)) }

	set("run", columnar.Scalars{320000, 320000, 320000, 320000})
	set("HLT", record(t, n, map[string][]float64{"IsoMu24": {1, 0, 1, 1}}))
	set("PV", record(t, n, map[string][]float64{"npvsGood": rep(n, 12)}))
	set("Flag", record(t, n, map[string][]float64{"goodVertices": rep(n, 1)}))
	set("LHE", record(t, n, map[string][]float64{"Njets": rep(n, 1)}))
	set("Pileup", record(t, n, map[string][]float64{"nTrueInt": rep(n, 30)}))
	set("MET", record(t, n, map[string][]float64{
		"pt":  {10, 10, 10, 100},
		"phi": {math.Pi / 2, math.Pi / 2, math.Pi / 2, math.Pi},
	}))
	set("Muon", jagged(t, one, map[string][]float64{
		"pt": rep(n, 40), "eta": rep(n, 0.5), "phi": rep(n, 0), "mass": rep(n, 0.1057),
		"charge": rep(n, 1), "tightId": rep(n, 1), "looseId": rep(n, 1), "pfIsoId": rep(n, 4),
		"pfRelIso04_all": {0.05, 0.05, 0.3, 0.05}, "dxy": rep(n, 0.01), "dz": rep(n, 0.05),
	}))
	set("TrigObj", jagged(t, one, map[string][]float64{
		"id": rep(n, 13), "filterBits": rep(n, 8), "eta": rep(n, 0.5), "phi": rep(n, 0.01),
	}))
	set("Tau", jagged(t, one, map[string][]float64{
		"pt": rep(n, 30), "eta": rep(n, 0.3), "phi": rep(n, 2.8), "mass": rep(n, 1.777),
		"charge":                 {-1, -1, 1, -1},
		"idDeepTau2017v2p1VSjet": rep(n, 32),
		"idDeepTau2017v2p1VSmu":  rep(n, 8),
		"idDeepTau2017v2p1VSe":   rep(n, 4),
		"genPartFlav":            {5, 5, 0, 5},
	}))
	set("Electron", jagged(t, []int{0, 0, 0, 0}, map[string][]float64{
		"pt": {}, "eta": {}, "phi": {}, "convVeto": {}, "mvaFall17V2Iso_WP90": {},
	}))
	set("Jet", jagged(t, one, map[string][]float64{
		"pt": rep(n, 35), "eta": rep(n, 0.31), "phi": rep(n, 2.81),
	}))
	two := []int{2, 2, 2, 2}
	set("PFCandidate", jagged(t, two, map[string][]float64{
		"pt":              {2, 5, 2, 5, 2, 5, 2, 5},
		"eta":             {0.32, 0.3, 0.32, 0.3, 0.32, 0.3, 0.32, 0.3},
		"phi":             {2.82, 2.8, 2.82, 2.8, 2.82, 2.8, 2.82, 2.8},
		"dxy":             {-0.04, 0.02, -0.04, 0.02, -0.04, 0.02, -0.04, 0.02},
		"dz":              {0.2, 0.1, 0.2, 0.1, 0.2, 0.1, 0.2, 0.1},
		"dxyError":        {0.02, 0.01, 0.02, 0.01, 0.02, 0.01, 0.02, 0.01},
		"hasTrackDetails": rep(2*n, 1),
	}))
	set("GenPart", jagged(t, two, map[string][]float64{
		"pdgId":       {15, -15, 15, -15, 15, -15, 15, -15},
		"statusFlags": rep(2*n, 1<<13|1<<8),
		"pt":          {40, 30, 40, 30, 40, 30, 40, 30},
		"eta":         {0.5, 0.3, 0.5, 0.3, 0.5, 0.3, 0.5, 0.3},
		"phi":         {0, 2.8, 0, 2.8, 0, 2.8, 0, 2.8},
		"mass":        rep(2*n, 1.777),
	}))
	return b
}

func integral(t *testing.T, acc *hist.Accumulator, k hist.Key) float64 {
	t.Helper()
	h, ok := acc.Get(k)
	require.True(t, ok, "missing bucket %+v", k)
	return h.Integral()
}

// #endregion fixtures

// #region tests
func TestProcessMonteCarloChunk(t *testing.T) {
	cfg := testConfig(false)
	a, err := New(cfg, testCorrector(t), nil)
	require.NoError(t, err)
	ds, _ := cfg.Dataset(dySample)

	res, err := a.Process(context.Background(), ds, chunk(t))
	require.NoError(t, err)
	assert.Equal(t, 4, res.EventsIn)
	assert.Equal(t, 2, res.EventsOut)

	var names []string
	var counts []float64
	for _, c := range res.Cutflow.Counts(selection.AllCategory) {
		names = append(names, c.Name)
		counts = append(counts, c.Value)
	}
	assert.Equal(t, []string{
		selection.BeforeCuts, "Trigger", "DY jet reweighting", "Pileup reweighting", "HEM_veto",
		"PV", "MET filters", "one_muon_cut", "more_one_tau_cut", "loose_muon_veto",
		"loose_electron_veto", "muon_sfs", "mass_window", "dphi_min_cut", "dzeta_cut",
		"muon_mt_cut", "has_jet", "tauID_SFs", "final_state",
	}, names)
	assert.Equal(t, []float64{4, 3, 3, 3, 3, 3, 3, 3, 3, 3, 3, 3, 3, 3, 2, 2, 2, 2, 2}, counts)

	// dy 0.5 * pileup 1.1 * muon sf 0.9, times tau id 0.8 for the gen-tau event
	w0, w2 := 0.5*1.1*0.9*0.8, 0.5*1.1*0.9
	all := hist.Key{Histogram: "muon_pt", Dataset: dySample, Category: selection.AllCategory}
	assert.InDelta(t, w0+w2, integral(t, res.Hists, all), 1e-9)
	assert.InDelta(t, w0, integral(t, res.Hists, hist.Key{Histogram: "muon_pt", Dataset: dySample, Category: "iso/OS/gen-tau"}), 1e-9)
	assert.InDelta(t, w2, integral(t, res.Hists, hist.Key{Histogram: "muon_pt", Dataset: dySample, Category: "antiiso/SS/gen-other"}), 1e-9)
	assert.InDelta(t, w0+w2, integral(t, res.Hists, hist.Key{Histogram: "muon_pt", Dataset: dySample, Category: "iso/OS/gen-all"}) +
		integral(t, res.Hists, hist.Key{Histogram: "muon_pt", Dataset: dySample, Category: "antiiso/SS/gen-all"}), 1e-9)
	assert.Zero(t, integral(t, res.Hists, hist.Key{Histogram: "muon_pt", Dataset: dySample, Category: "iso/SS/gen-tau"}))

	// leading PF candidate is the pt 5 one with |dxy| 0.02
	jh, ok := res.Hists.Get(hist.Key{Histogram: "jet_dxy", Dataset: dySample, Category: selection.AllCategory})
	require.True(t, ok)
	vals, _, err := jh.Values()
	require.NoError(t, err)
	assert.InDelta(t, w0+w2, vals[1], 1e-9)

	_, ok = res.Hists.Get(hist.Key{Histogram: "gen_mass", Dataset: dySample, Category: selection.AllCategory})
	assert.True(t, ok)
}

func TestProcessSystematicHistograms(t *testing.T) {
	cfg := testConfig(true)
	a, err := New(cfg, testCorrector(t), nil)
	require.NoError(t, err)
	ds, _ := cfg.Dataset(dySample)

	res, err := a.Process(context.Background(), ds, chunk(t))
	require.NoError(t, err)

	w0, w2 := 0.5*1.1*0.9*0.8, 0.5*1.1*0.9
	key := func(name string) hist.Key {
		return hist.Key{Histogram: name, Dataset: dySample, Category: selection.AllCategory}
	}
	assert.InDelta(t, (w0+w2)*0.95/0.9, integral(t, res.Hists, key("muon_pt:muonsf0_up")), 1e-9)
	assert.InDelta(t, (w0+w2)*0.85/0.9, integral(t, res.Hists, key("muon_pt:muonsf0_down")), 1e-9)
	assert.InDelta(t, (w0+w2)*1.2/1.1, integral(t, res.Hists, key("muon_pt:pileup_up")), 1e-9)
	assert.InDelta(t, w0*0.9/0.8+w2, integral(t, res.Hists, key("muon_pt:tauid_up")), 1e-9)
}

func TestProcessSplitMuonUncertainty(t *testing.T) {
	cfg := testConfig(true)
	cfg.SplitMuonUncertainty = true
	a, err := New(cfg, testCorrector(t), nil)
	require.NoError(t, err)
	ds, _ := cfg.Dataset(dySample)

	res, err := a.Process(context.Background(), ds, chunk(t))
	require.NoError(t, err)
	w := 0.5*1.1*0.9*0.8 + 0.5*1.1*0.9
	key := func(name string) hist.Key {
		return hist.Key{Histogram: name, Dataset: dySample, Category: selection.AllCategory}
	}
	assert.InDelta(t, w*0.92/0.9, integral(t, res.Hists, key("muon_pt:muonsf0stat_up")), 1e-9)
	assert.InDelta(t, w*0.87/0.9, integral(t, res.Hists, key("muon_pt:muonsf0syst_down")), 1e-9)
	_, ok := res.Hists.Get(key("muon_pt:muonsf0_up"))
	assert.False(t, ok)
}

func TestProcessDataChunk(t *testing.T) {
	cfg := testConfig(false)
	a, err := New(cfg, testCorrector(t), nil)
	require.NoError(t, err)
	ds, _ := cfg.Dataset("SingleMuon_Run2018D")

	res, err := a.Process(context.Background(), ds, chunk(t))
	require.NoError(t, err)
	assert.Equal(t, 2, res.EventsOut)

	for _, c := range res.Cutflow.Counts(selection.AllCategory) {
		assert.NotEqual(t, "Pileup reweighting", c.Name)
		assert.NotEqual(t, "DY jet reweighting", c.Name)
	}
	k := hist.Key{Histogram: "muon_pt", Dataset: ds.Name, Category: "iso/OS/gen-other"}
	assert.InDelta(t, 1.0, integral(t, res.Hists, k), 1e-12)
	_, ok := res.Hists.Get(hist.Key{Histogram: "muon_pt", Dataset: ds.Name, Category: "iso/OS/gen-tau"})
	assert.True(t, ok)
	_, ok = res.Hists.Get(hist.Key{Histogram: "gen_mass", Dataset: ds.Name, Category: selection.AllCategory})
	assert.False(t, ok, "generator histograms are skipped for data")
}

func TestHEMVetoRemovesAffectedData(t *testing.T) {
	b := chunk(t)
	jets := jagged(t, []int{1, 1, 1, 1}, map[string][]float64{
		"pt": rep(4, 35), "eta": {-2.0, 0.31, 0.31, 0.31}, "phi": {-1.0, 2.81, 2.81, 2.81},
	})
	require.NoError(t, b.Set("Jet", jets))

	c, err := hemVeto(false)(context.Background(), b)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 1, 1, 1}, c.Factor)

	c, err = hemVeto(true)(context.Background(), b)
	require.NoError(t, err)
	assert.InDelta(t, 0.34, c.Factor[0], 1e-12)

	require.NoError(t, b.Set("run", columnar.Scalars{319000, 320000, 320000, 320000}))
	c, err = hemVeto(false)(context.Background(), b)
	require.NoError(t, err)
	assert.Equal(t, 1.0, c.Factor[0])
}

func TestDYJetReweightClampsMultiplicity(t *testing.T) {
	cfg := testConfig(false)
	a, err := New(cfg, nil, nil)
	require.NoError(t, err)
	b := columnar.NewBatch(3)
	require.NoError(t, b.Set("LHE", record(t, 3, map[string][]float64{"Njets": {0, 2, 7}})))
	c, err := a.dyJetReweight(context.Background(), b)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 0.25, 0.25}, c.Factor)
}

func TestMissingCalibrationIsNeutral(t *testing.T) {
	cfg := testConfig(false)
	a, err := New(cfg, nil, nil)
	require.NoError(t, err)
	ds, _ := cfg.Dataset(dySample)
	res, err := a.Process(context.Background(), ds, chunk(t))
	require.NoError(t, err)
	k := hist.Key{Histogram: "muon_pt", Dataset: dySample, Category: selection.AllCategory}
	assert.InDelta(t, 2*0.5, integral(t, res.Hists, k), 1e-9)
}

func TestProcessEmptyChunk(t *testing.T) {
	cfg := testConfig(true)
	a, err := New(cfg, testCorrector(t), nil)
	require.NoError(t, err)
	ds, _ := cfg.Dataset(dySample)

	res, err := a.Process(context.Background(), ds, columnar.NewBatch(0))
	require.NoError(t, err)
	assert.Equal(t, 0, res.EventsOut)
	for _, c := range res.Cutflow.Counts(selection.AllCategory) {
		assert.Zero(t, c.Value, c.Name)
	}
	_, ok := res.Hists.Get(hist.Key{Histogram: "muon_pt", Dataset: dySample, Category: "iso/OS/gen-tau"})
	assert.True(t, ok, "empty categories still produce buckets")
}

func TestProcessMissingInputColumn(t *testing.T) {
	cfg := testConfig(false)
	a, err := New(cfg, testCorrector(t), nil)
	require.NoError(t, err)
	ds, _ := cfg.Dataset(dySample)

	b := columnar.NewBatch(1)
	require.NoError(t, b.Set("HLT", record(t, 1, map[string][]float64{"IsoMu24": {1}})))
	_, err = a.Process(context.Background(), ds, b)
	assert.True(t, errors.Is(err, columnar.ErrMissingColumn))
}

func TestProcessMissingObjectFieldIsError(t *testing.T) {
	cfg := testConfig(false)
	a, err := New(cfg, testCorrector(t), nil)
	require.NoError(t, err)
	ds, _ := cfg.Dataset(dySample)
	one := []int{1, 1, 1, 1}

	tests := []struct {
		name   string
		column string
		col    func(t *testing.T) columnar.Column
	}{
		{"trigger objects without phi", "TrigObj", func(t *testing.T) columnar.Column {
			return jagged(t, one, map[string][]float64{
				"id": rep(4, 13), "filterBits": rep(4, 8), "eta": rep(4, 0.5),
			})
		}},
		{"MET without phi", "MET", func(t *testing.T) columnar.Column {
			return record(t, 4, map[string][]float64{"pt": rep(4, 10)})
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := chunk(t)
			require.NoError(t, b.Set(tt.column, tt.col(t)))
			var (
				res *Result
				err error
			)
			require.NotPanics(t, func() {
				res, err = a.Process(context.Background(), ds, b)
			})
			assert.Nil(t, res)
			assert.ErrorIs(t, err, columnar.ErrMissingColumn)
		})
	}
}

func TestPipelineIsCachedPerDataset(t *testing.T) {
	cfg := testConfig(false)
	a, err := New(cfg, nil, nil)
	require.NoError(t, err)
	ds, _ := cfg.Dataset(dySample)
	p1, err := a.Pipeline(ds)
	require.NoError(t, err)
	p2, _ := a.Pipeline(ds)
	assert.Same(t, p1, p2)

	_, err = a.Pipeline(config.Dataset{Name: "Unknown"})
	assert.Error(t, err)
}

// #endregion tests
