package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
year: ul2018
luminosity: 59832
workers: 8
compute_systematics: true
thresholds:
  muon_pt_min: 30
  mass_ll_upper: 90
calibration:
  tables: corrections.yaml
  muon_sf: [muon_id, muon_iso]
dataset_trigger_map:
  SingleMuon: [IsoMu24]
  Tau: [IsoMu20_eta2p1_LooseChargedIsoPFTau27_eta2p1_CrossL1, IsoMu24]
dataset_trigger_order: [SingleMuon, Tau]
datasets:
  - name: DYJetsToLL_M-50_TuneCP5_13TeV-madgraphMLM-pythia8
    is_mc: true
    xsec: 6077.22
    files: [dy.arrow]
  - name: SingleMuon_Run2018A
    trigger_key: SingleMuon
    files: [a.arrow]
  - name: Tau_Run2018A
    trigger_key: Tau
histograms:
  - name: muon_pt
    axes:
      - {name: pt, label: "p_T(mu)", bins: 10, lo: 0, hi: 200}
    fill: {pt: Muon_tag.pt}
  - name: jet_dxy
    axes:
      - {name: dxy, edges: [0, 0.1, 1, 10]}
    fill: {dxy: Jet_select.dxy}
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadMergesOverDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Workers)
	assert.Equal(t, 30.0, cfg.Thresholds.MuonPtMin)
	assert.Equal(t, 90.0, cfg.Thresholds.MassUpper)
	// untouched thresholds keep defaults
	assert.Equal(t, Default().Thresholds.MassLower, cfg.Thresholds.MassLower)
	assert.Equal(t, []string{"muon_id", "muon_iso"}, cfg.Calibration.MuonSF)
	assert.True(t, cfg.ComputeSystematics)

	reg, err := cfg.Registry()
	require.NoError(t, err)
	d, err := reg.Lookup("jet_dxy")
	require.NoError(t, err)
	assert.Equal(t, 3, d.Axes[0].Bins())
	assert.Equal(t, 6077.22, cfg.CrossSections()["DYJetsToLL_M-50_TuneCP5_13TeV-madgraphMLM-pythia8"])
	assert.True(t, cfg.IsDY("DYJetsToLL_M-50_TuneCP5_13TeV-madgraphMLM-pythia8"))
	assert.False(t, cfg.IsDY("SingleMuon_Run2018A"))
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("STAU_DB", "/tmp/other.db")
	t.Setenv("STAU_CALIB_ADDR", "calib:50051")
	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)
	assert.Equal(t, "/tmp/other.db", cfg.DBPath)
	assert.Equal(t, "calib:50051", cfg.Calibration.Address)
}

func TestTriggerPaths(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	mc, _ := cfg.Dataset("DYJetsToLL_M-50_TuneCP5_13TeV-madgraphMLM-pythia8")
	pos, neg, err := cfg.TriggerPaths(mc)
	require.NoError(t, err)
	assert.Equal(t, []string{"IsoMu24", "IsoMu20_eta2p1_LooseChargedIsoPFTau27_eta2p1_CrossL1"}, pos)
	assert.Empty(t, neg)

	tau, _ := cfg.Dataset("Tau_Run2018A")
	pos, neg, err = cfg.TriggerPaths(tau)
	require.NoError(t, err)
	assert.Equal(t, []string{"IsoMu20_eta2p1_LooseChargedIsoPFTau27_eta2p1_CrossL1", "IsoMu24"}, pos)
	assert.Equal(t, []string{"IsoMu24"}, neg)

	_, _, err = cfg.TriggerPaths(Dataset{Name: "EGamma"})
	assert.Error(t, err)
}

func TestValidateRejectsBadInput(t *testing.T) {
	cases := map[string]string{
		"duplicate dataset": "datasets: [{name: a}, {name: a}]",
		"mc without xsec":   "datasets: [{name: a, is_mc: true}]",
		"bad axis":          "histograms: [{name: h, axes: [{name: x, bins: 0}], fill: {x: y}}]",
		"missing fill":      "histograms: [{name: h, axes: [{name: x, bins: 2, lo: 0, hi: 1}]}]",
		"unknown order key": "dataset_trigger_order: [SingleMuon]",
		"zero workers":      "workers: 0",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			assert.Error(t, err)
		})
	}
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
}
