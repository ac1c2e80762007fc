package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/danielpatrickdp/stau-selection/internal/hist"
)

// #region types
// Config is the analysis configuration of one selection run.
type Config struct {
	Year                 string              `yaml:"year"`
	Luminosity           float64             `yaml:"luminosity"`
	Workers              int                 `yaml:"workers"`
	MaxRetries           int                 `yaml:"max_retries"`
	OutputDir            string              `yaml:"output_dir"`
	DBPath               string              `yaml:"db_path"`
	ComputeSystematics   bool                `yaml:"compute_systematics"`
	SplitMuonUncertainty bool                `yaml:"split_muon_uncertainty"`
	Calibration          Calibration         `yaml:"calibration"`
	Thresholds           Thresholds          `yaml:"thresholds"`
	Datasets             []Dataset           `yaml:"datasets"`
	TriggerMap           map[string][]string `yaml:"dataset_trigger_map"`
	TriggerOrder         []string            `yaml:"dataset_trigger_order"`
	DYJetReweight        []float64           `yaml:"dy_jet_reweight"`
	DYSamplePrefixes     []string            `yaml:"dy_sample_prefixes"`
	MetFilters           []string            `yaml:"met_filters"`
	Histograms           []HistogramDef      `yaml:"histograms"`
	YieldGroups          []YieldGroup        `yaml:"yield_groups"`
}

// YieldGroup sums datasets into one line of the normalized yields.
type YieldGroup struct {
	Name     string   `yaml:"name"`
	Datasets []string `yaml:"datasets"`
	Signal   bool     `yaml:"signal"`
}

// Calibration names the correction source and the tables the analysis uses.
// Address takes precedence over Tables when both are set.
type Calibration struct {
	Tables        string   `yaml:"tables"`
	Address       string   `yaml:"address"`
	MuonSF        []string `yaml:"muon_sf"`
	MuonTriggerSF string   `yaml:"muon_trigger_sf"`
	Pileup        string   `yaml:"pileup"`
	TauID         string   `yaml:"tau_id"`
}

// Dataset is one input sample.
type Dataset struct {
	Name         string   `yaml:"name"`
	IsMC         bool     `yaml:"is_mc"`
	Files        []string `yaml:"files"`
	CrossSection float64  `yaml:"xsec"`
	TriggerKey   string   `yaml:"trigger_key"`
}

// Thresholds are the named cut values of the selection.
type Thresholds struct {
	MuonPtMin      float64 `yaml:"muon_pt_min"`
	MuonEtaMin     float64 `yaml:"muon_eta_min"`
	MuonEtaMax     float64 `yaml:"muon_eta_max"`
	MuonID         string  `yaml:"muon_id"`
	MuonIso        float64 `yaml:"muon_pfreliso04_all"`
	MuonIsoAnti    float64 `yaml:"muon_pfreliso04_all_anti"`
	MuonAbsDxy     float64 `yaml:"muon_absdxy"`
	MuonAbsDz      float64 `yaml:"muon_absdz"`
	TrigMatchDR    float64 `yaml:"trigger_match_dr"`
	TrigFilterBits float64 `yaml:"trigger_filter_bits"`

	TauPtMin   float64 `yaml:"tau_pt_min"`
	TauEtaMin  float64 `yaml:"tau_eta_min"`
	TauEtaMax  float64 `yaml:"tau_eta_max"`
	TauVsJet   float64 `yaml:"tau_iddeeptau_vsjet"`
	TauVsMu    float64 `yaml:"tau_iddeeptau_vsmu"`
	TauVsEle   float64 `yaml:"tau_iddeeptau_vsele"`
	TauIDField string  `yaml:"tau_id_prefix"`

	MuonVetoPtMin   float64 `yaml:"muon_veto_pt_min"`
	MuonVetoEtaMin  float64 `yaml:"muon_veto_eta_min"`
	MuonVetoEtaMax  float64 `yaml:"muon_veto_eta_max"`
	MuonVetoID      string  `yaml:"muon_veto_id"`
	MuonVetoPfIsoID float64 `yaml:"muon_veto_pfisoid"`

	ElecVetoPt     float64 `yaml:"elec_veto_pt"`
	ElecVetoEtaMin float64 `yaml:"elec_veto_eta_min"`
	ElecVetoEtaMax float64 `yaml:"elec_veto_eta_max"`
	ElecVeto       string  `yaml:"elec_veto"`
	ElecID         string  `yaml:"elec_id"`

	MassLower float64 `yaml:"mass_ll_lower"`
	MassUpper float64 `yaml:"mass_ll_upper"`
	DPhiMin   float64 `yaml:"dphi_ll_min"`
	DZetaCut  float64 `yaml:"dzeta_cut"`
	MuonMtCut float64 `yaml:"muon_mt_cut"`

	JetPtMin  float64 `yaml:"jet_pt_min"`
	JetEtaMin float64 `yaml:"jet_eta_min"`
	JetEtaMax float64 `yaml:"jet_eta_max"`
	JetDRTau  float64 `yaml:"jet_dr_tau"`

	PFCandPt     float64 `yaml:"pfcand_pt"`
	PFCandEtaMin float64 `yaml:"pfcand_eta_min"`
	PFCandEtaMax float64 `yaml:"pfcand_eta_max"`
	PFCandTrack  string  `yaml:"track"`
	PFCandDR     float64 `yaml:"pfcand_dr"`
}

// HistogramDef declares one histogram in configuration.
type HistogramDef struct {
	Name string            `yaml:"name"`
	Axes []AxisDef         `yaml:"axes"`
	Fill map[string]string `yaml:"fill"`
}

// AxisDef is either regular (bins, lo, hi) or variable (edges).
type AxisDef struct {
	Name  string    `yaml:"name"`
	Label string    `yaml:"label"`
	Bins  int       `yaml:"bins"`
	Lo    float64   `yaml:"lo"`
	Hi    float64   `yaml:"hi"`
	Edges []float64 `yaml:"edges"`
}

// #endregion types

// #region defaults
// Default returns the ul2018 mu-tau selection settings.
func Default() Config {
	return Config{
		Year:       "ul2018",
		Luminosity: 59832.0,
		Workers:    4,
		MaxRetries: 1,
		OutputDir:  "output",
		DBPath:     "stau_selection.db",
		Thresholds: Thresholds{
			MuonPtMin:      26,
			MuonEtaMin:     -2.4,
			MuonEtaMax:     2.4,
			MuonID:         "tightId",
			MuonIso:        0.15,
			MuonIsoAnti:    0.5,
			MuonAbsDxy:     0.045,
			MuonAbsDz:      0.2,
			TrigMatchDR:    0.4,
			TrigFilterBits: 8,

			TauPtMin:   20,
			TauEtaMin:  -2.3,
			TauEtaMax:  2.3,
			TauVsJet:   16,
			TauVsMu:    8,
			TauVsEle:   2,
			TauIDField: "idDeepTau2017v2p1",

			MuonVetoPtMin:   10,
			MuonVetoEtaMin:  -2.4,
			MuonVetoEtaMax:  2.4,
			MuonVetoID:      "looseId",
			MuonVetoPfIsoID: 2,

			ElecVetoPt:     10,
			ElecVetoEtaMin: -2.5,
			ElecVetoEtaMax: 2.5,
			ElecVeto:       "convVeto",
			ElecID:         "mvaFall17V2Iso_WP90",

			MassLower: 40,
			MassUpper: 80,
			DPhiMin:   2.0,
			DZetaCut:  -25,
			MuonMtCut: 60,

			JetPtMin:  20,
			JetEtaMin: -2.4,
			JetEtaMax: 2.4,
			JetDRTau:  0.4,

			PFCandPt:     1,
			PFCandEtaMin: -2.4,
			PFCandEtaMax: 2.4,
			PFCandTrack:  "hasTrackDetails",
			PFCandDR:     0.4,
		},
		MetFilters: []string{
			"goodVertices",
			"globalSuperTightHalo2016Filter",
			"HBHENoiseFilter",
			"HBHENoiseIsoFilter",
			"EcalDeadCellTriggerPrimitiveFilter",
			"BadPFMuonFilter",
			"eeBadScFilter",
			"ecalBadCalibFilter",
		},
		DYSamplePrefixes: []string{
			"DYJetsToLL_M-50_TuneCP5_13TeV-madgraphMLM-pythia8",
			"DY1JetsToLL_M-50_MatchEWPDG20_TuneCP5_13TeV-madgraphMLM-pythia8",
			"DY2JetsToLL_M-50_MatchEWPDG20_TuneCP5_13TeV-madgraphMLM-pythia8",
			"DY3JetsToLL_M-50_MatchEWPDG20_TuneCP5_13TeV-madgraphMLM-pythia8",
			"DY4JetsToLL_M-50_MatchEWPDG20_TuneCP5_13TeV-madgraphMLM-pythia8",
		},
	}
}

// #endregion defaults

// #region load
// Load reads a YAML configuration over Default, applies environment
// overrides and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv overrides the database path and calibration address from
// STAU_DB and STAU_CALIB_ADDR.
func (c *Config) ApplyEnv() {
	c.DBPath = envOr("STAU_DB", c.DBPath)
	c.Calibration.Address = envOr("STAU_CALIB_ADDR", c.Calibration.Address)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// #endregion load

// #region validate
// Validate checks datasets, trigger settings and histogram definitions.
func (c *Config) Validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("workers must be >= 1, got %d", c.Workers)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be >= 0, got %d", c.MaxRetries)
	}
	if c.Luminosity <= 0 {
		return fmt.Errorf("luminosity must be positive, got %g", c.Luminosity)
	}
	seen := map[string]bool{}
	for i, ds := range c.Datasets {
		if ds.Name == "" {
			return fmt.Errorf("dataset %d has no name", i)
		}
		if seen[ds.Name] {
			return fmt.Errorf("duplicate dataset %s", ds.Name)
		}
		seen[ds.Name] = true
		if ds.IsMC && ds.CrossSection <= 0 {
			return fmt.Errorf("dataset %s: MC needs a positive xsec", ds.Name)
		}
	}
	for _, key := range c.TriggerOrder {
		if _, ok := c.TriggerMap[key]; !ok {
			return fmt.Errorf("trigger order entry %s missing from dataset_trigger_map", key)
		}
	}
	if _, err := c.Registry(); err != nil {
		return err
	}
	return nil
}

// #endregion validate

// #region accessors
// Dataset finds a dataset by name.
func (c *Config) Dataset(name string) (Dataset, bool) {
	for _, ds := range c.Datasets {
		if ds.Name == name {
			return ds, true
		}
	}
	return Dataset{}, false
}

// CrossSections maps MC dataset names to cross sections.
func (c *Config) CrossSections() map[string]float64 {
	out := map[string]float64{}
	for _, ds := range c.Datasets {
		if ds.IsMC {
			out[ds.Name] = ds.CrossSection
		}
	}
	return out
}

// IsDY reports whether a dataset gets the DY jet-multiplicity reweighting.
func (c *Config) IsDY(name string) bool {
	for _, p := range c.DYSamplePrefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

// TriggerPaths returns the trigger paths an event must fire (pos) and must
// not fire (neg). MC accepts every path of the map. Data accepts the paths
// of its own primary dataset and rejects those of datasets earlier in the
// trigger order, so overlapping events are counted once.
func (c *Config) TriggerPaths(ds Dataset) (pos, neg []string, err error) {
	if ds.IsMC {
		for _, key := range c.TriggerOrder {
			pos = append(pos, c.TriggerMap[key]...)
		}
		return dedupe(pos), nil, nil
	}
	key := ds.TriggerKey
	if key == "" {
		key = ds.Name
	}
	for _, k := range c.TriggerOrder {
		if k == key {
			return dedupe(c.TriggerMap[k]), dedupe(neg), nil
		}
		neg = append(neg, c.TriggerMap[k]...)
	}
	return nil, nil, fmt.Errorf("dataset %s: trigger key %s not in dataset_trigger_order", ds.Name, key)
}

// Registry builds the histogram registry.
func (c *Config) Registry() (*hist.Registry, error) {
	defs := make([]hist.Def, 0, len(c.Histograms))
	for _, h := range c.Histograms {
		d, err := h.ToDef()
		if err != nil {
			return nil, err
		}
		defs = append(defs, d)
	}
	return hist.NewRegistry(defs...)
}

// ToDef converts the configuration form to a histogram definition.
func (h HistogramDef) ToDef() (hist.Def, error) {
	axes := make([]hist.Axis, 0, len(h.Axes))
	for _, a := range h.Axes {
		switch {
		case len(a.Edges) > 0:
			axes = append(axes, hist.Variable(a.Name, a.Label, a.Edges))
		case a.Bins > 0 && a.Hi > a.Lo:
			axes = append(axes, hist.Regular(a.Name, a.Label, a.Bins, a.Lo, a.Hi))
		default:
			return hist.Def{}, fmt.Errorf("histogram %s: axis %s needs edges or bins with lo < hi", h.Name, a.Name)
		}
	}
	return hist.Def{Name: h.Name, Axes: axes, Fill: h.Fill}, nil
}

func dedupe(in []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

// #endregion accessors
