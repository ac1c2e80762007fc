// Package stau defines the Z -> mu tau_h selection with displaced-jet
// observables: the ordered cut sequence, its derived columns, event weights
// and category splits, and the histogram filling of the surviving events.
package stau

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/danielpatrickdp/stau-selection/internal/columnar"
	"github.com/danielpatrickdp/stau-selection/internal/config"
	"github.com/danielpatrickdp/stau-selection/internal/hist"
	"github.com/danielpatrickdp/stau-selection/internal/logging"
	"github.com/danielpatrickdp/stau-selection/internal/selection"
	"github.com/danielpatrickdp/stau-selection/internal/weights"
)

// #region analysis
// Analysis builds per-dataset pipelines from one configuration. It is safe
// for concurrent use by chunk workers.
type Analysis struct {
	cfg       config.Config
	registry  *hist.Registry
	corrector *weights.Corrector
	logger    *zap.Logger

	mu        sync.Mutex
	pipelines map[string]*selection.Pipeline
}

// Result is the outcome of one chunk.
type Result struct {
	Dataset   string
	Cutflow   *selection.Cutflow
	Hists     *hist.Accumulator
	EventsIn  int
	EventsOut int
}

// New validates the histogram definitions and prepares the analysis.
func New(cfg config.Config, corrector *weights.Corrector, logger *zap.Logger) (*Analysis, error) {
	logger = logging.OrNop(logger)
	registry, err := cfg.Registry()
	if err != nil {
		return nil, fmt.Errorf("histograms: %w", err)
	}
	if corrector == nil {
		corrector = weights.NewCorrector(nil, logger)
	}
	if len(cfg.DYJetReweight) == 0 {
		logger.Warn("no DY jet-binned reweighting configured")
	}
	if len(cfg.Calibration.MuonSF) == 0 {
		logger.Warn("no muon scale factors configured")
	}
	if cfg.Calibration.Pileup == "" {
		logger.Warn("no pileup reweighting configured")
	}
	return &Analysis{
		cfg:       cfg,
		registry:  registry,
		corrector: corrector,
		logger:    logger,
		pipelines: map[string]*selection.Pipeline{},
	}, nil
}

// Registry returns the histogram definitions.
func (a *Analysis) Registry() *hist.Registry { return a.registry }

// #endregion analysis

// #region pipeline
// Pipeline returns the selection sequence of a dataset, building it once.
func (a *Analysis) Pipeline(ds config.Dataset) (*selection.Pipeline, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if p, ok := a.pipelines[ds.Name]; ok {
		return p, nil
	}
	p, err := a.build(ds)
	if err != nil {
		return nil, err
	}
	a.pipelines[ds.Name] = p
	return p, nil
}

func (a *Analysis) build(ds config.Dataset) (*selection.Pipeline, error) {
	pos, neg, err := a.cfg.TriggerPaths(ds)
	if err != nil {
		return nil, err
	}
	t := a.cfg.Thresholds
	p := selection.NewPipeline()

	p.Cut("Trigger", passingTrigger(pos, neg))
	if ds.IsMC && a.cfg.IsDY(ds.Name) {
		p.Weight("DY jet reweighting", a.dyJetReweight)
	}
	if ds.IsMC && a.cfg.Calibration.Pileup != "" {
		p.Weight("Pileup reweighting", a.pileupReweight)
	}
	if a.cfg.Year == "ul2018" {
		p.Weight("HEM_veto", hemVeto(ds.IsMC))
	}
	p.Cut("PV", goodPV)
	p.Cut("MET filters", a.metFilters)

	p.Column("Muon_tag", a.selectMuons)
	p.Column("Tau", a.selectTaus)
	p.Cut("one_muon_cut", countIs("Muon_tag", 1))
	p.Category("sideband", []string{"iso", "antiiso"})
	p.Columns([]string{"iso", "antiiso"}, a.isolationSideband)
	p.Cut("more_one_tau_cut", countAtLeast("Tau", 1))

	p.Column("muon_veto", a.vetoMuons)
	p.Column("electron_veto", a.vetoElectrons)
	p.Cut("loose_muon_veto", countIs("muon_veto", 0))
	p.Cut("loose_electron_veto", countIs("electron_veto", 0))

	p.Column("sum_ll", sumMuTau)
	if ds.IsMC {
		p.Column("sum_ll_gen", a.genDilepton)
	}
	p.Weight("muon_sfs", a.muonSFs(ds.IsMC))

	p.Cut("mass_window", a.massWindow)
	p.Column("dphi_mutau", dphiMuTau)
	p.Cut("dphi_min_cut", scalarCut("dphi_mutau", func(v float64) bool { return v > t.DPhiMin || v < -t.DPhiMin }))
	p.Column("dzeta", dzeta)
	p.Column("muon_mt", muonMT)
	p.Cut("dzeta_cut", scalarCut("dzeta", func(v float64) bool { return v > t.DZetaCut }))
	p.Cut("muon_mt_cut", scalarCut("muon_mt", func(v float64) bool { return v < t.MuonMtCut }))

	p.Category("control_region", []string{"OS", "SS"})
	p.Columns([]string{"OS", "SS"}, chargeRegion)

	p.Column("Jet_select", a.selectJets)
	p.Column("PfCands", a.selectPFCands)
	p.Column("Jet_lead_pfcand", a.leadPFCands)
	p.Column("Jet_select", a.jetDisplacement)
	p.Cut("has_jet", countAtLeast("Jet_select", 1))
	p.Column("Jet_select_lead", a.leadJet)

	p.Category("gen_match", []string{"gen-tau", "gen-other", "gen-all"}, "gen-all")
	p.Columns([]string{"gen-tau", "gen-other", "gen-all"}, genMatch(ds.IsMC))
	p.Weight("tauID_SFs", a.tauIDSFs(ds.IsMC))

	p.Cut("final_state", a.massWindow)
	return p, nil
}

// #endregion pipeline

// #region process
// Process runs the selection of ds on one chunk and fills the histograms of
// the surviving events for every category key.
func (a *Analysis) Process(ctx context.Context, ds config.Dataset, b *columnar.Batch) (*Result, error) {
	p, err := a.Pipeline(ds)
	if err != nil {
		return nil, err
	}
	sel, err := p.Run(ctx, b, selection.Options{Dataset: ds.Name, Logger: a.logger})
	if err != nil {
		return nil, err
	}
	acc := hist.NewAccumulator(a.registry)
	if err := a.fill(acc, ds.Name, sel); err != nil {
		return nil, err
	}
	return &Result{
		Dataset:   ds.Name,
		Cutflow:   sel.Cutflow(),
		Hists:     acc,
		EventsIn:  b.Len(),
		EventsOut: sel.Len(),
	}, nil
}

// fill fills every registered histogram per category. Histograms whose
// columns are absent (generator columns in data) are skipped.
func (a *Analysis) fill(acc *hist.Accumulator, dataset string, sel *selection.Selector) error {
	cats, err := sel.Categories()
	if err != nil {
		return err
	}
	cats = append([]selection.Category{{Key: selection.AllCategory}}, cats...)

	type weighting struct {
		suffix func(string) string
		w      []float64
	}
	ws := []weighting{{suffix: func(n string) string { return n }, w: sel.Weights().Nominal()}}
	if a.cfg.ComputeSystematics {
		for _, v := range sel.Weights().Variations() {
			up, down, _ := sel.Weights().Variation(v)
			v := v
			ws = append(ws,
				weighting{suffix: func(n string) string { return hist.VariationName(n, v, "up") }, w: up},
				weighting{suffix: func(n string) string { return hist.VariationName(n, v, "down") }, w: down},
			)
		}
	}

	b := sel.Batch()
defs:
	for _, def := range a.registry.Defs() {
		for _, c := range cats {
			for _, wt := range ws {
				k := hist.Key{Histogram: wt.suffix(def.Name), Dataset: dataset, Category: c.Key}
				err := acc.FillBatch(k, b, wt.w, c.Mask)
				if errors.Is(err, columnar.ErrMissingColumn) {
					a.logger.Debug("histogram skipped",
						zap.String("histogram", def.Name),
						zap.String("dataset", dataset),
						zap.Error(err),
					)
					continue defs
				}
				if err != nil {
					return fmt.Errorf("fill %s/%s: %w", def.Name, c.Key, err)
				}
			}
		}
	}
	return nil
}

// #endregion process
