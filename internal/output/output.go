// Package output writes the persisted artifacts of a run: cutflow tables,
// histogram JSON dumps, ROOT files and the histogram index.
package output

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/danielpatrickdp/stau-selection/internal/hist"
	"github.com/danielpatrickdp/stau-selection/internal/selection"
)

// File names inside the output directory.
const (
	CutflowFile         = "cutflows.json"
	WeightedCutflowFile = "cutflows_weighted.json"
	IndexFile           = "histograms.json"
	HistJSONDir         = "hists"
)

// DatasetCutflow pairs a dataset with its merged cutflow.
type DatasetCutflow struct {
	Dataset string
	Cutflow *selection.Cutflow
}

// #region cutflow
// WriteCutflows writes {dataset: {category: {step: value}}} with every level
// in recorded order, once with counts and once with weighted yields.
func WriteCutflows(dir string, flows []DatasetCutflow) error {
	counts := func(cf *selection.Cutflow, cat string) []selection.Named { return cf.Counts(cat) }
	yields := func(cf *selection.Cutflow, cat string) []selection.Named { return cf.Yields(cat) }
	if err := writeCutflow(filepath.Join(dir, CutflowFile), flows, counts); err != nil {
		return err
	}
	return writeCutflow(filepath.Join(dir, WeightedCutflowFile), flows, yields)
}

func writeCutflow(path string, flows []DatasetCutflow, values func(*selection.Cutflow, string) []selection.Named) error {
	var datasets orderedObject
	for _, f := range flows {
		var cats orderedObject
		for _, cat := range f.Cutflow.Categories() {
			var steps orderedObject
			for _, n := range values(f.Cutflow, cat) {
				steps.add(n.Name, n.Value)
			}
			cats.add(cat, steps)
		}
		datasets.add(f.Dataset, cats)
	}
	data, err := json.MarshalIndent(datasets, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return writeFile(path, data)
}

// ReadCutflowCounts reads a cutflows.json as plain maps, the way downstream
// tools index it: cutflow[dataset]["all"]["Before cuts"].
func ReadCutflowCounts(path string) (map[string]map[string]map[string]float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var out map[string]map[string]map[string]float64
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return out, nil
}

// #endregion cutflow

// #region hist-json
// WriteHistogramsJSON writes hists/<histogram>.json holding every bucket of
// that histogram, including variations, sorted by key.
func WriteHistogramsJSON(dir string, acc *hist.Accumulator) error {
	type bucket struct {
		Dataset  string     `json:"dataset"`
		Category string     `json:"category"`
		Hist     *hist.Hist `json:"hist"`
	}
	byName := map[string][]bucket{}
	var names []string
	for _, k := range acc.Keys() {
		h, _ := acc.Get(k)
		if _, ok := byName[k.Histogram]; !ok {
			names = append(names, k.Histogram)
		}
		byName[k.Histogram] = append(byName[k.Histogram], bucket{Dataset: k.Dataset, Category: k.Category, Hist: h})
	}
	for _, name := range names {
		data, err := json.MarshalIndent(byName[name], "", "  ")
		if err != nil {
			return fmt.Errorf("encode %s: %w", name, err)
		}
		if err := writeFile(filepath.Join(dir, HistJSONDir, fileStem(name)+".json"), data); err != nil {
			return err
		}
	}
	return nil
}

// #endregion hist-json

// #region root
// Index is the histogram file listing read by the plotter: parallel lists of
// keys and relative file names. Nominal keys are [histogram, category];
// variations add the variation as a third element.
type Index struct {
	Keys  [][]string
	Files []string
}

// MarshalJSON encodes the index as [[keys...], [files...]].
func (ix Index) MarshalJSON() ([]byte, error) {
	keys := ix.Keys
	if keys == nil {
		keys = [][]string{}
	}
	files := ix.Files
	if files == nil {
		files = []string{}
	}
	return json.Marshal([]any{keys, files})
}

// WriteROOT writes one ROOT file per (histogram, category) holding one TH1
// per dataset, then the index. Histograms with more than one axis are only
// available as JSON.
func WriteROOT(dir string, acc *hist.Accumulator) (Index, error) {
	type group struct{ histogram, category string }
	groups := map[group]map[string]*hist.Hist{}
	var order []group
	for _, k := range acc.Keys() {
		h, _ := acc.Get(k)
		if h.Dim() != 1 {
			continue
		}
		g := group{k.Histogram, k.Category}
		if _, ok := groups[g]; !ok {
			groups[g] = map[string]*hist.Hist{}
			order = append(order, g)
		}
		groups[g][k.Dataset] = h
	}
	sort.Slice(order, func(i, j int) bool {
		if order[i].histogram != order[j].histogram {
			return order[i].histogram < order[j].histogram
		}
		return order[i].category < order[j].category
	})

	var ix Index
	for _, g := range order {
		file := fileStem(g.histogram) + "_" + fileStem(g.category) + ".root"
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return Index{}, fmt.Errorf("mkdir %s: %w", dir, err)
		}
		if err := hist.WriteROOT(filepath.Join(dir, file), groups[g]); err != nil {
			return Index{}, err
		}
		key := []string{g.histogram, g.category}
		if base, variation, ok := strings.Cut(g.histogram, ":"); ok {
			key = []string{base, g.category, variation}
		}
		ix.Keys = append(ix.Keys, key)
		ix.Files = append(ix.Files, file)
	}
	data, err := json.MarshalIndent(ix, "", "  ")
	if err != nil {
		return Index{}, fmt.Errorf("encode index: %w", err)
	}
	if err := writeFile(filepath.Join(dir, IndexFile), data); err != nil {
		return Index{}, err
	}
	return ix, nil
}

// #endregion root

// #region helpers
// orderedObject is a JSON object that keeps insertion order.
type orderedObject struct {
	keys   []string
	values []any
}

func (o *orderedObject) add(k string, v any) {
	o.keys = append(o.keys, k)
	o.values = append(o.values, v)
}

func (o orderedObject) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range o.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		vb, err := json.Marshal(o.values[i])
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// fileStem turns a histogram or category key into a file name part.
func fileStem(s string) string {
	return strings.NewReplacer("/", "_", ":", "_", " ", "_").Replace(s)
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// #endregion helpers
