package store

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"

	"github.com/danielpatrickdp/stau-selection/internal/hist"
	"github.com/danielpatrickdp/stau-selection/internal/selection"
)

func tempDB(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNewStoreClosesOnSetupFailure(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	dir := t.TempDir()
	garbage := filepath.Join(dir, "garbage.db")
	if err := os.WriteFile(garbage, bytes.Repeat([]byte("not sqlite "), 512), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	for _, path := range []string{garbage, filepath.Join(dir, "missing", "runs.db")} {
		if s, err := NewStore(path); err == nil {
			s.Close()
			t.Fatalf("NewStore(%s) should fail", path)
		}
	}
}

func TestCreateAndFinishRun(t *testing.T) {
	s := tempDB(t)
	rec, err := s.CreateRun(`{"year":"ul2018"}`)
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if rec.RunID == "" || rec.Status != "running" {
		t.Fatalf("unexpected run %+v", rec)
	}
	if err := s.FinishRun(rec.RunID, "done"); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}
	got, err := s.GetRun(rec.RunID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Status != "done" || got.FinishedAt.IsZero() || got.ConfigJSON != `{"year":"ul2018"}` {
		t.Fatalf("unexpected stored run %+v", got)
	}
	if err := s.FinishRun("missing", "done"); err == nil {
		t.Fatal("expected error for unknown run")
	}
}

func TestListRunsNewestFirst(t *testing.T) {
	s := tempDB(t)
	first, _ := s.CreateRun("")
	time.Sleep(2 * time.Millisecond)
	second, _ := s.CreateRun("")

	runs, err := s.ListRuns(10)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 || runs[0].RunID != second.RunID || runs[1].RunID != first.RunID {
		t.Fatalf("unexpected order: %+v", runs)
	}
	if runs[1].ConfigJSON != "" {
		t.Fatalf("expected empty config, got %q", runs[1].ConfigJSON)
	}
}

func TestCutflowRoundTripKeepsOrder(t *testing.T) {
	s := tempDB(t)
	run, _ := s.CreateRun("")

	cf := selection.NewCutflow()
	cf.Append("all", selection.Entry{Name: selection.BeforeCuts, EventsIn: 10, EventsOut: 10, WeightIn: 10, WeightOut: 10})
	cf.Append("all", selection.Entry{Name: "Trigger", EventsIn: 10, EventsOut: 5, WeightIn: 10, WeightOut: 5})
	cf.Append("iso", selection.Entry{Name: "Trigger", EventsIn: 4, EventsOut: 2, WeightIn: 4, WeightOut: 2})
	cf.Append("antiiso", selection.Entry{Name: "Trigger", EventsIn: 6, EventsOut: 3, WeightIn: 6, WeightOut: 3})

	if err := s.SaveCutflow(run.RunID, "DY", cf); err != nil {
		t.Fatalf("SaveCutflow: %v", err)
	}
	// saving twice replaces
	if err := s.SaveCutflow(run.RunID, "DY", cf); err != nil {
		t.Fatalf("SaveCutflow again: %v", err)
	}
	got, err := s.LoadCutflow(run.RunID, "DY")
	if err != nil {
		t.Fatalf("LoadCutflow: %v", err)
	}
	if diff := cmp.Diff([]string{"all", "iso", "antiiso"}, got.Categories()); diff != "" {
		t.Fatalf("categories (-want +got):\n%s", diff)
	}
	for _, cat := range cf.Categories() {
		if diff := cmp.Diff(cf.Entries(cat), got.Entries(cat)); diff != "" {
			t.Fatalf("category %s (-want +got):\n%s", cat, diff)
		}
	}
	ds, err := s.CutflowDatasets(run.RunID)
	if err != nil || len(ds) != 1 || ds[0] != "DY" {
		t.Fatalf("CutflowDatasets = %v, %v", ds, err)
	}
}

func TestHistogramRoundTrip(t *testing.T) {
	s := tempDB(t)
	run, _ := s.CreateRun("")

	r, err := hist.NewRegistry(hist.Def{
		Name: "muon_pt",
		Axes: []hist.Axis{hist.Regular("pt", "", 4, 0, 100)},
		Fill: map[string]string{"pt": "Muon_tag.pt"},
	})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	acc := hist.NewAccumulator(r)
	k := hist.Key{Histogram: "muon_pt", Dataset: "DY", Category: "iso/OS"}
	if err := acc.Fill(k, map[string][]float64{"pt": {-1, 30, 30, 250}}, []float64{1, 0.5, 2, 3}); err != nil {
		t.Fatalf("Fill: %v", err)
	}
	if err := s.SaveHistograms(run.RunID, acc); err != nil {
		t.Fatalf("SaveHistograms: %v", err)
	}
	got, err := s.LoadHistograms(run.RunID)
	if err != nil {
		t.Fatalf("LoadHistograms: %v", err)
	}
	if len(got) != 1 || got[0].Key != k {
		t.Fatalf("unexpected buckets %+v", got)
	}
	want, _ := acc.Get(k)
	if diff := cmp.Diff(want, got[0].Hist); diff != "" {
		t.Fatalf("histogram (-want +got):\n%s", diff)
	}
}

func TestChunkLogFiltersFailures(t *testing.T) {
	s := tempDB(t)
	run, _ := s.CreateRun("")
	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, row := range []struct {
		chunk  int
		status string
		errTxt interface{}
	}{
		{0, "ok", nil},
		{1, "failed", "shape mismatch"},
	} {
		_, err := s.DB().Exec(
			`INSERT INTO chunk_log (run_id, dataset, chunk, attempt, status, events_in, events_out, error, created_at)
			 VALUES (?, 'DY', ?, 0, ?, 10, 3, ?, ?)`, run.RunID, row.chunk, row.status, row.errTxt, now)
		if err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	all, err := s.ChunkLog(run.RunID, false)
	if err != nil || len(all) != 2 {
		t.Fatalf("ChunkLog = %v, %v", all, err)
	}
	failed, err := s.ChunkLog(run.RunID, true)
	if err != nil || len(failed) != 1 || failed[0].Chunk != 1 || failed[0].Error != "shape mismatch" {
		t.Fatalf("failed chunks = %+v, %v", failed, err)
	}
}

func TestVectorEncoding(t *testing.T) {
	in := []float64{0, 1.5, -2.25, 1e300}
	if diff := cmp.Diff(in, decodeVector(encodeVector(in))); diff != "" {
		t.Fatalf("round trip (-want +got):\n%s", diff)
	}
	if len(decodeVector(nil)) != 0 {
		t.Fatal("expected empty vector")
	}
}
