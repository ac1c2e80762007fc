package calib

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"
)

// #region helpers
func muonTable() *Table {
	return &Table{
		Name: "muon_id",
		Dims: []Dim{
			{Label: "abseta", Edges: []float64{0, 1.2, 2.4}},
			{Label: "pt", Edges: []float64{20, 50, 200}},
		},
		Values: []float64{0.9, 0.95, 0.8, 0.85},
		Up:     []float64{0.92, 0.97, 0.82, 0.87},
		Down:   []float64{0.88, 0.93, 0.78, 0.83},
		Variations: map[string][]float64{
			"stat up": {1, 1, 1, 1},
		},
	}
}

func bufProvider(t *testing.T, p Provider) *RemoteProvider {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	NewServer(p).Register(srv)
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial bufnet: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return NewRemoteProviderWithConn(conn)
}

// #endregion helpers

// #region table
func TestTableEvalBinsAndClamps(t *testing.T) {
	tab := muonTable()
	if err := tab.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	got, err := tab.Eval(map[string][]float64{
		"abseta": {0.5, 1.5, 3.0, -1, 1.2},
		"pt":     {30, 60, 500, 10, 20},
	}, "")
	if err != nil {
		t.Fatalf("eval: %v", err)
	}
	want := []float64{0.9, 0.85, 0.85, 0.9, 0.8}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("row %d: got %v, want %v", i, got[i], want[i])
		}
	}
}

func TestTableEvalVariations(t *testing.T) {
	tab := muonTable()
	vars := map[string][]float64{"abseta": {0.1}, "pt": {25}}
	for variation, want := range map[string]float64{"up": 0.92, "down": 0.88, "stat up": 1, "nom": 0.9} {
		got, err := tab.Eval(vars, variation)
		if err != nil {
			t.Fatalf("%s: %v", variation, err)
		}
		if got[0] != want {
			t.Errorf("%s: got %v, want %v", variation, got[0], want)
		}
	}
	if _, err := tab.Eval(vars, "syst up"); !errors.Is(err, ErrMissingCalibration) {
		t.Errorf("unknown variation: got %v, want ErrMissingCalibration", err)
	}
}

func TestTableEvalRejectsBadInputs(t *testing.T) {
	tab := muonTable()
	if _, err := tab.Eval(map[string][]float64{"abseta": {1}}, ""); !errors.Is(err, ErrBadVariable) {
		t.Errorf("missing dim: got %v", err)
	}
	if _, err := tab.Eval(map[string][]float64{"abseta": {1}, "pt": {1, 2}}, ""); !errors.Is(err, ErrBadVariable) {
		t.Errorf("ragged inputs: got %v", err)
	}
}

func TestValidateRejectsWrongSizes(t *testing.T) {
	tab := muonTable()
	tab.Up = []float64{1}
	if err := tab.Validate(); err == nil {
		t.Fatal("expected size error")
	}
	tab = muonTable()
	tab.Dims[0].Edges = []float64{2, 1}
	if err := tab.Validate(); err == nil {
		t.Fatal("expected edge order error")
	}
}

func TestLoadTablesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tables.yaml")
	doc := `tables:
  - name: dy_jet_reweight
    dims:
      - label: njets
        edges: [0, 1, 2, 3, 4, 5]
    values: [1.0, 1.1, 1.2, 1.3, 1.4]
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	set, err := LoadTables(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	got, err := set.Lookup(context.Background(), "dy_jet_reweight", map[string][]float64{"njets": {0, 2, 9}}, "")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	want := []float64{1.0, 1.2, 1.4}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("row %d: got %v, want %v", i, got[i], want[i])
		}
	}
	if _, err := set.Lookup(context.Background(), "pileup", nil, ""); !errors.Is(err, ErrMissingCalibration) {
		t.Errorf("missing table: got %v", err)
	}
}

// #endregion table

// #region remote
func TestRemoteProviderRoundTrip(t *testing.T) {
	set, err := NewTableSet(muonTable())
	if err != nil {
		t.Fatal(err)
	}
	remote := bufProvider(t, set)
	ctx := context.Background()

	labels, err := remote.Describe(ctx, "muon_id")
	if err != nil {
		t.Fatalf("describe: %v", err)
	}
	if len(labels) != 2 || labels[0] != "abseta" || labels[1] != "pt" {
		t.Errorf("labels: got %v", labels)
	}

	got, err := remote.Lookup(ctx, "muon_id", map[string][]float64{"abseta": {0.5, 2.0}, "pt": {30, 30}}, "up")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if len(got) != 2 || got[0] != 0.92 || got[1] != 0.82 {
		t.Errorf("values: got %v", got)
	}
}

func TestRemoteProviderMapsErrors(t *testing.T) {
	set, _ := NewTableSet(muonTable())
	remote := bufProvider(t, set)
	ctx := context.Background()

	if _, err := remote.Lookup(ctx, "electron_id", nil, ""); !errors.Is(err, ErrMissingCalibration) {
		t.Errorf("unknown table: got %v", err)
	}
	if _, err := remote.Describe(ctx, "electron_id"); !errors.Is(err, ErrMissingCalibration) {
		t.Errorf("unknown describe: got %v", err)
	}
	if _, err := remote.Lookup(ctx, "muon_id", map[string][]float64{"pt": {1}}, ""); !errors.Is(err, ErrBadVariable) {
		t.Errorf("bad vars: got %v", err)
	}
}

// #endregion remote
