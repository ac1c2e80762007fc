package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestChunkAndEventCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.Chunk("DY", StatusOK, 10*time.Millisecond)
	m.Chunk("DY", StatusOK, 20*time.Millisecond)
	m.Chunk("DY", StatusFailed, time.Millisecond)
	m.Events("DY", 100, 7)
	m.Events("DY", 50, 3)
	m.Merged()

	if got := testutil.ToFloat64(m.chunks.WithLabelValues("DY", StatusOK)); got != 2 {
		t.Errorf("ok chunks = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.chunks.WithLabelValues("DY", StatusFailed)); got != 1 {
		t.Errorf("failed chunks = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.events.WithLabelValues("DY", "in")); got != 150 {
		t.Errorf("events in = %v, want 150", got)
	}
	if got := testutil.ToFloat64(m.events.WithLabelValues("DY", "out")); got != 10 {
		t.Errorf("events out = %v, want 10", got)
	}
	if got := testutil.ToFloat64(m.merges); got != 1 {
		t.Errorf("merges = %v, want 1", got)
	}

	want := `
# HELP stau_merge_total Chunk results merged into dataset results
# TYPE stau_merge_total counter
stau_merge_total 1
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(want), "stau_merge_total"); err != nil {
		t.Fatal(err)
	}
	if n := testutil.CollectAndCount(m.duration); n != 1 {
		t.Errorf("duration collectors = %d, want 1", n)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.Chunk("DY", StatusOK, time.Second)
	m.Events("DY", 1, 1)
	m.Merged()
}

func TestDoubleRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	defer func() {
		if recover() == nil {
			t.Fatal("expected duplicate registration to panic")
		}
	}()
	New(reg)
}
