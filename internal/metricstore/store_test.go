package metricstore

import (
	"math"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

var labels = []string{"LINK / USD", "SOL / USD", "APE / USD", "ALL"}

func TestGetUnknownIsNaN(t *testing.T) {
	s := New()
	if !math.IsNaN(s.Get("nope", "ALL")) {
		t.Error("unknown metric should be NaN")
	}
	s.Declare("ovl_token_minted", "minted", labels...)
	if !math.IsNaN(s.Get("ovl_token_minted", "LINK / USD")) {
		t.Error("declared but unwritten label should be NaN")
	}
	if !math.IsNaN(s.Get("ovl_token_minted", "BTC / USD")) {
		t.Error("unknown label should be NaN")
	}
}

func TestApplyAbsoluteWritesEveryLabel(t *testing.T) {
	s := New()
	s.Declare("m", "", labels...)
	s.Apply("m", map[string]float64{"LINK / USD": 2, "ALL": 2}, Absolute)

	tests := map[string]float64{"LINK / USD": 2, "SOL / USD": 0, "APE / USD": 0, "ALL": 2}
	for label, want := range tests {
		if got := s.Get("m", label); got != want {
			t.Errorf("%s = %v, want %v", label, got, want)
		}
	}
}

func TestApplyIncrementalKeepsAllConsistent(t *testing.T) {
	s := New()
	s.Declare("m", "", labels...)
	s.Apply("m", map[string]float64{"LINK / USD": 1, "SOL / USD": 1, "APE / USD": 1, "ALL": 3}, Absolute)
	s.Apply("m", map[string]float64{"LINK / USD": 2.5, "ALL": 2.5}, Incremental)

	if got := s.Get("m", "ALL"); got != 5.5 {
		t.Errorf("ALL = %v, want 5.5", got)
	}
	if got := s.Get("m", "LINK / USD"); got != 3.5 {
		t.Errorf("LINK = %v, want 3.5", got)
	}

	var sum float64
	for _, l := range labels[:3] {
		sum += s.Get("m", l)
	}
	if sum != s.Get("m", "ALL") {
		t.Errorf("sum of markets %v != ALL %v", sum, s.Get("m", "ALL"))
	}
}

func TestApplyEmptyIncrementalIsNoop(t *testing.T) {
	s := New()
	s.Declare("m", "", labels...)
	s.Apply("m", map[string]float64{"LINK / USD": 1, "ALL": 1}, Absolute)
	before := s.Snapshot()

	s.Apply("m", map[string]float64{"ALL": 0}, Incremental)

	after := s.Snapshot()
	if len(before) != len(after) {
		t.Fatalf("snapshot length changed %d -> %d", len(before), len(after))
	}
	for i := range before {
		if before[i] != after[i] {
			t.Errorf("sample %d changed: %+v -> %+v", i, before[i], after[i])
		}
	}
}

func TestDegradedUntilAbsoluteApply(t *testing.T) {
	s := New()
	s.Declare("m", "", labels...)
	s.Apply("m", map[string]float64{"LINK / USD": 1, "ALL": 1}, Absolute)

	s.SetDegraded("m")
	if !s.Degraded("m") {
		t.Fatal("metric should be degraded")
	}
	for _, l := range labels {
		if !math.IsNaN(s.Get("m", l)) {
			t.Errorf("%s = %v, want NaN", l, s.Get("m", l))
		}
	}

	s.Apply("m", map[string]float64{"ALL": 0}, Incremental)
	if !s.Degraded("m") {
		t.Error("incremental apply should not clear degraded")
	}

	s.Apply("m", map[string]float64{"ALL": 4, "SOL / USD": 4}, Absolute)
	if s.Degraded("m") {
		t.Error("absolute apply should clear degraded")
	}
	if got := s.Get("m", "SOL / USD"); got != 4 {
		t.Errorf("SOL = %v, want 4", got)
	}
}

func TestIncrementFromNaN(t *testing.T) {
	s := New()
	s.Declare("m", "", "ALL")
	s.Increment("m", "ALL", 2)
	s.Increment("m", "ALL", 3)
	if got := s.Get("m", "ALL"); got != 5 {
		t.Errorf("ALL = %v, want 5", got)
	}
}

func TestLabelsAndMetricsOrder(t *testing.T) {
	s := New()
	s.Declare("b", "", labels...)
	s.Declare("a", "", "ALL")

	got := s.Labels("b")
	want := []string{"APE / USD", "LINK / USD", "SOL / USD", "ALL"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("Labels = %v, want %v", got, want)
	}
	if m := s.Metrics(); len(m) != 2 || m[0] != "a" || m[1] != "b" {
		t.Errorf("Metrics = %v, want [a b]", m)
	}
}

func TestConcurrentApply(t *testing.T) {
	s := New()
	s.Declare("m", "", labels...)
	s.Apply("m", map[string]float64{"ALL": 0}, Absolute)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			s.Apply("m", map[string]float64{"LINK / USD": 1, "ALL": 1}, Incremental)
		}()
		go func() {
			defer wg.Done()
			_ = s.Snapshot()
		}()
	}
	wg.Wait()

	if s.Get("m", "ALL") != 50 || s.Get("m", "LINK / USD") != 50 {
		t.Errorf("ALL=%v LINK=%v, want 50", s.Get("m", "ALL"), s.Get("m", "LINK / USD"))
	}
}

func TestCollectorExposesMarketLabel(t *testing.T) {
	s := New()
	s.Declare("ovl_token_minted", "OVL minted per market.", "LINK / USD", "ALL")
	s.Apply("ovl_token_minted", map[string]float64{"LINK / USD": 1.5, "ALL": 1.5}, Absolute)

	expected := `
# HELP ovl_token_minted OVL minted per market.
# TYPE ovl_token_minted gauge
ovl_token_minted{market="ALL"} 1.5
ovl_token_minted{market="LINK / USD"} 1.5
`
	if err := testutil.CollectAndCompare(s, strings.NewReader(expected)); err != nil {
		t.Error(err)
	}
}

func TestCollectorExportsNaN(t *testing.T) {
	s := New()
	s.Declare("upnl", "", "ALL")
	s.SetDegraded("upnl")

	reg := prometheus.NewRegistry()
	reg.MustRegister(s)
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if len(families) != 1 || len(families[0].GetMetric()) != 1 {
		t.Fatalf("unexpected families: %v", families)
	}
	if v := families[0].GetMetric()[0].GetGauge().GetValue(); !math.IsNaN(v) {
		t.Errorf("value = %v, want NaN", v)
	}
}
