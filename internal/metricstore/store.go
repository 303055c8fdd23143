package metricstore

import (
	"math"
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/web3-frozen/overlay-monitor/internal/event"
)

// Mode selects how Apply combines totals with the stored values.
type Mode int

const (
	// Absolute overwrites every declared label. Labels missing from the
	// totals are written as zero.
	Absolute Mode = iota
	// Incremental adds each total to its label.
	Incremental
)

func (m Mode) String() string {
	if m == Incremental {
		return "incremental"
	}
	return "absolute"
}

// Sample is one labeled metric value.
type Sample struct {
	Metric string  `json:"metric"`
	Label  string  `json:"label"`
	Value  float64 `json:"value"`
}

type gauge struct {
	help     string
	labels   []string
	values   map[string]float64
	degraded bool
}

// Store holds labeled gauges keyed by metric name and market label.
// It is safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	metrics map[string]*gauge
	desc    map[string]*prometheus.Desc
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		metrics: make(map[string]*gauge),
		desc:    make(map[string]*prometheus.Desc),
	}
}

// Declare registers a metric with its label set. Every label starts as NaN
// until the first write. Re-declaring a metric replaces its label set but
// keeps the values of labels that remain.
func (s *Store) Declare(metric, help string, labels ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.metrics[metric]
	if !ok {
		g = &gauge{values: make(map[string]float64)}
		s.metrics[metric] = g
	}
	g.help = help
	g.labels = append([]string(nil), labels...)
	for _, l := range labels {
		if _, ok := g.values[l]; !ok {
			g.values[l] = math.NaN()
		}
	}
	s.desc[metric] = prometheus.NewDesc(metric, help, []string{"market"}, nil)
}

func (s *Store) gauge(metric string) *gauge {
	g, ok := s.metrics[metric]
	if !ok {
		g = &gauge{values: make(map[string]float64)}
		s.metrics[metric] = g
		s.desc[metric] = prometheus.NewDesc(metric, metric, []string{"market"}, nil)
	}
	return g
}

// Set overwrites one label.
func (s *Store) Set(metric, label string, value float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gauge(metric).values[label] = value
}

// Increment adds delta to one label. A NaN label restarts from zero.
func (s *Store) Increment(metric, label string, delta float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g := s.gauge(metric)
	cur := g.values[label]
	if math.IsNaN(cur) {
		cur = 0
	}
	g.values[label] = cur + delta
}

// Get returns the value of one label, or NaN when it is unknown.
func (s *Store) Get(metric, label string) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.metrics[metric]
	if !ok {
		return math.NaN()
	}
	v, ok := g.values[label]
	if !ok {
		return math.NaN()
	}
	return v
}

// SetDegraded sets every label of the metric to NaN and marks it degraded
// until the next absolute Apply.
func (s *Store) SetDegraded(metric string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g := s.gauge(metric)
	for l := range g.values {
		g.values[l] = math.NaN()
	}
	for _, l := range g.labels {
		g.values[l] = math.NaN()
	}
	g.degraded = true
}

// Degraded reports whether the metric is currently degraded.
func (s *Store) Degraded(metric string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.metrics[metric]
	return ok && g.degraded
}

// Apply writes aggregated totals to a metric under a single lock, so readers
// never observe a partially applied batch.
func (s *Store) Apply(metric string, totals map[string]float64, mode Mode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g := s.gauge(metric)

	switch mode {
	case Absolute:
		for l := range g.values {
			g.values[l] = 0
		}
		for _, l := range g.labels {
			g.values[l] = 0
		}
		g.values[event.AllMarketsLabel] = 0
		for l, v := range totals {
			g.values[l] = v
		}
		g.degraded = false
	case Incremental:
		for l, v := range totals {
			cur := g.values[l]
			if math.IsNaN(cur) {
				cur = 0
			}
			g.values[l] = cur + v
		}
	}
}

// Labels returns the labels currently holding a value for the metric,
// sorted with "ALL" last.
func (s *Store) Labels(metric string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.metrics[metric]
	if !ok {
		return nil
	}
	return sortedLabels(g.values)
}

// Metrics returns every known metric name, sorted.
func (s *Store) Metrics() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.metrics))
	for n := range s.metrics {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Values returns a copy of every label of one metric.
func (s *Store) Values(metric string) map[string]float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.metrics[metric]
	if !ok {
		return nil
	}
	out := make(map[string]float64, len(g.values))
	for l, v := range g.values {
		out[l] = v
	}
	return out
}

// Snapshot returns every sample, ordered by metric then label.
func (s *Store) Snapshot() []Sample {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.metrics))
	for n := range s.metrics {
		names = append(names, n)
	}
	sort.Strings(names)

	var out []Sample
	for _, n := range names {
		g := s.metrics[n]
		for _, l := range sortedLabels(g.values) {
			out = append(out, Sample{Metric: n, Label: l, Value: g.values[l]})
		}
	}
	return out
}

func sortedLabels(values map[string]float64) []string {
	labels := make([]string, 0, len(values))
	hasAll := false
	for l := range values {
		if l == event.AllMarketsLabel {
			hasAll = true
			continue
		}
		labels = append(labels, l)
	}
	sort.Strings(labels)
	if hasAll {
		labels = append(labels, event.AllMarketsLabel)
	}
	return labels
}
