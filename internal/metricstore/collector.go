package metricstore

import "github.com/prometheus/client_golang/prometheus"

// Describe implements prometheus.Collector. The store is an unchecked
// collector because metrics may be declared after registration.
func (s *Store) Describe(chan<- *prometheus.Desc) {}

// Collect implements prometheus.Collector, exposing every label as a gauge
// with a "market" label. NaN values are exported as NaN.
func (s *Store) Collect(ch chan<- prometheus.Metric) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for name, g := range s.metrics {
		desc := s.desc[name]
		for label, v := range g.values {
			ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, v, label)
		}
	}
}
