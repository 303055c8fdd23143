package handler

import (
	"net/http"

	"github.com/web3-frozen/overlay-monitor/internal/event"
)

// MetricReader is the read side of the metric store.
type MetricReader interface {
	Metrics() []string
	Values(metric string) map[string]float64
	Degraded(metric string) bool
}

type metricView struct {
	Metric   string              `json:"metric"`
	Degraded bool                `json:"degraded"`
	Values   map[string]*float64 `json:"values"`
}

// MetricsSnapshot serves the current value of every metric and market.
// Unknown values are null. ?metric= limits the output to one metric.
func MetricsSnapshot(s MetricReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		only := r.URL.Query().Get("metric")

		out := []metricView{}
		for _, m := range s.Metrics() {
			if only != "" && m != only {
				continue
			}
			values := s.Values(m)
			view := metricView{Metric: m, Degraded: s.Degraded(m), Values: make(map[string]*float64, len(values))}
			for label, v := range values {
				view.Values[label] = jsonFloat(v)
			}
			out = append(out, view)
		}

		if only != "" && len(out) == 0 {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown metric"})
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// MarketLister exposes the available market catalog.
type MarketLister interface {
	Markets() []event.Market
}

// ListMarkets serves the markets being aggregated.
func ListMarkets(c MarketLister) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		markets := c.Markets()
		if markets == nil {
			markets = []event.Market{}
		}
		writeJSON(w, http.StatusOK, markets)
	}
}
