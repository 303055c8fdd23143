package handler

import (
	"context"
	"net/http"
	"slices"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/web3-frozen/overlay-monitor/internal/monitor"
	"github.com/web3-frozen/overlay-monitor/internal/store"
)

// PollerLister reports poller health.
type PollerLister interface {
	Statuses() []monitor.PollerStatus
	PollerNames() []string
}

// FailureLister reads the persisted poller failures.
type FailureLister interface {
	ListFailures(ctx context.Context, poller string, limit int) ([]store.PollerFailure, error)
}

func ListPollers(e PollerLister) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, e.Statuses())
	}
}

// ListPollerFailures serves the recent failures of the poller named in the
// route. Without a failure log it answers 404.
func ListPollerFailures(e PollerLister, s FailureLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")
		if !slices.Contains(e.PollerNames(), name) {
			http.Error(w, `{"error":"unknown poller"}`, http.StatusNotFound)
			return
		}
		if s == nil {
			http.Error(w, `{"error":"failure log not configured"}`, http.StatusNotFound)
			return
		}

		failures, err := s.ListFailures(r.Context(), name, limitParam(r, 50, 500))
		if err != nil {
			http.Error(w, `{"error":"failed to list failures"}`, http.StatusInternalServerError)
			return
		}
		if failures == nil {
			failures = []store.PollerFailure{}
		}
		writeJSON(w, http.StatusOK, failures)
	}
}

func limitParam(r *http.Request, def, upper int) int {
	if v := r.URL.Query().Get("limit"); v != "" {
		if l, err := strconv.Atoi(v); err == nil && l > 0 && l <= upper {
			return l
		}
	}
	return def
}
