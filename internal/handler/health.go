package handler

import (
	"context"
	"encoding/json"
	"net/http"
)

// Pinger is a dependency checked by the readiness endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyReporter reports whether every poller is running.
type ReadyReporter interface {
	Ready() bool
}

func Health() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}
}

// Ready succeeds when every poller is running and every dependency answers
// a ping. Nil dependencies are skipped.
func Ready(engine ReadyReporter, deps map[string]Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		failed := map[string]string{}
		if engine != nil && !engine.Ready() {
			failed["pollers"] = "not running"
		}
		for name, d := range deps {
			if d == nil {
				continue
			}
			if err := d.Ping(r.Context()); err != nil {
				failed[name] = err.Error()
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if len(failed) > 0 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]any{"status": "not ready", "failed": failed})
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ready"}`))
	}
}
