package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/web3-frozen/overlay-monitor/internal/aggregate"
	"github.com/web3-frozen/overlay-monitor/internal/alert"
	"github.com/web3-frozen/overlay-monitor/internal/metricstore"
	"github.com/web3-frozen/overlay-monitor/internal/monitor"
	"github.com/web3-frozen/overlay-monitor/internal/store"
)

var testLogger = slog.New(slog.NewJSONHandler(io.Discard, nil))

func TestHealth(t *testing.T) {
	rec := httptest.NewRecorder()
	Health().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Errorf("status = %d body = %s", rec.Code, rec.Body.String())
	}
}

type readyFlag bool

func (r readyFlag) Ready() bool { return bool(r) }

type pingFunc func(context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestReady(t *testing.T) {
	ok := pingFunc(func(context.Context) error { return nil })
	down := pingFunc(func(context.Context) error { return errors.New("connection refused") })

	tests := []struct {
		name       string
		engine     ReadyReporter
		deps       map[string]Pinger
		wantStatus int
		wantBody   string
	}{
		{"all ready", readyFlag(true), map[string]Pinger{"database": ok}, http.StatusOK, "ready"},
		{"pollers degraded", readyFlag(false), nil, http.StatusServiceUnavailable, "pollers"},
		{"database down", readyFlag(true), map[string]Pinger{"database": down, "redis": nil}, http.StatusServiceUnavailable, "connection refused"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			Ready(tt.engine, tt.deps).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if !strings.Contains(rec.Body.String(), tt.wantBody) {
				t.Errorf("body = %s, want %q", rec.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestMetricsSnapshotRendersNaNAsNull(t *testing.T) {
	s := metricstore.New()
	s.Declare("ovl_token_minted", "", "LINK / USD", "ALL")
	s.Apply("ovl_token_minted", map[string]float64{"LINK / USD": 2.5, "ALL": 2.5}, metricstore.Absolute)
	s.Declare("upnl_pct", "", "LINK / USD", "ALL")

	rec := httptest.NewRecorder()
	MetricsSnapshot(s).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var got []struct {
		Metric   string              `json:"metric"`
		Degraded bool                `json:"degraded"`
		Values   map[string]*float64 `json:"values"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	for _, m := range got {
		switch m.Metric {
		case "ovl_token_minted":
			if v := m.Values["ALL"]; v == nil || *v != 2.5 {
				t.Errorf("minted ALL = %v, want 2.5", v)
			}
		case "upnl_pct":
			if v, ok := m.Values["ALL"]; !ok || v != nil {
				t.Errorf("upnl_pct ALL = %v, want null", v)
			}
		}
	}
}

func TestMetricsSnapshotFilter(t *testing.T) {
	s := metricstore.New()
	s.Declare("upnl", "", "ALL")
	s.SetDegraded("upnl")

	rec := httptest.NewRecorder()
	MetricsSnapshot(s).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/metrics?metric=upnl", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"degraded":true`) {
		t.Errorf("status = %d body = %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	MetricsSnapshot(s).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/metrics?metric=tvl", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown metric status = %d, want 404", rec.Code)
	}
}

func TestListMarkets(t *testing.T) {
	c := aggregate.NewCatalog(map[string]string{
		"0x1067b7df86552a53d816ce3fed50d6d01310b48f": "SOL / USD",
		"0x02e5938904014901c96f534b063ec732ea3b48d5": "LINK / USD",
	})
	rec := httptest.NewRecorder()
	ListMarkets(c).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/markets", nil))

	body := rec.Body.String()
	if rec.Code != http.StatusOK || strings.Index(body, "LINK / USD") > strings.Index(body, "SOL / USD") {
		t.Errorf("status = %d body = %s", rec.Code, body)
	}
}

type idleJob struct{ name string }

func (j idleJob) Name() string                 { return j.name }
func (j idleJob) Metrics() []string            { return []string{j.name + "_metric"} }
func (j idleJob) Resync(context.Context) error { return nil }
func (j idleJob) Cycle(context.Context) error  { return nil }

type fakeFailures struct {
	rows []store.PollerFailure
	err  error
}

func (f *fakeFailures) ListFailures(_ context.Context, poller string, limit int) ([]store.PollerFailure, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []store.PollerFailure
	for _, r := range f.rows {
		if r.Poller == poller && len(out) < limit {
			out = append(out, r)
		}
	}
	return out, nil
}

func TestListPollers(t *testing.T) {
	e := monitor.NewEngine(metricstore.New(), nil, nil, testLogger, monitor.Options{})
	e.Register(idleJob{"mint"})

	rec := httptest.NewRecorder()
	ListPollers(e).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/pollers", nil))
	body := rec.Body.String()
	if rec.Code != http.StatusOK || !strings.Contains(body, `"name":"mint"`) || !strings.Contains(body, `"state":"starting"`) {
		t.Errorf("status = %d body = %s", rec.Code, body)
	}
}

func TestListPollerFailures(t *testing.T) {
	e := monitor.NewEngine(metricstore.New(), nil, nil, testLogger, monitor.Options{})
	e.Register(idleJob{"mint"})
	failures := &fakeFailures{rows: []store.PollerFailure{
		{Poller: "mint", Iteration: 3, Step: "cycle", Message: "indexer unavailable", OccurredAt: time.Now()},
		{Poller: "upnl", Iteration: 1, Step: "resync", Message: "rpc down", OccurredAt: time.Now()},
	}}

	r := chi.NewRouter()
	r.Get("/api/pollers/{name}/failures", ListPollerFailures(e, failures))

	tests := []struct {
		path       string
		wantStatus int
		wantBody   string
	}{
		{"/api/pollers/mint/failures", http.StatusOK, "indexer unavailable"},
		{"/api/pollers/nope/failures", http.StatusNotFound, "unknown poller"},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
		if rec.Code != tt.wantStatus || !strings.Contains(rec.Body.String(), tt.wantBody) {
			t.Errorf("%s: status = %d body = %s", tt.path, rec.Code, rec.Body.String())
		}
		if strings.Contains(rec.Body.String(), "rpc down") {
			t.Errorf("%s: leaked another poller's failures", tt.path)
		}
	}

	r = chi.NewRouter()
	r.Get("/api/pollers/{name}/failures", ListPollerFailures(e, nil))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/pollers/mint/failures", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("no failure log: status = %d, want 404", rec.Code)
	}
}

type fakeNotifications struct {
	rows []alert.Notification
	err  error
	got  int
}

func (f *fakeNotifications) ListNotifications(_ context.Context, limit int) ([]alert.Notification, error) {
	f.got = limit
	return f.rows, f.err
}

func TestListNotifications(t *testing.T) {
	log := &fakeNotifications{rows: []alert.Notification{
		{Level: alert.Red, Rule: "poller_failure", Label: "mint", Value: math.NaN()},
		{Level: alert.Orange, Rule: "upnl_drawdown", Metric: "upnl_pct", Label: "ALL", Value: -0.3},
	}}

	rec := httptest.NewRecorder()
	ListNotifications(log).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/notifications?limit=10", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	if log.got != 10 {
		t.Errorf("limit = %d, want 10", log.got)
	}
	body := rec.Body.String()
	if !strings.Contains(body, `"value":null`) || !strings.Contains(body, `"value":-0.3`) {
		t.Errorf("body = %s", body)
	}

	log.err = errors.New("db down")
	rec = httptest.NewRecorder()
	ListNotifications(log).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/notifications?limit=1000", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("db error status = %d, want 500", rec.Code)
	}
	if log.got != 50 {
		t.Errorf("out of range limit = %d, want default 50", log.got)
	}
}

func TestListRules(t *testing.T) {
	e := alert.NewEngine(metricstore.New(), nil, alert.DefaultRules(), testLogger)

	rec := httptest.NewRecorder()
	ListRules(e).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/rules", nil))

	var got []ruleView
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != len(alert.DefaultRules()) {
		t.Fatalf("len = %d, want %d", len(got), len(alert.DefaultRules()))
	}
	if got[0].Name != "upnl_drawdown" || got[0].Condition != "upnl_pct < -0.25" {
		t.Errorf("first rule = %+v", got[0])
	}
}
