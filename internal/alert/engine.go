package alert

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/web3-frozen/overlay-monitor/internal/metrics"
)

// Notifier delivers notifications. Delivery errors are logged by the caller.
type Notifier interface {
	Send(ctx context.Context, n Notification) error
}

// MetricReader is the read side of the metric store.
type MetricReader interface {
	Metrics() []string
	Labels(metric string) []string
	Values(metric string) map[string]float64
}

// Cooldown suppresses repeated notifications for a condition that stays tripped.
type Cooldown interface {
	AlreadySent(ctx context.Context, key string) (bool, error)
	Record(ctx context.Context, key string, ttl time.Duration)
	Clear(ctx context.Context, key string)
}

// Log persists dispatched notifications.
type Log interface {
	InsertNotification(ctx context.Context, n Notification) error
}

// Engine evaluates rules against the metric store, one label at a time.
type Engine struct {
	store    MetricReader
	notifier Notifier
	logger   *slog.Logger

	mu    sync.RWMutex
	rules []Rule

	cooldown    Cooldown
	cooldownTTL time.Duration
	log         Log
	now         func() time.Time
}

// NewEngine creates an Engine with the given rules.
func NewEngine(store MetricReader, notifier Notifier, rules []Rule, logger *slog.Logger) *Engine {
	return &Engine{
		store:    store,
		notifier: notifier,
		rules:    append([]Rule(nil), rules...),
		logger:   logger.With("component", "alert"),
		now:      time.Now,
	}
}

// WithCooldown suppresses re-sends of a tripped (rule, label) within ttl.
// The key is cleared as soon as the condition evaluates false.
func (e *Engine) WithCooldown(c Cooldown, ttl time.Duration) *Engine {
	e.cooldown = c
	e.cooldownTTL = ttl
	return e
}

// WithLog persists every dispatched notification.
func (e *Engine) WithLog(l Log) *Engine {
	e.log = l
	return e
}

// Rules returns a copy of the active rules.
func (e *Engine) Rules() []Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]Rule(nil), e.rules...)
}

// SetRules replaces the active rules.
func (e *Engine) SetRules(rules []Rule) {
	e.mu.Lock()
	e.rules = append([]Rule(nil), rules...)
	e.mu.Unlock()
}

// Evaluate checks every rule bound to one of the given metrics against each
// label of that metric and dispatches the ones that trip. It returns the
// notifications that were delivered. Evaluation errors skip the affected
// label only.
func (e *Engine) Evaluate(ctx context.Context, metricNames ...string) []Notification {
	wanted := make(map[string]struct{}, len(metricNames))
	for _, m := range metricNames {
		wanted[m] = struct{}{}
	}

	var sent []Notification
	for _, rule := range e.Rules() {
		if _, ok := wanted[rule.Metric]; !ok {
			continue
		}
		for _, label := range e.store.Labels(rule.Metric) {
			snap := e.snapshot(rule.Metric, label)
			tripped, err := rule.Condition.Eval(snap)
			if err != nil {
				metrics.AlertEvalErrorsTotal.WithLabelValues(rule.Name).Inc()
				e.logger.Warn("rule evaluation failed",
					"rule", rule.Name, "metric", rule.Metric, "label", label, "error", err)
				continue
			}

			key := fmt.Sprintf("alert:%s:%s:%s", rule.Name, rule.Metric, label)
			if !tripped {
				if e.cooldown != nil {
					e.cooldown.Clear(ctx, key)
				}
				continue
			}
			if e.cooldown != nil {
				seen, err := e.cooldown.AlreadySent(ctx, key)
				if err != nil {
					metrics.AlertCooldownErrorsTotal.Inc()
					e.logger.Warn("cooldown check failed, sending anyway", "rule", rule.Name, "label", label, "error", err)
				}
				if seen {
					metrics.AlertsDeduplicatedTotal.WithLabelValues(rule.Name, string(rule.Level)).Inc()
					continue
				}
			}

			n := Notification{
				Level:     rule.Level,
				Rule:      rule.Name,
				Condition: rule.Condition.String(),
				Metric:    rule.Metric,
				Label:     label,
				Value:     snap.Value(),
				Message:   rule.Message,
				At:        e.now().UTC(),
			}
			if !e.dispatch(ctx, n) {
				continue
			}
			if e.cooldown != nil {
				e.cooldown.Record(ctx, key, e.cooldownTTL)
			}
			sent = append(sent, n)
		}
	}
	return sent
}

// Dispatch delivers a notification that did not come from a rule, such as a
// poller failure summary.
func (e *Engine) Dispatch(ctx context.Context, n Notification) {
	if n.At.IsZero() {
		n.At = e.now().UTC()
	}
	e.dispatch(ctx, n)
}

func (e *Engine) dispatch(ctx context.Context, n Notification) bool {
	ok := true
	if err := e.notifier.Send(ctx, n); err != nil {
		ok = false
		metrics.AlertsFailedTotal.WithLabelValues(n.Rule, string(n.Level)).Inc()
		e.logger.Error("send notification failed", "rule", n.Rule, "label", n.Label, "error", err)
	} else {
		metrics.AlertsSentTotal.WithLabelValues(n.Rule, string(n.Level)).Inc()
		e.logger.Info("notification sent", "rule", n.Rule, "level", n.Level, "metric", n.Metric, "label", n.Label, "value", n.Value)
	}

	if e.log != nil {
		if err := e.log.InsertNotification(ctx, n); err != nil {
			e.logger.Error("persist notification failed", "rule", n.Rule, "error", err)
		}
	}
	return ok
}

// snapshot collects every metric value at label. NaN values are kept so
// comparisons against degraded metrics evaluate false.
func (e *Engine) snapshot(metric, label string) Snapshot {
	values := make(map[string]float64)
	for _, name := range e.store.Metrics() {
		if v, ok := e.store.Values(name)[label]; ok {
			values[name] = v
		}
	}
	if _, ok := values[metric]; !ok {
		values[metric] = math.NaN()
	}
	return Snapshot{Metric: metric, Label: label, Values: values}
}
