package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/web3-frozen/overlay-monitor/internal/alert"
	"github.com/web3-frozen/overlay-monitor/internal/metrics"
)

const (
	defaultPollInterval  = 1 * time.Minute
	defaultRecoveryDelay = 10 * time.Second
)

// Dispatcher delivers notifications that are not produced by alert rules.
type Dispatcher interface {
	Dispatch(ctx context.Context, n alert.Notification)
}

// FailureLog persists poller failures.
type FailureLog interface {
	InsertFailure(ctx context.Context, poller string, iteration int64, step, message, stack string, at time.Time) error
}

// Options tunes the pollers started by the Engine.
type Options struct {
	PollInterval  time.Duration
	RecoveryDelay time.Duration
}

// Engine supervises one Poller per registered Job. Pollers report failures
// as typed messages; the engine logs, counts and persists each one and sends
// a single summary notification.
type Engine struct {
	store      Degrader
	evaluator  Evaluator
	dispatcher Dispatcher
	failureLog FailureLog
	logger     *slog.Logger
	opts       Options

	failures chan Failure
	pollers  map[string]*Poller
	mu       sync.RWMutex
}

// NewEngine creates a supervisor. evaluator and dispatcher may be nil.
func NewEngine(store Degrader, evaluator Evaluator, dispatcher Dispatcher, logger *slog.Logger, opts Options) *Engine {
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.RecoveryDelay <= 0 {
		opts.RecoveryDelay = defaultRecoveryDelay
	}
	return &Engine{
		store:      store,
		evaluator:  evaluator,
		dispatcher: dispatcher,
		logger:     logger.With("component", "monitor"),
		opts:       opts,
		failures:   make(chan Failure, 16),
		pollers:    make(map[string]*Poller),
	}
}

// WithFailureLog persists every poller failure.
func (e *Engine) WithFailureLog(l FailureLog) *Engine {
	e.failureLog = l
	return e
}

// Register adds a job to the engine. It must be called before Run.
func (e *Engine) Register(job Job) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pollers[job.Name()] = newPoller(job, e.store, e.evaluator, e.failures, e.opts.PollInterval, e.opts.RecoveryDelay, e.logger)
	e.logger.Info("registered job", "job", job.Name(), "metrics", job.Metrics())
}

// PollerNames returns the names of all registered pollers, sorted.
func (e *Engine) PollerNames() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	names := make([]string, 0, len(e.pollers))
	for n := range e.pollers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Statuses returns every poller's status, sorted by name.
func (e *Engine) Statuses() []PollerStatus {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]PollerStatus, 0, len(e.pollers))
	for _, p := range e.pollers {
		out = append(out, p.Status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Ready reports whether every poller has completed at least one step and
// none is degraded.
func (e *Engine) Ready() bool {
	for _, s := range e.Statuses() {
		if s.State != StateRunning {
			return false
		}
	}
	return true
}

// Run starts every poller and supervises them until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	e.mu.RLock()
	pollers := make([]*Poller, 0, len(e.pollers))
	for _, p := range e.pollers {
		pollers = append(pollers, p)
	}
	e.mu.RUnlock()

	var wg sync.WaitGroup
	for _, p := range pollers {
		p := p
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Run(ctx)
		}()
	}

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return
		case f := <-e.failures:
			e.handleFailure(ctx, f)
		}
	}
}

func (e *Engine) handleFailure(ctx context.Context, f Failure) {
	metrics.PollerFailuresTotal.WithLabelValues(f.Poller).Inc()
	e.logger.Error("poller failure",
		"poller", f.Poller,
		"iteration", f.Iteration,
		"step", f.Step,
		"error", f.Err,
		"stack", f.Stack,
	)

	if e.failureLog != nil {
		if err := e.failureLog.InsertFailure(ctx, f.Poller, f.Iteration, f.Step, f.Err.Error(), f.Stack, f.At); err != nil {
			e.logger.Error("persist failure failed", "poller", f.Poller, "error", err)
		}
	}

	if e.dispatcher == nil {
		return
	}
	var metricNames []string
	e.mu.RLock()
	if p, ok := e.pollers[f.Poller]; ok {
		metricNames = p.job.Metrics()
	}
	e.mu.RUnlock()

	e.dispatcher.Dispatch(ctx, alert.Notification{
		Level:     alert.Red,
		Rule:      "poller_failure",
		Condition: f.Step + " failed",
		Metric:    strings.Join(metricNames, ","),
		Label:     f.Poller,
		Message:   failureMessage(f),
		At:        f.At,
	})
}

func failureMessage(f Failure) string {
	msg := fmt.Sprintf("%s poller %s failed at iteration %d: %v. Metrics set to NaN until the next resync.",
		f.Poller, f.Step, f.Iteration, f.Err)
	if f.Stack != "" {
		msg += "\n\n" + firstLines(f.Stack, 8)
	}
	return msg
}

func firstLines(s string, n int) string {
	lines := strings.SplitN(s, "\n", n+1)
	if len(lines) > n {
		lines = lines[:n]
	}
	return strings.Join(lines, "\n")
}
