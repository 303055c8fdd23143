package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/web3-frozen/overlay-monitor/internal/alert"
	"github.com/web3-frozen/overlay-monitor/internal/metrics"
)

// State is the lifecycle state of a Poller.
type State int

const (
	StateStarting State = iota
	StateRunning
	StateDegraded
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateDegraded:
		return "degraded"
	case StateStopped:
		return "stopped"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// MarshalText renders the state name in JSON.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Failure is the message a poller sends its supervisor when a step fails.
type Failure struct {
	Poller    string
	Iteration int64
	Step      string
	Err       error
	Stack     string
	At        time.Time
}

// Degrader marks metrics as unknown.
type Degrader interface {
	SetDegraded(metric string)
}

// Evaluator checks alert rules for a set of metrics.
type Evaluator interface {
	Evaluate(ctx context.Context, metrics ...string) []alert.Notification
}

// PollerStatus is a point-in-time view of a poller.
type PollerStatus struct {
	Name        string    `json:"name"`
	State       State     `json:"state"`
	Iteration   int64     `json:"iteration"`
	Failures    int64     `json:"failures"`
	LastError   string    `json:"last_error,omitempty"`
	LastSuccess time.Time `json:"last_success,omitzero"`
	Metrics     []string  `json:"metrics"`
}

// Poller runs one Job forever: resync when starting or degraded, cycle when
// running, alert evaluation after every successful step.
type Poller struct {
	job           Job
	store         Degrader
	evaluator     Evaluator
	failures      chan<- Failure
	interval      time.Duration
	recoveryDelay time.Duration
	logger        *slog.Logger

	mu          sync.RWMutex
	state       State
	iteration   int64
	failed      int64
	lastErr     string
	lastSuccess time.Time
}

func newPoller(job Job, store Degrader, evaluator Evaluator, failures chan<- Failure, interval, recoveryDelay time.Duration, logger *slog.Logger) *Poller {
	return &Poller{
		job:           job,
		store:         store,
		evaluator:     evaluator,
		failures:      failures,
		interval:      interval,
		recoveryDelay: recoveryDelay,
		logger:        logger.With("poller", job.Name()),
		state:         StateStarting,
	}
}

// Name returns the job name.
func (p *Poller) Name() string { return p.job.Name() }

// State returns the current state.
func (p *Poller) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// Status returns a snapshot of the poller.
func (p *Poller) Status() PollerStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return PollerStatus{
		Name:        p.job.Name(),
		State:       p.state,
		Iteration:   p.iteration,
		Failures:    p.failed,
		LastError:   p.lastErr,
		LastSuccess: p.lastSuccess,
		Metrics:     p.job.Metrics(),
	}
}

func (p *Poller) setState(s State) {
	p.mu.Lock()
	prev := p.state
	p.state = s
	p.mu.Unlock()
	metrics.PollerState.WithLabelValues(p.job.Name()).Set(float64(s))
	if prev != s {
		p.logger.Info("poller state changed", "from", prev, "to", s)
	}
}

// Run blocks until ctx is cancelled. Steps in flight are not interrupted;
// cancellation takes effect at the next sleep.
func (p *Poller) Run(ctx context.Context) {
	defer p.setState(StateStopped)
	metrics.PollerState.WithLabelValues(p.job.Name()).Set(float64(StateStarting))

	for {
		step, fn := "cycle", p.job.Cycle
		if s := p.State(); s == StateStarting || s == StateDegraded {
			step, fn = "resync", p.job.Resync
		}

		p.mu.Lock()
		p.iteration++
		iteration := p.iteration
		p.mu.Unlock()

		start := time.Now()
		stack, err := p.safeStep(ctx, fn)
		metrics.PollDuration.WithLabelValues(p.job.Name()).Observe(time.Since(start).Seconds())

		if err != nil {
			if ctx.Err() != nil {
				return
			}
			metrics.PollTotal.WithLabelValues(p.job.Name(), step, "error").Inc()
			p.fail(ctx, Failure{
				Poller:    p.job.Name(),
				Iteration: iteration,
				Step:      step,
				Err:       err,
				Stack:     stack,
				At:        time.Now().UTC(),
			})
			if !sleep(ctx, p.recoveryDelay) {
				return
			}
			continue
		}

		metrics.PollTotal.WithLabelValues(p.job.Name(), step, "ok").Inc()
		metrics.PollLastSuccess.WithLabelValues(p.job.Name()).SetToCurrentTime()
		p.mu.Lock()
		p.lastSuccess = time.Now().UTC()
		p.mu.Unlock()
		p.setState(StateRunning)

		if p.evaluator != nil {
			p.evaluator.Evaluate(ctx, p.job.Metrics()...)
		}
		if !sleep(ctx, p.interval) {
			return
		}
	}
}

// safeStep runs one step, converting a panic into an error with its stack.
// Ordinary errors carry their wrap chain instead.
func (p *Poller) safeStep(ctx context.Context, fn func(context.Context) error) (stack string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
			stack = string(debug.Stack())
		}
	}()
	if err = fn(ctx); err != nil {
		stack = errorTrace(err)
	}
	return stack, err
}

// errorTrace lists each layer of a wrapped error with its concrete type,
// outermost first.
func errorTrace(err error) string {
	var b strings.Builder
	for depth := 0; err != nil; depth++ {
		if depth > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s%T: %v", strings.Repeat("  ", depth), err, err)
		err = errors.Unwrap(err)
	}
	return b.String()
}

// fail degrades the job's metrics before reporting, so the failure is
// visible in the store by the time the supervisor hears about it.
func (p *Poller) fail(ctx context.Context, f Failure) {
	for _, m := range p.job.Metrics() {
		p.store.SetDegraded(m)
	}

	p.mu.Lock()
	p.failed++
	p.lastErr = f.Err.Error()
	p.mu.Unlock()
	p.setState(StateDegraded)

	p.logger.Error("poll step failed", "step", f.Step, "iteration", f.Iteration, "error", f.Err)
	if p.failures == nil {
		return
	}
	select {
	case p.failures <- f:
	case <-ctx.Done():
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
