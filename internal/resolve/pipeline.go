package resolve

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/web3-frozen/overlay-monitor/internal/aggregate"
	"github.com/web3-frozen/overlay-monitor/internal/event"
	"github.com/web3-frozen/overlay-monitor/internal/metrics"
)

// errMissingResult is recorded when a resolver returns fewer results than keys.
var errMissingResult = errors.New("resolver returned no result for key")

// Result is the outcome of resolving one position key.
type Result struct {
	Value *big.Int
	Err   error
}

// ValueResolver resolves position keys to their current value. Results are
// returned in key order; a failed key carries its own error without
// affecting the others.
type ValueResolver interface {
	ResolveBatch(ctx context.Context, keys []event.PositionKey) []Result
}

// Options tunes the pipeline.
type Options struct {
	BatchSize      int
	MaxAttempts    int
	RetryDelay     time.Duration
	BatchPause     time.Duration
	AttemptTimeout time.Duration
}

// DefaultOptions returns the production settings.
func DefaultOptions() Options {
	return Options{
		BatchSize:      50,
		MaxAttempts:    3,
		RetryDelay:     2 * time.Second,
		BatchPause:     5 * time.Second,
		AttemptTimeout: 30 * time.Second,
	}
}

// Pipeline resolves position values in fixed-size batches with per-item
// retry and pacing between batches.
type Pipeline struct {
	resolver ValueResolver
	agg      *aggregate.Aggregator
	opts     Options
	logger   *slog.Logger
}

// New creates a Pipeline. Zero option fields fall back to the defaults.
func New(resolver ValueResolver, agg *aggregate.Aggregator, opts Options, logger *slog.Logger) *Pipeline {
	def := DefaultOptions()
	if opts.BatchSize <= 0 {
		opts.BatchSize = def.BatchSize
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = def.MaxAttempts
	}
	return &Pipeline{
		resolver: resolver,
		agg:      agg,
		opts:     opts,
		logger:   logger.With("component", "resolve"),
	}
}

// Resolve values every position. Positions that still fail after the retry
// budget are logged and left out of the result. Calls already in flight are
// never cancelled; ctx is observed at batch pauses and retry delays, in
// which case the values resolved so far are returned together with ctx.Err().
func (p *Pipeline) Resolve(ctx context.Context, positions []event.Position) ([]aggregate.Valued, error) {
	out := make([]aggregate.Valued, 0, len(positions))
	for start := 0; start < len(positions); start += p.opts.BatchSize {
		if start > 0 {
			if err := pause(ctx, p.opts.BatchPause); err != nil {
				return out, err
			}
		}
		end := min(start+p.opts.BatchSize, len(positions))
		out = append(out, p.resolveBatch(ctx, positions[start:end])...)
	}
	return out, ctx.Err()
}

func (p *Pipeline) resolveBatch(ctx context.Context, batch []event.Position) []aggregate.Valued {
	keys := make([]event.PositionKey, len(batch))
	for i, pos := range batch {
		keys[i] = pos.PositionKey
	}

	start := time.Now()
	results := p.call(ctx, keys)
	metrics.ResolveBatchDuration.Observe(time.Since(start).Seconds())

	resolved := make([]*aggregate.Valued, len(batch))
	var failed []int
	for i, pos := range batch {
		r := Result{Err: errMissingResult}
		if i < len(results) {
			r = results[i]
		}
		if r.Err != nil || r.Value == nil {
			metrics.ResolveAttemptsTotal.WithLabelValues("error").Inc()
			failed = append(failed, i)
			continue
		}
		metrics.ResolveAttemptsTotal.WithLabelValues("ok").Inc()
		resolved[i] = &aggregate.Valued{Position: pos, Value: p.agg.Scale(r.Value)}
	}

	if len(failed) > 0 {
		var g errgroup.Group
		for _, i := range failed {
			i := i
			g.Go(func() error {
				v, ok := p.retry(ctx, batch[i])
				if ok {
					resolved[i] = v
				}
				return nil
			})
		}
		_ = g.Wait()
	}

	out := make([]aggregate.Valued, 0, len(batch))
	for _, v := range resolved {
		if v != nil {
			out = append(out, *v)
		}
	}
	return out
}

// retry resolves a single position, counting the batch call as the first
// attempt. It gives up without logging a drop when ctx ends during a delay.
func (p *Pipeline) retry(ctx context.Context, pos event.Position) (*aggregate.Valued, bool) {
	var lastErr error
	for attempt := 2; attempt <= p.opts.MaxAttempts; attempt++ {
		if err := pause(ctx, p.opts.RetryDelay); err != nil {
			return nil, false
		}

		results := p.call(ctx, []event.PositionKey{pos.PositionKey})
		r := Result{Err: errMissingResult}
		if len(results) > 0 {
			r = results[0]
		}
		if r.Err == nil && r.Value != nil {
			metrics.ResolveAttemptsTotal.WithLabelValues("ok").Inc()
			return &aggregate.Valued{Position: pos, Value: p.agg.Scale(r.Value)}, true
		}
		metrics.ResolveAttemptsTotal.WithLabelValues("error").Inc()
		lastErr = r.Err
	}

	metrics.ResolveDroppedTotal.Inc()
	p.logger.Warn("position value dropped",
		"market", pos.MarketID,
		"owner", pos.Owner,
		"position_id", pos.PositionID,
		"attempts", p.opts.MaxAttempts,
		"error", lastErr,
	)
	return nil, false
}

func (p *Pipeline) call(ctx context.Context, keys []event.PositionKey) []Result {
	callCtx := context.WithoutCancel(ctx)
	if p.opts.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(callCtx, p.opts.AttemptTimeout)
		defer cancel()
	}
	return p.resolver.ResolveBatch(callCtx, keys)
}

func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
