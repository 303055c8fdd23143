package monitor

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/web3-frozen/overlay-monitor/internal/aggregate"
	"github.com/web3-frozen/overlay-monitor/internal/event"
	"github.com/web3-frozen/overlay-monitor/internal/metricstore"
	"github.com/web3-frozen/overlay-monitor/internal/watermark"
)

// Resolver values live positions.
type Resolver interface {
	Resolve(ctx context.Context, positions []event.Position) ([]aggregate.Valued, error)
}

// UPnLJob recomputes unrealized PnL of every live position on each cycle.
type UPnLJob struct {
	builds   watermark.EventSource
	agg      *aggregate.Aggregator
	resolver Resolver
	store    *metricstore.Store
	pageSize int
	logger   *slog.Logger
}

// NewUPnLJob creates the UPnL job and declares its metrics.
func NewUPnLJob(builds watermark.EventSource, agg *aggregate.Aggregator, resolver Resolver, store *metricstore.Store, pageSize int, logger *slog.Logger) *UPnLJob {
	if pageSize <= 0 {
		pageSize = watermark.DefaultPageSize
	}
	labels := agg.Catalog().Labels()
	store.Declare(aggregate.MetricUPnL, "Unrealized PnL of live positions per market, in OVL.", labels...)
	store.Declare(aggregate.MetricCollateralRem, "Remaining collateral of live positions per market, in OVL.", labels...)
	store.Declare(aggregate.MetricUPnLPct, "Unrealized PnL as a fraction of remaining collateral per market.", labels...)
	return &UPnLJob{
		builds:   builds,
		agg:      agg,
		resolver: resolver,
		store:    store,
		pageSize: pageSize,
		logger:   logger.With("job", "upnl"),
	}
}

func (j *UPnLJob) Name() string { return "upnl" }

func (j *UPnLJob) Metrics() []string {
	return []string{aggregate.MetricUPnL, aggregate.MetricCollateralRem, aggregate.MetricUPnLPct}
}

// Resync is a full recompute.
func (j *UPnLJob) Resync(ctx context.Context) error { return j.Cycle(ctx) }

// Cycle fetches every build, values the live positions and overwrites the
// three UPnL metrics. With no live positions the metrics are NaN.
func (j *UPnLJob) Cycle(ctx context.Context) error {
	builds, err := watermark.FetchAll(ctx, j.builds, j.pageSize)
	if err != nil {
		return fmt.Errorf("fetch all builds: %w", err)
	}
	live, err := j.agg.LivePositions(builds)
	if err != nil {
		return fmt.Errorf("derive live positions: %w", err)
	}
	if len(live) == 0 {
		for _, m := range j.Metrics() {
			j.store.SetDegraded(m)
		}
		j.logger.Warn("no live positions", "builds", len(builds))
		return nil
	}

	valued, err := j.resolver.Resolve(ctx, live)
	if err != nil {
		return fmt.Errorf("resolve position values: %w", err)
	}
	out, err := j.agg.UPnL(valued)
	if err != nil {
		return fmt.Errorf("compute upnl: %w", err)
	}
	for _, m := range j.Metrics() {
		j.store.Apply(m, out[m], metricstore.Absolute)
	}

	j.logger.Info("upnl updated",
		"builds", len(builds),
		"live", len(live),
		"valued", len(valued),
		"upnl", out[aggregate.MetricUPnL][event.AllMarketsLabel],
	)
	return nil
}
