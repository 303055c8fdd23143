package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/web3-frozen/overlay-monitor/internal/aggregate"
	"github.com/web3-frozen/overlay-monitor/internal/metrics"
	"github.com/web3-frozen/overlay-monitor/internal/metricstore"
	"github.com/web3-frozen/overlay-monitor/internal/watermark"
)

// MetricMinted is the running OVL minted total per market.
const MetricMinted = "ovl_token_minted"

// MintJob keeps a running total of OVL minted by new positions. Resync
// rebuilds the total from the full feed; Cycle adds what arrived since the
// watermark.
type MintJob struct {
	source   watermark.EventSource
	agg      *aggregate.Aggregator
	store    *metricstore.Store
	pageSize int
	logger   *slog.Logger
	now      func() time.Time

	cursor *watermark.Cursor
	// seeded is false until a non-empty batch has been applied absolutely.
	seeded bool
}

// NewMintJob creates the mint job and declares its metric.
func NewMintJob(source watermark.EventSource, agg *aggregate.Aggregator, store *metricstore.Store, pageSize int, logger *slog.Logger) *MintJob {
	if pageSize <= 0 {
		pageSize = watermark.DefaultPageSize
	}
	store.Declare(MetricMinted, "Net OVL minted by positions per market.", agg.Catalog().Labels()...)
	return &MintJob{
		source:   source,
		agg:      agg,
		store:    store,
		pageSize: pageSize,
		logger:   logger.With("job", "mint"),
		now:      time.Now,
	}
}

func (j *MintJob) Name() string      { return "mint" }
func (j *MintJob) Metrics() []string { return []string{MetricMinted} }

// Resync re-reads the whole feed and overwrites the metric. An empty feed
// leaves the metric degraded and starts the watermark at now.
func (j *MintJob) Resync(ctx context.Context) error {
	start := j.now()
	records, err := watermark.FetchAll(ctx, j.source, j.pageSize)
	if err != nil {
		return fmt.Errorf("fetch all positions: %w", err)
	}
	totals, err := j.agg.Aggregate(records)
	if err != nil {
		return fmt.Errorf("aggregate positions: %w", err)
	}

	j.cursor = watermark.Seed(records, start)
	j.observeCursor()

	if len(records) == 0 {
		j.seeded = false
		j.store.SetDegraded(MetricMinted)
		j.logger.Warn("position feed is empty, metric stays NaN until the first record")
		return nil
	}
	j.store.Apply(MetricMinted, totals, metricstore.Absolute)
	j.seeded = true
	j.logger.Info("resync complete", "records", len(records), "lower", j.cursor.Lower(), "total", totals["ALL"])
	return nil
}

// Cycle adds the records created since the watermark.
func (j *MintJob) Cycle(ctx context.Context) error {
	if j.cursor == nil {
		return errors.New("cycle before resync")
	}

	start := j.now()
	records, err := watermark.FetchSince(ctx, j.source, j.cursor, j.pageSize)
	if err != nil {
		return fmt.Errorf("fetch positions since %d: %w", j.cursor.Lower(), err)
	}
	totals, err := j.agg.Aggregate(records)
	if err != nil {
		return fmt.Errorf("aggregate positions: %w", err)
	}

	switch {
	case !j.seeded && len(records) > 0:
		j.store.Apply(MetricMinted, totals, metricstore.Absolute)
		j.seeded = true
	case j.seeded:
		j.store.Apply(MetricMinted, totals, metricstore.Incremental)
	}

	lower, upper := j.cursor.Advance(records, start)
	j.observeCursor()
	j.logger.Debug("cycle complete", "records", len(records), "lower", lower, "upper", upper)
	return nil
}

// Cursor returns the current watermark bounds.
func (j *MintJob) Cursor() (lower, upper int64, ok bool) {
	if j.cursor == nil {
		return 0, 0, false
	}
	return j.cursor.Lower(), j.cursor.Upper(), true
}

func (j *MintJob) observeCursor() {
	metrics.WatermarkLower.WithLabelValues(j.Name()).Set(float64(j.cursor.Lower()))
	metrics.WatermarkUpper.WithLabelValues(j.Name()).Set(float64(j.cursor.Upper()))
}
