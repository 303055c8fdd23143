package monitor

import (
	"context"
	"errors"
	"math"
	"math/big"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/web3-frozen/overlay-monitor/internal/aggregate"
	"github.com/web3-frozen/overlay-monitor/internal/event"
	"github.com/web3-frozen/overlay-monitor/internal/metricstore"
)

const (
	marketA = "0x02e5938904014901c96f534b063ec732ea3b48d5"
	marketB = "0x1067b7df86552a53d816ce3fed50d6d01310b48f"
	marketC = "0x33659282d39e62b62060c3f9fb2230e97db15f1e"
)

func testAggregator() *aggregate.Aggregator {
	return aggregate.New(aggregate.NewCatalog(map[string]string{
		marketA: "LINK / USD",
		marketB: "SOL / USD",
		marketC: "APE / USD",
	}), 18)
}

// feed is an in-memory indexer feed honoring the exclusive window.
type feed struct {
	mu      sync.Mutex
	records []event.Record
	err     error
}

func (f *feed) add(r ...event.Record) {
	f.mu.Lock()
	f.records = append(f.records, r...)
	f.mu.Unlock()
}

func (f *feed) FetchPage(_ context.Context, w event.Window, pageSize int) ([]event.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	var out []event.Record
	for _, r := range f.records {
		if w.After != nil && r.Timestamp <= *w.After {
			continue
		}
		if w.Before != nil && r.Timestamp >= *w.Before {
			continue
		}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp > out[j].Timestamp })
	if len(out) > pageSize {
		out = out[:pageSize]
	}
	return out, nil
}

func ovl(whole, hundredths int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(whole*100+hundredths), new(big.Int).Exp(big.NewInt(10), big.NewInt(16), nil))
}

func minted(id, market string, ts int64, amount *big.Int) event.Record {
	return event.Record{ID: market + "-" + id, MarketID: market, Timestamp: ts, Amount: amount}
}

func clock(unix int64) func() time.Time {
	return func() time.Time { return time.Unix(unix, 0) }
}

func TestMintJobResyncThenIncrement(t *testing.T) {
	src := &feed{}
	src.add(
		minted("0x1", marketA, 1000, ovl(1, 0)),
		minted("0x2", marketB, 900, ovl(1, 0)),
		minted("0x3", marketC, 800, ovl(1, 0)),
	)
	store := metricstore.New()
	job := NewMintJob(src, testAggregator(), store, 2, testLogger)
	job.now = clock(1100)

	ctx := context.Background()
	if err := job.Resync(ctx); err != nil {
		t.Fatalf("Resync: %v", err)
	}
	if got := store.Get(MetricMinted, "ALL"); got != 3 {
		t.Fatalf("ALL after resync = %v, want 3", got)
	}
	if lower, upper, _ := job.Cursor(); lower != 1000 || upper != 1100 {
		t.Errorf("cursor = (%d, %d), want (1000, 1100)", lower, upper)
	}

	src.add(minted("0x4", marketA, 1050, ovl(2, 50)))
	job.now = clock(1200)
	if err := job.Cycle(ctx); err != nil {
		t.Fatalf("Cycle: %v", err)
	}

	want := map[string]float64{"ALL": 5.5, "LINK / USD": 3.5, "SOL / USD": 1, "APE / USD": 1}
	for label, v := range want {
		if got := store.Get(MetricMinted, label); got != v {
			t.Errorf("%s = %v, want %v", label, got, v)
		}
	}
	if lower, upper, _ := job.Cursor(); lower != 1050 || upper != 1200 {
		t.Errorf("cursor = (%d, %d), want (1050, 1200)", lower, upper)
	}
}

func TestMintJobCycleWithoutNewRecordsIsNoop(t *testing.T) {
	src := &feed{}
	src.add(
		minted("0x1", marketA, 1000, ovl(1, 0)),
		minted("0x2", marketB, 1000, ovl(1, 0)),
	)
	store := metricstore.New()
	job := NewMintJob(src, testAggregator(), store, 500, testLogger)
	job.now = clock(1100)

	ctx := context.Background()
	if err := job.Resync(ctx); err != nil {
		t.Fatalf("Resync: %v", err)
	}
	for i := 0; i < 3; i++ {
		job.now = clock(1200 + int64(i)*60)
		if err := job.Cycle(ctx); err != nil {
			t.Fatalf("Cycle %d: %v", i, err)
		}
	}

	if got := store.Get(MetricMinted, "ALL"); got != 2 {
		t.Errorf("ALL = %v, want 2; boundary records must not be counted twice", got)
	}
	if lower, upper, _ := job.Cursor(); lower != 1000 || upper != 1320 {
		t.Errorf("cursor = (%d, %d), want (1000, 1320)", lower, upper)
	}
}

func TestMintJobSameSecondArrival(t *testing.T) {
	src := &feed{}
	src.add(minted("0x1", marketA, 1000, ovl(1, 0)))
	store := metricstore.New()
	job := NewMintJob(src, testAggregator(), store, 500, testLogger)
	job.now = clock(1100)

	ctx := context.Background()
	if err := job.Resync(ctx); err != nil {
		t.Fatalf("Resync: %v", err)
	}
	// Indexed late, but stamped with the boundary second.
	src.add(minted("0x2", marketB, 1000, ovl(4, 0)))
	if err := job.Cycle(ctx); err != nil {
		t.Fatalf("Cycle: %v", err)
	}
	if got := store.Get(MetricMinted, "ALL"); got != 5 {
		t.Errorf("ALL = %v, want 5", got)
	}
}

func TestMintJobEmptyFeedDegradesUntilFirstRecord(t *testing.T) {
	src := &feed{}
	store := metricstore.New()
	job := NewMintJob(src, testAggregator(), store, 500, testLogger)
	job.now = clock(1000)

	ctx := context.Background()
	if err := job.Resync(ctx); err != nil {
		t.Fatalf("Resync: %v", err)
	}
	if got := store.Get(MetricMinted, "ALL"); !math.IsNaN(got) {
		t.Errorf("ALL = %v, want NaN for an empty feed", got)
	}

	job.now = clock(1060)
	if err := job.Cycle(ctx); err != nil {
		t.Fatalf("Cycle: %v", err)
	}
	if got := store.Get(MetricMinted, "ALL"); !math.IsNaN(got) {
		t.Errorf("ALL = %v, want NaN while the feed stays empty", got)
	}

	src.add(minted("0x1", marketC, 1030, ovl(2, 0)))
	job.now = clock(1120)
	if err := job.Cycle(ctx); err != nil {
		t.Fatalf("Cycle: %v", err)
	}
	want := map[string]float64{"ALL": 2, "APE / USD": 2, "LINK / USD": 0, "SOL / USD": 0}
	for label, v := range want {
		if got := store.Get(MetricMinted, label); got != v {
			t.Errorf("%s = %v, want %v", label, got, v)
		}
	}
}

func TestMintJobErrors(t *testing.T) {
	store := metricstore.New()
	src := &feed{}
	job := NewMintJob(src, testAggregator(), store, 500, testLogger)

	if err := job.Cycle(context.Background()); err == nil {
		t.Error("Cycle before Resync should fail")
	}

	src.err = errors.New("indexer unavailable")
	if err := job.Resync(context.Background()); !errors.Is(err, src.err) {
		t.Errorf("Resync err = %v, want wrapped indexer error", err)
	}

	src.err = nil
	src.add(event.Record{ID: "bad", Timestamp: 10})
	if err := job.Resync(context.Background()); !errors.Is(err, aggregate.ErrMalformedRecord) {
		t.Errorf("Resync err = %v, want ErrMalformedRecord", err)
	}
}

// premiumResolver values every position at its remaining collateral plus a
// fixed premium.
type premiumResolver struct {
	premium decimal.Decimal
	err     error
	calls   int
}

func (r *premiumResolver) Resolve(_ context.Context, positions []event.Position) ([]aggregate.Valued, error) {
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	out := make([]aggregate.Valued, 0, len(positions))
	for _, p := range positions {
		out = append(out, aggregate.Valued{Position: p, Value: p.CollateralRemaining.Add(r.premium)})
	}
	return out, nil
}

func built(market, pos string, ts int64, collateral, oi *big.Int) event.Record {
	return event.Record{
		ID:              market + "-" + pos,
		MarketID:        market,
		Timestamp:       ts,
		Owner:           "0x85f66dbe1ed470a091d338cfc7429aa871720283",
		Collateral:      collateral,
		CurrentOI:       oi,
		FractionUnwound: big.NewInt(0),
	}
}

func TestUPnLJobAppliesAbsoluteValues(t *testing.T) {
	src := &feed{}
	src.add(
		built(marketA, "0x1", 30, ovl(10, 0), big.NewInt(1)),
		built(marketA, "0x2", 20, ovl(10, 0), big.NewInt(1)),
		built(marketB, "0x3", 10, ovl(5, 0), big.NewInt(0)),
	)
	store := metricstore.New()
	res := &premiumResolver{premium: decimal.NewFromInt(1)}
	job := NewUPnLJob(src, testAggregator(), res, store, 500, testLogger)

	if err := job.Resync(context.Background()); err != nil {
		t.Fatalf("Resync: %v", err)
	}

	if got := store.Get(aggregate.MetricUPnL, "ALL"); got != 2 {
		t.Errorf("upnl ALL = %v, want 2", got)
	}
	if got := store.Get(aggregate.MetricCollateralRem, "LINK / USD"); got != 20 {
		t.Errorf("collateral LINK = %v, want 20", got)
	}
	if got := store.Get(aggregate.MetricUPnLPct, "LINK / USD"); got != 0.1 {
		t.Errorf("upnl_pct LINK = %v, want 0.1", got)
	}
	if got := store.Get(aggregate.MetricUPnLPct, "SOL / USD"); !math.IsNaN(got) {
		t.Errorf("upnl_pct SOL = %v, want NaN without live positions", got)
	}
	if got := store.Get(aggregate.MetricUPnL, "SOL / USD"); got != 0 {
		t.Errorf("upnl SOL = %v, want 0", got)
	}
}

func TestUPnLJobNoLivePositions(t *testing.T) {
	src := &feed{}
	src.add(built(marketA, "0x1", 30, ovl(10, 0), big.NewInt(0)))
	store := metricstore.New()
	res := &premiumResolver{}
	job := NewUPnLJob(src, testAggregator(), res, store, 500, testLogger)

	if err := job.Cycle(context.Background()); err != nil {
		t.Fatalf("Cycle: %v", err)
	}
	if res.calls != 0 {
		t.Errorf("resolver called %d times, want 0", res.calls)
	}
	for _, m := range job.Metrics() {
		if got := store.Get(m, "ALL"); !math.IsNaN(got) {
			t.Errorf("%s ALL = %v, want NaN", m, got)
		}
	}
}

func TestUPnLJobResolverError(t *testing.T) {
	src := &feed{}
	src.add(built(marketA, "0x1", 30, ovl(10, 0), big.NewInt(1)))
	res := &premiumResolver{err: context.Canceled}
	job := NewUPnLJob(src, testAggregator(), res, metricstore.New(), 500, testLogger)

	if err := job.Cycle(context.Background()); !errors.Is(err, context.Canceled) {
		t.Errorf("Cycle err = %v, want wrapped resolver error", err)
	}
}
