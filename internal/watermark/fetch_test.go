package watermark

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/web3-frozen/overlay-monitor/internal/event"
)

// fakeSource serves records like the indexer does: filtered by the exclusive
// window, newest first, truncated to the page size.
type fakeSource struct {
	records []event.Record
	calls   int
	failAt  int
}

func (f *fakeSource) FetchPage(_ context.Context, w event.Window, pageSize int) ([]event.Record, error) {
	f.calls++
	if f.failAt > 0 && f.calls == f.failAt {
		return nil, errors.New("indexer unavailable")
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

func TestFetchAllPaginates(t *testing.T) {
	src := &fakeSource{}
	for i := int64(1); i <= 7; i++ {
		src.records = append(src.records, rec(string(rune('a'+i)), i*10))
	}

	got, err := FetchAll(context.Background(), src, 3)
	if err != nil {
		t.Fatalf("FetchAll: %v", err)
	}
	if len(got) != 7 {
		t.Fatalf("len = %d, want 7", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].Timestamp > got[i-1].Timestamp {
			t.Fatalf("records not newest-first at %d", i)
		}
	}
}

func TestFetchAllKeepsTimestampTiesAcrossPages(t *testing.T) {
	src := &fakeSource{records: []event.Record{
		rec("a", 50), rec("b", 40), rec("c", 40), rec("d", 40), rec("e", 30),
	}}

	got, err := FetchAll(context.Background(), src, 3)
	if err != nil {
		t.Fatalf("FetchAll: %v", err)
	}
	ids := make(map[string]bool)
	for _, r := range got {
		if ids[r.ID] {
			t.Fatalf("duplicate id %s", r.ID)
		}
		ids[r.ID] = true
	}
	if len(ids) != 5 {
		t.Errorf("got %d distinct records, want 5", len(ids))
	}
}

func TestFetchAllEmptyFeed(t *testing.T) {
	got, err := FetchAll(context.Background(), &fakeSource{}, 10)
	if err != nil {
		t.Fatalf("FetchAll: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("len = %d, want 0", len(got))
	}
}

func TestFetchAllPropagatesErrors(t *testing.T) {
	src := &fakeSource{records: []event.Record{rec("a", 3), rec("b", 2), rec("c", 1)}, failAt: 2}
	if _, err := FetchAll(context.Background(), src, 1); err == nil {
		t.Fatal("expected error from failing page")
	}
}

func TestFetchSinceUsesCursorWindow(t *testing.T) {
	src := &fakeSource{records: []event.Record{
		rec("old", 90), rec("edge", 100), rec("new1", 120), rec("new2", 130), rec("future", 250),
	}}
	c := Seed([]event.Record{rec("edge", 100)}, time.Unix(200, 0))

	got, err := FetchSince(context.Background(), src, c, 10)
	if err != nil {
		t.Fatalf("FetchSince: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2 (%+v)", len(got), got)
	}
	if got[0].ID != "new2" || got[1].ID != "new1" {
		t.Errorf("ids = %s,%s, want new2,new1", got[0].ID, got[1].ID)
	}
}
