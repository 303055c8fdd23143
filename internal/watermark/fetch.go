package watermark

import (
	"context"
	"fmt"

	"github.com/web3-frozen/overlay-monitor/internal/event"
)

// DefaultPageSize matches the indexer's maximum page length.
const DefaultPageSize = 500

// EventSource is a paginated, time-filterable event feed. Pages are sorted
// by timestamp descending and truncated to pageSize; an empty page means
// there is nothing more in the window.
type EventSource interface {
	FetchPage(ctx context.Context, w event.Window, pageSize int) ([]event.Record, error)
}

// FetchAll pages through the whole feed with no time bound.
func FetchAll(ctx context.Context, src EventSource, pageSize int) ([]event.Record, error) {
	return fetchWindow(ctx, src, event.Window{}, pageSize)
}

// FetchSince pages through everything after the cursor's lower bound, with
// records already seen at the boundary removed.
func FetchSince(ctx context.Context, src EventSource, c *Cursor, pageSize int) ([]event.Record, error) {
	records, err := fetchWindow(ctx, src, c.Window(), pageSize)
	if err != nil {
		return nil, err
	}
	return c.Filter(records), nil
}

// fetchWindow walks a window newest-first until a page comes back empty.
// The next page ends just after the oldest timestamp seen so records sharing
// a timestamp across a page break are not skipped; duplicates are dropped by
// id. The exclusive upper bound strictly decreases on every page.
func fetchWindow(ctx context.Context, src EventSource, w event.Window, pageSize int) ([]event.Record, error) {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	var all []event.Record
	seen := make(map[string]struct{})
	for page := 1; ; page++ {
		records, err := src.FetchPage(ctx, w, pageSize)
		if err != nil {
			return nil, fmt.Errorf("fetch page %d: %w", page, err)
		}

		if len(records) == 0 {
			return all, nil
		}

		for _, r := range records {
			if _, dup := seen[r.ID]; dup {
				continue
			}
			seen[r.ID] = struct{}{}
			all = append(all, r)
		}

		oldest := records[len(records)-1].Timestamp
		next := oldest + 1
		if w.Before != nil && next >= *w.Before {
			// no room to overlap; more than a page shares this timestamp
			next = oldest
		}
		w.Before = &next
	}
}
