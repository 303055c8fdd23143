package watermark

import (
	"time"

	"github.com/web3-frozen/overlay-monitor/internal/event"
)

// Cursor tracks the (lower, upper) timestamp bounds of an incremental feed.
// A Cursor belongs to exactly one poller and is not safe for concurrent use.
type Cursor struct {
	lower int64
	upper int64

	// ids already ingested whose timestamp equals lower
	boundary map[string]struct{}
}

// NewCursor starts a cursor at lower with upper set from now.
func NewCursor(lower int64, now time.Time) *Cursor {
	c := &Cursor{lower: lower, boundary: make(map[string]struct{})}
	c.upper = max(ceilUnix(now), lower)
	return c
}

// Seed builds a cursor from the newest-first records of a full resync. An
// empty resync starts the cursor at now.
func Seed(records []event.Record, now time.Time) *Cursor {
	if len(records) == 0 {
		n := ceilUnix(now)
		return NewCursor(n, now)
	}
	c := NewCursor(records[0].Timestamp, now)
	c.remember(records)
	return c
}

// Lower returns the current lower bound.
func (c *Cursor) Lower() int64 { return c.lower }

// Upper returns the current upper bound.
func (c *Cursor) Upper() int64 { return c.upper }

// Window is the query window for the next incremental fetch. The lower
// bound is re-queried inclusively; Filter drops what was already seen.
func (c *Cursor) Window() event.Window {
	return event.Bounded(c.lower-1, c.upper)
}

// Filter drops records already ingested at the boundary timestamp.
func (c *Cursor) Filter(records []event.Record) []event.Record {
	out := records[:0:0]
	for _, r := range records {
		if r.Timestamp == c.lower {
			if _, seen := c.boundary[r.ID]; seen {
				continue
			}
		}
		out = append(out, r)
	}
	return out
}

// Advance moves the cursor past a newest-first batch of new records and
// returns the next bounds. An empty batch keeps lower and moves upper to now.
func (c *Cursor) Advance(records []event.Record, now time.Time) (int64, int64) {
	if len(records) > 0 && records[0].Timestamp > c.lower {
		c.lower = records[0].Timestamp
		c.boundary = make(map[string]struct{})
	}
	c.remember(records)
	c.upper = max(ceilUnix(now), c.lower)
	return c.lower, c.upper
}

func (c *Cursor) remember(records []event.Record) {
	for _, r := range records {
		if r.Timestamp == c.lower {
			c.boundary[r.ID] = struct{}{}
		}
	}
}

func ceilUnix(t time.Time) int64 {
	s := t.Unix()
	if t.Nanosecond() > 0 {
		s++
	}
	return s
}
