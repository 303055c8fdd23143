package indexer

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/web3-frozen/overlay-monitor/internal/event"
	"github.com/web3-frozen/overlay-monitor/internal/metrics"
)

// Feed is one paginated subgraph entity list. It implements
// watermark.EventSource.
type Feed struct {
	client    *Client
	entity    string
	timeField string
	fields    string
	decode    func(json.RawMessage) ([]event.Record, error)
}

// Positions returns the position creation feed carrying the OVL mint amount.
func (c *Client) Positions() *Feed {
	return &Feed{
		client:    c,
		entity:    "positions",
		timeField: "createdAtTimestamp",
		fields:    "id createdAtTimestamp mint market { id }",
		decode:    decodePositions,
	}
}

// Builds returns the build feed carrying collateral and open interest.
func (c *Client) Builds() *Feed {
	return &Feed{
		client:    c,
		entity:    "builds",
		timeField: "timestamp",
		fields:    "id timestamp collateral position { currentOi fractionUnwound } owner { id }",
		decode:    decodeBuilds,
	}
}

// Name returns the subgraph entity name.
func (f *Feed) Name() string { return f.entity }

// FetchPage returns up to pageSize records strictly inside the window,
// newest first.
func (f *Feed) FetchPage(ctx context.Context, w event.Window, pageSize int) ([]event.Record, error) {
	q := f.buildQuery(w, pageSize)
	list, err := f.client.query(ctx, q, f.entity)
	if err != nil {
		metrics.IndexerRequestsTotal.WithLabelValues(f.entity, "error").Inc()
		return nil, fmt.Errorf("query %s: %w", f.entity, err)
	}
	records, err := f.decode(list)
	if err != nil {
		metrics.IndexerRequestsTotal.WithLabelValues(f.entity, "invalid").Inc()
		return nil, fmt.Errorf("decode %s: %w", f.entity, err)
	}
	metrics.IndexerRequestsTotal.WithLabelValues(f.entity, "ok").Inc()
	metrics.RecordsIngestedTotal.WithLabelValues(f.entity).Add(float64(len(records)))
	return records, nil
}

func (f *Feed) buildQuery(w event.Window, pageSize int) string {
	var where []string
	if w.After != nil {
		where = append(where, fmt.Sprintf("%s_gt: %d", f.timeField, *w.After))
	}
	if w.Before != nil {
		where = append(where, fmt.Sprintf("%s_lt: %d", f.timeField, *w.Before))
	}

	args := fmt.Sprintf("first: %d, orderBy: %s, orderDirection: desc", pageSize, f.timeField)
	if len(where) > 0 {
		args = fmt.Sprintf("where: { %s }, %s", strings.Join(where, ", "), args)
	}
	return fmt.Sprintf("{ %s(%s) { %s } }", f.entity, args, f.fields)
}

type idRef struct {
	ID string `json:"id"`
}

type positionJSON struct {
	ID                 string `json:"id"`
	CreatedAtTimestamp string `json:"createdAtTimestamp"`
	Mint               string `json:"mint"`
	Market             *idRef `json:"market"`
}

func decodePositions(raw json.RawMessage) ([]event.Record, error) {
	var items []positionJSON
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchema, err)
	}

	out := make([]event.Record, 0, len(items))
	for _, it := range items {
		if it.ID == "" || it.Market == nil || it.Market.ID == "" {
			return nil, fmt.Errorf("%w: position %q missing id or market", ErrSchema, it.ID)
		}
		ts, err := parseTimestamp(it.CreatedAtTimestamp)
		if err != nil {
			return nil, fmt.Errorf("%w: position %s: %v", ErrSchema, it.ID, err)
		}
		mint, err := parseBig(it.Mint)
		if err != nil {
			return nil, fmt.Errorf("%w: position %s mint: %v", ErrSchema, it.ID, err)
		}
		out = append(out, event.Record{
			ID:        it.ID,
			Timestamp: ts,
			MarketID:  strings.ToLower(it.Market.ID),
			Amount:    mint,
		})
	}
	return out, nil
}

type buildJSON struct {
	ID         string `json:"id"`
	Timestamp  string `json:"timestamp"`
	Collateral string `json:"collateral"`
	Position   *struct {
		CurrentOI       string `json:"currentOi"`
		FractionUnwound string `json:"fractionUnwound"`
	} `json:"position"`
	Owner *idRef `json:"owner"`
}

func decodeBuilds(raw json.RawMessage) ([]event.Record, error) {
	var items []buildJSON
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchema, err)
	}

	out := make([]event.Record, 0, len(items))
	for _, it := range items {
		market, _, ok := strings.Cut(it.ID, "-")
		if !ok || market == "" {
			return nil, fmt.Errorf("%w: build id %q is not <market>-<position>", ErrSchema, it.ID)
		}
		if it.Position == nil || it.Owner == nil || it.Owner.ID == "" {
			return nil, fmt.Errorf("%w: build %s missing position or owner", ErrSchema, it.ID)
		}
		ts, err := parseTimestamp(it.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("%w: build %s: %v", ErrSchema, it.ID, err)
		}

		var nums [3]*big.Int
		for i, s := range []string{it.Collateral, it.Position.CurrentOI, it.Position.FractionUnwound} {
			if nums[i], err = parseBig(s); err != nil {
				return nil, fmt.Errorf("%w: build %s: %v", ErrSchema, it.ID, err)
			}
		}
		out = append(out, event.Record{
			ID:              it.ID,
			Timestamp:       ts,
			MarketID:        strings.ToLower(market),
			Amount:          nums[0],
			Owner:           strings.ToLower(it.Owner.ID),
			Collateral:      nums[0],
			CurrentOI:       nums[1],
			FractionUnwound: nums[2],
		})
	}
	return out, nil
}

func parseTimestamp(s string) (int64, error) {
	ts, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("timestamp %q: %w", s, err)
	}
	if ts < 0 {
		return 0, fmt.Errorf("negative timestamp %d", ts)
	}
	return ts, nil
}

func parseBig(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid integer %q", s)
	}
	return v, nil
}
