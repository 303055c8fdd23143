package aggregate

import (
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/web3-frozen/overlay-monitor/internal/event"
)

var (
	// ErrNoMarkets means the available market set is empty.
	ErrNoMarkets = errors.New("no available markets")
	// ErrMalformedRecord means a record violates the expected shape.
	ErrMalformedRecord = errors.New("malformed record")
)

// Catalog is the set of available markets keyed by lower-case market id.
type Catalog struct {
	byID map[string]event.Market
}

// NewCatalog builds a catalog from an id to display name mapping.
func NewCatalog(markets map[string]string) *Catalog {
	c := &Catalog{byID: make(map[string]event.Market, len(markets))}
	for id, name := range markets {
		id = strings.ToLower(strings.TrimSpace(id))
		c.byID[id] = event.Market{ID: id, DisplayName: name}
	}
	return c
}

// Lookup returns the market for an id.
func (c *Catalog) Lookup(id string) (event.Market, bool) {
	m, ok := c.byID[strings.ToLower(id)]
	return m, ok
}

// Len returns the number of available markets.
func (c *Catalog) Len() int { return len(c.byID) }

// Labels returns every market display name, sorted, followed by "ALL".
func (c *Catalog) Labels() []string {
	labels := make([]string, 0, len(c.byID)+1)
	dedup := make(map[string]struct{}, len(c.byID))
	for _, m := range c.byID {
		if _, ok := dedup[m.DisplayName]; ok {
			continue
		}
		dedup[m.DisplayName] = struct{}{}
		labels = append(labels, m.DisplayName)
	}
	sort.Strings(labels)
	return append(labels, event.AllMarketsLabel)
}

// Markets returns the available markets sorted by display name.
func (c *Catalog) Markets() []event.Market {
	out := make([]event.Market, 0, len(c.byID))
	for _, m := range c.byID {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DisplayName == out[j].DisplayName {
			return out[i].ID < out[j].ID
		}
		return out[i].DisplayName < out[j].DisplayName
	})
	return out
}

// Totals maps a label to its aggregated value. The "ALL" label is always
// present and equals the sum of the market labels.
type Totals map[string]float64

// Aggregator reduces raw records into per-market totals.
type Aggregator struct {
	catalog *Catalog
	divisor decimal.Decimal
}

// New creates an Aggregator dividing raw amounts by 10^decimals.
func New(catalog *Catalog, decimals int32) *Aggregator {
	return &Aggregator{
		catalog: catalog,
		divisor: decimal.New(1, decimals),
	}
}

// Catalog returns the aggregator's market catalog.
func (a *Aggregator) Catalog() *Catalog { return a.catalog }

// Scale converts a fixed-point integer into a decimal.
func (a *Aggregator) Scale(v *big.Int) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(v, 0).Div(a.divisor)
}

// Aggregate sums record amounts per market display name. Records of
// markets outside the catalog are excluded before grouping.
func (a *Aggregator) Aggregate(records []event.Record) (Totals, error) {
	if a.catalog == nil || a.catalog.Len() == 0 {
		return nil, ErrNoMarkets
	}

	sums := make(map[string]decimal.Decimal)
	all := decimal.Zero
	for i, r := range records {
		if err := validate(r); err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		m, ok := a.catalog.Lookup(r.MarketID)
		if !ok {
			continue
		}
		amount := decimal.NewFromBigInt(r.Amount, 0)
		sums[m.DisplayName] = sums[m.DisplayName].Add(amount)
		all = all.Add(amount)
	}

	totals := make(Totals, len(sums)+1)
	for label, sum := range sums {
		totals[label] = sum.Div(a.divisor).InexactFloat64()
	}
	totals[event.AllMarketsLabel] = all.Div(a.divisor).InexactFloat64()
	return totals, nil
}

func validate(r event.Record) error {
	switch {
	case r.ID == "":
		return fmt.Errorf("%w: empty id", ErrMalformedRecord)
	case r.MarketID == "":
		return fmt.Errorf("%w: %s has no market", ErrMalformedRecord, r.ID)
	case r.Amount == nil:
		return fmt.Errorf("%w: %s has no amount", ErrMalformedRecord, r.ID)
	case r.Timestamp < 0:
		return fmt.Errorf("%w: %s has negative timestamp", ErrMalformedRecord, r.ID)
	}
	return nil
}
