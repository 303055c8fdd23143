package aggregate

import (
	"fmt"
	"math"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/web3-frozen/overlay-monitor/internal/event"
)

// Metric names produced by the UPnL reduction.
const (
	MetricUPnL          = "upnl"
	MetricCollateralRem = "collateral_rem"
	MetricUPnLPct       = "upnl_pct"
)

// Valued is a live position with its current ledger value.
type Valued struct {
	Position event.Position
	Value    decimal.Decimal
}

// LivePositions derives the open positions of available markets from build
// records. Remaining collateral is the original collateral minus the
// unwound fraction; positions with no open interest left are dropped.
func (a *Aggregator) LivePositions(builds []event.Record) ([]event.Position, error) {
	if a.catalog == nil || a.catalog.Len() == 0 {
		return nil, ErrNoMarkets
	}

	one := decimal.NewFromInt(1)
	out := make([]event.Position, 0, len(builds))
	for i, b := range builds {
		if b.ID == "" || b.MarketID == "" || b.Owner == "" || b.Collateral == nil || b.CurrentOI == nil {
			return nil, fmt.Errorf("build %d: %w", i, ErrMalformedRecord)
		}
		if _, ok := a.catalog.Lookup(b.MarketID); !ok {
			continue
		}
		if b.CurrentOI.Sign() <= 0 {
			continue
		}

		id, ok := new(big.Int).SetString(strings.TrimPrefix(b.PositionHex(), "0x"), 16)
		if !ok {
			return nil, fmt.Errorf("build %s: %w: position id", b.ID, ErrMalformedRecord)
		}

		unwound := a.Scale(b.FractionUnwound)
		out = append(out, event.Position{
			PositionKey: event.PositionKey{
				MarketID:   strings.ToLower(b.MarketID),
				Owner:      b.Owner,
				PositionID: id,
			},
			CollateralRemaining: a.Scale(b.Collateral).Mul(one.Sub(unwound)),
		})
	}
	return out, nil
}

// UPnL reduces valued positions into the upnl, collateral_rem and upnl_pct
// totals. Every available market is present; a label whose remaining
// collateral is zero gets a NaN percentage.
func (a *Aggregator) UPnL(valued []Valued) (map[string]Totals, error) {
	if a.catalog == nil || a.catalog.Len() == 0 {
		return nil, ErrNoMarkets
	}

	pnl := make(map[string]decimal.Decimal)
	collateral := make(map[string]decimal.Decimal)
	for _, label := range a.catalog.Labels() {
		pnl[label] = decimal.Zero
		collateral[label] = decimal.Zero
	}
	for _, v := range valued {
		m, ok := a.catalog.Lookup(v.Position.MarketID)
		if !ok {
			continue
		}
		diff := v.Value.Sub(v.Position.CollateralRemaining)
		for _, label := range []string{m.DisplayName, event.AllMarketsLabel} {
			pnl[label] = pnl[label].Add(diff)
			collateral[label] = collateral[label].Add(v.Position.CollateralRemaining)
		}
	}

	out := map[string]Totals{
		MetricUPnL:          {},
		MetricCollateralRem: {},
		MetricUPnLPct:       {},
	}
	for label, p := range pnl {
		c := collateral[label]
		out[MetricUPnL][label] = p.InexactFloat64()
		out[MetricCollateralRem][label] = c.InexactFloat64()
		if c.IsZero() {
			out[MetricUPnLPct][label] = math.NaN()
			continue
		}
		out[MetricUPnLPct][label] = p.Div(c).InexactFloat64()
	}
	return out, nil
}
