package event

import (
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// AllMarketsLabel is the reserved label holding the sum over every available market.
const AllMarketsLabel = "ALL"

// Record is one raw event fetched from the indexer: a position creation
// (positions feed) or a build (builds feed). Build-only fields are nil for
// position records.
type Record struct {
	ID        string
	Timestamp int64
	MarketID  string
	Amount    *big.Int

	Owner           string
	Collateral      *big.Int
	CurrentOI       *big.Int
	FractionUnwound *big.Int
}

// PositionHex returns the position part of a "<market>-<position>" id.
func (r Record) PositionHex() string {
	_, pos, ok := strings.Cut(r.ID, "-")
	if !ok {
		return ""
	}
	return pos
}

// Market is one tradable Overlay market.
type Market struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

// PositionKey identifies a position for a ledger value lookup.
type PositionKey struct {
	MarketID   string
	Owner      string
	PositionID *big.Int
}

// Position is a live position derived from build records.
type Position struct {
	PositionKey
	CollateralRemaining decimal.Decimal
}

// Window bounds a page query. Both bounds are exclusive; a nil bound is open.
type Window struct {
	After  *int64
	Before *int64
}

// Bounded returns a window with both bounds set.
func Bounded(after, before int64) Window {
	return Window{After: &after, Before: &before}
}
