package common

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceLevel is a (price, quantity) pair. A zero quantity is the wire's
// deletion sentinel; it is never stored in a book.
type PriceLevel struct {
	Price decimal.Decimal
	Qty   decimal.Decimal
}

// DepthDelta is one validated incremental book update covering the sequence
// range [FirstID, FinalID].
type DepthDelta struct {
	FirstID   uint64
	FinalID   uint64
	Bids      []PriceLevel
	Asks      []PriceLevel
	EventTime time.Time
}

// BookSnapshot is the authoritative book state at LastUpdateID.
type BookSnapshot struct {
	LastUpdateID uint64
	Bids         []PriceLevel
	Asks         []PriceLevel
}

// Trade is one executed trade from the live stream. IDs are strictly
// increasing from the producer.
type Trade struct {
	ID       uint64
	Price    decimal.Decimal
	Qty      decimal.Decimal
	Time     time.Time
	TakerBuy bool
}

// StreamEvent is the sealed union delivered by a StreamSource: either a
// DepthDelta or a Trade.
type StreamEvent interface{ streamEvent() }

func (DepthDelta) streamEvent() {}
func (Trade) streamEvent()      {}
