package view

import (
	"github.com/shopspring/decimal"

	"github.com/DhyanaPatel/orderbook-visualizer/internal/book"
)

// Row is one ladder entry: a price level with its running cumulative
// quantity and its share of the ladder's total depth.
type Row struct {
	Price    decimal.Decimal `json:"price"`
	Qty      decimal.Decimal `json:"quantity"`
	Cum      decimal.Decimal `json:"total"`
	DepthPct float64         `json:"percentage"`
}

var hundred = decimal.NewFromInt(100)

// Ladder projects the top depth levels of side into display rows. Pure
// read-only: recomputable at any time from the store alone.
func Ladder(s *book.Store, side book.Side, depth int) []Row {
	levels := s.TopLevels(side, depth)
	if len(levels) == 0 {
		return nil
	}
	rows := make([]Row, len(levels))
	cum := decimal.Zero
	for i, l := range levels {
		cum = cum.Add(l.Qty)
		rows[i] = Row{Price: l.Price, Qty: l.Qty, Cum: cum}
	}
	maxCum := rows[len(rows)-1].Cum
	for i := range rows {
		rows[i].DepthPct, _ = rows[i].Cum.Mul(hundred).Div(maxCum).Float64()
	}
	return rows
}

// Spread between best bid and best ask. Zero on an empty side.
type Spread struct {
	Absolute decimal.Decimal `json:"absolute"`
	PctOfAsk decimal.Decimal `json:"percentage_of_ask"`
}

func BestSpread(s *book.Store) Spread {
	bid, okBid := s.Best(book.Bid)
	ask, okAsk := s.Best(book.Ask)
	if !okBid || !okAsk {
		return Spread{Absolute: decimal.Zero, PctOfAsk: decimal.Zero}
	}
	abs := ask.Price.Sub(bid.Price)
	return Spread{Absolute: abs, PctOfAsk: abs.Mul(hundred).Div(ask.Price)}
}
