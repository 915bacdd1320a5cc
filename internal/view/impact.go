package view

import (
	"github.com/shopspring/decimal"

	"github.com/DhyanaPatel/orderbook-visualizer/internal/book"
)

var two = decimal.NewFromInt(2)
var tenThousand = decimal.NewFromInt(10000)

// Impact is the estimated execution quality of a hypothetical marketable
// order walking the book.
type Impact struct {
	AvgPrice decimal.Decimal `json:"avg_price"`
	Bps      decimal.Decimal `json:"bps_vs_mid"`
	Filled   bool            `json:"filled"`
}

// EstimateImpact walks the asks (buy) or bids (sell) accumulating cost until
// qty is filled and reports the average fill price and its distance from mid
// in bps. Filled=false means the visible book is too shallow for qty.
func EstimateImpact(s *book.Store, qty decimal.Decimal, isBuy bool) Impact {
	if qty.Sign() <= 0 {
		return Impact{AvgPrice: decimal.Zero, Bps: decimal.Zero}
	}
	bid, okBid := s.Best(book.Bid)
	ask, okAsk := s.Best(book.Ask)
	if !okBid || !okAsk {
		return Impact{AvgPrice: decimal.Zero, Bps: decimal.Zero}
	}
	mid := bid.Price.Add(ask.Price).Div(two)

	side := book.Ask
	if !isBuy {
		side = book.Bid
	}
	cost := decimal.Zero
	filled := decimal.Zero
	for _, l := range s.TopLevels(side, s.Len(side)) {
		use := decimal.Min(qty.Sub(filled), l.Qty)
		if use.Sign() <= 0 {
			break
		}
		cost = cost.Add(use.Mul(l.Price))
		filled = filled.Add(use)
		if filled.GreaterThanOrEqual(qty) {
			break
		}
	}
	if filled.LessThan(qty) {
		return Impact{AvgPrice: decimal.Zero, Bps: decimal.Zero, Filled: false}
	}
	avg := cost.Div(qty)
	diff := avg.Sub(mid)
	if !isBuy {
		diff = mid.Sub(avg)
	}
	return Impact{AvgPrice: avg, Bps: diff.Div(mid).Mul(tenThousand), Filled: true}
}
