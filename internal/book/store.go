package book

import (
	"github.com/google/btree"

	"github.com/DhyanaPatel/orderbook-visualizer/internal/exchange/common"
)

// Side of the book.
type Side int

const (
	Bid Side = iota
	Ask
)

func (s Side) String() string {
	if s == Bid {
		return "bid"
	}
	return "ask"
}

const treeDegree = 16

// bids are ordered best-first descending, asks best-first ascending
func bidLess(a, b common.PriceLevel) bool { return a.Price.GreaterThan(b.Price) }
func askLess(a, b common.PriceLevel) bool { return a.Price.LessThan(b.Price) }

// Store is the ordered price->quantity map for both sides. No level with a
// zero quantity is ever retained.
type Store struct {
	bids *btree.BTreeG[common.PriceLevel]
	asks *btree.BTreeG[common.PriceLevel]
}

func NewStore() *Store {
	return &Store{
		bids: btree.NewG(treeDegree, bidLess),
		asks: btree.NewG(treeDegree, askLess),
	}
}

func (s *Store) tree(side Side) *btree.BTreeG[common.PriceLevel] {
	if side == Bid {
		return s.bids
	}
	return s.asks
}

// ApplyChanges upserts each (price, qty) pair in order; a zero quantity
// removes the level if present. Later entries for the same price within one
// call override earlier ones.
func (s *Store) ApplyChanges(side Side, changes []common.PriceLevel) {
	t := s.tree(side)
	for _, c := range changes {
		if c.Qty.IsZero() {
			t.Delete(common.PriceLevel{Price: c.Price})
			continue
		}
		t.ReplaceOrInsert(c)
	}
}

// ReplaceSide swaps in the full contents of one side, dropping any
// zero-quantity entries the snapshot may carry.
func (s *Store) ReplaceSide(side Side, levels []common.PriceLevel) {
	t := btree.NewG(treeDegree, bidLess)
	if side == Ask {
		t = btree.NewG(treeDegree, askLess)
	}
	for _, l := range levels {
		if l.Qty.IsZero() {
			continue
		}
		t.ReplaceOrInsert(l)
	}
	if side == Bid {
		s.bids = t
	} else {
		s.asks = t
	}
}

// TopLevels returns up to n levels in the side's canonical order (bids
// descending, asks ascending by price).
func (s *Store) TopLevels(side Side, n int) []common.PriceLevel {
	if n <= 0 {
		return nil
	}
	out := make([]common.PriceLevel, 0, n)
	s.tree(side).Ascend(func(l common.PriceLevel) bool {
		out = append(out, l)
		return len(out) < n
	})
	return out
}

// Best returns the first level of the side, if any.
func (s *Store) Best(side Side) (common.PriceLevel, bool) {
	return s.tree(side).Min()
}

// Len reports the number of levels held on side.
func (s *Store) Len(side Side) int { return s.tree(side).Len() }
