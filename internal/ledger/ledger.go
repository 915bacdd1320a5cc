package ledger

import (
	"github.com/DhyanaPatel/orderbook-visualizer/internal/exchange/common"
)

// Ledger is a bounded, newest-first sequence of trades. It reports novelty
// via NewSince; highlight lifetime is the consumer's concern.
type Ledger struct {
	capacity int
	trades   []common.Trade
}

func New(capacity int) *Ledger {
	if capacity <= 0 {
		capacity = 50
	}
	return &Ledger{capacity: capacity, trades: make([]common.Trade, 0, capacity)}
}

// Record prepends the trade and truncates to capacity, dropping the oldest
// excess.
func (l *Ledger) Record(t common.Trade) {
	l.trades = append([]common.Trade{t}, l.trades...)
	if len(l.trades) > l.capacity {
		l.trades = l.trades[:l.capacity]
	}
}

// Recent returns the trades newest first. The slice is a copy.
func (l *Ledger) Recent() []common.Trade {
	out := make([]common.Trade, len(l.trades))
	copy(out, l.trades)
	return out
}

// Len reports the number of retained trades.
func (l *Ledger) Len() int { return len(l.trades) }

// HeadID returns the id of the most recent trade.
func (l *Ledger) HeadID() (uint64, bool) {
	if len(l.trades) == 0 {
		return 0, false
	}
	return l.trades[0].ID, true
}

// NewSince collects ids from the head until prevHeadID is reached
// (exclusive) or the sequence ends: the trades that arrived since the
// caller's last observation.
func (l *Ledger) NewSince(prevHeadID uint64) []uint64 {
	var ids []uint64
	for _, t := range l.trades {
		if t.ID == prevHeadID {
			break
		}
		ids = append(ids, t.ID)
	}
	return ids
}
