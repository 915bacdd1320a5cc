package book

import "github.com/DhyanaPatel/orderbook-visualizer/internal/exchange/common"

// Verdict is the sequencing decision for one incoming delta.
type Verdict int

const (
	// Stale: fully subsumed by already-applied state; discard, no error.
	Stale Verdict = iota
	// Apply: advances the book.
	Apply
	// Gap: the stream skipped sequence ids past a verified baseline;
	// requires resynchronization.
	Gap
)

func (v Verdict) String() string {
	switch v {
	case Stale:
		return "stale"
	case Apply:
		return "apply"
	default:
		return "gap"
	}
}

// Classify decides whether a delta is applied, discarded or treated as a
// sequence gap, given the current watermark. Without a verified baseline
// there is no authoritative floor, so the gap check is skipped and every
// non-stale delta is applied best-effort.
func Classify(watermark uint64, baselineVerified bool, d common.DepthDelta) Verdict {
	if d.FinalID <= watermark {
		return Stale
	}
	if baselineVerified && d.FirstID > watermark+1 {
		return Gap
	}
	return Apply
}
