package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/DhyanaPatel/orderbook-visualizer/internal/book"
	"github.com/DhyanaPatel/orderbook-visualizer/internal/config"
	"github.com/DhyanaPatel/orderbook-visualizer/internal/exchange/common"
	ilog "github.com/DhyanaPatel/orderbook-visualizer/internal/infra/log"
)

type fakeSnapshotSource struct {
	mu    sync.Mutex
	calls int
	snap  common.BookSnapshot
	err   error
}

func (f *fakeSnapshotSource) FetchSnapshot(ctx context.Context, symbol string) (common.BookSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.snap, f.err
}

func lvl(price, qty string) common.PriceLevel {
	return common.PriceLevel{Price: decimal.RequireFromString(price), Qty: decimal.RequireFromString(qty)}
}

func delta(first, final uint64, bids, asks []common.PriceLevel) common.DepthDelta {
	return common.DepthDelta{FirstID: first, FinalID: final, Bids: bids, Asks: asks, EventTime: time.Now()}
}

func newTestEngine(t *testing.T, bufferLimit int) (*Engine, *fakeSnapshotSource, chan common.StreamEvent) {
	t.Helper()
	cfg := config.Load()
	cfg.Book.BufferLimit = bufferLimit
	cfg.Book.SnapshotTimeoutSeconds = 1
	cfg.Book.ResyncCooldownSeconds = 1
	logger := ilog.NewLogger(cfg)
	src := &fakeSnapshotSource{}
	events := make(chan common.StreamEvent, 64)
	return New(cfg, src, events, logger), src, events
}

func (e *Engine) currentEpoch() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.epoch
}

func (e *Engine) bufferedCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.buffer)
}

func TestSnapshotInstallDrainsBuffer(t *testing.T) {
	e, _, _ := newTestEngine(t, 1024)
	ctx := context.Background()
	e.mu.Lock()
	e.enterBufferingLocked(ctx, "startup", false)
	e.mu.Unlock()

	// deltas racing the snapshot fetch: one stale, two applicable
	e.handleDelta(ctx, delta(95, 100, []common.PriceLevel{lvl("99", "9")}, nil))
	e.handleDelta(ctx, delta(101, 105, []common.PriceLevel{lvl("100", "1")}, []common.PriceLevel{lvl("100.5", "1")}))
	e.handleDelta(ctx, delta(106, 110, nil, []common.PriceLevel{lvl("100.5", "2")}))
	if e.State() != StateFetchingSnapshot {
		t.Fatalf("expected fetching state while buffering, got %v", e.State())
	}
	if e.bufferedCount() != 3 {
		t.Fatalf("expected 3 buffered deltas, got %d", e.bufferedCount())
	}

	snap := common.BookSnapshot{
		LastUpdateID: 100,
		Bids:         []common.PriceLevel{lvl("99.5", "5")},
		Asks:         []common.PriceLevel{lvl("100.6", "5")},
	}
	e.handleSnapshotResult(ctx, snapshotResult{epoch: e.currentEpoch(), snap: snap})

	if e.State() != StateSynced || !e.BaselineVerified() {
		t.Fatalf("expected verified synced state, got %v verified=%v", e.State(), e.BaselineVerified())
	}
	if e.Watermark() != 110 {
		t.Fatalf("expected watermark 110, got %d", e.Watermark())
	}
	// the stale delta's bid at 99 must not be present
	bids := e.CurrentLadder(book.Bid, 10)
	for _, r := range bids {
		if r.Price.String() == "99" {
			t.Fatalf("stale delta was applied: %+v", bids)
		}
	}
	asks := e.CurrentLadder(book.Ask, 10)
	if len(asks) == 0 || !asks[0].Qty.Equal(decimal.RequireFromString("2")) {
		t.Fatalf("expected drained ask qty 2 at top, got %+v", asks)
	}
}

func TestDegradedFoldScenario(t *testing.T) {
	e, src, _ := newTestEngine(t, 1024)
	src.err = common.ErrRateLimited
	ctx := context.Background()
	e.mu.Lock()
	e.enterBufferingLocked(ctx, "startup", false)
	e.mu.Unlock()

	e.handleDelta(ctx, delta(1, 5, []common.PriceLevel{lvl("100", "1")}, nil))
	e.handleDelta(ctx, delta(6, 9, nil, []common.PriceLevel{lvl("100.5", "1")}))
	e.handleDelta(ctx, delta(10, 12, []common.PriceLevel{lvl("99.5", "2")}, nil))

	e.handleSnapshotResult(ctx, snapshotResult{epoch: e.currentEpoch(), err: common.ErrRateLimited})

	if e.State() != StateSynced {
		t.Fatalf("expected synced (degraded) state, got %v", e.State())
	}
	if e.BaselineVerified() {
		t.Fatalf("degraded baseline must not be verified")
	}
	if e.Watermark() != 12 {
		t.Fatalf("expected watermark 12, got %d", e.Watermark())
	}
	bids := e.CurrentLadder(book.Bid, 10)
	if len(bids) != 2 {
		t.Fatalf("expected 2 folded bid levels, got %+v", bids)
	}
}

func TestStaleDeltaIsIdempotent(t *testing.T) {
	e, _, _ := newTestEngine(t, 1024)
	ctx := context.Background()
	e.mu.Lock()
	e.enterBufferingLocked(ctx, "startup", false)
	e.mu.Unlock()
	e.handleSnapshotResult(ctx, snapshotResult{epoch: e.currentEpoch(), snap: common.BookSnapshot{LastUpdateID: 100}})

	d := delta(101, 105, []common.PriceLevel{lvl("100", "1")}, nil)
	e.handleDelta(ctx, d)
	before := e.CurrentLadder(book.Bid, 10)
	wm := e.Watermark()

	e.handleDelta(ctx, d) // replay: FinalID <= watermark
	after := e.CurrentLadder(book.Bid, 10)
	if e.Watermark() != wm {
		t.Fatalf("replayed delta moved the watermark: %d -> %d", wm, e.Watermark())
	}
	if len(before) != len(after) || !before[0].Qty.Equal(after[0].Qty) {
		t.Fatalf("replayed delta changed the book: %+v vs %+v", before, after)
	}
}

func TestGapTriggersResync(t *testing.T) {
	e, _, _ := newTestEngine(t, 1024)
	ctx := context.Background()
	e.mu.Lock()
	e.enterBufferingLocked(ctx, "startup", false)
	e.mu.Unlock()
	e.handleSnapshotResult(ctx, snapshotResult{epoch: e.currentEpoch(), snap: common.BookSnapshot{LastUpdateID: 100}})
	epochBefore := e.currentEpoch()

	e.handleDelta(ctx, delta(105, 110, []common.PriceLevel{lvl("100", "1")}, nil))

	if e.State() != StateResyncing {
		t.Fatalf("expected resyncing after gap, got %v", e.State())
	}
	if e.BaselineVerified() {
		t.Fatalf("verified flag must clear on gap")
	}
	if e.currentEpoch() != epochBefore+1 {
		t.Fatalf("expected new sync generation after gap")
	}
	// the delta that revealed the gap is retained for the next drain
	if e.bufferedCount() != 1 {
		t.Fatalf("expected gap delta buffered, got %d", e.bufferedCount())
	}
}

func TestGapDuringDrainAbortsDrain(t *testing.T) {
	e, _, _ := newTestEngine(t, 1024)
	ctx := context.Background()
	e.mu.Lock()
	e.enterBufferingLocked(ctx, "startup", false)
	e.mu.Unlock()

	e.handleDelta(ctx, delta(101, 105, []common.PriceLevel{lvl("100", "1")}, nil))
	e.handleDelta(ctx, delta(110, 115, []common.PriceLevel{lvl("101", "1")}, nil))

	e.handleSnapshotResult(ctx, snapshotResult{epoch: e.currentEpoch(), snap: common.BookSnapshot{LastUpdateID: 100}})

	if e.State() != StateResyncing {
		t.Fatalf("expected resync after gap inside buffered deltas, got %v", e.State())
	}
	// partial application up to the gap is kept
	if e.Watermark() != 105 {
		t.Fatalf("expected watermark 105 from partial drain, got %d", e.Watermark())
	}
}

func TestBufferOverflowTaintsBaseline(t *testing.T) {
	e, _, _ := newTestEngine(t, 2)
	ctx := context.Background()
	e.mu.Lock()
	e.enterBufferingLocked(ctx, "startup", false)
	e.mu.Unlock()

	e.handleDelta(ctx, delta(1, 5, []common.PriceLevel{lvl("100", "1")}, nil))
	e.handleDelta(ctx, delta(6, 9, []common.PriceLevel{lvl("99", "1")}, nil))
	e.handleDelta(ctx, delta(10, 12, []common.PriceLevel{lvl("98", "1")}, nil))
	if e.bufferedCount() != 2 {
		t.Fatalf("expected bounded buffer of 2, got %d", e.bufferedCount())
	}

	e.handleSnapshotResult(ctx, snapshotResult{epoch: e.currentEpoch(), snap: common.BookSnapshot{LastUpdateID: 5}})

	if e.State() != StateSynced {
		t.Fatalf("expected synced state, got %v", e.State())
	}
	if e.BaselineVerified() {
		t.Fatalf("baseline must be degraded after buffer overflow")
	}
	if e.Watermark() != 12 {
		t.Fatalf("expected watermark 12, got %d", e.Watermark())
	}
}

func TestStaleEpochSnapshotDiscarded(t *testing.T) {
	e, _, _ := newTestEngine(t, 1024)
	ctx := context.Background()
	e.mu.Lock()
	e.enterBufferingLocked(ctx, "startup", false)
	oldEpoch := e.epoch
	e.enterBufferingLocked(ctx, "gap", true) // supersedes the first request
	e.mu.Unlock()

	e.handleSnapshotResult(ctx, snapshotResult{epoch: oldEpoch, snap: common.BookSnapshot{
		LastUpdateID: 500,
		Bids:         []common.PriceLevel{lvl("100", "1")},
	}})

	if e.State() == StateSynced {
		t.Fatalf("snapshot from a defunct generation must not install")
	}
	if e.Watermark() != 0 {
		t.Fatalf("stale result moved the watermark to %d", e.Watermark())
	}
}

func TestUpgradeTickResyncsDegradedBook(t *testing.T) {
	e, _, _ := newTestEngine(t, 1024)
	ctx := context.Background()
	e.mu.Lock()
	e.enterBufferingLocked(ctx, "startup", false)
	e.mu.Unlock()
	e.handleDelta(ctx, delta(1, 5, []common.PriceLevel{lvl("100", "1")}, nil))
	e.handleSnapshotResult(ctx, snapshotResult{epoch: e.currentEpoch(), err: common.ErrRateLimited})

	e.handleUpgradeTick(ctx, e.currentEpoch())
	if e.State() != StateResyncing {
		t.Fatalf("expected upgrade tick to start a resync, got %v", e.State())
	}

	// a tick for an older generation must be ignored
	e.handleUpgradeTick(ctx, e.currentEpoch()-1)
	if e.State() != StateResyncing {
		t.Fatalf("stale upgrade tick changed state to %v", e.State())
	}
}

func TestTradesRecordedInAnyState(t *testing.T) {
	e, _, _ := newTestEngine(t, 1024)
	ctx := context.Background()
	e.handleStreamEvent(ctx, common.Trade{ID: 7, Price: decimal.NewFromInt(100), Qty: decimal.NewFromInt(1), Time: time.Now()})
	trades := e.RecentTrades()
	if len(trades) != 1 || trades[0].ID != 7 {
		t.Fatalf("expected trade 7 recorded, got %+v", trades)
	}
	if ids := e.NewTradesSince(0); len(ids) != 1 || ids[0] != 7 {
		t.Fatalf("expected [7] new trades, got %v", ids)
	}
}

func TestRunProcessesEventsEndToEnd(t *testing.T) {
	e, src, events := newTestEngine(t, 1024)
	src.snap = common.BookSnapshot{
		LastUpdateID: 10,
		Bids:         []common.PriceLevel{lvl("100", "1")},
		Asks:         []common.PriceLevel{lvl("100.5", "1")},
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	events <- common.DepthDelta{FirstID: 11, FinalID: 12, Bids: []common.PriceLevel{lvl("99.5", "3")}}
	events <- common.Trade{ID: 1, Price: decimal.NewFromInt(100), Qty: decimal.NewFromInt(1), Time: time.Now()}

	deadline := time.After(3 * time.Second)
	for e.Watermark() != 12 || len(e.RecentTrades()) != 1 {
		select {
		case <-deadline:
			t.Fatalf("engine did not reach watermark 12 with 1 trade (wm=%d trades=%d)", e.Watermark(), len(e.RecentTrades()))
		case <-time.After(10 * time.Millisecond):
		}
	}
	if !e.BaselineVerified() {
		t.Fatalf("expected verified baseline after clean snapshot install")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("engine did not stop on context cancellation")
	}
}
