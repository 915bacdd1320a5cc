package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/DhyanaPatel/orderbook-visualizer/internal/book"
	"github.com/DhyanaPatel/orderbook-visualizer/internal/config"
	"github.com/DhyanaPatel/orderbook-visualizer/internal/exchange/common"
	"github.com/DhyanaPatel/orderbook-visualizer/internal/infra/log"
	"github.com/DhyanaPatel/orderbook-visualizer/internal/infra/metrics"
	"github.com/DhyanaPatel/orderbook-visualizer/internal/infra/network"
	"github.com/DhyanaPatel/orderbook-visualizer/internal/ledger"
	"github.com/DhyanaPatel/orderbook-visualizer/internal/view"
)

// State of the synchronization machine.
type State int

const (
	StateAwaitingBaseline State = iota
	StateFetchingSnapshot
	StateSynced
	StateResyncing
)

func (s State) String() string {
	switch s {
	case StateAwaitingBaseline:
		return "awaiting_baseline"
	case StateFetchingSnapshot:
		return "fetching_snapshot"
	case StateSynced:
		return "synced"
	case StateResyncing:
		return "resyncing"
	default:
		return "unknown"
	}
}

// snapshotResult carries an async fetch outcome back into the engine loop.
// The epoch ties it to the sync generation that requested it; results from
// an older generation are discarded, never applied.
type snapshotResult struct {
	epoch uint64
	snap  common.BookSnapshot
	err   error
}

// Engine owns the book, the trade ledger and the synchronization state
// machine. All mutation happens on the single Run goroutine; the read API
// takes the lock so HTTP consumers can observe a consistent book.
type Engine struct {
	cfg       config.Config
	logger    log.Logger
	snapshots common.SnapshotSource
	events    <-chan common.StreamEvent
	results   chan snapshotResult
	upgradeCh chan uint64
	limiter   *network.TokenBucket

	mu         sync.RWMutex
	store      *book.Store
	trades     *ledger.Ledger
	state      State
	watermark  uint64
	verified   bool
	buffer     []common.DepthDelta
	overflowed bool
	epoch      uint64
}

func New(cfg config.Config, snapshots common.SnapshotSource, events <-chan common.StreamEvent, logger log.Logger) *Engine {
	return &Engine{
		cfg:       cfg,
		logger:    logger,
		snapshots: snapshots,
		events:    events,
		results:   make(chan snapshotResult, 4),
		upgradeCh: make(chan uint64, 1),
		limiter:   network.NewTokenBucket(cfg.Book.SnapshotBurst, cfg.Book.SnapshotPerMinute/60.0),
		store:     book.NewStore(),
		trades:    ledger.New(cfg.Book.TradeCapacity),
		state:     StateAwaitingBaseline,
	}
}

// Run processes inbound events strictly one at a time in arrival order until
// ctx is cancelled or the event channel closes.
func (e *Engine) Run(ctx context.Context) error {
	e.mu.Lock()
	e.enterBufferingLocked(ctx, "startup", false)
	e.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-e.events:
			if !ok {
				e.logger.Info().Msg("event stream closed, engine stopping")
				return nil
			}
			e.handleStreamEvent(ctx, ev)
		case res := <-e.results:
			e.handleSnapshotResult(ctx, res)
		case epoch := <-e.upgradeCh:
			e.handleUpgradeTick(ctx, epoch)
		}
	}
}

func (e *Engine) handleStreamEvent(ctx context.Context, ev common.StreamEvent) {
	switch ev := ev.(type) {
	case common.DepthDelta:
		e.handleDelta(ctx, ev)
	case common.Trade:
		e.mu.Lock()
		e.trades.Record(ev)
		e.mu.Unlock()
		metrics.TradesRecordedTotal.Inc()
	}
}

func (e *Engine) handleDelta(ctx context.Context, d common.DepthDelta) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateSynced {
		e.bufferDeltaLocked(d)
		return
	}

	switch book.Classify(e.watermark, e.verified, d) {
	case book.Stale:
		metrics.DeltasDiscardedTotal.WithLabelValues("stale").Inc()
	case book.Apply:
		e.applyDeltaLocked(d)
	case book.Gap:
		metrics.SequenceGapsTotal.Inc()
		e.logger.Warn().
			Uint64("watermark", e.watermark).
			Uint64("first_id", d.FirstID).
			Uint64("final_id", d.FinalID).
			Msg("sequence gap detected, resynchronizing")
		e.enterBufferingLocked(ctx, "gap", true)
		e.bufferDeltaLocked(d)
	}
}

// applyDeltaLocked folds one delta into the store and advances the
// watermark. Caller holds the write lock.
func (e *Engine) applyDeltaLocked(d common.DepthDelta) {
	e.store.ApplyChanges(book.Bid, d.Bids)
	e.store.ApplyChanges(book.Ask, d.Asks)
	e.watermark = d.FinalID
	metrics.DeltasAppliedTotal.Inc()
	e.updateGaugesLocked()
}

func (e *Engine) bufferDeltaLocked(d common.DepthDelta) {
	limit := e.cfg.Book.BufferLimit
	if limit > 0 && len(e.buffer) >= limit {
		// bounded buffer: drop the oldest and taint the eventual baseline
		e.buffer = e.buffer[1:]
		e.overflowed = true
		metrics.BufferOverflowsTotal.Inc()
	}
	e.buffer = append(e.buffer, d)
	metrics.BufferedDeltas.Set(float64(len(e.buffer)))
}

// enterBufferingLocked starts a fresh sync generation: reset the buffer,
// clear the verified flag and issue exactly one snapshot request. Used on
// startup, on a detected gap, and for degraded-to-verified upgrades.
func (e *Engine) enterBufferingLocked(ctx context.Context, reason string, resync bool) {
	e.epoch++
	e.verified = false
	e.buffer = nil
	e.overflowed = false
	metrics.BufferedDeltas.Set(0)
	metrics.BaselineVerified.Set(0)
	if resync {
		e.state = StateResyncing
		metrics.BookResyncsTotal.WithLabelValues(reason).Inc()
	} else {
		e.state = StateFetchingSnapshot
	}
	e.logger.Info().Str("reason", reason).Str("state", e.state.String()).Uint64("epoch", e.epoch).Msg("snapshot requested")
	e.requestSnapshot(ctx, e.epoch)
}

func (e *Engine) requestSnapshot(ctx context.Context, epoch uint64) {
	go func() {
		if !e.limiter.Allow(time.Now()) {
			// locally paced: behaves exactly like a venue rate limit
			e.deliverResult(ctx, snapshotResult{epoch: epoch, err: common.ErrRateLimited})
			return
		}
		timeout := time.Duration(e.cfg.Book.SnapshotTimeoutSeconds) * time.Second
		ctxTO, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		start := time.Now()
		snap, err := e.snapshots.FetchSnapshot(ctxTO, e.cfg.Instrument.Symbol)
		metrics.SnapshotLatencyMs.Observe(float64(time.Since(start).Milliseconds()))
		e.deliverResult(ctx, snapshotResult{epoch: epoch, snap: snap, err: err})
	}()
}

func (e *Engine) deliverResult(ctx context.Context, res snapshotResult) {
	select {
	case e.results <- res:
	case <-ctx.Done():
	}
}

func (e *Engine) handleSnapshotResult(ctx context.Context, res snapshotResult) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if res.epoch != e.epoch {
		metrics.SnapshotFetchesTotal.WithLabelValues("stale_epoch").Inc()
		e.logger.Debug().Uint64("result_epoch", res.epoch).Uint64("epoch", e.epoch).Msg("discarding snapshot result from a superseded sync generation")
		return
	}

	if res.err != nil {
		outcome := "error"
		if errors.Is(res.err, common.ErrRateLimited) {
			outcome = "rate_limited"
		}
		metrics.SnapshotFetchesTotal.WithLabelValues(outcome).Inc()
		e.logger.Warn().Err(res.err).Int("buffered", len(e.buffer)).Msg("snapshot unavailable, folding buffered deltas into a provisional book")
		e.foldDegradedLocked(ctx)
		return
	}

	metrics.SnapshotFetchesTotal.WithLabelValues("ok").Inc()
	e.installSnapshotLocked(ctx, res.snap)
}

// installSnapshotLocked makes the snapshot the baseline and drains the
// buffer in arrival order with full sequence validation.
func (e *Engine) installSnapshotLocked(ctx context.Context, snap common.BookSnapshot) {
	e.store.ReplaceSide(book.Bid, snap.Bids)
	e.store.ReplaceSide(book.Ask, snap.Asks)
	e.watermark = snap.LastUpdateID
	e.verified = !e.overflowed
	e.state = StateSynced

	buffered := e.buffer
	e.buffer = nil
	metrics.BufferedDeltas.Set(0)

	for i, d := range buffered {
		switch book.Classify(e.watermark, e.verified, d) {
		case book.Stale:
			metrics.DeltasDiscardedTotal.WithLabelValues("stale").Inc()
		case book.Apply:
			e.applyDeltaLocked(d)
		case book.Gap:
			// partial application so far is consistent with the verified
			// watermark progression; abort the drain and start over
			metrics.SequenceGapsTotal.Inc()
			e.logger.Warn().Int("drained", i).Int("buffered", len(buffered)).Msg("gap inside buffered deltas, resynchronizing")
			e.enterBufferingLocked(ctx, "gap", true)
			return
		}
	}

	e.logger.Info().
		Uint64("watermark", e.watermark).
		Bool("verified", e.verified).
		Int("drained", len(buffered)).
		Msg("baseline installed")
	e.updateGaugesLocked()
	if !e.verified {
		// buffer overflow tainted this baseline; retry for a clean one
		e.scheduleUpgradeLocked(ctx)
	}
}

// foldDegradedLocked builds a best-effort book straight from the buffered
// deltas: no baseline exists to validate against, so classification is
// skipped. The book keeps functioning, flagged provisional.
func (e *Engine) foldDegradedLocked(ctx context.Context) {
	for _, d := range e.buffer {
		e.store.ApplyChanges(book.Bid, d.Bids)
		e.store.ApplyChanges(book.Ask, d.Asks)
		e.watermark = d.FinalID
		metrics.DeltasAppliedTotal.Inc()
	}
	folded := len(e.buffer)
	e.buffer = nil
	e.overflowed = false
	e.verified = false
	e.state = StateSynced
	metrics.BufferedDeltas.Set(0)
	e.logger.Info().Int("folded", folded).Uint64("watermark", e.watermark).Msg("provisional book built from stream deltas")
	e.updateGaugesLocked()
	e.scheduleUpgradeLocked(ctx)
}

// scheduleUpgradeLocked arms a cooldown timer that re-attempts an
// authoritative snapshot. The tick routes through the engine loop, so delta
// processing is never blocked while the attempt is pending.
func (e *Engine) scheduleUpgradeLocked(ctx context.Context) {
	epoch := e.epoch
	cooldown := time.Duration(e.cfg.Book.ResyncCooldownSeconds) * time.Second
	time.AfterFunc(cooldown, func() {
		if ctx.Err() != nil {
			return
		}
		select {
		case e.upgradeCh <- epoch:
		default:
		}
	})
}

func (e *Engine) handleUpgradeTick(ctx context.Context, epoch uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if epoch != e.epoch || e.state != StateSynced || e.verified {
		return
	}
	e.enterBufferingLocked(ctx, "upgrade", true)
}

func (e *Engine) updateGaugesLocked() {
	metrics.BookWatermark.Set(float64(e.watermark))
	metrics.BookLevels.WithLabelValues("bid").Set(float64(e.store.Len(book.Bid)))
	metrics.BookLevels.WithLabelValues("ask").Set(float64(e.store.Len(book.Ask)))
	if e.verified {
		metrics.BaselineVerified.Set(1)
	} else {
		metrics.BaselineVerified.Set(0)
	}
}

// --- read API: synchronous, pure reads of current state ---

func (e *Engine) CurrentLadder(side book.Side, depth int) []view.Row {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return view.Ladder(e.store, side, depth)
}

func (e *Engine) CurrentSpread() view.Spread {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return view.BestSpread(e.store)
}

func (e *Engine) ImpactEstimate(qty decimal.Decimal, isBuy bool) view.Impact {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return view.EstimateImpact(e.store, qty, isBuy)
}

func (e *Engine) RecentTrades() []common.Trade {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.trades.Recent()
}

// NewTradesSince reports ids of trades recorded after the given head id.
// Highlight expiry is the consumer's responsibility.
func (e *Engine) NewTradesSince(prevHeadID uint64) []uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.trades.NewSince(prevHeadID)
}

func (e *Engine) HeadTradeID() (uint64, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.trades.HeadID()
}

func (e *Engine) BaselineVerified() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.verified
}

func (e *Engine) Watermark() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.watermark
}

func (e *Engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}
