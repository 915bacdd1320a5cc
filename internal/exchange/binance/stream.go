package binance

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/DhyanaPatel/orderbook-visualizer/internal/config"
	"github.com/DhyanaPatel/orderbook-visualizer/internal/exchange/common"
	"github.com/DhyanaPatel/orderbook-visualizer/internal/infra/log"
	"github.com/DhyanaPatel/orderbook-visualizer/internal/infra/metrics"
)

const (
	minBackoff  = 500 * time.Millisecond
	maxBackoff  = 5 * time.Second
	wsReadLimit = 1 << 20
)

// Stream consumes the combined depth/aggTrade websocket and delivers
// validated events in arrival order. Reconnects with jittered exponential
// backoff; malformed payloads are dropped with a diagnostic, never
// forwarded.
type Stream struct {
	wsURL     string
	keepAlive time.Duration
	logger    log.Logger
}

func NewStream(cfg config.Config, logger log.Logger) *Stream {
	keepAlive := time.Duration(cfg.Network.WSKeepAliveSeconds) * time.Second
	if keepAlive <= 0 {
		keepAlive = 15 * time.Second
	}
	return &Stream{wsURL: cfg.Exchange.Binance.WSURL, keepAlive: keepAlive, logger: logger}
}

func (s *Stream) Name() string { return "binance" }

func (s *Stream) Run(ctx context.Context, symbol string, out chan<- common.StreamEvent) error {
	backoff := minBackoff
	for {
		connected, err := s.consume(ctx, symbol, out)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		reason := "dial_failed"
		if connected {
			reason = "disconnect"
			backoff = minBackoff
		}
		metrics.WSReconnectsTotal.WithLabelValues(reason).Inc()
		s.logger.Warn().Err(err).Str("symbol", symbol).Dur("backoff", backoff).Msg("stream interrupted, reconnecting")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(addJitter(backoff)):
		}
		if backoff < maxBackoff {
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}
	}
}

// consume runs a single connection until it fails. connected reports
// whether the dial succeeded, so the caller can distinguish dial failures
// from mid-stream disconnects.
func (s *Stream) consume(ctx context.Context, symbol string, out chan<- common.StreamEvent) (connected bool, err error) {
	sym := strings.ToLower(symbol)
	url := fmt.Sprintf("%s?streams=%s@depth@100ms/%s@aggTrade", s.wsURL, sym, sym)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return false, fmt.Errorf("dial %s: %w", url, err)
	}

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-connCtx.Done()
		_ = conn.Close()
	}()

	conn.SetReadLimit(wsReadLimit)
	conn.SetPingHandler(func(appData string) error {
		_ = conn.SetReadDeadline(time.Now().Add(s.keepAlive))
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(5*time.Second))
	})

	s.logger.Info().Str("symbol", symbol).Msg("stream connected")
	for {
		_ = conn.SetReadDeadline(time.Now().Add(s.keepAlive))
		_, data, err := conn.ReadMessage()
		if err != nil {
			return true, fmt.Errorf("read: %w", err)
		}
		ev, err := parseStreamEvent(data)
		if err != nil {
			metrics.MalformedEventsTotal.Inc()
			s.logger.Debug().Err(err).Msg("dropping malformed stream payload")
			continue
		}
		if ev == nil {
			continue
		}
		select {
		case out <- ev:
		case <-ctx.Done():
			return true, ctx.Err()
		}
	}
}

func addJitter(d time.Duration) time.Duration {
	return d + time.Duration(rand.Int63n(int64(d)/4+1))
}
