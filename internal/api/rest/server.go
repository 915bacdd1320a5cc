package rest

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/DhyanaPatel/orderbook-visualizer/internal/book"
	"github.com/DhyanaPatel/orderbook-visualizer/internal/config"
	"github.com/DhyanaPatel/orderbook-visualizer/internal/engine"
	"github.com/DhyanaPatel/orderbook-visualizer/internal/exchange/common"
	"github.com/DhyanaPatel/orderbook-visualizer/internal/view"
)

// Server exposes the engine's synchronous read API as JSON. All handlers
// are pure reads; the provisional flag travels with every book response so
// consumers can render a warning instead of silently trusting the data.
type Server struct {
	mux *http.ServeMux
	eng *engine.Engine
	cfg config.Config
}

func New(cfg config.Config, eng *engine.Engine) *Server {
	s := &Server{mux: http.NewServeMux(), eng: eng, cfg: cfg}
	s.mux.HandleFunc("/book", s.handleBook)
	s.mux.HandleFunc("/trades", s.handleTrades)
	s.mux.HandleFunc("/status", s.handleStatus)
	return s
}

func (s *Server) Handler() http.Handler { return s.mux }

type bookResponse struct {
	Symbol    string      `json:"symbol"`
	Bids      []view.Row  `json:"bids"`
	Asks      []view.Row  `json:"asks"`
	Spread    view.Spread `json:"spread"`
	Impact    *impactPair `json:"impact,omitempty"`
	Watermark uint64      `json:"watermark"`
	Verified  bool        `json:"baseline_verified"`
}

type impactPair struct {
	Qty  decimal.Decimal `json:"qty"`
	Buy  view.Impact     `json:"buy"`
	Sell view.Impact     `json:"sell"`
}

func (s *Server) handleBook(w http.ResponseWriter, r *http.Request) {
	depth := s.cfg.Book.Depth
	if v := r.URL.Query().Get("depth"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, "invalid depth", http.StatusBadRequest)
			return
		}
		depth = n
	}
	resp := bookResponse{
		Symbol:    s.cfg.Instrument.Symbol,
		Bids:      s.eng.CurrentLadder(book.Bid, depth),
		Asks:      s.eng.CurrentLadder(book.Ask, depth),
		Spread:    s.eng.CurrentSpread(),
		Watermark: s.eng.Watermark(),
		Verified:  s.eng.BaselineVerified(),
	}
	if v := r.URL.Query().Get("impact_qty"); v != "" {
		qty, err := decimal.NewFromString(v)
		if err != nil || qty.Sign() <= 0 {
			http.Error(w, "invalid impact_qty", http.StatusBadRequest)
			return
		}
		resp.Impact = &impactPair{
			Qty:  qty,
			Buy:  s.eng.ImpactEstimate(qty, true),
			Sell: s.eng.ImpactEstimate(qty, false),
		}
	}
	writeJSON(w, resp)
}

type tradeJSON struct {
	ID       uint64          `json:"id"`
	Price    decimal.Decimal `json:"price"`
	Qty      decimal.Decimal `json:"quantity"`
	Time     int64           `json:"time"`
	TakerBuy bool            `json:"taker_buy"`
}

type tradesResponse struct {
	Trades []tradeJSON `json:"trades"`
	NewIDs []uint64    `json:"new_ids,omitempty"`
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	recent := s.eng.RecentTrades()
	resp := tradesResponse{Trades: make([]tradeJSON, 0, len(recent))}
	for _, t := range recent {
		resp.Trades = append(resp.Trades, toTradeJSON(t))
	}
	// since=<previous head id> lets pollers highlight what arrived since
	// their last observation
	if v := r.URL.Query().Get("since"); v != "" {
		prev, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			http.Error(w, "invalid since", http.StatusBadRequest)
			return
		}
		resp.NewIDs = s.eng.NewTradesSince(prev)
	}
	writeJSON(w, resp)
}

func toTradeJSON(t common.Trade) tradeJSON {
	return tradeJSON{ID: t.ID, Price: t.Price, Qty: t.Qty, Time: t.Time.UnixMilli(), TakerBuy: t.TakerBuy}
}

type statusResponse struct {
	Symbol    string `json:"symbol"`
	State     string `json:"state"`
	Watermark uint64 `json:"watermark"`
	Verified  bool   `json:"baseline_verified"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, statusResponse{
		Symbol:    s.cfg.Instrument.Symbol,
		State:     s.eng.State().String(),
		Watermark: s.eng.Watermark(),
		Verified:  s.eng.BaselineVerified(),
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
