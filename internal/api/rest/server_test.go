package rest

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/DhyanaPatel/orderbook-visualizer/internal/config"
	"github.com/DhyanaPatel/orderbook-visualizer/internal/engine"
	"github.com/DhyanaPatel/orderbook-visualizer/internal/exchange/common"
	ilog "github.com/DhyanaPatel/orderbook-visualizer/internal/infra/log"
)

type fixedSnapshot struct {
	snap common.BookSnapshot
}

func (f *fixedSnapshot) FetchSnapshot(ctx context.Context, symbol string) (common.BookSnapshot, error) {
	return f.snap, nil
}

func lvl(price, qty string) common.PriceLevel {
	return common.PriceLevel{Price: decimal.RequireFromString(price), Qty: decimal.RequireFromString(qty)}
}

func newSyncedServer(t *testing.T) *Server {
	t.Helper()
	cfg := config.Load()
	src := &fixedSnapshot{snap: common.BookSnapshot{
		LastUpdateID: 100,
		Bids:         []common.PriceLevel{lvl("100.0", "1"), lvl("99.5", "2")},
		Asks:         []common.PriceLevel{lvl("100.5", "1"), lvl("101.0", "3")},
	}}
	events := make(chan common.StreamEvent, 16)
	eng := engine.New(cfg, src, events, ilog.NewLogger(cfg))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = eng.Run(ctx) }()
	events <- common.Trade{ID: 7, Price: decimal.RequireFromString("100.2"), Qty: decimal.RequireFromString("0.5"), Time: time.Now(), TakerBuy: true}

	deadline := time.Now().Add(2 * time.Second)
	for eng.State() != engine.StateSynced || len(eng.RecentTrades()) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("engine did not sync, state %v", eng.State())
		}
		time.Sleep(5 * time.Millisecond)
	}
	return New(cfg, eng)
}

func TestBookEndpoint(t *testing.T) {
	s := newSyncedServer(t)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/book?depth=1&impact_qty=1", nil))
	if rec.Code != 200 {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Symbol string `json:"symbol"`
		Bids   []struct {
			Price string `json:"price"`
		} `json:"bids"`
		Asks []json.RawMessage `json:"asks"`
		Spread struct {
			Absolute string `json:"absolute"`
		} `json:"spread"`
		Impact    *json.RawMessage `json:"impact"`
		Watermark uint64           `json:"watermark"`
		Verified  bool             `json:"baseline_verified"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Symbol != "BTCUSDT" || !resp.Verified || resp.Watermark != 100 {
		t.Fatalf("bad response header fields: %+v", resp)
	}
	if len(resp.Bids) != 1 || len(resp.Asks) != 1 {
		t.Fatalf("depth=1 not honored: %d/%d", len(resp.Bids), len(resp.Asks))
	}
	if resp.Bids[0].Price != "100" {
		t.Fatalf("best bid %q", resp.Bids[0].Price)
	}
	if resp.Spread.Absolute != "0.5" {
		t.Fatalf("spread %q", resp.Spread.Absolute)
	}
	if resp.Impact == nil {
		t.Fatalf("impact requested but missing")
	}
}

func TestBookEndpointRejectsBadDepth(t *testing.T) {
	s := newSyncedServer(t)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/book?depth=-1", nil))
	if rec.Code != 400 {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestTradesEndpoint(t *testing.T) {
	s := newSyncedServer(t)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/trades?since=0", nil))
	if rec.Code != 200 {
		t.Fatalf("status %d", rec.Code)
	}
	var resp struct {
		Trades []struct {
			ID       uint64 `json:"id"`
			TakerBuy bool   `json:"taker_buy"`
		} `json:"trades"`
		NewIDs []uint64 `json:"new_ids"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Trades) != 1 || resp.Trades[0].ID != 7 || !resp.Trades[0].TakerBuy {
		t.Fatalf("bad trades: %+v", resp.Trades)
	}
	if len(resp.NewIDs) != 1 || resp.NewIDs[0] != 7 {
		t.Fatalf("bad new ids: %v", resp.NewIDs)
	}
}

func TestStatusEndpoint(t *testing.T) {
	s := newSyncedServer(t)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/status", nil))
	if rec.Code != 200 {
		t.Fatalf("status %d", rec.Code)
	}
	var resp struct {
		State    string `json:"state"`
		Verified bool   `json:"baseline_verified"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.State != "synced" || !resp.Verified {
		t.Fatalf("bad status: %+v", resp)
	}
}
