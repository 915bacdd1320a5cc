package binance

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/DhyanaPatel/orderbook-visualizer/internal/exchange/common"
)

// Wire formats for the combined <symbol>@depth@100ms / <symbol>@aggTrade
// stream and the REST depth endpoint. Prices and quantities arrive as
// strings and are parsed exactly; nothing goes through floats.

type depthUpdateMsg struct {
	EventType string      `json:"e"`
	EventTime int64       `json:"E"`
	Symbol    string      `json:"s"`
	FirstID   uint64      `json:"U"`
	FinalID   uint64      `json:"u"`
	Bids      [][2]string `json:"b"`
	Asks      [][2]string `json:"a"`
}

type aggTradeMsg struct {
	EventType    string `json:"e"`
	EventTime    int64  `json:"E"`
	Symbol       string `json:"s"`
	TradeID      uint64 `json:"a"`
	Price        string `json:"p"`
	Qty          string `json:"q"`
	TradeTime    int64  `json:"T"`
	IsBuyerMaker bool   `json:"m"`
}

type depthSnapshotMsg struct {
	// error shape shares the object: {"code":-1003,"msg":"..."}
	Code         int         `json:"code"`
	Msg          string      `json:"msg"`
	LastUpdateID uint64      `json:"lastUpdateId"`
	Bids         [][2]string `json:"bids"`
	Asks         [][2]string `json:"asks"`
}

func parseLevels(raw [][2]string) ([]common.PriceLevel, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make([]common.PriceLevel, 0, len(raw))
	for _, pair := range raw {
		price, err := decimal.NewFromString(pair[0])
		if err != nil {
			return nil, fmt.Errorf("%w: bad price %q", common.ErrMalformedEvent, pair[0])
		}
		qty, err := decimal.NewFromString(pair[1])
		if err != nil {
			return nil, fmt.Errorf("%w: bad quantity %q", common.ErrMalformedEvent, pair[1])
		}
		if qty.Sign() < 0 {
			return nil, fmt.Errorf("%w: negative quantity %q", common.ErrMalformedEvent, pair[1])
		}
		out = append(out, common.PriceLevel{Price: price, Qty: qty})
	}
	return out, nil
}

// parseStreamEvent validates one raw ws payload into a typed event.
// Combined-endpoint payloads ({"stream":...,"data":{...}}) are unwrapped
// first. Returns (nil, nil) for recognized-but-irrelevant payloads.
func parseStreamEvent(data []byte) (common.StreamEvent, error) {
	var probe struct {
		EventType string          `json:"e"`
		EventTime int64           `json:"E"`
		Data      json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrMalformedEvent, err)
	}
	if len(probe.Data) > 0 {
		data = probe.Data
		if err := json.Unmarshal(data, &probe); err != nil {
			return nil, fmt.Errorf("%w: %v", common.ErrMalformedEvent, err)
		}
	}
	switch probe.EventType {
	case "depthUpdate":
		var msg depthUpdateMsg
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("%w: %v", common.ErrMalformedEvent, err)
		}
		if msg.FinalID < msg.FirstID {
			return nil, fmt.Errorf("%w: inverted sequence range [%d,%d]", common.ErrMalformedEvent, msg.FirstID, msg.FinalID)
		}
		bids, err := parseLevels(msg.Bids)
		if err != nil {
			return nil, err
		}
		asks, err := parseLevels(msg.Asks)
		if err != nil {
			return nil, err
		}
		return common.DepthDelta{
			FirstID:   msg.FirstID,
			FinalID:   msg.FinalID,
			Bids:      bids,
			Asks:      asks,
			EventTime: time.UnixMilli(msg.EventTime),
		}, nil
	case "aggTrade":
		var msg aggTradeMsg
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("%w: %v", common.ErrMalformedEvent, err)
		}
		price, err := decimal.NewFromString(msg.Price)
		if err != nil {
			return nil, fmt.Errorf("%w: bad trade price %q", common.ErrMalformedEvent, msg.Price)
		}
		qty, err := decimal.NewFromString(msg.Qty)
		if err != nil {
			return nil, fmt.Errorf("%w: bad trade quantity %q", common.ErrMalformedEvent, msg.Qty)
		}
		return common.Trade{
			ID:    msg.TradeID,
			Price: price,
			Qty:   qty,
			Time:  time.UnixMilli(msg.TradeTime),
			// buyer being the maker means the taker sold
			TakerBuy: !msg.IsBuyerMaker,
		}, nil
	default:
		// subscription acks and unknown stream types are not errors
		return nil, nil
	}
}
