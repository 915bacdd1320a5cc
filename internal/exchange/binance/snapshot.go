package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/DhyanaPatel/orderbook-visualizer/internal/config"
	"github.com/DhyanaPatel/orderbook-visualizer/internal/exchange/common"
	"github.com/DhyanaPatel/orderbook-visualizer/internal/infra/network"
)

const rateLimitCode = -1003

// Client fetches authoritative depth snapshots over REST.
type Client struct {
	baseURL string
	limit   int
	http    *http.Client
}

func NewClient(cfg config.Config) *Client {
	return &Client{
		baseURL: cfg.Exchange.Binance.BaseURL,
		limit:   cfg.Book.SnapshotLimit,
		http:    network.NewHTTPClient(time.Duration(cfg.Book.SnapshotTimeoutSeconds) * time.Second),
	}
}

func (c *Client) FetchSnapshot(ctx context.Context, symbol string) (common.BookSnapshot, error) {
	url := fmt.Sprintf("%s/api/v3/depth?symbol=%s&limit=%d", c.baseURL, strings.ToUpper(symbol), c.limit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return common.BookSnapshot{}, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return common.BookSnapshot{}, fmt.Errorf("depth snapshot: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusTeapot {
		return common.BookSnapshot{}, common.ErrRateLimited
	}

	var msg depthSnapshotMsg
	if err := json.NewDecoder(resp.Body).Decode(&msg); err != nil {
		return common.BookSnapshot{}, fmt.Errorf("depth snapshot decode: %w", err)
	}
	if msg.Code == rateLimitCode {
		return common.BookSnapshot{}, common.ErrRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		return common.BookSnapshot{}, fmt.Errorf("depth snapshot: http %d (code %d: %s)", resp.StatusCode, msg.Code, msg.Msg)
	}

	bids, err := parseLevels(msg.Bids)
	if err != nil {
		return common.BookSnapshot{}, err
	}
	asks, err := parseLevels(msg.Asks)
	if err != nil {
		return common.BookSnapshot{}, err
	}
	return common.BookSnapshot{LastUpdateID: msg.LastUpdateID, Bids: bids, Asks: asks}, nil
}
