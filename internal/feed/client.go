// Package feed supplies tick data to the simulator from three sources: a
// CSV file replayed for backtests, an HTTP history service for downloads,
// and a WebSocket stream for live paper trading.
package feed

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/link-light/apexquant/internal/config"
	"github.com/link-light/apexquant/pkg/types"
)

// Client downloads historical ticks over HTTP. Requests are rate-limited
// against the vendor budget and retried on 5xx.
type Client struct {
	http *resty.Client
	rl   *TokenBucket
}

// NewClient creates a history client from the data config.
func NewClient(cfg config.DataConfig) *Client {
	httpClient := resty.New().
		SetBaseURL(cfg.HistoryBaseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json")

	if cfg.HistoryToken != "" {
		httpClient.SetHeader("Authorization", "Bearer "+cfg.HistoryToken)
	}

	return &Client{
		http: httpClient,
		rl:   NewTokenBucket(float64(cfg.RatePerSec)*2, float64(cfg.RatePerSec)),
	}
}

// FetchTicks downloads one symbol-day of tick snapshots, oldest first.
func (c *Client) FetchTicks(ctx context.Context, symbol string, date int) ([]types.TickSnapshot, error) {
	if err := c.rl.Wait(ctx); err != nil {
		return nil, err
	}

	var result []types.TickSnapshot
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("symbol", symbol).
		SetQueryParam("date", fmt.Sprintf("%d", date)).
		SetResult(&result).
		Get("/ticks")
	if err != nil {
		return nil, fmt.Errorf("fetch ticks: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("fetch ticks: status %d: %s", resp.StatusCode(), resp.String())
	}
	return result, nil
}
