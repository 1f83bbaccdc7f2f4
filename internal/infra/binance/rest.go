package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"orderflow/internal/domain"
	"orderflow/internal/oi"
)

const (
	// snapshotBackoffBase and snapshotBackoffMax bound the retry delay
	// for failed depth snapshot fetches.
	snapshotBackoffBase = 1 * time.Second
	snapshotBackoffMax  = 30 * time.Second

	requestTimeout = 10 * time.Second
)

// Client is the futures REST client used for depth snapshots, OI and
// funding polls, and exchange metadata.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client against the given REST base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: requestTimeout},
	}
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.NewNetworkError(path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		io.Copy(io.Discard, resp.Body)
		return domain.ErrRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return domain.NewNetworkError(path, fmt.Errorf("status %d: %s", resp.StatusCode, body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// FetchDepthSnapshot fetches one REST book snapshot at the given depth.
func (c *Client) FetchDepthSnapshot(ctx context.Context, symbol string, limit int) (domain.DepthSnapshot, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("limit", fmt.Sprint(limit))

	var resp depthSnapshotResponse
	if err := c.get(ctx, "/fapi/v1/depth", q, &resp); err != nil {
		return domain.DepthSnapshot{}, err
	}
	return resp.toDomain()
}

// FetchDepthSnapshotRetry fetches a snapshot with exponential backoff
// until it succeeds or the context is cancelled. The book keeps serving
// its last known state to readers while this retries.
func (c *Client) FetchDepthSnapshotRetry(ctx context.Context, symbol string, limit int) (domain.DepthSnapshot, error) {
	delay := snapshotBackoffBase
	for {
		snap, err := c.FetchDepthSnapshot(ctx, symbol, limit)
		if err == nil {
			return snap, nil
		}

		slog.Warn("Depth snapshot fetch failed",
			slog.String("symbol", symbol),
			slog.Duration("retry_in", delay),
			slog.Any("error", err),
		)

		select {
		case <-ctx.Done():
			return domain.DepthSnapshot{}, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > snapshotBackoffMax {
			delay = snapshotBackoffMax
		}
	}
}

// FetchOpenInterest polls the current open interest for the symbol.
func (c *Client) FetchOpenInterest(ctx context.Context, symbol string) (float64, error) {
	q := url.Values{}
	q.Set("symbol", symbol)

	var resp openInterestResponse
	if err := c.get(ctx, "/fapi/v1/openInterest", q, &resp); err != nil {
		return 0, err
	}

	d, err := decimal.NewFromString(resp.OpenInterest)
	if err != nil {
		return 0, fmt.Errorf("parse openInterest %q: %w", resp.OpenInterest, err)
	}
	v, _ := d.Float64()
	return v, nil
}

// FetchFunding polls the premium index for the current funding sample.
func (c *Client) FetchFunding(ctx context.Context, symbol string) (oi.FundingSample, error) {
	q := url.Values{}
	q.Set("symbol", symbol)

	var resp premiumIndexResponse
	if err := c.get(ctx, "/fapi/v1/premiumIndex", q, &resp); err != nil {
		return oi.FundingSample{}, err
	}

	rate, err := decimal.NewFromString(resp.LastFundingRate)
	if err != nil {
		return oi.FundingSample{}, fmt.Errorf("parse funding rate %q: %w", resp.LastFundingRate, err)
	}
	r, _ := rate.Float64()
	return oi.FundingSample{
		Rate:              r,
		NextFundingTimeMs: resp.NextFundingTimeMs,
	}, nil
}

// FetchExchangeInfo fetches symbol metadata including the lot-size and
// min-notional filters used by the sizing path.
func (c *Client) FetchExchangeInfo(ctx context.Context) (ExchangeInfo, error) {
	var resp exchangeInfoResponse
	if err := c.get(ctx, "/fapi/v1/exchangeInfo", nil, &resp); err != nil {
		return ExchangeInfo{}, err
	}
	return resp.toDomain(), nil
}
