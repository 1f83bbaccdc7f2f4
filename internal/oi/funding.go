package oi

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"orderflow/internal/domain"
)

// FundingSample is one premium-index observation.
type FundingSample struct {
	Rate              float64
	NextFundingTimeMs int64
}

// FundingFetcher retrieves the current funding sample for a symbol.
type FundingFetcher interface {
	FetchFunding(ctx context.Context, symbol string) (FundingSample, error)
}

// FundingTracker polls the premium index and derives the funding trend
// by comparing consecutive rates.
type FundingTracker struct {
	mu       sync.RWMutex
	symbol   string
	fetcher  FundingFetcher
	interval time.Duration

	hasSample bool
	last      FundingSample
	trend     string

	cancel context.CancelFunc
	wg     sync.WaitGroup
	now    func() time.Time
}

// NewFundingTracker creates a tracker polling at the given interval.
func NewFundingTracker(symbol string, fetcher FundingFetcher, interval time.Duration) *FundingTracker {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &FundingTracker{
		symbol:   symbol,
		fetcher:  fetcher,
		interval: interval,
		trend:    "flat",
		now:      time.Now,
	}
}

// Start begins polling until cancelled.
func (f *FundingTracker) Start(ctx context.Context) {
	ctx, f.cancel = context.WithCancel(ctx)

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()

		f.poll(ctx)

		ticker := time.NewTicker(f.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				f.poll(ctx)
			}
		}
	}()
}

// Stop cancels polling and waits for the worker.
func (f *FundingTracker) Stop() {
	if f.cancel != nil {
		f.cancel()
		f.wg.Wait()
	}
}

func (f *FundingTracker) poll(ctx context.Context) {
	s, err := f.fetcher.FetchFunding(ctx, f.symbol)
	if err != nil {
		slog.Debug("Funding poll failed",
			slog.String("symbol", f.symbol),
			slog.Any("error", err),
		)
		return
	}
	f.Record(s)
}

// Record ingests one funding sample and updates the trend.
func (f *FundingTracker) Record(s FundingSample) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case !f.hasSample || s.Rate == f.last.Rate:
		f.trend = "flat"
	case s.Rate > f.last.Rate:
		f.trend = "up"
	default:
		f.trend = "down"
	}
	f.last = s
	f.hasSample = true
}

// Block reads the funding block for envelope assembly, or nil before the
// first successful sample.
func (f *FundingTracker) Block() *domain.FundingBlock {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if !f.hasSample {
		return nil
	}
	ttf := f.last.NextFundingTimeMs - f.now().UnixMilli()
	if ttf < 0 {
		ttf = 0
	}
	return &domain.FundingBlock{
		Rate:            f.last.Rate,
		TimeToFundingMs: ttf,
		Trend:           f.trend,
	}
}
