package flow

import (
	"sort"
	"sync"

	"orderflow/internal/domain"
)

const (
	// MaxWindowEntries caps any rolling window to bound memory under
	// trade bursts.
	MaxWindowEntries = 10000

	// DefaultAggregatorWindowMs is the trade aggregator's rolling span.
	DefaultAggregatorWindowMs = 60_000

	// calibrationSamples is how many trades seed the S/M/L thresholds
	// before they are frozen.
	calibrationSamples = 100
)

// TradeAggregator keeps a rolling window of aggressive trades and
// derives tape statistics from it. Size classification thresholds are
// calibrated from the first trades seen (25th/75th percentile) and then
// frozen until Reset.
type TradeAggregator struct {
	mu     sync.RWMutex
	window *Window

	// Size classification.
	calibration []float64
	smallMax    float64
	largeMin    float64
	calibrated  bool

	// Burst state: run of consecutive same-side trades.
	burstSide  domain.Side
	burstCount int
}

// NewTradeAggregator creates an aggregator with the given window span.
func NewTradeAggregator(windowMs int64) *TradeAggregator {
	if windowMs <= 0 {
		windowMs = DefaultAggregatorWindowMs
	}
	return &TradeAggregator{
		window: NewWindow(windowMs, MaxWindowEntries),
	}
}

// AddTrade records one aggressive trade.
func (a *TradeAggregator) AddTrade(t domain.Trade) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.window.Add(t)

	if !a.calibrated {
		a.calibration = append(a.calibration, t.Quantity)
		if len(a.calibration) >= calibrationSamples {
			a.freezeThresholds()
		}
	}

	if t.Side == a.burstSide {
		a.burstCount++
	} else {
		a.burstSide = t.Side
		a.burstCount = 1
	}
}

// freezeThresholds pins smallMax/largeMin to the 25th/75th percentile of
// the calibration sample. Called with the lock held.
func (a *TradeAggregator) freezeThresholds() {
	qs := make([]float64, len(a.calibration))
	copy(qs, a.calibration)
	sort.Float64s(qs)
	a.smallMax = qs[len(qs)/4]
	a.largeMin = qs[(len(qs)*3)/4]
	a.calibrated = true
	a.calibration = nil
}

// thresholds returns the small/large size boundaries used to bucket
// trades. During calibration the provisional thresholds are percentiles
// of the live window.
func (a *TradeAggregator) thresholds(entries []domain.Trade) (smallMax, largeMin float64) {
	if a.calibrated {
		return a.smallMax, a.largeMin
	}
	if len(entries) == 0 {
		return 0, 0
	}
	qs := make([]float64, len(entries))
	for i, t := range entries {
		qs[i] = t.Quantity
	}
	sort.Float64s(qs)
	return qs[len(qs)/4], qs[(len(qs)*3)/4]
}

// Summary reads the aggregator's current rolling statistics.
func (a *TradeAggregator) Summary() domain.TimeAndSales {
	a.mu.Lock()
	defer a.mu.Unlock()

	entries := a.window.Entries()

	var out domain.TimeAndSales
	out.TradeCount = len(entries)
	out.ConsecutiveBurst = domain.Burst{Side: a.burstSide, Count: a.burstCount}

	smallMax, largeMin := a.thresholds(entries)

	var buyCount, sellCount int
	var latencySum float64
	for _, t := range entries {
		if t.Side == domain.SideBuy {
			out.AggressiveBuyVolume += t.Quantity
			buyCount++
		} else {
			out.AggressiveSellVolume += t.Quantity
			sellCount++
		}
		switch {
		case t.Quantity <= smallMax:
			out.SmallTrades++
		case t.Quantity >= largeMin:
			out.LargeTrades++
		default:
			out.MidTrades++
		}
		latencySum += float64(t.ArrivalMs - t.TimestampMs)
	}

	out.PrintsPerSecond = float64(out.TradeCount) / (float64(a.window.DurationMs()) / 1000)

	denom := sellCount
	if denom < 1 {
		denom = 1
	}
	out.BidHitAskLiftRatio = float64(buyCount) / float64(denom)

	if out.TradeCount > 0 {
		avg := latencySum / float64(out.TradeCount)
		out.AvgLatencyMs = &avg
	}
	return out
}

// Reset clears the window, burst run and calibrated thresholds.
func (a *TradeAggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	dur := a.window.DurationMs()
	a.window = NewWindow(dur, MaxWindowEntries)
	a.calibration = nil
	a.calibrated = false
	a.smallMax, a.largeMin = 0, 0
	a.burstSide, a.burstCount = "", 0
}
