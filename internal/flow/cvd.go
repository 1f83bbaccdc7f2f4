package flow

import (
	"sync"

	"orderflow/internal/domain"
)

// DefaultCvdTimeframes maps timeframe labels to window durations.
func DefaultCvdTimeframes() map[string]int64 {
	return map[string]int64{
		"tf1m":  60_000,
		"tf5m":  300_000,
		"tf15m": 900_000,
	}
}

// CvdCalculator maintains an independent rolling window of signed trades
// per configured timeframe. CVD for a timeframe is the signed quantity
// sum currently inside its window.
type CvdCalculator struct {
	mu      sync.RWMutex
	buckets map[string]*Window
}

// NewCvdCalculator creates a calculator for the given timeframes
// (label -> duration ms). Nil uses the defaults.
func NewCvdCalculator(timeframes map[string]int64) *CvdCalculator {
	if timeframes == nil {
		timeframes = DefaultCvdTimeframes()
	}
	buckets := make(map[string]*Window, len(timeframes))
	for label, dur := range timeframes {
		buckets[label] = NewWindow(dur, MaxWindowEntries)
	}
	return &CvdCalculator{buckets: buckets}
}

// AddTrade records a trade into every timeframe window.
func (c *CvdCalculator) AddTrade(t domain.Trade) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, w := range c.buckets {
		w.Add(t)
	}
}

// Frames reads the current CVD per timeframe. warmUpPct reports how much
// of each window's duration is backed by observed data; consumers treat
// values below 100 as preliminary.
func (c *CvdCalculator) Frames(nowMs int64) map[string]domain.CvdFrame {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]domain.CvdFrame, len(c.buckets))
	for label, w := range c.buckets {
		cvd := w.SignedSum()
		frame := domain.CvdFrame{Cvd: cvd, Delta: cvd}

		if w.Len() > 0 {
			oldest := w.OldestTimestampMs()
			pct := float64(nowMs-oldest) / float64(w.DurationMs()) * 100
			if pct > 100 {
				pct = 100
			}
			if pct < 0 {
				pct = 0
			}
			frame.WarmUpPct = pct
		}
		out[label] = frame
	}
	return out
}
