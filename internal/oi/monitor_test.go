package oi

import (
	"context"
	"errors"
	"testing"
	"time"

	"orderflow/internal/domain"
)

type stubFetcher struct {
	value float64
	err   error
	calls int
}

func (s *stubFetcher) FetchOpenInterest(_ context.Context, _ string) (float64, error) {
	s.calls++
	return s.value, s.err
}

func TestMonitor_FirstSampleSetsBaseline(t *testing.T) {
	m := NewMonitor("BTCUSDT", nil, "real", time.Second)

	m.Record(1000, 10_000)

	b := m.Block()
	if b.OpenInterest != 1000 {
		t.Errorf("openInterest = %v, want 1000", b.OpenInterest)
	}
	if b.OiChangeAbs != 0 || b.OiChangePct != 0 {
		t.Errorf("first sample should show zero drift: %+v", b)
	}
	if b.Source != "real" {
		t.Errorf("source = %q, want real", b.Source)
	}
}

func TestMonitor_ChangeAgainstBaseline(t *testing.T) {
	m := NewMonitor("BTCUSDT", nil, "real", time.Second)

	m.Record(1000, 10_000)
	m.Record(1100, 20_000)

	b := m.Block()
	if b.OiChangeAbs != 100 {
		t.Errorf("oiChangeAbs = %v, want 100", b.OiChangeAbs)
	}
	if b.OiChangePct != 10 {
		t.Errorf("oiChangePct = %v, want 10", b.OiChangePct)
	}
	if b.OiDeltaWindow != b.OiChangeAbs {
		t.Error("oiDeltaWindow should equal oiChangeAbs")
	}
}

func TestMonitor_BaselineRepin(t *testing.T) {
	m := NewMonitor("BTCUSDT", nil, "real", time.Second)

	m.Record(1000, 0)
	m.Record(1050, 30_000)
	// 70s after the original baseline: re-pin to the oldest sample
	// within the last 60s, which is the 30s one.
	m.Record(1200, 70_000)

	b := m.Block()
	if b.OiChangeAbs != 150 {
		t.Errorf("oiChangeAbs = %v, want 150 (vs re-pinned 1050)", b.OiChangeAbs)
	}
}

func TestMonitor_HistoryCulled(t *testing.T) {
	m := NewMonitor("BTCUSDT", nil, "real", time.Second)

	m.Record(1000, 0)
	for ts := int64(60_000); ts <= 600_000; ts += 60_000 {
		m.Record(1000+float64(ts/1000), ts)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.history {
		if s.tsMs < 600_000-historySpanMs {
			t.Errorf("history entry %d older than 5m survived", s.tsMs)
		}
	}
}

func TestMonitor_PollFailureKeepsLastValue(t *testing.T) {
	f := &stubFetcher{value: 500}
	m := NewMonitor("BTCUSDT", f, "real", time.Second)

	m.poll(context.Background())
	f.err = errors.New("boom")
	m.poll(context.Background())

	if got := m.Block().OpenInterest; got != 500 {
		t.Errorf("openInterest = %v, want last known 500", got)
	}
}

func TestMonitor_RateLimitSuppressed(t *testing.T) {
	f := &stubFetcher{err: domain.ErrRateLimited}
	m := NewMonitor("BTCUSDT", f, "real", time.Second)

	m.poll(context.Background())

	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.lastErrLog.IsZero() {
		t.Error("429 must not consume the error-log window")
	}
}

func TestFundingTracker_Trend(t *testing.T) {
	f := NewFundingTracker("BTCUSDT", nil, time.Second)

	if f.Block() != nil {
		t.Fatal("funding block should be nil before the first sample")
	}

	f.Record(FundingSample{Rate: 0.0001})
	if got := f.Block().Trend; got != "flat" {
		t.Errorf("trend = %q, want flat on first sample", got)
	}

	f.Record(FundingSample{Rate: 0.0002})
	if got := f.Block().Trend; got != "up" {
		t.Errorf("trend = %q, want up", got)
	}

	f.Record(FundingSample{Rate: 0.00005})
	if got := f.Block().Trend; got != "down" {
		t.Errorf("trend = %q, want down", got)
	}

	f.Record(FundingSample{Rate: 0.00005})
	if got := f.Block().Trend; got != "flat" {
		t.Errorf("trend = %q, want flat on equal rate", got)
	}
}

func TestFundingTracker_TimeToFundingClamped(t *testing.T) {
	f := NewFundingTracker("BTCUSDT", nil, time.Second)
	f.now = func() time.Time { return time.UnixMilli(1_000_000) }

	f.Record(FundingSample{Rate: 0.0001, NextFundingTimeMs: 400_000})
	if got := f.Block().TimeToFundingMs; got != 0 {
		t.Errorf("timeToFundingMs = %d, want 0 when already past", got)
	}

	f.Record(FundingSample{Rate: 0.0001, NextFundingTimeMs: 1_500_000})
	if got := f.Block().TimeToFundingMs; got != 500_000 {
		t.Errorf("timeToFundingMs = %d, want 500000", got)
	}
}
