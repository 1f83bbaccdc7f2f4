package engine

import (
	"testing"
	"time"

	"orderflow/internal/book"
	"orderflow/internal/domain"
	"orderflow/internal/flow"
	"orderflow/internal/oi"
)

type capturePublisher struct {
	envs []*domain.MetricsEnvelope
}

func (p *capturePublisher) Publish(env *domain.MetricsEnvelope) {
	p.envs = append(p.envs, env)
}

func newTestAssembler(pub Publisher) (*Assembler, *book.Synchroniser, *flow.TradeAggregator) {
	books := book.NewSynchroniser("BTCUSDT", nil)
	trades := flow.NewTradeAggregator(flow.DefaultAggregatorWindowMs)
	cvd := flow.NewCvdCalculator(nil)
	oiMon := oi.NewMonitor("BTCUSDT", nil, "mock", time.Second)
	funding := oi.NewFundingTracker("BTCUSDT", nil, time.Second)
	calc := NewCalculator()
	a := NewAssembler("BTCUSDT", books, trades, cvd, oiMon, funding, calc, pub, time.Second)
	return a, books, trades
}

func tenLevels(start, step float64) []domain.PriceLevel {
	out := make([]domain.PriceLevel, 10)
	for i := range out {
		out[i] = domain.PriceLevel{Price: start + float64(i)*step, Size: float64(i + 1)}
	}
	return out
}

func TestAssembler_StaleBeforeFirstSnapshot(t *testing.T) {
	a, _, trades := newTestAssembler(&capturePublisher{})

	tr := trade(domain.SideBuy, 100, 2, 500)
	trades.AddTrade(tr)
	a.cvd.AddTrade(tr)
	a.calc.AddTrade(tr)

	env := a.BuildEnvelope(1_000)

	if env.State != domain.EnvelopeStateStale {
		t.Fatalf("state = %q, want STALE", env.State)
	}
	if env.Bids != nil || env.Asks != nil {
		t.Error("stale envelope must elide book levels")
	}
	// Trade-derived scalars are still published while the book resyncs.
	if env.TimeAndSales.TradeCount != 1 {
		t.Errorf("tradeCount = %d, want 1", env.TimeAndSales.TradeCount)
	}
	if env.LegacyMetrics.CvdSession != 2 {
		t.Errorf("cvdSession = %v, want 2", env.LegacyMetrics.CvdSession)
	}
	if len(env.Cvd) != 3 {
		t.Errorf("cvd frames = %d, want 3", len(env.Cvd))
	}
}

func TestAssembler_LiveEnvelopeTopLevels(t *testing.T) {
	a, books, _ := newTestAssembler(&capturePublisher{})

	books.ApplySnapshot(domain.DepthSnapshot{
		LastUpdateID: 10,
		Bids:         tenLevels(100, -1), // 100 down to 91
		Asks:         tenLevels(101, 1),  // 101 up to 110
	})

	env := a.BuildEnvelope(2_000)

	if env.State != domain.EnvelopeStateLive {
		t.Fatalf("state = %q, want LIVE", env.State)
	}
	if len(env.Bids) != publishedDepth || len(env.Asks) != publishedDepth {
		t.Fatalf("published depth = %d/%d, want %d each", len(env.Bids), len(env.Asks), publishedDepth)
	}
	if env.Bids[0][0] != 100 || env.Asks[0][0] != 101 {
		t.Errorf("best levels = %v / %v, want 100 / 101", env.Bids[0][0], env.Asks[0][0])
	}
	if env.Price != 100.5 {
		t.Errorf("price = %v, want mid 100.5", env.Price)
	}

	var cum float64
	for i, lvl := range env.Bids {
		cum += lvl[1]
		if lvl[2] != cum {
			t.Errorf("bid[%d] cumulative = %v, want %v", i, lvl[2], cum)
		}
	}
}

func TestAssembler_GapTurnsEnvelopeStale(t *testing.T) {
	a, books, _ := newTestAssembler(&capturePublisher{})

	books.ApplySnapshot(domain.DepthSnapshot{
		LastUpdateID: 20,
		Bids:         []domain.PriceLevel{{Price: 100, Size: 1}},
		Asks:         []domain.PriceLevel{{Price: 101, Size: 1}},
	})
	books.ApplyDiff(domain.DepthDiff{FirstUpdateID: 30, FinalUpdateID: 35})

	env := a.BuildEnvelope(3_000)
	if env.State != domain.EnvelopeStateStale {
		t.Fatalf("state after gap = %q, want STALE", env.State)
	}
	if env.Bids != nil {
		t.Error("levels must be elided during resync")
	}

	// Recovery: a fresh snapshot brings levels back.
	books.ApplySnapshot(domain.DepthSnapshot{
		LastUpdateID: 40,
		Bids:         []domain.PriceLevel{{Price: 100, Size: 1}},
		Asks:         []domain.PriceLevel{{Price: 101, Size: 1}},
	})
	if env := a.BuildEnvelope(4_000); env.State != domain.EnvelopeStateLive {
		t.Errorf("state after resync = %q, want LIVE", env.State)
	}
}

func TestAssembler_TickPublishes(t *testing.T) {
	pub := &capturePublisher{}
	a, _, _ := newTestAssembler(pub)
	a.now = func() time.Time { return time.UnixMilli(5_000) }

	a.tick()
	a.tick()

	if len(pub.envs) != 2 {
		t.Fatalf("published %d envelopes, want 2", len(pub.envs))
	}
	if pub.envs[0].CanonicalTimeMs != 5_000 {
		t.Errorf("canonicalTimeMs = %d, want 5000", pub.envs[0].CanonicalTimeMs)
	}
	if pub.envs[0].Type != "metrics" || pub.envs[0].Symbol != "BTCUSDT" {
		t.Errorf("envelope header = %q/%q", pub.envs[0].Type, pub.envs[0].Symbol)
	}
}

func TestCumulativeLevels(t *testing.T) {
	levels := []domain.PriceLevel{
		{Price: 100, Size: 2},
		{Price: 99, Size: 3},
		{Price: 98, Size: 5},
	}
	got := cumulativeLevels(levels)
	want := []domain.BookLevel{
		{100, 2, 2},
		{99, 3, 5},
		{98, 5, 10},
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("level %d = %v, want %v", i, got[i], want[i])
		}
	}
}
