package flow

import (
	"testing"

	"orderflow/internal/domain"
)

func trade(ts int64, side domain.Side, qty float64) domain.Trade {
	return domain.Trade{
		Price:       100,
		Quantity:    qty,
		Side:        side,
		TimestampMs: ts,
		ArrivalMs:   ts,
	}
}

func TestWindow_TimeEviction(t *testing.T) {
	w := NewWindow(1000, 0)

	w.Add(trade(1000, domain.SideBuy, 1))
	w.Add(trade(1500, domain.SideBuy, 1))
	w.Add(trade(2500, domain.SideBuy, 1))

	// Reference time is 2500, cutoff 1500: the 1000 entry is gone.
	if got := w.Len(); got != 2 {
		t.Errorf("Len = %d, want 2", got)
	}
	if got := w.OldestTimestampMs(); got != 1500 {
		t.Errorf("oldest = %d, want 1500", got)
	}
}

func TestWindow_OutOfOrderDoesNotRewind(t *testing.T) {
	w := NewWindow(1000, 0)

	w.Add(trade(5000, domain.SideBuy, 1))
	// Late arrival inside the window is kept.
	w.Add(trade(4500, domain.SideSell, 1))
	if got := w.Len(); got != 2 {
		t.Errorf("Len = %d, want 2", got)
	}
	if got := w.RefTimeMs(); got != 5000 {
		t.Errorf("RefTimeMs = %d, want 5000 (max seen)", got)
	}

	// Late arrival already outside the window is evicted on next read.
	w.Add(trade(3000, domain.SideBuy, 1))
	for _, e := range w.Entries() {
		if e.TimestampMs < 4000 {
			t.Errorf("entry %d should have been evicted", e.TimestampMs)
		}
	}
}

func TestWindow_EntryCap(t *testing.T) {
	w := NewWindow(1_000_000, 100)

	for i := int64(0); i < 250; i++ {
		w.Add(trade(i, domain.SideBuy, 1))
	}
	if got := w.Len(); got != 100 {
		t.Errorf("Len = %d, want cap 100", got)
	}
	// Oldest survivors are the most recent 100.
	if got := w.OldestTimestampMs(); got != 150 {
		t.Errorf("oldest = %d, want 150", got)
	}
}

func TestWindow_SignedSum(t *testing.T) {
	w := NewWindow(10_000, 0)

	w.Add(trade(1000, domain.SideBuy, 3))
	w.Add(trade(1100, domain.SideSell, 1))
	w.Add(trade(1200, domain.SideBuy, 2))

	if got := w.SignedSum(); got != 4 {
		t.Errorf("SignedSum = %v, want 4", got)
	}
}

func BenchmarkWindow_Add(b *testing.B) {
	w := NewWindow(60_000, MaxWindowEntries)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		w.Add(trade(int64(i), domain.SideBuy, 1))
	}
}
