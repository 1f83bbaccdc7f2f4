package flow

import "orderflow/internal/domain"

// Window is a time-bounded rolling window of trades, additionally capped
// at maxEntries to bound memory under bursts. Backed by a slice deque
// with front eviction; eviction uses the maximum observed trade
// timestamp as the reference time, so out-of-order arrivals never move
// the window backwards.
type Window struct {
	entries    []domain.Trade
	head       int
	durationMs int64
	maxEntries int
	refTimeMs  int64
}

// NewWindow creates a window of the given duration and entry cap.
func NewWindow(durationMs int64, maxEntries int) *Window {
	return &Window{
		durationMs: durationMs,
		maxEntries: maxEntries,
	}
}

// Add appends a trade and evicts anything that fell out of the window.
func (w *Window) Add(t domain.Trade) {
	if t.TimestampMs > w.refTimeMs {
		w.refTimeMs = t.TimestampMs
	}
	w.entries = append(w.entries, t)
	// Keep the live span ordered by timestamp so front eviction always
	// meets the oldest entry first, even for late arrivals.
	for i := len(w.entries) - 1; i > w.head && w.entries[i-1].TimestampMs > t.TimestampMs; i-- {
		w.entries[i], w.entries[i-1] = w.entries[i-1], w.entries[i]
	}
	w.evict()
}

// evict drops entries older than refTime-duration and beyond maxEntries.
func (w *Window) evict() {
	cutoff := w.refTimeMs - w.durationMs
	for w.head < len(w.entries) && w.entries[w.head].TimestampMs < cutoff {
		w.head++
	}
	for w.maxEntries > 0 && len(w.entries)-w.head > w.maxEntries {
		w.head++
	}
	// Compact once the dead prefix dominates.
	if w.head > len(w.entries)/2 && w.head > 64 {
		n := copy(w.entries, w.entries[w.head:])
		w.entries = w.entries[:n]
		w.head = 0
	}
}

// Entries returns the live span after eviction. The returned slice
// aliases internal storage; callers must not retain it across Adds.
func (w *Window) Entries() []domain.Trade {
	w.evict()
	return w.entries[w.head:]
}

// Len returns the number of live entries.
func (w *Window) Len() int {
	w.evict()
	return len(w.entries) - w.head
}

// RefTimeMs returns the maximum trade timestamp observed so far.
func (w *Window) RefTimeMs() int64 {
	return w.refTimeMs
}

// OldestTimestampMs returns the timestamp of the oldest live entry,
// or 0 if the window is empty.
func (w *Window) OldestTimestampMs() int64 {
	w.evict()
	if w.head == len(w.entries) {
		return 0
	}
	return w.entries[w.head].TimestampMs
}

// DurationMs returns the configured window span.
func (w *Window) DurationMs() int64 {
	return w.durationMs
}

// SignedSum returns the sum of signed quantities currently in the window.
func (w *Window) SignedSum() float64 {
	var sum float64
	for _, t := range w.Entries() {
		sum += t.Signed()
	}
	return sum
}
