package book

import (
	"log/slog"
	"sync"

	"orderflow/internal/domain"
)

// ApplyResult reports the outcome of applying one depth diff.
type ApplyResult struct {
	OK          bool
	Applied     bool
	Dropped     bool
	GapDetected bool
}

// Synchroniser maintains a gap-free order book against a snapshot+diff
// wire protocol. Acceptance follows the rule U <= lastUpdateId+1 <= u.
//
// State machine: INIT -> (snapshot) -> SYNCED -> (gap) -> RESYNC ->
// (snapshot) -> SYNCED. While in RESYNC, published envelopes carry the
// STALE tag and book levels are elided; downstream aggregators keep
// their trade-derived state.
type Synchroniser struct {
	mu     sync.RWMutex
	book   *OrderBook
	state  domain.BookState
	symbol string

	// onGap requests a fresh snapshot. Called outside the lock.
	onGap func()
}

// NewSynchroniser creates a synchroniser in INIT with an empty book.
func NewSynchroniser(symbol string, onGap func()) *Synchroniser {
	return &Synchroniser{
		book:   NewOrderBook(),
		state:  domain.BookInit,
		symbol: symbol,
		onGap:  onGap,
	}
}

// State returns the current lifecycle state.
func (s *Synchroniser) State() domain.BookState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// LastUpdateID returns the book's last applied update id (-1 before the
// first snapshot).
func (s *Synchroniser) LastUpdateID() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.book.LastUpdateID()
}

// ApplySnapshot replaces the book atomically and transitions to SYNCED.
func (s *Synchroniser) ApplySnapshot(snap domain.DepthSnapshot) {
	s.mu.Lock()
	s.book.ApplySnapshot(snap)
	prev := s.state
	s.state = domain.BookSynced
	s.mu.Unlock()

	if prev != domain.BookSynced {
		slog.Info("Order book synced",
			slog.String("symbol", s.symbol),
			slog.Int64("last_update_id", snap.LastUpdateID),
			slog.String("previous_state", string(prev)),
		)
	}
}

// ApplyDiff applies one incremental update under the sequence rule.
// A diff entirely behind the book is dropped silently; a diff that skips
// ahead flags a gap, moves the book to RESYNC and triggers the snapshot
// request callback. The book's levels and lastUpdateId are untouched on
// drop and gap.
func (s *Synchroniser) ApplyDiff(d domain.DepthDiff) ApplyResult {
	s.mu.Lock()

	if s.state == domain.BookInit {
		// No snapshot yet; diffs cannot be sequenced.
		s.mu.Unlock()
		return ApplyResult{OK: true, Dropped: true}
	}

	last := s.book.LastUpdateID()
	switch {
	case d.FinalUpdateID <= last:
		s.mu.Unlock()
		return ApplyResult{OK: true, Dropped: true}

	case d.FirstUpdateID <= last+1 && last+1 <= d.FinalUpdateID:
		s.book.applyDiff(d)
		s.mu.Unlock()
		return ApplyResult{OK: true, Applied: true}

	default: // d.FirstUpdateID > last+1
		gap := d.FirstUpdateID - last - 1
		s.state = domain.BookResync
		s.mu.Unlock()

		slog.Warn("Depth sequence gap detected",
			slog.String("symbol", s.symbol),
			slog.Int64("last_update_id", last),
			slog.Int64("first_update_id", d.FirstUpdateID),
			slog.Int64("missed", gap),
		)
		if s.onGap != nil {
			s.onGap()
		}
		return ApplyResult{GapDetected: true}
	}
}

// BookView is a point-in-time read of the book for the assembler.
type BookView struct {
	State        domain.BookState
	LastUpdateID int64
	Bids         []domain.PriceLevel
	Asks         []domain.PriceLevel
	BestBid      float64
	BestAsk      float64
	MidPrice     float64
}

// View copies the top depth levels. The copy never observes a partially
// applied diff. Takes the write lock: sorted views are rebuilt lazily on
// first read after a mutation.
func (s *Synchroniser) View(depth int) BookView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return BookView{
		State:        s.state,
		LastUpdateID: s.book.LastUpdateID(),
		Bids:         s.book.Bids(depth),
		Asks:         s.book.Asks(depth),
		BestBid:      s.book.BestBid(),
		BestAsk:      s.book.BestAsk(),
		MidPrice:     s.book.MidPrice(),
	}
}

// VolumesAtDepth returns summed bid and ask sizes over the given depth.
func (s *Synchroniser) VolumesAtDepth(depth int) (bidVol, askVol float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.book.BidVolumeAtDepth(depth), s.book.AskVolumeAtDepth(depth)
}
