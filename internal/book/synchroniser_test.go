package book

import (
	"testing"

	"orderflow/internal/domain"
)

func syncedAt(t *testing.T, lastID int64) *Synchroniser {
	t.Helper()
	s := NewSynchroniser("BTCUSDT", nil)
	s.ApplySnapshot(snapshot(lastID,
		[]domain.PriceLevel{{Price: 100, Size: 10}},
		[]domain.PriceLevel{{Price: 101, Size: 7}},
	))
	return s
}

func TestSynchroniser_SequenceRule(t *testing.T) {
	s := syncedAt(t, 10)

	// Straddling diff is applied and advances to u.
	res := s.ApplyDiff(domain.DepthDiff{FirstUpdateID: 11, FinalUpdateID: 15})
	if !res.OK || !res.Applied {
		t.Fatalf("expected applied, got %+v", res)
	}
	if s.LastUpdateID() != 15 {
		t.Errorf("LastUpdateID = %d, want 15", s.LastUpdateID())
	}

	res = s.ApplyDiff(domain.DepthDiff{FirstUpdateID: 14, FinalUpdateID: 20})
	if !res.Applied || s.LastUpdateID() != 20 {
		t.Fatalf("overlapping diff should apply; got %+v, lastID=%d", res, s.LastUpdateID())
	}

	// Gap: U > lastUpdateId+1.
	res = s.ApplyDiff(domain.DepthDiff{FirstUpdateID: 22, FinalUpdateID: 25})
	if res.OK || !res.GapDetected {
		t.Fatalf("expected gap, got %+v", res)
	}
	if s.LastUpdateID() != 20 {
		t.Errorf("gap must leave book unchanged; lastID = %d, want 20", s.LastUpdateID())
	}
	if s.State() != domain.BookResync {
		t.Errorf("state = %s, want RESYNC", s.State())
	}

	// Recover, then a stale diff is dropped without touching state.
	s.ApplySnapshot(snapshot(30, nil, nil))
	res = s.ApplyDiff(domain.DepthDiff{FirstUpdateID: 28, FinalUpdateID: 30})
	if !res.OK || !res.Dropped {
		t.Fatalf("expected dropped, got %+v", res)
	}
	if s.LastUpdateID() != 30 {
		t.Errorf("dropped diff must not move lastID; got %d", s.LastUpdateID())
	}
	if s.State() != domain.BookSynced {
		t.Errorf("state = %s, want SYNCED", s.State())
	}
}

func TestSynchroniser_AppliedDiffAdvancesID(t *testing.T) {
	s := syncedAt(t, 10)

	last := s.LastUpdateID()
	for _, d := range []domain.DepthDiff{
		{FirstUpdateID: 11, FinalUpdateID: 12},
		{FirstUpdateID: 13, FinalUpdateID: 13},
		{FirstUpdateID: 12, FinalUpdateID: 16},
	} {
		res := s.ApplyDiff(d)
		if !res.Applied {
			t.Fatalf("diff %+v should apply", d)
		}
		if s.LastUpdateID() <= last {
			t.Errorf("lastUpdateID must strictly increase: %d -> %d", last, s.LastUpdateID())
		}
		if s.LastUpdateID() != d.FinalUpdateID {
			t.Errorf("lastUpdateID = %d, want %d", s.LastUpdateID(), d.FinalUpdateID)
		}
		last = s.LastUpdateID()
	}
}

func TestSynchroniser_GapTriggersCallback(t *testing.T) {
	calls := 0
	s := NewSynchroniser("BTCUSDT", func() { calls++ })
	s.ApplySnapshot(snapshot(10, nil, nil))

	s.ApplyDiff(domain.DepthDiff{FirstUpdateID: 20, FinalUpdateID: 25})
	if calls != 1 {
		t.Errorf("onGap called %d times, want 1", calls)
	}
}

func TestSynchroniser_DiffsBeforeSnapshotDropped(t *testing.T) {
	s := NewSynchroniser("BTCUSDT", nil)

	res := s.ApplyDiff(domain.DepthDiff{FirstUpdateID: 1, FinalUpdateID: 5})
	if !res.Dropped {
		t.Errorf("diff before first snapshot should drop, got %+v", res)
	}
	if s.State() != domain.BookInit {
		t.Errorf("state = %s, want INIT", s.State())
	}
}

func TestSynchroniser_ViewIsCopy(t *testing.T) {
	s := syncedAt(t, 10)

	v := s.View(8)
	if v.State != domain.BookSynced || v.LastUpdateID != 10 {
		t.Fatalf("unexpected view header: %+v", v)
	}
	if len(v.Bids) != 1 || v.Bids[0].Price != 100 {
		t.Fatalf("unexpected bids: %+v", v.Bids)
	}

	// Mutating the view must not touch the book.
	v.Bids[0].Size = 999
	if got := s.View(8).Bids[0].Size; got != 10 {
		t.Errorf("view aliases book state; size = %v, want 10", got)
	}
}

func TestSynchroniser_SnapshotRestoresCrossFreeBook(t *testing.T) {
	s := syncedAt(t, 10)

	v := s.View(1)
	if v.BestBid >= v.BestAsk {
		t.Errorf("crossed book after snapshot: bid %v >= ask %v", v.BestBid, v.BestAsk)
	}
}
