package book

import (
	"sort"

	"orderflow/internal/domain"
)

// OrderBook holds per-symbol L2 state: two price->size maps plus the last
// applied update id. Not safe for concurrent use; the Synchroniser is the
// only writer and guards all access.
type OrderBook struct {
	bids map[float64]float64
	asks map[float64]float64

	lastUpdateID int64

	// Sorted views are rebuilt lazily after mutation.
	sortedBids []domain.PriceLevel // descending by price
	sortedAsks []domain.PriceLevel // ascending by price
	dirty      bool
}

// NewOrderBook creates an empty book. LastUpdateID is -1 until the first
// snapshot is applied.
func NewOrderBook() *OrderBook {
	return &OrderBook{
		bids:         make(map[float64]float64),
		asks:         make(map[float64]float64),
		lastUpdateID: -1,
	}
}

// LastUpdateID returns the sequence number of the last applied update.
func (b *OrderBook) LastUpdateID() int64 {
	return b.lastUpdateID
}

// ApplySnapshot atomically replaces both sides and pins lastUpdateID.
func (b *OrderBook) ApplySnapshot(snap domain.DepthSnapshot) {
	b.bids = make(map[float64]float64, len(snap.Bids))
	b.asks = make(map[float64]float64, len(snap.Asks))
	for _, lvl := range snap.Bids {
		if lvl.Size > 0 {
			b.bids[lvl.Price] = lvl.Size
		}
	}
	for _, lvl := range snap.Asks {
		if lvl.Size > 0 {
			b.asks[lvl.Price] = lvl.Size
		}
	}
	b.lastUpdateID = snap.LastUpdateID
	b.dirty = true
}

// applyLevels upserts (or removes, on size 0) every level of one side.
func applyLevels(side map[float64]float64, levels []domain.PriceLevel) {
	for _, lvl := range levels {
		if lvl.Size == 0 {
			delete(side, lvl.Price)
		} else {
			side[lvl.Price] = lvl.Size
		}
	}
}

// applyDiff applies both sides of a diff and advances lastUpdateID.
// Sequence validation is the Synchroniser's job.
func (b *OrderBook) applyDiff(d domain.DepthDiff) {
	applyLevels(b.bids, d.Bids)
	applyLevels(b.asks, d.Asks)
	b.lastUpdateID = d.FinalUpdateID
	b.dirty = true
}

func (b *OrderBook) rebuild() {
	if !b.dirty {
		return
	}
	b.sortedBids = b.sortedBids[:0]
	for p, s := range b.bids {
		b.sortedBids = append(b.sortedBids, domain.PriceLevel{Price: p, Size: s})
	}
	sort.Slice(b.sortedBids, func(i, j int) bool {
		return b.sortedBids[i].Price > b.sortedBids[j].Price
	})

	b.sortedAsks = b.sortedAsks[:0]
	for p, s := range b.asks {
		b.sortedAsks = append(b.sortedAsks, domain.PriceLevel{Price: p, Size: s})
	}
	sort.Slice(b.sortedAsks, func(i, j int) bool {
		return b.sortedAsks[i].Price < b.sortedAsks[j].Price
	})
	b.dirty = false
}

// Bids returns up to depth best bid levels, descending by price.
func (b *OrderBook) Bids(depth int) []domain.PriceLevel {
	b.rebuild()
	if depth > len(b.sortedBids) {
		depth = len(b.sortedBids)
	}
	out := make([]domain.PriceLevel, depth)
	copy(out, b.sortedBids[:depth])
	return out
}

// Asks returns up to depth best ask levels, ascending by price.
func (b *OrderBook) Asks(depth int) []domain.PriceLevel {
	b.rebuild()
	if depth > len(b.sortedAsks) {
		depth = len(b.sortedAsks)
	}
	out := make([]domain.PriceLevel, depth)
	copy(out, b.sortedAsks[:depth])
	return out
}

// BestBid returns the highest bid price, or 0 if the side is empty.
func (b *OrderBook) BestBid() float64 {
	b.rebuild()
	if len(b.sortedBids) == 0 {
		return 0
	}
	return b.sortedBids[0].Price
}

// BestAsk returns the lowest ask price, or 0 if the side is empty.
func (b *OrderBook) BestAsk() float64 {
	b.rebuild()
	if len(b.sortedAsks) == 0 {
		return 0
	}
	return b.sortedAsks[0].Price
}

// MidPrice returns (bestBid+bestAsk)/2, substituting 0 for a missing side.
func (b *OrderBook) MidPrice() float64 {
	return (b.BestBid() + b.BestAsk()) / 2
}

// BidVolumeAtDepth sums sizes of the depth best bid levels.
func (b *OrderBook) BidVolumeAtDepth(depth int) float64 {
	b.rebuild()
	if depth > len(b.sortedBids) {
		depth = len(b.sortedBids)
	}
	var sum float64
	for _, lvl := range b.sortedBids[:depth] {
		sum += lvl.Size
	}
	return sum
}

// AskVolumeAtDepth sums sizes of the depth best ask levels.
func (b *OrderBook) AskVolumeAtDepth(depth int) float64 {
	b.rebuild()
	if depth > len(b.sortedAsks) {
		depth = len(b.sortedAsks)
	}
	var sum float64
	for _, lvl := range b.sortedAsks[:depth] {
		sum += lvl.Size
	}
	return sum
}
