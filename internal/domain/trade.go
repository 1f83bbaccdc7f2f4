package domain

// Side is the aggressor side of a trade.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Trade represents a single aggressive (taker) trade.
// Immutable once recorded; ArrivalMs is stamped locally at ingest.
type Trade struct {
	Price       float64 `json:"price"`
	Quantity    float64 `json:"quantity"`
	Side        Side    `json:"side"`
	TimestampMs int64   `json:"timestamp_ms"`
	ArrivalMs   int64   `json:"arrival_ms"`
}

// Signed returns the signed quantity: buys positive, sells negative.
func (t Trade) Signed() float64 {
	if t.Side == SideSell {
		return -t.Quantity
	}
	return t.Quantity
}

// PriceLevel is one resting level of the order book.
type PriceLevel struct {
	Price float64
	Size  float64
}

// DepthSnapshot is the normalized REST book snapshot.
type DepthSnapshot struct {
	LastUpdateID int64
	Bids         []PriceLevel
	Asks         []PriceLevel
}

// DepthDiff is one incremental book update. FirstUpdateID/FinalUpdateID
// are the inclusive [U, u] range of the batch.
type DepthDiff struct {
	FirstUpdateID int64
	FinalUpdateID int64
	Bids          []PriceLevel
	Asks          []PriceLevel
	EventTimeMs   int64
}

// BookState tags the synchroniser lifecycle for downstream consumers.
type BookState string

const (
	BookInit   BookState = "INIT"
	BookSynced BookState = "SYNCED"
	BookResync BookState = "RESYNC"
)
