package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"orderflow/internal/book"
	"orderflow/internal/domain"
	"orderflow/internal/flow"
	"orderflow/internal/infra"
	"orderflow/internal/oi"
)

const (
	// DefaultTickInterval is the envelope publication cadence.
	DefaultTickInterval = 250 * time.Millisecond

	// publishedDepth is how many levels each side of the envelope carries.
	publishedDepth = 8

	obiNearDepth = 10
	obiDeepDepth = 50
)

// Publisher receives assembled envelopes for fan-out.
type Publisher interface {
	Publish(env *domain.MetricsEnvelope)
}

// Assembler joins the per-symbol collaborators into a MetricsEnvelope on
// a fixed cadence. Reads of the book, trade, CVD, OI and funding state are
// non-mutating; each envelope appends one sample to the calculator's
// delta and CVD histories. Each tick runs as a task guarded by an
// in-progress flag so ticks never re-enter.
type Assembler struct {
	symbol string

	books   *book.Synchroniser
	trades  *flow.TradeAggregator
	cvd     *flow.CvdCalculator
	oiMon   *oi.Monitor
	funding *oi.FundingTracker
	calc    *Calculator

	publisher Publisher
	interval  time.Duration

	tickBusy atomic.Bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	now func() time.Time
}

// NewAssembler wires an assembler over the symbol's components.
func NewAssembler(
	symbol string,
	books *book.Synchroniser,
	trades *flow.TradeAggregator,
	cvd *flow.CvdCalculator,
	oiMon *oi.Monitor,
	funding *oi.FundingTracker,
	calc *Calculator,
	publisher Publisher,
	interval time.Duration,
) *Assembler {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	return &Assembler{
		symbol:    symbol,
		books:     books,
		trades:    trades,
		cvd:       cvd,
		oiMon:     oiMon,
		funding:   funding,
		calc:      calc,
		publisher: publisher,
		interval:  interval,
		now:       time.Now,
	}
}

// Start begins the periodic tick until the context is cancelled.
func (a *Assembler) Start(ctx context.Context) {
	ctx, a.cancel = context.WithCancel(ctx)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()

		ticker := time.NewTicker(a.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				a.tick()
			}
		}
	}()
}

// Stop cancels the tick loop and waits for it to exit.
func (a *Assembler) Stop() {
	if a.cancel != nil {
		a.cancel()
		a.wg.Wait()
	}
}

func (a *Assembler) tick() {
	if !a.tickBusy.CompareAndSwap(false, true) {
		return
	}
	defer a.tickBusy.Store(false)

	env := a.BuildEnvelope(a.now().UnixMilli())
	a.publisher.Publish(env)
	infra.GlobalMetrics.RecordEnvelope()
}

// BuildEnvelope assembles one envelope at the given canonical time.
// While the book is resyncing the state tag is STALE and levels are
// elided, but metric scalars are still published.
func (a *Assembler) BuildEnvelope(nowMs int64) *domain.MetricsEnvelope {
	view := a.books.View(publishedDepth)
	bid10, ask10 := a.books.VolumesAtDepth(obiNearDepth)
	bid50, ask50 := a.books.VolumesAtDepth(obiDeepDepth)

	env := &domain.MetricsEnvelope{
		Type:            "metrics",
		Symbol:          a.symbol,
		CanonicalTimeMs: nowMs,
		Price:           view.MidPrice,
		TimeAndSales:    a.trades.Summary(),
		Cvd:             a.cvd.Frames(nowMs),
		OpenInterest:    a.oiMon.Block(),
		Funding:         a.funding.Block(),
		LegacyMetrics:   a.calc.Compute(bid10, ask10, bid50, ask50, nowMs),
	}

	if view.State == domain.BookSynced {
		env.State = domain.EnvelopeStateLive
		env.Bids = cumulativeLevels(view.Bids)
		env.Asks = cumulativeLevels(view.Asks)
	} else {
		env.State = domain.EnvelopeStateStale
	}
	return env
}

// cumulativeLevels converts price levels into [price, size, cumulative]
// triples in book order.
func cumulativeLevels(levels []domain.PriceLevel) []domain.BookLevel {
	out := make([]domain.BookLevel, len(levels))
	var cum float64
	for i, lvl := range levels {
		cum += lvl.Size
		out[i] = domain.BookLevel{lvl.Price, lvl.Size, cum}
	}
	return out
}
