package engine

import (
	"math"
	"sync"

	"orderflow/internal/domain"
	"orderflow/internal/flow"
)

const (
	// tapeSpanMs bounds the calculator's own trade tape, kept separate
	// from the aggregator's window so each bounds its own memory.
	tapeSpanMs = 10_000

	// histLen is the sample count backing the z-score and CVD slope.
	histLen = 60

	// minZSamples gates the z-score until the history is meaningful.
	minZSamples = 5

	epsilon = 1e-9
)

// Calculator derives the composite book/tape metrics: OBI at two depths,
// short-horizon deltas with a rolling z-score, session CVD with its
// least-squares slope, and session VWAP.
//
// Delta and CVD histories are sampled once per Compute call, so the
// z-score and slope horizons follow the assembler cadence.
type Calculator struct {
	mu sync.Mutex

	tape *flow.Window

	deltaHist []float64
	cvdHist   []float64

	cvdSession    float64
	totalNotional float64
	totalVolume   float64
}

// NewCalculator creates an empty calculator; session accumulators run
// from construction.
func NewCalculator() *Calculator {
	return &Calculator{
		tape: flow.NewWindow(tapeSpanMs, flow.MaxWindowEntries),
	}
}

// AddTrade feeds one trade into the tape and the session accumulators.
func (c *Calculator) AddTrade(t domain.Trade) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.tape.Add(t)
	c.cvdSession += t.Signed()
	c.totalNotional += t.Price * t.Quantity
	c.totalVolume += t.Quantity
}

// CvdSession returns the running signed-quantity sum since construction.
func (c *Calculator) CvdSession() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cvdSession
}

// obi is the normalised signed difference of two volumes, 0 when the
// denominator vanishes.
func obi(near, far float64) float64 {
	denom := near + far
	if denom < epsilon {
		return 0
	}
	return (near - far) / denom
}

// Compute reads the current composite metrics. Book volumes at depth 10
// and 50 come from the caller; nowMs is the assembler's canonical time,
// used as the delta reference when the tape is empty.
func (c *Calculator) Compute(bid10, ask10, bid50, ask50 float64, nowMs int64) domain.LegacyMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()

	var m domain.LegacyMetrics

	m.ObiWeighted = obi(bid10, ask10)
	m.ObiDeep = obi(bid50, ask50)
	m.ObiDivergence = m.ObiWeighted - m.ObiDeep

	refTime := c.tape.RefTimeMs()
	if refTime == 0 {
		refTime = nowMs
	}

	for _, t := range c.tape.Entries() {
		signed := t.Signed()
		if t.TimestampMs >= refTime-1000 {
			m.Delta1s += signed
		}
		if t.TimestampMs >= refTime-5000 {
			m.Delta5s += signed
		}
	}

	c.deltaHist = appendCapped(c.deltaHist, m.Delta1s, histLen)
	m.DeltaZ = zScore(c.deltaHist, m.Delta1s)

	m.CvdSession = c.cvdSession
	c.cvdHist = appendCapped(c.cvdHist, c.cvdSession, histLen)
	m.CvdSlope = slope(c.cvdHist)

	if c.totalVolume > epsilon {
		m.Vwap = c.totalNotional / c.totalVolume
	}
	return m
}

// appendCapped pushes v and keeps at most capN trailing samples.
func appendCapped(hist []float64, v float64, capN int) []float64 {
	hist = append(hist, v)
	if len(hist) > capN {
		hist = append(hist[:0], hist[len(hist)-capN:]...)
	}
	return hist
}

// zScore is the standard score of v against the history using population
// variance; 0 while the history is short or degenerate.
func zScore(hist []float64, v float64) float64 {
	if len(hist) < minZSamples {
		return 0
	}
	var sum float64
	for _, x := range hist {
		sum += x
	}
	mean := sum / float64(len(hist))

	var variance float64
	for _, x := range hist {
		d := x - mean
		variance += d * d
	}
	variance /= float64(len(hist))

	std := math.Sqrt(variance)
	if std < epsilon {
		return 0
	}
	return (v - mean) / std
}

// slope fits y = a + b*x over integer x by least squares and returns b;
// 0 for degenerate inputs.
func slope(ys []float64) float64 {
	n := len(ys)
	if n < 2 {
		return 0
	}
	var sumX, sumY, sumXY, sumXX float64
	for i, y := range ys {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}
	fn := float64(n)
	denom := fn*sumXX - sumX*sumX
	if math.Abs(denom) < epsilon {
		return 0
	}
	return (fn*sumXY - sumX*sumY) / denom
}
