package execution

import (
	"sync"

	"github.com/shopspring/decimal"
)

// RampConfig holds the sizing-ramp tunables. Bounds derive as
// min = max(0, MinMargin) and max = max(min, StartingMargin * max(1, RampMaxMult)).
type RampConfig struct {
	StartingMargin decimal.Decimal
	MinMargin      decimal.Decimal
	RampStepPct    float64
	RampDecayPct   float64
	RampMaxMult    float64
}

// RampState is a point-in-time read of the ramp.
type RampState struct {
	Budget       decimal.Decimal `json:"budget"`
	RampMult     float64         `json:"ramp_mult"`
	SuccessCount int             `json:"success_count"`
	FailCount    int             `json:"fail_count"`
}

// SizingQuery asks how large the next order may be at current market
// conditions.
type SizingQuery struct {
	MarkPrice   decimal.Decimal
	StepSize    decimal.Decimal
	MinNotional decimal.Decimal
	Leverage    int
}

// SizingResult is the answer to a SizingQuery. When Blocked is set the
// remaining fields describe the rejected order.
type SizingResult struct {
	Quantity       decimal.Decimal `json:"quantity"`
	Notional       decimal.Decimal `json:"notional"`
	MarginRequired decimal.Decimal `json:"margin_required"`
	Blocked        bool            `json:"blocked"`
	BlockedReason  string          `json:"blocked_reason,omitempty"`
}

// BlockedMinNotional tags a sizing result rejected for falling below the
// exchange minimum notional.
const BlockedMinNotional = "min_notional"

// SizingRamp adapts the per-order margin budget to realised P&L: the
// budget grows multiplicatively on wins and decays on losses, clamped to
// [minMargin, startingMargin * maxMult] after every transition.
type SizingRamp struct {
	mu  sync.Mutex
	cfg RampConfig

	budget       decimal.Decimal
	minBound     decimal.Decimal
	maxBound     decimal.Decimal
	successCount int
	failCount    int
}

// NewSizingRamp creates a ramp with the budget pinned at the clamped
// starting margin.
func NewSizingRamp(cfg RampConfig) *SizingRamp {
	minBound := cfg.MinMargin
	if minBound.IsNegative() {
		minBound = decimal.Zero
	}

	maxMult := cfg.RampMaxMult
	if maxMult < 1 {
		maxMult = 1
	}
	maxBound := cfg.StartingMargin.Mul(decimal.NewFromFloat(maxMult))
	if maxBound.LessThan(minBound) {
		maxBound = minBound
	}

	r := &SizingRamp{
		cfg:      cfg,
		minBound: minBound,
		maxBound: maxBound,
	}
	r.budget = r.clamp(cfg.StartingMargin)
	return r
}

func (r *SizingRamp) clamp(v decimal.Decimal) decimal.Decimal {
	if v.LessThan(r.minBound) {
		return r.minBound
	}
	if v.GreaterThan(r.maxBound) {
		return r.maxBound
	}
	return v
}

// OnTradeClosed applies one realised P&L observation to the budget.
func (r *SizingRamp) OnTradeClosed(pnl decimal.Decimal) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if pnl.IsPositive() {
		r.successCount++
		factor := decimal.NewFromFloat(1 + r.cfg.RampStepPct/100)
		r.budget = r.clamp(r.budget.Mul(factor))
	} else {
		r.failCount++
		factor := decimal.NewFromFloat(1 - r.cfg.RampDecayPct/100)
		r.budget = r.clamp(r.budget.Mul(factor))
	}
}

// State reads the current ramp state.
func (r *SizingRamp) State() RampState {
	r.mu.Lock()
	defer r.mu.Unlock()

	var mult float64
	if r.cfg.StartingMargin.IsPositive() {
		mult, _ = r.budget.Div(r.cfg.StartingMargin).Float64()
	}
	return RampState{
		Budget:       r.budget,
		RampMult:     mult,
		SuccessCount: r.successCount,
		FailCount:    r.failCount,
	}
}

// Size answers a sizing query against the current budget. Quantity is
// floored to the exchange step size; orders whose rounded notional falls
// below the exchange minimum are blocked rather than resized upward.
func (r *SizingRamp) Size(q SizingQuery) SizingResult {
	r.mu.Lock()
	budget := r.budget
	r.mu.Unlock()

	leverage := q.Leverage
	if leverage < 1 {
		leverage = 1
	}
	lev := decimal.NewFromInt(int64(leverage))

	if q.MarkPrice.IsZero() || q.StepSize.IsZero() {
		return SizingResult{Blocked: true, BlockedReason: BlockedMinNotional}
	}

	notional := budget.Mul(lev)
	qty := notional.Div(q.MarkPrice)
	qtyRounded := qty.Div(q.StepSize).Floor().Mul(q.StepSize)
	computedNotional := qtyRounded.Mul(q.MarkPrice)

	if !qtyRounded.IsPositive() || computedNotional.LessThan(q.MinNotional) {
		return SizingResult{
			Quantity:      qtyRounded,
			Notional:      computedNotional,
			Blocked:       true,
			BlockedReason: BlockedMinNotional,
		}
	}

	return SizingResult{
		Quantity:       qtyRounded,
		Notional:       computedNotional,
		MarginRequired: computedNotional.Div(lev),
	}
}
