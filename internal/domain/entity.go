package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ExecutionSettings is the persisted execution-session configuration.
// A single row (ID=1) is kept; updates overwrite it.
type ExecutionSettings struct {
	ID             uint            `gorm:"primaryKey" json:"-"`
	Symbol         string          `json:"symbol"`
	Leverage       int             `json:"leverage"`
	StartingMargin decimal.Decimal `gorm:"type:text" json:"starting_margin"`
	MinMargin      decimal.Decimal `gorm:"type:text" json:"min_margin"`
	RampStepPct    float64         `json:"ramp_step_pct"`
	RampDecayPct   float64         `json:"ramp_decay_pct"`
	RampMaxMult    float64         `json:"ramp_max_mult"`
	Enabled        bool            `json:"enabled"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// ClosedTrade is one journaled round-trip on the testnet session.
// Realized P&L drives the sizing ramp.
type ClosedTrade struct {
	ID          uint            `gorm:"primaryKey" json:"id"`
	Symbol      string          `gorm:"index" json:"symbol"`
	Side        string          `json:"side"`
	Quantity    decimal.Decimal `gorm:"type:text" json:"quantity"`
	EntryPrice  decimal.Decimal `gorm:"type:text" json:"entry_price"`
	ExitPrice   decimal.Decimal `gorm:"type:text" json:"exit_price"`
	RealizedPnl decimal.Decimal `gorm:"type:text" json:"realized_pnl"`
	ClosedAt    time.Time       `gorm:"index" json:"closed_at"`
}
