package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"orderflow/internal/domain"
)

// BlockedQualityFreeze tags sizing rejected while the quality freeze is
// in effect.
const BlockedQualityFreeze = "quality_freeze"

// SettingsStore persists the execution settings row and the closed-trade
// journal.
type SettingsStore interface {
	LoadSettings(ctx context.Context) (domain.ExecutionSettings, error)
	SaveSettings(ctx context.Context, s *domain.ExecutionSettings) error
	RecordClosedTrade(ctx context.Context, t *domain.ClosedTrade) error
	RecentClosedTrades(ctx context.Context, symbol string, limit int) ([]domain.ClosedTrade, error)
}

// SessionStatus is the admin-surface view of the execution session.
type SessionStatus struct {
	Connected     bool                     `json:"connected"`
	Enabled       bool                     `json:"enabled"`
	QualityFrozen bool                     `json:"quality_frozen"`
	Settings      domain.ExecutionSettings `json:"settings"`
	Ramp          RampState                `json:"ramp"`
}

// Session is the single testnet execution session. It owns the sizing
// ramp, persists settings changes and journals closed trades. Metric
// publication is independent of session state.
type Session struct {
	mu    sync.Mutex
	store SettingsStore

	maxLeverage int
	settings    domain.ExecutionSettings
	connected   bool
	frozen      bool
	ramp        *SizingRamp
}

// NewSession creates a disconnected session bound to the store.
func NewSession(store SettingsStore, maxLeverage int) *Session {
	if maxLeverage <= 0 {
		maxLeverage = 20
	}
	return &Session{
		store:       store,
		maxLeverage: maxLeverage,
	}
}

// Load reads persisted settings and rebuilds the ramp from them.
func (s *Session) Load(ctx context.Context) error {
	settings, err := s.store.LoadSettings(ctx)
	if err != nil {
		return fmt.Errorf("load execution settings: %w", err)
	}

	s.mu.Lock()
	s.settings = settings
	s.ramp = rampFromSettings(settings)
	s.mu.Unlock()
	return nil
}

func rampFromSettings(st domain.ExecutionSettings) *SizingRamp {
	return NewSizingRamp(RampConfig{
		StartingMargin: st.StartingMargin,
		MinMargin:      st.MinMargin,
		RampStepPct:    st.RampStepPct,
		RampDecayPct:   st.RampDecayPct,
		RampMaxMult:    st.RampMaxMult,
	})
}

// Connect activates the session. The symbol must be configured first.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.connected {
		return nil
	}
	if s.settings.Symbol == "" {
		return &domain.ConfigError{Field: "symbol", Err: errors.New("no symbol configured")}
	}
	if s.ramp == nil {
		s.ramp = rampFromSettings(s.settings)
	}
	s.connected = true

	slog.Info("Execution session connected",
		slog.String("symbol", s.settings.Symbol),
		slog.Int("leverage", s.settings.Leverage),
	)
	return nil
}

// Disconnect deactivates the session. Settings and ramp state survive.
func (s *Session) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return
	}
	s.connected = false
	slog.Info("Execution session disconnected", slog.String("symbol", s.settings.Symbol))
}

// SetEnabled toggles order placement and persists the flag.
func (s *Session) SetEnabled(ctx context.Context, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.settings.Enabled = enabled
	s.settings.UpdatedAt = time.Now()
	if err := s.store.SaveSettings(ctx, &s.settings); err != nil {
		return fmt.Errorf("persist enabled flag: %w", err)
	}
	return nil
}

// SetSymbol switches the traded symbol and persists it. Rejected while
// connected: the symbol pins the active market session.
func (s *Session) SetSymbol(ctx context.Context, symbol string) error {
	if symbol == "" {
		return &domain.ConfigError{Field: "symbol", Err: errors.New("empty symbol")}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.connected {
		return &domain.ConfigError{Field: "symbol", Err: errors.New("cannot change symbol while connected")}
	}
	s.settings.Symbol = symbol
	s.settings.UpdatedAt = time.Now()
	if err := s.store.SaveSettings(ctx, &s.settings); err != nil {
		return fmt.Errorf("persist symbol: %w", err)
	}
	return nil
}

// UpdateSettings validates and persists new ramp/leverage settings, then
// rebuilds the ramp from them.
func (s *Session) UpdateSettings(ctx context.Context, st domain.ExecutionSettings) error {
	if st.Leverage < 1 || st.Leverage > s.maxLeverage {
		return &domain.ConfigError{
			Field: "leverage",
			Err:   fmt.Errorf("must be in [1, %d], got %d", s.maxLeverage, st.Leverage),
		}
	}
	if st.StartingMargin.LessThanOrEqual(decimal.Zero) {
		return &domain.ConfigError{Field: "starting_margin", Err: errors.New("must be positive")}
	}
	if st.MinMargin.IsNegative() || st.MinMargin.GreaterThan(st.StartingMargin) {
		return &domain.ConfigError{Field: "min_margin", Err: errors.New("must be in [0, starting_margin]")}
	}
	if st.RampStepPct < 0 || st.RampDecayPct < 0 || st.RampDecayPct >= 100 {
		return &domain.ConfigError{Field: "ramp", Err: errors.New("step must be >= 0 and decay in [0, 100)")}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	st.ID = 1
	if st.Symbol == "" {
		st.Symbol = s.settings.Symbol
	}
	st.Enabled = s.settings.Enabled
	st.UpdatedAt = time.Now()

	if err := s.store.SaveSettings(ctx, &st); err != nil {
		return fmt.Errorf("persist settings: %w", err)
	}
	s.settings = st
	s.ramp = rampFromSettings(st)
	return nil
}

// SetQualityFrozen flips the external freeze assessment. While frozen,
// sizing queries are blocked but metrics keep flowing.
func (s *Session) SetQualityFrozen(frozen bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if frozen != s.frozen {
		slog.Warn("Execution quality freeze changed", slog.Bool("frozen", frozen))
	}
	s.frozen = frozen
}

// RecordClosedTrade journals one round-trip and feeds its realized P&L
// into the sizing ramp.
func (s *Session) RecordClosedTrade(ctx context.Context, t domain.ClosedTrade) error {
	s.mu.Lock()
	ramp := s.ramp
	s.mu.Unlock()

	if err := s.store.RecordClosedTrade(ctx, &t); err != nil {
		return fmt.Errorf("journal closed trade: %w", err)
	}
	if ramp != nil {
		ramp.OnTradeClosed(t.RealizedPnl)
	}
	return nil
}

// Sizing answers a sizing query for the next order, honouring the
// connection and freeze gates.
func (s *Session) Sizing(q SizingQuery) (SizingResult, error) {
	s.mu.Lock()
	connected, frozen, ramp := s.connected, s.frozen, s.ramp
	s.mu.Unlock()

	if !connected || ramp == nil {
		return SizingResult{}, domain.ErrNotConnected
	}
	if frozen {
		return SizingResult{Blocked: true, BlockedReason: BlockedQualityFreeze}, nil
	}
	return ramp.Size(q), nil
}

// Status reads the session state for the admin surface.
func (s *Session) Status() SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := SessionStatus{
		Connected:     s.connected,
		Enabled:       s.settings.Enabled,
		QualityFrozen: s.frozen,
		Settings:      s.settings,
	}
	if s.ramp != nil {
		st.Ramp = s.ramp.State()
	}
	return st
}
