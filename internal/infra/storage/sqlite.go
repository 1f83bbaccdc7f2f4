package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"orderflow/internal/domain"
)

// DefaultDBPath is used when the config leaves the path empty.
const DefaultDBPath = "data/orderflow.db"

// Storage persists the execution settings row and the closed-trade
// journal in a pure-Go SQLite database.
type Storage struct {
	db *gorm.DB
}

// NewStorage opens (creating if needed) the database at path and runs
// migrations.
func NewStorage(path string) (*Storage, error) {
	if path == "" {
		path = DefaultDBPath
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.AutoMigrate(&domain.ExecutionSettings{}, &domain.ClosedTrade{}); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	return &Storage{db: db}, nil
}

// defaultSettings is the row handed out before any settings were saved.
func defaultSettings() domain.ExecutionSettings {
	return domain.ExecutionSettings{
		ID:             1,
		Leverage:       5,
		StartingMargin: decimal.NewFromInt(100),
		MinMargin:      decimal.NewFromInt(10),
		RampStepPct:    10,
		RampDecayPct:   20,
		RampMaxMult:    3,
		UpdatedAt:      time.Now(),
	}
}

// LoadSettings returns the persisted settings row, or defaults when none
// has been saved yet.
func (s *Storage) LoadSettings(ctx context.Context) (domain.ExecutionSettings, error) {
	var settings domain.ExecutionSettings
	err := s.db.WithContext(ctx).First(&settings, 1).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return defaultSettings(), nil
	}
	if err != nil {
		return domain.ExecutionSettings{}, fmt.Errorf("load settings: %w", err)
	}
	return settings, nil
}

// SaveSettings overwrites the single settings row.
func (s *Storage) SaveSettings(ctx context.Context, settings *domain.ExecutionSettings) error {
	settings.ID = 1
	if err := s.db.WithContext(ctx).Save(settings).Error; err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}

// RecordClosedTrade appends one round-trip to the journal.
func (s *Storage) RecordClosedTrade(ctx context.Context, t *domain.ClosedTrade) error {
	if t.ClosedAt.IsZero() {
		t.ClosedAt = time.Now()
	}
	if err := s.db.WithContext(ctx).Create(t).Error; err != nil {
		return fmt.Errorf("record closed trade: %w", err)
	}
	return nil
}

// RecentClosedTrades returns the newest journal entries, newest first.
// An empty symbol matches all symbols.
func (s *Storage) RecentClosedTrades(ctx context.Context, symbol string, limit int) ([]domain.ClosedTrade, error) {
	if limit <= 0 {
		limit = 50
	}
	q := s.db.WithContext(ctx).Order("closed_at DESC").Limit(limit)
	if symbol != "" {
		q = q.Where("symbol = ?", symbol)
	}

	var trades []domain.ClosedTrade
	if err := q.Find(&trades).Error; err != nil {
		return nil, fmt.Errorf("list closed trades: %w", err)
	}
	return trades, nil
}
