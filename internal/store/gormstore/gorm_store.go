package gormstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"griddca/internal/risk"
	storemodel "griddca/internal/store/model"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

type (
	CycleRecord   = storemodel.CycleModel
	FillRecord    = storemodel.FillModel
	BalanceSample = storemodel.BalanceSampleModel
)

const overridesRowID = 1

// GormStore keeps cycle history, fills, balance samples and overrides in SQLite.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore initializes a new GormStore instance.
func NewGormStore(path string) (*GormStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("gorm store: path cannot be empty")
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(
		&storemodel.CycleModel{},
		&storemodel.FillModel{},
		&storemodel.OverrideModel{},
		&storemodel.BalanceSampleModel{},
	); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &GormStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *GormStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SaveCycle upserts a cycle row.
func (s *GormStore) SaveCycle(ctx context.Context, rec CycleRecord) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&rec).Error
}

// SaveFill upserts a fill by position id; closing a fill rewrites its row.
func (s *GormStore) SaveFill(ctx context.Context, rec FillRecord) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&rec).Error
}

// RecentFills returns the newest n fills, newest first.
func (s *GormStore) RecentFills(ctx context.Context, n int) ([]FillRecord, error) {
	if n <= 0 {
		n = 10
	}
	var out []FillRecord
	err := s.db.WithContext(ctx).Order("fill_time DESC").Limit(n).Find(&out).Error
	return out, err
}

// RecentCycles returns the newest n cycles, newest first.
func (s *GormStore) RecentCycles(ctx context.Context, n int) ([]CycleRecord, error) {
	var out []CycleRecord
	err := s.db.WithContext(ctx).Order("start_time DESC").Limit(n).Find(&out).Error
	return out, err
}

// RealizedSince sums closed-fill P&L booked at or after since.
func (s *GormStore) RealizedSince(ctx context.Context, since time.Time) (decimal.Decimal, int, error) {
	var rows []FillRecord
	if err := s.db.WithContext(ctx).
		Where("closed = ? AND close_time >= ?", true, since).
		Find(&rows).Error; err != nil {
		return decimal.Zero, 0, err
	}
	total := decimal.Zero
	for _, r := range rows {
		total = total.Add(r.PnL)
	}
	return total, len(rows), nil
}

// RecordBalance appends a balance/equity sample.
func (s *GormStore) RecordBalance(ctx context.Context, at time.Time, balance, equity decimal.Decimal) error {
	return s.db.WithContext(ctx).Create(&BalanceSample{At: at, Balance: balance, Equity: equity}).Error
}

// BalanceSeries returns samples at or after since, oldest first.
func (s *GormStore) BalanceSeries(ctx context.Context, since time.Time) ([]BalanceSample, error) {
	var out []BalanceSample
	err := s.db.WithContext(ctx).Where("at >= ?", since).Order("at ASC").Find(&out).Error
	return out, err
}

// SaveOverrides replaces the stored override row.
func (s *GormStore) SaveOverrides(ctx context.Context, o risk.Overrides) error {
	payload, err := json.Marshal(o)
	if err != nil {
		return err
	}
	row := storemodel.OverrideModel{ID: overridesRowID, Payload: datatypes.JSON(payload), UpdatedAt: time.Now()}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error
}

// LoadOverrides returns the stored overrides; ok is false when none were saved.
func (s *GormStore) LoadOverrides(ctx context.Context) (risk.Overrides, bool, error) {
	var row storemodel.OverrideModel
	err := s.db.WithContext(ctx).First(&row, overridesRowID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return risk.Overrides{}, false, nil
	}
	if err != nil {
		return risk.Overrides{}, false, err
	}
	var o risk.Overrides
	if err := json.Unmarshal(row.Payload, &o); err != nil {
		return risk.Overrides{}, false, fmt.Errorf("decode overrides: %w", err)
	}
	return o, true, nil
}
