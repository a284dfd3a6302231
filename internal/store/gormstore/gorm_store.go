// Package gormstore implements the persistence surface on Gorm + SQLite.
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

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"helmsman/internal/store"
	"helmsman/internal/store/model"
	"helmsman/internal/strategy"
)

// ErrNotFound aliases the store package sentinel.
var ErrNotFound = store.ErrNotFound

// GormStore implements store.Store using Gorm + SQLite.
type GormStore struct {
	db *gorm.DB
}

// New opens (or creates) the SQLite database at path and migrates the
// schema. WAL mode keeps the manager's writes from blocking HTTP reads.
func New(path string) (*GormStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("gorm store: database path required")
	}
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	// go-gorm/sqlite rides on mattn/go-sqlite3, which reads its connection
	// options as underscore-prefixed keys, not the _pragma=... form.
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   gormlogger.Default.LogMode(gormlogger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(
		&model.StrategyRecord{},
		&model.OrderRecord{},
		&model.ErrorEventRecord{},
	); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite + WAL: allow a little read parallelism, keep write contention low.
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &GormStore{db: db}, nil
}

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

func (s *GormStore) LoadStrategies(ctx context.Context) ([]model.StrategyRecord, error) {
	var recs []model.StrategyRecord
	if err := s.db.WithContext(ctx).Order("created_at").Find(&recs).Error; err != nil {
		return nil, err
	}
	return recs, nil
}

func (s *GormStore) CreateStrategy(ctx context.Context, rec *model.StrategyRecord) error {
	now := time.Now().Unix()
	rec.CreatedAtUnix = now
	rec.UpdatedAtUnix = now
	return s.db.WithContext(ctx).Create(rec).Error
}

func (s *GormStore) FindStrategy(ctx context.Context, id string) (*model.StrategyRecord, error) {
	var rec model.StrategyRecord
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *GormStore) FindStrategyByName(ctx context.Context, name string) (*model.StrategyRecord, error) {
	var rec model.StrategyRecord
	err := s.db.WithContext(ctx).Where("name = ?", name).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *GormStore) SaveStrategyState(ctx context.Context, id string, state strategy.State, health strategy.Health) error {
	healthJSON, err := json.Marshal(health)
	if err != nil {
		return fmt.Errorf("marshal health record: %w", err)
	}
	res := s.db.WithContext(ctx).Model(&model.StrategyRecord{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"state":       string(state),
			"health_json": healthJSON,
			"updated_at":  time.Now().Unix(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) TouchStrategy(ctx context.Context, id string, checkedAtUnix int64) error {
	return s.db.WithContext(ctx).Model(&model.StrategyRecord{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"last_checked_at": checkedAtUnix,
			"updated_at":      time.Now().Unix(),
		}).Error
}

func (s *GormStore) AppendOrder(ctx context.Context, rec *model.OrderRecord) error {
	return s.db.WithContext(ctx).Create(rec).Error
}

func (s *GormStore) ListOrders(ctx context.Context, strategyID string) ([]model.OrderRecord, error) {
	var recs []model.OrderRecord
	err := s.db.WithContext(ctx).
		Where("strategy_id = ?", strategyID).
		Order("id").
		Find(&recs).Error
	if err != nil {
		return nil, err
	}
	return recs, nil
}

func (s *GormStore) AppendErrorEvent(ctx context.Context, rec *model.ErrorEventRecord) error {
	if rec.CreatedAtUnix == 0 {
		rec.CreatedAtUnix = time.Now().Unix()
	}
	return s.db.WithContext(ctx).Create(rec).Error
}

func (s *GormStore) ListErrorEvents(ctx context.Context, strategyID string, limit int) ([]model.ErrorEventRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var recs []model.ErrorEventRecord
	err := s.db.WithContext(ctx).
		Where("strategy_id = ?", strategyID).
		Order("id DESC").
		Limit(limit).
		Find(&recs).Error
	if err != nil {
		return nil, err
	}
	return recs, nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
