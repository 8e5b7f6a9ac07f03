package sqlite

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"klinecast/internal/store"
	"klinecast/internal/store/model"
)

// SqliteStore backs the run log with a single sqlite file.
type SqliteStore struct {
	db *gorm.DB
}

func NewSqliteStore(path string) (*SqliteStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&model.PredictionRunModel{}); err != nil {
		return nil, err
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(2)
		sqlDB.SetMaxIdleConns(2)
	}
	return &SqliteStore{db: db}, nil
}

func (s *SqliteStore) Runs() store.RunRepository {
	return &runRepo{db: s.db}
}

func (s *SqliteStore) Close() error {
	if s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

type runRepo struct {
	db *gorm.DB
}

func (r *runRepo) Save(ctx context.Context, run *model.PredictionRunModel) error {
	if run == nil {
		return fmt.Errorf("run cannot be nil")
	}
	return r.db.WithContext(ctx).Save(run).Error
}

func (r *runRepo) FindByID(ctx context.Context, id string) (*model.PredictionRunModel, error) {
	var run model.PredictionRunModel
	if err := r.db.WithContext(ctx).First(&run, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &run, nil
}

func (r *runRepo) ListRecent(ctx context.Context, limit int) ([]model.PredictionRunModel, error) {
	if limit <= 0 {
		limit = 20
	}
	var runs []model.PredictionRunModel
	err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Find(&runs).Error
	return runs, err
}

var _ store.Store = (*SqliteStore)(nil)
