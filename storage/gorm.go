package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// entry is the row type backing GORMStorage.
type entry struct {
	Name  string `gorm:"primaryKey;size:191"`
	Value []byte
}

func (entry) TableName() string { return "gitforge_entries" }

// GORMStorage implements KV on a SQL database via GORM.
// SQLite serves single-node deployments, PostgreSQL shared ones.
type GORMStorage struct {
	db *gorm.DB
}

// NewSQLiteStorage opens (creating if needed) the SQLite database at path.
func NewSQLiteStorage(path string) (*GORMStorage, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	// WAL lets status readers proceed while a setup write is in flight.
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	return newGORMStorage(sqlite.Open(dsn))
}

// NewPostgresStorage connects to PostgreSQL. dsn is a postgres:// URL or a
// key=value connection string.
func NewPostgresStorage(dsn string) (*GORMStorage, error) {
	return newGORMStorage(postgres.Open(dsn))
}

func newGORMStorage(dialector gorm.Dialector) (*GORMStorage, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.AutoMigrate(&entry{}); err != nil {
		return nil, fmt.Errorf("failed to run database migration: %w", err)
	}

	return &GORMStorage{db: db}, nil
}

func (s *GORMStorage) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var row entry
	err := s.db.WithContext(ctx).Where("name = ?", key).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return row.Value, true, nil
}

func (s *GORMStorage) Set(ctx context.Context, key string, value []byte) error {
	row := entry{Name: key, Value: value}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&row).Error
}

func (s *GORMStorage) Delete(ctx context.Context, key string) error {
	return s.db.WithContext(ctx).Where("name = ?", key).Delete(&entry{}).Error
}

func (s *GORMStorage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
