// Package db owns database connectivity for AppForge.
//
// Postgres is the primary store. When no Postgres is reachable (local
// development, CI) the layer falls back to an embedded SQLite file so the
// service still comes up with full persistence semantics.
package db

import (
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"appforge/internal/logging"
	"appforge/pkg/models"
)

// Config holds Postgres connection settings.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	TimeZone string
}

// DSN renders the gorm postgres connection string.
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=%s TimeZone=%s",
		c.Host, c.User, c.Password, c.DBName, c.Port, c.SSLMode, c.TimeZone)
}

// Database wraps the gorm handle with the driver that backs it.
type Database struct {
	*gorm.DB
	Driver string // "postgres" or "sqlite"
}

// Connect opens the database, preferring Postgres and falling back to an
// embedded SQLite database at sqlitePath when Postgres is unavailable.
func Connect(cfg *Config, sqlitePath string) (*Database, error) {
	gormCfg := &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	gdb, err := gorm.Open(postgres.Open(cfg.DSN()), gormCfg)
	if err == nil {
		if sqlDB, derr := gdb.DB(); derr == nil {
			sqlDB.SetMaxIdleConns(10)
			sqlDB.SetMaxOpenConns(100)
			sqlDB.SetConnMaxLifetime(time.Hour)
		}
		logging.L().Info("connected to postgres",
			zap.String("host", cfg.Host),
			zap.String("database", cfg.DBName))
		return &Database{DB: gdb, Driver: "postgres"}, nil
	}

	logging.L().Warn("postgres unavailable, falling back to sqlite",
		zap.Error(err),
		zap.String("path", sqlitePath))

	gdb, err = gorm.Open(sqlite.Open(sqlitePath), gormCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite fallback: %w", err)
	}
	return &Database{DB: gdb, Driver: "sqlite"}, nil
}

// OpenMemory opens an in-memory SQLite database. Tests use this.
func OpenMemory() (*Database, error) {
	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, err
	}
	return &Database{DB: gdb, Driver: "sqlite"}, nil
}

// Migrate runs auto-migration for every persisted model.
func (d *Database) Migrate() error {
	if err := d.AutoMigrate(
		&models.User{},
		&models.Project{},
		&models.File{},
		&models.Conversation{},
		&models.ChatMessage{},
		&models.AIRequest{},
		&models.BuildRecord{},
		&models.OAuthConnection{},
	); err != nil {
		return fmt.Errorf("auto-migration failed: %w", err)
	}
	logging.L().Info("database migration complete", zap.String("driver", d.Driver))
	return nil
}

// Health pings the underlying connection.
func (d *Database) Health() error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

// Close releases the connection pool.
func (d *Database) Close() error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
