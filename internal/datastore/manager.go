// Package datastore persists observations, identifications and the
// supporting tables of the consensus pipeline through GORM, on SQLite or MySQL.
package datastore

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"

	"github.com/tphakala/idconsensus/internal/conf"
	"github.com/tphakala/idconsensus/internal/datastore/entities"
	"github.com/tphakala/idconsensus/internal/errors"
	"github.com/tphakala/idconsensus/internal/logger"
	"github.com/tphakala/idconsensus/internal/observation"
)

// Manager owns a database connection and its schema.
type Manager interface {
	// Initialize creates or migrates the schema.
	Initialize(ctx context.Context) error
	// DB returns the underlying GORM database.
	DB() *gorm.DB
	// Path returns the database location (file path for SQLite, host:port/database for MySQL).
	Path() string
	// Close closes the database connection.
	Close() error
	// IsMySQL returns true if this is a MySQL manager.
	IsMySQL() bool
}

// Models lists every table the service owns, in migration order.
func Models() []any {
	return []any{
		&entities.User{},
		&entities.Project{},
		&entities.ProjectUser{},
		&observation.Observation{},
		&observation.Identification{},
		&observation.QualityMetric{},
		&entities.ProjectObservation{},
		&entities.ObservationReview{},
		&entities.TaxonRecord{},
		&entities.OutboxRecord{},
		&entities.ProcessedEffect{},
		&entities.ListRefreshRequest{},
		&entities.Notification{},
	}
}

// NewManager opens the database selected by settings.
func NewManager(settings *conf.DatabaseSettings, log logger.Logger) (Manager, error) {
	switch strings.ToLower(settings.Type) {
	case conf.DatabaseMySQL:
		return NewMySQLManager(&MySQLConfig{
			Settings:      settings.MySQL,
			SlowThreshold: settings.SlowQueryThreshold,
			Logger:        log,
		})
	case conf.DatabaseSQLite, "":
		return NewSQLiteManager(SQLiteConfig{
			Path:          settings.SQLite.Path,
			SlowThreshold: settings.SlowQueryThreshold,
			Logger:        log,
		})
	default:
		return nil, validationError("unsupported database type", "database.type", settings.Type)
	}
}

// SQLiteConfig holds SQLite-specific configuration.
type SQLiteConfig struct {
	Path          string
	SlowThreshold time.Duration
	Logger        logger.Logger
}

// SQLiteManager handles a SQLite database file, or an in-memory database for tests.
type SQLiteManager struct {
	db     *gorm.DB
	dbPath string
}

// NewSQLiteManager opens the database at cfg.Path. ":memory:" opens a private
// in-memory database pinned to a single connection.
func NewSQLiteManager(cfg SQLiteConfig) (*SQLiteManager, error) {
	if cfg.Path == "" {
		return nil, validationError("sqlite path is required", "database.sqlite.path", cfg.Path)
	}

	inMemory := cfg.Path == ":memory:"
	dsn := cfg.Path
	if !inMemory {
		// Build DSN with recommended SQLite pragmas
		dsn = fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=ON", cfg.Path)
	}

	db, err := gorm.Open(sqlite.Open(dsn), gormConfig(cfg.Logger, cfg.SlowThreshold, ""))
	if err != nil {
		return nil, dbError(err, "open_sqlite", errors.PriorityCritical, "path", cfg.Path)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, dbError(err, "open_sqlite", errors.PriorityCritical, "path", cfg.Path)
	}
	// SQLite allows one writer. An in-memory database also disappears with
	// its connection, so it must never be recycled.
	sqlDB.SetMaxOpenConns(1)
	if inMemory {
		sqlDB.SetConnMaxLifetime(0)
		sqlDB.SetMaxIdleConns(1)
	}

	return &SQLiteManager{db: db, dbPath: cfg.Path}, nil
}

// Initialize creates the schema.
func (m *SQLiteManager) Initialize(ctx context.Context) error {
	if err := m.db.WithContext(ctx).AutoMigrate(Models()...); err != nil {
		return dbError(err, "migrate", errors.PriorityCritical, "path", m.dbPath)
	}
	return nil
}

// DB returns the underlying GORM database.
func (m *SQLiteManager) DB() *gorm.DB {
	return m.db
}

// Path returns the database file path.
func (m *SQLiteManager) Path() string {
	return m.dbPath
}

// Close closes the database connection.
func (m *SQLiteManager) Close() error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying database: %w", err)
	}
	return sqlDB.Close()
}

// Exists checks if the database file exists.
func (m *SQLiteManager) Exists() bool {
	if m.dbPath == ":memory:" {
		return true
	}
	_, err := os.Stat(m.dbPath)
	return err == nil
}

// IsMySQL returns false for SQLite manager.
func (m *SQLiteManager) IsMySQL() bool {
	return false
}

// MySQLConfig holds MySQL-specific configuration.
type MySQLConfig struct {
	Settings      conf.MySQLSettings
	SlowThreshold time.Duration
	Logger        logger.Logger
	// TablePrefix namespaces every table, e.g. for a shared schema.
	TablePrefix string
}

// MySQLManager handles a MySQL database.
type MySQLManager struct {
	db       *gorm.DB
	location string // host:port/database for display
}

// NewMySQLManager opens a MySQL connection pool.
func NewMySQLManager(cfg *MySQLConfig) (*MySQLManager, error) {
	s := cfg.Settings
	db, err := gorm.Open(mysql.Open(s.DSN()), gormConfig(cfg.Logger, cfg.SlowThreshold, cfg.TablePrefix))
	if err != nil {
		return nil, dbError(err, "open_mysql", errors.PriorityCritical, "host", s.Host, "database", s.Database)
	}

	// Configure connection pool
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying database: %w", err)
	}
	sqlDB.SetMaxIdleConns(valueOr(s.MaxIdleConns, 10))
	sqlDB.SetMaxOpenConns(valueOr(s.MaxOpenConns, 100))
	sqlDB.SetConnMaxLifetime(valueOr(s.ConnMaxLifetime, time.Hour))

	return &MySQLManager{
		db:       db,
		location: fmt.Sprintf("%s:%s/%s", s.Host, s.Port, s.Database),
	}, nil
}

// Initialize creates the schema tables.
func (m *MySQLManager) Initialize(ctx context.Context) error {
	if err := m.db.WithContext(ctx).AutoMigrate(Models()...); err != nil {
		return dbError(err, "migrate", errors.PriorityCritical, "location", m.location)
	}
	return nil
}

// DB returns the underlying GORM database.
func (m *MySQLManager) DB() *gorm.DB {
	return m.db
}

// Path returns the database location (host:port/database).
func (m *MySQLManager) Path() string {
	return m.location
}

// Close closes the database connection.
func (m *MySQLManager) Close() error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying database: %w", err)
	}
	return sqlDB.Close()
}

// IsMySQL returns true for MySQL manager.
func (m *MySQLManager) IsMySQL() bool {
	return true
}

func gormConfig(log logger.Logger, slow time.Duration, tablePrefix string) *gorm.Config {
	if log == nil {
		log = logger.NewDiscardLogger()
	}
	return &gorm.Config{
		Logger:         logger.NewGormLoggerAdapter(log, slow),
		NamingStrategy: schema.NamingStrategy{TablePrefix: tablePrefix},
		NowFunc:        func() time.Time { return time.Now().UTC() },
		TranslateError: true,
	}
}

func valueOr[T comparable](v, fallback T) T {
	var zero T
	if v == zero {
		return fallback
	}
	return v
}
