package db

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
	_ "modernc.org/sqlite"

	"github.com/TropTix/troptix/pkg/config"
)

var ErrUnsupportedDriver = errors.New("unsupported DB driver")

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

func Open(cfg config.Config) (*gorm.DB, error) {
	dialector, err := Dialector(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		return nil, err
	}
	gormLogger := logger.Default.LogMode(logger.Silent)
	gcfg := &gorm.Config{
		Logger:                 gormLogger,
		SkipDefaultTransaction: false,
		PrepareStmt:            true,
		TranslateError:         true,
		NamingStrategy: schema.NamingStrategy{
			SingularTable: true,
		},
	}
	db, err := gorm.Open(dialector, gcfg)
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	maxOpen := cfg.DBMaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 50
	}
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetConnMaxLifetime(60 * time.Minute)
	sqlDB.SetConnMaxIdleTime(10 * time.Minute)
	return db, nil
}

// Dialector picks the gorm dialect for a configured driver name.
// Postgres runs on lib/pq; SQLite runs on the pure-Go modernc engine.
func Dialector(driver, dsn string) (gorm.Dialector, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("database dsn is required")
	}
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", DriverPostgres:
		return postgres.New(postgres.Config{DriverName: "postgres", DSN: dsn}), nil
	case DriverSQLite:
		return &sqlite.Dialector{DriverName: "sqlite", DSN: SQLiteDSN(dsn)}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, driver)
	}
}

// SQLiteDSN appends the pragmas the store relies on unless the caller set its own.
func SQLiteDSN(path string) string {
	if strings.Contains(path, "?") {
		return path
	}
	return filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(1)"
}
