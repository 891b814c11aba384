package db

import (
	"fmt"
	"net"
	"strconv"

	"github.com/go-sql-driver/mysql"
	"github.com/zulandar/shoprelay/internal/config"
	"gorm.io/driver/sqlite"
	mysqldriver "gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DSN builds a MySQL DSN from the discrete config fields. An explicit
// cfg.DSN is returned unchanged.
func DSN(cfg config.DatabaseConfig) string {
	if cfg.DSN != "" {
		return cfg.DSN
	}
	return mysqlConfig(cfg, cfg.Name).FormatDSN()
}

func mysqlConfig(cfg config.DatabaseConfig, database string) *mysql.Config {
	mc := mysql.NewConfig()
	mc.User = cfg.User
	mc.Passwd = cfg.Password
	mc.Net = "tcp"
	mc.Addr = net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	mc.DBName = database
	mc.ParseTime = true
	// Status updates report matched rows, not changed rows, so an idempotent
	// pause or resume is not mistaken for a missing record.
	mc.ClientFoundRows = true
	return mc
}

// Open connects using the configured driver.
func Open(cfg config.DatabaseConfig) (*gorm.DB, error) {
	switch cfg.Driver {
	case "mysql":
		return Connect(DSN(cfg))
	case "sqlite", "":
		return ConnectSQLite(cfg.DSN)
	default:
		return nil, fmt.Errorf("db: unsupported driver %q", cfg.Driver)
	}
}

// Connect opens a GORM connection to a MySQL database.
func Connect(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(mysqldriver.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("db: connect mysql: %w", err)
	}
	return db, nil
}

// ConnectSQLite opens a GORM connection to a SQLite file. An in-memory
// database is pinned to a single connection so every caller sees the same
// schema, which also serializes transactions.
func ConnectSQLite(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("db: connect sqlite %s: %w", path, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("db: connect sqlite %s: %w", path, err)
	}
	sqlDB.SetMaxOpenConns(1)
	return db, nil
}

// ConnectAdmin opens a MySQL connection without selecting a database, used
// for CREATE DATABASE operations.
func ConnectAdmin(cfg config.DatabaseConfig) (*gorm.DB, error) {
	db, err := gorm.Open(mysqldriver.Open(mysqlConfig(cfg, "").FormatDSN()), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("db: admin connect to %s:%d: %w", cfg.Host, cfg.Port, err)
	}
	return db, nil
}

// CreateDatabase creates the named database if it doesn't already exist.
func CreateDatabase(adminDB *gorm.DB, name string) error {
	sql := fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s` CHARACTER SET utf8mb4", name)
	if err := adminDB.Exec(sql).Error; err != nil {
		return fmt.Errorf("db: create database %s: %w", name, err)
	}
	return nil
}
