package db

import (
	"context"
	"fmt"
	"regexp"

	"github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/suPer8Hu/diagnosis-chatbot/internal/config"
)

var databaseNamePattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// Connect opens a connection pool scoped to one named database.
func Connect(cfg *config.Config, database string, log zerolog.Logger) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.DBDriver {
	case "sqlite":
		dialector = sqlite.Open(cfg.SQLitePath)
	default:
		if !databaseNamePattern.MatchString(database) {
			return nil, fmt.Errorf("invalid database name %q", database)
		}
		dialector = mysql.Open(cfg.MySQLDSN(database))
	}

	gdb, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open %s database %q: %w", cfg.DBDriver, database, err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql db: %w", err)
	}
	sqlDB.SetMaxIdleConns(cfg.DBMaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.DBMaxOpenConns)
	sqlDB.SetConnMaxLifetime(cfg.DBConnLifetime)

	log.Info().
		Str("driver", cfg.DBDriver).
		Str("database", database).
		Msg("database connected")
	return gdb, nil
}

// WithConn checks out one dedicated connection from the pool, runs fn on it
// and releases it on every return path.
func WithConn(ctx context.Context, gdb *gorm.DB, fn func(conn *gorm.DB) error) error {
	return gdb.WithContext(ctx).Connection(func(tx *gorm.DB) error {
		return fn(tx.Session(&gorm.Session{NewDB: true}))
	})
}

// Ping checks that the pool can reach the server.
func Ping(ctx context.Context, gdb *gorm.DB) error {
	sqlDB, err := gdb.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the pool.
func Close(gdb *gorm.DB) error {
	sqlDB, err := gdb.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// CreateDatabase creates the named MySQL database when it does not exist.
func CreateDatabase(ctx context.Context, cfg *config.Config, name string) error {
	return execServer(ctx, cfg, name, "CREATE DATABASE IF NOT EXISTS `%s`")
}

// DropDatabase drops the named MySQL database when it exists.
func DropDatabase(ctx context.Context, cfg *config.Config, name string) error {
	return execServer(ctx, cfg, name, "DROP DATABASE IF EXISTS `%s`")
}

func execServer(ctx context.Context, cfg *config.Config, name, stmt string) error {
	if cfg.DBDriver != "mysql" {
		return fmt.Errorf("database management requires DB_DRIVER=mysql, got %q", cfg.DBDriver)
	}
	// identifiers cannot be bound as parameters
	if !databaseNamePattern.MatchString(name) {
		return fmt.Errorf("invalid database name %q", name)
	}

	gdb, err := gorm.Open(mysql.Open(cfg.MySQLDSN("")), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return fmt.Errorf("open mysql server connection: %w", err)
	}
	defer func() { _ = Close(gdb) }()

	return gdb.WithContext(ctx).Exec(fmt.Sprintf(stmt, name)).Error
}
