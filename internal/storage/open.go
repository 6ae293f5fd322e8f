package storage

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"reportbot/backend/internal/logging"
	"reportbot/backend/internal/models"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Open connects to the database named by dsn and brings the schema up to date.
// Postgres DSNs run the embedded goose migrations; anything else opens SQLite
// and relies on AutoMigrate.
func Open(dsn string) (*gorm.DB, error) {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" {
		return nil, fmt.Errorf("db: empty dsn")
	}

	dialect, err := DetectDialect(trimmed)
	if err != nil {
		return nil, err
	}

	var db *gorm.DB
	switch dialect {
	case DialectPostgres:
		db, err = openPostgres(trimmed)
	default:
		db, err = openSQLite(trimmed)
	}
	if err != nil {
		return nil, err
	}
	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// DetectDialect infers the dialect from a DSN string.
func DetectDialect(dsn string) (string, error) {
	lower := strings.ToLower(strings.TrimSpace(dsn))
	switch {
	case strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://"):
		return DialectPostgres, nil
	case strings.Contains(lower, "host=") || strings.Contains(lower, "dbname=") || strings.Contains(lower, "sslmode="):
		return DialectPostgres, nil
	case strings.HasPrefix(lower, "file:"),
		strings.HasPrefix(lower, "sqlite://"),
		!strings.Contains(lower, "://"):
		return DialectSQLite, nil
	default:
		return "", fmt.Errorf("db: unsupported dsn: %s", dsn)
	}
}

func openPostgres(dsn string) (*gorm.DB, error) {
	sqlDB, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("db: open: %w", err)
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(25)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if errPing := sqlDB.PingContext(pingCtx); errPing != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("db: ping: %w", errPing)
	}

	conn, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger:         logging.GormLogger(),
		TranslateError: true,
		NowFunc:        utcNow,
	})
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("db: open: %w", err)
	}
	return conn, nil
}

func openSQLite(dsn string) (*gorm.DB, error) {
	path := strings.TrimPrefix(dsn, "sqlite://")
	conn, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger:  logging.GormLogger(),
		NowFunc: utcNow,
	})
	if err != nil {
		return nil, fmt.Errorf("db: open sqlite: %w", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		return nil, fmt.Errorf("db: sqlite handle: %w", err)
	}
	// SQLite serialises writers anyway; one connection avoids SQLITE_BUSY.
	sqlDB.SetMaxOpenConns(1)
	return conn, nil
}

// Timestamps are stored in UTC so range filters compare like with like on SQLite.
func utcNow() time.Time { return time.Now().UTC() }

// Migrate creates or upgrades the schema for the connection's dialect.
func Migrate(db *gorm.DB) error {
	if db.Dialector.Name() == DialectPostgres {
		sqlDB, err := db.DB()
		if err != nil {
			return fmt.Errorf("db: migrate: %w", err)
		}
		goose.SetBaseFS(migrationsFS)
		if err := goose.SetDialect("postgres"); err != nil {
			return fmt.Errorf("failed to set goose dialect: %w", err)
		}
		if err := goose.Up(sqlDB, "migrations"); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		return nil
	}

	if err := db.AutoMigrate(
		&models.User{},
		&models.Admin{},
		&models.OTPRecord{},
		&models.Report{},
		&models.ActivityLogEntry{},
	); err != nil {
		return fmt.Errorf("db: automigrate: %w", err)
	}
	return nil
}
