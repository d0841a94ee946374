package database

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver
	_ "modernc.org/sqlite"             // SQLite driver

	"import_tables/internal/platform/config"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

//go:embed schema/*.sql
var schemaFS embed.FS

var DB *sql.DB

// Connect opens the configured database, verifies it and applies the schema.
func Connect() {
	var err error
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch config.AppConfig.DBDriver {
	case DriverSQLite:
		DB, err = Open(ctx, DriverSQLite, config.AppConfig.SQLitePath)
	default:
		DB, err = Open(ctx, DriverPostgres, config.AppConfig.DBConnStr)
	}
	if err != nil {
		log.Fatalf("Error connecting to database: %v", err)
	}
	if err = Migrate(ctx, DB, config.AppConfig.DBDriver); err != nil {
		log.Fatalf("Error applying schema: %v", err)
	}

	fmt.Printf("Successfully connected to %s database!\n", config.AppConfig.DBDriver)
}

// Open returns a pinged handle for driver. SQLite is limited to a single
// connection so that in-memory databases stay shared and writers serialize.
func Open(ctx context.Context, driver, dsn string) (*sql.DB, error) {
	var (
		db  *sql.DB
		err error
	)
	switch driver {
	case DriverPostgres:
		db, err = sql.Open("pgx", dsn)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(25)
		db.SetConnMaxLifetime(5 * time.Minute)
	case DriverSQLite:
		db, err = sql.Open("sqlite", dsn)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		db.SetMaxOpenConns(1)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	if err = db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	return db, nil
}

// Migrate applies the bootstrap DDL for driver. Every statement is idempotent.
func Migrate(ctx context.Context, db *sql.DB, driver string) error {
	if driver != DriverPostgres && driver != DriverSQLite {
		driver = DriverPostgres
	}
	ddl, err := schemaFS.ReadFile("schema/" + driver + ".sql")
	if err != nil {
		return fmt.Errorf("read %s schema: %w", driver, err)
	}
	for _, stmt := range strings.Split(string(ddl), ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate %s: %w", driver, err)
		}
	}
	return nil
}

func Close() {
	if DB != nil {
		DB.Close()
		fmt.Println("Database connection closed.")
	}
}
