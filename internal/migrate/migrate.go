// Package migrate applies embedded SQL migrations on startup.
package migrate

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"

	"github.com/and161185/sharegate/migrations"
)

// Storage drivers with embedded migrations.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// goose keeps its base FS and dialect in package state.
var mu sync.Mutex

// Up opens dsn with the driver's database/sql driver and runs all pending migrations.
func Up(ctx context.Context, driver, dsn string) error {
	var sqlDriver string
	switch driver {
	case DriverPostgres:
		sqlDriver = "pgx"
	case DriverSQLite:
		sqlDriver = "sqlite3"
	default:
		return fmt.Errorf("migrate: unsupported driver %q", driver)
	}
	db, err := sql.Open(sqlDriver, dsn)
	if err != nil {
		return err
	}
	defer db.Close()
	return UpDB(ctx, db, driver)
}

// UpDB runs all pending migrations of driver against an open database.
func UpDB(ctx context.Context, db *sql.DB, driver string) error {
	var dialect string
	switch driver {
	case DriverPostgres:
		dialect = "postgres"
	case DriverSQLite:
		dialect = "sqlite3"
	default:
		return fmt.Errorf("migrate: unsupported driver %q", driver)
	}

	mu.Lock()
	defer mu.Unlock()

	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect(dialect); err != nil {
		return err
	}
	goose.SetLogger(goose.NopLogger())

	return goose.UpContext(ctx, db, driver)
}
