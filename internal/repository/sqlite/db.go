// Package sqlite contains SQLite implementations of repository interfaces for
// single-node deployments.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/mattn/go-sqlite3"
)

// DB wraps a database/sql handle opened with the sqlite3 driver.
type DB struct{ SQL *sql.DB }

// Open opens the database at dsn. SQLite serializes writers, so the pool is
// limited to one connection.
func Open(ctx context.Context, dsn string) (*DB, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &DB{SQL: db}, nil
}

// Close closes the underlying handle.
func (db *DB) Close() error { return db.SQL.Close() }

// isUniqueViolation reports whether the error is a unique constraint violation.
func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintUnique
}

// ts normalizes times so that stored text sorts chronologically.
func ts(t time.Time) time.Time { return t.UTC() }

func tsPtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func int64Ptr(n *int64) any {
	if n == nil {
		return nil
	}
	return *n
}
