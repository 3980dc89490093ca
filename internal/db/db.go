package db

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
)

// NewDB opens the fulfillment database and applies pending goose migrations.
// Callers treat any error as "run without durable storage", so connectivity
// is verified with a ping before migrating.
func NewDB(dsn, migrationsDir string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening fulfillment db: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging fulfillment db: %w", err)
	}
	if err := goose.Up(db, migrationsDir); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating fulfillment db: %w", err)
	}
	return db, nil
}
