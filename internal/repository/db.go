package repository

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// InitDB opens (or creates) the transparency store at the given path and
// ensures the schema exists. Pass ":memory:" for an in-memory database.
func InitDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set wal mode: %w", err)
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}

	return db, nil
}

func createTables(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS donation_records (
			id TEXT PRIMARY KEY,
			transaction_id TEXT UNIQUE NOT NULL,
			payer_identity TEXT NOT NULL,
			recipient_name TEXT NOT NULL,
			recipient_destination TEXT NOT NULL,
			amount INTEGER NOT NULL,
			currency TEXT NOT NULL,
			ledger TEXT NOT NULL,
			status TEXT NOT NULL,
			recorded_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_donation_records_ledger ON donation_records(ledger)`,
		`CREATE INDEX IF NOT EXISTS idx_donation_records_recipient ON donation_records(recipient_name)`,
		`CREATE INDEX IF NOT EXISTS idx_donation_records_recorded_at ON donation_records(recorded_at)`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt[:40], err)
		}
	}

	return nil
}
