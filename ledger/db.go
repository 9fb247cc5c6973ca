// Package ledger is the durable record of verified payments: services,
// transactions, and pending fee transfers. Writes are idempotent on the
// transaction hash so a duplicate proof never produces a duplicate row.
package ledger

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// Open opens (or creates) the ledger database at the given path and ensures
// the schema exists. Pass ":memory:" for an in-memory database.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if dsn == ":memory:" {
		// each pooled connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set wal mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}
	return db, nil
}

func createTables(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS services (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			category TEXT NOT NULL DEFAULT 'general',
			network TEXT NOT NULL DEFAULT 'base',
			created_at DATETIME NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS transactions (
			transaction_hash TEXT PRIMARY KEY,
			settlement_hash TEXT,
			synthesized INTEGER NOT NULL DEFAULT 0,
			service_id TEXT NOT NULL,
			payer TEXT NOT NULL,
			merchant TEXT NOT NULL,
			amount TEXT NOT NULL,
			fee_amount TEXT NOT NULL,
			merchant_amount TEXT NOT NULL,
			token TEXT NOT NULL,
			chain_id INTEGER NOT NULL,
			price_display TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			verified_at DATETIME,
			FOREIGN KEY (service_id) REFERENCES services(id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_service ON transactions(service_id)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_status ON transactions(status)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_created_at ON transactions(created_at)`,

		`CREATE TABLE IF NOT EXISTS fees (
			id TEXT PRIMARY KEY,
			transaction_hash TEXT UNIQUE NOT NULL,
			amount TEXT NOT NULL,
			recipient TEXT NOT NULL,
			transferred INTEGER NOT NULL DEFAULT 0,
			transferred_at DATETIME,
			FOREIGN KEY (transaction_hash) REFERENCES transactions(transaction_hash)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_fees_transferred ON fees(transferred)`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt[:40], err)
		}
	}
	return nil
}
