// Package store persists what a run leaves behind: transaction receipts and
// the signature-transfer nonces this client has handed out.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// DBFile is the sqlite database created under the data directory.
const DBFile = "permitflow.db"

// DB is the local sqlite database shared by the receipt store and the
// nonce ledger.
type DB struct {
	db *sql.DB
}

// Open opens (or creates) dataDir/permitflow.db.
func Open(dataDir string) (*DB, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return OpenDSN(filepath.Join(dataDir, DBFile))
}

// OpenDSN opens a database using the given sqlite DSN or path.
// Tests may pass ":memory:" to avoid touching disk.
func OpenDSN(dsn string) (*DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// A single connection keeps ":memory:" databases coherent and
	// serializes writers.
	db.SetMaxOpenConns(1)

	if err := ensureSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &DB{db: db}, nil
}

func ensureSchema(db *sql.DB) error {
	_, err := db.Exec(`
CREATE TABLE IF NOT EXISTS receipts (
	chain TEXT NOT NULL,
	tx_hash TEXT NOT NULL,
	flow TEXT NOT NULL DEFAULT '',
	status INTEGER,
	gas_used INTEGER,
	block_number INTEGER,
	raw_json TEXT,
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (chain, tx_hash)
);
`)
	if err != nil {
		return fmt.Errorf("create receipts table: %w", err)
	}

	_, err = db.Exec(`
CREATE TABLE IF NOT EXISTS nonces (
	nonce_key TEXT PRIMARY KEY,
	state TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);
`)
	if err != nil {
		return fmt.Errorf("create nonces table: %w", err)
	}
	return nil
}

// Close closes the underlying DB.
func (d *DB) Close() error {
	if d == nil || d.db == nil {
		return nil
	}
	return d.db.Close()
}

// Receipts returns the receipt store backed by this database.
func (d *DB) Receipts() *ReceiptStore {
	return &ReceiptStore{db: d.db}
}
