package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
)

var ErrReceiptNotFound = errors.New("receipt not found")

// ReceiptStore persists transaction receipts keyed by chain and tx hash.
type ReceiptStore struct {
	db *sql.DB
}

// StoredReceipt is a receipt row together with the flow that produced it.
type StoredReceipt struct {
	Chain       string
	TxHash      string
	Flow        string
	Status      uint64
	GasUsed     uint64
	BlockNumber uint64
	RawJSON     string
	CreatedAt   time.Time
}

// Upsert records receipt as produced by flow on chain.
func (s *ReceiptStore) Upsert(ctx context.Context, chain, flow string, receipt *types.Receipt) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("receipt store not initialized")
	}
	if chain == "" {
		return fmt.Errorf("chain is required")
	}
	if receipt == nil {
		return fmt.Errorf("receipt is required")
	}

	raw, err := json.Marshal(receipt)
	if err != nil {
		return fmt.Errorf("marshal receipt: %w", err)
	}
	var block uint64
	if receipt.BlockNumber != nil {
		block = receipt.BlockNumber.Uint64()
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO receipts (chain, tx_hash, flow, status, gas_used, block_number, raw_json)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(chain, tx_hash) DO UPDATE SET
	flow=excluded.flow,
	status=excluded.status,
	gas_used=excluded.gas_used,
	block_number=excluded.block_number,
	raw_json=excluded.raw_json
`, chain, receipt.TxHash.Hex(), flow, receipt.Status, receipt.GasUsed, block, string(raw))
	if err != nil {
		return fmt.Errorf("persist receipt: %w", err)
	}
	return nil
}

// Get returns the receipt for txHash on chain, or ErrReceiptNotFound.
func (s *ReceiptStore) Get(ctx context.Context, chain, txHash string) (*StoredReceipt, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("receipt store not initialized")
	}
	if chain == "" || txHash == "" {
		return nil, fmt.Errorf("chain and tx hash are required")
	}

	row := s.db.QueryRowContext(ctx, selectReceipt+` WHERE chain = ? AND tx_hash = ?`, chain, txHash)
	out, err := scanReceipt(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrReceiptNotFound, txHash)
	}
	return out, err
}

// List returns the most recent receipts, newest first.
func (s *ReceiptStore) List(ctx context.Context, limit int) ([]*StoredReceipt, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("receipt store not initialized")
	}
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, selectReceipt+` ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list receipts: %w", err)
	}
	defer rows.Close()

	var out []*StoredReceipt
	for rows.Next() {
		r, err := scanReceipt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

const selectReceipt = `SELECT chain, tx_hash, flow, COALESCE(status, 0), COALESCE(gas_used, 0), COALESCE(block_number, 0), COALESCE(raw_json, ''), created_at FROM receipts`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanReceipt(row scanner) (*StoredReceipt, error) {
	var out StoredReceipt
	var created interface{}
	if err := row.Scan(&out.Chain, &out.TxHash, &out.Flow, &out.Status, &out.GasUsed, &out.BlockNumber, &out.RawJSON, &created); err != nil {
		return nil, err
	}
	out.CreatedAt = parseTimestamp(created)
	return &out, nil
}

// The driver hands back TIMESTAMP columns either parsed or as text.
func parseTimestamp(v interface{}) time.Time {
	switch ts := v.(type) {
	case time.Time:
		return ts
	case string:
		if t, err := time.Parse("2006-01-02 15:04:05", ts); err == nil {
			return t
		}
	case []byte:
		return parseTimestamp(string(ts))
	}
	return time.Time{}
}
