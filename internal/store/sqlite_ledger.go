package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// SQLiteLedger is a NonceLedger stored in the local database. Reservations
// older than ttl are treated as abandoned and may be claimed again.
type SQLiteLedger struct {
	db     *sql.DB
	ttl    time.Duration
	logger *zap.Logger
	now    func() time.Time
}

var _ NonceLedger = (*SQLiteLedger)(nil)

// Nonces returns the nonce ledger backed by this database.
func (d *DB) Nonces(ttl time.Duration, logger *zap.Logger) *SQLiteLedger {
	if ttl <= 0 {
		ttl = DefaultReservationTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SQLiteLedger{db: d.db, ttl: ttl, logger: logger, now: time.Now}
}

func (l *SQLiteLedger) Reserve(ctx context.Context, key NonceKey) error {
	now := l.now().UTC()
	stale := now.Add(-l.ttl)

	res, err := l.db.ExecContext(ctx, `
INSERT INTO nonces (nonce_key, state, updated_at) VALUES (?, ?, ?)
ON CONFLICT(nonce_key) DO UPDATE SET
	state=excluded.state,
	updated_at=excluded.updated_at
WHERE nonces.state = ? AND nonces.updated_at < ?
`, key.String(), stateReserved, now.Unix(), stateReserved, stale.Unix())
	if err != nil {
		l.logger.Error("failed to reserve nonce", zap.Stringer("key", key), zap.Error(err))
		return fmt.Errorf("failed to reserve nonce: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to reserve nonce: %w", err)
	}
	if n == 0 {
		l.logger.Warn("nonce already used or reserved", zap.Stringer("key", key))
		return ErrNonceAlreadyUsed
	}

	l.logger.Debug("nonce reserved", zap.Stringer("key", key))
	return nil
}

func (l *SQLiteLedger) MarkUsed(ctx context.Context, key NonceKey) error {
	_, err := l.db.ExecContext(ctx, `
INSERT INTO nonces (nonce_key, state, updated_at) VALUES (?, ?, ?)
ON CONFLICT(nonce_key) DO UPDATE SET
	state=excluded.state,
	updated_at=excluded.updated_at
`, key.String(), stateUsed, l.now().UTC().Unix())
	if err != nil {
		l.logger.Error("failed to mark nonce as used", zap.Stringer("key", key), zap.Error(err))
		return fmt.Errorf("failed to mark nonce as used: %w", err)
	}

	l.logger.Debug("nonce marked as used", zap.Stringer("key", key))
	return nil
}

func (l *SQLiteLedger) Release(ctx context.Context, key NonceKey) error {
	_, err := l.db.ExecContext(ctx,
		`DELETE FROM nonces WHERE nonce_key = ? AND state = ?`, key.String(), stateReserved)
	if err != nil {
		l.logger.Error("failed to release nonce", zap.Stringer("key", key), zap.Error(err))
		return fmt.Errorf("failed to release nonce: %w", err)
	}

	l.logger.Debug("nonce released", zap.Stringer("key", key))
	return nil
}
