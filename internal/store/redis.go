package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// keyPrefix namespaces ledger keys in a shared Redis.
const keyPrefix = "permitflow:nonce"

// RedisConfig selects the Redis instance backing a shared nonce ledger.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisClient creates a client for cfg. It does not connect.
func NewRedisClient(cfg RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// PingRedis tests the Redis connection.
func PingRedis(ctx context.Context, client *redis.Client) error {
	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

// RedisLedger is a NonceLedger shared by every client pointed at the same Redis.
type RedisLedger struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

var _ NonceLedger = (*RedisLedger)(nil)

// NewRedisLedger creates a ledger whose reservations expire after ttl.
// Used nonces never expire.
func NewRedisLedger(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisLedger {
	if ttl <= 0 {
		ttl = DefaultReservationTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisLedger{client: client, ttl: ttl, logger: logger}
}

// buildKey formats a ledger key as permitflow:nonce:{chain}:{lowercase_owner}:{nonce}.
func buildKey(key NonceKey) string {
	return keyPrefix + ":" + key.String()
}

// Reserve claims the nonce with SETNX.
func (s *RedisLedger) Reserve(ctx context.Context, key NonceKey) error {
	ok, err := s.client.SetNX(ctx, buildKey(key), stateReserved, s.ttl).Result()
	if err != nil {
		s.logger.Error("failed to reserve nonce", zap.Stringer("key", key), zap.Error(err))
		return fmt.Errorf("failed to reserve nonce: %w", err)
	}
	if !ok {
		s.logger.Warn("nonce already used or reserved", zap.Stringer("key", key))
		return ErrNonceAlreadyUsed
	}

	s.logger.Debug("nonce reserved", zap.Stringer("key", key))
	return nil
}

func (s *RedisLedger) MarkUsed(ctx context.Context, key NonceKey) error {
	if err := s.client.Set(ctx, buildKey(key), stateUsed, 0).Err(); err != nil {
		s.logger.Error("failed to mark nonce as used", zap.Stringer("key", key), zap.Error(err))
		return fmt.Errorf("failed to mark nonce as used: %w", err)
	}

	s.logger.Debug("nonce marked as used", zap.Stringer("key", key))
	return nil
}

// Release deletes the key only while it is still a reservation.
func (s *RedisLedger) Release(ctx context.Context, key NonceKey) error {
	k := buildKey(key)
	err := s.client.Watch(ctx, func(txn *redis.Tx) error {
		state, err := txn.Get(ctx, k).Result()
		if err == redis.Nil || (err == nil && state != stateReserved) {
			return nil
		}
		if err != nil {
			return err
		}
		_, err = txn.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, k)
			return nil
		})
		return err
	}, k)
	if err != nil {
		s.logger.Error("failed to release nonce", zap.Stringer("key", key), zap.Error(err))
		return fmt.Errorf("failed to release nonce: %w", err)
	}

	s.logger.Debug("nonce released", zap.Stringer("key", key))
	return nil
}
