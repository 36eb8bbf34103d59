// Package statusstore keeps exchange status snapshots in Redis so that
// operators can inspect running exchanges from outside the process.
package statusstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/Sternrassler/page-exchange/pkg/exchange"
	"github.com/redis/go-redis/v9"
)

// DefaultTTL is how long a snapshot survives without being refreshed.
const DefaultTTL = 5 * time.Minute

var (
	// ErrNotFound indicates no live snapshot exists for the exchange.
	ErrNotFound = errors.New("status snapshot not found")

	// ErrInvalidEntry indicates the stored snapshot is corrupted.
	ErrInvalidEntry = errors.New("invalid status snapshot")
)

// Store reads and writes exchange snapshots.
type Store struct {
	redis     *redis.Client
	namespace string
	ttl       time.Duration
}

// NewStore creates a store writing below namespace. A ttl of zero uses
// DefaultTTL.
func NewStore(redisClient *redis.Client, namespace string, ttl time.Duration) *Store {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{
		redis:     redisClient,
		namespace: namespace,
		ttl:       ttl,
	}
}

// Put writes a snapshot and refreshes its TTL.
func (s *Store) Put(ctx context.Context, status exchange.Status) error {
	if status.ID == "" {
		return fmt.Errorf("status snapshot has no exchange id")
	}

	now := time.Now()
	entry := Entry{
		Status:      status,
		PublishedAt: now,
		Expires:     now.Add(s.ttl),
	}
	data, err := json.Marshal(entry)
	if err != nil {
		StoreErrors.WithLabelValues("put").Inc()
		return fmt.Errorf("marshal status snapshot: %w", err)
	}

	key := Key{Namespace: s.namespace, ExchangeID: status.ID}
	index := indexKey(s.namespace)

	pipe := s.redis.TxPipeline()
	pipe.Set(ctx, key.String(), data, s.ttl)
	pipe.ZAdd(ctx, index, redis.Z{Score: float64(now.UnixMilli()), Member: status.ID})
	pipe.Expire(ctx, index, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		StoreErrors.WithLabelValues("put").Inc()
		return fmt.Errorf("redis put: %w", err)
	}

	StoreWrites.Inc()
	SnapshotSize.Set(float64(len(data)))
	return nil
}

// Get returns the snapshot of an exchange.
// Returns ErrNotFound if none exists or it expired.
func (s *Store) Get(ctx context.Context, exchangeID string) (*Entry, error) {
	key := Key{Namespace: s.namespace, ExchangeID: exchangeID}

	data, err := s.redis.Get(ctx, key.String()).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			StoreReads.WithLabelValues("miss").Inc()
			return nil, ErrNotFound
		}
		StoreErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		StoreErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}
	if entry.IsExpired() {
		_ = s.Delete(ctx, exchangeID)
		StoreReads.WithLabelValues("miss").Inc()
		return nil, ErrNotFound
	}

	StoreReads.WithLabelValues("hit").Inc()
	return &entry, nil
}

// Delete removes the snapshot of an exchange.
func (s *Store) Delete(ctx context.Context, exchangeID string) error {
	key := Key{Namespace: s.namespace, ExchangeID: exchangeID}

	pipe := s.redis.TxPipeline()
	pipe.Del(ctx, key.String())
	pipe.ZRem(ctx, indexKey(s.namespace), exchangeID)
	if _, err := pipe.Exec(ctx); err != nil {
		StoreErrors.WithLabelValues("delete").Inc()
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// List returns the ids of exchanges published within the TTL, most
// recently published first.
func (s *Store) List(ctx context.Context) ([]string, error) {
	index := indexKey(s.namespace)
	cutoff := time.Now().Add(-s.ttl).UnixMilli()

	if err := s.redis.ZRemRangeByScore(ctx, index, "-inf", strconv.FormatInt(cutoff, 10)).Err(); err != nil {
		StoreErrors.WithLabelValues("list").Inc()
		return nil, fmt.Errorf("redis prune index: %w", err)
	}
	ids, err := s.redis.ZRevRange(ctx, index, 0, -1).Result()
	if err != nil {
		StoreErrors.WithLabelValues("list").Inc()
		return nil, fmt.Errorf("redis list: %w", err)
	}
	return ids, nil
}
