// Package idempotency provides the fast-path claim registry for execution
// deduplication. A trigger first claims its (version, user, key) tuple here;
// the unique index on the executions table backstops the race where two
// triggers pass the claim concurrently.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultTTL bounds how long a claim outlives its execution. Replays after
// the TTL fall through to the database index.
const DefaultTTL = 24 * time.Hour

// Registrar atomically claims idempotency keys. Claim is compare-and-set:
// the first caller wins and later callers receive the winner's execution id.
type Registrar interface {
	// Claim attempts to bind key to executionID. When the key is already
	// bound it returns the bound execution id and claimed=false.
	Claim(ctx context.Context, key, executionID string, ttl time.Duration) (owner string, claimed bool, err error)

	// Resolve returns the execution id bound to key, if any.
	Resolve(ctx context.Context, key string) (executionID string, ok bool, err error)

	// Release unbinds key, letting a failed trigger be retried with the
	// same key.
	Release(ctx context.Context, key string) error
}

// Key derives the registrar key for one trigger scope. The scope is
// (version, user, idempotency key): the same key under a different version
// or user is a distinct trigger.
func Key(versionID, userID, idempotencyKey string) string {
	hash := sha256.Sum256([]byte(versionID + "|" + userID + "|" + idempotencyKey))
	return hex.EncodeToString(hash[:])
}

// redisRegistrar backs claims with Redis SET NX.
type redisRegistrar struct {
	redis  *redis.Client
	prefix string
	logger *zap.Logger
}

// NewRedisRegistrar creates a Redis-backed registrar.
func NewRedisRegistrar(client *redis.Client, prefix string, logger *zap.Logger) Registrar {
	if prefix == "" {
		prefix = "decisionflow:idem:"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &redisRegistrar{
		redis:  client,
		prefix: prefix,
		logger: logger.With(zap.String("component", "idempotency")),
	}
}

func (r *redisRegistrar) Claim(ctx context.Context, key, executionID string, ttl time.Duration) (string, bool, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	redisKey := r.prefix + key

	claimed, err := r.redis.SetNX(ctx, redisKey, executionID, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("claim idempotency key: %w", err)
	}
	if claimed {
		r.logger.Debug("idempotency key claimed",
			zap.String("key", key),
			zap.String("execution_id", executionID))
		return executionID, true, nil
	}

	owner, err := r.redis.Get(ctx, redisKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			// The winner released or expired between SETNX and GET; have
			// the caller retry the claim.
			return "", false, fmt.Errorf("idempotency key vanished during claim")
		}
		return "", false, fmt.Errorf("resolve claimed key: %w", err)
	}
	r.logger.Debug("idempotency key already claimed",
		zap.String("key", key),
		zap.String("owner", owner))
	return owner, false, nil
}

func (r *redisRegistrar) Resolve(ctx context.Context, key string) (string, bool, error) {
	owner, err := r.redis.Get(ctx, r.prefix+key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("resolve idempotency key: %w", err)
	}
	return owner, true, nil
}

func (r *redisRegistrar) Release(ctx context.Context, key string) error {
	if err := r.redis.Del(ctx, r.prefix+key).Err(); err != nil {
		return fmt.Errorf("release idempotency key: %w", err)
	}
	return nil
}

// memoryRegistrar is the in-process implementation used in tests and
// single-node deployments without Redis.
type memoryRegistrar struct {
	mu      sync.Mutex
	entries map[string]*claimEntry
	logger  *zap.Logger
	stopCh  chan struct{}
}

type claimEntry struct {
	ExecutionID string
	ExpiresAt   time.Time
}

// NewMemoryRegistrar creates an in-memory registrar with background expiry.
func NewMemoryRegistrar(logger *zap.Logger) Registrar {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &memoryRegistrar{
		entries: make(map[string]*claimEntry),
		logger:  logger.With(zap.String("component", "idempotency")),
		stopCh:  make(chan struct{}),
	}
	go m.cleanupLoop(5 * time.Minute)
	return m
}

func (m *memoryRegistrar) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.cleanup()
		case <-m.stopCh:
			return
		}
	}
}

func (m *memoryRegistrar) cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	for key, entry := range m.entries {
		if now.After(entry.ExpiresAt) {
			delete(m.entries, key)
		}
	}
}

// Close stops the expiry goroutine.
func (m *memoryRegistrar) Close() {
	close(m.stopCh)
}

func (m *memoryRegistrar) Claim(_ context.Context, key, executionID string, ttl time.Duration) (string, bool, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if entry, ok := m.entries[key]; ok && time.Now().Before(entry.ExpiresAt) {
		return entry.ExecutionID, false, nil
	}
	m.entries[key] = &claimEntry{
		ExecutionID: executionID,
		ExpiresAt:   time.Now().Add(ttl),
	}
	return executionID, true, nil
}

func (m *memoryRegistrar) Resolve(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[key]
	if !ok || time.Now().After(entry.ExpiresAt) {
		return "", false, nil
	}
	return entry.ExecutionID, true, nil
}

func (m *memoryRegistrar) Release(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}
