package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// DefaultDedupPrefix namespaces notification marks in Redis
const DefaultDedupPrefix = "matching:notified:"

// DedupStats holds counters about mark lookups.
type DedupStats struct {
	// Hits is the number of keys found already marked.
	Hits int64 `json:"hits"`
	// Misses is the number of keys not yet marked.
	Misses int64 `json:"misses"`
	// Marks is the number of marks written.
	Marks int64 `json:"marks"`
	// Errors counts failed Redis round trips.
	Errors int64 `json:"errors"`
}

// RedisNotificationDedup remembers which events were already published.
// Marks expire after the configured TTL.
type RedisNotificationDedup struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
	logger *logrus.Logger

	mu    sync.Mutex
	stats DedupStats
}

// NewRedisNotificationDedup creates a Redis-backed dedup store.
//
// Parameters:
//   - client: The Redis client interface.
//   - ttl: Lifetime of each mark; zero keeps marks forever.
//   - logger: Logger for Redis failures.
//
// Returns:
//   - The dedup store.
func NewRedisNotificationDedup(client redis.Cmdable, ttl time.Duration, logger *logrus.Logger) *RedisNotificationDedup {
	if logger == nil {
		logger = logrus.New()
	}
	return &RedisNotificationDedup{
		client: client,
		prefix: DefaultDedupPrefix,
		ttl:    ttl,
		logger: logger,
	}
}

// IsNotified reports whether key has been marked
func (d *RedisNotificationDedup) IsNotified(ctx context.Context, key string) (bool, error) {
	_, err := d.client.Get(ctx, d.prefix+key).Result()
	switch {
	case errors.Is(err, redis.Nil):
		d.count(func(s *DedupStats) { s.Misses++ })
		return false, nil
	case err != nil:
		d.count(func(s *DedupStats) { s.Errors++ })
		return false, fmt.Errorf("failed to read notification mark: %w", err)
	}
	d.count(func(s *DedupStats) { s.Hits++ })
	return true, nil
}

// MarkNotified records key. It returns false when the mark already existed.
func (d *RedisNotificationDedup) MarkNotified(ctx context.Context, key string) (bool, error) {
	set, err := d.client.SetNX(ctx, d.prefix+key, time.Now().UTC().Format(time.RFC3339), d.ttl).Result()
	if err != nil {
		d.count(func(s *DedupStats) { s.Errors++ })
		d.logger.WithError(err).WithField("key", key).Warn("Failed to write notification mark")
		return false, fmt.Errorf("failed to write notification mark: %w", err)
	}
	if set {
		d.count(func(s *DedupStats) { s.Marks++ })
	}
	return set, nil
}

// GetStats returns a snapshot of the counters
func (d *RedisNotificationDedup) GetStats() DedupStats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

func (d *RedisNotificationDedup) count(update func(*DedupStats)) {
	d.mu.Lock()
	update(&d.stats)
	d.mu.Unlock()
}

// InMemoryNotificationDedup serves single-process runs without Redis
type InMemoryNotificationDedup struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]time.Time
	now     func() time.Time
	stats   DedupStats
}

func NewInMemoryNotificationDedup(ttl time.Duration) *InMemoryNotificationDedup {
	return &InMemoryNotificationDedup{
		ttl:     ttl,
		entries: make(map[string]time.Time),
		now:     time.Now,
	}
}

func (d *InMemoryNotificationDedup) IsNotified(_ context.Context, key string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.live(key) {
		d.stats.Hits++
		return true, nil
	}
	d.stats.Misses++
	return false, nil
}

func (d *InMemoryNotificationDedup) MarkNotified(_ context.Context, key string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.live(key) {
		return false, nil
	}
	expiresAt := time.Time{}
	if d.ttl > 0 {
		expiresAt = d.now().Add(d.ttl)
	}
	d.entries[key] = expiresAt
	d.stats.Marks++
	return true, nil
}

func (d *InMemoryNotificationDedup) GetStats() DedupStats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

// live reports whether key holds an unexpired mark; caller holds mu
func (d *InMemoryNotificationDedup) live(key string) bool {
	expiresAt, ok := d.entries[key]
	if !ok {
		return false
	}
	if !expiresAt.IsZero() && !d.now().Before(expiresAt) {
		delete(d.entries, key)
		return false
	}
	return true
}
