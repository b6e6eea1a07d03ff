package gotrue

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Storage persists the client's session and in-flight OAuth state between calls and restarts.
// Values are opaque strings. A zero ttl means no expiry.
type Storage interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

var (
	_ Storage = (*MemoryStorage)(nil)
	_ Storage = (*RedisStorage)(nil)
)

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

// MemoryStorage keeps values in process memory.
type MemoryStorage struct {
	lock    sync.RWMutex
	values  map[string]memoryEntry
	nowTime func() time.Time
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{values: make(map[string]memoryEntry), nowTime: time.Now}
}

func (m *MemoryStorage) Get(ctx context.Context, key string) (string, bool, error) {
	m.lock.RLock()
	e, ok := m.values[key]
	m.lock.RUnlock()
	if !ok {
		return "", false, nil
	}
	if !e.expiresAt.IsZero() && !m.nowTime().Before(e.expiresAt) {
		m.lock.Lock()
		delete(m.values, key)
		m.lock.Unlock()
		return "", false, nil
	}
	return e.value, true, nil
}

func (m *MemoryStorage) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	e := memoryEntry{value: value}
	if ttl > 0 {
		e.expiresAt = m.nowTime().Add(ttl)
	}
	m.values[key] = e
	return nil
}

func (m *MemoryStorage) Delete(ctx context.Context, key string) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	delete(m.values, key)
	return nil
}

// RedisStorage keeps values in Redis under a key prefix, so several server replicas can share
// browser sessions.
type RedisStorage struct {
	rdb    redis.UniversalClient
	prefix string
}

func NewRedisStorage(rdb redis.UniversalClient, prefix string) *RedisStorage {
	return &RedisStorage{rdb: rdb, prefix: prefix}
}

func (r *RedisStorage) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := r.rdb.Get(ctx, r.prefix+key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (r *RedisStorage) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return r.rdb.Set(ctx, r.prefix+key, value, ttl).Err()
}

func (r *RedisStorage) Delete(ctx context.Context, key string) error {
	return r.rdb.Del(ctx, r.prefix+key).Err()
}
