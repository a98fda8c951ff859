// Package redistest provides an in-memory stand-in for the redis client surface.
package redistest

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/angelmondragon/fieldops-backend/pkg/redis"
)

// Message is one payload sent through Publish.
type Message struct {
	Channel string
	Payload []byte
}

// Memory implements the Cache, Locker, Publisher, RateLimiter and IdempotencyStore surfaces.
// TTLs are ignored.
type Memory struct {
	mu        sync.Mutex
	data      map[string]string
	Published []Message
	// PublishErr, when set, fails every Publish call.
	PublishErr error
}

func New() *Memory {
	return &Memory{data: make(map[string]string)}
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return "", goredis.Nil
	}
	return v, nil
}

func (m *Memory) Set(_ context.Context, key string, value any, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = fmt.Sprint(value)
	return nil
}

func (m *Memory) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[key]; ok {
		return false, nil
	}
	m.data[key] = fmt.Sprint(value)
	return true, nil
}

func (m *Memory) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		delete(m.data, key)
	}
	return nil
}

func (m *Memory) GetJSON(ctx context.Context, key string, dest any) (bool, error) {
	raw, err := m.Get(ctx, key)
	if err == goredis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, json.Unmarshal([]byte(raw), dest)
}

func (m *Memory) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return m.Set(ctx, key, string(payload), ttl)
}

func (m *Memory) Lock(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error) {
	ok, _ := m.SetNX(ctx, key, "held", ttl)
	if !ok {
		return nil, redis.ErrLockHeld
	}
	return func(releaseCtx context.Context) error {
		return m.Del(releaseCtx, key)
	}, nil
}

func (m *Memory) Publish(_ context.Context, channel string, payload []byte) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.PublishErr != nil {
		return 0, m.PublishErr
	}
	m.Published = append(m.Published, Message{Channel: channel, Payload: append([]byte(nil), payload...)})
	return 1, nil
}

func (m *Memory) IdempotencyKey(scope, id string) string {
	return (&redis.Client{}).IdempotencyKey(scope, id)
}

// IncrWithTTL counts in memory. The window never expires.
func (m *Memory) IncrWithTTL(_ context.Context, key string, _ time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var count int64
	if raw, ok := m.data[key]; ok {
		count, _ = strconv.ParseInt(raw, 10, 64)
	}
	count++
	m.data[key] = strconv.FormatInt(count, 10)
	return count, nil
}

func (m *Memory) RateLimitKey(scope string) string {
	return (&redis.Client{}).RateLimitKey(scope)
}

// Has reports whether key currently holds a value.
func (m *Memory) Has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.data[key]
	return ok
}

var (
	_ redis.Cache            = (*Memory)(nil)
	_ redis.Locker           = (*Memory)(nil)
	_ redis.Publisher        = (*Memory)(nil)
	_ redis.IdempotencyStore = (*Memory)(nil)
	_ redis.RateLimiter      = (*Memory)(nil)
)
