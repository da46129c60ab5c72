// Package dedupe remembers link-event ids so redelivered events are not
// reconciled twice within a retention window.
package dedupe

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "link:event:"

// Redis records event ids with SET NX and a TTL, shared across instances.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	return &Redis{client: client, ttl: ttl}
}

// Claim reports whether eventID is new. The first caller wins; later callers
// within the TTL get false.
func (r *Redis) Claim(ctx context.Context, eventID string) (bool, error) {
	ok, err := r.client.SetNX(ctx, keyPrefix+eventID, "1", r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim link event: %w", err)
	}
	return ok, nil
}

// Release forgets eventID so a redelivery is reconciled again.
func (r *Redis) Release(ctx context.Context, eventID string) error {
	if err := r.client.Del(ctx, keyPrefix+eventID).Err(); err != nil {
		return fmt.Errorf("release link event: %w", err)
	}
	return nil
}

// Memory is a single-process Claim implementation.
type Memory struct {
	mu   sync.Mutex
	seen map[string]time.Time
	ttl  time.Duration
	now  func() time.Time
}

func NewMemory(ttl time.Duration) *Memory {
	return &Memory{seen: make(map[string]time.Time), ttl: ttl, now: time.Now}
}

func (m *Memory) Claim(_ context.Context, eventID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if expires, ok := m.seen[eventID]; ok && now.Before(expires) {
		return false, nil
	}
	m.seen[eventID] = now.Add(m.ttl)
	if len(m.seen)%1024 == 0 {
		m.sweep(now)
	}
	return true, nil
}

func (m *Memory) Release(_ context.Context, eventID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.seen, eventID)
	return nil
}

func (m *Memory) sweep(now time.Time) {
	for k, expires := range m.seen {
		if !now.Before(expires) {
			delete(m.seen, k)
		}
	}
}
