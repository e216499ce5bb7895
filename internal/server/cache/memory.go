package cache

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/achertok/contacthub/internal/common"
)

type memoryItem struct {
	value     string
	expiresAt time.Time
}

func (it memoryItem) expired(now time.Time) bool {
	return !it.expiresAt.IsZero() && !now.Before(it.expiresAt)
}

// Memory is an in-process Cache used by tests and single-node development
// setups. Expired entries are dropped lazily on access.
type Memory struct {
	mu    sync.Mutex
	items map[string]memoryItem

	// Clock can be overridden in tests to drive TTL expiry.
	Clock func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		items: make(map[string]memoryItem),
		Clock: time.Now,
	}
}

func (m *Memory) get(key string) (memoryItem, bool) {
	it, ok := m.items[key]
	if !ok {
		return memoryItem{}, false
	}
	if it.expired(m.Clock()) {
		delete(m.items, key)
		return memoryItem{}, false
	}
	return it, true
}

func (m *Memory) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	it, ok := m.get(key)
	if !ok {
		return "", common.ErrorNotFound
	}
	return it.value, nil
}

func (m *Memory) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var exp time.Time
	if ttl > 0 {
		exp = m.Clock().Add(ttl)
	}
	m.items[key] = memoryItem{value: value, expiresAt: exp}
	return nil
}

func (m *Memory) Incr(_ context.Context, key string, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	it, ok := m.get(key)
	if !ok {
		m.items[key] = memoryItem{value: "1", expiresAt: m.Clock().Add(ttl)}
		return 1, nil
	}

	n, err := strconv.ParseInt(it.value, 10, 64)
	if err != nil {
		return 0, common.ErrCacheUnavailable
	}
	n++
	it.value = strconv.FormatInt(n, 10)
	m.items[key] = it
	return n, nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.items, key)
	return nil
}

func (m *Memory) TTL(_ context.Context, key string) (time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	it, ok := m.get(key)
	if !ok {
		return 0, common.ErrorNotFound
	}
	if it.expiresAt.IsZero() {
		return 0, common.ErrorNotFound
	}
	return it.expiresAt.Sub(m.Clock()), nil
}
