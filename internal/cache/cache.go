// Package cache stores verification facts with a time-to-live. Backends are
// Redis, the analysis store's company_cache table, or process memory.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"github.com/verifdevis/devis-cli/internal/config"
)

// Cache is a byte-value cache with expiry. Get returns (nil, nil) on a miss
// or an expired entry.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Backend is implemented by stores that keep a cache table.
type Backend interface {
	GetCache(ctx context.Context, key string) ([]byte, error)
	SetCache(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// CompanyKey is the cache key for the company facts of a SIREN.
func CompanyKey(siren string) string {
	return "company:" + siren
}

// New builds the cache selected by cache.driver. The "store" driver needs a
// Backend; nil falls back to memory.
func New(cfg config.CacheConfig, backend Backend) (Cache, error) {
	switch cfg.Driver {
	case "redis":
		return NewRedis(cfg)
	case "memory":
		return NewMemory(), nil
	case "store", "":
		if backend == nil {
			return NewMemory(), nil
		}
		return FromStore(backend), nil
	default:
		return nil, eris.Errorf("cache: unknown driver %q", cfg.Driver)
	}
}

type storeCache struct {
	b Backend
}

// FromStore adapts a store cache table to Cache.
func FromStore(b Backend) Cache {
	return &storeCache{b: b}
}

func (s *storeCache) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := s.b.GetCache(ctx, key)
	if err != nil {
		return nil, eris.Wrap(err, "cache: store get")
	}
	return v, nil
}

func (s *storeCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return eris.Wrap(s.b.SetCache(ctx, key, value, ttl), "cache: store set")
}

type entry struct {
	value   []byte
	expires time.Time
}

// Memory is an in-process cache. Safe for concurrent use.
type Memory struct {
	mu      sync.Mutex
	entries map[string]entry
	now     func() time.Time
}

// NewMemory creates an empty in-process cache.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]entry), now: time.Now}
}

// Get implements Cache.
func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return nil, nil
	}
	if !m.now().Before(e.expires) {
		delete(m.entries, key)
		return nil, nil
	}
	return append([]byte(nil), e.value...), nil
}

// Set implements Cache.
func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = entry{value: append([]byte(nil), value...), expires: m.now().Add(ttl)}
	return nil
}

// Len returns the number of stored entries, expired ones included.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
