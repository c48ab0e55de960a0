// Package cache provides the TTL-bounded response cache used to short-circuit
// repeat queries.
//
// The cache is always consumed through the [Cache] interface, never as a bare
// map, so backends can be swapped per deployment: [Memory] for a single
// process, [Postgres] for caches shared across replicas. All cache failures
// are advisory; the orchestrator treats any error as a miss and proceeds.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/repliq/pkg/types"
)

// Cache stores responses by deterministic key with per-entry TTL expiry.
// Implementations must be safe for concurrent use.
type Cache interface {
	// Get returns the entry under key, or found=false when absent or expired.
	Get(ctx context.Context, key string) (value *types.LLMResponse, found bool, err error)

	// Set stores value under key for ttl. A ttl of zero or below stores
	// nothing.
	Set(ctx context.Context, key string, value *types.LLMResponse, ttl time.Duration) error

	// Clear removes all entries.
	Clear(ctx context.Context) error

	// ClearExpired removes all entries whose TTL has elapsed.
	ClearExpired(ctx context.Context) error
}

// entry is one stored response with its expiry deadline.
type entry struct {
	value     *types.LLMResponse
	expiresAt time.Time
}

// Memory is an in-process [Cache] backed by a mutex-guarded map. Expired
// entries are dropped lazily on Get and in bulk by ClearExpired. Stored
// responses are shared by pointer; callers must not mutate them.
type Memory struct {
	mu      sync.Mutex
	entries map[string]entry
	now     func() time.Time
}

// NewMemory returns an empty in-process cache.
func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]entry),
		now:     time.Now,
	}
}

// Get implements [Cache].
func (m *Memory) Get(ctx context.Context, key string) (*types.LLMResponse, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		return nil, false, nil
	}
	if m.now().After(e.expiresAt) {
		delete(m.entries, key)
		return nil, false, nil
	}
	return e.value, true, nil
}

// Set implements [Cache].
func (m *Memory) Set(ctx context.Context, key string, value *types.LLMResponse, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = entry{value: value, expiresAt: m.now().Add(ttl)}
	return nil
}

// Clear implements [Cache].
func (m *Memory) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]entry)
	return nil
}

// ClearExpired implements [Cache].
func (m *Memory) ClearExpired(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for key, e := range m.entries {
		if now.After(e.expiresAt) {
			delete(m.entries, key)
		}
	}
	return nil
}

// Len returns the number of stored entries, expired or not.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

var _ Cache = (*Memory)(nil)
