// Copyright 2025 ModelRelay
// SPDX-License-Identifier: Apache-2.0

package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"modelrelay/platform/gateway/llm"
)

const (
	// DefaultMaxEntries bounds the in-memory store
	DefaultMaxEntries = 1000

	// DefaultTTL is how long a cached response stays valid
	DefaultTTL = time.Hour
)

// Store is the backing storage for cached responses. Implementations own
// expiry and eviction; ResponseCache owns the enabled flag, key derivation,
// defensive copying, and hit/miss accounting.
type Store interface {
	Get(ctx context.Context, key string) (*llm.GenerateResponse, bool)
	Put(ctx context.Context, key string, resp *llm.GenerateResponse)
	Purge(ctx context.Context) error
	Len(ctx context.Context) int
	Name() string
}

// Stats is a point-in-time view of cache effectiveness.
type Stats struct {
	Enabled        bool    `json:"enabled"`
	Backend        string  `json:"backend"`
	Entries        int     `json:"entries"`
	Hits           uint64  `json:"hits"`
	Misses         uint64  `json:"misses"`
	HitRatePercent float64 `json:"hit_rate_percent"`
}

// ResponseCache caches completed generate responses keyed by request
// fingerprint. A disabled cache is a valid no-op: every lookup misses
// without touching the store and every put is dropped.
type ResponseCache struct {
	store   Store
	enabled bool

	mu     sync.Mutex
	hits   uint64
	misses uint64
}

// New creates a response cache over the given store.
func New(store Store, enabled bool) *ResponseCache {
	return &ResponseCache{store: store, enabled: enabled}
}

// Enabled reports whether lookups and puts are active.
func (c *ResponseCache) Enabled() bool {
	return c.enabled
}

// Get returns the cached response for the request, or nil on a miss.
// Fingerprinting failures are treated as misses; the read path never
// surfaces an error to the caller.
func (c *ResponseCache) Get(ctx context.Context, req llm.GenerateRequest) *llm.GenerateResponse {
	if !c.enabled {
		return nil
	}

	key, err := Fingerprint(req)
	if err != nil {
		return nil
	}

	resp, ok := c.store.Get(ctx, key)
	c.mu.Lock()
	if ok {
		c.hits++
	} else {
		c.misses++
	}
	c.mu.Unlock()

	if !ok {
		return nil
	}
	return resp.Clone()
}

// Put stores a copy of the response under the request's fingerprint.
func (c *ResponseCache) Put(ctx context.Context, req llm.GenerateRequest, resp *llm.GenerateResponse) {
	if !c.enabled || resp == nil {
		return
	}

	key, err := Fingerprint(req)
	if err != nil {
		return
	}

	c.store.Put(ctx, key, resp.Clone())
}

// Purge removes every cached entry. Counters survive a purge; Reset via
// the metrics surface is the only thing that clears them.
func (c *ResponseCache) Purge(ctx context.Context) error {
	return c.store.Purge(ctx)
}

// Stats returns current cache statistics.
func (c *ResponseCache) Stats(ctx context.Context) Stats {
	c.mu.Lock()
	hits, misses := c.hits, c.misses
	c.mu.Unlock()

	rate := 0.0
	if total := hits + misses; total > 0 {
		rate = float64(hits) / float64(total) * 100
	}

	return Stats{
		Enabled:        c.enabled,
		Backend:        c.store.Name(),
		Entries:        c.store.Len(ctx),
		Hits:           hits,
		Misses:         misses,
		HitRatePercent: rate,
	}
}

// memoryEntry is the payload held per list element.
type memoryEntry struct {
	key       string
	resp      *llm.GenerateResponse
	expiresAt time.Time
}

// MemoryStore is a thread-safe in-memory LRU store with per-entry TTL.
// Expired entries are dropped lazily on read; capacity pressure evicts
// the least recently used entry.
type MemoryStore struct {
	mu         sync.Mutex
	entries    map[string]*list.Element
	order      *list.List // front = most recently used
	maxEntries int
	ttl        time.Duration
	now        func() time.Time
}

// NewMemoryStore creates an in-memory store. Non-positive maxEntries or
// ttl fall back to the defaults.
func NewMemoryStore(maxEntries int, ttl time.Duration) *MemoryStore {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{
		entries:    make(map[string]*list.Element),
		order:      list.New(),
		maxEntries: maxEntries,
		ttl:        ttl,
		now:        time.Now,
	}
}

// Name identifies the backend in stats output.
func (s *MemoryStore) Name() string {
	return "memory"
}

// Get returns the entry for key if present and unexpired.
func (s *MemoryStore) Get(_ context.Context, key string) (*llm.GenerateResponse, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	elem, ok := s.entries[key]
	if !ok {
		return nil, false
	}

	entry := elem.Value.(*memoryEntry)
	if s.now().After(entry.expiresAt) {
		s.order.Remove(elem)
		delete(s.entries, key)
		return nil, false
	}

	s.order.MoveToFront(elem)
	return entry.resp, true
}

// Put inserts or refreshes an entry, evicting the LRU entry when full.
func (s *MemoryStore) Put(_ context.Context, key string, resp *llm.GenerateResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()

	expiresAt := s.now().Add(s.ttl)

	if elem, ok := s.entries[key]; ok {
		entry := elem.Value.(*memoryEntry)
		entry.resp = resp
		entry.expiresAt = expiresAt
		s.order.MoveToFront(elem)
		return
	}

	if s.order.Len() >= s.maxEntries {
		oldest := s.order.Back()
		if oldest != nil {
			s.order.Remove(oldest)
			delete(s.entries, oldest.Value.(*memoryEntry).key)
		}
	}

	s.entries[key] = s.order.PushFront(&memoryEntry{
		key:       key,
		resp:      resp,
		expiresAt: expiresAt,
	})
}

// Purge drops all entries.
func (s *MemoryStore) Purge(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]*list.Element)
	s.order.Init()
	return nil
}

// Len returns the number of resident entries, including any that have
// expired but not yet been swept.
func (s *MemoryStore) Len(_ context.Context) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.order.Len()
}

var _ Store = (*MemoryStore)(nil)
