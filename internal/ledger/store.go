package ledger

import (
	"hash/fnv"
	"strconv"
	"sync"
	"time"
)

// Store is the key ledger backing idempotency, replay, and rate accounting.
// Entries expire after their TTL; expired keys behave as absent.
type Store interface {
	// Get returns the value for key if present and unexpired.
	Get(key string) (string, bool)
	// CompareAndInsert stores value under key only when the key is absent
	// or expired. It returns true when the insert won.
	CompareAndInsert(key, value string, ttl time.Duration) bool
	// Increment adds one to a numeric counter, creating it with the given
	// TTL when absent or expired, and returns the new count. The TTL is set
	// only at creation so the counter expires with its window.
	Increment(key string, ttl time.Duration) int
	// Delete removes a key regardless of expiry.
	Delete(key string)
}

const shardCount = 16

type entry struct {
	value     string
	expiresAt time.Time
}

type shard struct {
	mu      sync.Mutex
	entries map[string]entry
}

// MemoryStore is an in-process sharded Store. Expired entries are evicted
// lazily on access and opportunistically during inserts.
type MemoryStore struct {
	shards [shardCount]*shard
	now    func() time.Time
}

// NewMemoryStore builds an empty in-process store.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{now: time.Now}
	for i := range s.shards {
		s.shards[i] = &shard{entries: make(map[string]entry)}
	}
	return s
}

func (s *MemoryStore) shardFor(key string) *shard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return s.shards[h.Sum32()%shardCount]
}

func (s *MemoryStore) Get(key string) (string, bool) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	e, ok := sh.entries[key]
	if !ok {
		return "", false
	}
	if s.now().After(e.expiresAt) {
		delete(sh.entries, key)
		return "", false
	}
	return e.value, true
}

func (s *MemoryStore) CompareAndInsert(key, value string, ttl time.Duration) bool {
	now := s.now()
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if e, ok := sh.entries[key]; ok && now.Before(e.expiresAt) {
		return false
	}
	sh.entries[key] = entry{value: value, expiresAt: now.Add(ttl)}
	if len(sh.entries)%64 == 0 {
		for k, e := range sh.entries {
			if now.After(e.expiresAt) {
				delete(sh.entries, k)
			}
		}
	}
	return true
}

func (s *MemoryStore) Increment(key string, ttl time.Duration) int {
	now := s.now()
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	e, ok := sh.entries[key]
	if !ok || now.After(e.expiresAt) {
		sh.entries[key] = entry{value: "1", expiresAt: now.Add(ttl)}
		return 1
	}
	n, _ := strconv.Atoi(e.value)
	n++
	e.value = strconv.Itoa(n)
	sh.entries[key] = e
	return n
}

func (s *MemoryStore) Delete(key string) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	delete(sh.entries, key)
}
