// Package ttlstore is the in-memory key/value store shared by every lookup
// strategy. Entries carry their own TTL and expire lazily on read; a Sweeper
// removes the ones nobody reads.
package ttlstore

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cespare/xxhash/v2"

	"github.com/mohammed-shakir/places-cache/internal/cache"
	"github.com/mohammed-shakir/places-cache/internal/core/observability"
)

const numShards = 64

type Entry struct {
	Data      any
	Timestamp time.Time
	TTL       time.Duration
	Usage     uint64
	Type      cache.EntryType
}

// Expired reports whether more than TTL has elapsed since the entry was set.
// An entry exactly TTL old is still valid.
func (e *Entry) Expired(now time.Time) bool {
	return now.Sub(e.Timestamp) > e.TTL
}

type Store struct {
	clock  clock.Clock
	size   atomic.Int64
	shards [numShards]shard
}

type shard struct {
	mu sync.Mutex
	m  map[string]*Entry
}

type Option func(*Store)

func WithClock(c clock.Clock) Option {
	return func(s *Store) {
		if c != nil {
			s.clock = c
		}
	}
}

func New(opts ...Option) *Store {
	s := &Store{clock: clock.New()}
	for _, o := range opts {
		o(s)
	}
	for i := range s.shards {
		s.shards[i].m = make(map[string]*Entry)
	}
	return s
}

func (s *Store) Clock() clock.Clock { return s.clock }

// Set inserts or replaces key. The timestamp is now and usage restarts at 1.
func (s *Store) Set(key string, data any, ttl time.Duration, typ cache.EntryType) {
	sh := s.pick(key)
	e := &Entry{
		Data:      data,
		Timestamp: s.clock.Now(),
		TTL:       ttl,
		Usage:     1,
		Type:      typ,
	}

	sh.mu.Lock()
	_, existed := sh.m[key]
	sh.m[key] = e
	sh.mu.Unlock()

	if !existed {
		s.grow(1)
	}
}

// Get returns the value for key and true on a hit. Expired entries are
// deleted and reported as misses. A stored nil is a hit.
func (s *Store) Get(key string) (any, bool) {
	sh := s.pick(key)
	now := s.clock.Now()

	sh.mu.Lock()
	e, ok := sh.m[key]
	if !ok {
		sh.mu.Unlock()
		return nil, false
	}
	if e.Expired(now) {
		delete(sh.m, key)
		sh.mu.Unlock()
		s.grow(-1)
		observability.AddEvictions("expired", 1)
		return nil, false
	}
	e.Usage++
	data := e.Data
	sh.mu.Unlock()
	return data, true
}

// Peek returns a copy of the entry without counting a use or expiring it.
func (s *Store) Peek(key string) (Entry, bool) {
	sh := s.pick(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	e, ok := sh.m[key]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

func (s *Store) Delete(key string) bool {
	sh := s.pick(key)
	sh.mu.Lock()
	_, ok := sh.m[key]
	delete(sh.m, key)
	sh.mu.Unlock()
	if ok {
		s.grow(-1)
	}
	return ok
}

// DeleteFunc removes every entry for which fn returns true and returns how
// many were removed. fn runs with the shard locked and must not call back
// into the store.
func (s *Store) DeleteFunc(fn func(key string, e Entry) bool) int {
	removed := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		for k, e := range sh.m {
			if fn(k, *e) {
				delete(sh.m, k)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	if removed > 0 {
		s.grow(-removed)
	}
	return removed
}

// Cleanup deletes every expired entry in one pass.
func (s *Store) Cleanup() int {
	now := s.clock.Now()
	n := s.DeleteFunc(func(_ string, e Entry) bool { return e.Expired(now) })
	observability.AddEvictions("sweep", n)
	return n
}

// ClearPattern deletes every entry whose key contains substr.
func (s *Store) ClearPattern(substr string) int {
	n := s.DeleteFunc(func(k string, _ Entry) bool { return strings.Contains(k, substr) })
	observability.AddEvictions("pattern", n)
	return n
}

func (s *Store) ClearType(typ cache.EntryType) int {
	n := s.DeleteFunc(func(_ string, e Entry) bool { return e.Type == typ })
	observability.AddEvictions("type", n)
	return n
}

func (s *Store) Clear() int {
	removed := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		removed += len(sh.m)
		sh.m = make(map[string]*Entry)
		sh.mu.Unlock()
	}
	if removed > 0 {
		s.grow(-removed)
	}
	observability.AddEvictions("clear", removed)
	return removed
}

// Len counts stored entries, including expired ones not yet swept.
func (s *Store) Len() int {
	return int(s.size.Load())
}

func (s *Store) grow(n int) {
	observability.SetCacheEntries(int(s.size.Add(int64(n))))
}

func (s *Store) pick(key string) *shard {
	h := xxhash.Sum64String(key)
	return &s.shards[h&(numShards-1)]
}
