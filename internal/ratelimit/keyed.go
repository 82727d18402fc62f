package ratelimit

import (
	"container/list"
	"sync"
)

// DefaultMaxKeys bounds the number of per-key buckets a KeyedLimiter keeps when
// no explicit bound is configured.
const DefaultMaxKeys = 4096

// KeyedLimiter applies an independent per-minute budget to each key (usually
// a client IP). Buckets are kept in LRU order and the least recently used one
// is evicted once MaxKeys is reached, so a spray of distinct keys cannot grow
// memory without bound.
type KeyedLimiter struct {
	clock     Clock
	perMinute int64
	maxKeys   int

	onEvict func()

	mu      sync.Mutex
	buckets map[string]*keyedEntry
	lru     *list.List
}

type keyedEntry struct {
	bucket *TokenBucket
	elem   *list.Element
}

// KeyedConfig configures a KeyedLimiter.
type KeyedConfig struct {
	// PerMinute is the sustained number of events allowed per key per minute;
	// it is also the burst size. <= 0 disables limiting.
	PerMinute int
	// MaxKeys bounds the number of tracked keys (<= 0 uses DefaultMaxKeys).
	MaxKeys int
	// OnEvict is invoked once per evicted bucket, outside the limiter's mutex.
	OnEvict func()
}

func NewKeyedLimiter(clock Clock, cfg KeyedConfig) *KeyedLimiter {
	if clock == nil {
		clock = RealClock{}
	}
	maxKeys := cfg.MaxKeys
	if maxKeys <= 0 {
		maxKeys = DefaultMaxKeys
	}
	return &KeyedLimiter{
		clock:     clock,
		perMinute: int64(cfg.PerMinute),
		maxKeys:   maxKeys,
		onEvict:   cfg.OnEvict,
		buckets:   make(map[string]*keyedEntry),
		lru:       list.New(),
	}
}

// Allow reports whether one more event for key fits in its budget.
func (l *KeyedLimiter) Allow(key string) bool {
	if l == nil || l.perMinute <= 0 {
		return true
	}
	// TokenBucket refills in whole tokens per second, so one event costs 60
	// tokens and the bucket refills perMinute tokens/sec.
	return l.bucket(key).Allow(60)
}

func (l *KeyedLimiter) bucket(key string) *TokenBucket {
	var onEvict func()

	l.mu.Lock()
	if entry, ok := l.buckets[key]; ok {
		l.lru.MoveToFront(entry.elem)
		l.mu.Unlock()
		return entry.bucket
	}

	if len(l.buckets) >= l.maxKeys {
		// Oldest entry is at the back.
		if elem := l.lru.Back(); elem != nil {
			evictKey := elem.Value.(string)
			l.lru.Remove(elem)
			delete(l.buckets, evictKey)
			onEvict = l.onEvict
		}
	}

	bucket := NewTokenBucket(l.clock, l.perMinute*60, l.perMinute)
	l.buckets[key] = &keyedEntry{
		bucket: bucket,
		elem:   l.lru.PushFront(key),
	}
	l.mu.Unlock()

	if onEvict != nil {
		onEvict()
	}
	return bucket
}
