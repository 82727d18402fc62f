package ratelimit

import (
	"math"
	"sync"
	"time"
)

// nanoPerToken is the fixed-point scale of a bucket balance. With one token
// stored as 1e9 units, a fill rate of N tokens/sec adds exactly N units per
// elapsed nanosecond, so refills stay in integer arithmetic.
const nanoPerToken = int64(time.Second)

// TokenBucket is a token bucket with an integer fill rate driven by a Clock.
// It starts full.
type TokenBucket struct {
	mu    sync.Mutex
	clock Clock

	capacity int64 // nano-tokens
	rate     int64 // tokens/sec, equal to nano-tokens/ns
	balance  int64 // nano-tokens
	last     time.Time
}

func NewTokenBucket(clock Clock, capacityTokens, fillRate int64) *TokenBucket {
	if clock == nil {
		clock = RealClock{}
	}
	capacity := toNano(capacityTokens)
	return &TokenBucket{
		clock:    clock,
		capacity: capacity,
		rate:     max(fillRate, 0),
		balance:  capacity,
		last:     clock.Now(),
	}
}

// Allow takes tokens from the bucket if the balance covers them. Requests for
// zero or fewer tokens always succeed.
func (b *TokenBucket) Allow(tokens int64) bool {
	if tokens <= 0 {
		return true
	}
	cost := toNano(tokens)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked(b.clock.Now())
	if b.balance < cost {
		return false
	}
	b.balance -= cost
	return true
}

func (b *TokenBucket) refillLocked(now time.Time) {
	elapsed := now.Sub(b.last).Nanoseconds()
	// A clock that moves backwards only resets the reference point.
	b.last = now
	if elapsed <= 0 || b.rate == 0 || b.balance >= b.capacity {
		return
	}

	missing := b.capacity - b.balance
	// elapsed*rate would overflow long before the bucket could hold it.
	if elapsed >= missing/b.rate {
		b.balance = b.capacity
		return
	}
	b.balance = min(b.balance+elapsed*b.rate, b.capacity)
}

func toNano(tokens int64) int64 {
	if tokens <= 0 {
		return 0
	}
	if tokens > math.MaxInt64/nanoPerToken {
		return math.MaxInt64
	}
	return tokens * nanoPerToken
}
