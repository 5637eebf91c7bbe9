// Package ratelimit provides token buckets and failure lockouts for the
// content service.
package ratelimit

import (
	"sync"
	"time"
)

// Bucket implements a token bucket rate limiter.
type Bucket struct {
	mu     sync.Mutex
	rate   float64 // tokens per second
	burst  int
	tokens float64
	last   time.Time
	now    func() time.Time
}

// NewBucket creates a bucket that starts full.
// rate is the sustained rate (operations per second), burst the maximum
// number of operations allowed at once.
func NewBucket(rate float64, burst int) *Bucket {
	return newBucket(rate, burst, time.Now)
}

func newBucket(rate float64, burst int, now func() time.Time) *Bucket {
	if burst < 1 {
		burst = 1
	}
	return &Bucket{
		rate:   rate,
		burst:  burst,
		tokens: float64(burst),
		last:   now(),
		now:    now,
	}
}

// Allow reports whether an operation may proceed and consumes a token if so.
func (b *Bucket) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.tokens += now.Sub(b.last).Seconds() * b.rate
	if b.tokens > float64(b.burst) {
		b.tokens = float64(b.burst)
	}
	b.last = now

	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

// Reset refills the bucket.
func (b *Bucket) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tokens = float64(b.burst)
	b.last = b.now()
}

func (b *Bucket) lastUsed() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.last
}

// Keyed keeps one bucket per key, typically a client address.
// Buckets idle for longer than the idle period are dropped lazily.
type Keyed struct {
	mu      sync.Mutex
	buckets map[string]*Bucket
	rate    float64
	burst   int
	idle    time.Duration
	swept   time.Time
	now     func() time.Time
}

// NewKeyed creates a per-key limiter.
func NewKeyed(rate float64, burst int, idle time.Duration) *Keyed {
	return newKeyed(rate, burst, idle, time.Now)
}

func newKeyed(rate float64, burst int, idle time.Duration, now func() time.Time) *Keyed {
	return &Keyed{
		buckets: make(map[string]*Bucket),
		rate:    rate,
		burst:   burst,
		idle:    idle,
		swept:   now(),
		now:     now,
	}
}

// Allow reports whether an operation for key may proceed.
func (k *Keyed) Allow(key string) bool {
	k.mu.Lock()
	k.sweepLocked()
	b, ok := k.buckets[key]
	if !ok {
		b = newBucket(k.rate, k.burst, k.now)
		k.buckets[key] = b
	}
	k.mu.Unlock()

	return b.Allow()
}

// Len returns the number of tracked keys.
func (k *Keyed) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.buckets)
}

func (k *Keyed) sweepLocked() {
	if k.idle <= 0 {
		return
	}
	now := k.now()
	if now.Sub(k.swept) < k.idle {
		return
	}
	k.swept = now
	for key, b := range k.buckets {
		if now.Sub(b.lastUsed()) > k.idle {
			delete(k.buckets, key)
		}
	}
}

// Lockout locks a key out after repeated failures, such as wrong tokens.
type Lockout struct {
	mu          sync.Mutex
	records     map[string]*failureRecord
	maxFailures int
	lockFor     time.Duration
	resetAfter  time.Duration
	now         func() time.Time
}

type failureRecord struct {
	count       int
	lastFailed  time.Time
	lockedUntil time.Time
}

// NewLockout creates a lockout that engages after maxFailures failures
// within resetAfter of each other and lasts lockFor.
func NewLockout(maxFailures int, lockFor, resetAfter time.Duration) *Lockout {
	return newLockout(maxFailures, lockFor, resetAfter, time.Now)
}

func newLockout(maxFailures int, lockFor, resetAfter time.Duration, now func() time.Time) *Lockout {
	if maxFailures < 1 {
		maxFailures = 1
	}
	return &Lockout{
		records:     make(map[string]*failureRecord),
		maxFailures: maxFailures,
		lockFor:     lockFor,
		resetAfter:  resetAfter,
		now:         now,
	}
}

// Failure records a failure for key and reports whether it is now locked.
func (l *Lockout) Failure(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	rec, ok := l.records[key]
	if !ok {
		rec = &failureRecord{}
		l.records[key] = rec
	}
	if now.Sub(rec.lastFailed) > l.resetAfter {
		rec.count = 0
	}
	rec.count++
	rec.lastFailed = now

	if rec.count >= l.maxFailures {
		rec.lockedUntil = now.Add(l.lockFor)
		rec.count = 0
	}
	return now.Before(rec.lockedUntil)
}

// Locked reports how long key remains locked out, or zero.
func (l *Lockout) Locked(key string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.records[key]
	if !ok {
		return 0
	}
	if left := rec.lockedUntil.Sub(l.now()); left > 0 {
		return left
	}
	return 0
}

// Success clears the failures recorded for key.
func (l *Lockout) Success(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.records, key)
}
