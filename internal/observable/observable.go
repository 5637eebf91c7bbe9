// Package observable provides a small observable value primitive.
//
// A Value holds a single value and notifies subscribers synchronously on
// every write. Each write is tagged with an Origin so that an observer can
// tell its own writes apart from everyone else's.
package observable

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// Origin identifies the writer of a change.
type Origin struct {
	id   uint64
	name string
}

var originSeq atomic.Uint64

// External is the origin of writes made through Set and Update.
var External = Origin{id: 0, name: "external"}

// NewOrigin mints a unique origin tag.
func NewOrigin(name string) Origin {
	return Origin{id: originSeq.Add(1), name: name}
}

// String returns the origin name and its sequence number.
func (o Origin) String() string {
	return fmt.Sprintf("%s#%d", o.name, o.id)
}

// Change describes one write to a Value.
type Change[T any] struct {
	Old    T
	New    T
	Origin Origin
	// Gen increases by one on every write.
	Gen uint64
}

// Value is a concurrency-safe observable value.
type Value[T any] struct {
	mu        sync.RWMutex
	v         T
	gen       uint64
	nextSubID uint64
	subs      map[uint64]func(Change[T])
	order     []uint64
}

// NewValue creates a Value holding v.
func NewValue[T any](v T) *Value[T] {
	return &Value[T]{v: v, subs: make(map[uint64]func(Change[T]))}
}

// Get returns the current value.
func (x *Value[T]) Get() T {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.v
}

// Gen returns the number of writes so far.
func (x *Value[T]) Gen() uint64 {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.gen
}

// Set stores v and notifies subscribers with the External origin.
func (x *Value[T]) Set(v T) {
	x.SetFrom(External, v)
}

// SetFrom stores v and notifies subscribers with the given origin. It
// returns the generation of this write.
//
// Notifications run after the lock is released, so with concurrent writers
// they may arrive out of order. Subscribers that act on the latest value
// should read Get or compare Change.Gen with Gen.
func (x *Value[T]) SetFrom(origin Origin, v T) uint64 {
	x.mu.Lock()
	old := x.v
	x.v = v
	x.gen++
	c := Change[T]{Old: old, New: v, Origin: origin, Gen: x.gen}
	subs := x.snapshotSubs()
	x.mu.Unlock()

	for _, fn := range subs {
		fn(c)
	}
	return c.Gen
}

// Update applies fn to the current value and stores the result.
// fn runs under the value's lock and must not call back into x.
func (x *Value[T]) Update(fn func(T) T) {
	x.mu.Lock()
	old := x.v
	x.v = fn(old)
	x.gen++
	c := Change[T]{Old: old, New: x.v, Origin: External, Gen: x.gen}
	subs := x.snapshotSubs()
	x.mu.Unlock()

	for _, f := range subs {
		f(c)
	}
}

// Subscribe registers fn for future changes. The returned function removes
// the subscription and is safe to call more than once.
func (x *Value[T]) Subscribe(fn func(Change[T])) (cancel func()) {
	x.mu.Lock()
	if x.subs == nil {
		x.subs = make(map[uint64]func(Change[T]))
	}
	x.nextSubID++
	id := x.nextSubID
	x.subs[id] = fn
	x.order = append(x.order, id)
	x.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			x.mu.Lock()
			defer x.mu.Unlock()
			delete(x.subs, id)
			for i, sid := range x.order {
				if sid == id {
					x.order = append(x.order[:i], x.order[i+1:]...)
					break
				}
			}
		})
	}
}

// snapshotSubs copies the subscriber list in registration order.
// Caller must hold x.mu.
func (x *Value[T]) snapshotSubs() []func(Change[T]) {
	subs := make([]func(Change[T]), 0, len(x.order))
	for _, id := range x.order {
		subs = append(subs, x.subs[id])
	}
	return subs
}
