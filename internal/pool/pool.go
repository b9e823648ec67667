// Package pool provides free lists used to amortize allocations on the hot
// packet paths.
//
// Unlike the standard library sync.Pool, these are suitable for short-lived
// items: each free list is a channel, items are held onto indefinitely, and
// reuse is round-robin.
package pool

import (
	"errors"
	"sync"
	"sync/atomic"
)

type metrics struct {
	hits   atomic.Uint64
	misses atomic.Uint64
}

func (m *metrics) hit() {
	m.hits.Add(1)
}

func (m *metrics) miss() {
	m.misses.Add(1)
}

// Hits returns the number of Gets served from the pool, and the total number of Gets.
func (m *metrics) Hits() (hits, total uint64) {
	hits = m.hits.Load()
	return hits, hits + m.misses.Load()
}

// SlicePool is a free list of slices.
//
// Get returns a nil slice when the pool is empty rather than allocating,
// so the caller can allocate the exact size it needs on a miss.
// Put discards slices with a capacity above the cull length,
// so that one oversized allocation cannot pin memory forever.
//
// A SlicePool is safe for use by multiple goroutines simultaneously.
// A nil SlicePool is an empty pool with no capacity.
type SlicePool[S []T, T any] struct {
	metrics

	ch     chan S
	length int
}

// NewSlicePool returns a SlicePool holding up to depth slices,
// culling any slice with a capacity greater than cullLength.
//
// It panics if given a zero or negative cull length,
// or a negative depth, the same as making a negative-buffer channel.
func NewSlicePool[S []T, T any](depth, cullLength int) *SlicePool[S, T] {
	if cullLength <= 0 {
		panic("pool: cull length must be greater than zero")
	}

	return &SlicePool[S, T]{
		ch:     make(chan S, depth),
		length: cullLength,
	}
}

// Get retrieves a slice from the pool, re-extended to its full capacity.
// If the pool is empty, it returns a nil slice.
func (p *SlicePool[S, T]) Get() S {
	if p == nil {
		return nil
	}

	select {
	case b := <-p.ch:
		p.hit()
		return b[:cap(b)]

	default:
		p.miss()
		return nil
	}
}

// Put adds the slice to the pool, if there is capacity in the pool,
// and the capacity of the slice does not exceed the cull length.
func (p *SlicePool[S, T]) Put(b S) {
	if p == nil {
		return
	}

	if cap(b) > p.length {
		// Holding onto buffers with excessive capacity leaks memory.
		return
	}

	select {
	case p.ch <- b:
	default:
	}
}

// Pool is a free list of pointers to items.
//
// A Pool is safe for use by multiple goroutines simultaneously.
// A nil Pool always returns freshly allocated items.
type Pool[T any] struct {
	metrics

	ch chan *T
}

// NewPool returns a Pool holding up to depth pointers to the given type.
//
// It panics if given a negative depth, the same as making a negative-buffer channel.
func NewPool[T any](depth int) *Pool[T] {
	return &Pool[T]{
		ch: make(chan *T, depth),
	}
}

// Get retrieves an item from the pool,
// or a pointer to a newly allocated item if the pool is empty.
func (p *Pool[T]) Get() *T {
	if p == nil {
		return new(T)
	}

	select {
	case v := <-p.ch:
		p.hit()
		return v

	default:
		p.miss()
		return new(T)
	}
}

// Put zeroes the item, then adds it to the pool if there is capacity.
func (p *Pool[T]) Put(v *T) {
	if p == nil {
		return
	}

	var z T
	*v = z // shallow zero.

	select {
	case p.ch <- v:
	default:
	}
}

// WorkPool is a set of work channels that coordinates returns of work done
// among goroutines.
//
// A WorkPool is filled to capacity at creation with channels of buffer 1.
// It tracks channels handed out through Get,
// blocking on Close until all of them have been returned.
// The pool depth thereby bounds the number of requests in flight.
//
// The free list itself is never closed,
// so Put remains safe to call while Close is waiting on outstanding channels.
type WorkPool[T any] struct {
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup

	done chan struct{}
	ch   chan chan T
}

// NewWorkPool returns a WorkPool holding depth work channels of the given type.
//
// It panics if given a negative depth, the same as making a negative-buffer channel.
func NewWorkPool[T any](depth int) *WorkPool[T] {
	p := &WorkPool[T]{
		done: make(chan struct{}),
		ch:   make(chan chan T, depth),
	}

	for len(p.ch) < cap(p.ch) {
		p.ch <- make(chan T, 1)
	}

	return p
}

// Close closes the WorkPool to all further Get requests,
// then waits for all outstanding channels to be returned to the pool.
//
// After calling Close, all calls to Get will return a nil work channel and false.
func (p *WorkPool[T]) Close() error {
	if p == nil {
		return errors.New("cannot close nil work pool")
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return errors.New("work pool already closed")
	}
	p.closed = true
	p.mu.Unlock()

	close(p.done)

	p.wg.Wait()

	for {
		select {
		case <-p.ch:
			// Drain the pool and leave the channels for the garbage collector.
		default:
			return nil
		}
	}
}

// Get retrieves a work channel from the pool,
// or a nil channel and false if the WorkPool has been closed.
//
// If no work channels are available, it blocks until one has been returned.
//
// A nil WorkPool always returns a new work channel and true.
func (p *WorkPool[T]) Get() (chan T, bool) {
	if p == nil {
		return make(chan T, 1), true
	}

	select {
	case <-p.done:
		return nil, false

	case v := <-p.ch:
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			// Lost the race against Close.
			// The pool was created full, so there is always room to put it back.
			p.ch <- v
			return nil, false
		}
		p.wg.Add(1)
		p.mu.Unlock()

		return v, true
	}
}

// Put returns the given work channel to the pool.
//
// Put panics if an attempt is made to return more work channels than the
// capacity of the pool.
//
// A nil WorkPool simply discards work channels.
func (p *WorkPool[T]) Put(v chan T) {
	if p == nil {
		return
	}

	select {
	case p.ch <- v:
		p.wg.Done()
	default:
		panic("work pool overfill")
	}
}
