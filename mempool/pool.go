// Package mempool implements reserve-backed element pools.
//
// A Pool keeps a fixed minimum number of preallocated elements so that
// allocations made on memory-reclaim or I/O-completion paths always make
// progress: when the underlying Source cannot produce an element the caller
// is served from the reserve, and when the reserve is empty a caller that
// may block sleeps until another goroutine frees an element.
package mempool

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/ozontech/mempool/logger"
)

// MaxCapacity bounds the size of a reserve.
const MaxCapacity = 1 << 20

// Pool guarantees that Capacity elements can be handed out without calling
// into its Source. The zero value of T is treated as "no element".
//
// Destroy must not run concurrently with any other method.
type Pool[T comparable] struct {
	mu   sync.Mutex // covers elements, capacity and waiters
	cond *sync.Cond // goroutines sleeping in Alloc

	// elements is a stack of banked elements, cap(elements) >= capacity
	elements []T
	capacity int
	waiters  int

	// count and capacityHint mirror len(elements) and capacity.
	// They are written under mu only and let Free skip the lock when
	// the reserve is full. Free relies on the atomic store in pop being
	// visible to whoever later frees the popped element: without it a
	// reserve element could be handed to Source.Free while the reserve
	// stays empty and waiters sleep forever.
	count        atomic.Int64
	capacityHint atomic.Int64

	src     Source[T]
	metrics *Metrics

	// growHook runs in Resize after the new slots are made and before
	// they are published. Tests use it to race another resize.
	growHook func()
}

// New creates a pool and fills its reserve with capacity elements taken from
// src using flags. If src fails before the reserve is full, every element
// obtained so far is returned to src and ErrPrefill is returned.
//
// capacity must be positive.
func New[T comparable](capacity int, src Source[T], flags Flags, metrics *Metrics) (*Pool[T], error) {
	if capacity < 1 {
		panic(fmt.Errorf("mempool: capacity must be positive, got %d", capacity))
	}
	if capacity > MaxCapacity {
		return nil, fmt.Errorf("%w: %d > %d", ErrTooLarge, capacity, MaxCapacity)
	}

	p := &Pool[T]{
		elements: make([]T, 0, capacity),
		capacity: capacity,
		src:      src,
		metrics:  metrics,
	}
	p.cond = sync.NewCond(&p.mu)

	for len(p.elements) < capacity {
		elem, ok := src.Alloc(flags)
		if !ok || isNone(elem) {
			banked := len(p.elements)
			p.release(p.takeAll())
			metrics.reportPrefillFail()
			logger.Warn("mempool prefill failed",
				zap.Int("capacity", capacity),
				zap.Int("banked", banked),
				zap.Stringer("flags", flags),
			)
			return nil, fmt.Errorf("%w: got %d of %d", ErrPrefill, banked, capacity)
		}
		p.elements = append(p.elements, elem)
	}

	p.publish()
	return p, nil
}

// Destroy returns every banked element to the source. Elements still held
// by callers may be freed afterwards and go straight to the source.
func (p *Pool[T]) Destroy() {
	p.mu.Lock()
	elements := p.takeAll()
	p.capacity = 0
	p.publish()
	p.mu.Unlock()

	p.release(elements)
	logger.Debug("mempool destroyed", zap.Int("released", len(elements)))
}

// Alloc returns an element, first from the source using flags stripped of
// MayBlock and MayIO, then from the reserve, then from the source with the
// caller's flags. If all of that fails and flags permit blocking, Alloc
// sleeps until an element is freed and starts over; in that case it never
// fails. Otherwise it reports false.
func (p *Pool[T]) Alloc(flags Flags) (T, bool) {
	elem, err := p.alloc(context.Background(), flags)
	return elem, err == nil
}

// AllocContext is Alloc whose sleep can be interrupted by ctx.
// A non-blocking miss is reported as ErrExhausted.
func (p *Pool[T]) AllocContext(ctx context.Context, flags Flags) (T, error) {
	if flags.CanBlock() && ctx.Done() != nil {
		stop := context.AfterFunc(ctx, func() {
			p.mu.Lock()
			p.cond.Broadcast()
			p.mu.Unlock()
		})
		defer stop()
	}
	return p.alloc(ctx, flags)
}

// AllocPreallocated takes an element from the reserve only.
// It never calls the source and never blocks.
func (p *Pool[T]) AllocPreallocated() (T, bool) {
	p.lock()
	defer p.mu.Unlock()

	if len(p.elements) == 0 {
		var zero T
		return zero, false
	}
	p.metrics.reportReserveHit()
	return p.pop(), true
}

func (p *Pool[T]) alloc(ctx context.Context, flags Flags) (T, error) {
	flags |= NoReserves | NoWarn
	attempt := flags.safe()
	woken := false

	for {
		if elem, ok := p.src.Alloc(attempt); ok && !isNone(elem) {
			p.metrics.reportFastHit()
			if woken {
				p.handoff()
			}
			return elem, nil
		}

		p.lock()
		if len(p.elements) > 0 {
			elem := p.pop()
			p.mu.Unlock()
			p.metrics.reportReserveHit()
			return elem, nil
		}

		if attempt != flags {
			// let the source block or do I/O this time
			p.mu.Unlock()
			p.metrics.reportRetry()
			attempt = flags
			continue
		}

		var zero T
		if !flags.CanBlock() {
			p.mu.Unlock()
			p.metrics.reportFailure()
			return zero, ErrExhausted
		}
		if err := ctx.Err(); err != nil {
			p.mu.Unlock()
			return zero, err
		}

		p.metrics.reportWait()
		p.waiters++
		p.cond.Wait()
		p.waiters--
		p.mu.Unlock()
		woken = true
	}
}

// handoff passes a wakeup on to the next waiter when the woken goroutine
// was served by the source and left the banked element behind.
func (p *Pool[T]) handoff() {
	p.mu.Lock()
	pass := len(p.elements) > 0 && p.waiters > 0
	p.mu.Unlock()

	if pass {
		p.metrics.reportHandoff()
		p.cond.Signal()
	}
}

// Free banks elem if the reserve is below capacity and wakes one waiter,
// otherwise returns elem to the source. Freeing the zero value is a no-op.
func (p *Pool[T]) Free(elem T) {
	if isNone(elem) {
		return
	}

	if p.count.Load() < p.capacityHint.Load() {
		p.lock()
		if len(p.elements) < p.capacity {
			p.push(elem)
			p.mu.Unlock()
			p.metrics.reportBanked()
			p.cond.Signal()
			return
		}
		p.mu.Unlock()
	}

	p.metrics.reportReleased()
	p.src.Free(elem)
}

// Resize changes the guaranteed number of elements.
//
// Shrinking returns surplus banked elements to the source. Growing
// reallocates the reserve and then fills it from the source using flags on
// a best-effort basis: a source failure stops the fill but is not an error.
func (p *Pool[T]) Resize(newCapacity int, flags Flags) error {
	if newCapacity < 1 {
		panic(fmt.Errorf("mempool: capacity must be positive, got %d", newCapacity))
	}
	if newCapacity > MaxCapacity {
		return fmt.Errorf("%w: %d > %d", ErrTooLarge, newCapacity, MaxCapacity)
	}

	p.lock()
	oldCapacity := p.capacity
	if newCapacity <= oldCapacity {
		p.shrink(newCapacity)
		count := len(p.elements)
		p.mu.Unlock()

		p.metrics.reportResize(false)
		logger.Info("mempool shrunk",
			zap.Int("old_capacity", oldCapacity),
			zap.Int("new_capacity", newCapacity),
			zap.Int("count", count),
		)
		return nil
	}
	p.mu.Unlock()

	elements := make([]T, 0, newCapacity)
	if p.growHook != nil {
		p.growHook()
	}

	p.lock()
	if newCapacity <= p.capacity {
		// raced with a concurrent grow that already covers us
		p.mu.Unlock()
		return nil
	}
	p.elements = append(elements, p.elements...)
	p.capacity = newCapacity
	p.publish()

	for len(p.elements) < p.capacity {
		p.mu.Unlock()
		elem, ok := p.src.Alloc(flags)
		if !ok || isNone(elem) {
			p.lock()
			break
		}

		p.lock()
		if len(p.elements) >= p.capacity {
			p.mu.Unlock()
			p.src.Free(elem)
			p.lock()
			break
		}
		p.push(elem)
		p.cond.Signal()
	}
	count := len(p.elements)
	p.mu.Unlock()

	p.metrics.reportResize(true)
	logger.Info("mempool grown",
		zap.Int("old_capacity", oldCapacity),
		zap.Int("new_capacity", newCapacity),
		zap.Int("count", count),
	)
	return nil
}

// shrink drains the surplus, dropping mu around each call into the source,
// and then lowers capacity. Called and returns with mu held.
func (p *Pool[T]) shrink(newCapacity int) {
	for len(p.elements) > newCapacity {
		elem := p.pop()
		p.mu.Unlock()
		p.src.Free(elem)
		p.lock()
	}
	p.capacity = newCapacity
	p.publish()
}

func (p *Pool[T]) Capacity() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.capacity
}

// Count returns the number of banked elements.
func (p *Pool[T]) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.elements)
}

// IsSaturated reports whether the reserve is full, i.e. Free would hand
// the element back to the source.
func (p *Pool[T]) IsSaturated() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.elements) >= p.capacity
}

type Stats struct {
	Capacity int
	Count    int
	Waiters  int
}

func (p *Pool[T]) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Capacity: p.capacity,
		Count:    len(p.elements),
		Waiters:  p.waiters,
	}
}

func (p *Pool[T]) lock() {
	if !p.mu.TryLock() {
		// we only need this for metrics
		p.metrics.reportLockWait()
		p.mu.Lock()
	}
}

// pop, push, takeAll and publish must be called with mu held.

func (p *Pool[T]) pop() T {
	var zero T
	n := len(p.elements) - 1
	elem := p.elements[n]
	p.elements[n] = zero
	p.elements = p.elements[:n]
	p.count.Store(int64(n))
	p.metrics.setCount(n)
	return elem
}

func (p *Pool[T]) push(elem T) {
	p.elements = append(p.elements, elem)
	p.count.Store(int64(len(p.elements)))
	p.metrics.setCount(len(p.elements))
}

func (p *Pool[T]) takeAll() []T {
	elements := p.elements
	p.elements = nil
	return elements
}

func (p *Pool[T]) publish() {
	p.count.Store(int64(len(p.elements)))
	p.capacityHint.Store(int64(p.capacity))
	p.metrics.setCount(len(p.elements))
	p.metrics.setCapacity(p.capacity)
}

// release hands elements back to the source, newest first.
func (p *Pool[T]) release(elements []T) {
	for i := len(elements) - 1; i >= 0; i-- {
		p.src.Free(elements[i])
	}
}

func isNone[T comparable](v T) bool {
	var zero T
	return v == zero
}
