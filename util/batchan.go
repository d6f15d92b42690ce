package util

import "sync"

// Batchan is a batching channel: Send queues single items and Fetch takes
// everything queued so far. It supports multiple writers and readers.
type Batchan[V any] struct {
	mu     sync.Mutex
	out    []V
	closed bool
	notify chan struct{}
}

func NewBatchan[V any]() *Batchan[V] {
	return &Batchan[V]{
		notify: make(chan struct{}, 1),
	}
}

// Send queues v. It reports false and drops v once the Batchan is closed,
// so the caller still owns v.
func (b *Batchan[V]) Send(v V) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return false
	}
	b.out = append(b.out, v)
	if len(b.out) == 1 {
		b.notify <- struct{}{}
	}
	return true
}

// Close tells readers no more items are coming. Items already queued are
// still returned by Fetch.
func (b *Batchan[V]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.notify)
	}
}

// Fetch returns all items queued and not fetched yet. buf replaces the inner
// buffer and must not be reused by the caller.
// It blocks while the Batchan is open and empty. An empty result means the
// Batchan is closed and drained.
func (b *Batchan[V]) Fetch(buf []V) []V {
	for {
		<-b.notify
		b.mu.Lock()
		if len(b.out) > 0 || b.closed {
			res := b.out
			b.out = buf[:0]
			b.mu.Unlock()
			return res
		}
		// a concurrent Fetch took the batch this notification was for
		b.mu.Unlock()
	}
}

// Len returns the number of queued items.
func (b *Batchan[V]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.out)
}
