package mempool

import (
	"fmt"
	"sync"

	"github.com/ozontech/mempool/bytespool"
	"github.com/ozontech/mempool/consts"
)

// BufferSource hands out buffers of Size bytes from the shared bytespool classes.
type BufferSource struct {
	Size int
}

func (s BufferSource) Alloc(Flags) (*bytespool.Buffer, bool) {
	return bytespool.Acquire(s.Size), true
}

func (s BufferSource) Free(buf *bytespool.Buffer) {
	bytespool.Release(buf)
}

// NewBufferPool creates a pool that reserves capacity buffers of size bytes.
func NewBufferPool(capacity, size int, metrics *Metrics) (*Pool[*bytespool.Buffer], error) {
	if size <= 0 {
		return nil, fmt.Errorf("mempool: buffer size must be positive, got %d", size)
	}
	return New[*bytespool.Buffer](capacity, BufferSource{Size: size}, Kernel, metrics)
}

// PageSource hands out zeroed runs of 2^Order pages.
type PageSource struct {
	Order int
}

func (s PageSource) Alloc(Flags) (*bytespool.Buffer, bool) {
	buf := bytespool.Acquire(consts.PageSize << s.Order)
	buf.Zero()
	return buf, true
}

func (s PageSource) Free(buf *bytespool.Buffer) {
	bytespool.Release(buf)
}

// NewPagePool creates a pool that reserves capacity runs of 2^order pages.
func NewPagePool(capacity, order int, metrics *Metrics) (*Pool[*bytespool.Buffer], error) {
	if order < 0 || order > consts.MaxPageOrder {
		return nil, fmt.Errorf("mempool: page order %d out of range [0, %d]", order, consts.MaxPageOrder)
	}
	return New[*bytespool.Buffer](capacity, PageSource{Order: order}, Kernel, metrics)
}

// ObjectSource recycles *O values through a sync.Pool, the way a slab cache
// recycles objects of a single type.
type ObjectSource[O any] struct {
	cache sync.Pool
	reset func(*O)
}

// NewObjectSource returns a source building objects with newFn.
// reset, if not nil, is applied to every object given back to the source.
func NewObjectSource[O any](newFn func() *O, reset func(*O)) *ObjectSource[O] {
	s := &ObjectSource[O]{reset: reset}
	s.cache.New = func() any { return newFn() }
	return s
}

func (s *ObjectSource[O]) Alloc(Flags) (*O, bool) {
	obj, ok := s.cache.Get().(*O)
	return obj, ok && obj != nil
}

func (s *ObjectSource[O]) Free(obj *O) {
	if s.reset != nil {
		s.reset(obj)
	}
	s.cache.Put(obj)
}

// NewObjectPool creates a pool that reserves capacity objects built by newFn.
func NewObjectPool[O any](capacity int, newFn func() *O, reset func(*O), metrics *Metrics) (*Pool[*O], error) {
	return New[*O](capacity, NewObjectSource(newFn, reset), Kernel, metrics)
}
