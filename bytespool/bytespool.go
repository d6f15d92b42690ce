package bytespool

import (
	"math/bits"
	"sync"

	"github.com/c2h5oh/datasize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var bytesPool = New()

// Acquire gets a byte buffer with given length from the global pool.
func Acquire(length int) *Buffer {
	return bytesPool.Acquire(length)
}

// AcquireReset gets a byte buffer with zero length and at least given capacity from the global pool.
func AcquireReset(capacity int) *Buffer {
	buf := bytesPool.Acquire(capacity)
	buf.Reset()
	return buf
}

// Release puts the byte buffer to the global pool.
func Release(buf *Buffer) {
	bytesPool.Release(buf)
}

var (
	hitCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mempool",
		Subsystem: "bytespool",
		Name:      "get_hits_total",
		Help:      "Buffers served from a size class.",
	}, []string{"class"})
	missCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mempool",
		Subsystem: "bytespool",
		Name:      "get_misses_total",
		Help:      "Buffers allocated because the size class was empty.",
	}, []string{"class"})
	putCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mempool",
		Subsystem: "bytespool",
		Name:      "puts_total",
		Help:      "Buffers returned to a size class.",
	}, []string{"class"})
	putOversizeCounter = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "mempool",
		Subsystem: "bytespool",
		Name:      "put_oversizes_total",
		Help:      "Buffers dropped because they exceed the largest class.",
	})
)

// Buffer is the unit handed out by the pool. It is kept behind a pointer
// so it can travel through sync.Pool and mempool reserves without copying.
type Buffer struct {
	B []byte
}

func (b *Buffer) Reset() {
	b.B = b.B[:0]
}

// Zero clears the whole capacity of the buffer and restores its full length.
func (b *Buffer) Zero() {
	b.B = b.B[:cap(b.B)]
	clear(b.B)
}

const (
	classes     = 32
	maxCapacity = 1 << (classes - 1)
)

// Pool is a set of sync.Pool size classes,
// class n holds buffers with capacity in [2^n, 2^n+1).
type Pool struct {
	//	classes[0]  [1,  2)
	//	classes[1]  [2,  4)
	//	classes[2]  [4,  8)
	//	...
	//	classes[31] [2 147 483 648, 4 294 967 296)
	classes [classes]sync.Pool

	metrics [classes]classMetrics
}

type classMetrics struct {
	hitCounter  prometheus.Counter
	missCounter prometheus.Counter
	putCounter  prometheus.Counter
}

func New() *Pool {
	p := &Pool{}
	for idx := range p.metrics {
		class := datasize.ByteSize(uint64(1) << idx).HR()
		p.metrics[idx] = classMetrics{
			hitCounter:  hitCounter.WithLabelValues(class),
			missCounter: missCounter.WithLabelValues(class),
			putCounter:  putCounter.WithLabelValues(class),
		}
	}
	return p
}

// Acquire returns a Buffer with given length and capacity rounded up to the power of two.
func (p *Pool) Acquire(length int) *Buffer {
	if length <= 0 || length > maxCapacity {
		return &Buffer{B: make([]byte, length)}
	}

	idx, classCapacity := index(length)
	if buf := p.get(idx); buf != nil {
		buf.B = buf.B[:length]
		return buf
	}

	// a buffer from the next class is still good enough
	if idx+1 < classes {
		if buf := p.get(idx + 1); buf != nil {
			buf.B = buf.B[:length]
			return buf
		}
	}

	return &Buffer{B: make([]byte, length, classCapacity)}
}

func (p *Pool) get(idx int) *Buffer {
	if v := p.classes[idx].Get(); v != nil {
		p.metrics[idx].hitCounter.Inc()
		return v.(*Buffer)
	}
	p.metrics[idx].missCounter.Inc()
	return nil
}

// Release returns Buffer to the pool.
func (p *Pool) Release(buf *Buffer) {
	if buf == nil {
		return
	}
	capacity := cap(buf.B)
	if capacity == 0 {
		return
	}
	if capacity > maxCapacity {
		putOversizeCounter.Inc()
		return
	}

	idx, leftBorder := index(capacity)
	if capacity != leftBorder {
		// not a power of two, so it belongs to the class below
		idx--
	}
	p.metrics[idx].putCounter.Inc()
	p.classes[idx].Put(buf)
}

// ClassCapacity is the capacity of a buffer Acquire makes for length bytes.
// Acquire may still hand out a pooled buffer from the next class.
func ClassCapacity(length int) int {
	if length <= 0 || length > maxCapacity {
		return length
	}
	_, classCapacity := index(length)
	return classCapacity
}

// index returns class index and left border of the range
func index(size int) (idx, leftBorder int) {
	idx = bits.Len(uint(size - 1))
	return idx, 1 << idx
}
