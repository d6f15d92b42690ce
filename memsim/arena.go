// Package memsim simulates a bounded memory budget with an emergency reserve
// and direct reclaim, so that pool element sources can fail the way real
// allocators do under memory pressure.
package memsim

import (
	"fmt"

	"github.com/valyala/fastrand"
	"go.uber.org/atomic"

	"github.com/ozontech/mempool/bytespool"
	"github.com/ozontech/mempool/mempool"
)

const faultScale = 1_000_000

type Config struct {
	// Limit is the total budget in bytes.
	Limit int64
	// Reserve is the part of Limit that only allocations without
	// mempool.NoReserves may use.
	Reserve int64
	// FailRate is the probability of failing a non-blocking allocation
	// regardless of the budget.
	FailRate float64
}

func (c Config) Validate() error {
	if c.Limit <= 0 {
		return fmt.Errorf("memsim: limit must be positive, got %d", c.Limit)
	}
	if c.Reserve < 0 || c.Reserve > c.Limit {
		return fmt.Errorf("memsim: reserve %d out of range [0, %d]", c.Reserve, c.Limit)
	}
	if c.FailRate < 0 || c.FailRate > 1 {
		return fmt.Errorf("memsim: fail rate %v out of range [0, 1]", c.FailRate)
	}
	return nil
}

// Arena accounts bytes against a budget. Only allocations that may block
// run reclaim, and reclaim is attempted once per allocation.
type Arena struct {
	limit    int64
	reserve  int64
	faultPPM uint32

	used      atomic.Int64
	reclaimer Reclaimer
	metrics   *Metrics
}

func NewArena(cfg Config, metrics *Metrics) (*Arena, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Arena{
		limit:    cfg.Limit,
		reserve:  cfg.Reserve,
		faultPPM: uint32(cfg.FailRate * faultScale),
		metrics:  metrics,
	}, nil
}

// SetReclaimer installs the reclaimer used by blocking allocations.
// It must be called before the arena is shared.
func (a *Arena) SetReclaimer(r Reclaimer) {
	a.reclaimer = r
}

// Charge takes size bytes from the budget.
func (a *Arena) Charge(size int64, flags mempool.Flags) bool {
	if !flags.CanBlock() && a.faultPPM > 0 && fastrand.Uint32n(faultScale) < a.faultPPM {
		a.metrics.reportFault()
		return false
	}

	if a.tryCharge(size, flags) {
		return true
	}

	if flags.CanBlock() && a.reclaimer != nil {
		freed := a.reclaimer.Reclaim(size, flags.CanIO())
		a.metrics.reportReclaim(freed)
		if a.tryCharge(size, flags) {
			return true
		}
	}

	a.metrics.reportFailure()
	return false
}

func (a *Arena) tryCharge(size int64, flags mempool.Flags) bool {
	limit := a.limit
	if flags&mempool.NoReserves != 0 {
		limit -= a.reserve
	}
	for {
		used := a.used.Load()
		if used+size > limit {
			return false
		}
		if a.used.CompareAndSwap(used, used+size) {
			a.metrics.setUsed(used + size)
			return true
		}
	}
}

// Uncharge returns size bytes to the budget.
func (a *Arena) Uncharge(size int64) {
	a.metrics.setUsed(a.used.Sub(size))
}

// Alloc returns a buffer of size bytes charged to the arena.
// The charge is the size class capacity, see [bytespool.ClassCapacity].
func (a *Arena) Alloc(size int, flags mempool.Flags) (*bytespool.Buffer, bool) {
	buf := bytespool.Acquire(size)
	// a pooled buffer of the next class is cut down to keep the charge exact
	if class := bytespool.ClassCapacity(size); cap(buf.B) > class {
		buf.B = buf.B[:size:class]
	}
	if !a.Charge(int64(cap(buf.B)), flags) {
		bytespool.Release(buf)
		return nil, false
	}
	return buf, true
}

// Free uncharges and releases a buffer obtained from Alloc.
func (a *Arena) Free(buf *bytespool.Buffer) {
	a.Uncharge(int64(cap(buf.B)))
	bytespool.Release(buf)
}

func (a *Arena) Used() int64 {
	return a.used.Load()
}

func (a *Arena) Limit() int64 {
	return a.limit
}

// Source returns a pool element source producing buffers of size bytes.
func (a *Arena) Source(size int) mempool.Source[*bytespool.Buffer] {
	return arenaSource{arena: a, size: size}
}

type arenaSource struct {
	arena *Arena
	size  int
}

func (s arenaSource) Alloc(flags mempool.Flags) (*bytespool.Buffer, bool) {
	return s.arena.Alloc(s.size, flags)
}

func (s arenaSource) Free(buf *bytespool.Buffer) {
	s.arena.Free(buf)
}
