package mempool

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

// seqSource produces 1, 2, 3, ... and records everything it is asked to do.
type seqSource struct {
	mu     sync.Mutex
	next   int
	calls  []Flags
	freed  []int
	failFn func(call int, flags Flags) bool
}

func (s *seqSource) Alloc(flags Flags) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = append(s.calls, flags)
	if s.failFn != nil && s.failFn(len(s.calls), flags) {
		return 0, false
	}
	s.next++
	return s.next, true
}

func (s *seqSource) Free(elem int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.freed = append(s.freed, elem)
}

func (s *seqSource) setFail(fn func(call int, flags Flags) bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failFn = fn
}

func (s *seqSource) produced() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}

func (s *seqSource) freedElems() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.freed...)
}

func (s *seqSource) callFlags() []Flags {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Flags(nil), s.calls...)
}

func alwaysFail(int, Flags) bool { return true }

// failNonBlocking models an allocator that only succeeds when allowed to sleep.
func failNonBlocking(_ int, flags Flags) bool { return !flags.CanBlock() }

func newSeqPool(t *testing.T, capacity int) (*Pool[int], *seqSource) {
	src := &seqSource{}
	p, err := New[int](capacity, src, Kernel, nil)
	require.NoError(t, err)
	return p, src
}

func TestNewFillsReserve(t *testing.T) {
	p, src := newSeqPool(t, 3)

	assert.Equal(t, 3, p.Count())
	assert.Equal(t, 3, p.Capacity())
	assert.True(t, p.IsSaturated())
	assert.Equal(t, []Flags{Kernel, Kernel, Kernel}, src.callFlags())
	assert.Empty(t, src.freedElems())
}

func TestNewRollsBackOnFailure(t *testing.T) {
	const capacity, failAt = 5, 3

	src := &seqSource{failFn: func(call int, _ Flags) bool { return call == failAt }}
	p, err := New[int](capacity, src, Kernel, nil)

	require.ErrorIs(t, err, ErrPrefill)
	assert.Nil(t, p)
	assert.ElementsMatch(t, []int{1, 2}, src.freedElems())
	assert.Equal(t, failAt-1, src.produced())
}

func TestNewCapacityLimits(t *testing.T) {
	_, err := New[int](MaxCapacity+1, &seqSource{}, Kernel, nil)
	assert.ErrorIs(t, err, ErrTooLarge)

	assert.Panics(t, func() { _, _ = New[int](0, &seqSource{}, Kernel, nil) })
	assert.Panics(t, func() { _, _ = New[int](-1, &seqSource{}, Kernel, nil) })
}

func TestAllocFastPathUsesSafeFlags(t *testing.T) {
	p, src := newSeqPool(t, 2)

	elem, ok := p.Alloc(Kernel)
	require.True(t, ok)
	assert.Equal(t, 3, elem, "fast path must not touch the reserve")
	assert.Equal(t, 2, p.Count())

	calls := src.callFlags()
	last := calls[len(calls)-1]
	assert.False(t, last.CanBlock())
	assert.False(t, last.CanIO())
	assert.Equal(t, NoReserves|NoWarn, last)
}

func TestAllocReserveBeforeRetry(t *testing.T) {
	p, src := newSeqPool(t, 1)
	src.setFail(failNonBlocking)

	first, ok := p.Alloc(Kernel)
	require.True(t, ok)
	assert.Equal(t, 1, first, "reserve is preferred over a blocking allocation")

	second, ok := p.Alloc(Kernel)
	require.True(t, ok)
	assert.Equal(t, 2, second)

	calls := src.callFlags()[1:]
	assert.Equal(t, []Flags{
		NoReserves | NoWarn,
		NoReserves | NoWarn,
		Kernel | NoReserves | NoWarn,
	}, calls)
}

func TestAllocNonBlockingDoesNotRetry(t *testing.T) {
	p, src := newSeqPool(t, 1)
	src.setFail(alwaysFail)

	_, ok := p.Alloc(Atomic)
	require.True(t, ok)

	before := len(src.callFlags())
	_, ok = p.Alloc(Atomic)
	assert.False(t, ok)
	assert.Equal(t, before+1, len(src.callFlags()), "atomic callers get a single source attempt")
}

func TestNonBlockingGuarantee(t *testing.T) {
	p, src := newSeqPool(t, 1)
	src.setFail(alwaysFail)

	held, ok := p.Alloc(Atomic)
	require.True(t, ok)

	done := make(chan bool)
	go func() {
		_, ok := p.Alloc(Atomic)
		done <- ok
	}()

	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("non-blocking alloc got stuck")
	}

	_, ok = p.Alloc(MayIO)
	assert.False(t, ok)

	p.Free(held)
	assert.Equal(t, 1, p.Count())
}

func TestBlockingGuarantee(t *testing.T) {
	p, src := newSeqPool(t, 1)
	src.setFail(alwaysFail)

	held, ok := p.Alloc(Kernel)
	require.True(t, ok)
	produced := src.produced()

	got := make(chan int)
	go func() {
		elem, ok := p.Alloc(Kernel)
		assert.True(t, ok)
		got <- elem
	}()

	require.Eventually(t, func() bool { return p.Stats().Waiters == 1 }, time.Second, time.Millisecond)
	select {
	case <-got:
		t.Fatal("alloc returned before anything was freed")
	case <-time.After(20 * time.Millisecond):
	}

	p.Free(held)

	select {
	case elem := <-got:
		assert.Equal(t, held, elem, "waiter must get the freed element")
	case <-time.After(time.Second):
		t.Fatal("waiter was not woken")
	}
	assert.Equal(t, produced, src.produced(), "no fresh element may be produced")
	assert.Equal(t, 0, p.Count())
}

func TestWakeupIsPassedOn(t *testing.T) {
	p, src := newSeqPool(t, 1)
	src.setFail(alwaysFail)

	held, ok := p.Alloc(Kernel)
	require.True(t, ok)

	const waiters = 2
	results := make(chan int, waiters)
	for i := 0; i < waiters; i++ {
		go func() {
			elem, ok := p.Alloc(Kernel)
			assert.True(t, ok)
			results <- elem
		}()
	}
	require.Eventually(t, func() bool { return p.Stats().Waiters == waiters }, time.Second, time.Millisecond)

	// the next source call succeeds once, so whichever waiter wakes first
	// is served by the source and leaves the banked element to the other
	credit := atomic.NewInt32(1)
	src.setFail(func(int, Flags) bool { return credit.Dec() < 0 })
	p.Free(held)

	got := make([]int, 0, waiters)
	for i := 0; i < waiters; i++ {
		select {
		case elem := <-results:
			got = append(got, elem)
		case <-time.After(time.Second):
			t.Fatalf("waiter %d is still asleep with an element banked", i)
		}
	}
	assert.Contains(t, got, held)
	assert.Equal(t, 0, p.Count())
}

func TestAllocContext(t *testing.T) {
	p, src := newSeqPool(t, 1)
	src.setFail(alwaysFail)

	held, err := p.AllocContext(context.Background(), Kernel)
	require.NoError(t, err)

	_, err = p.AllocContext(context.Background(), Atomic)
	assert.ErrorIs(t, err, ErrExhausted)

	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error)
	go func() {
		_, err := p.AllocContext(ctx, Kernel)
		errs <- err
	}()
	require.Eventually(t, func() bool { return p.Stats().Waiters == 1 }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("canceled waiter did not return")
	}
	assert.Equal(t, 0, p.Stats().Waiters)

	p.Free(held)
	elem, err := p.AllocContext(context.Background(), Kernel)
	require.NoError(t, err)
	assert.Equal(t, held, elem)
}

func TestAllocPreallocated(t *testing.T) {
	p, src := newSeqPool(t, 2)
	calls := len(src.callFlags())

	a, ok := p.AllocPreallocated()
	require.True(t, ok)
	b, ok := p.AllocPreallocated()
	require.True(t, ok)
	_, ok = p.AllocPreallocated()
	assert.False(t, ok)

	assert.ElementsMatch(t, []int{1, 2}, []int{a, b})
	assert.Equal(t, calls, len(src.callFlags()), "source must not be called")
}

func TestFreeNoneIsNoop(t *testing.T) {
	p, src := newSeqPool(t, 1)
	_, ok := p.AllocPreallocated()
	require.True(t, ok)

	p.Free(0)
	assert.Equal(t, 0, p.Count())
	assert.Empty(t, src.freedElems())
}

// Scenario: two banked elements, the source refuses non-blocking requests.
func TestReserveLifecycle(t *testing.T) {
	p, src := newSeqPool(t, 2)
	assert.Equal(t, 2, p.Count())
	assert.Empty(t, src.freedElems())

	src.setFail(failNonBlocking)

	a, ok := p.Alloc(Atomic)
	require.True(t, ok)
	b, ok := p.Alloc(Atomic)
	require.True(t, ok)
	assert.ElementsMatch(t, []int{1, 2}, []int{a, b})
	assert.Equal(t, 0, p.Count())

	_, ok = p.Alloc(Atomic)
	assert.False(t, ok)

	c, ok := p.Alloc(Kernel)
	require.True(t, ok)
	assert.Equal(t, 3, c)

	p.Free(a)
	assert.Equal(t, 1, p.Count())
	assert.Empty(t, src.freedElems(), "banked, not freed")

	p.Free(b)
	assert.Equal(t, 2, p.Count())
	assert.Empty(t, src.freedElems())

	p.Free(c)
	assert.Equal(t, 2, p.Count())
	assert.Equal(t, []int{c}, src.freedElems(), "reserve is full, element goes to the source")
}

func TestShrinkDrains(t *testing.T) {
	p, src := newSeqPool(t, 5)

	require.NoError(t, p.Resize(2, Kernel))
	assert.Len(t, src.freedElems(), 3)
	assert.Equal(t, 2, p.Count())
	assert.Equal(t, 2, p.Capacity())

	require.NoError(t, p.Resize(2, Kernel))
	assert.Len(t, src.freedElems(), 3)
}

func TestShrinkKeepsCheckedOutElements(t *testing.T) {
	p, src := newSeqPool(t, 4)
	held, ok := p.AllocPreallocated()
	require.True(t, ok)
	_, ok = p.AllocPreallocated()
	require.True(t, ok)

	require.NoError(t, p.Resize(1, Kernel))
	assert.Len(t, src.freedElems(), 1)
	assert.Equal(t, 1, p.Count())

	p.Free(held)
	assert.Equal(t, []int{2, held}, src.freedElems())
}

func TestGrowBestEffort(t *testing.T) {
	const n, k, j = 2, 3, 1

	p, src := newSeqPool(t, n)
	src.setFail(func(call int, _ Flags) bool { return call > n+j })

	require.NoError(t, p.Resize(n+k, Kernel))
	assert.Equal(t, n+k, p.Capacity())
	assert.Equal(t, n+j, p.Count())
	assert.False(t, p.IsSaturated())

	// the gap is filled by frees
	src.setFail(nil)
	extra, ok := p.Alloc(Kernel)
	require.True(t, ok)
	p.Free(extra)
	assert.Equal(t, n+j+1, p.Count())
}

func TestGrowWakesWaiters(t *testing.T) {
	p, src := newSeqPool(t, 1)
	src.setFail(failNonBlocking)

	_, ok := p.AllocPreallocated()
	require.True(t, ok)

	src.setFail(alwaysFail)
	got := make(chan int)
	go func() {
		elem, _ := p.Alloc(Kernel)
		got <- elem
	}()
	require.Eventually(t, func() bool { return p.Stats().Waiters == 1 }, time.Second, time.Millisecond)

	// only the resize fill may succeed
	src.setFail(func(_ int, flags Flags) bool { return flags != Atomic })
	require.NoError(t, p.Resize(2, Atomic))

	select {
	case elem := <-got:
		assert.NotZero(t, elem)
	case <-time.After(time.Second):
		t.Fatal("waiter was not woken by grow")
	}
}

// resizingSource runs onAlloc once, before producing the next element.
type resizingSource struct {
	*seqSource
	onAlloc func()
}

func (s *resizingSource) Alloc(flags Flags) (int, bool) {
	if fn := s.onAlloc; fn != nil {
		s.onAlloc = nil
		fn()
	}
	return s.seqSource.Alloc(flags)
}

func TestGrowFreesElementsOverShrunkCapacity(t *testing.T) {
	src := &resizingSource{seqSource: &seqSource{}}
	p, err := New[int](1, src, Kernel, nil)
	require.NoError(t, err)

	// the pool shrinks back while the grow fill is inside the source
	src.onAlloc = func() { require.NoError(t, p.Resize(1, Kernel)) }
	require.NoError(t, p.Resize(3, Kernel))

	assert.Equal(t, 1, p.Capacity())
	assert.Equal(t, 1, p.Count())
	assert.Equal(t, 2, src.produced())
	assert.Equal(t, []int{2}, src.freedElems(), "element produced past the new capacity goes back")
	assert.LessOrEqual(t, p.Stats().Count, p.Stats().Capacity)
}

func TestGrowYieldsToLargerConcurrentGrow(t *testing.T) {
	p, src := newSeqPool(t, 2)

	var fired atomic.Bool
	p.growHook = func() {
		if fired.CompareAndSwap(false, true) {
			require.NoError(t, p.Resize(4, Kernel))
		}
	}
	require.NoError(t, p.Resize(3, Kernel))

	assert.Equal(t, 4, p.Capacity(), "smaller grow must not undo the larger one")
	assert.Equal(t, 4, p.Count())
	assert.Equal(t, 4, src.produced())
	assert.Empty(t, src.freedElems())
}

func TestResizeTooLarge(t *testing.T) {
	p, _ := newSeqPool(t, 2)

	err := p.Resize(MaxCapacity+1, Kernel)
	assert.ErrorIs(t, err, ErrTooLarge)
	assert.Equal(t, 2, p.Capacity())
	assert.Equal(t, 2, p.Count())

	assert.Panics(t, func() { _ = p.Resize(0, Kernel) })
}

func TestDestroyDrains(t *testing.T) {
	p, src := newSeqPool(t, 3)
	held, ok := p.AllocPreallocated()
	require.True(t, ok)

	p.Destroy()
	assert.ElementsMatch(t, []int{1, 2}, src.freedElems())

	p.Free(held)
	assert.ElementsMatch(t, []int{1, 2, held}, src.freedElems())
}

func TestFlagsString(t *testing.T) {
	assert.Equal(t, "atomic", Atomic.String())
	assert.Equal(t, "may_block|may_io", Kernel.String())
	assert.Equal(t, "may_block|no_reserves|no_warn", (NoIO | NoReserves | NoWarn).String())
}
