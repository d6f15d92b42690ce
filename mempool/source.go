package mempool

// Source produces and destroys pool elements.
//
// Alloc must be safe to call with Atomic flags and may fail under them;
// a failed allocation is reported with false and is not an error condition.
// Free must accept every element Alloc produced and must not fail.
type Source[T any] interface {
	Alloc(flags Flags) (T, bool)
	Free(elem T)
}

// SourceFuncs adapts a pair of closures to Source. Whatever the closures
// capture plays the role of per-pool private data.
type SourceFuncs[T any] struct {
	AllocFn func(flags Flags) (T, bool)
	FreeFn  func(elem T)
}

func (s SourceFuncs[T]) Alloc(flags Flags) (T, bool) {
	return s.AllocFn(flags)
}

func (s SourceFuncs[T]) Free(elem T) {
	if s.FreeFn != nil {
		s.FreeFn(elem)
	}
}
