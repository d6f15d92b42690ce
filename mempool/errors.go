package mempool

import "errors"

var (
	// ErrPrefill indicates that the source gave out before the reservoir was filled.
	ErrPrefill = errors.New("mempool: source exhausted while filling reserve")

	// ErrTooLarge indicates that the requested capacity exceeds MaxCapacity.
	ErrTooLarge = errors.New("mempool: capacity exceeds limit")

	// ErrExhausted indicates that a non-blocking allocation found nothing to hand out.
	ErrExhausted = errors.New("mempool: no element available")
)
