package mempool

import "strings"

// Flags describe what an allocation is allowed to do. The pool forwards them
// to its Source, so the same bits mean the same thing on both sides.
type Flags uint8

const (
	// MayBlock allows the caller to sleep until memory becomes available.
	MayBlock Flags = 1 << iota
	// MayIO allows the source to start I/O or otherwise recurse into reclaim.
	MayIO
	// NoReserves forbids the source from dipping into emergency reserves.
	NoReserves
	// NoWarn marks a failure as expected, the source must not report it.
	NoWarn
)

const (
	// Atomic never sleeps and never does I/O.
	Atomic Flags = 0
	// NoIO may sleep but must not recurse into I/O.
	NoIO = MayBlock
	// Kernel is the regular blocking policy.
	Kernel = MayBlock | MayIO
)

func (f Flags) CanBlock() bool { return f&MayBlock != 0 }

func (f Flags) CanIO() bool { return f&MayIO != 0 }

// safe strips the bits that let a source block or recurse, and marks the
// attempt as one that may quietly fail without touching emergency reserves.
func (f Flags) safe() Flags {
	return (f &^ (MayBlock | MayIO)) | NoReserves | NoWarn
}

func (f Flags) String() string {
	if f == Atomic {
		return "atomic"
	}
	names := make([]string, 0, 4)
	if f&MayBlock != 0 {
		names = append(names, "may_block")
	}
	if f&MayIO != 0 {
		names = append(names, "may_io")
	}
	if f&NoReserves != 0 {
		names = append(names, "no_reserves")
	}
	if f&NoWarn != 0 {
		names = append(names, "no_warn")
	}
	return strings.Join(names, "|")
}
