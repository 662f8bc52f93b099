// Package pmm contains code that manages physical memory frame allocations.
package pmm

import (
	"math"
	"zos/kernel/mem"
)

// Frame describes a physical memory page index. Frames are always counted
// in units of mem.PageSize; a block that spans several pages (e.g. a 64KB
// translation table) is identified by the frame of its first page.
type Frame uintptr

const (
	// InvalidFrame is returned by page allocators when
	// they fail to reserve the requested frame.
	InvalidFrame = Frame(math.MaxUint64)
)

// Valid returns true if this is a valid frame.
func (f Frame) Valid() bool {
	return f != InvalidFrame
}

// Address returns a pointer to the physical memory address pointed to by this Frame.
func (f Frame) Address() uintptr {
	return uintptr(f << mem.PageShift)
}

// FrameFromAddress returns a Frame that corresponds to the given physical
// address. Addresses that are not page-aligned are rounded down to the frame
// that contains them.
func FrameFromAddress(physAddr uintptr) Frame {
	return Frame((physAddr &^ uintptr(mem.PageSize-1)) >> mem.PageShift)
}
