package vmm

import (
	"unsafe"
	"zos/kernel"
	"zos/kernel/mem/pmm"
)

var (
	// ErrInvalidMapping is returned when trying to lookup a virtual memory address that is not yet mapped.
	ErrInvalidMapping = &kernel.Error{Module: "vmm", Message: "virtual address does not point to a mapped physical page"}

	// tablePtrFn returns a pointer to the contents of the table stored in
	// frame. Tables are accessed through the identity mapping of physical
	// memory; tests override it to redirect table accesses. When compiling
	// the kernel this function will be automatically inlined.
	tablePtrFn = func(frame pmm.Frame) unsafe.Pointer {
		return unsafe.Pointer(frame.Address())
	}
)

// pageTableEntry is the raw 8-byte contents of a translation table slot.
// Its interpretation depends on the granule and on the lookup level of the
// table that holds it; see decodeSlot.
type pageTableEntry uint64

// entryType returns the descriptor discriminant.
func (pte pageTableEntry) entryType() EntryType {
	return EntryType(pte & 0b11)
}

// valid returns true if the hardware would consider the descriptor.
func (pte pageTableEntry) valid() bool {
	return pte&0b01 != 0
}

// tableEntries returns the descriptors of the table stored in frame.
func tableEntries(frame pmm.Frame, g Granule) []pageTableEntry {
	return unsafe.Slice((*pageTableEntry)(tablePtrFn(frame)), g.EntryCount())
}
