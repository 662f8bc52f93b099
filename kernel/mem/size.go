package mem

// Size represents a memory block size in bytes.
type Size uint64

// Common memory block sizes.
const (
	Byte Size = 1
	Kb        = 1024 * Byte
	Mb        = 1024 * Kb
	Gb        = 1024 * Mb
	Tb        = 1024 * Gb
)

// Aligned returns true if addr is a multiple of s. s must be a power of 2.
func (s Size) Aligned(addr uintptr) bool {
	return addr&uintptr(s-1) == 0
}

// AlignUp rounds v up to the next multiple of s. s must be a power of 2.
func (s Size) AlignUp(v Size) Size {
	return (v + (s - 1)) &^ (s - 1)
}
