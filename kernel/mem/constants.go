package mem

const (
	// PointerShift is equal to log2(unsafe.Sizeof(uintptr)). The pointer
	// size for this architecture is defined as (1 << PointerShift).
	PointerShift = 3

	// PageShift is equal to log2(PageSize). The kernel runs with the 4KB
	// translation granule so this also matches the smallest block that
	// can be mapped by a translation table.
	PageShift = 12

	// PageSize defines the system's page size in bytes.
	PageSize = Size(1 << PageShift)

	// PhysAddressBits is the number of output address bits supported by
	// the translation table descriptors (OA[47:0]).
	PhysAddressBits = 48
)
