package vmm

import (
	"zos/kernel"
	"zos/kernel/cpu"
	"zos/kernel/mem"
)

// Half selects one of the two translation regions of the EL1&0 regime.
type Half uint8

// The lower half is translated through TTBR0_EL1 and the higher half
// through TTBR1_EL1.
const (
	LowerHalf Half = iota
	HigherHalf
)

func (h Half) String() string {
	if h == HigherHalf {
		return "higher"
	}
	return "lower"
}

var (
	// ErrActiveAddressSpace is returned when destroying the address space
	// that is currently installed in the translation base registers.
	ErrActiveAddressSpace = &kernel.Error{Module: "vmm", Message: "cannot destroy the active address space"}

	// ErrAddressSpaceDestroyed is returned when operating on an address
	// space after Destroy.
	ErrAddressSpaceDestroyed = &kernel.Error{Module: "vmm", Message: "address space has been destroyed"}

	errNoHalf        = &kernel.Error{Module: "vmm", Message: "address space needs at least one configured half"}
	errPageSize      = &kernel.Error{Module: "vmm", Message: "region page size does not match the translation granule"}
	errUnknownRegion = &kernel.Error{Module: "vmm", Message: "unsupported region type"}
	errNotMapped     = &kernel.Error{Module: "vmm", Message: "no region is mapped at the given address"}

	// activeSpace tracks the space installed by Activate.
	activeSpace *AddressSpace

	writeTTBR0Fn       = cpu.WriteTtbr0El1
	writeTTBR1Fn       = cpu.WriteTtbr1El1
	invalidateTlbAllFn = cpu.InvalidateTlbAll
	invalidateTlbVaFn  = cpu.InvalidateTlbVa
)

// SpaceConfig describes an address space.
type SpaceConfig struct {
	Granule     Granule
	AddressBits uint8

	// Lower and Higher select which halves get a translation table.
	Lower  bool
	Higher bool

	// BlockSizes restricts the block sizes used by MapRegion. When
	// empty, every block size the configuration supports is used.
	BlockSizes []BlockSize

	ASID uint16
}

// MappedRegion records a region installed by MapRegion.
type MappedRegion struct {
	Base   uintptr
	Region Region
	Attrs  Attributes
}

// AddressSpace is the complete set of translation tables of an execution
// context. It owns one TranslationTable per configured half and every table
// reachable from them. Regions mapped into the space remain owned by the
// caller.
type AddressSpace struct {
	tables  [HigherHalf + 1]*TranslationTable
	granule Granule
	bits    uint8
	asid    uint16

	regions   []MappedRegion
	destroyed bool
}

// NewAddressSpace creates an address space with an empty root table for
// every half enabled in cfg.
func NewAddressSpace(cfg SpaceConfig, alloc FrameAllocator) (*AddressSpace, *kernel.Error) {
	if !cfg.Lower && !cfg.Higher {
		return nil, errNoHalf
	}

	as := &AddressSpace{
		granule: cfg.Granule,
		bits:    cfg.AddressBits,
		asid:    cfg.ASID,
	}

	tableCfg := Config{Granule: cfg.Granule, AddressBits: cfg.AddressBits, BlockSizes: cfg.BlockSizes}
	for half, enabled := range [...]bool{cfg.Lower, cfg.Higher} {
		if !enabled {
			continue
		}

		tt, err := NewTranslationTable(tableCfg, alloc)
		if err != nil {
			as.destroyTables()
			return nil, err
		}
		as.tables[half] = tt
	}

	return as, nil
}

// Table returns the translation table of a half or nil if the half is not
// configured.
func (as *AddressSpace) Table(half Half) *TranslationTable {
	return as.tables[half]
}

// LowerBase returns the root table address to be loaded into TTBR0_EL1 or
// 0 if the lower half is not configured.
func (as *AddressSpace) LowerBase() uintptr {
	return as.base(LowerHalf)
}

// HigherBase returns the root table address to be loaded into TTBR1_EL1 or
// 0 if the higher half is not configured.
func (as *AddressSpace) HigherBase() uintptr {
	return as.base(HigherHalf)
}

func (as *AddressSpace) base(half Half) uintptr {
	if as.tables[half] == nil || as.destroyed {
		return 0
	}
	return as.tables[half].Base()
}

// ASID returns the address space identifier used by Activate.
func (as *AddressSpace) ASID() uint16 { return as.asid }

// HigherStart returns the first address of the higher half.
func (as *AddressSpace) HigherStart() uintptr {
	return ^uintptr(0) << as.bits
}

// Regions returns a copy of the list of mapped regions in the order they
// were mapped.
func (as *AddressSpace) Regions() []MappedRegion {
	regions := make([]MappedRegion, len(as.regions))
	copy(regions, as.regions)
	return regions
}

// MapRegion maps region at virtual address base using attrs for every
// leaf descriptor. The half is selected from the range [base, base+size);
// ranges that are not fully contained in a configured half are rejected.
//
// Pages of a *PagedRegion are mapped one granule at a time at consecutive
// virtual addresses. A *DirectRegion is mapped with the fewest descriptors
// possible: at each step the largest accepted block size that is aligned
// with both the virtual and the physical address and fits in the remaining
// length is used.
//
// A failure may leave part of the region mapped. As with Map, TLB
// maintenance is left to the caller.
func (as *AddressSpace) MapRegion(base uintptr, region Region, attrs Attributes) *kernel.Error {
	if as.destroyed {
		return ErrAddressSpaceDestroyed
	}

	if region.Size() == 0 {
		return nil
	}

	tt, err := as.chooseTable(base, region.Size())
	if err != nil {
		return err
	}

	switch r := region.(type) {
	case *PagedRegion:
		err = as.mapPaged(tt, base, r, attrs)
	case *DirectRegion:
		err = as.mapDirect(tt, base, r, attrs)
	default:
		err = errUnknownRegion
	}

	if err != nil {
		return err
	}

	as.regions = append(as.regions, MappedRegion{Base: base, Region: region, Attrs: attrs})
	return nil
}

func (as *AddressSpace) mapPaged(tt *TranslationTable, base uintptr, region *PagedRegion, attrs Attributes) *kernel.Error {
	pageSize := as.granule.Size()
	if region.pageSize() != pageSize {
		return errPageSize
	}

	vAddr := base
	for _, page := range region.Pages {
		log.Debugf("map page v: 0x%x -> p: 0x%x\n", uint64(vAddr), uint64(page.Address()))
		if err := tt.Map(vAddr, page.Address(), BlockSize(pageSize), attrs); err != nil {
			return err
		}
		vAddr += uintptr(pageSize)
	}

	return nil
}

func (as *AddressSpace) mapDirect(tt *TranslationTable, base uintptr, region *DirectRegion, attrs Attributes) *kernel.Error {
	granuleSize := as.granule.Size()
	if !granuleSize.Aligned(base) || !granuleSize.Aligned(region.Phys) || !granuleSize.Aligned(uintptr(region.Length)) {
		log.Errorf("misaligned region v: 0x%x p: 0x%x length: 0x%x\n", uint64(base), uint64(region.Phys), uint64(region.Length))
		return ErrMisaligned
	}

	sizes := tt.BlockSizes()
	for offset := mem.Size(0); offset < region.Length; {
		var (
			vAddr     = base + uintptr(offset)
			pAddr     = region.Phys + uintptr(offset)
			remaining = region.Length - offset
			blockSize BlockSize
		)

		for _, size := range sizes {
			if mem.Size(size) <= remaining && mem.Size(size).Aligned(vAddr) && mem.Size(size).Aligned(pAddr) {
				blockSize = size
				break
			}
		}

		// The granule size was not accepted by the configuration.
		if blockSize == 0 {
			return ErrUnsupportedBlockSize
		}

		if err := tt.Map(vAddr, pAddr, blockSize, attrs); err != nil {
			return err
		}
		offset += mem.Size(blockSize)
	}

	log.Debugf("map region v: 0x%x -> p: 0x%x length: 0x%x\n", uint64(base), uint64(region.Phys), uint64(region.Length))
	return nil
}

// UnmapRegion removes the region that MapRegion installed at base. Every
// leaf descriptor covering the region is invalidated and, if the space is
// active, so are the matching TLB entries. Intermediate tables are kept
// until Destroy and the pages of the region are not released.
func (as *AddressSpace) UnmapRegion(base uintptr) *kernel.Error {
	if as.destroyed {
		return ErrAddressSpaceDestroyed
	}

	index := -1
	for i, r := range as.regions {
		if r.Base == base {
			index = i
			break
		}
	}
	if index < 0 {
		return errNotMapped
	}

	size := uintptr(as.regions[index].Region.Size())
	tt, err := as.chooseTable(base, mem.Size(size))
	if err != nil {
		return err
	}

	active := as.Active()
	for offset := uintptr(0); offset < size; {
		vAddr := base + offset
		pte, level, err := tt.leafFor(vAddr)
		if err != nil {
			return err
		}

		*pte = 0
		if active {
			invalidateTlbVaFn(vAddr)
		}

		// The leaf may start before vAddr; the sum wraps to zero for a
		// leaf that ends at the top of the higher half.
		leafSize := uintptr(tt.granule.BlockSizeAt(level))
		offset = (vAddr &^ (leafSize - 1)) + leafSize - base
	}

	as.regions = append(as.regions[:index], as.regions[index+1:]...)
	log.Debugf("unmapped region at 0x%x\n", uint64(base))
	return nil
}

// chooseTable returns the table of the half that contains [base, base+length).
func (as *AddressSpace) chooseTable(base uintptr, length mem.Size) (*TranslationTable, *kernel.Error) {
	last := base + uintptr(length-1)
	if last < base {
		return nil, ErrAddressOutOfRange
	}

	var half Half
	switch {
	case uint64(last)>>as.bits == 0:
		half = LowerHalf
	case base >= as.HigherStart():
		half = HigherHalf
	default:
		log.Errorf("range 0x%x-0x%x is outside both halves\n", uint64(base), uint64(last))
		return nil, ErrAddressOutOfRange
	}

	if as.tables[half] == nil {
		log.Errorf("%s half is not configured\n", half.String())
		return nil, ErrAddressOutOfRange
	}

	log.Debugf("chose %s table for 0x%x-0x%x\n", half.String(), uint64(base), uint64(last))
	return as.tables[half], nil
}

// Activate installs the space in the translation base registers and
// invalidates the TLB. The caller must complete all mappings before
// activating the space.
func (as *AddressSpace) Activate() *kernel.Error {
	if as.destroyed {
		return ErrAddressSpaceDestroyed
	}

	if tt := as.tables[LowerHalf]; tt != nil {
		writeTTBR0Fn(cpu.MakeTTBR(tt.Base(), as.asid))
	}
	if tt := as.tables[HigherHalf]; tt != nil {
		writeTTBR1Fn(cpu.MakeTTBR(tt.Base(), as.asid))
	}

	invalidateTlbAllFn()
	activeSpace = as
	return nil
}

// Active returns true if the space was the last one installed by Activate.
func (as *AddressSpace) Active() bool {
	return activeSpace == as
}

// Destroy releases every translation table owned by the space. The pages
// of the mapped regions are not released. It returns the number of tables
// freed.
func (as *AddressSpace) Destroy() (int, *kernel.Error) {
	switch {
	case as.destroyed:
		return 0, ErrAddressSpaceDestroyed
	case as.Active():
		return 0, ErrActiveAddressSpace
	}

	freed, err := as.destroyTables()
	as.destroyed = true
	as.regions = nil
	log.Debugf("destroyed address space, freed %d tables\n", freed)
	return freed, err
}

func (as *AddressSpace) destroyTables() (int, *kernel.Error) {
	var (
		freed    int
		firstErr *kernel.Error
	)

	for _, tt := range as.tables {
		if tt == nil {
			continue
		}

		n, err := tt.Destroy()
		freed += n
		if firstErr == nil {
			firstErr = err
		}
	}

	return freed, firstErr
}
