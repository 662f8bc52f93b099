// Package vmm builds and tears down ARM64 (VMSAv8-64) stage 1 translation
// tables and groups them into address spaces.
package vmm

import (
	"zos/kernel"
	"zos/kernel/kfmt"
	"zos/kernel/mem"
	"zos/kernel/mem/pmm"
)

var (
	// ErrInvalidConfig is returned when a translation table configuration
	// does not describe a valid granule and address size.
	ErrInvalidConfig = &kernel.Error{Module: "vmm", Message: "invalid translation table configuration"}

	// ErrUnsupportedBlockSize is returned for block sizes that have no
	// leaf level in the configuration.
	ErrUnsupportedBlockSize = &kernel.Error{Module: "vmm", Message: "block size not supported by the translation table configuration"}

	// ErrBlockInPath is returned by Map when a block mapping already
	// covers the requested range at a coarser level.
	ErrBlockInPath = &kernel.Error{Module: "vmm", Message: "a block mapping already covers the requested address"}

	// ErrTableInPath is returned by Map when a block is requested for a
	// range that is already split into a finer-grained table.
	ErrTableInPath = &kernel.Error{Module: "vmm", Message: "a table already covers the requested block"}

	// ErrMisaligned is returned when an address or length is not aligned
	// to the block size or granule it is mapped with.
	ErrMisaligned = &kernel.Error{Module: "vmm", Message: "address is not aligned to the mapping size"}

	// ErrAddressOutOfRange is returned when a virtual address is outside
	// the range translated by the table or a physical address exceeds the
	// output address size.
	ErrAddressOutOfRange = &kernel.Error{Module: "vmm", Message: "address outside of the translated range"}

	errTableDestroyed = &kernel.Error{Module: "vmm", Message: "translation table has been destroyed"}

	log = kfmt.Logger{Module: "vmm"}
)

// FrameAllocator supplies the memory for translation tables.
//
// AllocFrame returns the first frame of a zeroed block that is at least one
// granule in size and aligned to the granule. FreeFrame releases a block
// returned by AllocFrame.
type FrameAllocator interface {
	AllocFrame() (pmm.Frame, *kernel.Error)
	FreeFrame(pmm.Frame) *kernel.Error
}

// Config describes the shape of a translation table tree.
type Config struct {
	Granule Granule

	// AddressBits is the size of the translated virtual address range,
	// i.e. 64 - TnSZ.
	AddressBits uint8

	// BlockSizes lists the block sizes that Map accepts. When empty,
	// every block size with a leaf format in the configuration is
	// accepted.
	BlockSizes []BlockSize
}

// TranslationTable owns a tree of translation tables rooted at a single
// table. Intermediate tables are allocated on demand by Map and released by
// Destroy. The physical memory mapped by leaf descriptors is never owned by
// the tree.
//
// TranslationTable does not synchronize access; callers must ensure
// exclusive use while mutating it.
type TranslationTable struct {
	granule     Granule
	addressBits uint8
	startLevel  uint8
	blockLevels [leafLevel + 1]bool

	alloc     FrameAllocator
	root      pmm.Frame
	tables    int
	destroyed bool
}

// NewTranslationTable validates cfg and allocates the root table.
func NewTranslationTable(cfg Config, alloc FrameAllocator) (*TranslationTable, *kernel.Error) {
	tt, err := newGeometry(cfg)
	if err != nil {
		return nil, err
	}

	tt.alloc = alloc
	if tt.root, err = tt.allocTable(); err != nil {
		return nil, err
	}

	return tt, nil
}

// newGeometry performs the configuration checks of NewTranslationTable
// without allocating memory.
func newGeometry(cfg Config) (*TranslationTable, *kernel.Error) {
	g := cfg.Granule
	if !g.Valid() {
		return nil, errUnknownGranule
	}

	if uint(cfg.AddressBits) < g.Shift()+g.indexBits() || cfg.AddressBits > maxAddressBits {
		return nil, ErrInvalidConfig
	}

	tt := &TranslationTable{
		granule:     g,
		addressBits: cfg.AddressBits,
		startLevel:  g.startLevel(cfg.AddressBits),
	}

	if len(cfg.BlockSizes) == 0 {
		for level := tt.startLevel; level <= leafLevel; level++ {
			tt.blockLevels[level] = g.hasLeafFormat(level)
		}
		return tt, nil
	}

	for _, size := range cfg.BlockSizes {
		level, ok := g.levelFor(size)
		if !ok || level < tt.startLevel || !g.hasLeafFormat(level) {
			return nil, ErrUnsupportedBlockSize
		}
		tt.blockLevels[level] = true
	}

	return tt, nil
}

// Granule returns the translation granule.
func (tt *TranslationTable) Granule() Granule { return tt.granule }

// AddressBits returns the size of the translated address range.
func (tt *TranslationTable) AddressBits() uint8 { return tt.addressBits }

// StartLevel returns the lookup level of the root table.
func (tt *TranslationTable) StartLevel() uint8 { return tt.startLevel }

// Base returns the physical address of the root table. This is the value
// programmed into TTBRn_EL1 when the table becomes active.
func (tt *TranslationTable) Base() uintptr { return tt.root.Address() }

// TableCount returns the number of tables, including the root, that are
// currently owned by the tree.
func (tt *TranslationTable) TableCount() int { return tt.tables }

// BlockSizes returns the accepted block sizes from the largest to the
// smallest.
func (tt *TranslationTable) BlockSizes() []BlockSize {
	var sizes []BlockSize
	for level := tt.startLevel; level <= leafLevel; level++ {
		if tt.blockLevels[level] {
			sizes = append(sizes, tt.granule.BlockSizeAt(level))
		}
	}
	return sizes
}

// Supports returns true if Map accepts size.
func (tt *TranslationTable) Supports(size BlockSize) bool {
	level, ok := tt.granule.levelFor(size)
	return ok && tt.blockLevels[level]
}

// Map establishes a mapping of size bytes from vAddr to pAddr using a
// single leaf descriptor at the level whose native block size is size.
// Missing intermediate tables are allocated and linked; existing ones are
// reused. An existing leaf for vAddr at the target level is overwritten.
//
// Map does not maintain the TLB. Callers remapping a live address must
// invalidate it themselves.
func (tt *TranslationTable) Map(vAddr, pAddr uintptr, size BlockSize, params EntryParameters) *kernel.Error {
	if tt.destroyed {
		return errTableDestroyed
	}

	level, ok := tt.granule.levelFor(size)
	if !ok || !tt.blockLevels[level] {
		return ErrUnsupportedBlockSize
	}

	if !mem.Size(size).Aligned(vAddr) || !mem.Size(size).Aligned(pAddr) {
		return ErrMisaligned
	}

	if !tt.inRange(vAddr) || uint64(pAddr)>>maxAddressBits != 0 {
		return ErrAddressOutOfRange
	}

	var err *kernel.Error
	tt.walk(vAddr, func(pteLevel uint8, pte *pageTableEntry) bool {
		// Reached the target level; install the leaf in place unless
		// finer-grained mappings already hang off this slot.
		if pteLevel == level {
			if level != leafLevel && decodeSlot(*pte, tt.granule, level).Kind == SlotTable {
				err = ErrTableInPath
				return false
			}

			*pte = encodeLeaf(tt.granule, level, pAddr, params)
			return false
		}

		switch decodeSlot(*pte, tt.granule, pteLevel).Kind {
		case SlotLeaf:
			err = ErrBlockInPath
			return false
		case SlotInvalid:
			// Next table does not yet exist; allocate a zeroed one
			// and link it before descending.
			var frame pmm.Frame
			if frame, err = tt.allocTable(); err != nil {
				return false
			}

			*pte = encodeTable(tt.granule, frame.Address(), defaultTableAttributes)
		}

		return true
	})

	return err
}

// Translate returns the physical address that vAddr maps to along with the
// decoded leaf descriptor. It returns ErrInvalidMapping if no leaf covers
// vAddr.
func (tt *TranslationTable) Translate(vAddr uintptr) (uintptr, Slot, *kernel.Error) {
	pte, level, err := tt.leafFor(vAddr)
	if err != nil {
		return 0, Slot{}, err
	}

	slot := decodeSlot(*pte, tt.granule, level)
	offset := vAddr & uintptr(tt.granule.BlockSizeAt(level)-1)
	return slot.Address + offset, slot, nil
}

// Unmap invalidates the leaf descriptor that covers vAddr. Intermediate
// tables are kept until Destroy. As with Map, TLB maintenance is left to
// the caller.
func (tt *TranslationTable) Unmap(vAddr uintptr) *kernel.Error {
	pte, _, err := tt.leafFor(vAddr)
	if err != nil {
		return err
	}

	*pte = 0
	return nil
}

// leafFor locates the leaf descriptor covering vAddr.
func (tt *TranslationTable) leafFor(vAddr uintptr) (*pageTableEntry, uint8, *kernel.Error) {
	if tt.destroyed {
		return nil, 0, errTableDestroyed
	}

	if !tt.inRange(vAddr) {
		return nil, 0, ErrAddressOutOfRange
	}

	var (
		entry      *pageTableEntry
		entryLevel uint8
	)

	tt.walk(vAddr, func(pteLevel uint8, pte *pageTableEntry) bool {
		switch decodeSlot(*pte, tt.granule, pteLevel).Kind {
		case SlotLeaf:
			entry, entryLevel = pte, pteLevel
			return false
		case SlotTable:
			return true
		default:
			return false
		}
	})

	if entry == nil {
		return nil, 0, ErrInvalidMapping
	}

	return entry, entryLevel, nil
}

// Destroy releases every table owned by the tree, children before parents,
// and returns the number of tables freed. Leaf mappings are dropped without
// touching the memory they point to. The tree cannot be used afterwards.
func (tt *TranslationTable) Destroy() (int, *kernel.Error) {
	if tt.destroyed {
		return 0, errTableDestroyed
	}

	tt.destroyed = true
	freed, err := tt.freeTable(tt.root, tt.startLevel)
	tt.root = pmm.InvalidFrame
	return freed, err
}

// freeTable releases the subtree rooted at the table in frame. The first
// deallocation error is reported after the rest of the subtree has been
// released.
func (tt *TranslationTable) freeTable(frame pmm.Frame, level uint8) (int, *kernel.Error) {
	var (
		freed    int
		firstErr *kernel.Error
	)

	if level < leafLevel {
		for _, pte := range tableEntries(frame, tt.granule) {
			slot := decodeSlot(pte, tt.granule, level)
			if slot.Kind != SlotTable {
				continue
			}

			n, err := tt.freeTable(pmm.FrameFromAddress(slot.Address), level+1)
			freed += n
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	if err := tt.alloc.FreeFrame(frame); err != nil {
		if firstErr == nil {
			firstErr = err
		}
	} else {
		freed++
		tt.tables--
	}

	return freed, firstErr
}

func (tt *TranslationTable) allocTable() (pmm.Frame, *kernel.Error) {
	frame, err := tt.alloc.AllocFrame()
	if err != nil {
		log.Errorf("table allocation failed: %s\n", err)
		return pmm.InvalidFrame, err
	}

	tt.tables++
	log.Debugf("allocated table at 0x%x\n", uint64(frame.Address()))
	return frame, nil
}

// inRange returns true if vAddr falls in the lower or the upper region of
// size 2^addressBits. Which of the two the tree serves is decided by the
// TTBR it is installed in.
func (tt *TranslationTable) inRange(vAddr uintptr) bool {
	top := uint64(vAddr) >> tt.addressBits
	return top == 0 || top == (^uint64(0))>>tt.addressBits
}
