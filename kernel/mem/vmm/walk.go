package vmm

import (
	"zos/kernel"
	"zos/kernel/mem/pmm"
)

// pageTableWalker is a function that can be passed to the walk method. The
// function receives the current lookup level and the descriptor that
// translates the walked address at that level. If the function returns
// false, then the walk is aborted.
type pageTableWalker func(pteLevel uint8, pte *pageTableEntry) bool

// walk performs a table walk for the given virtual address starting at the
// root table. It calls walkFn with the descriptor selected at each level.
// The walk descends into the next table only when walkFn returns true and
// the descriptor (as left by walkFn) is a table descriptor.
func (tt *TranslationTable) walk(virtAddr uintptr, walkFn pageTableWalker) {
	var (
		table      = tt.root
		entryIndex uintptr
	)

	for level := tt.startLevel; level <= leafLevel; level++ {
		entryIndex = tt.indexAt(virtAddr, level)
		pte := &tableEntries(table, tt.granule)[entryIndex]

		if !walkFn(level, pte) || level == leafLevel {
			return
		}

		slot := decodeSlot(*pte, tt.granule, level)
		if slot.Kind != SlotTable {
			return
		}

		table = pmm.FrameFromAddress(slot.Address)
	}
}

// indexAt extracts the bits of virtAddr that select a descriptor in the
// table at level. The root table may hold fewer entries than a full table.
func (tt *TranslationTable) indexAt(virtAddr uintptr, level uint8) uintptr {
	shift := tt.granule.levelShift(level)
	bits := tt.granule.indexBits()
	if level == tt.startLevel {
		bits = uint(tt.addressBits) - shift
	}

	return (virtAddr >> shift) & ((1 << bits) - 1)
}

// Mapping describes a leaf descriptor reachable from the root table.
type Mapping struct {
	// VirtAddr is relative to the start of the region served by the
	// table; the upper half base is not included.
	VirtAddr uintptr
	PhysAddr uintptr
	Size     BlockSize
	Level    uint8
	Params   EntryParameters
}

// Walk calls visit for every leaf mapping in ascending virtual address
// order. The walk stops early if visit returns false.
func (tt *TranslationTable) Walk(visit func(Mapping) bool) {
	if tt.destroyed {
		return
	}

	tree := treeWalker{
		granule:     tt.granule,
		addressBits: tt.addressBits,
		startLevel:  tt.startLevel,
		load: func(tableAddr uintptr) ([]pageTableEntry, *kernel.Error) {
			return tableEntries(pmm.FrameFromAddress(tableAddr), tt.granule), nil
		},
	}

	_, _ = tree.walkTable(tt.root.Address(), tt.startLevel, 0, visit)
}

// treeWalker visits the leaves of a table tree whose tables are obtained
// through load.
type treeWalker struct {
	granule     Granule
	addressBits uint8
	startLevel  uint8
	load        func(tableAddr uintptr) ([]pageTableEntry, *kernel.Error)
}

func (w *treeWalker) walkTable(tableAddr uintptr, level uint8, base uintptr, visit func(Mapping) bool) (bool, *kernel.Error) {
	entries, err := w.load(tableAddr)
	if err != nil {
		return false, err
	}

	shift := w.granule.levelShift(level)
	if level == w.startLevel {
		entries = entries[:1<<(uint(w.addressBits)-shift)]
	}

	for index, pte := range entries {
		if !pte.valid() {
			continue
		}

		virtAddr := base | uintptr(index)<<shift

		slot := decodeSlot(pte, w.granule, level)
		switch slot.Kind {
		case SlotTable:
			if cont, err := w.walkTable(slot.Address, level+1, virtAddr, visit); !cont {
				return false, err
			}
		case SlotLeaf:
			if !visit(Mapping{
				VirtAddr: virtAddr,
				PhysAddr: slot.Address,
				Size:     w.granule.BlockSizeAt(level),
				Level:    level,
				Params:   slot.Params,
			}) {
				return false, nil
			}
		}
	}

	return true, nil
}
