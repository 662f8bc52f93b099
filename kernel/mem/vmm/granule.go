package vmm

import (
	"zos/kernel"
	"zos/kernel/mem"
)

// Granule is the translation granule: the base page size that determines
// the size of a translation table and the number of address bits resolved
// at each lookup level.
type Granule uint8

// Supported translation granules.
const (
	Granule4KB Granule = iota
	Granule16KB
	Granule64KB
)

// BlockSize is the number of bytes mapped by a single leaf descriptor.
type BlockSize uint64

// Block sizes that can be mapped by a single leaf descriptor. Each granule
// supports a subset of them, one per lookup level.
const (
	Block4KB   = BlockSize(4 * mem.Kb)
	Block16KB  = BlockSize(16 * mem.Kb)
	Block64KB  = BlockSize(64 * mem.Kb)
	Block2MB   = BlockSize(2 * mem.Mb)
	Block32MB  = BlockSize(32 * mem.Mb)
	Block512MB = BlockSize(512 * mem.Mb)
	Block1GB   = BlockSize(mem.Gb)
	Block512GB = BlockSize(512 * mem.Gb)
)

const (
	// leafLevel is the last lookup level. Levels are numbered from 0 (the
	// coarsest level of a 48-bit 4KB configuration) to 3.
	leafLevel = 3

	// maxAddressBits is the widest virtual or physical address supported
	// by the descriptor formats.
	maxAddressBits = 48

	tableStart4KB  = 12
	tableStart16KB = 14
	tableStart64KB = 16
)

var errUnknownGranule = &kernel.Error{Module: "vmm", Message: "unknown translation granule"}

// Valid returns true if g is a supported granule.
func (g Granule) Valid() bool {
	return g <= Granule64KB
}

// Shift returns log2 of the granule size.
func (g Granule) Shift() uint {
	switch g {
	case Granule16KB:
		return tableStart16KB
	case Granule64KB:
		return tableStart64KB
	default:
		return tableStart4KB
	}
}

// Size returns the granule size in bytes.
func (g Granule) Size() mem.Size {
	return mem.Size(1) << g.Shift()
}

// indexBits returns the number of virtual address bits resolved by a full
// table. A table holds one granule worth of 8-byte descriptors.
func (g Granule) indexBits() uint {
	return g.Shift() - mem.PointerShift
}

// EntryCount returns the number of descriptors in a translation table.
func (g Granule) EntryCount() int {
	return 1 << g.indexBits()
}

// levelShift returns the position of the lowest virtual address bit
// resolved by a lookup at level. For the 4KB granule this is
// 12 + 9*(3-level).
func (g Granule) levelShift(level uint8) uint {
	return g.Shift() + g.indexBits()*uint(leafLevel-level)
}

// minLeafLevel returns the coarsest level at which the granule supports
// block descriptors.
func (g Granule) minLeafLevel() uint8 {
	if g == Granule4KB {
		return 1
	}
	return 2
}

// hasLeafFormat returns true if a block or page descriptor can be placed at
// level.
func (g Granule) hasLeafFormat(level uint8) bool {
	return level >= g.minLeafLevel() && level <= leafLevel
}

// startLevel returns the first lookup level for a region of addressBits,
// i.e. the level whose table is pointed to by TTBRn_EL1.
func (g Granule) startLevel(addressBits uint8) uint8 {
	unresolved := uint(addressBits) - g.Shift()
	levels := (unresolved + g.indexBits() - 1) / g.indexBits()
	return uint8(leafLevel + 1 - levels)
}

// BlockSizeAt returns the size mapped by a leaf descriptor at level.
func (g Granule) BlockSizeAt(level uint8) BlockSize {
	return BlockSize(1) << g.levelShift(level)
}

// levelFor returns the level whose native block size is size.
func (g Granule) levelFor(size BlockSize) (uint8, bool) {
	for level := uint8(0); level <= leafLevel; level++ {
		if g.BlockSizeAt(level) == size {
			return level, true
		}
	}
	return 0, false
}

func (g Granule) String() string {
	switch g {
	case Granule4KB:
		return "4KB"
	case Granule16KB:
		return "16KB"
	case Granule64KB:
		return "64KB"
	default:
		return "unknown"
	}
}
