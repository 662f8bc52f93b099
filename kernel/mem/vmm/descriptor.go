package vmm

import (
	"unsafe"
	"zos/kernel/bitfield"
	"zos/kernel/cpu"
)

// EntryType is the 2-bit discriminant stored in the low bits of every
// descriptor.
type EntryType uint8

// Descriptor types. A level-3 page descriptor uses EntryTable; at any other
// level that encoding points to the next table.
const (
	EntryInvalid EntryType = 0b00
	EntryBlock   EntryType = 0b01
	EntryTable   EntryType = 0b11
)

// MemoryAttr is an index into the MAIR_EL1 attribute slots.
type MemoryAttr uint8

// Memory attribute indices. EnableMMU programs MAIR_EL1 so that each index
// selects the matching memory type.
const (
	AttrDeviceNGnRnE MemoryAttr = iota
	AttrDeviceNGnRE
	AttrDeviceGRE
	AttrNormalNC
	AttrNormal
)

// AccessPermission is the AP[2:1] field of a leaf descriptor.
type AccessPermission uint8

// Data access permissions.
const (
	AccessKernelRW AccessPermission = iota
	AccessUserRW
	AccessKernelRO
	AccessUserRO
)

// EntryParameters holds the attributes written into every leaf descriptor.
type EntryParameters struct {
	MemoryAttr MemoryAttr
	S2AP       AccessPermission
	SH         cpu.Shareability
	AF         bool
	Contiguous bool
	XN         bool
}

// Attributes is the region level name for the leaf attributes supplied to
// AddressSpace.MapRegion.
type Attributes = EntryParameters

// TableAttributes holds the hierarchical attributes of a table descriptor.
// They restrict every mapping reachable through the table.
type TableAttributes struct {
	PXN     bool
	XN      bool
	AP      AccessPermission
	NSTable bool
}

// defaultTableAttributes is used for every table created by Map.
var defaultTableAttributes = TableAttributes{NSTable: true}

type tableTag struct{}

type tableFormat struct {
	layout *bitfield.Layout[tableTag, uint64]

	startBit  uint
	entryType bitfield.Field[tableTag, uint64, EntryType]
	address   bitfield.Field[tableTag, uint64, uint64]
	pxn       bitfield.Field[tableTag, uint64, bool]
	xn        bitfield.Field[tableTag, uint64, bool]
	ap        bitfield.Field[tableTag, uint64, AccessPermission]
	nsTable   bitfield.Field[tableTag, uint64, bool]
}

func tableDescriptorBits(start uint) uint {
	return 2 + (start - 2) + (maxAddressBits - start) + 11 + 1 + 1 + 2 + 1
}

var (
	_ [64 - (2 + (tableStart4KB - 2) + (maxAddressBits - tableStart4KB) + 11 + 1 + 1 + 2 + 1)]struct{}
	_ [64 - (2 + (tableStart16KB - 2) + (maxAddressBits - tableStart16KB) + 11 + 1 + 1 + 2 + 1)]struct{}
	_ [64 - (2 + (tableStart64KB - 2) + (maxAddressBits - tableStart64KB) + 11 + 1 + 1 + 2 + 1)]struct{}
)

func newTableFormat(g Granule) tableFormat {
	start := g.Shift()
	l := bitfield.NewLayout[tableTag, uint64]("TableDescriptor/" + g.String())
	f := tableFormat{layout: l, startBit: start}
	f.entryType = bitfield.Enum[EntryType](l, "EntryType", 2)
	l.Reserved(start - 2)
	f.address = bitfield.Uint[uint64](l, "Address", maxAddressBits-start)
	l.Reserved(11)
	f.pxn = bitfield.Bool(l, "PXNTable")
	f.xn = bitfield.Bool(l, "XNTable")
	f.ap = bitfield.Enum[AccessPermission](l, "APTable", 2)
	f.nsTable = bitfield.Bool(l, "NSTable")
	l.Seal()
	return f
}

func (f *tableFormat) encode(tableAddr uintptr, attrs TableAttributes) pageTableEntry {
	return pageTableEntry(bitfield.MakeValue(
		f.entryType.Of(EntryTable),
		f.address.Of(f.toTableAddress(tableAddr)),
		f.pxn.Of(attrs.PXN),
		f.xn.Of(attrs.XN),
		f.ap.Of(attrs.AP),
		f.nsTable.Of(attrs.NSTable),
	))
}

// toTableAddress converts a physical table address into the packed address
// field value.
func (f *tableFormat) toTableAddress(pa uintptr) uint64 {
	return uint64(pa) >> f.startBit
}

// tableAddress returns the physical address of the table that raw points to.
func (f *tableFormat) tableAddress(raw pageTableEntry) uintptr {
	return uintptr(f.address.Get(uint64(raw)) << f.startBit)
}

func (f *tableFormat) attributes(raw pageTableEntry) TableAttributes {
	return TableAttributes{
		PXN:     f.pxn.Get(uint64(raw)),
		XN:      f.xn.Get(uint64(raw)),
		AP:      f.ap.Get(uint64(raw)),
		NSTable: f.nsTable.Get(uint64(raw)),
	}
}

type leafTag struct{}

type leafFormat struct {
	layout *bitfield.Layout[leafTag, uint64]

	startBit   uint
	entryType  bitfield.Field[leafTag, uint64, EntryType]
	memoryAttr bitfield.Field[leafTag, uint64, MemoryAttr]
	s2ap       bitfield.Field[leafTag, uint64, AccessPermission]
	sh         bitfield.Field[leafTag, uint64, cpu.Shareability]
	af         bitfield.Field[leafTag, uint64, bool]
	address    bitfield.Field[leafTag, uint64, uint64]
	contiguous bitfield.Field[leafTag, uint64, bool]
	xn         bitfield.Field[leafTag, uint64, bool]
}

func leafDescriptorBits(start uint) uint {
	return 2 + 4 + 2 + 2 + 1 + (start - 11) + (maxAddressBits - start) + 4 + 1 + 1 + 1 + 9
}

// Leaf address start bits: 4KB L3/L2/L1 = 12/21/30, 16KB L3/L2 = 14/25,
// 64KB L3/L2 = 16/29.
var (
	_ [64 - (2 + 4 + 2 + 2 + 1 + (12 - 11) + (maxAddressBits - 12) + 4 + 1 + 1 + 1 + 9)]struct{}
	_ [64 - (2 + 4 + 2 + 2 + 1 + (21 - 11) + (maxAddressBits - 21) + 4 + 1 + 1 + 1 + 9)]struct{}
	_ [64 - (2 + 4 + 2 + 2 + 1 + (30 - 11) + (maxAddressBits - 30) + 4 + 1 + 1 + 1 + 9)]struct{}
	_ [64 - (2 + 4 + 2 + 2 + 1 + (14 - 11) + (maxAddressBits - 14) + 4 + 1 + 1 + 1 + 9)]struct{}
	_ [64 - (2 + 4 + 2 + 2 + 1 + (25 - 11) + (maxAddressBits - 25) + 4 + 1 + 1 + 1 + 9)]struct{}
	_ [64 - (2 + 4 + 2 + 2 + 1 + (16 - 11) + (maxAddressBits - 16) + 4 + 1 + 1 + 1 + 9)]struct{}
	_ [64 - (2 + 4 + 2 + 2 + 1 + (29 - 11) + (maxAddressBits - 29) + 4 + 1 + 1 + 1 + 9)]struct{}

	// Every descriptor variant occupies exactly one 8-byte slot.
	_ [unsafe.Sizeof(pageTableEntry(0)) - 8]struct{}
	_ [8 - unsafe.Sizeof(pageTableEntry(0))]struct{}
)

func newLeafFormat(g Granule, level uint8) leafFormat {
	start := g.levelShift(level)
	l := bitfield.NewLayout[leafTag, uint64]("EntryDescriptor/" + g.String() + "/L" + string(rune('0'+level)))
	f := leafFormat{layout: l, startBit: start}
	f.entryType = bitfield.Enum[EntryType](l, "EntryType", 2)
	f.memoryAttr = bitfield.Enum[MemoryAttr](l, "MemoryAttr", 4)
	f.s2ap = bitfield.Enum[AccessPermission](l, "S2AP", 2)
	f.sh = bitfield.Enum[cpu.Shareability](l, "SH", 2)
	f.af = bitfield.Bool(l, "AF")
	l.Reserved(start - 11)
	f.address = bitfield.Uint[uint64](l, "Address", maxAddressBits-start)
	l.Reserved(4)
	f.contiguous = bitfield.Bool(l, "Contiguous")
	l.Reserved(1)
	f.xn = bitfield.Bool(l, "XN")
	l.Reserved(9)
	l.Seal()
	return f
}

func (f *leafFormat) encode(entryType EntryType, pa uintptr, params EntryParameters) pageTableEntry {
	return pageTableEntry(bitfield.MakeValue(
		f.entryType.Of(entryType),
		f.memoryAttr.Of(params.MemoryAttr),
		f.s2ap.Of(params.S2AP),
		f.sh.Of(params.SH),
		f.af.Of(params.AF),
		f.address.Of(uint64(pa)>>f.startBit),
		f.contiguous.Of(params.Contiguous),
		f.xn.Of(params.XN),
	))
}

func (f *leafFormat) outputAddress(raw pageTableEntry) uintptr {
	return uintptr(f.address.Get(uint64(raw)) << f.startBit)
}

func (f *leafFormat) params(raw pageTableEntry) EntryParameters {
	r := uint64(raw)
	return EntryParameters{
		MemoryAttr: f.memoryAttr.Get(r),
		S2AP:       f.s2ap.Get(r),
		SH:         f.sh.Get(r),
		AF:         f.af.Get(r),
		Contiguous: f.contiguous.Get(r),
		XN:         f.xn.Get(r),
	}
}

// formats holds the descriptor layouts of a granule. leaf is indexed by
// lookup level; levels without a leaf format hold a nil layout.
type formats struct {
	table tableFormat
	leaf  [leafLevel + 1]leafFormat
}

var granuleFormats = func() (all [Granule64KB + 1]formats) {
	for g := Granule4KB; g <= Granule64KB; g++ {
		all[g].table = newTableFormat(g)
		for level := g.minLeafLevel(); level <= leafLevel; level++ {
			all[g].leaf[level] = newLeafFormat(g, level)
		}
	}
	return all
}()

func formatsFor(g Granule) *formats {
	return &granuleFormats[g]
}

// SlotKind identifies the variant held by a decoded descriptor.
type SlotKind uint8

// Decoded descriptor variants.
const (
	SlotInvalid SlotKind = iota
	SlotTable
	SlotLeaf
)

// Slot is the decoded form of a translation table descriptor.
type Slot struct {
	Kind SlotKind

	// Address is the physical address of the next table for SlotTable
	// and the output address for SlotLeaf.
	Address uintptr

	// Params is only populated for SlotLeaf.
	Params EntryParameters

	// Table is only populated for SlotTable.
	Table TableAttributes
}

// decodeSlot decodes the descriptor raw found in a table at level.
// Encodings that are reserved at level (e.g. a block at level 3 or at a
// level with no block format) decode as SlotInvalid.
func decodeSlot(raw pageTableEntry, g Granule, level uint8) Slot {
	fmts := formatsFor(g)

	switch raw.entryType() {
	case EntryTable:
		if level == leafLevel {
			leaf := &fmts.leaf[level]
			return Slot{Kind: SlotLeaf, Address: leaf.outputAddress(raw), Params: leaf.params(raw)}
		}
		return Slot{Kind: SlotTable, Address: fmts.table.tableAddress(raw), Table: fmts.table.attributes(raw)}
	case EntryBlock:
		if level == leafLevel || !g.hasLeafFormat(level) {
			return Slot{}
		}
		leaf := &fmts.leaf[level]
		return Slot{Kind: SlotLeaf, Address: leaf.outputAddress(raw), Params: leaf.params(raw)}
	default:
		return Slot{}
	}
}

// encodeTable returns a table descriptor pointing to tableAddr.
func encodeTable(g Granule, tableAddr uintptr, attrs TableAttributes) pageTableEntry {
	return formatsFor(g).table.encode(tableAddr, attrs)
}

// encodeLeaf returns a block (or, at level 3, page) descriptor mapping pa.
// The caller guarantees that level has a leaf format.
func encodeLeaf(g Granule, level uint8, pa uintptr, params EntryParameters) pageTableEntry {
	entryType := EntryBlock
	if level == leafLevel {
		entryType = EntryTable
	}
	return formatsFor(g).leaf[level].encode(entryType, pa, params)
}

// encodeSlot re-encodes a decoded descriptor.
func encodeSlot(s Slot, g Granule, level uint8) pageTableEntry {
	switch s.Kind {
	case SlotTable:
		return encodeTable(g, s.Address, s.Table)
	case SlotLeaf:
		return encodeLeaf(g, level, s.Address, s.Params)
	default:
		return 0
	}
}
