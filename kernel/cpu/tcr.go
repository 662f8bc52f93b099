package cpu

import "zos/kernel/bitfield"

// Cacheability selects the cacheability attribute of translation table walks.
type Cacheability uint8

// Supported walk cacheability attributes for IRGNn/ORGNn.
const (
	NonCacheable Cacheability = iota
	WriteBackCacheable
	WriteThroughCacheable
	WriteBackNoAllocate
)

// Shareability selects the shareability attribute of translation table walks.
type Shareability uint8

// Supported walk shareability attributes for SHn.
const (
	NonShareable   Shareability = 0b00
	OuterShareable Shareability = 0b10
	InnerShareable Shareability = 0b11
)

// Granule0 is the TG0 encoding of the TTBR0 translation granule.
type Granule0 uint8

// TG0 encodings.
const (
	TG0Granule4KB  Granule0 = 0b00
	TG0Granule64KB Granule0 = 0b01
	TG0Granule16KB Granule0 = 0b10
)

// Granule1 is the TG1 encoding of the TTBR1 translation granule. It differs
// from the TG0 encoding.
type Granule1 uint8

// TG1 encodings.
const (
	TG1Granule16KB Granule1 = 0b01
	TG1Granule4KB  Granule1 = 0b10
	TG1Granule64KB Granule1 = 0b11
)

// PhysAddrSize is the IPS encoding of the intermediate physical address size.
type PhysAddrSize uint8

// IPS encodings.
const (
	IPS32Bit PhysAddrSize = iota
	IPS36Bit
	IPS40Bit
	IPS42Bit
	IPS44Bit
	IPS48Bit
)

type tcrTag struct{}

type tcrFields struct {
	Layout *bitfield.Layout[tcrTag, uint64]

	T0SZ  bitfield.Field[tcrTag, uint64, uint8]
	EPD0  bitfield.Field[tcrTag, uint64, bool]
	IRGN0 bitfield.Field[tcrTag, uint64, Cacheability]
	ORGN0 bitfield.Field[tcrTag, uint64, Cacheability]
	SH0   bitfield.Field[tcrTag, uint64, Shareability]
	TG0   bitfield.Field[tcrTag, uint64, Granule0]
	T1SZ  bitfield.Field[tcrTag, uint64, uint8]
	A1    bitfield.Field[tcrTag, uint64, bool]
	EPD1  bitfield.Field[tcrTag, uint64, bool]
	IRGN1 bitfield.Field[tcrTag, uint64, Cacheability]
	ORGN1 bitfield.Field[tcrTag, uint64, Cacheability]
	SH1   bitfield.Field[tcrTag, uint64, Shareability]
	TG1   bitfield.Field[tcrTag, uint64, Granule1]
	IPS   bitfield.Field[tcrTag, uint64, PhysAddrSize]
	AS    bitfield.Field[tcrTag, uint64, bool]
	TBI0  bitfield.Field[tcrTag, uint64, bool]
	TBI1  bitfield.Field[tcrTag, uint64, bool]
}

const tcrBits = 6 + 1 + 1 + 2 + 2 + 2 + 2 + 6 + 1 + 1 + 2 + 2 + 2 + 2 + 3 + 1 + 1 + 1 + 1 + 25

var _ [64 - tcrBits]struct{}

// TCR describes the fields of the translation control register TCR_EL1.
var TCR = func() (r tcrFields) {
	l := bitfield.NewLayout[tcrTag, uint64]("TCR_EL1")
	r.Layout = l
	r.T0SZ = bitfield.Uint[uint8](l, "T0SZ", 6)
	l.Reserved(1)
	r.EPD0 = bitfield.Bool(l, "EPD0")
	r.IRGN0 = bitfield.Enum[Cacheability](l, "IRGN0", 2)
	r.ORGN0 = bitfield.Enum[Cacheability](l, "ORGN0", 2)
	r.SH0 = bitfield.Enum[Shareability](l, "SH0", 2)
	r.TG0 = bitfield.Enum[Granule0](l, "TG0", 2)
	r.T1SZ = bitfield.Uint[uint8](l, "T1SZ", 6)
	r.A1 = bitfield.Bool(l, "A1")
	r.EPD1 = bitfield.Bool(l, "EPD1")
	r.IRGN1 = bitfield.Enum[Cacheability](l, "IRGN1", 2)
	r.ORGN1 = bitfield.Enum[Cacheability](l, "ORGN1", 2)
	r.SH1 = bitfield.Enum[Shareability](l, "SH1", 2)
	r.TG1 = bitfield.Enum[Granule1](l, "TG1", 2)
	r.IPS = bitfield.Enum[PhysAddrSize](l, "IPS", 3)
	l.Reserved(1)
	r.AS = bitfield.Bool(l, "AS")
	r.TBI0 = bitfield.Bool(l, "TBI0")
	r.TBI1 = bitfield.Bool(l, "TBI1")
	l.Reserved(25)
	l.Seal()
	return r
}()

// RegionSizeOffset returns the TnSZ value for a translation region that
// spans addressBits of virtual address space.
func RegionSizeOffset(addressBits uint8) uint8 {
	return 64 - addressBits
}
