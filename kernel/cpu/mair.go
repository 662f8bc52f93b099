package cpu

import "zos/kernel/bitfield"

// MemoryType is an 8-bit memory attribute encoding stored in MAIR_EL1.
type MemoryType uint8

// Memory attribute encodings.
const (
	DeviceNGnRnE       MemoryType = 0x00
	DeviceNGnRE        MemoryType = 0x04
	DeviceGRE          MemoryType = 0x0c
	NormalNonCacheable MemoryType = 0x44
	Normal             MemoryType = 0xff
)

type mairTag struct{}

type mairFields struct {
	Layout *bitfield.Layout[mairTag, uint64]

	// Attr holds the eight attribute slots indexed by the AttrIndx field of
	// a block or page descriptor.
	Attr [8]bitfield.Field[mairTag, uint64, MemoryType]
}

var _ [64 - 8*8]struct{}

// MAIR describes the fields of the memory attribute indirection register
// MAIR_EL1.
var MAIR = func() (r mairFields) {
	l := bitfield.NewLayout[mairTag, uint64]("MAIR_EL1")
	r.Layout = l
	for i := range r.Attr {
		r.Attr[i] = bitfield.Enum[MemoryType](l, attrNames[i], 8)
	}
	l.Seal()
	return r
}()

var attrNames = [8]string{"Attr0", "Attr1", "Attr2", "Attr3", "Attr4", "Attr5", "Attr6", "Attr7"}
