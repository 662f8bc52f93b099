package cpu

import "zos/kernel/bitfield"

type ttbrTag struct{}

type ttbrFields struct {
	Layout *bitfield.Layout[ttbrTag, uint64]

	CnP bitfield.Field[ttbrTag, uint64, bool]

	// BADDR holds bits [47:1] of the translation table base address.
	BADDR bitfield.Field[ttbrTag, uint64, uint64]
	ASID  bitfield.Field[ttbrTag, uint64, uint16]
}

var _ [64 - (1 + 47 + 16)]struct{}

// TTBR describes the fields shared by TTBR0_EL1 and TTBR1_EL1.
var TTBR = func() (r ttbrFields) {
	l := bitfield.NewLayout[ttbrTag, uint64]("TTBRn_EL1")
	r.Layout = l
	r.CnP = bitfield.Bool(l, "CnP")
	r.BADDR = bitfield.Uint[uint64](l, "BADDR", 47)
	r.ASID = bitfield.Uint[uint16](l, "ASID", 16)
	l.Seal()
	return r
}()

// MakeTTBR returns a TTBRn_EL1 value that points to the table at tableAddr
// and tags its translations with asid.
func MakeTTBR(tableAddr uintptr, asid uint16) uint64 {
	return bitfield.MakeValue(
		TTBR.BADDR.Of(uint64(tableAddr)>>1),
		TTBR.ASID.Of(asid),
	)
}

// TTBRTable returns the table base address stored in a TTBRn_EL1 value.
func TTBRTable(raw uint64) uintptr {
	return uintptr(TTBR.BADDR.Get(raw) << 1)
}
